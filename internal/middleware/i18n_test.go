package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDetectLocale(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(r *http.Request)
		fallback string
		want     string
	}{
		{
			name: "x-locale overrides",
			setup: func(r *http.Request) {
				r.Header.Set("X-Locale", "ID")
				r.Header.Set("Accept-Language", "en-US")
			},
			want: "id",
		},
		{
			name: "accept-language used",
			setup: func(r *http.Request) {
				r.Header.Set("Accept-Language", "en-US,en;q=0.9")
			},
			want: "en",
		},
		{
			name: "brazilian portuguese",
			setup: func(r *http.Request) {
				r.Header.Set("Accept-Language", "pt-BR,pt;q=0.9,en;q=0.5")
			},
			want: "pt-BR",
		},
		{
			name: "bare portuguese maps to pt-BR",
			setup: func(r *http.Request) {
				r.Header.Set("X-Locale", "pt")
			},
			want: "pt-BR",
		},
		{
			name: "unsupported language uses fallback",
			setup: func(r *http.Request) {
				r.Header.Set("Accept-Language", "ja-JP")
			},
			fallback: "id",
			want:     "id",
		},
		{
			name:     "configured fallback",
			fallback: "pt-BR",
			want:     "pt-BR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.setup != nil {
				tt.setup(req)
			}
			fallback := tt.fallback
			if fallback == "" {
				fallback = "en"
			}
			if got := detectLocale(req, fallback); got != tt.want {
				t.Fatalf("detectLocale() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestI18NStoresLocale(t *testing.T) {
	var got string
	handler := I18N("pt-BR")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = LocaleFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if got != "pt-BR" {
		t.Fatalf("locale = %q, want pt-BR", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "id")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if got != "id" {
		t.Fatalf("locale = %q, want id", got)
	}
}
