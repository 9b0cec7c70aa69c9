package replicate

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/tiagomennab/ensaio-fotos-sub002/internal/domain"
)

func TestMapStatusIsTotalOverVocabulary(t *testing.T) {
	cases := map[string]domain.JobStatus{
		"starting":   domain.JobStatusProcessing,
		"processing": domain.JobStatusProcessing,
		"succeeded":  domain.JobStatusCompleted,
		"failed":     domain.JobStatusFailed,
		"canceled":   domain.JobStatusCancelled,
		" Succeeded": domain.JobStatusCompleted,
	}
	for in, want := range cases {
		got, ok := MapStatus(in)
		if !ok || got != want {
			t.Fatalf("MapStatus(%q) = %q, %v; want %q", in, got, ok, want)
		}
	}
}

func TestMapStatusRejectsUnknown(t *testing.T) {
	for _, in := range []string{"", "queued", "completed", "cancelled", "aborted"} {
		if got, ok := MapStatus(in); ok {
			t.Fatalf("MapStatus(%q) = %q, expected no mapping", in, got)
		}
	}
}

func TestNormalizeOutputShapesAgree(t *testing.T) {
	want := []string{"https://ephemeral/a.png"}
	shapes := []string{
		`"https://ephemeral/a.png"`,
		`["https://ephemeral/a.png"]`,
		`{"images": ["https://ephemeral/a.png"]}`,
		`[null, "", "https://ephemeral/a.png"]`,
	}
	for _, shape := range shapes {
		got := NormalizeOutput(json.RawMessage(shape))
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("NormalizeOutput(%s) = %v, want %v", shape, got, want)
		}
	}
}

func TestNormalizeOutputKeepsOrder(t *testing.T) {
	got := NormalizeOutput(json.RawMessage(`["https://e/1.png","https://e/2.png","https://e/3.png"]`))
	want := []string{"https://e/1.png", "https://e/2.png", "https://e/3.png"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNormalizeTrainingOutput(t *testing.T) {
	got := NormalizeTrainingOutput(json.RawMessage(`{"version": "studio/model:v1", "weights": "https://e/weights.tar"}`))
	want := []string{"https://e/weights.tar", "studio/model:v1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	got = NormalizeTrainingOutput(json.RawMessage(`["https://e/weights.tar"]`))
	if !reflect.DeepEqual(got, []string{"https://e/weights.tar"}) {
		t.Fatalf("array fallback = %v", got)
	}
}

func TestNormalizeOutputIgnoresMetadataFields(t *testing.T) {
	got := NormalizeOutput(json.RawMessage(`{"images": ["https://e/a.png"], "version": "abc123", "weights": "https://e/w.tar"}`))
	want := []string{"https://e/a.png"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNormalizeOutputEmpty(t *testing.T) {
	for _, shape := range []string{``, `null`, `[]`, `""`, `{}`, `42`} {
		if got := NormalizeOutput(json.RawMessage(shape)); len(got) != 0 {
			t.Fatalf("NormalizeOutput(%q) = %v, want empty", shape, got)
		}
	}
}
