package materialize

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiagomennab/ensaio-fotos-sub002/internal/domain"
)

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	fail    error
	noThumb bool
}

func newMemoryStore() *memoryStore { return &memoryStore{objects: map[string][]byte{}} }

func (s *memoryStore) Name() string { return "memory" }

func (s *memoryStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if s.fail != nil {
		return "", s.fail
	}
	if s.noThumb && strings.Contains(key, "/thumb_") {
		return "", errors.New("thumbnail bucket down")
	}
	s.objects[key] = data
	return "https://cdn.test/" + key, nil
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objects[key], nil
}

func (s *memoryStore) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k := range s.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// pngHeader returns a PNG whose header claims w x h pixels and whose image
// data is missing. It sniffs as image/png but never decodes.
func pngHeader(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 0 // grayscale
	chunk := append([]byte("IHDR"), ihdr...)
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func newTestMaterializer(t *testing.T, store *memoryStore) *Materializer {
	t.Helper()
	m, err := New(Options{Store: store, Backoff: time.Millisecond, Attempts: 2, ThumbnailWidth: 40, MaxBytes: 1 << 20})
	require.NoError(t, err)
	return m
}

func TestMaterializeIsDeterministic(t *testing.T) {
	img := pngBytes(t, 120, 60)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(img)
	}))
	defer srv.Close()

	store := newMemoryStore()
	m := newTestMaterializer(t, store)
	req := Request{Kind: domain.JobKindGeneration, JobID: "job-1", OwnerID: "owner-1", URLs: []string{srv.URL + "/a.png", srv.URL + "/b.png"}}

	first, err := m.Materialize(context.Background(), req)
	require.NoError(t, err)
	second, err := m.Materialize(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, []string{
		"https://cdn.test/generation/owner-1/job-1/0.png",
		"https://cdn.test/generation/owner-1/job-1/1.png",
	}, first.URLs)
	assert.Equal(t, "https://cdn.test/generation/owner-1/job-1/thumb_0.jpg", first.ThumbnailURLs[0])
	assert.Equal(t, []string{
		"generation/owner-1/job-1/0.png",
		"generation/owner-1/job-1/1.png",
		"generation/owner-1/job-1/thumb_0.jpg",
		"generation/owner-1/job-1/thumb_1.jpg",
	}, store.keys())

	thumb, err := jpeg.Decode(bytes.NewReader(store.objects["generation/owner-1/job-1/thumb_0.jpg"]))
	require.NoError(t, err)
	assert.Equal(t, 40, thumb.Bounds().Dx())
	assert.Equal(t, 20, thumb.Bounds().Dy())
}

func TestMaterializeExpiredURLIsDownloadFailure(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "expired", http.StatusNotFound)
	}))
	defer srv.Close()

	m := newTestMaterializer(t, newMemoryStore())
	_, err := m.Materialize(context.Background(), Request{Kind: domain.JobKindUpscale, JobID: "j", OwnerID: "o", URLs: []string{srv.URL + "/gone.png"}})
	assert.ErrorIs(t, err, ErrDownloadFailed)
	assert.EqualValues(t, 1, hits.Load(), "4xx must not be retried")
}

func TestMaterializeRetriesServerErrors(t *testing.T) {
	img := pngBytes(t, 8, 8)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "busy", http.StatusBadGateway)
			return
		}
		_, _ = w.Write(img)
	}))
	defer srv.Close()

	m := newTestMaterializer(t, newMemoryStore())
	res, err := m.Materialize(context.Background(), Request{Kind: domain.JobKindUpscale, JobID: "j", OwnerID: "o", URLs: []string{srv.URL}})
	require.NoError(t, err)
	assert.Len(t, res.URLs, 1)
	assert.EqualValues(t, 2, hits.Load())
}

func TestMaterializeUploadFailure(t *testing.T) {
	img := pngBytes(t, 8, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(img)
	}))
	defer srv.Close()

	store := newMemoryStore()
	store.fail = errors.New("bucket down")
	m := newTestMaterializer(t, store)
	_, err := m.Materialize(context.Background(), Request{Kind: domain.JobKindUpscale, JobID: "j", OwnerID: "o", URLs: []string{srv.URL}})
	assert.ErrorIs(t, err, ErrUploadFailed)
	assert.Equal(t, 2, store.puts)
}

func TestMaterializeNonImageKeepsFullURLAsThumbnail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("%PDF-1.4 not an image"))
	}))
	defer srv.Close()

	m := newTestMaterializer(t, newMemoryStore())
	res, err := m.Materialize(context.Background(), Request{Kind: domain.JobKindGeneration, JobID: "j", OwnerID: "o", URLs: []string{srv.URL}})
	require.NoError(t, err)
	assert.Equal(t, res.URLs[0], res.ThumbnailURLs[0])
	assert.Equal(t, "https://cdn.test/generation/o/j/0.pdf", res.URLs[0])
}

func TestMaterializeRejectsOversizedArtifacts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte{0xff}, 2<<20))
	}))
	defer srv.Close()

	m := newTestMaterializer(t, newMemoryStore())
	_, err := m.Materialize(context.Background(), Request{Kind: domain.JobKindGeneration, JobID: "j", OwnerID: "o", URLs: []string{srv.URL}})
	assert.ErrorIs(t, err, ErrDownloadFailed)
}

func TestThumbnailDoesNotUpscale(t *testing.T) {
	out, err := Thumbnail(pngBytes(t, 10, 5), 400)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 10, img.Bounds().Dx())
}

func TestKeyFromURL(t *testing.T) {
	job := &domain.Job{ID: "job-9", Kind: domain.JobKindGeneration, OwnerID: "owner-3"}
	tests := []struct {
		url    string
		want   string
		wantOK bool
	}{
		{url: "http://localhost:8080/v1/files/generation/owner-3/job-9/0.png", want: "generation/owner-3/job-9/0.png", wantOK: true},
		{url: "https://x.supabase.co/storage/v1/object/public/generations/generation/owner-3/job-9/1.jpg", want: "generation/owner-3/job-9/1.jpg", wantOK: true},
		{url: "https://replicate.delivery/pbxt/abc/out-0.png"},
		{url: "http://localhost/v1/files/generation/owner-3/job-8/0.png"},
		{url: "http://localhost/v1/files/generation/owner-3/job-9/"},
	}
	for _, tt := range tests {
		got, ok := KeyFromURL(job, tt.url)
		if ok != tt.wantOK || got != tt.want {
			t.Fatalf("KeyFromURL(%q) = %q, %v; want %q, %v", tt.url, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestThumbnailRejectsHugeImagesBeforeDecoding(t *testing.T) {
	_, err := Thumbnail(pngHeader(12000, 12000), 400)
	assert.ErrorIs(t, err, ErrImageTooLarge)
}

func TestMaterializeUndecodableImageKeepsFullURLAsThumbnail(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{name: "too large", body: pngHeader(12000, 12000)},
		{name: "truncated", body: pngHeader(64, 64)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write(tt.body)
			}))
			defer srv.Close()

			store := newMemoryStore()
			m := newTestMaterializer(t, store)
			res, err := m.Materialize(context.Background(), Request{Kind: domain.JobKindGeneration, JobID: "j", OwnerID: "o", URLs: []string{srv.URL}})
			require.NoError(t, err)
			assert.Equal(t, "https://cdn.test/generation/o/j/0.png", res.URLs[0])
			assert.Equal(t, res.URLs[0], res.ThumbnailURLs[0])
			assert.Equal(t, []string{"generation/o/j/0.png"}, store.keys())
		})
	}
}

func TestMaterializeThumbnailUploadFailureKeepsFullURL(t *testing.T) {
	img := pngBytes(t, 80, 40)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(img)
	}))
	defer srv.Close()

	store := newMemoryStore()
	store.noThumb = true
	m := newTestMaterializer(t, store)
	res, err := m.Materialize(context.Background(), Request{Kind: domain.JobKindUpscale, JobID: "j", OwnerID: "o", URLs: []string{srv.URL}})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/upscale/o/j/0.png", res.URLs[0])
	assert.Equal(t, res.URLs[0], res.ThumbnailURLs[0])
}

func TestMaterializeEnforcesTotalBudget(t *testing.T) {
	body := bytes.Repeat([]byte{0xff}, 600<<10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	m, err := New(Options{Store: newMemoryStore(), Backoff: time.Millisecond, Attempts: 1, MaxBytes: 1 << 20, MaxTotalBytes: 1 << 20})
	require.NoError(t, err)

	_, err = m.Materialize(context.Background(), Request{Kind: domain.JobKindGeneration, JobID: "j", OwnerID: "o", URLs: []string{srv.URL + "/a", srv.URL + "/b"}})
	require.ErrorIs(t, err, ErrDownloadFailed)
	assert.Contains(t, err.Error(), "exceed")

	res, err := m.Materialize(context.Background(), Request{Kind: domain.JobKindGeneration, JobID: "j", OwnerID: "o", URLs: []string{srv.URL + "/a"}})
	require.NoError(t, err)
	assert.Len(t, res.URLs, 1)
}
