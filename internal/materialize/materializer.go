// Package materialize copies ephemeral provider artifacts into the durable
// object store.
package materialize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/errgroup"

	"github.com/tiagomennab/ensaio-fotos-sub002/internal/domain"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/infra"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/storage"
)

var (
	// ErrDownloadFailed means an ephemeral URL could not be fetched. These
	// URLs expire for good, so callers should not expect a later retry to
	// succeed.
	ErrDownloadFailed = errors.New("materialize: download failed")
	// ErrUploadFailed means the durable store rejected the object; retryable.
	ErrUploadFailed = errors.New("materialize: upload failed")
)

// Options configures the Materializer.
type Options struct {
	Store           storage.ObjectStore
	HTTPClient      *http.Client
	Concurrency     int
	MaxBytes        int64
	// MaxTotalBytes bounds the sum of all artifacts of one request.
	MaxTotalBytes   int64
	DownloadTimeout time.Duration
	Attempts        int
	Backoff         time.Duration
	ThumbnailWidth  int
	Logger          *infra.Logger
}

// Materializer downloads artifacts and re-uploads them under deterministic keys.
type Materializer struct {
	store       storage.ObjectStore
	httpClient  *http.Client
	concurrency int
	maxBytes    int64
	maxTotal    int64
	timeout     time.Duration
	attempts    int
	backoff     time.Duration
	thumbWidth  int
	logger      *infra.Logger
}

// Request describes one job's artifacts.
type Request struct {
	Kind    domain.JobKind
	JobID   string
	OwnerID string
	URLs    []string
}

// Result holds permanent URLs parallel to Request.URLs.
type Result struct {
	URLs          []string
	ThumbnailURLs []string
}

// New constructs a Materializer with defaults for unset options.
func New(opts Options) (*Materializer, error) {
	if opts.Store == nil {
		return nil, errors.New("materialize: store is required")
	}
	m := &Materializer{
		store:       opts.Store,
		httpClient:  opts.HTTPClient,
		concurrency: opts.Concurrency,
		maxBytes:    opts.MaxBytes,
		maxTotal:    opts.MaxTotalBytes,
		timeout:     opts.DownloadTimeout,
		attempts:    opts.Attempts,
		backoff:     opts.Backoff,
		thumbWidth:  opts.ThumbnailWidth,
		logger:      opts.Logger,
	}
	if m.httpClient == nil {
		m.httpClient = &http.Client{}
	}
	if m.concurrency <= 0 {
		m.concurrency = 4
	}
	if m.maxBytes <= 0 {
		m.maxBytes = 50 << 20
	}
	if m.maxTotal <= 0 {
		m.maxTotal = 4 * m.maxBytes
	}
	if m.timeout <= 0 {
		m.timeout = 30 * time.Second
	}
	if m.attempts <= 0 {
		m.attempts = 3
	}
	if m.backoff <= 0 {
		m.backoff = 500 * time.Millisecond
	}
	if m.thumbWidth <= 0 {
		m.thumbWidth = 400
	}
	if m.logger == nil {
		m.logger = infra.NopLogger()
	}
	return m, nil
}

// ObjectKey is the storage key of artifact index of a job.
func ObjectKey(kind domain.JobKind, ownerID, jobID string, index int, ext string) string {
	return fmt.Sprintf("%s/%s/%s/%d%s", kind, ownerID, jobID, index, ext)
}

// ThumbnailKey is the storage key of the thumbnail of artifact index.
func ThumbnailKey(kind domain.JobKind, ownerID, jobID string, index int) string {
	return fmt.Sprintf("%s/%s/%s/thumb_%d.jpg", kind, ownerID, jobID, index)
}

// KeyFromURL recovers the storage key of a materialized artifact of job from
// its public URL. Every tier publishes the key as the URL path suffix.
func KeyFromURL(job *domain.Job, rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	prefix := fmt.Sprintf("%s/%s/%s/", job.Kind, job.OwnerID, job.ID)
	idx := strings.LastIndex(u.Path, "/"+prefix)
	if idx < 0 {
		return "", false
	}
	key := u.Path[idx+1:]
	if len(key) == len(prefix) || strings.Contains(key[len(prefix):], "/") {
		return "", false
	}
	return key, true
}

// Materialize copies every URL of req. Running it twice for the same job
// writes the same keys.
func (m *Materializer) Materialize(ctx context.Context, req Request) (*Result, error) {
	if req.JobID == "" || req.OwnerID == "" {
		return nil, errors.New("materialize: job and owner ids are required")
	}
	if len(req.URLs) == 0 {
		return &Result{}, nil
	}

	res := &Result{
		URLs:          make([]string, len(req.URLs)),
		ThumbnailURLs: make([]string, len(req.URLs)),
	}
	var total atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, src := range req.URLs {
		i, src := i, src
		g.Go(func() error {
			url, thumb, err := m.one(gctx, req, i, src, &total)
			if err != nil {
				return err
			}
			res.URLs[i] = url
			res.ThumbnailURLs[i] = thumb
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	m.logger.Info().Str("job_id", req.JobID).Int("artifacts", len(res.URLs)).Msg("artifacts materialized")
	return res, nil
}

func (m *Materializer) one(ctx context.Context, req Request, index int, src string, total *atomic.Int64) (string, string, error) {
	data, err := m.download(ctx, src)
	if err != nil {
		return "", "", err
	}
	if n := total.Add(int64(len(data))); n > m.maxTotal {
		return "", "", fmt.Errorf("%w: %s: job artifacts exceed %d bytes", ErrDownloadFailed, src, m.maxTotal)
	}

	mt := mimetype.Detect(data)
	ext := mt.Extension()
	if ext == "" || ext == ".txt" {
		ext = ".bin"
	}
	key := ObjectKey(req.Kind, req.OwnerID, req.JobID, index, ext)
	url, err := m.put(ctx, key, data, mt.String())
	if err != nil {
		return "", "", err
	}

	thumb := url
	if strings.HasPrefix(mt.String(), "image/") {
		if thumbData, err := Thumbnail(data, m.thumbWidth); err != nil {
			m.logger.Warn().Err(err).Str("job_id", req.JobID).Int("index", index).Msg("thumbnail generation failed")
		} else if thumbURL, err := m.put(ctx, ThumbnailKey(req.Kind, req.OwnerID, req.JobID, index), thumbData, "image/jpeg"); err != nil {
			m.logger.Warn().Err(err).Str("job_id", req.JobID).Int("index", index).Msg("thumbnail upload failed")
		} else {
			thumb = thumbURL
		}
	}
	return url, thumb, nil
}

func (m *Materializer) download(ctx context.Context, src string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		data, retry, err := m.fetch(ctx, src)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			break
		}
		m.logger.Debug().Err(err).Str("url", src).Int("attempt", attempt).Msg("download retry")
		if err := sleep(ctx, m.backoff*time.Duration(attempt)); err != nil {
			break
		}
	}
	return nil, fmt.Errorf("%w: %s: %v", ErrDownloadFailed, src, lastErr)
}

// fetch performs one GET. retry reports whether another attempt could help.
func (m *Materializer) fetch(ctx context.Context, src string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, true, fmt.Errorf("status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return nil, false, fmt.Errorf("status %d", resp.StatusCode)
	}
	if resp.ContentLength > m.maxBytes {
		return nil, false, fmt.Errorf("artifact of %d bytes exceeds limit", resp.ContentLength)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, m.maxBytes+1))
	if err != nil {
		return nil, true, err
	}
	if int64(len(data)) > m.maxBytes {
		return nil, false, fmt.Errorf("artifact exceeds %d bytes", m.maxBytes)
	}
	if len(data) == 0 {
		return nil, false, errors.New("empty artifact")
	}
	return data, false, nil
}

func (m *Materializer) put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		url, err := m.store.Put(ctx, key, data, contentType)
		if err == nil {
			return url, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if err := sleep(ctx, m.backoff*time.Duration(attempt)); err != nil {
			break
		}
	}
	return "", fmt.Errorf("%w: %s: %v", ErrUploadFailed, key, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
