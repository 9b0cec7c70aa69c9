package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tiagomennab/ensaio-fotos-sub002/internal/domain"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/infra"
)

var (
	// ErrMissingAPIToken indicates that the client was configured without credentials.
	ErrMissingAPIToken = errors.New("replicate: api token is required")
	// ErrProviderUnavailable wraps network failures, 429 and 5xx answers.
	ErrProviderUnavailable = errors.New("replicate: provider unavailable")
	// ErrInvalidJobSpec is returned when the provider rejects the submitted input.
	ErrInvalidJobSpec = errors.New("replicate: invalid job spec")
	ErrNotFound       = errors.New("replicate: prediction not found")
)

const maxResponseBytes = 4 << 20

// Options configures the Replicate client.
type Options struct {
	APIToken            string
	BaseURL             string
	GenerationVersion   string
	UpscaleVersion      string
	TrainingVersion     string
	TrainingDestination string
	RequestsPerSecond   int
	HTTPClient          *http.Client
	Logger              *infra.Logger
	RequestTimeout      time.Duration
}

// Client talks to the predictions and trainings endpoints.
type Client struct {
	apiToken    string
	baseURL     string
	versions    map[domain.JobKind]string
	destination string
	httpClient  *http.Client
	limiter     *rate.Limiter
	logger      *infra.Logger
}

// JobSpec is what the submission service asks the provider to run.
type JobSpec struct {
	Kind       domain.JobKind
	Input      map[string]any
	WebhookURL string
	// Version overrides the configured model version for Kind.
	Version string
}

// Prediction is the provider's view of a job. Trainings share the shape.
type Prediction struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	Version     string          `json:"version,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       json.RawMessage `json:"error,omitempty"`
	Metrics     Metrics         `json:"metrics"`
	CreatedAt   string          `json:"created_at,omitempty"`
	StartedAt   string          `json:"started_at,omitempty"`
	CompletedAt string          `json:"completed_at,omitempty"`
}

// Metrics carries the provider's timing, in seconds.
type Metrics struct {
	PredictTime float64 `json:"predict_time,omitempty"`
	TotalTime   float64 `json:"total_time,omitempty"`
}

// Seconds prefers total_time and falls back to predict_time.
func (m Metrics) Seconds() float64 {
	if m.TotalTime > 0 {
		return m.TotalTime
	}
	return m.PredictTime
}

// ErrorMessage flattens the provider error, which is a string or an object.
func (p *Prediction) ErrorMessage() string {
	raw := bytes.TrimSpace(p.Error)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Message != "" {
			return obj.Message
		}
		if obj.Detail != "" {
			return obj.Detail
		}
	}
	return string(raw)
}

type predictionRequest struct {
	Version             string         `json:"version,omitempty"`
	Destination         string         `json:"destination,omitempty"`
	Input               map[string]any `json:"input"`
	Webhook             string         `json:"webhook,omitempty"`
	WebhookEventsFilter []string       `json:"webhook_events_filter,omitempty"`
}

type errorResponse struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.replicate.com/v1"
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &Client{
		apiToken: strings.TrimSpace(opts.APIToken),
		baseURL:  baseURL,
		versions: map[domain.JobKind]string{
			domain.JobKindGeneration: strings.TrimSpace(opts.GenerationVersion),
			domain.JobKindUpscale:    strings.TrimSpace(opts.UpscaleVersion),
			domain.JobKindTraining:   strings.TrimSpace(opts.TrainingVersion),
		},
		destination: strings.TrimSpace(opts.TrainingDestination),
		httpClient:  httpClient,
		limiter:     rate.NewLimiter(rate.Limit(rps), rps),
		logger:      logger,
	}, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiToken != ""
}

// Submit creates a prediction (or a training) and returns the provider id.
func (c *Client) Submit(ctx context.Context, spec JobSpec) (string, error) {
	if !spec.Kind.Valid() {
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidJobSpec, spec.Kind)
	}
	version := strings.TrimSpace(spec.Version)
	if version == "" {
		version = c.versions[spec.Kind]
	}
	if version == "" {
		return "", fmt.Errorf("%w: no model version configured for %s", ErrInvalidJobSpec, spec.Kind)
	}
	if spec.Input == nil {
		return "", fmt.Errorf("%w: input is required", ErrInvalidJobSpec)
	}

	req := predictionRequest{Input: spec.Input}
	if spec.WebhookURL != "" {
		req.Webhook = spec.WebhookURL
		req.WebhookEventsFilter = []string{"start", "completed"}
	}

	endpoint := c.baseURL + "/predictions"
	if spec.Kind == domain.JobKindTraining {
		path, err := trainingPath(version)
		if err != nil {
			return "", err
		}
		if c.destination == "" {
			return "", fmt.Errorf("%w: training destination is required", ErrInvalidJobSpec)
		}
		endpoint = c.baseURL + path
		req.Destination = c.destination
	} else {
		req.Version = version
	}

	var out Prediction
	if err := c.do(ctx, http.MethodPost, endpoint, req, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("%w: response without id", ErrProviderUnavailable)
	}
	c.logger.Info().Str("kind", string(spec.Kind)).Str("external_id", out.ID).Msg("replicate job submitted")
	return out.ID, nil
}

// GetStatus fetches the current state of a job.
func (c *Client) GetStatus(ctx context.Context, kind domain.JobKind, externalID string) (*Prediction, error) {
	if strings.TrimSpace(externalID) == "" {
		return nil, fmt.Errorf("%w: external id is required", ErrInvalidJobSpec)
	}
	var out Prediction
	if err := c.do(ctx, http.MethodGet, c.resourceURL(kind, externalID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Cancel asks the provider to stop the job. Jobs that already finished are
// not an error.
func (c *Client) Cancel(ctx context.Context, kind domain.JobKind, externalID string) error {
	err := c.do(ctx, http.MethodPost, c.resourceURL(kind, externalID)+"/cancel", nil, nil)
	if err != nil && !errors.Is(err, ErrInvalidJobSpec) {
		return err
	}
	if err != nil {
		c.logger.Debug().Err(err).Str("external_id", externalID).Msg("replicate cancel ignored")
	}
	return nil
}

func (c *Client) resourceURL(kind domain.JobKind, externalID string) string {
	collection := "/predictions/"
	if kind == domain.JobKindTraining {
		collection = "/trainings/"
	}
	return c.baseURL + collection + url.PathEscape(externalID)
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload, out any) error {
	if !c.HasCredentials() {
		return ErrMissingAPIToken
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("replicate: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("replicate: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrProviderUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		var detail errorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Detail != "" {
			return fmt.Errorf("%w: %s", ErrInvalidJobSpec, detail.Detail)
		}
		return fmt.Errorf("%w: status %d: %s", ErrInvalidJobSpec, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("replicate: decode response: %w", err)
	}
	return nil
}

// trainingPath turns "owner/model:version" into the trainings endpoint path.
func trainingPath(version string) (string, error) {
	ref, id, ok := strings.Cut(version, ":")
	owner, model, okModel := strings.Cut(ref, "/")
	if !ok || !okModel || owner == "" || model == "" || id == "" {
		return "", fmt.Errorf("%w: training version must look like owner/model:version", ErrInvalidJobSpec)
	}
	return fmt.Sprintf("/models/%s/%s/versions/%s/trainings", url.PathEscape(owner), url.PathEscape(model), url.PathEscape(id)), nil
}
