package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/tiagomennab/ensaio-fotos-sub002/internal/domain"
)

type captureTransport struct {
	responses map[string]responseStub
	lastPath  string
	lastBody  []byte
	lastAuth  string
}

type responseStub struct {
	status int
	body   []byte
}

func (c *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.lastPath = req.Method + " " + req.URL.Path
	c.lastAuth = req.Header.Get("Authorization")
	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body.Close()
		c.lastBody = body
	}
	stub, ok := c.responses[c.lastPath]
	if !ok {
		stub = responseStub{status: http.StatusNotFound, body: []byte(`{"detail":"not found"}`)}
	}
	return &http.Response{
		StatusCode: stub.status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader(stub.body)),
	}, nil
}

func (c *captureTransport) setJSON(key string, status int, payload any) {
	body, _ := json.Marshal(payload)
	c.responses[key] = responseStub{status: status, body: body}
}

func newTestClient(t *testing.T, transport *captureTransport) *Client {
	t.Helper()
	client, err := NewClient(Options{
		APIToken:            "r8_test",
		BaseURL:             "https://replicate.test/v1",
		GenerationVersion:   "gen-version",
		UpscaleVersion:      "up-version",
		TrainingVersion:     "ostris/flux-dev-lora-trainer:abc123",
		TrainingDestination: "studio/user-models",
		RequestsPerSecond:   1000,
		HTTPClient:          &http.Client{Transport: transport},
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestSubmitGenerationPayload(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSON("POST /v1/predictions", http.StatusCreated, map[string]any{"id": "pred-1", "status": "starting"})
	client := newTestClient(t, transport)

	id, err := client.Submit(context.Background(), JobSpec{
		Kind:       domain.JobKindGeneration,
		Input:      map[string]any{"prompt": "portrait"},
		WebhookURL: "https://app.test/v1/webhooks/replicate",
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if id != "pred-1" {
		t.Fatalf("id = %q, want pred-1", id)
	}
	if transport.lastAuth != "Bearer r8_test" {
		t.Fatalf("authorization = %q", transport.lastAuth)
	}

	var sent predictionRequest
	if err := json.Unmarshal(transport.lastBody, &sent); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if sent.Version != "gen-version" || sent.Webhook != "https://app.test/v1/webhooks/replicate" {
		t.Fatalf("unexpected request %+v", sent)
	}
	if len(sent.WebhookEventsFilter) != 2 {
		t.Fatalf("webhook filter = %v", sent.WebhookEventsFilter)
	}
}

func TestSubmitTrainingUsesTrainingsEndpoint(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSON("POST /v1/models/ostris/flux-dev-lora-trainer/versions/abc123/trainings", http.StatusCreated, map[string]any{"id": "train-1"})
	client := newTestClient(t, transport)

	id, err := client.Submit(context.Background(), JobSpec{Kind: domain.JobKindTraining, Input: map[string]any{"input_images": "https://x/zip"}})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if id != "train-1" {
		t.Fatalf("id = %q", id)
	}
	var sent predictionRequest
	_ = json.Unmarshal(transport.lastBody, &sent)
	if sent.Destination != "studio/user-models" || sent.Version != "" {
		t.Fatalf("unexpected training request %+v", sent)
	}
}

func TestSubmitErrorsAreClassified(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client := newTestClient(t, transport)
	ctx := context.Background()
	spec := JobSpec{Kind: domain.JobKindUpscale, Input: map[string]any{"image": "https://x/a.png"}}

	transport.setJSON("POST /v1/predictions", http.StatusUnprocessableEntity, map[string]any{"detail": "image is required"})
	if _, err := client.Submit(ctx, spec); !errors.Is(err, ErrInvalidJobSpec) {
		t.Fatalf("422 should be ErrInvalidJobSpec, got %v", err)
	}

	transport.setJSON("POST /v1/predictions", http.StatusServiceUnavailable, map[string]any{"detail": "down"})
	if _, err := client.Submit(ctx, spec); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("503 should be ErrProviderUnavailable, got %v", err)
	}

	if _, err := client.Submit(ctx, JobSpec{Kind: "video", Input: map[string]any{}}); !errors.Is(err, ErrInvalidJobSpec) {
		t.Fatalf("unknown kind should be ErrInvalidJobSpec, got %v", err)
	}
}

func TestGetStatusDecodesPrediction(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.responses["GET /v1/predictions/pred-9"] = responseStub{status: http.StatusOK, body: []byte(`{
		"id": "pred-9",
		"status": "failed",
		"output": null,
		"error": "NSFW content detected",
		"metrics": {"predict_time": 3.5}
	}`)}
	client := newTestClient(t, transport)

	pred, err := client.GetStatus(context.Background(), domain.JobKindGeneration, "pred-9")
	if err != nil {
		t.Fatalf("GetStatus returned error: %v", err)
	}
	if pred.Status != StatusFailed {
		t.Fatalf("status = %q", pred.Status)
	}
	if pred.ErrorMessage() != "NSFW content detected" {
		t.Fatalf("error = %q", pred.ErrorMessage())
	}
	if pred.Metrics.Seconds() != 3.5 {
		t.Fatalf("seconds = %v", pred.Metrics.Seconds())
	}
}

func TestGetStatusTrainingNotFound(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client := newTestClient(t, transport)

	_, err := client.GetStatus(context.Background(), domain.JobKindTraining, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if transport.lastPath != "GET /v1/trainings/missing" {
		t.Fatalf("path = %q", transport.lastPath)
	}
}

func TestCancelIgnoresFinishedJobs(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSON("POST /v1/predictions/pred-1/cancel", http.StatusBadRequest, map[string]any{"detail": "already completed"})
	client := newTestClient(t, transport)

	if err := client.Cancel(context.Background(), domain.JobKindGeneration, "pred-1"); err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
}

func TestMissingTokenFailsFast(t *testing.T) {
	client, _ := NewClient(Options{})
	if _, err := client.GetStatus(context.Background(), domain.JobKindGeneration, "x"); !errors.Is(err, ErrMissingAPIToken) {
		t.Fatalf("expected ErrMissingAPIToken, got %v", err)
	}
}
