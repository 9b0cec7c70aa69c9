package handlers

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tiagomennab/ensaio-fotos-sub002/internal/adapter/memory"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/domain"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/events"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/lock"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/materialize"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/reconcile"
)

const testWebhookSecret = "whsec_test"

type countingMaterializer struct {
	calls atomic.Int32
}

func (m *countingMaterializer) Materialize(_ context.Context, req materialize.Request) (*materialize.Result, error) {
	m.calls.Add(1)
	res := &materialize.Result{}
	for i := range req.URLs {
		res.URLs = append(res.URLs, "https://files.test/"+materialize.ObjectKey(req.Kind, req.OwnerID, req.JobID, i, ".png"))
		res.ThumbnailURLs = append(res.ThumbnailURLs, "https://files.test/"+materialize.ThumbnailKey(req.Kind, req.OwnerID, req.JobID, i))
	}
	return res, nil
}

type webhookFixture struct {
	app   *App
	store *memory.Store
	mat   *countingMaterializer
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	store.AddUser("owner-1", 10)
	job := &domain.Job{ID: "job-1", Kind: domain.JobKindGeneration, OwnerID: "owner-1", Status: domain.JobStatusPending, CreditsCharged: 4}
	if err := store.Jobs().Create(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	if _, err := store.Credits().Charge(ctx, "owner-1", 4, job.ID, "generation"); err != nil {
		t.Fatalf("charge: %v", err)
	}
	if err := store.Jobs().SetSubmitted(ctx, job.ID, "pred-1"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	mat := &countingMaterializer{}
	rec, err := reconcile.New(reconcile.Options{
		Store:        store,
		Locker:       lock.NewLocalLocker(time.Second),
		Materializer: mat,
		Publisher:    &events.Recorder{},
	})
	if err != nil {
		t.Fatalf("reconcile.New: %v", err)
	}
	app := NewApp(zerolog.Nop())
	app.Store = store
	app.Reconciler = rec
	app.WebhookSecret = testWebhookSecret
	return &webhookFixture{app: app, store: store, mat: mat}
}

// delivery reads the stored delivery record of an event for pred-1.
func (f *webhookFixture) delivery(t *testing.T, eventType, timestamp string) *domain.WebhookDelivery {
	t.Helper()
	key := IdempotencyKey(eventType, "pred-1", timestamp)
	d, err := f.store.Deliveries().Record(context.Background(), &domain.WebhookDelivery{IdempotencyKey: key})
	if err != nil {
		t.Fatalf("read delivery: %v", err)
	}
	return d
}

func signedRequest(t *testing.T, payload string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/replicate", bytes.NewBufferString(payload))
	req.Header.Set(signatureHeader, "sha256="+hex.EncodeToString(Sign(testWebhookSecret, []byte(payload))))
	return req
}

func decodeWebhook(t *testing.T, rr *httptest.ResponseRecorder) webhookResponse {
	t.Helper()
	var resp webhookResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

const succeededPayload = `{"id":"pred-1","status":"succeeded","output":["https://replicate.delivery/a.png","https://replicate.delivery/b.png"],"metrics":{"predict_time":3.5},"completed_at":"2026-03-01T10:00:00Z"}`

func TestReplicateWebhookCompletesJobOnce(t *testing.T) {
	f := newWebhookFixture(t)

	rr := httptest.NewRecorder()
	f.app.ReplicateWebhook(rr, signedRequest(t, succeededPayload))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rr.Code, rr.Body.String())
	}
	if resp := decodeWebhook(t, rr); resp.Status != "processed" || resp.Action != string(reconcile.ActionCompleted) {
		t.Fatalf("unexpected response %+v", resp)
	}

	job, err := f.store.Jobs().GetByID(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if job.Status != domain.JobStatusCompleted || len(job.ResultURLs) != 2 {
		t.Fatalf("job not completed: %+v", job)
	}

	// The provider redelivers the same event.
	rr = httptest.NewRecorder()
	f.app.ReplicateWebhook(rr, signedRequest(t, succeededPayload))
	if rr.Code != http.StatusOK {
		t.Fatalf("redelivery status = %d, want 200", rr.Code)
	}
	if resp := decodeWebhook(t, rr); resp.Status != "already_processed" {
		t.Fatalf("redelivery response = %+v", resp)
	}
	if got := f.mat.calls.Load(); got != 1 {
		t.Fatalf("materializer calls = %d, want 1", got)
	}
}

func TestReplicateWebhookFailureRefunds(t *testing.T) {
	f := newWebhookFixture(t)

	payload := `{"id":"pred-1","status":"failed","error":"NSFW content detected","completed_at":"2026-03-01T10:00:00Z"}`
	rr := httptest.NewRecorder()
	f.app.ReplicateWebhook(rr, signedRequest(t, payload))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rr.Code, rr.Body.String())
	}

	ctx := context.Background()
	job, _ := f.store.Jobs().GetByID(ctx, "job-1")
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want FAILED", job.Status)
	}
	bal, err := f.store.Credits().Balance(ctx, "owner-1")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal.CreditsUsed != 0 {
		t.Fatalf("credits used = %d, want 0 after refund", bal.CreditsUsed)
	}
}

func TestReplicateWebhookRejectsBadInput(t *testing.T) {
	tests := []struct {
		name     string
		build    func(t *testing.T) *http.Request
		wantCode int
	}{
		{
			name: "bad signature",
			build: func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(succeededPayload))
				req.Header.Set(signatureHeader, "sha256=deadbeef")
				return req
			},
			wantCode: http.StatusUnauthorized,
		},
		{
			name: "missing signature",
			build: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(succeededPayload))
			},
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "malformed json",
			build:    func(t *testing.T) *http.Request { return signedRequest(t, `{"id":`) },
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "missing status",
			build:    func(t *testing.T) *http.Request { return signedRequest(t, `{"id":"pred-1"}`) },
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "unknown job",
			build:    func(t *testing.T) *http.Request { return signedRequest(t, `{"id":"pred-404","status":"succeeded"}`) },
			wantCode: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newWebhookFixture(t)
			rr := httptest.NewRecorder()
			f.app.ReplicateWebhook(rr, tt.build(t))
			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", rr.Code, tt.wantCode, rr.Body.String())
			}
		})
	}
}

type busyOnceReconciler struct {
	next  Reconciler
	calls int
}

func (b *busyOnceReconciler) Reconcile(ctx context.Context, job *domain.Job, obs reconcile.Observation) (reconcile.Outcome, error) {
	b.calls++
	if b.calls == 1 {
		return reconcile.Outcome{}, domain.ErrJobBusy
	}
	return b.next.Reconcile(ctx, job, obs)
}

func TestReplicateWebhookBusyIsRetried(t *testing.T) {
	f := newWebhookFixture(t)
	f.app.Reconciler = &busyOnceReconciler{next: f.app.Reconciler}

	rr := httptest.NewRecorder()
	f.app.ReplicateWebhook(rr, signedRequest(t, succeededPayload))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
	d := f.delivery(t, "generation.succeeded", "2026-03-01T10:00:00Z")
	if d.Processed || d.RetryCount != 1 || d.LastError == "" {
		t.Fatalf("failed delivery = processed:%v retries:%d last_error:%q", d.Processed, d.RetryCount, d.LastError)
	}

	rr = httptest.NewRecorder()
	f.app.ReplicateWebhook(rr, signedRequest(t, succeededPayload))
	if rr.Code != http.StatusOK {
		t.Fatalf("retry status = %d, want 200", rr.Code)
	}
	if resp := decodeWebhook(t, rr); resp.Status != "processed" {
		t.Fatalf("retry response = %+v", resp)
	}
	d = f.delivery(t, "generation.succeeded", "2026-03-01T10:00:00Z")
	if !d.Processed || d.RetryCount != 1 || d.LastError != "" {
		t.Fatalf("retried delivery = processed:%v retries:%d last_error:%q", d.Processed, d.RetryCount, d.LastError)
	}
}

func TestIdempotencyKeyIsDeterministic(t *testing.T) {
	a := IdempotencyKey("generation.succeeded", "pred-1", "2026-03-01T10:00:00Z")
	b := IdempotencyKey("generation.succeeded", "pred-1", "2026-03-01T10:00:00Z")
	c := IdempotencyKey("generation.failed", "pred-1", "2026-03-01T10:00:00Z")
	if a != b {
		t.Fatalf("same inputs produced %q and %q", a, b)
	}
	if a == c {
		t.Fatalf("different event types share a key")
	}
	if len(a) != 64 {
		t.Fatalf("key length = %d, want 64 hex chars", len(a))
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"id":"x"}`)
	sig := hex.EncodeToString(Sign("s3cret", body))
	if !VerifySignature("s3cret", body, "sha256="+sig) {
		t.Fatalf("valid prefixed signature rejected")
	}
	if !VerifySignature("s3cret", body, sig) {
		t.Fatalf("valid bare signature rejected")
	}
	if VerifySignature("other", body, "sha256="+sig) {
		t.Fatalf("signature accepted with wrong secret")
	}
	if VerifySignature("s3cret", body, "sha256=zz") {
		t.Fatalf("non-hex signature accepted")
	}
}
