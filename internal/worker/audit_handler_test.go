package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	appconfig "github.com/seoatlas/seoatlas-api/internal/config"
	"github.com/seoatlas/seoatlas-api/internal/crypto"
	"github.com/seoatlas/seoatlas-api/internal/fetch"
	"github.com/seoatlas/seoatlas-api/internal/models"
	"github.com/seoatlas/seoatlas-api/internal/repository"
	"github.com/seoatlas/seoatlas-api/internal/service"
)

// ========================================
// Mocks
// ========================================

type auditStore struct {
	mu     sync.RWMutex
	audits map[string]*models.Audit
}

func newAuditStore(audits ...*models.Audit) *auditStore {
	s := &auditStore{audits: make(map[string]*models.Audit)}
	for _, a := range audits {
		s.audits[a.ID] = a
	}
	return s
}

func (s *auditStore) Create(ctx context.Context, a *models.Audit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits[a.ID] = a
	return nil
}

func (s *auditStore) GetByID(ctx context.Context, id string) (*models.Audit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.audits[id]; ok {
		clone := *a
		return &clone, nil
	}
	return nil, nil
}

func (s *auditStore) GetByTenantID(ctx context.Context, tenantID string, limit, offset int) ([]*models.Audit, error) {
	return nil, nil
}

func (s *auditStore) Update(ctx context.Context, a *models.Audit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *a
	s.audits[a.ID] = &clone
	return nil
}

type eventStore struct {
	mu     sync.RWMutex
	events []*models.AuditEvent
}

func (s *eventStore) Append(ctx context.Context, e *models.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *e
	s.events = append(s.events, &clone)
	return nil
}

func (s *eventStore) GetByJobID(ctx context.Context, jobID string) ([]*models.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.events, nil
}

func (s *eventStore) GetByAuditID(ctx context.Context, auditID string) ([]*models.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.events, nil
}

type webhookStore struct {
	mu       sync.RWMutex
	webhooks map[string]*models.Webhook
}

func (s *webhookStore) Create(ctx context.Context, w *models.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhooks[w.ID] = w
	return nil
}

func (s *webhookStore) GetByID(ctx context.Context, id string) (*models.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.webhooks[id], nil
}

func (s *webhookStore) GetByTenantID(ctx context.Context, tenantID string) ([]*models.Webhook, error) {
	return s.GetActiveByTenantID(ctx, tenantID)
}

func (s *webhookStore) GetActiveByTenantID(ctx context.Context, tenantID string) ([]*models.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Webhook
	for _, w := range s.webhooks {
		if w.TenantID == tenantID && w.IsActive {
			out = append(out, w)
		}
	}
	return out, nil
}

func (s *webhookStore) Update(ctx context.Context, w *models.Webhook) error { return nil }
func (s *webhookStore) Delete(ctx context.Context, id string) error         { return nil }

type deliveryStore struct {
	mu         sync.RWMutex
	deliveries map[string]*models.WebhookDelivery
}

func (s *deliveryStore) Create(ctx context.Context, d *models.WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *d
	s.deliveries[d.ID] = &clone
	return nil
}

func (s *deliveryStore) Update(ctx context.Context, d *models.WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *d
	s.deliveries[d.ID] = &clone
	return nil
}

func (s *deliveryStore) GetByID(ctx context.Context, id string) (*models.WebhookDelivery, error) {
	return nil, nil
}

func (s *deliveryStore) GetByWebhookID(ctx context.Context, webhookID string, limit, offset int) ([]*models.WebhookDelivery, error) {
	return nil, nil
}

func (s *deliveryStore) GetPendingRetries(ctx context.Context, limit int) ([]*models.WebhookDelivery, error) {
	return nil, nil
}

var _ repository.AuditRepository = (*auditStore)(nil)
var _ repository.EventRepository = (*eventStore)(nil)
var _ repository.WebhookRepository = (*webhookStore)(nil)
var _ repository.WebhookDeliveryRepository = (*deliveryStore)(nil)

// ========================================
// Setup
// ========================================

type handlerFixture struct {
	handler  *AuditHandler
	audits   *auditStore
	events   *eventStore
	webhooks *webhookStore
}

func setupAuditHandler(t *testing.T, audit *models.Audit) *handlerFixture {
	t.Helper()

	// Pin endpoint hostname resolution so webhook registration does not
	// depend on real DNS.
	prevLookup := service.WebhookLookupIP
	service.WebhookLookupIP = func(host string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("93.184.216.34")}, nil
	}
	t.Cleanup(func() { service.WebhookLookupIP = prevLookup })

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	encryptor, err := crypto.NewEncryptor(key)
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}

	audits := newAuditStore(audit)
	events := &eventStore{}
	webhooks := &webhookStore{webhooks: make(map[string]*models.Webhook)}
	deliveries := &deliveryStore{deliveries: make(map[string]*models.WebhookDelivery)}

	webhookSvc := service.NewWebhookService(slog.Default(), webhooks, deliveries, encryptor, 5*time.Second)
	storageSvc, err := service.NewStorageService(&appconfig.Config{}, slog.Default())
	if err != nil {
		t.Fatalf("failed to create storage service: %v", err)
	}

	repos := &repository.Repositories{Audits: audits, Events: events}
	handler := NewAuditHandler(slog.Default(), repos, webhookSvc, storageSvc, fetch.Options{AllowPrivate: true})

	return &handlerFixture{handler: handler, audits: audits, events: events, webhooks: webhooks}
}

func auditJob(t *testing.T, auditID, url string) *models.Job {
	t.Helper()
	payload, err := json.Marshal(service.AuditPayload{
		AuditID: auditID,
		URL:     url,
		Tier:    "basic",
	})
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	return &models.Job{
		ID:          "job_1",
		TenantID:    "tenant_1",
		AuditID:     auditID,
		Type:        models.JobTypeAudit,
		Status:      models.JobStatusRunning,
		Attempt:     1,
		MaxAttempts: 5,
		PayloadJSON: string(payload),
	}
}

const samplePage = `<!DOCTYPE html>
<html>
<head>
<title>Example</title>
<meta name="description" content="A fine example site">
<meta name="viewport" content="width=device-width">
<link rel="canonical" href="https://example.com/">
<script type="application/ld+json">{"@type":"Organization"}</script>
<meta property="og:title" content="Example">
</head>
<body>
<main>
<h1>Welcome</h1>
<h2>About</h2>
<p>Some content here.</p>
<ul><li><a href="/more">More</a></li></ul>
</main>
</body>
</html>`

// ========================================
// Tests
// ========================================

func TestAuditHandlerCompletesAudit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, samplePage)
	}))
	defer server.Close()

	audit := &models.Audit{ID: "audit_1", TenantID: "tenant_1", URL: server.URL, Tier: "basic", Status: models.AuditStatusPending}
	fx := setupAuditHandler(t, audit)

	job := auditJob(t, "audit_1", server.URL)
	if err := fx.handler.Handle(context.Background(), job); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got, _ := fx.audits.GetByID(context.Background(), "audit_1")
	if got.Status != models.AuditStatusCompleted {
		t.Errorf("audit status = %s, want completed", got.Status)
	}
	if got.Score <= 0 || got.Score > 100 {
		t.Errorf("score = %v, want within (0, 100]", got.Score)
	}
	if got.Grade == "" {
		t.Error("grade not assigned")
	}

	// Stage events in order with their progress marks
	wantStages := []struct {
		stage    models.AuditStage
		progress int
	}{
		{models.StageInitializing, 0},
		{models.StageTechnicalAudit, 10},
		{models.StageContentAudit, 30},
		{models.StageAIVisibilityAudit, 50},
		{models.StageGeneratingReport, 80},
		{models.StageCompleted, 100},
	}
	if len(fx.events.events) != len(wantStages) {
		t.Fatalf("events = %d, want %d", len(fx.events.events), len(wantStages))
	}
	for i, want := range wantStages {
		e := fx.events.events[i]
		if e.EventType != string(want.stage) {
			t.Errorf("events[%d] = %s, want %s", i, e.EventType, want.stage)
		}
		if e.ProgressPct != want.progress {
			t.Errorf("events[%d] progress = %d, want %d", i, e.ProgressPct, want.progress)
		}
	}
}

func TestAuditHandlerFiresCompletionWebhook(t *testing.T) {
	siteServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, samplePage)
	}))
	defer siteServer.Close()

	var received WebhookCapture
	hookServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received.record(r.Header.Get("X-Webhook-Event"), body)
		w.WriteHeader(http.StatusOK)
	}))
	defer hookServer.Close()

	audit := &models.Audit{ID: "audit_1", TenantID: "tenant_1", URL: siteServer.URL, Tier: "basic", Status: models.AuditStatusPending}
	fx := setupAuditHandler(t, audit)
	fx.addWebhook(t, hookServer.URL)

	if err := fx.handler.Handle(context.Background(), auditJob(t, "audit_1", siteServer.URL)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	event, body := received.get()
	if event != "audit.completed" {
		t.Errorf("event = %s, want audit.completed", event)
	}
	var envelope struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("failed to parse envelope: %v", err)
	}
	if envelope.Data["audit_id"] != "audit_1" {
		t.Errorf("data.audit_id = %v, want audit_1", envelope.Data["audit_id"])
	}
}

func TestAuditHandlerFiresStartedWebhook(t *testing.T) {
	siteServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, samplePage)
	}))
	defer siteServer.Close()

	var mu sync.Mutex
	var events []string
	hookServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		events = append(events, r.Header.Get("X-Webhook-Event"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer hookServer.Close()

	audit := &models.Audit{ID: "audit_1", TenantID: "tenant_1", URL: siteServer.URL, Tier: "basic", Status: models.AuditStatusPending}
	fx := setupAuditHandler(t, audit)
	fx.addWebhook(t, hookServer.URL)

	if err := fx.handler.Handle(context.Background(), auditJob(t, "audit_1", siteServer.URL)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("webhook events = %v, want [audit.started audit.completed]", events)
	}
	if events[0] != "audit.started" {
		t.Errorf("events[0] = %s, want audit.started", events[0])
	}
	if events[1] != "audit.completed" {
		t.Errorf("events[1] = %s, want audit.completed", events[1])
	}
}

// WebhookCapture records the last webhook hit under a lock, since the
// delivery happens on the handler's goroutine while the test asserts.
type WebhookCapture struct {
	mu    sync.Mutex
	event string
	body  []byte
}

func (c *WebhookCapture) record(event string, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.event = event
	c.body = body
}

func (c *WebhookCapture) get() (string, []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.event, c.body
}

// addWebhook registers an endpoint and rewrites its URL to the loopback
// test server, which Register's SSRF validation would otherwise reject.
func (fx *handlerFixture) addWebhook(t *testing.T, url string) {
	t.Helper()
	webhook, _, err := fx.handler.webhookSvc.Register(context.Background(), "tenant_1", "https://hooks.example.com/seo", []string{"*"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	webhook.URL = url
	if err := fx.webhooks.Create(context.Background(), webhook); err != nil {
		t.Fatalf("failed to store webhook: %v", err)
	}
}

func TestAuditHandlerFailureMarksAuditFailed(t *testing.T) {
	var received WebhookCapture
	hookServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received.record(r.Header.Get("X-Webhook-Event"), body)
		w.WriteHeader(http.StatusOK)
	}))
	defer hookServer.Close()

	audit := &models.Audit{ID: "audit_1", TenantID: "tenant_1", URL: "https://unreachable.example.com", Tier: "basic", Status: models.AuditStatusRunning}
	fx := setupAuditHandler(t, audit)
	fx.addWebhook(t, hookServer.URL)

	cause := "fetch failed: api_key=sk-livekey123 rejected"
	fx.handler.HandleFailure(context.Background(), auditJob(t, "audit_1", audit.URL), cause)

	got, _ := fx.audits.GetByID(context.Background(), "audit_1")
	if got.Status != models.AuditStatusFailed {
		t.Errorf("audit status = %s, want failed", got.Status)
	}

	// Failed event appended with the secret redacted
	if len(fx.events.events) != 1 {
		t.Fatalf("events = %d, want 1", len(fx.events.events))
	}
	e := fx.events.events[0]
	if e.EventType != string(models.StageFailed) {
		t.Errorf("event type = %s, want failed", e.EventType)
	}
	if containsSecret(e.Message) {
		t.Errorf("event message leaks secret: %s", e.Message)
	}

	event, body := received.get()
	if event != "audit.failed" {
		t.Errorf("event = %s, want audit.failed", event)
	}
	if containsSecret(string(body)) {
		t.Errorf("webhook payload leaks secret: %s", body)
	}
}

func containsSecret(s string) bool {
	return strings.Contains(s, "sk-livekey123")
}

func TestAuditHandlerRejectsInvalidPayload(t *testing.T) {
	audit := &models.Audit{ID: "audit_1", TenantID: "tenant_1", URL: "https://example.com", Tier: "basic"}
	fx := setupAuditHandler(t, audit)

	job := auditJob(t, "audit_1", "https://example.com")
	job.PayloadJSON = "{not json"

	err := fx.handler.Handle(context.Background(), job)
	if !IsPermanent(err) {
		t.Errorf("err = %v, want permanent for malformed payload", err)
	}
}

func TestAuditHandlerMissingAuditIsPermanent(t *testing.T) {
	audit := &models.Audit{ID: "audit_1", TenantID: "tenant_1", URL: "https://example.com", Tier: "basic"}
	fx := setupAuditHandler(t, audit)

	err := fx.handler.Handle(context.Background(), auditJob(t, "audit_missing", "https://example.com"))
	if !IsPermanent(err) {
		t.Errorf("err = %v, want permanent for missing audit", err)
	}
}

func TestAuditHandlerStatusClassification(t *testing.T) {
	serve := func(status int) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
	}

	tests := []struct {
		name          string
		status        int
		wantPermanent bool
	}{
		{"not found is permanent", http.StatusNotFound, true},
		{"gone is permanent", http.StatusGone, true},
		{"rate limited is retried", http.StatusTooManyRequests, false},
		{"server error is retried", http.StatusServiceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := serve(tt.status)
			defer server.Close()

			audit := &models.Audit{ID: "audit_1", TenantID: "tenant_1", URL: server.URL, Tier: "basic", Status: models.AuditStatusPending}
			fx := setupAuditHandler(t, audit)

			err := fx.handler.Handle(context.Background(), auditJob(t, "audit_1", server.URL))
			if err == nil {
				t.Fatalf("Handle() = nil, want error for status %d", tt.status)
			}
			if got := IsPermanent(err); got != tt.wantPermanent {
				t.Errorf("IsPermanent(%v) = %v, want %v", err, got, tt.wantPermanent)
			}
		})
	}
}

// ========================================
// Scoring
// ========================================

func TestGradeFor(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{95, "A"}, {90, "A"}, {85, "B"}, {72, "C"}, {60, "D"}, {40, "F"},
	}
	for _, tt := range tests {
		if got := gradeFor(tt.score); got != tt.want {
			t.Errorf("gradeFor(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestOverallScoreAveragesSections(t *testing.T) {
	sections := []service.ReportSection{
		{Name: "technical", Score: 100},
		{Name: "content", Score: 50},
		{Name: "ai_visibility", Score: 75},
	}
	if got := overallScore(sections); got != 75 {
		t.Errorf("overallScore = %v, want 75", got)
	}
	if got := overallScore(nil); got != 0 {
		t.Errorf("overallScore(nil) = %v, want 0", got)
	}
}
