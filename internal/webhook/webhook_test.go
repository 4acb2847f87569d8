package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/schaermu/posyncd/internal/config"
	"github.com/schaermu/posyncd/internal/metrics"
	posyncd "github.com/schaermu/posyncd/internal/sync"
)

// mockSyncer records the synchronizations it was asked for
type mockSyncer struct {
	mu         sync.Mutex
	runs       []posyncd.Options
	components []string
	started    chan struct{}
	proceed    chan struct{}
	once       sync.Once
}

func (m *mockSyncer) Run(_ context.Context, opts posyncd.Options) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, opts)
	return nil
}

func (m *mockSyncer) SyncComponent(_ context.Context, project, component string, _ posyncd.Options) error {
	if m.started != nil {
		m.once.Do(func() { close(m.started) })
		<-m.proceed
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, project+"/"+component)
	return nil
}

func (m *mockSyncer) synced() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.components...)
}

func setupTestConfig(t *testing.T) (*config.Config, string) {
	t.Helper()

	tmpDir := t.TempDir()
	secretPath := filepath.Join(tmpDir, "webhook_secret")
	secret := "test-secret-key"
	if err := os.WriteFile(secretPath, []byte(secret+"\n"), 0600); err != nil {
		t.Fatalf("failed to write secret file: %v", err)
	}

	cfg := &config.Config{
		Paths: config.PathsConfig{GitRoot: tmpDir},
		Serve: config.ServeConfig{
			Enabled:                 true,
			ListenAddr:              "127.0.0.1:0",
			GitHubWebhookSecretFile: secretPath,
			AllowedEventTypes:       []string{"push"},
			MetricsPath:             "/metrics",
		},
		Projects: []config.ProjectConfig{{
			Name: "Demo",
			Slug: "demo",
			Components: []config.ComponentConfig{
				{Slug: "core", Repo: "https://github.com/test/repo.git", Branch: "main", FileMask: "po/*.po"},
				{Slug: "docs", Repo: "git@github.com:test/repo.git", Branch: "main", FileMask: "docs/*.po"},
				{Slug: "stable", Repo: "https://github.com/test/repo", Branch: "stable", FileMask: "po/*.po"},
				{Slug: "other", Repo: "https://github.com/test/other.git", Branch: "main", FileMask: "po/*.po"},
			},
		}},
	}

	return cfg, secret
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, syncer Syncer) (*Server, string) {
	t.Helper()
	cfg, secret := setupTestConfig(t)
	server, err := NewServer(cfg, syncer, nil, nil, testLogger())
	if err != nil {
		t.Fatalf("NewServer() failed: %v", err)
	}
	return server, secret
}

func computeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func pushRequest(body []byte, secret, event string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", event)
	req.Header.Set("X-Hub-Signature-256", computeSignature(body, secret))
	return req
}

const pushMain = `{
	"ref": "refs/heads/main",
	"after": "abc123",
	"repository": {
		"full_name": "test/repo",
		"clone_url": "https://github.com/test/repo.git",
		"ssh_url": "git@github.com:test/repo.git"
	}
}`

func TestNewServer(t *testing.T) {
	server, _ := newTestServer(t, &mockSyncer{})
	if string(server.secret) != "test-secret-key" {
		t.Errorf("expected trimmed secret, got %q", string(server.secret))
	}
}

func TestNewServer_MissingSecretFile(t *testing.T) {
	cfg, _ := setupTestConfig(t)
	cfg.Serve.GitHubWebhookSecretFile = "/nonexistent/secret"

	if _, err := NewServer(cfg, &mockSyncer{}, nil, nil, testLogger()); err == nil {
		t.Fatal("expected error for missing secret file, got nil")
	}
}

func TestStart_PerformsInitialSync(t *testing.T) {
	syncer := &mockSyncer{}
	server, _ := newTestServer(t, syncer)

	// Cancel the context immediately so Start returns after the initial sync
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := server.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if len(syncer.runs) != 1 || !syncer.runs[0].Update {
		t.Errorf("expected one updating initial run, got %+v", syncer.runs)
	}
}

func TestVerifySignature(t *testing.T) {
	server, secret := newTestServer(t, &mockSyncer{})
	body := []byte(`{"ref":"refs/heads/main"}`)

	tests := []struct {
		name      string
		signature string
		want      bool
	}{
		{"valid", computeSignature(body, secret), true},
		{"wrong secret", computeSignature(body, "other"), false},
		{"missing prefix", strings.TrimPrefix(computeSignature(body, secret), "sha256="), false},
		{"empty", "", false},
		{"prefix only", "sha256=", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := server.verifySignature(body, tt.signature); got != tt.want {
				t.Errorf("verifySignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsEventTypeAllowed(t *testing.T) {
	server, _ := newTestServer(t, &mockSyncer{})
	if !server.isEventTypeAllowed("push") {
		t.Error("expected push to be allowed")
	}
	if server.isEventTypeAllowed("pull_request") {
		t.Error("expected pull_request to be filtered")
	}

	server.cfg.Serve.AllowedEventTypes = nil
	if !server.isEventTypeAllowed("pull_request") {
		t.Error("expected every event to be allowed without filter")
	}
}

func TestNormalizeRepoURL(t *testing.T) {
	tests := map[string]string{
		"https://github.com/Test/Repo.git":      "github.com/test/repo",
		"https://user@github.com/test/repo/":    "github.com/test/repo",
		"git@github.com:test/repo.git":          "github.com/test/repo",
		"ssh://git@github.com:22/test/repo.git": "github.com/test/repo",
		"git://github.com/test/repo.git":        "github.com/test/repo",
		"/srv/git/repo.git":                     "/srv/git/repo",
	}
	for in, want := range tests {
		if got := normalizeRepoURL(in); got != want {
			t.Errorf("normalizeRepoURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMatchComponents(t *testing.T) {
	server, _ := newTestServer(t, &mockSyncer{})

	var event GitHubPushEvent
	event.Ref = "refs/heads/main"
	event.Repository.CloneURL = "https://github.com/test/repo.git"

	var got []string
	for _, tgt := range server.matchComponents(event) {
		got = append(got, tgt.component)
	}
	if strings.Join(got, ",") != "core,docs" {
		t.Errorf("expected core,docs, got %v", got)
	}

	event.Ref = "refs/tags/v1.0"
	if targets := server.matchComponents(event); len(targets) != 0 {
		t.Errorf("expected tags to match nothing, got %v", targets)
	}
}

func TestHandleWebhook_ValidRequest(t *testing.T) {
	syncer := &mockSyncer{}
	server, secret := newTestServer(t, syncer)
	server.debounce.delay = 10 * time.Millisecond

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, pushRequest([]byte(pushMain), secret, "push"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Sync triggered") {
		t.Errorf("unexpected body %q", rec.Body.String())
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(syncer.synced()) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := strings.Join(syncer.synced(), ","); got != "demo/core,demo/docs" {
		t.Errorf("expected demo/core,demo/docs to be synced, got %s", got)
	}
}

func TestHandleWebhook_Rejections(t *testing.T) {
	server, secret := newTestServer(t, &mockSyncer{})
	body := []byte(pushMain)

	tests := []struct {
		name     string
		req      func() *http.Request
		wantCode int
		wantBody string
	}{
		{
			name:     "method",
			req:      func() *http.Request { return httptest.NewRequest(http.MethodGet, "/", nil) },
			wantCode: http.StatusMethodNotAllowed,
		},
		{
			name: "content type",
			req: func() *http.Request {
				r := pushRequest(body, secret, "push")
				r.Header.Set("Content-Type", "text/plain")
				return r
			},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "signature",
			req:      func() *http.Request { return pushRequest(body, "wrong", "push") },
			wantCode: http.StatusForbidden,
		},
		{
			name:     "event type",
			req:      func() *http.Request { return pushRequest(body, secret, "issues") },
			wantCode: http.StatusOK,
			wantBody: "Event type not configured",
		},
		{
			name:     "payload",
			req:      func() *http.Request { return pushRequest([]byte("{"), secret, "push") },
			wantCode: http.StatusBadRequest,
		},
		{
			name: "unknown repository",
			req: func() *http.Request {
				return pushRequest([]byte(`{"ref":"refs/heads/main","repository":{"clone_url":"https://example.com/x.git"}}`), secret, "push")
			},
			wantCode: http.StatusOK,
			wantBody: "No component configured",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			server.handleWebhook(rec, tt.req())
			if rec.Code != tt.wantCode {
				t.Errorf("expected status %d, got %d", tt.wantCode, rec.Code)
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("expected body to contain %q, got %q", tt.wantBody, rec.Body.String())
			}
		})
	}

	server.syncMu.Lock()
	defer server.syncMu.Unlock()
	if len(server.pending) != 0 {
		t.Errorf("rejected requests must not queue syncs, got %v", server.pending)
	}
}

func TestHandleWebhook_CountsEvents(t *testing.T) {
	cfg, secret := setupTestConfig(t)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	server, err := NewServer(cfg, &mockSyncer{}, m, reg, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	server.debounce.delay = time.Hour

	handler := server.Handler()
	handler.ServeHTTP(httptest.NewRecorder(), pushRequest([]byte(pushMain), secret, "push"))
	handler.ServeHTTP(httptest.NewRecorder(), pushRequest([]byte(pushMain), "wrong", "push"))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected metrics endpoint, got %d", rec.Code)
	}
	out := rec.Body.String()
	for _, want := range []string{
		`posyncd_webhook_events_total{outcome="accepted"} 1`,
		`posyncd_webhook_events_total{outcome="rejected"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in metrics output", want)
		}
	}
}

func TestDebouncer(t *testing.T) {
	var callCount int
	var mu sync.Mutex
	d := &debouncer{delay: 50 * time.Millisecond}

	// Trigger multiple times rapidly
	for i := 0; i < 5; i++ {
		d.trigger(func() {
			mu.Lock()
			callCount++
			mu.Unlock()
		})
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if callCount != 1 {
		t.Errorf("expected callback to be called once, got %d", callCount)
	}
}

// TestPerformSync_SingleFlight verifies that components queued while a sync
// is running are picked up by that sync instead of starting another one.
func TestPerformSync_SingleFlight(t *testing.T) {
	syncer := &mockSyncer{
		started: make(chan struct{}),
		proceed: make(chan struct{}),
	}
	server, _ := newTestServer(t, syncer)
	ctx := context.Background()

	server.enqueue([]target{{"demo", "core"}})
	done := make(chan struct{})
	go func() {
		defer close(done)
		server.performSync(ctx)
	}()
	<-syncer.started

	server.enqueue([]target{{"demo", "docs"}, {"demo", "docs"}})
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			server.performSync(ctx)
		}()
	}
	wg.Wait()

	server.syncMu.Lock()
	pending := len(server.pending)
	server.syncMu.Unlock()
	if pending != 1 {
		t.Errorf("expected one de-duplicated pending component, got %d", pending)
	}

	close(syncer.proceed)
	<-done

	if got := strings.Join(syncer.synced(), ","); got != "demo/core,demo/docs" {
		t.Errorf("expected core then docs, got %s", got)
	}
	server.syncMu.Lock()
	defer server.syncMu.Unlock()
	if server.syncRunning || len(server.pending) != 0 {
		t.Error("expected server to be idle after draining")
	}
}
