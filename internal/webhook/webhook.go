package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/schaermu/posyncd/internal/activation"
	"github.com/schaermu/posyncd/internal/config"
	"github.com/schaermu/posyncd/internal/metrics"
	posyncd "github.com/schaermu/posyncd/internal/sync"
)

const (
	// socketName is the LISTEN_FDNAMES entry the server prefers
	socketName = "posyncd-webhook"

	maxPayloadBytes = 5 << 20
)

// GitHubPushEvent represents the relevant fields from a GitHub push webhook
type GitHubPushEvent struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Repository struct {
		FullName string `json:"full_name"`
		CloneURL string `json:"clone_url"`
		SSHURL   string `json:"ssh_url"`
		GitURL   string `json:"git_url"`
		HTMLURL  string `json:"html_url"`
	} `json:"repository"`
}

// Syncer runs synchronizations
type Syncer interface {
	Run(ctx context.Context, opts posyncd.Options) error
	SyncComponent(ctx context.Context, project, component string, opts posyncd.Options) error
}

type target struct {
	project   string
	component string
}

// Server implements the webhook HTTP server
type Server struct {
	cfg         *config.Config
	syncer      Syncer
	metrics     *metrics.Metrics
	gatherer    prometheus.Gatherer
	logger      *slog.Logger
	secret      []byte
	syncMu      sync.Mutex // guards syncRunning and pending
	syncRunning bool       // whether a sync is currently in progress
	pending     []target   // components to sync, without duplicates
	debounce    *debouncer
}

// debouncer implements debouncing for webhook events
type debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	delay    time.Duration
	callback func()
}

// NewServer creates a new webhook server. Metrics are served from gatherer
// when it is not nil.
func NewServer(cfg *config.Config, syncer Syncer, m *metrics.Metrics, gatherer prometheus.Gatherer, logger *slog.Logger) (*Server, error) {
	secret, err := os.ReadFile(cfg.Serve.GitHubWebhookSecretFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook secret: %w", err)
	}

	return &Server{
		cfg:      cfg,
		syncer:   syncer,
		metrics:  m,
		gatherer: gatherer,
		logger:   logger,
		secret:   []byte(strings.TrimSpace(string(secret))),
		debounce: &debouncer{delay: 2 * time.Second},
	}, nil
}

// Handler returns the HTTP handler serving webhooks and metrics
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebhook)
	if s.gatherer != nil {
		mux.Handle(s.cfg.Serve.MetricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start synchronizes every component once and then serves webhooks until
// ctx is cancelled. A socket passed by systemd is preferred over
// serve.listen_addr.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("performing initial sync before starting webhook server")
	if err := s.syncer.Run(ctx, posyncd.Options{Update: true}); err != nil {
		s.logger.Error("initial sync failed", "error", err)
	}

	ln, activated, err := activation.Listen(socketName, s.cfg.Serve.ListenAddr)
	if err != nil {
		return err
	}

	server := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("webhook server starting", "addr", ln.Addr().String(), "socket_activated", activated)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down webhook server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// respond writes a plain text reply and counts the delivery under outcome
func (s *Server) respond(w http.ResponseWriter, outcome string, status int, msg string) {
	s.metrics.WebhookEvent(outcome)
	if status != http.StatusOK {
		http.Error(w, msg, status)
		return
	}
	w.WriteHeader(status)
	_, _ = fmt.Fprintln(w, msg)
}

// handleWebhook validates a GitHub delivery and schedules a sync of every
// component tracking the pushed branch
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.logger.Warn("rejecting non-POST request", "method", r.Method)
		s.respond(w, "rejected", http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if ct := r.Header.Get("Content-Type"); ct != "application/json" {
		s.logger.Warn("rejecting request with invalid content type", "content_type", ct)
		s.respond(w, "rejected", http.StatusBadRequest, "Invalid content type")
		return
	}

	defer func() {
		_ = r.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		s.logger.Error("failed to read request body", "error", err)
		s.respond(w, "rejected", http.StatusInternalServerError, "Failed to read body")
		return
	}
	if !s.verifySignature(body, r.Header.Get("X-Hub-Signature-256")) {
		s.logger.Warn("rejecting request with invalid signature")
		s.respond(w, "rejected", http.StatusForbidden, "Invalid signature")
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	logger := s.logger.With("event", eventType, "delivery", r.Header.Get("X-GitHub-Delivery"))
	if !s.isEventTypeAllowed(eventType) {
		logger.Info("ignoring disallowed event type")
		s.respond(w, "ignored", http.StatusOK, "Event type not configured for sync")
		return
	}

	var event GitHubPushEvent
	if err := json.Unmarshal(body, &event); err != nil {
		logger.Error("failed to parse webhook payload", "error", err)
		s.respond(w, "rejected", http.StatusBadRequest, "Invalid payload")
		return
	}

	logger = logger.With("repo", event.Repository.FullName, "ref", event.Ref)
	targets := s.matchComponents(event)
	if len(targets) == 0 {
		logger.Info("no component tracks pushed ref")
		s.respond(w, "ignored", http.StatusOK, "No component configured for this repository and ref")
		return
	}

	logger.Info("webhook accepted", "commit", event.After, "components", len(targets))
	s.enqueue(targets)
	s.debounce.trigger(func() {
		s.performSync(context.Background())
	})
	s.respond(w, "accepted", http.StatusOK, "Sync triggered")
}

// verifySignature verifies the GitHub webhook signature
func (s *Server) verifySignature(body []byte, signature string) bool {
	// GitHub signature format: sha256=<hex>
	signature, ok := strings.CutPrefix(signature, "sha256=")
	if !ok || signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expected))
}

// isEventTypeAllowed checks if the event type is in the allowed list
func (s *Server) isEventTypeAllowed(eventType string) bool {
	if len(s.cfg.Serve.AllowedEventTypes) == 0 {
		return true // no filter configured
	}
	for _, allowed := range s.cfg.Serve.AllowedEventTypes {
		if eventType == allowed {
			return true
		}
	}
	return false
}

// matchComponents returns the components whose repository and branch the
// push event updated
func (s *Server) matchComponents(event GitHubPushEvent) []target {
	branch, ok := strings.CutPrefix(event.Ref, "refs/heads/")
	if !ok {
		return nil
	}

	urls := make(map[string]bool)
	for _, u := range []string{
		event.Repository.CloneURL,
		event.Repository.SSHURL,
		event.Repository.GitURL,
		event.Repository.HTMLURL,
	} {
		if u != "" {
			urls[normalizeRepoURL(u)] = true
		}
	}

	var targets []target
	for _, p := range s.cfg.Projects {
		for _, c := range p.Components {
			if c.Branch == branch && urls[normalizeRepoURL(c.Repo)] {
				targets = append(targets, target{project: p.Slug, component: c.Slug})
			}
		}
	}
	return targets
}

// normalizeRepoURL reduces the https, ssh and scp-like forms of a repository
// URL to host/path. Local paths are returned cleaned.
func normalizeRepoURL(raw string) string {
	u := strings.ToLower(strings.TrimSpace(raw))
	if strings.Contains(u, "://") {
		if parsed, err := url.Parse(u); err == nil {
			u = parsed.Hostname() + "/" + strings.TrimPrefix(parsed.Path, "/")
		}
	} else if host, path, ok := strings.Cut(u, ":"); ok && !strings.Contains(host, "/") {
		// scp-like [user@]host:owner/repo
		if _, h, found := strings.Cut(host, "@"); found {
			host = h
		}
		u = host + "/" + strings.TrimPrefix(path, "/")
	}
	u = strings.TrimSuffix(u, "/")
	return strings.TrimSuffix(u, ".git")
}

// enqueue adds targets to the pending set
func (s *Server) enqueue(targets []target) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	for _, t := range targets {
		queued := false
		for _, p := range s.pending {
			if p == t {
				queued = true
				break
			}
		}
		if !queued {
			s.pending = append(s.pending, t)
		}
	}
}

// performSync drains the pending components with single-flight semantics.
// Components queued while a sync is running are picked up by the running
// one before it returns.
func (s *Server) performSync(ctx context.Context) {
	s.syncMu.Lock()
	if s.syncRunning {
		s.syncMu.Unlock()
		s.logger.Info("sync already in progress, pending components will be picked up")
		return
	}
	s.syncRunning = true
	s.syncMu.Unlock()

	for {
		s.syncMu.Lock()
		batch := s.pending
		s.pending = nil
		if len(batch) == 0 {
			s.syncRunning = false
			s.syncMu.Unlock()
			return
		}
		s.syncMu.Unlock()

		for _, t := range batch {
			s.logger.Info("performing sync operation", "project", t.project, "component", t.component)
			if err := s.syncer.SyncComponent(ctx, t.project, t.component, posyncd.Options{Update: true}); err != nil {
				s.logger.Error("sync failed", "project", t.project, "component", t.component, "error", err)
			}
		}
	}
}

// trigger schedules the callback to run after the debounce delay
func (d *debouncer) trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.callback = callback

	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		cb := d.callback
		d.mu.Unlock()

		if cb != nil {
			cb()
		}
	})
}
