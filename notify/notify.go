// Package notify delivers completion webhooks: when a capture session
// reaches a terminal state, each configured endpoint receives a JSON
// payload signed with a per-endpoint HMAC secret. Deliveries go through
// a circuit breaker and bounded retries so a dead endpoint cannot stall
// the worker.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/pagesnap/pagesnap/connectivity"
)

// Endpoint is one webhook destination.
type Endpoint struct {
	// URL receives the POST.
	URL string `yaml:"url" json:"url"`
	// Secret, when set, signs the body: X-Signature-256 carries
	// "sha256=" + hex(HMAC-SHA256(body)).
	Secret string `yaml:"secret" json:"secret"`
	// Events filters which terminal states are delivered. Empty means
	// all of them.
	Events []string `yaml:"events" json:"events"`
}

// Payload is the JSON body POSTed to each endpoint.
type Payload struct {
	CaptureID  string `json:"capture_id"`
	URL        string `json:"url"`
	Mode       string `json:"mode"`
	State      string `json:"state"` // "done", "failed", "canceled"
	MIME       string `json:"mime,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	Truncated  bool   `json:"truncated,omitempty"`
	Segments   int    `json:"segments,omitempty"`
	Bytes      int    `json:"bytes,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Options configures a Notifier.
type Options struct {
	// Timeout bounds each delivery attempt. Default: 10s.
	Timeout time.Duration
	// MaxRetries is the retry budget per endpoint per event. Default: 2.
	MaxRetries int
	// Backoff is the initial retry backoff, doubled per attempt.
	// Default: 500ms.
	Backoff time.Duration
	// Client overrides the HTTP client (for testing).
	Client *http.Client
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 2
	}
	if o.Backoff <= 0 {
		o.Backoff = 500 * time.Millisecond
	}
	if o.Client == nil {
		o.Client = http.DefaultClient
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Notifier fans out terminal-state events to configured endpoints. One
// circuit breaker per endpoint: a flapping hook opens only its own
// circuit.
type Notifier struct {
	endpoints []Endpoint
	breakers  []*connectivity.CircuitBreaker
	opts      Options
}

// New creates a Notifier for the given endpoints.
func New(endpoints []Endpoint, opts Options) *Notifier {
	opts.defaults()
	breakers := make([]*connectivity.CircuitBreaker, len(endpoints))
	for i := range breakers {
		breakers[i] = connectivity.NewCircuitBreaker()
	}
	return &Notifier{endpoints: endpoints, breakers: breakers, opts: opts}
}

// Notify delivers the payload to every endpoint whose event filter
// matches payload.State. Deliveries run sequentially; per-endpoint
// failures are logged, never returned, so notification trouble cannot
// fail a finished capture.
func (n *Notifier) Notify(ctx context.Context, payload Payload) {
	body, err := json.Marshal(payload)
	if err != nil {
		n.opts.Logger.Error("notify: marshal payload", "error", err, "capture_id", payload.CaptureID)
		return
	}

	for i, ep := range n.endpoints {
		if len(ep.Events) > 0 && !slices.Contains(ep.Events, payload.State) {
			continue
		}
		if err := n.deliver(ctx, ep, n.breakers[i], body); err != nil {
			n.opts.Logger.Warn("notify: delivery failed",
				"url", ep.URL, "capture_id", payload.CaptureID, "state", payload.State, "error", err)
			continue
		}
		n.opts.Logger.Info("notify: delivered",
			"url", ep.URL, "capture_id", payload.CaptureID, "state", payload.State)
	}
}

func (n *Notifier) deliver(ctx context.Context, ep Endpoint, cb *connectivity.CircuitBreaker, body []byte) error {
	return connectivity.Retry(ctx, n.opts.MaxRetries, n.opts.Backoff, n.opts.Logger,
		func(ctx context.Context) error {
			return cb.Do(ctx, ep.URL, func(ctx context.Context) error {
				return n.post(ctx, ep, body)
			})
		})
}

func (n *Notifier) post(ctx context.Context, ep Endpoint, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, n.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if ep.Secret != "" {
		req.Header.Set("X-Signature-256", Sign(ep.Secret, body))
	}

	resp, err := n.opts.Client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("notify: endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the X-Signature-256 header value for a body:
// "sha256=" + hex(HMAC-SHA256(body, secret)).
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks an X-Signature-256 header against a body. The optional
// "sha256=" prefix is accepted.
func Verify(secret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	const prefix = "sha256="
	if len(signature) > len(prefix) && signature[:len(prefix)] == prefix {
		signature = signature[len(prefix):]
	}
	decoded, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), decoded)
}
