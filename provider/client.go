package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/vouch/config"
	"github.com/teranos/vouch/errors"
	"github.com/teranos/vouch/internal/httpclient"
	"github.com/teranos/vouch/proxy"
	"github.com/teranos/vouch/record"
)

// maxResponseBytes caps how much of a provider response body is read.
const maxResponseBytes = 1 << 20

// ErrTransport marks failures where the HTTP exchange itself broke,
// as opposed to the provider answering with an error status. Callers
// use the distinction to rotate and penalize the proxy carrying the
// call; provider-side errors never blame the proxy.
var ErrTransport = errors.New("transport failure")

// IsTransportError reports whether err carries the transport marker
func IsTransportError(err error) bool {
	return err != nil && errors.Is(err, ErrTransport)
}

// Doer abstracts the transport so tests can inject httptest-backed clients.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the verification provider. It holds no protocol state
// between calls; transports are cached per proxy endpoint purely for
// connection reuse.
type Client struct {
	baseURL string
	orgs    map[string]string
	timeout time.Duration
	logger  *zap.SugaredLogger

	mu         sync.Mutex
	transports map[string]Doer
	override   Doer
}

// NewClient creates a provider client from configuration. The orgs map
// translates a branch key into the provider's organization identifier;
// branches without a mapping cannot be submitted.
func NewClient(cfg config.ProviderConfig, logger *zap.SugaredLogger) *Client {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		orgs:       cfg.Orgs,
		timeout:    cfg.Timeout,
		logger:     logger,
		transports: make(map[string]Doer),
	}
}

// SetHTTPClient overrides the transport for every call regardless of
// proxy endpoint.
// ⚠️ WARNING: Only use this in tests targeting httptest servers.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.override = httpclient.WrapClient(client)
}

// transportFor returns the cached transport for ep, building one on
// first use. A nil endpoint means a direct connection.
func (c *Client) transportFor(ep *proxy.Endpoint) Doer {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.override != nil {
		return c.override
	}

	key := ""
	var proxyURL *url.URL
	if ep != nil {
		key = ep.Address
		proxyURL = ep.URL()
	}

	if t, ok := c.transports[key]; ok {
		return t
	}
	t := httpclient.New(c.timeout, proxyURL)
	c.transports[key] = t
	return t
}

type submitRequest struct {
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	OrgID        string `json:"organization_id"`
	Email        string `json:"email"`
	ServiceStart string `json:"service_start"`
	ServiceEnd   string `json:"service_end,omitempty"`
}

type submitResponse struct {
	VerificationID string `json:"verification_id"`
}

type pollResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type confirmRequest struct {
	Code string `json:"code"`
}

type confirmResponse struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
}

// errorResponse tolerates the several shapes providers use for error
// bodies.
type errorResponse struct {
	Reason  string `json:"reason"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (e *errorResponse) text() string {
	for _, s := range []string{e.Reason, e.Error, e.Message} {
		if s != "" {
			return s
		}
	}
	return ""
}

// Submit opens a verification for rec and returns the provider's
// tracking handle. The email is the delivery address for the
// out-of-band code; it carries the job's correlation token.
func (c *Client) Submit(ctx context.Context, rec *record.Record, email string, ep *proxy.Endpoint) (Handle, error) {
	org, ok := c.orgs[rec.Branch.Key()]
	if !ok {
		return "", errors.Permanent(errors.Newf("no organization mapped for branch %q", rec.Branch))
	}
	if email == "" {
		return "", errors.Permanent(errors.New("delivery address is empty"))
	}

	c.logger.Debugw("Submitting verification",
		"branch", rec.Branch,
		"org", org,
		"proxy", proxyLabel(ep),
	)

	req := submitRequest{
		FirstName:    rec.FirstName,
		LastName:     rec.LastName,
		OrgID:        org,
		Email:        email,
		ServiceStart: rec.ServiceStart,
		ServiceEnd:   rec.ServiceEnd,
	}

	var resp submitResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/verifications", &req, &resp, ep); err != nil {
		return "", err
	}
	if resp.VerificationID == "" {
		return "", errors.Transient(errors.New("provider response missing verification_id"))
	}
	return Handle(resp.VerificationID), nil
}

// Poll asks the provider for the current state of a verification.
func (c *Client) Poll(ctx context.Context, h Handle, ep *proxy.Endpoint) (Decision, error) {
	var resp pollResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/verifications/"+url.PathEscape(string(h)), nil, &resp, ep); err != nil {
		return Decision{}, err
	}

	switch resp.Status {
	case "pending":
		return Decision{Kind: DecisionPending}, nil
	case "code_sent":
		return Decision{Kind: DecisionNeedsCode}, nil
	case "approved":
		return Decision{Kind: DecisionApproved}, nil
	case "rejected":
		return Decision{Kind: DecisionRejected, Reason: resp.Reason}, nil
	default:
		// Ambiguous payload: retryable, never a rejection
		return Decision{}, errors.Transient(errors.Newf("unrecognized verification status %q", resp.Status))
	}
}

// Confirm relays the out-of-band code. Callers must not retry a failed
// confirm: the code is one-time and replaying it is unsafe.
func (c *Client) Confirm(ctx context.Context, h Handle, code string, ep *proxy.Endpoint) (Outcome, error) {
	req := confirmRequest{Code: code}

	var resp confirmResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/verifications/"+url.PathEscape(string(h))+"/confirm", &req, &resp, ep); err != nil {
		return Outcome{}, err
	}
	return Outcome{Approved: resp.Approved, Reason: resp.Reason}, nil
}

// doJSON executes one provider call and classifies every failure path:
// transport errors, 5xx, and undecodable payloads are Transient; 4xx is
// a Permanent semantic rejection; a cancelled context surfaces as
// Cancelled. No raw transport error leaves this method unclassified.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}, ep *proxy.Endpoint) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Permanent(errors.Wrap(err, "failed to marshal request"))
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return errors.Permanent(errors.Wrap(err, "failed to create request"))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.transportFor(ep).Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return errors.WithKind(errors.Wrap(err, "request cancelled"), errors.KindCancelled)
		}
		// Includes per-call timeouts; the phase deadline is enforced by
		// the caller, not here
		return errors.Transient(errors.Mark(errors.Wrap(err, "request failed"), ErrTransport))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return errors.Transient(errors.Wrap(err, "failed to read response"))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if err := json.Unmarshal(data, out); err != nil {
			return errors.Transient(errors.Wrapf(err, "malformed provider response (status %d)", resp.StatusCode))
		}
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return errors.Permanent(errors.Newf("provider rejected request: %s", rejectionText(resp.StatusCode, data)))
	default:
		return errors.Transient(errors.Newf("provider returned status %d", resp.StatusCode))
	}
}

func rejectionText(status int, data []byte) string {
	var er errorResponse
	if err := json.Unmarshal(data, &er); err == nil {
		if t := er.text(); t != "" {
			return fmt.Sprintf("%s (status %d)", t, status)
		}
	}
	return fmt.Sprintf("status %d", status)
}

func proxyLabel(ep *proxy.Endpoint) string {
	if ep == nil {
		return "direct"
	}
	return ep.String()
}
