// Package gateway opens the orchestrator's chat stream.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"commerce-portal-backend/internal/types"
)

const (
	streamPath   = "/chat/stream"
	maxErrorBody = 64 << 10

	NotAvailableText = "Chat is not available right now."
	unreachableText  = "Could not reach the chat gateway."
	unreachableHint  = "Check that GATEWAY_URL points at a running gateway."
	emptyBodyText    = "The chat gateway returned an empty response."
	internalText     = "Something went wrong starting the chat."
)

// ErrNotConfigured is returned when the gateway URL is unusable in the
// current environment.
var ErrNotConfigured = errors.New("gateway not configured")

// Error is a failure to open the stream, already mapped to the status and
// message the client should see.
type Error struct {
	Status  int
	Message string
	Hint    string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway: %s (%d): %v", e.Message, e.Status, e.Err)
	}
	return fmt.Sprintf("gateway: %s (%d)", e.Message, e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

type Config struct {
	URL          string
	APIKey       string
	ClientID     string
	ClientSecret string
	TokenURL     string
	// Timeout bounds the wait for response headers.
	Timeout    time.Duration
	Production bool
}

// Request is the upstream request body.
type Request struct {
	Message          string               `json:"message"`
	History          []types.HistoryEntry `json:"history"`
	ThreadID         string               `json:"thread_id,omitempty"`
	OwnerID          string               `json:"owner_id,omitempty"`
	BundleID         string               `json:"bundle_id,omitempty"`
	OrderID          string               `json:"order_id,omitempty"`
	ExploreProductID string               `json:"explore_product_id,omitempty"`
}

type Client struct {
	cfg    Config
	base   string
	http   *http.Client
	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Timeout > 0 {
		transport.ResponseHeaderTimeout = cfg.Timeout
	}

	var rt http.RoundTripper = transport
	if cfg.ClientID != "" && cfg.ClientSecret != "" && cfg.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		})
		rt = &oauth2.Transport{Source: cc.TokenSource(tokenCtx), Base: transport}
		logger.Info("[gateway] using client credentials", zap.String("token_url", cfg.TokenURL))
	}

	return &Client{
		cfg:    cfg,
		base:   strings.TrimRight(strings.TrimSpace(cfg.URL), "/"),
		http:   &http.Client{Transport: rt},
		logger: logger,
	}
}

// Configured reports whether the gateway may be called. In production a
// missing or loopback URL means the deployment forgot to set it.
func (c *Client) Configured() bool {
	if c.base == "" {
		return false
	}
	if !c.cfg.Production {
		return true
	}
	u, err := url.Parse(c.base)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "", "localhost", "127.0.0.1", "::1", "0.0.0.0":
		return false
	}
	return true
}

// Open posts the turn and returns the event stream body. The caller must
// close it. Failures are returned as *Error.
func (c *Client) Open(ctx context.Context, req Request) (io.ReadCloser, error) {
	if !c.Configured() {
		return nil, &Error{Status: http.StatusServiceUnavailable, Message: NotAvailableText, Err: ErrNotConfigured}
	}
	if req.History == nil {
		req.History = []types.HistoryEntry{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Status: http.StatusInternalServerError, Message: internalText, Err: err}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+streamPath, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Status: http.StatusInternalServerError, Message: internalText, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, classify(err)
	}
	c.logger.Debug("[gateway] stream opened",
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &Error{Status: resp.StatusCode, Message: upstreamMessage(resp.StatusCode, raw)}
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		if resp.Body != nil {
			resp.Body.Close()
		}
		return nil, &Error{Status: http.StatusBadGateway, Message: emptyBodyText}
	}
	return resp.Body, nil
}

// upstreamMessage extracts error or detail from a JSON error body.
func upstreamMessage(status int, raw []byte) string {
	var body struct {
		Error  json.RawMessage `json:"error"`
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(raw, &body) == nil {
		for _, field := range []json.RawMessage{body.Error, body.Detail} {
			if msg := messageOf(field); msg != "" {
				return msg
			}
		}
	}
	return fmt.Sprintf("Chat gateway error (%d).", status)
}

// messageOf accepts a string or an object with a message field.
func messageOf(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return strings.TrimSpace(obj.Message)
	}
	return ""
}

// classify maps a transport error to the client-facing failure.
func classify(err error) *Error {
	if isConnectionError(err) {
		return &Error{Status: http.StatusBadGateway, Message: unreachableText, Hint: unreachableHint, Err: err}
	}
	return &Error{Status: http.StatusInternalServerError, Message: internalText, Err: err}
}

func isConnectionError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
