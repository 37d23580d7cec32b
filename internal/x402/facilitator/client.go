// Package facilitator is the HTTP client for the external payment
// facilitation service that verifies transfer authorizations and settles the
// underlying stablecoin transfer.
//
// The facilitator API has shipped several response shapes over time
// (paymentId at the top level, under data, or only a txHash). Every variant
// is normalized here, at the client boundary, into one Result so the
// orchestrator never branches on response shape.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds every facilitator call. A settle that exceeds it is
// treated as failed and left for the pending-mint recovery path; it is never
// silently retried.
const DefaultTimeout = 30 * time.Second

// maxResponseBytes caps how much of a facilitator response body is read.
const maxResponseBytes = 1 << 20

// Config configures a Client.
type Config struct {
	// URL is the base URL of the facilitator API, e.g. "https://api.onchain.fi/v1".
	URL string
	// APIKey is sent as X-API-Key on every request.
	APIKey string
	// SourceNetwork / DestinationNetwork name the chains funds move across.
	// Both default to "base".
	SourceNetwork      string
	DestinationNetwork string
	// Timeout bounds each request; zero means DefaultTimeout.
	Timeout time.Duration
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// Client calls the facilitator's verify and settle endpoints. The two-call
// mode is the only one this service uses: Verify never moves funds, Settle
// does, and a Settle reported successful is irreversible from our side.
type Client struct {
	url        string
	apiKey     string
	srcNet     string
	dstNet     string
	httpClient *http.Client
}

// New constructs a Client from cfg.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	srcNet := cfg.SourceNetwork
	if srcNet == "" {
		srcNet = "base"
	}
	dstNet := cfg.DestinationNetwork
	if dstNet == "" {
		dstNet = "base"
	}
	return &Client{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		srcNet:     srcNet,
		dstNet:     dstNet,
		httpClient: httpClient,
	}
}

// Result is the normalized outcome of a successful facilitator call.
type Result struct {
	// PaymentID is the facilitator-assigned payment identifier.
	PaymentID string
	// TxHash is the settlement transaction hash, when the facilitator
	// reports one (settle responses; empty for verify).
	TxHash string
}

// Error is a rejection returned by the facilitator (non-2xx response).
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("facilitator rejected request (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("facilitator rejected request (%d): %s", e.StatusCode, e.Message)
}

// ErrMissingPaymentID is returned when a 2xx verify response carries no
// payment identifier in any known shape. It is fatal for the attempt, never
// silently defaulted.
var ErrMissingPaymentID = errors.New("facilitator: response missing payment id")

// VerifyParams are the expectations the facilitator checks the authorization
// against. The amount always comes from the server-side price table.
type VerifyParams struct {
	ExpectedAmount string
	ExpectedToken  string
	Recipient      string
}

// Verify submits the payment header for verification and returns the
// facilitator-assigned payment id. No funds move.
func (c *Client) Verify(ctx context.Context, paymentHeader string, p VerifyParams) (*Result, error) {
	body := map[string]any{
		"paymentHeader":      paymentHeader,
		"sourceNetwork":      c.srcNet,
		"destinationNetwork": c.dstNet,
		"expectedAmount":     p.ExpectedAmount,
		"expectedToken":      p.ExpectedToken,
		"recipientAddress":   p.Recipient,
	}

	raw, err := c.post(ctx, "/verify", body)
	if err != nil {
		return nil, err
	}

	res := raw.normalize()
	if res.PaymentID == "" {
		return nil, ErrMissingPaymentID
	}
	return res, nil
}

// Settle executes the previously verified payment. On success the stablecoin
// transfer has happened; callers must persist that fact immediately.
func (c *Client) Settle(ctx context.Context, paymentID, paymentHeader string) (*Result, error) {
	body := map[string]any{
		"paymentId":          paymentID,
		"paymentHeader":      paymentHeader,
		"sourceNetwork":      c.srcNet,
		"destinationNetwork": c.dstNet,
	}

	raw, err := c.post(ctx, "/settle", body)
	if err != nil {
		return nil, err
	}

	res := raw.normalize()
	if res.PaymentID == "" {
		// Settle responses may omit the id; the caller already holds it.
		res.PaymentID = paymentID
	}
	return res, nil
}

// rawResponse is the union of every facilitator response shape seen in the
// wild. normalize() is the only reader.
type rawResponse struct {
	Success   *bool  `json:"success,omitempty"`
	PaymentID string `json:"paymentId,omitempty"`
	TxHash    string `json:"txHash,omitempty"`
	Data      *struct {
		PaymentID string `json:"paymentId,omitempty"`
		TxHash    string `json:"txHash,omitempty"`
	} `json:"data,omitempty"`
	ErrorMsg string `json:"error,omitempty"`
	Message  string `json:"message,omitempty"`
	Code     string `json:"code,omitempty"`
}

// normalize maps any response variant into a Result. Preference order for
// the payment id: data.paymentId, then paymentId, then txHash as a synthetic
// identifier.
func (r *rawResponse) normalize() *Result {
	res := &Result{PaymentID: r.PaymentID, TxHash: r.TxHash}
	if r.Data != nil {
		if r.Data.PaymentID != "" {
			res.PaymentID = r.Data.PaymentID
		}
		if r.Data.TxHash != "" {
			res.TxHash = r.Data.TxHash
		}
	}
	if res.PaymentID == "" && res.TxHash != "" {
		res.PaymentID = res.TxHash
	}
	return res
}

// errorMessage picks the most specific human-readable message from a
// facilitator error body.
func (r *rawResponse) errorMessage() string {
	if r.ErrorMsg != "" {
		return r.ErrorMsg
	}
	if r.Message != "" {
		return r.Message
	}
	return "payment rejected"
}

// post sends a JSON request and decodes the response. Non-2xx responses
// become *Error; transport failures (including the bounded timeout) come
// back as plain errors.
func (c *Client) post(ctx context.Context, path string, body any) (*rawResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("facilitator: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("facilitator: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("facilitator: %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("facilitator: read response: %w", err)
	}

	var decoded rawResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil && resp.StatusCode < 300 {
			return nil, fmt.Errorf("facilitator: malformed response: %w", err)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{
			StatusCode: resp.StatusCode,
			Code:       decoded.Code,
			Message:    decoded.errorMessage(),
		}
	}
	return &decoded, nil
}
