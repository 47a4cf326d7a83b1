package transfer

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

const defaultTimeout = 10 * time.Second

// HTTPClient submits transfers to the custody service over JSON.
type HTTPClient struct {
	baseURL   string
	authToken string
	http      *http.Client
}

// NewHTTPClient builds a client against the custody service. timeout bounds
// each submission; zero selects the default.
func NewHTTPClient(baseURL, authToken string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPClient{
		baseURL:   baseURL,
		authToken: authToken,
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

type transferResponse struct {
	Ref         string    `json:"ref"`
	Outcome     Outcome   `json:"outcome"`
	SubmittedAt time.Time `json:"submitted_at"`
	Error       string    `json:"error,omitempty"`
}

// Transfer submits one movement. A timeout or canceled context surfaces as
// ErrTimeout since the custody service may still execute the request; all
// other transport errors are returned as-is.
func (c *HTTPClient) Transfer(ctx context.Context, req Request) (*Receipt, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode transfer request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transfers", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	if c.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, ErrTimeout
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("submit transfer: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read transfer response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("custody service returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var decoded transferResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode transfer response: %w", err)
	}
	switch decoded.Outcome {
	case OutcomeSucceeded, OutcomePending:
		return &Receipt{Ref: decoded.Ref, Outcome: decoded.Outcome, SubmittedAt: decoded.SubmittedAt}, nil
	case OutcomeFailed:
		reason := decoded.Error
		if reason == "" {
			reason = "rejected by custody service"
		}
		return nil, &FailedError{Reason: reason}
	default:
		return nil, fmt.Errorf("custody service returned unknown outcome %q", decoded.Outcome)
	}
}
