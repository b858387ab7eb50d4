package governor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrSessionNotFound marks a termination target that no longer exists. The
// kill protocol treats it as success.
var ErrSessionNotFound = errors.New("session not found")

// Terminator is the external session-control endpoint.
type Terminator interface {
	Terminate(ctx context.Context, sessionID string) error
}

// HTTPTerminator calls the control plane over HTTP.
type HTTPTerminator struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTerminator builds a terminator against the control-plane base URL.
func NewHTTPTerminator(baseURL string, timeout time.Duration) *HTTPTerminator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPTerminator{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Terminate requests termination of one session. A 404 maps to
// ErrSessionNotFound; any other non-2xx status is an opaque failure.
func (t *HTTPTerminator) Terminate(ctx context.Context, sessionID string) error {
	url := fmt.Sprintf("%s/sessions/%s/terminate", t.baseURL, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("terminate %s: %w", sessionID, err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("terminate %s: %w", sessionID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("terminate %s: %w", sessionID, ErrSessionNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("terminate %s: status %d: %s", sessionID, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// alreadyGone reports whether a termination error means the target no longer
// exists: the explicit sentinel, or error text indicating a 404/missing
// session from an endpoint that does not surface structured statuses.
func alreadyGone(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSessionNotFound) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "404") || strings.Contains(msg, "not found")
}
