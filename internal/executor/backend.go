package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/leottami/mindull-sub001/internal/domain"
)

// mutationRequest is the JSON body posted to the sync backend.
type mutationRequest struct {
	Op       string          `json:"op"`
	EntityID *string         `json:"entityId,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Backend submits mutations for one domain to the remote sync API by
// POSTing to {baseURL}/sync/{domain}. The base URL is injected from config
// so tests can point to a local httptest server.
type Backend struct {
	baseURL    string
	domainTag  string
	httpClient *http.Client
}

func NewBackend(baseURL, domainTag string, timeout time.Duration) *Backend {
	return &Backend{
		baseURL:   baseURL,
		domainTag: domainTag,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Execute posts the mutation and classifies the response:
//
//	2xx                      → accepted
//	409, 412                 → conflict (remote entity changed; remote wins)
//	400, 422                 → permanent (validation rejection, never retried)
//	408, 429, 5xx, transport → transient (retried with backoff)
func (b *Backend) Execute(ctx context.Context, op domain.Op, entityID *string, payload json.RawMessage) error {
	body, err := json.Marshal(mutationRequest{
		Op:       string(op),
		EntityID: entityID,
		Payload:  payload,
	})
	if err != nil {
		return domain.NewPermanentError(0, fmt.Sprintf("marshal mutation: %v", err))
	}

	url := fmt.Sprintf("%s/sync/%s", b.baseURL, b.domainTag)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domain.NewPermanentError(0, fmt.Sprintf("create request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		// Timeouts, refused connections, DNS failures: the backend may be
		// fine next time connectivity returns.
		return domain.NewTransientError(0, "backend unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	msg := readErrorBody(resp.Body)
	switch {
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusPreconditionFailed:
		return domain.NewConflictError(resp.StatusCode, msg)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return domain.NewPermanentError(resp.StatusCode, msg)
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return domain.NewTransientError(resp.StatusCode, msg, nil)
	default:
		// Unmapped 4xx: retrying cannot change the outcome.
		return domain.NewPermanentError(resp.StatusCode, msg)
	}
}

// readErrorBody extracts the backend's error message, tolerating both a
// JSON {"error": "..."} body and plain text. Capped at 1 KB.
func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 1024))
	if err != nil || len(data) == 0 {
		return "backend rejected mutation"
	}
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return body.Error
	}
	return string(data)
}

// compile-time check that Backend implements Executor
var _ Executor = (*Backend)(nil)
