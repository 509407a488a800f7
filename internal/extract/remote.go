package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"insightgraph/internal/model"
)

// Remote calls an external inference endpoint that performs the actual
// model-based extraction. The endpoint is quota constrained; its failures
// are mapped onto the Kind taxonomy so the worker can decide what to retry.
type Remote struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewRemote builds a remote extractor. timeout bounds each call; a call that
// outlives it surfaces as a retryable timeout.
func NewRemote(endpoint, apiKey string, timeout time.Duration) *Remote {
	return &Remote{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

func (r *Remote) Name() string { return "remote" }

type remoteRequest struct {
	Text string `json:"text"`
}

func (r *Remote) Extract(ctx context.Context, text string) (*model.Graph, error) {
	body, err := json.Marshal(remoteRequest{Text: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &Error{Kind: KindTransient, Message: "inference request failed", Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &Error{Kind: KindTransient, Message: "reading inference response", Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var g model.Graph
		if err := json.Unmarshal(payload, &g); err != nil {
			// A malformed body from a 200 is on the provider; worth a retry.
			return nil, &Error{Kind: KindTransient, Message: "malformed inference response", Err: err}
		}
		return &g, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{
			Kind:       KindRateLimited,
			Message:    "inference quota exhausted",
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, &Error{Kind: KindInvalid, Message: trimBody(payload)}
	case resp.StatusCode >= 500:
		return nil, &Error{Kind: KindTransient, Message: fmt.Sprintf("inference returned %d", resp.StatusCode)}
	default:
		return nil, &Error{Kind: KindFatal, Message: fmt.Sprintf("inference returned %d: %s", resp.StatusCode, trimBody(payload))}
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func trimBody(b []byte) string {
	const max = 200
	s := string(b)
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}
