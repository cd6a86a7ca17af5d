package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/j-veylop/limitwatch/internal/logger"
)

// maxBodySize caps how much of a response body is read.
const maxBodySize = 4 << 20

// errNoTime is returned instead of issuing a call once the deadline has passed.
var errNoTime = errors.New("no time left before account deadline")

// response is a fully read HTTP response.
type response struct {
	Body   []byte
	Status int
}

// OK reports a 2xx status.
func (r *response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Decode unmarshals the body into v.
func (r *response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// requester issues deadline-bounded requests on behalf of one provider.
type requester struct {
	client   *http.Client
	provider string
}

// do sends one request with timeout min(perCall, deadline-now). It returns
// errNoTime without touching the network when that timeout is not positive.
func (r requester) do(ctx context.Context, perCall time.Duration, method, url string, body io.Reader, headers map[string]string) (*response, error) {
	timeout := Remaining(ctx, perCall)
	if timeout <= 0 {
		logger.Debug("skipping request after deadline", "provider", r.provider, "url", url)
		return nil, errNoTime
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		logger.Debug("request failed", "provider", r.provider, "url", url, "error", err, "elapsed", time.Since(start))
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Error("failed to close response body", "error", err)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	logger.Debug("request done", "provider", r.provider, "method", method, "url", url,
		"status", resp.StatusCode, "elapsed", time.Since(start))

	return &response{Status: resp.StatusCode, Body: data}, nil
}

func (r requester) get(ctx context.Context, perCall time.Duration, url string, headers map[string]string) (*response, error) {
	return r.do(ctx, perCall, http.MethodGet, url, nil, headers)
}
