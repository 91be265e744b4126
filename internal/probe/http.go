package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	DefaultURL     = "http://clients3.google.com/generate_204"
	DefaultTimeout = 10 * time.Second
)

// HTTPProber issues a GET. Any HTTP response counts as success: the point
// is traffic on the link, not the server's answer.
type HTTPProber struct {
	url    string
	client *http.Client
}

func NewHTTPProber(url string, timeout time.Duration) *HTTPProber {
	if url == "" {
		url = DefaultURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPProber{url: url, client: &http.Client{Timeout: timeout}}
}

func (h *HTTPProber) Probe(ctx context.Context) Result {
	res := Result{At: time.Now(), Target: h.url}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		res.Err = fmt.Errorf("build request: %w", err)
		return res
	}
	req.Header.Set("User-Agent", "keepalive")

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		res.Err = err
		return res
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()

	res.Latency = time.Since(start)
	res.Status = resp.StatusCode
	res.OK = resp.StatusCode > 0
	return res
}
