package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"leadharvest_backend/pkg/config"
)

// RenderAPI proxies the fetch through a commercial rendering service. It is
// the failover backend for keys the stealth browser gets blocked on: the
// service runs its own browser fleet and residential egress, so a block
// there means the key is effectively unreachable.
type RenderAPI struct {
	cfg    config.RenderAPIConfig
	client *http.Client
}

func NewRenderAPI(cfg config.RenderAPIConfig) (*RenderAPI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("render api key is not configured")
	}
	return &RenderAPI{
		cfg:    cfg,
		client: &http.Client{}, // timeout comes from the request context
	}, nil
}

func (b *RenderAPI) Name() string { return "renderapi" }

func (b *RenderAPI) Fetch(ctx context.Context, req Request) (*RawPage, error) {
	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, b.requestURL(req.URL), nil)
	if err != nil {
		return nil, newError(KindNetwork, b.Name(), "build request", err)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, newError(KindTimeout, b.Name(), "request", err)
		}
		return nil, newError(KindNetwork, b.Name(), "request", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return nil, newError(KindBlocked, b.Name(), "403 from render service", nil)
	case resp.StatusCode >= 500:
		return nil, newError(KindNetwork, b.Name(), fmt.Sprintf("status %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, newError(KindNetwork, b.Name(), fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(KindNetwork, b.Name(), "read body", err)
	}

	html := string(body)
	if kind, blocked := detectBlockMarkers(html); blocked {
		return nil, newError(KindBlocked, b.Name(), kind, nil)
	}
	if !hasResultMarkers(html, req.Kind) {
		return nil, newError(KindEmptyResult, b.Name(), "no recognizable page structure", nil)
	}

	return &RawPage{
		Backend:        b.Name(),
		Content:        body,
		MarkersPresent: true,
		FetchedAt:      time.Now(),
	}, nil
}

// requestURL builds the render service call. session_number pins a sticky
// session per call so retries come from a different egress IP.
func (b *RenderAPI) requestURL(target string) string {
	q := url.Values{}
	q.Set("api_key", b.cfg.APIKey)
	q.Set("url", target)
	q.Set("render", "true")
	q.Set("country_code", "us")
	if b.cfg.Premium {
		q.Set("premium", "true")
	}
	q.Set("session_number", fmt.Sprintf("%d", rand.Intn(100000)))
	return b.cfg.Endpoint + "?" + q.Encode()
}
