package fetch

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// CheckProxy verifies one proxy session actually routes traffic by asking an
// IP echo service through it. Run at startup so a dead proxy pool fails the
// process instead of burning a whole run on network errors.
func CheckProxy(proxyURL string) (string, error) {
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return "", fmt.Errorf("invalid proxy url: %w", err)
	}

	client := &http.Client{
		Timeout:   15 * time.Second,
		Transport: &http.Transport{Proxy: http.ProxyURL(parsed)},
	}

	resp, err := client.Get("https://api.ipify.org")
	if err != nil {
		return "", fmt.Errorf("proxy check request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("proxy check status %d", resp.StatusCode)
	}

	ip, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return "", fmt.Errorf("proxy check read: %w", err)
	}
	return string(ip), nil
}
