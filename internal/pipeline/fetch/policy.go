package fetch

import (
	"context"
	"fmt"
	"log"
	"time"

	"leadharvest_backend/pkg/config"
)

// Policy decides which backend serves each attempt and how failures are
// handled:
//
//   - Blocked: no same-backend retry, fail over to the next backend at once.
//     A backend that got challenged once will keep getting challenged.
//   - Timeout / EmptyResult: retry the same backend after a short delay,
//     a bounded number of times.
//   - Network: retry the same backend, it is usually the proxy hop.
//
// Every attempt draws a fresh fingerprint and proxy session from the
// rotation. The total attempt count across all backends is capped.
type Policy struct {
	backends []Backend
	rotation *Rotation
	cfg      config.ScraperConfig
	sleep    func(time.Duration) // stubbed in tests
}

func NewPolicy(backends []Backend, rotation *Rotation, cfg config.ScraperConfig) *Policy {
	return &Policy{backends: backends, rotation: rotation, cfg: cfg, sleep: time.Sleep}
}

// BuildBackends constructs the configured backend chain by name.
func BuildBackends(cfg *config.Config) ([]Backend, error) {
	var backends []Backend
	for _, name := range cfg.Scraper.Backends {
		switch name {
		case "stealth":
			backends = append(backends, NewStealthBrowser())
		case "headless":
			backends = append(backends, NewHeadlessBrowser())
		case "renderapi":
			api, err := NewRenderAPI(cfg.RenderAPI)
			if err != nil {
				return nil, err
			}
			backends = append(backends, api)
		default:
			return nil, fmt.Errorf("unknown fetch backend %q", name)
		}
	}
	if len(backends) == 0 {
		return nil, fmt.Errorf("no fetch backends configured")
	}
	return backends, nil
}

// Fetch runs the attempt loop for one query key and returns the first
// successful page or the last failure.
func (p *Policy) Fetch(ctx context.Context, queryKey, pageURL string, kind PageKind) (*RawPage, error) {
	var lastErr error
	attempts := 0

	for bi := 0; bi < len(p.backends); bi++ {
		backend := p.backends[bi]
		sameBackendTries := 0

		for {
			if attempts >= p.cfg.MaxAttempts {
				return nil, lastErr
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			attempts++

			req := Request{
				QueryKey: queryKey,
				URL:      pageURL,
				Kind:     kind,
				Identity: p.rotation.NextIdentity(),
				ProxyURL: p.rotation.NextProxyURL(),
				Timeout:  p.cfg.RequestTimeout,
			}

			page, err := backend.Fetch(ctx, req)
			if err == nil {
				return page, nil
			}
			lastErr = err

			failKind := KindOf(err)
			log.Printf("Fetch attempt %d for %s via %s failed: %s", attempts, queryKey, backend.Name(), failKind)

			if failKind == KindBlocked {
				break // next backend, never retry a blocked one
			}
			if sameBackendTries >= p.cfg.RetrySameBackend {
				break
			}
			sameBackendTries++
			p.sleep(p.cfg.RetryDelay)
		}
	}

	return nil, lastErr
}
