package fetch

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
)

// HeadlessBrowser is a plain chromedp-driven Chromium without the stealth
// script. Kept as a selectable backend for pages that break under the
// stealth patches.
type HeadlessBrowser struct{}

func NewHeadlessBrowser() *HeadlessBrowser { return &HeadlessBrowser{} }

func (b *HeadlessBrowser) Name() string { return "headless" }

func (b *HeadlessBrowser) Fetch(ctx context.Context, req Request) (*RawPage, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(req.Identity.UserAgent),
	)
	if req.ProxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(req.ProxyURL))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()

	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, req.Timeout)
	defer cancelTimeout()

	var html string
	err := chromedp.Run(tabCtx,
		emulation.SetDeviceMetricsOverride(int64(req.Identity.ViewportW), int64(req.Identity.ViewportH), 1, false),
		chromedp.Navigate(req.URL),
		chromedp.Sleep(3*time.Second), // let client-side rendering settle
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, newError(KindTimeout, b.Name(), "navigation", err)
		}
		return nil, newError(KindNetwork, b.Name(), "navigation", err)
	}

	if kind, blocked := detectBlockMarkers(html); blocked {
		return nil, newError(KindBlocked, b.Name(), kind, nil)
	}
	if !hasResultMarkers(html, req.Kind) {
		// Page rendered but none of the expected anchors are there. Treat as
		// suspicious rather than a legitimate zero-results page.
		return nil, newError(KindEmptyResult, b.Name(), "no recognizable page structure", nil)
	}

	return &RawPage{
		Backend:        b.Name(),
		Content:        []byte(html),
		MarkersPresent: true,
		FetchedAt:      time.Now(),
	}, nil
}

// hasResultMarkers checks the raw HTML for the structural anchors the
// extractor needs, so an unrecognized page is reported as empty rather than
// silently producing zero listings.
func hasResultMarkers(html string, kind PageKind) bool {
	if kind == PageDetail {
		return strings.Contains(html, "homedetails") || strings.Contains(html, "listedBy") ||
			strings.Contains(html, "seller-attribution")
	}
	for _, marker := range []string{"property-card", "list-card", "photo-cards", "no-results", "zero-results"} {
		if strings.Contains(html, marker) {
			return true
		}
	}
	return false
}
