package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// StealthBrowser drives a headless Chromium hardened with the stealth script.
// It is the primary backend: cheapest per page and hardest to fingerprint.
// A fresh browser is launched per attempt so the proxy and fingerprint
// rotation actually take effect.
type StealthBrowser struct{}

func NewStealthBrowser() *StealthBrowser { return &StealthBrowser{} }

func (b *StealthBrowser) Name() string { return "stealth" }

// Selector families for search result cards, tried together in a race. The
// primary data-testid markup is what the site currently serves; the other two
// cover the legacy layouts it still falls back to.
const (
	cardSelectorA = `article[data-test="property-card"], [data-testid="property-card"]`
	cardSelectorB = `.list-card`
	cardSelectorC = `ul.photo-cards > li article`

	challengeSelector = `[class*="challenge"], [id*="captcha"], #px-captcha`
	noResultsSelector = `[data-testid="no-results"], .zero-results-message`
)

// cardExtractJS pulls listing cards inside the page. Running the extraction
// in the browser keeps lazy-rendered attributes readable and skips a second
// HTML parse for the common path.
const cardExtractJS = `() => {
	const families = [
		'article[data-test="property-card"], [data-testid="property-card"]',
		'.list-card',
		'ul.photo-cards > li article',
	];
	let cards = [];
	for (const sel of families) {
		cards = Array.from(document.querySelectorAll(sel));
		if (cards.length > 0) break;
	}
	const text = (el, sel) => {
		const n = el.querySelector(sel);
		return n ? n.textContent.trim() : '';
	};
	return cards.map(card => {
		const a = card.querySelector('a[data-test="property-card-link"], a.list-card-link, a[href*="/homedetails/"]');
		const href = a ? a.href : '';
		const m = href.match(/\/(\d+)_zpid/);
		return {
			zid: m ? m[1] : '',
			address: text(card, '[data-test="property-card-addr"], address, .list-card-addr'),
			price: text(card, '[data-test="property-card-price"], .list-card-price'),
			beds: text(card, 'ul li, .list-card-details li'),
			link: href,
		};
	});
}`

func (b *StealthBrowser) Fetch(ctx context.Context, req Request) (*RawPage, error) {
	l := launcher.New().
		Headless(true).
		Set("disable-blink-features", "AutomationControlled").
		Set("no-sandbox")
	if req.ProxyURL != "" {
		l = l.Proxy(req.ProxyURL)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, newError(KindNetwork, b.Name(), "browser launch", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, newError(KindNetwork, b.Name(), "browser connect", err)
	}
	defer browser.Close()

	page, err := stealth.Page(browser)
	if err != nil {
		return nil, newError(KindNetwork, b.Name(), "stealth page", err)
	}
	defer page.Close()

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: req.Identity.UserAgent}); err != nil {
		return nil, newError(KindNetwork, b.Name(), "set user agent", err)
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:  req.Identity.ViewportW,
		Height: req.Identity.ViewportH,
	}); err != nil {
		return nil, newError(KindNetwork, b.Name(), "set viewport", err)
	}

	page = page.Timeout(req.Timeout)

	if err := page.Navigate(req.URL); err != nil {
		return nil, classifyNavError(b.Name(), err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, classifyNavError(b.Name(), err)
	}

	if req.Kind == PageDetail {
		return b.detailPage(page, req)
	}
	return b.searchPage(page, req)
}

func (b *StealthBrowser) searchPage(page *rod.Page, req Request) (*RawPage, error) {
	// Race the card families against the blocked / empty markers so a
	// challenge page fails fast instead of waiting out the whole timeout.
	_, err := page.Race().
		Element(cardSelectorA).Handle(func(e *rod.Element) error { return nil }).
		Element(cardSelectorB).Handle(func(e *rod.Element) error { return nil }).
		Element(cardSelectorC).Handle(func(e *rod.Element) error { return nil }).
		Element(noResultsSelector).Handle(func(e *rod.Element) error {
		return errNoResultsState
	}).
		Element(challengeSelector).Handle(func(e *rod.Element) error {
		return errChallengeState
	}).
		Do()

	if err != nil {
		switch {
		case errors.Is(err, errNoResultsState):
			return &RawPage{Backend: b.Name(), MarkersPresent: true, FetchedAt: time.Now()}, nil
		case errors.Is(err, errChallengeState):
			return nil, newError(KindBlocked, b.Name(), "challenge page", nil)
		case errors.Is(err, context.DeadlineExceeded):
			if kind, blocked := detectBlockMarkers(pageText(page)); blocked {
				return nil, newError(KindBlocked, b.Name(), kind, nil)
			}
			return nil, newError(KindTimeout, b.Name(), "waiting for cards", err)
		default:
			return nil, newError(KindNetwork, b.Name(), "waiting for cards", err)
		}
	}

	res, err := page.Eval(cardExtractJS)
	if err != nil {
		return nil, newError(KindNetwork, b.Name(), "card extraction", err)
	}
	var cards []RawCard
	if err := json.Unmarshal([]byte(res.Value.JSON("", "")), &cards); err != nil {
		return nil, newError(KindNetwork, b.Name(), "card decode", err)
	}

	html, err := page.HTML()
	if err != nil {
		return nil, newError(KindNetwork, b.Name(), "page html", err)
	}

	return &RawPage{
		Backend:        b.Name(),
		Content:        []byte(html),
		Cards:          cards,
		MarkersPresent: true,
		FetchedAt:      time.Now(),
	}, nil
}

func (b *StealthBrowser) detailPage(page *rod.Page, req Request) (*RawPage, error) {
	html, err := page.HTML()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, newError(KindTimeout, b.Name(), "detail page html", err)
		}
		return nil, newError(KindNetwork, b.Name(), "detail page html", err)
	}
	if kind, blocked := detectBlockMarkers(html); blocked {
		return nil, newError(KindBlocked, b.Name(), kind, nil)
	}
	return &RawPage{
		Backend:        b.Name(),
		Content:        []byte(html),
		MarkersPresent: true,
		FetchedAt:      time.Now(),
	}, nil
}

var (
	errNoResultsState = errors.New("no_results_state")
	errChallengeState = errors.New("challenge_state")
)

func classifyNavError(backend string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(KindTimeout, backend, "navigation", err)
	}
	return newError(KindNetwork, backend, "navigation", err)
}

func pageText(page *rod.Page) string {
	res, err := page.Eval(`() => document.title + " " + (document.body ? document.body.innerText.slice(0, 2000) : "")`)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// detectBlockMarkers looks for the phrases bot-mitigation interstitials use.
func detectBlockMarkers(text string) (string, bool) {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "press & hold"):
		return "press_hold", true
	case strings.Contains(lower, "captcha"):
		return "captcha", true
	case strings.Contains(lower, "access to this page has been denied"):
		return "denied", true
	case strings.Contains(lower, "verify you are a human"):
		return "verify_human", true
	case strings.Contains(lower, "request blocked"):
		return "blocked", true
	}
	return "", false
}

// SearchURL builds the zip-code search URL.
func SearchURL(base, zipCode string) string {
	return fmt.Sprintf("%s%s_rb/", base, zipCode)
}
