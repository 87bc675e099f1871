package fetch

import (
	"context"
	"testing"
	"time"

	"leadharvest_backend/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedBackend replays a fixed sequence of results and records which
// identities and proxies it was handed.
type scriptedBackend struct {
	name    string
	script  []error // nil means success
	calls   int
	reqs    []Request
	success *RawPage
}

func (s *scriptedBackend) Name() string { return s.name }

func (s *scriptedBackend) Fetch(ctx context.Context, req Request) (*RawPage, error) {
	s.reqs = append(s.reqs, req)
	i := s.calls
	s.calls++
	if i >= len(s.script) || s.script[i] == nil {
		if s.success != nil {
			return s.success, nil
		}
		return &RawPage{Backend: s.name, MarkersPresent: true, FetchedAt: time.Now()}, nil
	}
	return nil, s.script[i]
}

func testScraperConfig() config.ScraperConfig {
	return config.ScraperConfig{
		RequestTimeout:   time.Second,
		RetrySameBackend: 2,
		RetryDelay:       time.Millisecond,
		MaxAttempts:      3,
	}
}

func newTestPolicy(cfg config.ScraperConfig, backends ...Backend) *Policy {
	p := NewPolicy(backends, NewRotation(config.ProxyConfig{}), cfg)
	p.sleep = func(time.Duration) {}
	return p
}

func TestPolicyBlockedFailsOverImmediately(t *testing.T) {
	primary := &scriptedBackend{name: "primary", script: []error{
		newError(KindBlocked, "primary", "challenge", nil),
	}}
	fallback := &scriptedBackend{name: "fallback"}

	p := newTestPolicy(testScraperConfig(), primary, fallback)

	page, err := p.Fetch(context.Background(), "90210", "http://x/90210", PageSearch)
	require.NoError(t, err)

	assert.Equal(t, 1, primary.calls, "a blocked backend must not be retried")
	assert.Equal(t, 1, fallback.calls)
	assert.Equal(t, "fallback", page.Backend)
}

func TestPolicyTimeoutRetriesSameBackend(t *testing.T) {
	primary := &scriptedBackend{name: "primary", script: []error{
		newError(KindTimeout, "primary", "nav", nil),
		newError(KindTimeout, "primary", "nav", nil),
		nil,
	}}

	p := newTestPolicy(testScraperConfig(), primary)

	page, err := p.Fetch(context.Background(), "90210", "http://x/90210", PageSearch)
	require.NoError(t, err)
	assert.Equal(t, 3, primary.calls)
	assert.Equal(t, "primary", page.Backend)
}

func TestPolicyEmptyResultRetriesSameBackend(t *testing.T) {
	primary := &scriptedBackend{name: "primary", script: []error{
		newError(KindEmptyResult, "primary", "no structure", nil),
		nil,
	}}

	p := newTestPolicy(testScraperConfig(), primary)

	_, err := p.Fetch(context.Background(), "90210", "http://x/90210", PageSearch)
	require.NoError(t, err)
	assert.Equal(t, 2, primary.calls)
}

func TestPolicyTotalAttemptCap(t *testing.T) {
	fail := newError(KindTimeout, "primary", "nav", nil)
	primary := &scriptedBackend{name: "primary", script: []error{fail, fail, fail, fail}}
	fallback := &scriptedBackend{name: "fallback"}

	p := newTestPolicy(testScraperConfig(), primary, fallback)

	_, err := p.Fetch(context.Background(), "90210", "http://x/90210", PageSearch)
	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))

	assert.Equal(t, 3, primary.calls)
	assert.Equal(t, 0, fallback.calls, "cap exhausted before failover")
}

func TestPolicyReturnsLastFailure(t *testing.T) {
	primary := &scriptedBackend{name: "primary", script: []error{
		newError(KindBlocked, "primary", "challenge", nil),
	}}
	fallback := &scriptedBackend{name: "fallback", script: []error{
		newError(KindBlocked, "fallback", "403 from render service", nil),
	}}

	p := newTestPolicy(testScraperConfig(), primary, fallback)

	_, err := p.Fetch(context.Background(), "90210", "http://x/90210", PageSearch)
	require.Error(t, err)
	assert.Equal(t, KindBlocked, KindOf(err))

	var fe *Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "fallback", fe.Backend)
}

func TestPolicyRotatesIdentityPerAttempt(t *testing.T) {
	fail := newError(KindTimeout, "primary", "nav", nil)
	primary := &scriptedBackend{name: "primary", script: []error{fail, fail, fail}}

	p := newTestPolicy(testScraperConfig(), primary)
	_, _ = p.Fetch(context.Background(), "90210", "http://x/90210", PageSearch)

	require.Len(t, primary.reqs, 3)
	for i := 1; i < len(primary.reqs); i++ {
		assert.NotEqual(t, primary.reqs[i-1].Identity.UserAgent, primary.reqs[i].Identity.UserAgent,
			"consecutive attempts must not share a fingerprint")
	}
}

func TestRotationNeverRepeatsConsecutively(t *testing.T) {
	r := NewRotation(config.ProxyConfig{})
	prev := r.NextIdentity()
	for i := 0; i < 100; i++ {
		next := r.NextIdentity()
		assert.NotEqual(t, prev, next)
		prev = next
	}
}

func TestRotationProxyURL(t *testing.T) {
	r := NewRotation(config.ProxyConfig{
		Host:     "gate.example.net",
		Port:     "7000",
		User:     "user1",
		Password: "pw",
		Sessions: []string{"alpha"},
	})

	assert.Equal(t, "http://user1-session-alpha:pw@gate.example.net:7000", r.NextProxyURL())

	direct := NewRotation(config.ProxyConfig{})
	assert.Empty(t, direct.NextProxyURL())
}

func TestSearchURL(t *testing.T) {
	assert.Equal(t,
		"https://www.zillow.com/homes/for_sale/90210_rb/",
		SearchURL("https://www.zillow.com/homes/for_sale/", "90210"))
}

func TestDetectBlockMarkers(t *testing.T) {
	kind, blocked := detectBlockMarkers("Access Denied - Press & Hold to confirm")
	assert.True(t, blocked)
	assert.NotEmpty(t, kind)

	_, blocked = detectBlockMarkers("<html>3 homes for sale</html>")
	assert.False(t, blocked)
}
