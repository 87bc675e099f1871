package fetch

import (
	"fmt"
	"math/rand"
	"sync"

	"leadharvest_backend/pkg/config"
)

// Identity is one browser fingerprint: user agent plus matching viewport.
type Identity struct {
	UserAgent string
	ViewportW int
	ViewportH int
}

// Curated pairs. Viewports match what the UA's platform would plausibly run.
var identityPool = []Identity{
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36", 1920, 1080},
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36", 1536, 864},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36", 1440, 900},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15", 1680, 1050},
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0", 1366, 768},
	{"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36", 1920, 1200},
}

// Rotation hands out a fresh fingerprint and proxy session for every attempt.
// It never returns the same identity twice in a row.
type Rotation struct {
	mu       sync.Mutex
	last     int
	sessions []string
	proxy    config.ProxyConfig
}

func NewRotation(proxy config.ProxyConfig) *Rotation {
	return &Rotation{last: -1, sessions: proxy.Sessions, proxy: proxy}
}

func (r *Rotation) NextIdentity() Identity {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := rand.Intn(len(identityPool))
	for i == r.last {
		i = rand.Intn(len(identityPool))
	}
	r.last = i
	return identityPool[i]
}

// NextProxyURL picks a random sticky session from the pool. Returns "" when
// no proxy is configured, which backends treat as direct egress.
func (r *Rotation) NextProxyURL() string {
	if r.proxy.Host == "" {
		return ""
	}
	user := r.proxy.User
	if len(r.sessions) > 0 {
		session := r.sessions[rand.Intn(len(r.sessions))]
		user = fmt.Sprintf("%s-session-%s", r.proxy.User, session)
	}
	return fmt.Sprintf("http://%s:%s@%s:%s", user, r.proxy.Password, r.proxy.Host, r.proxy.Port)
}
