package server

import (
	"container/list"
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// CORSMiddleware lets the configured origins call the API from a browser.
// "*" admits any origin. Without origins it adds nothing.
func CORSMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	wildcard := allowed["*"]

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (wildcard || allowed[origin]) {
				h := w.Header()
				if wildcard {
					h.Set("Access-Control-Allow-Origin", "*")
				} else {
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE")
				h.Set("Access-Control-Allow-Headers", "Content-Type")
				h.Set("Access-Control-Max-Age", "86400")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// pagePolicy builds the Content-Security-Policy for the lab UI. The page
// loads app.js and style.css from /assets and talks to the session API and
// its notification socket on its own origin. Descriptions may embed images
// from the lab root. GFM table alignment is rendered as style attributes.
func pagePolicy(labsBaseURL string) string {
	images := []string{"'self'", "data:"}
	if u, err := url.Parse(labsBaseURL); err == nil && u.Scheme != "" && u.Host != "" {
		images = append(images, u.Scheme+"://"+u.Host)
	}

	directives := [][]string{
		{"default-src", "'none'"},
		{"script-src", "'self'"},
		{"style-src", "'self'", "'unsafe-inline'"},
		{"img-src", strings.Join(images, " ")},
		{"connect-src", "'self'"},
		{"base-uri", "'none'"},
		{"form-action", "'none'"},
		{"frame-ancestors", "'none'"},
	}
	parts := make([]string, len(directives))
	for i, d := range directives {
		parts[i] = strings.Join(d, " ")
	}
	return strings.Join(parts, "; ")
}

// SecurityHeadersMiddleware sets policy as the Content-Security-Policy,
// alongside the usual framing and sniffing protections.
func SecurityHeadersMiddleware(policy string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Content-Security-Policy", policy)
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			next.ServeHTTP(w, r)
		})
	}
}

const (
	limiterSweepInterval = 5 * time.Minute
	limiterIdle          = 10 * time.Minute
	evictionLogInterval  = 30 * time.Second
)

// keyedLimiter keeps one token bucket per key, for at most max keys. When
// full, the least recently used key is forgotten. Keys idle longer than
// limiterIdle are swept.
type keyedLimiter struct {
	limit  rate.Limit
	burst  int
	max    int
	logger *zap.Logger

	mu      sync.Mutex
	buckets map[string]*list.Element
	lru     *list.List // front is most recent
	evicted int
	lastLog time.Time
}

type bucket struct {
	key  string
	lim  *rate.Limiter
	seen time.Time
}

func newKeyedLimiter(name string, rps float64, burst, capacity int, logger *zap.Logger) *keyedLimiter {
	if capacity <= 0 {
		capacity = 10000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &keyedLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		max:     capacity,
		logger:  logger.With(zap.String("limiter", name)),
		buckets: make(map[string]*list.Element),
		lru:     list.New(),
	}
}

// allow takes a token from key's bucket.
func (k *keyedLimiter) allow(key string, now time.Time) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	if el, ok := k.buckets[key]; ok {
		k.lru.MoveToFront(el)
		b := el.Value.(*bucket)
		b.seen = now
		return b.lim.AllowN(now, 1)
	}

	if k.lru.Len() >= k.max {
		k.evictOldest(now)
	}
	b := &bucket{key: key, lim: rate.NewLimiter(k.limit, k.burst), seen: now}
	k.buckets[key] = k.lru.PushFront(b)
	return b.lim.AllowN(now, 1)
}

func (k *keyedLimiter) evictOldest(now time.Time) {
	oldest := k.lru.Back()
	if oldest == nil {
		return
	}
	k.lru.Remove(oldest)
	delete(k.buckets, oldest.Value.(*bucket).key)

	k.evicted++
	if now.Sub(k.lastLog) >= evictionLogInterval {
		k.logger.Info("rate limiter at capacity, evicted least recent keys",
			zap.Int("evicted", k.evicted),
			zap.Int("capacity", k.max))
		k.lastLog = now
		k.evicted = 0
	}
}

// sweep drops keys idle since before now-limiterIdle. Recency order is by
// use, so the whole list is walked.
func (k *keyedLimiter) sweep(now time.Time) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	n := 0
	for el := k.lru.Back(); el != nil; {
		prev := el.Prev()
		if b := el.Value.(*bucket); now.Sub(b.seen) > limiterIdle {
			k.lru.Remove(el)
			delete(k.buckets, b.key)
			n++
		}
		el = prev
	}
	return n
}

func (k *keyedLimiter) len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.lru.Len()
}

// run sweeps until ctx is done. The returned channel closes on exit.
func (k *keyedLimiter) run(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				if n := k.sweep(now); n > 0 {
					k.logger.Debug("swept idle rate limit keys", zap.Int("count", n))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return done
}

// middleware rejects requests whose key is out of tokens with a 429.
// Requests keyFn cannot key pass through.
func (k *keyedLimiter) middleware(keyFn func(*http.Request) string, message string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			if key != "" && !k.allow(key, time.Now()) {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitMiddleware limits API requests per client IP, tracking at most
// maxIPs clients. Idle clients are swept until ctx is done; the returned
// channel closes when the sweeper exits.
func RateLimitMiddleware(ctx context.Context, rps float64, burst int, maxIPs int, logger *zap.Logger) (func(http.Handler) http.Handler, <-chan struct{}) {
	l := newKeyedLimiter("client", rps, burst, maxIPs, logger)
	return l.middleware(clientIP, "rate limit exceeded"), l.run(ctx, limiterSweepInterval)
}

// sessionKey keys session actions by the {id} route variable.
func sessionKey(r *http.Request) string {
	return mux.Vars(r)["id"]
}

// clientIP is the peer address, or the forwarded client address when the
// peer is a proxy on a loopback or private network.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer := net.ParseIP(host)
	if peer == nil {
		return host
	}

	if peer.IsLoopback() || peer.IsPrivate() {
		first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ",")
		if fwd := strings.TrimSpace(first); fwd != "" {
			return fwd
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}
	return peer.String()
}
