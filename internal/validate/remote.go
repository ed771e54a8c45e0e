package validate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/livetemplate/labkit"
	"github.com/livetemplate/labkit/internal/cache"
	"github.com/livetemplate/labkit/internal/security"
	"go.uber.org/zap"
)

// maxResponseSize bounds a validator response body.
const maxResponseSize = 4 << 20

// RemoteOptions configures the HTML and CSS validator clients.
type RemoteOptions struct {
	Endpoint     string
	Timeout      time.Duration // default: 15s
	CacheTTL     time.Duration // 0 disables caching
	AllowPrivate bool
	Breaker      BreakerConfig
	Client       *http.Client
	Logger       *zap.Logger
}

// remote holds what the HTML and CSS clients share: endpoint checks, a
// breaker, a result cache and error mapping.
type remote struct {
	service  string
	endpoint string
	client   *http.Client
	breaker  *Breaker
	cache    *cache.MemoryCache[[]Message]
	ttl      time.Duration
	logger   *zap.Logger
}

func newRemote(service string, opts RemoteOptions) (*remote, error) {
	if err := security.CheckEndpoint(opts.Endpoint, opts.AllowPrivate); err != nil {
		return nil, fmt.Errorf("%s validator endpoint: %w", service, err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	breakerCfg := opts.Breaker
	if breakerCfg.FailureThreshold <= 0 {
		breakerCfg = DefaultBreakerConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named(service)

	r := &remote{
		service:  service,
		endpoint: opts.Endpoint,
		client:   client,
		breaker:  NewBreaker(service, breakerCfg, logger),
		ttl:      opts.CacheTTL,
		logger:   logger,
	}
	if opts.CacheTTL > 0 {
		r.cache = cache.New[[]Message]()
	}
	return r, nil
}

// check returns cached messages for content, or calls fetch through the
// breaker. Any failure comes back as *labkit.ValidationServiceError.
func (r *remote) check(ctx context.Context, content string, fetch func(ctx context.Context) ([]Message, error)) ([]Message, error) {
	key := cache.Key(r.service, content)
	if r.cache != nil {
		if msgs, ok := r.cache.Get(key); ok {
			return msgs, nil
		}
	}

	var msgs []Message
	err := r.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		msgs, err = fetch(ctx)
		return err
	})
	if err != nil {
		var svcErr *labkit.ValidationServiceError
		if errors.As(err, &svcErr) {
			return nil, err
		}
		return nil, &labkit.ValidationServiceError{Service: r.service, Err: err}
	}

	if r.cache != nil {
		r.cache.Set(key, msgs, r.ttl)
	}
	return msgs, nil
}

// do sends req and returns the body of a 2xx response.
func (r *remote) do(req *http.Request) ([]byte, error) {
	req.Header.Set("User-Agent", "labkit-validator")
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &labkit.ValidationServiceError{Service: r.service, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &labkit.ValidationServiceError{
			Service:    r.service,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &labkit.ValidationServiceError{Service: r.service, Err: err}
	}
	return body, nil
}

func (r *remote) close() {
	if r.cache != nil {
		r.cache.Stop()
	}
}
