package caldav

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/emersion/go-webdav"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

const (
	// Apple iCloud CalDAV endpoint
	DefaultiCloudURL = "https://caldav.icloud.com"

	defaultTimeout     = 10 * time.Second
	defaultRetries     = 2
	defaultBackoff     = 250 * time.Millisecond
	defaultConcurrency = 4
)

// Client talks CalDAV to an iCloud-style server. It holds no account
// state: credentials are passed into every call, so one Client can be
// shared between users and goroutines.
type Client struct {
	http        webdav.HTTPClient
	log         zerolog.Logger
	loc         *time.Location
	timeout     time.Duration
	retries     int
	backoff     time.Duration
	concurrency int

	mu       sync.Mutex
	breakers map[breakerKey]*gobreaker.CircuitBreaker
}

// breakerKey scopes a circuit breaker to one account on one server
type breakerKey struct {
	host     string
	username string
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (tests use this to
// point at httptest servers).
func WithHTTPClient(hc webdav.HTTPClient) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.log = l.With().Str("component", "caldav").Logger()
	}
}

// WithLocation sets the display timezone used for floating times and for
// the Date/Time fields of decoded events.
func WithLocation(loc *time.Location) Option {
	return func(c *Client) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetry sets how many times an idempotent request is retried and the
// initial backoff between attempts. PUT is never retried.
func WithRetry(retries int, backoff time.Duration) Option {
	return func(c *Client) {
		if retries >= 0 {
			c.retries = retries
		}
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// WithMaxConcurrency bounds the number of collections queried at once
func WithMaxConcurrency(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// NewClient creates a new CalDAV client
func NewClient(opts ...Option) *Client {
	c := &Client{
		http:        http.DefaultClient,
		log:         zerolog.Nop(),
		loc:         time.Local,
		timeout:     defaultTimeout,
		retries:     defaultRetries,
		backoff:     defaultBackoff,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breakers = make(map[breakerKey]*gobreaker.CircuitBreaker)

	return c
}

// breaker returns the circuit breaker for one account on one server,
// creating it on first use. Only transport failures and timeouts count
// against it: an HTTP error status is an answer, not an outage.
func (c *Client) breaker(host, username string) *gobreaker.CircuitBreaker {
	key := breakerKey{host: host, username: username}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cb, ok := c.breakers[key]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "caldav " + host,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
	c.breakers[key] = cb
	return cb
}
