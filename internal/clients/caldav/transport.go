package caldav

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/emersion/go-webdav"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

const maxBodySize = 16 << 20

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calassist_caldav_requests_total",
		Help: "Total number of CalDAV requests by method and outcome.",
	}, []string{"method", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "calassist_caldav_request_duration_seconds",
		Help:    "Histogram of CalDAV request latencies.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
)

type request struct {
	method string
	url    string
	depth  string
	body   []byte
	header map[string]string
}

type response struct {
	Status     int
	StatusText string
	Body       []byte
}

func (r *response) ok() bool {
	return r.Status >= 200 && r.Status < 300
}

// do sends one logical request. GET, PROPFIND and REPORT are retried with
// exponential backoff on transport errors, 429 and 5xx; PUT is sent once.
func (c *Client) do(ctx context.Context, creds Credentials, req request) (*response, error) {
	attempts := 1
	if idempotent(req.method) {
		attempts += c.retries
	}

	var (
		resp *response
		err  error
	)
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := c.backoff << (attempt - 1)
			c.log.Debug().
				Str("method", req.method).
				Str("url", req.url).
				Int("attempt", attempt+1).
				Dur("wait", wait).
				Msg("retrying caldav request")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		resp, err = c.roundTrip(ctx, creds, req)
		if ctx.Err() != nil || !retryable(resp, err) {
			break
		}
	}
	return resp, err
}

func (c *Client) roundTrip(ctx context.Context, creds Credentials, req request) (*response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader = http.NoBody
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	cb := c.breaker(httpReq.URL.Host, creds.Username)
	out, err := cb.Execute(func() (interface{}, error) {
		if req.depth != "" {
			httpReq.Header.Set("Depth", req.depth)
		}
		if req.body != nil && req.header["Content-Type"] == "" {
			httpReq.Header.Set("Content-Type", "application/xml; charset=utf-8")
		}
		for k, v := range req.header {
			httpReq.Header.Set(k, v)
		}

		start := time.Now()
		hc := webdav.HTTPClientWithBasicAuth(c.http, creds.Username, creds.Password)
		httpResp, err := hc.Do(httpReq)
		requestDuration.WithLabelValues(req.method).Observe(time.Since(start).Seconds())
		if err != nil {
			requestsTotal.WithLabelValues(req.method, "error").Inc()
			return nil, fmt.Errorf("do request: %w", err)
		}
		defer httpResp.Body.Close()

		requestsTotal.WithLabelValues(req.method, strconv.Itoa(httpResp.StatusCode)).Inc()

		data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodySize))
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}

		return &response{
			Status:     httpResp.StatusCode,
			StatusText: http.StatusText(httpResp.StatusCode),
			Body:       data,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return out.(*response), nil
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, "PROPFIND", "REPORT":
		return true
	}
	return false
}

func retryable(resp *response, err error) bool {
	if err != nil {
		return !errors.Is(err, gobreaker.ErrOpenState) &&
			!errors.Is(err, gobreaker.ErrTooManyRequests) &&
			!errors.Is(err, context.Canceled)
	}
	return resp.Status == http.StatusTooManyRequests || resp.Status >= 500
}
