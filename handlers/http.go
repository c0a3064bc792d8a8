package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rezenkai/crmflow/logger"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const DEFAULT_HTTP_TIMEOUT = 30 * time.Second

// consecutive 5xx or transport failures before a host's breaker opens
const breakerMaxFailures = 5

type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    any
}

// Response carries the decoded JSON body, or the raw text when the body is
// not JSON.
type Response struct {
	Status int `json:"status"`
	Body   any `json:"body"`
}

type StatusError struct {
	Status int
	Body   any
}

func (e StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d", e.Status)
}

// HTTPCaller performs outbound calls with one circuit breaker per host.
type HTTPCaller struct {
	client         *http.Client
	breakerTimeout time.Duration
	breakers       sync.Map // host -> *gobreaker.CircuitBreaker
}

func NewHTTPCaller(timeout time.Duration) *HTTPCaller {
	if timeout <= 0 {
		timeout = DEFAULT_HTTP_TIMEOUT
	}
	return &HTTPCaller{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		breakerTimeout: 30 * time.Second,
	}
}

func (c *HTTPCaller) breaker(host string) *gobreaker.CircuitBreaker {
	if cb, ok := c.breakers.Load(host); ok {
		return cb.(*gobreaker.CircuitBreaker)
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        host,
		MaxRequests: 1,
		Timeout:     c.breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerMaxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", zap.String("host", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	actual, _ := c.breakers.LoadOrStore(host, cb)
	return actual.(*gobreaker.CircuitBreaker)
}

// Do sends the request. Transport errors and 5xx responses return an error
// and count against the host's breaker; 4xx responses are returned as is.
func (c *HTTPCaller) Do(ctx context.Context, req Request) (*Response, error) {
	u, err := url.Parse(req.URL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid url %q", req.URL)
	}
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if req.Body != nil {
		switch b := req.Body.(type) {
		case string:
			body = strings.NewReader(b)
		case []byte:
			body = bytes.NewReader(b)
		default:
			data, err := json.Marshal(b)
			if err != nil {
				return nil, err
			}
			body = bytes.NewReader(data)
		}
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	res, err := c.breaker(u.Host).Execute(func() (interface{}, error) {
		httpRes, err := c.client.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer httpRes.Body.Close()
		data, err := io.ReadAll(httpRes.Body)
		if err != nil {
			return nil, err
		}
		resp := &Response{Status: httpRes.StatusCode, Body: decodeBody(data)}
		if httpRes.StatusCode >= http.StatusInternalServerError {
			return resp, StatusError{Status: resp.Status, Body: resp.Body}
		}
		return resp, nil
	})
	resp, _ := res.(*Response)
	if err != nil {
		return resp, fmt.Errorf("%s %s: %w", method, u.Host, err)
	}
	return resp, nil
}

func decodeBody(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	return v
}
