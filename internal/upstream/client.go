package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/optty-gateway/internal/obs"
)

// ErrTimeout reports that an outbound call exceeded its deadline. It is kept
// distinct from other transport failures so callers can surface it as such.
var ErrTimeout = errors.New("upstream: request timed out")

// BodyType selects how request parameters are encoded on the wire.
type BodyType string

const (
	// BodyJSON marshals params as an application/json body.
	BodyJSON BodyType = "json"
	// BodyForm encodes params as application/x-www-form-urlencoded.
	BodyForm BodyType = "form"
	// BodyQuery appends params to the request URL.
	BodyQuery BodyType = "query"
)

// Response is the normalised envelope for aggregator responses.
type Response struct {
	StatusCode int
	Message    string
	Header     http.Header
	Body       json.RawMessage
}

// Client issues requests to the aggregator with retries, per-attempt
// timeouts and a circuit breaker. Request bodies are buffered so attempts
// can be replayed safely.
type Client struct {
	HTTP        *http.Client
	Breaker     *Breaker
	Timeout     time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
}

// NewClient constructs a Client with an instrumented transport.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		HTTP:        &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		Breaker:     NewBreaker(5, 0.5, 30*time.Second),
		Timeout:     timeout,
		MaxAttempts: 3,
		BaseBackoff: 100 * time.Millisecond,
	}
}

// Get issues a GET request with optional query parameters.
func (c *Client) Get(ctx context.Context, rawURL string, headers map[string]string, query url.Values) (Response, error) {
	return c.do(ctx, http.MethodGet, rawURL, headers, BodyQuery, query)
}

// Post issues a POST request encoding params according to body.
func (c *Client) Post(ctx context.Context, rawURL string, headers map[string]string, body BodyType, params any) (Response, error) {
	return c.do(ctx, http.MethodPost, rawURL, headers, body, params)
}

// Put issues a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, rawURL string, headers map[string]string, params any) (Response, error) {
	return c.do(ctx, http.MethodPut, rawURL, headers, BodyJSON, params)
}

func (c *Client) do(ctx context.Context, method, rawURL string, headers map[string]string, bodyType BodyType, params any) (Response, error) {
	if c.HTTP == nil {
		return Response{}, errors.New("upstream: http client not configured")
	}
	target, body, contentType, err := encodeRequest(rawURL, bodyType, params)
	if err != nil {
		return Response{}, err
	}

	maxAttempts := c.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	backoff := c.BaseBackoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	breaker := c.Breaker
	if breaker == nil {
		breaker = NewBreaker(0, 0, 0)
	}

	operation := method + " " + hostOf(target)
	start := time.Now()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if !breaker.Allow() {
			lastErr = ErrOpenCircuit
			break
		}
		resp, err := c.doOnce(ctx, method, target, headers, contentType, body)
		if err == nil && resp.StatusCode < http.StatusInternalServerError {
			breaker.Report(true)
			observe(operation, "ok", start)
			return resp, nil
		}
		if err == nil {
			lastErr = fmt.Errorf("upstream: %s", resp.Message)
		} else {
			lastErr = err
		}
		breaker.Report(false)
		if attempt == maxAttempts || errors.Is(lastErr, ErrTimeout) {
			break
		}
		timer := time.NewTimer(backoff << (attempt - 1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return Response{}, ctx.Err()
		case <-timer.C:
		}
	}
	result := "error"
	if errors.Is(lastErr, ErrTimeout) {
		result = "timeout"
	}
	observe(operation, result, start)
	return Response{}, lastErr
}

func (c *Client) doOnce(ctx context.Context, method, target string, headers map[string]string, contentType string, body []byte) (Response, error) {
	callCtx := ctx
	var cancel context.CancelFunc
	if c.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(callCtx, method, target, reader)
	if err != nil {
		return Response{}, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if isTimeout(err) && ctx.Err() == nil {
			return Response{}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return Response{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, err
	}
	return Response{
		StatusCode: resp.StatusCode,
		Message:    http.StatusText(resp.StatusCode),
		Header:     resp.Header,
		Body:       data,
	}, nil
}

func encodeRequest(rawURL string, bodyType BodyType, params any) (target string, body []byte, contentType string, err error) {
	target = rawURL
	if params == nil {
		return target, nil, "", nil
	}
	switch bodyType {
	case BodyJSON:
		body, err = json.Marshal(params)
		if err != nil {
			return "", nil, "", err
		}
		return target, body, "application/json", nil
	case BodyForm:
		values, err := toValues(params)
		if err != nil {
			return "", nil, "", err
		}
		return target, []byte(values.Encode()), "application/x-www-form-urlencoded", nil
	case BodyQuery:
		values, err := toValues(params)
		if err != nil {
			return "", nil, "", err
		}
		if len(values) > 0 {
			sep := "?"
			if strings.Contains(rawURL, "?") {
				sep = "&"
			}
			target = rawURL + sep + values.Encode()
		}
		return target, nil, "", nil
	default:
		return "", nil, "", fmt.Errorf("upstream: unsupported body type %q", bodyType)
	}
}

func toValues(params any) (url.Values, error) {
	switch v := params.(type) {
	case url.Values:
		return v, nil
	case map[string]string:
		values := url.Values{}
		for key, value := range v {
			values.Set(key, value)
		}
		return values, nil
	case nil:
		return url.Values{}, nil
	default:
		return nil, fmt.Errorf("upstream: cannot encode %T as form values", params)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "unknown"
	}
	return u.Host
}

func observe(operation, result string, start time.Time) {
	if obs.UpstreamRequestDuration != nil {
		obs.UpstreamRequestDuration.WithLabelValues(operation, result).Observe(obs.DurationMillis(time.Since(start)))
	}
}
