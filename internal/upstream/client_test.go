package upstream_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/noah-isme/optty-gateway/internal/upstream"
)

func TestPostJSONBody(t *testing.T) {
	var gotContentType string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := upstream.NewClient(time.Second)
	resp, err := c.Post(context.Background(), srv.URL, map[string]string{"Authorization": "Bearer tok"}, upstream.BodyJSON, map[string]any{"orderAmount": 100.5})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	if gotContentType != "application/json" {
		t.Fatalf("unexpected content type: %s", gotContentType)
	}
	if gotBody["orderAmount"] != 100.5 {
		t.Fatalf("unexpected body: %v", gotBody)
	}
}

func TestPostFormBody(t *testing.T) {
	var gotContentType, gotGrant string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		_ = r.ParseForm()
		gotGrant = r.PostFormValue("grant_type")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := upstream.NewClient(time.Second)
	_, err := c.Post(context.Background(), srv.URL, nil, upstream.BodyForm, map[string]string{"grant_type": "client_credentials"})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if gotContentType != "application/x-www-form-urlencoded" {
		t.Fatalf("unexpected content type: %s", gotContentType)
	}
	if gotGrant != "client_credentials" {
		t.Fatalf("unexpected grant_type: %s", gotGrant)
	}
}

func TestGetQueryEncoding(t *testing.T) {
	var gotRef string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRef = r.URL.Query().Get("reference")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := upstream.NewClient(time.Second)
	_, err := c.Get(context.Background(), srv.URL, nil, url.Values{"reference": {"55-170AB12"}})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if gotRef != "55-170AB12" {
		t.Fatalf("unexpected query value: %s", gotRef)
	}
}

func TestTimeoutSurfacedDistinctly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := upstream.NewClient(20 * time.Millisecond)
	c.MaxAttempts = 1
	_, err := c.Get(context.Background(), srv.URL, nil, nil)
	if !errors.Is(err, upstream.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := upstream.NewClient(time.Second)
	c.MaxAttempts = 3
	c.BaseBackoff = time.Millisecond
	resp, err := c.Get(context.Background(), srv.URL, nil, nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := upstream.NewClient(time.Second)
	c.MaxAttempts = 3
	resp, err := c.Get(context.Background(), srv.URL, nil, nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx responses must not be retried, got %d attempts", calls.Load())
	}
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := upstream.NewClient(time.Second)
	c.Breaker = upstream.NewBreaker(2, 0.5, time.Minute)
	c.MaxAttempts = 1

	for i := 0; i < 2; i++ {
		if _, err := c.Get(context.Background(), srv.URL, nil, nil); err == nil {
			t.Fatal("expected failure")
		}
	}
	_, err := c.Get(context.Background(), srv.URL, nil, nil)
	if !errors.Is(err, upstream.ErrOpenCircuit) {
		t.Fatalf("expected open circuit, got %v", err)
	}
}
