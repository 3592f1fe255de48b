package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Nellodipolito/pubmed-search-api/internal/model"
	"github.com/Nellodipolito/pubmed-search-api/internal/ratelimit"
)

func testClient(srv *httptest.Server) *Client {
	return &Client{
		Source:   model.SourcePubMed,
		HTTP:     srv.Client(),
		Interval: time.Millisecond,
	}
}

func TestDoRetriesTransient(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	body, err := testClient(srv).Do(context.Background(), Request{URL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != "ok" || calls != 3 {
		t.Errorf("got %q after %d calls", body, calls)
	}
}

func TestDoGivesUpAfterAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testClient(srv).Do(context.Background(), Request{URL: srv.URL})
	if model.KindOf(err) != model.SourceUnavailable {
		t.Fatalf("expected SourceUnavailable, got %v", err)
	}
	if calls != DefaultAttempts {
		t.Errorf("expected %d attempts, got %d", DefaultAttempts, calls)
	}
}

func TestDoBadQueryIsPermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "invalid term", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := testClient(srv).Do(context.Background(), Request{URL: srv.URL})
	if model.KindOf(err) != model.TranslationFailure {
		t.Fatalf("expected TranslationFailure, got %v", err)
	}
	var serr *StatusError
	if !errors.As(err, &serr) || serr.Code != http.StatusBadRequest {
		t.Errorf("expected wrapped status error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("4xx must not be retried, got %d calls", calls)
	}
}

func TestDoRetriesTooManyRequests(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	if _, err := testClient(srv).Do(context.Background(), Request{URL: srv.URL}); err != nil {
		t.Fatalf("expected 429 to be retried, got %v", err)
	}
}

func TestDoRetriesMalformedBody(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Write([]byte("<trunc"))
			return
		}
		w.Write([]byte("<ok/>"))
	}))
	defer srv.Close()

	validate := func(b []byte) error {
		if string(b) != "<ok/>" {
			return errors.New("truncated")
		}
		return nil
	}
	body, err := testClient(srv).Do(context.Background(), Request{URL: srv.URL, Validate: validate})
	if err != nil || string(body) != "<ok/>" {
		t.Fatalf("got %q, %v", body, err)
	}
}

func TestDoEncodesQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		w.Write([]byte(r.Method + " " + r.Form.Get("term")))
	}))
	defer srv.Close()

	c := testClient(srv)
	q := url.Values{"term": {"asthma AND children"}}
	tests := []struct {
		method string
		want   string
	}{
		{"", "GET asthma AND children"},
		{http.MethodPost, "POST asthma AND children"},
	}
	for _, tt := range tests {
		body, err := c.Do(context.Background(), Request{Method: tt.method, URL: srv.URL, Query: q})
		if err != nil {
			t.Fatal(err)
		}
		if string(body) != tt.want {
			t.Errorf("got %q, want %q", body, tt.want)
		}
	}
}

func TestDoRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := testClient(srv)
	c.Limiter = ratelimit.New("pubmed", ratelimit.Policy{Max: 1, Window: time.Minute})
	if _, err := c.Do(context.Background(), Request{URL: srv.URL}); err != nil {
		t.Fatal(err)
	}
	_, err := c.Do(context.Background(), Request{URL: srv.URL})
	if model.KindOf(err) != model.RateLimitExceeded {
		t.Fatalf("expected RateLimitExceeded, got %v", err)
	}
	if !model.IsRetryable(err) {
		t.Error("rate limit errors should be retryable")
	}
}

func TestDoTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := testClient(srv).Do(ctx, Request{URL: srv.URL})
	if model.KindOf(err) != model.SourceUnavailable {
		t.Fatalf("expected SourceUnavailable on deadline, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline in chain, got %v", err)
	}
}
