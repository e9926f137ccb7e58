package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"tradegate/pkg/logger"
)

func init() {
	logger.InitLogger("test")
}

// fakeBackend accepts /data/ only with access_token=fresh and hands out that
// cookie from /token/refresh/.
type fakeBackend struct {
	refreshCalls int32
	dataCalls    int32
	refreshGate  chan struct{}
	refreshCode  int
	alwaysDeny   bool
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/token/refresh/":
		atomic.AddInt32(&b.refreshCalls, 1)
		if b.refreshGate != nil {
			<-b.refreshGate
		}
		if b.refreshCode != 0 && b.refreshCode != http.StatusOK {
			w.WriteHeader(b.refreshCode)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "access_token", Value: "fresh", Path: "/", HttpOnly: true})
		w.WriteHeader(http.StatusOK)
	case "/login/", "/register/":
		w.WriteHeader(http.StatusUnauthorized)
	default:
		atomic.AddInt32(&b.dataCalls, 1)
		ck, err := r.Cookie("access_token")
		if b.alwaysDeny || err != nil || ck.Value != "fresh" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"detail":"token expired"}`)
			return
		}
		_, _ = io.WriteString(w, `{"ok":true}`)
	}
}

func newTestClient(t *testing.T, h http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, srv
}

func TestDo_ConcurrentUnauthorizedSharesOneRefresh(t *testing.T) {
	backend := &fakeBackend{refreshGate: make(chan struct{})}
	c, _ := newTestClient(t, backend)

	const n = 10
	statuses := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			resp, err := c.Do(context.Background(), "/data/", nil)
			if err != nil {
				t.Errorf("caller %d: %v", idx, err)
				return
			}
			defer resp.Body.Close()
			statuses[idx] = resp.StatusCode
		}(i)
	}

	// Every caller must be parked on the same refresh before it is allowed to finish.
	waitFor(t, func() bool { return c.refresh.waiting() == n })
	close(backend.refreshGate)
	wg.Wait()

	if got := atomic.LoadInt32(&backend.refreshCalls); got != 1 {
		t.Errorf("refresh calls = %d, want 1", got)
	}
	for i, code := range statuses {
		if code != http.StatusOK {
			t.Errorf("caller %d status = %d, want 200", i, code)
		}
	}
	if got := atomic.LoadInt32(&backend.dataCalls); got != 2*n {
		t.Errorf("data calls = %d, want %d (original + one retry each)", got, 2*n)
	}
	if c.refresh.inFlight() {
		t.Error("refresh marker still set")
	}
}

func TestDo_AuthEndpointsNeverRefresh(t *testing.T) {
	backend := &fakeBackend{}
	c, _ := newTestClient(t, backend)

	tests := []struct {
		name     string
		endpoint string
	}{
		{name: "login", endpoint: "/login/"},
		{name: "register", endpoint: "/register/"},
		{name: "refresh itself", endpoint: "/token/refresh/?x=1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := atomic.LoadInt32(&backend.refreshCalls)
			resp, err := c.Do(context.Background(), tt.endpoint, &RequestOptions{Method: http.MethodPost})
			if err != nil {
				t.Fatalf("Do: %v", err)
			}
			resp.Body.Close()
			after := atomic.LoadInt32(&backend.refreshCalls)
			// the refresh endpoint case counts its own direct hit
			if tt.endpoint == "/token/refresh/?x=1" {
				after--
			}
			if after != before {
				t.Errorf("refresh triggered for %s", tt.endpoint)
			}
		})
	}
}

func TestDo_RetriesExactlyOnce(t *testing.T) {
	backend := &fakeBackend{alwaysDeny: true}
	c, _ := newTestClient(t, backend)

	resp, err := c.Do(context.Background(), "/data/", nil)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 from the retry", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&backend.refreshCalls); got != 1 {
		t.Errorf("refresh calls = %d, want 1", got)
	}
	if got := atomic.LoadInt32(&backend.dataCalls); got != 2 {
		t.Errorf("data calls = %d, want 2", got)
	}
}

func TestDo_RefreshRejectedReturnsOriginal(t *testing.T) {
	backend := &fakeBackend{refreshCode: http.StatusUnauthorized}
	c, _ := newTestClient(t, backend)

	for attempt := 1; attempt <= 2; attempt++ {
		resp, err := c.Do(context.Background(), "/data/", nil)
		if err != nil {
			t.Fatalf("attempt %d: %v", attempt, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("attempt %d: status = %d, want 401", attempt, resp.StatusCode)
		}
		if string(body) != `{"detail":"token expired"}` {
			t.Errorf("attempt %d: original body not preserved: %q", attempt, body)
		}
		if got := atomic.LoadInt32(&backend.refreshCalls); got != int32(attempt) {
			t.Errorf("attempt %d: refresh calls = %d, want %d", attempt, got, attempt)
		}
	}
	if got := atomic.LoadInt32(&backend.dataCalls); got != 2 {
		t.Errorf("data calls = %d, want 2 (no retries)", got)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestDo_RefreshNetworkFailureIsSwallowed(t *testing.T) {
	var dataCalls int32
	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if strings.HasSuffix(r.URL.Path, "/token/refresh/") {
			return nil, errors.New("connection refused")
		}
		atomic.AddInt32(&dataCalls, 1)
		return &http.Response{
			StatusCode: http.StatusUnauthorized,
			Header:     http.Header{},
			Body:       io.NopCloser(strings.NewReader("denied")),
			Request:    r,
		}, nil
	})

	c, err := New(Config{BaseURL: "http://backend.test/api"}, WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := c.Do(context.Background(), "/profile/", nil)
	if err != nil {
		t.Fatalf("refresh network failure leaked to caller: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
	if dataCalls != 1 {
		t.Errorf("data calls = %d, want 1", dataCalls)
	}
	if c.refresh.inFlight() {
		t.Error("refresh marker still set after network failure")
	}
}

func TestDo_NetworkErrorOnRequest(t *testing.T) {
	rt := roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("no route to host")
	})
	c, err := New(Config{BaseURL: "http://backend.test"}, WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = c.Do(context.Background(), "/stocks/", nil)
	if !IsNetworkError(err) {
		t.Errorf("want ErrNetwork, got %v", err)
	}
}

func TestDo_HeadersAndBodyReplay(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	var contentTypes []string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token/refresh/" {
			http.SetCookie(w, &http.Cookie{Name: "access_token", Value: "fresh", Path: "/"})
			return
		}
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		seen = append(seen, string(b))
		contentTypes = append(contentTypes, r.Header.Get("Content-Type"))
		mu.Unlock()
		if ck, err := r.Cookie("access_token"); err != nil || ck.Value != "fresh" {
			w.WriteHeader(http.StatusUnauthorized)
		}
	})
	c, _ := newTestClient(t, h)

	resp, err := c.Do(context.Background(), "/withdrawals/", &RequestOptions{
		Method: http.MethodPost,
		Body:   []byte(`{"amount":10}`),
		Header: http.Header{"content-type": {"application/vnd.api+json"}},
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(seen) != 2 || seen[0] != `{"amount":10}` || seen[1] != `{"amount":10}` {
		t.Errorf("body not replayed: %q", seen)
	}
	for _, ct := range contentTypes {
		if ct != "application/vnd.api+json" {
			t.Errorf("caller header should override default, got %q", ct)
		}
	}
}

func TestDo_DefaultContentType(t *testing.T) {
	var ct string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ct = r.Header.Get("Content-Type")
	}))

	resp, err := c.Do(context.Background(), "/stocks/", nil)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()
	if ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

type countingObserver struct {
	refreshes []bool
	retries   []int
}

func (o *countingObserver) ObserveRefresh(ok bool)  { o.refreshes = append(o.refreshes, ok) }
func (o *countingObserver) ObserveRetry(status int) { o.retries = append(o.retries, status) }

func TestDo_ObserverSeesRefreshAndRetry(t *testing.T) {
	srv := httptest.NewServer(&fakeBackend{})
	defer srv.Close()
	obs := &countingObserver{}
	c, err := New(Config{BaseURL: srv.URL}, WithObserver(obs))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := c.Do(context.Background(), "/data/", nil)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()

	if len(obs.refreshes) != 1 || !obs.refreshes[0] {
		t.Errorf("refreshes = %v, want [true]", obs.refreshes)
	}
	if len(obs.retries) != 1 || obs.retries[0] != http.StatusOK {
		t.Errorf("retries = %v, want [200]", obs.retries)
	}
}

func TestNew_RequiresBaseURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for empty base url")
	}
}

// inProcess serves requests straight from h. Response bodies are in memory,
// so they stay readable after the request context ends.
func inProcess(h http.Handler) roundTripFunc {
	return func(r *http.Request) (*http.Response, error) {
		if err := r.Context().Err(); err != nil {
			return nil, err
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		resp := rec.Result()
		resp.Request = r
		return resp, nil
	}
}

func newInProcessClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: "http://backend.test"}, WithHTTPClient(&http.Client{Transport: inProcess(h)}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestDo_InitiatorCancelDoesNotAbortSharedRefresh(t *testing.T) {
	backend := &fakeBackend{refreshGate: make(chan struct{})}
	c := newInProcessClient(t, backend)

	initCtx, cancel := context.WithCancel(context.Background())
	initDone := make(chan error, 1)
	go func() {
		resp, err := c.Do(initCtx, "/data/", nil)
		if err == nil {
			resp.Body.Close()
		}
		initDone <- err
	}()
	waitFor(t, func() bool { return atomic.LoadInt32(&backend.refreshCalls) == 1 })

	const n = 4
	statuses := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			resp, err := c.Do(context.Background(), "/data/", nil)
			if err != nil {
				t.Errorf("waiter %d: %v", idx, err)
				return
			}
			resp.Body.Close()
			statuses[idx] = resp.StatusCode
		}(i)
	}
	waitFor(t, func() bool { return c.refresh.waiting() == n+1 })

	cancel()
	close(backend.refreshGate)
	wg.Wait()
	<-initDone

	if got := atomic.LoadInt32(&backend.refreshCalls); got != 1 {
		t.Errorf("refresh calls = %d, want 1", got)
	}
	for i, code := range statuses {
		if code != http.StatusOK {
			t.Errorf("waiter %d status = %d, want 200", i, code)
		}
	}
}

func TestDo_CancelledWaiterGetsOriginalResponse(t *testing.T) {
	backend := &fakeBackend{refreshGate: make(chan struct{})}
	c := newInProcessClient(t, backend)

	initStatus := make(chan int, 1)
	go func() {
		resp, err := c.Do(context.Background(), "/data/", nil)
		if err != nil {
			initStatus <- 0
			return
		}
		resp.Body.Close()
		initStatus <- resp.StatusCode
	}()
	waitFor(t, func() bool { return atomic.LoadInt32(&backend.refreshCalls) == 1 })

	type result struct {
		resp *http.Response
		err  error
	}
	waitCtx, cancel := context.WithCancel(context.Background())
	waiterDone := make(chan result, 1)
	go func() {
		resp, err := c.Do(waitCtx, "/data/", nil)
		waiterDone <- result{resp, err}
	}()
	waitFor(t, func() bool { return c.refresh.waiting() == 2 })

	cancel()
	res := <-waiterDone
	if res.err != nil {
		t.Fatalf("waiter: %v", res.err)
	}
	defer res.resp.Body.Close()
	if res.resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("waiter status = %d, want 401", res.resp.StatusCode)
	}
	body, err := io.ReadAll(res.resp.Body)
	if err != nil || string(body) != `{"detail":"token expired"}` {
		t.Errorf("waiter body = %q, %v; want the original 401 body", body, err)
	}
	if got := atomic.LoadInt32(&backend.dataCalls); got != 2 {
		t.Errorf("data calls = %d, want 2 (no retry for the cancelled waiter)", got)
	}

	close(backend.refreshGate)
	if got := <-initStatus; got != http.StatusOK {
		t.Errorf("initiator status = %d, want 200", got)
	}
}

func TestWithHTTPClient_LeavesCallerClientUntouched(t *testing.T) {
	shared := &http.Client{Transport: inProcess(&fakeBackend{})}
	c, err := New(Config{BaseURL: "http://backend.test"}, WithHTTPClient(shared))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if shared.Jar != nil {
		t.Error("caller's http.Client got a jar installed")
	}
	if c.Jar() == nil {
		t.Error("client has no jar")
	}
}

func TestWithHTTPClient_RejectsNil(t *testing.T) {
	if _, err := New(Config{BaseURL: "http://backend.test"}, WithHTTPClient(nil)); err == nil {
		t.Error("expected error for nil http client")
	}
}
