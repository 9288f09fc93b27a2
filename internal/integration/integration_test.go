// Package integration exercises the scheduler, UCS session, and query
// layer together against httptest mocks, the cross-package scenarios
// that no single package's unit tests cover alone.
package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flightimport/ucsbridge/internal/cache"
	"github.com/flightimport/ucsbridge/internal/drrsched"
	"github.com/flightimport/ucsbridge/internal/ucs"
	"github.com/flightimport/ucsbridge/internal/ucsqueries"
)

func newSession(t *testing.T, baseURL string, cfg ucs.Config, user string) *ucs.Session {
	t.Helper()
	reg := ucs.NewRegistry()
	cfg.BaseURL = baseURL + "/"
	s, err := ucs.NewSession(cfg, reg, user, "secret", nil, nil)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return s
}

func defaultCfg() ucs.Config {
	return ucs.Config{
		RequestTimeout: 2 * time.Second,
		ConnectTimeout: time.Second,
		ProxyTimeout:   2 * time.Second,
		RetryAttempts:  3,
		RetryBaseDelay: 5 * time.Millisecond,
	}
}

func loginHandler(w http.ResponseWriter, r *http.Request) bool {
	if r.URL.Path != "/secure/login.html" {
		return false
	}
	http.SetCookie(w, &http.Cookie{Name: "OLCAUTH", Value: "1"})
	w.Write([]byte("ok"))
	return true
}

// 1. Two-user fairness: A enqueues 10 tasks at weight 1, B enqueues 10 at
// weight 3; the first eight dispatches must land B B B A B B B A.
func TestTwoUserFairness(t *testing.T) {
	cap := drrsched.NewAdaptiveCap(32, 32, 20)
	sched := drrsched.New(cap, 50, time.Millisecond, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	var mu sync.Mutex
	var order []string
	record := func(user string) drrsched.Task {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, user)
			mu.Unlock()
			return nil
		}
	}

	var handles []*drrsched.CompletionHandle
	for i := 0; i < 10; i++ {
		handles = append(handles, sched.Enqueue("A", 1, record("A")))
		handles = append(handles, sched.Enqueue("B", 3, record("B")))
	}

	for _, h := range handles {
		if err := h.Wait(context.Background()); err != nil {
			t.Fatalf("task failed: %v", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) < 8 {
		t.Fatalf("expected at least 8 dispatches, got %d", len(order))
	}
	want := []string{"B", "B", "B", "A", "B", "B", "B", "A"}
	for i, w := range want {
		if order[i] != w {
			t.Fatalf("dispatch order mismatch at %d: want %v, got %v", i, want, order[:8])
		}
	}
}

// 2. Cap contraction on errors: 200 consecutive false outcomes should
// drive the cap down to floor and keep it there.
func TestCapContractionOnErrors(t *testing.T) {
	cap := drrsched.NewAdaptiveCap(4, 32, 200)
	for i := 0; i < 200; i++ {
		cap.Record(false)
	}
	if got := cap.Cap(); got != 4 {
		t.Fatalf("expected cap to shrink to floor 4, got %d", got)
	}
}

// 3. Timeout then proxy: fetch_igc against a mock that times out on the
// direct attempt and serves the IGC body on the (same, reused) proxied
// attempt — exactly one direct attempt, then one proxied attempt.
func TestFetchIGCTimeoutThenProxySucceeds(t *testing.T) {
	var directAttempts, proxiedAttempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if loginHandler(w, r) {
			return
		}
		if r.URL.Path != "/gliding/download.html" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		// The proxy client carries a longer timeout than the direct
		// client; sleeping past the direct timeout but under the
		// proxy timeout simulates "times out direct, succeeds proxied"
		// without a real separate proxy endpoint.
		if atomic.LoadInt32(&directAttempts) == 0 {
			atomic.AddInt32(&directAttempts, 1)
			time.Sleep(150 * time.Millisecond)
		} else {
			atomic.AddInt32(&proxiedAttempts, 1)
		}
		w.Header().Set("Content-Type", "application/igc")
		w.Write([]byte("ABC"))
	}))
	defer srv.Close()

	cfg := defaultCfg()
	cfg.RequestTimeout = 50 * time.Millisecond
	cfg.ProxyTimeout = 2 * time.Second
	cfg.RetryAttempts = 1
	session := newSession(t, srv.URL, cfg, "pilot_timeout")

	q := &ucsqueries.Queries{Session: session}
	result, err := q.FetchIGC(context.Background(), 12345, false)
	if err != nil {
		t.Fatalf("fetch_igc: %v", err)
	}
	if result.Filename != "12345.igc" || result.Data != "ABC" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if got := atomic.LoadInt32(&directAttempts); got != 1 {
		t.Fatalf("expected exactly one direct attempt, got %d", got)
	}
	if got := atomic.LoadInt32(&proxiedAttempts); got != 1 {
		t.Fatalf("expected exactly one proxied attempt, got %d", got)
	}
}

// FetchIGC(headOnly=true) issues HEAD instead of GET against the
// download endpoint and never populates the cache.
func TestFetchIGCHeadOnlyUsesHEAD(t *testing.T) {
	var sawMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if loginHandler(w, r) {
			return
		}
		sawMethod = r.Method
		w.Header().Set("Content-Type", "application/igc")
		if r.Method != http.MethodHead {
			w.Write([]byte("ABC"))
		}
	}))
	defer srv.Close()

	session := newSession(t, srv.URL, defaultCfg(), "pilot_head")
	q := &ucsqueries.Queries{Session: session, Cache: cache.NewMemoryCache(0, nil)}

	result, err := q.FetchIGC(context.Background(), 777, true)
	if err != nil {
		t.Fatalf("fetch_igc head_only: %v", err)
	}
	if sawMethod != http.MethodHead {
		t.Fatalf("expected a HEAD request, got %s", sawMethod)
	}
	if result.Filename != "777.igc" {
		t.Fatalf("unexpected filename: %q", result.Filename)
	}

	var cached IGCCacheProbe
	ok, _ := q.Cache.Get(context.Background(), "fetch_igc:(777)", &cached)
	if ok {
		t.Fatal("expected head_only fetch to never populate the cache")
	}
}

type IGCCacheProbe struct {
	Filename string
	Data     string
}

// 4. List flights truncation: a mock returning 50 flights/year across
// 2007-2024 should truncate between 200 and 250 results, sorted by id.
func TestListFlightsTruncation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if loginHandler(w, r) {
			return
		}
		year := r.URL.Query().Get("sp")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(buildYearFlights(year, 50)))
	}))
	defer srv.Close()

	session := newSession(t, srv.URL, defaultCfg(), "pilot_truncation")
	q := &ucsqueries.Queries{Session: session, FlightsMax: 200}

	flights, err := q.ListFlights(context.Background(), ucsqueries.ListFlightsOptions{
		UserID:    1,
		StartYear: 2007,
		EndYear:   2024,
	})
	if err != nil {
		t.Fatalf("list_flights: %v", err)
	}
	// 50 flights/year, FlightsMax=200: the threshold check runs once per
	// completed year-batch and a batch that crosses it is kept in full, so
	// the result is deterministically 200 + one full batch of 50 = 250,
	// never truncated mid-batch.
	if len(flights) != 250 {
		t.Fatalf("expected exactly 250 flights (full last batch included), got %d", len(flights))
	}
	for i := 1; i < len(flights); i++ {
		prev, _ := flights[i-1].ID.Int64()
		cur, _ := flights[i].ID.Int64()
		if prev > cur {
			t.Fatalf("expected ascending id order, got %d before %d", prev, cur)
		}
	}
}

func buildYearFlights(year string, n int) string {
	out := `{"result":[`
	for i := 0; i < n; i++ {
		if i > 0 {
			out += ","
		}
		id := year + itoa(i)
		out += `{"id":` + id + `,"airplane":"ASK 21","dateOfFlight":1600000000000,"distanceInKm":100.456,"speedInKmH":80.123}`
	}
	out += `]}`
	return out
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := ""
	for n > 0 {
		digits = string(rune('0'+n%10)) + digits
		n /= 10
	}
	return digits
}

// 5. Cache reuse: two sequential resolve_flight_ref(999) calls should
// hit the network exactly once.
func TestResolveFlightRefCacheReuse(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if loginHandler(w, r) {
			return
		}
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"mapHref":"map.html?ref=555"}]`))
	}))
	defer srv.Close()

	session := newSession(t, srv.URL, defaultCfg(), "pilot_cache")
	q := &ucsqueries.Queries{Session: session, Cache: cache.NewMemoryCache(0, nil)}

	first, err := q.ResolveFlightRef(context.Background(), 999)
	if err != nil {
		t.Fatalf("first resolve_flight_ref: %v", err)
	}
	second, err := q.ResolveFlightRef(context.Background(), 999)
	if err != nil {
		t.Fatalf("second resolve_flight_ref: %v", err)
	}
	if first != 555 || second != 555 {
		t.Fatalf("expected flight ref 555, got %d and %d", first, second)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly one network call, got %d", got)
	}
}

// 6. Per-user login serialization: two concurrent requests for the same
// upstream user with no cookies perform exactly one login. The
// two-different-users case is not exercised here.
func TestPerUserLoginSerialization(t *testing.T) {
	var logins int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/secure/login.html" {
			atomic.AddInt32(&logins, 1)
			time.Sleep(30 * time.Millisecond)
			http.SetCookie(w, &http.Cookie{Name: "OLCAUTH", Value: "1"})
			w.Write([]byte("ok"))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	cfg := defaultCfg()
	cfg.BaseURL = srv.URL + "/"
	registry := ucs.NewRegistry()

	s1, err := ucs.NewSession(cfg, registry, "same_user", "secret", nil, nil)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	s2, err := ucs.NewSession(cfg, registry, "same_user", "secret", nil, nil)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	var wg sync.WaitGroup
	for _, s := range []*ucs.Session{s1, s2} {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			var out struct {
				OK bool `json:"ok"`
			}
			_ = s.Do(context.Background(), "GET", "ping.json", ucs.RequestOptions{}, &out)
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&logins); got != 1 {
		t.Fatalf("expected exactly one login for the same user, got %d", got)
	}
}
