package ucs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flightimport/ucsbridge/internal/ucserr"
)

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		RequestTimeout: 2 * time.Second,
		ConnectTimeout: time.Second,
		ProxyTimeout:   2 * time.Second,
		RetryAttempts:  3,
		RetryBaseDelay: 5 * time.Millisecond,
	}
}

func TestLoginSucceedsAndSetsAuthCookie(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/secure/login.html" {
			http.SetCookie(w, &http.Cookie{Name: "OLCAUTH", Value: "1"})
			w.Write([]byte("ok"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	reg := NewRegistry()
	s, err := NewSession(testConfig(srv.URL+"/"), reg, "pilot1", "secret", nil, nil)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	if err := s.Login(context.Background(), false); err != nil {
		t.Fatalf("login: %v", err)
	}
	if !s.hasAuthCookie() {
		t.Fatal("expected OLCAUTH cookie to be set after login")
	}
}

func TestLoginFaultyEntryReturnsCredentialInvalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Faulty entry"))
	}))
	defer srv.Close()

	reg := NewRegistry()
	s, err := NewSession(testConfig(srv.URL+"/"), reg, "pilot1", "wrong", nil, nil)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	err = s.Login(context.Background(), false)
	if err == nil {
		t.Fatal("expected an error")
	}
	var credErr *ucserr.CredentialInvalidError
	if !isCredentialInvalid(err, &credErr) {
		t.Fatalf("expected CredentialInvalidError, got %T: %v", err, err)
	}
}

func isCredentialInvalid(err error, target **ucserr.CredentialInvalidError) bool {
	if e, ok := err.(*ucserr.CredentialInvalidError); ok {
		*target = e
		return true
	}
	return false
}

func TestDoRetriesThenSucceedsWithProxyOnSubsequentAttempts(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/secure/login.html":
			http.SetCookie(w, &http.Cookie{Name: "OLCAUTH", Value: "1"})
			w.Write([]byte("ok"))
		case "/data.json":
			attempts++
			if attempts < 2 {
				// Simulate a connection-level failure by closing without
				// a response; httptest can't do that directly, so instead
				// return 429 which is retried by our loop.
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"ok":true}`))
		}
	}))
	defer srv.Close()

	reg := NewRegistry()
	s, err := NewSession(testConfig(srv.URL+"/"), reg, "pilot1", "secret", nil, nil)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	var out struct {
		OK bool `json:"ok"`
	}
	err = s.Do(context.Background(), "GET", "data.json", RequestOptions{}, &out)
	if err != nil {
		t.Fatalf("expected eventual success after retry, got %v", err)
	}
	if !out.OK {
		t.Fatal("expected decoded response ok=true")
	}
	if attempts < 2 {
		t.Fatalf("expected at least 2 attempts, got %d", attempts)
	}
}

func TestDoReturns404AsPermanentUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/secure/login.html":
			http.SetCookie(w, &http.Cookie{Name: "OLCAUTH", Value: "1"})
			w.Write([]byte("ok"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	reg := NewRegistry()
	s, err := NewSession(testConfig(srv.URL+"/"), reg, "pilot1", "secret", nil, nil)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	err = s.Do(context.Background(), "GET", "missing.json", RequestOptions{}, nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	var permErr *ucserr.PermanentUpstreamError
	if e, ok := err.(*ucserr.PermanentUpstreamError); ok {
		permErr = e
	}
	if permErr == nil || permErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected PermanentUpstreamError with status 404, got %T: %v", err, err)
	}
}

func TestDoReturnsHTMLSentinelOnHTMLContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/secure/login.html":
			http.SetCookie(w, &http.Cookie{Name: "OLCAUTH", Value: "1"})
			w.Write([]byte("ok"))
		default:
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write([]byte("<html></html>"))
		}
	}))
	defer srv.Close()

	reg := NewRegistry()
	s, err := NewSession(testConfig(srv.URL+"/"), reg, "pilot1", "secret", nil, nil)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	err = s.Do(context.Background(), "GET", "page.json", RequestOptions{}, nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	if !ucserrIsHTML(err) {
		t.Fatalf("expected HTML-returned sentinel error, got %v", err)
	}
}

func ucserrIsHTML(err error) bool {
	permErr, ok := err.(*ucserr.PermanentUpstreamError)
	if !ok {
		return false
	}
	return permErr.Err == ucserr.ErrHTMLReturned
}

func TestDoForcesReloginOn401(t *testing.T) {
	var loginCount int
	var gotAuthHeader bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/secure/login.html":
			loginCount++
			http.SetCookie(w, &http.Cookie{Name: "OLCAUTH", Value: "1"})
			w.Write([]byte("ok"))
		case "/secure.json":
			if !gotAuthHeader {
				gotAuthHeader = true
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"ok":true}`))
		}
	}))
	defer srv.Close()

	reg := NewRegistry()
	s, err := NewSession(testConfig(srv.URL+"/"), reg, "pilot1", "secret", nil, nil)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	var out struct {
		OK bool `json:"ok"`
	}
	err = s.Do(context.Background(), "GET", "secure.json", RequestOptions{}, &out)
	if err != nil {
		t.Fatalf("expected success after forced relogin, got %v", err)
	}
	if loginCount < 2 {
		t.Fatalf("expected a forced relogin after 401, got %d logins", loginCount)
	}
}

func TestNewSessionRejectsAllDigitUsername(t *testing.T) {
	reg := NewRegistry()
	_, err := NewSession(testConfig("http://example.invalid/"), reg, "12345", "secret", nil, nil)
	if err == nil {
		t.Fatal("expected an error for an all-digit username")
	}
	var credErr *ucserr.CredentialInvalidError
	if !isCredentialInvalid(err, &credErr) {
		t.Fatalf("expected CredentialInvalidError, got %T: %v", err, err)
	}
}
