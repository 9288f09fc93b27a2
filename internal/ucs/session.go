// Package ucs implements the session, login, and retry-with-proxy-fallback
// HTTP pipeline used to talk to the upstream contest site (UCS).
package ucs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/flightimport/ucsbridge/internal/observability"
	"github.com/flightimport/ucsbridge/internal/telemetry"
	"github.com/flightimport/ucsbridge/internal/ucserr"
)

// Config bundles the knobs a Session needs; it is a narrowed view of
// config.UCSConfig plus the single proxy URL from config.ProxyConfig.
type Config struct {
	BaseURL        string
	ProxyURL       string
	RequestTimeout time.Duration // direct total timeout
	ConnectTimeout time.Duration // direct connect timeout
	ProxyTimeout   time.Duration // proxied total timeout
	RetryAttempts  int
	RetryBaseDelay time.Duration
}

// Session is a single user's authenticated connection to UCS: one cookie
// jar (shared via Registry so it survives across Sessions for the same
// user), one direct http.Client, one proxy-routed http.Client.
type Session struct {
	cfg      Config
	user     string
	password string
	registry *Registry
	logger   *slog.Logger
	metrics  *observability.Metrics

	headers browserHeaders

	directClient *http.Client
	proxyClient  *http.Client

	mu          sync.Mutex
	sessionBuilt bool
}

// NewSession constructs a Session for user. The underlying cookie jar and
// login lock come from registry and are shared with any other Session
// for the same user within the process. user must contain at least one
// letter — an all-digit value can never be a valid OLC username and is
// rejected before any session/cookie setup, matching the original's
// OlcInterface.__init__ precondition. metrics may be nil, in which case
// no Prometheus collectors are updated.
func NewSession(cfg Config, registry *Registry, user, password string, metrics *observability.Metrics, logger *slog.Logger) (*Session, error) {
	if !hasLetter(user) {
		return nil, &ucserr.CredentialInvalidError{User: user, Err: errors.New("username must not be all-digits")}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:      cfg,
		user:     user,
		password: password,
		registry: registry,
		logger:   logger.With("component", "ucs_session", "user", user),
		metrics:  metrics,
		headers:  randomHeaders(),
	}, nil
}

// ensureClients lazily builds the direct and proxy http.Client, reusing
// the registry's cookie jar for this user so cookies persist across
// sessions constructed for the same user.
func (s *Session) ensureClients() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionBuilt {
		return nil
	}

	jar := s.registry.jarFor(s.user)

	directTransport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: s.cfg.ConnectTimeout,
		}).DialContext,
	}
	s.directClient = &http.Client{
		Transport: directTransport,
		Jar:       jar,
		Timeout:   s.cfg.RequestTimeout,
	}

	proxyTr, err := proxyTransport(s.cfg.ProxyURL)
	if err != nil {
		return fmt.Errorf("invalid proxy url: %w", err)
	}
	s.proxyClient = &http.Client{
		Transport: proxyTr,
		Jar:       jar,
		Timeout:   s.cfg.ProxyTimeout,
	}

	s.sessionBuilt = true
	return nil
}

// hasAuthCookie reports whether the jar already holds an OLCAUTH cookie
// for the login URL, meaning a fresh login can be skipped. The login URL
// is used rather than the base URL because a cookie the login response
// sets without a Path attribute is scoped to the login page's directory.
func (s *Session) hasAuthCookie() bool {
	base, err := url.Parse(s.cfg.BaseURL + "secure/login.html")
	if err != nil {
		return false
	}
	jar := s.registry.jarFor(s.user)
	for _, c := range jar.Cookies(base) {
		if c.Name == "OLCAUTH" {
			return true
		}
	}
	return false
}

// Login authenticates this user against UCS. If force is false and a
// valid OLCAUTH cookie is already present, Login is a no-op. Logins for
// the same user are serialized through the registry's per-user lock so
// concurrent callers never race each other into a double login.
func (s *Session) Login(ctx context.Context, force bool) error {
	if err := s.ensureClients(); err != nil {
		return err
	}

	lock := s.registry.loginLock(s.user)
	lock.Lock()
	defer lock.Unlock()

	if !force && s.hasAuthCookie() {
		return nil
	}

	ctx, span := telemetry.StartSpan(ctx, "ucs.login")
	defer span.End()

	started := time.Now()
	form := url.Values{
		"_ident_": {s.user},
		"_name__": {s.password},
		"ok_par.x": {"1"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"secure/login.html", strings.NewReader(form.Encode()))
	if err != nil {
		return &ucserr.ProgrammerError{Msg: "build login request: " + err.Error()}
	}
	s.applyCommonHeaders(req)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.directClient.Do(req)
	if err != nil {
		telemetry.RecordError(span, err)
		return &ucserr.AuthFailureError{User: s.user, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ucserr.AuthFailureError{User: s.user, Err: err}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		s.logger.Error("429 returned on login")
	}

	if strings.Contains(string(body), "Faulty entry") {
		return &ucserr.CredentialInvalidError{User: s.user, Err: errors.New("faulty entry: wrong OLC username or password")}
	}

	if !s.hasAuthCookie() {
		return &ucserr.AuthFailureError{User: s.user, Err: errors.New("login cookies not found")}
	}

	s.logger.Info("login succeeded", "elapsed", time.Since(started))
	return nil
}

// applyCommonHeaders sets the session's randomized browser fingerprint
// headers on an outgoing request.
func (s *Session) applyCommonHeaders(req *http.Request) {
	req.Header.Set("User-Agent", s.headers.UserAgent)
	req.Header.Set("Accept-Language", s.headers.AcceptLanguage)
	req.Header.Set("Accept", s.headers.Accept)
}

// RequestOptions configures a single JSON request through Do.
type RequestOptions struct {
	JSONBody    any
	ExtraHeader map[string]string
}

// isConnectionError reports whether err is the kind of low-level
// transport failure the retry loop should paper over: connection resets,
// refused connections, unexpected EOF.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return false
}

// hasLetter reports whether s contains at least one alphabetic rune.
func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// isTimeoutError reports whether err is a context or network timeout.
func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// attempt performs a single HTTP round trip via either the direct or the
// proxy client.
func (s *Session) attempt(ctx context.Context, method, path string, body []byte, extraHeaders map[string]string, useProxy bool) (*http.Response, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, nil, &ucserr.ProgrammerError{Msg: "build request: " + err.Error()}
	}
	s.applyCommonHeaders(req)
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}

	client := s.directClient
	if useProxy {
		client = s.proxyClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, err
	}
	return resp, respBody, nil
}

// requestWithRetry runs the transport-level retry loop: up to
// RetryAttempts attempts, exponential backoff starting at RetryBaseDelay,
// retried only on connection errors, server disconnects, and HTTP 429.
// The first attempt is direct; every attempt after the first is routed
// through the proxy, matching the upstream's "proxy on retry only" rule.
// forceProxy routes even the first attempt through the proxy, used when
// the caller already knows a direct attempt timed out.
func (s *Session) requestWithRetry(ctx context.Context, method, path string, body []byte, extraHeaders map[string]string, forceProxy bool) (*http.Response, []byte, error) {
	if err := s.ensureClients(); err != nil {
		return nil, nil, err
	}

	attempts := s.cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := s.cfg.RetryBaseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		useProxy := forceProxy || attempt > 1
		resp, respBody, err := s.attempt(ctx, method, path, body, extraHeaders, useProxy)
		if err == nil {
			if resp.StatusCode == http.StatusTooManyRequests && attempt < attempts {
				lastErr = &ucserr.TransientUpstreamError{Op: method + " " + path, StatusCode: resp.StatusCode, Err: errors.New("rate limited")}
				if !sleepBackoff(ctx, delay, attempt) {
					return nil, nil, ctx.Err()
				}
				continue
			}
			return resp, respBody, nil
		}

		lastErr = err
		if isTimeoutError(err) {
			return nil, nil, err
		}
		if isConnectionError(err) && attempt < attempts {
			if !sleepBackoff(ctx, delay, attempt) {
				return nil, nil, ctx.Err()
			}
			continue
		}
		return nil, nil, err
	}
	return nil, nil, lastErr
}

func sleepBackoff(ctx context.Context, base time.Duration, attempt int) bool {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Do performs an authenticated request against path, handling the full
// retry/proxy-fallback/401/404/HTML-sentinel pipeline, and decodes the
// JSON response body into out (if out is non-nil).
func (s *Session) Do(ctx context.Context, method, path string, opts RequestOptions, out any) error {
	ctx, span := telemetry.StartSpan(ctx, "ucs.request")
	defer span.End()

	started := time.Now()
	err := s.doRequest(ctx, method, path, opts, out)
	outcome := "success"
	if err != nil {
		outcome = "error"
		telemetry.RecordError(span, err)
	}
	s.recordRequest(method+" "+path, outcome, time.Since(started))
	return err
}

func (s *Session) doRequest(ctx context.Context, method, path string, opts RequestOptions, out any) error {
	if err := s.Login(ctx, false); err != nil {
		return err
	}

	var body []byte
	headers := map[string]string{}
	for k, v := range opts.ExtraHeader {
		headers[k] = v
	}
	if opts.JSONBody != nil {
		b, err := json.Marshal(opts.JSONBody)
		if err != nil {
			return &ucserr.ProgrammerError{Msg: "marshal request body: " + err.Error()}
		}
		body = b
		headers["Content-Type"] = "application/json"
	}

	resp, respBody, err := s.requestWithRetry(ctx, method, path, body, headers, false)
	if err != nil && isTimeoutError(err) {
		s.logger.Error("timeout fetching ucs, retrying with proxy forced", "path", path)
		resp, respBody, err = s.requestWithRetry(ctx, method, path, body, headers, true)
	}
	if err != nil {
		return &ucserr.TransientUpstreamError{Op: method + " " + path, Err: err}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		s.logger.Warn("got 401, re-logging in", "path", path)
		if err := s.Login(ctx, true); err != nil {
			return err
		}
		return s.doRequest(ctx, method, path, opts, out)
	}

	if resp.StatusCode == http.StatusNotFound {
		return &ucserr.PermanentUpstreamError{Op: method + " " + path, StatusCode: resp.StatusCode, Err: ucserr.ErrNotFound}
	}

	if resp.StatusCode >= 400 {
		return &ucserr.TransientUpstreamError{Op: method + " " + path, StatusCode: resp.StatusCode, Err: fmt.Errorf("ucs returned %d", resp.StatusCode)}
	}

	if ct := resp.Header.Get("Content-Type"); strings.HasPrefix(ct, "text/html") {
		return &ucserr.PermanentUpstreamError{Op: method + " " + path, Err: ucserr.ErrHTMLReturned}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &ucserr.PermanentUpstreamError{Op: method + " " + path, Err: fmt.Errorf("decode json: %w", err)}
		}
	}
	return nil
}

// DoRaw performs a request and returns the raw response and body without
// JSON decoding, for endpoints like IGC download and HTML scraping.
// allowRedirect controls whether the client follows redirects (fetch_igc
// needs redirects disabled so a 302 can be detected as a stale session).
// It shares the same retry_client used by Do in the original — transport
// errors and 429s get the same RetryAttempts exponential backoff, with a
// final timeout-forces-proxy fallback on top.
func (s *Session) DoRaw(ctx context.Context, method, path string, allowRedirect bool) (*http.Response, []byte, error) {
	ctx, span := telemetry.StartSpan(ctx, "ucs.request")
	defer span.End()

	started := time.Now()
	var outcome string
	defer func() { s.recordRequest(method+" "+path, outcome, time.Since(started)) }()

	if err := s.ensureClients(); err != nil {
		outcome = "error"
		telemetry.RecordError(span, err)
		return nil, nil, err
	}
	if err := s.Login(ctx, false); err != nil {
		outcome = "error"
		telemetry.RecordError(span, err)
		return nil, nil, err
	}

	resp, respBody, err := s.rawRequestWithRetry(ctx, method, path, allowRedirect, false)
	if err != nil && isTimeoutError(err) {
		s.logger.Error("timeout fetching ucs, retrying with proxy forced", "path", path)
		resp, respBody, err = s.rawRequestWithRetry(ctx, method, path, allowRedirect, true)
	}
	if err != nil {
		outcome = "error"
		telemetry.RecordError(span, err)
		return nil, nil, &ucserr.TransientUpstreamError{Op: method + " " + path, Err: err}
	}
	outcome = "success"
	return resp, respBody, nil
}

// rawRequestWithRetry is requestWithRetry's counterpart for DoRaw: the
// same attempt budget, proxy-on-retry rule, and 429 backoff, applied to
// a raw (non-JSON, possibly redirect-disabled) round trip.
func (s *Session) rawRequestWithRetry(ctx context.Context, method, path string, allowRedirect, forceProxy bool) (*http.Response, []byte, error) {
	attempts := s.cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := s.cfg.RetryBaseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		useProxy := forceProxy || attempt > 1
		resp, respBody, err := s.rawAttempt(ctx, method, path, allowRedirect, useProxy)
		if err == nil {
			if resp.StatusCode == http.StatusTooManyRequests && attempt < attempts {
				lastErr = &ucserr.TransientUpstreamError{Op: method + " " + path, StatusCode: resp.StatusCode, Err: errors.New("rate limited")}
				if !sleepBackoff(ctx, delay, attempt) {
					return nil, nil, ctx.Err()
				}
				continue
			}
			return resp, respBody, nil
		}

		lastErr = err
		if isTimeoutError(err) {
			return nil, nil, err
		}
		if isConnectionError(err) && attempt < attempts {
			if !sleepBackoff(ctx, delay, attempt) {
				return nil, nil, ctx.Err()
			}
			continue
		}
		return nil, nil, err
	}
	return nil, nil, lastErr
}

// rawAttempt performs a single DoRaw round trip via either the direct or
// the proxy client.
func (s *Session) rawAttempt(ctx context.Context, method, path string, allowRedirect, useProxy bool) (*http.Response, []byte, error) {
	client := s.directClient
	if useProxy {
		client = s.proxyClient
	}
	if !allowRedirect {
		noRedirect := *client
		noRedirect.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
		client = &noRedirect
	}

	req, err := http.NewRequestWithContext(ctx, method, s.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, nil, &ucserr.ProgrammerError{Msg: "build request: " + err.Error()}
	}
	s.applyCommonHeaders(req)

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, err
	}
	return resp, respBody, nil
}

// recordRequest folds one completed request's outcome and duration into
// the UCS request Prometheus collectors. A no-op if metrics is nil.
func (s *Session) recordRequest(op, outcome string, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.UCSRequestsTotal.WithLabelValues(op, outcome).Inc()
	s.metrics.UCSRequestDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}
