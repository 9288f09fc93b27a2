package ucsqueries

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/flightimport/ucsbridge/internal/cache"
	"github.com/flightimport/ucsbridge/internal/telemetry"
	"github.com/flightimport/ucsbridge/internal/ucserr"
)

// IGCResult is the decoded IGC file content and the filename it should
// be saved under.
type IGCResult struct {
	Filename string
	Data     string
}

// FetchIGC downloads the IGC trace for flightRef, or (headOnly=true)
// issues a HEAD request to check the download exists without fetching
// its body. Redirects are disabled on the request: UCS answers a 302
// when the session has gone stale, which is treated as a
// forced-relogin-and-retry-once condition rather than followed like a
// normal redirect. The body is decoded as UTF-8 first, falling back to
// Latin-1 if that fails, since UCS does not consistently declare its
// IGC response encoding. HEAD results are never cached: a cached empty
// body would poison a later full fetch under the same key.
func (q *Queries) FetchIGC(ctx context.Context, flightRef int, headOnly bool) (IGCResult, error) {
	if headOnly {
		return q.fetchIGC(ctx, flightRef, true, true)
	}

	key, bypass, err := cache.BuildKey("fetch_igc", []any{flightRef}, nil)
	if err != nil {
		return IGCResult{}, err
	}
	if !bypass && q.Cache != nil {
		var cached IGCResult
		if ok, err := q.Cache.Get(ctx, key, &cached); err == nil && ok {
			return cached, nil
		}
	}

	result, err := q.fetchIGC(ctx, flightRef, true, false)
	if err != nil {
		return IGCResult{}, err
	}

	if !bypass && q.Cache != nil {
		_ = q.Cache.Set(ctx, key, result, cache.ReadTTL)
	}
	return result, nil
}

func (q *Queries) fetchIGC(ctx context.Context, flightRef int, allowRelogin, headOnly bool) (IGCResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "ucsqueries.fetch_igc")
	defer span.End()

	method := "GET"
	if headOnly {
		method = "HEAD"
	}
	path := "gliding/download.html?flightId=" + strconv.Itoa(flightRef)
	resp, body, err := q.Session.DoRaw(ctx, method, path, false)
	if err != nil {
		return IGCResult{}, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return IGCResult{}, &ucserr.TransientUpstreamError{Op: "fetch_igc", StatusCode: resp.StatusCode, Err: ucserr.ErrRateLimited}
	}

	if resp.StatusCode == http.StatusFound {
		if allowRelogin {
			if err := q.Session.Login(ctx, true); err != nil {
				return IGCResult{}, err
			}
			return q.fetchIGC(ctx, flightRef, false, headOnly)
		}
		return IGCResult{}, &ucserr.AuthFailureError{Err: ucserr.ErrSessionExpired}
	}

	if resp.StatusCode >= 400 {
		return IGCResult{}, &ucserr.PermanentUpstreamError{Op: "fetch_igc", StatusCode: resp.StatusCode, Err: ucserr.ErrUpstreamStatus}
	}

	ct := resp.Header.Get("Content-Type")
	if !strings.Contains(ct, "application/igc") {
		return IGCResult{}, &ucserr.PermanentUpstreamError{Op: "fetch_igc", Err: ucserr.ErrHTMLReturned}
	}

	data, err := decodeIGCBody(body)
	if err != nil {
		return IGCResult{}, &ucserr.PermanentUpstreamError{Op: "fetch_igc", Err: err}
	}

	filename := strconv.Itoa(absInt(flightRef)) + ".igc"
	return IGCResult{Filename: filename, Data: data}, nil
}

// decodeIGCBody tries UTF-8 first, falling back to Latin-1 decoding for
// the rare IGC file that isn't valid UTF-8.
func decodeIGCBody(body []byte) (string, error) {
	if utf8.Valid(body) {
		return string(body), nil
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(body)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
