package ucs

import (
	"net/http"
	"net/url"
)

// proxyTransport builds an http.Transport that always dials through the
// given proxy URL, used for the proxied client. A nil/empty proxyURL
// means no proxy is configured and proxied requests behave as direct ones.
func proxyTransport(proxyURL string) (*http.Transport, error) {
	t := &http.Transport{}
	if proxyURL == "" {
		return t, nil
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, err
	}
	t.Proxy = http.ProxyURL(u)
	return t, nil
}
