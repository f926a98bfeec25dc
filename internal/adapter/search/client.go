package search

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// DefaultTimeout bounds a single search request.
const DefaultTimeout = 10 * time.Second

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// NewProxiedClient returns an HTTP client that sends every request through proxyURL.
// An empty proxyURL yields a direct client.
func NewProxiedClient(proxyURL string, timeout time.Duration) (*http.Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse search proxy: %w", err)
		}
		transport.Proxy = http.ProxyURL(u)
	}
	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// stripTags removes inline markup such as <strong> highlights and collapses whitespace.
func stripTags(s string) string {
	return strings.Join(strings.Fields(tagPattern.ReplaceAllString(s, "")), " ")
}
