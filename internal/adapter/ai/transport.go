package ai

import (
	"net"
	"net/http"
	"net/url"
	"time"
)

// ProxyConfig carries the HTTP(S) proxy used for model endpoints.
type ProxyConfig struct {
	HTTPProxy  string
	HTTPSProxy string
}

// newHTTPClient builds a client whose proxy is bypassed for loopback hosts.
// The client has no overall timeout: streamed bodies are bounded by the caller's context.
func newHTTPClient(proxy ProxyConfig, headerTimeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = proxyFunc(proxy)
	transport.ResponseHeaderTimeout = headerTimeout
	return &http.Client{Transport: transport}
}

func proxyFunc(proxy ProxyConfig) func(*http.Request) (*url.URL, error) {
	return func(r *http.Request) (*url.URL, error) {
		if isLoopback(r.URL.Hostname()) {
			return nil, nil
		}
		raw := proxy.HTTPProxy
		if r.URL.Scheme == "https" && proxy.HTTPSProxy != "" {
			raw = proxy.HTTPSProxy
		}
		if raw == "" {
			return nil, nil
		}
		return url.Parse(raw)
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
