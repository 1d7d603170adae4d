package transport

import (
	"net"
	"net/http"
	"time"
)

// SharedHTTPClient returns an HTTP client with connection pooling for the
// inference server. A zero timeout leaves the whole exchange unbounded, since
// a reply may keep streaming for a long time; connecting is always bounded.
func SharedHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        8,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
