package utils

import (
	"net"
	"net/http"
	"time"
)

// NewHTTPClient returns the outbound client used for calls to external
// collaborators (billing provider). Timeouts are deliberately short; every
// such call sits behind a circuit breaker.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: 2 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 2 * time.Second,
			MaxIdleConns:        10,
			IdleConnTimeout:     30 * time.Second,
		},
	}
}
