// utils/http.go
package utils

import (
	"net/http"
	"time"
)

const defaultHTTPTimeout = 10 * time.Second

// NewHTTPClient builds the client used for an upstream service call.
// A non-positive timeout falls back to the shared default.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &http.Client{Timeout: timeout}
}
