package kalshi

import "fmt"

// HTTPError is a non-2xx response from the Kalshi API. Payload is the
// best-effort-parsed JSON error body, nil when the body is absent or not JSON.
type HTTPError struct {
	StatusCode int
	Payload    map[string]any
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("kalshi API HTTP %d: %v", e.StatusCode, e.Payload)
}

// TransportError wraps connection/DNS/timeout failures from the HTTP layer.
// Transport errors are always retryable.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("kalshi transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// retryable reports whether an outcome is transient per the venue contract:
// transport failures, HTTP 429, and all 5xx. Every other error, including
// non-429 4xx, surfaces immediately.
func retryable(err error) bool {
	switch e := err.(type) {
	case *HTTPError:
		return e.StatusCode == 429 || e.StatusCode >= 500
	case *TransportError:
		return true
	}
	return false
}
