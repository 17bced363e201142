package circuitbreaker

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPWrapper wraps an http.Client with a circuit breaker and records metrics consistently
type HTTPWrapper struct {
	client  *http.Client
	cb      *CircuitBreaker
	name    string
	service string
}

// NewHTTPWrapper creates a new HTTP wrapper with circuit breaker and metrics
func NewHTTPWrapper(client *http.Client, name, service string, settings Settings, logger *zap.Logger) *HTTPWrapper {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	cfg := instrument(settings.Or(HTTPDefaults()).ToConfig(), name, service)
	return &HTTPWrapper{
		client:  client,
		cb:      NewCircuitBreaker(name, cfg, logger),
		name:    name,
		service: service,
	}
}

// Do executes an HTTP request through the circuit breaker. 5xx responses are treated as failures
// for breaker purposes; 4xx do not trip the breaker.
func (hw *HTTPWrapper) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := hw.cb.Execute(req.Context(), func() error {
		var err error
		resp, err = hw.client.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return &httpStatusError{code: resp.StatusCode}
		}
		return nil
	})
	recordRequest(hw.name, hw.service, hw.cb.State(), err == nil)

	// a 5xx still hands the response back so the caller can read the body
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return resp, nil
	}
	return resp, err
}

// State exposes the breaker state for health reporting.
func (hw *HTTPWrapper) State() State { return hw.cb.State() }

type httpStatusError struct{ code int }

func (e *httpStatusError) Error() string { return http.StatusText(e.code) }
