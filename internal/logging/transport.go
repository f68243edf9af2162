package logging

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestIDHeader is set on every outgoing backend request.
const RequestIDHeader = "X-Request-ID"

// Transport is an http.RoundTripper that tags each backend request with a
// request id and logs its outcome.
type Transport struct {
	Base http.RoundTripper
}

// NewTransport wraps base (http.DefaultTransport when nil).
func NewTransport(base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Base: base}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	requestID := req.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
		req = req.Clone(req.Context())
		req.Header.Set(RequestIDHeader, requestID)
	}

	logger := WithContext(req.Context()).With(
		zap.String("request_id", requestID),
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
	)
	logger.Debug("backend request started")

	resp, err := t.Base.RoundTrip(req)
	duration := time.Since(start)
	if err != nil {
		logger.Warn("backend request failed", zap.Error(err), zap.Duration("duration", duration))
		return nil, err
	}

	logger.Debug("backend request completed",
		zap.Int("status", resp.StatusCode),
		zap.Int64("size", resp.ContentLength),
		zap.Duration("duration", duration),
	)
	return resp, nil
}
