// Package classify implements C12: mapping transport and upstream-status
// errors to the gateway's error taxonomy and failover decisions, and
// rendering the standardized JSON error envelope returned to the client.
// Grounded on the original implementation's errors.rs.
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/thushan/olla-gateway/internal/core/domain"
)

// TransportError classifies an error returned by http.Client.Do: a
// timeout, a connect failure, or anything else folded into a generic
// internal error. Equivalent to classify_reqwest_error.
func TransportError(err error) (domain.ErrorCategory, string) {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrCategorySystem, domain.GWErrUpstreamTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.ErrCategorySystem, domain.GWErrUpstreamTimeout
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return domain.ErrCategorySystem, domain.GWErrUpstreamTimeout
		}
		var opErr *net.OpError
		if errors.As(urlErr.Err, &opErr) {
			return domain.ErrCategorySystem, domain.GWErrUpstreamConnectFailed
		}
	}

	return domain.ErrCategorySystem, domain.GWErrInternalError
}

// UpstreamStatus is a thin wrapper over domain.ClassifyUpstreamStatus
// kept here so callers in this package only import one classify entry
// point for both transport and status classification.
func UpstreamStatus(status int) (domain.ErrorCategory, string, domain.FailoverDecision) {
	return domain.ClassifyUpstreamStatus(status)
}

// errorEnvelope mirrors the original GatewayErrorResponse shape.
type errorEnvelope struct {
	TraceID           string                   `json:"trace_id"`
	ErrorCode         string                   `json:"error_code"`
	Message           string                   `json:"message"`
	Attempts          []domain.FailoverAttempt `json:"attempts"`
	RetryAfterSeconds *int64                   `json:"retry_after_seconds,omitempty"`
}

// WriteError renders the standard JSON error envelope, setting x-trace-id
// and, when retryAfterSeconds is positive, Retry-After.
func WriteError(w http.ResponseWriter, status int, traceID, errorCode, message string, attempts []domain.FailoverAttempt, retryAfterSeconds int64) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("x-trace-id", traceID)
	if retryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(retryAfterSeconds, 10))
	}
	w.WriteHeader(status)

	payload := errorEnvelope{
		TraceID:   traceID,
		ErrorCode: errorCode,
		Message:   message,
		Attempts:  attempts,
	}
	if retryAfterSeconds > 0 {
		payload.RetryAfterSeconds = &retryAfterSeconds
	}
	_ = json.NewEncoder(w).Encode(payload)
}
