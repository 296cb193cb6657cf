package domain

import "time"

// RequestLogInsert is the row written once per inbound request, after the
// failover loop finishes (success, exhaustion or client abort). Mirrors
// the original Rust implementation's request_log table shape.
type RequestLogInsert struct {
	TraceID          string            `json:"trace_id"`
	CLIKey           string            `json:"cli_key"`
	Method           string            `json:"method,omitempty"`
	Path             string            `json:"path,omitempty"`
	Query            string            `json:"query,omitempty"`
	SessionID        *string           `json:"session_id,omitempty"`
	RequestedModel   string            `json:"requested_model"`
	EffectiveModel   *string           `json:"effective_model,omitempty"`
	FinalProviderID  *int64            `json:"final_provider_id,omitempty"`
	FinalOutcome     string            `json:"final_outcome"`
	FinalStatus      *int              `json:"final_status,omitempty"`
	StatusOverride   *int              `json:"status_override,omitempty"`
	ErrorCategory    *ErrorCategory    `json:"error_category,omitempty"`
	ErrorCode        *string           `json:"error_code,omitempty"`
	ErrorMessage     *string           `json:"error_message,omitempty"`
	Attempts         []FailoverAttempt `json:"attempts"`
	SpecialSettings  []SpecialSetting  `json:"special_settings,omitempty"`
	Usage            *UsageMetrics     `json:"usage,omitempty"`
	Streamed         bool              `json:"streamed"`
	RequestBytes     int64             `json:"request_bytes"`
	ResponseBytes    int64             `json:"response_bytes"`
	StartedAt        time.Time         `json:"started_at"`
	FinishedAt       time.Time         `json:"finished_at"`
	TotalDurationMs  int64             `json:"total_duration_ms"`
	ClientAborted    bool              `json:"client_aborted"`
	CostMultiplier   float64           `json:"cost_multiplier"`
	ExcludedFromStats bool             `json:"excluded_from_stats"`
}

const (
	FinalOutcomeSuccess       = "success"
	FinalOutcomeFailed        = "failed"
	FinalOutcomeClientAborted = "client_aborted"
)

// AttemptLogInsert is an optional finer-grained row, one per attempt, used
// by deployments that want per-attempt analytics independent of the
// parent request log's embedded Attempts slice.
type AttemptLogInsert struct {
	TraceID    string          `json:"trace_id"`
	Attempt    FailoverAttempt `json:"attempt"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// RequestLogWriter accepts finished request logs for durable storage. The
// logging pipeline (C10) is the sole caller; writers are expected to
// batch and retry internally.
type RequestLogWriter interface {
	WriteRequestLogs(batch []RequestLogInsert) error
}

// AttemptLogWriter accepts per-attempt logs for durable storage.
type AttemptLogWriter interface {
	WriteAttemptLogs(batch []AttemptLogInsert) error
}
