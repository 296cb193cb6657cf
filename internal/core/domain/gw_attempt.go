package domain

// FailoverDecision is what the failover loop does after classifying an
// attempt's outcome.
type FailoverDecision string

const (
	DecisionRetrySameProvider FailoverDecision = "RetrySameProvider"
	DecisionSwitchProvider    FailoverDecision = "SwitchProvider"
	DecisionAbort             FailoverDecision = "Abort"
)

// ErrorCategory is the design-level error taxonomy from spec 4.12.
type ErrorCategory string

const (
	ErrCategorySystem              ErrorCategory = "SystemError"
	ErrCategoryProvider            ErrorCategory = "ProviderError"
	ErrCategoryNonRetryableClient  ErrorCategory = "NonRetryableClientError"
	ErrCategoryResourceNotFound    ErrorCategory = "ResourceNotFound"
	ErrCategoryClientAbort         ErrorCategory = "ClientAbort"
)

// FailoverAttempt is one outbound send to one provider, serialized into
// the request log's attempts array (spec section 3).
type FailoverAttempt struct {
	ProviderID         int64             `json:"provider_id"`
	ProviderName       string            `json:"provider_name"`
	BaseURL            string            `json:"base_url"`
	Outcome            string            `json:"outcome"`
	Status             *int              `json:"status,omitempty"`
	RetryIndex         int               `json:"retry_index"`
	SessionReuse       *bool             `json:"session_reuse,omitempty"`
	ErrorCategory      *ErrorCategory    `json:"error_category,omitempty"`
	ErrorCode          *string           `json:"error_code,omitempty"`
	Decision           *FailoverDecision `json:"decision,omitempty"`
	Reason             *string           `json:"reason,omitempty"`
	AttemptStartedMs   int64             `json:"attempt_started_ms"`
	AttemptDurationMs  int64             `json:"attempt_duration_ms"`
	CircuitStateBefore CircuitFSMState   `json:"circuit_state_before"`
	CircuitStateAfter  *CircuitFSMState  `json:"circuit_state_after,omitempty"`
	CircuitFailureCount     uint32       `json:"circuit_failure_count"`
	CircuitFailureThreshold uint32       `json:"circuit_failure_threshold"`
}

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// SpecialSetting is an out-of-band record the gateway accumulates during
// a request (warmup intercept, rectifier rewrite, client abort, etc.).
type SpecialSetting struct {
	Type   string                 `json:"type"`
	Reason string                 `json:"reason,omitempty"`
	Extra  map[string]interface{} `json:"extra,omitempty"`
}
