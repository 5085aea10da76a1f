// Package errors provides standardized error handling for the orchestrator and its BPMN workers.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeGuardrailBlocked ErrorCode = "GUARDRAIL_BLOCKED"
	ErrCodeInvalidInput     ErrorCode = "INVALID_INPUT"

	ErrCodeIntentParsingFailed ErrorCode = "INTENT_PARSING_FAILED"
	ErrCodeIntentAPITimeout    ErrorCode = "INTENT_API_TIMEOUT"

	ErrCodeLLMTimeout         ErrorCode = "LLM_TIMEOUT"
	ErrCodeLLMRequestFailed   ErrorCode = "LLM_REQUEST_FAILED"
	ErrCodeLLMSynthesisFailed ErrorCode = "LLM_SYNTHESIS_FAILED"
	ErrCodeLLMUnavailable     ErrorCode = "LLM_UNAVAILABLE"

	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	ErrCodeWebSearchTimeout ErrorCode = "WEB_SEARCH_TIMEOUT"
	ErrCodeWebSearchFailed  ErrorCode = "WEB_SEARCH_FAILED"

	ErrCodeDataSourceQueryFailed    ErrorCode = "DATASOURCE_QUERY_FAILED"
	ErrCodeDataSourceTimeout        ErrorCode = "DATASOURCE_TIMEOUT"
	ErrCodeElasticsearchQueryFailed ErrorCode = "ELASTICSEARCH_QUERY_FAILED"

	ErrCodeAgentExecutionFailed ErrorCode = "AGENT_EXECUTION_FAILED"
	ErrCodeAgentTimeout         ErrorCode = "AGENT_TIMEOUT"

	ErrCodeJobNotFound    ErrorCode = "JOB_NOT_FOUND"
	ErrCodeJobStoreFailed ErrorCode = "JOB_STORE_FAILED"

	ErrCodeWorkflowEngineFailed ErrorCode = "WORKFLOW_ENGINE_FAILED"

	ErrCodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeSessionExpired  ErrorCode = "SESSION_EXPIRED"
	ErrCodeUnauthorized    ErrorCode = "UNAUTHORIZED"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// WithMetadata attaches a metadata entry and returns the same error.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = map[string]interface{}{}
	}
	e.Metadata[key] = value
	return e
}

// As extracts a StandardError from an error chain.
func As(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func newError(code ErrorCode, message, details string, retryable bool) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

// NewGuardrailBlockedError marks a query rejected by input validation.
func NewGuardrailBlockedError(flags []string) *StandardError {
	return newError(ErrCodeGuardrailBlocked, "Query rejected by guardrails", strings.Join(flags, ","), false)
}

func NewInvalidInputError(details string) *StandardError {
	return newError(ErrCodeInvalidInput, "Invalid input", details, false)
}

func NewIntentParsingFailedError(err error) *StandardError {
	return newError(ErrCodeIntentParsingFailed, "Intent classification response could not be parsed", err.Error(), true)
}

func NewIntentAPITimeoutError() *StandardError {
	return newError(ErrCodeIntentAPITimeout, "Intent classification timeout", "LLM call exceeded timeout threshold", true)
}

func NewLLMTimeoutError() *StandardError {
	return newError(ErrCodeLLMTimeout, "LLM call timeout", "LLM call exceeded timeout threshold", true)
}

func NewLLMRequestFailedError(err error) *StandardError {
	return newError(ErrCodeLLMRequestFailed, "LLM request failed", err.Error(), true)
}

func NewLLMSynthesisFailedError(err error) *StandardError {
	return newError(ErrCodeLLMSynthesisFailed, "LLM synthesis failed", err.Error(), true)
}

func NewLLMUnavailableError(details string) *StandardError {
	return newError(ErrCodeLLMUnavailable, "LLM provider unavailable", details, false)
}

// NewRateLimitExceededError is never retried: retrying would defeat the quota.
func NewRateLimitExceededError(api string, current, limit int64) *StandardError {
	return newError(ErrCodeRateLimitExceeded, "Daily quota exhausted",
		fmt.Sprintf("api: %s, used: %d, limit: %d", api, current, limit), false)
}

func NewWebSearchTimeoutError() *StandardError {
	return newError(ErrCodeWebSearchTimeout, "Web search API timeout", "search call exceeded timeout", false)
}

func NewWebSearchFailedError(err error) *StandardError {
	return newError(ErrCodeWebSearchFailed, "Web search API error", err.Error(), true)
}

func NewDataSourceQueryFailedError(dataset string, err error) *StandardError {
	return newError(ErrCodeDataSourceQueryFailed, "Data source lookup failed",
		fmt.Sprintf("dataset: %s, error: %s", dataset, err.Error()), true)
}

func NewDataSourceTimeoutError(dataset string) *StandardError {
	return newError(ErrCodeDataSourceTimeout, "Data source lookup timeout", fmt.Sprintf("dataset: %s", dataset), true)
}

func NewElasticsearchQueryFailedError(index string, err error) *StandardError {
	return newError(ErrCodeElasticsearchQueryFailed, "Elasticsearch query error",
		fmt.Sprintf("index: %s, error: %s", index, err.Error()), true)
}

func NewAgentExecutionFailedError(agent string, err error) *StandardError {
	return newError(ErrCodeAgentExecutionFailed, "Agent execution failed",
		fmt.Sprintf("agent: %s, error: %s", agent, err.Error()), false)
}

func NewAgentTimeoutError(agent string, timeout time.Duration) *StandardError {
	return newError(ErrCodeAgentTimeout, "Agent execution timeout",
		fmt.Sprintf("agent: %s, timeout: %s", agent, timeout), false)
}

func NewJobNotFoundError(jobID string) *StandardError {
	return newError(ErrCodeJobNotFound, "Job not found", fmt.Sprintf("jobId: %s", jobID), false)
}

func NewJobStoreFailedError(err error) *StandardError {
	return newError(ErrCodeJobStoreFailed, "Job store error", err.Error(), true)
}

func NewWorkflowEngineError(operation string, err error, retryable bool) *StandardError {
	return newError(ErrCodeWorkflowEngineFailed, "Workflow engine error", fmt.Sprintf("%s: %v", operation, err), retryable).
		WithMetadata("operation", operation)
}

func NewSessionNotFoundError() *StandardError {
	return newError(ErrCodeSessionNotFound, "Session not found", "", false)
}

func NewSessionExpiredError() *StandardError {
	return newError(ErrCodeSessionExpired, "Session expired", "", false)
}

func NewUnauthorizedError(details string) *StandardError {
	return newError(ErrCodeUnauthorized, "Unauthorized", details, false)
}

func NewInternalError(err error) *StandardError {
	return newError(ErrCodeInternal, "Unexpected error", err.Error(), false)
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// BPMNErrorMapping maps internal error codes to the codes caught by boundary events.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeGuardrailBlocked:         "GUARDRAIL_BLOCKED",
	ErrCodeInvalidInput:             "INVALID_INPUT",
	ErrCodeIntentParsingFailed:      "INTENT_PARSING_FAILED",
	ErrCodeIntentAPITimeout:         "INTENT_API_TIMEOUT",
	ErrCodeLLMTimeout:               "LLM_TIMEOUT",
	ErrCodeLLMRequestFailed:         "LLM_REQUEST_FAILED",
	ErrCodeLLMSynthesisFailed:       "LLM_SYNTHESIS_FAILED",
	ErrCodeLLMUnavailable:           "LLM_UNAVAILABLE",
	ErrCodeRateLimitExceeded:        "RATE_LIMIT_EXCEEDED",
	ErrCodeWebSearchTimeout:         "WEB_SEARCH_TIMEOUT",
	ErrCodeWebSearchFailed:          "WEB_SEARCH_FAILED",
	ErrCodeDataSourceQueryFailed:    "DATASOURCE_QUERY_FAILED",
	ErrCodeDataSourceTimeout:        "DATASOURCE_TIMEOUT",
	ErrCodeElasticsearchQueryFailed: "ELASTICSEARCH_QUERY_FAILED",
	ErrCodeAgentExecutionFailed:     "AGENT_EXECUTION_FAILED",
	ErrCodeAgentTimeout:             "AGENT_TIMEOUT",
	ErrCodeJobNotFound:              "JOB_NOT_FOUND",
	ErrCodeJobStoreFailed:           "JOB_STORE_FAILED",
	ErrCodeWorkflowEngineFailed:     "WORKFLOW_ENGINE_FAILED",
}

// GetRetryCount returns the recommended retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeLLMRequestFailed,
		ErrCodeLLMSynthesisFailed,
		ErrCodeIntentParsingFailed,
		ErrCodeWebSearchFailed,
		ErrCodeDataSourceQueryFailed,
		ErrCodeElasticsearchQueryFailed,
		ErrCodeJobStoreFailed,
		ErrCodeWorkflowEngineFailed:
		return 3

	case ErrCodeDataSourceTimeout,
		ErrCodeIntentAPITimeout:
		return 2

	case ErrCodeLLMTimeout:
		return 1

	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      bpmnCode,
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// ==========================
// 5. Utility Functions
// ==========================

func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "GUARDRAIL") || strings.Contains(codeStr, "INVALID"):
		return "VALIDATION"
	case strings.Contains(codeStr, "RATE_LIMIT"):
		return "QUOTA"
	case strings.Contains(codeStr, "INTENT") || strings.Contains(codeStr, "LLM"):
		return "AI"
	case strings.Contains(codeStr, "WEB_SEARCH") || strings.Contains(codeStr, "ELASTICSEARCH"):
		return "SEARCH"
	case strings.Contains(codeStr, "DATASOURCE"):
		return "DATA"
	case strings.Contains(codeStr, "AGENT"):
		return "AGENT"
	case strings.Contains(codeStr, "JOB") || strings.Contains(codeStr, "WORKFLOW"):
		return "JOB"
	case strings.Contains(codeStr, "SESSION") || strings.Contains(codeStr, "UNAUTHORIZED"):
		return "AUTH"
	default:
		return "OTHER"
	}
}

// HTTPStatus maps a code to the status the API layer answers with.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeInvalidInput, ErrCodeGuardrailBlocked:
		return http.StatusBadRequest
	case ErrCodeUnauthorized, ErrCodeSessionNotFound, ErrCodeSessionExpired:
		return http.StatusUnauthorized
	case ErrCodeJobNotFound:
		return http.StatusNotFound
	case ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case ErrCodeLLMUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
