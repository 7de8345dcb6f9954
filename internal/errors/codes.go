package errors

// ErrorCode represents a machine-readable error identifier for API clients.
type ErrorCode string

// Webhook verification errors
const (
	ErrCodeInvalidSignature  ErrorCode = "invalid_signature"
	ErrCodeMissingSignature  ErrorCode = "missing_signature"
	ErrCodeInvalidPayload    ErrorCode = "invalid_payload"
	ErrCodeUnknownProvider   ErrorCode = "unknown_provider"
	ErrCodeProviderDisabled  ErrorCode = "provider_disabled"
	ErrCodeForbiddenSourceIP ErrorCode = "forbidden_source_ip"
)

// Validation errors
const (
	ErrCodeMissingField  ErrorCode = "missing_field"
	ErrCodeInvalidField  ErrorCode = "invalid_field"
	ErrCodeInvalidAmount ErrorCode = "invalid_amount"
	ErrCodeInvalidStatus ErrorCode = "invalid_status"
)

// Authorization errors
const (
	ErrCodeUnauthorized ErrorCode = "unauthorized"
	ErrCodeForbidden    ErrorCode = "forbidden"
)

// Resource/state errors
const (
	ErrCodeOrderNotFound        ErrorCode = "order_not_found"
	ErrCodeSessionNotFound      ErrorCode = "session_not_found"
	ErrCodeNotificationNotFound ErrorCode = "notification_not_found"
	ErrCodeOrderAlreadyPaid     ErrorCode = "order_already_paid"
	ErrCodeInvalidTransition    ErrorCode = "invalid_status_transition"
	ErrCodeSessionExists        ErrorCode = "session_already_exists"
)

// External service errors
const (
	ErrCodeProviderError ErrorCode = "provider_error"
	ErrCodeNetworkError  ErrorCode = "network_error"
	ErrCodeRateLimited   ErrorCode = "rate_limited"
)

// Internal/system errors
const (
	ErrCodeInternalError ErrorCode = "internal_error"
	ErrCodeDatabaseError ErrorCode = "database_error"
)

// IsRetryable returns whether a client may retry the request unchanged.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeProviderError,
		ErrCodeNetworkError,
		ErrCodeRateLimited,
		ErrCodeDatabaseError:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	case ErrCodeInvalidSignature,
		ErrCodeMissingSignature,
		ErrCodeInvalidPayload,
		ErrCodeMissingField,
		ErrCodeInvalidField,
		ErrCodeInvalidAmount,
		ErrCodeInvalidStatus:
		return 400

	case ErrCodeUnauthorized:
		return 401

	case ErrCodeForbidden,
		ErrCodeForbiddenSourceIP:
		return 403

	case ErrCodeUnknownProvider,
		ErrCodeProviderDisabled,
		ErrCodeOrderNotFound,
		ErrCodeSessionNotFound,
		ErrCodeNotificationNotFound:
		return 404

	case ErrCodeOrderAlreadyPaid,
		ErrCodeInvalidTransition,
		ErrCodeSessionExists:
		return 409

	case ErrCodeRateLimited:
		return 429

	case ErrCodeProviderError,
		ErrCodeNetworkError:
		return 502

	default:
		return 500
	}
}
