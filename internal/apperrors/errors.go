package apperrors

type ErrorCode string

const (
	ErrorCodeInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrorCodeValidationError    ErrorCode = "VALIDATION_ERROR"
	ErrorCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrorCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrorCodeConflict           ErrorCode = "CONFLICT"
	ErrorCodeSpeakerTimeout     ErrorCode = "SPEAKER_TIMEOUT"
	ErrorCodeSpeakerUnreachable ErrorCode = "SPEAKER_UNREACHABLE"
	ErrorCodeDeviceNotFound     ErrorCode = "DEVICE_NOT_FOUND"
	ErrorCodeDeviceOffline      ErrorCode = "DEVICE_OFFLINE"
	ErrorCodeOperationRejected  ErrorCode = "OPERATION_NOT_SUPPORTED"
	ErrorCodeSourceNotSupported ErrorCode = "SOURCE_NOT_SUPPORTED"
	ErrorCodeVolumeReadFailed   ErrorCode = "VOLUME_READ_FAILED"
	ErrorCodeAuthTokenExpired   ErrorCode = "AUTH_TOKEN_EXPIRED"
	ErrorCodeAuthTokenInvalid   ErrorCode = "AUTH_TOKEN_INVALID"
)

// ErrorBody is the serialized error payload.
type ErrorBody struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// AppError is the base error type for HTTP responses.
type AppError struct {
	Code       ErrorCode
	Message    string
	StatusCode int
	Details    map[string]any
}

func (err *AppError) Error() string {
	return err.Message
}

func (err *AppError) ErrorBody() ErrorBody {
	return ErrorBody{
		Code:    err.Code,
		Message: err.Message,
		Details: err.Details,
	}
}

func NewAppError(code ErrorCode, message string, statusCode int, details map[string]any) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Details:    details,
	}
}

func NewValidationError(message string, details map[string]any) *AppError {
	return NewAppError(ErrorCodeValidationError, message, 400, details)
}

func NewUnauthorizedError(message string, code ...ErrorCode) *AppError {
	errCode := ErrorCodeUnauthorized
	if len(code) > 0 {
		errCode = code[0]
	}
	return NewAppError(errCode, message, 401, nil)
}

func NewNotFoundError(message string, details map[string]any) *AppError {
	return NewAppError(ErrorCodeNotFound, message, 404, details)
}

func NewDeviceNotFoundError(deviceID string) *AppError {
	return NewAppError(ErrorCodeDeviceNotFound, "Device not found: "+deviceID, 404, map[string]any{"device_id": deviceID})
}

func NewDeviceOfflineError(deviceID string) *AppError {
	return NewAppError(ErrorCodeDeviceOffline, "Device is offline: "+deviceID, 503, map[string]any{"device_id": deviceID})
}

// NewOperationRejectedError wraps the speaker's "operation not supported"
// rejection so it reaches the user distinct from generic failures.
func NewOperationRejectedError(message string) *AppError {
	if message == "" {
		message = "The speaker rejected this operation for the current source"
	}
	return NewAppError(ErrorCodeOperationRejected, message, 409, nil)
}

func NewSpeakerUnreachableError(message string) *AppError {
	return NewAppError(ErrorCodeSpeakerUnreachable, message, 502, nil)
}

func NewConflictError(message string, details map[string]any) *AppError {
	return NewAppError(ErrorCodeConflict, message, 409, details)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrorCodeInternalError, message, 500, nil)
}

// EnsureAppError converts an arbitrary error into an AppError.
func EnsureAppError(err error) *AppError {
	if err == nil {
		return NewInternalError("Unknown error")
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return NewInternalError("Internal server error")
}
