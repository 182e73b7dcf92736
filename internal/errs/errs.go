package errs

import "errors"

const (
	CodeInvalidArgs   = "invalid_args"
	CodeConfigMissing = "config_missing"
	CodeHTTPError     = "http_error"
	CodeHTTPRetry     = "http_retry"
	CodeUnauthorized  = "unauthorized"
	CodeIndexFailed   = "index_failed"
	CodeInternal      = "internal_error"
)

type AppError struct {
	Code    string
	Message string
	Details interface{}
	Status  int
	Err     error
}

func (e AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e AppError) Unwrap() error {
	return e.Err
}

func New(code, message string, details interface{}) error {
	return AppError{Code: code, Message: message, Details: details}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code, message string) error {
	if err == nil {
		return nil
	}
	return AppError{Code: code, Message: message, Err: err}
}

// HTTP builds an http_error carrying the remote status code.
func HTTP(status int, message string, body string) error {
	return AppError{Code: CodeHTTPError, Message: message, Details: body, Status: status}
}

// As returns the AppError in err's chain, if any.
func As(err error) (AppError, bool) {
	var appErr AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return AppError{}, false
}

func HasCode(err error, code string) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}
