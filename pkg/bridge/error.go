package bridge

import (
	"errors"
	"net/http"
)

// Error represents an error with the intent to be reported to the caller of a
// bridge operation. Next to an error code and a short human-readable message,
// it contains the HTTP status code used when the error is sent over the HTTP
// surface. The underlying cause, if any, is kept for logging but never sent to
// clients.
type Error struct {
	ErrorCode  string
	Message    string
	StatusCode int

	cause error
}

func (e Error) Error() string {
	if e.cause != nil {
		return e.ErrorCode + ": " + e.Message + ": " + e.cause.Error()
	}
	return e.ErrorCode + ": " + e.Message
}

func (e1 Error) Is(target error) bool {
	e2, ok := target.(Error)
	return ok && e1.ErrorCode == e2.ErrorCode
}

func (e Error) Unwrap() error {
	return e.cause
}

// WithCause returns a copy of e which wraps the given cause.
func (e Error) WithCause(cause error) Error {
	e.cause = cause
	return e
}

// NewError constructs a new Error object with the given error code, message and
// HTTP status code. See the net/http package for standardized status codes.
func NewError(errCode string, message string, statusCode int) Error {
	return Error{
		ErrorCode:  errCode,
		Message:    message,
		StatusCode: statusCode,
	}
}

var (
	ErrNoGrant          = NewError("ERR_NO_GRANT", "No persisted folder", http.StatusConflict)
	ErrMissingArgument  = NewError("ERR_MISSING_ARGUMENT", "Missing argument", http.StatusBadRequest)
	ErrNotFound         = NewError("ERR_NOT_FOUND", "File not found", http.StatusNotFound)
	ErrCreateFailed     = NewError("ERR_CREATE_FAILED", "Create failed", http.StatusInternalServerError)
	ErrWriteFailed      = NewError("ERR_WRITE_FAILED", "Write failed", http.StatusInternalServerError)
	ErrReadFailed       = NewError("ERR_READ_FAILED", "Read failed", http.StatusInternalServerError)
	ErrDeleteFailed     = NewError("ERR_DELETE_FAILED", "Delete failed", http.StatusInternalServerError)
	ErrUserCancelled    = NewError("ERR_USER_CANCELLED", "Folder selection cancelled", http.StatusBadRequest)
	ErrNoHandleReturned = NewError("ERR_NO_HANDLE_RETURNED", "No folder URI returned", http.StatusBadRequest)
	ErrNoPickerHost     = NewError("ERR_NO_PICKER_HOST", "No host available to show the folder picker", http.StatusServiceUnavailable)
	ErrSelectionPending = NewError("ERR_SELECTION_PENDING", "Another folder selection is still in progress", http.StatusConflict)
	ErrSelectionTimeout = NewError("ERR_SELECTION_TIMEOUT", "Folder selection timed out", http.StatusRequestTimeout)
	ErrUnknownSelection = NewError("ERR_UNKNOWN_SELECTION", "No pending folder selection with this token", http.StatusNotFound)
	ErrTreeUnavailable  = NewError("ERR_TREE_UNAVAILABLE", "Folder is not accessible anymore", http.StatusConflict)
	ErrWriteRejected    = NewError("ERR_WRITE_REJECTED", "Write rejected", http.StatusForbidden)
	ErrLockTimeout      = NewError("ERR_LOCK_TIMEOUT", "failed to acquire lock before timeout", http.StatusInternalServerError)
	ErrNotImplemented   = NewError("ERR_NOT_IMPLEMENTED", "feature not implemented", http.StatusNotImplemented)
)

// errorCode returns the code of err if it is an Error, or a generic code for
// all other errors.
func errorCode(err error) string {
	var bErr Error
	if errors.As(err, &bErr) {
		return bErr.ErrorCode
	}
	return "ERR_INTERNAL_SERVER_ERROR"
}
