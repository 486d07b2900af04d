// Package errors classifies failures of a backup run and retries the ones
// worth retrying.
package errors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/go-sql-driver/mysql"
)

// ErrorType is the category an error is classified into
type ErrorType string

const (
	ErrorTypeConnection   ErrorType = "connection"
	ErrorTypeSQL          ErrorType = "sql"
	ErrorTypeSchema       ErrorType = "schema"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypePermission   ErrorType = "permission"
	ErrorTypeTimeout      ErrorType = "timeout"
	ErrorTypeInterruption ErrorType = "interruption"
	ErrorTypeStorage      ErrorType = "storage"
	ErrorTypeUnknown      ErrorType = "unknown"
)

// AppError is a classified error with optional context values
type AppError struct {
	Type        ErrorType
	Message     string
	Cause       error
	Context     map[string]interface{}
	Recoverable bool
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// IsRecoverable reports whether retrying may succeed
func (e *AppError) IsRecoverable() bool {
	return e.Recoverable
}

// WithContext attaches a value and returns e for chaining
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a non-recoverable error
func NewAppError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{Type: errorType, Message: message, Cause: cause, Context: map[string]interface{}{}}
}

// NewRecoverableError creates an error the retry handler will retry
func NewRecoverableError(errorType ErrorType, message string, cause error) *AppError {
	e := NewAppError(errorType, message, cause)
	e.Recoverable = true
	return e
}

// mysqlRule is how one server error number is classified
type mysqlRule struct {
	errorType   ErrorType
	message     string
	recoverable bool
}

var mysqlRules = map[uint16]mysqlRule{
	1044: {ErrorTypePermission, "Database access denied - check username and password", false},
	1045: {ErrorTypePermission, "Database access denied - check username and password", false},
	1049: {ErrorTypeValidation, "Database does not exist", false},
	1142: {ErrorTypePermission, "Insufficient privileges to read table", false},
	1146: {ErrorTypeSchema, "Table does not exist", false},
	1040: {ErrorTypeConnection, "Server refused the connection - too many connections", true},
	1203: {ErrorTypeConnection, "Server refused the connection - too many connections", true},
	2003: {ErrorTypeConnection, "Cannot connect to MySQL server", true},
	2006: {ErrorTypeConnection, "MySQL server connection lost", true},
	2013: {ErrorTypeConnection, "MySQL server connection lost", true},
}

// ErrorClassifier maps driver, network, context and filesystem errors onto AppErrors
type ErrorClassifier struct{}

// NewErrorClassifier creates a new error classifier
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// ClassifyError returns err as an AppError. Errors that already are one are
// returned unchanged; anything unrecognised is ErrorTypeUnknown.
func (ec *ErrorClassifier) ClassifyError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	for _, classify := range []func(error) *AppError{
		classifyMySQLError,
		classifyContextError,
		classifyNetworkError,
		classifyFileSystemError,
	} {
		if classified := classify(err); classified != nil {
			return classified
		}
	}

	return NewAppError(ErrorTypeUnknown, "An unexpected error occurred", err)
}

func classifyMySQLError(err error) *AppError {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		rule, ok := mysqlRules[mysqlErr.Number]
		if !ok {
			rule = mysqlRule{ErrorTypeSQL, "MySQL error: " + mysqlErr.Message, false}
		}
		classified := NewAppError(rule.errorType, rule.message, err).
			WithContext("mysql_error_code", mysqlErr.Number)
		classified.Recoverable = rule.recoverable
		return classified
	}

	switch {
	case errors.Is(err, mysql.ErrInvalidConn):
		return NewRecoverableError(ErrorTypeConnection, "Invalid database connection", err)
	case errors.Is(err, sql.ErrConnDone):
		return NewRecoverableError(ErrorTypeConnection, "Database connection is closed", err)
	case errors.Is(err, sql.ErrNoRows):
		return NewAppError(ErrorTypeValidation, "No rows found", err)
	}
	return nil
}

func classifyNetworkError(err error) *AppError {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial":
			return NewRecoverableError(ErrorTypeConnection, "Failed to establish network connection", err)
		case "read", "write":
			return NewRecoverableError(ErrorTypeConnection, "Network I/O error", err)
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return NewRecoverableError(ErrorTypeConnection, "Cannot resolve host "+dnsErr.Name, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewRecoverableError(ErrorTypeTimeout, "Network operation timed out", err)
	}
	return nil
}

func classifyContextError(err error) *AppError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewAppError(ErrorTypeTimeout, "Operation timed out", err)
	case errors.Is(err, context.Canceled):
		return NewAppError(ErrorTypeInterruption, "Operation was canceled", err)
	}
	return nil
}

func classifyFileSystemError(err error) *AppError {
	var pathErr *os.PathError
	if !errors.As(err, &pathErr) {
		return nil
	}
	switch pathErr.Err {
	case syscall.ENOENT:
		return NewAppError(ErrorTypeStorage, "File or directory not found: "+pathErr.Path, err)
	case syscall.EACCES, syscall.EPERM:
		return NewAppError(ErrorTypePermission, "Permission denied: "+pathErr.Path, err)
	case syscall.ENOSPC:
		return NewAppError(ErrorTypeStorage, "No space left on device", err)
	case syscall.ENAMETOOLONG:
		return NewAppError(ErrorTypeStorage, "Path too long: "+pathErr.Path, err)
	}
	return nil
}

// RetryConfig is the connection retry policy
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64

	// ShouldRetry decides whether a classified failure gets another attempt.
	// Nil means only recoverable errors are retried.
	ShouldRetry func(*AppError) bool

	// OnRetry is called after a failed attempt that will be retried.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig is three attempts starting at one second, doubling
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
}

// RetryHandler runs an operation until it succeeds, fails for good or the
// attempt budget is spent.
type RetryHandler struct {
	config     RetryConfig
	classifier *ErrorClassifier
}

// NewRetryHandler creates a retry handler. Non-positive attempts mean one try.
func NewRetryHandler(config RetryConfig) *RetryHandler {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 1
	}
	return &RetryHandler{config: config, classifier: NewErrorClassifier()}
}

// Retry executes operation with exponential backoff. The returned AppError
// carries the number of attempts made under the "attempts" context key.
func (rh *RetryHandler) Retry(ctx context.Context, operation func() error) error {
	var lastErr error
	attempts := 0

	for attempt := 1; attempt <= rh.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return NewAppError(ErrorTypeInterruption, "Operation canceled", err).
				WithContext("attempts", attempts)
		}

		attempts = attempt
		err := operation()
		if err == nil {
			return nil
		}

		lastErr = err
		appErr := rh.classifier.ClassifyError(err)
		if !rh.shouldRetry(appErr) {
			return appErr.WithContext("attempts", attempts)
		}
		if attempt == rh.config.MaxAttempts {
			break
		}

		delay := rh.calculateDelay(attempt)
		if rh.config.OnRetry != nil {
			rh.config.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return NewAppError(ErrorTypeInterruption, "Operation canceled during retry", ctx.Err()).
				WithContext("attempts", attempts)
		case <-timer.C:
		}
	}

	return rh.classifier.ClassifyError(lastErr).WithContext("attempts", attempts)
}

func (rh *RetryHandler) shouldRetry(appErr *AppError) bool {
	if rh.config.ShouldRetry != nil {
		return rh.config.ShouldRetry(appErr)
	}
	return appErr.IsRecoverable()
}

// calculateDelay is BaseDelay * Multiplier^(attempt-1), capped at MaxDelay
func (rh *RetryHandler) calculateDelay(attempt int) time.Duration {
	delay := float64(rh.config.BaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= rh.config.Multiplier
	}
	if rh.config.MaxDelay > 0 && time.Duration(delay) > rh.config.MaxDelay {
		return rh.config.MaxDelay
	}
	return time.Duration(delay)
}

// AttemptsFrom returns the attempt count recorded by RetryHandler.Retry, or 0.
func AttemptsFrom(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		if n, ok := appErr.Context["attempts"].(int); ok {
			return n
		}
	}
	return 0
}

// GetErrorType returns the type of the first AppError in err's chain
func GetErrorType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeUnknown
}

// WrapError classifies err and replaces its message, keeping err as the cause
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		wrapped := NewAppError(appErr.Type, message, err)
		wrapped.Recoverable = appErr.Recoverable
		return wrapped
	}

	classified := NewErrorClassifier().ClassifyError(err)
	classified.Message = message
	return classified
}
