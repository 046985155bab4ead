package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// Settlement rejection kinds. Every one of them is detected before any
// mutation, so a rejected request leaves state unchanged.
var (
	ErrAlreadyInitialized  = errors.New("already initialized")
	ErrNotInitialized      = errors.New("not initialized")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidRatio        = errors.New("invalid ratio")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrZeroOutput          = errors.New("zero output")
	ErrInsufficientReserve = errors.New("insufficient reserve")

	// ErrOverflow is returned when checked arithmetic would leave uint64.
	ErrOverflow = errors.New("arithmetic overflow")

	ErrInvalidIdentity = errors.New("invalid identity")
	ErrInvalidAsset    = errors.New("invalid asset")
	ErrInvalidPool     = errors.New("invalid pool")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)

// SettlementError tags a rejection kind with the operation that produced it.
// Rejections are deterministic, so they are never retriable.
type SettlementError struct {
	Op  string // "initialize", "exchange", "update_ratio", ...
	Err error  // One of the Err* kinds above
}

func (e *SettlementError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *SettlementError) IsRetriable() bool {
	return false
}

func (e *SettlementError) Unwrap() error {
	return e.Err
}

// Reject wraps a rejection kind for the given operation.
func Reject(op string, err error) *SettlementError {
	return &SettlementError{Op: op, Err: err}
}

// StorageError represents a persistence failure. Nothing was committed, so
// the caller may retry the whole request.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "storage " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) IsRetriable() bool {
	return true
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
