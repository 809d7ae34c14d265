package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryTransient covers RPC timeouts, broker hiccups, aggregator 5xx and
	// confirmation timeouts. The task is requeued.
	CategoryTransient ErrorCategory = "transient"
	// CategoryInsufficientFunds is a resource shortfall. The job waits.
	CategoryInsufficientFunds ErrorCategory = "insufficient_funds"
	// CategoryOnChain is a program error or exceeded slippage.
	CategoryOnChain ErrorCategory = "onchain"
	// CategoryConfiguration is a job or deployment misconfiguration.
	CategoryConfiguration ErrorCategory = "configuration"
	// CategoryDatabase represents job store errors
	CategoryDatabase ErrorCategory = "database"
)

// CategorizedError represents an error with a handling category
type CategorizedError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Details  map[string]interface{}
	Cause    error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// Transient errors

// NewRPCError wraps a failed blockchain RPC call
func NewRPCError(method string, cause error) *CategorizedError {
	return &CategorizedError{
		Category: CategoryTransient,
		Code:     "RPC_ERROR",
		Message:  fmt.Sprintf("rpc call %s failed", method),
		Cause:    cause,
		Details: map[string]interface{}{
			"method": method,
		},
	}
}

// NewAggregatorError wraps a failed aggregator request
func NewAggregatorError(endpoint string, status int, cause error) *CategorizedError {
	return &CategorizedError{
		Category: CategoryTransient,
		Code:     "AGGREGATOR_ERROR",
		Message:  fmt.Sprintf("aggregator %s failed with status %d", endpoint, status),
		Cause:    cause,
		Details: map[string]interface{}{
			"endpoint": endpoint,
			"status":   status,
		},
	}
}

// NewConfirmationTimeoutError reports a signature that never reached the
// target commitment within the confirmation window
func NewConfirmationTimeoutError(signature string) *CategorizedError {
	return &CategorizedError{
		Category: CategoryTransient,
		Code:     "CONFIRMATION_TIMEOUT",
		Message:  fmt.Sprintf("transaction %s not confirmed in time", signature),
		Details: map[string]interface{}{
			"signature": signature,
		},
	}
}

// NewBrokerError wraps a queue failure
func NewBrokerError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category: CategoryTransient,
		Code:     "BROKER_ERROR",
		Message:  fmt.Sprintf("queue error during %s", operation),
		Cause:    cause,
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category: CategoryDatabase,
		Code:     "DATABASE_ERROR",
		Message:  fmt.Sprintf("database error during %s", operation),
		Cause:    cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewInsufficientFundsError reports a balance below requirement
func NewInsufficientFundsError(asset string, have, need uint64) *CategorizedError {
	return &CategorizedError{
		Category: CategoryInsufficientFunds,
		Code:     "INSUFFICIENT_FUNDS",
		Message:  fmt.Sprintf("insufficient %s: have %d, need %d", asset, have, need),
		Details: map[string]interface{}{
			"asset": asset,
			"have":  have,
			"need":  need,
		},
	}
}

// On-chain errors

// NewChainError reports a transaction that landed with a program error
func NewChainError(signature string, chainErr interface{}) *CategorizedError {
	return &CategorizedError{
		Category: CategoryOnChain,
		Code:     "CHAIN_ERROR",
		Message:  fmt.Sprintf("transaction %s failed on chain: %v", signature, chainErr),
		Details: map[string]interface{}{
			"signature": signature,
			"chainErr":  fmt.Sprint(chainErr),
		},
	}
}

// NewSlippageError reports a quote that cannot satisfy the slippage bound
func NewSlippageError(minOut, out uint64) *CategorizedError {
	return &CategorizedError{
		Category: CategoryOnChain,
		Code:     "SLIPPAGE_EXCEEDED",
		Message:  fmt.Sprintf("output %d below minimum %d", out, minOut),
	}
}

// Configuration errors

// NewConfigurationError creates a configuration error
func NewConfigurationError(code, message string) *CategorizedError {
	return &CategorizedError{
		Category: CategoryConfiguration,
		Code:     code,
		Message:  message,
	}
}

// NewPoolNotFoundError reports an unknown bonding-curve pool
func NewPoolNotFoundError(pool string, cause error) *CategorizedError {
	return &CategorizedError{
		Category: CategoryConfiguration,
		Code:     "POOL_NOT_FOUND",
		Message:  fmt.Sprintf("pool not found: %s", pool),
		Cause:    cause,
		Details: map[string]interface{}{
			"pool": pool,
		},
	}
}

// NewDecimalsMismatchError reports token decimals that disagree with chain state
func NewDecimalsMismatchError(mint string, configured, onChain uint8) *CategorizedError {
	return &CategorizedError{
		Category: CategoryConfiguration,
		Code:     "DECIMALS_MISMATCH",
		Message:  fmt.Sprintf("mint %s configured with %d decimals, chain reports %d", mint, configured, onChain),
	}
}

// NewUnknownDexError reports a job with an unsupported dex id
func NewUnknownDexError(dexID string) *CategorizedError {
	return &CategorizedError{
		Category: CategoryConfiguration,
		Code:     "UNKNOWN_DEX",
		Message:  fmt.Sprintf("unsupported dex id %q", dexID),
	}
}

// Categorize categorizes an existing error. Uncategorized errors are treated as
// transient so they are retried a bounded number of times.
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		return &CategorizedError{
			Category: CategoryTransient,
			Code:     "TIMEOUT",
			Message:  "operation timed out",
			Cause:    err,
		}
	}

	return &CategorizedError{
		Category: CategoryTransient,
		Code:     "UNEXPECTED",
		Message:  "unexpected error",
		Cause:    err,
	}
}

// IsRetryable determines if an error is retryable
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryTransient, CategoryDatabase:
		return true
	default:
		return false
	}
}

// IsConfirmationTimeout reports whether err is a signature that never
// confirmed within the polling window
func IsConfirmationTimeout(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Code == "CONFIRMATION_TIMEOUT"
}

// IsCategory reports whether err carries the given category
func IsCategory(err error, category ErrorCategory) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Category == category
}
