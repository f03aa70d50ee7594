package lottery

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadySettled is returned when settlement is attempted for a draw
	// that is already settled. Retrying a completed settlement is a safe
	// no-op: callers get the original result back.
	ErrAlreadySettled = errors.New("draw already settled")

	// ErrInsufficientFunds is returned before a transfer is requested when
	// the source balance cannot cover the amount. No ledger mutation happens.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrGatewayTransferFailed marks a failed payout transfer. It is recorded
	// per transfer in the draw result and is not fatal to the batch.
	ErrGatewayTransferFailed = errors.New("gateway transfer failed")
)

// ValidationError rejects bad purchase input before any mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
