package tx

import (
	"errors"
	"fmt"
)

// ErrVerify is the base of every authentication failure. Verification
// failures reject the transaction; they are never panics.
var ErrVerify = errors.New("verification failed")

// ErrSigning indicates a failure while producing a signature.
var ErrSigning = errors.New("signing failed")

// ErrIncompatibleSpendingCondition indicates an operation that does not
// apply to the authorization's shape (e.g. setting a sponsor on a
// standard authorization).
var ErrIncompatibleSpendingCondition = errors.New("incompatible spending condition")

// newVerifyError wraps a formatted message in ErrVerify.
func newVerifyError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrVerify, fmt.Sprintf(format, args...))
}
