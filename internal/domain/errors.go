package domain

import (
	"errors"
	"fmt"
)

// Error classes. Every rejection returned by the ledger wraps exactly one of
// these, so callers can branch on the class with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrNotAuthorized   = errors.New("not authorized")
	ErrInvalidState    = errors.New("invalid state")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrPaymentMismatch = errors.New("payment mismatch")
	ErrTransferFailed  = errors.New("transfer failed")
	ErrReentrant       = errors.New("reentrant call")
)

// Specific rejections, each wrapping its class.
var (
	ErrItemNotFound       = fmt.Errorf("%w: item", ErrNotFound)
	ErrCollectionNotFound = fmt.Errorf("%w: collection", ErrNotFound)

	ErrNotSeller = fmt.Errorf("%w: caller is not the seller", ErrNotAuthorized)
	ErrNotOwner  = fmt.Errorf("%w: caller is not the collection owner", ErrNotAuthorized)

	ErrAlreadyListed  = fmt.Errorf("%w: item already listed", ErrInvalidState)
	ErrNotListed      = fmt.Errorf("%w: item not listed", ErrInvalidState)
	ErrAlreadySold    = fmt.Errorf("%w: item already sold", ErrInvalidState)
	ErrAlreadyGrouped = fmt.Errorf("%w: item already in a collection", ErrInvalidState)
	ErrNotGrouped     = fmt.Errorf("%w: item not in a collection", ErrInvalidState)
	ErrNotMember      = fmt.Errorf("%w: item not a member of this collection", ErrInvalidState)

	ErrInvalidPrice = fmt.Errorf("%w: price must be greater than zero", ErrInvalidArgument)

	ErrWrongFee    = fmt.Errorf("%w: listing fee", ErrPaymentMismatch)
	ErrWrongAmount = fmt.Errorf("%w: attached amount", ErrPaymentMismatch)
)

// Infrastructure errors.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrHookRejected        = errors.New("receive hook rejected transfer")
	ErrLockHeld            = errors.New("lock already held")
	ErrPersist             = errors.New("persist failed")
)

// TransferError wraps a collaborator failure as ErrTransferFailed while
// keeping the underlying cause reachable through errors.Is / errors.As.
func TransferError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransferFailed, op, err)
}
