package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrDuplicateReference      = errors.New("duplicate ledger reference")
	ErrValidationRejected      = errors.New("raw transaction rejected")
	ErrExternalQueryFailed     = errors.New("external query failed")
	ErrIllegalStatusTransition = errors.New("illegal status transition")
	ErrAlreadySettled          = errors.New("withdraw already settled")
	ErrInternalTransfer        = errors.New("withdraw is an internal transfer")

	ErrWalletNotFound              = errors.New("wallet not found")
	ErrWalletInactive              = errors.New("wallet is not active")
	ErrInvalidAmount               = errors.New("invalid amount for transaction kind")
	ErrUnknownCurrency             = errors.New("unknown currency")
	ErrUnknownNetwork              = errors.New("unknown network")
	ErrDepositAddressNotFound      = errors.New("deposit address not found")
	ErrWithdrawNotFound            = errors.New("withdraw request not found")
	ErrNotCancelable               = errors.New("withdraw request is not cancelable")
	ErrNotDispatchable             = errors.New("withdraw request is not dispatchable")
	ErrOutsideDispatchWindow       = errors.New("outside settlement dispatch window")
	ErrInvalidVerificationCode     = errors.New("invalid verification code")
	ErrUnsupportedSettlementMethod = errors.New("unsupported settlement method")
	ErrInvalidSignature            = errors.New("invalid signature")
	ErrInvalidCallback             = errors.New("invalid settlement callback")
	ErrRequestLimitExceeded        = errors.New("withdraw request limit exceeded")
	ErrInvalidDestination          = errors.New("invalid withdraw destination")
	ErrInvalidTransfer             = errors.New("invalid transfer")
	ErrCurrencyMismatch            = errors.New("currency mismatch")
)

// RejectionError carries the reason a raw transaction was dropped by validation.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidationRejected.Error(), e.Reason)
}

func (e *RejectionError) Unwrap() error { return ErrValidationRejected }

// Reject builds a validation rejection for reason.
func Reject(reason string) error {
	return &RejectionError{Reason: reason}
}

// RejectionReason extracts the reason from err, or "" when err is no rejection.
func RejectionReason(err error) string {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej.Reason
	}
	return ""
}
