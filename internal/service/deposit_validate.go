package service

import (
	"strconv"
	"strings"
	"time"

	"github.com/ayo6706/custody-ledger/internal/chain"
	"github.com/ayo6706/custody-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Rejection reasons reported by ValidateRawTx.
const (
	RejectEmptyHash      = "empty_hash"
	RejectBadTimestamp   = "bad_timestamp"
	RejectTooOld         = "too_old"
	RejectWithdrawal     = "withdrawal"
	RejectZeroValue      = "zero_value"
	RejectDust           = "dust"
	RejectFeeExceedsNet  = "fee_exceeds_value"
	RejectMissingTag     = "missing_tag"
	RejectBadTag         = "bad_tag"
	RejectMissingInvoice = "missing_invoice"
)

// ValidatedTx is a raw transaction that passed validation, with its value
// reduced by deposit fees.
type ValidatedTx struct {
	Hash            string
	Value           decimal.Decimal
	Timestamp       time.Time
	Confirmations   int
	SourceAddresses []string
	Tag             int64
	Invoice         string
	ContractAddress string
	IsDoubleSpend   bool
}

// ValidationInput carries the context a raw transaction is judged in.
type ValidationInput struct {
	Currency domain.CurrencyID
	Network  domain.NetworkPolicy
	// Cutoff is the oldest acceptable timestamp.
	Cutoff  time.Time
	Tagged  bool
	Invoice bool
	// StripHexPrefix drops a leading 0x from long hashes.
	StripHexPrefix    bool
	DepositMinEnabled bool
	DepositFeeEnabled bool
}

// ValidateRawTx checks tx without side effects. Rejections wrap
// domain.ErrValidationRejected and carry the reason.
func ValidateRawTx(tx chain.RawTx, in ValidationInput) (ValidatedTx, error) {
	hash := tx.Hash
	if hash == "" {
		return ValidatedTx{}, domain.Reject(RejectEmptyHash)
	}
	if in.StripHexPrefix && strings.HasPrefix(hash, "0x") && len(hash) > 20 {
		hash = hash[2:]
	}

	if tx.Timestamp == nil {
		return ValidatedTx{}, domain.Reject(RejectBadTimestamp)
	}
	if !in.Cutoff.IsZero() && tx.Timestamp.Before(in.Cutoff) {
		return ValidatedTx{}, domain.Reject(RejectTooOld)
	}

	if tx.Value.IsNegative() {
		return ValidatedTx{}, domain.Reject(RejectWithdrawal)
	}
	if tx.Value.IsZero() && !tx.Huge {
		return ValidatedTx{}, domain.Reject(RejectZeroValue)
	}
	if in.DepositMinEnabled && tx.Value.LessThan(in.Network.DepositMin) {
		return ValidatedTx{}, domain.Reject(RejectDust)
	}

	value := tx.Value
	if in.DepositFeeEnabled {
		value = value.Sub(in.Network.DepositFee)
	}
	contract := ""
	if fee, ok := in.Network.ContractFees[tx.ContractAddress]; ok && tx.ContractAddress != "" {
		value = value.Sub(fee)
		contract = tx.ContractAddress
	}
	value = domain.Quantize(value)
	if !value.IsPositive() {
		return ValidatedTx{}, domain.Reject(RejectFeeExceedsNet)
	}

	out := ValidatedTx{
		Hash:            hash,
		Value:           value,
		Timestamp:       *tx.Timestamp,
		Confirmations:   tx.Confirmations,
		SourceAddresses: uniqueStrings(tx.FromAddresses),
		ContractAddress: contract,
		IsDoubleSpend:   tx.IsDoubleSpend,
	}

	if in.Tagged {
		tag := strings.TrimSpace(tx.Tag)
		if tag == "" {
			return ValidatedTx{}, domain.Reject(RejectMissingTag)
		}
		n, err := strconv.ParseInt(tag, 10, 64)
		if err != nil {
			return ValidatedTx{}, domain.Reject(RejectBadTag)
		}
		out.Tag = n
	}
	if in.Invoice {
		if tx.Invoice == "" {
			return ValidatedTx{}, domain.Reject(RejectMissingInvoice)
		}
		out.Invoice = tx.Invoice
	}
	return out, nil
}

func uniqueStrings(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
