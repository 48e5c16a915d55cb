package domain

// Ledger transaction kinds.
const (
	KindDeposit  = "deposit"
	KindWithdraw = "withdraw"
	KindBuy      = "buy"
	KindSell     = "sell"
	KindFee      = "fee"
	KindManual   = "manual"
	KindGateway  = "gateway"
	KindConvert  = "convert"
	KindTransfer = "transfer"
	KindRefund   = "refund"
)

// Reference modules used as the first half of a ledger idempotency key.
const (
	RefConfirmedDeposit        = "ConfirmedWalletDeposit"
	RefWithdrawRequest         = "WithdrawRequest"
	RefInternalTransferDeposit = "InternalTransferDeposit"
	RefBankDeposit             = "BankDeposit"
	RefReverseTransaction      = "ReverseTransaction"
	RefWithdrawRequestReverse  = "WithdrawRequestReverse"
	RefTransferSource          = "TransferSource"
	RefTransferDestination     = "TransferDestination"
)

// WalletClassSpot is the only wallet class the custody ledger holds.
const WalletClassSpot = "spot"

// Withdraw request types.
const (
	WithdrawTypeNormal   = 0
	WithdrawTypeInternal = 1
)

// Automatic withdraw statuses. Codes 1 and 6 are not produced here.
const (
	AutoWithdrawNew      = 0
	AutoWithdrawDone     = 2
	AutoWithdrawCanceled = 3
	AutoWithdrawSending  = 4
	AutoWithdrawWaiting  = 5
	AutoWithdrawAccepted = 7
)

// AutoWithdrawRetryable reports whether a companion in this state may still be
// canceled by the owner or retried by the dispatcher.
func AutoWithdrawRetryable(status int) bool {
	switch status {
	case AutoWithdrawNew, AutoWithdrawWaiting, AutoWithdrawAccepted:
		return true
	default:
		return false
	}
}

// User restriction kinds.
const (
	RestrictionWithdrawRequest = "WithdrawRequest"
)

// Event streams.
const (
	StreamLedgerEvents   = "ledger_events"
	StreamOperatorAlerts = "operator_alerts"
)

// Event types.
const (
	EventDepositConfirmed       = "deposit_confirmed"
	EventWithdrawStatusChanged  = "withdraw_status_changed"
	EventWithdrawCommitted      = "withdraw_committed"
	EventIllegalTransition      = "illegal_status_transition"
	EventDepositBlacklisted     = "deposit_source_blacklisted"
	EventWithdrawBlacklisted    = "withdraw_destination_blacklisted"
	EventSettlementFailed       = "settlement_failed"
	EventLedgerImbalance        = "ledger_imbalance"
	EventSettlementAfterPayment = "settlement_finalization_failed"
)
