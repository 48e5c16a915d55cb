package domain

// WithdrawStatus is the persisted status code of a withdraw request.
type WithdrawStatus int

const (
	WithdrawNew            WithdrawStatus = 1
	WithdrawVerified       WithdrawStatus = 2
	WithdrawAccepted       WithdrawStatus = 3
	WithdrawSent           WithdrawStatus = 4
	WithdrawDone           WithdrawStatus = 5
	WithdrawRejected       WithdrawStatus = 6
	WithdrawProcessing     WithdrawStatus = 7
	WithdrawCanceled       WithdrawStatus = 8
	WithdrawWaiting        WithdrawStatus = 9
	WithdrawManualAccepted WithdrawStatus = 10
)

var withdrawStatusNames = map[WithdrawStatus]string{
	WithdrawNew:            "new",
	WithdrawVerified:       "verified",
	WithdrawAccepted:       "accepted",
	WithdrawSent:           "sent",
	WithdrawDone:           "done",
	WithdrawRejected:       "rejected",
	WithdrawProcessing:     "processing",
	WithdrawCanceled:       "canceled",
	WithdrawWaiting:        "waiting",
	WithdrawManualAccepted: "manual_accepted",
}

func (s WithdrawStatus) String() string {
	if name, ok := withdrawStatusNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseWithdrawStatus maps a status name back to its code.
func ParseWithdrawStatus(name string) (WithdrawStatus, bool) {
	for code, n := range withdrawStatusNames {
		if n == name {
			return code, true
		}
	}
	return 0, false
}

// Rank positions the status in the total order used to reject backward moves.
// accepted and manual_accepted share a rank.
func (s WithdrawStatus) Rank() int {
	switch s {
	case WithdrawNew:
		return 1
	case WithdrawVerified:
		return 2
	case WithdrawWaiting:
		return 3
	case WithdrawAccepted, WithdrawManualAccepted:
		return 4
	case WithdrawProcessing:
		return 5
	case WithdrawSent:
		return 6
	case WithdrawDone:
		return 7
	case WithdrawCanceled:
		return 8
	case WithdrawRejected:
		return 9
	default:
		return 0
	}
}

func (s WithdrawStatus) Valid() bool { return s.Rank() > 0 }

// Committed statuses are final from the ledger's point of view.
func (s WithdrawStatus) Committed() bool {
	return s == WithdrawSent || s == WithdrawDone
}

// Failed statuses are terminal and carry no further obligations.
func (s WithdrawStatus) Failed() bool {
	return s == WithdrawCanceled || s == WithdrawRejected
}

// Acceptable statuses can move to accepted.
func (s WithdrawStatus) Acceptable() bool {
	return s == WithdrawVerified || s == WithdrawWaiting
}

// Pending statuses are eligible for the automatic processing flow.
func (s WithdrawStatus) Pending() bool {
	switch s {
	case WithdrawVerified, WithdrawAccepted, WithdrawManualAccepted, WithdrawProcessing, WithdrawWaiting:
		return true
	default:
		return false
	}
}

// Cancelable statuses may still be canceled by the owner.
func (s WithdrawStatus) Cancelable() bool {
	switch s {
	case WithdrawNew, WithdrawVerified, WithdrawWaiting, WithdrawAccepted, WithdrawProcessing:
		return true
	default:
		return false
	}
}

// Accepted reports whether the request was accepted automatically or by an operator.
func (s WithdrawStatus) Accepted() bool {
	return s == WithdrawAccepted || s == WithdrawManualAccepted
}

// DispatchPriority orders claimed requests so that those closest to settlement go first.
var DispatchPriority = []WithdrawStatus{
	WithdrawAccepted,
	WithdrawManualAccepted,
	WithdrawProcessing,
	WithdrawWaiting,
	WithdrawVerified,
}
