package service

import (
	"fmt"

	"github.com/ayo6706/custody-ledger/internal/domain"
	"github.com/ayo6706/custody-ledger/internal/models"
)

// Effects lists the work a status change requires. Transition computes it;
// the lifecycle executes it inside the same database transaction.
type Effects struct {
	From domain.WithdrawStatus
	To   domain.WithdrawStatus
	// CreateDebit commits the owner's debit when none exists yet.
	CreateDebit bool
	// ReverseDebit refunds an existing debit on cancel or reject.
	ReverseDebit bool
	// CheckDestination matches the destination against the blacklist.
	CheckDestination bool
	// NotifyUser is set when the request first becomes committed.
	NotifyUser bool
	// PublishStatus emits withdraw_status_changed.
	PublishStatus bool
}

// Changed reports whether the transition moves the status at all.
func (e Effects) Changed() bool { return e.From != e.To }

// denied reports moves refused even though they go forward in rank. A
// request that was paid out or already failed never fails again, so its
// debit is reversed at most once and never after settlement.
func denied(from, next domain.WithdrawStatus) bool {
	return next.Failed() && (from.Committed() || from.Failed())
}

// Transition validates a move of req to next and returns its effects. It
// has no side effects. Illegal moves return ErrIllegalStatusTransition with
// an Effects value that keeps the current status.
func Transition(req models.WithdrawRequest, next domain.WithdrawStatus) (Effects, error) {
	from := req.Status
	eff := Effects{From: from, To: next}
	if !next.Valid() {
		eff.To = from
		return eff, fmt.Errorf("%w: unknown status %d", domain.ErrIllegalStatusTransition, next)
	}
	if from == next {
		return eff, nil
	}
	if from.Valid() {
		if next.Rank() < from.Rank() || denied(from, next) {
			eff.To = from
			return eff, fmt.Errorf("%w: %s -> %s", domain.ErrIllegalStatusTransition, from, next)
		}
	}

	hasDebit := req.TransactionID != nil
	eff.PublishStatus = true
	switch {
	case next.Failed():
		eff.ReverseDebit = hasDebit
	case next == domain.WithdrawVerified || next.Committed():
		eff.CreateDebit = !hasDebit
		eff.CheckDestination = true
	default:
		eff.CheckDestination = true
	}
	eff.NotifyUser = from.Valid() && !from.Committed() && next.Committed()
	return eff, nil
}
