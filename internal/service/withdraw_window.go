package service

import (
	"time"

	"github.com/ayo6706/custody-ledger/internal/domain"
	"github.com/ayo6706/custody-ledger/internal/models"
)

// DispatchWindow is the time of day during which fiat requests may be sent
// to a bank automatically.
type DispatchWindow struct {
	Location    *time.Location
	StartHour   int
	EndHour     int
	StartMinute int
	EndMinute   int
	// ProcessingGrace widens the minute range for requests already in
	// processing, which wait out the cancellation delay first.
	ProcessingGrace int
}

// DefaultDispatchWindow opens minutes 35 to 45 of each hour from 08 to 20,
// Tehran time.
func DefaultDispatchWindow() DispatchWindow {
	loc, err := time.LoadLocation("Asia/Tehran")
	if err != nil {
		loc = time.FixedZone("IRST", 3*3600+1800)
	}
	return DispatchWindow{Location: loc, StartHour: 8, EndHour: 20, StartMinute: 35, EndMinute: 45, ProcessingGrace: 4}
}

// CanAutomaticallySend reports whether req may be dispatched at now. Coin
// and internal requests are only gated by their status.
func (w DispatchWindow) CanAutomaticallySend(req models.WithdrawRequest, now time.Time) bool {
	if req.IsFiat() && !req.IsInternal() {
		loc := w.Location
		if loc == nil {
			loc = time.UTC
		}
		local := now.In(loc)
		if local.Hour() < w.StartHour || local.Hour() > w.EndHour {
			return false
		}
		end := w.EndMinute
		if req.Status == domain.WithdrawProcessing {
			end += w.ProcessingGrace
		}
		if local.Minute() < w.StartMinute || local.Minute() > end {
			return false
		}
	}
	return req.Status.Pending()
}
