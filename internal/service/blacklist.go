package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/ayo6706/custody-ledger/internal/domain"
	"github.com/ayo6706/custody-ledger/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// blacklistHit describes what matched and on whose behalf.
type blacklistHit struct {
	OwnerID   uuid.UUID
	Currency  string
	Addresses []string
	Subject   string
	SubjectID uuid.UUID
}

// restrictBlacklisted checks addresses against the active blacklist. A match
// restricts the owner's withdrawals and queues an operator alert; it is never
// an error for the caller.
func restrictBlacklisted(ctx context.Context, qtx *repository.Queries, box *outbox, hit blacklistHit, deposit bool) (bool, error) {
	matches, err := qtx.MatchBlacklist(ctx, hit.Addresses, hit.Currency, deposit)
	if err != nil {
		return false, fmt.Errorf("match blacklist: %w", err)
	}
	if len(matches) == 0 {
		return false, nil
	}

	matched := make([]string, 0, len(matches))
	for _, m := range matches {
		matched = append(matched, m.Address)
	}
	description := fmt.Sprintf("%s %s touched blacklisted address %s", hit.Subject, hit.SubjectID, strings.Join(matched, ","))

	added, err := qtx.AddUserRestriction(ctx, hit.OwnerID, domain.RestrictionWithdrawRequest, description)
	if err != nil {
		return false, fmt.Errorf("add user restriction: %w", err)
	}

	eventType := domain.EventWithdrawBlacklisted
	if deposit {
		eventType = domain.EventDepositBlacklisted
	}
	box.add(domain.StreamOperatorAlerts, eventType, map[string]any{
		"user_id":         hit.OwnerID.String(),
		"currency":        hit.Currency,
		"addresses":       matched,
		"subject":         hit.Subject,
		"subject_id":      hit.SubjectID.String(),
		"new_restriction": added,
	})
	zap.L().Warn("blacklisted address matched",
		zap.String("user_id", hit.OwnerID.String()),
		zap.String("subject", hit.Subject),
		zap.String("subject_id", hit.SubjectID.String()),
		zap.Strings("addresses", matched))
	return true, nil
}
