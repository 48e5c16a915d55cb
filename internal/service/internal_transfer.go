package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ayo6706/custody-ledger/internal/domain"
	"github.com/ayo6706/custody-ledger/internal/models"
	"github.com/ayo6706/custody-ledger/internal/repository"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InternalTarget is a destination owned by this exchange.
type InternalTarget struct {
	Wallet  models.Wallet
	Address *models.DepositAddress
	Tag     *models.DepositTag
}

// InternalResolver decides whether a withdrawal destination belongs to one
// of our own wallets.
type InternalResolver struct {
	catalog    *domain.Catalog
	giftUserID uuid.UUID
}

func NewInternalResolver(catalog *domain.Catalog, giftUserID uuid.UUID) *InternalResolver {
	return &InternalResolver{catalog: catalog, giftUserID: giftUserID}
}

// Resolve returns the internal target of req, or nil when the destination
// is external.
func (r *InternalResolver) Resolve(ctx context.Context, qtx *repository.Queries, req models.WithdrawRequest) (*InternalTarget, error) {
	currency := domain.CurrencyID(req.Currency)
	if req.IsFiat() {
		return r.resolveFiat(ctx, qtx, req)
	}

	network, err := r.catalog.ResolveNetwork(currency, req.Network)
	if err != nil {
		return nil, err
	}
	np, err := r.catalog.Network(currency, network)
	if err != nil {
		return nil, err
	}
	if np.TagRequired {
		return r.resolveTagged(ctx, qtx, req)
	}

	address := req.TargetAddress
	if strings.EqualFold(network, "ONE") {
		if hex, err := oneToHexAddress(address); err == nil {
			address = hex
		} else {
			zap.L().Warn("cannot convert harmony address",
				zap.String("withdraw_id", req.ID.String()),
				zap.Error(err))
		}
	}

	candidates, err := qtx.FindDepositAddresses(ctx, address, req.Currency, network, domain.IsEVMNetwork(network))
	if err != nil {
		return nil, fmt.Errorf("find deposit addresses: %w", err)
	}
	for i := range candidates {
		a := candidates[i]
		if !sameContract(a.ContractAddress, req.ContractAddress) {
			continue
		}
		wallet, err := qtx.GetWallet(ctx, a.WalletID)
		if err != nil {
			return nil, err
		}
		return &InternalTarget{Wallet: wallet, Address: &a}, nil
	}
	return nil, nil
}

// resolveFiat only recognizes the gift account, for internal rial requests.
func (r *InternalResolver) resolveFiat(ctx context.Context, qtx *repository.Queries, req models.WithdrawRequest) (*InternalTarget, error) {
	if !req.IsInternal() || req.TargetAccountID == nil || r.giftUserID == uuid.Nil {
		return nil, nil
	}
	account, err := qtx.GetBankAccount(ctx, *req.TargetAccountID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get bank account: %w", err)
	}
	if account.UserID != r.giftUserID {
		return nil, nil
	}
	wallet, err := qtx.EnsureWallet(ctx, r.giftUserID, string(domain.RLS), domain.WalletClassSpot)
	if err != nil {
		return nil, fmt.Errorf("ensure gift wallet: %w", err)
	}
	return &InternalTarget{Wallet: wallet}, nil
}

// resolveTagged matches a shared address plus tag. A tag known only for
// another currency is extended to this one for the same owner.
func (r *InternalResolver) resolveTagged(ctx context.Context, qtx *repository.Queries, req models.WithdrawRequest) (*InternalTarget, error) {
	if _, err := qtx.FindSharedAddress(ctx, req.TargetAddress, req.Currency); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find shared address: %w", err)
	}
	tagValue, err := strconv.ParseInt(strings.TrimSpace(req.Tag), 10, 64)
	if err != nil {
		return nil, nil
	}

	tag, err := qtx.GetDepositTag(ctx, req.Currency, tagValue)
	if errors.Is(err, repository.ErrNotFound) {
		base, baseErr := qtx.FindDepositTagAnyCurrency(ctx, tagValue)
		if errors.Is(baseErr, repository.ErrNotFound) {
			return nil, nil
		}
		if baseErr != nil {
			return nil, fmt.Errorf("find deposit tag: %w", baseErr)
		}
		owner, baseErr := qtx.GetWallet(ctx, base.WalletID)
		if baseErr != nil {
			return nil, baseErr
		}
		wallet, baseErr := qtx.EnsureWallet(ctx, owner.OwnerID, req.Currency, domain.WalletClassSpot)
		if baseErr != nil {
			return nil, fmt.Errorf("ensure wallet: %w", baseErr)
		}
		tag, err = qtx.CreateDepositTag(ctx, wallet.ID, req.Currency, tagValue)
	}
	if err != nil {
		return nil, fmt.Errorf("get deposit tag: %w", err)
	}

	wallet, err := qtx.GetWallet(ctx, tag.WalletID)
	if err != nil {
		return nil, err
	}
	return &InternalTarget{Wallet: wallet, Tag: &tag}, nil
}

// oneToHexAddress converts a bech32 harmony address to its 0x form.
func oneToHexAddress(address string) (string, error) {
	hrp, data, err := bech32.Decode(address)
	if err != nil {
		return "", err
	}
	if hrp != "one" {
		return "", fmt.Errorf("unexpected prefix %q", hrp)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", err
	}
	if len(raw) != common.AddressLength {
		return "", fmt.Errorf("decoded %d bytes", len(raw))
	}
	return common.BytesToAddress(raw).Hex(), nil
}

func sameContract(stored *string, requested string) bool {
	if stored == nil {
		return requested == ""
	}
	return strings.EqualFold(*stored, requested)
}

// validDestination performs the syntactic checks we can do without a node.
func validDestination(network, address string) bool {
	address = strings.TrimSpace(address)
	if address == "" {
		return false
	}
	if strings.EqualFold(network, "ONE") && strings.HasPrefix(address, "one1") {
		_, err := oneToHexAddress(address)
		return err == nil
	}
	if domain.IsEVMNetwork(network) {
		return common.IsHexAddress(address)
	}
	return true
}
