package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ayo6706/custody-ledger/internal/chain"
	"github.com/ayo6706/custody-ledger/internal/domain"
	"github.com/ayo6706/custody-ledger/internal/events"
	"github.com/ayo6706/custody-ledger/internal/models"
	"github.com/ayo6706/custody-ledger/internal/observability"
	"github.com/ayo6706/custody-ledger/internal/price"
	"github.com/ayo6706/custody-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Observation outcomes, also used as metric labels.
const (
	OutcomeRejected         = "rejected"
	OutcomeFiltered         = "filtered"
	OutcomePending          = "pending"
	OutcomeConfirmed        = "confirmed"
	OutcomeAlreadyConfirmed = "already_confirmed"
	OutcomeUnknownOwner     = "unknown_owner"
	OutcomeExpired          = "expired"
	OutcomeError            = "error"
)

// invoiceRefreshWindow bounds how far back open invoices are polled.
const invoiceRefreshWindow = 3 * time.Hour

// DepositTarget is what a raw transaction is matched against. Exactly one of
// Address and Shared is set.
type DepositTarget struct {
	Currency domain.CurrencyID
	Network  string
	Policy   domain.NetworkPolicy
	Address  *models.DepositAddress
	Shared   *models.SharedAddress
}

// Observation is one validated transaction plus its reporting value.
type Observation struct {
	Tx        ValidatedTx
	FairValue decimal.NullDecimal
}

type DepositResult struct {
	Outcome     string
	Deposit     models.ConfirmedDeposit
	Transaction *models.LedgerTransaction
}

// DepositHandler applies one observation inside the caller's transaction.
type DepositHandler interface {
	Name() string
	Apply(ctx context.Context, qtx *repository.Queries, target DepositTarget, obs Observation, box *outbox) (DepositResult, error)
}

// DepositDeps wires the pipeline's collaborators.
type DepositDeps struct {
	Store     QueryStore
	Ledger    *LedgerService
	Catalog   *domain.Catalog
	Chain     chain.Client
	Invoices  chain.InvoiceClient
	Prices    price.Estimator
	Publisher events.Publisher
	// Handlers maps a currency to its confirmer. Currencies not listed use
	// the standard handler; invoice based networks always use the invoice one.
	Handlers map[domain.CurrencyID]DepositHandler
}

// DepositPipeline turns raw chain observations into idempotent wallet credits.
type DepositPipeline struct {
	store     QueryStore
	ledger    *LedgerService
	catalog   *domain.Catalog
	chain     chain.Client
	invoices  chain.InvoiceClient
	prices    price.Estimator
	publisher events.Publisher
	handlers  map[domain.CurrencyID]DepositHandler
	standard  DepositHandler
	tagged    DepositHandler
	invoice   DepositHandler
	now       func() time.Time
}

func NewDepositPipeline(deps DepositDeps) *DepositPipeline {
	p := &DepositPipeline{
		store:     deps.Store,
		ledger:    deps.Ledger,
		catalog:   deps.Catalog,
		chain:     deps.Chain,
		invoices:  deps.Invoices,
		prices:    deps.Prices,
		publisher: deps.Publisher,
		handlers:  deps.Handlers,
		standard:  &StandardDepositHandler{ledger: deps.Ledger},
		tagged:    &TaggedDepositHandler{ledger: deps.Ledger},
		invoice:   &InvoiceDepositHandler{ledger: deps.Ledger},
		now:       time.Now,
	}
	if p.handlers == nil {
		p.handlers = DefaultDepositHandlers(deps.Catalog, deps.Ledger)
	}
	if p.publisher == nil {
		p.publisher = events.NopPublisher{}
	}
	return p
}

// DefaultDepositHandlers assigns the tagged handler to currencies with a
// tag-required network and the standard handler to the rest.
func DefaultDepositHandlers(catalog *domain.Catalog, ledger *LedgerService) map[domain.CurrencyID]DepositHandler {
	standard := &StandardDepositHandler{ledger: ledger}
	tagged := &TaggedDepositHandler{ledger: ledger}
	out := make(map[domain.CurrencyID]DepositHandler)
	for _, id := range catalog.Currencies() {
		p, err := catalog.Currency(id)
		if err != nil || p.Fiat {
			continue
		}
		out[id] = standard
		for _, np := range p.Networks {
			if np.TagRequired {
				out[id] = tagged
				break
			}
		}
	}
	return out
}

// handlerFor picks the confirmer of one network. A registered handler is
// used only when its address model matches the network: shared addresses
// with tags on tag-required networks, per-user addresses elsewhere.
func (p *DepositPipeline) handlerFor(currency domain.CurrencyID, np domain.NetworkPolicy) DepositHandler {
	if np.InvoiceBased {
		return p.invoice
	}
	if h, ok := p.handlers[currency]; ok {
		if _, tagged := h.(*TaggedDepositHandler); tagged == np.TagRequired {
			return h
		}
	}
	if np.TagRequired {
		return p.tagged
	}
	return p.standard
}

// Observe fetches and applies the transactions of one address. It returns
// the number of deposits credited during this call.
func (p *DepositPipeline) Observe(ctx context.Context, address string, currency domain.CurrencyID, network, contract string) (int, error) {
	network, err := p.catalog.ResolveNetwork(currency, network)
	if err != nil {
		return 0, err
	}
	np, err := p.catalog.Network(currency, network)
	if err != nil {
		return 0, err
	}

	q := p.store.Queries()
	if np.TagRequired {
		shared, err := q.GetSharedAddress(ctx, string(currency), network, address)
		if errors.Is(err, repository.ErrNotFound) {
			return 0, domain.ErrDepositAddressNotFound
		}
		if err != nil {
			return 0, fmt.Errorf("get shared address: %w", err)
		}
		return p.observeShared(ctx, shared, np)
	}

	addr, err := q.GetDepositAddress(ctx, string(currency), network, address, strPtr(contract))
	if err != nil {
		return 0, err
	}
	return p.ObserveAddress(ctx, addr)
}

// ObserveAddress applies everything the explorer reports for addr, including
// transactions of other currencies held by the same address.
func (p *DepositPipeline) ObserveAddress(ctx context.Context, addr models.DepositAddress) (int, error) {
	currency := domain.CurrencyID(addr.Currency)
	np, err := p.catalog.Network(currency, addr.Network)
	if err != nil {
		return 0, err
	}
	if !np.DepositEnabled {
		zap.L().Debug("deposits disabled on network",
			zap.String("currency", addr.Currency), zap.String("network", addr.Network))
		return 0, p.stampCheck(ctx, addr.ID)
	}

	contract := ""
	if addr.ContractAddress != nil {
		contract = *addr.ContractAddress
	}
	groups, err := p.chain.GetWalletTransactions(ctx, addr.Address, addr.Currency, addr.Network, contract)
	if err != nil {
		return 0, externalErr("get wallet transactions", err)
	}

	applied := 0
	for _, code := range sortedKeys(groups) {
		target, ok, err := p.targetFor(ctx, addr, domain.CurrencyID(code))
		if err != nil {
			return applied, err
		}
		if !ok {
			continue
		}
		n, err := p.applyBatch(ctx, target, groups[code])
		applied += n
		if err != nil {
			return applied, err
		}
	}
	return applied, p.stampCheck(ctx, addr.ID)
}

// ObserveDue observes up to limit addresses not checked within interval.
// A failing address is logged and skipped so one bad explorer does not
// stall the rest.
func (p *DepositPipeline) ObserveDue(ctx context.Context, limit int32, interval time.Duration) (checked, credited int, err error) {
	due, err := p.store.Queries().ListAddressesDueForCheck(ctx, p.now().Add(-interval), limit)
	if err != nil {
		return 0, 0, fmt.Errorf("list addresses due for check: %w", err)
	}
	for _, addr := range due {
		if err := ctx.Err(); err != nil {
			return checked, credited, err
		}
		n, err := p.ObserveAddress(ctx, addr)
		checked++
		credited += n
		if err != nil {
			zap.L().Warn("deposit observation failed",
				zap.String("address_id", addr.ID.String()),
				zap.String("currency", addr.Currency),
				zap.Error(err))
		}
	}
	return checked, credited, nil
}

// targetFor resolves the address that receives transactions of currency. A
// multi-asset address reports other currencies that belong to the sibling
// address with the same location.
func (p *DepositPipeline) targetFor(ctx context.Context, addr models.DepositAddress, currency domain.CurrencyID) (DepositTarget, bool, error) {
	np, err := p.catalog.Network(currency, addr.Network)
	if err != nil {
		zap.L().Debug("explorer reported unsupported currency",
			zap.String("currency", string(currency)), zap.String("network", addr.Network))
		return DepositTarget{}, false, nil
	}
	if currency == domain.CurrencyID(addr.Currency) {
		return DepositTarget{Currency: currency, Network: addr.Network, Policy: np, Address: &addr}, true, nil
	}

	sibling, err := p.store.Queries().GetDepositAddress(ctx, string(currency), addr.Network, addr.Address, addr.ContractAddress)
	if errors.Is(err, domain.ErrDepositAddressNotFound) {
		return DepositTarget{}, false, nil
	}
	if err != nil {
		return DepositTarget{}, false, fmt.Errorf("get sibling address: %w", err)
	}
	return DepositTarget{Currency: currency, Network: sibling.Network, Policy: np, Address: &sibling}, true, nil
}

func (p *DepositPipeline) observeShared(ctx context.Context, shared models.SharedAddress, np domain.NetworkPolicy) (int, error) {
	groups, err := p.chain.GetWalletTransactions(ctx, shared.Address, shared.Currency, shared.Network, "")
	if err != nil {
		return 0, externalErr("get wallet transactions", err)
	}
	target := DepositTarget{
		Currency: domain.CurrencyID(shared.Currency),
		Network:  shared.Network,
		Policy:   np,
		Shared:   &shared,
	}
	return p.applyBatch(ctx, target, groups[strings.ToLower(shared.Currency)])
}

func (p *DepositPipeline) applyBatch(ctx context.Context, target DepositTarget, txs []chain.RawTx) (int, error) {
	if len(txs) == 0 {
		return 0, nil
	}
	txs, err := p.filterInternalHops(ctx, target, txs)
	if err != nil {
		return 0, err
	}

	in, err := p.validationInput(target)
	if err != nil {
		return 0, err
	}
	handler := p.handlerFor(target.Currency, target.Policy)

	applied := 0
	for _, raw := range txs {
		vtx, err := ValidateRawTx(raw, in)
		if err != nil {
			reason := domain.RejectionReason(err)
			observability.IncrementValidationRejection(reason)
			observability.IncrementDepositObservation(string(target.Currency), OutcomeRejected)
			zap.L().Debug("raw transaction rejected",
				zap.String("currency", string(target.Currency)),
				zap.String("tx_hash", raw.Hash),
				zap.String("reason", reason))
			continue
		}

		res, err := p.apply(ctx, handler, target, Observation{Tx: vtx, FairValue: p.fairValue(ctx, vtx.Value, target.Currency)})
		if err != nil {
			observability.IncrementDepositObservation(string(target.Currency), OutcomeError)
			return applied, fmt.Errorf("apply deposit %s: %w", vtx.Hash, err)
		}
		observability.IncrementDepositObservation(string(target.Currency), res.Outcome)
		if res.Outcome == OutcomeConfirmed {
			applied++
		}
	}
	return applied, nil
}

func (p *DepositPipeline) apply(ctx context.Context, handler DepositHandler, target DepositTarget, obs Observation) (DepositResult, error) {
	var (
		res DepositResult
		box outbox
	)
	err := p.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		box.reset()
		var err error
		res, err = handler.Apply(ctx, qtx, target, obs, &box)
		return err
	})
	if err != nil {
		return DepositResult{}, err
	}
	box.flush(ctx, p.publisher)
	return res, nil
}

func (p *DepositPipeline) validationInput(target DepositTarget) (ValidationInput, error) {
	cp, err := p.catalog.Currency(target.Currency)
	if err != nil {
		return ValidationInput{}, err
	}
	disabled := target.Address != nil && target.Address.IsDisabled
	tagged := target.Shared != nil
	return ValidationInput{
		Currency:          target.Currency,
		Network:           target.Policy,
		Cutoff:            p.catalog.RetentionCutoff(p.now(), target.Currency, disabled, tagged),
		Tagged:            tagged,
		Invoice:           target.Policy.InvoiceBased,
		StripHexPrefix:    cp.StripHexPrefix,
		DepositMinEnabled: p.catalog.DepositMinEnabled,
		DepositFeeEnabled: p.catalog.DepositFeeEnabled,
	}, nil
}

// filterInternalHops drops transactions sent from one of our own deposit
// addresses on networks where those are fee top-ups.
func (p *DepositPipeline) filterInternalHops(ctx context.Context, target DepositTarget, txs []chain.RawTx) ([]chain.RawTx, error) {
	if !domain.IsInternalHop(target.Currency, target.Network) {
		return txs, nil
	}
	var sources []string
	for _, tx := range txs {
		for _, from := range tx.FromAddresses {
			sources = append(sources, strings.ToLower(from))
		}
	}
	if len(sources) == 0 {
		return txs, nil
	}
	known, err := p.store.Queries().KnownDepositAddresses(ctx, sources)
	if err != nil {
		return nil, fmt.Errorf("load known deposit addresses: %w", err)
	}
	if len(known) == 0 {
		return txs, nil
	}

	out := txs[:0:0]
	for _, tx := range txs {
		internal := false
		for _, from := range tx.FromAddresses {
			if _, ok := known[strings.ToLower(from)]; ok {
				internal = true
				break
			}
		}
		if internal {
			observability.IncrementDepositObservation(string(target.Currency), OutcomeFiltered)
			zap.L().Debug("internal fee hop skipped",
				zap.String("currency", string(target.Currency)), zap.String("tx_hash", tx.Hash))
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

func (p *DepositPipeline) fairValue(ctx context.Context, amount decimal.Decimal, currency domain.CurrencyID) decimal.NullDecimal {
	if p.prices == nil {
		return decimal.NullDecimal{}
	}
	v, err := p.prices.EstimateFiatValue(ctx, amount, string(currency))
	if err != nil {
		zap.L().Warn("fair value estimate failed", zap.String("currency", string(currency)), zap.Error(err))
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(v)
}

func (p *DepositPipeline) stampCheck(ctx context.Context, addressID uuid.UUID) error {
	if err := p.store.Queries().StampDepositCheck(ctx, addressID, p.now()); err != nil {
		return fmt.Errorf("stamp deposit check: %w", err)
	}
	return nil
}

// RegisterInvoiceRequest announces a lightning invoice issued to a wallet.
type RegisterInvoiceRequest struct {
	WalletID    uuid.UUID
	PaymentHash string
	Invoice     string
	Amount      decimal.Decimal
}

// RegisterInvoice creates the pending deposit an invoice payment confirms.
// Registering the same invoice twice returns the existing deposit.
func (p *DepositPipeline) RegisterInvoice(ctx context.Context, req RegisterInvoiceRequest) (models.ConfirmedDeposit, error) {
	if req.PaymentHash == "" || req.Invoice == "" {
		return models.ConfirmedDeposit{}, fmt.Errorf("%w: payment hash and invoice are required", domain.ErrInvalidAmount)
	}
	if !req.Amount.IsPositive() {
		return models.ConfirmedDeposit{}, fmt.Errorf("%w: invoice amount must be positive", domain.ErrInvalidAmount)
	}

	var deposit models.ConfirmedDeposit
	err := p.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		wallet, err := qtx.GetWallet(ctx, req.WalletID)
		if err != nil {
			return err
		}
		network := ""
		if cp, err := p.catalog.Currency(domain.CurrencyID(wallet.Currency)); err == nil {
			for name, np := range cp.Networks {
				if np.InvoiceBased {
					network = name
				}
			}
		}
		if network == "" {
			return fmt.Errorf("%w: %s has no invoice network", domain.ErrUnknownNetwork, wallet.Currency)
		}

		if _, err := qtx.CreateConfirmedDeposit(ctx, repository.CreateConfirmedDepositParams{
			WalletID: wallet.ID,
			Currency: wallet.Currency,
			Network:  network,
			TxHash:   req.PaymentHash,
			Invoice:  &req.Invoice,
			Amount:   domain.Quantize(req.Amount),
		}); err != nil {
			return fmt.Errorf("create invoice deposit: %w", err)
		}
		deposit, err = qtx.GetDepositByInvoiceForUpdate(ctx, req.PaymentHash, req.Invoice)
		return err
	})
	return deposit, err
}

// RefreshInvoices polls the open invoices of a wallet from the last few
// hours. Settled invoices are credited and unpayable ones expire.
func (p *DepositPipeline) RefreshInvoices(ctx context.Context, walletID uuid.UUID) (int, error) {
	if p.invoices == nil {
		return 0, fmt.Errorf("%w: no invoice client configured", domain.ErrExternalQueryFailed)
	}
	open, err := p.store.Queries().ListOpenInvoiceDeposits(ctx, walletID, p.now().Add(-invoiceRefreshWindow))
	if err != nil {
		return 0, fmt.Errorf("list open invoices: %w", err)
	}

	applied := 0
	for _, d := range open {
		state, err := p.invoices.GetInvoiceStatus(ctx, *d.Invoice)
		if err != nil {
			return applied, externalErr("get invoice status", err)
		}
		switch state {
		case chain.InvoiceOpen:
			continue
		case chain.InvoiceSettled:
			np, err := p.catalog.Network(domain.CurrencyID(d.Currency), d.Network)
			if err != nil {
				return applied, err
			}
			obs := Observation{
				Tx: ValidatedTx{
					Hash:            d.TxHash,
					Value:           d.Amount,
					Timestamp:       p.now(),
					Confirmations:   1,
					SourceAddresses: d.SourceAddresses,
					Invoice:         *d.Invoice,
				},
				FairValue: d.FairValue,
			}
			target := DepositTarget{Currency: domain.CurrencyID(d.Currency), Network: d.Network, Policy: np}
			res, err := p.apply(ctx, p.invoice, target, obs)
			if err != nil {
				return applied, fmt.Errorf("confirm invoice %s: %w", d.ID, err)
			}
			observability.IncrementDepositObservation(d.Currency, res.Outcome)
			if res.Outcome == OutcomeConfirmed {
				applied++
			}
		default:
			if err := p.store.Queries().ExpireDeposit(ctx, d.ID); err != nil {
				return applied, fmt.Errorf("expire invoice deposit: %w", err)
			}
			observability.IncrementDepositObservation(d.Currency, OutcomeExpired)
		}
	}
	return applied, nil
}

func externalErr(op string, err error) error {
	if errors.Is(err, domain.ErrExternalQueryFailed) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrExternalQueryFailed, err)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
