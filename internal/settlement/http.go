package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ayo6706/custody-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// ProviderConfig configures an HTTP settlement provider.
type ProviderConfig struct {
	Method  Method
	BaseURL string
	Token   string
	Timeout time.Duration
}

// HTTPProvider settles through a provider's JSON transfer API.
//
// Vandar and Toman take amounts in toman, so the rial amount is divided by
// ten and rounded up. PayIR is asked for an existing transfer with the same
// track id before a new one is submitted.
type HTTPProvider struct {
	method         Method
	baseURL        string
	token          string
	http           *http.Client
	divisor        decimal.Decimal
	checkDuplicate bool
}

func NewHTTPProvider(cfg ProviderConfig) *HTTPProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	p := &HTTPProvider{
		method:  cfg.Method,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		divisor: decimal.NewFromInt(1),
	}
	switch cfg.Method {
	case Vandar, Toman:
		p.divisor = decimal.NewFromInt(10)
	case PayIR:
		p.checkDuplicate = true
	}
	return p
}

func (p *HTTPProvider) Method() Method { return p.method }

type transferRequest struct {
	TrackID     string          `json:"track_id"`
	Amount      decimal.Decimal `json:"amount"`
	Destination string          `json:"destination"`
	OwnerName   string          `json:"owner_name,omitempty"`
	BankName    string          `json:"bank_name,omitempty"`
	Description string          `json:"description,omitempty"`
}

type transferResponse struct {
	Ref   string `json:"ref"`
	State string `json:"state"`
}

// ProviderAmount converts a rial amount into what the provider expects.
func (p *HTTPProvider) ProviderAmount(amount decimal.Decimal) decimal.Decimal {
	if p.divisor.Equal(decimal.NewFromInt(1)) {
		return amount.Ceil()
	}
	return amount.Div(p.divisor).Ceil()
}

func (p *HTTPProvider) Settle(ctx context.Context, req Request) (string, error) {
	trackID := req.WithdrawID.String()
	if p.checkDuplicate {
		if ref, ok, err := p.lookup(ctx, trackID); err != nil {
			return "", err
		} else if ok {
			return ref, nil
		}
	}

	payload, err := json.Marshal(transferRequest{
		TrackID:     trackID,
		Amount:      p.ProviderAmount(req.Amount),
		Destination: req.Destination,
		OwnerName:   req.OwnerName,
		BankName:    req.BankName,
		Description: req.Description,
	})
	if err != nil {
		return "", err
	}
	status, body, err := p.do(ctx, http.MethodPost, p.baseURL+"/v1/transfers", payload)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return "", fmt.Errorf("%w: %s returned %d", domain.ErrExternalQueryFailed, p.method, status)
	}
	var resp transferResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: decode %s transfer: %v", domain.ErrExternalQueryFailed, p.method, err)
	}
	if resp.Ref == "" {
		return "", fmt.Errorf("%w: %s returned no reference", domain.ErrExternalQueryFailed, p.method)
	}
	if ParseState(resp.State) == StateFailed {
		return "", fmt.Errorf("%w: %s rejected transfer %s", domain.ErrExternalQueryFailed, p.method, resp.Ref)
	}
	return resp.Ref, nil
}

// lookup finds an earlier transfer for the track id.
func (p *HTTPProvider) lookup(ctx context.Context, trackID string) (string, bool, error) {
	endpoint := p.baseURL + "/v1/transfers?track_id=" + url.QueryEscape(trackID)
	status, body, err := p.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", false, err
	}
	if status == http.StatusNotFound {
		return "", false, nil
	}
	if status != http.StatusOK {
		return "", false, fmt.Errorf("%w: %s track lookup returned %d", domain.ErrExternalQueryFailed, p.method, status)
	}
	var resp transferResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", false, fmt.Errorf("%w: decode %s track lookup: %v", domain.ErrExternalQueryFailed, p.method, err)
	}
	if resp.Ref == "" || ParseState(resp.State) == StateFailed {
		return "", false, nil
	}
	return resp.Ref, true, nil
}

func (p *HTTPProvider) Status(ctx context.Context, ref string) (State, error) {
	status, body, err := p.do(ctx, http.MethodGet, p.baseURL+"/v1/transfers/"+url.PathEscape(ref), nil)
	if err != nil {
		return StateUnknown, err
	}
	if status != http.StatusOK {
		return StateUnknown, fmt.Errorf("%w: %s status returned %d", domain.ErrExternalQueryFailed, p.method, status)
	}
	var resp transferResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return StateUnknown, fmt.Errorf("%w: decode %s status: %v", domain.ErrExternalQueryFailed, p.method, err)
	}
	return ParseState(resp.State), nil
}

// ParseState maps the provider vocabularies onto State.
func ParseState(s string) State {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "done", "success", "succeeded", "settled", "paid", "transferred":
		return StateDone
	case "failed", "fail", "rejected", "canceled", "cancelled", "returned":
		return StateFailed
	case "pending", "in_progress", "processing", "queued", "submitted", "init":
		return StatePending
	default:
		return StateUnknown
	}
}

func (p *HTTPProvider) do(ctx context.Context, method, endpoint string, payload []byte) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build %s request: %w", p.method, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %s: %v", domain.ErrExternalQueryFailed, p.method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %s read body: %v", domain.ErrExternalQueryFailed, p.method, err)
	}
	return resp.StatusCode, body, nil
}
