package chain

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

// HTTPClient is a Client backed by the explorer's JSON API.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

type wireTx struct {
	Hash            string          `json:"hash"`
	Address         string          `json:"address"`
	Timestamp       json.RawMessage `json:"timestamp"`
	Value           decimal.Decimal `json:"value"`
	Confirmations   int             `json:"confirmations"`
	FromAddresses   []string        `json:"from_addresses"`
	Tag             json.RawMessage `json:"tag"`
	Invoice         string          `json:"invoice"`
	ContractAddress string          `json:"contract_address"`
	IsDoubleSpend   bool            `json:"is_double_spend"`
	Huge            bool            `json:"huge"`
}

func (w wireTx) raw() RawTx {
	return RawTx{
		Hash:            w.Hash,
		Address:         w.Address,
		Timestamp:       parseTimestamp(w.Timestamp),
		Value:           w.Value,
		Confirmations:   w.Confirmations,
		FromAddresses:   w.FromAddresses,
		Tag:             parseTag(w.Tag),
		Invoice:         w.Invoice,
		ContractAddress: w.ContractAddress,
		IsDoubleSpend:   w.IsDoubleSpend,
		Huge:            w.Huge,
	}
}

// parseTimestamp accepts RFC 3339 strings and unix seconds.
func parseTimestamp(raw json.RawMessage) *time.Time {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return &t
		}
		return nil
	}
	var secs int64
	if err := json.Unmarshal(raw, &secs); err == nil && secs > 0 {
		t := time.Unix(secs, 0).UTC()
		return &t
	}
	return nil
}

// parseTag keeps tags as text; explorers send them as numbers or strings.
func parseTag(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func (c *HTTPClient) GetWalletTransactions(ctx context.Context, address, currency, network, contract string) (map[string][]RawTx, error) {
	q := url.Values{}
	q.Set("currency", currency)
	if network != "" {
		q.Set("network", network)
	}
	if contract != "" {
		q.Set("contract_address", contract)
	}
	endpoint := fmt.Sprintf("%s/v1/addresses/%s/transactions?%s", c.baseURL, url.PathEscape(address), q.Encode())

	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return decodeTransactions(body, currency)
}

// decodeTransactions accepts either a bare list, taken to be in currency,
// or an object keyed by currency.
func decodeTransactions(body []byte, currency string) (map[string][]RawTx, error) {
	trimmed := bytes.TrimSpace(body)
	out := make(map[string][]RawTx)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []wireTx
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("%w: decode transactions: %v", domain.ErrExternalQueryFailed, err)
		}
		out[strings.ToLower(currency)] = convert(list)
		return out, nil
	}
	var grouped map[string][]wireTx
	if err := json.Unmarshal(trimmed, &grouped); err != nil {
		return nil, fmt.Errorf("%w: decode transactions: %v", domain.ErrExternalQueryFailed, err)
	}
	for code, list := range grouped {
		out[strings.ToLower(code)] = convert(list)
	}
	return out, nil
}

func convert(list []wireTx) []RawTx {
	txs := make([]RawTx, 0, len(list))
	for _, w := range list {
		txs = append(txs, w.raw())
	}
	return txs
}

type balancesRequest struct {
	Addresses []string `json:"addresses"`
	Currency  string   `json:"currency"`
	Network   string   `json:"network,omitempty"`
}

type wireBalance struct {
	Address  string          `json:"address"`
	Received decimal.Decimal `json:"received"`
	Sent     decimal.Decimal `json:"sent"`
}

func (c *HTTPClient) GetWalletsBalance(ctx context.Context, addresses []string, currency, network string) ([]AddressBalance, error) {
	payload, err := json.Marshal(balancesRequest{Addresses: addresses, Currency: currency, Network: network})
	if err != nil {
		return nil, err
	}
	body, err := c.do(ctx, http.MethodPost, c.baseURL+"/v1/balances", payload)
	if err != nil {
		return nil, err
	}
	var wire []wireBalance
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("%w: decode balances: %v", domain.ErrExternalQueryFailed, err)
	}
	out := make([]AddressBalance, 0, len(wire))
	for _, b := range wire {
		out = append(out, AddressBalance(b))
	}
	return out, nil
}

type wireInvoice struct {
	State string `json:"state"`
}

func (c *HTTPClient) GetInvoiceStatus(ctx context.Context, invoice string) (string, error) {
	body, err := c.do(ctx, http.MethodGet, c.baseURL+"/v1/invoices/"+url.PathEscape(invoice), nil)
	if err != nil {
		return "", err
	}
	var wire wireInvoice
	if err := json.Unmarshal(body, &wire); err != nil {
		return "", fmt.Errorf("%w: decode invoice: %v", domain.ErrExternalQueryFailed, err)
	}
	return strings.ToUpper(wire.State), nil
}

func (c *HTTPClient) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build explorer request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExternalQueryFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", domain.ErrExternalQueryFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: explorer returned %d", domain.ErrExternalQueryFailed, resp.StatusCode)
	}
	return body, nil
}
