package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"newstrader/src/model"
)

// SecretGetter resolves a credential reference to its plaintext value.
type SecretGetter interface {
	Get(ctx context.Context, ref string) (string, error)
}

// Credentials is the JSON document stored in the secret store for an exchange account.
type Credentials struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// Factory builds and caches one adapter per account.
type Factory struct {
	cfg     Config
	secrets SecretGetter

	mu       sync.Mutex
	adapters map[string]ExchangeAdapter
	paper    *PaperExchange
}

func NewFactory(cfg Config, secrets SecretGetter) *Factory {
	return &Factory{
		cfg:      cfg,
		secrets:  secrets,
		adapters: make(map[string]ExchangeAdapter),
		paper:    NewPaperExchange(DefaultPaperInstruments()),
	}
}

// Paper returns the shared paper venue.
func (f *Factory) Paper() *PaperExchange {
	return f.paper
}

// Register installs a prebuilt adapter for an account.
func (f *Factory) Register(accountID string, adapter ExchangeAdapter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adapters[accountID] = adapter
}

func (f *Factory) AdapterFor(ctx context.Context, account model.Account) (ExchangeAdapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if a, ok := f.adapters[account.ID]; ok {
		return a, nil
	}

	var adapter ExchangeAdapter
	switch account.ExchangeID {
	case PaperExchangeID:
		adapter = f.paper
	case KrakenExchangeID:
		creds, err := f.credentials(ctx, account)
		if err != nil {
			return nil, err
		}
		adapter = NewKrakenFuturesClient(creds.APIKey, creds.APISecret, f.cfg)
	case PhemexExchangeID:
		creds, err := f.credentials(ctx, account)
		if err != nil {
			return nil, err
		}
		adapter = NewPhemexClient(creds.APIKey, creds.APISecret, f.cfg)
	default:
		return nil, fmt.Errorf("unsupported exchange %q for account %s", account.ExchangeID, account.ID)
	}

	f.adapters[account.ID] = adapter
	return adapter, nil
}

// Public returns an unauthenticated adapter for catalog queries.
func (f *Factory) Public(exchangeID string) (ExchangeAdapter, error) {
	switch exchangeID {
	case PaperExchangeID:
		return f.paper, nil
	case KrakenExchangeID:
		return NewKrakenFuturesClient("", "", f.cfg), nil
	case PhemexExchangeID:
		return NewPhemexClient("", "", f.cfg), nil
	default:
		return nil, fmt.Errorf("unsupported exchange %q", exchangeID)
	}
}

func (f *Factory) credentials(ctx context.Context, account model.Account) (Credentials, error) {
	if account.CredentialRef == "" {
		return Credentials{}, fmt.Errorf("account %s has no credential reference", account.ID)
	}
	raw, err := f.secrets.Get(ctx, account.CredentialRef)
	if err != nil {
		return Credentials{}, fmt.Errorf("load credentials for account %s: %w", account.ID, err)
	}
	var creds Credentials
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		return Credentials{}, fmt.Errorf("decode credentials for account %s: %w", account.ID, err)
	}
	return creds, nil
}

func DefaultPaperInstruments() []model.Instrument {
	mk := func(symbol, minSize, maxLev, tick string) model.Instrument {
		return model.Instrument{
			Symbol:      symbol,
			Pair:        symbol + "USD",
			ExchangeID:  PaperExchangeID,
			MinSize:     decimal.RequireFromString(minSize),
			MaxSize:     decimal.NewFromInt(1_000_000),
			MaxLeverage: decimal.RequireFromString(maxLev),
			TickSize:    decimal.RequireFromString(tick),
		}
	}
	return []model.Instrument{
		mk("BTC", "0.0001", "50", "0.5"),
		mk("ETH", "0.001", "50", "0.05"),
		mk("SOL", "0.01", "20", "0.01"),
		mk("DOGE", "1", "20", "0.00001"),
		mk("XRP", "1", "20", "0.0001"),
	}
}
