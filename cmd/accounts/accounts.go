package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"newstrader/src/connectors"
	"newstrader/src/model"
	"newstrader/src/security"
)

type Store interface {
	Save(ctx context.Context, account *model.Account, cfg *model.TradeConfig) error
	List(ctx context.Context) ([]model.Account, error)
	TradeConfigs(ctx context.Context) (map[string]model.TradeConfig, error)
}

// AddOptions describes an account created from the command line.
type AddOptions struct {
	ID         string
	ExchangeID string
	Address    string
	APIKey     string
	APISecret  string
	Leverage   string
}

// Add stores the account, its default trade config and, when given, its
// sealed credentials. The plaintext key pair never reaches the account row.
func Add(ctx context.Context, cfg Config, store Store, secrets security.SecretStore, opts AddOptions) (*model.Account, error) {
	id := strings.TrimSpace(opts.ID)
	if id == "" {
		return nil, errors.New("account id is required")
	}
	exchangeID := opts.ExchangeID
	if exchangeID == "" {
		exchangeID = cfg.ExchangeID
	}

	account := &model.Account{ID: id, ExchangeID: exchangeID, Address: opts.Address}
	if exchangeID != connectors.PaperExchangeID {
		if opts.APIKey == "" || opts.APISecret == "" {
			return nil, fmt.Errorf("exchange %s requires an api key and secret", exchangeID)
		}
	}

	if opts.APIKey != "" {
		raw, err := json.Marshal(connectors.Credentials{APIKey: opts.APIKey, APISecret: opts.APISecret})
		if err != nil {
			return nil, err
		}
		account.CredentialRef = cfg.RefPrefix + id
		if err := secrets.Put(ctx, account.CredentialRef, string(raw)); err != nil {
			return nil, fmt.Errorf("store credentials: %w", err)
		}
	}

	tc := model.DefaultTradeConfig(id)
	if opts.Leverage != "" {
		lev, err := decimal.NewFromString(opts.Leverage)
		if err != nil || !lev.IsPositive() {
			return nil, fmt.Errorf("invalid leverage %q", opts.Leverage)
		}
		tc.Leverage = lev
	}

	if err := store.Save(ctx, account, &tc); err != nil {
		return nil, err
	}
	logger.WithFields(map[string]interface{}{
		"account_id":  id,
		"exchange":    exchangeID,
		"credentials": account.CredentialRef != "",
	}).Info("account added")
	return account, nil
}

// List writes one line per account.
func List(ctx context.Context, store Store, w io.Writer) error {
	accounts, err := store.List(ctx)
	if err != nil {
		return err
	}
	configs, err := store.TradeConfigs(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEXCHANGE\tLEVERAGE\tCREDENTIALS")
	for _, a := range accounts {
		lev := "-"
		if tc, ok := configs[a.ID]; ok {
			lev = tc.Leverage.String()
		}
		creds := "no"
		if a.CredentialRef != "" {
			creds = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.ID, a.ExchangeID, lev, creds)
	}
	return tw.Flush()
}
