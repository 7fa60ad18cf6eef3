package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"newstrader/src/database"
	"newstrader/src/model"
)

// AccountRepository stores accounts and their trade configs.
type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository() *AccountRepository {
	return &AccountRepository{db: database.MainDB}
}

func (r *AccountRepository) WithDB(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Save inserts or updates an account together with its trade config.
func (r *AccountRepository) Save(ctx context.Context, account *model.Account, cfg *model.TradeConfig) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(account).Error; err != nil {
			return err
		}
		if cfg == nil {
			return nil
		}
		cfg.AccountID = account.ID
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(cfg).Error
	})
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "AccountRepository",
			"op":         "Save",
			"account_id": account.ID,
		}).WithError(err).Error("Failed to save account")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":       "AccountRepository",
		"op":         "Save",
		"account_id": account.ID,
		"exchange":   account.ExchangeID,
	}).Info("Account saved")
	return nil
}

func (r *AccountRepository) List(ctx context.Context) ([]model.Account, error) {
	var accounts []model.Account
	err := r.db.WithContext(ctx).Order("id ASC").Find(&accounts).Error
	return accounts, err
}

// FindByID returns (nil, nil) if the account does not exist.
func (r *AccountRepository) FindByID(ctx context.Context, id string) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).First(&account, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// TradeConfig returns the stored config of an account, or the defaults when none is stored.
func (r *AccountRepository) TradeConfig(ctx context.Context, accountID string) (model.TradeConfig, error) {
	var cfg model.TradeConfig
	err := r.db.WithContext(ctx).First(&cfg, "account_id = ?", accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.DefaultTradeConfig(accountID), nil
	}
	if err != nil {
		return model.TradeConfig{}, err
	}
	return cfg, nil
}

// TradeConfigs returns the config of every account keyed by account id.
func (r *AccountRepository) TradeConfigs(ctx context.Context) (map[string]model.TradeConfig, error) {
	var list []model.TradeConfig
	if err := r.db.WithContext(ctx).Find(&list).Error; err != nil {
		return nil, err
	}
	out := make(map[string]model.TradeConfig, len(list))
	for _, c := range list {
		out[c.AccountID] = c
	}
	return out, nil
}
