package migrations

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"newstrader/src/model"
)

// backfillTradeConfigs gives every account without a trade config the defaults.
func backfillTradeConfigs(db *gorm.DB) error {
	var ids []string
	if err := db.Model(&model.Account{}).
		Where("id NOT IN (?)", db.Model(&model.TradeConfig{}).Select("account_id")).
		Pluck("id", &ids).Error; err != nil {
		return fmt.Errorf("list accounts without trade config: %w", err)
	}

	for _, id := range ids {
		cfg := model.DefaultTradeConfig(id)
		if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&cfg).Error; err != nil {
			return fmt.Errorf("backfill trade config for %s: %w", id, err)
		}
	}
	return nil
}

func uppercaseFilterRuleSymbols(db *gorm.DB) error {
	return db.Model(&model.FilterRule{}).
		Where("symbol <> ''").
		Update("symbol", gorm.Expr("UPPER(symbol)")).Error
}
