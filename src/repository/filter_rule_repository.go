package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"newstrader/src/database"
	"newstrader/src/model"
)

// FilterRuleRepository stores the user filter rules.
type FilterRuleRepository struct {
	db *gorm.DB
}

func NewFilterRuleRepository() *FilterRuleRepository {
	return &FilterRuleRepository{db: database.MainDB}
}

func (r *FilterRuleRepository) WithDB(db *gorm.DB) *FilterRuleRepository {
	return &FilterRuleRepository{db: db}
}

// List returns all rules in evaluation order.
func (r *FilterRuleRepository) List(ctx context.Context) ([]model.FilterRule, error) {
	var rules []model.FilterRule
	err := r.db.WithContext(ctx).Order("position ASC, id ASC").Find(&rules).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "FilterRuleRepository",
			"op":   "List",
		}).WithError(err).Error("Failed to list filter rules")
		return nil, err
	}
	return rules, nil
}

func (r *FilterRuleRepository) Create(ctx context.Context, rule *model.FilterRule) error {
	return r.db.WithContext(ctx).Create(rule).Error
}

// ReplaceAll swaps the stored rule set for rules in one transaction.
func (r *FilterRuleRepository) ReplaceAll(ctx context.Context, rules []model.FilterRule) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.FilterRule{}).Error; err != nil {
			return err
		}
		if len(rules) == 0 {
			return nil
		}
		for i := range rules {
			rules[i].ID = 0
		}
		return tx.Create(&rules).Error
	})
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":  "FilterRuleRepository",
			"op":    "ReplaceAll",
			"count": len(rules),
		}).WithError(err).Error("Failed to replace filter rules")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":  "FilterRuleRepository",
		"op":    "ReplaceAll",
		"count": len(rules),
	}).Info("Filter rules replaced")
	return nil
}
