package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"newstrader/src/database"
	"newstrader/src/model"
)

// OrderRepository handles read/write operations for orders and their state logs.
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new repository instance using the main database.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *OrderRepository) WithDB(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// ---------------------------------------------------
// Order methods
// ---------------------------------------------------

// Create inserts a new order together with its first log entry.
func (r *OrderRepository) Create(
	ctx context.Context,
	order *model.Order,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":   "OrderRepository",
		"op":     "Create",
		"symbol": order.Symbol,
		"side":   order.Side,
		"size":   order.Size.String(),
	}).Debug("Creating new order")

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Logs").Create(order).Error; err != nil {
			return err
		}
		entry := model.NewOrderLog(order, "")
		return tx.Create(&entry).Error
	})
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "Create",
		}).WithError(err).Error("Failed to create order")

		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":     "OrderRepository",
		"op":       "Create",
		"order_id": order.ID,
	}).Info("Order created successfully")

	return nil
}

// SaveTransition stores the current order row and logs its move from the from state.
func (r *OrderRepository) SaveTransition(
	ctx context.Context,
	order *model.Order,
	from string,
) error {

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Logs").Save(order).Error; err != nil {
			return err
		}
		entry := model.NewOrderLog(order, from)
		return tx.Create(&entry).Error
	})
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "OrderRepository",
			"op":       "SaveTransition",
			"order_id": order.ID,
			"from":     from,
			"to":       order.State,
		}).WithError(err).Error("Failed to save order transition")

		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":     "OrderRepository",
		"op":       "SaveTransition",
		"order_id": order.ID,
		"from":     from,
		"to":       order.State,
	}).Debug("Order transition saved")

	return nil
}

// FindByID fetches a single order with its logs.
// Returns (nil, nil) if the order is not found.
func (r *OrderRepository) FindByID(
	ctx context.Context,
	id uuid.UUID,
) (*model.Order, error) {

	var order model.Order

	err := r.db.WithContext(ctx).
		Preload("Logs", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&order, "id = ?", id).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{
				"repo": "OrderRepository",
				"op":   "FindByID",
				"id":   id,
			}).Info("Order not found")

			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch order")

		return nil, err
	}

	return &order, nil
}

// FindChildren returns the bracket legs attached to parentID.
func (r *OrderRepository) FindChildren(ctx context.Context, parentID uuid.UUID) ([]model.Order, error) {
	var orders []model.Order
	err := r.db.WithContext(ctx).
		Where("parent_id = ?", parentID).
		Order("created_at ASC").
		Find(&orders).Error
	return orders, err
}

// FindOpen returns the non-terminal orders of an account.
func (r *OrderRepository) FindOpen(ctx context.Context, accountID string) ([]model.Order, error) {
	var orders []model.Order
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND state IN ?", accountID, []string{model.OrderStateNew, model.OrderStatePending}).
		Order("created_at ASC").
		Find(&orders).Error
	return orders, err
}

// FindLatest returns the newest orders of an account, newest first.
func (r *OrderRepository) FindLatest(ctx context.Context, accountID string, limit int) ([]model.Order, error) {
	if limit <= 0 {
		limit = 20
	}

	var orders []model.Order
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":  "OrderRepository",
			"op":    "FindLatest",
			"limit": limit,
		}).WithError(err).Error("Failed to fetch latest orders")

		return nil, err
	}
	return orders, nil
}

// Update stores order fields that do not change its state, like an attached bracket.
func (r *OrderRepository) Update(ctx context.Context, order *model.Order) error {
	return r.db.WithContext(ctx).Omit("Logs").Save(order).Error
}
