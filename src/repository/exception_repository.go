package repository

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"newstrader/src/database"
	"newstrader/src/model"
)

const ServiceName = "newstrader"

// ExceptionRepository handles persistence of system exceptions.
type ExceptionRepository struct {
	db *gorm.DB
}

// NewExceptionRepository creates a new repository instance.
func NewExceptionRepository() *ExceptionRepository {
	return &ExceptionRepository{
		db: database.MainDB,
	}
}

func (r *ExceptionRepository) WithDB(db *gorm.DB) *ExceptionRepository {
	return &ExceptionRepository{db: db}
}

// Create persists a new exception in the database.
func (r *ExceptionRepository) Create(
	ctx context.Context,
	exc *model.Exception,
) error {

	logger.WithFields(map[string]interface{}{
		"service": exc.Service,
		"module":  exc.Module,
		"method":  exc.Method,
		"level":   exc.Level,
	}).Debug("Persisting system exception")

	return r.db.WithContext(ctx).Create(exc).Error
}

// Latest returns the newest exceptions first.
func (r *ExceptionRepository) Latest(ctx context.Context, limit int) ([]model.Exception, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []model.Exception
	err := r.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&out).Error
	return out, err
}

// Capture records a system exception, logs it locally, and persists it when
// a database is configured. A nil receiver only logs.
func (r *ExceptionRepository) Capture(
	ctx context.Context,
	module string,
	method string,
	level string,
	err error,
	contextData map[string]interface{},
) {

	if err == nil {
		return
	}

	var ctxJSON string
	if contextData != nil {
		if b, e := json.Marshal(contextData); e == nil {
			ctxJSON = string(b)
		}
	}

	exc := &model.Exception{
		Service:   ServiceName,
		Module:    module,
		Method:    method,
		Message:   err.Error(),
		Stack:     string(debug.Stack()),
		Level:     level,
		Context:   ctxJSON,
		CreatedAt: time.Now(),
	}

	// Local log
	logger.WithFields(map[string]interface{}{
		"module": module,
		"method": method,
		"level":  level,
	}).WithError(err).Error("System exception captured")

	if r == nil || r.db == nil {
		return
	}
	if e := r.Create(ctx, exc); e != nil {
		logger.WithError(e).Error("Failed to persist exception")
	}
}
