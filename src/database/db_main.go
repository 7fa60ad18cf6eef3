package database

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"newstrader/src/database/migrations"
	"newstrader/src/model"
)

// MainDB is the read/write database connection used by the application.
var MainDB *gorm.DB

// Models lists every table owned by the service.
func Models() []interface{} {
	return []interface{}{
		&model.FilterRule{},
		&model.Account{},
		&model.TradeConfig{},
		&model.Order{},
		&model.OrderLog{},
		&model.EncryptedSecret{},
		&model.Exception{},
		&migrations.DataMigration{},
	}
}

// Migrate creates the schema and applies pending data migrations.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if err := migrations.Run(db); err != nil {
		return fmt.Errorf("failed to run data migrations: %w", err)
	}
	return nil
}

// InitMainDB opens the main database and runs migrations.
// This should be called once at application startup.
func InitMainDB() error {
	config := GetConfig()
	db, err := Open(config)
	if err != nil {
		return err
	}

	MainDB = db
	logrus.WithField("driver", config.Driver).Info("[database] MainDB connection established")

	if err := Migrate(MainDB); err != nil {
		return err
	}

	logrus.Info("[database] MainDB migrations completed")
	return nil
}
