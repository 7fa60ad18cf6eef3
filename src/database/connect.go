package database

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects with the configured driver and tunes the connection pool.
func Open(config Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch config.Driver {
	case DriverSQLite, "":
		dialector = sqlite.Open(config.SQLitePath)
	case DriverPostgres:
		dialector = postgres.Open(config.DatabaseURLMain)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", config.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.LogLevel(config.GormLogLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", config.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB from gorm: %w", err)
	}
	if config.Driver == DriverPostgres {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(1 * time.Hour)
	} else {
		// sqlite serializes writers
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}
