package database

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/softpaymoney/paygate/app/models"
	"github.com/softpaymoney/paygate/internal/pkg/env"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

var DB *gorm.DB

// SetupDatabase connects to the ledger store and migrates the ledger
// tables. The ledger is the store of record for settlements; the
// document store (internal/pkg/docstore) holds the mutable entities.
func SetupDatabase() {
	var err error
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		env.GetEnv("DB_USER", ""),
		env.GetEnv("DB_PASSWORD", ""),
		env.GetEnv("DB_HOST", "127.0.0.1"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", "paygate_db"),
	)

	for i := 0; i < maxRetries; i++ {
		DB, err = gorm.Open(mysql.New(mysql.Config{
			DSN:                      dsn,
			DefaultStringSize:        256,
			DisableDatetimePrecision: true,
		}), &gorm.Config{})
		if err == nil {
			DB.AutoMigrate(
				&models.IncomingRequest{},
				&models.Order{},
				&models.PaymentTransaction{},
				&models.Balance{},
				&models.BalanceUpdateQueue{},
				&models.HandlerPort{},
				&models.AuditLog{},
			)

			return
		}

		log.Printf("Failed to connect to database (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}

	if err != nil {
		panic(err)
	}
}

// GetDB returns the ledger database handle.
func GetDB() *gorm.DB {
	return DB
}

// SetDB replaces the ledger handle; used by tests.
func SetDB(db *gorm.DB) {
	DB = db
}
