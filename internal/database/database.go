package database

import (
	"errors"
	"log"

	"satspos/config"
	"satspos/internal/models"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func NewDB(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

// AutoMigrate runs Gorm auto-migration for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Merchant{},
		&models.Order{},
	)
}

// SeedMerchant creates the operator account from config if it doesn't exist.
func SeedMerchant(db *gorm.DB, cfg *config.MerchantConfig) {
	var existing models.Merchant
	err := db.Where("name = ?", cfg.Name).First(&existing).Error
	if err == nil {
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("[DB] merchant lookup failed: %v", err)
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("[DB] merchant seed failed: %v", err)
		return
	}
	m := models.Merchant{Name: cfg.Name, PasswordHash: string(hash), Address: cfg.Address}
	if err := db.Create(&m).Error; err != nil {
		log.Printf("[DB] merchant seed failed: %v", err)
		return
	}
	log.Printf("[DB] seeded merchant %q", cfg.Name)
}
