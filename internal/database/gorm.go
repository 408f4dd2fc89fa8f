package database

import (
	"fmt"
	"log"

	"whatsapp-compliance-gateway/internal/config"
	"whatsapp-compliance-gateway/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Init opens the configured database (sqlite for local use, postgres for
// production) and runs migrations.
func Init(cfg *config.Config) *gorm.DB {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "postgres":
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
			cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort, cfg.DBSSLMode)
		dialector = postgres.Open(dsn)
	default:
		dialector = sqlite.Open(cfg.DBPath)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := Migrate(db); err != nil {
		log.Fatalf("Failed to run auto-migration: %v", err)
	}

	log.Printf("Database initialized (%s)", cfg.DBDriver)
	return db
}

// Migrate runs schema migrations and seeds the singleton settings row.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Account{},
		&models.ClientApp{},
		&models.Profile{},
		&models.ProfileConsent{},
		&models.ConsentLog{},
		&models.OptOutKeyword{},
		&models.ConsentCategory{},
		&models.ConversationRoute{},
		&models.Message{},
		&models.ComplianceSettings{},
		&models.Template{},
		&models.WebhookLog{},
	)
	if err != nil {
		return err
	}

	// Singleton compliance settings: seed defaults on first boot.
	var count int64
	db.Model(&models.ComplianceSettings{}).Count(&count)
	if count == 0 {
		seed := models.ComplianceSettings{
			EnforceConsentCheck:           true,
			ConsentCheckMode:              models.ModeStrict,
			Enforce24HourWindow:           true,
			WindowHours:                   24,
			EnableOptOutDetection:         true,
			EnableOptInDetection:          true,
			OptInKeywords:                 "start, subscribe, yes",
			IncludeUnsubscribeInMarketing: true,
		}
		if err := db.Create(&seed).Error; err != nil {
			return err
		}
	}
	return nil
}
