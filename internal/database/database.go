package database

import (
	"log"

	"chamalink/config"
	"chamalink/internal/domain"
	"chamalink/internal/models"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func NewDB(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error), // Only log errors, not every SQL query
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
		&models.User{},
		&models.DeviceToken{},
		&models.Notification{},
	)
}

// SeedAdmin creates the initial chama admin if no admin exists yet, so
// a fresh deployment has someone who can log in and send notifications.
func SeedAdmin(db *gorm.DB) {
	var count int64
	db.Model(&models.User{}).Where("role = ?", domain.RoleAdmin).Count(&count)
	if count > 0 {
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte("chamalink-admin"), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("[SEED] bcrypt: %v", err)
		return
	}
	email := "admin@chamalink.co.ke"
	admin := models.User{
		FullName:     "Chama Admin",
		Phone:        "+254700000001",
		Email:        &email,
		PasswordHash: string(hash),
		Role:         domain.RoleAdmin,
		IsActive:     true,
	}
	if err := db.Create(&admin).Error; err != nil {
		log.Printf("[SEED] create admin: %v", err)
		return
	}
	log.Printf("[SEED] created default admin %s (change the password)", admin.Phone)
}
