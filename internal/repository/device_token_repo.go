package repository

import (
	"time"

	"chamalink/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DeviceTokenRepository struct {
	db *gorm.DB
}

func NewDeviceTokenRepository(db *gorm.DB) *DeviceTokenRepository {
	return &DeviceTokenRepository{db: db}
}

// Register upserts a token. A token moving between accounts (shared
// device, reinstall) is reassigned to the latest registering user.
func (r *DeviceTokenRepository) Register(userID uint, token, platform string) error {
	now := time.Now()
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "platform", "last_seen_at"}),
	}).Create(&models.DeviceToken{
		UserID:     userID,
		Token:      token,
		Platform:   platform,
		LastSeenAt: now,
	}).Error
}

func (r *DeviceTokenRepository) ListTokens(userID uint) ([]string, error) {
	var tokens []string
	err := r.db.Model(&models.DeviceToken{}).
		Where("user_id = ?", userID).
		Pluck("token", &tokens).Error
	return tokens, err
}

// RemoveByToken is the token-hygiene sink for endpoints the provider
// reported as permanently invalid.
func (r *DeviceTokenRepository) RemoveByToken(token string) (bool, error) {
	res := r.db.Where("token = ?", token).Delete(&models.DeviceToken{})
	return res.RowsAffected > 0, res.Error
}

func (r *DeviceTokenRepository) RemoveForUser(userID uint, token string) error {
	return r.db.Where("user_id = ? AND token = ?", userID, token).Delete(&models.DeviceToken{}).Error
}

// RemoveStale drops tokens not seen for the given duration.
func (r *DeviceTokenRepository) RemoveStale(olderThan time.Time) (int64, error) {
	res := r.db.Where("last_seen_at < ?", olderThan).Delete(&models.DeviceToken{})
	return res.RowsAffected, res.Error
}
