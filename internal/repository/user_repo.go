package repository

import (
	"chamalink/internal/domain"
	"chamalink/internal/models"

	"gorm.io/gorm"
)

// Endpoints holds the contact points resolved for one member.
type Endpoints struct {
	Phone        string
	Email        string
	DeviceTokens []string
}

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(u *models.User) error {
	return r.db.Create(u).Error
}

func (r *UserRepository) GetByID(id uint) (*models.User, error) {
	var u models.User
	if err := r.db.First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) GetByPhone(phone string) (*models.User, error) {
	var u models.User
	if err := r.db.Where("phone = ?", phone).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// ResolveEndpoints returns the member's contact points for a channel:
// phone for sms, device tokens for push, address for email.
func (r *UserRepository) ResolveEndpoints(userID uint, channel string) (*Endpoints, error) {
	u, err := r.GetByID(userID)
	if err != nil {
		return nil, err
	}
	ep := &Endpoints{}
	switch channel {
	case domain.ChannelSMS:
		ep.Phone = u.Phone
	case domain.ChannelEmail:
		if u.Email != nil {
			ep.Email = *u.Email
		}
	case domain.ChannelPush:
		err = r.db.Model(&models.DeviceToken{}).
			Where("user_id = ?", userID).
			Order("last_seen_at DESC").
			Pluck("token", &ep.DeviceTokens).Error
		if err != nil {
			return nil, err
		}
	}
	return ep, nil
}

// ListActiveIDs resolves "send to all" to concrete member ids.
func (r *UserRepository) ListActiveIDs() ([]uint, error) {
	var ids []uint
	err := r.db.Model(&models.User{}).
		Where("is_active = ?", true).
		Pluck("id", &ids).Error
	return ids, err
}

// ListIDsByRole resolves "send to role" to active member ids.
func (r *UserRepository) ListIDsByRole(role string) ([]uint, error) {
	var ids []uint
	err := r.db.Model(&models.User{}).
		Where("role = ? AND is_active = ?", role, true).
		Pluck("id", &ids).Error
	return ids, err
}
