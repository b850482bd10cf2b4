package repository

import (
	"fieldclock/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DeviceTokenRepository struct {
	db *gorm.DB
}

func NewDeviceTokenRepository(db *gorm.DB) *DeviceTokenRepository {
	return &DeviceTokenRepository{db: db}
}

func (r *DeviceTokenRepository) Set(userID, token string) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"fcm_token", "updated_at"}),
	}).Create(&models.DeviceToken{UserID: userID, FCMToken: token}).Error
}

// GetFCMToken returns "" with no error when the user has no device.
func (r *DeviceTokenRepository) GetFCMToken(userID string) (string, error) {
	var list []models.DeviceToken
	if err := r.db.Where("user_id = ?", userID).Limit(1).Find(&list).Error; err != nil {
		return "", err
	}
	if len(list) == 0 {
		return "", nil
	}
	return list[0].FCMToken, nil
}

func (r *DeviceTokenRepository) Clear(userID string) error {
	return r.db.Where("user_id = ?", userID).Delete(&models.DeviceToken{}).Error
}
