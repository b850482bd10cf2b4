package repository

import (
	"fieldclock/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type LocationRepository struct {
	db *gorm.DB
}

func NewLocationRepository(db *gorm.DB) *LocationRepository {
	return &LocationRepository{db: db}
}

// Upsert replaces the user's last fix.
func (r *LocationRepository) Upsert(loc *models.UserLocation) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"latitude", "longitude", "accuracy_meters", "fixed_at", "updated_at"}),
	}).Create(loc).Error
}

func (r *LocationRepository) GetByUserID(userID string) (*models.UserLocation, error) {
	var loc models.UserLocation
	err := r.db.Where("user_id = ?", userID).First(&loc).Error
	if err != nil {
		return nil, err
	}
	return &loc, nil
}
