package repository

import (
	"context"
	"errors"

	"fieldclock/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type WorkLocationRepository struct {
	db *gorm.DB
}

func NewWorkLocationRepository(db *gorm.DB) *WorkLocationRepository {
	return &WorkLocationRepository{db: db}
}

// ListActive returns active sites in creation order, which is the order the
// geofence matcher sees them in.
func (r *WorkLocationRepository) ListActive(ctx context.Context) ([]models.WorkLocation, error) {
	var list []models.WorkLocation
	err := r.db.WithContext(ctx).Where("active = ?", true).Order("created_at ASC, id ASC").Find(&list).Error
	return list, err
}

func (r *WorkLocationRepository) List(ctx context.Context, includeInactive bool) ([]models.WorkLocation, error) {
	if !includeInactive {
		return r.ListActive(ctx)
	}
	var list []models.WorkLocation
	err := r.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&list).Error
	return list, err
}

// Get returns nil, nil when the id is unknown.
func (r *WorkLocationRepository) Get(ctx context.Context, id string) (*models.WorkLocation, error) {
	var loc models.WorkLocation
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&loc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &loc, nil
}

func (r *WorkLocationRepository) Create(ctx context.Context, loc *models.WorkLocation) error {
	if loc.ID == "" {
		loc.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Create(loc).Error
}

// Update saves all editable fields. gorm.ErrRecordNotFound if id is unknown.
func (r *WorkLocationRepository) Update(ctx context.Context, loc *models.WorkLocation) error {
	res := r.db.WithContext(ctx).Model(&models.WorkLocation{}).Where("id = ?", loc.ID).
		Select("name", "address", "latitude", "longitude", "radius_meters", "project_id", "active").
		Updates(loc)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Deactivate hides a site from matching. Sessions keep referencing it.
func (r *WorkLocationRepository) Deactivate(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&models.WorkLocation{}).Where("id = ?", id).Update("active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
