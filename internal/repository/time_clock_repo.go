package repository

import (
	"context"
	"time"

	"fieldclock/internal/ledger"
	"fieldclock/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TimeClockRepository is the gorm-backed ledger store. Each mutation runs
// in one transaction that re-checks the open session after locking the
// user's status row.
type TimeClockRepository struct {
	db *gorm.DB
}

func NewTimeClockRepository(db *gorm.DB) *TimeClockRepository {
	return &TimeClockRepository{db: db}
}

var _ ledger.Store = (*TimeClockRepository)(nil)

func (r *TimeClockRepository) CreateOpenSession(ctx context.Context, entry *models.TimeClockEntry, session *models.TimeClockSession, status *models.TimeClockStatus) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockStatus(tx, status); err != nil {
			return err
		}
		var open int64
		if err := tx.Model(&models.TimeClockSession{}).
			Where("user_id = ? AND clock_out_entry_id IS NULL", entry.UserID).
			Count(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			return ledger.ErrAlreadyClockedIn
		}
		if err := tx.Create(entry).Error; err != nil {
			return err
		}
		if err := tx.Create(session).Error; err != nil {
			return err
		}
		return saveStatus(tx, status)
	})
}

func (r *TimeClockRepository) CloseOpenSession(ctx context.Context, entry *models.TimeClockEntry, session *models.TimeClockSession, status *models.TimeClockStatus) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockStatus(tx, status); err != nil {
			return err
		}
		res := tx.Model(&models.TimeClockSession{}).
			Where("id = ? AND clock_out_entry_id IS NULL", session.ID).
			Updates(map[string]interface{}{
				"clock_out_entry_id": session.ClockOutEntryID,
				"clock_out_at":       session.ClockOutAt,
				"duration_ms":        session.DurationMs,
				"notes":              session.Notes,
				"updated_at":         session.UpdatedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ledger.ErrNotClockedIn
		}
		if err := tx.Create(entry).Error; err != nil {
			return err
		}
		return saveStatus(tx, status)
	})
}

func (r *TimeClockRepository) FindOpenSession(ctx context.Context, userID string) (*models.TimeClockSession, error) {
	var list []models.TimeClockSession
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND clock_out_entry_id IS NULL", userID).
		Order("clock_in_at DESC").Limit(1).Find(&list).Error
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

func (r *TimeClockRepository) Entries(ctx context.Context, userID string) ([]models.TimeClockEntry, error) {
	var list []models.TimeClockEntry
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("timestamp ASC").Find(&list).Error
	return list, err
}

func (r *TimeClockRepository) Sessions(ctx context.Context, userID string) ([]models.TimeClockSession, error) {
	var list []models.TimeClockSession
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("clock_in_at ASC").Find(&list).Error
	return list, err
}

func (r *TimeClockRepository) SessionsBetween(ctx context.Context, userID string, from, to time.Time) ([]models.TimeClockSession, error) {
	var list []models.TimeClockSession
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND session_date >= ? AND session_date <= ?", userID, from, to).
		Order("clock_in_at ASC").Find(&list).Error
	return list, err
}

// Status returns the persisted status row, or nil if the user never clocked.
func (r *TimeClockRepository) Status(ctx context.Context, userID string) (*models.TimeClockStatus, error) {
	var list []models.TimeClockStatus
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Limit(1).Find(&list).Error; err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

// lockStatus takes a row lock on the user's status row where the dialect
// supports it, so concurrent writers for one user queue up. A clocked-out
// row is inserted first when none exists: on MySQL, locking a missing row
// takes a gap lock and two first-time writers deadlock on it.
func lockStatus(tx *gorm.DB, status *models.TimeClockStatus) error {
	baseline := models.ClockedOutStatus(status.UserID, status.UpdatedAt)
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&baseline).Error; err != nil {
		return err
	}
	var rows []models.TimeClockStatus
	return tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("user_id = ?", status.UserID).Find(&rows).Error
}

func saveStatus(tx *gorm.DB, status *models.TimeClockStatus) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		UpdateAll: true,
	}).Create(status).Error
}
