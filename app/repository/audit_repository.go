package repository

import (
	"gorm.io/gorm"

	"github.com/MarkusWeber/ShotVault/app/models"
	"github.com/MarkusWeber/ShotVault/internal/pkg/plans"
)

// auditRepository implements the AuditRepository interface
type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates a new audit repository instance
func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

// Append adds an entry to the audit log. Entries are immutable once written.
func (r *auditRepository) Append(entry *models.AuditLogEntry) error {
	return r.db.Create(entry).Error
}

// ListByUser returns the most recent audit entries for a user
func (r *auditRepository) ListByUser(userID uint, limit int) ([]models.AuditLogEntry, error) {
	var entries []models.AuditLogEntry
	err := r.db.
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// FirstPaidTransition returns the oldest recorded transition onto a paid
// plan. This is how the refund eligibility check derives the upgrade path.
func (r *auditRepository) FirstPaidTransition(userID uint) (*models.AuditLogEntry, error) {
	paid := make([]string, 0, 2)
	for _, p := range plans.All() {
		if plans.IsPaid(p) {
			paid = append(paid, string(p))
		}
	}

	var entry models.AuditLogEntry
	err := r.db.
		Where("user_id = ? AND action IN ? AND to_plan IN ?",
			userID,
			[]string{models.AuditActionSubscribe, models.AuditActionUpgrade},
			paid,
		).
		Order("created_at ASC, id ASC").
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
