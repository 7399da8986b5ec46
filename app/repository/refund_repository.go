package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/MarkusWeber/ShotVault/app/models"
)

// refundRepository implements the RefundRepository interface
type refundRepository struct {
	db *gorm.DB
}

// NewRefundRepository creates a new refund repository instance
func NewRefundRepository(db *gorm.DB) RefundRepository {
	return &refundRepository{db: db}
}

// GetByUUID retrieves a refund request by its public UUID
func (r *refundRepository) GetByUUID(uuid string) (*models.RefundRequest, error) {
	var req models.RefundRequest
	err := r.db.Where("uuid = ?", uuid).First(&req).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// GetOpenBySubscription returns the pending refund request for a subscription
func (r *refundRepository) GetOpenBySubscription(subscriptionID uint) (*models.RefundRequest, error) {
	var req models.RefundRequest
	err := r.db.
		Where("subscription_id = ? AND status = ?", subscriptionID, models.RefundStatusPending).
		First(&req).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// ListOpen returns the oldest pending refund requests, manual-review cases first
func (r *refundRepository) ListOpen(limit int) ([]models.RefundRequest, error) {
	var reqs []models.RefundRequest
	err := r.db.
		Where("status = ?", models.RefundStatusPending).
		Order("manual_review DESC, created_at ASC").
		Limit(limit).
		Find(&reqs).Error
	return reqs, err
}

// Resolve marks a refund request approved or denied
func (r *refundRepository) Resolve(id uint, status string, notes string, processedAt time.Time) error {
	return r.ResolveTx(r.db, id, status, notes, processedAt)
}

// ResolveTx marks a refund request approved or denied on the given transaction
func (r *refundRepository) ResolveTx(tx *gorm.DB, id uint, status string, notes string, processedAt time.Time) error {
	return tx.Model(&models.RefundRequest{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       status,
			"admin_notes":  notes,
			"processed_at": processedAt,
			"updated_at":   processedAt,
		}).Error
}
