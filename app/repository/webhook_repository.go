package repository

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarkusWeber/ShotVault/app/models"
)

// webhookEventRepository implements the WebhookEventRepository interface
type webhookEventRepository struct {
	db *gorm.DB
}

// NewWebhookEventRepository creates a new webhook event repository instance
func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

// CreateIfNotExists inserts the event unless the (provider, provider_event_id)
// pair already exists. Returns created=false for redeliveries, together with
// the stored row.
func (r *webhookEventRepository) CreateIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

// MarkProcessed marks an event as processed and stores an optional error
func (r *webhookEventRepository) MarkProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"claimed_at":       nil,
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

// TryClaim is a conditional write: it only succeeds when the event is still
// unprocessed and not claimed by a live worker. Affected rows decide the
// outcome, mirroring how the subscription processing lock is taken.
func (r *webhookEventRepository) TryClaim(id uint, now time.Time, ttl time.Duration) (bool, error) {
	staleBefore := now.Add(-ttl)
	tx := r.db.Model(&models.WebhookEvent{}).
		Where("id = ? AND processed_at IS NULL AND (claimed_at IS NULL OR claimed_at < ?)", id, staleBefore).
		Updates(map[string]interface{}{
			"claimed_at": now,
			"updated_at": now,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// ReleaseClaim clears the in-flight marker on an event
func (r *webhookEventRepository) ReleaseClaim(id uint) error {
	return r.db.Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"claimed_at": nil,
			"updated_at": time.Now(),
		}).Error
}
