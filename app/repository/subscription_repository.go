package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/MarkusWeber/ShotVault/app/models"
)

// subscriptionRepository implements the SubscriptionRepository interface
type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new subscription repository instance
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

// Create creates a new subscription record
func (r *subscriptionRepository) Create(sub *models.Subscription) error {
	return r.db.Create(sub).Error
}

// GetByUserID retrieves the subscription for a user
func (r *subscriptionRepository) GetByUserID(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("user_id = ?", userID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// AcquireProcessing attempts to atomically claim the processing lock.
// The condition admits a flag that is unset, has no timestamp, or whose
// timestamp is older than the TTL, so crashed executors are recovered
// without manual intervention.
func (r *subscriptionRepository) AcquireProcessing(userID uint, now time.Time, ttl time.Duration) (bool, error) {
	staleBefore := now.Add(-ttl)
	tx := r.db.Model(&models.Subscription{}).
		Where("user_id = ? AND (processing_change = ? OR processing_since IS NULL OR processing_since < ?)",
			userID, false, staleBefore).
		Updates(map[string]interface{}{
			"processing_change": true,
			"processing_since":  now,
			"updated_at":        now,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// ReleaseProcessing clears the processing lock
func (r *subscriptionRepository) ReleaseProcessing(userID uint) error {
	return r.db.Model(&models.Subscription{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"processing_change": false,
			"processing_since":  nil,
			"updated_at":        time.Now(),
		}).Error
}

// CommitMutation writes the new subscription state, the audit entry, the
// extra writes and the lock release as a single transaction conditioned on
// the lock being held. A crash between validation and commit therefore
// leaves the record either untouched (lock expires via TTL) or fully
// transitioned, never in between.
func (r *subscriptionRepository) CommitMutation(sub *models.Subscription, entry *models.AuditLogEntry, extras ...func(tx *gorm.DB) error) error {
	now := time.Now()
	return r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Subscription{}).
			Where("id = ? AND processing_change = ?", sub.ID, true).
			Updates(map[string]interface{}{
				"plan":                   sub.Plan,
				"status":                 sub.Status,
				"pending_plan":           sub.PendingPlan,
				"pending_plan_change_at": sub.PendingPlanChangeAt,
				"current_period_start":   sub.CurrentPeriodStart,
				"current_period_end":     sub.CurrentPeriodEnd,
				"refund_status":          sub.RefundStatus,
				"first_subscribed_at":    sub.FirstSubscribedAt,
				"processing_change":      false,
				"processing_since":       nil,
				"updated_at":             now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrLockLost
		}
		if entry != nil {
			if err := tx.Create(entry).Error; err != nil {
				return err
			}
		}
		for _, extra := range extras {
			if err := extra(tx); err != nil {
				return err
			}
		}
		// Reflect lock release on the caller's struct
		sub.ProcessingChange = false
		sub.ProcessingSince = nil
		sub.UpdatedAt = now
		return nil
	})
}

// ListDuePending returns subscriptions whose scheduled change is due. The
// buffer widens the window backwards so a rollover racing a just-committed
// reactivation is still swept on the next tick instead of being missed.
func (r *subscriptionRepository) ListDuePending(now time.Time, buffer time.Duration, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.
		Where("pending_plan_change_at IS NOT NULL AND pending_plan_change_at <= ?", now.Add(buffer)).
		Order("pending_plan_change_at ASC").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}
