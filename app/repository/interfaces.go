package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/MarkusWeber/ShotVault/app/models"
)

// ErrLockLost is returned by CommitMutation when the processing lock was no
// longer held at commit time (expired TTL claimed by another executor).
var ErrLockLost = errors.New("processing lock no longer held")

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
}

// SubscriptionRepository is the store adapter for the single subscription
// record per user. All mutations that matter for correctness are conditional
// writes; plain Save is deliberately absent.
type SubscriptionRepository interface {
	Create(sub *models.Subscription) error
	GetByUserID(userID uint) (*models.Subscription, error)

	// AcquireProcessing atomically sets the processing flag if it is not
	// held, or held longer than ttl (stale lock recovery). Returns false
	// when another operation holds a live lock.
	AcquireProcessing(userID uint, now time.Time, ttl time.Duration) (bool, error)

	// ReleaseProcessing clears the processing flag unconditionally. Used on
	// validation rejections and aborted transitions.
	ReleaseProcessing(userID uint) error

	// CommitMutation applies the new subscription state, appends the audit
	// entry and clears the processing flag in one transaction. The update is
	// keyed on the flag still being set, so a commit after losing the lock
	// fails with ErrLockLost instead of corrupting state. Any extra writes
	// that must land with the state change (refund rows and the like) run
	// inside the same transaction; a failing extra rolls everything back.
	CommitMutation(sub *models.Subscription, entry *models.AuditLogEntry, extras ...func(tx *gorm.DB) error) error

	// ListDuePending returns subscriptions whose scheduled change is due,
	// i.e. pending_plan_change_at <= now+buffer. Indexed query, never a scan.
	ListDuePending(now time.Time, buffer time.Duration, limit int) ([]models.Subscription, error)
}

// RefundRepository defines operations on refund requests. Rows are created
// inside CommitMutation's transaction, so the interface has no Create.
type RefundRepository interface {
	GetByUUID(uuid string) (*models.RefundRequest, error)
	GetOpenBySubscription(subscriptionID uint) (*models.RefundRequest, error)
	ListOpen(limit int) ([]models.RefundRequest, error)
	Resolve(id uint, status string, notes string, processedAt time.Time) error

	// ResolveTx is Resolve running on a caller-supplied transaction, so a
	// refund resolution can commit together with the subscription state it
	// belongs to.
	ResolveTx(tx *gorm.DB, id uint, status string, notes string, processedAt time.Time) error
}

// AuditRepository appends and reads the append-only transition log.
type AuditRepository interface {
	Append(entry *models.AuditLogEntry) error
	ListByUser(userID uint, limit int) ([]models.AuditLogEntry, error)

	// FirstPaidTransition returns the oldest subscribe/upgrade entry whose
	// target is a paid plan, or gorm.ErrRecordNotFound when the user has no
	// recorded paid transition.
	FirstPaidTransition(userID uint) (*models.AuditLogEntry, error)
}

// WebhookEventRepository persists provider events with dedup semantics.
type WebhookEventRepository interface {
	CreateIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkProcessed(id uint, processingError string) error

	// TryClaim atomically marks an unprocessed event as in-flight. Returns
	// false when another worker holds a live claim, so two concurrent
	// deliveries of the same event can never both apply it. Claims older
	// than ttl count as abandoned and may be re-taken.
	TryClaim(id uint, now time.Time, ttl time.Duration) (bool, error)

	// ReleaseClaim drops the in-flight marker after a failed attempt so a
	// redelivery can claim the event again without waiting out the ttl.
	ReleaseClaim(id uint) error
}

// Repositories bundles all repository instances
type Repositories struct {
	User         UserRepository
	Subscription SubscriptionRepository
	Refund       RefundRepository
	Audit        AuditRepository
	WebhookEvent WebhookEventRepository
}

// NewRepositories creates all repository instances backed by the given DB
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:         NewUserRepository(db),
		Subscription: NewSubscriptionRepository(db),
		Refund:       NewRefundRepository(db),
		Audit:        NewAuditRepository(db),
		WebhookEvent: NewWebhookEventRepository(db),
	}
}
