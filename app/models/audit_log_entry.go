package models

import "time"

const (
	AuditActionSubscribe          = "subscribe"
	AuditActionUpgrade            = "upgrade"
	AuditActionDowngradeScheduled = "downgrade_scheduled"
	AuditActionCancel             = "cancel"
	AuditActionReactivate         = "reactivate"
	AuditActionRefundRequested    = "refund_requested"
	AuditActionRefundApproved     = "refund_approved"
	AuditActionRefundDenied       = "refund_denied"
	AuditActionApplyScheduled     = "apply_scheduled"
	AuditActionPeriodRenewed      = "period_renewed"
)

// AuditLogEntry is the append-only record of every accepted transition.
// Entries are never updated or deleted; historical facts (e.g. which plan a
// user first subscribed to) are derived from them.
type AuditLogEntry struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	UUID           string     `gorm:"type:varchar(36);uniqueIndex" json:"uuid"`
	UserID         uint       `gorm:"not null;index:idx_audit_user_created,priority:1" json:"user_id"`
	SubscriptionID uint       `gorm:"not null;index" json:"subscription_id"`
	Action         string     `gorm:"type:varchar(32);not null;index" json:"action"`
	FromPlan       string     `gorm:"type:varchar(20);not null" json:"from_plan"`
	ToPlan         string     `gorm:"type:varchar(20);not null" json:"to_plan"`
	EffectiveAt    *time.Time `gorm:"type:timestamp;default:null" json:"effective_at,omitempty"`
	Metadata       string     `gorm:"type:longtext" json:"metadata"`
	CreatedAt      time.Time  `gorm:"autoCreateTime;index:idx_audit_user_created,priority:2" json:"created_at"`
}
