package models

import "time"

const (
	SubStatusNone     = "none"
	SubStatusActive   = "active"
	SubStatusCanceled = "canceled"
)

const (
	RefundStatusNone     = "none"
	RefundStatusPending  = "pending"
	RefundStatusApproved = "approved"
	RefundStatusDenied   = "denied"
)

// Subscription is the single mutable billing record per user. It is never
// deleted; cancellation reverts it to plan=free/status=none at period end.
//
// ProcessingChange together with ProcessingSince forms the short-lived
// exclusive lock guarding all mutations. The lock is only ever taken and
// released through conditional updates (see repository.SubscriptionRepository).
type Subscription struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	UserID              uint       `gorm:"not null;uniqueIndex" json:"user_id"`
	Plan                string     `gorm:"type:varchar(20);not null;default:'free';index" json:"plan"`
	Status              string     `gorm:"type:varchar(20);not null;default:'none';index:idx_subscriptions_status_pending,priority:1" json:"status"`
	PendingPlan         *string    `gorm:"type:varchar(20);default:null" json:"pending_plan,omitempty"`
	PendingPlanChangeAt *time.Time `gorm:"type:timestamp;default:null;index:idx_subscriptions_status_pending,priority:2" json:"pending_plan_change_at,omitempty"`
	CurrentPeriodStart  *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd    *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	ProcessingChange    bool       `gorm:"not null;default:false" json:"processing_change"`
	ProcessingSince     *time.Time `gorm:"type:timestamp;default:null" json:"-"`
	RefundStatus        string     `gorm:"type:varchar(20);not null;default:'none'" json:"refund_status"`
	FirstSubscribedAt   *time.Time `gorm:"type:timestamp;default:null" json:"first_subscribed_at,omitempty"`
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// HasPendingChange reports whether a scheduled plan change is queued.
func (s *Subscription) HasPendingChange() bool {
	return s.PendingPlan != nil && *s.PendingPlan != ""
}

// LockHeld reports whether the processing lock is currently held, treating a
// lock older than ttl as expired so crashed executors cannot wedge a record.
func (s *Subscription) LockHeld(now time.Time, ttl time.Duration) bool {
	if !s.ProcessingChange {
		return false
	}
	if s.ProcessingSince == nil {
		// Flag set without a timestamp predates the TTL discipline; treat as stale.
		return false
	}
	return now.Sub(*s.ProcessingSince) < ttl
}

// InPeriod reports whether now falls before the current period end.
func (s *Subscription) InPeriod(now time.Time) bool {
	return s.CurrentPeriodEnd != nil && now.Before(*s.CurrentPeriodEnd)
}
