package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RefundRequest records a user's refund claim together with the usage
// snapshot that decided its eligibility. The snapshot is frozen at request
// time so later uploads cannot retroactively change the outcome.
type RefundRequest struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	UUID              string          `gorm:"type:varchar(36);uniqueIndex" json:"uuid"`
	SubscriptionID    uint            `gorm:"not null;index" json:"subscription_id"`
	UserID            uint            `gorm:"not null;index" json:"user_id"`
	Reason            string          `gorm:"type:text" json:"reason"`
	Status            string          `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	Amount            decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	UsageStorageBytes int64           `gorm:"not null;default:0" json:"usage_storage_bytes"`
	UsageGalleryCount int             `gorm:"not null;default:0" json:"usage_gallery_count"`
	DetectedPath      string          `gorm:"type:varchar(50);not null;default:'unknown'" json:"detected_path"`
	ManualReview      bool            `gorm:"not null;default:false" json:"manual_review"`
	AdminNotes        string          `gorm:"type:text" json:"admin_notes"`
	ProcessedAt       *time.Time      `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsOpen reports whether the request still awaits an operator decision.
func (r *RefundRequest) IsOpen() bool {
	return r.Status == RefundStatusPending
}
