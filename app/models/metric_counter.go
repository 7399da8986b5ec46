package models

import "time"

// MetricCounter is a durable counter flushed periodically from Redis.
// Used for rejection metrics; accepted transitions are counted via the
// audit log instead.
type MetricCounter struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(100);not null;uniqueIndex" json:"name"`
	Count     int64     `gorm:"not null;default:0" json:"count"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
