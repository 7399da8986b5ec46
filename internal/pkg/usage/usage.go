package usage

import (
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/MarkusWeber/ShotVault/internal/pkg/cache"
)

const (
	cacheKeyStorage   = "usage:storage:%d"
	cacheKeyGalleries = "usage:galleries:%d"
	cacheExpiration   = 30 * time.Minute
)

// Source reports a user's current resource consumption. The numbers feed the
// refund eligibility check, so they read the tables owned by the main
// application (images, galleries) rather than any local state.
type Source interface {
	StorageUsed(userID uint) (int64, error)
	GalleryCount(userID uint) (int, error)
}

type gormSource struct {
	db       *gorm.DB
	useCache bool
}

// NewSource creates a usage source backed by the shared database with a
// Redis read-through cache.
func NewSource(db *gorm.DB) Source {
	return &gormSource{db: db, useCache: true}
}

// NewUncachedSource skips the cache layer. Intended for tests.
func NewUncachedSource(db *gorm.DB) Source {
	return &gormSource{db: db}
}

func (s *gormSource) StorageUsed(userID uint) (int64, error) {
	key := fmt.Sprintf(cacheKeyStorage, userID)
	if s.useCache {
		if val, err := cache.Get(key); err == nil {
			if n, perr := strconv.ParseInt(val, 10, 64); perr == nil {
				return n, nil
			}
		}
	}

	var total int64
	err := s.db.Table("images").
		Where("user_id = ? AND deleted_at IS NULL", userID).
		Select("COALESCE(SUM(file_size), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}

	if s.useCache {
		// Cache failures are not worth failing the request over.
		_ = cache.Set(key, total, cacheExpiration)
	}
	return total, nil
}

func (s *gormSource) GalleryCount(userID uint) (int, error) {
	key := fmt.Sprintf(cacheKeyGalleries, userID)
	if s.useCache {
		if val, err := cache.GetInt(key); err == nil {
			return val, nil
		}
	}

	var count int64
	err := s.db.Table("galleries").
		Where("user_id = ? AND deleted_at IS NULL", userID).
		Count(&count).Error
	if err != nil {
		return 0, err
	}

	if s.useCache {
		_ = cache.Set(key, count, cacheExpiration)
	}
	return int(count), nil
}
