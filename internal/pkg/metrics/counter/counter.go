package counter

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarkusWeber/ShotVault/app/models"
	"github.com/MarkusWeber/ShotVault/internal/pkg/cache"
	"github.com/MarkusWeber/ShotVault/internal/pkg/database"
)

const rejectionsKey = "subscription:counters:rejections"

// AddRejection increments the pending counter for a rejection code in Redis.
// Accepted transitions are not counted here; the audit log already records
// them durably.
func AddRejection(code string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, rejectionsKey, code, 1).Err()
}

// FlushAll drains the pending rejection counters into the database.
func FlushAll() error {
	return flushHashToCounters(rejectionsKey, "rejection:")
}

// increment is one drained counter delta keyed by its persisted name.
type increment struct {
	name string
	inc  int64
}

// flushHashToCounters drains a Redis hash atomically and upserts the
// increments into metric_counters. Uses RENAME to a temporary key for atomic
// drain without losing in-flight increments.
func flushHashToCounters(redisKey, namePrefix string) error {
	ctx := context.Background()
	rdb := cache.GetClient()

	tmpKey := fmt.Sprintf("%s:tmp:%d", redisKey, time.Now().UnixNano())
	if err := rdb.Do(ctx, "RENAME", redisKey, tmpKey).Err(); err != nil {
		// If key does not exist, nothing to flush
		if strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return nil
		}
		if err.Error() == "redis: nil" {
			return nil
		}
		return err
	}

	// Ensure cleanup of tmpKey even if later steps fail
	defer rdb.Del(ctx, tmpKey)

	data, err := rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return err
	}

	pairs := make([]increment, 0, len(data))
	for field, raw := range data {
		var inc int64
		if _, perr := fmt.Sscanf(raw, "%d", &inc); perr != nil || inc == 0 {
			continue
		}
		pairs = append(pairs, increment{name: namePrefix + field, inc: inc})
	}
	return persistIncrements(database.GetDB(), pairs)
}

// persistIncrements upserts drained counter deltas into metric_counters.
func persistIncrements(db *gorm.DB, pairs []increment) error {
	if len(pairs) == 0 {
		return nil
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].name < pairs[j].name })

	for _, p := range pairs {
		err := db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "name"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"count": gorm.Expr("metric_counters.count + ?", p.inc),
			}),
		}).Create(&models.MetricCounter{Name: p.name, Count: p.inc}).Error
		if err != nil {
			return err
		}
	}
	return nil
}
