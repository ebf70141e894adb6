// Package analytics records per-run and per-department counters in
// Redis, bucketed by time window with a bounded retention. Counters
// answer "how many runs and new tenders did we see this hour/day"
// without touching the run store.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/div360/tender-scraper/internal/domain"
)

type RedisSink struct {
	client *redis.Client
	config domain.AnalyticsConfig
}

func NewRedisSink(client *redis.Client, config domain.AnalyticsConfig) *RedisSink {
	return &RedisSink{client: client, config: config}
}

// Record bumps the run counter for the trigger reason and the
// new-tender counters per department, all in one pipeline.
func (s *RedisSink) Record(ctx context.Context, event domain.TriggerEvent, report domain.RunReport) error {
	if !s.config.Enabled {
		return nil
	}

	bucket := truncateToBucket(event.FiredAt, s.config.Window)
	pipe := s.client.Pipeline()

	runKey := fmt.Sprintf("runs:%s:%s", event.Reason, bucket)
	pipe.Incr(ctx, runKey)
	pipe.Expire(ctx, runKey, s.config.Retention)

	totalKey := "tenders:new:" + bucket
	if n := report.TotalNew(); n > 0 {
		pipe.IncrBy(ctx, totalKey, int64(n))
		pipe.Expire(ctx, totalKey, s.config.Retention)
	}

	for _, dept := range report.Departments {
		if len(dept.NewTenders) == 0 {
			continue
		}
		deptKey := fmt.Sprintf("tenders:new:dept:%s:%s", dept.Name, bucket)
		pipe.IncrBy(ctx, deptKey, int64(len(dept.NewTenders)))
		pipe.Expire(ctx, deptKey, s.config.Retention)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

func truncateToBucket(t time.Time, window time.Duration) string {
	t = t.UTC()
	switch window {
	case time.Minute:
		return t.Format("200601021504")
	case time.Hour:
		return t.Format("2006010215")
	case 24 * time.Hour:
		return t.Format("20060102")
	default:
		return t.Format("2006010215")
	}
}
