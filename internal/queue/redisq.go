package queue

import (
	"context"
	"fmt"
	"time"

	r "github.com/redis/go-redis/v9"
)

// DelayQ parks retried jobs in a per-tenant ZSET scored by their backoff
// deadline. The database stays authoritative (available_at gates the
// claim); the ZSET only exists so the janitor can re-announce a job the
// moment its backoff elapses instead of waiting for the next poll.
type DelayQ struct{ rdb *r.Client }

func New(rdb *r.Client) *DelayQ { return &DelayQ{rdb} }

const tenantSet = "delay:tenants"

func (q *DelayQ) Defer(ctx context.Context, tenant, jobID string, until time.Time) error {
	pipe := q.rdb.TxPipeline()
	pipe.ZAdd(ctx, "delay:"+tenant, r.Z{Score: float64(until.Unix()), Member: jobID})
	pipe.SAdd(ctx, tenantSet, tenant)
	_, err := pipe.Exec(ctx)
	return err
}

// MoveDue removes and returns jobs whose backoff deadline has passed.
func (q *DelayQ) MoveDue(ctx context.Context, tenant string, now int64, batch int64) ([]string, error) {
	key := "delay:" + tenant
	ids, err := q.rdb.ZRangeByScore(ctx, key, &r.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now), Offset: 0, Count: batch,
	}).Result()
	if err != nil || len(ids) == 0 {
		return nil, err
	}

	pipe := q.rdb.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, key, id)
	}
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	if card.Val() == 0 {
		_ = q.rdb.SRem(ctx, tenantSet, tenant).Err()
	}
	return ids, nil
}

// Tenants lists every tenant with at least one parked job.
func (q *DelayQ) Tenants(ctx context.Context) ([]string, error) {
	return q.rdb.SMembers(ctx, tenantSet).Result()
}
