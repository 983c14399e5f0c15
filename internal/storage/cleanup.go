package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// The sweep statements are written to be idempotent and safe alongside live
// dispatch: each one matches only rows still in the offending state.

// FailStalePending fails pending jobs created before the cutoff that never
// got picked up, and pending jobs whose expiry has passed.
func (s *Store) FailStalePending(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
update jobs set status = 'failed', completed_at = now(),
       error_message = case
         when expires_at is not null and expires_at <= now() then 'expired before start'
         else 'never started'
       end
 where status = 'pending'
   and (created_at < $1 or (expires_at is not null and expires_at <= now()))`,
		cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "fail stale pending")
	}
	return tag.RowsAffected(), nil
}

// FailStuckRunning fails running jobs whose worker died or whose call hung
// past the processing cutoff.
func (s *Store) FailStuckRunning(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
update jobs set status = 'failed', completed_at = now(),
       error_message = 'worker died or stuck'
 where status = 'running' and started_at < $1`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "fail stuck running")
	}
	return tag.RowsAffected(), nil
}

// ReconcileBatchCounters recomputes counters and status for every
// unsettled batch from its member rows. Sweep-forced failures bypass the
// worker's counter path, so the janitor runs this after each sweep to keep
// batch terminality in step with member terminality.
func (s *Store) ReconcileBatchCounters(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `
with tallies as (
  select b.id,
         count(*) filter (where j.status = 'completed') as completed,
         count(*) filter (where j.status = 'failed')    as failed,
         count(*) filter (where j.status = 'cancelled') as cancelled
    from batches b
    join jobs j on j.batch_id = b.id
   where b.status not in ('completed', 'partially_failed', 'failed', 'cancelled')
   group by b.id
)
update batches b
   set completed = t.completed,
       failed    = t.failed,
       cancelled = t.cancelled,
       status = case
         when t.completed + t.failed + t.cancelled < b.total then
           case when t.completed + t.failed + t.cancelled > 0 then 'running' else b.status end
         when t.completed = b.total then 'completed'
         when t.cancelled = b.total then 'cancelled'
         when t.completed > 0 and t.failed > 0 then 'partially_failed'
         when t.failed > 0 and t.completed = 0 then 'failed'
         else 'completed'
       end,
       completed_at = case
         when t.completed + t.failed + t.cancelled >= b.total
           then coalesce(b.completed_at, now())
         else b.completed_at
       end
  from tallies t
 where t.id = b.id`)
	if err != nil {
		return 0, errors.Wrap(err, "reconcile batch counters")
	}
	return tag.RowsAffected(), nil
}

// SoftDeleteTerminal tombstones terminal jobs past the retention window.
// Rows are kept for audit; nothing physically deletes them.
func (s *Store) SoftDeleteTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
update jobs set deleted_at = now()
 where status in ('completed', 'failed', 'cancelled')
   and completed_at < $1
   and deleted_at is null`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "soft delete terminal")
	}
	return tag.RowsAffected(), nil
}
