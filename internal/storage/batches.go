package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/you/crosslist/internal/domain"
)

type InsertBatchParams struct {
	TenantID    string
	Marketplace string
	Action      string
	Total       int
	Priority    int
}

func (s *Store) InsertBatch(ctx context.Context, p *InsertBatchParams) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(ctx, `insert into batches(
id, tenant_id, marketplace, action, total, completed, failed, cancelled,
priority, status, created_at
) values ($1,$2,$3,$4,$5,0,0,0,$6,'pending',now())`,
		id, p.TenantID, p.Marketplace, p.Action, p.Total, p.Priority)
	return id, errors.Wrap(err, "insert batch")
}

// ApplyJobOutcome bumps the counter matching a member job's terminal state
// and re-derives the batch status, stamping completed_at the moment the
// batch settles. The counter row is locked for the duration so concurrent
// workers never lose an increment.
func (s *Store) ApplyJobOutcome(ctx context.Context, batchID string, outcome domain.Status) error {
	var col string
	switch outcome {
	case domain.StatusCompleted:
		col = "completed"
	case domain.StatusFailed:
		col = "failed"
	case domain.StatusCancelled:
		col = "cancelled"
	default:
		return errors.Errorf("non-terminal outcome %q", outcome)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx)

	b := domain.Batch{ID: batchID}
	err = tx.QueryRow(ctx, `
update batches set `+col+` = `+col+` + 1
 where id = $1
 returning total, completed, failed, cancelled`, batchID).
		Scan(&b.Total, &b.Completed, &b.Failed, &b.Cancelled)
	if err != nil {
		return errors.Wrap(err, "bump counter")
	}

	status := b.DeriveStatus()
	var completedAt *time.Time
	if b.Settled() {
		now := time.Now().UTC()
		completedAt = &now
	}
	_, err = tx.Exec(ctx, `
update batches set status = $2, completed_at = coalesce($3, completed_at)
 where id = $1`, batchID, status, completedAt)
	if err != nil {
		return errors.Wrap(err, "derive status")
	}
	return errors.Wrap(tx.Commit(ctx), "commit")
}

// CancelBatch cancels every member still pending and flags the rest so
// running handlers can abort cooperatively. Jobs already terminal are left
// alone.
func (s *Store) CancelBatch(ctx context.Context, tenant, batchID string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
update jobs set status = 'cancelled', cancel_requested = true, completed_at = now()
 where batch_id = $1 and tenant_id = $2 and status = 'pending'`, batchID, tenant)
	if err != nil {
		return errors.Wrap(err, "cancel pending members")
	}
	_, err = tx.Exec(ctx, `
update jobs set cancel_requested = true
 where batch_id = $1 and tenant_id = $2 and status = 'running'`, batchID, tenant)
	if err != nil {
		return errors.Wrap(err, "flag running members")
	}

	b := domain.Batch{ID: batchID}
	err = tx.QueryRow(ctx, `
update batches set cancelled = cancelled + $2
 where id = $1
 returning total, completed, failed, cancelled`, batchID, tag.RowsAffected()).
		Scan(&b.Total, &b.Completed, &b.Failed, &b.Cancelled)
	if err != nil {
		return errors.Wrap(err, "bump cancelled")
	}
	_, err = tx.Exec(ctx, `update batches set status = $2 where id = $1`,
		batchID, b.DeriveStatus())
	if err != nil {
		return errors.Wrap(err, "derive status")
	}
	return errors.Wrap(tx.Commit(ctx), "commit")
}

func (s *Store) GetBatch(ctx context.Context, tenant, id string) (*domain.Batch, error) {
	var b domain.Batch
	err := s.db.QueryRow(ctx, `
select id, tenant_id, marketplace, action, total, completed, failed,
       cancelled, priority, status, created_at, completed_at
  from batches where id = $1 and tenant_id = $2`, id, tenant).
		Scan(&b.ID, &b.TenantID, &b.Marketplace, &b.Action, &b.Total,
			&b.Completed, &b.Failed, &b.Cancelled, &b.Priority, &b.Status,
			&b.CreatedAt, &b.CompletedAt)
	if err != nil {
		return nil, errors.Wrap(err, "get batch")
	}
	return &b, nil
}
