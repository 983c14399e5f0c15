package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/you/crosslist/internal/domain"
)

// Store is the source of truth. All reads and writes are scoped by
// tenant_id; nothing joins across tenants. Connections are held only for
// the duration of a single statement or claim transaction, never across a
// marketplace call.
type Store struct{ db *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{db} }

type InsertJobParams struct {
	TenantID     string
	Marketplace  string
	ActionTypeID int
	Action       string
	ResourceID   *string
	BatchID      *string
	Priority     int
	Params       []byte
	MaxRetries   int
	TimeoutSec   int
	ExpiresAt    *time.Time
}

// InsertJob persists a job and emits the job_ready notification in the same
// transaction, so a committed job is always announced.
func (s *Store) InsertJob(ctx context.Context, p *InsertJobParams) (string, error) {
	id := uuid.NewString()
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return "", errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `insert into jobs(
id, tenant_id, marketplace, action_type_id, action, resource_id, batch_id,
status, priority, params, retry_count, max_retries, timeout_sec,
created_at, available_at, expires_at
) values ($1,$2,$3,$4,$5,$6,$7,'pending',$8,$9,0,$10,$11,now(),now(),$12)`,
		id, p.TenantID, p.Marketplace, p.ActionTypeID, p.Action, p.ResourceID, p.BatchID,
		p.Priority, p.Params, p.MaxRetries, p.TimeoutSec, p.ExpiresAt,
	)
	if err != nil {
		return "", errors.Wrap(err, "insert job")
	}
	if err := notify(ctx, tx, domain.TriggerEvent{
		JobID: id, TenantID: p.TenantID, Marketplace: p.Marketplace,
		ActionTypeID: p.ActionTypeID, Priority: p.Priority,
	}); err != nil {
		return "", err
	}
	return id, errors.Wrap(tx.Commit(ctx), "commit")
}

func notify(ctx context.Context, tx pgx.Tx, ev domain.TriggerEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal trigger event")
	}
	_, err = tx.Exec(ctx, `select pg_notify($1, $2)`, domain.TriggerChannel, string(payload))
	return errors.Wrap(err, "pg_notify")
}

// ReadyEvent loads the announce payload for a job so re-announcements
// carry the same fields as the insert-time notification.
func (s *Store) ReadyEvent(ctx context.Context, id string) (domain.TriggerEvent, error) {
	var ev domain.TriggerEvent
	err := s.db.QueryRow(ctx, `
select id, tenant_id, marketplace, action_type_id, priority
  from jobs where id = $1`, id).
		Scan(&ev.JobID, &ev.TenantID, &ev.Marketplace, &ev.ActionTypeID, &ev.Priority)
	return ev, errors.Wrap(err, "ready event")
}

// NotifyReady re-announces an already-pending job, used by the delay-queue
// mover once a retry's backoff has elapsed.
func (s *Store) NotifyReady(ctx context.Context, ev domain.TriggerEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal trigger event")
	}
	_, err = s.db.Exec(ctx, `select pg_notify($1, $2)`, domain.TriggerChannel, string(payload))
	return errors.Wrap(err, "pg_notify")
}

const jobColumns = `id, tenant_id, marketplace, action_type_id, action, resource_id, batch_id,
status, priority, params, result, error_message, retry_count, max_retries,
timeout_sec, cancel_requested, created_at, available_at, started_at, completed_at, expires_at`

func scanJob(row pgx.Row) (*domain.Job, error) {
	var j domain.Job
	err := row.Scan(
		&j.ID, &j.TenantID, &j.Marketplace, &j.ActionTypeID, &j.Action,
		&j.ResourceID, &j.BatchID, &j.Status, &j.Priority, &j.Params,
		&j.Result, &j.ErrorMessage, &j.RetryCount, &j.MaxRetries,
		&j.TimeoutSec, &j.CancelFlag, &j.CreatedAt, &j.AvailableAt,
		&j.StartedAt, &j.CompletedAt, &j.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// ClaimNext picks the next eligible pending job for a tenant in
// priority-then-age order and flips it to running, skipping rows locked by
// another claimer. Marketplaces whose circuit is open are excluded so their
// jobs never leave pending. Returns nil, nil when nothing is eligible.
func (s *Store) ClaimNext(ctx context.Context, tenant string, blocked []string) (*domain.Job, error) {
	if blocked == nil {
		blocked = []string{}
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx)

	var id string
	err = tx.QueryRow(ctx, `
select id from jobs
 where tenant_id = $1
   and status = 'pending'
   and available_at <= now()
   and (expires_at is null or expires_at > now())
   and not cancel_requested
   and not (marketplace = any($2))
 order by priority asc, created_at asc
 limit 1
 for update skip locked`, tenant, blocked).Scan(&id)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select claimable")
	}

	row := tx.QueryRow(ctx, `
update jobs set status = 'running', started_at = now()
 where id = $1 and status = 'pending'
 returning `+jobColumns, id)
	j, err := scanJob(row)
	if err != nil {
		return nil, errors.Wrap(err, "claim update")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit")
	}
	return j, nil
}

func (s *Store) MarkCompleted(ctx context.Context, id string, result []byte) error {
	_, err := s.db.Exec(ctx, `
update jobs set status = 'completed', result = $2, completed_at = now()
 where id = $1 and status = 'running'`, id, result)
	return errors.Wrap(err, "mark completed")
}

func (s *Store) MarkFailed(ctx context.Context, id, msg string) error {
	_, err := s.db.Exec(ctx, `
update jobs set status = 'failed', error_message = $2, completed_at = now()
 where id = $1 and status in ('running', 'pending')`, id, msg)
	return errors.Wrap(err, "mark failed")
}

func (s *Store) MarkCancelled(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `
update jobs set status = 'cancelled', completed_at = now()
 where id = $1 and status in ('running', 'pending')`, id)
	return errors.Wrap(err, "mark cancelled")
}

// RequeueForRetry is the retry reset: back to pending with the attempt
// counted and eligibility deferred until availableAt.
func (s *Store) RequeueForRetry(ctx context.Context, id string, availableAt time.Time, msg string) error {
	_, err := s.db.Exec(ctx, `
update jobs set status = 'pending', retry_count = retry_count + 1,
       error_message = $2, started_at = null, available_at = $3
 where id = $1 and status = 'running'`, id, msg, availableAt)
	return errors.Wrap(err, "requeue for retry")
}

// ReleaseToPending undoes a claim without consuming a retry, used when the
// circuit opened between claim and call.
func (s *Store) ReleaseToPending(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `
update jobs set status = 'pending', started_at = null
 where id = $1 and status = 'running'`, id)
	return errors.Wrap(err, "release to pending")
}

// CancelRequested re-reads the cancellation flag; handlers poll this during
// long operations.
func (s *Store) CancelRequested(ctx context.Context, id string) (bool, error) {
	var flagged bool
	err := s.db.QueryRow(ctx,
		`select cancel_requested from jobs where id = $1`, id).Scan(&flagged)
	return flagged, errors.Wrap(err, "read cancel flag")
}

// TenantsWithPending backs the polling fallback: every tenant that has at
// least one job ready to run right now.
func (s *Store) TenantsWithPending(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `
select distinct tenant_id from jobs
 where status = 'pending'
   and available_at <= now()
   and (expires_at is null or expires_at > now())`)
	if err != nil {
		return nil, errors.Wrap(err, "scan pending tenants")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, errors.Wrap(err, "scan tenant")
		}
		out = append(out, t)
	}
	return out, errors.Wrap(rows.Err(), "rows")
}
