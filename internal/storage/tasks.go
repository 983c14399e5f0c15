package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/you/crosslist/internal/domain"
)

// InsertTask persists a task. Callers may pre-assign the id so they can
// register a result waiter before the row becomes visible to agents.
func (s *Store) InsertTask(ctx context.Context, t *domain.Task) (string, error) {
	id := t.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.db.Exec(ctx, `insert into tasks(
id, job_id, tenant_id, method, path, payload, status, retry_count, created_at
) values ($1,$2,$3,$4,$5,$6,'pending',0,now())`,
		id, t.JobID, t.TenantID, t.Method, t.Path, t.Payload)
	return id, errors.Wrap(err, "insert task")
}

// PullTasks hands up to limit pending tasks to a remote agent, flipping
// them to sent under the same skip-locked claim discipline as jobs.
func (s *Store) PullTasks(ctx context.Context, tenant string, limit int) ([]domain.Task, error) {
	rows, err := s.db.Query(ctx, `
update tasks set status = 'sent', sent_at = now()
 where id in (
   select id from tasks
    where tenant_id = $1 and status = 'pending'
    order by created_at asc
    limit $2
    for update skip locked
 )
 returning id, job_id, tenant_id, method, path, payload, status, retry_count, created_at`,
		tenant, limit)
	if err != nil {
		return nil, errors.Wrap(err, "pull tasks")
	}
	defer rows.Close()

	var out []domain.Task
	for rows.Next() {
		var t domain.Task
		if err := rows.Scan(&t.ID, &t.JobID, &t.TenantID, &t.Method, &t.Path,
			&t.Payload, &t.Status, &t.RetryCount, &t.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan task")
		}
		out = append(out, t)
	}
	return out, errors.Wrap(rows.Err(), "rows")
}

// CompleteTask records the agent-reported outcome. Only sent tasks accept a
// result; duplicate reports are no-ops.
func (s *Store) CompleteTask(ctx context.Context, id string, success bool, result []byte, errMsg string) error {
	status := domain.TaskCompleted
	var msg *string
	if !success {
		status = domain.TaskFailed
		msg = &errMsg
	}
	_, err := s.db.Exec(ctx, `
update tasks set status = $2, result = $3, error_message = $4, done_at = now()
 where id = $1 and status = 'sent'`, id, status, result, msg)
	return errors.Wrap(err, "complete task")
}

// AbandonTask fails a task whose owning job stopped waiting on it, whether
// an agent ever pulled it or not. Keeps the job and its tasks settling
// together; a task already completed or failed is left alone.
func (s *Store) AbandonTask(ctx context.Context, id, msg string) error {
	_, err := s.db.Exec(ctx, `
update tasks set status = 'failed', error_message = $2, done_at = now()
 where id = $1 and status in ('pending', 'sent')`, id, msg)
	return errors.Wrap(err, "abandon task")
}

// RetryTask returns a sent-but-failed task to pending for another agent
// attempt.
func (s *Store) RetryTask(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `
update tasks set status = 'pending', retry_count = retry_count + 1, sent_at = null
 where id = $1 and status in ('sent', 'failed')`, id)
	return errors.Wrap(err, "retry task")
}

func (s *Store) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	var t domain.Task
	err := s.db.QueryRow(ctx, `
select id, job_id, tenant_id, method, path, payload, status, result,
       error_message, retry_count, created_at, sent_at, done_at
  from tasks where id = $1`, id).
		Scan(&t.ID, &t.JobID, &t.TenantID, &t.Method, &t.Path, &t.Payload,
			&t.Status, &t.Result, &t.ErrorMsg, &t.RetryCount, &t.CreatedAt,
			&t.SentAt, &t.DoneAt)
	if err != nil {
		return nil, errors.Wrap(err, "get task")
	}
	return &t, nil
}
