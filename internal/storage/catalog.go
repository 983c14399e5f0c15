package storage

import (
	"context"

	"github.com/pkg/errors"

	"github.com/you/crosslist/internal/domain"
)

// LoadCatalog reads the shared action-type table once at startup. The
// catalog is reference data; nothing in the engine writes it.
func (s *Store) LoadCatalog(ctx context.Context) (domain.Catalog, error) {
	rows, err := s.db.Query(ctx, `
select id, marketplace, code, priority, is_batch, rate_limit_ms,
       max_retries, timeout_seconds
  from action_types`)
	if err != nil {
		return nil, errors.Wrap(err, "load action types")
	}
	defer rows.Close()

	cat := make(domain.Catalog)
	for rows.Next() {
		var at domain.ActionType
		if err := rows.Scan(&at.ID, &at.Marketplace, &at.Code, &at.Priority,
			&at.IsBatch, &at.RateLimitMs, &at.MaxRetries, &at.TimeoutSec); err != nil {
			return nil, errors.Wrap(err, "scan action type")
		}
		cat[at.Key()] = at
	}
	return cat, errors.Wrap(rows.Err(), "rows")
}
