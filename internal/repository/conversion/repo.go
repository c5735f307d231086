package conversion

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aliskhannn/toolbox/internal/model"
)

// execer is satisfied by *dbpg.DB.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Repository stores the audit trail of conversion lifecycle events.
type Repository struct {
	db execer
}

// NewRepository creates a new Repository with the given DB connection.
func NewRepository(db execer) *Repository {
	return &Repository{db: db}
}

// SaveEvent appends a lifecycle event to the audit log.
func (r *Repository) SaveEvent(ctx context.Context, ev model.Event) error {
	query := `
		INSERT INTO conversion_events (token, kind, type, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.ExecContext(ctx, query, ev.Token, string(ev.Kind), string(ev.Type), ev.Detail, ev.At)
	if err != nil {
		return fmt.Errorf("save event: %w", err)
	}

	return nil
}

// Prune deletes audit entries older than before and returns how many were removed.
func (r *Repository) Prune(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM conversion_events WHERE occurred_at < $1
	`

	res, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("prune: failed to delete events: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune: failed to get number of rows affected: %w", err)
	}

	return n, nil
}
