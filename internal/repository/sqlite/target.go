package sqlite

import (
	"context"
	"fmt"

	"github.com/garnizeh/taskgate/internal/models"
)

// GetOrCreateTarget returns the target with the given identifier, creating
// it when absent. Targets are immutable once created.
func (r *SQLiteRepo) GetOrCreateTarget(ctx context.Context, kind models.TargetKind, identifier string) (*models.Target, error) {
	if identifier == "" {
		return nil, fmt.Errorf("target identifier is empty")
	}

	if _, err := r.q.ExecContext(ctx, `INSERT INTO targets (kind, identifier, created) VALUES (?, ?, ?) ON CONFLICT(identifier) DO NOTHING`, kind, identifier, now()); err != nil {
		return nil, fmt.Errorf("insert target: %w", err)
	}

	row := r.q.QueryRowContext(ctx, `SELECT id, kind, identifier, created FROM targets WHERE identifier = ?`, identifier)
	var t models.Target
	if err := row.Scan(&t.ID, &t.Kind, &t.Identifier, &t.Created); err != nil {
		return nil, fmt.Errorf("load target: %w", err)
	}
	return &t, nil
}

func (r *SQLiteRepo) GetTarget(ctx context.Context, id int64) (*models.Target, error) {
	row := r.q.QueryRowContext(ctx, `SELECT id, kind, identifier, created FROM targets WHERE id = ?`, id)
	var t models.Target
	if err := row.Scan(&t.ID, &t.Kind, &t.Identifier, &t.Created); err != nil {
		if noRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}
