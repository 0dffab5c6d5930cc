package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/garnizeh/taskgate/internal/models"
)

func (r *SQLiteRepo) CreateScreenshot(ctx context.Context, s *models.Screenshot) (int64, error) {
	if s == nil {
		return 0, fmt.Errorf("screenshot is nil")
	}
	if s.Created == 0 {
		s.Created = now()
	}

	res, err := r.q.ExecContext(ctx, `INSERT INTO screenshots (action_id, file_path, mime_type, file_size, hash, is_duplicate, uploaded_by_user_id, created) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ActionID, s.FilePath, s.MimeType, s.FileSize, s.Hash, boolInt(s.Duplicate), s.UploadedBy, s.Created)
	if err != nil {
		return 0, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	s.ID = id
	return id, nil
}

func (r *SQLiteRepo) GetScreenshotByAction(ctx context.Context, actionID int64) (*models.Screenshot, error) {
	row := r.q.QueryRowContext(ctx, `SELECT id, action_id, file_path, mime_type, file_size, hash, is_duplicate, uploaded_by_user_id, created FROM screenshots WHERE action_id = ?`, actionID)
	var s models.Screenshot
	if err := row.Scan(&s.ID, &s.ActionID, &s.FilePath, &s.MimeType, &s.FileSize, &s.Hash, &s.Duplicate, &s.UploadedBy, &s.Created); err != nil {
		if noRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *SQLiteRepo) FindScreenshotsByHash(ctx context.Context, hash, actionType, categoryID string, limit int) ([]models.Screenshot, error) {
	if limit <= 0 {
		limit = 10
	}

	var (
		sb   strings.Builder
		args = []any{hash}
	)
	sb.WriteString(`SELECT s.id, s.action_id, s.file_path, s.mime_type, s.file_size, s.hash, s.is_duplicate, s.uploaded_by_user_id, s.created FROM screenshots s JOIN actions a ON a.id = s.action_id WHERE s.hash = ?`)
	if actionType != "" {
		sb.WriteString(` AND a.action_type = ?`)
		args = append(args, actionType)
	}
	if categoryID != "" {
		sb.WriteString(` AND a.category_id = ?`)
		args = append(args, categoryID)
	}
	sb.WriteString(` ORDER BY s.created, s.id LIMIT ?`)
	args = append(args, limit)

	rows, err := r.q.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Screenshot
	for rows.Next() {
		var s models.Screenshot
		if err := rows.Scan(&s.ID, &s.ActionID, &s.FilePath, &s.MimeType, &s.FileSize, &s.Hash, &s.Duplicate, &s.UploadedBy, &s.Created); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
