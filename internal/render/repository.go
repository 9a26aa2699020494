package render

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// timestamps are stored in UTC with fixed-width millis so they sort as text.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

type Repository interface {
	CreateRender(ctx context.Context, job *Job) error
	GetRender(ctx context.Context, id string) (*Job, error)
	ListRenders(ctx context.Context, limit int) ([]*Job, error)
	UpdateRenderStatus(ctx context.Context, id, status, errorMsg string) error
	UpdateRenderProgress(ctx context.Context, id string, progress int) error
	SetRenderArgs(ctx context.Context, id string, args []string) error
	CompleteRender(ctx context.Context, id, outputPath string, size int64, elapsed time.Duration) error
	ListExpiredOutputs(ctx context.Context, before time.Time) ([]*Job, error)
	ClearOutput(ctx context.Context, id string) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func now() string {
	return time.Now().UTC().Format(timeLayout)
}

const renderColumns = `id, status, progress, error, settings, video_name, args, output_path, output_size, duration_ms, created_at, updated_at`

func (r *SQLiteRepository) CreateRender(ctx context.Context, j *Job) error {
	args, err := encodeArgs(j.Args)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO renders (id, status, progress, error, settings, video_name, args, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.Status, j.Progress, nullString(j.Error), j.Settings, j.VideoName, args,
		j.CreatedAt.UTC().Format(timeLayout), j.UpdatedAt.UTC().Format(timeLayout))
	return err
}

func (r *SQLiteRepository) GetRender(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+renderColumns+` FROM renders WHERE id = ?`, id)
	j, err := scanRender(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return j, err
}

func (r *SQLiteRepository) ListRenders(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+renderColumns+`
		FROM renders ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanRender(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRender(row scanner) (*Job, error) {
	var j Job
	var errMsg, args, outputPath sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&j.ID, &j.Status, &j.Progress, &errMsg, &j.Settings, &j.VideoName, &args,
		&outputPath, &j.OutputSize, &j.DurationMs, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	j.Error = errMsg.String
	j.OutputPath = outputPath.String
	if args.Valid && args.String != "" {
		if err := json.Unmarshal([]byte(args.String), &j.Args); err != nil {
			return nil, err
		}
	}
	j.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	j.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &j, nil
}

func (r *SQLiteRepository) UpdateRenderStatus(ctx context.Context, id, status, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE renders SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`, status, nullString(errorMsg), now(), id)
	return err
}

func (r *SQLiteRepository) UpdateRenderProgress(ctx context.Context, id string, progress int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE renders SET progress = ?, updated_at = ? WHERE id = ?
	`, progress, now(), id)
	return err
}

func (r *SQLiteRepository) SetRenderArgs(ctx context.Context, id string, args []string) error {
	encoded, err := encodeArgs(args)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `UPDATE renders SET args = ?, updated_at = ? WHERE id = ?`, encoded, now(), id)
	return err
}

func (r *SQLiteRepository) CompleteRender(ctx context.Context, id, outputPath string, size int64, elapsed time.Duration) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE renders
		SET status = ?, progress = 100, error = NULL, output_path = ?, output_size = ?, duration_ms = ?, updated_at = ?
		WHERE id = ?
	`, StatusCompleted, outputPath, size, elapsed.Milliseconds(), now(), id)
	return err
}

// ListExpiredOutputs returns completed renders that finished before the
// cutoff and still reference an output file. A completed row is not updated
// again until its output is cleared, so updated_at is its finish time.
func (r *SQLiteRepository) ListExpiredOutputs(ctx context.Context, before time.Time) ([]*Job, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+renderColumns+`
		FROM renders
		WHERE status = 'completed' AND output_path IS NOT NULL AND updated_at < ?
		ORDER BY updated_at ASC
	`, before.UTC().Format(timeLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanRender(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *SQLiteRepository) ClearOutput(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE renders SET output_path = NULL, updated_at = ? WHERE id = ?`, now(), id)
	return err
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func encodeArgs(args []string) (sql.NullString, error) {
	if len(args) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(args)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
