package postgres

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"montage/internal/httpkit"
	"montage/internal/models"
	"montage/internal/pkg/errors"
)

// JobRepository implements ports.JobRepository on the render_jobs table.
type JobRepository struct {
	db *pgxpool.Pool
}

func NewJobRepository(db *pgxpool.Pool) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, status, clips, output_name, total_frames, rendered_frames, encoded_frames,
	output_key, download_url, error_code, error_text, created_at, started_at, finished_at`

// Create inserts the record, or overwrites it when a worker picks up a
// job the API already queued.
func (r *JobRepository) Create(ctx context.Context, j models.JobRecord) error {
	clips, err := json.Marshal(j.Clips)
	if err != nil {
		return errors.Wrap(err, "postgres.jobs.create", "failed to encode clips")
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO render_jobs (`+jobColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE SET
			status=EXCLUDED.status,
			clips=EXCLUDED.clips,
			output_name=EXCLUDED.output_name,
			total_frames=EXCLUDED.total_frames,
			rendered_frames=EXCLUDED.rendered_frames,
			encoded_frames=EXCLUDED.encoded_frames,
			output_key=EXCLUDED.output_key,
			download_url=EXCLUDED.download_url,
			error_code=EXCLUDED.error_code,
			error_text=EXCLUDED.error_text,
			started_at=EXCLUDED.started_at,
			finished_at=EXCLUDED.finished_at,
			updated_at=now()
	`, j.ID, string(j.Status), clips, j.OutputName, j.TotalFrames, j.Rendered, j.Encoded,
		j.OutputKey, j.DownloadURL, j.ErrorCode, j.Error, j.CreatedAt, j.StartedAt, j.FinishedAt)
	if err != nil {
		return dbError(err, "postgres.jobs.create")
	}
	return nil
}

func (r *JobRepository) Update(ctx context.Context, j models.JobRecord) error {
	cmd, err := r.db.Exec(ctx, `
		UPDATE render_jobs SET
			status=$2,
			total_frames=$3,
			rendered_frames=$4,
			encoded_frames=$5,
			output_key=$6,
			download_url=$7,
			error_code=$8,
			error_text=$9,
			started_at=$10,
			finished_at=$11,
			updated_at=now()
		WHERE id=$1
	`, j.ID, string(j.Status), j.TotalFrames, j.Rendered, j.Encoded,
		j.OutputKey, j.DownloadURL, j.ErrorCode, j.Error, j.StartedAt, j.FinishedAt)
	if err != nil {
		return dbError(err, "postgres.jobs.update")
	}
	if cmd.RowsAffected() == 0 {
		return errors.NotFound("job", j.ID)
	}
	return nil
}

func (r *JobRepository) Get(ctx context.Context, id string) (models.JobRecord, error) {
	row := r.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM render_jobs WHERE id=$1`, id)
	j, err := scanJob(row)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return models.JobRecord{}, errors.NotFound("job", id)
	}
	if err != nil {
		return models.JobRecord{}, dbError(err, "postgres.jobs.get")
	}
	return j, nil
}

// List returns the most recent jobs first.
func (r *JobRepository) List(ctx context.Context, limit int) ([]models.JobRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+jobColumns+`
		FROM render_jobs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, dbError(err, "postgres.jobs.list")
	}
	defer rows.Close()

	var out []models.JobRecord
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, dbError(err, "postgres.jobs.list")
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err, "postgres.jobs.list")
	}
	return out, nil
}

// Ping reports whether the database answers.
func (r *JobRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func scanJob(row pgx.Row) (models.JobRecord, error) {
	var (
		j      models.JobRecord
		status string
		clips  []byte
	)
	err := row.Scan(
		&j.ID,
		&status,
		&clips,
		&j.OutputName,
		&j.TotalFrames,
		&j.Rendered,
		&j.Encoded,
		&j.OutputKey,
		&j.DownloadURL,
		&j.ErrorCode,
		&j.Error,
		&j.CreatedAt,
		&j.StartedAt,
		&j.FinishedAt,
	)
	if err != nil {
		return models.JobRecord{}, err
	}
	j.Status = models.JobStatus(status)
	if len(clips) > 0 {
		if err := json.Unmarshal(clips, &j.Clips); err != nil {
			return models.JobRecord{}, fmt.Errorf("decode clips of job %s: %w", j.ID, err)
		}
	}
	return j, nil
}

func dbError(err error, op string) error {
	switch {
	case httpkit.IsUndefinedTable(err):
		return errors.WrapWithCode(err, errors.CodeUnavailable, op, "job table missing, migrations not applied")
	case httpkit.IsQueryCanceled(err):
		return errors.WrapWithCode(err, errors.CodeTimeout, op, "query canceled")
	case httpkit.IsUniqueViolation(err):
		return errors.WrapWithCode(err, errors.CodeConflict, op, "job already exists")
	default:
		return errors.Wrap(err, op, "database error")
	}
}
