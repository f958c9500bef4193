package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the transcription_jobs table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS transcription_jobs (
    id              TEXT PRIMARY KEY,
    status          TEXT NOT NULL,
    audio_url       TEXT NOT NULL DEFAULT '',
    filename        TEXT NOT NULL DEFAULT '',
    result          JSONB,
    speaker_mapping JSONB NOT NULL DEFAULT '{}',
    formatted_text  TEXT NOT NULL DEFAULT '',
    total_speakers  INTEGER NOT NULL DEFAULT 0,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_transcription_jobs_status ON transcription_jobs(status);
CREATE INDEX IF NOT EXISTS idx_transcription_jobs_created ON transcription_jobs(created_at DESC);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database. The provider
// result and speaker mapping are serialised as JSONB.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database, creating the
// transcription_jobs table and indexes if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("jobstore: migrate: %w", err)
	}
	return nil
}

// Create implements [Store.Create].
func (s *PostgresStore) Create(ctx context.Context, job Job) error {
	resultJSON, mappingJSON, err := marshalFields(job)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO transcription_jobs (
			id, status, audio_url, filename,
			result, speaker_mapping, formatted_text, total_speakers
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err = s.db.Exec(ctx, query,
		job.ID, job.Status, job.AudioURL, job.Filename,
		resultJSON, mappingJSON, job.FormattedText, job.TotalSpeakers,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateID
		}
		return fmt.Errorf("jobstore: create: %w", err)
	}
	return nil
}

// Get implements [Store.Get].
func (s *PostgresStore) Get(ctx context.Context, id string) (Job, error) {
	const query = `
		SELECT id, status, audio_url, filename,
		       result, speaker_mapping, formatted_text, total_speakers,
		       created_at, updated_at
		FROM transcription_jobs
		WHERE id = $1`

	var job Job
	var resultJSON, mappingJSON []byte

	err := s.db.QueryRow(ctx, query, id).Scan(
		&job.ID, &job.Status, &job.AudioURL, &job.Filename,
		&resultJSON, &mappingJSON, &job.FormattedText, &job.TotalSpeakers,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, fmt.Errorf("jobstore: get %q: %w", id, err)
	}

	if err := unmarshalFields(&job, resultJSON, mappingJSON); err != nil {
		return Job{}, err
	}
	return job, nil
}

// Update implements [Store.Update].
func (s *PostgresStore) Update(ctx context.Context, job Job) error {
	resultJSON, mappingJSON, err := marshalFields(job)
	if err != nil {
		return err
	}

	const query = `
		UPDATE transcription_jobs SET
			status = $2, audio_url = $3, filename = $4,
			result = $5, speaker_mapping = $6, formatted_text = $7,
			total_speakers = $8, updated_at = now()
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query,
		job.ID, job.Status, job.AudioURL, job.Filename,
		resultJSON, mappingJSON, job.FormattedText, job.TotalSpeakers,
	)
	if err != nil {
		return fmt.Errorf("jobstore: update %q: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List implements [Store.List].
func (s *PostgresStore) List(ctx context.Context) ([]Job, error) {
	const query = `
		SELECT id, status, audio_url, filename,
		       result, speaker_mapping, formatted_text, total_speakers,
		       created_at, updated_at
		FROM transcription_jobs
		ORDER BY created_at DESC`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("jobstore: list: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		var job Job
		var resultJSON, mappingJSON []byte
		if err := rows.Scan(
			&job.ID, &job.Status, &job.AudioURL, &job.Filename,
			&resultJSON, &mappingJSON, &job.FormattedText, &job.TotalSpeakers,
			&job.CreatedAt, &job.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("jobstore: scan: %w", err)
		}
		if err := unmarshalFields(&job, resultJSON, mappingJSON); err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobstore: list: %w", err)
	}
	return out, nil
}

// Ping implements [Store.Ping].
func (s *PostgresStore) Ping(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("jobstore: ping: %w", err)
	}
	return nil
}

// marshalFields serialises the JSONB columns of job.
func marshalFields(job Job) (resultJSON, mappingJSON []byte, err error) {
	if job.Result != nil {
		resultJSON, err = json.Marshal(job.Result)
		if err != nil {
			return nil, nil, fmt.Errorf("jobstore: marshal result: %w", err)
		}
	}
	mapping := job.SpeakerMapping
	if mapping == nil {
		mapping = map[string]string{}
	}
	mappingJSON, err = json.Marshal(mapping)
	if err != nil {
		return nil, nil, fmt.Errorf("jobstore: marshal speaker_mapping: %w", err)
	}
	return resultJSON, mappingJSON, nil
}

// unmarshalFields restores the JSONB columns into job.
func unmarshalFields(job *Job, resultJSON, mappingJSON []byte) error {
	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &job.Result); err != nil {
			return fmt.Errorf("jobstore: unmarshal result: %w", err)
		}
	}
	if len(mappingJSON) > 0 {
		if err := json.Unmarshal(mappingJSON, &job.SpeakerMapping); err != nil {
			return fmt.Errorf("jobstore: unmarshal speaker_mapping: %w", err)
		}
	}
	return nil
}

// isDuplicateKeyError reports whether err is a Postgres unique-violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
