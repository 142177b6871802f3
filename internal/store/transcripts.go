package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/speecher/stt-engine/internal/job"
)

// ErrNotFound is returned when no transcript exists for an ID.
var ErrNotFound = errors.New("transcript not found")

// TranscriptAPI is the transcript representation for API responses.
type TranscriptAPI struct {
	ID            string          `json:"id"`
	Provider      string          `json:"provider"`
	ProviderJobID string          `json:"provider_job_id,omitempty"`
	Status        string          `json:"status"`
	Language      string          `json:"language,omitempty"`
	Diarization   bool            `json:"diarization"`
	Text          string          `json:"text"`
	Segments      json.RawMessage `json:"segments,omitempty"`
	Duration      float64         `json:"duration"`
	CostEstimate  float64         `json:"cost_estimate"`
	Error         string          `json:"error,omitempty"`
	ErrorKind     string          `json:"error_kind,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// TranscriptFilter specifies filters for listing transcripts.
type TranscriptFilter struct {
	Provider  string
	Status    string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// SaveTranscript upserts a finished job's outcome. Satisfies job.Store.
func (s *Store) SaveTranscript(ctx context.Context, snap job.Snapshot) error {
	var (
		text         string
		segments     json.RawMessage
		duration     float64
		costEstimate float64
	)
	if snap.Result != nil {
		text = snap.Result.Text
		duration = snap.Result.Duration
		costEstimate = snap.Result.CostEstimate
		b, err := json.Marshal(snap.Result.Segments)
		if err != nil {
			return fmt.Errorf("marshal segments: %w", err)
		}
		segments = b
	}

	_, err := s.Pool.Exec(ctx, `
		INSERT INTO transcripts (
			id, provider, provider_job_id, status, language, diarization,
			text, segments, duration_seconds, cost_estimate,
			error, error_kind, created_at, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			provider_job_id = EXCLUDED.provider_job_id,
			text = EXCLUDED.text,
			segments = EXCLUDED.segments,
			duration_seconds = EXCLUDED.duration_seconds,
			cost_estimate = EXCLUDED.cost_estimate,
			error = EXCLUDED.error,
			error_kind = EXCLUDED.error_kind,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at
	`,
		snap.ID, snap.Provider, snap.ProviderJobID, string(snap.Status),
		snap.Language, snap.Diarization,
		text, segments, duration, costEstimate,
		snap.Error, string(snap.ErrorKind),
		snap.CreatedAt, snap.StartedAt, snap.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}
	return nil
}

const transcriptColumns = `
	id, provider, provider_job_id, status, language, diarization,
	text, segments, duration_seconds, cost_estimate,
	error, error_kind, created_at, started_at, completed_at`

// GetTranscript returns one transcript by job ID.
func (s *Store) GetTranscript(ctx context.Context, id string) (*TranscriptAPI, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+transcriptColumns+` FROM transcripts WHERE id = $1`, id)

	t, err := scanTranscript(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// ListTranscripts returns transcripts matching the filter, newest first,
// with the total match count for pagination.
func (s *Store) ListTranscripts(ctx context.Context, filter TranscriptFilter) ([]TranscriptAPI, int, error) {
	qb := newQueryBuilder()
	if filter.Provider != "" {
		qb.Add("provider = %s", filter.Provider)
	}
	if filter.Status != "" {
		qb.Add("status = %s", filter.Status)
	}
	if filter.StartTime != nil {
		qb.Add("created_at >= %s", *filter.StartTime)
	}
	if filter.EndTime != nil {
		qb.Add("created_at < %s", *filter.EndTime)
	}
	whereClause := qb.WhereClause()

	var total int
	if err := s.Pool.QueryRow(ctx,
		"SELECT count(*) FROM transcripts"+whereClause, qb.Args()...,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := s.Pool.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM transcripts%s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		transcriptColumns, whereClause, limit, filter.Offset,
	), qb.Args()...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	result := []TranscriptAPI{}
	for rows.Next() {
		t, err := scanTranscript(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *t)
	}
	return result, total, rows.Err()
}

// DeleteTranscript removes a stored transcript. Missing rows are not an
// error; deletion is idempotent.
func (s *Store) DeleteTranscript(ctx context.Context, id string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM transcripts WHERE id = $1`, id)
	return err
}

func scanTranscript(row pgx.Row) (*TranscriptAPI, error) {
	var t TranscriptAPI
	err := row.Scan(
		&t.ID, &t.Provider, &t.ProviderJobID, &t.Status, &t.Language, &t.Diarization,
		&t.Text, &t.Segments, &t.Duration, &t.CostEstimate,
		&t.Error, &t.ErrorKind, &t.CreatedAt, &t.StartedAt, &t.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// queryBuilder builds parameterized WHERE clauses for dynamic queries.
type queryBuilder struct {
	where  []string
	args   []any
	argIdx int
}

func newQueryBuilder() *queryBuilder {
	return &queryBuilder{argIdx: 1}
}

// Add appends a WHERE condition. The clause should contain %s which will be
// replaced with $N.
func (qb *queryBuilder) Add(clause string, val any) {
	parameterized := strings.Replace(clause, "%s", fmt.Sprintf("$%d", qb.argIdx), 1)
	qb.where = append(qb.where, parameterized)
	qb.args = append(qb.args, val)
	qb.argIdx++
}

// WhereClause returns the full WHERE clause (including "WHERE") or the empty
// string when there are no conditions.
func (qb *queryBuilder) WhereClause() string {
	if len(qb.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(qb.where, " AND ")
}

// Args returns all accumulated arguments.
func (qb *queryBuilder) Args() []any {
	return qb.args
}
