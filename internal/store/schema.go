package store

import "context"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS transcripts (
    id               text PRIMARY KEY,
    provider         text NOT NULL,
    provider_job_id  text NOT NULL DEFAULT '',
    status           text NOT NULL,
    language         text NOT NULL DEFAULT '',
    diarization      boolean NOT NULL DEFAULT false,
    text             text NOT NULL DEFAULT '',
    segments         jsonb,
    duration_seconds double precision NOT NULL DEFAULT 0,
    cost_estimate    double precision NOT NULL DEFAULT 0,
    error            text NOT NULL DEFAULT '',
    error_kind       text NOT NULL DEFAULT '',
    created_at       timestamptz NOT NULL,
    started_at       timestamptz,
    completed_at     timestamptz
);

CREATE INDEX IF NOT EXISTS idx_transcripts_provider_created
    ON transcripts (provider, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_transcripts_created
    ON transcripts (created_at DESC);
`

// InitSchema creates the transcripts table on a fresh database. The
// statements are idempotent, so running against an initialized database is
// a no-op.
func (s *Store) InitSchema(ctx context.Context) error {
	var exists bool
	err := s.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT FROM pg_tables WHERE schemaname = 'public' AND tablename = 'transcripts')`,
	).Scan(&exists)
	if err != nil {
		return err
	}

	if exists {
		s.log.Debug().Msg("schema already initialized, skipping")
		return nil
	}

	s.log.Info().Msg("fresh database detected, applying schema")
	if _, err := s.Pool.Exec(ctx, schemaSQL); err != nil {
		return err
	}
	s.log.Info().Msg("schema applied")
	return nil
}
