package attempt

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresRepo persists call attempts via database/sql (pgx stdlib driver).
//
// NOTE: assumes a call_attempts table with:
// - PRIMARY KEY (attempt_id)
// - UNIQUE (provider_call_id) WHERE provider_call_id <> ''
// Tags are stored as a comma-separated text column to keep the row scannable
// without array support.

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const attemptColumns = `
attempt_id, provider_call_id, workspace_id, user_id, session_id, lead_id, line_id,
from_number, to_number, direction, state, answered_by, disposition, duration,
dial_attempt, machine_hangup, recording_url, summary, tags,
created_at, initiated_at, ringing_at, connected_at, ended_at
`

func (r *PostgresRepo) Create(ctx context.Context, a *CallAttempt) error {
	const q = `
INSERT INTO call_attempts (` + attemptColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)
`
	_, err := r.db.ExecContext(ctx, q,
		a.AttemptID, a.ProviderCallID, a.WorkspaceID, a.UserID, a.SessionID, a.LeadID, a.LineID,
		a.From, a.To, string(a.Direction), string(a.State), string(a.AnsweredBy), string(a.Disposition), a.DurationSeconds,
		a.DialAttempt, a.MachineHangup, a.RecordingURL, a.Summary, strings.Join(a.Tags, ","),
		a.CreatedAt, a.InitiatedAt, a.RingingAt, a.ConnectedAt, a.EndedAt,
	)
	return mapUniqueViolation(err)
}

func (r *PostgresRepo) Update(ctx context.Context, a *CallAttempt) error {
	const q = `
UPDATE call_attempts SET
  provider_call_id = $2,
  line_id = $3,
  state = $4,
  answered_by = $5,
  disposition = $6,
  duration = $7,
  machine_hangup = $8,
  recording_url = $9,
  summary = $10,
  tags = $11,
  initiated_at = $12,
  ringing_at = $13,
  connected_at = $14,
  ended_at = $15
WHERE attempt_id = $1
`
	res, err := r.db.ExecContext(ctx, q,
		a.AttemptID, a.ProviderCallID, a.LineID,
		string(a.State), string(a.AnsweredBy), string(a.Disposition), a.DurationSeconds,
		a.MachineHangup, a.RecordingURL, a.Summary, strings.Join(a.Tags, ","),
		a.InitiatedAt, a.RingingAt, a.ConnectedAt, a.EndedAt,
	)
	if err != nil {
		return mapUniqueViolation(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) GetByID(ctx context.Context, attemptID string) (*CallAttempt, error) {
	const q = `SELECT ` + attemptColumns + ` FROM call_attempts WHERE attempt_id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, q, attemptID))
}

func (r *PostgresRepo) GetByProviderCallID(ctx context.Context, providerCallID string) (*CallAttempt, error) {
	const q = `SELECT ` + attemptColumns + ` FROM call_attempts WHERE provider_call_id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, q, providerCallID))
}

func (r *PostgresRepo) scanOne(row *sql.Row) (*CallAttempt, error) {
	var a CallAttempt
	var direction, state, answeredBy, disposition, tags string
	if err := row.Scan(
		&a.AttemptID, &a.ProviderCallID, &a.WorkspaceID, &a.UserID, &a.SessionID, &a.LeadID, &a.LineID,
		&a.From, &a.To, &direction, &state, &answeredBy, &disposition, &a.DurationSeconds,
		&a.DialAttempt, &a.MachineHangup, &a.RecordingURL, &a.Summary, &tags,
		&a.CreatedAt, &a.InitiatedAt, &a.RingingAt, &a.ConnectedAt, &a.EndedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.Direction = Direction(direction)
	a.State = State(state)
	a.AnsweredBy = AnsweredBy(answeredBy)
	a.Disposition = Disposition(disposition)
	if tags != "" {
		a.Tags = strings.Split(tags, ",")
	}
	return &a, nil
}

func mapUniqueViolation(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateProviderCallID
	}
	return err
}
