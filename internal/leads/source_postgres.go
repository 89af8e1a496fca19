package leads

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"dialer-platform/internal/attempt"
	"dialer-platform/pkg/utils"
)

// PostgresSource reads and updates session leads via database/sql (pgx
// stdlib driver).
//
// NOTE: assumes a session_leads table keyed (session_id, lead_id) with a
// position column giving list order, plus an append-only lead_dial_log
// table recording outcome changes.
type PostgresSource struct {
	db *sql.DB
}

func NewPostgresSource(db *sql.DB) *PostgresSource { return &PostgresSource{db: db} }

const leadColumns = `
lead_id, workspace_id, session_id, phone, timezone, do_not_call,
attempts, last_attempt_at, last_outcome, exhausted, callback_at
`

func (s *PostgresSource) Pending(ctx context.Context, sessionID string) ([]*Lead, error) {
	const q = `
SELECT ` + leadColumns + `
FROM session_leads
WHERE session_id = $1 AND NOT exhausted
ORDER BY position
`
	rows, err := s.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *PostgresSource) Find(ctx context.Context, sessionID, leadID string) (*Lead, error) {
	const q = `SELECT ` + leadColumns + ` FROM session_leads WHERE session_id = $1 AND lead_id = $2`
	l, err := scanLead(s.db.QueryRowContext(ctx, q, sessionID, leadID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return l, nil
}

// Update writes the lead's dial state and, when an outcome is recorded,
// appends it to the dial log in the same transaction.
func (s *PostgresSource) Update(ctx context.Context, l *Lead) error {
	return utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		const q = `
UPDATE session_leads SET
  do_not_call = $3,
  attempts = $4,
  last_attempt_at = $5,
  last_outcome = $6,
  exhausted = $7,
  callback_at = $8
WHERE session_id = $1 AND lead_id = $2
`
		res, err := tx.ExecContext(ctx, q,
			l.SessionID, l.LeadID, l.DoNotCall,
			l.Attempts, l.LastAttemptAt, string(l.LastOutcome), l.Exhausted, l.CallbackAt,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		if l.LastOutcome == "" {
			return nil
		}
		const logQ = `
INSERT INTO lead_dial_log (session_id, lead_id, attempt_no, outcome, logged_at)
VALUES ($1, $2, $3, $4, $5)
`
		_, err = tx.ExecContext(ctx, logQ, l.SessionID, l.LeadID, l.Attempts, string(l.LastOutcome), time.Now().UTC())
		return err
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (*Lead, error) {
	var l Lead
	var outcome string
	if err := row.Scan(
		&l.LeadID, &l.WorkspaceID, &l.SessionID, &l.Phone, &l.Timezone, &l.DoNotCall,
		&l.Attempts, &l.LastAttemptAt, &outcome, &l.Exhausted, &l.CallbackAt,
	); err != nil {
		return nil, err
	}
	l.LastOutcome = attempt.Disposition(outcome)
	return &l, nil
}
