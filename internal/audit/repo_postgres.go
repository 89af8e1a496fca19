package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends audit events via database/sql (pgx stdlib driver).
// There are deliberately no update or delete statements in this file.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (
  id, workspace_id, type, actor_user_id, ip_address,
  session_id, attempt_id, provider_call_id, message, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID, e.WorkspaceID, string(e.Type), e.ActorUserID, e.IPAddress,
		e.SessionID, e.AttemptID, e.ProviderCallID, e.Message, e.CreatedAt,
	)
	return err
}
