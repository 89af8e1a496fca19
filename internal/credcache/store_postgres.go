package credcache

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresStore loads signaling credentials from the user_credentials table.
//
// NOTE: assumes
// - PRIMARY KEY (user_id)
// - client_identity UNIQUE
// - caller_id indexed for the provisioned-number webhook lookup

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) Load(ctx context.Context, userID string) (Credentials, error) {
	const q = `
SELECT user_id, workspace_id, account_sid, auth_token, api_key_sid, api_secret,
       client_identity, caller_id, outbound_app_sid, configured
FROM user_credentials
WHERE user_id = $1
`
	var c Credentials
	if err := s.db.QueryRowContext(ctx, q, userID).Scan(
		&c.UserID,
		&c.WorkspaceID,
		&c.AccountSID,
		&c.AuthToken,
		&c.APIKeySID,
		&c.APISecret,
		&c.ClientIdentity,
		&c.CallerID,
		&c.OutboundAppSID,
		&c.Configured,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Credentials{}, ErrNotConfigured
		}
		return Credentials{}, err
	}
	return c, nil
}

func (s *PostgresStore) SaveOutboundApp(ctx context.Context, userID, appSID string) error {
	const q = `
UPDATE user_credentials SET outbound_app_sid = $2 WHERE user_id = $1
`
	res, err := s.db.ExecContext(ctx, q, userID, appSID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotConfigured
	}
	return nil
}

// UserByClientIdentity resolves which user owns an internal signaling-client
// identity string. Used by the webhook identity resolver.
func (s *PostgresStore) UserByClientIdentity(ctx context.Context, identity string) (userID, workspaceID string, err error) {
	const q = `
SELECT user_id, workspace_id FROM user_credentials WHERE client_identity = $1
`
	if err := s.db.QueryRowContext(ctx, q, identity).Scan(&userID, &workspaceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", ErrNotConfigured
		}
		return "", "", err
	}
	return userID, workspaceID, nil
}

// UsersByNumber returns every user a number is provisioned to. The resolver
// only attributes a webhook by number when exactly one user owns it.
func (s *PostgresStore) UsersByNumber(ctx context.Context, number string) ([]Credentials, error) {
	const q = `
SELECT user_id, workspace_id, client_identity, caller_id
FROM user_credentials
WHERE caller_id = $1
`
	rows, err := s.db.QueryContext(ctx, q, number)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Credentials
	for rows.Next() {
		var c Credentials
		if err := rows.Scan(&c.UserID, &c.WorkspaceID, &c.ClientIdentity, &c.CallerID); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// IsMember reports whether the user is a verified member of the workspace.
func (s *PostgresStore) IsMember(ctx context.Context, workspaceID, userID string) (bool, error) {
	const q = `
SELECT EXISTS (
  SELECT 1 FROM workspace_members
  WHERE workspace_id = $1 AND user_id = $2 AND verified
)
`
	var ok bool
	if err := s.db.QueryRowContext(ctx, q, workspaceID, userID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}
