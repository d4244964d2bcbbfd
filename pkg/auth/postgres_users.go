package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresUsers resolves API keys and user identities against the users
// table. Identity provisioning itself belongs to the auth subsystem; this
// store only reads.
type PostgresUsers struct {
	db *sql.DB
}

func NewPostgresUsers(db *sql.DB) *PostgresUsers {
	return &PostgresUsers{db: db}
}

const usersSchema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	public_key TEXT,
	role TEXT NOT NULL DEFAULT 'user',
	api_key TEXT UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_users_public_key ON users (public_key);
`

func (s *PostgresUsers) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, usersSchema)
	return err
}

// ActorForAPIKey resolves an API key to the Actor it authenticates.
func (s *PostgresUsers) ActorForAPIKey(ctx context.Context, key string) (*Actor, error) {
	if key == "" {
		return nil, errors.New("empty api key")
	}

	var actor Actor
	var publicKey sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, public_key, role FROM users WHERE api_key = $1`, key,
	).Scan(&actor.UserID, &publicKey, &actor.Role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.New("unknown api key")
		}
		return nil, fmt.Errorf("resolving api key: %w", err)
	}
	actor.PublicKey = publicKey.String
	return &actor, nil
}

// PublicKeyForUser returns the wallet public key bound to a user, if any.
func (s *PostgresUsers) PublicKeyForUser(ctx context.Context, userID string) (string, error) {
	var publicKey sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT public_key FROM users WHERE id = $1`, userID,
	).Scan(&publicKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("loading user public key: %w", err)
	}
	return publicKey.String, nil
}
