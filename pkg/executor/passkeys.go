package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const passkeysSchema = `
CREATE TABLE IF NOT EXISTS user_passkeys (
	user_id           TEXT NOT NULL,
	wallet_public_key TEXT NOT NULL,
	passkey_hex       TEXT NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, wallet_public_key)
);
`

// PasskeyCache mirrors the on-chain passkey registry per (user, wallet). The
// chain stays authoritative; the cache only skips redundant lookups and
// surfaces the last verified key to the UI.
type PasskeyCache struct {
	db *sql.DB
}

func NewPasskeyCache(db *sql.DB) *PasskeyCache {
	return &PasskeyCache{db: db}
}

func (c *PasskeyCache) Init(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, passkeysSchema); err != nil {
		return fmt.Errorf("executor: creating user_passkeys table: %w", err)
	}
	return nil
}

// Upsert records the verified 65-byte passkey point (hex) for a wallet.
func (c *PasskeyCache) Upsert(ctx context.Context, userID, walletPublicKey, passkeyHex string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO user_passkeys (user_id, wallet_public_key, passkey_hex, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, wallet_public_key)
		DO UPDATE SET passkey_hex = EXCLUDED.passkey_hex, updated_at = EXCLUDED.updated_at`,
		userID, walletPublicKey, passkeyHex, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("executor: upserting passkey: %w", err)
	}
	return nil
}

// Get returns the cached passkey hex, or "" when none is recorded.
func (c *PasskeyCache) Get(ctx context.Context, userID, walletPublicKey string) (string, error) {
	var passkeyHex string
	err := c.db.QueryRowContext(ctx, `
		SELECT passkey_hex FROM user_passkeys
		WHERE user_id = $1 AND wallet_public_key = $2`,
		userID, walletPublicKey).Scan(&passkeyHex)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("executor: loading passkey: %w", err)
	}
	return passkeyHex, nil
}
