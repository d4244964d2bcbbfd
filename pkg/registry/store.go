// Package registry owns registered contracts: persistence, function
// discovery against the chain, and mapping validation.
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/contracts"
)

var (
	// ErrNotFound covers absent, soft-deleted, and not-owned contracts
	// alike; callers learn nothing about other users' registrations.
	ErrNotFound   = errors.New("registry: contract not found")
	ErrBadAddress = errors.New("registry: address is not a 56-char base32 strkey")
)

// PostgresContracts implements the contract registry with SQL persistence.
type PostgresContracts struct {
	db *sql.DB
}

func NewPostgresContracts(db *sql.DB) *PostgresContracts {
	return &PostgresContracts{db: db}
}

const contractsSchema = `
CREATE TABLE IF NOT EXISTS custom_contracts (
	id UUID PRIMARY KEY,
	user_id TEXT NOT NULL,
	address TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	network TEXT NOT NULL,
	discovered_functions JSONB,
	function_mappings JSONB,
	use_smart_wallet BOOLEAN NOT NULL DEFAULT FALSE,
	smart_wallet_contract_id TEXT,
	payment_function_name TEXT,
	requires_webauthn BOOLEAN NOT NULL DEFAULT FALSE,
	webauthn_verifier_contract_id TEXT,
	wasm_meta JSONB,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (user_id, address)
);

CREATE INDEX IF NOT EXISTS idx_custom_contracts_user ON custom_contracts (user_id);
CREATE INDEX IF NOT EXISTS idx_custom_contracts_active ON custom_contracts (is_active);
`

func (s *PostgresContracts) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, contractsSchema)
	return err
}

const contractColumns = `id, user_id, address, name, network, discovered_functions,
	function_mappings, use_smart_wallet, smart_wallet_contract_id,
	payment_function_name, requires_webauthn, webauthn_verifier_contract_id,
	wasm_meta, is_active, created_at, updated_at`

// Upsert creates or updates a contract keyed by (user_id, address).
// Discovered functions are re-keyed by name on every write.
func (s *PostgresContracts) Upsert(ctx context.Context, c *contracts.CustomContract) (*contracts.CustomContract, error) {
	if !contracts.ValidAddressShape(c.Address) {
		return nil, ErrBadAddress
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	c.DiscoveredFunctions = contracts.NormalizeFunctions(c.DiscoveredFunctions)

	fnsJSON, err := json.Marshal(c.DiscoveredFunctions)
	if err != nil {
		return nil, fmt.Errorf("registry: marshalling functions: %w", err)
	}
	mappingsJSON, err := json.Marshal(c.FunctionMappings)
	if err != nil {
		return nil, fmt.Errorf("registry: marshalling mappings: %w", err)
	}
	wasmJSON, err := json.Marshal(c.WasmMeta)
	if err != nil {
		return nil, fmt.Errorf("registry: marshalling wasm meta: %w", err)
	}

	query := `
		INSERT INTO custom_contracts (` + contractColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (user_id, address) DO UPDATE SET
			name = $4, network = $5, discovered_functions = $6,
			function_mappings = $7, use_smart_wallet = $8,
			smart_wallet_contract_id = $9, payment_function_name = $10,
			requires_webauthn = $11, webauthn_verifier_contract_id = $12,
			is_active = $14, updated_at = $16
		RETURNING ` + contractColumns
	row := s.db.QueryRowContext(ctx, query,
		c.ID, c.UserID, c.Address, c.Name, string(c.Network), fnsJSON,
		mappingsJSON, c.UseSmartWallet, nullable(c.SmartWalletContractID),
		nullable(c.PaymentFunctionName), c.RequiresWebauthn,
		nullable(c.WebauthnVerifierContractID), wasmJSON, c.IsActive,
		c.CreatedAt, c.UpdatedAt)
	return scanContract(row)
}

// Get returns a contract owned by userID. Soft-deleted rows stay readable by
// their owner so queued history keeps resolving.
func (s *PostgresContracts) Get(ctx context.Context, userID, id string) (*contracts.CustomContract, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contractColumns+` FROM custom_contracts WHERE id = $1 AND user_id = $2`, id, userID)
	return scanContract(row)
}

// GetAnyOwner returns a contract regardless of owner, for resolving rules
// that reference another user's public contract.
func (s *PostgresContracts) GetAnyOwner(ctx context.Context, id string) (*contracts.CustomContract, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contractColumns+` FROM custom_contracts WHERE id = $1`, id)
	return scanContract(row)
}

// ListMine returns all of a user's contracts, newest first.
func (s *PostgresContracts) ListMine(ctx context.Context, userID string) ([]*contracts.CustomContract, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+contractColumns+` FROM custom_contracts WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	return scanContracts(rows)
}

// ListPublicActive returns every active contract for unauthenticated
// discovery views.
func (s *PostgresContracts) ListPublicActive(ctx context.Context) ([]*contracts.CustomContract, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+contractColumns+` FROM custom_contracts WHERE is_active = TRUE ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	return scanContracts(rows)
}

// Deactivate soft-deletes a contract.
func (s *PostgresContracts) Deactivate(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE custom_contracts SET is_active = FALSE, updated_at = $3 WHERE id = $1 AND user_id = $2`,
		id, userID, time.Now().UTC())
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// UpdateMappings replaces the function mappings document.
func (s *PostgresContracts) UpdateMappings(ctx context.Context, userID, id string, mappings map[string]contracts.Mapping) error {
	mappingsJSON, err := json.Marshal(mappings)
	if err != nil {
		return fmt.Errorf("registry: marshalling mappings: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE custom_contracts SET function_mappings = $3, updated_at = $4 WHERE id = $1 AND user_id = $2`,
		id, userID, mappingsJSON, time.Now().UTC())
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// SaveMapping persists one auto-generated mapping without touching the rest
// of the document. Used by the executor when a function had none.
func (s *PostgresContracts) SaveMapping(ctx context.Context, contractID, functionName string, m contracts.Mapping) error {
	mJSON, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("registry: marshalling mapping: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE custom_contracts
		 SET function_mappings = COALESCE(function_mappings, '{}'::jsonb) || jsonb_build_object($2::text, $3::jsonb),
		     updated_at = $4
		 WHERE id = $1`,
		contractID, functionName, mJSON, time.Now().UTC())
	return err
}

// SetWasmMeta attaches uploaded WASM metadata, verification outcome included.
func (s *PostgresContracts) SetWasmMeta(ctx context.Context, userID, id string, meta *contracts.WasmMeta) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("registry: marshalling wasm meta: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE custom_contracts SET wasm_meta = $3, updated_at = $4 WHERE id = $1 AND user_id = $2`,
		id, userID, metaJSON, time.Now().UTC())
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContract(row rowScanner) (*contracts.CustomContract, error) {
	var (
		c                               contracts.CustomContract
		network                         string
		fnsJSON, mappingsJSON, wasmJSON []byte
		smartWallet, paymentFn, webauthnVerifier sql.NullString
	)
	err := row.Scan(&c.ID, &c.UserID, &c.Address, &c.Name, &network, &fnsJSON,
		&mappingsJSON, &c.UseSmartWallet, &smartWallet, &paymentFn,
		&c.RequiresWebauthn, &webauthnVerifier, &wasmJSON, &c.IsActive,
		&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	c.Network = contracts.Network(network)
	c.SmartWalletContractID = smartWallet.String
	c.PaymentFunctionName = paymentFn.String
	c.WebauthnVerifierContractID = webauthnVerifier.String
	if len(fnsJSON) > 0 {
		if err := json.Unmarshal(fnsJSON, &c.DiscoveredFunctions); err != nil {
			return nil, fmt.Errorf("registry: decoding functions: %w", err)
		}
	}
	if len(mappingsJSON) > 0 {
		if err := json.Unmarshal(mappingsJSON, &c.FunctionMappings); err != nil {
			return nil, fmt.Errorf("registry: decoding mappings: %w", err)
		}
	}
	if len(wasmJSON) > 0 && string(wasmJSON) != "null" {
		if err := json.Unmarshal(wasmJSON, &c.WasmMeta); err != nil {
			return nil, fmt.Errorf("registry: decoding wasm meta: %w", err)
		}
	}
	return &c, nil
}

func scanContracts(rows *sql.Rows) ([]*contracts.CustomContract, error) {
	defer func() { _ = rows.Close() }()
	var out []*contracts.CustomContract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
