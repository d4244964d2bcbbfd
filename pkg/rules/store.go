// Package rules owns execution rules: persistence, validation invariants,
// quorum evaluation, and geofence polygons.
package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/contracts"
)

var ErrNotFound = errors.New("rules: rule not found")

// ValidationError aggregates every invariant violation found on a rule so
// callers see the whole list at once.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "rules: invalid rule: " + strings.Join(e.Violations, "; ")
}

// Validate enforces the rule-shape invariants.
func Validate(r *contracts.ExecutionRule) error {
	var v []string

	switch r.RuleType {
	case contracts.RuleTypeLocation, contracts.RuleTypeProximity:
		if r.CenterLatitude == nil || r.CenterLongitude == nil {
			v = append(v, fmt.Sprintf("%s rules require center_latitude and center_longitude", r.RuleType))
		}
		if r.RadiusMeters == nil || *r.RadiusMeters <= 0 {
			v = append(v, fmt.Sprintf("%s rules require a positive radius_meters", r.RuleType))
		}
	case contracts.RuleTypeGeofence:
		if r.GeofenceID == nil || *r.GeofenceID == "" {
			v = append(v, "geofence rules require geofence_id")
		}
	default:
		v = append(v, fmt.Sprintf("unknown rule_type %q", r.RuleType))
	}

	switch r.TriggerOn {
	case contracts.TriggerEnter, contracts.TriggerExit, contracts.TriggerDwell:
	default:
		v = append(v, fmt.Sprintf("unknown trigger_on %q", r.TriggerOn))
	}

	if r.RuleName == "" {
		v = append(v, "rule_name is required")
	}
	if r.FunctionName == "" {
		v = append(v, "function_name is required")
	}

	if len(r.RequiredWalletPublicKeys) > 0 {
		if r.MinimumWalletCount == nil {
			v = append(v, "minimum_wallet_count is required when required_wallet_public_keys is set")
		} else if *r.MinimumWalletCount < 1 || *r.MinimumWalletCount > len(r.RequiredWalletPublicKeys) {
			v = append(v, fmt.Sprintf("minimum_wallet_count must be between 1 and %d", len(r.RequiredWalletPublicKeys)))
		}
		for _, pk := range r.RequiredWalletPublicKeys {
			if !contracts.ValidAddressShape(pk) {
				v = append(v, fmt.Sprintf("required wallet %q is not a valid address", pk))
			}
		}
	}

	if r.AutoDeactivateOnBalanceThreshold && (r.BalanceThresholdXLM == nil || *r.BalanceThresholdXLM <= 0) {
		v = append(v, "balance_threshold_xlm must be positive when auto-deactivation is enabled")
	}

	if len(v) > 0 {
		return &ValidationError{Violations: v}
	}
	return nil
}

// PostgresRules implements the rule store with SQL persistence.
type PostgresRules struct {
	db *sql.DB
}

func NewPostgresRules(db *sql.DB) *PostgresRules {
	return &PostgresRules{db: db}
}

const rulesSchema = `
CREATE TABLE IF NOT EXISTS contract_execution_rules (
	id UUID PRIMARY KEY,
	user_id TEXT NOT NULL,
	contract_id UUID NOT NULL,
	rule_name TEXT NOT NULL,
	rule_type TEXT NOT NULL,
	center_latitude DOUBLE PRECISION,
	center_longitude DOUBLE PRECISION,
	radius_meters DOUBLE PRECISION,
	geofence_id TEXT,
	function_name TEXT NOT NULL,
	function_parameters JSONB,
	trigger_on TEXT NOT NULL,
	auto_execute BOOLEAN NOT NULL DEFAULT FALSE,
	requires_confirmation BOOLEAN NOT NULL DEFAULT TRUE,
	target_wallet_public_key TEXT,
	required_wallet_public_keys JSONB,
	minimum_wallet_count INT,
	quorum_type TEXT,
	max_executions_per_public_key INT,
	execution_time_window_seconds INT,
	min_location_duration_seconds INT,
	auto_deactivate_on_balance_threshold BOOLEAN NOT NULL DEFAULT FALSE,
	balance_threshold_xlm DOUBLE PRECISION,
	balance_check_asset_address TEXT,
	use_smart_wallet_balance BOOLEAN NOT NULL DEFAULT FALSE,
	submit_readonly_to_ledger BOOLEAN NOT NULL DEFAULT FALSE,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_execution_rules_user ON contract_execution_rules (user_id);
CREATE INDEX IF NOT EXISTS idx_execution_rules_active ON contract_execution_rules (is_active);
`

func (s *PostgresRules) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, rulesSchema)
	return err
}

const ruleColumns = `id, user_id, contract_id, rule_name, rule_type,
	center_latitude, center_longitude, radius_meters, geofence_id,
	function_name, function_parameters, trigger_on, auto_execute,
	requires_confirmation, target_wallet_public_key,
	required_wallet_public_keys, minimum_wallet_count, quorum_type,
	max_executions_per_public_key, execution_time_window_seconds,
	min_location_duration_seconds, auto_deactivate_on_balance_threshold,
	balance_threshold_xlm, balance_check_asset_address,
	use_smart_wallet_balance, submit_readonly_to_ledger, is_active,
	created_at, updated_at`

// Create validates and inserts a rule.
func (s *PostgresRules) Create(ctx context.Context, r *contracts.ExecutionRule) (*contracts.ExecutionRule, error) {
	if err := Validate(r); err != nil {
		return nil, err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now

	paramsJSON, err := json.Marshal(r.FunctionParameters)
	if err != nil {
		return nil, fmt.Errorf("rules: marshalling parameters: %w", err)
	}
	requiredJSON, err := json.Marshal(r.RequiredWalletPublicKeys)
	if err != nil {
		return nil, fmt.Errorf("rules: marshalling required wallets: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO contract_execution_rules (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26,
		        $27, $28, $29)`,
		r.ID, r.UserID, r.ContractID, r.RuleName, string(r.RuleType),
		r.CenterLatitude, r.CenterLongitude, r.RadiusMeters, r.GeofenceID,
		r.FunctionName, paramsJSON, string(r.TriggerOn), r.AutoExecute,
		r.RequiresConfirmation, r.TargetWalletPublicKey, requiredJSON,
		r.MinimumWalletCount, nullableString(string(r.QuorumType)),
		r.MaxExecutionsPerPublicKey, r.ExecutionTimeWindowSeconds,
		r.MinLocationDurationSeconds, r.AutoDeactivateOnBalanceThreshold,
		r.BalanceThresholdXLM, r.BalanceCheckAssetAddress,
		r.UseSmartWalletBalance, r.SubmitReadonlyToLedger, r.IsActive,
		r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Update applies a partial patch: only fields present in the patch overwrite
// the stored rule, and the merged rule is re-validated before writing.
func (s *PostgresRules) Update(ctx context.Context, userID, id string, patch *Patch) (*contracts.ExecutionRule, error) {
	r, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	patch.Apply(r)
	if err := Validate(r); err != nil {
		return nil, err
	}
	r.UpdatedAt = time.Now().UTC()

	paramsJSON, err := json.Marshal(r.FunctionParameters)
	if err != nil {
		return nil, fmt.Errorf("rules: marshalling parameters: %w", err)
	}
	requiredJSON, err := json.Marshal(r.RequiredWalletPublicKeys)
	if err != nil {
		return nil, fmt.Errorf("rules: marshalling required wallets: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE contract_execution_rules SET
			rule_name = $3, rule_type = $4, center_latitude = $5,
			center_longitude = $6, radius_meters = $7, geofence_id = $8,
			function_name = $9, function_parameters = $10, trigger_on = $11,
			auto_execute = $12, requires_confirmation = $13,
			target_wallet_public_key = $14, required_wallet_public_keys = $15,
			minimum_wallet_count = $16, quorum_type = $17,
			max_executions_per_public_key = $18,
			execution_time_window_seconds = $19,
			min_location_duration_seconds = $20,
			auto_deactivate_on_balance_threshold = $21,
			balance_threshold_xlm = $22, balance_check_asset_address = $23,
			use_smart_wallet_balance = $24, submit_readonly_to_ledger = $25,
			is_active = $26, updated_at = $27
		WHERE id = $1 AND user_id = $2`,
		id, userID, r.RuleName, string(r.RuleType), r.CenterLatitude,
		r.CenterLongitude, r.RadiusMeters, r.GeofenceID, r.FunctionName,
		paramsJSON, string(r.TriggerOn), r.AutoExecute, r.RequiresConfirmation,
		r.TargetWalletPublicKey, requiredJSON, r.MinimumWalletCount,
		nullableString(string(r.QuorumType)), r.MaxExecutionsPerPublicKey,
		r.ExecutionTimeWindowSeconds, r.MinLocationDurationSeconds,
		r.AutoDeactivateOnBalanceThreshold, r.BalanceThresholdXLM,
		r.BalanceCheckAssetAddress, r.UseSmartWalletBalance,
		r.SubmitReadonlyToLedger, r.IsActive, r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return r, nil
}

// Delete hard-deletes a rule.
func (s *PostgresRules) Delete(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM contract_execution_rules WHERE id = $1 AND user_id = $2`, id, userID)
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
	return nil
}

// Get returns a rule owned by userID.
func (s *PostgresRules) Get(ctx context.Context, userID, id string) (*contracts.ExecutionRule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM contract_execution_rules WHERE id = $1 AND user_id = $2`, id, userID)
	return scanRule(row)
}

// GetAnyOwner returns a rule regardless of owner, for dispatch and matching.
func (s *PostgresRules) GetAnyOwner(ctx context.Context, id string) (*contracts.ExecutionRule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM contract_execution_rules WHERE id = $1`, id)
	return scanRule(row)
}

// ListMine returns all of a user's rules, newest first.
func (s *PostgresRules) ListMine(ctx context.Context, userID string) ([]*contracts.ExecutionRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM contract_execution_rules WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	return scanRules(rows)
}

// ListPublicActive returns active rules whose parent contract is active.
func (s *PostgresRules) ListPublicActive(ctx context.Context) ([]*contracts.ExecutionRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+qualifiedRuleColumns("r")+`
		FROM contract_execution_rules r
		JOIN custom_contracts c ON c.id = r.contract_id
		WHERE r.is_active = TRUE AND c.is_active = TRUE
		ORDER BY r.created_at DESC`)
	if err != nil {
		return nil, err
	}
	return scanRules(rows)
}

// ActiveRules feeds the location matcher: active rules over active contracts.
func (s *PostgresRules) ActiveRules(ctx context.Context) ([]*contracts.ExecutionRule, error) {
	return s.ListPublicActive(ctx)
}

// Deactivate switches a rule off without an owner check. Used by the
// dispatcher when the balance auto-deactivation threshold trips.
func (s *PostgresRules) Deactivate(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE contract_execution_rules SET is_active = FALSE, updated_at = $2 WHERE id = $1`,
		id, time.Now().UTC())
	return err
}

// ListLocations returns the map-rendering projection. When userID is empty,
// only active rules on active contracts are returned (the public view).
func (s *PostgresRules) ListLocations(ctx context.Context, userID string) ([]contracts.RuleLocation, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if userID == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT r.id, r.rule_name, r.rule_type, r.center_latitude,
			       r.center_longitude, r.radius_meters, r.geofence_id, r.is_active
			FROM contract_execution_rules r
			JOIN custom_contracts c ON c.id = r.contract_id
			WHERE r.is_active = TRUE AND c.is_active = TRUE`)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, rule_name, rule_type, center_latitude, center_longitude,
			       radius_meters, geofence_id, is_active
			FROM contract_execution_rules WHERE user_id = $1`, userID)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.RuleLocation
	for rows.Next() {
		var (
			loc      contracts.RuleLocation
			ruleType string
		)
		if err := rows.Scan(&loc.RuleID, &loc.RuleName, &ruleType,
			&loc.CenterLatitude, &loc.CenterLongitude, &loc.RadiusMeters,
			&loc.GeofenceID, &loc.IsActive); err != nil {
			return nil, err
		}
		loc.RuleType = contracts.RuleType(ruleType)
		out = append(out, loc)
	}
	return out, rows.Err()
}

func qualifiedRuleColumns(alias string) string {
	cols := strings.Split(ruleColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*contracts.ExecutionRule, error) {
	var (
		r                        contracts.ExecutionRule
		ruleType, triggerOn      string
		quorumType               sql.NullString
		paramsJSON, requiredJSON []byte
	)
	err := row.Scan(&r.ID, &r.UserID, &r.ContractID, &r.RuleName, &ruleType,
		&r.CenterLatitude, &r.CenterLongitude, &r.RadiusMeters, &r.GeofenceID,
		&r.FunctionName, &paramsJSON, &triggerOn, &r.AutoExecute,
		&r.RequiresConfirmation, &r.TargetWalletPublicKey, &requiredJSON,
		&r.MinimumWalletCount, &quorumType, &r.MaxExecutionsPerPublicKey,
		&r.ExecutionTimeWindowSeconds, &r.MinLocationDurationSeconds,
		&r.AutoDeactivateOnBalanceThreshold, &r.BalanceThresholdXLM,
		&r.BalanceCheckAssetAddress, &r.UseSmartWalletBalance,
		&r.SubmitReadonlyToLedger, &r.IsActive, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	r.RuleType = contracts.RuleType(ruleType)
	r.TriggerOn = contracts.TriggerOn(triggerOn)
	r.QuorumType = contracts.QuorumType(quorumType.String)
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &r.FunctionParameters); err != nil {
			return nil, fmt.Errorf("rules: decoding parameters: %w", err)
		}
	}
	if len(requiredJSON) > 0 {
		if err := json.Unmarshal(requiredJSON, &r.RequiredWalletPublicKeys); err != nil {
			return nil, fmt.Errorf("rules: decoding required wallets: %w", err)
		}
	}
	return &r, nil
}

func scanRules(rows *sql.Rows) ([]*contracts.ExecutionRule, error) {
	defer func() { _ = rows.Close() }()
	var out []*contracts.ExecutionRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
