package contracts

import (
	"time"
)

// RuleType classifies how a rule's trigger area is expressed.
type RuleType string

const (
	RuleTypeLocation  RuleType = "location"
	RuleTypeProximity RuleType = "proximity"
	RuleTypeGeofence  RuleType = "geofence"
)

// TriggerOn is the geofence transition that fires the rule.
type TriggerOn string

const (
	TriggerEnter TriggerOn = "enter"
	TriggerExit  TriggerOn = "exit"
	TriggerDwell TriggerOn = "dwell"
)

// QuorumType controls how requiredWalletPublicKeys are counted.
type QuorumType string

const (
	QuorumAny       QuorumType = "any"
	QuorumAll       QuorumType = "all"
	QuorumThreshold QuorumType = "threshold"
)

// ExecutionRule is a geofenced trigger over a registered contract function.
type ExecutionRule struct {
	ID         string   `json:"id"`
	UserID     string   `json:"user_id"`
	ContractID string   `json:"contract_id"`
	RuleName   string   `json:"rule_name"`
	RuleType   RuleType `json:"rule_type"`

	CenterLatitude  *float64 `json:"center_latitude,omitempty"`
	CenterLongitude *float64 `json:"center_longitude,omitempty"`
	RadiusMeters    *float64 `json:"radius_meters,omitempty"`
	GeofenceID      *string  `json:"geofence_id,omitempty"`

	FunctionName       string         `json:"function_name"`
	FunctionParameters map[string]any `json:"function_parameters,omitempty"`

	TriggerOn            TriggerOn `json:"trigger_on"`
	AutoExecute          bool      `json:"auto_execute"`
	RequiresConfirmation bool      `json:"requires_confirmation"`

	TargetWalletPublicKey    *string    `json:"target_wallet_public_key,omitempty"`
	RequiredWalletPublicKeys []string   `json:"required_wallet_public_keys,omitempty"`
	MinimumWalletCount       *int       `json:"minimum_wallet_count,omitempty"`
	QuorumType               QuorumType `json:"quorum_type,omitempty"`

	MaxExecutionsPerPublicKey  *int `json:"max_executions_per_public_key,omitempty"`
	ExecutionTimeWindowSeconds *int `json:"execution_time_window_seconds,omitempty"`
	MinLocationDurationSeconds *int `json:"min_location_duration_seconds,omitempty"`

	AutoDeactivateOnBalanceThreshold bool     `json:"auto_deactivate_on_balance_threshold"`
	BalanceThresholdXLM              *float64 `json:"balance_threshold_xlm,omitempty"`
	BalanceCheckAssetAddress         *string  `json:"balance_check_asset_address,omitempty"`
	UseSmartWalletBalance            bool     `json:"use_smart_wallet_balance"`

	SubmitReadonlyToLedger bool `json:"submit_readonly_to_ledger"`
	IsActive               bool `json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasQuorum reports whether the rule carries a quorum configuration.
func (r *ExecutionRule) HasQuorum() bool {
	return len(r.RequiredWalletPublicKeys) > 0
}

// HasRateLimit reports whether the rule carries a per-public-key execution cap.
func (r *ExecutionRule) HasRateLimit() bool {
	return r.MaxExecutionsPerPublicKey != nil && *r.MaxExecutionsPerPublicKey > 0 &&
		r.ExecutionTimeWindowSeconds != nil && *r.ExecutionTimeWindowSeconds > 0
}

// QuorumReport is the outcome of the quorum predicate for one rule.
type QuorumReport struct {
	QuorumMet        bool     `json:"quorum_met"`
	WalletsInRange   []string `json:"wallets_in_range"`
	WalletsOutOfRange []string `json:"wallets_out_of_range"`
	CountInRange     int      `json:"count_in_range"`
	MinimumRequired  int      `json:"minimum_required"`
}

// RuleLocation is the map-rendering projection of a rule.
type RuleLocation struct {
	RuleID          string   `json:"rule_id"`
	RuleName        string   `json:"rule_name"`
	RuleType        RuleType `json:"rule_type"`
	CenterLatitude  *float64 `json:"center_latitude,omitempty"`
	CenterLongitude *float64 `json:"center_longitude,omitempty"`
	RadiusMeters    *float64 `json:"radius_meters,omitempty"`
	GeofenceID      *string  `json:"geofence_id,omitempty"`
	IsActive        bool     `json:"is_active"`
}

// Geofence is a stored polygon referenced by geofence-type rules. The ring
// is a closed sequence of (latitude, longitude) vertices; the editor that
// produces it is out of scope.
type Geofence struct {
	ID        string       `json:"id"`
	UserID    string       `json:"user_id"`
	Name      string       `json:"name"`
	Ring      [][2]float64 `json:"ring"`
	IsActive  bool         `json:"is_active"`
	CreatedAt time.Time    `json:"created_at"`
}
