package rules

import (
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/contracts"
)

// Patch is a partial rule update: only non-nil fields overwrite the stored
// rule. JSON bodies decode into it directly.
type Patch struct {
	RuleName *string                 `json:"rule_name,omitempty"`
	RuleType *contracts.RuleType     `json:"rule_type,omitempty"`

	CenterLatitude  *float64 `json:"center_latitude,omitempty"`
	CenterLongitude *float64 `json:"center_longitude,omitempty"`
	RadiusMeters    *float64 `json:"radius_meters,omitempty"`
	GeofenceID      *string  `json:"geofence_id,omitempty"`

	FunctionName       *string         `json:"function_name,omitempty"`
	FunctionParameters *map[string]any `json:"function_parameters,omitempty"`

	TriggerOn            *contracts.TriggerOn `json:"trigger_on,omitempty"`
	AutoExecute          *bool                `json:"auto_execute,omitempty"`
	RequiresConfirmation *bool                `json:"requires_confirmation,omitempty"`

	TargetWalletPublicKey    *string               `json:"target_wallet_public_key,omitempty"`
	RequiredWalletPublicKeys *[]string             `json:"required_wallet_public_keys,omitempty"`
	MinimumWalletCount       *int                  `json:"minimum_wallet_count,omitempty"`
	QuorumType               *contracts.QuorumType `json:"quorum_type,omitempty"`

	MaxExecutionsPerPublicKey  *int `json:"max_executions_per_public_key,omitempty"`
	ExecutionTimeWindowSeconds *int `json:"execution_time_window_seconds,omitempty"`
	MinLocationDurationSeconds *int `json:"min_location_duration_seconds,omitempty"`

	AutoDeactivateOnBalanceThreshold *bool    `json:"auto_deactivate_on_balance_threshold,omitempty"`
	BalanceThresholdXLM              *float64 `json:"balance_threshold_xlm,omitempty"`
	BalanceCheckAssetAddress         *string  `json:"balance_check_asset_address,omitempty"`
	UseSmartWalletBalance            *bool    `json:"use_smart_wallet_balance,omitempty"`

	SubmitReadonlyToLedger *bool `json:"submit_readonly_to_ledger,omitempty"`
	IsActive               *bool `json:"is_active,omitempty"`
}

// Apply merges the patch into r.
func (p *Patch) Apply(r *contracts.ExecutionRule) {
	if p.RuleName != nil {
		r.RuleName = *p.RuleName
	}
	if p.RuleType != nil {
		r.RuleType = *p.RuleType
	}
	if p.CenterLatitude != nil {
		r.CenterLatitude = p.CenterLatitude
	}
	if p.CenterLongitude != nil {
		r.CenterLongitude = p.CenterLongitude
	}
	if p.RadiusMeters != nil {
		r.RadiusMeters = p.RadiusMeters
	}
	if p.GeofenceID != nil {
		r.GeofenceID = p.GeofenceID
	}
	if p.FunctionName != nil {
		r.FunctionName = *p.FunctionName
	}
	if p.FunctionParameters != nil {
		r.FunctionParameters = *p.FunctionParameters
	}
	if p.TriggerOn != nil {
		r.TriggerOn = *p.TriggerOn
	}
	if p.AutoExecute != nil {
		r.AutoExecute = *p.AutoExecute
	}
	if p.RequiresConfirmation != nil {
		r.RequiresConfirmation = *p.RequiresConfirmation
	}
	if p.TargetWalletPublicKey != nil {
		r.TargetWalletPublicKey = p.TargetWalletPublicKey
	}
	if p.RequiredWalletPublicKeys != nil {
		r.RequiredWalletPublicKeys = *p.RequiredWalletPublicKeys
	}
	if p.MinimumWalletCount != nil {
		r.MinimumWalletCount = p.MinimumWalletCount
	}
	if p.QuorumType != nil {
		r.QuorumType = *p.QuorumType
	}
	if p.MaxExecutionsPerPublicKey != nil {
		r.MaxExecutionsPerPublicKey = p.MaxExecutionsPerPublicKey
	}
	if p.ExecutionTimeWindowSeconds != nil {
		r.ExecutionTimeWindowSeconds = p.ExecutionTimeWindowSeconds
	}
	if p.MinLocationDurationSeconds != nil {
		r.MinLocationDurationSeconds = p.MinLocationDurationSeconds
	}
	if p.AutoDeactivateOnBalanceThreshold != nil {
		r.AutoDeactivateOnBalanceThreshold = *p.AutoDeactivateOnBalanceThreshold
	}
	if p.BalanceThresholdXLM != nil {
		r.BalanceThresholdXLM = p.BalanceThresholdXLM
	}
	if p.BalanceCheckAssetAddress != nil {
		r.BalanceCheckAssetAddress = p.BalanceCheckAssetAddress
	}
	if p.UseSmartWalletBalance != nil {
		r.UseSmartWalletBalance = *p.UseSmartWalletBalance
	}
	if p.SubmitReadonlyToLedger != nil {
		r.SubmitReadonlyToLedger = *p.SubmitReadonlyToLedger
	}
	if p.IsActive != nil {
		r.IsActive = *p.IsActive
	}
}
