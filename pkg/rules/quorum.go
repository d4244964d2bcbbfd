package rules

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/contracts"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/geomatch"
)

// quorumFreshness bounds how old a wallet's latest location may be while
// still counting toward a quorum.
const quorumFreshness = 10 * time.Minute

// QuorumChecker evaluates whether the wallets a rule requires are currently
// inside its trigger area. Reads committed state without locks; an
// occasional over-grant is bounded by the on-chain balance check.
type QuorumChecker struct {
	db     *sql.DB
	fences *PostgresGeofences
}

func NewQuorumChecker(db *sql.DB, fences *PostgresGeofences) *QuorumChecker {
	return &QuorumChecker{db: db, fences: fences}
}

// Check builds the quorum report for a rule. Rules without a quorum
// configuration trivially pass.
func (q *QuorumChecker) Check(ctx context.Context, rule *contracts.ExecutionRule) (*contracts.QuorumReport, error) {
	if !rule.HasQuorum() {
		return &contracts.QuorumReport{QuorumMet: true}, nil
	}

	report := &contracts.QuorumReport{
		MinimumRequired: minimumRequired(rule),
	}

	cutoff := time.Now().UTC().Add(-quorumFreshness)
	for _, pk := range rule.RequiredWalletPublicKeys {
		inRange, err := q.walletInRange(ctx, rule, pk, cutoff)
		if err != nil {
			return nil, err
		}
		if inRange {
			report.WalletsInRange = append(report.WalletsInRange, pk)
		} else {
			report.WalletsOutOfRange = append(report.WalletsOutOfRange, pk)
		}
	}
	report.CountInRange = len(report.WalletsInRange)
	report.QuorumMet = report.CountInRange >= report.MinimumRequired
	return report, nil
}

func minimumRequired(rule *contracts.ExecutionRule) int {
	switch rule.QuorumType {
	case contracts.QuorumAny:
		return 1
	case contracts.QuorumAll:
		return len(rule.RequiredWalletPublicKeys)
	case contracts.QuorumThreshold:
		if rule.MinimumWalletCount != nil {
			return *rule.MinimumWalletCount
		}
	}
	if rule.MinimumWalletCount != nil {
		return *rule.MinimumWalletCount
	}
	return len(rule.RequiredWalletPublicKeys)
}

// walletInRange resolves the wallet's most recent location update and tests
// it against the rule's trigger area.
func (q *QuorumChecker) walletInRange(ctx context.Context, rule *contracts.ExecutionRule, publicKey string, cutoff time.Time) (bool, error) {
	var (
		lat, lng   float64
		receivedAt time.Time
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT latitude, longitude, received_at
		FROM location_update_queue
		WHERE public_key = $1
		ORDER BY received_at DESC
		LIMIT 1`, publicKey).Scan(&lat, &lng, &receivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if receivedAt.Before(cutoff) {
		return false, nil
	}

	switch rule.RuleType {
	case contracts.RuleTypeLocation, contracts.RuleTypeProximity:
		if rule.CenterLatitude == nil || rule.CenterLongitude == nil || rule.RadiusMeters == nil {
			return false, nil
		}
		d := geomatch.DistanceMeters(lat, lng, *rule.CenterLatitude, *rule.CenterLongitude)
		return d <= *rule.RadiusMeters, nil
	case contracts.RuleTypeGeofence:
		if rule.GeofenceID == nil {
			return false, nil
		}
		fence, err := q.fences.Geofence(ctx, *rule.GeofenceID)
		if err != nil {
			if errors.Is(err, ErrGeofenceNotFound) {
				return false, nil
			}
			return false, err
		}
		return fence.IsActive && geomatch.RingContains(fence.Ring, lat, lng), nil
	}
	return false, nil
}
