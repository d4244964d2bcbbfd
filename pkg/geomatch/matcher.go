// Package geomatch implements the read-only location matcher: given a
// coordinate it finds the active rules whose trigger area contains it.
package geomatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/contracts"
)

// RuleSource yields candidate rules. Implementations must already exclude
// inactive rules and rules whose parent contract is inactive.
type RuleSource interface {
	ActiveRules(ctx context.Context) ([]*contracts.ExecutionRule, error)
}

// GeofenceSource resolves stored polygons for geofence-type rules.
type GeofenceSource interface {
	Geofence(ctx context.Context, id string) (*contracts.Geofence, error)
}

// Match pairs a rule with its distance from the probed point. For geofence
// rules the distance is zero when contained.
type Match struct {
	Rule           *contracts.ExecutionRule `json:"rule"`
	DistanceMeters float64                 `json:"distance_meters"`
}

// Matcher is stateless and idempotent; it never mutates store state.
type Matcher struct {
	rules  RuleSource
	fences GeofenceSource
	logger *slog.Logger
}

func NewMatcher(rules RuleSource, fences GeofenceSource, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{rules: rules, fences: fences, logger: logger}
}

// MatchPoint returns the rules triggered by a device standing at
// (lat, lng): circle rules whose geodesic radius covers the point and
// geofence rules whose polygon contains it, sorted by ascending distance.
func (m *Matcher) MatchPoint(ctx context.Context, lat, lng float64) ([]Match, error) {
	candidates, err := m.rules.ActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading active rules: %w", err)
	}

	var matches []Match
	for _, rule := range candidates {
		switch rule.RuleType {
		case contracts.RuleTypeLocation, contracts.RuleTypeProximity:
			if rule.CenterLatitude == nil || rule.CenterLongitude == nil || rule.RadiusMeters == nil {
				continue
			}
			d := DistanceMeters(lat, lng, *rule.CenterLatitude, *rule.CenterLongitude)
			if d <= *rule.RadiusMeters {
				matches = append(matches, Match{Rule: rule, DistanceMeters: d})
			}
		case contracts.RuleTypeGeofence:
			if rule.GeofenceID == nil {
				continue
			}
			fence, err := m.fences.Geofence(ctx, *rule.GeofenceID)
			if err != nil {
				m.logger.Warn("geofence lookup failed", "geofence_id", *rule.GeofenceID, "error", err)
				continue
			}
			if fence != nil && fence.IsActive && RingContains(fence.Ring, lat, lng) {
				matches = append(matches, Match{Rule: rule, DistanceMeters: 0})
			}
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].DistanceMeters < matches[j].DistanceMeters
	})
	return matches, nil
}

// Nearby returns active rules whose center lies within radiusMeters of the
// point, sorted by ascending distance. Geofence rules without a center are
// excluded; the map view renders those from their polygon instead.
func (m *Matcher) Nearby(ctx context.Context, lat, lng, radiusMeters float64) ([]Match, error) {
	candidates, err := m.rules.ActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading active rules: %w", err)
	}

	var matches []Match
	for _, rule := range candidates {
		if rule.CenterLatitude == nil || rule.CenterLongitude == nil {
			continue
		}
		d := DistanceMeters(lat, lng, *rule.CenterLatitude, *rule.CenterLongitude)
		if d <= radiusMeters {
			matches = append(matches, Match{Rule: rule, DistanceMeters: d})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].DistanceMeters < matches[j].DistanceMeters
	})
	return matches, nil
}
