package rules

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

var ErrGeofenceNotFound = errors.New("rules: geofence not found")

// PostgresGeofences stores the polygons geofence-type rules reference. The
// editor producing the rings lives elsewhere; this is storage and lookup.
type PostgresGeofences struct {
	db *sql.DB
}

func NewPostgresGeofences(db *sql.DB) *PostgresGeofences {
	return &PostgresGeofences{db: db}
}

const geofencesSchema = `
CREATE TABLE IF NOT EXISTS geofences (
	id UUID PRIMARY KEY,
	user_id TEXT NOT NULL,
	name TEXT NOT NULL,
	ring JSONB NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_geofences_user ON geofences (user_id);
`

func (s *PostgresGeofences) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, geofencesSchema)
	return err
}

// Create stores a polygon. Rings need at least three vertices.
func (s *PostgresGeofences) Create(ctx context.Context, g *contracts.Geofence) (*contracts.Geofence, error) {
	if len(g.Ring) < 3 {
		return nil, &ValidationError{Violations: []string{"geofence ring needs at least three vertices"}}
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	g.CreatedAt = time.Now().UTC()

	ringJSON, err := json.Marshal(g.Ring)
	if err != nil {
		return nil, fmt.Errorf("rules: marshalling ring: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO geofences (id, user_id, name, ring, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		g.ID, g.UserID, g.Name, ringJSON, g.IsActive, g.CreatedAt)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// Geofence returns a polygon by id, any owner. Matching happens against
// other users' public rules, so fences resolve without an owner check.
func (s *PostgresGeofences) Geofence(ctx context.Context, id string) (*contracts.Geofence, error) {
	var (
		g        contracts.Geofence
		ringJSON []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, ring, is_active, created_at FROM geofences WHERE id = $1`, id).
		Scan(&g.ID, &g.UserID, &g.Name, &ringJSON, &g.IsActive, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrGeofenceNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(ringJSON, &g.Ring); err != nil {
		return nil, fmt.Errorf("rules: decoding ring: %w", err)
	}
	return &g, nil
}

// ListMine returns a user's polygons.
func (s *PostgresGeofences) ListMine(ctx context.Context, userID string) ([]*contracts.Geofence, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, ring, is_active, created_at FROM geofences WHERE user_id = $1 ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.Geofence
	for rows.Next() {
		var (
			g        contracts.Geofence
			ringJSON []byte
		)
		if err := rows.Scan(&g.ID, &g.UserID, &g.Name, &ringJSON, &g.IsActive, &g.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(ringJSON, &g.Ring); err != nil {
			return nil, fmt.Errorf("rules: decoding ring: %w", err)
		}
		out = append(out, &g)
	}
	return out, rows.Err()
}
