package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/api"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/auth"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/contracts"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/rules"
)

func writeRuleError(w http.ResponseWriter, err error) {
	var vErr *rules.ValidationError
	switch {
	case errors.As(err, &vErr):
		api.WriteAPIError(w, api.NewError(api.CodeValidation, "rule validation failed").
			WithDetail("violations", vErr.Violations))
	case errors.Is(err, rules.ErrNotFound):
		api.WriteNotFound(w, "rule not found")
	default:
		api.WriteAPIError(w, err)
	}
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.GetActor(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}

	var rule contracts.ExecutionRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		api.WriteValidation(w, "invalid JSON body")
		return
	}
	rule.ID = ""
	rule.UserID = actor.UserID

	// The rule must reference a contract the caller can see.
	if _, err := s.contracts.GetAnyOwner(r.Context(), rule.ContractID); err != nil {
		api.WriteNotFound(w, "contract not found")
		return
	}

	saved, err := s.rules.Create(r.Context(), &rule)
	if err != nil {
		writeRuleError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.GetActor(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}
	var patch rules.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		api.WriteValidation(w, "invalid JSON body")
		return
	}
	saved, err := s.rules.Update(r.Context(), actor.UserID, r.PathValue("id"), &patch)
	if err != nil {
		writeRuleError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, saved)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.GetActor(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}
	if err := s.rules.Delete(r.Context(), actor.UserID, r.PathValue("id")); err != nil {
		writeRuleError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.GetActor(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}
	rule, err := s.rules.Get(r.Context(), actor.UserID, r.PathValue("id"))
	if err != nil {
		writeRuleError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, rule)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.GetActor(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}
	list, err := s.rules.ListMine(r.Context(), actor.UserID)
	if err != nil {
		api.WriteAPIError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"rules": list, "count": len(list)})
}

func (s *Server) handleListPublicRules(w http.ResponseWriter, r *http.Request) {
	list, err := s.rules.ListPublicActive(r.Context())
	if err != nil {
		api.WriteAPIError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"rules": list, "count": len(list)})
}

// handleQuorumReport evaluates the quorum predicate live and returns the
// full report, including which wallets are in and out of range.
func (s *Server) handleQuorumReport(w http.ResponseWriter, r *http.Request) {
	if _, err := auth.GetActor(r.Context()); err != nil {
		api.WriteUnauthorized(w, "")
		return
	}
	rule, err := s.rules.GetAnyOwner(r.Context(), r.PathValue("id"))
	if err != nil {
		writeRuleError(w, err)
		return
	}
	report, err := s.quorum.Check(r.Context(), rule)
	if err != nil {
		api.WriteAPIError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, report)
}

func (s *Server) handleRuleLocations(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.GetActor(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}
	locations, err := s.rules.ListLocations(r.Context(), actor.UserID)
	if err != nil {
		api.WriteAPIError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"locations": locations, "count": len(locations)})
}

func (s *Server) handlePublicRuleLocations(w http.ResponseWriter, r *http.Request) {
	locations, err := s.rules.ListLocations(r.Context(), "")
	if err != nil {
		api.WriteAPIError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"locations": locations, "count": len(locations)})
}

// handleNearby returns active rules whose center lies within radius meters
// of the queried point, nearest first. Public.
func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	lat, err1 := strconv.ParseFloat(r.URL.Query().Get("latitude"), 64)
	lng, err2 := strconv.ParseFloat(r.URL.Query().Get("longitude"), 64)
	if err1 != nil || err2 != nil {
		api.WriteValidation(w, "latitude and longitude query parameters are required")
		return
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		api.WriteValidation(w, "coordinates out of range")
		return
	}
	radius := 1000.0
	if raw := r.URL.Query().Get("radius"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed <= 0 {
			api.WriteValidation(w, "radius must be a positive number of meters")
			return
		}
		radius = parsed
	}

	matches, err := s.matcher.Nearby(r.Context(), lat, lng, radius)
	if err != nil {
		api.WriteAPIError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"rules": matches, "count": len(matches)})
}

func (s *Server) handleCreateGeofence(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.GetActor(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}
	var g contracts.Geofence
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		api.WriteValidation(w, "invalid JSON body")
		return
	}
	g.ID = ""
	g.UserID = actor.UserID
	g.IsActive = true

	saved, err := s.geofences.Create(r.Context(), &g)
	if err != nil {
		writeRuleError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleListGeofences(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.GetActor(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}
	list, err := s.geofences.ListMine(r.Context(), actor.UserID)
	if err != nil {
		api.WriteAPIError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"geofences": list, "count": len(list)})
}
