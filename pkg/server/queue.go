package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/api"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/auth"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/queue"
)

// handleLocationUpdate ingests one device position and dispatches every rule
// it triggers. The response carries the queue row with one execution result
// per matched rule, in match order.
func (s *Server) handleLocationUpdate(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.GetActor(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}

	var req struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteValidation(w, "invalid JSON body")
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		api.WriteValidation(w, "latitude and longitude are required")
		return
	}
	if *req.Latitude < -90 || *req.Latitude > 90 || *req.Longitude < -180 || *req.Longitude > 180 {
		api.WriteValidation(w, "coordinates out of range")
		return
	}

	update, err := s.dispatcher.Ingest(r.Context(), actor.UserID, actor.PublicKey, *req.Latitude, *req.Longitude)
	if err != nil {
		api.WriteAPIError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, update)
}

func limitParam(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

type projectionFn func(r *http.Request, userID, publicKey string, limit int) ([]queue.Entry, int, error)

func (s *Server) writeProjection(w http.ResponseWriter, r *http.Request, key string, fn projectionFn) {
	actor, err := auth.GetActor(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}
	entries, count, err := fn(r, actor.UserID, actor.PublicKey, limitParam(r))
	if err != nil {
		api.WriteAPIError(w, err)
		return
	}
	if entries == nil {
		entries = []queue.Entry{}
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{key: entries, "count": count})
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	s.writeProjection(w, r, "pending", func(r *http.Request, userID, publicKey string, limit int) ([]queue.Entry, int, error) {
		return s.projections.Pending(r.Context(), userID, publicKey, limit)
	})
}

func (s *Server) handleCompleted(w http.ResponseWriter, r *http.Request) {
	s.writeProjection(w, r, "completed", func(r *http.Request, userID, publicKey string, limit int) ([]queue.Entry, int, error) {
		return s.projections.Completed(r.Context(), userID, publicKey, limit)
	})
}

func (s *Server) handleRejected(w http.ResponseWriter, r *http.Request) {
	s.writeProjection(w, r, "rejected", func(r *http.Request, userID, publicKey string, limit int) ([]queue.Entry, int, error) {
		return s.projections.Rejected(r.Context(), userID, publicKey, limit)
	})
}

// handleReject flips every matching pending placeholder to rejected.
// Idempotent: re-posting reports zero changed elements.
func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.GetActor(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}
	var req struct {
		MatchedPublicKey string `json:"matched_public_key"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	changed, err := s.manager.MarkRejected(r.Context(), r.PathValue("ruleId"), actor.UserID, req.MatchedPublicKey)
	if err != nil {
		api.WriteAPIError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"rejected": changed})
}

// handleRecoverComplete is the recovery endpoint: it marks a rule completed
// when the transaction already succeeded on-chain but the queue update was
// lost (crash between submission and write).
func (s *Server) handleRecoverComplete(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.GetActor(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}
	var req struct {
		MatchedPublicKey string `json:"matched_public_key"`
		TransactionHash  string `json:"transaction_hash"`
		UpdateID         string `json:"update_id"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	row, err := s.manager.MarkCompleted(r.Context(), queue.CompletionRequest{
		RuleID:           r.PathValue("ruleId"),
		UserID:           actor.UserID,
		UpdateID:         req.UpdateID,
		MatchedPublicKey: req.MatchedPublicKey,
		TransactionHash:  req.TransactionHash,
	})
	if err != nil {
		api.WriteAPIError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, row)
}
