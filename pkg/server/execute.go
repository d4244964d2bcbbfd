package server

import (
	"encoding/json"
	"net/http"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/api"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/auth"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/executor"
)

// handleExecute runs one contract invocation end to end. A submitted but
// unconfirmed transaction answers 202; the rule is still marked completed.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, false)
}

// handleTestFunction validates and simulates only; nothing is signed or
// submitted and the queue is untouched.
func (s *Server) handleTestFunction(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, true)
}

func (s *Server) execute(w http.ResponseWriter, r *http.Request, simulateOnly bool) {
	actor, err := auth.GetActor(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}

	var req executor.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteValidation(w, "invalid JSON body")
		return
	}
	req.ContractID = r.PathValue("id")
	req.SimulateOnly = simulateOnly

	resp, err := s.executor.Execute(r.Context(), actor.UserID, &req)
	if err != nil {
		api.WriteAPIError(w, err)
		return
	}

	status := http.StatusOK
	if resp.PendingConfirmation {
		status = http.StatusAccepted
	}
	api.WriteJSON(w, status, resp)
}
