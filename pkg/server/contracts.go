package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/api"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/auth"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/chain"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/contracts"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/registry"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/wasmstore"
)

// maxWasmSize bounds uploaded module bodies.
const maxWasmSize = 10 << 20

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
		Network string `json:"network"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteValidation(w, "invalid JSON body")
		return
	}

	result, err := s.discoverer.Discover(r.Context(), req.Address, contracts.Network(req.Network))
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrBadAddress):
			api.WriteValidation(w, err.Error())
		case errors.Is(err, chain.ErrContractNotFound):
			api.WriteNotFound(w, "contract not found on "+req.Network)
		default:
			api.WriteAPIError(w, err)
		}
		return
	}
	api.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) handleCreateContract(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.GetActor(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}

	var c contracts.CustomContract
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		api.WriteValidation(w, "invalid JSON body")
		return
	}
	c.ID = ""
	c.UserID = actor.UserID
	c.IsActive = true
	if c.Network == "" {
		c.Network = contracts.NetworkTestnet
	}

	saved, err := s.contracts.Upsert(r.Context(), &c)
	if err != nil {
		if errors.Is(err, registry.ErrBadAddress) {
			api.WriteValidation(w, err.Error())
			return
		}
		api.WriteAPIError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleUpdateContract(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.GetActor(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}
	id := r.PathValue("id")
	existing, err := s.contracts.Get(r.Context(), actor.UserID, id)
	if err != nil {
		api.WriteNotFound(w, "contract not found")
		return
	}

	var c contracts.CustomContract
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		api.WriteValidation(w, "invalid JSON body")
		return
	}
	c.ID = existing.ID
	c.UserID = actor.UserID
	if c.Address == "" {
		c.Address = existing.Address
	}
	if c.Network == "" {
		c.Network = existing.Network
	}

	saved, err := s.contracts.Upsert(r.Context(), &c)
	if err != nil {
		if errors.Is(err, registry.ErrBadAddress) {
			api.WriteValidation(w, err.Error())
			return
		}
		api.WriteAPIError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, saved)
}

func (s *Server) handleGetContract(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.GetActor(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}
	c, err := s.contracts.Get(r.Context(), actor.UserID, r.PathValue("id"))
	if err != nil {
		api.WriteNotFound(w, "contract not found")
		return
	}
	api.WriteJSON(w, http.StatusOK, c)
}

func (s *Server) handleListContracts(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.GetActor(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}
	list, err := s.contracts.ListMine(r.Context(), actor.UserID)
	if err != nil {
		api.WriteAPIError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"contracts": list, "count": len(list)})
}

func (s *Server) handleListPublicContracts(w http.ResponseWriter, r *http.Request) {
	list, err := s.contracts.ListPublicActive(r.Context())
	if err != nil {
		api.WriteAPIError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"contracts": list, "count": len(list)})
}

func (s *Server) handleDeleteContract(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.GetActor(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}
	if err := s.contracts.Deactivate(r.Context(), actor.UserID, r.PathValue("id")); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			api.WriteNotFound(w, "contract not found")
			return
		}
		api.WriteAPIError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"deactivated": true})
}

func (s *Server) handleUpdateMappings(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.GetActor(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		api.WriteValidation(w, "unreadable body")
		return
	}
	mappings, err := registry.DecodeMappings(raw)
	if err != nil {
		api.WriteValidation(w, err.Error())
		return
	}
	if err := s.contracts.UpdateMappings(r.Context(), actor.UserID, r.PathValue("id"), mappings); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			api.WriteNotFound(w, "contract not found")
			return
		}
		api.WriteAPIError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"updated": true, "functions": len(mappings)})
}

// handleUploadWasm stores a module without binding it to a contract. The
// response carries the content hash and the extracted interface so the
// operator can register afterwards.
func (s *Server) handleUploadWasm(w http.ResponseWriter, r *http.Request) {
	if _, err := auth.GetActor(r.Context()); err != nil {
		api.WriteUnauthorized(w, "")
		return
	}
	code, apiErr := s.readWasmBody(r)
	if apiErr != nil {
		api.WriteAPIError(w, apiErr)
		return
	}

	hash := wasmstore.HashHex(code)
	if err := s.wasm.Put(r.Context(), hash, code); err != nil {
		api.WriteAPIError(w, err)
		return
	}

	sigs, err := wasmstore.ExtractFunctions(r.Context(), code)
	if err != nil {
		s.logger.Warn("uploaded module has no readable interface", "hash", hash, "error", err)
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"hash":      hash,
		"size":      len(code),
		"functions": sigs,
	})
}

// handleAttachWasm stores a module and records it against a contract.
// ?verify_wasm=true additionally compares it with the hash installed
// on-chain; a mismatch is reported, never blocking.
func (s *Server) handleAttachWasm(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.GetActor(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}
	c, err := s.contracts.Get(r.Context(), actor.UserID, r.PathValue("id"))
	if err != nil {
		api.WriteNotFound(w, "contract not found")
		return
	}

	code, apiErr := s.readWasmBody(r)
	if apiErr != nil {
		api.WriteAPIError(w, apiErr)
		return
	}

	hash := wasmstore.HashHex(code)
	if err := s.wasm.Put(r.Context(), hash, code); err != nil {
		api.WriteAPIError(w, err)
		return
	}

	meta := &contracts.WasmMeta{
		Hash:       hash,
		Size:       int64(len(code)),
		StorageKey: hash,
		UploadedAt: time.Now().UTC(),
	}
	if r.URL.Query().Get("verify_wasm") == "true" {
		meta.Verification = s.discoverer.VerifyWasm(r.Context(), c.Address, code)
	}
	if err := s.contracts.SetWasmMeta(r.Context(), actor.UserID, c.ID, meta); err != nil {
		api.WriteAPIError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, meta)
}

func (s *Server) handleDownloadWasm(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.GetActor(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}
	c, err := s.contracts.Get(r.Context(), actor.UserID, r.PathValue("id"))
	if err != nil {
		api.WriteNotFound(w, "contract not found")
		return
	}
	if c.WasmMeta == nil || c.WasmMeta.StorageKey == "" {
		api.WriteNotFound(w, "no WASM uploaded for this contract")
		return
	}
	code, err := s.wasm.Get(r.Context(), c.WasmMeta.StorageKey)
	if err != nil {
		api.WriteAPIError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/wasm")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(code)
}

// readWasmBody reads and compile-checks an uploaded module body.
func (s *Server) readWasmBody(r *http.Request) ([]byte, *api.APIError) {
	code, err := io.ReadAll(io.LimitReader(r.Body, maxWasmSize+1))
	if err != nil {
		return nil, api.NewError(api.CodeValidation, "unreadable body")
	}
	if len(code) == 0 {
		return nil, api.NewError(api.CodeValidation, "empty WASM body")
	}
	if len(code) > maxWasmSize {
		return nil, api.NewError(api.CodeValidation, "WASM module exceeds the 10 MiB limit")
	}
	if err := wasmstore.CompileCheck(r.Context(), code); err != nil {
		return nil, api.NewError(api.CodeValidation, "module does not compile: "+err.Error())
	}
	return code, nil
}
