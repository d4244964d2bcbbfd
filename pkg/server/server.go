// Package server wires the HTTP surface over the engine: contract registry,
// rule store, location ingest, queue views, and execution endpoints.
package server

import (
	"log/slog"
	"net/http"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/api"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/dispatch"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/executor"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/geomatch"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/queue"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/registry"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/rules"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/wasmstore"
)

// Server holds every handler dependency. Construct with New and mount via
// Routes.
type Server struct {
	contracts   *registry.PostgresContracts
	discoverer  *registry.Discoverer
	rules       *rules.PostgresRules
	geofences   *rules.PostgresGeofences
	quorum      *rules.QuorumChecker
	matcher     *geomatch.Matcher
	projections *queue.Projections
	manager     *queue.Manager
	dispatcher  *dispatch.Dispatcher
	executor    *executor.Executor
	wasm        wasmstore.Store
	logger      *slog.Logger

	// ingestLimiter throttles the location ingest route only; nil disables.
	ingestLimiter func(http.Handler) http.Handler
}

type Deps struct {
	Contracts     *registry.PostgresContracts
	Discoverer    *registry.Discoverer
	Rules         *rules.PostgresRules
	Geofences     *rules.PostgresGeofences
	Quorum        *rules.QuorumChecker
	Matcher       *geomatch.Matcher
	Projections   *queue.Projections
	Manager       *queue.Manager
	Dispatcher    *dispatch.Dispatcher
	Executor      *executor.Executor
	Wasm          wasmstore.Store
	IngestLimiter func(http.Handler) http.Handler
	Logger        *slog.Logger
}

func New(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		contracts:     d.Contracts,
		discoverer:    d.Discoverer,
		rules:         d.Rules,
		geofences:     d.Geofences,
		quorum:        d.Quorum,
		matcher:       d.Matcher,
		projections:   d.Projections,
		manager:       d.Manager,
		dispatcher:    d.Dispatcher,
		executor:      d.Executor,
		wasm:          d.Wasm,
		ingestLimiter: d.IngestLimiter,
		logger:        logger,
	}
}

// Routes builds the route table. Authentication and the global rate limit
// wrap the returned handler in main.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	ingest := http.HandlerFunc(s.handleLocationUpdate)
	if s.ingestLimiter != nil {
		mux.Handle("POST /location/update", s.ingestLimiter(ingest))
	} else {
		mux.Handle("POST /location/update", ingest)
	}

	mux.HandleFunc("POST /contracts/discover", s.handleDiscover)
	mux.HandleFunc("POST /contracts", s.handleCreateContract)
	mux.HandleFunc("GET /contracts", s.handleListContracts)
	mux.HandleFunc("GET /contracts/public", s.handleListPublicContracts)
	mux.HandleFunc("GET /contracts/{id}", s.handleGetContract)
	mux.HandleFunc("PUT /contracts/{id}", s.handleUpdateContract)
	mux.HandleFunc("DELETE /contracts/{id}", s.handleDeleteContract)
	mux.HandleFunc("PUT /contracts/{id}/mappings", s.handleUpdateMappings)
	mux.HandleFunc("POST /contracts/upload-wasm", s.handleUploadWasm)
	mux.HandleFunc("POST /contracts/{id}/upload-wasm", s.handleAttachWasm)
	mux.HandleFunc("GET /contracts/{id}/wasm", s.handleDownloadWasm)

	mux.HandleFunc("POST /contracts/rules", s.handleCreateRule)
	mux.HandleFunc("GET /contracts/rules", s.handleListRules)
	mux.HandleFunc("GET /contracts/rules/public", s.handleListPublicRules)
	mux.HandleFunc("GET /contracts/rules/{id}", s.handleGetRule)
	mux.HandleFunc("PUT /contracts/rules/{id}", s.handleUpdateRule)
	mux.HandleFunc("DELETE /contracts/rules/{id}", s.handleDeleteRule)
	mux.HandleFunc("GET /contracts/rules/{id}/quorum", s.handleQuorumReport)
	mux.HandleFunc("GET /contracts/execution-rules/locations", s.handleRuleLocations)
	mux.HandleFunc("GET /contracts/execution-rules/locations/public", s.handlePublicRuleLocations)
	mux.HandleFunc("GET /contracts/nearby", s.handleNearby)

	mux.HandleFunc("POST /contracts/geofences", s.handleCreateGeofence)
	mux.HandleFunc("GET /contracts/geofences", s.handleListGeofences)

	mux.HandleFunc("GET /contracts/rules/pending", s.handlePending)
	mux.HandleFunc("GET /contracts/rules/completed", s.handleCompleted)
	mux.HandleFunc("GET /contracts/rules/rejected", s.handleRejected)
	mux.HandleFunc("POST /contracts/rules/pending/{ruleId}/reject", s.handleReject)
	mux.HandleFunc("POST /contracts/rules/pending/{ruleId}/complete", s.handleRecoverComplete)

	mux.HandleFunc("POST /contracts/{id}/execute", s.handleExecute)
	mux.HandleFunc("POST /contracts/{id}/test-function", s.handleTestFunction)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
