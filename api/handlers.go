package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"bulkwars/db"
	"bulkwars/game"

	"github.com/rs/zerolog/log"
)

/* =========================
   DEPENDENCIES
========================= */

// SessionReader returns the live session. engine.Engine satisfies it.
type SessionReader interface {
	Snapshot(ctx context.Context) (game.Snapshot, error)
}

// RoundStore reads archived rounds. db.Archive satisfies it.
type RoundStore interface {
	GetRound(ctx context.Context, roundID string) (*db.RoundRecord, error)
	GetRecentRounds(ctx context.Context, limit int) ([]*db.RoundRecord, error)
}

// Checker is a backend that can be pinged.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// ConnChecker is a backend that reports its own connection state.
type ConnChecker interface {
	Connected() bool
}

// Handlers serves the HTTP API. Optional backends are nil when disabled.
type Handlers struct {
	Session  SessionReader
	Rounds   RoundStore
	Redis    Checker
	Postgres Checker
	NATS     ConnChecker
	Metrics  http.Handler
}

/* =========================
   RESPONSE TYPES
========================= */

// HealthResponse is the GET /api/health body.
type HealthResponse struct {
	Success  bool       `json:"success"`
	OK       bool       `json:"ok"`
	Players  int        `json:"players"`
	Phase    game.Phase `json:"phase"`
	Redis    string     `json:"redis"`
	Postgres string     `json:"postgres"`
	NATS     string     `json:"nats"`
}

// RoundsResponse is the GET /api/rounds body.
type RoundsResponse struct {
	Success bool              `json:"success"`
	Rounds  []*db.RoundRecord `json:"rounds"`
}

// RoundResponse is the GET /api/rounds/{id} body.
type RoundResponse struct {
	Success bool            `json:"success"`
	Round   *db.RoundRecord `json:"round"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

const healthTimeout = 2 * time.Second

/* =========================
   HTTP ENDPOINTS
========================= */

// Register mounts every route on mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", h.HandleHealthCheck)
	mux.HandleFunc("GET /api/state", h.HandleGetState)
	mux.HandleFunc("GET /api/rounds", h.HandleGetRounds)
	mux.HandleFunc("GET /api/rounds/{id}", h.HandleGetRound)
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}
}

// HandleHealthCheck handles GET /api/health
func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	snap, err := h.Session.Snapshot(ctx)
	if err != nil {
		log.Error().Err(err).Msg("health check could not reach the engine")
		sendError(w, http.StatusServiceUnavailable, "Game engine unavailable")
		return
	}

	response := HealthResponse{
		Success:  true,
		OK:       true,
		Players:  snap.Players,
		Phase:    snap.Phase,
		Redis:    checkHealth(ctx, h.Redis),
		Postgres: checkHealth(ctx, h.Postgres),
		NATS:     "disabled",
	}
	if h.NATS != nil {
		response.NATS = "ok"
		if !h.NATS.Connected() {
			response.NATS = "error: disconnected"
		}
	}

	sendJSON(w, http.StatusOK, response)
}

// HandleGetState handles GET /api/state
func (h *Handlers) HandleGetState(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Session.Snapshot(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to read session state")
		sendError(w, http.StatusServiceUnavailable, "Game engine unavailable")
		return
	}
	sendJSON(w, http.StatusOK, snap)
}

// HandleGetRounds handles GET /api/rounds
// Query params: limit (optional, default 20)
func (h *Handlers) HandleGetRounds(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			sendError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	if h.Rounds == nil {
		sendJSON(w, http.StatusOK, RoundsResponse{Success: true, Rounds: []*db.RoundRecord{}})
		return
	}

	rounds, err := h.Rounds.GetRecentRounds(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to get recent rounds")
		sendError(w, http.StatusInternalServerError, "Failed to retrieve rounds")
		return
	}
	sendJSON(w, http.StatusOK, RoundsResponse{Success: true, Rounds: rounds})
}

// HandleGetRound handles GET /api/rounds/{id}
func (h *Handlers) HandleGetRound(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		sendError(w, http.StatusBadRequest, "Round ID is required")
		return
	}
	if h.Rounds == nil {
		sendError(w, http.StatusNotFound, "Round archive disabled")
		return
	}

	round, err := h.Rounds.GetRound(r.Context(), id)
	if errors.Is(err, db.ErrRoundNotFound) {
		sendError(w, http.StatusNotFound, "Round not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("round_id", id).Msg("failed to get round")
		sendError(w, http.StatusInternalServerError, "Failed to retrieve round")
		return
	}
	sendJSON(w, http.StatusOK, RoundResponse{Success: true, Round: round})
}

/* =========================
   HELPER FUNCTIONS
========================= */

func checkHealth(ctx context.Context, c Checker) string {
	if c == nil {
		return "disabled"
	}
	if err := c.HealthCheck(ctx); err != nil {
		return "error: " + err.Error()
	}
	return "ok"
}

func sendJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}

// sendError sends an error response
func sendError(w http.ResponseWriter, statusCode int, message string) {
	sendJSON(w, statusCode, ErrorResponse{
		Success: false,
		Error:   message,
	})
}
