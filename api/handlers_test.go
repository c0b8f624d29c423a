package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bulkwars/db"
	"bulkwars/game"
)

type fakeSession struct {
	snap game.Snapshot
	err  error
}

func (f fakeSession) Snapshot(ctx context.Context) (game.Snapshot, error) {
	return f.snap, f.err
}

type fakeRounds struct {
	rounds    map[string]*db.RoundRecord
	err       error
	lastLimit int
}

func (f *fakeRounds) GetRound(ctx context.Context, roundID string) (*db.RoundRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.rounds[roundID]
	if !ok {
		return nil, db.ErrRoundNotFound
	}
	return r, nil
}

func (f *fakeRounds) GetRecentRounds(ctx context.Context, limit int) ([]*db.RoundRecord, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	out := []*db.RoundRecord{}
	for _, r := range f.rounds {
		out = append(out, r)
	}
	return out, nil
}

type fakeChecker struct{ err error }

func (f fakeChecker) HealthCheck(ctx context.Context) error { return f.err }

type fakeConn bool

func (f fakeConn) Connected() bool { return bool(f) }

func serve(t *testing.T, h *Handlers, path string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json, got %q", ct)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("bad response body %q: %v", rec.Body.String(), err)
	}
}

func TestHealthCheck(t *testing.T) {
	t.Run("all backends", func(t *testing.T) {
		h := &Handlers{
			Session:  fakeSession{snap: game.Snapshot{Phase: game.PhaseBattle, Players: 4}},
			Redis:    fakeChecker{},
			Postgres: fakeChecker{err: errors.New("connection refused")},
			NATS:     fakeConn(false),
		}
		rec := serve(t, h, "/api/health")
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", rec.Code)
		}
		var resp HealthResponse
		decode(t, rec, &resp)

		if !resp.Success || !resp.OK {
			t.Errorf("Expected success and ok, got %+v", resp)
		}
		if resp.Players != 4 || resp.Phase != game.PhaseBattle {
			t.Errorf("Expected 4 players in battle, got %d in %s", resp.Players, resp.Phase)
		}
		if resp.Redis != "ok" {
			t.Errorf("Expected redis ok, got %q", resp.Redis)
		}
		if resp.Postgres != "error: connection refused" {
			t.Errorf("Expected postgres error, got %q", resp.Postgres)
		}
		if resp.NATS != "error: disconnected" {
			t.Errorf("Expected nats disconnected, got %q", resp.NATS)
		}
	})

	t.Run("backends disabled", func(t *testing.T) {
		h := &Handlers{Session: fakeSession{snap: game.Snapshot{Phase: game.PhaseLobby}}}
		var resp HealthResponse
		decode(t, serve(t, h, "/api/health"), &resp)
		for name, got := range map[string]string{"redis": resp.Redis, "postgres": resp.Postgres, "nats": resp.NATS} {
			if got != "disabled" {
				t.Errorf("Expected %s disabled, got %q", name, got)
			}
		}
	})

	t.Run("engine stopped", func(t *testing.T) {
		h := &Handlers{Session: fakeSession{err: errors.New("stopped")}}
		rec := serve(t, h, "/api/health")
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected status 503, got %d", rec.Code)
		}
		var resp ErrorResponse
		decode(t, rec, &resp)
		if resp.Success || resp.Error == "" {
			t.Errorf("Expected an error body, got %+v", resp)
		}
	})
}

func TestGetState(t *testing.T) {
	h := &Handlers{Session: fakeSession{snap: game.Snapshot{RoundID: "r1", Phase: game.PhaseResults, Winner: game.WinnerRed}}}
	rec := serve(t, h, "/api/state")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	var body map[string]any
	decode(t, rec, &body)
	if body["roundId"] != "r1" || body["phase"] != "results" || body["winner"] != "red" {
		t.Errorf("unexpected state body %v", body)
	}
}

func TestGetRounds(t *testing.T) {
	record := &db.RoundRecord{RoundID: "r1", Winner: game.WinnerGreen, EndedAt: time.Now()}

	t.Run("default limit", func(t *testing.T) {
		store := &fakeRounds{rounds: map[string]*db.RoundRecord{"r1": record}}
		rec := serve(t, &Handlers{Rounds: store}, "/api/rounds")
		var resp RoundsResponse
		decode(t, rec, &resp)
		if store.lastLimit != 20 {
			t.Errorf("Expected limit 20, got %d", store.lastLimit)
		}
		if len(resp.Rounds) != 1 || resp.Rounds[0].RoundID != "r1" {
			t.Errorf("unexpected rounds %+v", resp.Rounds)
		}
	})

	t.Run("explicit limit", func(t *testing.T) {
		store := &fakeRounds{}
		serve(t, &Handlers{Rounds: store}, "/api/rounds?limit=5")
		if store.lastLimit != 5 {
			t.Errorf("Expected limit 5, got %d", store.lastLimit)
		}
	})

	t.Run("bad limit", func(t *testing.T) {
		for _, q := range []string{"0", "-3", "abc"} {
			rec := serve(t, &Handlers{Rounds: &fakeRounds{}}, "/api/rounds?limit="+q)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("limit=%s: expected status 400, got %d", q, rec.Code)
			}
		}
	})

	t.Run("archive disabled", func(t *testing.T) {
		rec := serve(t, &Handlers{}, "/api/rounds")
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", rec.Code)
		}
		var body map[string]any
		decode(t, rec, &body)
		rounds, ok := body["rounds"].([]any)
		if !ok || len(rounds) != 0 {
			t.Errorf("Expected an empty rounds list, got %v", body["rounds"])
		}
	})

	t.Run("store error", func(t *testing.T) {
		rec := serve(t, &Handlers{Rounds: &fakeRounds{err: errors.New("boom")}}, "/api/rounds")
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("Expected status 500, got %d", rec.Code)
		}
	})
}

func TestGetRound(t *testing.T) {
	store := &fakeRounds{rounds: map[string]*db.RoundRecord{
		"r1": {RoundID: "r1", Winner: game.WinnerDraw},
	}}

	tests := []struct {
		name   string
		h      *Handlers
		path   string
		status int
	}{
		{"found", &Handlers{Rounds: store}, "/api/rounds/r1", http.StatusOK},
		{"missing", &Handlers{Rounds: store}, "/api/rounds/nope", http.StatusNotFound},
		{"archive disabled", &Handlers{}, "/api/rounds/r1", http.StatusNotFound},
		{"store error", &Handlers{Rounds: &fakeRounds{err: errors.New("boom")}}, "/api/rounds/r1", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, tt.h, tt.path)
			if rec.Code != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, rec.Code)
			}
		})
	}

	var resp RoundResponse
	decode(t, serve(t, &Handlers{Rounds: store}, "/api/rounds/r1"), &resp)
	if resp.Round == nil || resp.Round.Winner != game.WinnerDraw {
		t.Errorf("unexpected round %+v", resp.Round)
	}
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("bulkwars_up 1\n"))
	})

	rec := serve(t, &Handlers{Metrics: metrics}, "/metrics")
	if rec.Body.String() != "bulkwars_up 1\n" {
		t.Errorf("Expected metrics body, got %q", rec.Body.String())
	}

	rec = serve(t, &Handlers{}, "/metrics")
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 without metrics, got %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	mux := http.NewServeMux()
	(&Handlers{}).Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/state", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", rec.Code)
	}
}
