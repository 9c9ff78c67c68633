// Package api provides the HTTP API for observing a running simulation.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/econ-schelling/internal/agents"
	"github.com/talgya/econ-schelling/internal/engine"
	"github.com/talgya/econ-schelling/internal/metrics"
	"github.com/talgya/econ-schelling/internal/persistence"
	"github.com/talgya/econ-schelling/internal/world"
)

// maxSpeed caps the pacing multiplier accepted over HTTP.
const maxSpeed = 1000

// Server serves the simulation state over HTTP.
type Server struct {
	Eng      *engine.Engine
	DB       *persistence.DB // Optional; history endpoint is unavailable without it
	RunID    uuid.UUID       // Run recorded in DB, if any
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.

	// HeavyLimit throttles the full-grid and history endpoints. Nil disables limiting.
	HeavyLimit *RateLimiter

	srv *http.Server
}

// Handler builds the API routes.
func (s *Server) Handler() http.Handler {
	heavy := func(h http.HandlerFunc) http.HandlerFunc {
		if s.HeavyLimit == nil {
			return h
		}
		return RateLimitMiddleware(s.HeavyLimit, h)
	}

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/grid", heavy(s.handleGrid))
	mux.HandleFunc("/api/v1/cell/", s.handleCell)
	mux.HandleFunc("/api/v1/metrics", s.handleMetricsRoutes)
	mux.HandleFunc("/api/v1/metrics/", s.handleMetricsRoutes)
	mux.HandleFunc("/api/v1/stats/history", heavy(s.handleStatsHistory))

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("/api/v1/speed", s.adminOnly(s.handleSpeed))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "", "history", s.DB != nil)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops a server started with Start.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS env var to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
		"http://localhost:8521": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth on POST requests.
// GET requests pass through (for endpoints that support both GET and POST).
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no SCHELLING_ADMIN_KEY set)", http.StatusForbidden)
				return
			}

			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}

		next(w, r)
	}
}

type agentView struct {
	ID              agents.AgentID    `json:"id"`
	Class           agents.ClassTier  `json:"class"`
	Age             uint8             `json:"age"`
	Employment      agents.Employment `json:"employment"`
	StepsUnemployed int               `json:"steps_unemployed"`
	Happiness       float64           `json:"happiness"`
}

func viewOf(a *agents.Agent) *agentView {
	if a == nil {
		return nil
	}
	return &agentView{
		ID:              a.ID,
		Class:           a.Class,
		Age:             a.Age,
		Employment:      a.Employment,
		StepsUnemployed: a.StepsUnemployed,
		Happiness:       a.Happiness,
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"name":    "econ-schelling",
		"speed":   s.Eng.Speed(),
		"running": s.Eng.Running(),
	}
	if s.RunID != uuid.Nil {
		status["run_id"] = s.RunID
	}
	s.Eng.View(func(sim *engine.Simulation) {
		p := sim.Params()
		zc := sim.ZoneCounts()
		status["tick"] = sim.Tick()
		status["converged"] = !sim.Running()
		status["seed"] = p.Seed
		status["width"] = p.Width
		status["height"] = p.Height
		status["agents"] = sim.TotalAgentCount()
		status["happy"] = sim.HappyCount()
		status["happiness_threshold"] = p.Rules.HappinessThreshold
		status["zones"] = map[string]int{
			world.ZoneResidential.String(): zc[world.ZoneResidential],
			world.ZoneCommercial.String():  zc[world.ZoneCommercial],
			world.ZoneIndustrial.String():  zc[world.ZoneIndustrial],
		}
	})
	writeJSON(w, status)
}

// handleGrid returns every cell with its zone and occupant, row-major, for
// renderers that color cells by zone and agents by class.
func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request) {
	type cellEntry struct {
		X     int        `json:"x"`
		Y     int        `json:"y"`
		Zone  world.Zone `json:"zone"`
		Agent *agentView `json:"agent,omitempty"`
	}

	var (
		width, height int
		tick          uint64
		cells         []cellEntry
	)
	s.Eng.View(func(sim *engine.Simulation) {
		width, height, tick = sim.Width(), sim.Height(), sim.Tick()
		cells = make([]cellEntry, 0, width*height)
		for p, a := range sim.Cells() {
			zone, _ := sim.ZoneAt(p)
			cells = append(cells, cellEntry{X: p.X, Y: p.Y, Zone: zone, Agent: viewOf(a)})
		}
	})

	writeJSON(w, map[string]any{
		"tick":   tick,
		"width":  width,
		"height": height,
		"cells":  cells,
	})
}

func (s *Server) handleCell(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	// /api/v1/cell/:x/:y → parts[0]="" [1]="api" [2]="v1" [3]="cell" [4]=x [5]=y
	if len(parts) < 6 {
		http.Error(w, "usage: /api/v1/cell/:x/:y", http.StatusBadRequest)
		return
	}
	x, err1 := strconv.Atoi(parts[4])
	y, err2 := strconv.Atoi(parts[5])
	if err1 != nil || err2 != nil {
		http.Error(w, "invalid coordinates", http.StatusBadRequest)
		return
	}
	pos := world.Pos{X: x, Y: y}

	var (
		found     bool
		zone      world.Zone
		occupant  *agentView
		neighbors []*agentView
	)
	s.Eng.View(func(sim *engine.Simulation) {
		if zone, found = sim.ZoneAt(pos); !found {
			return
		}
		if a, ok := sim.AgentAt(pos); ok {
			occupant = viewOf(a)
		}
		neighbors = []*agentView{}
		for n := range sim.Neighbors(pos) {
			neighbors = append(neighbors, viewOf(n))
		}
	})
	if !found {
		http.Error(w, "cell not found", http.StatusNotFound)
		return
	}

	writeJSON(w, map[string]any{
		"x":         pos.X,
		"y":         pos.Y,
		"zone":      zone,
		"agent":     occupant,
		"neighbors": neighbors,
	})
}

// handleMetricsRoutes dispatches between the series (GET /api/v1/metrics) and
// one tick's snapshot (GET /api/v1/metrics/:tick).
func (s *Server) handleMetricsRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/metrics"), "/")
	if path == "" {
		var series []metrics.TickRecord
		s.Eng.View(func(sim *engine.Simulation) { series = sim.Metrics().Series() })
		writeJSON(w, series)
		return
	}

	tick, err := strconv.ParseUint(path, 10, 64)
	if err != nil {
		http.Error(w, "invalid tick", http.StatusBadRequest)
		return
	}
	var (
		snap metrics.Snapshot
		ok   bool
	)
	s.Eng.View(func(sim *engine.Simulation) { snap, ok = sim.Metrics().Snapshot(tick) })
	if !ok {
		http.Error(w, "tick not recorded", http.StatusNotFound)
		return
	}
	writeJSON(w, snap)
}

func (s *Server) handleStatsHistory(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}

	runID := s.RunID
	q := persistence.HistoryQuery{Limit: 30}

	if v := r.URL.Query().Get("run"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			http.Error(w, "invalid run id", http.StatusBadRequest)
			return
		}
		runID = id
	}
	if f := r.URL.Query().Get("from"); f != "" {
		if v, err := strconv.ParseUint(f, 10, 64); err == nil {
			q.From = v
		}
	}
	if t := r.URL.Query().Get("to"); t != "" {
		if v, err := strconv.ParseUint(t, 10, 64); err == nil {
			q.To = v
		}
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 1000 {
			q.Limit = v
		}
	}

	rows, err := s.DB.LoadStatsHistory(runID, q)
	if errors.Is(err, persistence.ErrRunNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("stats history query failed", "run", runID, "error", err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []metrics.TickRecord{}
	}
	writeJSON(w, rows)
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed < 0 || req.Speed > maxSpeed {
			http.Error(w, fmt.Sprintf("speed must be 0-%d", maxSpeed), http.StatusBadRequest)
			return
		}
		s.Eng.SetSpeed(req.Speed)
		slog.Info("speed changed", "speed", req.Speed)
	}

	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		slog.Debug("response encode failed", "error", err)
	}
}
