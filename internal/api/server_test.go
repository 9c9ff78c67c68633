package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/econ-schelling/internal/agents"
	"github.com/talgya/econ-schelling/internal/engine"
	"github.com/talgya/econ-schelling/internal/metrics"
	"github.com/talgya/econ-schelling/internal/persistence"
	"github.com/talgya/econ-schelling/internal/world"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	p := engine.DefaultParams()
	p.Width, p.Height = 5, 4
	p.Seed = 8
	p.Rules.HappinessThreshold = 1e6
	sim, err := engine.NewSimulation(p)
	require.NoError(t, err)
	return &Server{
		Eng:      engine.NewEngine(sim, engine.EngineConfig{Speed: 1}),
		AdminKey: "secret",
	}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStatus(t *testing.T) {
	s := newTestServer(t)
	s.Eng.Step()

	rec := get(t, s.Handler(), "/api/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 1, body["tick"])
	assert.EqualValues(t, 5, body["width"])
	assert.EqualValues(t, 8, body["seed"])
	assert.Equal(t, false, body["converged"])
	assert.Contains(t, body["zones"], "residential")
}

func TestGrid(t *testing.T) {
	s := newTestServer(t)

	rec := get(t, s.Handler(), "/api/v1/grid")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Width  int `json:"width"`
		Height int `json:"height"`
		Cells  []struct {
			X     int    `json:"x"`
			Y     int    `json:"y"`
			Zone  string `json:"zone"`
			Agent *struct {
				ID    uint64 `json:"id"`
				Class string `json:"class"`
			} `json:"agent"`
		} `json:"cells"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Cells, 20)
	assert.Equal(t, 1, body.Cells[1].X)
	assert.Equal(t, 0, body.Cells[1].Y)

	occupied := 0
	for _, c := range body.Cells {
		_, err := world.ParseZone(c.Zone)
		assert.NoError(t, err)
		if c.Agent != nil {
			occupied++
			var class agents.ClassTier
			assert.NoError(t, class.UnmarshalText([]byte(c.Agent.Class)))
		}
	}
	s.Eng.View(func(sim *engine.Simulation) {
		assert.Equal(t, sim.TotalAgentCount(), occupied)
	})
}

func TestCell(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	rec := get(t, h, "/api/v1/cell/2/3")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 2, body["x"])
	assert.EqualValues(t, 3, body["y"])
	assert.NotEmpty(t, body["zone"])
	assert.NotNil(t, body["neighbors"])

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/v1/cell/5/0").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/v1/cell/-1/0").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/v1/cell/a/b").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/v1/cell/1").Code)
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()
	for i := 0; i < 3; i++ {
		s.Eng.Step()
	}

	rec := get(t, h, "/api/v1/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	var series []metrics.TickRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &series))
	require.Len(t, series, 3)
	assert.Equal(t, uint64(3), series[2].Tick)

	rec = get(t, h, "/api/v1/metrics/2")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap metrics.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, uint64(2), snap.Tick)
	assert.Len(t, snap.Agents, snap.Total)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/v1/metrics/40").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/v1/metrics/abc").Code)
}

func TestStatsHistory(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, s.Handler(), "/api/v1/stats/history").Code)

	db, err := persistence.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var params engine.Params
	s.Eng.View(func(sim *engine.Simulation) { params = sim.Params() })
	s.RunID, err = db.CreateRun(params)
	require.NoError(t, err)
	s.DB = db

	rec := db.Recorder(s.RunID, false)
	for i := 0; i < 5; i++ {
		require.NoError(t, rec(s.Eng.Step()))
	}

	h := s.Handler()
	resp := get(t, h, "/api/v1/stats/history?from=2&to=4")
	require.Equal(t, http.StatusOK, resp.Code)
	var rows []metrics.TickRecord
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &rows))
	require.Len(t, rows, 3)
	assert.Equal(t, uint64(2), rows[0].Tick)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/v1/stats/history?run="+uuid.NewString()).Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/v1/stats/history?run=nope").Code)
}

func TestSpeed(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	post := func(body, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/speed", strings.NewReader(body))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, post(`{"speed": 5}`, "").Code)
	assert.Equal(t, http.StatusUnauthorized, post(`{"speed": 5}`, "wrong").Code)
	assert.Equal(t, http.StatusBadRequest, post(`{"speed": -1}`, "secret").Code)
	assert.Equal(t, http.StatusBadRequest, post(`not json`, "secret").Code)

	rec := post(`{"speed": 5}`, "secret")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5.0, s.Eng.Speed())

	rec = get(t, h, "/api/v1/speed")
	assert.JSONEq(t, `{"speed": 5}`, rec.Body.String())

	s.AdminKey = ""
	assert.Equal(t, http.StatusForbidden, post(`{"speed": 1}`, "secret").Code)
}

func TestCORS(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/status", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t)
	s.HeavyLimit = NewRateLimiter(2, time.Hour)
	h := s.Handler()

	assert.Equal(t, http.StatusOK, get(t, h, "/api/v1/grid").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/api/v1/grid").Code)
	rec := get(t, h, "/api/v1/grid")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Light endpoints are not limited.
	assert.Equal(t, http.StatusOK, get(t, h, "/api/v1/status").Code)
}

func TestRateLimiter_WindowResets(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(1, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))
	assert.Equal(t, 61, rl.RetryAfter("10.0.0.1"))

	now = now.Add(time.Minute)
	assert.True(t, rl.Allow("10.0.0.1"))
}

func TestClientIP(t *testing.T) {
	rl := NewRateLimiter(10, time.Minute)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:5555"
	assert.Equal(t, "192.0.2.7", rl.clientIP(req))

	// Forwarded headers from an untrusted peer are ignored.
	req.Header.Set("X-Forwarded-For", "203.0.113.4, 10.0.0.1")
	assert.Equal(t, "192.0.2.7", rl.clientIP(req))

	rl.TrustProxies("192.0.2.7", "10.0.0.1")
	assert.Equal(t, "203.0.113.4", rl.clientIP(req))

	req.Header.Set("X-Forwarded-For", "198.51.100.1, 203.0.113.4, 10.0.0.1")
	assert.Equal(t, "203.0.113.4", rl.clientIP(req), "spoofed leftmost hop")
}

func TestRateLimit_ForwardedHeaderDoesNotEvade(t *testing.T) {
	s := newTestServer(t)
	s.HeavyLimit = NewRateLimiter(1, time.Hour)
	h := s.Handler()

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/grid", nil)
		req.Header.Set("X-Forwarded-For", "198.51.100."+strconv.Itoa(i))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, "request %d", i)
	}
}
