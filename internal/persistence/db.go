// Package persistence records runs, per-tick aggregates and agent traces in
// SQLite, for analysis after the fact and for the history endpoint.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/econ-schelling/internal/engine"
	"github.com/talgya/econ-schelling/internal/metrics"
)

// ErrRunNotFound is returned when a run ID has no row.
var ErrRunNotFound = errors.New("run not found")

// DB wraps a SQLite connection for run recording.
type DB struct {
	conn *sqlx.DB
}

// Run describes one recorded simulation run.
type Run struct {
	ID         uuid.UUID `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	Seed       int64     `json:"seed"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Params     string    `json:"params"` // JSON document of the run parameters
	FinalTick  uint64    `json:"final_tick"`
	StopReason string    `json:"stop_reason,omitempty"`
}

type runRow struct {
	ID         string `db:"id"`
	StartedAt  int64  `db:"started_at"` // Unix milliseconds
	Seed       int64  `db:"seed"`
	Width      int    `db:"width"`
	Height     int    `db:"height"`
	Params     string `db:"params_json"`
	FinalTick  uint64 `db:"final_tick"`
	StopReason string `db:"stop_reason"`
}

func (r runRow) run() (Run, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return Run{}, fmt.Errorf("run id %q: %w", r.ID, err)
	}
	return Run{
		ID:         id,
		StartedAt:  time.UnixMilli(r.StartedAt).UTC(),
		Seed:       r.Seed,
		Width:      r.Width,
		Height:     r.Height,
		Params:     r.Params,
		FinalTick:  r.FinalTick,
		StopReason: r.StopReason,
	}, nil
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite allows a single writer.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		seed INTEGER NOT NULL,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		params_json TEXT NOT NULL,
		final_tick INTEGER NOT NULL DEFAULT 0,
		stop_reason TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS tick_stats (
		run_id TEXT NOT NULL REFERENCES runs(id),
		tick INTEGER NOT NULL,
		happy INTEGER NOT NULL,
		total INTEGER NOT NULL,
		relocated INTEGER NOT NULL,
		stuck INTEGER NOT NULL,
		employed INTEGER NOT NULL,
		unemployed INTEGER NOT NULL,
		fired INTEGER NOT NULL,
		hired INTEGER NOT NULL,
		low INTEGER NOT NULL,
		middle INTEGER NOT NULL,
		high INTEGER NOT NULL,
		demoted INTEGER NOT NULL,
		removed INTEGER NOT NULL,
		mean_happiness REAL NOT NULL,
		std_happiness REAL NOT NULL,
		min_happiness REAL NOT NULL,
		max_happiness REAL NOT NULL,
		same_class_share REAL NOT NULL,
		PRIMARY KEY (run_id, tick)
	);

	CREATE TABLE IF NOT EXISTS agent_traces (
		run_id TEXT NOT NULL REFERENCES runs(id),
		tick INTEGER NOT NULL,
		agent_id INTEGER NOT NULL,
		x INTEGER NOT NULL,
		y INTEGER NOT NULL,
		class INTEGER NOT NULL,
		employment INTEGER NOT NULL,
		age INTEGER NOT NULL,
		happiness REAL NOT NULL,
		PRIMARY KEY (run_id, tick, agent_id)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// runParams is the stored form of engine.Params.
type runParams struct {
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	Density           float64 `json:"density"`
	ChanceHighClass   float64 `json:"chance_high_class"`
	ChanceMiddleClass float64 `json:"chance_middle_class"`
	Zones             any     `json:"zones"`
	ZoneLayout        string  `json:"zone_layout"`
	Neighborhood      string  `json:"neighborhood"`
	Rules             any     `json:"rules"`
	Seed              int64   `json:"seed"`
}

// CreateRun registers a new run and returns its ID.
func (db *DB) CreateRun(p engine.Params) (uuid.UUID, error) {
	doc, err := json.Marshal(runParams{
		Width:             p.Width,
		Height:            p.Height,
		Density:           p.Density,
		ChanceHighClass:   p.ChanceHighClass,
		ChanceMiddleClass: p.ChanceMiddleClass,
		Zones:             p.Zones,
		ZoneLayout:        p.ZoneLayout.String(),
		Neighborhood:      fmt.Sprint(p.Neighborhood),
		Rules:             p.Rules,
		Seed:              p.Seed,
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode params: %w", err)
	}

	id := uuid.New()
	_, err = db.conn.Exec(
		"INSERT INTO runs (id, started_at, seed, width, height, params_json) VALUES (?, ?, ?, ?, ?, ?)",
		id.String(), time.Now().UnixMilli(), p.Seed, p.Width, p.Height, string(doc),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert run: %w", err)
	}
	slog.Info("run registered", "run", id, "seed", p.Seed)
	return id, nil
}

// FinishRun stores the final tick and stop reason of a run.
func (db *DB) FinishRun(id uuid.UUID, finalTick uint64, reason string) error {
	res, err := db.conn.Exec(
		"UPDATE runs SET final_tick = ?, stop_reason = ? WHERE id = ?",
		finalTick, reason, id.String(),
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetRun loads one run.
func (db *DB) GetRun(id uuid.UUID) (Run, error) {
	var row runRow
	err := db.conn.Get(&row, "SELECT * FROM runs WHERE id = ?", id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	if err != nil {
		return Run{}, err
	}
	return row.run()
}

// ListRuns returns the most recent runs, newest first.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	var rows []runRow
	if err := db.conn.Select(&rows, "SELECT * FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?", limit); err != nil {
		return nil, err
	}
	out := make([]Run, 0, len(rows))
	for _, r := range rows {
		run, err := r.run()
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

type tickRow struct {
	RunID string `db:"run_id"`
	metrics.TickRecord
}

type traceRow struct {
	RunID string `db:"run_id"`
	Tick  uint64 `db:"tick"`
	metrics.AgentTrace
}

// SaveTick writes one tick's aggregate and, when withAgents is set, every
// agent trace of that tick.
func (db *DB) SaveTick(id uuid.UUID, snap metrics.Snapshot, withAgents bool) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.NamedExec(`INSERT INTO tick_stats
		(run_id, tick, happy, total, relocated, stuck, employed, unemployed, fired, hired,
		 low, middle, high, demoted, removed,
		 mean_happiness, std_happiness, min_happiness, max_happiness, same_class_share)
		VALUES (:run_id, :tick, :happy, :total, :relocated, :stuck, :employed, :unemployed, :fired, :hired,
		 :low, :middle, :high, :demoted, :removed,
		 :mean_happiness, :std_happiness, :min_happiness, :max_happiness, :same_class_share)`,
		tickRow{RunID: id.String(), TickRecord: snap.TickRecord},
	)
	if err != nil {
		return fmt.Errorf("insert tick %d: %w", snap.Tick, err)
	}

	if withAgents && len(snap.Agents) > 0 {
		stmt, err := tx.PrepareNamed(`INSERT INTO agent_traces
			(run_id, tick, agent_id, x, y, class, employment, age, happiness)
			VALUES (:run_id, :tick, :agent_id, :x, :y, :class, :employment, :age, :happiness)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, tr := range snap.Agents {
			if _, err := stmt.Exec(traceRow{RunID: id.String(), Tick: snap.Tick, AgentTrace: tr}); err != nil {
				return fmt.Errorf("insert trace of agent %d: %w", tr.AgentID, err)
			}
		}
	}

	return tx.Commit()
}

// Recorder returns a tick callback that saves every snapshot of run id.
func (db *DB) Recorder(id uuid.UUID, withAgents bool) func(metrics.Snapshot) error {
	return func(snap metrics.Snapshot) error {
		return db.SaveTick(id, snap, withAgents)
	}
}

// HistoryQuery bounds a stats history lookup. Zero values mean unbounded.
type HistoryQuery struct {
	From  uint64
	To    uint64
	Limit int
}

// LoadStatsHistory returns the tick aggregates of a run in tick order.
func (db *DB) LoadStatsHistory(id uuid.UUID, q HistoryQuery) ([]metrics.TickRecord, error) {
	if _, err := db.GetRun(id); err != nil {
		return nil, err
	}

	to := q.To
	if to == 0 {
		to = 1<<63 - 1
	}
	limit := q.Limit
	if limit <= 0 {
		limit = -1
	}

	var records []metrics.TickRecord
	err := db.conn.Select(&records, `SELECT
		tick, happy, total, relocated, stuck, employed, unemployed, fired, hired,
		low, middle, high, demoted, removed,
		mean_happiness, std_happiness, min_happiness, max_happiness, same_class_share
		FROM tick_stats
		WHERE run_id = ? AND tick >= ? AND tick <= ?
		ORDER BY tick LIMIT ?`,
		id.String(), q.From, to, limit,
	)
	return records, err
}

// LoadAgentTraces returns every agent trace recorded for one tick, by agent ID.
func (db *DB) LoadAgentTraces(id uuid.UUID, tick uint64) ([]metrics.AgentTrace, error) {
	if _, err := db.GetRun(id); err != nil {
		return nil, err
	}
	var traces []metrics.AgentTrace
	err := db.conn.Select(&traces, `SELECT agent_id, x, y, class, employment, age, happiness
		FROM agent_traces WHERE run_id = ? AND tick = ? ORDER BY agent_id`,
		id.String(), tick,
	)
	return traces, err
}
