package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yalochat/sdlc-assistant/internal/engine"
)

// ErrRunNotFound is returned when a run id has no journal row.
var ErrRunNotFound = errors.New("run not found")

// SQLiteStore implements Store using SQLite via modernc.org/sqlite (pure Go).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at path and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Single writer; avoids SQLITE_BUSY between the engine and HTTP readers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------- Run lifecycle ----------

func (s *SQLiteStore) CreateRun(state *engine.State) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO runs (id, stage, stage_status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		state.RunID, string(state.Stage), string(state.StageStatus), state.CreatedAt.UTC(), state.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if state.Artifacts != nil {
		for key, value := range state.Artifacts.Snapshot() {
			if _, err := tx.Exec(
				`INSERT INTO artifacts (run_id, key, value) VALUES (?, ?, ?)`,
				state.RunID, key, value,
			); err != nil {
				return fmt.Errorf("insert artifact %s: %w", key, err)
			}
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetRun(runID string) (*RunSummary, error) {
	row := s.db.QueryRow(`
		SELECT r.id, r.stage, r.stage_status, r.created_at, r.updated_at,
		       (SELECT COUNT(*) FROM artifacts a WHERE a.run_id = r.id)
		FROM runs r WHERE r.id = ?`, runID)

	var rs RunSummary
	if err := row.Scan(&rs.ID, &rs.Stage, &rs.Status, &rs.CreatedAt, &rs.UpdatedAt, &rs.ArtifactCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &rs, nil
}

func (s *SQLiteStore) ListRuns() ([]RunSummary, error) {
	rows, err := s.db.Query(`
		SELECT r.id, r.stage, r.stage_status, r.created_at, r.updated_at,
		       (SELECT COUNT(*) FROM artifacts a WHERE a.run_id = r.id)
		FROM runs r ORDER BY r.created_at DESC, r.id`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var rs RunSummary
		if err := rows.Scan(&rs.ID, &rs.Stage, &rs.Status, &rs.CreatedAt, &rs.UpdatedAt, &rs.ArtifactCount); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, rs)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) DeleteRun(runID string) error {
	res, err := s.db.Exec(`DELETE FROM runs WHERE id = ?`, runID)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

func (s *SQLiteStore) SaveRunMeta(runID string, stage engine.Stage, status engine.StageStatus) error {
	_, err := s.db.Exec(
		`UPDATE runs SET stage=?, stage_status=?, updated_at=? WHERE id=?`,
		string(stage), string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return fmt.Errorf("save run meta: %w", err)
	}
	return nil
}

// ---------- Artifacts ----------

func (s *SQLiteStore) SaveArtifact(runID string, key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO artifacts (run_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id, key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		runID, key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save artifact %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) LoadArtifacts(runID string) (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM artifacts WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("load artifacts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		out[key] = value
	}
	return out, rows.Err()
}

// ---------- Metrics ----------

func (s *SQLiteStore) RecordMetric(runID string, entry engine.MetricsEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO metrics_entries (run_id, timestamp, agent, model, tokens_in, tokens_out, duration_ms, stage)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, entry.Timestamp.UTC(), entry.Agent, entry.Model,
		entry.TokensIn, entry.TokensOut, entry.Duration, string(entry.Stage),
	)
	if err != nil {
		return fmt.Errorf("record metric: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecordStageTiming(runID string, stage engine.Stage, durationMs int64) error {
	_, err := s.db.Exec(`
		INSERT INTO stage_timings (run_id, stage, duration_ms) VALUES (?, ?, ?)
		ON CONFLICT(run_id, stage) DO UPDATE SET duration_ms=excluded.duration_ms`,
		runID, string(stage), durationMs,
	)
	if err != nil {
		return fmt.Errorf("record stage timing: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadMetricsAggregate(runID string) (engine.MetricsState, error) {
	ms := engine.MetricsState{
		ByAgent:      make(map[string]engine.Usage),
		StageTimings: make(map[string]int64),
	}

	err := s.db.QueryRow(
		`SELECT COALESCE(SUM(tokens_in),0), COALESCE(SUM(tokens_out),0) FROM metrics_entries WHERE run_id=?`,
		runID,
	).Scan(&ms.TokensIn, &ms.TokensOut)
	if err != nil {
		return ms, fmt.Errorf("sum tokens: %w", err)
	}

	rows, err := s.db.Query(`
		SELECT agent, SUM(tokens_in), SUM(tokens_out), COUNT(*)
		FROM metrics_entries WHERE run_id=? GROUP BY agent`, runID)
	if err != nil {
		return ms, fmt.Errorf("aggregate by agent: %w", err)
	}
	for rows.Next() {
		var agent string
		var u engine.Usage
		if err := rows.Scan(&agent, &u.TokensIn, &u.TokensOut, &u.Calls); err != nil {
			rows.Close()
			return ms, fmt.Errorf("scan usage: %w", err)
		}
		ms.ByAgent[agent] = u
	}
	rows.Close()

	tRows, err := s.db.Query(`SELECT stage, duration_ms FROM stage_timings WHERE run_id=?`, runID)
	if err != nil {
		return ms, fmt.Errorf("load stage timings: %w", err)
	}
	defer tRows.Close()
	for tRows.Next() {
		var stage string
		var ms2 int64
		if err := tRows.Scan(&stage, &ms2); err != nil {
			return ms, fmt.Errorf("scan stage timing: %w", err)
		}
		ms.StageTimings[stage] = ms2
	}
	return ms, tRows.Err()
}

// ---------- Executions ----------

func (s *SQLiteStore) CreateExecution(rec engine.ExecutionRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO executions (id, run_id, stage, decision, status, tokens_in, tokens_out, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status, tokens_in=excluded.tokens_in, tokens_out=excluded.tokens_out,
			error_message=excluded.error_message, updated_at=excluded.updated_at`,
		rec.ID, rec.RunID, string(rec.Stage), string(rec.Decision), string(rec.Status),
		rec.TokensIn, rec.TokensOut, rec.ErrorMessage, rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateExecution(rec engine.ExecutionRecord) error {
	_, err := s.db.Exec(`
		UPDATE executions SET stage=?, status=?, tokens_in=?, tokens_out=?, error_message=?, updated_at=?
		WHERE id=?`,
		string(rec.Stage), string(rec.Status), rec.TokensIn, rec.TokensOut, rec.ErrorMessage, rec.UpdatedAt.UTC(), rec.ID,
	)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListExecutions(runID string) ([]engine.ExecutionRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, stage, decision, status, tokens_in, tokens_out, error_message, created_at, updated_at
		FROM executions WHERE run_id=? ORDER BY created_at, rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []engine.ExecutionRecord
	for rows.Next() {
		var rec engine.ExecutionRecord
		var stage, decision, status string
		if err := rows.Scan(&rec.ID, &rec.RunID, &stage, &decision, &status,
			&rec.TokensIn, &rec.TokensOut, &rec.ErrorMessage, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		rec.Stage = engine.Stage(stage)
		rec.Decision = engine.DecisionKind(decision)
		rec.Status = engine.ExecutionStatus(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}
