package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/api"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/clock"
)

// SQLiteRecorder stores records in a single SQLite table.
type SQLiteRecorder struct {
	db       *sql.DB
	dbPath   string
	clock    clock.Clock
	mutex    sync.RWMutex
	prepared map[string]*sql.Stmt
}

// NewSQLiteRecorder opens (and creates when needed) the database at dbPath
func NewSQLiteRecorder(dbPath string, clk clock.Clock) (*SQLiteRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	r := &SQLiteRecorder{
		db:       db,
		dbPath:   dbPath,
		clock:    clock.OrReal(clk),
		prepared: make(map[string]*sql.Stmt),
	}

	if err := r.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	if err := r.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	return r, nil
}

func (r *SQLiteRecorder) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS prediction_history (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		created_at INTEGER NOT NULL, -- unix nanoseconds, UTC
		success INTEGER NOT NULL,
		error TEXT,
		hours_ahead INTEGER,
		points INTEGER,
		mean REAL,
		max REAL,
		min REAL,
		trend TEXT,
		predicted_kwh REAL,
		confidence TEXT,
		band TEXT,
		input TEXT -- JSON blob of the prediction input
	);

	CREATE INDEX IF NOT EXISTS idx_kind_created_at ON prediction_history(kind, created_at);
	CREATE INDEX IF NOT EXISTS idx_created_at ON prediction_history(created_at);
	`

	_, err := r.db.Exec(schema)
	return err
}

const selectColumns = `id, kind, created_at, success, error, hours_ahead, points, mean, max, min,
		trend, predicted_kwh, confidence, band, input`

func (r *SQLiteRecorder) prepareStatements() error {
	statements := map[string]string{
		"insert": `
			INSERT INTO prediction_history (` + selectColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
		"select_recent": `
			SELECT ` + selectColumns + `
			FROM prediction_history
			ORDER BY created_at DESC
			LIMIT ?
		`,
		"select_recent_kind": `
			SELECT ` + selectColumns + `
			FROM prediction_history
			WHERE kind = ?
			ORDER BY created_at DESC
			LIMIT ?
		`,
		"cleanup": `
			DELETE FROM prediction_history
			WHERE created_at < ?
		`,
	}

	for name, query := range statements {
		stmt, err := r.db.Prepare(query)
		if err != nil {
			return fmt.Errorf("failed to prepare statement %s: %w", name, err)
		}
		r.prepared[name] = stmt
	}

	return nil
}

// Record stores one outcome
func (r *SQLiteRecorder) Record(ctx context.Context, rec Record) error {
	if err := prepare(&rec, r.clock); err != nil {
		return err
	}

	var input sql.NullString
	if rec.Input != nil {
		data, err := json.Marshal(rec.Input)
		if err != nil {
			return fmt.Errorf("failed to marshal prediction input: %w", err)
		}
		input = sql.NullString{String: string(data), Valid: true}
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	_, err := r.prepared["insert"].ExecContext(ctx,
		rec.ID,
		string(rec.Kind),
		rec.CreatedAt.UnixNano(),
		rec.Success,
		rec.Error,
		rec.HoursAhead,
		rec.Points,
		rec.Mean,
		rec.Max,
		rec.Min,
		rec.Trend,
		rec.PredictedKWh,
		rec.Confidence,
		rec.Band,
		input,
	)
	if err != nil {
		klog.V(2).InfoS("Failed to store history record", "err", err, "kind", rec.Kind)
		return fmt.Errorf("failed to store record: %w", err)
	}

	klog.V(3).InfoS("Stored history record", "id", rec.ID, "kind", rec.Kind, "success", rec.Success)
	return nil
}

// Recent returns the newest records first
func (r *SQLiteRecorder) Recent(ctx context.Context, kind Kind, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}

	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var (
		rows *sql.Rows
		err  error
	)
	if kind == "" {
		rows, err = r.prepared["select_recent"].QueryContext(ctx, limit)
	} else {
		rows, err = r.prepared["select_recent_kind"].QueryContext(ctx, string(kind), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	return scanRows(rows)
}

func scanRows(rows *sql.Rows) ([]Record, error) {
	var records []Record

	for rows.Next() {
		var (
			rec        Record
			kind       string
			createdAt  int64
			errMsg     sql.NullString
			trend      sql.NullString
			confidence sql.NullString
			band       sql.NullString
			input      sql.NullString
		)
		err := rows.Scan(
			&rec.ID,
			&kind,
			&createdAt,
			&rec.Success,
			&errMsg,
			&rec.HoursAhead,
			&rec.Points,
			&rec.Mean,
			&rec.Max,
			&rec.Min,
			&trend,
			&rec.PredictedKWh,
			&confidence,
			&band,
			&input,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		rec.Kind = Kind(kind)
		rec.CreatedAt = time.Unix(0, createdAt).UTC()
		rec.Error = errMsg.String
		rec.Trend = trend.String
		rec.Confidence = confidence.String
		rec.Band = band.String

		if input.Valid && input.String != "" {
			var in api.PredictionInput
			if err := json.Unmarshal([]byte(input.String), &in); err != nil {
				klog.V(2).InfoS("Failed to unmarshal stored prediction input", "id", rec.ID, "err", err)
			} else {
				rec.Input = &in
			}
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

// Cleanup removes records older than retention
func (r *SQLiteRecorder) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	cutoff := r.clock.Now().Add(-retention)
	result, err := r.prepared["cleanup"].ExecContext(ctx, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old records: %w", err)
	}

	deleted, _ := result.RowsAffected()
	klog.V(2).InfoS("Cleaned up old history records", "cutoff", cutoff, "rowsDeleted", deleted)

	return deleted, nil
}

// Close releases the prepared statements and the database
func (r *SQLiteRecorder) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, stmt := range r.prepared {
		stmt.Close()
	}

	return r.db.Close()
}
