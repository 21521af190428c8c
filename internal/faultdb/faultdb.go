// Package faultdb keeps the persistent fault history in SQLite.
//
// The interlock's own fault counters reset with the process; this store
// survives restarts so operators can see how often a wheelbase stalls,
// overheats or trips overcurrent across sessions.
package faultdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/wheelguard/internal/logger"
	"github.com/ppiankov/wheelguard/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS faults (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	at_ns     INTEGER NOT NULL,
	device_id TEXT    NOT NULL DEFAULT '',
	fault     TEXT    NOT NULL,
	critical  INTEGER NOT NULL,
	detail    TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS faults_at ON faults(at_ns);
CREATE INDEX IF NOT EXISTS faults_device ON faults(device_id, at_ns);
`

// Applied to every connection. WAL lets the CLI read while the daemon writes.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA temp_store=MEMORY",
}

// Record is one stored fault occurrence.
type Record struct {
	ID       int64           `json:"id"`
	At       time.Time       `json:"at"`
	DeviceID string          `json:"device_id,omitempty"`
	Fault    model.FaultType `json:"fault"`
	Critical bool            `json:"critical"`
	Detail   string          `json:"detail,omitempty"`
}

// DB is the fault history store. Safe for concurrent use.
type DB struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open opens or creates the database at path and applies the schema.
// ":memory:" opens a private in-memory database.
func Open(ctx context.Context, path string, log *slog.Logger) (*DB, error) {
	log = logger.OrDiscard(log).With("component", "faultdb")

	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("faultdb: create directory: %w", err)
		}
		dsn = "file:" + path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("faultdb: open %s: %w", path, err)
	}
	// One writer connection keeps WAL checkpoints and the in-memory
	// database on a single handle.
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("faultdb: %s: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("faultdb: apply schema: %w", err)
	}

	log.Info("fault history opened", "path", path)
	return &DB{db: db, path: path, logger: log}, nil
}

// Record stores one fault and returns its row id. A zero At is set to now.
func (d *DB) Record(ctx context.Context, r Record) (int64, error) {
	if r.Fault == "" {
		return 0, fmt.Errorf("faultdb: fault type is required")
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}

	res, err := d.db.ExecContext(ctx,
		`INSERT INTO faults (at_ns, device_id, fault, critical, detail) VALUES (?, ?, ?, ?, ?)`,
		r.At.UnixNano(), r.DeviceID, string(r.Fault), boolInt(r.Critical), r.Detail)
	if err != nil {
		return 0, fmt.Errorf("faultdb: insert: %w", err)
	}
	return res.LastInsertId()
}

// Counts returns the number of stored faults per type.
func (d *DB) Counts(ctx context.Context) (map[model.FaultType]int, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT fault, COUNT(*) FROM faults GROUP BY fault`)
	if err != nil {
		return nil, fmt.Errorf("faultdb: count: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.FaultType]int)
	for rows.Next() {
		var (
			fault string
			n     int
		)
		if err := rows.Scan(&fault, &n); err != nil {
			return nil, fmt.Errorf("faultdb: scan count: %w", err)
		}
		counts[model.FaultType(fault)] = n
	}
	return counts, rows.Err()
}

// Recent returns up to limit faults, newest first. An empty deviceID
// matches every device.
func (d *DB) Recent(ctx context.Context, deviceID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, at_ns, device_id, fault, critical, detail FROM faults`
	args := []any{}
	if deviceID != "" {
		query += ` WHERE device_id = ?`
		args = append(args, deviceID)
	}
	query += ` ORDER BY at_ns DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("faultdb: query recent: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r        Record
			atNs     int64
			fault    string
			critical int
		)
		if err := rows.Scan(&r.ID, &atNs, &r.DeviceID, &fault, &critical, &r.Detail); err != nil {
			return nil, fmt.Errorf("faultdb: scan record: %w", err)
		}
		r.At = time.Unix(0, atNs).UTC()
		r.Fault = model.FaultType(fault)
		r.Critical = critical != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune deletes faults older than before and returns how many were removed.
func (d *DB) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM faults WHERE at_ns < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("faultdb: prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n > 0 {
		d.logger.Info("pruned fault history", "removed", n, "before", before)
	}
	return n, err
}

// Close closes the database.
func (d *DB) Close() error {
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("faultdb: close %s: %w", d.path, err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
