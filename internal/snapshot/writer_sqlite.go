package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"Go2FlowSpectra/internal/config"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS %[1]s (
	snapshot     TEXT,
	task         TEXT,
	window_start INTEGER,
	window_end   INTEGER,
	source       TEXT,
	proto        INTEGER,
	src_addr     TEXT,
	dst_addr     TEXT,
	src_mask     INTEGER,
	dst_mask     INTEGER,
	src_port     INTEGER,
	dst_port     INTEGER,
	first_seen   INTEGER,
	last_seen    INTEGER,
	src_pkts     INTEGER,
	dst_pkts     INTEGER,
	src_bytes    INTEGER,
	dst_bytes    INTEGER,
	records      INTEGER,
	label        TEXT
);
CREATE INDEX IF NOT EXISTS idx_%[1]s_task ON %[1]s(task, snapshot);
`

const sqliteInsert = `
INSERT INTO %s (
	snapshot, task, window_start, window_end, source, proto, src_addr, dst_addr,
	src_mask, dst_mask, src_port, dst_port, first_seen, last_seen,
	src_pkts, dst_pkts, src_bytes, dst_bytes, records, label
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`

// SQLiteWriter stores aggregates in a local SQLite database. Times are stored
// as microseconds since the epoch.
type SQLiteWriter struct {
	db       *sql.DB
	table    string
	interval time.Duration
}

// NewSQLiteWriter opens the database at cfg.Path and creates the table.
func NewSQLiteWriter(cfg config.SQLiteConfig, interval time.Duration) (*SQLiteWriter, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf(sqliteSchema, cfg.Table)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return &SQLiteWriter{db: db, table: cfg.Table, interval: interval}, nil
}

func (w *SQLiteWriter) GetInterval() time.Duration {
	return w.interval
}

// Write inserts one row per aggregate in a single transaction.
func (w *SQLiteWriter) Write(payload interface{}, timestamp string) error {
	snapshot, err := snapshotOf(payload, "SQLiteWriter")
	if err != nil {
		return err
	}
	rows := Rows(snapshot)
	if len(rows) == 0 {
		return nil
	}

	ctx := context.Background()
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(sqliteInsert, w.table))
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	us := func(t time.Time) int64 {
		if t.IsZero() {
			return 0
		}
		return t.UnixMicro()
	}
	for _, r := range rows {
		_, err := stmt.ExecContext(ctx,
			timestamp, r.Task, us(r.WindowStart), us(r.WindowEnd), r.Source, r.Proto,
			r.SrcAddr, r.DstAddr, r.SrcMask, r.DstMask, r.Sport, r.Dport,
			us(r.FirstSeen), us(r.LastSeen),
			r.SrcPkts, r.DstPkts, r.SrcBytes, r.DstBytes, r.Records, r.Label,
		)
		if err != nil {
			return fmt.Errorf("failed to insert aggregate: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	log.WithFields(log.Fields{"task": snapshot.TaskName, "rows": len(rows)}).Debug("wrote aggregates to sqlite")
	return nil
}

// Close closes the database.
func (w *SQLiteWriter) Close() error {
	return w.db.Close()
}
