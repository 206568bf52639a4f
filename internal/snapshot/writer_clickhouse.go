package snapshot

import (
	"context"
	"fmt"
	"time"

	"Go2FlowSpectra/internal/config"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	log "github.com/sirupsen/logrus"
)

const createTableStatement = `
CREATE TABLE IF NOT EXISTS %s (
    Timestamp   DateTime,
    TaskName    String,
    WindowStart DateTime64(6),
    WindowEnd   DateTime64(6),
    Source      String,
    Protocol    UInt8,
    SrcIP       String,
    DstIP       String,
    SrcMask     UInt8,
    DstMask     UInt8,
    SrcPort     UInt16,
    DstPort     UInt16,
    FirstSeen   DateTime64(6),
    LastSeen    DateTime64(6),
    SrcPackets  Int64,
    DstPackets  Int64,
    SrcBytes    Int64,
    DstBytes    Int64,
    Records     UInt32,
    Label       String
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (TaskName, Timestamp);
`

// ClickHouseWriter implements the model.Writer interface for ClickHouse.
type ClickHouseWriter struct {
	conn     driver.Conn
	table    string
	interval time.Duration
}

// NewClickHouseWriter connects to ClickHouse and ensures the aggregate table exists.
func NewClickHouseWriter(cfg config.ClickHouseConfig, interval time.Duration) (*ClickHouseWriter, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	if err := conn.Exec(context.Background(), fmt.Sprintf(createTableStatement, cfg.Table)); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	log.Println("Successfully connected to ClickHouse and ensured table exists.")

	return &ClickHouseWriter{conn: conn, table: cfg.Table, interval: interval}, nil
}

// GetInterval returns the configured snapshot interval for this writer.
func (w *ClickHouseWriter) GetInterval() time.Duration {
	return w.interval
}

func connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

// Write inserts one row per aggregate.
func (w *ClickHouseWriter) Write(payload interface{}, timestamp string) error {
	snapshot, err := snapshotOf(payload, "ClickHouseWriter")
	if err != nil {
		return err
	}
	rows := Rows(snapshot)
	if len(rows) == 0 {
		return nil // Nothing to write
	}

	batch, err := w.conn.PrepareBatch(context.Background(), "INSERT INTO "+w.table)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	snapshotTime, _ := time.Parse(TimestampLayout, timestamp)
	for _, r := range rows {
		err = batch.Append(
			snapshotTime,
			r.Task,
			r.WindowStart,
			r.WindowEnd,
			r.Source,
			r.Proto,
			r.SrcAddr,
			r.DstAddr,
			r.SrcMask,
			r.DstMask,
			r.Sport,
			r.Dport,
			r.FirstSeen,
			r.LastSeen,
			r.SrcPkts,
			r.DstPkts,
			r.SrcBytes,
			r.DstBytes,
			r.Records,
			r.Label,
		)
		if err != nil {
			return fmt.Errorf("failed to append aggregate to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	log.Printf("Wrote %d aggregates to ClickHouse for task '%s'", len(rows), snapshot.TaskName)
	return nil
}

// Close closes the ClickHouse connection.
func (w *ClickHouseWriter) Close() error {
	return w.conn.Close()
}
