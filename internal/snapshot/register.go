package snapshot

import (
	"time"

	"Go2FlowSpectra/internal/config"
	"Go2FlowSpectra/internal/factory"
	"Go2FlowSpectra/internal/model"
)

func init() {
	factory.RegisterWriter("gob", func(def config.WriterDef, interval time.Duration) (model.Writer, error) {
		return NewGobWriter(def.Gob.RootPath, interval), nil
	})
	factory.RegisterWriter("text", func(def config.WriterDef, interval time.Duration) (model.Writer, error) {
		return NewTextWriter(def.Text.RootPath, interval), nil
	})
	factory.RegisterWriter("clickhouse", func(def config.WriterDef, interval time.Duration) (model.Writer, error) {
		w, err := NewClickHouseWriter(def.ClickHouse, interval)
		if err != nil {
			return nil, err
		}
		return w, nil
	})
	factory.RegisterWriter("sqlite", func(def config.WriterDef, interval time.Duration) (model.Writer, error) {
		w, err := NewSQLiteWriter(def.SQLite, interval)
		if err != nil {
			return nil, err
		}
		return w, nil
	})
}
