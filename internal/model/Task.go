package model

import "time"

// Task defines a single, self-contained aggregation task (e.g., flow aggregation, time bins).
// This is the interface for the "execution layer".
type Task interface {
	ProcessRecord(rec *Record)
	Snapshot() interface{}
	Reset()
	Name() string
}

// Maintainer is implemented by tasks that need periodic housekeeping, such as
// flushing idle aggregates or sliding a bin window forward.
type Maintainer interface {
	Maintain(now time.Time)
}
