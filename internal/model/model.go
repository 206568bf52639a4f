package model

import (
	"time"
)

// SnapshotGroup is a set of aggregate records sharing one reporting window.
// Aggregation tasks produce a single group; binning tasks produce one group per bin.
type SnapshotGroup struct {
	Start   time.Time
	End     time.Time
	Records []*Record
}

// SnapshotData represents the full snapshot for a single task.
// This is the data structure returned by a Task's Snapshot() method.
type SnapshotData struct {
	TaskName string
	Groups   []SnapshotGroup
}

// Totals sums the records and counters across every group.
func (s *SnapshotData) Totals() (records int, pkts, bytes int64) {
	for _, g := range s.Groups {
		for _, rec := range g.Records {
			records++
			if m := rec.Metric; m != nil {
				pkts += m.Src.Pkts + m.Dst.Pkts
				bytes += m.Src.Bytes + m.Dst.Bytes
			}
		}
	}
	return records, pkts, bytes
}

// MicrosToTime converts a microsecond epoch timestamp to time.Time.
func MicrosToTime(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}
