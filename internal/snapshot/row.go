// Package snapshot persists task snapshots to files, terminals and databases.
package snapshot

import (
	"fmt"
	"time"

	"Go2FlowSpectra/internal/model"
)

// TimestampLayout is the format of the timestamp passed to Write.
const TimestampLayout = "2006-01-02_15-04-05"

// Row is the flat form of one aggregate used by the tabular writers. Absent
// DSRs leave their columns at the zero value.
type Row struct {
	Task        string
	WindowStart time.Time
	WindowEnd   time.Time
	Source      string
	Proto       uint8
	SrcAddr     string
	DstAddr     string
	SrcMask     uint8
	DstMask     uint8
	Sport       uint16
	Dport       uint16
	FirstSeen   time.Time
	LastSeen    time.Time
	SrcPkts     int64
	DstPkts     int64
	SrcBytes    int64
	DstBytes    int64
	Records     uint32
	Label       string
}

// NewRow flattens rec.
func NewRow(task string, g *model.SnapshotGroup, rec *model.Record) Row {
	r := Row{Task: task, WindowStart: g.Start, WindowEnd: g.End}
	if f := rec.Flow; f != nil {
		r.Proto = f.Proto
		if f.AddrLen() > 0 {
			r.SrcAddr, r.DstAddr = f.Src().String(), f.Dst().String()
			r.SrcMask, r.DstMask = f.SrcMask, f.DstMask
		}
		r.Sport, r.Dport = f.Sport, f.Dport
	}
	if t := rec.Transport; t != nil {
		r.Source = t.SourceString()
	}
	if t := rec.Time; t != nil {
		if start, end, ok := t.Bounds(); ok {
			r.FirstSeen, r.LastSeen = model.MicrosToTime(start), model.MicrosToTime(end)
		}
	}
	if m := rec.Metric; m != nil {
		r.SrcPkts, r.DstPkts = m.Src.Pkts, m.Dst.Pkts
		r.SrcBytes, r.DstBytes = m.Src.Bytes, m.Dst.Bytes
	}
	if a := rec.Agr; a != nil {
		r.Records = a.Count
	}
	if l := rec.Label; l != nil {
		r.Label = l.String()
	}
	return r
}

// Rows flattens every record of a snapshot.
func Rows(snap *model.SnapshotData) []Row {
	var rows []Row
	for i := range snap.Groups {
		g := &snap.Groups[i]
		for _, rec := range g.Records {
			rows = append(rows, NewRow(snap.TaskName, g, rec))
		}
	}
	return rows
}

func snapshotOf(payload interface{}, writer string) (*model.SnapshotData, error) {
	snap, ok := payload.(*model.SnapshotData)
	if !ok {
		return nil, fmt.Errorf("invalid payload type for %s: expected *model.SnapshotData, got %T", writer, payload)
	}
	return snap, nil
}
