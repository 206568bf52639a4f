package snapshot

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"Go2FlowSpectra/internal/engine/protocol"
	"Go2FlowSpectra/internal/model"
)

// SummaryData holds the metadata for a snapshot.
type SummaryData struct {
	TaskName     string `json:"task_name"`
	TotalRecords int    `json:"total_records"`
	TotalPackets int64  `json:"total_packets"`
	TotalBytes   int64  `json:"total_bytes"`
	Groups       int    `json:"groups"`
	Timestamp    string `json:"timestamp"`
}

// Frame is the gob form of one snapshot group. Records are kept in their wire
// encoding so a frame can be read back by any decoder.
type Frame struct {
	Start   time.Time
	End     time.Time
	Records [][]byte
}

// GobWriter handles writing snapshot data to disk. It implements the
// model.Writer interface.
type GobWriter struct {
	rootPath string
	interval time.Duration
}

// NewGobWriter creates a new gob snapshot writer.
func NewGobWriter(rootPath string, interval time.Duration) *GobWriter {
	return &GobWriter{rootPath: rootPath, interval: interval}
}

// GetInterval returns the configured snapshot interval for this writer.
func (w *GobWriter) GetInterval() time.Duration {
	return w.interval
}

// Write serializes a single task snapshot into a timestamped directory, one
// .dat file per non-empty group plus a summary.json.
func (w *GobWriter) Write(payload interface{}, timestamp string) error {
	snapshot, err := snapshotOf(payload, "GobWriter")
	if err != nil {
		return err
	}

	// Let's make a subdirectory for the task to avoid file name collisions
	taskDir := filepath.Join(w.rootPath, timestamp, snapshot.TaskName)
	if err := os.MkdirAll(taskDir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	for i, g := range snapshot.Groups {
		if len(g.Records) == 0 {
			continue
		}
		frame := Frame{Start: g.Start, End: g.End, Records: make([][]byte, 0, len(g.Records))}
		for _, rec := range g.Records {
			buf, err := protocol.Encode(rec)
			if err != nil {
				return fmt.Errorf("failed to encode record for task '%s': %w", snapshot.TaskName, err)
			}
			frame.Records = append(frame.Records, buf)
		}
		filePath := filepath.Join(taskDir, fmt.Sprintf("group_%d.dat", i))
		if err := writeFrame(filePath, &frame); err != nil {
			return err
		}
	}

	records, pkts, bytes := snapshot.Totals()
	if records == 0 {
		return nil
	}
	summary := SummaryData{
		TaskName:     snapshot.TaskName,
		TotalRecords: records,
		TotalPackets: pkts,
		TotalBytes:   bytes,
		Groups:       len(snapshot.Groups),
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}
	summaryFile, err := os.Create(filepath.Join(taskDir, "summary.json"))
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer summaryFile.Close()

	jsonEncoder := json.NewEncoder(summaryFile)
	jsonEncoder.SetIndent("", "  ")
	if err := jsonEncoder.Encode(summary); err != nil {
		return fmt.Errorf("failed to encode summary to json: %w", err)
	}
	return nil
}

func writeFrame(path string, frame *Frame) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file '%s': %w", path, err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(frame); err != nil {
		return fmt.Errorf("failed to encode records to gob for file '%s': %w", path, err)
	}
	return nil
}

// ReadFrame loads a .dat file written by GobWriter and decodes its records.
// Records pass through the wire format, so statistic means and deviations come
// back rounded to whole microseconds.
func ReadFrame(path string) (*model.SnapshotGroup, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var frame Frame
	if err := gob.NewDecoder(file).Decode(&frame); err != nil {
		return nil, fmt.Errorf("failed to decode gob file '%s': %w", path, err)
	}

	dec := protocol.NewDecoder(protocol.Options{SkipCorrection: true})
	g := &model.SnapshotGroup{Start: frame.Start, End: frame.End}
	for i, buf := range frame.Records {
		rec := model.NewRecord()
		if _, err := dec.Decode(buf, rec); err != nil {
			return nil, fmt.Errorf("record %d of '%s': %w", i, path, err)
		}
		g.Records = append(g.Records, rec)
	}
	return g, nil
}
