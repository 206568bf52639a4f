package snapshot

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"Go2FlowSpectra/internal/model"

	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
)

// TextWriter renders snapshots as text tables, either into a flows.txt per task
// under rootPath or to standard output when rootPath is empty.
type TextWriter struct {
	rootPath string
	interval time.Duration
	out      io.Writer
}

// NewTextWriter creates a new text table writer.
func NewTextWriter(rootPath string, interval time.Duration) *TextWriter {
	return &TextWriter{rootPath: rootPath, interval: interval, out: os.Stdout}
}

func (w *TextWriter) GetInterval() time.Duration {
	return w.interval
}

func (w *TextWriter) Write(payload interface{}, timestamp string) error {
	snapshot, err := snapshotOf(payload, "TextWriter")
	if err != nil {
		return err
	}
	rows := Rows(snapshot)

	if w.rootPath == "" {
		fmt.Fprintf(w.out, "%s %s: %d aggregates\n", timestamp, snapshot.TaskName, len(rows))
		RenderTable(w.out, rows)
		return nil
	}

	taskDir := filepath.Join(w.rootPath, timestamp, snapshot.TaskName)
	if err := os.MkdirAll(taskDir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	filePath := filepath.Join(taskDir, "flows.txt")
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file '%s': %w", filePath, err)
	}
	defer file.Close()

	RenderTable(file, rows)
	log.Printf("Successfully wrote %d aggregates to %s", len(rows), filePath)
	return nil
}

var tableHeader = []string{
	"Window", "Source", "Proto", "Src Addr", "Sport", "Dst Addr", "Dport",
	"First Seen", "Last Seen", "Src Pkts", "Dst Pkts", "Src Bytes", "Dst Bytes", "Recs", "Label",
}

// RenderTable writes rows as a table.
func RenderTable(w io.Writer, rows []Row) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(tableHeader)
	table.SetAutoWrapText(false)

	in := func(v int64) string { return strconv.FormatInt(v, 10) }
	ts := func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.Format("15:04:05.000000")
	}
	for _, r := range rows {
		table.Append([]string{
			ts(r.WindowStart),
			r.Source,
			strconv.Itoa(int(r.Proto)),
			addrString(r.SrcAddr, r.SrcMask),
			strconv.Itoa(int(r.Sport)),
			addrString(r.DstAddr, r.DstMask),
			strconv.Itoa(int(r.Dport)),
			ts(r.FirstSeen),
			ts(r.LastSeen),
			in(r.SrcPkts),
			in(r.DstPkts),
			in(r.SrcBytes),
			in(r.DstBytes),
			strconv.FormatUint(uint64(r.Records), 10),
			r.Label,
		})
	}
	table.Render()
}

func addrString(addr string, mask uint8) string {
	if addr == "" {
		return "-"
	}
	if mask == 0 || mask == 32 || mask == 128 {
		return addr
	}
	return addr + "/" + strconv.Itoa(int(mask))
}

var _ model.Writer = (*TextWriter)(nil)
