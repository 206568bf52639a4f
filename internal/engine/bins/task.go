package bins

import (
	"errors"
	"sync"
	"time"

	"Go2FlowSpectra/internal/metrics"
	"Go2FlowSpectra/internal/model"

	log "github.com/sirupsen/logrus"
)

// Task runs a bin process as a model.Task. Bins shifted out of the window are
// held until the next Reset.
type Task struct {
	name string
	proc *Process
	// hold keeps a finished bin in the window this long for late records.
	hold time.Duration

	mu   sync.Mutex
	done []*Bin
}

// NewTask wraps proc. Bins are shifted out once they have been finished for hold.
func NewTask(name string, proc *Process, hold time.Duration) *Task {
	_, size := proc.Window()
	log.Printf("Creating bins task '%s' with %s bins", name, size)
	return &Task{name: name, proc: proc, hold: hold}
}

// Name returns the name of the task.
func (t *Task) Name() string { return t.name }

// Process returns the underlying bin process.
func (t *Task) Process() *Process { return t.proc }

// ProcessRecord inserts rec. Placement errors are counted and otherwise ignored.
func (t *Task) ProcessRecord(rec *model.Record) {
	res, err := t.proc.Insert(rec)
	switch {
	case err == nil:
		metrics.Default.Aggregates.WithLabelValues(t.name, res.String()).Inc()
	case errors.Is(err, ErrIndex):
		metrics.Default.BinErrors.WithLabelValues(t.name, "index").Inc()
		log.WithField("task", t.name).Debug(err)
	case errors.Is(err, ErrNoTime):
		metrics.Default.BinErrors.WithLabelValues(t.name, "no_time").Inc()
	default:
		metrics.Default.BinErrors.WithLabelValues(t.name, "exhausted").Inc()
		log.WithField("task", t.name).Warn(err)
	}
}

// Snapshot returns one group per bin, finished bins first.
func (t *Task) Snapshot() interface{} {
	t.mu.Lock()
	bins := append([]*Bin(nil), t.done...)
	t.mu.Unlock()
	bins = append(bins, t.proc.Bins()...)

	snap := &model.SnapshotData{TaskName: t.name}
	for _, b := range bins {
		g := model.SnapshotGroup{
			Start: model.MicrosToTime(b.Start),
			End:   model.MicrosToTime(b.End),
		}
		for a := b.Agg; a != nil; a = a.Next() {
			g.Records = append(g.Records, a.Records()...)
		}
		snap.Groups = append(snap.Groups, g)
	}
	return snap
}

// Reset forgets the finished bins. The live window is kept.
func (t *Task) Reset() {
	t.mu.Lock()
	t.done = nil
	t.mu.Unlock()
}

// Maintain shifts out the bins that ended more than hold before now.
func (t *Task) Maintain(now time.Time) {
	n := t.proc.Expired(now.Add(-t.hold))
	if n == 0 {
		return
	}
	shifted := t.proc.Shift(n)
	metrics.Default.BinsShifted.WithLabelValues(t.name).Add(float64(n))
	if len(shifted) == 0 {
		return
	}
	t.mu.Lock()
	t.done = append(t.done, shifted...)
	t.mu.Unlock()
}
