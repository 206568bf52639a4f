package aggregator

import (
	"sync"
	"time"

	"Go2FlowSpectra/internal/metrics"
	"Go2FlowSpectra/internal/model"

	log "github.com/sirupsen/logrus"
)

// Task runs an aggregator chain as a model.Task. Aggregates evicted by the idle
// timeout are kept until the next Reset so every snapshot of the period sees them.
type Task struct {
	name  string
	chain *Aggregator

	mu      sync.Mutex
	start   time.Time
	expired []*model.Record
}

// NewTask wraps chain.
func NewTask(name string, chain *Aggregator) *Task {
	log.Printf("Creating aggregate task '%s' with mask '%s'", name, chain.cfg.Mask)
	return &Task{name: name, chain: chain, start: chain.clock.Now()}
}

// Name returns the name of the task.
func (t *Task) Name() string { return t.name }

// Chain returns the task's aggregator chain.
func (t *Task) Chain() *Aggregator { return t.chain }

// ProcessRecord offers rec to the chain.
func (t *Task) ProcessRecord(rec *model.Record) {
	r := t.chain.Process(rec)
	metrics.Default.Aggregates.WithLabelValues(t.name, r.String()).Inc()
}

// Snapshot returns copies of the live and expired aggregates of the period.
func (t *Task) Snapshot() interface{} {
	var recs []*model.Record
	for a := t.chain; a != nil; a = a.next {
		recs = append(recs, a.Records()...)
	}

	t.mu.Lock()
	for _, r := range t.expired {
		recs = append(recs, r.Clone())
	}
	start := t.start
	t.mu.Unlock()

	return &model.SnapshotData{
		TaskName: t.name,
		Groups: []model.SnapshotGroup{{
			Start:   start,
			End:     t.chain.clock.Now(),
			Records: recs,
		}},
	}
}

// Reset drops every aggregate and starts a new period.
func (t *Task) Reset() {
	for a := t.chain; a != nil; a = a.next {
		a.Drain()
	}
	t.mu.Lock()
	t.expired = nil
	t.start = t.chain.clock.Now()
	t.mu.Unlock()
}

// Maintain evicts idle aggregates and logs those due for a status report.
func (t *Task) Maintain(now time.Time) {
	for a := t.chain; a != nil; a = a.next {
		flushed := a.Flush()
		if len(flushed) > 0 {
			metrics.Default.Flushed.WithLabelValues(t.name).Add(float64(len(flushed)))
			t.mu.Lock()
			t.expired = append(t.expired, flushed...)
			t.mu.Unlock()
		}
		for _, rec := range a.StatusDue() {
			log.WithFields(log.Fields{
				"task":       t.name,
				"aggregator": a.Name(),
			}).Debug(rec.String())
		}
	}
}
