package manager

import (
	"Go2FlowSpectra/internal/config"
	_ "Go2FlowSpectra/internal/engine/aggregator" // Registers the aggregate task type
	_ "Go2FlowSpectra/internal/engine/bins"       // Registers the bins task type
	"Go2FlowSpectra/internal/engine/protocol"
	"Go2FlowSpectra/internal/factory"
	"Go2FlowSpectra/internal/metrics"
	"Go2FlowSpectra/internal/model"
	"Go2FlowSpectra/internal/snapshot"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

// Options tune a Manager built without a config file.
type Options struct {
	NumWorkers  int
	ChannelSize int
	// Period resets every task. Zero disables resets.
	Period time.Duration
	// MaintainInterval drives idle flushes and bin shifts. Zero disables it.
	MaintainInterval time.Duration
	Clock            clock.WithTicker
}

// Manager orchestrates a set of tasks and their writers. Wire records enter
// through InputChannel or Submit and are decoded by a pool of workers, each
// owning its own decoder.
type Manager struct {
	taskGroups []factory.TaskGroup
	tasks      []model.Task
	clock      clock.WithTicker

	// Worker pool for concurrent record processing
	records    chan []byte
	numWorkers int
	workerWg   sync.WaitGroup
	aborted    atomic.Bool
	decoded    atomic.Uint64
	failed     atomic.Uint64

	period           time.Duration
	maintainInterval time.Duration
	done             chan struct{}
	snapshotterWg    sync.WaitGroup
	resetterWg       sync.WaitGroup
	maintainerWg     sync.WaitGroup
}

// NewManager creates a Manager from the configuration.
func NewManager(cfg *config.Config) (*Manager, error) {
	taskGroups, err := factory.Create(cfg)
	if err != nil {
		return nil, err
	}

	period, err := time.ParseDuration(cfg.Aggregator.Period)
	if err != nil {
		return nil, fmt.Errorf("invalid aggregator period: %w", err)
	}
	if period <= 0 {
		return nil, fmt.Errorf("aggregator period must be a positive duration")
	}
	maintain, err := config.Duration(cfg.Aggregator.MaintainInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid maintain interval: %w", err)
	}

	return New(taskGroups, Options{
		NumWorkers:       cfg.Aggregator.NumWorkers,
		ChannelSize:      cfg.Aggregator.SizeOfRecordChannel,
		Period:           period,
		MaintainInterval: maintain,
	}), nil
}

// New creates a Manager over already built task groups.
func New(taskGroups []factory.TaskGroup, opts Options) *Manager {
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	m := &Manager{
		taskGroups:       taskGroups,
		clock:            opts.Clock,
		records:          make(chan []byte, opts.ChannelSize),
		numWorkers:       opts.NumWorkers,
		period:           opts.Period,
		maintainInterval: opts.MaintainInterval,
		done:             make(chan struct{}),
	}
	for _, group := range taskGroups {
		m.tasks = append(m.tasks, group.Tasks...)
	}
	return m
}

// Tasks returns every task across all groups.
func (m *Manager) Tasks() []model.Task {
	return m.tasks
}

// Start begins the manager's record processing workers, snapshotters, resetter
// and maintainer goroutines.
func (m *Manager) Start() {
	// For each group, start a dedicated snapshotter for each of its writers.
	for _, group := range m.taskGroups {
		for _, writer := range group.Writers {
			m.snapshotterWg.Add(1)
			go m.runSnapshotter(writer, group.Tasks)
			log.Printf("Started snapshotter for a writer with interval %s, handling %d tasks.", writer.GetInterval(), len(group.Tasks))
		}
	}

	if m.period > 0 {
		m.resetterWg.Add(1)
		go m.runResetter()
		log.Printf("Started global resetter with period %s", m.period)
	}

	if m.maintainInterval > 0 {
		m.maintainerWg.Add(1)
		go m.runMaintainer()
	}

	m.workerWg.Add(m.numWorkers)
	for i := 0; i < m.numWorkers; i++ {
		go m.worker()
	}
	log.Printf("Manager started with %d workers.", m.numWorkers)
}

// runSnapshotter runs a dedicated snapshot loop for a single writer and its associated tasks.
func (m *Manager) runSnapshotter(writer model.Writer, tasks []model.Task) {
	defer m.snapshotterWg.Done()
	interval := writer.GetInterval()
	if interval <= 0 {
		log.Printf("Invalid interval %s for writer, snapshotter will not run.", interval)
		return
	}
	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			m.takeSnapshotForWriter(writer, tasks)
		case <-m.done:
			m.takeSnapshotForWriter(writer, tasks)
			return
		}
	}
}

// takeSnapshotForWriter takes and writes a snapshot of every task for one writer.
func (m *Manager) takeSnapshotForWriter(writer model.Writer, tasks []model.Task) {
	timestamp := m.clock.Now().Format(snapshot.TimestampLayout)
	log.Debugf("Taking snapshot for writer at %s for %d tasks.", timestamp, len(tasks))

	var wg sync.WaitGroup
	wg.Add(len(tasks))
	for _, task := range tasks {
		go func(t model.Task) {
			defer wg.Done()
			if err := writer.Write(t.Snapshot(), timestamp); err != nil {
				log.Printf("Error writing snapshot for task %s: %v", t.Name(), err)
			}
		}(task)
	}
	wg.Wait()
}

// runResetter runs a dedicated loop to reset all tasks periodically.
func (m *Manager) runResetter() {
	defer m.resetterWg.Done()
	ticker := m.clock.NewTicker(m.period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			m.resetAllTasks()
		case <-m.done:
			log.Println("Resetter shutting down.")
			return
		}
	}
}

// resetAllTasks calls Reset on every task.
func (m *Manager) resetAllTasks() {
	log.Printf("Resetting all tasks for new measurement period at %s", m.clock.Now().Format(snapshot.TimestampLayout))
	var wg sync.WaitGroup
	wg.Add(len(m.tasks))
	for _, task := range m.tasks {
		go func(t model.Task) {
			defer wg.Done()
			t.Reset()
		}(task)
	}
	wg.Wait()
}

// runMaintainer drives the housekeeping of tasks that implement model.Maintainer.
func (m *Manager) runMaintainer() {
	defer m.maintainerWg.Done()
	ticker := m.clock.NewTicker(m.maintainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			m.Maintain()
		case <-m.done:
			return
		}
	}
}

// Maintain runs one housekeeping pass over every task that needs it.
func (m *Manager) Maintain() {
	now := m.clock.Now()
	for _, task := range m.tasks {
		if mt, ok := task.(model.Maintainer); ok {
			mt.Maintain(now)
		}
	}
}

// Abort makes the workers drop every record not yet started. Records being
// processed are finished.
func (m *Manager) Abort() {
	m.aborted.Store(true)
}

// Stop gracefully shuts down the manager. No record may be submitted after Stop
// is called.
func (m *Manager) Stop() {
	log.Println("Manager stopping...")
	// 1. Stop accepting new records.
	close(m.records)

	// 2. Wait for all workers to finish processing buffered records.
	m.workerWg.Wait()

	// 3. Signal snapshotters, resetter and maintainer to take final actions and exit.
	close(m.done)
	m.snapshotterWg.Wait()
	m.resetterWg.Wait()
	m.maintainerWg.Wait()

	log.WithFields(log.Fields{"decoded": m.decoded.Load(), "failed": m.failed.Load()}).Info("Manager stopped.")
}

func (m *Manager) worker() {
	defer m.workerWg.Done()
	dec := protocol.NewDecoder(protocol.Options{})
	rec := model.NewRecord()
	var skipped, corrected uint64

	for buf := range m.records {
		if m.aborted.Load() {
			continue
		}
		if _, err := dec.Decode(buf, rec); err != nil {
			m.failed.Add(1)
			metrics.Default.DecodeErrors.WithLabelValues(protocol.Reason(err)).Inc()
			log.WithField("error", err).Debug("Dropping wire record")
			continue
		}
		m.decoded.Add(1)
		metrics.Default.RecordsDecoded.Inc()
		if n := dec.Stats.SkippedDSRs; n != skipped {
			metrics.Default.DSRsSkipped.Add(float64(n - skipped))
			skipped = n
		}
		if n := dec.Stats.Corrected; n != corrected {
			metrics.Default.Corrected.Add(float64(n - corrected))
			corrected = n
		}

		// Fan out the record to all tasks; tasks copy what they keep.
		for _, task := range m.tasks {
			task.ProcessRecord(rec)
		}
	}
}

// Submit queues one wire record. It returns false once the manager is aborted.
func (m *Manager) Submit(buf []byte) bool {
	if m.aborted.Load() {
		return false
	}
	m.records <- buf
	return true
}

// InputChannel returns the channel wire records are read from.
func (m *Manager) InputChannel() chan<- []byte {
	return m.records
}

// Counts returns the number of records decoded and discarded so far.
func (m *Manager) Counts() (decoded, failed uint64) {
	return m.decoded.Load(), m.failed.Load()
}
