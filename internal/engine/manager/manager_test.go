package manager

import (
	"net/netip"
	"sync"
	"testing"
	"time"

	"Go2FlowSpectra/internal/engine/aggregator"
	"Go2FlowSpectra/internal/engine/flowkey"
	"Go2FlowSpectra/internal/engine/protocol"
	"Go2FlowSpectra/internal/factory"
	"Go2FlowSpectra/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

type captureWriter struct {
	mu        sync.Mutex
	snapshots []*model.SnapshotData
	stamps    []string
}

func (w *captureWriter) Write(payload interface{}, timestamp string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.snapshots = append(w.snapshots, payload.(*model.SnapshotData))
	w.stamps = append(w.stamps, timestamp)
	return nil
}

func (w *captureWriter) GetInterval() time.Duration { return time.Hour }

type maintainedTask struct {
	model.Task
	mu    sync.Mutex
	calls []time.Time
}

func (t *maintainedTask) Maintain(now time.Time) {
	t.mu.Lock()
	t.calls = append(t.calls, now)
	t.mu.Unlock()
}

func wireRecord(t *testing.T, sport uint16, pkts int64) []byte {
	t.Helper()
	rec := model.NewRecord()
	f := rec.UseFlow()
	f.Kind, f.Family, f.Proto = model.FlowClassic5Tuple, model.FamilyIPv4, 17
	f.SetSrc(netip.MustParseAddr("10.0.0.1"))
	f.SetDst(netip.MustParseAddr("10.0.0.2"))
	f.Sport, f.Dport = sport, 53
	rec.UseMetric().Src = model.Counters{Pkts: pkts, Bytes: pkts * 64}
	buf, err := protocol.Encode(rec)
	require.NoError(t, err)
	return buf
}

func newTask(name string) *aggregator.Task {
	return aggregator.NewTask(name, aggregator.New(aggregator.Config{Mask: flowkey.DefaultMask()}))
}

func TestManagerDecodesAndSnapshotsOnStop(t *testing.T) {
	w := &captureWriter{}
	task := newTask("flows")
	clk := testingclock.NewFakeClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	m := New([]factory.TaskGroup{{Tasks: []model.Task{task}, Writers: []model.Writer{w}}},
		Options{NumWorkers: 3, ChannelSize: 16, Clock: clk})
	m.Start()

	for i := 0; i < 10; i++ {
		require.True(t, m.Submit(wireRecord(t, uint16(1000+i%2), 2)))
	}
	m.InputChannel() <- []byte{0x15, 0, 0, 9} // claims 36 bytes
	m.InputChannel() <- []byte{0x1F, 0, 0, 1} // bad version
	m.Stop()

	decoded, failed := m.Counts()
	assert.Equal(t, uint64(10), decoded)
	assert.Equal(t, uint64(2), failed)

	require.Len(t, w.snapshots, 1)
	assert.Equal(t, "2024-05-01_12-00-00", w.stamps[0])
	n, pkts, _ := w.snapshots[0].Totals()
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(20), pkts)
	assert.Len(t, m.Tasks(), 1)
}

func TestManagerAbortDropsQueuedRecords(t *testing.T) {
	task := newTask("flows")
	m := New([]factory.TaskGroup{{Tasks: []model.Task{task}}}, Options{NumWorkers: 1, ChannelSize: 8})
	for i := 0; i < 5; i++ {
		m.Submit(wireRecord(t, 1000, 1))
	}
	m.Abort()
	assert.False(t, m.Submit(wireRecord(t, 1000, 1)))

	m.Start()
	m.Stop()
	decoded, _ := m.Counts()
	assert.Zero(t, decoded)
	assert.Zero(t, task.Chain().Len())
}

func TestManagerMaintainsTasks(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(1_700_000_000, 0))
	plain := newTask("plain")
	mt := &maintainedTask{Task: newTask("maintained")}
	m := New([]factory.TaskGroup{{Tasks: []model.Task{plain, mt}}},
		Options{MaintainInterval: 10 * time.Second, Clock: clk})
	m.Start()

	assert.Eventually(t, func() bool { return clk.HasWaiters() }, time.Second, 5*time.Millisecond)
	clk.Step(10 * time.Second)
	assert.Eventually(t, func() bool {
		mt.mu.Lock()
		defer mt.mu.Unlock()
		return len(mt.calls) == 1
	}, time.Second, 5*time.Millisecond)
	m.Stop()

	mt.mu.Lock()
	defer mt.mu.Unlock()
	assert.Equal(t, clk.Now(), mt.calls[0])
}

func TestManagerResetsTasks(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(1_700_000_000, 0))
	task := newTask("flows")
	m := New([]factory.TaskGroup{{Tasks: []model.Task{task}}},
		Options{NumWorkers: 1, Period: time.Minute, Clock: clk})
	m.Start()
	m.Submit(wireRecord(t, 1000, 1))
	assert.Eventually(t, func() bool { return task.Chain().Len() == 1 }, time.Second, 5*time.Millisecond)

	assert.Eventually(t, func() bool { return clk.HasWaiters() }, time.Second, 5*time.Millisecond)
	clk.Step(time.Minute)
	assert.Eventually(t, func() bool { return task.Chain().Len() == 0 }, time.Second, 5*time.Millisecond)
	m.Stop()
}
