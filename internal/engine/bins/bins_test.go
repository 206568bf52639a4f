package bins

import (
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"Go2FlowSpectra/internal/config"
	"Go2FlowSpectra/internal/engine/aggregator"
	"Go2FlowSpectra/internal/engine/flowkey"
	"Go2FlowSpectra/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Unix(1_700_000_040, 0).UTC().Truncate(time.Minute)

func us(d time.Duration) int64 { return epoch.Add(d).UnixMicro() }

func ranged(start, end time.Duration, pkts int64) *model.Record {
	rec := model.NewRecord()
	f := rec.UseFlow()
	f.Kind, f.Family, f.Proto = model.FlowClassic5Tuple, model.FamilyIPv4, 17
	f.SetSrc(netip.MustParseAddr("10.0.0.1"))
	f.SetDst(netip.MustParseAddr("10.0.0.2"))
	f.Sport, f.Dport = 5000, 53
	tm := rec.UseTime()
	tm.Encoding = model.TimeAbsRange
	tm.Fields = model.TimeSrcStart | model.TimeSrcEnd
	tm.Src = model.TimeRange{Start: us(start), End: us(end)}
	rec.UseMetric().Src = model.Counters{Pkts: pkts, Bytes: pkts * 100}
	return rec
}

func newProcess(t *testing.T, cfg Config) *Process {
	t.Helper()
	if cfg.Size == 0 {
		cfg.Size = time.Minute
	}
	if cfg.Start.IsZero() {
		cfg.Start = epoch
	}
	p, err := New(cfg, aggregator.New(aggregator.Config{Mask: flowkey.DefaultMask()}))
	require.NoError(t, err)
	return p
}

func srcPkts(b *Bin) (n int64) {
	for _, r := range b.Agg.Records() {
		n += r.Metric.Src.Pkts
	}
	return n
}

func TestRecordBeforeWindow(t *testing.T) {
	p := newProcess(t, Config{Count: 4})

	res, err := p.Insert(ranged(-3*time.Minute, -2*time.Minute, 10))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIndex))
	assert.Equal(t, aggregator.Skipped, res)
	assert.Empty(t, p.Bins())

	// a record ending exactly at the window start is still before it
	_, err = p.Insert(ranged(-time.Minute, 0, 1))
	assert.ErrorIs(t, err, ErrIndex)
}

func TestRecordWithoutTime(t *testing.T) {
	p := newProcess(t, Config{Count: 4})
	rec := ranged(0, time.Second, 1)
	rec.Drop(model.IdxTime)
	_, err := p.Insert(rec)
	assert.ErrorIs(t, err, ErrNoTime)
}

func TestSplitAcrossTwoBinsKeepsTotal(t *testing.T) {
	cases := []struct {
		name       string
		start, end time.Duration
		pkts       int64
	}{
		{"even", 30 * time.Second, 90 * time.Second, 10},
		{"uneven", 10 * time.Second, 70 * time.Second, 10},
		{"odd total", 45 * time.Second, 75 * time.Second, 7},
		{"three bins", 50 * time.Second, 130 * time.Second, 10},
		{"partly before window", -20 * time.Second, 40 * time.Second, 9},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newProcess(t, Config{Count: 4})
			res, err := p.Insert(ranged(tc.start, tc.end, tc.pkts))
			require.NoError(t, err)
			assert.Equal(t, aggregator.Inserted, res)

			var total, bytes int64
			for _, b := range p.Bins() {
				total += srcPkts(b)
				for _, r := range b.Agg.Records() {
					bytes += r.Metric.Src.Bytes
					require.NotNil(t, r.Time)
					assert.GreaterOrEqual(t, r.Time.Src.Start, b.Start)
					assert.LessOrEqual(t, r.Time.Src.End, b.End)
				}
			}
			if tc.start >= 0 {
				assert.Equal(t, tc.pkts, total)
				assert.Equal(t, tc.pkts*100, bytes)
			} else {
				assert.Less(t, total, tc.pkts)
			}
		})
	}
}

func TestSplitApportionsByRate(t *testing.T) {
	p := newProcess(t, Config{Count: 4})
	_, err := p.Insert(ranged(10*time.Second, 70*time.Second, 10))
	require.NoError(t, err)

	bins := p.Bins()
	require.Len(t, bins, 2)
	// 50 of 60 seconds fall in the first bin
	assert.Equal(t, int64(8), srcPkts(bins[0]))
	assert.Equal(t, int64(2), srcPkts(bins[1]))
	assert.Equal(t, us(0), bins[0].Start)
	assert.Equal(t, us(time.Minute), bins[1].Start)
}

func TestSingleBinRecordIsMergedWhole(t *testing.T) {
	p := newProcess(t, Config{Count: 2})
	res, err := p.Insert(ranged(5*time.Second, 10*time.Second, 3))
	require.NoError(t, err)
	assert.Equal(t, aggregator.Inserted, res)

	res, err = p.Insert(ranged(20*time.Second, 60*time.Second, 4))
	require.NoError(t, err)
	assert.Equal(t, aggregator.Updated, res)

	bins := p.Bins()
	require.Len(t, bins, 1)
	assert.Equal(t, int64(7), srcPkts(bins[0]))
}

func TestGrowthInBlocks(t *testing.T) {
	p := newProcess(t, Config{Count: 4, Max: 10})
	assert.Equal(t, 4, p.Len())

	_, err := p.Insert(ranged(5*time.Minute, 5*time.Minute, 1))
	require.NoError(t, err)
	assert.Equal(t, 8, p.Len())

	_, err = p.Insert(ranged(9*time.Minute, 9*time.Minute+time.Second, 1))
	require.NoError(t, err)
	assert.Equal(t, 10, p.Len())

	_, err = p.Insert(ranged(10*time.Minute, 10*time.Minute, 1))
	assert.ErrorIs(t, err, ErrResourceExhausted)
}

func TestCorruptTimesAreBounded(t *testing.T) {
	p := newProcess(t, Config{Count: 4})

	// a start near the epoch drops the pre-window part in one step
	rec := ranged(0, 30*time.Second, 10)
	rec.Time.Src.Start = 1
	done := make(chan struct{})
	go func() {
		defer close(done)
		res, err := p.Insert(rec)
		assert.NoError(t, err)
		assert.Equal(t, aggregator.Inserted, res)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("insert of a record starting at the epoch did not return")
	}
	bins := p.Bins()
	require.Len(t, bins, 1)
	assert.LessOrEqual(t, srcPkts(bins[0]), int64(1))

	// an end years ahead is refused before anything is allocated
	far := ranged(10*time.Second, 2*365*24*time.Hour, 5)
	res, err := p.Insert(far)
	assert.ErrorIs(t, err, ErrResourceExhausted)
	assert.Equal(t, aggregator.Skipped, res)
	assert.Equal(t, 4, p.Len())
	assert.Len(t, p.Bins(), 1)
}

func TestDefaultMax(t *testing.T) {
	p := newProcess(t, Config{Count: 4})
	assert.Equal(t, DefaultMax, p.cfg.Max)

	_, err := p.Insert(ranged(time.Duration(DefaultMax-1)*time.Minute, time.Duration(DefaultMax-1)*time.Minute, 1))
	require.NoError(t, err)
	assert.Equal(t, DefaultMax, p.Len())
	_, err = p.Insert(ranged(time.Duration(DefaultMax)*time.Minute, time.Duration(DefaultMax)*time.Minute, 1))
	assert.ErrorIs(t, err, ErrResourceExhausted)

	big := newProcess(t, Config{Count: 2 * DefaultMax})
	assert.Equal(t, 2*DefaultMax, big.cfg.Max)
}

func TestConcurrentInsertsShareOneBin(t *testing.T) {
	const workers, each = 16, 50
	p := newProcess(t, Config{Count: 4})

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				_, err := p.Insert(ranged(5*time.Second, 10*time.Second, 2))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	bins := p.Bins()
	require.Len(t, bins, 1)
	assert.Equal(t, 1, bins[0].Agg.Len())
	assert.Equal(t, int64(workers*each*2), srcPkts(bins[0]))
}

func TestShift(t *testing.T) {
	p := newProcess(t, Config{Count: 4})
	for i := 0; i < 4; i++ {
		at := time.Duration(i) * time.Minute
		_, err := p.Insert(ranged(at, at+time.Second, int64(i+1)))
		require.NoError(t, err)
	}

	out := p.Shift(2)
	require.Len(t, out, 2)
	assert.Equal(t, int64(1), srcPkts(out[0]))
	assert.Equal(t, int64(2), srcPkts(out[1]))

	start, size := p.Window()
	assert.Equal(t, epoch.Add(2*time.Minute), start)
	assert.Equal(t, time.Minute, size)

	bins := p.Bins()
	require.Len(t, bins, 2)
	assert.Equal(t, us(2*time.Minute), bins[0].Start)
	assert.Equal(t, int64(3), srcPkts(bins[0]))
	assert.Equal(t, 4, p.Len())

	// the old range is now before the window
	_, err := p.Insert(ranged(0, time.Second, 1))
	assert.ErrorIs(t, err, ErrIndex)
	_, err = p.Insert(ranged(5*time.Minute, 5*time.Minute, 1))
	assert.NoError(t, err)
}

func TestWindowStartsAtFirstRecord(t *testing.T) {
	p, err := New(Config{Size: time.Minute, Count: 2}, aggregator.New(aggregator.Config{Mask: flowkey.DefaultMask()}))
	require.NoError(t, err)
	assert.Zero(t, p.Expired(time.Now()))

	_, err = p.Insert(ranged(90*time.Second, 95*time.Second, 1))
	require.NoError(t, err)
	start, _ := p.Window()
	assert.Equal(t, epoch.Add(time.Minute), start)

	assert.Equal(t, 0, p.Expired(epoch.Add(119*time.Second)))
	assert.Equal(t, 1, p.Expired(epoch.Add(2*time.Minute)))

	p.Reset()
	assert.Zero(t, p.Len())
}

func TestNewRejectsBadConfig(t *testing.T) {
	chain := aggregator.New(aggregator.Config{})
	_, err := New(Config{}, chain)
	assert.Error(t, err)
	_, err = New(Config{Size: time.Second, Count: 8, Max: 4}, chain)
	assert.Error(t, err)
}

func TestTaskShiftsFinishedBins(t *testing.T) {
	p := newProcess(t, Config{Count: 4})
	task := NewTask("bins", p, 30*time.Second)

	task.ProcessRecord(ranged(10*time.Second, 20*time.Second, 2))
	task.ProcessRecord(ranged(70*time.Second, 80*time.Second, 3))
	task.ProcessRecord(ranged(-time.Hour, -time.Hour+time.Second, 1))

	task.Maintain(epoch.Add(100 * time.Second))
	assert.Len(t, p.Bins(), 1)

	snap := task.Snapshot().(*model.SnapshotData)
	require.Len(t, snap.Groups, 2)
	assert.Equal(t, epoch, snap.Groups[0].Start)
	assert.Equal(t, epoch.Add(time.Minute), snap.Groups[0].End)
	n, pkts, _ := snap.Totals()
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(5), pkts)

	task.Reset()
	snap = task.Snapshot().(*model.SnapshotData)
	assert.Len(t, snap.Groups, 1)
}

func TestTaskFromDef(t *testing.T) {
	task, err := TaskFromDef(config.TaskDef{
		Name:     "minutes",
		Type:     "bins",
		BinSize:  "1m",
		BinCount: 4,
		MaxBins:  8,
		BinHold:  "30s",
		Chain:    []config.AggregatorDef{{Name: "all"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "minutes", task.Name())
	_, size := task.Process().Window()
	assert.Equal(t, time.Minute, size)

	_, err = TaskFromDef(config.TaskDef{Name: "bad", BinSize: "0s", Chain: []config.AggregatorDef{{}}})
	assert.Error(t, err)
	_, err = TaskFromDef(config.TaskDef{Name: "bad", BinSize: "1m", BinCount: 8, MaxBins: 2, Chain: []config.AggregatorDef{{}}})
	assert.Error(t, err)
}
