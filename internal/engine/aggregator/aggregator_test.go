package aggregator

import (
	"net/netip"
	"sync"
	"testing"
	"time"

	"Go2FlowSpectra/internal/engine/flowkey"
	"Go2FlowSpectra/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

func record(proto uint8, src string, sport uint16, dst string, dport uint16, pkts int64) *model.Record {
	rec := model.NewRecord()
	f := rec.UseFlow()
	f.Kind, f.Family, f.Proto = model.FlowClassic5Tuple, model.FamilyIPv4, proto
	f.SetSrc(netip.MustParseAddr(src))
	f.SetDst(netip.MustParseAddr(dst))
	f.Sport, f.Dport = sport, dport
	rec.UseMetric().Src = model.Counters{Pkts: pkts, Bytes: pkts * 100}
	return rec
}

func withSyn(rec *model.Record) *model.Record {
	n := rec.UseNetwork()
	n.Kind = model.NetTCP
	n.TCP.Src.Flags = model.TCPFlagSYN
	return rec
}

func mask(t *testing.T, spec string) flowkey.Mask {
	t.Helper()
	m, err := flowkey.ParseMask(spec)
	require.NoError(t, err)
	return m
}

func TestInsertAndUpdate(t *testing.T) {
	a := New(Config{Name: "t", Mask: flowkey.DefaultMask()})

	assert.Equal(t, Inserted, a.Insert(record(6, "10.0.0.1", 4000, "10.0.0.2", 80, 5)))
	assert.Equal(t, Updated, a.Insert(record(6, "10.0.0.1", 4000, "10.0.0.2", 80, 3)))
	assert.Equal(t, Inserted, a.Insert(record(6, "10.0.0.1", 4001, "10.0.0.2", 80, 1)))

	require.Equal(t, 2, a.Len())
	recs := a.Records()
	// most recently updated first
	assert.Equal(t, uint16(4001), recs[0].Flow.Sport)
	agg := recs[1]
	assert.Equal(t, int64(8), agg.Metric.Src.Pkts)
	assert.Equal(t, int64(800), agg.Metric.Src.Bytes)
	require.NotNil(t, agg.Agr)
	assert.Equal(t, uint32(2), agg.Agr.Count)
	assert.Equal(t, uint8(32), agg.Flow.SrcMask)

	st := a.Stats()
	assert.Equal(t, uint64(2), st.Inserted)
	assert.Equal(t, uint64(1), st.Updated)
}

func TestReverseMatchJoinsBothDirections(t *testing.T) {
	m := mask(t, "proto saddr sport daddr dport")
	client := record(6, "10.0.0.1", 4000, "10.0.0.2", 80, 5)
	server := record(6, "10.0.0.2", 80, "10.0.0.1", 4000, 3)

	plain := New(Config{Mask: m})
	plain.Insert(client)
	assert.Equal(t, Inserted, plain.Insert(server))
	assert.Equal(t, 2, plain.Len())

	a := New(Config{Mask: m, ReverseMatch: true})
	a.Insert(client)
	assert.Equal(t, Updated, a.Insert(server))
	require.Equal(t, 1, a.Len())

	agg := a.Records()[0]
	assert.Equal(t, "10.0.0.1", agg.Flow.Src().String())
	assert.Equal(t, int64(5), agg.Metric.Src.Pkts)
	assert.Equal(t, int64(3), agg.Metric.Dst.Pkts)
	assert.Equal(t, uint64(1), a.Stats().ReverseHits)
}

func TestReverseMatchPrefersSynSide(t *testing.T) {
	a := New(Config{Mask: mask(t, "proto saddr sport daddr dport"), ReverseMatch: true})

	// the server half arrives first
	a.Insert(record(6, "10.0.0.2", 80, "10.0.0.1", 4000, 3))
	client := withSyn(record(6, "10.0.0.1", 4000, "10.0.0.2", 80, 5))
	assert.Equal(t, Updated, a.Insert(client))

	agg := a.Records()[0]
	assert.Equal(t, "10.0.0.1", agg.Flow.Src().String())
	assert.Equal(t, uint16(4000), agg.Flow.Sport)
	assert.Equal(t, int64(5), agg.Metric.Src.Pkts)
	assert.Equal(t, int64(3), agg.Metric.Dst.Pkts)

	// the aggregate is now filed under the client's forward key
	assert.Equal(t, Updated, a.Insert(record(6, "10.0.0.1", 4000, "10.0.0.2", 80, 1)))
	assert.Equal(t, 1, a.Len())
	assert.Equal(t, uint64(1), a.Stats().ReverseHits)

	// the decision is not revisited
	a.Insert(withSyn(record(6, "10.0.0.2", 80, "10.0.0.1", 4000, 2)))
	agg = a.Records()[0]
	assert.Equal(t, "10.0.0.1", agg.Flow.Src().String())
	assert.Equal(t, int64(6), agg.Metric.Src.Pkts)
	assert.Equal(t, int64(5), agg.Metric.Dst.Pkts)
}

func TestReverseMatchWithUnequalPrefixes(t *testing.T) {
	m := mask(t, "proto saddr/24 daddr")

	a := New(Config{Mask: m, ReverseMatch: true})
	assert.Equal(t, Inserted, a.Insert(record(17, "10.0.0.1", 5000, "10.0.1.1", 53, 2)))
	assert.Equal(t, Updated, a.Insert(record(17, "10.0.1.1", 53, "10.0.0.1", 5000, 1)))
	require.Equal(t, 1, a.Len())
	agg := a.Records()[0]
	assert.Equal(t, "10.0.0.0", agg.Flow.Src().String())
	assert.Equal(t, uint8(24), agg.Flow.SrcMask)
	assert.Equal(t, "10.0.1.1", agg.Flow.Dst().String())
	assert.Equal(t, uint8(32), agg.Flow.DstMask)
	assert.Equal(t, int64(2), agg.Metric.Src.Pkts)
	assert.Equal(t, int64(1), agg.Metric.Dst.Pkts)

	// the server half first, then a client that saw the SYN turns it around
	b := New(Config{Mask: m, ReverseMatch: true})
	b.Insert(record(6, "10.0.1.1", 80, "10.0.0.1", 4000, 3))
	assert.Equal(t, Updated, b.Insert(withSyn(record(6, "10.0.0.1", 4000, "10.0.1.1", 80, 5))))
	assert.Equal(t, Updated, b.Insert(record(6, "10.0.0.9", 4001, "10.0.1.1", 80, 1)))
	assert.Equal(t, Updated, b.Insert(record(6, "10.0.1.1", 80, "10.0.0.9", 4001, 1)))
	require.Equal(t, 1, b.Len())
	agg = b.Records()[0]
	assert.Equal(t, "10.0.0.0", agg.Flow.Src().String())
	assert.Equal(t, int64(6), agg.Metric.Src.Pkts)
	assert.Equal(t, int64(4), agg.Metric.Dst.Pkts)
}

func TestConcurrentInsertsShareOneAggregate(t *testing.T) {
	const workers, each = 16, 50
	a := New(Config{Mask: flowkey.DefaultMask(), ReverseMatch: true})

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				a.Insert(record(6, "10.0.0.1", 4000, "10.0.0.2", 80, 2))
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, a.Len())
	agg := a.Records()[0]
	assert.Equal(t, int64(workers*each*2), agg.Metric.Src.Pkts)
	assert.Equal(t, uint32(workers*each), agg.Agr.Count)
	st := a.Stats()
	assert.Equal(t, uint64(1), st.Inserted)
	assert.Equal(t, uint64(workers*each-1), st.Updated)
}

func TestFilterAndChain(t *testing.T) {
	udpOnly := New(Config{Name: "udp", Mask: flowkey.DefaultMask(), Protocols: []uint8{17}})
	rest := New(Config{Name: "rest", Mask: mask(t, "proto")})
	chain := udpOnly.Chain(rest)
	require.Same(t, rest, chain.Next())

	assert.Equal(t, Skipped, udpOnly.Insert(record(6, "10.0.0.1", 1, "10.0.0.2", 2, 1)))
	assert.Equal(t, Inserted, chain.Process(record(6, "10.0.0.1", 1, "10.0.0.2", 2, 1)))
	assert.Equal(t, 0, udpOnly.Len())
	assert.Equal(t, 1, rest.Len())

	assert.Equal(t, Inserted, chain.Process(record(17, "10.0.0.1", 1, "10.0.0.2", 53, 1)))
	assert.Equal(t, 1, udpOnly.Len())
	assert.Equal(t, 1, rest.Len())

	cont := New(Config{Mask: flowkey.DefaultMask(), Continue: true})
	tail := New(Config{Mask: mask(t, "proto")})
	cont.Chain(tail)
	assert.Equal(t, Inserted, cont.Process(record(17, "10.0.0.1", 1, "10.0.0.2", 53, 1)))
	assert.Equal(t, 1, tail.Len())

	clone := cont.Clone()
	assert.Zero(t, clone.Len())
	require.NotNil(t, clone.Next())
	assert.Zero(t, clone.Next().Len())
}

func TestPrefixGeneralisesAddresses(t *testing.T) {
	a := New(Config{Mask: mask(t, "saddr/24 daddr")})
	a.Insert(record(6, "10.0.0.1", 1, "192.0.2.1", 80, 1))
	assert.Equal(t, Updated, a.Insert(record(6, "10.0.0.77", 2, "192.0.2.1", 80, 1)))

	agg := a.Records()[0]
	assert.Equal(t, "10.0.0.0", agg.Flow.Src().String())
	assert.Equal(t, uint8(24), agg.Flow.SrcMask)
	assert.Equal(t, uint8(32), agg.Flow.DstMask)
	// ports were not keyed and differ
	assert.Zero(t, agg.Flow.Sport)
}

func TestLabelAndRetain(t *testing.T) {
	a := New(Config{
		Mask:   flowkey.DefaultMask(),
		Label:  "web",
		Retain: model.MaskOf(model.IdxMetric),
	})
	rec := record(6, "10.0.0.1", 1, "10.0.0.2", 80, 1)
	rec.UseLabel().Set("edge")
	rec.UseASN().Src = 64512
	a.Insert(rec)

	agg := a.Records()[0]
	assert.Nil(t, agg.ASN)
	assert.NotNil(t, agg.Metric)
	assert.NotNil(t, agg.Flow)
	require.NotNil(t, agg.Label)
	assert.Equal(t, "web", agg.Label.String())
	assert.True(t, agg.Consistent())
	// the caller's record is untouched
	assert.Equal(t, "edge", rec.Label.String())
}

func TestIdleFlushAndStatus(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(1_700_000_000, 0))
	a := NewWithClock(Config{
		Mask:          flowkey.DefaultMask(),
		IdleTimeout:   time.Minute,
		StatusTimeout: 30 * time.Second,
	}, clk)

	a.Insert(record(6, "10.0.0.1", 1, "10.0.0.2", 80, 1))
	clk.Step(30 * time.Second)
	assert.Len(t, a.StatusDue(), 1)
	assert.Empty(t, a.StatusDue())

	a.Insert(record(6, "10.0.0.1", 2, "10.0.0.2", 80, 1))
	clk.Step(40 * time.Second)

	out := a.Flush()
	require.Len(t, out, 1)
	assert.Equal(t, uint16(1), out[0].Flow.Sport)
	assert.Equal(t, 1, a.Len())

	clk.Step(time.Minute)
	assert.Len(t, a.Flush(), 1)
	assert.Zero(t, a.Len())
	assert.Equal(t, uint64(2), a.Stats().Flushed)
}

func TestAgrTracksIdleGaps(t *testing.T) {
	a := New(Config{Mask: flowkey.DefaultMask()})
	at := func(start, end int64) *model.Record {
		rec := record(6, "10.0.0.1", 1, "10.0.0.2", 80, 1)
		tm := rec.UseTime()
		tm.Encoding = model.TimeAbsRange
		tm.Fields = model.TimeSrcStart | model.TimeSrcEnd
		tm.Src = model.TimeRange{Start: start, End: end}
		return rec
	}
	a.Insert(at(1_000_000, 2_000_000))
	a.Insert(at(5_000_000, 6_000_000))

	agr := a.Records()[0].Agr
	require.NotNil(t, agr)
	assert.Equal(t, uint32(2), agr.Count)
	assert.Equal(t, uint32(2), agr.Act.N)
	assert.InDelta(t, 1_000_000, agr.Act.Mean, 1e-6)
	assert.Equal(t, uint32(1), agr.Idle.N)
	assert.Equal(t, uint32(3_000_000), agr.Idle.Max)
	assert.Equal(t, int64(6_000_000), agr.Last)
}

func TestTaskSnapshotAndReset(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(1_700_000_000, 0))
	chain := NewWithClock(Config{Mask: flowkey.DefaultMask(), IdleTimeout: time.Second}, clk)
	task := NewTask("flows", chain)
	assert.Equal(t, "flows", task.Name())

	task.ProcessRecord(record(6, "10.0.0.1", 1, "10.0.0.2", 80, 2))
	task.ProcessRecord(record(6, "10.0.0.1", 1, "10.0.0.2", 80, 3))
	clk.Step(2 * time.Second)
	task.Maintain(clk.Now())
	task.ProcessRecord(record(17, "10.0.0.1", 1, "10.0.0.2", 53, 1))

	snap, ok := task.Snapshot().(*model.SnapshotData)
	require.True(t, ok)
	assert.Equal(t, "flows", snap.TaskName)
	n, pkts, _ := snap.Totals()
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(6), pkts)

	task.Reset()
	snap = task.Snapshot().(*model.SnapshotData)
	n, _, _ = snap.Totals()
	assert.Zero(t, n)
}
