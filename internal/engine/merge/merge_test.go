package merge

import (
	"math"
	"net/netip"
	"testing"

	"Go2FlowSpectra/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flowRecord(src, dst string, sport uint16) *model.Record {
	rec := model.NewRecord()
	f := rec.UseFlow()
	f.Kind, f.Family, f.Proto = model.FlowClassic5Tuple, model.FamilyIPv4, 6
	f.SetSrc(netip.MustParseAddr(src))
	f.SetDst(netip.MustParseAddr(dst))
	f.SrcMask, f.DstMask = 32, 32
	f.Sport, f.Dport = sport, 80
	return rec
}

func withMetric(rec *model.Record, pkts, bytes int64) *model.Record {
	m := rec.UseMetric()
	m.Src = model.Counters{Pkts: pkts, Bytes: bytes}
	return rec
}

func TestMergeSumsMetric(t *testing.T) {
	a := withMetric(flowRecord("10.0.0.1", "10.0.0.2", 1234), 5, 500)
	b := withMetric(flowRecord("10.0.0.1", "10.0.0.2", 1234), 3, 300)

	Merge(a, b)

	assert.Equal(t, model.Counters{Pkts: 8, Bytes: 800}, a.Metric.Src)
	assert.NotZero(t, a.Status&model.StatusModified)
	assert.Equal(t, uint8(32), a.Flow.SrcMask)
	assert.Equal(t, uint16(1234), a.Flow.Sport)
	// b is left alone
	assert.Equal(t, int64(3), b.Metric.Src.Pkts)
	assert.True(t, a.Consistent())
}

func TestSubtractDoesNotClamp(t *testing.T) {
	a := withMetric(flowRecord("10.0.0.1", "10.0.0.2", 1), 3, 300)
	b := withMetric(flowRecord("10.0.0.1", "10.0.0.2", 1), 5, 500)

	Subtract(a, b)
	assert.Equal(t, int64(-2), a.Metric.Src.Pkts)
	assert.Equal(t, int64(-200), a.Metric.Src.Bytes)

	c := withMetric(flowRecord("10.0.0.1", "10.0.0.2", 1), 3, 300)
	Intersect(c, b)
	assert.Equal(t, int64(-2), c.Metric.Src.Pkts)
}

func TestOneSidedSlots(t *testing.T) {
	newB := func() *model.Record {
		b := flowRecord("10.0.0.1", "10.0.0.2", 1)
		b.UseTime().Fields = model.TimeSrcStart | model.TimeSrcEnd
		b.Time.Src = model.TimeRange{Start: 10, End: 20}
		b.Time.Encoding = model.TimeAbsRange
		return b
	}
	newA := func() *model.Record {
		a := flowRecord("10.0.0.1", "10.0.0.2", 1)
		a.UseASN().Src = 64512
		return a
	}

	a := newA()
	Merge(a, newB())
	require.NotNil(t, a.Time)
	assert.Equal(t, model.TimeRange{Start: 10, End: 20}, a.Time.Src)
	assert.Equal(t, uint32(64512), a.ASN.Src)

	for _, op := range []func(a, b *model.Record){Intersect, Subtract} {
		a := newA()
		op(a, newB())
		require.NotNil(t, a.Time)
		assert.Equal(t, model.Time{}, *a.Time)
		require.NotNil(t, a.ASN)
		assert.Zero(t, a.ASN.Src)
		assert.True(t, a.Consistent())
	}

	// absent in both stays absent
	a = newA()
	Merge(a, newB())
	assert.Nil(t, a.Jitter)
	assert.False(t, a.Present.Has(model.IdxJitter))
}

func TestTransportSourceMismatch(t *testing.T) {
	a := flowRecord("10.0.0.1", "10.0.0.2", 1)
	ta := a.UseTransport()
	ta.Flags, ta.SrcIDType = model.TransportSrcID, model.SrcIDInt
	ta.SrcID[3] = 1

	b := flowRecord("10.0.0.1", "10.0.0.2", 1)
	b.CopySlot(model.IdxTransport, a)
	Merge(a, b)
	require.NotNil(t, a.Transport)

	b.Transport.SrcID[3] = 2
	Merge(a, b)
	assert.Nil(t, a.Transport)
	assert.False(t, a.Present.Has(model.IdxTransport))
}

func TestMergeFlowCIDR(t *testing.T) {
	a := flowRecord("10.1.2.7", "192.0.2.1", 1)
	b := flowRecord("10.1.3.9", "192.0.2.1", 2)

	Merge(a, b)

	assert.Equal(t, "10.1.2.0", a.Flow.Src().String())
	assert.Equal(t, uint8(23), a.Flow.SrcMask)
	assert.Equal(t, "192.0.2.1", a.Flow.Dst().String())
	assert.Equal(t, uint8(32), a.Flow.DstMask)
	// differing ports do not survive
	assert.Zero(t, a.Flow.Sport)
	assert.Equal(t, uint16(80), a.Flow.Dport)
}

func TestMergeAddrProperty(t *testing.T) {
	cases := []struct {
		a, b   string
		la, lb uint8
	}{
		{"10.0.0.0", "10.0.0.0", 32, 32},
		{"10.0.0.0", "10.0.0.0", 24, 16},
		{"10.128.0.1", "10.0.0.1", 32, 32},
		{"192.168.1.1", "10.0.0.1", 32, 32},
		{"172.16.5.4", "172.16.5.200", 30, 32},
		{"2001:db8::1", "2001:db8::8000:1", 128, 128},
		{"2001:db8::1", "2001:db9::1", 64, 128},
	}
	for _, tc := range cases {
		pa, pb := netip.MustParseAddr(tc.a), netip.MustParseAddr(tc.b)
		n := 4
		if pa.Is6() {
			n = 16
		}
		var a, b [16]byte
		if n == 4 {
			va, vb := pa.As4(), pb.As4()
			copy(a[:], va[:])
			copy(b[:], vb[:])
		} else {
			a, b = pa.As16(), pb.As16()
		}

		out, l := MergeAddr(a, b, n, tc.la, tc.lb)
		assert.LessOrEqual(t, l, min(tc.la, tc.lb), "%s %s", tc.a, tc.b)
		assert.Equal(t, out, maskBits(a, n, int(l)), "%s %s", tc.a, tc.b)
		assert.Equal(t, out, maskBits(b, n, int(l)), "%s %s", tc.a, tc.b)
		// the prefix is the longest one shared
		if int(l) < int(min(tc.la, tc.lb)) {
			assert.NotEqual(t, maskBits(a, n, int(l)+1), maskBits(b, n, int(l)+1))
		}
	}
}

func statsOf(v ...uint32) model.Stats {
	var s model.Stats
	for _, x := range v {
		s = CombineStats(s, Sample(x))
	}
	return s
}

func direct(v ...uint32) (mean, stdev float64) {
	for _, x := range v {
		mean += float64(x)
	}
	mean /= float64(len(v))
	for _, x := range v {
		d := float64(x) - mean
		stdev += d * d
	}
	return mean, math.Sqrt(stdev / float64(len(v)))
}

func TestCombineStats(t *testing.T) {
	xs := []uint32{12, 40, 7, 7, 99}
	ys := []uint32{3, 1000, 250}

	got := CombineStats(statsOf(xs...), statsOf(ys...))
	mean, stdev := direct(append(xs, ys...)...)

	assert.Equal(t, uint32(8), got.N)
	assert.Equal(t, uint32(3), got.Min)
	assert.Equal(t, uint32(1000), got.Max)
	assert.InDelta(t, mean, got.Mean, 1e-9)
	assert.InDelta(t, stdev, got.Stdev, 1e-6)

	// empty sides are identities
	assert.Equal(t, statsOf(xs...), CombineStats(model.Stats{}, statsOf(xs...)))
	assert.Equal(t, statsOf(xs...), CombineStats(statsOf(xs...), model.Stats{}))
}

func TestHistogramFlooring(t *testing.T) {
	a := model.Stats{N: 1000, Min: 1, Max: 1, Mean: 1}
	a.Hist[0] = 255
	b := model.Stats{N: 1, Min: 9, Max: 9, Mean: 9}
	b.Hist[1] = 1

	got := CombineStats(a, b)
	assert.Equal(t, uint8(255), got.Hist[0])
	assert.Equal(t, uint8(1), got.Hist[1])
	assert.Zero(t, got.Hist[2])

	h := SumHist([8]uint8{100, 0, 50}, [8]uint8{100, 0, 0, 3})
	assert.Equal(t, [8]uint8{255, 0, 64, 4, 0, 0, 0, 0}, h)
}

func TestMergeTimeExpands(t *testing.T) {
	point := func(us int64) *model.Record {
		r := flowRecord("10.0.0.1", "10.0.0.2", 1)
		tm := r.UseTime()
		tm.Encoding = model.TimeAbsTimestamp
		tm.Fields = model.TimeSrcStart | model.TimeSrcEnd
		tm.Src = model.TimeRange{Start: us, End: us}
		return r
	}
	a := point(100)
	Merge(a, point(100))
	assert.Equal(t, model.TimeAbsTimestamp, a.Time.Encoding)

	Merge(a, point(250))
	assert.Equal(t, model.TimeAbsRange, a.Time.Encoding)
	assert.Equal(t, model.TimeRange{Start: 100, End: 250}, a.Time.Src)

	Merge(a, point(40))
	assert.Equal(t, model.TimeRange{Start: 40, End: 250}, a.Time.Src)
}

func TestIntersectAndSubtractTime(t *testing.T) {
	ranged := func(s, e int64) *model.Record {
		r := flowRecord("10.0.0.1", "10.0.0.2", 1)
		tm := r.UseTime()
		tm.Encoding = model.TimeAbsRange
		tm.Fields = model.TimeSrcStart | model.TimeSrcEnd
		tm.Src = model.TimeRange{Start: s, End: e}
		return r
	}
	a := ranged(100, 300)
	Intersect(a, ranged(200, 400))
	assert.Equal(t, model.TimeRange{Start: 200, End: 300}, a.Time.Src)

	a = ranged(100, 300)
	Subtract(a, ranged(200, 400))
	assert.Equal(t, model.TimeRange{Start: 100, End: 200}, a.Time.Src)

	a = ranged(100, 300)
	Subtract(a, ranged(50, 150))
	assert.Equal(t, model.TimeRange{Start: 150, End: 300}, a.Time.Src)
}

func TestMergeLabels(t *testing.T) {
	cases := []struct{ a, b, want string }{
		{"", "web", "web"},
		{"web", "", "web"},
		{"web", "web", "web"},
		{"web:dns", "dns:mail", "web:dns:mail"},
		{"a::b", "c", "a:b:c"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, MergeLabels(tc.a, tc.b), "%q + %q", tc.a, tc.b)
	}

	a := flowRecord("10.0.0.1", "10.0.0.2", 1)
	a.UseLabel().Set("web")
	b := flowRecord("10.0.0.1", "10.0.0.2", 1)
	b.UseLabel().Set("dns")
	Merge(a, b)
	assert.Equal(t, "web:dns", a.Label.String())
}

func TestMergeTCP(t *testing.T) {
	tcp := func(seqbase, bytes uint32, state uint32) *model.Record {
		r := flowRecord("10.0.0.1", "10.0.0.2", 1)
		n := r.UseNetwork()
		n.Kind = model.NetTCP
		n.TCP.State = state
		n.TCP.Src = model.TCPObject{Seqbase: seqbase, Bytes: bytes, Win: 1024, Flags: model.TCPFlagACK}
		return r
	}

	a := tcp(5000, 10, model.TCPSawSyn)
	Merge(a, tcp(4000, 20, model.TCPConEstablished))
	src := a.Network.TCP.Src
	assert.Equal(t, uint32(4000), src.Seqbase)
	assert.Equal(t, uint32(30), src.Bytes)
	assert.Zero(t, src.AckBytes)
	assert.Equal(t, model.TCPSawSyn|model.TCPConEstablished, a.Network.TCP.State)

	// a base far below the current one is a wrap
	a = tcp(0xFFFFFF00, 0, 0)
	Merge(a, tcp(0x100, 0, 0))
	src = a.Network.TCP.Src
	assert.Equal(t, uint32(0x100), src.Seqbase)
	assert.Equal(t, uint32(0x100), src.AckBytes)

	a = tcp(5000, 10, model.TCPSawSyn)
	Subtract(a, tcp(5000, 30, model.TCPSawSyn))
	assert.Zero(t, a.Network.TCP.Src.Bytes)
	assert.Zero(t, a.Network.TCP.State)
}

func TestMergeCorrelateDedups(t *testing.T) {
	a := flowRecord("10.0.0.1", "10.0.0.2", 1)
	c := a.UseCorrelate()
	c.Count = 1
	c.Entries[0] = model.CorrelateEntry{SrcID: 7, SrcPkts: 1}

	b := flowRecord("10.0.0.1", "10.0.0.2", 1)
	d := b.UseCorrelate()
	d.Count = 2
	d.Entries[0] = model.CorrelateEntry{SrcID: 7, SrcPkts: 2}
	d.Entries[1] = model.CorrelateEntry{SrcID: 9, DstPkts: 4}

	Merge(a, b)
	require.Equal(t, uint8(2), a.Correlate.Count)
	assert.Equal(t, int32(3), a.Correlate.Entries[0].SrcPkts)
	assert.Equal(t, uint32(9), a.Correlate.Entries[1].SrcID)
}

func TestIntersectKeepsEqualFields(t *testing.T) {
	a := flowRecord("10.0.0.1", "10.0.0.2", 1)
	a.UseMAC().EtherType = 0x0800
	a.UseScore().Values[0] = 4
	b := flowRecord("10.0.0.1", "10.0.0.2", 1)
	b.UseMAC().EtherType = 0x0800
	b.UseScore().Values[0] = 5

	Intersect(a, b)
	assert.Equal(t, uint16(0x0800), a.MAC.EtherType)
	assert.Zero(t, a.Score.Values[0])

	a.Score.Values[0] = 5
	Subtract(a, b)
	assert.Zero(t, a.MAC.EtherType)
	assert.Zero(t, a.Score.Values[0])
}
