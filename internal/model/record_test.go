package model

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordUseAndDrop(t *testing.T) {
	r := NewRecord()
	require.True(t, r.Consistent())

	for i := Index(0); i < NumSlots; i++ {
		r.Use(i)
		assert.True(t, r.Present.Has(i), "slot %s", i)
		assert.NotNil(t, r.Slot(i), "slot %s", i)
		assert.True(t, r.Consistent())
	}
	assert.Equal(t, AllSlots, r.Present)

	for i := Index(0); i < NumSlots; i += 2 {
		r.Drop(i)
		assert.False(t, r.Present.Has(i))
		assert.Nil(t, r.Slot(i))
	}
	assert.True(t, r.Consistent())

	r.Reset()
	assert.Equal(t, Mask(0), r.Present)
	assert.True(t, r.Consistent())
}

func TestRecordUseKeepsExistingValue(t *testing.T) {
	r := NewRecord()
	r.UseMetric().Src.Pkts = 7
	r.Use(IdxMetric)
	assert.Equal(t, int64(7), r.Metric.Src.Pkts)

	r.Clear(IdxMetric)
	require.NotNil(t, r.Metric)
	assert.Equal(t, int64(0), r.Metric.Src.Pkts)

	r.Drop(IdxMetric)
	r.Use(IdxMetric)
	assert.Equal(t, Metric{}, *r.Metric, "a re-bound slot starts zeroed")
}

func TestRecordCloneIsDeep(t *testing.T) {
	r := NewRecord()
	f := r.UseFlow()
	f.Family = FamilyIPv4
	f.SetSrc(netip.MustParseAddr("10.0.0.1"))
	f.SetDst(netip.MustParseAddr("10.0.0.2"))
	r.UseLabel().Set("web")

	c := r.Clone()
	require.True(t, c.Consistent())
	assert.Equal(t, r.Present, c.Present)
	assert.NotSame(t, r.Flow, c.Flow)

	c.Flow.Sport = 99
	c.Label.Set("db")
	assert.Equal(t, uint16(0), r.Flow.Sport)
	assert.Equal(t, "web", r.Label.String())
	assert.Equal(t, "10.0.0.1", c.Flow.Src().String())
}

func TestMask(t *testing.T) {
	m := MaskOf(IdxFlow, IdxMetric, IdxTime)
	assert.True(t, m.Has(IdxFlow))
	assert.True(t, m.Has(IdxTime))
	assert.False(t, m.Has(IdxNetwork))
	assert.Equal(t, "[flow time metric]", m.String())
}

func TestLabelAndUserDataBounds(t *testing.T) {
	var l Label
	long := make([]byte, LabelMax+10)
	for i := range long {
		long[i] = 'a'
	}
	assert.True(t, l.Set(string(long)))
	assert.Len(t, l.String(), LabelMax)
	assert.False(t, l.Set("x\x00\x00"))
	assert.Equal(t, "x", l.String())

	var u UserData
	assert.True(t, u.Set(make([]byte, UserDataMax+1)))
	assert.Len(t, u.Bytes(), UserDataMax)
}

func TestTimeBounds(t *testing.T) {
	tm := Time{
		Fields: TimeSrcStart | TimeSrcEnd | TimeDstStart | TimeDstEnd,
		Src:    TimeRange{Start: 100, End: 200},
		Dst:    TimeRange{Start: 50, End: 150},
	}
	start, end, ok := tm.Bounds()
	require.True(t, ok)
	assert.Equal(t, int64(50), start)
	assert.Equal(t, int64(200), end)
	assert.False(t, tm.IsPoint())

	_, _, ok = (&Time{}).Bounds()
	assert.False(t, ok)
}
