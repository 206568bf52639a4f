package protocol

import (
	"math"

	"Go2FlowSpectra/internal/model"
)

// metricLayout describes which directions an encoding carries and at what width.
type metricLayout struct {
	src, dst bool
	width    int
}

var metricLayouts = [...]metricLayout{
	metricSrcDstByte:  {true, true, 1},
	metricSrcDstShort: {true, true, 2},
	metricSrcDstInt:   {true, true, 4},
	metricSrcDstLong:  {true, true, 8},
	metricSrcShort:    {true, false, 2},
	metricSrcInt:      {true, false, 4},
	metricSrcLong:     {true, false, 8},
	metricDstShort:    {false, true, 2},
	metricDstInt:      {false, true, 4},
	metricDstLong:     {false, true, 8},
}

// encodings indexed by counter width
var (
	srcDstByWidth  = [9]uint8{1: metricSrcDstByte, 2: metricSrcDstShort, 4: metricSrcDstInt, 8: metricSrcDstLong}
	srcOnlyByWidth = [9]uint8{2: metricSrcShort, 4: metricSrcInt, 8: metricSrcLong}
	dstOnlyByWidth = [9]uint8{2: metricDstShort, 4: metricDstInt, 8: metricDstLong}
)

func decodeMetric(st *state, h dsrHeader, c *cursor, rec *model.Record) error {
	enc := int(h.Subtype & 0x0F)
	if enc < metricSrcDstByte || enc > metricDstLong {
		return errSkipDSR
	}
	l := metricLayouts[enc]
	app := h.Qualifier&metricAppBytes != 0

	m := rec.UseMetric()
	read := func(ct *model.Counters) {
		ct.Pkts = readCounter(c, l.width)
		ct.Bytes = readCounter(c, l.width)
		if app {
			ct.AppBytes = readCounter(c, l.width)
		}
	}
	if l.src {
		read(&m.Src)
	}
	if l.dst {
		read(&m.Dst)
	}
	return nil
}

// readCounter widens an unsigned wire counter. Only the 8 byte form can carry a
// negative value.
func readCounter(c *cursor, width int) int64 {
	v := c.uint(width)
	return int64(v)
}

func encodeMetric(rec *model.Record, w *writer) (subtype, qualifier uint8) {
	m := rec.Metric
	app := m.Src.AppBytes != 0 || m.Dst.AppBytes != 0
	if app {
		qualifier |= metricAppBytes
	}
	hasSrc := m.Src != (model.Counters{})
	hasDst := m.Dst != (model.Counters{})

	var width int
	var enc uint8
	switch {
	case hasSrc && !hasDst:
		width = counterWidth(m.Src, 2)
		enc = srcOnlyByWidth[width]
	case hasDst && !hasSrc:
		width = counterWidth(m.Dst, 2)
		enc = dstOnlyByWidth[width]
	default:
		width = max(counterWidth(m.Src, 1), counterWidth(m.Dst, 1))
		enc = srcDstByWidth[width]
	}

	l := metricLayouts[enc]
	write := func(ct model.Counters) {
		w.uint(width, uint64(ct.Pkts))
		w.uint(width, uint64(ct.Bytes))
		if app {
			w.uint(width, uint64(ct.AppBytes))
		}
	}
	if l.src {
		write(m.Src)
	}
	if l.dst {
		write(m.Dst)
	}
	return enc, qualifier
}

// counterWidth returns the narrowest wire width, at least floor, holding every counter.
func counterWidth(ct model.Counters, floor int) int {
	width := floor
	for _, v := range [3]int64{ct.Pkts, ct.Bytes, ct.AppBytes} {
		switch {
		case v < 0 || v > math.MaxUint32:
			return 8
		case v > math.MaxUint16:
			width = max(width, 4)
		case v > math.MaxUint8:
			width = max(width, 2)
		}
	}
	return width
}
