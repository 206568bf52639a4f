package protocol

import "Go2FlowSpectra/internal/model"

// wire order of the time sub-fields
var timeFieldOrder = [4]uint8{model.TimeSrcStart, model.TimeSrcEnd, model.TimeDstStart, model.TimeDstEnd}

func decodeTime(st *state, h dsrHeader, c *cursor, rec *model.Record) error {
	enc := model.TimeEncoding(h.Subtype & timeEncodingMask)
	fields := (h.Subtype >> timeFieldShift) & 0x0F
	if enc < model.TimeAbsTimestamp || enc > model.TimeRelRange || fields == 0 {
		return errSkipDSR
	}
	nano := h.Qualifier&timeNanoseconds != 0

	var vals [4]int64
	switch enc {
	case model.TimeAbsTimestamp, model.TimeAbsRange:
		for i, bit := range timeFieldOrder {
			if fields&bit != 0 {
				vals[i] = readAbsTime(c, nano)
			}
		}
	default:
		anchor := model.TimeSrcStart
		if fields&model.TimeSrcStart == 0 {
			anchor = model.TimeDstStart
		}
		// the anchor may follow offsets on the wire, so read everything first
		var offs [4]int64
		var base int64
		haveBase := fields&anchor != 0
		for i, bit := range timeFieldOrder {
			if fields&bit == 0 {
				continue
			}
			if bit == anchor {
				base = readAbsTime(c, nano)
				continue
			}
			offs[i] = int64(int32(c.u32()))
			if nano {
				offs[i] /= 1000
			}
		}

		// starts first: range ends may refer to their own direction's start
		order := [4]int{0, 2, 1, 3}
		for _, i := range order {
			bit := timeFieldOrder[i]
			if fields&bit == 0 {
				continue
			}
			if bit == anchor {
				vals[i] = base
				continue
			}
			ref := base
			if enc == model.TimeRelRange {
				switch bit {
				case model.TimeSrcEnd:
					if fields&model.TimeSrcStart != 0 {
						ref = vals[0]
					}
				case model.TimeDstEnd:
					if fields&model.TimeDstStart != 0 {
						ref = vals[2]
					}
				}
			}
			if !haveBase {
				// no start anchor: offsets resolve against zero
				ref = 0
			}
			vals[i] = ref + offs[i]
		}
	}

	t := rec.UseTime()
	if fields&(model.TimeSrcStart|model.TimeSrcEnd) != 0 {
		t.Src = repairRange(vals[0], vals[1], fields&model.TimeSrcStart != 0, fields&model.TimeSrcEnd != 0)
		t.Fields |= model.TimeSrcStart | model.TimeSrcEnd
	}
	if fields&(model.TimeDstStart|model.TimeDstEnd) != 0 {
		t.Dst = repairRange(vals[2], vals[3], fields&model.TimeDstStart != 0, fields&model.TimeDstEnd != 0)
		t.Fields |= model.TimeDstStart | model.TimeDstEnd
	}
	t.Encoding = model.TimeAbsRange
	if t.IsPoint() {
		t.Encoding = model.TimeAbsTimestamp
	}
	return nil
}

func readAbsTime(c *cursor, nano bool) int64 {
	sec := int64(c.u32())
	frac := int64(c.u32())
	if nano {
		frac /= 1000
	}
	return sec*1_000_000 + frac
}

// repairRange fills a missing or zero end from the start (and vice versa) and
// swaps an inverted range.
func repairRange(start, end int64, haveStart, haveEnd bool) model.TimeRange {
	if !haveStart || start == 0 {
		start = end
	}
	if !haveEnd || end == 0 {
		end = start
	}
	if end < start {
		start, end = end, start
	}
	return model.TimeRange{Start: start, End: end}
}

func encodeTime(rec *model.Record, w *writer) (subtype, qualifier uint8) {
	t := rec.Time
	point := t.IsPoint()
	var fields uint8
	emit := func(startBit, endBit uint8, r model.TimeRange) {
		fields |= startBit
		writeAbsTime(w, r.Start)
		if !point {
			fields |= endBit
			writeAbsTime(w, r.End)
		}
	}
	if t.HasSrc() {
		emit(model.TimeSrcStart, model.TimeSrcEnd, t.Src)
	}
	if t.HasDst() {
		emit(model.TimeDstStart, model.TimeDstEnd, t.Dst)
	}
	enc := model.TimeAbsRange
	if point {
		enc = model.TimeAbsTimestamp
	}
	return uint8(enc) | fields<<timeFieldShift, 0
}

func writeAbsTime(w *writer, us int64) {
	w.u32(uint32(us / 1_000_000))
	w.u32(uint32(us % 1_000_000))
}
