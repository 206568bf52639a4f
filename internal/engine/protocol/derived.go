package protocol

import "Go2FlowSpectra/internal/model"

// Derive repairs degenerate time/metric combinations and recomputes rec.Derived.
func Derive(rec *model.Record) {
	repairTime(rec)
	rec.Derived = model.Derived{}

	t, m := rec.Time, rec.Metric
	if t != nil {
		if start, end, ok := t.Bounds(); ok {
			rec.Derived.Dur = float64(end-start) / 1e6
		}
	}
	if m == nil {
		return
	}

	d := &rec.Derived
	if d.Dur > 0 {
		srcDur, dstDur := d.Dur, d.Dur
		if t != nil && t.HasSrc() && t.Src.End > t.Src.Start {
			srcDur = float64(t.Src.End-t.Src.Start) / 1e6
		}
		if t != nil && t.HasDst() && t.Dst.End > t.Dst.Start {
			dstDur = float64(t.Dst.End-t.Dst.Start) / 1e6
		}
		d.SrcRate = float64(m.Src.Pkts) / srcDur
		d.DstRate = float64(m.Dst.Pkts) / dstDur
		d.SrcLoad = float64(m.Src.Bytes*8) / srcDur
		d.DstLoad = float64(m.Dst.Bytes*8) / dstDur
	}

	if app := m.Src.AppBytes + m.Dst.AppBytes; app != 0 {
		d.AppByteRatio = float64(m.Src.AppBytes-m.Dst.AppBytes) / float64(app)
	}

	srcLost, dstLost := lostPackets(rec.Network)
	if srcLost > 0 && m.Src.Pkts > 0 {
		d.SrcLoss = float64(srcLost) * 100 / float64(m.Src.Pkts)
	}
	if dstLost > 0 && m.Dst.Pkts > 0 {
		d.DstLoss = float64(dstLost) * 100 / float64(m.Dst.Pkts)
	}
}

// repairTime drops the time of a direction that saw no packets and fills in the
// time of a direction that saw packets but carries none.
func repairTime(rec *model.Record) {
	t, m := rec.Time, rec.Metric
	if t == nil || m == nil {
		return
	}
	const srcBits = model.TimeSrcStart | model.TimeSrcEnd
	const dstBits = model.TimeDstStart | model.TimeDstEnd

	switch {
	case m.Src.Pkts == 0 && t.HasSrc() && t.HasDst() && m.Dst.Pkts > 0:
		t.Fields &^= srcBits
		t.Src = model.TimeRange{}
	case m.Dst.Pkts == 0 && t.HasDst() && t.HasSrc() && m.Src.Pkts > 0:
		t.Fields &^= dstBits
		t.Dst = model.TimeRange{}
	}
	if m.Src.Pkts > 0 && !t.HasSrc() && t.HasDst() {
		t.Src = t.Dst
		t.Fields |= srcBits
	}
	if m.Dst.Pkts > 0 && !t.HasDst() && t.HasSrc() {
		t.Dst = t.Src
		t.Fields |= dstBits
	}
}

func lostPackets(n *model.Network) (src, dst int64) {
	if n == nil {
		return 0, 0
	}
	switch n.Kind {
	case model.NetTCP:
		return int64(n.TCP.Src.Retrans), int64(n.TCP.Dst.Retrans)
	case model.NetRTP:
		return int64(n.RTP.SrcDrops), int64(n.RTP.DstDrops)
	case model.NetRTCP:
		return int64(n.RTCP.SrcLost), int64(n.RTCP.DstLost)
	case model.NetUDT:
		return int64(n.UDT.Drops), 0
	case model.NetESP:
		return int64(n.ESP.Lost), 0
	}
	return 0, 0
}
