package protocol

import "Go2FlowSpectra/internal/model"

func decodeNetwork(st *state, h dsrHeader, c *cursor, rec *model.Record) error {
	sub := h.Subtype
	if sub == netLegacy {
		// legacy probes tag TCP objects only by size
		switch c.remaining() {
		case sizeTCPStatus:
			sub = netTCPStatus
		case sizeTCPInit:
			sub = netTCPInit
		case sizeTCPPerfV1:
			sub = netTCPPerf
		case sizeTCPPerfV2:
			sub = netTCPPerf
			h.Qualifier |= netTCPv2
		default:
			return errSkipDSR
		}
	}

	n := rec.UseNetwork()
	switch sub {
	case netTCPInit:
		n.Kind = model.NetTCP
		t := &n.TCP
		t.State = c.u32()
		t.Options = c.u32()
		t.Src.Seqbase = c.u32()
		t.Src.Win = c.u16()
		t.Src.Flags = c.u8()
		t.Src.WinShift = c.u8()
	case netTCPStatus:
		n.Kind = model.NetTCP
		n.TCP.State = c.u32()
	case netTCPPerf:
		n.Kind = model.NetTCP
		t := &n.TCP
		t.State = c.u32()
		t.Options = c.u32()
		t.SynAck = c.u32()
		t.AckDat = c.u32()
		if h.Qualifier&netTCPv2 != 0 {
			readTCPObjectV2(c, &t.Src)
			readTCPObjectV2(c, &t.Dst)
		} else {
			readTCPObjectV1(c, &t.Src)
			readTCPObjectV1(c, &t.Dst)
		}
	case netRTP:
		n.Kind = model.NetRTP
		r := &n.RTP
		r.SrcSSRC = c.u32()
		r.DstSSRC = c.u32()
		r.SrcSeq = c.u16()
		r.DstSeq = c.u16()
		r.SrcDrops = c.u32()
		r.DstDrops = c.u32()
	case netRTCP:
		n.Kind = model.NetRTCP
		r := &n.RTCP
		r.SrcSSRC = c.u32()
		r.DstSSRC = c.u32()
		r.SrcLost = c.u32()
		r.DstLost = c.u32()
	case netUDT:
		n.Kind = model.NetUDT
		u := &n.UDT
		u.Version = c.u32()
		u.SockType = c.u32()
		u.SockID = c.u32()
		u.Status = c.u32()
		u.Drops = c.u32()
		u.Retrans = c.u32()
	case netESP:
		n.Kind = model.NetESP
		e := &n.ESP
		e.Status = c.u32()
		e.SPI = c.u32()
		e.LastSeq = c.u32()
		e.Count = c.u32()
		e.Lost = c.u32()
	default:
		rec.Drop(model.IdxNetwork)
		return errSkipDSR
	}
	return nil
}

// readTCPObjectV1 upgrades the 20 byte v1 direction object into the canonical layout.
func readTCPObjectV1(c *cursor, o *model.TCPObject) {
	o.Seqbase = c.u32()
	o.AckBytes = c.u32()
	o.Bytes = c.u32()
	o.Retrans = c.u32()
	o.Win = c.u16()
	o.Flags = c.u8()
	o.WinShift = c.u8()
	if o.Retrans > 0 {
		o.Status |= model.TCPPktsRetrans
	}
}

func readTCPObjectV2(c *cursor, o *model.TCPObject) {
	o.Status = c.u32()
	o.Seqbase = c.u32()
	o.Seq = c.u32()
	o.Ack = c.u32()
	o.Winnum = c.u32()
	o.Bytes = c.u32()
	o.Retrans = c.u32()
	o.AckBytes = c.u32()
	o.Dups = c.u32()
	o.Win = c.u16()
	o.Flags = c.u8()
	o.WinShift = c.u8()
}

func writeTCPObjectV2(w *writer, o *model.TCPObject) {
	w.u32(o.Status)
	w.u32(o.Seqbase)
	w.u32(o.Seq)
	w.u32(o.Ack)
	w.u32(o.Winnum)
	w.u32(o.Bytes)
	w.u32(o.Retrans)
	w.u32(o.AckBytes)
	w.u32(o.Dups)
	w.u16(o.Win)
	w.u8(o.Flags)
	w.u8(o.WinShift)
}

func encodeNetwork(rec *model.Record, w *writer) (subtype, qualifier uint8) {
	n := rec.Network
	switch n.Kind {
	case model.NetTCP:
		t := &n.TCP
		w.u32(t.State)
		w.u32(t.Options)
		w.u32(t.SynAck)
		w.u32(t.AckDat)
		writeTCPObjectV2(w, &t.Src)
		writeTCPObjectV2(w, &t.Dst)
		return netTCPPerf, netTCPv2
	case model.NetRTP:
		r := &n.RTP
		w.u32(r.SrcSSRC)
		w.u32(r.DstSSRC)
		w.u16(r.SrcSeq)
		w.u16(r.DstSeq)
		w.u32(r.SrcDrops)
		w.u32(r.DstDrops)
		return netRTP, 0
	case model.NetRTCP:
		r := &n.RTCP
		w.u32(r.SrcSSRC)
		w.u32(r.DstSSRC)
		w.u32(r.SrcLost)
		w.u32(r.DstLost)
		return netRTCP, 0
	case model.NetUDT:
		u := &n.UDT
		for _, v := range [...]uint32{u.Version, u.SockType, u.SockID, u.Status, u.Drops, u.Retrans} {
			w.u32(v)
		}
		return netUDT, 0
	case model.NetESP:
		e := &n.ESP
		for _, v := range [...]uint32{e.Status, e.SPI, e.LastSeq, e.Count, e.Lost} {
			w.u32(v)
		}
		return netESP, 0
	}
	// an empty network object still round-trips as a status word
	w.u32(0)
	return netTCPStatus, 0
}
