package merge

import (
	"math"

	"Go2FlowSpectra/internal/model"
)

// minWindow is used when neither side advertised a window.
const minWindow = 65535

func combineNetwork(o Op, a, b *model.Record) {
	na, nb := a.Network, b.Network
	switch {
	case nb.Kind == 0:
		return
	case na.Kind == 0 && o == OpMerge:
		*na = *nb
		return
	case na.Kind != nb.Kind:
		if o == OpIntersect {
			*na = model.Network{}
		}
		return
	}

	if o != OpMerge {
		if na.Kind == model.NetTCP {
			reduceTCP(o, &na.TCP, &nb.TCP)
			return
		}
		reduce(o, na, nb)
		return
	}

	switch na.Kind {
	case model.NetTCP:
		mergeTCP(&na.TCP, &nb.TCP)
	case model.NetRTP:
		x, y := &na.RTP, &nb.RTP
		x.SrcSSRC = same(x.SrcSSRC, y.SrcSSRC)
		x.DstSSRC = same(x.DstSSRC, y.DstSSRC)
		x.SrcSeq, x.DstSeq = y.SrcSeq, y.DstSeq
		x.SrcDrops += y.SrcDrops
		x.DstDrops += y.DstDrops
	case model.NetRTCP:
		x, y := &na.RTCP, &nb.RTCP
		x.SrcSSRC = same(x.SrcSSRC, y.SrcSSRC)
		x.DstSSRC = same(x.DstSSRC, y.DstSSRC)
		x.SrcLost += y.SrcLost
		x.DstLost += y.DstLost
	case model.NetUDT:
		x, y := &na.UDT, &nb.UDT
		x.Status |= y.Status
		x.Drops += y.Drops
		x.Retrans += y.Retrans
	case model.NetESP:
		x, y := &na.ESP, &nb.ESP
		x.Status |= y.Status
		x.SPI = same(x.SPI, y.SPI)
		x.LastSeq = max(x.LastSeq, y.LastSeq)
		x.Count += y.Count
		x.Lost += y.Lost
	}
}

func mergeTCP(x, y *model.TCP) {
	x.State |= y.State
	x.Options |= y.Options
	if x.SynAck == 0 {
		x.SynAck = y.SynAck
	}
	if x.AckDat == 0 {
		x.AckDat = y.AckDat
	}
	mergeTCPObject(&x.Src, &y.Src)
	mergeTCPObject(&x.Dst, &y.Dst)
}

func mergeTCPObject(x, y *model.TCPObject) {
	mergeSeqbase(x, y)
	x.Status |= y.Status
	x.Flags |= y.Flags
	x.Bytes += y.Bytes
	x.Retrans += y.Retrans
	x.AckBytes += y.AckBytes
	x.Dups += y.Dups
	x.Winnum += y.Winnum
	if y.Seq != 0 {
		x.Seq = y.Seq
	}
	if y.Ack != 0 {
		x.Ack = y.Ack
	}
	if y.Win != 0 {
		x.Win = y.Win
	}
	x.WinShift = max(x.WinShift, y.WinShift)
}

// mergeSeqbase keeps the lower sequence base. A base that is lower by more than
// one window is a sequence wrap: the newer base wins and the bytes up to the wrap
// point are carried in AckBytes.
func mergeSeqbase(x, y *model.TCPObject) {
	switch {
	case y.Seqbase == 0:
		return
	case x.Seqbase == 0:
		x.Seqbase = y.Seqbase
		return
	case y.Seqbase >= x.Seqbase:
		return
	}
	if x.Seqbase-y.Seqbase > window(x, y) {
		x.AckBytes += math.MaxUint32 - x.Seqbase + 1
	}
	x.Seqbase = y.Seqbase
}

func window(x, y *model.TCPObject) uint32 {
	scaled := func(o *model.TCPObject) uint32 {
		return uint32(o.Win) << min(o.WinShift, 14)
	}
	return max(scaled(x), scaled(y), minWindow)
}

func reduceTCP(o Op, x, y *model.TCP) {
	for _, p := range [...][2]*model.TCPObject{{&x.Src, &y.Src}, {&x.Dst, &y.Dst}} {
		d, s := p[0], p[1]
		d.Bytes = sub32(d.Bytes, s.Bytes)
		d.Retrans = sub32(d.Retrans, s.Retrans)
		d.AckBytes = sub32(d.AckBytes, s.AckBytes)
		d.Dups = sub32(d.Dups, s.Dups)
		d.Winnum = sub32(d.Winnum, s.Winnum)
		if o == OpIntersect {
			d.Status &= s.Status
			d.Flags &= s.Flags
		} else {
			d.Status &^= s.Status
			d.Flags &^= s.Flags
		}
	}
	if o == OpIntersect {
		x.State &= y.State
		x.Options &= y.Options
	} else {
		x.State &^= y.State
		x.Options &^= y.Options
	}
}

// sub32 decrements an unsigned counter, stopping at zero.
func sub32(a, b uint32) uint32 {
	return a - min(a, b)
}
