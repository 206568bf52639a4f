package protocol

import (
	"Go2FlowSpectra/internal/model"

	"github.com/google/gopacket/layers"
)

// icmpRequestFor maps ICMP reply types to the request type they answer.
var icmpRequestFor = map[uint8]uint8{
	layers.ICMPv4TypeEchoReply:        layers.ICMPv4TypeEchoRequest,
	layers.ICMPv4TypeTimestampReply:   layers.ICMPv4TypeTimestampRequest,
	layers.ICMPv4TypeInfoReply:        layers.ICMPv4TypeInfoRequest,
	layers.ICMPv4TypeAddressMaskReply: layers.ICMPv4TypeAddressMaskRequest,
}

var icmp6RequestFor = map[uint8]uint8{
	layers.ICMPv6TypeEchoReply: layers.ICMPv6TypeEchoRequest,
}

// wellKnownPort is the highest port treated as a service port.
const wellKnownPort = 1023

// NeedsReversal applies the direction heuristics to a decoded record. TCP records
// are judged by which side sent the SYN and SYN-ACK; TCP and UDP records without
// handshake evidence fall back to service ports; ICMP replies seen without the
// request are turned around.
func NeedsReversal(rec *model.Record) bool {
	f := rec.Flow
	if f == nil || (f.Family != model.FamilyIPv4 && f.Family != model.FamilyIPv6) {
		return false
	}

	switch layers.IPProtocol(f.Proto) {
	case layers.IPProtocolTCP:
		if n := rec.Network; n != nil && n.Kind == model.NetTCP {
			src, dst := n.TCP.Src.Flags, n.TCP.Dst.Flags
			const synack = model.TCPFlagSYN | model.TCPFlagACK
			switch {
			case src&synack == model.TCPFlagSYN:
				return false
			case src&synack == synack:
				return true
			case dst&synack == model.TCPFlagSYN:
				return true
			}
		}
		return servicePortFirst(f)
	case layers.IPProtocolUDP:
		return servicePortFirst(f)
	case layers.IPProtocolICMPv4, layers.IPProtocolICMPv6:
		if _, ok := requestType(f); !ok {
			return false
		}
		m := rec.Metric
		return m != nil && m.Dst.Pkts == 0 && m.Src.Pkts > 0
	}
	return false
}

func servicePortFirst(f *model.Flow) bool {
	return f.Sport <= wellKnownPort && f.Dport > wellKnownPort
}

func requestType(f *model.Flow) (uint8, bool) {
	table := icmpRequestFor
	if layers.IPProtocol(f.Proto) == layers.IPProtocolICMPv6 {
		table = icmp6RequestFor
	}
	t, ok := table[uint8(f.Sport)]
	return t, ok
}

// Reversed returns a new record describing the same flow from the opposite
// endpoint. rec is not modified. ICMP reply types are mapped to their request type
// so both halves of an exchange key identically.
func Reversed(rec *model.Record) *model.Record {
	out := rec.Clone()

	if f := out.Flow; f != nil {
		reverseFlow(f)
		if isICMP(f.Proto) {
			if t, ok := requestType(f); ok {
				f.Sport = uint16(t)
			}
		}
	}
	if m := out.Metric; m != nil {
		m.Src, m.Dst = m.Dst, m.Src
	}
	if t := out.Time; t != nil {
		t.Src, t.Dst = t.Dst, t.Src
		t.Fields = swapBits(t.Fields, model.TimeSrcStart, model.TimeDstStart)
		t.Fields = swapBits(t.Fields, model.TimeSrcEnd, model.TimeDstEnd)
	}
	if n := out.Network; n != nil {
		switch n.Kind {
		case model.NetTCP:
			n.TCP.Src, n.TCP.Dst = n.TCP.Dst, n.TCP.Src
		case model.NetRTP:
			r := &n.RTP
			r.SrcSSRC, r.DstSSRC = r.DstSSRC, r.SrcSSRC
			r.SrcSeq, r.DstSeq = r.DstSeq, r.SrcSeq
			r.SrcDrops, r.DstDrops = r.DstDrops, r.SrcDrops
		case model.NetRTCP:
			r := &n.RTCP
			r.SrcSSRC, r.DstSSRC = r.DstSSRC, r.SrcSSRC
			r.SrcLost, r.DstLost = r.DstLost, r.SrcLost
		}
	}
	if m := out.MAC; m != nil {
		m.Src, m.Dst = m.Dst, m.Src
	}
	if v := out.VLAN; v != nil {
		v.Src, v.Dst = v.Dst, v.Src
		v.Flags = swapBits(v.Flags, model.VLANSrc, model.VLANDst)
	}
	if m := out.MPLS; m != nil {
		m.SrcCount, m.DstCount = m.DstCount, m.SrcCount
		m.SrcLabel, m.DstLabel = m.DstLabel, m.SrcLabel
	}
	if a := out.IPAttr; a != nil {
		a.Src, a.Dst = a.Dst, a.Src
		a.Flags = swapBits(a.Flags, model.IPAttrSrc, model.IPAttrDst)
	}
	if p := out.PSize; p != nil {
		p.Src, p.Dst = p.Dst, p.Src
		p.Flags = swapBits(p.Flags, model.PSizeSrc, model.PSizeDst)
	}
	if j := out.Jitter; j != nil {
		j.SrcAct, j.DstAct = j.DstAct, j.SrcAct
		j.SrcIdle, j.DstIdle = j.DstIdle, j.SrcIdle
		j.Flags = swapBits(j.Flags, model.JitterSrcAct, model.JitterDstAct)
		j.Flags = swapBits(j.Flags, model.JitterSrcIdle, model.JitterDstIdle)
	}
	if a := out.ASN; a != nil {
		a.Src, a.Dst = a.Dst, a.Src
	}
	if c := out.CountryCode; c != nil {
		c.Src, c.Dst = c.Dst, c.Src
	}
	if b := out.Behavior; b != nil {
		b.Src, b.Dst = b.Dst, b.Src
	}
	if e := out.Encaps; e != nil {
		e.Src, e.Dst = e.Dst, e.Src
	}
	if g := out.GRE; g != nil {
		g.Src, g.Dst = g.Dst, g.Src
	}
	if n := out.Netspatial; n != nil {
		n.SrcLoc, n.DstLoc = n.DstLoc, n.SrcLoc
		n.SrcNode, n.DstNode = n.DstNode, n.SrcNode
	}

	out.Drop(model.IdxSrcUser)
	out.Drop(model.IdxDstUser)
	if rec.SrcUser != nil {
		*out.UseDstUser() = *rec.SrcUser
	}
	if rec.DstUser != nil {
		*out.UseSrcUser() = *rec.DstUser
	}

	d := &out.Derived
	d.SrcRate, d.DstRate = d.DstRate, d.SrcRate
	d.SrcLoad, d.DstLoad = d.DstLoad, d.SrcLoad
	d.SrcLoss, d.DstLoss = d.DstLoss, d.SrcLoss
	d.AppByteRatio = -d.AppByteRatio
	return out
}

func swapBits(v, a, b uint8) uint8 {
	hasA, hasB := v&a != 0, v&b != 0
	v &^= a | b
	if hasA {
		v |= b
	}
	if hasB {
		v |= a
	}
	return v
}
