// Package merge combines two observations of one logical flow, DSR by DSR.
//
// Merge folds b into a. Intersect and Subtract reduce a against b. For all three a
// slot absent in both records stays absent. A slot only b carries is copied into
// a by Merge and zero-filled by Intersect and Subtract; a slot only a carries is
// kept by Merge and zeroed by the other two. Flow and Transport are exceptions,
// see their combiners. Counters are decremented by Intersect and Subtract
// without clamping, so asymmetric inputs can produce negative values; unsigned
// counters of other DSRs stop at zero.
package merge

import "Go2FlowSpectra/internal/model"

// Op selects the combination applied to two records.
type Op uint8

const (
	OpMerge Op = iota
	OpIntersect
	OpSubtract
)

func (o Op) String() string {
	switch o {
	case OpMerge:
		return "merge"
	case OpIntersect:
		return "intersect"
	case OpSubtract:
		return "subtract"
	}
	return "unknown"
}

// combiner handles a slot present in both records.
type combiner func(o Op, a, b *model.Record)

var combiners = [model.NumSlots]combiner{
	model.IdxFlow:        combineFlow,
	model.IdxTransport:   combineTransport,
	model.IdxTime:        combineTime,
	model.IdxMetric:      combineMetric,
	model.IdxAgr:         combineAgr,
	model.IdxNetwork:     combineNetwork,
	model.IdxMAC:         combineMAC,
	model.IdxVLAN:        combineVLAN,
	model.IdxMPLS:        combineMPLS,
	model.IdxICMP:        combineICMP,
	model.IdxIPAttr:      combineIPAttr,
	model.IdxPSize:       combinePSize,
	model.IdxJitter:      combineJitter,
	model.IdxSrcUser:     combineUser(model.IdxSrcUser),
	model.IdxDstUser:     combineUser(model.IdxDstUser),
	model.IdxCorrelate:   combineCorrelate,
	model.IdxASN:         combineASN,
	model.IdxBehavior:    combineBehavior,
	model.IdxScore:       combineScore,
	model.IdxCountryCode: combineCountryCode,
	model.IdxLabel:       combineLabel,
	model.IdxEncaps:      combineEncaps,
	model.IdxGRE:         combineGRE,
	model.IdxGeneve:      combineGeneve,
	model.IdxNetspatial:  combineNetspatial,
}

// Merge folds b into a.
func Merge(a, b *model.Record) { Apply(OpMerge, a, b) }

// Intersect reduces a to what it has in common with b.
func Intersect(a, b *model.Record) { Apply(OpIntersect, a, b) }

// Subtract removes b's contribution from a.
func Subtract(a, b *model.Record) { Apply(OpSubtract, a, b) }

// Apply runs o over every slot and marks a as modified. b is not changed.
func Apply(o Op, a, b *model.Record) {
	for i := model.Index(0); i < model.NumSlots; i++ {
		inA, inB := a.Present.Has(i), b.Present.Has(i)
		switch {
		case !inA && !inB:
		case inA && inB:
			combiners[i](o, a, b)
		case inB:
			onlyInB(o, a, b, i)
		default:
			onlyInA(o, a, i)
		}
	}
	a.Status |= model.StatusModified
}

func onlyInB(o Op, a, b *model.Record, i model.Index) {
	if o == OpMerge || i == model.IdxFlow {
		a.CopySlot(i, b)
		return
	}
	if i == model.IdxTransport {
		return
	}
	a.Use(i)
}

func onlyInA(o Op, a *model.Record, i model.Index) {
	switch {
	case o == OpMerge, i == model.IdxFlow:
	case i == model.IdxTransport:
		a.Drop(i)
	default:
		a.Clear(i)
	}
}

// reduce applies the non-counter rule of Intersect and Subtract to a comparable
// slot value: intersect keeps a value equal in both, subtract keeps a value that
// differs.
func reduce[T comparable](o Op, a, b *T) {
	var zero T
	switch o {
	case OpIntersect:
		if *a != *b {
			*a = zero
		}
	case OpSubtract:
		if *a == *b {
			*a = zero
		}
	}
}

// same returns v when it equals w, otherwise the zero value.
func same[T comparable](v, w T) T {
	if v == w {
		return v
	}
	var zero T
	return zero
}

func combineFlow(o Op, a, b *model.Record) {
	fa, fb := a.Flow, b.Flow
	if o == OpSubtract || fa.Family != fb.Family {
		return
	}
	switch fa.Family {
	case model.FamilyIPv4, model.FamilyIPv6, model.FamilyARP:
		n := fa.AddrLen()
		fa.SrcAddr, fa.SrcMask = MergeAddr(fa.SrcAddr, fb.SrcAddr, n, fa.SrcMask, fb.SrcMask)
		fa.DstAddr, fa.DstMask = MergeAddr(fa.DstAddr, fb.DstAddr, n, fa.DstMask, fb.DstMask)
	case model.FamilyRARP:
		fa.DstAddr = same(fa.DstAddr, fb.DstAddr)
	}
	fa.Kind = same(fa.Kind, fb.Kind)
	fa.Proto = same(fa.Proto, fb.Proto)
	fa.TOS = same(fa.TOS, fb.TOS)
	fa.Sport = same(fa.Sport, fb.Sport)
	fa.Dport = same(fa.Dport, fb.Dport)
	fa.ICMPID = same(fa.ICMPID, fb.ICMPID)
	fa.IPID = same(fa.IPID, fb.IPID)
	fa.SPI = same(fa.SPI, fb.SPI)
	fa.FlowLabel = same(fa.FlowLabel, fb.FlowLabel)
	fa.SrcMAC = same(fa.SrcMAC, fb.SrcMAC)
	fa.DstMAC = same(fa.DstMAC, fb.DstMAC)
	fa.EtherType = same(fa.EtherType, fb.EtherType)
	fa.MPLSLabel = same(fa.MPLSLabel, fb.MPLSLabel)
	fa.VID = same(fa.VID, fb.VID)
	fa.SysID = same(fa.SysID, fb.SysID)
	fa.PDUType = same(fa.PDUType, fb.PDUType)
	fa.BSSID = same(fa.BSSID, fb.BSSID)
	fa.SSID = same(fa.SSID, fb.SSID)
}

func combineTransport(o Op, a, b *model.Record) {
	ta, tb := a.Transport, b.Transport
	if !ta.SameSource(tb) {
		a.Drop(model.IdxTransport)
		return
	}
	if ta.Inf != tb.Inf {
		ta.Inf = [4]byte{}
		ta.Flags &^= model.TransportInf
	}
	if o == OpMerge && tb.Flags&model.TransportSeq != 0 {
		ta.Seq = tb.Seq
		ta.Flags |= model.TransportSeq
	}
}

func combineTime(o Op, a, b *model.Record) {
	ta, tb := a.Time, b.Time
	const srcBits = model.TimeSrcStart | model.TimeSrcEnd
	const dstBits = model.TimeDstStart | model.TimeDstEnd

	switch o {
	case OpMerge:
		if tb.HasSrc() {
			if ta.HasSrc() {
				ta.Src = cover(ta.Src, tb.Src)
			} else {
				ta.Src = tb.Src
			}
			ta.Fields |= srcBits
		}
		if tb.HasDst() {
			if ta.HasDst() {
				ta.Dst = cover(ta.Dst, tb.Dst)
			} else {
				ta.Dst = tb.Dst
			}
			ta.Fields |= dstBits
		}
	case OpIntersect:
		ta.Src = overlap(ta.Src, tb.Src, ta.HasSrc() && tb.HasSrc())
		ta.Dst = overlap(ta.Dst, tb.Dst, ta.HasDst() && tb.HasDst())
	case OpSubtract:
		if ta.HasSrc() && tb.HasSrc() {
			ta.Src = trim(ta.Src, tb.Src)
		}
		if ta.HasDst() && tb.HasDst() {
			ta.Dst = trim(ta.Dst, tb.Dst)
		}
	}
	ta.Encoding = model.TimeAbsTimestamp
	if !ta.IsPoint() {
		ta.Encoding = model.TimeAbsRange
	}
}

func cover(a, b model.TimeRange) model.TimeRange {
	return model.TimeRange{Start: min(a.Start, b.Start), End: max(a.End, b.End)}
}

func overlap(a, b model.TimeRange, both bool) model.TimeRange {
	if !both {
		return a
	}
	r := model.TimeRange{Start: max(a.Start, b.Start), End: min(a.End, b.End)}
	if r.End < r.Start {
		r.End = r.Start
	}
	return r
}

// trim removes the part of a covered by b from whichever end b overlaps.
func trim(a, b model.TimeRange) model.TimeRange {
	switch {
	case b.Start <= a.Start && b.End >= a.End:
		return model.TimeRange{Start: a.Start, End: a.Start}
	case b.Start <= a.Start && b.End > a.Start:
		a.Start = b.End
	case b.Start < a.End && b.End >= a.End:
		a.End = b.Start
	}
	return a
}

func combineCounters(o Op, a *model.Counters, b model.Counters) {
	if o == OpMerge {
		a.Pkts += b.Pkts
		a.Bytes += b.Bytes
		a.AppBytes += b.AppBytes
		return
	}
	a.Pkts -= b.Pkts
	a.Bytes -= b.Bytes
	a.AppBytes -= b.AppBytes
}

func combineMetric(o Op, a, b *model.Record) {
	combineCounters(o, &a.Metric.Src, b.Metric.Src)
	combineCounters(o, &a.Metric.Dst, b.Metric.Dst)
}

func combineAgr(o Op, a, b *model.Record) {
	aa, ab := a.Agr, b.Agr
	if o != OpMerge {
		aa.Count = sub32(aa.Count, ab.Count)
		return
	}
	aa.Count += ab.Count
	aa.LastStart = max(aa.LastStart, ab.LastStart)
	aa.Last = max(aa.Last, ab.Last)
	aa.Act = CombineStats(aa.Act, ab.Act)
	aa.Idle = CombineStats(aa.Idle, ab.Idle)
	aa.Flags |= ab.Flags
}

func combineMAC(o Op, a, b *model.Record) {
	if o != OpMerge {
		reduce(o, a.MAC, b.MAC)
		return
	}
	m, n := a.MAC, b.MAC
	m.Src = same(m.Src, n.Src)
	m.Dst = same(m.Dst, n.Dst)
	m.EtherType = same(m.EtherType, n.EtherType)
}

func combineVLAN(o Op, a, b *model.Record) {
	if o != OpMerge {
		reduce(o, a.VLAN, b.VLAN)
		return
	}
	v, w := a.VLAN, b.VLAN
	v.Src = mergeTagged(v.Flags&model.VLANSrc != 0, v.Src, w.Flags&model.VLANSrc != 0, w.Src)
	v.Dst = mergeTagged(v.Flags&model.VLANDst != 0, v.Dst, w.Flags&model.VLANDst != 0, w.Dst)
	v.Flags |= w.Flags
}

// mergeTagged adopts the other side's value when only it is set, and keeps a
// value only when both sides agree.
func mergeTagged[T comparable](hasA bool, a T, hasB bool, b T) T {
	switch {
	case !hasB:
		return a
	case !hasA:
		return b
	}
	return same(a, b)
}

func combineMPLS(o Op, a, b *model.Record) {
	if o != OpMerge {
		reduce(o, a.MPLS, b.MPLS)
		return
	}
	m, n := a.MPLS, b.MPLS
	m.SrcLabel = mergeTagged(m.SrcCount > 0, m.SrcLabel, n.SrcCount > 0, n.SrcLabel)
	m.DstLabel = mergeTagged(m.DstCount > 0, m.DstLabel, n.DstCount > 0, n.DstLabel)
	m.SrcCount = max(m.SrcCount, n.SrcCount)
	m.DstCount = max(m.DstCount, n.DstCount)
}

func combineICMP(o Op, a, b *model.Record) {
	if o != OpMerge {
		reduce(o, a.ICMP, b.ICMP)
		return
	}
	i, j := a.ICMP, b.ICMP
	i.Type = same(i.Type, j.Type)
	i.Code = same(i.Code, j.Code)
	i.Seq = max(i.Seq, j.Seq)
	i.OrigSrc = same(i.OrigSrc, j.OrigSrc)
	i.OrigDst = same(i.OrigDst, j.OrigDst)
	i.InnerSrc = same(i.InnerSrc, j.InnerSrc)
	i.Gateway = same(i.Gateway, j.Gateway)
	i.InnerDst = same(i.InnerDst, j.InnerDst)
}

func combineIPAttr(o Op, a, b *model.Record) {
	if o != OpMerge {
		reduce(o, a.IPAttr, b.IPAttr)
		return
	}
	x, y := a.IPAttr, b.IPAttr
	merge := func(has, other bool, p *model.IPAttrObject, q model.IPAttrObject) {
		switch {
		case !other:
		case !has:
			*p = q
		default:
			p.TTL = min(p.TTL, q.TTL)
			p.TOS = same(p.TOS, q.TOS)
			p.IPID = q.IPID
			p.Options |= q.Options
		}
	}
	merge(x.Flags&model.IPAttrSrc != 0, y.Flags&model.IPAttrSrc != 0, &x.Src, y.Src)
	merge(x.Flags&model.IPAttrDst != 0, y.Flags&model.IPAttrDst != 0, &x.Dst, y.Dst)
	x.Flags |= y.Flags
}

func combinePSize(o Op, a, b *model.Record) {
	if o != OpMerge {
		reduce(o, a.PSize, b.PSize)
		return
	}
	x, y := a.PSize, b.PSize
	merge := func(has, other bool, p *model.PSizeObject, q model.PSizeObject) {
		switch {
		case !other:
		case !has:
			*p = q
		default:
			p.Min = min(p.Min, q.Min)
			p.Max = max(p.Max, q.Max)
			p.Hist = SumHist(p.Hist, q.Hist)
		}
	}
	merge(x.Flags&model.PSizeSrc != 0, y.Flags&model.PSizeSrc != 0, &x.Src, y.Src)
	merge(x.Flags&model.PSizeDst != 0, y.Flags&model.PSizeDst != 0, &x.Dst, y.Dst)
	x.Flags |= y.Flags
}

func combineJitter(o Op, a, b *model.Record) {
	if o != OpMerge {
		reduce(o, a.Jitter, b.Jitter)
		return
	}
	x, y := a.Jitter, b.Jitter
	x.SrcAct = CombineStats(x.SrcAct, y.SrcAct)
	x.SrcIdle = CombineStats(x.SrcIdle, y.SrcIdle)
	x.DstAct = CombineStats(x.DstAct, y.DstAct)
	x.DstIdle = CombineStats(x.DstIdle, y.DstIdle)
	x.Flags |= y.Flags
}

// combineUser keeps the first observation's user data; later buffers only fill
// in what is missing.
func combineUser(i model.Index) combiner {
	return func(o Op, a, b *model.Record) {
		ua, ub := a.SrcUser, b.SrcUser
		if i == model.IdxDstUser {
			ua, ub = a.DstUser, b.DstUser
		}
		if o != OpMerge {
			reduce(o, ua, ub)
			return
		}
		if ua.Len < ub.Len {
			ua.Set(append(ua.Bytes(), ub.Bytes()[ua.Len:]...))
		}
	}
}

func combineCorrelate(o Op, a, b *model.Record) {
	if o != OpMerge {
		reduce(o, a.Correlate, b.Correlate)
		return
	}
	x, y := a.Correlate, b.Correlate
next:
	for _, e := range y.Entries[:y.Count] {
		for k := range x.Entries[:x.Count] {
			if x.Entries[k].SrcID == e.SrcID {
				x.Entries[k].SrcPkts += e.SrcPkts
				x.Entries[k].DstPkts += e.DstPkts
				x.Entries[k].Last = max(x.Entries[k].Last, e.Last)
				continue next
			}
		}
		if int(x.Count) < model.CorrelateMax {
			x.Entries[x.Count] = e
			x.Count++
		}
	}
}

func combineASN(o Op, a, b *model.Record) {
	if o != OpMerge {
		reduce(o, a.ASN, b.ASN)
		return
	}
	x, y := a.ASN, b.ASN
	x.Src = same(x.Src, y.Src)
	x.Dst = same(x.Dst, y.Dst)
	x.Inode = mergeTagged(x.Flags&model.ASNInode != 0, x.Inode, y.Flags&model.ASNInode != 0, y.Inode)
	x.Flags |= y.Flags
}

func combineBehavior(o Op, a, b *model.Record) {
	x, y := a.Behavior, b.Behavior
	if o == OpMerge {
		x.Src.NStrokes += y.Src.NStrokes
		x.Src.N += y.Src.N
		x.Dst.NStrokes += y.Dst.NStrokes
		x.Dst.N += y.Dst.N
		return
	}
	x.Src.NStrokes = sub32(x.Src.NStrokes, y.Src.NStrokes)
	x.Src.N = sub32(x.Src.N, y.Src.N)
	x.Dst.NStrokes = sub32(x.Dst.NStrokes, y.Dst.NStrokes)
	x.Dst.N = sub32(x.Dst.N, y.Dst.N)
}

func combineScore(o Op, a, b *model.Record) {
	if o != OpMerge {
		reduce(o, a.Score, b.Score)
		return
	}
	for i, v := range b.Score.Values {
		a.Score.Values[i] = max(a.Score.Values[i], v)
	}
}

func combineCountryCode(o Op, a, b *model.Record) {
	if o != OpMerge {
		reduce(o, a.CountryCode, b.CountryCode)
		return
	}
	x, y := a.CountryCode, b.CountryCode
	x.Src = same(x.Src, y.Src)
	x.Dst = same(x.Dst, y.Dst)
	x.Inode = mergeTagged(x.Flags&model.CocodeInode != 0, x.Inode, y.Flags&model.CocodeInode != 0, y.Inode)
	x.Flags |= y.Flags
}

func combineLabel(o Op, a, b *model.Record) {
	if o != OpMerge {
		reduce(o, a.Label, b.Label)
		return
	}
	a.Label.Set(MergeLabels(a.Label.String(), b.Label.String()))
}

func combineEncaps(o Op, a, b *model.Record) {
	x, y := a.Encaps, b.Encaps
	switch o {
	case OpMerge:
		x.Src |= y.Src
		x.Dst |= y.Dst
	case OpIntersect:
		x.Src &= y.Src
		x.Dst &= y.Dst
	case OpSubtract:
		x.Src &^= y.Src
		x.Dst &^= y.Dst
	}
}

func combineGRE(o Op, a, b *model.Record) {
	if o != OpMerge {
		reduce(o, a.GRE, b.GRE)
		return
	}
	x, y := a.GRE, b.GRE
	x.Flags |= y.Flags
	x.Proto = same(x.Proto, y.Proto)
	x.Src = same(x.Src, y.Src)
	x.Dst = same(x.Dst, y.Dst)
}

func combineGeneve(o Op, a, b *model.Record) {
	if o != OpMerge {
		reduce(o, a.Geneve, b.Geneve)
		return
	}
	x, y := a.Geneve, b.Geneve
	x.VerOpt = same(x.VerOpt, y.VerOpt)
	x.Flags |= y.Flags
	x.PType = same(x.PType, y.PType)
	x.VNI = same(x.VNI, y.VNI)
}

func combineNetspatial(o Op, a, b *model.Record) {
	if o != OpMerge {
		reduce(o, a.Netspatial, b.Netspatial)
		return
	}
	*a.Netspatial = same(*a.Netspatial, *b.Netspatial)
}
