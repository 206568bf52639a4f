package protocol

import (
	"math"

	"Go2FlowSpectra/internal/model"
)

// Fixed-layout DSRs. Each decode function reads the payload described in the wire
// format section; the matching encode function writes it back.

const (
	ipattrSrc = 0x01
	ipattrDst = 0x02

	jitterHist = 0x01
	agrHist    = 0x01
	asnInode   = 0x01
	ccInode    = 0x01
	psizeHist  = 0x04

	sizeCorrelateEntry = 24
)

func decodeMAC(st *state, h dsrHeader, c *cursor, rec *model.Record) error {
	m := rec.UseMAC()
	c.copyTo(m.Src[:])
	c.copyTo(m.Dst[:])
	m.EtherType = c.u16()
	return nil
}

func encodeMAC(rec *model.Record, w *writer) (uint8, uint8) {
	m := rec.MAC
	w.bytes(m.Src[:])
	w.bytes(m.Dst[:])
	w.u16(m.EtherType)
	w.u16(0)
	return 0, 0
}

func decodeVLAN(st *state, h dsrHeader, c *cursor, rec *model.Record) error {
	v := rec.UseVLAN()
	v.Flags = h.Subtype & (model.VLANSrc | model.VLANDst)
	v.Src = c.u16()
	v.Dst = c.u16()
	return nil
}

func encodeVLAN(rec *model.Record, w *writer) (uint8, uint8) {
	v := rec.VLAN
	w.u16(v.Src)
	w.u16(v.Dst)
	return v.Flags, 0
}

func decodeMPLS(st *state, h dsrHeader, c *cursor, rec *model.Record) error {
	m := rec.UseMPLS()
	m.SrcCount = h.Subtype & 0x0F
	m.DstCount = h.Subtype >> 4
	// only the top label of each stack is kept
	for i := uint8(0); i < m.SrcCount; i++ {
		if v := c.u32(); i == 0 {
			m.SrcLabel = v
		}
	}
	for i := uint8(0); i < m.DstCount; i++ {
		if v := c.u32(); i == 0 {
			m.DstLabel = v
		}
	}
	return nil
}

func encodeMPLS(rec *model.Record, w *writer) (uint8, uint8) {
	m := rec.MPLS
	var sc, dc uint8
	if m.SrcCount > 0 {
		sc = 1
		w.u32(m.SrcLabel)
	}
	if m.DstCount > 0 {
		dc = 1
		w.u32(m.DstLabel)
	}
	return sc | dc<<4, 0
}

func decodeICMP(st *state, h dsrHeader, c *cursor, rec *model.Record) error {
	i := rec.UseICMP()
	i.Type = c.u8()
	i.Code = c.u8()
	i.Seq = c.u16()
	i.OrigSrc = c.u32()
	i.OrigDst = c.u32()
	i.InnerSrc = c.u32()
	i.Gateway = c.u32()
	i.InnerDst = c.u32()
	return nil
}

func encodeICMP(rec *model.Record, w *writer) (uint8, uint8) {
	i := rec.ICMP
	w.u8(i.Type)
	w.u8(i.Code)
	w.u16(i.Seq)
	for _, v := range [...]uint32{i.OrigSrc, i.OrigDst, i.InnerSrc, i.Gateway, i.InnerDst} {
		w.u32(v)
	}
	return 0, 0
}

func decodeIPAttr(st *state, h dsrHeader, c *cursor, rec *model.Record) error {
	a := rec.UseIPAttr()
	read := func(o *model.IPAttrObject) {
		o.TTL = c.u8()
		o.TOS = c.u8()
		o.IPID = c.u16()
		o.Options = c.u32()
	}
	if h.Subtype&ipattrSrc != 0 {
		a.Flags |= model.IPAttrSrc
		read(&a.Src)
	}
	if h.Subtype&ipattrDst != 0 {
		a.Flags |= model.IPAttrDst
		read(&a.Dst)
	}
	return nil
}

func encodeIPAttr(rec *model.Record, w *writer) (uint8, uint8) {
	a := rec.IPAttr
	write := func(o *model.IPAttrObject) {
		w.u8(o.TTL)
		w.u8(o.TOS)
		w.u16(o.IPID)
		w.u32(o.Options)
	}
	var sub uint8
	if a.Flags&model.IPAttrSrc != 0 {
		sub |= ipattrSrc
		write(&a.Src)
	}
	if a.Flags&model.IPAttrDst != 0 {
		sub |= ipattrDst
		write(&a.Dst)
	}
	return sub, 0
}

func decodePSize(st *state, h dsrHeader, c *cursor, rec *model.Record) error {
	p := rec.UsePSize()
	p.Flags = h.Subtype & (model.PSizeSrc | model.PSizeDst | model.PSizeHist)
	hist := h.Subtype&psizeHist != 0
	read := func(o *model.PSizeObject) {
		o.Min = c.u16()
		o.Max = c.u16()
		if hist {
			c.copyTo(o.Hist[:])
		}
	}
	if p.Flags&model.PSizeSrc != 0 {
		read(&p.Src)
	}
	if p.Flags&model.PSizeDst != 0 {
		read(&p.Dst)
	}
	return nil
}

func encodePSize(rec *model.Record, w *writer) (uint8, uint8) {
	p := rec.PSize
	hist := p.Flags&model.PSizeHist != 0
	write := func(o *model.PSizeObject) {
		w.u16(o.Min)
		w.u16(o.Max)
		if hist {
			w.bytes(o.Hist[:])
		}
	}
	if p.Flags&model.PSizeSrc != 0 {
		write(&p.Src)
	}
	if p.Flags&model.PSizeDst != 0 {
		write(&p.Dst)
	}
	return p.Flags, 0
}

func readStats(c *cursor, s *model.Stats, hist bool) {
	s.N = c.u32()
	s.Min = c.u32()
	s.Max = c.u32()
	s.Mean = float64(c.u32())
	s.Stdev = float64(c.u32())
	if hist {
		c.copyTo(s.Hist[:])
	}
}

// writeStats rounds Mean and Stdev to whole microseconds; the wire carries no
// fractions.
func writeStats(w *writer, s *model.Stats, hist bool) {
	w.u32(s.N)
	w.u32(s.Min)
	w.u32(s.Max)
	w.u32(uint32(math.Round(s.Mean)))
	w.u32(uint32(math.Round(s.Stdev)))
	if hist {
		w.bytes(s.Hist[:])
	}
}

var jitterStreams = [4]uint8{model.JitterSrcAct, model.JitterSrcIdle, model.JitterDstAct, model.JitterDstIdle}

func jitterStream(j *model.Jitter, bit uint8) *model.Stats {
	switch bit {
	case model.JitterSrcAct:
		return &j.SrcAct
	case model.JitterSrcIdle:
		return &j.SrcIdle
	case model.JitterDstAct:
		return &j.DstAct
	}
	return &j.DstIdle
}

func decodeJitter(st *state, h dsrHeader, c *cursor, rec *model.Record) error {
	j := rec.UseJitter()
	hist := h.Qualifier&jitterHist != 0
	if hist {
		j.Flags |= model.JitterHist
	}
	for _, bit := range jitterStreams {
		if h.Subtype&bit != 0 {
			j.Flags |= bit
			readStats(c, jitterStream(j, bit), hist)
		}
	}
	return nil
}

func encodeJitter(rec *model.Record, w *writer) (uint8, uint8) {
	j := rec.Jitter
	hist := j.Flags&model.JitterHist != 0
	var sub, qual uint8
	if hist {
		qual = jitterHist
	}
	for _, bit := range jitterStreams {
		if j.Flags&bit != 0 {
			sub |= bit
			writeStats(w, jitterStream(j, bit), hist)
		}
	}
	return sub, qual
}

func decodeAgr(st *state, h dsrHeader, c *cursor, rec *model.Record) error {
	a := rec.UseAgr()
	a.Count = c.u32()
	a.LastStart = int64(c.u64())
	a.Last = int64(c.u64())
	readStats(c, &a.Act, false)
	readStats(c, &a.Idle, false)
	if h.Subtype&agrHist != 0 {
		a.Flags |= model.AgrHist
		c.copyTo(a.Idle.Hist[:])
	}
	return nil
}

func encodeAgr(rec *model.Record, w *writer) (uint8, uint8) {
	a := rec.Agr
	w.u32(a.Count)
	w.u64(uint64(a.LastStart))
	w.u64(uint64(a.Last))
	writeStats(w, &a.Act, false)
	writeStats(w, &a.Idle, false)
	if a.Flags&model.AgrHist != 0 {
		w.bytes(a.Idle.Hist[:])
		return agrHist, 0
	}
	return 0, 0
}

// stringPayload strips the trailing pad declared by the DSR header. The 8-bit
// length form keeps the pad count in the qualifier, the 16-bit form in the low
// subtype bits.
func stringPayload(h dsrHeader, c *cursor) []byte {
	pad := int(h.Qualifier)
	if h.Wide {
		pad = int(h.Subtype & 0x03)
	}
	n := c.remaining() - pad
	if n < 0 {
		n = 0
	}
	return c.take(n)
}

func decodeSrcUser(st *state, h dsrHeader, c *cursor, rec *model.Record) error {
	rec.UseSrcUser().Set(stringPayload(h, c))
	return nil
}

func decodeDstUser(st *state, h dsrHeader, c *cursor, rec *model.Record) error {
	rec.UseDstUser().Set(stringPayload(h, c))
	return nil
}

func encodeUserData(u *model.UserData, w *writer) (uint8, uint8) {
	b := u.Bytes()
	w.bytes(b)
	return 0, uint8((4 - len(b)%4) % 4)
}

func encodeSrcUser(rec *model.Record, w *writer) (uint8, uint8) { return encodeUserData(rec.SrcUser, w) }
func encodeDstUser(rec *model.Record, w *writer) (uint8, uint8) { return encodeUserData(rec.DstUser, w) }

func decodeCorrelate(st *state, h dsrHeader, c *cursor, rec *model.Record) error {
	cr := rec.UseCorrelate()
	for c.remaining() >= sizeCorrelateEntry {
		e := model.CorrelateEntry{
			SrcID:   c.u32(),
			Dur:     int32(c.u32()),
			Start:   int32(c.u32()),
			Last:    int32(c.u32()),
			SrcPkts: int32(c.u32()),
			DstPkts: int32(c.u32()),
		}
		if int(cr.Count) < model.CorrelateMax {
			cr.Entries[cr.Count] = e
			cr.Count++
		}
	}
	return nil
}

func encodeCorrelate(rec *model.Record, w *writer) (uint8, uint8) {
	cr := rec.Correlate
	for _, e := range cr.Entries[:cr.Count] {
		w.u32(e.SrcID)
		for _, v := range [...]int32{e.Dur, e.Start, e.Last, e.SrcPkts, e.DstPkts} {
			w.u32(uint32(v))
		}
	}
	return 0, 0
}

func decodeASN(st *state, h dsrHeader, c *cursor, rec *model.Record) error {
	a := rec.UseASN()
	a.Src = c.u32()
	a.Dst = c.u32()
	if h.Qualifier&asnInode != 0 {
		a.Flags |= model.ASNInode
		a.Inode = c.u32()
	}
	return nil
}

func encodeASN(rec *model.Record, w *writer) (uint8, uint8) {
	a := rec.ASN
	w.u32(a.Src)
	w.u32(a.Dst)
	if a.Flags&model.ASNInode != 0 {
		w.u32(a.Inode)
		return 0, asnInode
	}
	return 0, 0
}

func decodeBehavior(st *state, h dsrHeader, c *cursor, rec *model.Record) error {
	b := rec.UseBehavior()
	b.Src.NStrokes = c.u32()
	b.Src.N = c.u32()
	b.Dst.NStrokes = c.u32()
	b.Dst.N = c.u32()
	return nil
}

func encodeBehavior(rec *model.Record, w *writer) (uint8, uint8) {
	b := rec.Behavior
	w.u32(b.Src.NStrokes)
	w.u32(b.Src.N)
	w.u32(b.Dst.NStrokes)
	w.u32(b.Dst.N)
	return 0, 0
}

func decodeScore(st *state, h dsrHeader, c *cursor, rec *model.Record) error {
	s := rec.UseScore()
	for i := range s.Values {
		s.Values[i] = int8(c.u8())
	}
	return nil
}

func encodeScore(rec *model.Record, w *writer) (uint8, uint8) {
	for _, v := range rec.Score.Values {
		w.u8(uint8(v))
	}
	return 0, 0
}

func decodeCountryCode(st *state, h dsrHeader, c *cursor, rec *model.Record) error {
	cc := rec.UseCountryCode()
	c.copyTo(cc.Src[:])
	c.copyTo(cc.Dst[:])
	if h.Qualifier&ccInode != 0 {
		cc.Flags |= model.CocodeInode
		c.copyTo(cc.Inode[:])
	}
	return nil
}

func encodeCountryCode(rec *model.Record, w *writer) (uint8, uint8) {
	cc := rec.CountryCode
	w.bytes(cc.Src[:])
	w.bytes(cc.Dst[:])
	if cc.Flags&model.CocodeInode != 0 {
		w.bytes(cc.Inode[:])
		w.u16(0)
		return 0, ccInode
	}
	return 0, 0
}

func decodeLabel(st *state, h dsrHeader, c *cursor, rec *model.Record) error {
	rec.UseLabel().Set(string(stringPayload(h, c)))
	return nil
}

func encodeLabel(rec *model.Record, w *writer) (uint8, uint8) {
	s := rec.Label.String()
	w.bytes([]byte(s))
	return 0, uint8((4 - len(s)%4) % 4)
}

func decodeEncaps(st *state, h dsrHeader, c *cursor, rec *model.Record) error {
	e := rec.UseEncaps()
	e.Src = c.u32()
	e.Dst = c.u32()
	return nil
}

func encodeEncaps(rec *model.Record, w *writer) (uint8, uint8) {
	w.u32(rec.Encaps.Src)
	w.u32(rec.Encaps.Dst)
	return 0, 0
}

func decodeGRE(st *state, h dsrHeader, c *cursor, rec *model.Record) error {
	g := rec.UseGRE()
	g.Flags = c.u16()
	g.Proto = c.u16()
	c.copyTo(g.Src[:])
	c.copyTo(g.Dst[:])
	return nil
}

func encodeGRE(rec *model.Record, w *writer) (uint8, uint8) {
	g := rec.GRE
	w.u16(g.Flags)
	w.u16(g.Proto)
	w.bytes(g.Src[:])
	w.bytes(g.Dst[:])
	return 0, 0
}

func decodeGeneve(st *state, h dsrHeader, c *cursor, rec *model.Record) error {
	g := rec.UseGeneve()
	g.VerOpt = c.u8()
	g.Flags = c.u8()
	g.PType = c.u16()
	g.VNI = c.u32()
	return nil
}

func encodeGeneve(rec *model.Record, w *writer) (uint8, uint8) {
	g := rec.Geneve
	w.u8(g.VerOpt)
	w.u8(g.Flags)
	w.u16(g.PType)
	w.u32(g.VNI)
	return 0, 0
}

func decodeNetspatial(st *state, h dsrHeader, c *cursor, rec *model.Record) error {
	n := rec.UseNetspatial()
	n.SrcLoc = c.u8()
	n.DstLoc = c.u8()
	n.SrcNode = c.u8()
	n.DstNode = c.u8()
	return nil
}

func encodeNetspatial(rec *model.Record, w *writer) (uint8, uint8) {
	n := rec.Netspatial
	w.u8(n.SrcLoc)
	w.u8(n.DstLoc)
	w.u8(n.SrcNode)
	w.u8(n.DstNode)
	return 0, 0
}
