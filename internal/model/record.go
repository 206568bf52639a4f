package model

import (
	"fmt"
	"strings"
)

// Record kinds carried in the high nibble of the header type byte.
const (
	KindFlow       uint8 = 0x10
	KindEvent      uint8 = 0x40
	KindManagement uint8 = 0x80
)

// Record status bits.
const (
	StatusModified  uint8 = 0x01
	StatusCorrected uint8 = 0x02
)

// Header is the decoded record header.
type Header struct {
	Kind    uint8
	Version uint8
	Cause   uint8
	Words   uint16
}

// Mask is a presence bitmask with one bit per Index.
type Mask uint32

// AllSlots has a bit set for every canonical slot.
const AllSlots Mask = 1<<NumSlots - 1

// MaskOf builds a Mask from indexes.
func MaskOf(idx ...Index) Mask {
	var m Mask
	for _, i := range idx {
		m |= 1 << i
	}
	return m
}

func (m Mask) Has(i Index) bool { return m&(1<<i) != 0 }

func (m Mask) String() string {
	var parts []string
	for i := Index(0); i < NumSlots; i++ {
		if m.Has(i) {
			parts = append(parts, i.String())
		}
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// slotStore is the fixed backing storage for every DSR slot of a Record, so
// populating a slot never allocates.
type slotStore struct {
	flow        Flow
	transport   Transport
	time        Time
	metric      Metric
	agr         Agr
	network     Network
	mac         MAC
	vlan        VLAN
	mpls        MPLS
	icmp        ICMP
	ipattr      IPAttr
	psize       PSize
	jitter      Jitter
	srcUser     UserData
	dstUser     UserData
	correlate   Correlate
	asn         ASN
	behavior    Behavior
	score       Score
	countryCode CountryCode
	label       Label
	encaps      Encaps
	gre         GRE
	geneve      Geneve
	netspatial  Netspatial
}

// Record is the canonical in-memory flow record. Each DSR slot is either nil or
// points into the record's own storage, and Present has bit i set exactly when
// slot i is non-nil. Slots are bound with the Use* methods and released with Drop.
type Record struct {
	Header  Header
	Present Mask
	Status  uint8
	Derived Derived

	Flow        *Flow
	Transport   *Transport
	Time        *Time
	Metric      *Metric
	Agr         *Agr
	Network     *Network
	MAC         *MAC
	VLAN        *VLAN
	MPLS        *MPLS
	ICMP        *ICMP
	IPAttr      *IPAttr
	PSize       *PSize
	Jitter      *Jitter
	SrcUser     *UserData
	DstUser     *UserData
	Correlate   *Correlate
	ASN         *ASN
	Behavior    *Behavior
	Score       *Score
	CountryCode *CountryCode
	Label       *Label
	Encaps      *Encaps
	GRE         *GRE
	Geneve      *Geneve
	Netspatial  *Netspatial

	store slotStore
}

// NewRecord returns an empty record.
func NewRecord() *Record {
	return &Record{}
}

// Reset releases every slot and clears the header.
func (r *Record) Reset() {
	*r = Record{}
}

// Clone returns a deep copy whose slots point into its own storage.
func (r *Record) Clone() *Record {
	c := new(Record)
	r.CopyTo(c)
	return c
}

// CopyTo overwrites dst with a deep copy of r.
func (r *Record) CopyTo(dst *Record) {
	if dst == r {
		return
	}
	*dst = *r
	dst.rebind()
}

// rebind points every present slot at the record's own storage.
func (r *Record) rebind() {
	present := r.Present
	r.Present = 0
	for i := Index(0); i < NumSlots; i++ {
		r.release(i)
		if present.Has(i) {
			r.bind(i)
		}
	}
}

// Use binds slot i, zeroing it if it was absent.
func (r *Record) Use(i Index) {
	if r.Present.Has(i) {
		return
	}
	r.zero(i)
	r.bind(i)
}

// Drop releases slot i.
func (r *Record) Drop(i Index) {
	r.release(i)
	r.Present &^= 1 << i
}

// Clear zeroes the contents of slot i while keeping it present.
func (r *Record) Clear(i Index) {
	if r.Present.Has(i) {
		r.zero(i)
	}
}

// Consistent reports whether the presence mask and slot pointers agree.
func (r *Record) Consistent() bool {
	for i := Index(0); i < NumSlots; i++ {
		if (r.Slot(i) != nil) != r.Present.Has(i) {
			return false
		}
	}
	return true
}

// CopySlot makes slot i of r a copy of slot i of from, releasing it when from
// does not carry it.
func (r *Record) CopySlot(i Index, from *Record) {
	if !from.Present.Has(i) {
		r.Drop(i)
		return
	}
	r.Use(i)
	switch i {
	case IdxFlow:
		*r.Flow = *from.Flow
	case IdxTransport:
		*r.Transport = *from.Transport
	case IdxTime:
		*r.Time = *from.Time
	case IdxMetric:
		*r.Metric = *from.Metric
	case IdxAgr:
		*r.Agr = *from.Agr
	case IdxNetwork:
		*r.Network = *from.Network
	case IdxMAC:
		*r.MAC = *from.MAC
	case IdxVLAN:
		*r.VLAN = *from.VLAN
	case IdxMPLS:
		*r.MPLS = *from.MPLS
	case IdxICMP:
		*r.ICMP = *from.ICMP
	case IdxIPAttr:
		*r.IPAttr = *from.IPAttr
	case IdxPSize:
		*r.PSize = *from.PSize
	case IdxJitter:
		*r.Jitter = *from.Jitter
	case IdxSrcUser:
		*r.SrcUser = *from.SrcUser
	case IdxDstUser:
		*r.DstUser = *from.DstUser
	case IdxCorrelate:
		*r.Correlate = *from.Correlate
	case IdxASN:
		*r.ASN = *from.ASN
	case IdxBehavior:
		*r.Behavior = *from.Behavior
	case IdxScore:
		*r.Score = *from.Score
	case IdxCountryCode:
		*r.CountryCode = *from.CountryCode
	case IdxLabel:
		*r.Label = *from.Label
	case IdxEncaps:
		*r.Encaps = *from.Encaps
	case IdxGRE:
		*r.GRE = *from.GRE
	case IdxGeneve:
		*r.Geneve = *from.Geneve
	case IdxNetspatial:
		*r.Netspatial = *from.Netspatial
	}
}

func (r *Record) UseFlow() *Flow               { r.Use(IdxFlow); return r.Flow }
func (r *Record) UseTransport() *Transport     { r.Use(IdxTransport); return r.Transport }
func (r *Record) UseTime() *Time               { r.Use(IdxTime); return r.Time }
func (r *Record) UseMetric() *Metric           { r.Use(IdxMetric); return r.Metric }
func (r *Record) UseAgr() *Agr                 { r.Use(IdxAgr); return r.Agr }
func (r *Record) UseNetwork() *Network         { r.Use(IdxNetwork); return r.Network }
func (r *Record) UseMAC() *MAC                 { r.Use(IdxMAC); return r.MAC }
func (r *Record) UseVLAN() *VLAN               { r.Use(IdxVLAN); return r.VLAN }
func (r *Record) UseMPLS() *MPLS               { r.Use(IdxMPLS); return r.MPLS }
func (r *Record) UseICMP() *ICMP               { r.Use(IdxICMP); return r.ICMP }
func (r *Record) UseIPAttr() *IPAttr           { r.Use(IdxIPAttr); return r.IPAttr }
func (r *Record) UsePSize() *PSize             { r.Use(IdxPSize); return r.PSize }
func (r *Record) UseJitter() *Jitter           { r.Use(IdxJitter); return r.Jitter }
func (r *Record) UseSrcUser() *UserData        { r.Use(IdxSrcUser); return r.SrcUser }
func (r *Record) UseDstUser() *UserData        { r.Use(IdxDstUser); return r.DstUser }
func (r *Record) UseCorrelate() *Correlate     { r.Use(IdxCorrelate); return r.Correlate }
func (r *Record) UseASN() *ASN                 { r.Use(IdxASN); return r.ASN }
func (r *Record) UseBehavior() *Behavior       { r.Use(IdxBehavior); return r.Behavior }
func (r *Record) UseScore() *Score             { r.Use(IdxScore); return r.Score }
func (r *Record) UseCountryCode() *CountryCode { r.Use(IdxCountryCode); return r.CountryCode }
func (r *Record) UseLabel() *Label             { r.Use(IdxLabel); return r.Label }
func (r *Record) UseEncaps() *Encaps           { r.Use(IdxEncaps); return r.Encaps }
func (r *Record) UseGRE() *GRE                 { r.Use(IdxGRE); return r.GRE }
func (r *Record) UseGeneve() *Geneve           { r.Use(IdxGeneve); return r.Geneve }
func (r *Record) UseNetspatial() *Netspatial   { r.Use(IdxNetspatial); return r.Netspatial }

func slot[T any](p *T) any {
	if p == nil {
		return nil
	}
	return p
}

// Slot returns the pointer held in slot i, or nil when absent.
func (r *Record) Slot(i Index) any {
	switch i {
	case IdxFlow:
		return slot(r.Flow)
	case IdxTransport:
		return slot(r.Transport)
	case IdxTime:
		return slot(r.Time)
	case IdxMetric:
		return slot(r.Metric)
	case IdxAgr:
		return slot(r.Agr)
	case IdxNetwork:
		return slot(r.Network)
	case IdxMAC:
		return slot(r.MAC)
	case IdxVLAN:
		return slot(r.VLAN)
	case IdxMPLS:
		return slot(r.MPLS)
	case IdxICMP:
		return slot(r.ICMP)
	case IdxIPAttr:
		return slot(r.IPAttr)
	case IdxPSize:
		return slot(r.PSize)
	case IdxJitter:
		return slot(r.Jitter)
	case IdxSrcUser:
		return slot(r.SrcUser)
	case IdxDstUser:
		return slot(r.DstUser)
	case IdxCorrelate:
		return slot(r.Correlate)
	case IdxASN:
		return slot(r.ASN)
	case IdxBehavior:
		return slot(r.Behavior)
	case IdxScore:
		return slot(r.Score)
	case IdxCountryCode:
		return slot(r.CountryCode)
	case IdxLabel:
		return slot(r.Label)
	case IdxEncaps:
		return slot(r.Encaps)
	case IdxGRE:
		return slot(r.GRE)
	case IdxGeneve:
		return slot(r.Geneve)
	case IdxNetspatial:
		return slot(r.Netspatial)
	}
	return nil
}

func (r *Record) bind(i Index) {
	s := &r.store
	switch i {
	case IdxFlow:
		r.Flow = &s.flow
	case IdxTransport:
		r.Transport = &s.transport
	case IdxTime:
		r.Time = &s.time
	case IdxMetric:
		r.Metric = &s.metric
	case IdxAgr:
		r.Agr = &s.agr
	case IdxNetwork:
		r.Network = &s.network
	case IdxMAC:
		r.MAC = &s.mac
	case IdxVLAN:
		r.VLAN = &s.vlan
	case IdxMPLS:
		r.MPLS = &s.mpls
	case IdxICMP:
		r.ICMP = &s.icmp
	case IdxIPAttr:
		r.IPAttr = &s.ipattr
	case IdxPSize:
		r.PSize = &s.psize
	case IdxJitter:
		r.Jitter = &s.jitter
	case IdxSrcUser:
		r.SrcUser = &s.srcUser
	case IdxDstUser:
		r.DstUser = &s.dstUser
	case IdxCorrelate:
		r.Correlate = &s.correlate
	case IdxASN:
		r.ASN = &s.asn
	case IdxBehavior:
		r.Behavior = &s.behavior
	case IdxScore:
		r.Score = &s.score
	case IdxCountryCode:
		r.CountryCode = &s.countryCode
	case IdxLabel:
		r.Label = &s.label
	case IdxEncaps:
		r.Encaps = &s.encaps
	case IdxGRE:
		r.GRE = &s.gre
	case IdxGeneve:
		r.Geneve = &s.geneve
	case IdxNetspatial:
		r.Netspatial = &s.netspatial
	default:
		return
	}
	r.Present |= 1 << i
}

func (r *Record) release(i Index) {
	switch i {
	case IdxFlow:
		r.Flow = nil
	case IdxTransport:
		r.Transport = nil
	case IdxTime:
		r.Time = nil
	case IdxMetric:
		r.Metric = nil
	case IdxAgr:
		r.Agr = nil
	case IdxNetwork:
		r.Network = nil
	case IdxMAC:
		r.MAC = nil
	case IdxVLAN:
		r.VLAN = nil
	case IdxMPLS:
		r.MPLS = nil
	case IdxICMP:
		r.ICMP = nil
	case IdxIPAttr:
		r.IPAttr = nil
	case IdxPSize:
		r.PSize = nil
	case IdxJitter:
		r.Jitter = nil
	case IdxSrcUser:
		r.SrcUser = nil
	case IdxDstUser:
		r.DstUser = nil
	case IdxCorrelate:
		r.Correlate = nil
	case IdxASN:
		r.ASN = nil
	case IdxBehavior:
		r.Behavior = nil
	case IdxScore:
		r.Score = nil
	case IdxCountryCode:
		r.CountryCode = nil
	case IdxLabel:
		r.Label = nil
	case IdxEncaps:
		r.Encaps = nil
	case IdxGRE:
		r.GRE = nil
	case IdxGeneve:
		r.Geneve = nil
	case IdxNetspatial:
		r.Netspatial = nil
	}
}

func (r *Record) zero(i Index) {
	s := &r.store
	switch i {
	case IdxFlow:
		s.flow = Flow{}
	case IdxTransport:
		s.transport = Transport{}
	case IdxTime:
		s.time = Time{}
	case IdxMetric:
		s.metric = Metric{}
	case IdxAgr:
		s.agr = Agr{}
	case IdxNetwork:
		s.network = Network{}
	case IdxMAC:
		s.mac = MAC{}
	case IdxVLAN:
		s.vlan = VLAN{}
	case IdxMPLS:
		s.mpls = MPLS{}
	case IdxICMP:
		s.icmp = ICMP{}
	case IdxIPAttr:
		s.ipattr = IPAttr{}
	case IdxPSize:
		s.psize = PSize{}
	case IdxJitter:
		s.jitter = Jitter{}
	case IdxSrcUser:
		s.srcUser = UserData{}
	case IdxDstUser:
		s.dstUser = UserData{}
	case IdxCorrelate:
		s.correlate = Correlate{}
	case IdxASN:
		s.asn = ASN{}
	case IdxBehavior:
		s.behavior = Behavior{}
	case IdxScore:
		s.score = Score{}
	case IdxCountryCode:
		s.countryCode = CountryCode{}
	case IdxLabel:
		s.label = Label{}
	case IdxEncaps:
		s.encaps = Encaps{}
	case IdxGRE:
		s.gre = GRE{}
	case IdxGeneve:
		s.geneve = Geneve{}
	case IdxNetspatial:
		s.netspatial = Netspatial{}
	}
}

// String renders a one-line summary of the flow identity and counters.
func (r *Record) String() string {
	var b strings.Builder
	if f := r.Flow; f != nil {
		switch f.Family {
		case FamilyIPv4, FamilyIPv6:
			fmt.Fprintf(&b, "%s:%d -> %s:%d proto %d", f.Src(), f.Sport, f.Dst(), f.Dport, f.Proto)
		default:
			fmt.Fprintf(&b, "%s flow", f.Family)
		}
	} else {
		b.WriteString("<no flow>")
	}
	if m := r.Metric; m != nil {
		fmt.Fprintf(&b, " src %d/%d dst %d/%d", m.Src.Pkts, m.Src.Bytes, m.Dst.Pkts, m.Dst.Bytes)
	}
	return b.String()
}
