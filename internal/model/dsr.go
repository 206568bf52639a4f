package model

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Index identifies a canonical DSR slot of a Record.
type Index uint8

const (
	IdxFlow Index = iota
	IdxTransport
	IdxTime
	IdxMetric
	IdxAgr
	IdxNetwork
	IdxMAC
	IdxVLAN
	IdxMPLS
	IdxICMP
	IdxIPAttr
	IdxPSize
	IdxJitter
	IdxSrcUser
	IdxDstUser
	IdxCorrelate
	IdxASN
	IdxBehavior
	IdxScore
	IdxCountryCode
	IdxLabel
	IdxEncaps
	IdxGRE
	IdxGeneve
	IdxNetspatial

	NumSlots
)

var indexNames = [NumSlots]string{
	"flow", "transport", "time", "metric", "agr", "net", "mac", "vlan", "mpls", "icmp",
	"attr", "psize", "jitter", "suser", "duser", "cor", "asn", "bhv", "score", "cocode",
	"label", "encaps", "gre", "geneve", "local",
}

func (i Index) String() string {
	if i < NumSlots {
		return indexNames[i]
	}
	return "unknown"
}

// ParseIndex returns the slot with the given short name.
func ParseIndex(name string) (Index, error) {
	for i, n := range indexNames {
		if n == name {
			return Index(i), nil
		}
	}
	return 0, fmt.Errorf("unknown record slot '%s'", name)
}

// Family selects the address variant carried by a Flow DSR.
type Family uint8

const (
	FamilyNone Family = iota
	FamilyIPv4
	FamilyIPv6
	FamilyEthernet
	FamilyARP
	FamilyRARP
	FamilyMPLS
	FamilyVLAN
	FamilyISIS
	FamilyWLAN
)

func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	case FamilyEthernet:
		return "ether"
	case FamilyARP:
		return "arp"
	case FamilyRARP:
		return "rarp"
	case FamilyMPLS:
		return "mpls"
	case FamilyVLAN:
		return "vlan"
	case FamilyISIS:
		return "isis"
	case FamilyWLAN:
		return "wlan"
	}
	return "none"
}

// FlowKind distinguishes a full 5-tuple flow from an address-only matrix flow.
type FlowKind uint8

const (
	FlowClassic5Tuple FlowKind = 1
	FlowLayer3Matrix  FlowKind = 2
)

// Flow is the canonical flow identity. Fields are meaningful according to Family:
// IPv4 addresses occupy the first 4 bytes of SrcAddr/DstAddr. For ICMP, Sport holds
// the type and Dport the code. ARP uses SrcAddr/DstAddr for spa/tpa and SrcMAC for sha;
// RARP uses DstAddr for tpa and SrcMAC/DstMAC for the ethernet addresses.
type Flow struct {
	Kind   FlowKind
	Family Family

	SrcAddr   [16]byte
	DstAddr   [16]byte
	SrcMask   uint8
	DstMask   uint8
	Proto     uint8
	TOS       uint8
	Sport     uint16
	Dport     uint16
	ICMPID    uint16
	IPID      uint16
	SPI       uint32
	FlowLabel uint32

	SrcMAC    [6]byte
	DstMAC    [6]byte
	EtherType uint16

	MPLSLabel uint32
	VID       uint16

	SysID   [6]byte
	PDUType uint8

	BSSID [6]byte
	SSID  [32]byte
}

// AddrLen returns the number of significant address bytes for the family.
func (f *Flow) AddrLen() int {
	switch f.Family {
	case FamilyIPv4, FamilyARP, FamilyRARP:
		return 4
	case FamilyIPv6:
		return 16
	}
	return 0
}

// MaxMask is the full prefix length of the flow's address family.
func (f *Flow) MaxMask() uint8 {
	return uint8(f.AddrLen() * 8)
}

// Src returns the source address as a netip.Addr (invalid when the family has none).
func (f *Flow) Src() netip.Addr {
	return addrOf(f.Family, f.SrcAddr)
}

// Dst returns the destination address as a netip.Addr.
func (f *Flow) Dst() netip.Addr {
	return addrOf(f.Family, f.DstAddr)
}

func addrOf(fam Family, b [16]byte) netip.Addr {
	switch fam {
	case FamilyIPv4, FamilyARP, FamilyRARP:
		return netip.AddrFrom4([4]byte{b[0], b[1], b[2], b[3]})
	case FamilyIPv6:
		return netip.AddrFrom16(b)
	}
	return netip.Addr{}
}

// SetSrc stores an address into the source slot; the family is left unchanged.
func (f *Flow) SetSrc(a netip.Addr) {
	f.SrcAddr = addrBytes(a)
}

// SetDst stores an address into the destination slot.
func (f *Flow) SetDst(a netip.Addr) {
	f.DstAddr = addrBytes(a)
}

func addrBytes(a netip.Addr) (out [16]byte) {
	if a.Is4() {
		v := a.As4()
		copy(out[:], v[:])
		return out
	}
	return a.As16()
}

// Transport flag bits.
const (
	TransportSrcID uint8 = 0x01
	TransportSeq   uint8 = 0x02
	TransportInf   uint8 = 0x04
)

// SrcIDType is the encoding of a probe source identifier.
type SrcIDType uint8

const (
	SrcIDNone SrcIDType = iota
	SrcIDInt
	SrcIDIPv4
	SrcIDIPv6
	SrcIDEther
	SrcIDString
	SrcIDUUID
)

// Transport identifies the probe that produced a record.
type Transport struct {
	Flags     uint8
	SrcIDType SrcIDType
	SrcID     [16]byte
	Inf       [4]byte
	Seq       uint32
}

// SameSource reports whether two transports carry an identical source id.
func (t *Transport) SameSource(o *Transport) bool {
	return t.SrcIDType == o.SrcIDType && t.SrcID == o.SrcID
}

// SourceString renders the source id according to its encoding.
func (t *Transport) SourceString() string {
	switch t.SrcIDType {
	case SrcIDInt:
		return strconv.FormatUint(uint64(binary.BigEndian.Uint32(t.SrcID[:4])), 10)
	case SrcIDIPv4:
		return netip.AddrFrom4([4]byte(t.SrcID[:4])).String()
	case SrcIDIPv6:
		return netip.AddrFrom16(t.SrcID).String()
	case SrcIDEther:
		return net.HardwareAddr(t.SrcID[:6]).String()
	case SrcIDString:
		return strings.TrimRight(string(t.SrcID[:4]), "\x00")
	case SrcIDUUID:
		return uuid.UUID(t.SrcID).String()
	}
	return ""
}

// Time sub-field bits.
const (
	TimeSrcStart uint8 = 0x01
	TimeSrcEnd   uint8 = 0x02
	TimeDstStart uint8 = 0x04
	TimeDstEnd   uint8 = 0x08
)

// TimeEncoding is the storage form of a Time DSR.
type TimeEncoding uint8

const (
	TimeAbsTimestamp TimeEncoding = 1
	TimeAbsRange     TimeEncoding = 2
	TimeRelTimestamp TimeEncoding = 3
	TimeRelRange     TimeEncoding = 4
)

// TimeRange is a [Start, End] pair in microseconds since the epoch.
type TimeRange struct {
	Start int64
	End   int64
}

// Time holds per-direction start/end times. Canonical records only carry the
// absolute encodings; relative wire forms are resolved by the decoder.
type Time struct {
	Encoding TimeEncoding
	Fields   uint8
	Src      TimeRange
	Dst      TimeRange
}

// HasSrc reports whether any source sub-field is present.
func (t *Time) HasSrc() bool { return t.Fields&(TimeSrcStart|TimeSrcEnd) != 0 }

// HasDst reports whether any destination sub-field is present.
func (t *Time) HasDst() bool { return t.Fields&(TimeDstStart|TimeDstEnd) != 0 }

// Bounds returns the earliest start and latest end over the present directions.
func (t *Time) Bounds() (start, end int64, ok bool) {
	if t.HasSrc() {
		start, end, ok = t.Src.Start, t.Src.End, true
	}
	if t.HasDst() {
		if !ok || t.Dst.Start < start {
			start = t.Dst.Start
		}
		if !ok || t.Dst.End > end {
			end = t.Dst.End
		}
		ok = true
	}
	return start, end, ok
}

// IsPoint reports whether every present range collapses to a single timestamp.
func (t *Time) IsPoint() bool {
	return (!t.HasSrc() || t.Src.Start == t.Src.End) && (!t.HasDst() || t.Dst.Start == t.Dst.End)
}

// Counters are per-direction traffic totals. They are signed: subtracting a larger
// observation from a smaller one yields negative values.
type Counters struct {
	Pkts     int64
	Bytes    int64
	AppBytes int64
}

// Metric holds source and destination counters.
type Metric struct {
	Src Counters
	Dst Counters
}

// NetworkKind selects which protocol object of a Network DSR is populated.
type NetworkKind uint8

const (
	NetTCP NetworkKind = iota + 1
	NetRTP
	NetRTCP
	NetUDT
	NetESP
)

// TCP state bits carried in TCP.State.
const (
	TCPSawSyn         uint32 = 0x00000001
	TCPSawSynSent     uint32 = 0x00000002
	TCPConEstablished uint32 = 0x00000004
	TCPFin            uint32 = 0x00000008
	TCPFinAck         uint32 = 0x00000010
	TCPNormalClose    uint32 = 0x00000020
	TCPReset          uint32 = 0x00000040
	TCPPktsRetrans    uint32 = 0x00000100
	TCPWindowShut     uint32 = 0x00000200
	TCPOutOfOrder     uint32 = 0x00000400
	TCPDuplicates     uint32 = 0x00000800
)

// TCP header flag bits accumulated in TCPObject.Flags.
const (
	TCPFlagFIN uint8 = 0x01
	TCPFlagSYN uint8 = 0x02
	TCPFlagRST uint8 = 0x04
	TCPFlagPSH uint8 = 0x08
	TCPFlagACK uint8 = 0x10
	TCPFlagURG uint8 = 0x20
	TCPFlagECE uint8 = 0x40
	TCPFlagCWR uint8 = 0x80
)

// TCPObject holds per-direction TCP state in the canonical (v2) layout.
type TCPObject struct {
	Status   uint32
	Seqbase  uint32
	Seq      uint32
	Ack      uint32
	Winnum   uint32
	Bytes    uint32
	Retrans  uint32
	AckBytes uint32
	Dups     uint32
	Win      uint16
	Flags    uint8
	WinShift uint8
}

// TCP is the canonical TCP network object.
type TCP struct {
	State   uint32
	Options uint32
	SynAck  uint32
	AckDat  uint32
	Src     TCPObject
	Dst     TCPObject
}

type RTP struct {
	SrcSSRC  uint32
	DstSSRC  uint32
	SrcSeq   uint16
	DstSeq   uint16
	SrcDrops uint32
	DstDrops uint32
}

type RTCP struct {
	SrcSSRC uint32
	DstSSRC uint32
	SrcLost uint32
	DstLost uint32
}

type UDT struct {
	Version  uint32
	SockType uint32
	SockID   uint32
	Status   uint32
	Drops    uint32
	Retrans  uint32
}

type ESP struct {
	Status  uint32
	SPI     uint32
	LastSeq uint32
	Count   uint32
	Lost    uint32
}

// Network is a tagged union of per-protocol network objects; only the member
// named by Kind is meaningful.
type Network struct {
	Kind NetworkKind
	TCP  TCP
	RTP  RTP
	RTCP RTCP
	UDT  UDT
	ESP  ESP
}

type MAC struct {
	Src       [6]byte
	Dst       [6]byte
	EtherType uint16
}

// VLAN presence bits.
const (
	VLANSrc uint8 = 0x01
	VLANDst uint8 = 0x02
)

type VLAN struct {
	Flags uint8
	Src   uint16
	Dst   uint16
}

type MPLS struct {
	SrcCount uint8
	DstCount uint8
	SrcLabel uint32
	DstLabel uint32
}

type ICMP struct {
	Type      uint8
	Code      uint8
	Seq       uint16
	OrigSrc   uint32
	OrigDst   uint32
	InnerSrc  uint32
	Gateway   uint32
	InnerDst  uint32
}

// IPAttr presence bits.
const (
	IPAttrSrc uint8 = 0x01
	IPAttrDst uint8 = 0x02
)

type IPAttrObject struct {
	TTL     uint8
	TOS     uint8
	IPID    uint16
	Options uint32
}

type IPAttr struct {
	Flags uint8
	Src   IPAttrObject
	Dst   IPAttrObject
}

// PacketSize presence bits.
const (
	PSizeSrc  uint8 = 0x01
	PSizeDst  uint8 = 0x02
	PSizeHist uint8 = 0x04
)

type PSizeObject struct {
	Min  uint16
	Max  uint16
	Hist [8]uint8
}

type PSize struct {
	Flags uint8
	Src   PSizeObject
	Dst   PSizeObject
}

// Stats is a running (n, mean, stdev) summary with an 8-bucket histogram.
// Stdev is the population standard deviation.
type Stats struct {
	N     uint32
	Min   uint32
	Max   uint32
	Mean  float64
	Stdev float64
	Hist  [8]uint8
}

// Jitter presence bits.
const (
	JitterSrcAct  uint8 = 0x01
	JitterSrcIdle uint8 = 0x02
	JitterDstAct  uint8 = 0x04
	JitterDstIdle uint8 = 0x08
	JitterHist    uint8 = 0x10
)

type Jitter struct {
	Flags   uint8
	SrcAct  Stats
	SrcIdle Stats
	DstAct  Stats
	DstIdle Stats
}

// AgrHist marks an Agr DSR carrying an idle histogram.
const AgrHist uint8 = 0x01

// Agr summarises how many records were combined into an aggregate.
type Agr struct {
	Flags     uint8
	Count     uint32
	LastStart int64
	Last      int64
	Act       Stats
	Idle      Stats
}

// UserDataMax bounds the user data copied out of a single DSR.
const UserDataMax = 512

type UserData struct {
	Len  uint16
	Data [UserDataMax]byte
}

// Bytes returns the valid portion of the buffer.
func (u *UserData) Bytes() []byte { return u.Data[:u.Len] }

// Set bound-copies b into the buffer and reports whether it was truncated.
func (u *UserData) Set(b []byte) bool {
	n := copy(u.Data[:], b)
	u.Len = uint16(n)
	return n < len(b)
}

// CorrelateMax bounds the number of correlation entries kept.
const CorrelateMax = 4

type CorrelateEntry struct {
	SrcID   uint32
	Dur     int32
	Start   int32
	Last    int32
	SrcPkts int32
	DstPkts int32
}

type Correlate struct {
	Count   uint8
	Entries [CorrelateMax]CorrelateEntry
}

// ASNInode marks an ASN DSR carrying an intermediate node ASN.
const ASNInode uint8 = 0x01

type ASN struct {
	Flags uint8
	Src   uint32
	Dst   uint32
	Inode uint32
}

type KeyStroke struct {
	NStrokes uint32
	N        uint32
}

type Behavior struct {
	Src KeyStroke
	Dst KeyStroke
}

type Score struct {
	Values [8]int8
}

// CocodeInode marks a CountryCode DSR carrying an intermediate node code.
const CocodeInode uint8 = 0x01

type CountryCode struct {
	Flags uint8
	Src   [2]byte
	Dst   [2]byte
	Inode [2]byte
}

// LabelMax bounds the label text copied out of a single DSR.
const LabelMax = 256

// Label is a ':'-separated list of labels in a fixed buffer.
type Label struct {
	Len  uint16
	Data [LabelMax]byte
}

func (l *Label) String() string { return string(l.Data[:l.Len]) }

// Set bound-copies s into the buffer and reports whether it was truncated.
func (l *Label) Set(s string) bool {
	s = strings.TrimRight(s, "\x00")
	n := copy(l.Data[:], s)
	l.Len = uint16(n)
	for i := n; i < len(l.Data); i++ {
		l.Data[i] = 0
	}
	return n < len(s)
}

type Encaps struct {
	Src uint32
	Dst uint32
}

// Encapsulation bits used in Encaps.
const (
	EncapsEther uint32 = 0x0001
	EncapsVLAN  uint32 = 0x0002
	EncapsMPLS  uint32 = 0x0004
	EncapsGRE   uint32 = 0x0008
	EncapsGeneve uint32 = 0x0010
	EncapsVXLAN uint32 = 0x0020
	EncapsPPP   uint32 = 0x0040
)

type GRE struct {
	Flags uint16
	Proto uint16
	Src   [4]byte
	Dst   [4]byte
}

type Geneve struct {
	VerOpt uint8
	Flags  uint8
	PType  uint16
	VNI    uint32
}

type Netspatial struct {
	SrcLoc  uint8
	DstLoc  uint8
	SrcNode uint8
	DstNode uint8
}

// Derived holds values computed from the decoded slots.
type Derived struct {
	Dur          float64 // seconds
	SrcRate      float64 // packets per second
	DstRate      float64
	SrcLoad      float64 // bits per second
	DstLoad      float64
	SrcLoss      float64 // percent
	DstLoss      float64
	AppByteRatio float64 // (src-dst)/(src+dst) of application bytes
}
