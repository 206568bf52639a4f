// Package flowkey builds the masked byte identity of a flow record and its
// reverse, used to find the aggregate a record belongs to.
package flowkey

import (
	"bytes"
	"encoding/binary"

	"Go2FlowSpectra/internal/model"

	"github.com/google/gopacket/layers"
)

// KeyMax is the largest key built. Longer keys are truncated and flagged.
const KeyMax = 128

// Direction selects the forward key or the key of the reversed flow.
type Direction uint8

const (
	Forward Direction = iota
	Reverse
)

// Key is a flow key with its word-sum hash.
type Key struct {
	buf       [KeyMax]byte
	n         int
	Hash      uint32
	Truncated bool
}

// Bytes returns the key bytes.
func (k *Key) Bytes() []byte { return k.buf[:k.n] }

// Len returns the key length.
func (k *Key) Len() int { return k.n }

// Equal reports whether two keys have the same length and bytes.
func (k *Key) Equal(o *Key) bool {
	return k.n == o.n && bytes.Equal(k.buf[:k.n], o.buf[:o.n])
}

func (k *Key) reset() {
	k.n = 0
	k.Hash = 0
	k.Truncated = false
}

func (k *Key) put(b []byte) {
	room := KeyMax - k.n
	if len(b) > room {
		b = b[:room]
		k.Truncated = true
	}
	k.n += copy(k.buf[k.n:], b)
}

func (k *Key) put8(v uint8) { k.put([]byte{v}) }

func (k *Key) put16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	k.put(b[:])
}

func (k *Key) put32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	k.put(b[:])
}

// sum folds the key into the sum of its big-endian 16-bit words. An odd trailing
// byte counts as the high byte of a final word.
func (k *Key) sum() {
	var s uint32
	b := k.buf[:k.n]
	for len(b) >= 2 {
		s += uint32(b[0])<<8 | uint32(b[1])
		b = b[2:]
	}
	if len(b) == 1 {
		s += uint32(b[0]) << 8
	}
	k.Hash = s
}

// counterpart gives, for each directional field, the field whose value fills its
// position in a reverse key.
var counterpart = map[Field]Field{
	FieldSMAC:     FieldDMAC,
	FieldDMAC:     FieldSMAC,
	FieldSVID:     FieldDVID,
	FieldDVID:     FieldSVID,
	FieldSMPLS:    FieldDMPLS,
	FieldDMPLS:    FieldSMPLS,
	FieldSAddr:    FieldDAddr,
	FieldDAddr:    FieldSAddr,
	FieldSport:    FieldDport,
	FieldDport:    FieldSport,
	FieldSASN:     FieldDASN,
	FieldDASN:     FieldSASN,
	FieldSCountry: FieldDCountry,
	FieldDCountry: FieldSCountry,
}

// Builder builds keys for one mask. It holds no per-call state and may be shared.
type Builder struct {
	mask Mask
}

// NewBuilder returns a builder for m.
func NewBuilder(m Mask) *Builder {
	return &Builder{mask: m}
}

// Mask returns the builder's mask.
func (b *Builder) Mask() Mask { return b.mask }

// Build writes the key of rec into k. Building the same record with the same mask
// always yields identical bytes. The reverse key of a record equals the forward key
// of its reversal.
func (b *Builder) Build(rec *model.Record, dir Direction, k *Key) {
	k.reset()
	f := rec.Flow

	var fam model.Family
	if f != nil {
		fam = f.Family
	}
	k.put8(uint8(fam))

	for field := Field(1); field < fieldEnd; field <<= 1 {
		if b.mask.Fields&field == 0 {
			continue
		}
		src := field
		if dir == Reverse {
			if c, ok := counterpart[field]; ok {
				src = c
			}
		}
		b.emit(rec, field, src, k)
	}
	k.sum()
}

// emit writes the value of field src at the position of field pos. Fields without
// meaning for the record are skipped.
func (b *Builder) emit(rec *model.Record, pos, src Field, k *Key) {
	f := rec.Flow
	switch src {
	case FieldSrcID:
		if t := rec.Transport; t != nil && t.Flags&model.TransportSrcID != 0 {
			k.put8(uint8(t.SrcIDType))
			k.put(t.SrcID[:])
		}
	case FieldInf:
		if t := rec.Transport; t != nil && t.Flags&model.TransportInf != 0 {
			k.put(t.Inf[:])
		}
	case FieldSMAC, FieldDMAC:
		if mac, ok := macOf(rec, src == FieldSMAC); ok {
			k.put(mac[:])
		}
	case FieldEtherType:
		switch {
		case f != nil && f.Family == model.FamilyEthernet:
			k.put16(f.EtherType)
		case rec.MAC != nil:
			k.put16(rec.MAC.EtherType)
		}
	case FieldSVID, FieldDVID:
		if v := rec.VLAN; v != nil {
			if src == FieldSVID && v.Flags&model.VLANSrc != 0 {
				k.put16(v.Src)
			} else if src == FieldDVID && v.Flags&model.VLANDst != 0 {
				k.put16(v.Dst)
			}
		} else if f != nil && f.Family == model.FamilyVLAN && src == FieldSVID {
			k.put16(f.VID)
		}
	case FieldSMPLS, FieldDMPLS:
		if m := rec.MPLS; m != nil {
			if src == FieldSMPLS && m.SrcCount > 0 {
				k.put32(m.SrcLabel)
			} else if src == FieldDMPLS && m.DstCount > 0 {
				k.put32(m.DstLabel)
			}
		} else if f != nil && f.Family == model.FamilyMPLS && src == FieldSMPLS {
			k.put32(f.MPLSLabel)
		}
	case FieldProto:
		if isIP(f) {
			k.put8(f.Proto)
		}
	case FieldSAddr, FieldDAddr:
		if f == nil || f.AddrLen() == 0 {
			return
		}
		prefix := b.mask.SrcPrefix
		if pos == FieldDAddr {
			prefix = b.mask.DstPrefix
		}
		addr := f.SrcAddr
		if src == FieldDAddr {
			addr = f.DstAddr
		}
		masked := MaskAddr(addr, f.AddrLen(), prefix)
		k.put(masked[:f.AddrLen()])
	case FieldSport, FieldDport:
		if !isIP(f) {
			return
		}
		switch layers.IPProtocol(f.Proto) {
		case layers.IPProtocolTCP, layers.IPProtocolUDP, layers.IPProtocolSCTP, layers.IPProtocolUDPLite:
			if src == FieldSport {
				k.put16(f.Sport)
			} else {
				k.put16(f.Dport)
			}
		case layers.IPProtocolICMPv4, layers.IPProtocolICMPv6:
			// type and code have no direction
			if pos == FieldSport {
				k.put8(uint8(f.Sport))
			} else {
				k.put8(uint8(f.Dport))
			}
		case layers.IPProtocolESP:
			if pos == FieldSport {
				k.put32(f.SPI)
			}
		}
	case FieldTOS:
		if isIP(f) {
			k.put8(f.TOS)
		}
	case FieldSASN, FieldDASN:
		if a := rec.ASN; a != nil {
			if src == FieldSASN {
				k.put32(a.Src)
			} else {
				k.put32(a.Dst)
			}
		}
	case FieldSCountry, FieldDCountry:
		if c := rec.CountryCode; c != nil {
			if src == FieldSCountry {
				k.put(c.Src[:])
			} else {
				k.put(c.Dst[:])
			}
		}
	}
}

func isIP(f *model.Flow) bool {
	return f != nil && (f.Family == model.FamilyIPv4 || f.Family == model.FamilyIPv6)
}

func macOf(rec *model.Record, src bool) ([6]byte, bool) {
	if f := rec.Flow; f != nil {
		switch f.Family {
		case model.FamilyEthernet, model.FamilyWLAN, model.FamilyRARP:
			if src {
				return f.SrcMAC, true
			}
			return f.DstMAC, true
		}
	}
	if m := rec.MAC; m != nil {
		if src {
			return m.Src, true
		}
		return m.Dst, true
	}
	return [6]byte{}, false
}

// MaskAddr zeroes the bits of addr beyond prefix. A zero or out of range prefix
// keeps the full address of addrLen bytes.
func MaskAddr(addr [16]byte, addrLen int, prefix uint8) [16]byte {
	if prefix == 0 || int(prefix) >= addrLen*8 {
		return addr
	}
	full := int(prefix) / 8
	if rem := prefix % 8; rem != 0 {
		addr[full] &= 0xFF << (8 - rem)
		full++
	}
	for i := full; i < len(addr); i++ {
		addr[i] = 0
	}
	return addr
}
