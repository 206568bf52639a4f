package protocol

import (
	"Go2FlowSpectra/internal/model"

	"github.com/google/gopacket/layers"
)

// portless reports whether the protocol carries type/code or an SPI in the port
// area instead of ports.
func portless(proto uint8) bool {
	switch layers.IPProtocol(proto) {
	case layers.IPProtocolICMPv4, layers.IPProtocolICMPv6, layers.IPProtocolESP:
		return true
	}
	return false
}

func isICMP(proto uint8) bool {
	p := layers.IPProtocol(proto)
	return p == layers.IPProtocolICMPv4 || p == layers.IPProtocolICMPv6
}

func decodeFlow(st *state, h dsrHeader, c *cursor, rec *model.Record) error {
	fam := model.Family(h.Qualifier & flowFamily)
	if fam == model.FamilyNone || fam > model.FamilyWLAN {
		return errSkipDSR
	}
	f := rec.UseFlow()
	f.Kind = model.FlowKind(h.Subtype & flowKindMask)
	f.Family = fam

	switch fam {
	case model.FamilyIPv4:
		c.copyTo(f.SrcAddr[:4])
		c.copyTo(f.DstAddr[:4])
		f.Proto = c.u8()
		f.TOS = c.u8()
		decodePorts(c, f)
		f.SrcMask, f.DstMask = 32, 32
	case model.FamilyIPv6:
		c.copyTo(f.SrcAddr[:])
		c.copyTo(f.DstAddr[:])
		f.FlowLabel = c.u32()
		f.Proto = c.u8()
		c.skip(1)
		decodePorts(c, f)
		f.SrcMask, f.DstMask = 128, 128
	case model.FamilyEthernet:
		c.copyTo(f.SrcMAC[:])
		c.copyTo(f.DstMAC[:])
		f.EtherType = c.u16()
		c.skip(2)
	case model.FamilyARP:
		c.copyTo(f.SrcAddr[:4])
		c.copyTo(f.DstAddr[:4])
		c.copyTo(f.SrcMAC[:])
		c.skip(2)
		f.SrcMask, f.DstMask = 32, 32
	case model.FamilyRARP:
		c.copyTo(f.DstAddr[:4])
		c.copyTo(f.SrcMAC[:])
		c.copyTo(f.DstMAC[:])
		f.SrcMask, f.DstMask = 32, 32
	case model.FamilyMPLS:
		f.MPLSLabel = c.u32()
	case model.FamilyVLAN:
		f.VID = c.u16()
		c.skip(2)
	case model.FamilyISIS:
		c.copyTo(f.SysID[:])
		f.PDUType = c.u8()
		c.skip(1)
	case model.FamilyWLAN:
		c.copyTo(f.SrcMAC[:])
		c.copyTo(f.DstMAC[:])
		c.copyTo(f.BSSID[:])
		c.skip(2)
		c.copyTo(f.SSID[:])
	}

	if h.Qualifier&flowMaskLen != 0 {
		sm, dm := c.u8(), c.u8()
		c.skip(2)
		if full := f.MaxMask(); full > 0 {
			f.SrcMask, f.DstMask = min(sm, full), min(dm, full)
		}
	}

	if h.Subtype&flowReverse != 0 {
		reverseFlow(f)
	}
	return nil
}

// decodePorts reads the 6 bytes following proto/tos (IPv4) or proto/pad (IPv6).
func decodePorts(c *cursor, f *model.Flow) {
	switch {
	case isICMP(f.Proto):
		f.Sport = uint16(c.u8())
		f.Dport = uint16(c.u8())
		f.ICMPID = c.u16()
		f.IPID = c.u16()
	case layers.IPProtocol(f.Proto) == layers.IPProtocolESP:
		f.SPI = c.u32()
		c.skip(2)
	default:
		f.Sport = c.u16()
		f.Dport = c.u16()
		c.skip(2)
	}
}

// reverseFlow swaps every directional field of f in place.
func reverseFlow(f *model.Flow) {
	switch f.Family {
	case model.FamilyIPv4, model.FamilyIPv6:
		f.SrcAddr, f.DstAddr = f.DstAddr, f.SrcAddr
		f.SrcMask, f.DstMask = f.DstMask, f.SrcMask
		if !portless(f.Proto) {
			f.Sport, f.Dport = f.Dport, f.Sport
		}
	case model.FamilyARP:
		f.SrcAddr, f.DstAddr = f.DstAddr, f.SrcAddr
		f.SrcMask, f.DstMask = f.DstMask, f.SrcMask
	case model.FamilyRARP, model.FamilyEthernet, model.FamilyWLAN:
		f.SrcMAC, f.DstMAC = f.DstMAC, f.SrcMAC
	}
}

func encodeFlow(rec *model.Record, w *writer) (subtype, qualifier uint8) {
	f := rec.Flow
	subtype = uint8(f.Kind) & flowKindMask
	qualifier = uint8(f.Family) & flowFamily

	switch f.Family {
	case model.FamilyIPv4:
		w.bytes(f.SrcAddr[:4])
		w.bytes(f.DstAddr[:4])
		w.u8(f.Proto)
		w.u8(f.TOS)
		encodePorts(w, f)
	case model.FamilyIPv6:
		w.bytes(f.SrcAddr[:])
		w.bytes(f.DstAddr[:])
		w.u32(f.FlowLabel)
		w.u8(f.Proto)
		w.u8(0)
		encodePorts(w, f)
	case model.FamilyEthernet:
		w.bytes(f.SrcMAC[:])
		w.bytes(f.DstMAC[:])
		w.u16(f.EtherType)
		w.u16(0)
	case model.FamilyARP:
		w.bytes(f.SrcAddr[:4])
		w.bytes(f.DstAddr[:4])
		w.bytes(f.SrcMAC[:])
		w.u16(0)
	case model.FamilyRARP:
		w.bytes(f.DstAddr[:4])
		w.bytes(f.SrcMAC[:])
		w.bytes(f.DstMAC[:])
	case model.FamilyMPLS:
		w.u32(f.MPLSLabel)
	case model.FamilyVLAN:
		w.u16(f.VID)
		w.u16(0)
	case model.FamilyISIS:
		w.bytes(f.SysID[:])
		w.u8(f.PDUType)
		w.u8(0)
	case model.FamilyWLAN:
		w.bytes(f.SrcMAC[:])
		w.bytes(f.DstMAC[:])
		w.bytes(f.BSSID[:])
		w.u16(0)
		w.bytes(f.SSID[:])
	}

	if full := f.MaxMask(); full > 0 && (f.SrcMask != full || f.DstMask != full) {
		qualifier |= flowMaskLen
		w.u8(f.SrcMask)
		w.u8(f.DstMask)
		w.u16(0)
	}
	return subtype, qualifier
}

func encodePorts(w *writer, f *model.Flow) {
	switch {
	case isICMP(f.Proto):
		w.u8(uint8(f.Sport))
		w.u8(uint8(f.Dport))
		w.u16(f.ICMPID)
		w.u16(f.IPID)
	case layers.IPProtocol(f.Proto) == layers.IPProtocolESP:
		w.u32(f.SPI)
		w.u16(0)
	default:
		w.u16(f.Sport)
		w.u16(f.Dport)
		w.u16(0)
	}
}
