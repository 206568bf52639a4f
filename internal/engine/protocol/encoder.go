package protocol

import (
	"encoding/binary"
	"fmt"

	"Go2FlowSpectra/internal/model"
)

// encodeFunc writes the payload of one DSR and returns its subtype and qualifier.
type encodeFunc func(rec *model.Record, w *writer) (subtype, qualifier uint8)

var encoders = [model.NumSlots]encodeFunc{
	model.IdxFlow:        encodeFlow,
	model.IdxTransport:   encodeTransport,
	model.IdxTime:        encodeTime,
	model.IdxMetric:      encodeMetric,
	model.IdxAgr:         encodeAgr,
	model.IdxNetwork:     encodeNetwork,
	model.IdxMAC:         encodeMAC,
	model.IdxVLAN:        encodeVLAN,
	model.IdxMPLS:        encodeMPLS,
	model.IdxICMP:        encodeICMP,
	model.IdxIPAttr:      encodeIPAttr,
	model.IdxPSize:       encodePSize,
	model.IdxJitter:      encodeJitter,
	model.IdxSrcUser:     encodeSrcUser,
	model.IdxDstUser:     encodeDstUser,
	model.IdxCorrelate:   encodeCorrelate,
	model.IdxASN:         encodeASN,
	model.IdxBehavior:    encodeBehavior,
	model.IdxScore:       encodeScore,
	model.IdxCountryCode: encodeCountryCode,
	model.IdxLabel:       encodeLabel,
	model.IdxEncaps:      encodeEncaps,
	model.IdxGRE:         encodeGRE,
	model.IdxGeneve:      encodeGeneve,
	model.IdxNetspatial:  encodeNetspatial,
}

// maxDSRWords is the largest DSR expressible with the 8-bit length form.
const maxDSRWords = 0xFF

// Encode serialises rec in the current wire version.
func Encode(rec *model.Record) ([]byte, error) {
	return AppendRecord(nil, rec)
}

// AppendRecord appends the wire form of rec to dst. DSRs are written in slot
// order; the flow DSR is never written reversed.
func AppendRecord(dst []byte, rec *model.Record) ([]byte, error) {
	start := len(dst)
	w := &writer{buf: dst}

	kind := rec.Header.Kind
	if kind == 0 {
		kind = model.KindFlow
	}
	w.u8(kind&0xF0 | VersionCurrent)
	w.u8(rec.Header.Cause)
	w.u16(0)

	for i := model.Index(0); i < model.NumSlots; i++ {
		if !rec.Present.Has(i) {
			continue
		}
		dsr := len(w.buf)
		w.u32(0)
		sub, qual := encoders[i](rec, w)
		w.pad(dsr)

		words := (len(w.buf) - dsr) / 4
		hdr := w.buf[dsr : dsr+4]
		hdr[1] = sub
		if words > maxDSRWords {
			hdr[0] = codeOf[i] | dsrWide
			binary.BigEndian.PutUint16(hdr[2:], uint16(words))
			if i == model.IdxSrcUser || i == model.IdxDstUser || i == model.IdxLabel {
				// the wide form has no qualifier byte; the pad count moves to the subtype
				hdr[1] = sub&^0x03 | qual&0x03
			}
		} else {
			hdr[0] = codeOf[i]
			hdr[2] = qual
			hdr[3] = uint8(words)
		}
	}

	words := (len(w.buf) - start) / 4
	if words > 0xFFFF {
		return dst, fmt.Errorf("%w: %d words", ErrRecordTooLarge, words)
	}
	binary.BigEndian.PutUint16(w.buf[start+2:], uint16(words))
	return w.buf, nil
}
