package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"Go2FlowSpectra/internal/model"

	log "github.com/sirupsen/logrus"
)

// dsrHeader is the decoded header of one DSR.
type dsrHeader struct {
	Code      uint8
	Subtype   uint8
	Qualifier uint8
	Words     int
	Immediate bool
	Wide      bool
}

// state carries per-record context into the DSR decode functions.
type state struct {
	hdr model.Header
}

// decodeFunc fills the canonical slot for one DSR from its payload.
type decodeFunc func(st *state, h dsrHeader, c *cursor, rec *model.Record) error

// registry maps wire DSR codes to their decode functions.
var registry = [dsrCodeMask + 1]decodeFunc{
	CodeFlow:        decodeFlow,
	CodeTransport:   decodeTransport,
	CodeTime:        decodeTime,
	CodeMetric:      decodeMetric,
	CodeNetwork:     decodeNetwork,
	CodeMAC:         decodeMAC,
	CodeVLAN:        decodeVLAN,
	CodeMPLS:        decodeMPLS,
	CodeICMP:        decodeICMP,
	CodeIPAttr:      decodeIPAttr,
	CodePSize:       decodePSize,
	CodeJitter:      decodeJitter,
	CodeAgr:         decodeAgr,
	CodeSrcUser:     decodeSrcUser,
	CodeDstUser:     decodeDstUser,
	CodeCorrelate:   decodeCorrelate,
	CodeASN:         decodeASN,
	CodeBehavior:    decodeBehavior,
	CodeScore:       decodeScore,
	CodeCountryCode: decodeCountryCode,
	CodeLabel:       decodeLabel,
	CodeEncaps:      decodeEncaps,
	CodeGRE:         decodeGRE,
	CodeGeneve:      decodeGeneve,
	CodeNetspatial:  decodeNetspatial,
}

// Stats counts decoder outcomes.
type Stats struct {
	Records     uint64
	Truncated   uint64
	ZeroLength  uint64
	Unsupported uint64
	SkippedDSRs uint64
	Corrected   uint64
}

// Options control the post-decode passes.
type Options struct {
	// SkipDerived disables the derived-field pass.
	SkipDerived bool
	// SkipCorrection disables the direction-correction pass.
	SkipCorrection bool
}

// Decoder turns wire records into canonical records. A Decoder is owned by one
// reader (connection or file) and is not safe for concurrent use; run one per
// producer goroutine.
type Decoder struct {
	Options Options
	Stats   Stats

	st state
}

// NewDecoder creates a decoder with the given options.
func NewDecoder(opts Options) *Decoder {
	return &Decoder{Options: opts}
}

// ReadHeader parses the record header at the start of buf.
func ReadHeader(buf []byte) (model.Header, error) {
	if len(buf) < 4 {
		return model.Header{}, ErrTruncatedRecord
	}
	h := model.Header{
		Kind:    buf[0] & 0xF0,
		Version: buf[0] & 0x0F,
		Cause:   buf[1],
		Words:   binary.BigEndian.Uint16(buf[2:4]),
	}
	if h.Version < VersionMin || h.Version > VersionCurrent {
		return h, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	if h.Words < 1 {
		return h, ErrBadLength
	}
	return h, nil
}

// Decode walks one wire record and fills out. The returned mask has a bit set for
// every populated slot. On error out is left reset.
func (d *Decoder) Decode(buf []byte, out *model.Record) (model.Mask, error) {
	out.Reset()

	hdr, err := ReadHeader(buf)
	if err != nil {
		d.count(err)
		return 0, err
	}
	size := int(hdr.Words) * 4
	if size > len(buf) {
		d.count(ErrTruncatedRecord)
		return 0, fmt.Errorf("%w: header claims %d bytes, have %d", ErrTruncatedRecord, size, len(buf))
	}
	out.Header = hdr
	d.st.hdr = hdr

	if err := d.walk(buf[4:size], out); err != nil {
		d.count(err)
		out.Reset()
		return 0, err
	}

	if !d.Options.SkipDerived {
		Derive(out)
	}
	if !d.Options.SkipCorrection && NeedsReversal(out) {
		Reversed(out).CopyTo(out)
		out.Status |= model.StatusCorrected
		d.Stats.Corrected++
	}
	d.Stats.Records++
	return out.Present, nil
}

func (d *Decoder) walk(body []byte, out *model.Record) error {
	off := 0
	for off < len(body) {
		if len(body)-off < 4 {
			return fmt.Errorf("%w: partial DSR header at offset %d", ErrTruncatedRecord, off+4)
		}
		h := parseDSRHeader(body[off : off+4])
		if h.Words == 0 {
			log.WithFields(log.Fields{
				"Module": "decoder",
				"Code":   h.Code,
				"Offset": off + 4,
			}).Warn("zero length DSR, discarding record")
			return fmt.Errorf("%w: code %d at offset %d", ErrZeroLengthDSR, h.Code, off+4)
		}
		end := off + h.Words*4
		if end > len(body) {
			return fmt.Errorf("%w: DSR code %d needs %d bytes, have %d", ErrTruncatedRecord, h.Code, h.Words*4, len(body)-off)
		}

		var payload []byte
		if h.Immediate {
			payload = body[off+2 : off+4]
		} else {
			payload = body[off+4 : end]
		}

		fn := registry[h.Code]
		if fn == nil {
			d.Stats.SkippedDSRs++
			log.WithFields(log.Fields{"Module": "decoder", "Code": h.Code}).Debug(ErrUnknownDSRType)
			off = end
			continue
		}

		c := newCursor(payload)
		if err := fn(&d.st, h, c, out); err != nil {
			if err == errSkipDSR {
				d.Stats.SkippedDSRs++
				off = end
				continue
			}
			return err
		}
		if c.err != nil {
			return fmt.Errorf("%w: DSR code %d payload of %d bytes", c.err, h.Code, len(payload))
		}
		off = end
	}
	return nil
}

func parseDSRHeader(b []byte) dsrHeader {
	h := dsrHeader{
		Code:      b[0] & dsrCodeMask,
		Subtype:   b[1],
		Immediate: b[0]&dsrImmediate != 0,
		Wide:      b[0]&dsrWide != 0,
	}
	switch {
	case h.Immediate:
		h.Qualifier = b[2]
		h.Words = 1
	case h.Wide:
		h.Words = int(binary.BigEndian.Uint16(b[2:4]))
	default:
		h.Qualifier = b[2]
		h.Words = int(b[3])
	}
	return h
}

func (d *Decoder) count(err error) {
	switch {
	case errors.Is(err, ErrTruncatedRecord):
		d.Stats.Truncated++
	case errors.Is(err, ErrZeroLengthDSR):
		d.Stats.ZeroLength++
	case errors.Is(err, ErrUnsupportedVersion), errors.Is(err, ErrBadLength):
		d.Stats.Unsupported++
	}
}
