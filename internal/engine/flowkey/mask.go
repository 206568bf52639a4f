package flowkey

import (
	"errors"
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

var (
	// ErrUnknownField is returned for a mask token that names no key field.
	ErrUnknownField = errors.New("unknown key field")
	// ErrBadPrefix is returned for a malformed or out of range CIDR length.
	ErrBadPrefix = errors.New("bad prefix length")
)

// Field is a bit in a key field mask. Fields are written into keys in bit order.
type Field uint64

const (
	FieldSrcID Field = 1 << iota
	FieldInf
	FieldSMAC
	FieldDMAC
	FieldEtherType
	FieldSVID
	FieldDVID
	FieldSMPLS
	FieldDMPLS
	FieldProto
	FieldSAddr
	FieldDAddr
	FieldSport
	FieldDport
	FieldTOS
	FieldSASN
	FieldDASN
	FieldSCountry
	FieldDCountry

	fieldEnd
)

// FieldAll has every key field set.
const FieldAll = fieldEnd - 1

// DefaultTokens is the classic 5-tuple plus probe identity.
const DefaultTokens = "srcid proto saddr sport daddr dport"

var fieldNames = map[string]Field{
	"srcid": FieldSrcID,
	"inf":   FieldInf,
	"smac":  FieldSMAC,
	"dmac":  FieldDMAC,
	"etype": FieldEtherType,
	"svid":  FieldSVID,
	"dvid":  FieldDVID,
	"smpls": FieldSMPLS,
	"dmpls": FieldDMPLS,
	"proto": FieldProto,
	"saddr": FieldSAddr,
	"daddr": FieldDAddr,
	"sport": FieldSport,
	"dport": FieldDport,
	"tos":   FieldTOS,
	"sas":   FieldSASN,
	"das":   FieldDASN,
	"sco":   FieldSCountry,
	"dco":   FieldDCountry,
}

// groups expand to several fields.
var groups = map[string]Field{
	"matrix": FieldSrcID | FieldSAddr | FieldDAddr,
	"mac":    FieldSMAC | FieldDMAC,
	"vid":    FieldSVID | FieldDVID,
	"mpls":   FieldSMPLS | FieldDMPLS,
	"addr":   FieldSAddr | FieldDAddr,
	"port":   FieldSport | FieldDport,
	"asn":    FieldSASN | FieldDASN,
	"co":     FieldSCountry | FieldDCountry,
	"all":    FieldAll,
}

func (f Field) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for f != 0 {
		bit := Field(1) << bits.TrailingZeros64(uint64(f))
		f &^= bit
		for name, v := range fieldNames {
			if v == bit {
				parts = append(parts, name)
				break
			}
		}
	}
	return strings.Join(parts, " ")
}

// Mask selects the key fields and the CIDR lengths applied to addresses before
// keying. A zero prefix length means the full address.
type Mask struct {
	Fields    Field
	SrcPrefix uint8
	DstPrefix uint8
}

// Has reports whether every field in f is selected.
func (m Mask) Has(f Field) bool { return m.Fields&f == f }

func (m Mask) String() string {
	s := m.Fields.String()
	if m.SrcPrefix > 0 {
		s = strings.Replace(s, "saddr", "saddr/"+strconv.Itoa(int(m.SrcPrefix)), 1)
	}
	if m.DstPrefix > 0 {
		s = strings.Replace(s, "daddr", "daddr/"+strconv.Itoa(int(m.DstPrefix)), 1)
	}
	return s
}

// DefaultMask returns the parsed DefaultTokens.
func DefaultMask() Mask {
	m, _ := ParseMask(DefaultTokens)
	return m
}

// ParseMask parses a token list separated by spaces or commas. A list whose first
// token carries a '+' or '-' prefix edits the default mask, otherwise it starts
// empty. "none" clears the mask and "all" selects every field. Address tokens
// accept a CIDR length from 1 to 128, as in "saddr/24".
func ParseMask(spec string) (Mask, error) {
	tokens := strings.FieldsFunc(spec, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t'
	})
	if len(tokens) == 0 {
		return DefaultMask(), nil
	}

	var m Mask
	if t := tokens[0]; t[0] == '+' || t[0] == '-' {
		m = DefaultMask()
	}

	for _, tok := range tokens {
		op := byte('+')
		if tok[0] == '+' || tok[0] == '-' {
			op, tok = tok[0], tok[1:]
		}
		name, prefix, hasPrefix := strings.Cut(tok, "/")

		var f Field
		switch {
		case name == "none":
			m = Mask{}
			continue
		case fieldNames[name] != 0:
			f = fieldNames[name]
		case groups[name] != 0:
			f = groups[name]
		default:
			return Mask{}, fmt.Errorf("%w: %s", ErrUnknownField, name)
		}

		if hasPrefix {
			if f != FieldSAddr && f != FieldDAddr && f != FieldSAddr|FieldDAddr {
				return Mask{}, fmt.Errorf("%w: %s does not take a prefix", ErrBadPrefix, tok)
			}
			n, err := strconv.Atoi(prefix)
			if err != nil || n > 128 {
				return Mask{}, fmt.Errorf("%w: %s", ErrBadPrefix, tok)
			}
			if n < 1 {
				// a zero prefix would be indistinguishable from no prefix
				return Mask{}, fmt.Errorf("%w: %s, leave the address out of the key instead", ErrBadPrefix, tok)
			}
			if f&FieldSAddr != 0 {
				m.SrcPrefix = uint8(n)
			}
			if f&FieldDAddr != 0 {
				m.DstPrefix = uint8(n)
			}
		}

		if op == '-' {
			m.Fields &^= f
			if f&FieldSAddr != 0 {
				m.SrcPrefix = 0
			}
			if f&FieldDAddr != 0 {
				m.DstPrefix = 0
			}
		} else {
			m.Fields |= f
		}
	}
	return m, nil
}
