package flowkey

import (
	"net/netip"
	"testing"

	"Go2FlowSpectra/internal/engine/protocol"
	"Go2FlowSpectra/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tcpRecord(src string, sport uint16, dst string, dport uint16) *model.Record {
	rec := model.NewRecord()
	f := rec.UseFlow()
	f.Kind, f.Proto = model.FlowClassic5Tuple, 6
	s, d := netip.MustParseAddr(src), netip.MustParseAddr(dst)
	f.Family = model.FamilyIPv4
	f.SrcMask, f.DstMask = 32, 32
	if s.Is6() {
		f.Family = model.FamilyIPv6
		f.SrcMask, f.DstMask = 128, 128
	}
	f.SetSrc(s)
	f.SetDst(d)
	f.Sport, f.Dport = sport, dport

	tr := rec.UseTransport()
	tr.Flags = model.TransportSrcID
	tr.SrcIDType = model.SrcIDIPv4
	copy(tr.SrcID[:], []byte{192, 0, 2, 1})
	return rec
}

func TestParseMask(t *testing.T) {
	tests := []struct {
		spec    string
		want    Mask
		wantErr error
	}{
		{"", DefaultMask(), nil},
		{"srcid proto saddr sport daddr dport", Mask{Fields: FieldSrcID | FieldProto | FieldSAddr | FieldSport | FieldDAddr | FieldDport}, nil},
		{"saddr/24,daddr", Mask{Fields: FieldSAddr | FieldDAddr, SrcPrefix: 24}, nil},
		{"matrix", Mask{Fields: FieldSrcID | FieldSAddr | FieldDAddr}, nil},
		{"-sport", Mask{Fields: FieldSrcID | FieldProto | FieldSAddr | FieldDAddr | FieldDport}, nil},
		{"+smac -srcid", Mask{Fields: FieldSMAC | FieldProto | FieldSAddr | FieldSport | FieldDAddr | FieldDport}, nil},
		{"all -tos", Mask{Fields: FieldAll &^ FieldTOS}, nil},
		{"all none proto", Mask{Fields: FieldProto}, nil},
		{"addr/16", Mask{Fields: FieldSAddr | FieldDAddr, SrcPrefix: 16, DstPrefix: 16}, nil},
		{"saddr/24 -saddr", Mask{}, nil},
		{"bogus", Mask{}, ErrUnknownField},
		{"saddr/abc", Mask{}, ErrBadPrefix},
		{"saddr/129", Mask{}, ErrBadPrefix},
		{"saddr/0", Mask{}, ErrBadPrefix},
		{"addr/0", Mask{}, ErrBadPrefix},
		{"daddr/-8", Mask{}, ErrBadPrefix},
		{"proto/8", Mask{}, ErrBadPrefix},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := ParseMask(tt.spec)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMaskString(t *testing.T) {
	m, err := ParseMask("proto saddr/16 daddr")
	require.NoError(t, err)
	assert.Equal(t, "proto saddr/16 daddr", m.String())
	assert.Equal(t, "none", Mask{}.String())
}

func TestBuildIsDeterministic(t *testing.T) {
	b := NewBuilder(DefaultMask())
	rec := tcpRecord("10.0.0.1", 4000, "10.0.0.2", 80)

	var k1, k2 Key
	b.Build(rec, Forward, &k1)
	b.Build(rec, Forward, &k2)
	assert.True(t, k1.Equal(&k2))
	assert.Equal(t, k1.Hash, k2.Hash)
	// family + srcid(1+16) + proto + 2 addrs + 2 ports
	assert.Equal(t, 1+17+1+8+4, k1.Len())
	assert.False(t, k1.Truncated)
}

func TestReverseKeyMatchesReversedRecord(t *testing.T) {
	masks := []string{DefaultTokens, "saddr/24 daddr/16 proto sport", "smac dmac sas das sport"}
	for _, spec := range masks {
		t.Run(spec, func(t *testing.T) {
			m, err := ParseMask(spec)
			require.NoError(t, err)
			b := NewBuilder(m)

			rec := tcpRecord("10.1.2.3", 4000, "10.9.8.7", 80)
			rec.UseMAC().Src = [6]byte{1, 1, 1, 1, 1, 1}
			rec.MAC.Dst = [6]byte{2, 2, 2, 2, 2, 2}
			*rec.UseASN() = model.ASN{Src: 100, Dst: 200}

			var rev, fwdOfReversed, fwd Key
			b.Build(rec, Reverse, &rev)
			b.Build(protocol.Reversed(rec), Forward, &fwdOfReversed)
			b.Build(rec, Forward, &fwd)

			assert.True(t, rev.Equal(&fwdOfReversed))
			assert.False(t, rev.Equal(&fwd))
		})
	}
}

func TestBuildAppliesPrefix(t *testing.T) {
	b := NewBuilder(Mask{Fields: FieldSAddr | FieldDAddr, SrcPrefix: 24, DstPrefix: 8})
	var k1, k2 Key
	b.Build(tcpRecord("10.0.0.1", 1, "10.1.2.3", 2), Forward, &k1)
	b.Build(tcpRecord("10.0.0.200", 9, "10.200.0.1", 9), Forward, &k2)
	assert.True(t, k1.Equal(&k2))
	assert.Equal(t, []byte{uint8(model.FamilyIPv4), 10, 0, 0, 0, 10, 0, 0, 0}, k1.Bytes())
}

func TestBuildSkipsMeaninglessFields(t *testing.T) {
	b := NewBuilder(DefaultMask())

	icmp := tcpRecord("10.0.0.1", 8, "10.0.0.2", 0)
	icmp.Flow.Proto = 1
	var k Key
	b.Build(icmp, Forward, &k)
	// ports collapse to one byte each for type and code
	assert.Equal(t, 1+17+1+8+2, k.Len())

	eth := model.NewRecord()
	eth.UseFlow().Family = model.FamilyEthernet
	b.Build(eth, Forward, &k)
	assert.Equal(t, []byte{uint8(model.FamilyEthernet)}, k.Bytes())
}

func TestBuildSeparatesFamilies(t *testing.T) {
	b := NewBuilder(Mask{Fields: FieldSport | FieldDport | FieldProto})
	var k4, k6 Key
	b.Build(tcpRecord("10.0.0.1", 1000, "10.0.0.2", 80), Forward, &k4)
	b.Build(tcpRecord("2001:db8::1", 1000, "2001:db8::2", 80), Forward, &k6)
	assert.False(t, k4.Equal(&k6))
}

func TestKeyTruncation(t *testing.T) {
	var k Key
	k.put(make([]byte, KeyMax-4))
	k.put32(0xFFFFFFFF)
	assert.False(t, k.Truncated)
	k.put16(1)
	assert.True(t, k.Truncated)
	assert.Equal(t, KeyMax, k.Len())
}

func TestWordSumHash(t *testing.T) {
	var k Key
	k.put([]byte{0x01, 0x02, 0x03})
	k.sum()
	assert.Equal(t, uint32(0x0102+0x0300), k.Hash)
}

func TestMaskAddr(t *testing.T) {
	a := netip.MustParseAddr("192.168.171.5").As16()
	var v4 [16]byte
	copy(v4[:], a[12:])

	got := MaskAddr(v4, 4, 20)
	assert.Equal(t, []byte{192, 168, 160, 0}, got[:4])
	assert.Equal(t, v4, MaskAddr(v4, 4, 0))
	assert.Equal(t, v4, MaskAddr(v4, 4, 32))

	v6 := netip.MustParseAddr("2001:db8:abcd:1234::1").As16()
	got = MaskAddr(v6, 16, 36)
	assert.Equal(t, netip.MustParseAddr("2001:db8:a000::"), netip.AddrFrom16(got))
}
