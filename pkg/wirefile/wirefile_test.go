package wirefile

import (
	"bytes"
	"io"
	"testing"

	"Go2FlowSpectra/internal/engine/protocol"
	"Go2FlowSpectra/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func metricRecord(pkts int64) *model.Record {
	rec := model.NewRecord()
	rec.UseMetric().Src = model.Counters{Pkts: pkts, Bytes: pkts * 100}
	return rec
}

func TestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, n := range []int64{1, 300, 70000} {
		require.NoError(t, w.WriteRecord(metricRecord(n)))
	}
	require.NoError(t, w.Flush())

	total := int64(buf.Len())
	r := NewReader(&buf)
	dec := protocol.NewDecoder(protocol.Options{})
	var got []int64
	require.NoError(t, r.ReadAll(func(b []byte) error {
		rec := model.NewRecord()
		if _, err := dec.Decode(b, rec); err != nil {
			return err
		}
		got = append(got, rec.Metric.Src.Pkts)
		return nil
	}))
	assert.Equal(t, []int64{1, 300, 70000}, got)
	assert.Equal(t, total, r.Offset())
}

func TestTruncatedAndBadLength(t *testing.T) {
	one, err := protocol.Encode(metricRecord(5))
	require.NoError(t, err)

	r := NewReader(bytes.NewReader(append(append([]byte(nil), one...), one[:len(one)-2]...)))
	_, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(len(one)), r.Offset())
	_, err = r.Next()
	assert.ErrorIs(t, err, protocol.ErrTruncatedRecord)

	r = NewReader(bytes.NewReader([]byte{0x15, 0}))
	_, err = r.Next()
	assert.ErrorIs(t, err, protocol.ErrTruncatedRecord)

	r = NewReader(bytes.NewReader([]byte{0x15, 0, 0, 0}))
	_, err = r.Next()
	assert.ErrorIs(t, err, protocol.ErrBadLength)

	r = NewReader(bytes.NewReader(nil))
	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}
