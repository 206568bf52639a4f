package probe

import (
	"testing"

	"Go2FlowSpectra/internal/engine/protocol"
	"Go2FlowSpectra/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame(t *testing.T) {
	rec := model.NewRecord()
	rec.UseMetric().Src = model.Counters{Pkts: 1, Bytes: 64}
	buf, err := protocol.Encode(rec)
	require.NoError(t, err)

	got, err := Frame(append(buf, 0xAA, 0xBB))
	require.NoError(t, err)
	assert.Equal(t, buf, got)

	_, err = Frame(buf[:len(buf)-4])
	assert.ErrorIs(t, err, protocol.ErrTruncatedRecord)
	_, err = Frame([]byte{0x15})
	assert.ErrorIs(t, err, protocol.ErrTruncatedRecord)
	_, err = Frame([]byte{0x10, 0, 0, 1})
	assert.ErrorIs(t, err, protocol.ErrUnsupportedVersion)
}
