package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spmdkit/overlap/indexset"
)

func TestRecordRoundTrip(t *testing.T) {
	set := indexset.New()
	require.NoError(t, set.Add(0xdeadbeef, indexset.NewLocal(42, indexset.Border, true)))
	p, _ := set.Find(0xdeadbeef)

	buf := make([]byte, RecordSize)
	cursor := 0
	require.NoError(t, AppendRecord(buf, &cursor, p))
	assert.Equal(t, RecordSize, cursor)

	cursor = 0
	global, lx, err := TakeRecord(buf, &cursor)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xdeadbeef), global)
	assert.Equal(t, indexset.Border, lx.Attribute())
	assert.Equal(t, uint32(42), lx.Slot())
	assert.True(t, lx.IsPublic())
	assert.Equal(t, indexset.Valid, lx.State())
}

func TestRecordOverflow(t *testing.T) {
	set := indexset.New()
	require.NoError(t, set.Add(1, indexset.NewLocal(0, indexset.Owner, true)))
	p, _ := set.Find(1)

	buf := make([]byte, RecordSize-1)
	cursor := 0
	assert.ErrorIs(t, AppendRecord(buf, &cursor, p), ErrBufferOverflow)
	assert.Zero(t, cursor)
}

func TestRecordTruncated(t *testing.T) {
	buf := make([]byte, RecordSize-1)
	cursor := 0
	_, _, err := TakeRecord(buf, &cursor)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestPayloadHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, HeaderSize)
	cursor := 0
	require.NoError(t, AppendPayloadHeader(buf, &cursor, true, 17, 5))

	cursor = 0
	twoSets, src, dst, err := TakePayloadHeader(buf, &cursor)
	require.NoError(t, err)
	assert.True(t, twoSets)
	assert.Equal(t, 17, src)
	assert.Equal(t, 5, dst)
	assert.Equal(t, HeaderSize, cursor)
}

func TestFrameRoundTrip(t *testing.T) {
	frame := Frame('M', []byte("hello"))
	lit, body, rest := TakeAny(frame)
	assert.Equal(t, byte('M'), lit)
	assert.Equal(t, []byte("hello"), body)
	assert.Empty(t, rest)
}

func TestProbeHeaderIncomplete(t *testing.T) {
	lit, _, _ := ProbeHeader([]byte{'M'})
	assert.Equal(t, byte(0), lit)

	lit, hdrlen, bodylen := ProbeHeader([]byte{'m', 5})
	assert.Equal(t, byte('M'), lit)
	assert.Equal(t, 2, hdrlen)
	assert.Equal(t, 5, bodylen)

	lit, _, _ = ProbeHeader([]byte{0xff})
	assert.Equal(t, byte('-'), lit)
}
