package rtps

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamListRoundTrip(t *testing.T) {
	params := []Param{
		{ID: pidTopicName, Value: packParamString(binary.LittleEndian, "sensor/temp")},
		{ID: pidStatusInfo, Value: []byte{0, 0, 0, statusInfoDisposed}},
		{ID: paramID(0x7777), Value: []byte{1, 2, 3, 4}}, // unknown, must survive
	}

	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		var wire []byte
		if order == binary.LittleEndian {
			wire = appendParamList(nil, order, params)
		} else {
			// string packing is order-dependent; rebuild for BE
			bp := append([]Param(nil), params...)
			bp[0].Value = packParamString(order, "sensor/temp")
			wire = appendParamList(nil, order, bp)
		}

		back, n, err := paramListFromBytes(order, wire)
		require.NoError(t, err)
		assert.Equal(t, len(wire), n, "consumed must include the sentinel")
		require.Len(t, back, len(params))

		v, ok := findParam(back, pidStatusInfo)
		require.True(t, ok)
		assert.Equal(t, byte(statusInfoDisposed), v[3])

		v, ok = findParam(back, paramID(0x7777))
		require.True(t, ok)
		assert.Equal(t, []byte{1, 2, 3, 4}, v)

		v, ok = findParam(back, pidTopicName)
		require.True(t, ok)
		s, err := unpackParamString(order, v)
		require.NoError(t, err)
		assert.Equal(t, "sensor/temp", s)
	}
}

func TestParamListMissingSentinel(t *testing.T) {
	wire := Param{ID: pidVendorID, Value: []byte{1, 2, 0, 0}}.appendTo(nil, binary.LittleEndian)
	_, _, err := paramListFromBytes(binary.LittleEndian, wire)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestParamListOverlongValue(t *testing.T) {
	wire := []byte{0x05, 0x00, 0xff, 0x00, 1, 2} // declares 255 bytes, has 2
	_, _, err := paramListFromBytes(binary.LittleEndian, wire)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestParamListStopsAtSentinel(t *testing.T) {
	wire := appendParamList(nil, binary.LittleEndian, []Param{
		{ID: pidVendorID, Value: []byte{0x12, 0x34, 0, 0}},
	})
	trailer := []byte{0xde, 0xad, 0xbe, 0xef}
	wire = append(wire, trailer...)

	params, n, err := paramListFromBytes(binary.LittleEndian, wire)
	require.NoError(t, err)
	assert.Equal(t, len(wire)-len(trailer), n)
	assert.Len(t, params, 1)
}

func TestPackParamString(t *testing.T) {
	cases := []struct {
		s       string
		wireLen int
	}{
		{"", 8},       // 4 length + NUL, padded to 8
		{"abc", 8},    // 4 + 3 + NUL = 8
		{"abcd", 12},  // 4 + 4 + NUL = 9, padded to 12
	}
	for _, tc := range cases {
		b := packParamString(binary.LittleEndian, tc.s)
		assert.Len(t, b, tc.wireLen, "string %q", tc.s)
		assert.Zero(t, len(b)%4, "alignment for %q", tc.s)

		s, err := unpackParamString(binary.LittleEndian, b)
		require.NoError(t, err)
		assert.Equal(t, tc.s, s)
	}
}

func TestUnpackParamStringBad(t *testing.T) {
	_, err := unpackParamString(binary.LittleEndian, []byte{1, 0})
	assert.ErrorIs(t, err, ErrFormat)

	// declared length runs past the buffer
	b := binary.LittleEndian.AppendUint32(nil, 64)
	_, err = unpackParamString(binary.LittleEndian, b)
	assert.ErrorIs(t, err, ErrFormat)
}
