package rtps

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeqNumWireSplit(t *testing.T) {
	// high signed word then low unsigned word, in submessage byte order
	cases := []struct {
		name  string
		sn    SeqNum
		order binary.ByteOrder
		wire  []byte
	}{
		{"one LE", 1, binary.LittleEndian, []byte{0, 0, 0, 0, 1, 0, 0, 0}},
		{"one BE", 1, binary.BigEndian, []byte{0, 0, 0, 0, 0, 0, 0, 1}},
		{"spans words LE", 0x0000000100000002, binary.LittleEndian,
			[]byte{1, 0, 0, 0, 2, 0, 0, 0}},
		{"low word full LE", 0x00000000ffffffff, binary.LittleEndian,
			[]byte{0, 0, 0, 0, 0xff, 0xff, 0xff, 0xff}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := appendSeqNum(nil, tc.order, tc.sn)
			assert.Equal(t, tc.wire, got)

			back, err := seqNumFromBytes(tc.order, tc.wire)
			require.NoError(t, err)
			assert.Equal(t, tc.sn, back)
		})
	}
}

func TestSeqNumTruncated(t *testing.T) {
	_, err := seqNumFromBytes(binary.LittleEndian, []byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrFormat)
}

func TestSeqNumSetInsertHas(t *testing.T) {
	s := newSeqNumSet(10)

	assert.True(t, s.Insert(10))
	assert.True(t, s.Insert(42))
	assert.True(t, s.Insert(10+255)) // last bit of the window

	assert.False(t, s.Insert(9), "below base")
	assert.False(t, s.Insert(10+256), "past the window")

	assert.True(t, s.Has(10))
	assert.True(t, s.Has(42))
	assert.False(t, s.Has(11))
	assert.False(t, s.Has(9))

	assert.Equal(t, []SeqNum{10, 42, 265}, s.Slice())
	assert.False(t, s.Empty())

	fresh := newSeqNumSet(1)
	assert.True(t, fresh.Empty())
}

func TestSeqNumSetRoundTrip(t *testing.T) {
	s := newSeqNumSet(100)
	for _, sn := range []SeqNum{100, 101, 131, 132, 200} {
		require.True(t, s.Insert(sn))
	}

	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		wire := s.appendTo(nil, order)
		back, n, err := seqNumSetFromBytes(order, wire)
		require.NoError(t, err)
		assert.Equal(t, len(wire), n)
		assert.Equal(t, s.Slice(), back.Slice())
		assert.Equal(t, s.Base, back.Base)
	}
}

func TestSeqNumSetDecodeVector(t *testing.T) {
	// base=2, numBits=8, one word with bits 0 and 2 set: members {2, 4}
	wire := []byte{
		0, 0, 0, 0, // base high
		2, 0, 0, 0, // base low
		8, 0, 0, 0, // numBits
		0x05, 0, 0, 0, // bitmap word 0
	}
	s, n, err := seqNumSetFromBytes(binary.LittleEndian, wire)
	require.NoError(t, err)
	assert.Equal(t, len(wire), n)
	assert.Equal(t, SeqNum(2), s.Base)
	assert.Equal(t, []SeqNum{2, 4}, s.Slice())

	// a declared bit count below a word boundary re-encodes verbatim
	assert.Equal(t, wire, s.appendTo(nil, binary.LittleEndian))
}

func TestSeqNumSetDecodeRejectsOversize(t *testing.T) {
	wire := appendSeqNum(nil, binary.LittleEndian, 1)
	wire = binary.LittleEndian.AppendUint32(wire, 300) // > 256 bits
	_, _, err := seqNumSetFromBytes(binary.LittleEndian, wire)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestSeqNumSetValid(t *testing.T) {
	s := newSeqNumSet(1)
	assert.True(t, s.valid())
	s = newSeqNumSet(0)
	assert.False(t, s.valid(), "base below 1")
}
