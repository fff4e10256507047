package rtps

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestampConversion(t *testing.T) {
	now := time.Now().UTC()
	ts := newTimestamp(now)

	// the NTP fraction holds about 230 picoseconds per step; converting
	// back must land within a nanosecond
	assert.WithinDuration(t, now, ts.Time(), time.Nanosecond)
}

func TestTimestampWireRoundTrip(t *testing.T) {
	ts := Timestamp{Sec: 0x5f5e1000, Frac: 0x80000000} // fraction = 0.5s
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		wire := ts.appendTo(nil, order)
		require.Len(t, wire, 8)
		back, err := timestampFromBytes(order, wire)
		require.NoError(t, err)
		assert.Equal(t, ts, back)
	}

	_, err := timestampFromBytes(binary.LittleEndian, make([]byte, 7))
	assert.ErrorIs(t, err, ErrFormat)
}

func TestTimestampHalfSecondFraction(t *testing.T) {
	ts := Timestamp{Sec: 100, Frac: 0x80000000}
	assert.Equal(t, time.Unix(100, 500000000).UTC(), ts.Time())
}

func TestDurationRoundTrip(t *testing.T) {
	cases := []time.Duration{
		0,
		time.Millisecond,
		time.Second,
		90*time.Second + 250*time.Millisecond,
		100 * time.Second,
	}
	for _, d := range cases {
		wire := durationToBytes(d, binary.LittleEndian)
		back, err := durationFromBytes(binary.LittleEndian, wire)
		require.NoError(t, err)
		assert.Equal(t, d, back, "duration %s", d)
	}

	_, err := durationFromBytes(binary.LittleEndian, nil)
	assert.ErrorIs(t, err, ErrFormat)
}
