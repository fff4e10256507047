package rtps

import (
	"encoding/binary"
	"fmt"
	"time"
)

// RTPS timestamps use the NTP representation (RFC 1305):
//   time = seconds + (fraction / 2^32)
// with the origin at the Unix epoch.

const nanosPerSec = 1e9

// Timestamp holds the raw wire fields so a decoded value re-encodes
// byte-for-byte; converting through time.Time would round the fraction.
type Timestamp struct {
	Sec  uint32
	Frac uint32
}

var (
	timestampInvalid  = Timestamp{Sec: 0xffffffff, Frac: 0xffffffff}
	timestampInfinite = Timestamp{Sec: 0x7fffffff, Frac: 0xffffffff}
)

func newTimestamp(t time.Time) Timestamp {
	return Timestamp{
		Sec:  uint32(t.Unix()),
		Frac: uint32((int64(t.Nanosecond()) << 32) / nanosPerSec),
	}
}

func (ts Timestamp) Time() time.Time {
	return time.Unix(int64(ts.Sec), (int64(ts.Frac)*nanosPerSec)>>32).UTC()
}

func timestampFromBytes(order binary.ByteOrder, b []byte) (Timestamp, error) {
	if len(b) < 8 {
		return timestampInvalid, fmt.Errorf("%w: truncated timestamp", ErrFormat)
	}
	return Timestamp{Sec: order.Uint32(b[0:]), Frac: order.Uint32(b[4:])}, nil
}

func (ts Timestamp) appendTo(b []byte, order binary.ByteOrder) []byte {
	var buf [8]byte
	order.PutUint32(buf[0:], ts.Sec)
	order.PutUint32(buf[4:], ts.Frac)
	return append(b, buf[:]...)
}

// durations share the seconds/nanoseconds split used by lease and QoS
// parameters

func durationToBytes(d time.Duration, order binary.ByteOrder) []byte {
	buf := make([]byte, 8)
	nsec := d.Nanoseconds()
	order.PutUint32(buf, uint32(nsec/nanosPerSec))
	order.PutUint32(buf[4:], uint32(nsec%nanosPerSec))
	return buf
}

func durationFromBytes(order binary.ByteOrder, b []byte) (time.Duration, error) {
	if len(b) < 8 {
		return 0, fmt.Errorf("%w: truncated duration", ErrFormat)
	}
	sec := order.Uint32(b[0:])
	nsec := order.Uint32(b[4:])
	return time.Duration(sec)*time.Second + time.Duration(nsec), nil
}
