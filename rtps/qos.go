package rtps

import (
	"encoding/binary"
	"fmt"
	"time"
)

type ReliabilityKind uint32

const (
	BestEffort ReliabilityKind = 1
	Reliable   ReliabilityKind = 2
)

func (k ReliabilityKind) String() string {
	switch k {
	case BestEffort:
		return "best-effort"
	case Reliable:
		return "reliable"
	}
	return "unknown"
}

type HistoryKind uint32

const (
	KeepLast HistoryKind = 0
	KeepAll  HistoryKind = 1
)

type DurabilityKind uint32

const (
	Volatile       DurabilityKind = 0
	TransientLocal DurabilityKind = 1
)

// QoS is the subset of DDS policies that affects reliability, ordering and
// history semantics. Anything else travels through discovery as opaque
// parameters.
type QoS struct {
	Reliability ReliabilityKind
	Durability  DurabilityKind
	History     HistoryKind
	Depth       uint32 // KEEP_LAST depth; ignored for KEEP_ALL
}

// DefaultQoS is best-effort, volatile, keep-last-1.
func DefaultQoS() QoS {
	return QoS{
		Reliability: BestEffort,
		Durability:  Volatile,
		History:     KeepLast,
		Depth:       1,
	}
}

// compatibleWith checks a reader's requested QoS against a writer's offered
// QoS. Reliability is the hard precondition: a RELIABLE reader cannot be
// served by a BEST_EFFORT writer. Durability follows the same
// requested-vs-offered rule but may be relaxed by configuration.
func (requested QoS) compatibleWith(offered QoS, relaxDurability bool) error {
	if requested.Reliability == Reliable && offered.Reliability == BestEffort {
		return fmt.Errorf("%w: reliable reader, best-effort writer", ErrQosIncompatible)
	}
	if !relaxDurability &&
		requested.Durability == TransientLocal && offered.Durability == Volatile {
		return fmt.Errorf("%w: transient-local reader, volatile writer", ErrQosIncompatible)
	}
	return nil
}

// wire forms carried in discovery parameter lists

func (q QoS) reliabilityBytes(order binary.ByteOrder) []byte {
	b := make([]byte, 4, 12)
	order.PutUint32(b, uint32(q.Reliability))
	return append(b, durationToBytes(100*time.Millisecond, order)...) // maxBlockingTime
}

func reliabilityFromBytes(order binary.ByteOrder, b []byte) (ReliabilityKind, error) {
	if len(b) < 4 {
		return 0, fmt.Errorf("%w: truncated reliability qos", ErrFormat)
	}
	return ReliabilityKind(order.Uint32(b)), nil
}

func (q QoS) durabilityBytes(order binary.ByteOrder) []byte {
	b := make([]byte, 4)
	order.PutUint32(b, uint32(q.Durability))
	return b
}

func durabilityFromBytes(order binary.ByteOrder, b []byte) (DurabilityKind, error) {
	if len(b) < 4 {
		return 0, fmt.Errorf("%w: truncated durability qos", ErrFormat)
	}
	return DurabilityKind(order.Uint32(b)), nil
}

func (q QoS) historyBytes(order binary.ByteOrder) []byte {
	b := make([]byte, 8)
	order.PutUint32(b, uint32(q.History))
	order.PutUint32(b[4:], q.Depth)
	return b
}

func historyFromBytes(order binary.ByteOrder, b []byte) (HistoryKind, uint32, error) {
	if len(b) < 8 {
		return 0, 0, fmt.Errorf("%w: truncated history qos", ErrFormat)
	}
	return HistoryKind(order.Uint32(b)), order.Uint32(b[4:]), nil
}
