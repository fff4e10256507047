package rtps

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// SeqNum orders the changes of a single writer. Valid sequence numbers start
// at 1; zero and negative values are sentinels.
type SeqNum int64

const (
	SeqNumInvalid SeqNum = 0
	MaxSeqNum     SeqNum = 0x7fffffffffffffff
	seqNumLen            = 8
)

// on the wire a sequence number is a signed high word followed by an
// unsigned low word, each in the submessage byte order
func seqNumFromBytes(order binary.ByteOrder, b []byte) (SeqNum, error) {
	if len(b) < seqNumLen {
		return SeqNumInvalid, fmt.Errorf("%w: truncated sequence number", ErrFormat)
	}
	hi := int32(order.Uint32(b[0:]))
	lo := order.Uint32(b[4:])
	return SeqNum(int64(hi)<<32 | int64(lo)), nil
}

func putSeqNum(b []byte, order binary.ByteOrder, sn SeqNum) {
	order.PutUint32(b[0:], uint32(uint64(sn)>>32))
	order.PutUint32(b[4:], uint32(uint64(sn)))
}

func appendSeqNum(b []byte, order binary.ByteOrder, sn SeqNum) []byte {
	var buf [seqNumLen]byte
	putSeqNum(buf[:], order, sn)
	return append(b, buf[:]...)
}

// SeqNumSet is a compact set of sequence numbers within a 256-wide window
// starting at Base. Used by ACKNACK (requested numbers) and GAP (irrelevant
// numbers). Bit i of word i/32 represents Base+i, low bit first.
type SeqNumSet struct {
	Base   SeqNum
	bitmap []uint32
	// bit count declared by a decoded set; zero means derive from the
	// bitmap length. Kept so re-encoding reproduces the original bytes.
	declaredBits uint32
}

const seqNumSetMaxBits = 256

func newSeqNumSet(base SeqNum) SeqNumSet {
	return SeqNumSet{Base: base}
}

// Insert adds sn to the set. Numbers below Base or beyond the 256-bit
// window are rejected.
func (s *SeqNumSet) Insert(sn SeqNum) bool {
	off := int64(sn - s.Base)
	if off < 0 || off >= seqNumSetMaxBits {
		return false
	}
	word := int(off / 32)
	for len(s.bitmap) <= word {
		s.bitmap = append(s.bitmap, 0)
	}
	s.bitmap[word] |= 1 << uint(off%32)
	s.declaredBits = 0
	return true
}

func (s *SeqNumSet) Has(sn SeqNum) bool {
	off := int64(sn - s.Base)
	if off < 0 || off >= int64(len(s.bitmap))*32 {
		return false
	}
	return s.bitmap[off/32]&(1<<uint(off%32)) != 0
}

func (s *SeqNumSet) Empty() bool {
	for _, w := range s.bitmap {
		if w != 0 {
			return false
		}
	}
	return true
}

func (s *SeqNumSet) numBits() uint32 {
	if s.declaredBits != 0 {
		return s.declaredBits
	}
	return uint32(len(s.bitmap) * 32)
}

// Slice returns the members in ascending order.
func (s *SeqNumSet) Slice() []SeqNum {
	var out []SeqNum
	for i, w := range s.bitmap {
		for bit := 0; bit < 32; bit++ {
			if w&(1<<uint(bit)) != 0 {
				out = append(out, s.Base+SeqNum(i*32+bit))
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *SeqNumSet) valid() bool {
	return s.Base >= 1 && s.numBits() <= seqNumSetMaxBits
}

func (s *SeqNumSet) wireLen() int {
	return seqNumLen + 4 + len(s.bitmap)*4
}

func (s *SeqNumSet) appendTo(b []byte, order binary.ByteOrder) []byte {
	b = appendSeqNum(b, order, s.Base)
	var buf [4]byte
	order.PutUint32(buf[:], s.numBits())
	b = append(b, buf[:]...)
	for _, w := range s.bitmap {
		order.PutUint32(buf[:], w)
		b = append(b, buf[:]...)
	}
	return b
}

// seqNumSetFromBytes decodes a set and reports how many bytes it consumed.
func seqNumSetFromBytes(order binary.ByteOrder, b []byte) (SeqNumSet, int, error) {
	base, err := seqNumFromBytes(order, b)
	if err != nil {
		return SeqNumSet{}, 0, err
	}
	if len(b) < seqNumLen+4 {
		return SeqNumSet{}, 0, fmt.Errorf("%w: truncated sequence number set", ErrFormat)
	}
	nbits := order.Uint32(b[seqNumLen:])
	if nbits > seqNumSetMaxBits {
		return SeqNumSet{}, 0, fmt.Errorf("%w: sequence number set claims %d bits", ErrFormat, nbits)
	}
	words := int((nbits + 31) / 32)
	need := seqNumLen + 4 + words*4
	if len(b) < need {
		return SeqNumSet{}, 0, fmt.Errorf("%w: sequence number set bitmap truncated", ErrFormat)
	}
	set := SeqNumSet{Base: base, declaredBits: nbits}
	for i := 0; i < words; i++ {
		set.bitmap = append(set.bitmap, order.Uint32(b[seqNumLen+4+i*4:]))
	}
	return set, need, nil
}
