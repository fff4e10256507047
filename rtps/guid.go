package rtps

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

const (
	guidPrefixLen = 12
	guidLen       = 16

	vendorIDMine = 0x1234
)

const (
	EIDUnknown     EntityID = 0x0
	EIDParticipant EntityID = 0x1c1

	// builtin discovery endpoints
	EIDSEDPTopicWriter EntityID = 0x2c2
	EIDSEDPTopicReader EntityID = 0x2c7
	EIDSEDPPubWriter   EntityID = 0x3c2
	EIDSEDPPubReader   EntityID = 0x3c7
	EIDSEDPSubWriter   EntityID = 0x4c2
	EIDSEDPSubReader   EntityID = 0x4c7
	EIDSPDPWriter      EntityID = 0x100c2
	EIDSPDPReader      EntityID = 0x100c7

	entityKindMask      = 0x3f
	entityKindWriterKey = 0x02
	entityKindWriter    = 0x03
	entityKindReader    = 0x04
	entityKindReaderKey = 0x07
	entitySourceMask    = 0xc0
	entitySourceBuiltin = 0xc0

	// user entity keys are allocated per participant in steps of this,
	// leaving the low byte free for the kind
	entityIDAllocStep = 0x100
)

type VendorID uint16

func vendorName(id VendorID) string {
	switch id {
	case 0x0101:
		return "RTI Connext"
	case 0x0102:
		return "PrismTech OpenSplice"
	case 0x0103:
		return "OCI OpenDDS"
	case 0x0106:
		return "TwinOaks CoreDX"
	case 0x010f:
		return "eProsima"
	case vendorIDMine:
		return "rtps-go"
	default:
		return "unknown"
	}
}

// EntityID identifies an entity within a participant.
// NB: always encoded big endian, regardless of submessage endian flag.
type EntityID uint32

func (eid EntityID) kind() uint8 {
	return uint8(eid & 0xff)
}

func (eid EntityID) isWriter() bool {
	switch eid & entityKindMask {
	case entityKindWriterKey, entityKindWriter:
		return true
	}
	return false
}

func (eid EntityID) isReader() bool {
	switch eid & entityKindMask {
	case entityKindReaderKey, entityKindReader:
		return true
	}
	return false
}

func (eid EntityID) isBuiltin() bool {
	return (eid & entitySourceMask) == entitySourceBuiltin
}

func (eid EntityID) String() string {
	return fmt.Sprintf("0x%08x", uint32(eid))
}

// GUIDPrefix identifies a participant. Comparable so it can key proxy tables.
type GUIDPrefix [guidPrefixLen]byte

var unknownGUIDPrefix GUIDPrefix

// newGUIDPrefix builds a prefix from our vendor id plus random entropy, so
// two participants on one host never collide even across restarts.
func newGUIDPrefix() GUIDPrefix {
	var gp GUIDPrefix
	gp[0] = vendorIDMine >> 8
	gp[1] = vendorIDMine & 0xff
	u := uuid.New()
	copy(gp[2:], u[:10])
	return gp
}

func (gp GUIDPrefix) unknown() bool {
	return gp == unknownGUIDPrefix
}

func (gp GUIDPrefix) String() string {
	return fmt.Sprintf("%02x%02x%02x%02x-%02x%02x%02x%02x-%02x%02x%02x%02x",
		gp[0], gp[1], gp[2], gp[3], gp[4], gp[5], gp[6], gp[7], gp[8], gp[9], gp[10], gp[11])
}

// GUID is a globally unique entity identifier: participant prefix plus
// entity id. Immutable once assigned.
type GUID struct {
	Prefix   GUIDPrefix
	EntityID EntityID
}

func guidFromBytes(b []byte) (GUID, error) {
	if len(b) < guidLen {
		return GUID{}, fmt.Errorf("%w: guid needs %d bytes, have %d", ErrFormat, guidLen, len(b))
	}
	var g GUID
	copy(g.Prefix[:], b[:guidPrefixLen])
	g.EntityID = EntityID(binary.BigEndian.Uint32(b[guidPrefixLen:]))
	return g, nil
}

func (g GUID) bytes() []byte {
	b := make([]byte, guidLen)
	copy(b, g.Prefix[:])
	binary.BigEndian.PutUint32(b[guidPrefixLen:], uint32(g.EntityID))
	return b
}

func (g GUID) unknown() bool {
	return g.EntityID == EIDUnknown && g.Prefix.unknown()
}

func (g GUID) String() string {
	return fmt.Sprintf("[%s : %s]", g.Prefix, g.EntityID)
}
