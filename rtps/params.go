package rtps

import (
	"encoding/binary"
	"fmt"
)

// parameter ids used in discovery payloads and inline QoS
type paramID uint16

const (
	pidPad                  paramID = 0x0000
	pidSentinel             paramID = 0x0001
	pidLeaseDuration        paramID = 0x0002
	pidTopicName            paramID = 0x0005
	pidTypeName             paramID = 0x0007
	pidProtocolVersion      paramID = 0x0015
	pidVendorID             paramID = 0x0016
	pidReliability          paramID = 0x001a
	pidDurability           paramID = 0x001d
	pidDefaultUnicastLoc    paramID = 0x0031
	pidMetaUnicastLoc       paramID = 0x0032
	pidMetaMulticastLoc     paramID = 0x0033
	pidHistory              paramID = 0x0040
	pidDefaultMulticastLoc  paramID = 0x0048
	pidParticipantGUID      paramID = 0x0050
	pidBuiltinEndpointSet   paramID = 0x0058
	pidEndpointGUID         paramID = 0x005a
	pidKeyHash              paramID = 0x0070
	pidStatusInfo           paramID = 0x0071
	pidVendorSpecificFlag   paramID = 0x8000
)

// Param is one (id, value) entry in a parameter list. Values are kept as raw
// bytes; unknown ids pass through untouched for forward compatibility.
type Param struct {
	ID    paramID
	Value []byte // length must stay 32-bit aligned
}

func (p Param) appendTo(b []byte, order binary.ByteOrder) []byte {
	var hdr [4]byte
	order.PutUint16(hdr[0:], uint16(p.ID))
	order.PutUint16(hdr[2:], uint16(len(p.Value)))
	b = append(b, hdr[:]...)
	return append(b, p.Value...)
}

// appendParamList writes every param followed by the sentinel.
func appendParamList(b []byte, order binary.ByteOrder, params []Param) []byte {
	for _, p := range params {
		b = p.appendTo(b, order)
	}
	var sentinel [4]byte
	order.PutUint16(sentinel[0:], uint16(pidSentinel))
	return append(b, sentinel[:]...)
}

// paramListFromBytes decodes entries until the sentinel, reporting consumed
// bytes (sentinel included). A declared length past the end of the buffer is
// a format error; an unknown id is not.
func paramListFromBytes(order binary.ByteOrder, b []byte) ([]Param, int, error) {
	var params []Param
	n := 0
	for {
		if len(b) < 4 {
			return nil, 0, fmt.Errorf("%w: parameter list missing sentinel", ErrFormat)
		}
		id := paramID(order.Uint16(b[0:]))
		sz := int(order.Uint16(b[2:]))
		if len(b) < 4+sz {
			return nil, 0, fmt.Errorf("%w: parameter 0x%04x declares %d bytes, %d left", ErrFormat, id, sz, len(b)-4)
		}
		n += 4 + sz
		if id == pidSentinel {
			return params, n, nil
		}
		params = append(params, Param{ID: id, Value: b[4 : 4+sz]})
		b = b[4+sz:]
	}
}

func findParam(params []Param, id paramID) ([]byte, bool) {
	for _, p := range params {
		if p.ID == id {
			return p.Value, true
		}
	}
	return nil, false
}

// strings are encoded as u32 length (including NUL) + bytes + NUL, padded to
// 32-bit alignment
func packParamString(order binary.ByteOrder, s string) []byte {
	b := make([]byte, (4+len(s)+1+3) & ^0x3)
	order.PutUint32(b[0:], uint32(len(s)+1))
	copy(b[4:], s)
	return b
}

func unpackParamString(order binary.ByteOrder, b []byte) (string, error) {
	if len(b) < 4 {
		return "", fmt.Errorf("%w: truncated string parameter", ErrFormat)
	}
	sz := int(order.Uint32(b[0:]))
	if sz < 1 || len(b) < 4+sz {
		return "", fmt.Errorf("%w: string parameter declares %d bytes, %d left", ErrFormat, sz, len(b)-4)
	}
	return string(b[4 : 4+sz-1]), nil
}
