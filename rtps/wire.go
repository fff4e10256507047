package rtps

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	protocolMagic = 0x52545053 // "RTPS"

	versionMajor = 2
	versionMinor = 1

	headerLen     = 20
	submsgHdrLen  = 4
	submsgMaxSize = 0xffff
)

// submessage kind ids
const (
	submsgIDPad       = 0x01
	submsgIDAckNack   = 0x06
	submsgIDHeartbeat = 0x07
	submsgIDGap       = 0x08
	submsgIDInfoTS    = 0x09
	submsgIDInfoDst   = 0x0e
	submsgIDData      = 0x15
)

// submessage flag bits
const (
	flagEndian uint8 = 0x01 // set: little endian; applies to all submessages

	flagInfoTSInvalidate uint8 = 0x02

	flagDataInlineQoS uint8 = 0x02
	flagDataPresent   uint8 = 0x04
	flagDataKeyed     uint8 = 0x08

	flagAckNackFinal uint8 = 0x02

	flagHeartbeatFinal      uint8 = 0x02
	flagHeartbeatLiveliness uint8 = 0x04
)

// serialized payload encapsulation schemes
const (
	schemeCDRLE   = 0x0001
	schemePLCDRLE = 0x0003
)

type ProtoVersion struct {
	Major uint8
	Minor uint8
}

// Header is the fixed RTPS message header: magic, version, vendor and the
// sending participant's GUID prefix.
type Header struct {
	Version ProtoVersion
	Vendor  VendorID
	Prefix  GUIDPrefix
}

func newHeader(prefix GUIDPrefix) Header {
	return Header{
		Version: ProtoVersion{versionMajor, versionMinor},
		Vendor:  vendorIDMine,
		Prefix:  prefix,
	}
}

func (h Header) appendTo(b []byte) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint32(buf[0:], protocolMagic)
	buf[4], buf[5] = h.Version.Major, h.Version.Minor
	binary.BigEndian.PutUint16(buf[6:], uint16(h.Vendor))
	b = append(b, buf[:]...)
	return append(b, h.Prefix[:]...)
}

func headerFromBytes(b []byte) (Header, error) {
	if len(b) < headerLen {
		return Header{}, fmt.Errorf("%w: message shorter than header", ErrFormat)
	}
	if binary.BigEndian.Uint32(b) != protocolMagic {
		return Header{}, fmt.Errorf("%w: bad protocol magic", ErrFormat)
	}
	h := Header{
		Version: ProtoVersion{b[4], b[5]},
		Vendor:  VendorID(binary.BigEndian.Uint16(b[6:])),
	}
	copy(h.Prefix[:], b[8:headerLen])
	return h, nil
}

// Submessage is the closed set of wire submessages. Decoding yields one of
// the concrete types below, or UnknownSubmsg for ids we skip by length.
type Submessage interface {
	submsgID() uint8
	submsgFlags() uint8
	appendBody(b []byte, order binary.ByteOrder) []byte
}

// byteOrderOf maps the endian flag bit to a byte order. Encode always honors
// the flag the submessage carries; our constructors default to little endian.
func byteOrderOf(flags uint8) binary.ByteOrder {
	if flags&flagEndian != 0 {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// Message is one RTPS datagram: a header followed by a submessage group.
type Message struct {
	Header  Header
	Submsgs []Submessage
}

func (m *Message) Bytes() []byte {
	b := m.Header.appendTo(nil)
	for _, sm := range m.Submsgs {
		b = appendSubmsg(b, sm)
	}
	return b
}

func appendSubmsg(b []byte, sm Submessage) []byte {
	flags := sm.submsgFlags()
	order := byteOrderOf(flags)
	body := sm.appendBody(nil, order)
	var hdr [submsgHdrLen]byte
	hdr[0], hdr[1] = sm.submsgID(), flags
	order.PutUint16(hdr[2:], uint16(len(body)))
	b = append(b, hdr[:]...)
	return append(b, body...)
}

// DecodeMessage parses a full message group. A malformed submessage aborts
// only the remainder that cannot be framed; everything already decoded is
// returned along with the error.
func DecodeMessage(b []byte) (*Message, error) {
	hdr, err := headerFromBytes(b)
	if err != nil {
		return nil, err
	}
	msg := &Message{Header: hdr}
	b = b[headerLen:]

	var bodyErr error
	for len(b) > 0 {
		if len(b) < submsgHdrLen {
			return msg, fmt.Errorf("%w: trailing %d bytes cannot hold a submessage header", ErrFormat, len(b))
		}
		id, flags := b[0], b[1]
		order := byteOrderOf(flags)
		sz := int(order.Uint16(b[2:]))
		if len(b) < submsgHdrLen+sz {
			return msg, fmt.Errorf("%w: submessage 0x%02x declares %d bytes, %d left", ErrFormat, id, sz, len(b)-submsgHdrLen)
		}
		body := b[submsgHdrLen : submsgHdrLen+sz]

		sm, err := decodeSubmsgBody(id, flags, order, body)
		if err != nil {
			// this submessage is garbage but the framing is intact, so
			// the rest of the group is still attempted
			bodyErr = errors.Join(bodyErr, err)
			b = b[submsgHdrLen+sz:]
			continue
		}
		msg.Submsgs = append(msg.Submsgs, sm)
		b = b[submsgHdrLen+sz:]
	}
	return msg, bodyErr
}

func decodeSubmsgBody(id, flags uint8, order binary.ByteOrder, body []byte) (Submessage, error) {
	switch id {
	case submsgIDData:
		return dataFromBytes(flags, order, body)
	case submsgIDHeartbeat:
		return heartbeatFromBytes(flags, order, body)
	case submsgIDAckNack:
		return ackNackFromBytes(flags, order, body)
	case submsgIDGap:
		return gapFromBytes(flags, order, body)
	case submsgIDInfoTS:
		return infoTSFromBytes(flags, order, body)
	case submsgIDInfoDst:
		return infoDstFromBytes(flags, body)
	default:
		// forward compatibility: unknown kinds are carried, not fatal
		return &UnknownSubmsg{ID: id, Flags: flags, Body: append([]byte(nil), body...)}, nil
	}
}

// serialized payloads open with a four-byte encapsulation header: the scheme
// (always big endian) and a 16-bit options word

func encapsulate(scheme uint16, body []byte) []byte {
	b := make([]byte, 4, 4+len(body))
	binary.BigEndian.PutUint16(b, scheme)
	return append(b, body...)
}

func decapsulate(b []byte) (uint16, []byte, error) {
	if len(b) < 4 {
		return 0, nil, fmt.Errorf("%w: payload shorter than encapsulation header", ErrFormat)
	}
	return binary.BigEndian.Uint16(b), b[4:], nil
}

// UnknownSubmsg preserves a submessage whose kind we do not understand, so a
// decoded message group re-encodes byte-for-byte.
type UnknownSubmsg struct {
	ID    uint8
	Flags uint8
	Body  []byte
}

func (u *UnknownSubmsg) submsgID() uint8     { return u.ID }
func (u *UnknownSubmsg) submsgFlags() uint8  { return u.Flags }
func (u *UnknownSubmsg) appendBody(b []byte, _ binary.ByteOrder) []byte {
	return append(b, u.Body...)
}
