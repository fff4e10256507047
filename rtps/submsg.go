package rtps

import (
	"encoding/binary"
	"fmt"
)

// DataSubmsg carries one serialized sample from a writer. The payload keeps
// its encapsulation header; inline QoS parameters (key hash, status info)
// ride along when the flag is set.
type DataSubmsg struct {
	Flags      uint8
	ExtraFlags uint16
	// octets from just past this field to the inline QoS (or payload);
	// decoded values are preserved so foreign padding re-encodes intact
	octetsToInlineQoS uint16
	extra             []byte // bytes between the fixed header and inline QoS
	ReaderID          EntityID
	WriterID          EntityID
	WriterSeq         SeqNum
	InlineQoS         []Param
	Payload           []byte
}

const dataFixedLen = 20 // extraflags(2) octetsToInlineQos(2) reader(4) writer(4) seqnum(8)

func newDataSubmsg(readerID, writerID EntityID, sn SeqNum, payload []byte) *DataSubmsg {
	flags := flagEndian
	if payload != nil {
		flags |= flagDataPresent
	}
	return &DataSubmsg{
		Flags:             flags,
		octetsToInlineQoS: dataFixedLen - 4,
		ReaderID:          readerID,
		WriterID:          writerID,
		WriterSeq:         sn,
		Payload:           payload,
	}
}

func (d *DataSubmsg) withInlineQoS(params ...Param) *DataSubmsg {
	d.InlineQoS = append(d.InlineQoS, params...)
	d.Flags |= flagDataInlineQoS
	return d
}

func (d *DataSubmsg) submsgID() uint8    { return submsgIDData }
func (d *DataSubmsg) submsgFlags() uint8 { return d.Flags }

func (d *DataSubmsg) appendBody(b []byte, order binary.ByteOrder) []byte {
	var fixed [12]byte
	order.PutUint16(fixed[0:], d.ExtraFlags)
	order.PutUint16(fixed[2:], d.octetsToInlineQoS)
	binary.BigEndian.PutUint32(fixed[4:], uint32(d.ReaderID))
	binary.BigEndian.PutUint32(fixed[8:], uint32(d.WriterID))
	b = append(b, fixed[:]...)
	b = appendSeqNum(b, order, d.WriterSeq)
	b = append(b, d.extra...)
	if d.Flags&flagDataInlineQoS != 0 {
		b = appendParamList(b, order, d.InlineQoS)
	}
	if d.Flags&flagDataPresent != 0 {
		b = append(b, d.Payload...)
	}
	return b
}

func dataFromBytes(flags uint8, order binary.ByteOrder, body []byte) (*DataSubmsg, error) {
	if len(body) < dataFixedLen {
		return nil, fmt.Errorf("%w: DATA body too short", ErrFormat)
	}
	sn, err := seqNumFromBytes(order, body[12:])
	if err != nil {
		return nil, err
	}
	d := &DataSubmsg{
		Flags:             flags,
		ExtraFlags:        order.Uint16(body[0:]),
		octetsToInlineQoS: order.Uint16(body[2:]),
		ReaderID:          EntityID(binary.BigEndian.Uint32(body[4:])),
		WriterID:          EntityID(binary.BigEndian.Uint32(body[8:])),
		WriterSeq:         sn,
	}
	// inline QoS (or payload) begins octetsToInlineQoS past body[4:]
	off := 4 + int(d.octetsToInlineQoS)
	if off < dataFixedLen || off > len(body) {
		return nil, fmt.Errorf("%w: DATA octetsToInlineQos %d out of range", ErrFormat, d.octetsToInlineQoS)
	}
	d.extra = body[dataFixedLen:off]
	rest := body[off:]
	if flags&flagDataInlineQoS != 0 {
		params, n, err := paramListFromBytes(order, rest)
		if err != nil {
			return nil, err
		}
		d.InlineQoS = params
		rest = rest[n:]
	}
	if flags&flagDataPresent != 0 {
		d.Payload = rest
	}
	return d, nil
}

// HeartbeatSubmsg announces the range of sequence numbers a writer still
// holds, prompting reliable readers to acknowledge or request repairs.
type HeartbeatSubmsg struct {
	Flags    uint8
	ReaderID EntityID
	WriterID EntityID
	FirstSeq SeqNum
	LastSeq  SeqNum
	Count    uint32
}

const heartbeatBodyLen = 28

func (h *HeartbeatSubmsg) submsgID() uint8    { return submsgIDHeartbeat }
func (h *HeartbeatSubmsg) submsgFlags() uint8 { return h.Flags }

func (h *HeartbeatSubmsg) final() bool { return h.Flags&flagHeartbeatFinal != 0 }

func (h *HeartbeatSubmsg) appendBody(b []byte, order binary.ByteOrder) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint32(buf[0:], uint32(h.ReaderID))
	binary.BigEndian.PutUint32(buf[4:], uint32(h.WriterID))
	b = append(b, buf[:]...)
	b = appendSeqNum(b, order, h.FirstSeq)
	b = appendSeqNum(b, order, h.LastSeq)
	order.PutUint32(buf[0:4], h.Count)
	return append(b, buf[:4]...)
}

func heartbeatFromBytes(flags uint8, order binary.ByteOrder, body []byte) (*HeartbeatSubmsg, error) {
	if len(body) < heartbeatBodyLen {
		return nil, fmt.Errorf("%w: HEARTBEAT body too short", ErrFormat)
	}
	first, _ := seqNumFromBytes(order, body[8:])
	last, _ := seqNumFromBytes(order, body[16:])
	return &HeartbeatSubmsg{
		Flags:    flags,
		ReaderID: EntityID(binary.BigEndian.Uint32(body[0:])),
		WriterID: EntityID(binary.BigEndian.Uint32(body[4:])),
		FirstSeq: first,
		LastSeq:  last,
		Count:    order.Uint32(body[24:]),
	}, nil
}

// AckNackSubmsg acknowledges everything below the state base and requests
// the numbers whose bits are set.
type AckNackSubmsg struct {
	Flags         uint8
	ReaderID      EntityID
	WriterID      EntityID
	ReaderSNState SeqNumSet
	Count         uint32
}

func (a *AckNackSubmsg) submsgID() uint8    { return submsgIDAckNack }
func (a *AckNackSubmsg) submsgFlags() uint8 { return a.Flags }

func (a *AckNackSubmsg) final() bool { return a.Flags&flagAckNackFinal != 0 }

func (a *AckNackSubmsg) appendBody(b []byte, order binary.ByteOrder) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint32(buf[0:], uint32(a.ReaderID))
	binary.BigEndian.PutUint32(buf[4:], uint32(a.WriterID))
	b = append(b, buf[:]...)
	b = a.ReaderSNState.appendTo(b, order)
	order.PutUint32(buf[0:4], a.Count)
	return append(b, buf[:4]...)
}

func ackNackFromBytes(flags uint8, order binary.ByteOrder, body []byte) (*AckNackSubmsg, error) {
	if len(body) < 8 {
		return nil, fmt.Errorf("%w: ACKNACK body too short", ErrFormat)
	}
	set, n, err := seqNumSetFromBytes(order, body[8:])
	if err != nil {
		return nil, err
	}
	if len(body) < 8+n+4 {
		return nil, fmt.Errorf("%w: ACKNACK missing count", ErrFormat)
	}
	return &AckNackSubmsg{
		Flags:         flags,
		ReaderID:      EntityID(binary.BigEndian.Uint32(body[0:])),
		WriterID:      EntityID(binary.BigEndian.Uint32(body[4:])),
		ReaderSNState: set,
		Count:         order.Uint32(body[8+n:]),
	}, nil
}

// GapSubmsg tells a reader that [GapStart, GapList.Base) plus the GapList
// bits are permanently unavailable and must never be requested again.
type GapSubmsg struct {
	Flags    uint8
	ReaderID EntityID
	WriterID EntityID
	GapStart SeqNum
	GapList  SeqNumSet
}

func (g *GapSubmsg) submsgID() uint8    { return submsgIDGap }
func (g *GapSubmsg) submsgFlags() uint8 { return g.Flags }

func (g *GapSubmsg) appendBody(b []byte, order binary.ByteOrder) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint32(buf[0:], uint32(g.ReaderID))
	binary.BigEndian.PutUint32(buf[4:], uint32(g.WriterID))
	b = append(b, buf[:]...)
	b = appendSeqNum(b, order, g.GapStart)
	return g.GapList.appendTo(b, order)
}

func gapFromBytes(flags uint8, order binary.ByteOrder, body []byte) (*GapSubmsg, error) {
	if len(body) < 16 {
		return nil, fmt.Errorf("%w: GAP body too short", ErrFormat)
	}
	start, err := seqNumFromBytes(order, body[8:])
	if err != nil {
		return nil, err
	}
	set, _, err := seqNumSetFromBytes(order, body[16:])
	if err != nil {
		return nil, err
	}
	return &GapSubmsg{
		Flags:    flags,
		ReaderID: EntityID(binary.BigEndian.Uint32(body[0:])),
		WriterID: EntityID(binary.BigEndian.Uint32(body[4:])),
		GapStart: start,
		GapList:  set,
	}, nil
}

// InfoTSSubmsg sets (or invalidates) the source timestamp for the
// submessages that follow it in the same message.
type InfoTSSubmsg struct {
	Flags     uint8
	Timestamp Timestamp
}

func newInfoTS(ts Timestamp) *InfoTSSubmsg {
	return &InfoTSSubmsg{Flags: flagEndian, Timestamp: ts}
}

func (i *InfoTSSubmsg) submsgID() uint8    { return submsgIDInfoTS }
func (i *InfoTSSubmsg) submsgFlags() uint8 { return i.Flags }

func (i *InfoTSSubmsg) invalidates() bool { return i.Flags&flagInfoTSInvalidate != 0 }

func (i *InfoTSSubmsg) appendBody(b []byte, order binary.ByteOrder) []byte {
	if i.invalidates() {
		return b
	}
	return i.Timestamp.appendTo(b, order)
}

func infoTSFromBytes(flags uint8, order binary.ByteOrder, body []byte) (*InfoTSSubmsg, error) {
	sm := &InfoTSSubmsg{Flags: flags}
	if sm.invalidates() {
		return sm, nil
	}
	ts, err := timestampFromBytes(order, body)
	if err != nil {
		return nil, err
	}
	sm.Timestamp = ts
	return sm, nil
}

// InfoDstSubmsg directs the rest of the message at one participant.
type InfoDstSubmsg struct {
	Flags  uint8
	Prefix GUIDPrefix
}

func (i *InfoDstSubmsg) submsgID() uint8    { return submsgIDInfoDst }
func (i *InfoDstSubmsg) submsgFlags() uint8 { return i.Flags }

func (i *InfoDstSubmsg) appendBody(b []byte, _ binary.ByteOrder) []byte {
	return append(b, i.Prefix[:]...)
}

func infoDstFromBytes(flags uint8, body []byte) (*InfoDstSubmsg, error) {
	if len(body) < guidPrefixLen {
		return nil, fmt.Errorf("%w: INFO_DST body too short", ErrFormat)
	}
	sm := &InfoDstSubmsg{Flags: flags}
	copy(sm.Prefix[:], body)
	return sm, nil
}
