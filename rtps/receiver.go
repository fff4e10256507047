package rtps

import (
	"time"
)

// receiver is the per-message interpreter state: the source prefix from the
// header plus whatever INFO submessages have declared so far. It lives for
// one datagram.
type receiver struct {
	srcPrefix  GUIDPrefix
	srcVersion ProtoVersion
	srcVendor  VendorID

	haveTimestamp bool
	timestamp     time.Time

	// set when an INFO_DST named somebody else; the rest of the group is
	// not for us
	foreignDst bool
}

var submsgKindNames = map[uint8]string{
	submsgIDData:      "data",
	submsgIDHeartbeat: "heartbeat",
	submsgIDAckNack:   "acknack",
	submsgIDGap:       "gap",
	submsgIDInfoTS:    "info_ts",
	submsgIDInfoDst:   "info_dst",
}

func submsgKindName(id uint8) string {
	if name, ok := submsgKindNames[id]; ok {
		return name
	}
	return "unknown"
}

// handleDatagram decodes one datagram and walks its submessage group in
// order. A partially decodable message is still processed as far as it goes.
func (p *Participant) handleDatagram(dg Datagram) {
	p.metrics.DatagramsRx.Inc()

	msg, err := DecodeMessage(dg.Payload)
	if err != nil {
		p.metrics.DecodeErrs.Inc()
		p.log.Debug("datagram decode", "source", dg.Source, "err", err)
		if msg == nil {
			return
		}
	}
	if msg.Header.Prefix == p.guid.Prefix {
		return // our own multicast loopback
	}

	rx := receiver{
		srcPrefix:  msg.Header.Prefix,
		srcVersion: msg.Header.Version,
		srcVendor:  msg.Header.Vendor,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	for _, sm := range msg.Submsgs {
		p.metrics.SubmsgRx.WithLabelValues(submsgKindName(sm.submsgID())).Inc()

		switch sm := sm.(type) {
		case *InfoTSSubmsg:
			if sm.invalidates() {
				rx.haveTimestamp = false
			} else {
				rx.haveTimestamp = true
				rx.timestamp = sm.Timestamp.Time()
			}
			continue
		case *InfoDstSubmsg:
			var zero GUIDPrefix
			rx.foreignDst = sm.Prefix != zero && sm.Prefix != p.guid.Prefix
			continue
		}

		if rx.foreignDst {
			continue
		}

		switch sm := sm.(type) {
		case *DataSubmsg:
			p.handleDataSubmsg(&rx, sm)
		case *HeartbeatSubmsg:
			p.handleHeartbeatSubmsg(&rx, sm)
		case *AckNackSubmsg:
			p.handleAckNackSubmsg(&rx, sm)
		case *GapSubmsg:
			p.handleGapSubmsg(&rx, sm)
		case *UnknownSubmsg:
			// already skipped by length at decode
		}
	}
}

func (p *Participant) handleDataSubmsg(rx *receiver, dsm *DataSubmsg) {
	if dsm.WriterID.isBuiltin() {
		if err := p.disc.handleData(dsm, byteOrderOf(dsm.Flags), rx.srcPrefix); err != nil {
			p.metrics.DecodeErrs.Inc()
			p.log.Debug("discovery data", "source", rx.srcPrefix, "err", err)
		}
		return
	}

	readers := p.reg.readersFor(GUID{Prefix: rx.srcPrefix, EntityID: dsm.WriterID}, dsm.ReaderID)
	if len(readers) == 0 {
		return
	}

	_, body, err := decapsulate(dsm.Payload)
	if err != nil {
		p.metrics.DecodeErrs.Inc()
		p.log.Debug("user data", "writer", dsm.WriterID, "err", err)
		return
	}
	ts := time.Now().UTC()
	if rx.haveTimestamp {
		ts = rx.timestamp
	}
	change := &CacheChange{
		WriterGUID: GUID{Prefix: rx.srcPrefix, EntityID: dsm.WriterID},
		SeqNum:     dsm.WriterSeq,
		Kind:       changeKindFromParams(dsm.InlineQoS),
		Timestamp:  ts,
		Payload:    body,
	}
	for _, r := range readers {
		r.handleData(change)
	}
}

func (p *Participant) handleHeartbeatSubmsg(rx *receiver, hb *HeartbeatSubmsg) {
	writerGUID := GUID{Prefix: rx.srcPrefix, EntityID: hb.WriterID}
	for _, r := range p.reg.readers {
		if hb.ReaderID != EIDUnknown && hb.ReaderID != r.guid.EntityID {
			continue
		}
		proxy, ok := r.writers[writerGUID]
		if !ok {
			continue
		}
		if an := r.handleHeartbeat(hb, rx.srcPrefix); an != nil {
			p.scheduleAckNack(proxy, an)
		}
	}
}

func (p *Participant) handleAckNackSubmsg(rx *receiver, an *AckNackSubmsg) {
	w, ok := p.reg.writerByEntityID(an.WriterID)
	if !ok {
		return
	}
	if err := w.handleAckNack(an, rx.srcPrefix); err != nil {
		p.log.Debug("acknack", "writer", w.guid, "err", err)
	}
}

func (p *Participant) handleGapSubmsg(rx *receiver, g *GapSubmsg) {
	for _, r := range p.reg.readers {
		if g.ReaderID != EIDUnknown && g.ReaderID != r.guid.EntityID {
			continue
		}
		r.handleGap(g, rx.srcPrefix)
	}
}
