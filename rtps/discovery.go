package rtps

import (
	"encoding/binary"
	"fmt"
	"time"
)

// The discovery engine follows the shape of RTPS simple discovery: a
// periodic participant announcement (SPDP) plus endpoint announcements
// (SEDP), all broadcast to the well-known multicast locator. Collection is
// passive; liveliness is a lease renewed by every received announcement and
// enforced by a periodic sweep.

type discovery struct {
	p       *Participant
	spdpSeq SeqNum
	pubSeq  SeqNum
	subSeq  SeqNum
}

func newDiscovery(p *Participant) *discovery {
	return &discovery{p: p}
}

// announce broadcasts our participant and endpoint metadata. Called from
// the announce timer, with the participant lock held.
func (d *discovery) announce() {
	submsgs := []Submessage{newInfoTS(newTimestamp(time.Now()))}

	d.spdpSeq++
	spdp := newDataSubmsg(EIDSPDPReader, EIDSPDPWriter, d.spdpSeq,
		encapsulate(schemePLCDRLE, appendParamList(nil, binary.LittleEndian, d.participantParams())))
	submsgs = append(submsgs, spdp)

	for _, w := range d.p.reg.writers {
		d.pubSeq++
		submsgs = append(submsgs, newDataSubmsg(EIDSEDPPubReader, EIDSEDPPubWriter, d.pubSeq,
			encapsulate(schemePLCDRLE, appendParamList(nil, binary.LittleEndian,
				d.endpointParams(w.guid, w.topic, w.typeName, w.qos)))))
	}
	for _, r := range d.p.reg.readers {
		d.subSeq++
		submsgs = append(submsgs, newDataSubmsg(EIDSEDPSubReader, EIDSEDPSubWriter, d.subSeq,
			encapsulate(schemePLCDRLE, appendParamList(nil, binary.LittleEndian,
				d.endpointParams(r.guid, r.topic, r.typeName, r.qos)))))
	}

	d.p.send([]Locator{d.p.cfg.discoveryLocator()}, submsgs...)
}

func (d *discovery) participantParams() []Param {
	order := binary.LittleEndian
	params := []Param{
		{ID: pidProtocolVersion, Value: []byte{versionMajor, versionMinor, 0, 0}},
		{ID: pidVendorID, Value: []byte{vendorIDMine >> 8, vendorIDMine & 0xff, 0, 0}},
		{ID: pidParticipantGUID, Value: GUID{Prefix: d.p.guid.Prefix, EntityID: EIDParticipant}.bytes()},
		{ID: pidLeaseDuration, Value: durationToBytes(d.p.cfg.LeaseDuration, order)},
	}
	for _, loc := range d.p.tr.LocalUnicast() {
		params = append(params, Param{ID: pidDefaultUnicastLoc, Value: loc.bytes()})
	}
	set := make([]byte, 4)
	order.PutUint32(set, 0x3f) // announcer+detector for participant, pub, sub
	params = append(params, Param{ID: pidBuiltinEndpointSet, Value: set})
	return params
}

func (d *discovery) endpointParams(guid GUID, topic, typeName string, q QoS) []Param {
	order := binary.LittleEndian
	params := []Param{
		{ID: pidEndpointGUID, Value: guid.bytes()},
		{ID: pidTopicName, Value: packParamString(order, topic)},
		{ID: pidReliability, Value: q.reliabilityBytes(order)},
		{ID: pidDurability, Value: q.durabilityBytes(order)},
		{ID: pidHistory, Value: q.historyBytes(order)},
	}
	if typeName != "" {
		params = append(params, Param{ID: pidTypeName, Value: packParamString(order, typeName)})
	}
	return params
}

// handleData routes a DATA submessage addressed to a builtin discovery
// endpoint.
func (d *discovery) handleData(dsm *DataSubmsg, order binary.ByteOrder, srcPrefix GUIDPrefix) error {
	scheme, body, err := decapsulate(dsm.Payload)
	if err != nil {
		return err
	}
	if scheme != schemePLCDRLE {
		return fmt.Errorf("%w: discovery payload scheme 0x%04x", ErrFormat, scheme)
	}
	params, _, err := paramListFromBytes(order, body)
	if err != nil {
		return err
	}

	switch dsm.WriterID {
	case EIDSPDPWriter:
		return d.handleParticipant(params, order)
	case EIDSEDPPubWriter:
		return d.handleEndpoint(params, order, srcPrefix, true)
	case EIDSEDPSubWriter:
		return d.handleEndpoint(params, order, srcPrefix, false)
	default:
		// an unfamiliar builtin writer; tolerated, not an error
		return nil
	}
}

// handleParticipant processes a remote participant announcement: first
// sighting creates the record, every sighting renews the lease.
func (d *discovery) handleParticipant(params []Param, order binary.ByteOrder) error {
	guidBytes, ok := findParam(params, pidParticipantGUID)
	if !ok {
		return fmt.Errorf("%w: announcement missing participant guid", ErrFormat)
	}
	guid, err := guidFromBytes(guidBytes)
	if err != nil {
		return err
	}
	if guid.Prefix == d.p.guid.Prefix {
		return nil // our own multicast echo
	}

	now := time.Now()
	rp, known := d.p.reg.remote(guid.Prefix)
	if !known {
		rp = &remoteParticipant{
			prefix:    guid.Prefix,
			lease:     d.p.cfg.LeaseDuration,
			state:     remoteDiscovered,
			endpoints: make(map[GUID]*remoteEndpoint),
		}
		d.p.reg.addRemote(rp)
		d.p.metrics.Discovered.Inc()
	}

	for _, prm := range params {
		if prm.ID&pidVendorSpecificFlag != 0 {
			continue
		}
		switch prm.ID {
		case pidProtocolVersion:
			if len(prm.Value) >= 2 {
				rp.version = ProtoVersion{prm.Value[0], prm.Value[1]}
			}
		case pidVendorID:
			if len(prm.Value) >= 2 {
				rp.vendor = VendorID(binary.BigEndian.Uint16(prm.Value))
			}
		case pidLeaseDuration:
			if dur, err := durationFromBytes(order, prm.Value); err == nil && dur > 0 {
				rp.lease = dur
			}
		case pidDefaultUnicastLoc, pidMetaUnicastLoc:
			if loc, err := locatorFromBytes(order, prm.Value); err == nil && loc.valid() {
				rp.unicast = addLocator(rp.unicast, loc)
			}
		}
	}
	rp.renewLease(now)

	if !known {
		d.p.log.Info("participant discovered",
			"prefix", rp.prefix, "vendor", vendorName(rp.vendor), "lease", rp.lease)
		d.p.emit(Event{Kind: EventParticipantDiscovered, Prefix: rp.prefix})
		// help the newcomer converge without waiting a full announce period
		d.announce()
	}
	return nil
}

// handleEndpoint processes a remote endpoint announcement and attempts to
// match it against our local entities.
func (d *discovery) handleEndpoint(params []Param, order binary.ByteOrder, srcPrefix GUIDPrefix, isWriter bool) error {
	rp, ok := d.p.reg.remote(srcPrefix)
	if !ok {
		// endpoint before its participant; the next announcement round
		// carries both in order
		return nil
	}

	guidBytes, ok := findParam(params, pidEndpointGUID)
	if !ok {
		return fmt.Errorf("%w: endpoint announcement missing guid", ErrFormat)
	}
	guid, err := guidFromBytes(guidBytes)
	if err != nil {
		return err
	}
	topicBytes, ok := findParam(params, pidTopicName)
	if !ok {
		return fmt.Errorf("%w: endpoint announcement missing topic", ErrFormat)
	}
	topic, err := unpackParamString(order, topicBytes)
	if err != nil {
		return err
	}

	ep := &remoteEndpoint{
		guid:     guid,
		topic:    topic,
		qos:      DefaultQoS(),
		writer:   isWriter,
		locators: rp.unicast,
	}
	if v, ok := findParam(params, pidTypeName); ok {
		if ep.typeName, err = unpackParamString(order, v); err != nil {
			return err
		}
	}
	if v, ok := findParam(params, pidReliability); ok {
		if kind, err := reliabilityFromBytes(order, v); err == nil {
			ep.qos.Reliability = kind
		}
	}
	if v, ok := findParam(params, pidDurability); ok {
		if kind, err := durabilityFromBytes(order, v); err == nil {
			ep.qos.Durability = kind
		}
	}
	if v, ok := findParam(params, pidHistory); ok {
		if kind, depth, err := historyFromBytes(order, v); err == nil {
			ep.qos.History, ep.qos.Depth = kind, depth
		}
	}
	if v, ok := findParam(params, pidDefaultUnicastLoc); ok {
		if loc, err := locatorFromBytes(order, v); err == nil && loc.valid() {
			ep.locators = addLocator(append([]Locator(nil), ep.locators...), loc)
		}
	}

	rp.endpoints[guid] = ep
	d.match(rp, ep)
	return nil
}

// match pairs one remote endpoint against every compatible local entity.
// QoS compatibility is a precondition: an incompatible pair stays unmatched
// with no retry, since nothing changes without reconfiguration.
func (d *discovery) match(rp *remoteParticipant, ep *remoteEndpoint) {
	relax := d.p.cfg.RelaxDurabilityMatch
	if ep.writer {
		for _, r := range d.p.reg.readers {
			if !sameTopic(r.topic, r.typeName, ep.topic, ep.typeName) {
				continue
			}
			if err := r.qos.compatibleWith(ep.qos, relax); err != nil {
				d.p.log.Debug("match rejected", "reader", r.guid, "writer", ep.guid, "err", err)
				continue
			}
			if r.matchWriter(ep.guid, ep.locators) {
				d.p.emit(Event{Kind: EventMatched, Prefix: rp.prefix, Endpoint: ep.guid, Topic: ep.topic})
			}
		}
		return
	}
	for _, w := range d.p.reg.writers {
		if !sameTopic(w.topic, w.typeName, ep.topic, ep.typeName) {
			continue
		}
		if err := ep.qos.compatibleWith(w.qos, relax); err != nil {
			d.p.log.Debug("match rejected", "writer", w.guid, "reader", ep.guid, "err", err)
			continue
		}
		if w.matchReader(ep.guid, ep.locators, ep.qos.Reliability == Reliable) {
			d.p.emit(Event{Kind: EventMatched, Prefix: rp.prefix, Endpoint: ep.guid, Topic: ep.topic})
		}
	}
}

// matchLocal runs the match graph for a newly created local entity against
// everything already discovered.
func (d *discovery) matchLocal() {
	for _, rp := range d.p.reg.remotes {
		for _, ep := range rp.endpoints {
			d.match(rp, ep)
		}
	}
}

// sweep evicts remote participants whose lease expired: LOST is terminal,
// so every proxy derived from the remote is torn down.
func (d *discovery) sweep(now time.Time) {
	for _, rp := range d.p.reg.expiredRemotes(now) {
		rp.state = remoteLost
		d.p.log.Info("participant lost", "prefix", rp.prefix, "lease", rp.lease)
		for _, w := range d.p.reg.writers {
			w.unmatchPrefix(rp.prefix)
		}
		for _, r := range d.p.reg.readers {
			r.unmatchPrefix(rp.prefix)
		}
		d.p.reg.dropRemote(rp.prefix)
		d.p.metrics.Lost.Inc()
		d.p.emit(Event{Kind: EventParticipantLost, Prefix: rp.prefix})
	}
}

func sameTopic(topicA, typeA, topicB, typeB string) bool {
	if topicA != topicB {
		return false
	}
	// type names are advisory: only compared when both sides declare one
	if typeA != "" && typeB != "" && typeA != typeB {
		return false
	}
	return true
}

func addLocator(list []Locator, loc Locator) []Locator {
	for _, have := range list {
		if sameLocator(have, loc) {
			return list
		}
	}
	return append(list, loc)
}
