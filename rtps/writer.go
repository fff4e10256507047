package rtps

import (
	"fmt"
	"time"
)

// ReaderProxy tracks one matched remote reader: where to reach it, whether
// it runs the reliability protocol, and how far it has acknowledged.
type ReaderProxy struct {
	guid         GUID
	locators     []Locator
	reliable     bool
	highestAcked SeqNum
	lastANCount  int64 // duplicate suppression for ACKNACK counts
}

// Writer publishes changes for one topic and drives reliable delivery to its
// matched readers: heartbeats on a timer, resends on negative
// acknowledgment, GAPs for history it no longer holds.
type Writer struct {
	p        *Participant
	guid     GUID
	topic    string
	typeName string
	qos      QoS
	hc       *HistoryCache
	nextSeq  SeqNum
	hbCount  uint32
	readers  map[GUID]*ReaderProxy
	store    *DurableStore
}

func (w *Writer) GUID() GUID       { return w.guid }
func (w *Writer) Topic() string    { return w.topic }
func (w *Writer) TypeName() string { return w.typeName }
func (w *Writer) QoS() QoS         { return w.qos }

// Write appends a new ALIVE change to the writer's history and sends it to
// every matched reader. It returns the sequence number assigned.
func (w *Writer) Write(payload []byte) (SeqNum, error) {
	w.p.mu.Lock()
	defer w.p.mu.Unlock()
	if w.p.closed {
		return SeqNumInvalid, ErrClosed
	}
	return w.writeChange(ChangeAlive, payload)
}

// Dispose publishes a DISPOSED change for the topic's instance.
func (w *Writer) Dispose(payload []byte) (SeqNum, error) {
	w.p.mu.Lock()
	defer w.p.mu.Unlock()
	if w.p.closed {
		return SeqNumInvalid, ErrClosed
	}
	return w.writeChange(ChangeDisposed, payload)
}

// Unregister publishes an UNREGISTERED change for the topic's instance.
func (w *Writer) Unregister(payload []byte) (SeqNum, error) {
	w.p.mu.Lock()
	defer w.p.mu.Unlock()
	if w.p.closed {
		return SeqNumInvalid, ErrClosed
	}
	return w.writeChange(ChangeUnregistered, payload)
}

func (w *Writer) writeChange(kind ChangeKind, payload []byte) (SeqNum, error) {
	change := &CacheChange{
		WriterGUID: w.guid,
		SeqNum:     w.nextSeq,
		Kind:       kind,
		Timestamp:  time.Now().UTC(),
		Payload:    payload,
	}
	w.nextSeq++
	w.hc.Insert(change)

	if w.store != nil && w.qos.Durability == TransientLocal {
		if err := w.store.SaveChange(w.topic, change); err != nil {
			w.p.log.Warn("durable save failed", "topic", w.topic, "seq", change.SeqNum, "err", err)
		}
	}

	for _, proxy := range w.readers {
		w.sendChange(proxy, change)
	}
	return change.SeqNum, nil
}

func (w *Writer) dataFor(proxy *ReaderProxy, change *CacheChange) *DataSubmsg {
	d := newDataSubmsg(proxy.guid.EntityID, w.guid.EntityID, change.SeqNum,
		encapsulate(schemeCDRLE, change.Payload))
	if p, ok := change.Kind.statusInfoParam(); ok {
		d.withInlineQoS(p)
	}
	return d
}

func (w *Writer) sendChange(proxy *ReaderProxy, change *CacheChange) {
	w.p.send(proxy.locators, newInfoTS(newTimestamp(change.Timestamp)), w.dataFor(proxy, change))
}

// heartbeat advertises the available sequence range to every reliable
// matched reader. Called from the participant's heartbeat timer.
func (w *Writer) heartbeat() {
	first, ok := w.hc.MinSeq(w.guid)
	if !ok {
		first = w.nextSeq
	}
	last := w.nextSeq - 1
	for _, proxy := range w.readers {
		if !proxy.reliable {
			continue
		}
		w.hbCount++
		hb := &HeartbeatSubmsg{
			Flags:    flagEndian,
			ReaderID: proxy.guid.EntityID,
			WriterID: w.guid.EntityID,
			FirstSeq: first,
			LastSeq:  last,
			Count:    w.hbCount,
		}
		w.p.send(proxy.locators, hb)
	}
}

// handleAckNack serves a reader's repair requests: requested numbers still
// in history are resent directly to that reader, evicted ones are declared
// unavailable with a GAP.
func (w *Writer) handleAckNack(an *AckNackSubmsg, srcPrefix GUIDPrefix) error {
	readerGUID := GUID{Prefix: srcPrefix, EntityID: an.ReaderID}
	proxy, ok := w.readers[readerGUID]
	if !ok {
		return fmt.Errorf("%w: acknack from unmatched reader %s", ErrNotFound, readerGUID)
	}
	if int64(an.Count) <= proxy.lastANCount {
		return nil // stale or duplicated
	}
	proxy.lastANCount = int64(an.Count)

	if acked := an.ReaderSNState.Base - 1; acked > proxy.highestAcked {
		proxy.highestAcked = acked
		w.trimAcked()
	}

	var evicted []SeqNum
	for _, sn := range an.ReaderSNState.Slice() {
		change, err := w.hc.Get(w.guid, sn)
		if err != nil {
			evicted = append(evicted, sn)
			continue
		}
		w.sendChange(proxy, change)
		w.p.metrics.Resends.Inc()
	}

	if len(evicted) > 0 {
		w.sendGap(proxy, evicted)
	}
	return nil
}

// sendGap declares the given sequence numbers permanently unavailable to
// one reader. The set is ascending.
func (w *Writer) sendGap(proxy *ReaderProxy, seqs []SeqNum) {
	gap := &GapSubmsg{
		Flags:    flagEndian,
		ReaderID: proxy.guid.EntityID,
		WriterID: w.guid.EntityID,
		GapStart: seqs[0],
		GapList:  newSeqNumSet(seqs[0] + 1),
	}
	for _, sn := range seqs[1:] {
		if !gap.GapList.Insert(sn) {
			// past the bitmap window; the next acknack round picks it up
			break
		}
	}
	w.p.send(proxy.locators, gap)
	w.p.metrics.GapsTx.Inc()
}

// trimAcked drops fully-acknowledged history for volatile KEEP_ALL writers.
// KEEP_LAST already bounds retention, and TRANSIENT_LOCAL keeps everything
// for late joiners.
func (w *Writer) trimAcked() {
	if w.qos.History != KeepAll || w.qos.Durability != Volatile || len(w.readers) == 0 {
		return
	}
	minAcked := MaxSeqNum
	for _, proxy := range w.readers {
		if !proxy.reliable {
			return // cannot tell what a best-effort reader has
		}
		if proxy.highestAcked < minAcked {
			minAcked = proxy.highestAcked
		}
	}
	w.hc.RemoveBefore(w.guid, minAcked+1)
}

// matchReader installs a proxy for a newly discovered compatible reader,
// reporting whether the pair is new. Re-announcements refresh the locators
// in place.
func (w *Writer) matchReader(guid GUID, locators []Locator, reliable bool) bool {
	if proxy, ok := w.readers[guid]; ok {
		proxy.locators = locators
		return false
	}
	proxy := &ReaderProxy{
		guid:        guid,
		locators:    locators,
		reliable:    reliable,
		lastANCount: -1,
	}
	w.readers[guid] = proxy
	w.p.log.Info("reader matched", "writer", w.guid, "reader", guid, "topic", w.topic, "reliable", reliable)

	if reliable {
		// prompt the reader to tell us what it needs
		w.heartbeatTo(proxy)
	} else if w.qos.Durability == TransientLocal {
		// best-effort late joiner: push the retained history once
		w.pushHistory(proxy)
	}
	return true
}

func (w *Writer) heartbeatTo(proxy *ReaderProxy) {
	first, ok := w.hc.MinSeq(w.guid)
	if !ok {
		first = w.nextSeq
	}
	w.hbCount++
	w.p.send(proxy.locators, &HeartbeatSubmsg{
		Flags:    flagEndian,
		ReaderID: proxy.guid.EntityID,
		WriterID: w.guid.EntityID,
		FirstSeq: first,
		LastSeq:  w.nextSeq - 1,
		Count:    w.hbCount,
	})
}

func (w *Writer) pushHistory(proxy *ReaderProxy) {
	min, ok := w.hc.MinSeq(w.guid)
	if !ok {
		return
	}
	max, _ := w.hc.MaxSeq(w.guid)
	for sn := min; sn <= max; sn++ {
		if change, err := w.hc.Get(w.guid, sn); err == nil {
			w.sendChange(proxy, change)
		}
	}
}

func (w *Writer) unmatchReader(guid GUID) {
	delete(w.readers, guid)
}

func (w *Writer) unmatchPrefix(prefix GUIDPrefix) int {
	n := 0
	for guid := range w.readers {
		if guid.Prefix == prefix {
			delete(w.readers, guid)
			n++
		}
	}
	return n
}
