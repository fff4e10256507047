package rtps

import (
	"iter"
	"sort"
)

// WriterProxy tracks one matched remote writer: the highest contiguous
// sequence number received, the numbers known to be missing, and the ones a
// GAP declared irrecoverable.
type WriterProxy struct {
	guid        GUID
	locators    []Locator
	reliable    bool // this match runs the acknack protocol
	contiguous  SeqNum
	delivered   SeqNum
	missing     map[SeqNum]struct{}
	skip        map[SeqNum]struct{}
	lastHBCount int64
}

// missingSlice reports the currently missing numbers, ascending.
func (wp *WriterProxy) missingSlice() []SeqNum {
	out := make([]SeqNum, 0, len(wp.missing))
	for sn := range wp.missing {
		out = append(out, sn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Reader consumes changes from matched remote writers, detects gaps from
// heartbeats, and requests repairs when the match is reliable.
type Reader struct {
	p        *Participant
	guid     GUID
	topic    string
	typeName string
	qos      QoS
	hc       *HistoryCache
	writers  map[GUID]*WriterProxy
	pending  []*CacheChange
	anCount  uint32
}

func (r *Reader) GUID() GUID       { return r.guid }
func (r *Reader) Topic() string    { return r.topic }
func (r *Reader) TypeName() string { return r.typeName }
func (r *Reader) QoS() QoS         { return r.qos }

// Take returns a lazy, finite, non-restartable sequence of the changes
// pending delivery, removing each as it is yielded. Reliable matches
// deliver in sequence-number order with no gaps; best-effort matches
// deliver whatever arrived.
func (r *Reader) Take() iter.Seq[*CacheChange] {
	return func(yield func(*CacheChange) bool) {
		for {
			r.p.mu.Lock()
			if len(r.pending) == 0 {
				r.p.mu.Unlock()
				return
			}
			c := r.pending[0]
			r.pending = r.pending[1:]
			r.p.mu.Unlock()
			if !yield(c) {
				return
			}
		}
	}
}

// Pending reports how many changes await Take.
func (r *Reader) Pending() int {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	return len(r.pending)
}

// handleData stores a received change and advances delivery. Duplicates are
// tolerated silently; changes from unmatched writers are dropped.
func (r *Reader) handleData(c *CacheChange) {
	proxy, ok := r.writers[c.WriterGUID]
	if !ok {
		return
	}
	if !r.hc.Insert(c) {
		return // duplicate delivery, e.g. a redundant retransmission
	}
	delete(proxy.missing, c.SeqNum)

	if !proxy.reliable {
		if c.SeqNum > proxy.contiguous {
			proxy.contiguous = c.SeqNum
		}
		r.pending = append(r.pending, c)
		return
	}
	r.advance(proxy)
}

// handleHeartbeat reconciles our received set against the writer's
// advertised range. It returns the ACKNACK to schedule, or nil when no
// response is due.
func (r *Reader) handleHeartbeat(hb *HeartbeatSubmsg, srcPrefix GUIDPrefix) *AckNackSubmsg {
	proxy, ok := r.writers[GUID{Prefix: srcPrefix, EntityID: hb.WriterID}]
	if !ok {
		return nil
	}
	if int64(hb.Count) <= proxy.lastHBCount {
		return nil // duplicated or reordered heartbeat
	}
	proxy.lastHBCount = int64(hb.Count)

	if !proxy.reliable {
		return nil // best-effort: gaps are simply tolerated
	}

	// anything below the writer's first available number can never be
	// repaired; jump straight past it, delivering whatever is held
	r.deliverThrough(proxy, hb.FirstSeq-1)
	r.advance(proxy)

	// track missing numbers no further than one acknack can request;
	// later heartbeat rounds walk the window forward
	last := hb.LastSeq
	if hi := proxy.contiguous + seqNumSetMaxBits; last > hi {
		last = hi
	}
	for sn := proxy.contiguous + 1; sn <= last; sn++ {
		if r.hc.has(proxy.guid, sn) {
			continue
		}
		if _, skipped := proxy.skip[sn]; skipped {
			continue
		}
		proxy.missing[sn] = struct{}{}
	}

	if hb.final() && len(proxy.missing) == 0 {
		return nil
	}

	r.anCount++
	an := &AckNackSubmsg{
		Flags:         flagEndian | flagAckNackFinal,
		ReaderID:      r.guid.EntityID,
		WriterID:      hb.WriterID,
		ReaderSNState: newSeqNumSet(proxy.contiguous + 1),
		Count:         r.anCount,
	}
	for _, sn := range proxy.missingSlice() {
		if !an.ReaderSNState.Insert(sn) {
			break // beyond the bitmap window; later rounds catch up
		}
	}
	return an
}

// handleGap marks the named sequence numbers permanently irrecoverable:
// they leave the missing set and are never requested again. The leading
// run is handled as a range, so its width never drives the cost.
func (r *Reader) handleGap(g *GapSubmsg, srcPrefix GUIDPrefix) {
	proxy, ok := r.writers[GUID{Prefix: srcPrefix, EntityID: g.WriterID}]
	if !ok || !proxy.reliable {
		return
	}
	if g.GapStart <= proxy.contiguous+1 {
		// the run starts at or below the next expected number: nothing
		// in it can arrive anymore, jump straight past it
		r.deliverThrough(proxy, g.GapList.Base-1)
	} else {
		lo, hi := g.GapStart, g.GapList.Base-1
		if win := proxy.contiguous + seqNumSetMaxBits; hi > win {
			hi = win // beyond the request window; a later round re-gaps
		}
		for sn := lo; sn <= hi; sn++ {
			delete(proxy.missing, sn)
			proxy.skip[sn] = struct{}{}
		}
	}
	for _, sn := range g.GapList.Slice() {
		if sn <= proxy.contiguous {
			continue
		}
		delete(proxy.missing, sn)
		proxy.skip[sn] = struct{}{}
	}
	r.advance(proxy)
}

// advance moves the contiguous marker through received and irrecoverable
// numbers, then hands newly contiguous changes to the delivery queue.
func (r *Reader) advance(proxy *WriterProxy) {
	for {
		next := proxy.contiguous + 1
		if r.hc.has(proxy.guid, next) {
			delete(proxy.skip, next)
			proxy.contiguous = next
			continue
		}
		if _, ok := proxy.skip[next]; ok {
			delete(proxy.skip, next)
			proxy.contiguous = next
			continue
		}
		break
	}
	for sn := proxy.delivered + 1; sn <= proxy.contiguous; sn++ {
		if c, err := r.hc.Get(proxy.guid, sn); err == nil {
			r.pending = append(r.pending, c)
		}
	}
	proxy.delivered = proxy.contiguous
}

// deliverThrough hands every change held in (delivered, bound] to the
// delivery queue and moves both markers to bound: the writer has declared
// everything else in the range unavailable. Cost scales with the state the
// reader holds, not with the width of the range.
func (r *Reader) deliverThrough(proxy *WriterProxy, bound SeqNum) {
	if bound <= proxy.contiguous {
		return
	}
	r.pending = append(r.pending, r.hc.changesInRange(proxy.guid, proxy.delivered+1, bound)...)
	proxy.contiguous = bound
	proxy.delivered = bound
	for sn := range proxy.missing {
		if sn <= bound {
			delete(proxy.missing, sn)
		}
	}
	for sn := range proxy.skip {
		if sn <= bound {
			delete(proxy.skip, sn)
		}
	}
}

// matchWriter installs a proxy for a newly discovered compatible writer,
// reporting whether the pair is new. Re-announcements refresh the locators
// in place.
func (r *Reader) matchWriter(guid GUID, locators []Locator) bool {
	if proxy, ok := r.writers[guid]; ok {
		proxy.locators = locators
		return false
	}
	r.writers[guid] = &WriterProxy{
		guid:        guid,
		locators:    locators,
		reliable:    r.qos.Reliability == Reliable,
		missing:     make(map[SeqNum]struct{}),
		skip:        make(map[SeqNum]struct{}),
		lastHBCount: -1,
	}
	r.p.log.Info("writer matched", "reader", r.guid, "writer", guid, "topic", r.topic)
	return true
}

func (r *Reader) unmatchWriter(guid GUID) {
	if _, ok := r.writers[guid]; ok {
		delete(r.writers, guid)
		r.hc.drop(guid)
	}
}

func (r *Reader) unmatchPrefix(prefix GUIDPrefix) int {
	n := 0
	for guid := range r.writers {
		if guid.Prefix == prefix {
			r.unmatchWriter(guid)
			n++
		}
	}
	return n
}

// matchedWriter reports whether this reader tracks the given remote writer.
func (r *Reader) matchedWriter(guid GUID) bool {
	_, ok := r.writers[guid]
	return ok
}
