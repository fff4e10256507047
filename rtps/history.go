package rtps

import (
	"fmt"
	"sort"
	"time"
)

// ChangeKind distinguishes a live sample from a disposal or unregistration
// of its instance.
type ChangeKind uint8

const (
	ChangeAlive ChangeKind = iota
	ChangeDisposed
	ChangeUnregistered
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAlive:
		return "alive"
	case ChangeDisposed:
		return "disposed"
	case ChangeUnregistered:
		return "unregistered"
	}
	return "unknown"
}

// statusInfo bits carried in inline QoS when the kind is not ALIVE
const (
	statusInfoDisposed     = 0x01
	statusInfoUnregistered = 0x02
)

func (k ChangeKind) statusInfoParam() (Param, bool) {
	var bits byte
	switch k {
	case ChangeDisposed:
		bits = statusInfoDisposed
	case ChangeUnregistered:
		bits = statusInfoUnregistered
	default:
		return Param{}, false
	}
	return Param{ID: pidStatusInfo, Value: []byte{0, 0, 0, bits}}, true
}

func changeKindFromParams(params []Param) ChangeKind {
	v, ok := findParam(params, pidStatusInfo)
	if !ok || len(v) < 4 {
		return ChangeAlive
	}
	switch {
	case v[3]&statusInfoDisposed != 0:
		return ChangeDisposed
	case v[3]&statusInfoUnregistered != 0:
		return ChangeUnregistered
	}
	return ChangeAlive
}

// CacheChange is one versioned data sample, immutable once created and
// identified uniquely by (writer GUID, sequence number).
type CacheChange struct {
	WriterGUID GUID
	SeqNum     SeqNum
	Kind       ChangeKind
	Timestamp  time.Time
	Payload    []byte
}

// HistoryCache stores changes per writer GUID, ordered by sequence number.
// It is owned exclusively by one entity; the owner serializes access.
type HistoryCache struct {
	kind  HistoryKind
	depth int
	slots map[GUID]*historySlot
}

type historySlot struct {
	changes map[SeqNum]*CacheChange
	min     SeqNum
	max     SeqNum
}

func NewHistoryCache(q QoS) *HistoryCache {
	depth := int(q.Depth)
	if q.History == KeepLast && depth < 1 {
		depth = 1
	}
	return &HistoryCache{
		kind:  q.History,
		depth: depth,
		slots: make(map[GUID]*historySlot),
	}
}

// Insert adds a change. A duplicate (writer GUID, sequence number) is a
// no-op so retransmissions are tolerated; it reports whether the change was
// stored. KEEP_LAST eviction runs synchronously, oldest sequence first.
func (hc *HistoryCache) Insert(c *CacheChange) bool {
	if c.SeqNum < 1 {
		return false
	}
	slot := hc.slots[c.WriterGUID]
	if slot == nil {
		slot = &historySlot{changes: make(map[SeqNum]*CacheChange)}
		hc.slots[c.WriterGUID] = slot
	}
	if _, dup := slot.changes[c.SeqNum]; dup {
		return false
	}
	slot.changes[c.SeqNum] = c
	if slot.min == SeqNumInvalid || c.SeqNum < slot.min {
		slot.min = c.SeqNum
	}
	if c.SeqNum > slot.max {
		slot.max = c.SeqNum
	}
	if hc.kind == KeepLast {
		for len(slot.changes) > hc.depth {
			delete(slot.changes, slot.min)
			slot.min = slot.nextMin(slot.min)
		}
	}
	return true
}

// Get returns the change for (writer, sn), or ErrNotFound if it was never
// inserted or has been evicted.
func (hc *HistoryCache) Get(writer GUID, sn SeqNum) (*CacheChange, error) {
	slot := hc.slots[writer]
	if slot == nil {
		return nil, fmt.Errorf("%w: no history for writer %s", ErrNotFound, writer)
	}
	c, ok := slot.changes[sn]
	if !ok {
		return nil, fmt.Errorf("%w: seq %d for writer %s", ErrNotFound, sn, writer)
	}
	return c, nil
}

// RemoveBefore evicts every change of the writer with sequence number below
// bound, reporting how many were removed.
func (hc *HistoryCache) RemoveBefore(writer GUID, bound SeqNum) int {
	slot := hc.slots[writer]
	if slot == nil {
		return 0
	}
	n := 0
	for sn := range slot.changes {
		if sn < bound {
			delete(slot.changes, sn)
			n++
		}
	}
	if n > 0 {
		slot.recomputeBounds()
	}
	return n
}

// MinSeq reports the smallest retained sequence number for the writer.
func (hc *HistoryCache) MinSeq(writer GUID) (SeqNum, bool) {
	if slot := hc.slots[writer]; slot != nil && len(slot.changes) > 0 {
		return slot.min, true
	}
	return SeqNumInvalid, false
}

// MaxSeq reports the largest sequence number ever inserted for the writer;
// eviction does not lower it.
func (hc *HistoryCache) MaxSeq(writer GUID) (SeqNum, bool) {
	if slot := hc.slots[writer]; slot != nil && slot.max != SeqNumInvalid {
		return slot.max, true
	}
	return SeqNumInvalid, false
}

func (hc *HistoryCache) Len(writer GUID) int {
	if slot := hc.slots[writer]; slot != nil {
		return len(slot.changes)
	}
	return 0
}

// changesInRange returns the retained changes for the writer with sequence
// numbers in [lo, hi], ascending. Cost follows what is retained, not the
// width of the range.
func (hc *HistoryCache) changesInRange(writer GUID, lo, hi SeqNum) []*CacheChange {
	slot := hc.slots[writer]
	if slot == nil {
		return nil
	}
	var out []*CacheChange
	for sn, c := range slot.changes {
		if sn >= lo && sn <= hi {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeqNum < out[j].SeqNum })
	return out
}

func (hc *HistoryCache) has(writer GUID, sn SeqNum) bool {
	slot := hc.slots[writer]
	if slot == nil {
		return false
	}
	_, ok := slot.changes[sn]
	return ok
}

func (hc *HistoryCache) drop(writer GUID) {
	delete(hc.slots, writer)
}

// nextMin finds the smallest retained sequence number above the one just
// evicted. The scan is bounded by the retention depth.
func (s *historySlot) nextMin(evicted SeqNum) SeqNum {
	for sn := evicted + 1; sn <= s.max; sn++ {
		if _, ok := s.changes[sn]; ok {
			return sn
		}
	}
	return SeqNumInvalid
}

func (s *historySlot) recomputeBounds() {
	s.min = SeqNumInvalid
	for sn := range s.changes {
		if s.min == SeqNumInvalid || sn < s.min {
			s.min = sn
		}
	}
}
