package rtps

import "time"

// remote participant discovery states
type remoteState int

const (
	remoteDiscovered remoteState = iota
	remoteLost                   // terminal; the record is removed
)

// remoteParticipant is everything we have collected about one discovered
// peer: identity, reachability, lease, and its announced endpoints.
type remoteParticipant struct {
	prefix   GUIDPrefix
	version  ProtoVersion
	vendor   VendorID
	unicast  []Locator
	lease    time.Duration
	deadline time.Time
	state    remoteState
	// endpoints announced by this participant, by GUID
	endpoints map[GUID]*remoteEndpoint
}

func (rp *remoteParticipant) renewLease(now time.Time) {
	rp.deadline = now.Add(rp.lease)
}

// remoteEndpoint is a peer's announced writer or reader.
type remoteEndpoint struct {
	guid     GUID
	topic    string
	typeName string
	qos      QoS
	writer   bool
	locators []Locator
}

// registry owns the participant's local entities and the tables of matched
// remote state. All access is serialized by the participant.
type registry struct {
	writers map[EntityID]*Writer
	readers map[EntityID]*Reader
	remotes map[GUIDPrefix]*remoteParticipant
}

func newRegistry() registry {
	return registry{
		writers: make(map[EntityID]*Writer),
		readers: make(map[EntityID]*Reader),
		remotes: make(map[GUIDPrefix]*remoteParticipant),
	}
}

func (reg *registry) addWriter(w *Writer) {
	reg.writers[w.guid.EntityID] = w
}

func (reg *registry) addReader(r *Reader) {
	reg.readers[r.guid.EntityID] = r
}

func (reg *registry) writerByEntityID(eid EntityID) (*Writer, bool) {
	w, ok := reg.writers[eid]
	return w, ok
}

// readersFor finds every local reader that should see a DATA submessage
// from the given remote writer: matched proxies first, optionally narrowed
// by an explicit reader entity id.
func (reg *registry) readersFor(writerGUID GUID, readerID EntityID) []*Reader {
	var out []*Reader
	for _, r := range reg.readers {
		if readerID != EIDUnknown && readerID != r.guid.EntityID {
			continue
		}
		if r.matchedWriter(writerGUID) {
			out = append(out, r)
		}
	}
	return out
}

func (reg *registry) remote(prefix GUIDPrefix) (*remoteParticipant, bool) {
	rp, ok := reg.remotes[prefix]
	return rp, ok
}

func (reg *registry) addRemote(rp *remoteParticipant) {
	reg.remotes[rp.prefix] = rp
}

func (reg *registry) dropRemote(prefix GUIDPrefix) {
	delete(reg.remotes, prefix)
}

// expiredRemotes lists participants whose lease ran out.
func (reg *registry) expiredRemotes(now time.Time) []*remoteParticipant {
	var out []*remoteParticipant
	for _, rp := range reg.remotes {
		if now.After(rp.deadline) {
			out = append(out, rp)
		}
	}
	return out
}
