package rtps

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// EventKind classifies the notifications a participant surfaces to the
// application.
type EventKind int

const (
	EventParticipantDiscovered EventKind = iota
	EventParticipantLost
	EventMatched
)

// Event is an application-facing discovery notification. Liveliness loss
// arrives here; it is never an error.
type Event struct {
	Kind     EventKind
	Prefix   GUIDPrefix
	Endpoint GUID
	Topic    string
}

// Participant owns a set of local writers and readers, a discovery
// identity, and the registry of matched remote state. All state-touching
// work is serialized on one mutex: inbound datagrams, timers, and
// application calls never interleave within a participant, while distinct
// participants share nothing and run fully in parallel.
type Participant struct {
	cfg     Config
	guid    GUID
	tr      Transport
	log     *slog.Logger
	metrics *Metrics
	store   *DurableStore
	disc    *discovery

	mu      sync.Mutex
	closed  bool
	reg     registry
	nextKey uint32
	pending []scheduledAckNack

	events chan Event
	cancel context.CancelFunc
	group  *errgroup.Group
}

type scheduledAckNack struct {
	due      time.Time
	locators []Locator
	prefix   GUIDPrefix
	an       *AckNackSubmsg
}

// NewParticipant creates a participant bound to the given transport. Call
// Start to begin exchanging messages and Close to tear everything down.
func NewParticipant(cfg Config, tr Transport) (*Participant, error) {
	cfg.applyDefaults()
	prefix := newGUIDPrefix()

	p := &Participant{
		cfg:    cfg,
		guid:   GUID{Prefix: prefix, EntityID: EIDParticipant},
		tr:     tr,
		log:    cfg.Logger.With("participant", prefix.String()),
		reg:    newRegistry(),
		events: make(chan Event, 64),
	}
	p.metrics = newMetrics(cfg.Registerer, prefix)
	p.disc = newDiscovery(p)

	if cfg.DurablePath != "" {
		store, err := OpenDurableStore(cfg.DurablePath)
		if err != nil {
			return nil, fmt.Errorf("open durable store: %w", err)
		}
		p.store = store
	}
	return p, nil
}

func (p *Participant) GUID() GUID { return p.guid }

// Events delivers discovery notifications. The channel is buffered; if the
// application falls behind, notifications are dropped rather than stalling
// the protocol.
func (p *Participant) Events() <-chan Event { return p.events }

func (p *Participant) emit(ev Event) {
	select {
	case p.events <- ev:
	default:
	}
}

// Start launches the receive loop and the periodic timers: heartbeat,
// discovery announcement, liveliness sweep, and acknack flush.
func (p *Participant) Start() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	g, ctx := errgroup.WithContext(ctx)
	p.group = g

	g.Go(func() error { return p.receiveLoop(ctx) })
	g.Go(func() error { return p.timerLoop(ctx) })

	// announce immediately so peers learn about us without waiting a
	// full period
	p.mu.Lock()
	p.disc.announce()
	p.mu.Unlock()

	p.log.Info("participant started", "domain", p.cfg.DomainID)
	return nil
}

func (p *Participant) receiveLoop(ctx context.Context) error {
	for {
		dg, err := p.tr.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		p.handleDatagram(dg)
	}
}

func (p *Participant) timerLoop(ctx context.Context) error {
	heartbeat := time.NewTicker(p.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	announce := time.NewTicker(p.cfg.AnnounceInterval)
	defer announce.Stop()
	sweep := time.NewTicker(p.cfg.SweepInterval)
	defer sweep.Stop()
	flushEvery := p.cfg.AckNackDelay / 2
	if flushEvery <= 0 {
		flushEvery = 10 * time.Millisecond
	}
	flush := time.NewTicker(flushEvery)
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.C:
			p.mu.Lock()
			for _, w := range p.reg.writers {
				w.heartbeat()
			}
			p.mu.Unlock()
		case <-announce.C:
			p.mu.Lock()
			p.disc.announce()
			p.mu.Unlock()
		case <-sweep.C:
			p.mu.Lock()
			p.disc.sweep(time.Now())
			p.mu.Unlock()
		case <-flush.C:
			p.flushAckNacks(time.Now())
		}
	}
}

// Close tears the participant down: pending timers are cancelled and
// outstanding resend work is discarded, not flushed.
func (p *Participant) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.pending = nil
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
		_ = p.group.Wait()
	}
	if p.store != nil {
		p.store.Close()
	}
	err := p.tr.Close()
	close(p.events)
	p.log.Info("participant closed")
	return err
}

// CreateWriter registers a local writer for the topic. TRANSIENT_LOCAL
// writers backed by a durable store reload their history so late joiners
// can be served across restarts.
func (p *Participant) CreateWriter(topic, typeName string, qos QoS) (*Writer, error) {
	if topic == "" {
		return nil, fmt.Errorf("rtps: writer needs a topic")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	w := &Writer{
		p:        p,
		guid:     GUID{Prefix: p.guid.Prefix, EntityID: p.newEntityID(entityKindWriter)},
		topic:    topic,
		typeName: typeName,
		qos:      qos,
		hc:       NewHistoryCache(qos),
		nextSeq:  1,
		readers:  make(map[GUID]*ReaderProxy),
	}
	if qos.Durability == TransientLocal && p.store != nil {
		w.store = p.store
		changes, err := p.store.LoadChanges(topic)
		if err != nil {
			return nil, fmt.Errorf("load durable history: %w", err)
		}
		for _, c := range changes {
			c.WriterGUID = w.guid
			w.hc.Insert(c)
			if c.SeqNum >= w.nextSeq {
				w.nextSeq = c.SeqNum + 1
			}
		}
		if len(changes) > 0 {
			p.log.Info("durable history reloaded", "topic", topic, "changes", len(changes))
		}
	}
	p.reg.addWriter(w)
	p.disc.matchLocal()
	return w, nil
}

// CreateReader registers a local reader for the topic.
func (p *Participant) CreateReader(topic, typeName string, qos QoS) (*Reader, error) {
	if topic == "" {
		return nil, fmt.Errorf("rtps: reader needs a topic")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	r := &Reader{
		p:        p,
		guid:     GUID{Prefix: p.guid.Prefix, EntityID: p.newEntityID(entityKindReader)},
		topic:    topic,
		typeName: typeName,
		qos:      qos,
		hc:       NewHistoryCache(qos),
		writers:  make(map[GUID]*WriterProxy),
	}
	p.reg.addReader(r)
	p.disc.matchLocal()
	return r, nil
}

// newEntityID allocates a user entity id unique within this participant.
func (p *Participant) newEntityID(kind uint8) EntityID {
	p.nextKey += entityIDAllocStep
	return EntityID(p.nextKey | uint32(kind))
}

// send encodes one message group and fires it at every locator. Sends are
// non-blocking and best-effort: an unreachable locator is not an error at
// this layer, the reliability protocol recovers on its own timers.
func (p *Participant) send(locators []Locator, submsgs ...Submessage) {
	msg := &Message{Header: newHeader(p.guid.Prefix), Submsgs: submsgs}
	b := msg.Bytes()
	for _, loc := range locators {
		if err := p.tr.Send(loc, b); err != nil {
			p.log.Debug("send failed", "locator", loc, "err", err)
			continue
		}
		p.metrics.DatagramsTx.Inc()
	}
}

// scheduleAckNack queues an acknack with a small random delay so that many
// readers answering the same heartbeat do not reply in lockstep.
func (p *Participant) scheduleAckNack(proxy *WriterProxy, an *AckNackSubmsg) {
	if p.cfg.AckNackDelay <= 0 {
		p.sendAckNack(proxy.locators, proxy.guid.Prefix, an)
		return
	}
	jitter := rand.N(p.cfg.AckNackDelay)
	p.pending = append(p.pending, scheduledAckNack{
		due:      time.Now().Add(jitter),
		locators: proxy.locators,
		prefix:   proxy.guid.Prefix,
		an:       an,
	})
}

func (p *Participant) sendAckNack(locators []Locator, prefix GUIDPrefix, an *AckNackSubmsg) {
	p.send(locators, &InfoDstSubmsg{Flags: flagEndian, Prefix: prefix}, an)
	p.metrics.AckNacksTx.Inc()
}

func (p *Participant) flushAckNacks(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var keep []scheduledAckNack
	for _, s := range p.pending {
		if s.due.After(now) {
			keep = append(keep, s)
			continue
		}
		p.sendAckNack(s.locators, s.prefix, s.an)
	}
	p.pending = keep
}
