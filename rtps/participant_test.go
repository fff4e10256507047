package rtps

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		AnnounceInterval:  50 * time.Millisecond,
		HeartbeatInterval: 50 * time.Millisecond,
		SweepInterval:     25 * time.Millisecond,
		AckNackDelay:      -1, // respond to heartbeats immediately
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func testBus() *MemBus {
	cfg := testConfig()
	cfg.applyDefaults()
	return NewMemBus(cfg.discoveryLocator())
}

func newTestParticipant(t *testing.T, bus *MemBus) *Participant {
	t.Helper()
	p, err := NewParticipant(testConfig(), bus.Endpoint())
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

// pump feeds queued bus traffic into the participant until its endpoint has
// been quiet for a moment.
func pump(t *testing.T, p *Participant) {
	t.Helper()
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		dg, err := p.tr.Receive(ctx)
		cancel()
		if err != nil {
			return
		}
		p.handleDatagram(dg)
	}
}

func waitEvent(t *testing.T, p *Participant, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-p.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %d", kind)
		}
	}
}

func TestCreateEntitiesValidation(t *testing.T) {
	p := newTestParticipant(t, testBus())

	_, err := p.CreateWriter("", "", DefaultQoS())
	assert.Error(t, err)
	_, err = p.CreateReader("", "", DefaultQoS())
	assert.Error(t, err)

	w, err := p.CreateWriter("a", "", DefaultQoS())
	require.NoError(t, err)
	r, err := p.CreateReader("a", "", DefaultQoS())
	require.NoError(t, err)

	assert.True(t, w.GUID().EntityID.isWriter())
	assert.True(t, r.GUID().EntityID.isReader())
	assert.False(t, w.GUID().EntityID.isBuiltin())
	assert.NotEqual(t, w.GUID().EntityID, r.GUID().EntityID)
}

func TestClosedParticipantRejectsOperations(t *testing.T) {
	p := newTestParticipant(t, testBus())
	w, err := p.CreateWriter("a", "", DefaultQoS())
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close(), "idempotent")

	_, err = p.CreateWriter("b", "", DefaultQoS())
	assert.ErrorIs(t, err, ErrClosed)
	_, err = p.CreateReader("b", "", DefaultQoS())
	assert.ErrorIs(t, err, ErrClosed)
	_, err = w.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, p.Start(), ErrClosed)
}

func TestPubSubEndToEnd(t *testing.T) {
	bus := testBus()
	pub := newTestParticipant(t, bus)
	sub := newTestParticipant(t, bus)
	require.NoError(t, pub.Start())
	require.NoError(t, sub.Start())

	qos := QoS{Reliability: Reliable, Durability: Volatile, History: KeepAll}
	w, err := pub.CreateWriter("chatter", "string", qos)
	require.NoError(t, err)
	r, err := sub.CreateReader("chatter", "string", qos)
	require.NoError(t, err)

	waitEvent(t, pub, EventMatched)
	waitEvent(t, sub, EventMatched)

	sn, err := w.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, SeqNum(1), sn)

	require.Eventually(t, func() bool { return r.Pending() > 0 },
		2*time.Second, 10*time.Millisecond)

	var got []*CacheChange
	for c := range r.Take() {
		got = append(got, c)
	}
	require.Len(t, got, 1)
	assert.Equal(t, []byte("hello"), got[0].Payload)
	assert.Equal(t, ChangeAlive, got[0].Kind)
	assert.Equal(t, w.GUID(), got[0].WriterGUID)
}

func TestTakeRemovesYielded(t *testing.T) {
	p := newTestParticipant(t, testBus())
	r, err := p.CreateReader("t", "", DefaultQoS())
	require.NoError(t, err)

	wguid := testWriterGUID(1)
	r.matchWriter(wguid, nil)
	for sn := SeqNum(1); sn <= 3; sn++ {
		r.handleData(change(wguid, sn))
	}
	require.Equal(t, 3, r.Pending())

	// stopping early leaves the rest pending
	for c := range r.Take() {
		if c.SeqNum == 1 {
			break
		}
	}
	assert.Equal(t, 2, r.Pending())

	var rest []SeqNum
	for c := range r.Take() {
		rest = append(rest, c.SeqNum)
	}
	assert.Equal(t, []SeqNum{2, 3}, rest)
	assert.Zero(t, r.Pending())
}
