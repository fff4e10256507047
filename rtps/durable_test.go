package rtps

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDurableStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := OpenDurableStore(path)
	require.NoError(t, err)
	defer s.Close()

	w := testWriterGUID(1)
	ts := time.Now().UTC().Truncate(time.Nanosecond)
	for sn := SeqNum(1); sn <= 3; sn++ {
		c := change(w, sn)
		c.Timestamp = ts
		require.NoError(t, s.SaveChange("sensor", c))
	}
	require.NoError(t, s.SaveChange("other", &CacheChange{SeqNum: 9, Payload: []byte("z")}))

	got, err := s.LoadChanges("sensor")
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, c := range got {
		assert.Equal(t, SeqNum(i+1), c.SeqNum, "keys iterate in sequence order")
		assert.True(t, ts.Equal(c.Timestamp), "timestamp survives to the nanosecond")
	}

	missing, err := s.LoadChanges("nope")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestDurableStoreDropTopic(t *testing.T) {
	s, err := OpenDurableStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SaveChange("sensor", change(testWriterGUID(1), 1)))
	require.NoError(t, s.DropTopic("sensor"))
	require.NoError(t, s.DropTopic("sensor"), "dropping twice is fine")

	got, err := s.LoadChanges("sensor")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWriterHistorySurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	qos := QoS{Reliability: Reliable, Durability: TransientLocal, History: KeepAll}

	cfg := testConfig()
	cfg.DurablePath = path
	bus := testBus()

	p1, err := NewParticipant(cfg, bus.Endpoint())
	require.NoError(t, err)
	w1, err := p1.CreateWriter("sensor", "", qos)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := w1.Write([]byte("x"))
		require.NoError(t, err)
	}
	require.NoError(t, p1.Close())

	// a fresh participant on the same store resumes where the old one left off
	p2, err := NewParticipant(cfg, bus.Endpoint())
	require.NoError(t, err)
	t.Cleanup(func() { p2.Close() })
	w2, err := p2.CreateWriter("sensor", "", qos)
	require.NoError(t, err)

	assert.Equal(t, 3, w2.hc.Len(w2.guid), "persisted history is reloaded")
	sn, err := w2.Write([]byte("y"))
	require.NoError(t, err)
	assert.Equal(t, SeqNum(4), sn, "sequence numbering continues")
}

func TestVolatileWriterSkipsStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	cfg := testConfig()
	cfg.DurablePath = path

	p, err := NewParticipant(cfg, testBus().Endpoint())
	require.NoError(t, err)
	w, err := p.CreateWriter("sensor", "", QoS{Reliability: Reliable, History: KeepAll})
	require.NoError(t, err)
	w.Write([]byte("x"))
	require.NoError(t, p.Close())

	s, err := OpenDurableStore(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.LoadChanges("sensor")
	require.NoError(t, err)
	assert.Empty(t, got, "volatile history is never persisted")
}
