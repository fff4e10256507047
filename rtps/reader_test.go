package rtps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReader(t *testing.T, qos QoS) *Reader {
	t.Helper()
	p := newTestParticipant(t, testBus())
	r, err := p.CreateReader("sensor", "", qos)
	require.NoError(t, err)
	return r
}

func reliableQoS() QoS {
	return QoS{Reliability: Reliable, Durability: Volatile, History: KeepAll}
}

func TestReaderDropsUnmatchedWriter(t *testing.T) {
	r := newTestReader(t, reliableQoS())
	r.handleData(change(testWriterGUID(1), 1))
	assert.Zero(t, r.Pending())
}

func TestReaderBestEffortDeliversWithGaps(t *testing.T) {
	r := newTestReader(t, DefaultQoS())
	w := testWriterGUID(1)
	r.matchWriter(w, nil)

	r.handleData(change(w, 1))
	r.handleData(change(w, 5)) // 2..4 lost; best-effort moves on
	assert.Equal(t, 2, r.Pending())

	an := r.handleHeartbeat(&HeartbeatSubmsg{
		Flags: flagEndian, WriterID: w.EntityID, FirstSeq: 1, LastSeq: 5, Count: 1,
	}, w.Prefix)
	assert.Nil(t, an, "best-effort never requests repairs")
}

func TestReaderReliableOrderedDelivery(t *testing.T) {
	r := newTestReader(t, reliableQoS())
	w := testWriterGUID(1)
	r.matchWriter(w, nil)

	r.handleData(change(w, 1))
	r.handleData(change(w, 3)) // out of order: held back
	require.Equal(t, 1, r.Pending())

	r.handleData(change(w, 2))
	require.Equal(t, 3, r.Pending())

	var seqs []SeqNum
	for c := range r.Take() {
		seqs = append(seqs, c.SeqNum)
	}
	assert.Equal(t, []SeqNum{1, 2, 3}, seqs)
}

func TestReaderHeartbeatRequestsMissing(t *testing.T) {
	r := newTestReader(t, reliableQoS())
	w := testWriterGUID(1)
	r.matchWriter(w, nil)

	r.handleData(change(w, 1))
	r.handleData(change(w, 3))

	an := r.handleHeartbeat(&HeartbeatSubmsg{
		Flags: flagEndian, WriterID: w.EntityID, FirstSeq: 1, LastSeq: 3, Count: 1,
	}, w.Prefix)
	require.NotNil(t, an)
	assert.Equal(t, SeqNum(2), an.ReaderSNState.Base, "everything below base is acknowledged")
	assert.Equal(t, []SeqNum{2}, an.ReaderSNState.Slice())
	assert.Equal(t, r.GUID().EntityID, an.ReaderID)

	// the repair arrives: delivery resumes in order
	r.handleData(change(w, 2))
	var seqs []SeqNum
	for c := range r.Take() {
		seqs = append(seqs, c.SeqNum)
	}
	assert.Equal(t, []SeqNum{1, 2, 3}, seqs)
}

func TestReaderHeartbeatCountDedup(t *testing.T) {
	r := newTestReader(t, reliableQoS())
	w := testWriterGUID(1)
	r.matchWriter(w, nil)

	hb := &HeartbeatSubmsg{Flags: flagEndian, WriterID: w.EntityID, FirstSeq: 1, LastSeq: 2, Count: 5}
	require.NotNil(t, r.handleHeartbeat(hb, w.Prefix))
	assert.Nil(t, r.handleHeartbeat(hb, w.Prefix), "same count is suppressed")

	stale := &HeartbeatSubmsg{Flags: flagEndian, WriterID: w.EntityID, FirstSeq: 1, LastSeq: 2, Count: 4}
	assert.Nil(t, r.handleHeartbeat(stale, w.Prefix), "lower count is suppressed")
}

func TestReaderFinalHeartbeatNoAckWhenComplete(t *testing.T) {
	r := newTestReader(t, reliableQoS())
	w := testWriterGUID(1)
	r.matchWriter(w, nil)

	r.handleData(change(w, 1))
	an := r.handleHeartbeat(&HeartbeatSubmsg{
		Flags: flagEndian | flagHeartbeatFinal, WriterID: w.EntityID,
		FirstSeq: 1, LastSeq: 1, Count: 1,
	}, w.Prefix)
	assert.Nil(t, an, "FINAL with nothing missing needs no response")

	// non-final always gets an ack, even with nothing missing
	an = r.handleHeartbeat(&HeartbeatSubmsg{
		Flags: flagEndian, WriterID: w.EntityID, FirstSeq: 1, LastSeq: 1, Count: 2,
	}, w.Prefix)
	require.NotNil(t, an)
	assert.True(t, an.ReaderSNState.Empty())
	assert.Equal(t, SeqNum(2), an.ReaderSNState.Base)
}

func TestReaderHeartbeatFirstSeqSkipsUnrepairable(t *testing.T) {
	r := newTestReader(t, reliableQoS())
	w := testWriterGUID(1)
	r.matchWriter(w, nil)

	// writer's history starts at 4: 1..3 can never be repaired
	an := r.handleHeartbeat(&HeartbeatSubmsg{
		Flags: flagEndian, WriterID: w.EntityID, FirstSeq: 4, LastSeq: 5, Count: 1,
	}, w.Prefix)
	require.NotNil(t, an)
	assert.Equal(t, SeqNum(4), an.ReaderSNState.Base)
	assert.Equal(t, []SeqNum{4, 5}, an.ReaderSNState.Slice())

	r.handleData(change(w, 4))
	r.handleData(change(w, 5))
	var seqs []SeqNum
	for c := range r.Take() {
		seqs = append(seqs, c.SeqNum)
	}
	assert.Equal(t, []SeqNum{4, 5}, seqs)
}

func TestReaderGapIsPermanent(t *testing.T) {
	r := newTestReader(t, reliableQoS())
	w := testWriterGUID(1)
	r.matchWriter(w, nil)

	r.handleData(change(w, 1))
	an := r.handleHeartbeat(&HeartbeatSubmsg{
		Flags: flagEndian, WriterID: w.EntityID, FirstSeq: 1, LastSeq: 3, Count: 1,
	}, w.Prefix)
	require.NotNil(t, an)
	assert.Equal(t, []SeqNum{2, 3}, an.ReaderSNState.Slice())

	// the writer evicted 2; it will never arrive
	r.handleGap(&GapSubmsg{
		Flags: flagEndian, WriterID: w.EntityID,
		GapStart: 2, GapList: newSeqNumSet(3),
	}, w.Prefix)

	r.handleData(change(w, 3))

	an = r.handleHeartbeat(&HeartbeatSubmsg{
		Flags: flagEndian, WriterID: w.EntityID, FirstSeq: 2, LastSeq: 3, Count: 2,
	}, w.Prefix)
	if an != nil {
		assert.False(t, an.ReaderSNState.Has(2), "a gapped number is never requested again")
	}

	var seqs []SeqNum
	for c := range r.Take() {
		seqs = append(seqs, c.SeqNum)
	}
	assert.Equal(t, []SeqNum{1, 3}, seqs, "delivery resumes past the gap")
}

func TestReaderHeartbeatHugeRangeStaysBounded(t *testing.T) {
	r := newTestReader(t, reliableQoS())
	w := testWriterGUID(1)
	r.matchWriter(w, nil)
	r.handleData(change(w, 1))

	// a writer claiming an absurd range must cost the reader no more
	// than one request window of state
	an := r.handleHeartbeat(&HeartbeatSubmsg{
		Flags: flagEndian, WriterID: w.EntityID, FirstSeq: 1, LastSeq: 1 << 40, Count: 1,
	}, w.Prefix)
	require.NotNil(t, an)
	assert.Equal(t, SeqNum(2), an.ReaderSNState.Base)

	req := an.ReaderSNState.Slice()
	require.Len(t, req, seqNumSetMaxBits)
	assert.Equal(t, SeqNum(2), req[0])
	assert.Equal(t, SeqNum(1+seqNumSetMaxBits), req[len(req)-1])
	assert.Len(t, r.writers[w].missing, seqNumSetMaxBits)
}

func TestReaderHeartbeatHugeFirstSeqJumps(t *testing.T) {
	r := newTestReader(t, reliableQoS())
	w := testWriterGUID(1)
	r.matchWriter(w, nil)

	const first = SeqNum(1) << 40
	an := r.handleHeartbeat(&HeartbeatSubmsg{
		Flags: flagEndian, WriterID: w.EntityID, FirstSeq: first, LastSeq: first + 1, Count: 1,
	}, w.Prefix)
	require.NotNil(t, an)
	assert.Equal(t, first, an.ReaderSNState.Base)
	assert.Equal(t, []SeqNum{first, first + 1}, an.ReaderSNState.Slice())
	assert.Empty(t, r.writers[w].skip, "the unrepairable prefix leaves no per-number state")

	r.handleData(change(w, first))
	r.handleData(change(w, first+1))
	var seqs []SeqNum
	for c := range r.Take() {
		seqs = append(seqs, c.SeqNum)
	}
	assert.Equal(t, []SeqNum{first, first + 1}, seqs)
}

func TestReaderGapHugeRangeJumps(t *testing.T) {
	r := newTestReader(t, reliableQoS())
	w := testWriterGUID(1)
	r.matchWriter(w, nil)
	r.handleData(change(w, 1))

	const next = SeqNum(1) << 40
	r.handleGap(&GapSubmsg{
		Flags: flagEndian, WriterID: w.EntityID,
		GapStart: 2, GapList: newSeqNumSet(next),
	}, w.Prefix)
	proxy := r.writers[w]
	assert.Equal(t, next-1, proxy.contiguous)
	assert.Empty(t, proxy.skip)

	r.handleData(change(w, next))
	var seqs []SeqNum
	for c := range r.Take() {
		seqs = append(seqs, c.SeqNum)
	}
	assert.Equal(t, []SeqNum{1, next}, seqs)
}

func TestReaderGapAheadCappedAtWindow(t *testing.T) {
	r := newTestReader(t, reliableQoS())
	w := testWriterGUID(1)
	r.matchWriter(w, nil)

	// the run starts past the next expected number, so it cannot be
	// jumped over; recorded skips stop at the request window
	r.handleGap(&GapSubmsg{
		Flags: flagEndian, WriterID: w.EntityID,
		GapStart: 10, GapList: newSeqNumSet(SeqNum(1) << 40),
	}, w.Prefix)
	proxy := r.writers[w]
	assert.LessOrEqual(t, len(proxy.skip), seqNumSetMaxBits)
	assert.Contains(t, proxy.skip, SeqNum(10))
}

func TestReaderSkipClearedWhenChangeArrives(t *testing.T) {
	r := newTestReader(t, reliableQoS())
	w := testWriterGUID(1)
	r.matchWriter(w, nil)

	r.handleGap(&GapSubmsg{
		Flags: flagEndian, WriterID: w.EntityID,
		GapStart: 3, GapList: newSeqNumSet(4),
	}, w.Prefix)
	proxy := r.writers[w]
	require.Contains(t, proxy.skip, SeqNum(3))

	// the change arrives anyway; the stale skip entry must not linger
	r.handleData(change(w, 1))
	r.handleData(change(w, 2))
	r.handleData(change(w, 3))
	assert.Equal(t, SeqNum(3), proxy.contiguous)
	assert.Empty(t, proxy.skip)
}

func TestReaderDuplicateDataIgnored(t *testing.T) {
	r := newTestReader(t, reliableQoS())
	w := testWriterGUID(1)
	r.matchWriter(w, nil)

	r.handleData(change(w, 1))
	r.handleData(change(w, 1))
	assert.Equal(t, 1, r.Pending())
}

func TestReaderUnmatchDropsState(t *testing.T) {
	r := newTestReader(t, reliableQoS())
	w := testWriterGUID(1)
	r.matchWriter(w, nil)
	r.handleData(change(w, 1))
	require.True(t, r.matchedWriter(w))

	assert.Equal(t, 1, r.unmatchPrefix(w.Prefix))
	assert.False(t, r.matchedWriter(w))
	assert.Zero(t, r.hc.Len(w), "history for the lost writer is released")

	// rediscovery starts from scratch
	r.matchWriter(w, nil)
	r.handleData(change(w, 1))
	assert.True(t, r.matchedWriter(w))
}
