package rtps

import (
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// DurableStore persists writer history so TRANSIENT_LOCAL topics survive a
// process restart. One bucket per topic, keyed by sequence number.
type DurableStore struct {
	db *bolt.DB
}

func OpenDurableStore(path string) (*DurableStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	return &DurableStore{db: db}, nil
}

func (s *DurableStore) Close() error { return s.db.Close() }

// record layout: kind (1) | unix nanos (8, big endian) | payload
const durableRecHdrLen = 9

func durableKey(sn SeqNum) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(sn))
	return k
}

// SaveChange appends one change to the topic's bucket.
func (s *DurableStore) SaveChange(topic string, c *CacheChange) error {
	v := make([]byte, durableRecHdrLen, durableRecHdrLen+len(c.Payload))
	v[0] = byte(c.Kind)
	binary.BigEndian.PutUint64(v[1:], uint64(c.Timestamp.UnixNano()))
	v = append(v, c.Payload...)

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(topic))
		if err != nil {
			return err
		}
		return b.Put(durableKey(c.SeqNum), v)
	})
}

// LoadChanges reads back a topic's history in sequence-number order. The
// writer GUID is left zero; the caller owns the identity.
func (s *DurableStore) LoadChanges(topic string) ([]*CacheChange, error) {
	var out []*CacheChange
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(topic))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			if len(k) != 8 || len(v) < durableRecHdrLen {
				return fmt.Errorf("%w: corrupt durable record in %q", ErrFormat, topic)
			}
			out = append(out, &CacheChange{
				SeqNum:    SeqNum(binary.BigEndian.Uint64(k)),
				Kind:      ChangeKind(v[0]),
				Timestamp: time.Unix(0, int64(binary.BigEndian.Uint64(v[1:]))).UTC(),
				Payload:   append([]byte(nil), v[durableRecHdrLen:]...),
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DropTopic removes a topic's persisted history.
func (s *DurableStore) DropTopic(topic string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(topic)) == nil {
			return nil
		}
		return tx.DeleteBucket([]byte(topic))
	})
}
