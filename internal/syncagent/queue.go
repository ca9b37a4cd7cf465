package syncagent

import (
	"encoding/binary"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketQueue  = []byte("queue")
	bucketFailed = []byte("failed")
	bucketCache  = []byte("cache")
)

// Mutation is a queued write waiting for connectivity. Key is the
// idempotency key the server uses to dedupe replays.
type Mutation struct {
	Key         string          `json:"key"`
	Method      string          `json:"method"`
	Endpoint    string          `json:"endpoint"`
	Body        json.RawMessage `json:"body,omitempty"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	Retries     int             `json:"retries"`
	NextAttempt time.Time       `json:"next_attempt,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
}

type cacheEntry struct {
	Body      json.RawMessage `json:"body"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// QueueStore is the durable local store backing the agent: a FIFO mutation
// queue ordered by bucket sequence, a set of permanently failed mutations,
// and the read cache. It survives process restarts.
type QueueStore struct {
	db *bolt.DB
}

func OpenQueueStore(path string) (*QueueStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketQueue, bucketFailed, bucketCache} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &QueueStore{db: db}, nil
}

func (s *QueueStore) Close() error {
	return s.db.Close()
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// Append adds a mutation at the tail of the queue. A mutation whose
// idempotency key is already queued is not enqueued again.
func (s *QueueStore) Append(m *Mutation) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)

		var exists bool
		cursor := bucket.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var queued Mutation
			if err := json.Unmarshal(v, &queued); err == nil && queued.Key == m.Key {
				exists = true
				break
			}
		}
		if exists {
			return nil
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return bucket.Put(seqKey(seq), data)
	})
}

// First returns the head of the queue and its storage key, or nil when the
// queue is empty.
func (s *QueueStore) First() (*Mutation, []byte, error) {
	var m *Mutation
	var storageKey []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		k, v := tx.Bucket(bucketQueue).Cursor().First()
		if k == nil {
			return nil
		}
		m = &Mutation{}
		if err := json.Unmarshal(v, m); err != nil {
			return err
		}
		storageKey = append([]byte(nil), k...)
		return nil
	})
	return m, storageKey, err
}

func (s *QueueStore) Update(storageKey []byte, m *Mutation) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketQueue).Put(storageKey, data)
	})
}

func (s *QueueStore) Delete(storageKey []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketQueue).Delete(storageKey)
	})
}

// MoveToFailed removes the mutation from the active queue and records it in
// the failed set, keyed by its idempotency key.
func (s *QueueStore) MoveToFailed(storageKey []byte, m *Mutation) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketQueue).Delete(storageKey); err != nil {
			return err
		}
		return tx.Bucket(bucketFailed).Put([]byte(m.Key), data)
	})
}

func (s *QueueStore) Pending() (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketQueue).Stats().KeyN
		return nil
	})
	return count, err
}

// Failed lists permanently failed mutations so the app can surface them.
func (s *QueueStore) Failed() ([]Mutation, error) {
	var failed []Mutation
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFailed).ForEach(func(k, v []byte) error {
			var m Mutation
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			failed = append(failed, m)
			return nil
		})
	})
	return failed, err
}

// DismissFailed drops a surfaced failure once the user has acknowledged it.
func (s *QueueStore) DismissFailed(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFailed).Delete([]byte(key))
	})
}

func (s *QueueStore) CachePut(endpoint string, body []byte, fetchedAt time.Time) error {
	data, err := json.Marshal(cacheEntry{Body: body, FetchedAt: fetchedAt})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCache).Put([]byte(endpoint), data)
	})
}

func (s *QueueStore) CacheGet(endpoint string) (cacheEntry, bool) {
	var entry cacheEntry
	found := false
	s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketCache).Get([]byte(endpoint))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &entry); err != nil {
			return nil
		}
		found = true
		return nil
	})
	return entry, found
}
