package watch

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketBalances = []byte("balances")
	bucketOrders   = []byte("orders")
)

// Store persists the watcher's diff baselines so a restart does not
// re-announce state it already reported.
type Store struct {
	db *bolt.DB
}

// OpenStore opens (or creates) the baseline database at path.
func OpenStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketBalances, bucketOrders} {
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
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Balances returns the stored balance baseline, keyed by currency
// label.
func (s *Store) Balances() (map[string]string, error) {
	return s.loadMap(bucketBalances)
}

// SaveBalances replaces the balance baseline.
func (s *Store) SaveBalances(balances map[string]string) error {
	return s.saveMap(bucketBalances, balances)
}

// Orders returns the stored open-order baseline keys.
func (s *Store) Orders() (map[string]struct{}, error) {
	m, err := s.loadMap(bucketOrders)
	if err != nil {
		return nil, err
	}
	keys := make(map[string]struct{}, len(m))
	for k := range m {
		keys[k] = struct{}{}
	}
	return keys, nil
}

// SaveOrders replaces the open-order baseline.
func (s *Store) SaveOrders(keys map[string]struct{}) error {
	m := make(map[string]string, len(keys))
	for k := range keys {
		m[k] = ""
	}
	return s.saveMap(bucketOrders, m)
}

func (s *Store) loadMap(bucket []byte) (map[string]string, error) {
	out := make(map[string]string)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(k, v []byte) error {
			var value string
			if len(v) > 0 {
				if err := json.Unmarshal(v, &value); err != nil {
					return err
				}
			}
			out[string(k)] = value
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) saveMap(bucket []byte, m map[string]string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		// Recreate the bucket; mutating under ForEach invalidates
		// the cursor.
		if err := tx.DeleteBucket(bucket); err != nil {
			return err
		}
		b, err := tx.CreateBucket(bucket)
		if err != nil {
			return err
		}
		for k, v := range m {
			data, err := json.Marshal(v)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(k), data); err != nil {
				return err
			}
		}
		return nil
	})
}
