package syncindex

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
)

var bucketIndexes = []byte("syncindex")

// Store persists sync indexes in a bbolt database, one CBOR-encoded
// snapshot per wallet.
type Store struct {
	db *bolt.DB
}

// snapshot is the on-disk shape of an Index.
type snapshot struct {
	LastSync      int64               `cbor:"lastSync"`
	Known         []string            `cbor:"knownCIDs"`
	Pointers      map[string]*Pointer `cbor:"pointers"`
	Conversations map[string][]string `cbor:"conversationCache"`
}

// Open opens (or creates) the sync index database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open sync index db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketIndexes)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sync index bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load reads the index for wallet, returning a fresh empty index if none
// was ever saved.
func (s *Store) Load(wallet string) (*Index, error) {
	ix := NewIndex(wallet)
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketIndexes).Get([]byte(wallet))
		if raw == nil {
			return nil
		}
		var snap snapshot
		if err := cbor.Unmarshal(raw, &snap); err != nil {
			return fmt.Errorf("decode sync index for %s: %w", wallet, err)
		}
		ix.LastSync = snap.LastSync
		for _, cid := range snap.Known {
			ix.Known[cid] = struct{}{}
		}
		if snap.Pointers != nil {
			ix.Pointers = snap.Pointers
		}
		if snap.Conversations != nil {
			ix.Conversations = snap.Conversations
		}
		// Pointers imply knowledge even if the known set predates them.
		for cid := range ix.Pointers {
			ix.Known[cid] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ix, nil
}

// Save writes the full index snapshot for its wallet.
func (s *Store) Save(ix *Index) error {
	known := make([]string, 0, len(ix.Known))
	for cid := range ix.Known {
		known = append(known, cid)
	}
	raw, err := cbor.Marshal(snapshot{
		LastSync:      ix.LastSync,
		Known:         known,
		Pointers:      ix.Pointers,
		Conversations: ix.Conversations,
	})
	if err != nil {
		return fmt.Errorf("encode sync index: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIndexes).Put([]byte(ix.Wallet), raw)
	})
}
