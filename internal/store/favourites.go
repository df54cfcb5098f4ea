package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"vpnconnect/internal/model"
)

var (
	bucketFavourites = []byte("favourites")
	bucketSettings   = []byte("settings")

	keyDNS = []byte("dns")

	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
)

// Store persists favourite nodes and user settings.
type Store struct {
	db *bolt.DB
}

// Open opens (and initialises) the Bolt database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketFavourites, bucketSettings} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Favourites returns all favourites ordered by the time they were added.
func (s *Store) Favourites() ([]model.FavouriteEntry, error) {
	var out []model.FavouriteEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFavourites).ForEach(func(_, v []byte) error {
			var entry model.FavouriteEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			out = append(out, entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AddedAt.Before(out[j].AddedAt)
	})
	return out, nil
}

// AddToFavourite stores entry under its provider+service key, replacing any previous one.
func (s *Store) AddToFavourite(entry model.FavouriteEntry) error {
	if entry.AddedAt.IsZero() {
		entry.AddedAt = time.Now().UTC()
	}
	encoded, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFavourites).Put([]byte(entry.Key()), encoded)
	})
}

// DeleteFromFavourite removes the favourite with the given key. Missing keys are ignored.
func (s *Store) DeleteFromFavourite(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFavourites).Delete([]byte(key))
	})
}

// GetByID returns the favourite with the given key or ErrNotFound.
func (s *Store) GetByID(id string) (model.FavouriteEntry, error) {
	var entry model.FavouriteEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketFavourites).Get([]byte(id))
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &entry)
	})
	if err != nil {
		return model.FavouriteEntry{}, err
	}
	return entry, nil
}

// SavedDNS returns the user's DNS option, if one was saved.
func (s *Store) SavedDNS() (string, bool, error) {
	var value string
	err := s.db.View(func(tx *bolt.Tx) error {
		if raw := tx.Bucket(bucketSettings).Get(keyDNS); raw != nil {
			value = string(raw)
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return value, value != "", nil
}

// SaveDNS persists the DNS option. An empty value clears it.
func (s *Store) SaveDNS(value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSettings)
		if value == "" {
			return b.Delete(keyDNS)
		}
		return b.Put(keyDNS, []byte(value))
	})
}
