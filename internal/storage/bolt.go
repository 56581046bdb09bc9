package storage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.etcd.io/bbolt"

	"stackguard/internal/events"
)

const (
	// dataBucket stores namespaced component data (one sub-bucket per namespace)
	dataBucket = "_data"

	// eventsBucket stores the security event journal keyed by event ID
	eventsBucket = "_events"

	// DefaultJournalLimit is the number of events kept on disk
	DefaultJournalLimit = 1000
)

// BoltStorage is a bbolt implementation of the Storage interface
type BoltStorage struct {
	db           *bbolt.DB
	journalLimit int
}

// NewBoltStorage creates a new BoltStorage instance
// The database file will be created if it doesn't exist
func NewBoltStorage(path string, journalLimit int) (*BoltStorage, error) {
	if journalLimit <= 0 {
		journalLimit = DefaultJournalLimit
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(dataBucket)); err != nil {
			return fmt.Errorf("failed to create data bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(eventsBucket)); err != nil {
			return fmt.Errorf("failed to create events bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStorage{db: db, journalLimit: journalLimit}, nil
}

// Controller State Methods

// PersistControllerState writes one controller state field
func (s *BoltStorage) PersistControllerState(field string, value bool) error {
	return s.SetBool(SecurityNamespace, field, value)
}

// LoadControllerState returns every persisted controller state field
func (s *BoltStorage) LoadControllerState() (map[string]bool, error) {
	raw, err := s.List(SecurityNamespace)
	if err != nil {
		return nil, err
	}

	state := make(map[string]bool, len(raw))
	for field, data := range raw {
		value, err := strconv.ParseBool(string(data))
		if err != nil {
			return nil, fmt.Errorf("failed to parse state field %s: %w", field, err)
		}
		state[field] = value
	}
	return state, nil
}

// Component Data Methods

// Get retrieves data for a namespace by key
func (s *BoltStorage) Get(namespace, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(dataBucket))
		if bucket == nil {
			return fmt.Errorf("data bucket not found")
		}

		nsBucket := bucket.Bucket([]byte(namespace))
		if nsBucket == nil {
			return ErrNotFound
		}

		data := nsBucket.Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}

		value = make([]byte, len(data))
		copy(value, data)
		return nil
	})

	return value, err
}

// GetBool retrieves bool data for a namespace by key
func (s *BoltStorage) GetBool(namespace, key string) (bool, error) {
	data, err := s.Get(namespace, key)
	if err != nil {
		return false, err
	}

	value, err := strconv.ParseBool(string(data))
	if err != nil {
		return false, fmt.Errorf("failed to parse bool: %w", err)
	}

	return value, nil
}

// Set stores data for a namespace by key
func (s *BoltStorage) Set(namespace, key string, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(dataBucket))
		if bucket == nil {
			return fmt.Errorf("data bucket not found")
		}

		nsBucket, err := bucket.CreateBucketIfNotExists([]byte(namespace))
		if err != nil {
			return fmt.Errorf("failed to create namespace bucket: %w", err)
		}

		return nsBucket.Put([]byte(key), value)
	})
}

// SetBool stores bool data for a namespace by key
func (s *BoltStorage) SetBool(namespace, key string, value bool) error {
	return s.Set(namespace, key, []byte(strconv.FormatBool(value)))
}

// Delete removes data for a namespace by key
func (s *BoltStorage) Delete(namespace, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(dataBucket))
		if bucket == nil {
			return fmt.Errorf("data bucket not found")
		}

		nsBucket := bucket.Bucket([]byte(namespace))
		if nsBucket == nil {
			return ErrNotFound
		}

		return nsBucket.Delete([]byte(key))
	})
}

// List returns all keys and values for a namespace
func (s *BoltStorage) List(namespace string) (map[string][]byte, error) {
	result := make(map[string][]byte)
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(dataBucket))
		if bucket == nil {
			return fmt.Errorf("data bucket not found")
		}

		nsBucket := bucket.Bucket([]byte(namespace))
		if nsBucket == nil {
			// Namespace has no data yet - return empty map
			return nil
		}

		return nsBucket.ForEach(func(k, v []byte) error {
			value := make([]byte, len(v))
			copy(value, v)
			result[string(k)] = value
			return nil
		})
	})

	return result, err
}

// Event Journal Methods

// eventKey formats an event ID so that byte order matches numeric order
func eventKey(id int64) []byte {
	return []byte(fmt.Sprintf("%020d", id))
}

// AppendEvent stores an event and drops the oldest entries beyond the journal limit
func (s *BoltStorage) AppendEvent(e events.Event) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(eventsBucket))
		if bucket == nil {
			return fmt.Errorf("events bucket not found")
		}

		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}

		if err := bucket.Put(eventKey(e.ID), data); err != nil {
			return err
		}

		// Count total entries
		var count int
		cursor := bucket.Cursor()
		for k, _ := cursor.First(); k != nil; k, _ = cursor.Next() {
			count++
		}
		if count <= s.journalLimit {
			return nil
		}

		// Delete oldest entries
		toDelete := count - s.journalLimit
		var stale [][]byte
		cursor = bucket.Cursor()
		for k, _ := cursor.First(); k != nil && toDelete > 0; k, _ = cursor.Next() {
			stale = append(stale, append([]byte(nil), k...))
			toDelete--
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return fmt.Errorf("failed to delete old event: %w", err)
			}
		}
		return nil
	})
}

// RecentEvents returns up to limit events, oldest first
func (s *BoltStorage) RecentEvents(limit int) ([]events.Event, error) {
	var result []events.Event

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(eventsBucket))
		if bucket == nil {
			return fmt.Errorf("events bucket not found")
		}

		// Walk backwards from the newest entry
		cursor := bucket.Cursor()
		for k, v := cursor.Last(); k != nil && len(result) < limit; k, v = cursor.Prev() {
			var e events.Event
			if err := json.Unmarshal(v, &e); err != nil {
				continue // Skip corrupted entries
			}
			result = append(result, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Reverse to oldest first
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result, nil
}

// Close closes the storage
func (s *BoltStorage) Close() error {
	return s.db.Close()
}
var _ Storage = (*BoltStorage)(nil)
