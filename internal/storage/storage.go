package storage

import (
	"errors"

	"stackguard/internal/events"
)

var (
	// ErrNotFound is returned when a key is not found
	ErrNotFound = errors.New("key not found")
)

// Controller state field names
const (
	FieldStatus     = "status"
	FieldAlarm      = "alarm"
	FieldSoundEnter = "sound_enter"
	FieldSoundExit  = "sound_exit"
	FieldSoundAlarm = "sound_alarm"
)

// SecurityNamespace holds the persisted controller state
const SecurityNamespace = "security"

// Storage is the interface for controller state, component data and the event journal
type Storage interface {
	// Controller State Methods

	// PersistControllerState writes one controller state field
	PersistControllerState(field string, value bool) error

	// LoadControllerState returns every persisted controller state field
	LoadControllerState() (map[string]bool, error)

	// Component Data Methods

	// Get retrieves data for a namespace by key
	// Returns ErrNotFound if the key doesn't exist
	Get(namespace, key string) ([]byte, error)

	// GetBool retrieves bool data for a namespace by key
	GetBool(namespace, key string) (bool, error)

	// Set stores data for a namespace by key
	Set(namespace, key string, value []byte) error

	// SetBool stores bool data for a namespace by key
	SetBool(namespace, key string, value bool) error

	// Delete removes data for a namespace by key
	Delete(namespace, key string) error

	// List returns all keys and values for a namespace
	List(namespace string) (map[string][]byte, error)

	// Event Journal Methods

	// AppendEvent stores an event, trimming the journal to its limit
	AppendEvent(e events.Event) error

	// RecentEvents returns up to limit events, oldest first
	RecentEvents(limit int) ([]events.Event, error)

	// Lifecycle Methods

	// Close closes the storage
	Close() error
}
