package events

import (
	"sync"
	"time"
)

// EventType represents the type of security event
type EventType string

const (
	// Status events
	EventArmed    EventType = "status_armed"
	EventDisarmed EventType = "status_disarmed"

	// Alarm events
	EventAlarmOn  EventType = "alarm_on"
	EventAlarmOff EventType = "alarm_off"

	// Sensor events
	EventSensorDetected EventType = "sensor_detected"

	// Key events
	EventKeyAccepted EventType = "key_accepted"
	EventKeyRejected EventType = "key_rejected"

	// Stack events
	EventUnitOnline  EventType = "unit_online"
	EventUnitOffline EventType = "unit_offline"
)

// Event represents a security event
type Event struct {
	ID        int64     `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Unit      string    `json:"unit"`
	Source    string    `json:"source,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Journal persists events beyond the in-memory window
type Journal interface {
	// AppendEvent stores an event
	AppendEvent(e Event) error

	// RecentEvents returns up to limit events, oldest first
	RecentEvents(limit int) ([]Event, error)
}

// Store holds events in memory with a fixed capacity (ring buffer)
type Store struct {
	mu      sync.RWMutex
	events  []Event
	maxSize int
	nextID  int64
	journal Journal
	onError func(error)
}

// NewStore creates a new event store with specified max capacity
func NewStore(maxSize int) *Store {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Store{
		events:  make([]Event, 0, maxSize),
		maxSize: maxSize,
	}
}

// NewJournaledStore creates an event store that writes through to journal
// and starts with the most recent journaled events.
// onError receives journal write failures; it may be nil.
func NewJournaledStore(maxSize int, journal Journal, onError func(error)) (*Store, error) {
	s := NewStore(maxSize)
	s.journal = journal
	s.onError = onError

	if journal == nil {
		return s, nil
	}

	recent, err := journal.RecentEvents(s.maxSize)
	if err != nil {
		return nil, err
	}
	for _, e := range recent {
		s.events = append(s.events, e)
		if e.ID > s.nextID {
			s.nextID = e.ID
		}
	}
	return s, nil
}

// Add adds a new event to the store
func (s *Store) Add(eventType EventType, unit, source, detail string) Event {
	s.mu.Lock()
	s.nextID++
	event := Event{
		ID:        s.nextID,
		Type:      eventType,
		Timestamp: time.Now(),
		Unit:      unit,
		Source:    source,
		Detail:    detail,
	}

	// Ring buffer: remove oldest if at max capacity
	if len(s.events) >= s.maxSize {
		s.events = s.events[1:]
	}
	s.events = append(s.events, event)
	journal := s.journal
	onError := s.onError
	s.mu.Unlock()

	if journal != nil {
		if err := journal.AppendEvent(event); err != nil && onError != nil {
			onError(err)
		}
	}

	return event
}

// Query selects events. Zero fields match everything.
type Query struct {
	Type    EventType
	Unit    string
	SinceID int64 // only events with a greater ID
	Limit   int   // 0 means no limit
}

func (q Query) match(e Event) bool {
	return (q.Type == "" || e.Type == q.Type) && (q.Unit == "" || e.Unit == q.Unit)
}

// Find returns the events matching q, newest first
func (s *Store) Find(q Query) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Event, 0)
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if e.ID <= q.SinceID {
			break
		}
		if !q.match(e) {
			continue
		}
		result = append(result, e)
		if q.Limit > 0 && len(result) == q.Limit {
			break
		}
	}
	return result
}

// GetLast returns the last n events, newest first
func (s *Store) GetLast(n int) []Event {
	if n <= 0 {
		return []Event{}
	}
	return s.Find(Query{Limit: n})
}

// GetSince returns events newer than lastID, newest first
func (s *Store) GetSince(lastID int64) []Event {
	return s.Find(Query{SinceID: lastID})
}

// Count returns the total number of events
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// LastID returns the ID of the most recent event
func (s *Store) LastID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextID
}
