// Package cache keeps decoded API responses per URL with the time they were fetched.
package cache

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// TimestampLayout is ISO 8601 with microseconds, without zone, in UTC.
const TimestampLayout = "2006-01-02T15:04:05.999999"

// Entry is one cached response. It serializes as the tuple [value, "timestamp"].
type Entry struct {
	Value     json.RawMessage
	Timestamp time.Time
}

func (e Entry) MarshalJSON() ([]byte, error) {
	value := e.Value
	if len(value) == 0 {
		value = json.RawMessage("null")
	}
	return json.Marshal([]any{value, e.Timestamp.UTC().Format(TimestampLayout)})
}

func (e *Entry) UnmarshalJSON(b []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(b, &tuple); err != nil {
		return err
	}
	if len(tuple) != 2 {
		return fmt.Errorf("cache entry: expected [value, timestamp], got %d elements", len(tuple))
	}
	var ts string
	if err := json.Unmarshal(tuple[1], &ts); err != nil {
		return fmt.Errorf("cache entry timestamp: %w", err)
	}
	t, err := parseTimestamp(ts)
	if err != nil {
		return err
	}
	e.Value = tuple[0]
	e.Timestamp = t
	return nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{TimestampLayout, "2006-01-02 15:04:05.999999", time.RFC3339Nano} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cache entry: unrecognised timestamp %q", s)
}

// Responses maps URL to cached entry. Safe for concurrent use.
type Responses struct {
	entries map[string]Entry
	lock    sync.RWMutex
}

// NewResponses returns an empty cache.
func NewResponses() *Responses {
	return &Responses{entries: make(map[string]Entry)}
}

// Get returns the entry for url.
func (r *Responses) Get(url string) (Entry, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	e, ok := r.entries[url]
	return e, ok
}

// Fresh returns the value for url when it was stored less than maxAge before now.
func (r *Responses) Fresh(url string, maxAge time.Duration, now time.Time) (json.RawMessage, bool) {
	e, ok := r.Get(url)
	if !ok || e.Timestamp.Before(now.Add(-maxAge)) {
		return nil, false
	}
	return e.Value, true
}

// Put stores value for url, stamped with at.
func (r *Responses) Put(url string, value json.RawMessage, at time.Time) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.entries[url] = Entry{Value: value, Timestamp: at.UTC()}
}

// Len returns the number of cached URLs.
func (r *Responses) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.entries)
}

func (r *Responses) MarshalJSON() ([]byte, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return json.Marshal(r.entries)
}

func (r *Responses) UnmarshalJSON(b []byte) error {
	entries := make(map[string]Entry)
	if err := json.Unmarshal(b, &entries); err != nil {
		return err
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	r.entries = entries
	return nil
}
