package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/pebble/v2"
)

const (
	roomKeyPrefix     = "room:"
	defaultHistoryCap = 50
)

// errMalformedRoom marks persisted room data that is neither a valid
// history array nor a valid legacy single entry. Reads surface it instead
// of silently returning an empty history, so corruption is never masked.
var errMalformedRoom = errors.New("malformed room data")

const (
	entryText  = "text"
	entryImage = "image"
	entryFile  = "file"
)

// Entry is one unit of shared clipboard content. Content holds literal
// text for text entries, or the relative web path of a stored asset for
// image/file entries. Timestamp is assigned by the store at append time;
// client-supplied values are ignored.
type Entry struct {
	Content      string `json:"content"`
	Type         string `json:"type"`
	Timestamp    int64  `json:"timestamp"`
	OriginalName string `json:"original_name,omitempty"`
}

type storeConfig struct {
	Dir        string // directory holding the Pebble database
	HistoryCap int    // entries kept per room (0 means defaultHistoryCap)
}

// roomStore persists one bounded history per room in a PebbleDB key-value
// store, one JSON document per room under "room:<name>". Appends are
// read-modify-write and serialized per room; reads run lock-free because
// a Pebble Set replaces the whole document atomically.
type roomStore struct {
	db  *pebble.DB
	cap int
	now func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newRoomStore(cfg storeConfig) (*roomStore, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("empty store directory")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	db, err := pebble.Open(filepath.Clean(cfg.Dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	histCap := cfg.HistoryCap
	if histCap <= 0 {
		histCap = defaultHistoryCap
	}
	return &roomStore{
		db:    db,
		cap:   histCap,
		now:   time.Now,
		locks: map[string]*sync.Mutex{},
	}, nil
}

func roomKey(room string) []byte {
	return []byte(roomKeyPrefix + cleanRoomName(room))
}

// roomLock returns the mutex serializing appends for one sanitized room
// name, creating it on first use. Locks are never released back; the set
// of active rooms is small and bounded by use.
func (s *roomStore) roomLock(room string) *sync.Mutex {
	name := cleanRoomName(room)
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

// Get returns the room's current history. A room that was never written
// reads as an empty history, not an error; unknown rooms are therefore
// indistinguishable from empty ones.
func (s *roomStore) Get(room string) ([]Entry, error) {
	val, closer, err := s.db.Get(roomKey(room))
	if err != nil {
		if err == pebble.ErrNotFound {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("read room %q: %w", cleanRoomName(room), err)
	}
	defer closer.Close()
	return decodeHistory(val)
}

// Append assigns the server timestamp, appends the entry to the room's
// history, trims to the newest cap entries, and persists the whole
// document. The stored entry is returned. Any write failure propagates to
// the caller; a successful return means the entry is durably stored.
func (s *roomStore) Append(room string, e Entry) (Entry, error) {
	name := cleanRoomName(room)
	lock := s.roomLock(room)
	lock.Lock()
	defer lock.Unlock()

	var hist []Entry
	val, closer, err := s.db.Get(roomKey(room))
	switch err {
	case nil:
		decoded, derr := decodeHistory(val)
		closer.Close()
		if derr != nil {
			return Entry{}, derr
		}
		hist = decoded
	case pebble.ErrNotFound:
		// First append creates the room.
	default:
		return Entry{}, fmt.Errorf("read room %q: %w", name, err)
	}

	e.Timestamp = s.now().Unix()
	if n := len(hist); n > 0 && hist[n-1].Timestamp > e.Timestamp {
		// Keep per-room timestamps non-decreasing even if the server
		// clock steps backwards.
		e.Timestamp = hist[n-1].Timestamp
	}
	hist = append(hist, e)
	if len(hist) > s.cap {
		hist = hist[len(hist)-s.cap:]
	}

	data, err := json.Marshal(hist)
	if err != nil {
		return Entry{}, fmt.Errorf("encode room %q: %w", name, err)
	}
	if err := s.db.Set(roomKey(room), data, pebble.Sync); err != nil {
		return Entry{}, fmt.Errorf("write room %q: %w", name, err)
	}
	return e, nil
}

func (s *roomStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// decodeHistory recognizes exactly two persisted shapes: the current
// array-of-entries form and the legacy bare-entry object, which is
// normalized into a one-element history here so nothing downstream ever
// branches on shape. Anything else is malformed.
func decodeHistory(data []byte) ([]Entry, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return []Entry{}, nil
	}
	switch trimmed[0] {
	case '[':
		var hist []Entry
		if err := json.Unmarshal(trimmed, &hist); err != nil {
			return nil, errMalformedRoom
		}
		if hist == nil {
			hist = []Entry{}
		}
		return hist, nil
	case '{':
		// Legacy shape is identified by the presence of a content field,
		// matching how pre-history rooms were written.
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &probe); err != nil {
			return nil, errMalformedRoom
		}
		if _, ok := probe["content"]; !ok {
			return nil, errMalformedRoom
		}
		var legacy Entry
		if err := json.Unmarshal(trimmed, &legacy); err != nil {
			return nil, errMalformedRoom
		}
		return []Entry{legacy}, nil
	}
	return nil, errMalformedRoom
}
