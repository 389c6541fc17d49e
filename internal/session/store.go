package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned when appending to an unknown session.
var ErrSessionNotFound = errors.New("session not found")

// DefaultUserID is recorded for sessions created without a user id.
const DefaultUserID = "default_user"

type entry struct {
	mu sync.Mutex
	// removed is set under mu when Prune drops the entry; holders of a stale
	// pointer must treat the session as unknown.
	removed      bool
	id           string
	userID       string
	createdAt    time.Time
	lastActivity time.Time
	totalQueries int
	history      history
}

func (e *entry) snapshot() Info {
	return Info{
		ID:           e.id,
		UserID:       e.userID,
		CreatedAt:    e.createdAt,
		LastActivity: e.lastActivity,
		TotalQueries: e.totalQueries,
		History:      e.history.items(),
	}
}

// Store is the in-process session registry. The map is guarded by an
// RWMutex; each session carries its own mutex so that requests on different
// sessions only contend on the map lookup.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	// now and newID are injectable for tests.
	now   func() time.Time
	newID func() string
}

// NewStore creates an empty registry.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*entry),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// ResolveOrCreate returns sessionID when it names a live session, counting
// one more query against it. Otherwise it creates a session and returns the
// new id.
func (s *Store) ResolveOrCreate(sessionID, userID string) string {
	return s.Resolve(sessionID, userID).ID
}

// Resolve is ResolveOrCreate returning the session state as it stood right
// after the resolve, so callers see a counter and history consistent with
// their own query.
func (s *Store) Resolve(sessionID, userID string) Info {
	if sessionID != "" {
		if e := s.lookup(sessionID); e != nil {
			if info, ok := s.touch(e); ok {
				return info
			}
		}
	}

	if userID == "" {
		userID = DefaultUserID
	}
	now := s.now()
	e := &entry{
		id:           s.newID(),
		userID:       userID,
		createdAt:    now,
		lastActivity: now,
		totalQueries: 1,
	}

	s.mu.Lock()
	s.sessions[e.id] = e
	s.mu.Unlock()
	return e.snapshot()
}

// touch counts one more query against e. It reports false when e was pruned
// between lookup and locking.
func (s *Store) touch(e *entry) (Info, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return Info{}, false
	}
	e.lastActivity = s.now()
	e.totalQueries++
	return e.snapshot(), true
}

// AppendExchange records a query and its formatted response, evicting the
// oldest exchange once HistoryCapacity is reached.
func (s *Store) AppendExchange(sessionID, query, response string) error {
	e := s.lookup(sessionID)
	if e == nil {
		return ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return ErrSessionNotFound
	}
	e.history.push(Exchange{
		Query:    query,
		Response: response,
		Tag:      shortTag(s.newID()),
	})
	return nil
}

// Snapshot returns a copy of the session, or false if it does not exist.
func (s *Store) Snapshot(sessionID string) (Info, bool) {
	e := s.lookup(sessionID)
	if e == nil {
		return Info{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return Info{}, false
	}
	return e.snapshot(), true
}

// Context renders the session's history for prompting. Unknown sessions
// render as having no history.
func (s *Store) Context(sessionID string) string {
	info, _ := s.Snapshot(sessionID)
	return BuildContext(info.History)
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Prune drops sessions idle for longer than maxIdle and returns how many
// were removed.
func (s *Store) Prune(maxIdle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	pruned := 0
	for id, e := range s.sessions {
		e.mu.Lock()
		if now.Sub(e.lastActivity) > maxIdle {
			e.removed = true
			delete(s.sessions, id)
			pruned++
		}
		e.mu.Unlock()
	}
	return pruned
}

func shortTag(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (s *Store) lookup(id string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}
