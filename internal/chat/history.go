package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultMaxTurns    = 10
	DefaultMaxSessions = 1000
)

type Turn struct {
	User      string    `json:"user"`
	Assistant string    `json:"assistant"`
	At        time.Time `json:"at,omitempty"`
}

// Store keeps a bounded history per session and a bounded number of
// sessions. Recording into a new session beyond the limit evicts the least
// recently recorded one. It is safe for concurrent use.
type Store struct {
	mu          sync.Mutex
	maxTurns    int
	maxSessions int
	sessions    map[string][]Turn
	touched     map[string]uint64
	clock       uint64
}

func NewStore(maxTurns int) *Store {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Store{
		maxTurns:    maxTurns,
		maxSessions: DefaultMaxSessions,
		sessions:    map[string][]Turn{},
		touched:     map[string]uint64{},
	}
}

// SetMaxSessions changes the session limit, evicting the least recently
// recorded sessions if the store already holds more.
func (s *Store) SetMaxSessions(maxSessions int) {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxSessions = maxSessions
	s.evictLocked()
}

func NewSessionID() string {
	return uuid.NewString()
}

func (s *Store) MaxTurns() int {
	return s.maxTurns
}

// History returns a copy of the session history, oldest turn first.
func (s *Store) History(sessionID string) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.sessions[sessionID]...)
}

// Record appends turn to base and stores the bounded result as the session
// history. Callers pass the history they actually answered from.
func (s *Store) Record(sessionID string, base []Turn, turn Turn) []Turn {
	if turn.At.IsZero() {
		turn.At = time.Now().UTC()
	}
	next := Bound(append(append([]Turn(nil), base...), turn), s.maxTurns)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = next
	s.touchLocked(sessionID)
	s.evictLocked()
	return append([]Turn(nil), next...)
}

func (s *Store) Reset(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	delete(s.touched, sessionID)
}

func (s *Store) touchLocked(sessionID string) {
	s.clock++
	s.touched[sessionID] = s.clock
}

func (s *Store) evictLocked() {
	for len(s.sessions) > s.maxSessions {
		var (
			oldest   string
			oldestAt uint64
			found    bool
		)
		for id := range s.sessions {
			if at := s.touched[id]; !found || at < oldestAt {
				oldest, oldestAt, found = id, at, true
			}
		}
		delete(s.sessions, oldest)
		delete(s.touched, oldest)
	}
}

func (s *Store) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Bound keeps the most recent maxTurns turns and drops blank ones.
func Bound(turns []Turn, maxTurns int) []Turn {
	kept := make([]Turn, 0, len(turns))
	for _, turn := range turns {
		if strings.TrimSpace(turn.User) == "" && strings.TrimSpace(turn.Assistant) == "" {
			continue
		}
		kept = append(kept, turn)
	}
	if maxTurns > 0 && len(kept) > maxTurns {
		kept = kept[len(kept)-maxTurns:]
	}
	return kept
}

type snapshot struct {
	Sessions map[string][]Turn `json:"sessions"`
}

// Load reads sessions saved by Save. A missing file yields an empty store.
func Load(path string, maxTurns int) (*Store, error) {
	store := NewStore(maxTurns)
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return store, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history %s: %w", path, err)
	}
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode history %s: %w", path, err)
	}
	ids := make([]string, 0, len(snap.Sessions))
	for id, turns := range snap.Sessions {
		store.sessions[id] = Bound(turns, store.maxTurns)
		ids = append(ids, id)
	}
	// Saved sessions keep their recency order through the last turn time.
	sort.Slice(ids, func(i, j int) bool {
		return lastTurnAt(store.sessions[ids[i]]).Before(lastTurnAt(store.sessions[ids[j]]))
	})
	for _, id := range ids {
		store.touchLocked(id)
	}
	return store, nil
}

func lastTurnAt(turns []Turn) time.Time {
	if len(turns) == 0 {
		return time.Time{}
	}
	return turns[len(turns)-1].At
}

func (s *Store) Save(path string) error {
	s.mu.Lock()
	snap := snapshot{Sessions: make(map[string][]Turn, len(s.sessions))}
	for id, turns := range s.sessions {
		snap.Sessions[id] = append([]Turn(nil), turns...)
	}
	s.mu.Unlock()

	encoded, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o644); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace history: %w", err)
	}
	return nil
}
