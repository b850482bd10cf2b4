package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"fieldclock/internal/models"
)

// MemoryStore keeps the ledger in process memory. It is used by tests and by
// local runs without a database.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  map[string][]models.TimeClockEntry
	sessions map[string][]models.TimeClockSession
	status   map[string]models.TimeClockStatus
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:  make(map[string][]models.TimeClockEntry),
		sessions: make(map[string][]models.TimeClockSession),
		status:   make(map[string]models.TimeClockStatus),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) CreateOpenSession(_ context.Context, entry *models.TimeClockEntry, session *models.TimeClockSession, status *models.TimeClockStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sessions[session.UserID] {
		if existing.IsOpen() {
			return ErrAlreadyClockedIn
		}
	}
	s.entries[entry.UserID] = append(s.entries[entry.UserID], *entry)
	s.sessions[session.UserID] = append(s.sessions[session.UserID], *session)
	s.status[status.UserID] = *status
	return nil
}

func (s *MemoryStore) CloseOpenSession(_ context.Context, entry *models.TimeClockEntry, session *models.TimeClockSession, status *models.TimeClockStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.sessions[session.UserID]
	for i := range list {
		if list[i].ID != session.ID {
			continue
		}
		if !list[i].IsOpen() {
			return ErrNotClockedIn
		}
		s.entries[entry.UserID] = append(s.entries[entry.UserID], *entry)
		list[i] = *session
		s.status[status.UserID] = *status
		return nil
	}
	return ErrNotClockedIn
}

func (s *MemoryStore) FindOpenSession(_ context.Context, userID string) (*models.TimeClockSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, existing := range s.sessions[userID] {
		if existing.IsOpen() {
			found := existing
			return &found, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) Entries(_ context.Context, userID string) ([]models.TimeClockEntry, error) {
	s.mu.RLock()
	out := append([]models.TimeClockEntry(nil), s.entries[userID]...)
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *MemoryStore) Sessions(_ context.Context, userID string) ([]models.TimeClockSession, error) {
	s.mu.RLock()
	out := append([]models.TimeClockSession(nil), s.sessions[userID]...)
	s.mu.RUnlock()
	sortSessions(out)
	return out, nil
}

func (s *MemoryStore) SessionsBetween(ctx context.Context, userID string, from, to time.Time) ([]models.TimeClockSession, error) {
	all, _ := s.Sessions(ctx, userID)
	out := all[:0]
	for _, sess := range all {
		if sess.SessionDate.Before(from) || sess.SessionDate.After(to) {
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

// Status returns the persisted status row, mirroring the status table of the
// database store.
func (s *MemoryStore) Status(userID string) (models.TimeClockStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.status[userID]
	return st, ok
}

func sortSessions(list []models.TimeClockSession) {
	sort.SliceStable(list, func(i, j int) bool { return list[i].ClockInAt.Before(list[j].ClockInAt) })
}
