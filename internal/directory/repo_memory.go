package directory

import (
	"context"
	"sync"
)

// MemoryStore is a simple in-memory Directory useful for tests.
// It is not intended for production use.
type MemoryStore struct {
	mu        sync.Mutex
	users     map[string]User
	lines     map[string][]Line
	mainLines map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]User),
		lines:     make(map[string][]Line),
		mainLines: make(map[string]int),
	}
}

func (s *MemoryStore) AddUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.UUID] = u
}

// AddLine attaches a line to a user; the first line added is the main line.
func (s *MemoryStore) AddLine(userUUID string, l Line) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.lines[userUUID]) == 0 {
		s.mainLines[userUUID] = l.ID
	}
	s.lines[userUUID] = append(s.lines[userUUID], l)
}

func (s *MemoryStore) User(ctx context.Context, tenantUUID, userUUID string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userUUID]
	if !ok || (tenantUUID != "" && u.TenantUUID != tenantUUID) {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (s *MemoryStore) MainLine(ctx context.Context, tenantUUID, userUUID string) (Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.mainLines[userUUID]
	if !ok {
		return Line{}, ErrNoMainLine
	}
	l, ok := s.findLocked(tenantUUID, userUUID, id)
	if !ok {
		return Line{}, ErrNoMainLine
	}
	return l, nil
}

func (s *MemoryStore) Line(ctx context.Context, tenantUUID, userUUID string, lineID int) (Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.findLocked(tenantUUID, userUUID, lineID)
	if !ok {
		return Line{}, ErrLineNotFound
	}
	return l, nil
}

func (s *MemoryStore) findLocked(tenantUUID, userUUID string, lineID int) (Line, bool) {
	for _, l := range s.lines[userUUID] {
		if l.ID != lineID {
			continue
		}
		if tenantUUID != "" && l.TenantUUID != tenantUUID {
			return Line{}, false
		}
		return l, true
	}
	return Line{}, false
}
