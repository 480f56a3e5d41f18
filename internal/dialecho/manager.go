package dialecho

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrTimeout is returned by Wait when no result arrived in time.
	ErrTimeout = errors.New("dialecho: timed out waiting for dial echo")
	// ErrUnknownRequest is returned by Wait for ids never issued or already retired.
	ErrUnknownRequest = errors.New("dialecho: unknown or retired request")
)

// Manager correlates a mobile origination with the leg the mobile device
// actually answers.
//
// Each request id is single-use: it is issued by NewRequest, resolved at
// most once by Resolve, and retired by the single Wait (on result, timeout
// or cancellation). A retired id never blocks again.
type Manager struct {
	mu      sync.Mutex
	pending map[string]chan string
	newID   func() string
}

func NewManager() *Manager {
	return &Manager{
		pending: make(map[string]chan string),
		newID:   uuid.NewString,
	}
}

// NewRequest issues a fresh request id. Resolve may be called for it
// before Wait starts; the result is kept until Wait consumes it.
func (m *Manager) NewRequest() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.newID()
	m.pending[id] = make(chan string, 1)
	return id
}

// Wait blocks until the request is resolved, the timeout elapses, or ctx is
// done. The request id is retired whatever the outcome.
func (m *Manager) Wait(ctx context.Context, requestID string, timeout time.Duration) (string, error) {
	m.mu.Lock()
	result, ok := m.pending[requestID]
	m.mu.Unlock()
	if !ok {
		return "", ErrUnknownRequest
	}
	defer m.retire(requestID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case channelID := <-result:
		return channelID, nil
	case <-timer.C:
		return "", ErrTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Resolve delivers the answered channel id for a pending request. It
// reports false when the id is unknown, retired, or already resolved.
func (m *Manager) Resolve(requestID, channelID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	result, ok := m.pending[requestID]
	if !ok {
		return false
	}
	select {
	case result <- channelID:
		return true
	default:
		return false
	}
}

// Pending returns the number of requests not yet retired.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Cancel retires a request that will never be waited for.
func (m *Manager) Cancel(requestID string) {
	m.retire(requestID)
}

func (m *Manager) retire(requestID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, requestID)
}
