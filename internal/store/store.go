package store

import (
	"context"
	"sync"

	"github.com/example/ride-client/internal/models"
)

// SessionStore persists the current ride under a single known key so a
// session can be resumed after a restart. It is the only client-side state
// that survives a reload.
type SessionStore interface {
	SaveCurrent(ctx context.Context, r models.RideRecord) error
	// LoadCurrent returns (zero, false, nil) when nothing is persisted.
	LoadCurrent(ctx context.Context) (models.RideRecord, bool, error)
	ClearCurrent(ctx context.Context) error
}

// TripArchive records terminal rides for history/reporting.
type TripArchive interface {
	Archive(ctx context.Context, r models.RideRecord) error
}

// MemoryStore keeps the current ride in process memory. Default when no
// Redis is configured; resume across restarts is then unavailable.
type MemoryStore struct {
	mu      sync.Mutex
	current *models.RideRecord
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) SaveCurrent(_ context.Context, r models.RideRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = &r
	return nil
}

func (m *MemoryStore) LoadCurrent(_ context.Context) (models.RideRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return models.RideRecord{}, false, nil
	}
	return *m.current, true, nil
}

func (m *MemoryStore) ClearCurrent(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
	return nil
}

// NopArchive drops archives; used when no DSN is configured.
type NopArchive struct{}

func (NopArchive) Archive(context.Context, models.RideRecord) error { return nil }
