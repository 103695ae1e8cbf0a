package dedup

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and the gochannel driver,
// where the log itself is not durable either.
type MemoryStore struct {
	mu      sync.Mutex
	records map[memoryKey]*Record
}

type memoryKey struct {
	group      string
	deliveryID string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[memoryKey]*Record)}
}

func (s *MemoryStore) Claim(ctx context.Context, group, deliveryID string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memoryKey{group: group, deliveryID: deliveryID}
	rec, exists := s.records[key]
	if !exists {
		rec = &Record{Group: group, DeliveryID: deliveryID, Status: StatusPending}
		s.records[key] = rec
	}
	if rec.Status != StatusPending {
		return *rec, false, nil
	}
	rec.Attempts++
	rec.LastAttempt = time.Now()
	return *rec, true, nil
}

func (s *MemoryStore) MarkSucceeded(ctx context.Context, group, deliveryID string) error {
	return s.resolve(group, deliveryID, StatusSucceeded)
}

func (s *MemoryStore) MarkFailed(ctx context.Context, group, deliveryID string) error {
	return s.resolve(group, deliveryID, StatusFailed)
}

func (s *MemoryStore) resolve(group, deliveryID string, target Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memoryKey{group: group, deliveryID: deliveryID}
	rec, exists := s.records[key]
	if !exists {
		rec = &Record{Group: group, DeliveryID: deliveryID, Status: StatusPending}
		s.records[key] = rec
	}
	switch rec.Status {
	case StatusPending:
		rec.Status = target
		return nil
	case target:
		return nil
	default:
		return ErrResolved
	}
}

func (s *MemoryStore) Get(ctx context.Context, group, deliveryID string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[memoryKey{group: group, deliveryID: deliveryID}]
	if !exists {
		return Record{}, false, nil
	}
	return *rec, true, nil
}

func (s *MemoryStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, rec := range s.records {
		if rec.Status != StatusPending && rec.LastAttempt.Before(before) {
			delete(s.records, key)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Close() error { return nil }
