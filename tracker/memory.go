package tracker

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps records in process memory. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]AdvisoryRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]AdvisoryRecord)}
}

// Upsert merges fields into the record for findingID.
func (s *MemoryStore) Upsert(ctx context.Context, findingID string, fields Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var existing *AdvisoryRecord
	if rec, ok := s.records[findingID]; ok {
		existing = &rec
	}
	s.records[findingID] = Merge(existing, findingID, fields)
	return nil
}

// Get returns a copy of the record for findingID, or nil.
func (s *MemoryStore) Get(ctx context.Context, findingID string) (*AdvisoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[findingID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// List returns all records ordered by finding id.
func (s *MemoryStore) List() []AdvisoryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]AdvisoryRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FindingID < out[j].FindingID })
	return out
}

// IDs returns every tracked finding id.
func (s *MemoryStore) IDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records := s.List()
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.FindingID)
	}
	return ids, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
