package tracker

import (
	"context"
	"sort"
	"sync"

	"dev/bravebird/form-submitter/pkg/models"
)

// MemoryStore keeps records in process memory. Used for dry runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]models.SubmissionRecord
	owner   string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]models.SubmissionRecord)}
}

func (s *MemoryStore) Load(_ context.Context, key string) (*models.SubmissionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryStore) Create(_ context.Context, rec *models.SubmissionRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.TargetKey]; ok {
		return false, nil
	}
	s.records[rec.TargetKey] = *rec
	return true, nil
}

func (s *MemoryStore) Swap(_ context.Context, rec *models.SubmissionRecord, expected int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[rec.TargetKey]
	if !ok || cur.Version != expected {
		return false, nil
	}
	s.records[rec.TargetKey] = *rec
	return true, nil
}

func (s *MemoryStore) List(_ context.Context) ([]models.SubmissionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.SubmissionRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetKey < out[j].TargetKey })
	return out, nil
}

func (s *MemoryStore) Acquire(_ context.Context, owner string) (ReleaseFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.owner != "" {
		return nil, ErrLocked
	}
	s.owner = owner
	return func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.owner == owner {
			s.owner = ""
		}
		return nil
	}, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
