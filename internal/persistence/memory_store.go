package persistence

import (
	"context"
	"sync"

	"github.com/petrijr/taskrun/pkg/api"
)

// InMemoryStore is a simple, goroutine-safe TaskStore backed by a map.
// Records are cloned on the way in and out.
type InMemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*api.TaskRecord
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		tasks: make(map[string]*api.TaskRecord),
	}
}

// Ensure InMemoryStore implements TaskStore.
var _ TaskStore = (*InMemoryStore)(nil)

func (s *InMemoryStore) CreateTask(ctx context.Context, rec *api.TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[rec.ID]; ok {
		return ErrTaskExists
	}
	s.tasks[rec.ID] = rec.Clone()
	return nil
}

func (s *InMemoryStore) GetTask(ctx context.Context, id string) (*api.TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.tasks[id]
	if !ok {
		return nil, api.ErrTaskNotFound
	}
	return rec.Clone(), nil
}

func (s *InMemoryStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*api.TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*api.TaskRecord, 0, len(s.tasks))
	for _, rec := range s.tasks {
		if filter.Match(rec) {
			result = append(result, rec.Clone())
		}
	}
	sortTasks(result)
	return result, nil
}

// Transition holds the write lock across read, validation and write, which
// makes it trivially a conditional update.
func (s *InMemoryStore) Transition(ctx context.Context, id string, tr Transition) (*api.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tasks[id]
	if !ok {
		return nil, api.ErrTaskNotFound
	}
	next := rec.Clone()
	if err := applyTransition(next, tr); err != nil {
		return nil, err
	}
	s.tasks[id] = next
	return next.Clone(), nil
}

func (s *InMemoryStore) AppendError(ctx context.Context, id string, e api.TaskError) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tasks[id]
	if !ok {
		return api.ErrTaskNotFound
	}
	rec.Errors = append(rec.Errors, e)
	return nil
}
