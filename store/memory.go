package store

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"cellgrid/task"
)

type memCollection struct {
	record collectionRecord
	states map[task.Key][]byte
	plan   *task.Plan
}

// MemoryStore keeps everything in process. States are held in their encoded
// form so a reload behaves the same as with the SQL backends.
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string]*memCollection
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memCollection)}
}

func (s *MemoryStore) entry(id string) *memCollection {
	e, ok := s.collections[id]
	if !ok {
		e = &memCollection{record: collectionRecord{ID: id}, states: make(map[task.Key][]byte)}
		s.collections[id] = e
	}
	return e
}

func (s *MemoryStore) SaveCollection(_ context.Context, c *task.Collection) error {
	rec, err := encodeCollection(c)
	if err != nil {
		return err
	}
	rec.UpdatedAt = time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(c.ID).record = rec
	return nil
}

func (s *MemoryStore) SaveState(_ context.Context, collectionID string, key task.Key, st task.State) error {
	data, err := encodeState(st)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(collectionID)
	e.states[key] = data
	e.record.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) DeleteState(_ context.Context, collectionID string, key task.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.collections[collectionID]; ok {
		delete(e.states, key)
	}
	return nil
}

func (s *MemoryStore) DeleteTask(_ context.Context, collectionID, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.collections[collectionID]; ok {
		maps.DeleteFunc(e.states, func(k task.Key, _ []byte) bool { return k.TaskID == taskID })
	}
	return nil
}

func (s *MemoryStore) SavePlan(_ context.Context, collectionID string, plan *task.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *plan
	cp.Groups = slices.Clone(plan.Groups)
	s.entry(collectionID).plan = &cp
	return nil
}

func (s *MemoryStore) LoadPlan(_ context.Context, collectionID string) (*task.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.collections[collectionID]
	if !ok {
		return nil, ErrNotFound
	}
	if e.plan == nil {
		return nil, nil
	}
	cp := *e.plan
	return &cp, nil
}

func (s *MemoryStore) LoadCollection(_ context.Context, collectionID string) (*task.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.collections[collectionID]
	if !ok {
		return nil, ErrNotFound
	}
	c, err := e.record.collection()
	if err != nil {
		return nil, err
	}
	for k, data := range e.states {
		if err := restoreState(c, k, data); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (s *MemoryStore) ListCollections(_ context.Context) ([]CollectionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []CollectionInfo
	for _, e := range s.collections {
		info, err := e.record.info()
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
