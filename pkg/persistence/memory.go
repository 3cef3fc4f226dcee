package persistence

import (
	"strings"
	"sync"
)

type MemoryService struct {
	mu    sync.Mutex
	Slots map[string]interface{}
}

func NewMemoryService() *MemoryService {
	return &MemoryService{
		Slots: make(map[string]interface{}),
	}
}

func (s *MemoryService) NewStore(id string, subIDs ...string) Store {
	if len(subIDs) > 0 {
		id += ":" + strings.Join(subIDs, ":")
	}

	return &MemoryStore{
		Key:     id,
		service: s,
	}
}

type MemoryStore struct {
	Key     string
	service *MemoryService
}

func (store *MemoryStore) Save(val interface{}) error {
	store.service.mu.Lock()
	defer store.service.mu.Unlock()

	store.service.Slots[store.Key] = val
	return nil
}

func (store *MemoryStore) Load(val interface{}) error {
	store.service.mu.Lock()
	defer store.service.mu.Unlock()

	v, ok := store.service.Slots[store.Key]
	if !ok {
		return ErrPersistenceNotExists
	}

	b, ok2 := v.([]byte)
	if ok2 {
		return jsonUnmarshal(b, val)
	}

	return assign(v, val)
}

func (store *MemoryStore) Reset() error {
	store.service.mu.Lock()
	defer store.service.mu.Unlock()

	delete(store.service.Slots, store.Key)
	return nil
}
