package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"tpoms/internal/adapter"
	"tpoms/internal/models"
	"tpoms/internal/repository"
)

var errMockDatabase = errors.New("mock database error")

// ============ Mock Adapter Manager ============

// MockManager мок для AdapterManager
type MockManager struct {
	mu       sync.Mutex
	adapters map[string]adapter.Info

	startErr    error
	stopErr     error
	dispatchErr error

	// loginFails - Start регистрирует адаптер в LOGIN_FAILED и возвращает ошибку
	loginFails bool

	started    []string
	dispatched []*models.Command
}

func NewMockManager() *MockManager {
	return &MockManager{adapters: make(map[string]adapter.Info)}
}

func (m *MockManager) List() []adapter.Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]adapter.Info, 0, len(m.adapters))
	for _, info := range m.adapters {
		out = append(out, info)
	}
	return out
}

func (m *MockManager) Info(id string) (adapter.Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.adapters[id]
	return info, ok
}

func (m *MockManager) Start(_ context.Context, entity models.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	if info, ok := m.adapters[entity.ID]; ok && !adapter.IsTerminal(info.State) {
		return adapter.ErrAlreadyRunning
	}
	m.started = append(m.started, entity.ID)

	state := adapter.StateRunning
	if m.loginFails {
		state = adapter.StateLoginFailed
	}
	m.adapters[entity.ID] = adapter.Info{
		Entity:    entity.ID,
		Broker:    entity.Broker,
		State:     state,
		StateInfo: adapter.StateInfo(state),
		StartedAt: time.Now().Add(-90 * time.Second),
	}
	if m.loginFails {
		return errors.New("login: wrong password")
	}
	return nil
}

func (m *MockManager) Restart(ctx context.Context, entity models.Entity) error {
	m.mu.Lock()
	delete(m.adapters, entity.ID)
	m.mu.Unlock()
	return m.Start(ctx, entity)
}

func (m *MockManager) Stop(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopErr != nil {
		return m.stopErr
	}
	if _, ok := m.adapters[id]; !ok {
		return adapter.ErrAdapterNotFound
	}
	delete(m.adapters, id)
	return nil
}

func (m *MockManager) Dispatch(cmd *models.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dispatchErr != nil {
		return m.dispatchErr
	}
	if _, ok := m.adapters[cmd.UserID]; !ok {
		return adapter.ErrAdapterNotFound
	}
	m.dispatched = append(m.dispatched, cmd)
	return nil
}

func (m *MockManager) AddAdapter(id, brokerName string, state adapter.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adapters[id] = adapter.Info{Entity: id, Broker: brokerName, State: state, StateInfo: adapter.StateInfo(state)}
}

// ============ Mock Entity Store ============

type MockEntityStore struct {
	*repository.StaticEntityStore
	err error
}

func NewMockEntityStore(entities ...models.Entity) *MockEntityStore {
	return &MockEntityStore{StaticEntityStore: repository.NewStaticEntityStore(entities)}
}

func (s *MockEntityStore) GetByID(ctx context.Context, id string) (*models.Entity, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.StaticEntityStore.GetByID(ctx, id)
}

// ============ Mock Event Journal ============

type MockJournal struct {
	events []*models.OrderEvent
	err    error

	lastLimit int
}

func (j *MockJournal) GetRecent(_ context.Context, entityID string, limit int) ([]*models.OrderEvent, error) {
	j.lastLimit = limit
	if j.err != nil {
		return nil, j.err
	}
	out := make([]*models.OrderEvent, 0)
	for _, e := range j.events {
		if e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (j *MockJournal) GetByOrder(_ context.Context, entityID, localID string) ([]*models.OrderEvent, error) {
	if j.err != nil {
		return nil, j.err
	}
	out := make([]*models.OrderEvent, 0)
	for _, e := range j.events {
		if e.EntityID == entityID && e.BlitzAppOrderID == localID {
			out = append(out, e)
		}
	}
	return out, nil
}
