package repository

import (
	"context"
	"fmt"

	"tpoms/internal/models"
)

// EntityStore - источник entity для запуска адаптеров
type EntityStore interface {
	GetByID(ctx context.Context, id string) (*models.Entity, error)
	GetEnabled(ctx context.Context) ([]*models.Entity, error)
}

// StaticEntityStore - entity из конфигурации, когда БД не настроена
type StaticEntityStore struct {
	entities map[string]models.Entity
	order    []string
}

// NewStaticEntityStore создаёт хранилище из списка entity
func NewStaticEntityStore(entities []models.Entity) *StaticEntityStore {
	s := &StaticEntityStore{entities: make(map[string]models.Entity, len(entities))}
	for _, e := range entities {
		if _, ok := s.entities[e.ID]; !ok {
			s.order = append(s.order, e.ID)
		}
		s.entities[e.ID] = e
	}
	return s
}

// GetByID возвращает копию entity
func (s *StaticEntityStore) GetByID(_ context.Context, id string) (*models.Entity, error) {
	e, ok := s.entities[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	return &e, nil
}

// GetEnabled возвращает включённые entity в порядке объявления
func (s *StaticEntityStore) GetEnabled(_ context.Context) ([]*models.Entity, error) {
	out := make([]*models.Entity, 0, len(s.order))
	for _, id := range s.order {
		e := s.entities[id]
		if e.Enabled {
			out = append(out, &e)
		}
	}
	return out, nil
}

var (
	_ EntityStore = (*EntityRepository)(nil)
	_ EntityStore = (*StaticEntityStore)(nil)
)
