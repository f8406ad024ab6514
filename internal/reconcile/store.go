// Package reconcile сверяет состояние ордеров брокера с локальными ордерами
// и решает, какие переходы публиковать на шину.
package reconcile

import (
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"tpoms/internal/models"
)

// Ошибки хранилища
var (
	ErrSnapshotNotFound = errors.New("order snapshot not found")
	ErrIdentityNotFound = errors.New("broker order id not found")
)

// DefaultParkedPerOrder - сколько неразрешённых обновлений держим на один broker id
const DefaultParkedPerOrder = 16

// Origin - откуда взялось соответствие LocalOrderId -> BrokerOrderId
type Origin string

const (
	OriginREST Origin = "rest" // ответ REST на размещение/изменение
	OriginTag  Origin = "tag"  // выучено по корреляционному тегу из feed
)

// Snapshot - последнее известное состояние ордера
type Snapshot struct {
	Request       models.OrderRequest  // итоговые поля запроса (после подтверждённых modify)
	Proposed      *models.OrderRequest // принятый брокером, но не подтверждённый modify
	BrokerOrderID string

	// Последний опубликованный статус и наблюдавшиеся у брокера значения
	Status         models.OrderStatus
	Acked          bool
	Price          float64
	TriggerPrice   float64
	Quantity       int64
	ObservedFilled int64

	FilledQuantity  int64
	PendingQuantity int64
	AveragePrice    float64

	ExchangeOrderID string
	LastModified    string // timestamp брокера для optimistic-concurrency modify
	OrderTime       string
	ExchangeTime    string
	Reason          string
}

// PendingEntry - ордер с неподтверждённым действием
type PendingEntry struct {
	LocalID string
	Action  models.PendingAction
}

// Store - карта идентификаторов и кэш снимков одного entity
//
// Отдельные операции потокобезопасны. Последовательности read-modify-write
// сериализует Engine своим мьютексом.
type Store struct {
	mu sync.RWMutex

	byLocal   map[string]string // local -> текущий broker id
	byBroker  map[string]string // broker id -> local (старые id тоже остаются)
	origins   map[string]Origin // broker id -> источник соответствия
	snapshots map[string]*Snapshot
	pending   map[string]models.PendingAction

	tags      map[string]string // тег -> local
	ambiguous map[string]bool   // теги, совпавшие у нескольких local после обрезки

	parked    map[string][]*models.OrderUpdate
	parkedCap int

	logger *zap.Logger
}

// NewStore создаёт пустое хранилище
func NewStore(parkedCap int, logger *zap.Logger) *Store {
	if parkedCap <= 0 {
		parkedCap = DefaultParkedPerOrder
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		byLocal:   make(map[string]string),
		byBroker:  make(map[string]string),
		origins:   make(map[string]Origin),
		snapshots: make(map[string]*Snapshot),
		pending:   make(map[string]models.PendingAction),
		tags:      make(map[string]string),
		ambiguous: make(map[string]bool),
		parked:    make(map[string][]*models.OrderUpdate),
		parkedCap: parkedCap,
		logger:    logger,
	}
}

// RecordPlacement сохраняет соответствие из ответа REST
// Повторный вызов с той же парой ничего не меняет. Новый broker id
// для известного local перезаписывает текущий, старый продолжает разрешаться.
func (s *Store) RecordPlacement(localID, brokerID string) {
	s.record(localID, brokerID, OriginREST)
}

// RecordLearned сохраняет соответствие, выученное по тегу
func (s *Store) RecordLearned(localID, brokerID string) {
	s.record(localID, brokerID, OriginTag)
}

func (s *Store) record(localID, brokerID string, origin Origin) {
	if localID == "" || brokerID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists := s.byLocal[localID]
	if exists && old == brokerID {
		// REST подтверждает выученное по тегу соответствие
		if origin == OriginREST {
			s.origins[brokerID] = OriginREST
		}
		return
	}
	if exists {
		s.logger.Warn("broker order id overwritten",
			zap.String("local_id", localID),
			zap.String("old_broker_id", old),
			zap.String("new_broker_id", brokerID),
			zap.String("origin", string(origin)))
	}

	if prev, ok := s.byBroker[brokerID]; ok && prev != localID {
		s.logger.Warn("broker order id remapped to another local order",
			zap.String("broker_id", brokerID),
			zap.String("old_local_id", prev),
			zap.String("new_local_id", localID))
		if s.byLocal[prev] == brokerID {
			delete(s.byLocal, prev)
		}
	}

	s.byLocal[localID] = brokerID
	s.byBroker[brokerID] = localID
	s.origins[brokerID] = origin

	if snap, ok := s.snapshots[localID]; ok {
		snap.BrokerOrderID = brokerID
	}
}

// LookupBroker возвращает текущий broker id для local
func (s *Store) LookupBroker(localID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byLocal[localID]
	return id, ok
}

// LookupLocal возвращает local для broker id
func (s *Store) LookupLocal(brokerID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byBroker[brokerID]
	return id, ok
}

// OriginOf сообщает, как было получено соответствие для broker id
func (s *Store) OriginOf(brokerID string) (Origin, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.origins[brokerID]
	return o, ok
}

// PutSnapshot сохраняет копию снимка
func (s *Store) PutSnapshot(localID string, snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byLocal[localID]; ok && snap.BrokerOrderID == "" {
		snap.BrokerOrderID = id
	}
	s.snapshots[localID] = &snap
}

// GetSnapshot возвращает копию снимка
func (s *Store) GetSnapshot(localID string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[localID]
	if !ok {
		return Snapshot{}, false
	}
	return *snap, true
}

// SetPendingAction помечает действие как ожидающее подтверждения
func (s *Store) SetPendingAction(localID string, action models.PendingAction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if action == models.ActionNone {
		delete(s.pending, localID)
		return
	}
	s.pending[localID] = action
}

// ClearPendingAction снимает отметку ожидания
func (s *Store) ClearPendingAction(localID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, localID)
}

// PendingAction возвращает ожидающее действие или ActionNone
func (s *Store) PendingAction(localID string) models.PendingAction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending[localID]
}

// HasPending - есть ли хоть одно неподтверждённое действие
func (s *Store) HasPending() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending) > 0
}

// PendingEntries возвращает ожидающие действия, упорядоченные по local id
func (s *Store) PendingEntries() []PendingEntry {
	s.mu.RLock()
	entries := make([]PendingEntry, 0, len(s.pending))
	for id, action := range s.pending {
		entries = append(entries, PendingEntry{LocalID: id, Action: action})
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].LocalID < entries[j].LocalID })
	return entries
}

// RegisterTag запоминает корреляционный тег local ордера
// Если обрезанный тег уже принадлежит другому local, тег становится
// неоднозначным и больше не используется для автоматического сопоставления.
func (s *Store) RegisterTag(tag, localID string) {
	if tag == "" || localID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ambiguous[tag] {
		return
	}
	if prev, ok := s.tags[tag]; ok && prev != localID {
		s.logger.Warn("correlation tag collision, auto-learning disabled for tag",
			zap.String("tag", tag),
			zap.String("local_id", localID),
			zap.String("other_local_id", prev))
		delete(s.tags, tag)
		s.ambiguous[tag] = true
		return
	}
	s.tags[tag] = localID
}

// LocalForTag возвращает local по тегу
func (s *Store) LocalForTag(tag string) (string, bool) {
	if tag == "" {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.tags[tag]
	return id, ok
}

// Park откладывает неразрешённое обновление до появления соответствия
// Возвращает false, если лимит для broker id исчерпан.
func (s *Store) Park(u *models.OrderUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := s.parked[u.BrokerOrderID]
	if len(queue) >= s.parkedCap {
		return false
	}
	s.parked[u.BrokerOrderID] = append(queue, u)
	return true
}

// TakeParked забирает отложенные обновления: каждое отдаётся ровно один раз
func (s *Store) TakeParked(brokerID string) []*models.OrderUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := s.parked[brokerID]
	delete(s.parked, brokerID)
	return queue
}

// ParkedCount - число отложенных обновлений
func (s *Store) ParkedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, q := range s.parked {
		n += len(q)
	}
	return n
}

// Stats - размеры хранилища для API
type Stats struct {
	Orders  int `json:"orders"`
	Mapped  int `json:"mapped"`
	Pending int `json:"pending"`
	Parked  int `json:"parked"`
}

// Stats возвращает размеры хранилища
func (s *Store) Stats() Stats {
	parked := s.ParkedCount()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Orders:  len(s.snapshots),
		Mapped:  len(s.byLocal),
		Pending: len(s.pending),
		Parked:  parked,
	}
}
