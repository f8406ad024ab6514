package bus

import (
	"context"
	"sync"
)

const (
	memorySubscriberBuffer = 256

	// DefaultMemoryHistory - сколько последних сообщений канала помнит MemoryBus
	DefaultMemoryHistory = 1024
)

type memorySub struct {
	ch   chan []byte
	done <-chan struct{}
}

// MemoryBus - шина внутри процесса для локального запуска и тестов
//
// Каждый подписчик получает свою очередь и горутину доставки, поэтому
// handler может публиковать в шину, не блокируя издателя.
// Последние historyLimit сообщений каждого канала доступны через Messages.
type MemoryBus struct {
	mu           sync.RWMutex
	subs         map[string][]*memorySub
	history      map[string][][]byte
	historyLimit int
	closed       bool
	done         chan struct{}
}

// NewMemoryBus создаёт пустую шину с историей DefaultMemoryHistory
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs:         make(map[string][]*memorySub),
		history:      make(map[string][][]byte),
		historyLimit: DefaultMemoryHistory,
		done:         make(chan struct{}),
	}
}

// SetHistoryLimit меняет глубину истории; 0 отключает её
func (m *MemoryBus) SetHistoryLimit(n int) *MemoryBus {
	if n < 0 {
		n = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.historyLimit = n
	for channel, h := range m.history {
		m.history[channel] = trimHistory(h, n)
	}
	return m
}

// trimHistory оставляет последние limit сообщений
func trimHistory(h [][]byte, limit int) [][]byte {
	if len(h) <= limit {
		return h
	}
	if limit == 0 {
		return nil
	}
	return h[len(h)-limit:]
}

// Publish доставляет копию сообщения всем подписчикам канала
func (m *MemoryBus) Publish(ctx context.Context, channel string, payload []byte) error {
	msg := make([]byte, len(payload))
	copy(msg, payload)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.historyLimit > 0 {
		m.history[channel] = trimHistory(append(m.history[channel], msg), m.historyLimit)
	}
	subs := append([]*memorySub(nil), m.subs[channel]...)
	m.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- msg:
		case <-s.done:
		case <-m.done:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe регистрирует handler до отмены ctx
func (m *MemoryBus) Subscribe(ctx context.Context, channel string, handler Handler) error {
	s := &memorySub{
		ch:   make(chan []byte, memorySubscriberBuffer),
		done: ctx.Done(),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.subs[channel] = append(m.subs[channel], s)
	m.mu.Unlock()

	go func() {
		defer m.unsubscribe(channel, s)
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.done:
				return
			case msg := <-s.ch:
				handler(msg)
			}
		}
	}()
	return nil
}

func (m *MemoryBus) unsubscribe(channel string, s *memorySub) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subs[channel]
	for i, candidate := range subs {
		if candidate == s {
			m.subs[channel] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Messages возвращает последние сообщения, опубликованные в канал
func (m *MemoryBus) Messages(channel string) [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]byte, len(m.history[channel]))
	copy(out, m.history[channel])
	return out
}

// Close останавливает доставку
func (m *MemoryBus) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}
