// Package ratelimit - лимиты REST вызовов брокера поверх golang.org/x/time/rate.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter - token bucket одной категории
//
// Ведро пополняется со скоростью rate токенов/сек до ёмкости burst,
// каждый запрос забирает один токен.
type Limiter struct {
	limiter *rate.Limiter
}

// New создаёт limiter; rate <= 0 даёт 10 req/sec, burst < rate поднимается до rate
func New(perSecond, burst float64) *Limiter {
	if perSecond <= 0 {
		perSecond = 10
	}
	if burst < perSecond {
		burst = perSecond
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(perSecond), int(burst))}
}

// Wait блокирует до получения токена или отмены контекста
// Если токен не успеет пополниться до дедлайна, Wait не ждёт и возвращает
// ошибку, совместимую с context.DeadlineExceeded.
func (l *Limiter) Wait(ctx context.Context) error {
	err := l.limiter.Wait(ctx)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if _, ok := ctx.Deadline(); ok {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

// Allow забирает токен без ожидания
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// Tokens - текущее количество токенов
func (l *Limiter) Tokens() float64 {
	return l.limiter.TokensAt(time.Now())
}

// Rate - скорость пополнения, токенов/сек
func (l *Limiter) Rate() float64 {
	return float64(l.limiter.Limit())
}

// Burst - ёмкость ведра
func (l *Limiter) Burst() int {
	return l.limiter.Burst()
}

// ============ Категории запросов ============

// Категории REST вызовов брокера
const (
	CategoryOrders  = "orders"  // place / modify / cancel
	CategoryBook    = "book"    // order book, trade book, order details
	CategoryAccount = "account" // holdings, positions
	CategorySession = "session" // login / logout
)

// Group держит отдельный limiter на каждую категорию
type Group struct {
	limiters map[string]*Limiter
	mu       sync.RWMutex
}

// NewGroup создаёт пустую группу; категории без лимита не ограничены
func NewGroup() *Group {
	return &Group{limiters: make(map[string]*Limiter)}
}

// Set задаёт лимит категории
func (g *Group) Set(category string, rate, burst float64) *Group {
	g.mu.Lock()
	g.limiters[category] = New(rate, burst)
	g.mu.Unlock()
	return g
}

// Wait ждёт токен категории
func (g *Group) Wait(ctx context.Context, category string) error {
	if g == nil {
		return nil
	}
	g.mu.RLock()
	l, ok := g.limiters[category]
	g.mu.RUnlock()
	if !ok {
		return nil
	}
	return l.Wait(ctx)
}

// Get возвращает limiter категории или nil
func (g *Group) Get(category string) *Limiter {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.limiters[category]
}

// KiteLimits - лимиты Kite Connect: 10 ордерных запросов/сек, остальное ~3/сек
func KiteLimits() *Group {
	return NewGroup().
		Set(CategoryOrders, 10, 10).
		Set(CategoryBook, 3, 5).
		Set(CategoryAccount, 3, 5).
		Set(CategorySession, 1, 2)
}

// MotilalLimits - консервативные лимиты Motilal OpenAPI
func MotilalLimits() *Group {
	return NewGroup().
		Set(CategoryOrders, 10, 15).
		Set(CategoryBook, 5, 10).
		Set(CategoryAccount, 5, 10).
		Set(CategorySession, 1, 2)
}
