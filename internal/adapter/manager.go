package adapter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"tpoms/internal/broker"
	"tpoms/internal/bus"
	"tpoms/internal/models"
	"tpoms/pkg/utils"
)

// Ошибки менеджера
var (
	ErrAdapterNotFound = errors.New("adapter not found")
	ErrAlreadyRunning  = errors.New("adapter already running")
)

// Factory создаёт адаптер для entity
type Factory func(entity models.Entity) (*Adapter, error)

// Dependencies - общие зависимости всех адаптеров процесса
type Dependencies struct {
	Bus             bus.Bus
	ResponseChannel string
	Journal         bus.Journal // может быть nil
	Stream          bus.Stream  // может быть nil
	BrokerOptions   broker.Options
	Config          Config
	OnState         StateListener
	Logger          *zap.Logger
}

// NewFactory собирает клиента брокера, издателя и адаптер одного entity
func NewFactory(deps Dependencies) Factory {
	return func(entity models.Entity) (*Adapter, error) {
		if !broker.IsSupported(entity.Broker) {
			return nil, fmt.Errorf("%w: %s", broker.ErrUnsupportedBroker, entity.Broker)
		}
		name := broker.NormalizeName(entity.Broker)
		entity.Broker = name

		opts := deps.BrokerOptions
		opts.Logger = utils.EntityLogger(deps.Logger, name, entity.ID, "broker")
		client, err := broker.NewBroker(name, entity.Credentials, opts)
		if err != nil {
			return nil, err
		}

		pubLogger := utils.EntityLogger(deps.Logger, name, entity.ID, "bus")
		pub := bus.NewPublisher(deps.Bus, deps.ResponseChannel, bus.NewFormatter(name, entity.ID), pubLogger)
		if deps.Journal != nil {
			pub.WithJournal(deps.Journal)
		}
		if deps.Stream != nil {
			pub.WithStream(deps.Stream)
		}

		a, err := New(entity, client, pub, deps.Config, deps.Logger)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		if deps.OnState != nil {
			a.OnStateChange(deps.OnState)
		}
		return a, nil
	}
}

// Manager владеет адаптерами процесса и маршрутизирует команды шины по UserId
type Manager struct {
	mu       sync.RWMutex
	adapters map[string]*Adapter
	factory  Factory
	logger   *zap.Logger
}

// NewManager создаёт менеджер
func NewManager(factory Factory, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		adapters: make(map[string]*Adapter),
		factory:  factory,
		logger:   logger.With(zap.String("component", "manager")),
	}
}

// Start создаёт и запускает адаптер entity
//
// Адаптер с ошибкой входа остаётся зарегистрированным в LoginFailed:
// он отвечает отказами на команды, пока entity не перезапустят.
func (m *Manager) Start(ctx context.Context, entity models.Entity) error {
	m.mu.Lock()
	if existing, ok := m.adapters[entity.ID]; ok {
		if !IsTerminal(existing.State()) {
			m.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrAlreadyRunning, entity.ID)
		}
	}

	a, err := m.factory(entity)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("create adapter %s: %w", entity.ID, err)
	}
	m.adapters[entity.ID] = a
	activeAdapters.Set(float64(len(m.adapters)))
	m.mu.Unlock()

	m.logger.Info("starting adapter",
		zap.String("entity", entity.ID),
		zap.String("broker", a.Broker()))

	return a.Start(ctx)
}

// Restart останавливает адаптер entity (если есть) и запускает заново
func (m *Manager) Restart(ctx context.Context, entity models.Entity) error {
	if err := m.Stop(ctx, entity.ID); err != nil && !errors.Is(err, ErrAdapterNotFound) {
		return err
	}
	return m.Start(ctx, entity)
}

// Stop останавливает и удаляет адаптер
func (m *Manager) Stop(ctx context.Context, id string) error {
	m.mu.Lock()
	a, ok := m.adapters[id]
	if ok {
		delete(m.adapters, id)
		activeAdapters.Set(float64(len(m.adapters)))
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrAdapterNotFound, id)
	}
	a.Stop(ctx)
	return nil
}

// StopAll останавливает все адаптеры параллельно
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	adapters := make([]*Adapter, 0, len(m.adapters))
	for id, a := range m.adapters {
		adapters = append(adapters, a)
		delete(m.adapters, id)
	}
	activeAdapters.Set(0)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, a := range adapters {
		wg.Add(1)
		go func(a *Adapter) {
			defer wg.Done()
			a.Stop(ctx)
		}(a)
	}
	wg.Wait()
	m.logger.Info("all adapters stopped", zap.Int("count", len(adapters)))
}

// Get возвращает адаптер по id entity
func (m *Manager) Get(id string) (*Adapter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.adapters[id]
	return a, ok
}

// Info возвращает снимок адаптера entity
func (m *Manager) Info(id string) (Info, bool) {
	a, ok := m.Get(id)
	if !ok {
		return Info{}, false
	}
	return a.Info(), true
}

// List возвращает снимки всех адаптеров, отсортированные по entity
func (m *Manager) List() []Info {
	m.mu.RLock()
	adapters := make([]*Adapter, 0, len(m.adapters))
	for _, a := range m.adapters {
		adapters = append(adapters, a)
	}
	m.mu.RUnlock()

	infos := make([]Info, 0, len(adapters))
	for _, a := range adapters {
		infos = append(infos, a.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Entity < infos[j].Entity })
	return infos
}

// Dispatch ставит разобранную команду в очередь адаптера
func (m *Manager) Dispatch(cmd *models.Command) error {
	a, ok := m.Get(cmd.UserID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrAdapterNotFound, cmd.UserID)
	}
	if cmd.TPOmsName != "" && broker.NormalizeName(cmd.TPOmsName) != a.Broker() {
		// команда другому брокеру с тем же UserId
		m.logger.Debug("command for another broker ignored",
			zap.String("entity", cmd.UserID),
			zap.String("tpoms_name", cmd.TPOmsName))
		return nil
	}
	return a.Submit(cmd)
}

// HandleMessage разбирает сообщение канала запросов и передаёт адаптеру
func (m *Manager) HandleMessage(payload []byte) {
	cmd, err := bus.DecodeCommand(payload)
	if err != nil {
		m.logger.Warn("invalid bus command", zap.Error(err), zap.Int("bytes", len(payload)))
		return
	}
	bus.CountCommand(cmd.Action)

	if err := m.Dispatch(cmd); err != nil {
		m.logger.Warn("command not dispatched",
			zap.String("entity", cmd.UserID),
			zap.String("action", cmd.Action),
			zap.Error(err))
	}
}

// Run подписывает менеджер на канал запросов
func (m *Manager) Run(ctx context.Context, b bus.Bus, channel string) error {
	if channel == "" {
		channel = bus.DefaultRequestChannel
	}
	if err := b.Subscribe(ctx, channel, m.HandleMessage); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	m.logger.Info("listening for commands", zap.String("channel", channel))
	return nil
}
