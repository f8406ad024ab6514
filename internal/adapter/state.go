package adapter

// State - состояние жизненного цикла адаптера
type State string

const (
	StateCreated     State = "CREATED"
	StateLoggingIn   State = "LOGGING_IN"
	StateReady       State = "READY"
	StateRunning     State = "RUNNING"
	StateStopping    State = "STOPPING"
	StateStopped     State = "STOPPED"
	StateLoginFailed State = "LOGIN_FAILED"
)

// ValidTransitions определяет допустимые переходы между состояниями
var ValidTransitions = map[State][]State{
	StateCreated:     {StateLoggingIn, StateStopping},
	StateLoggingIn:   {StateReady, StateLoginFailed, StateStopping},
	StateReady:       {StateRunning, StateStopping},
	StateRunning:     {StateStopping},
	StateLoginFailed: {StateLoggingIn, StateStopping}, // повторный вход только через перезапуск entity
	StateStopping:    {StateStopped},
	StateStopped:     {},
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to State) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// StateInfo возвращает описание состояния для API
func StateInfo(s State) string {
	switch s {
	case StateCreated:
		return "Адаптер создан"
	case StateLoggingIn:
		return "Вход в аккаунт брокера..."
	case StateReady:
		return "Сессия брокера открыта, запуск фида"
	case StateRunning:
		return "Адаптер принимает команды и сверяет ордера"
	case StateStopping:
		return "Остановка..."
	case StateStopped:
		return "Адаптер остановлен"
	case StateLoginFailed:
		return "Ошибка входа! Команды ордеров отклоняются"
	default:
		return "Неизвестное состояние"
	}
}

// AcceptsOrders возвращает true если команды ордеров уходят брокеру
func AcceptsOrders(s State) bool {
	return s == StateReady || s == StateRunning
}

// IsTerminal - адаптер больше не работает
func IsTerminal(s State) bool {
	return s == StateStopping || s == StateStopped
}
