package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"tpoms/internal/adapter"
	"tpoms/internal/broker"
	"tpoms/internal/models"
	"tpoms/internal/repository"
	"tpoms/pkg/utils"
)

// AdapterManager - операции менеджера адаптеров, нужные панели
type AdapterManager interface {
	List() []adapter.Info
	Info(id string) (adapter.Info, bool)
	Start(ctx context.Context, entity models.Entity) error
	Restart(ctx context.Context, entity models.Entity) error
	Stop(ctx context.Context, id string) error
	Dispatch(cmd *models.Command) error
}

// AdapterHandler управляет адаптерами аккаунтов
//
// Endpoints:
// - GET /api/v1/adapters - список адаптеров и их состояний
// - GET /api/v1/adapters/{id} - один адаптер
// - POST /api/v1/entities/{id}/start - запустить адаптер entity
// - POST /api/v1/entities/{id}/stop - остановить адаптер
// - POST /api/v1/entities/{id}/restart - перезапустить (повторный вход)
type AdapterHandler struct {
	manager  AdapterManager
	entities repository.EntityStore

	// запуск включает вход к брокеру, запрос не должен ждать дольше
	startTimeout time.Duration
	now          func() time.Time
}

// NewAdapterHandler создает новый AdapterHandler
func NewAdapterHandler(manager AdapterManager, entities repository.EntityStore, startTimeout time.Duration) *AdapterHandler {
	if startTimeout <= 0 {
		startTimeout = 90 * time.Second
	}
	return &AdapterHandler{
		manager:      manager,
		entities:     entities,
		startTimeout: startTimeout,
		now:          time.Now,
	}
}

// AdapterResponse - состояние адаптера для панели
type AdapterResponse struct {
	adapter.Info
	Uptime string `json:"uptime,omitempty"`
}

func (h *AdapterHandler) toResponse(info adapter.Info) AdapterResponse {
	resp := AdapterResponse{Info: info}
	if !info.StartedAt.IsZero() && !adapter.IsTerminal(info.State) {
		resp.Uptime = utils.FormatDuration(h.now().Sub(info.StartedAt))
	}
	return resp
}

// GetAdapters возвращает все адаптеры процесса
// GET /api/v1/adapters
func (h *AdapterHandler) GetAdapters(w http.ResponseWriter, r *http.Request) {
	infos := h.manager.List()
	response := make([]AdapterResponse, 0, len(infos))
	for _, info := range infos {
		response = append(response, h.toResponse(info))
	}
	respondWithJSON(w, http.StatusOK, response)
}

// GetAdapter возвращает адаптер одного entity
// GET /api/v1/adapters/{id}
//
// Ответы:
// - 200 OK
// - 404 Not Found: адаптер не запущен
func (h *AdapterHandler) GetAdapter(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	info, ok := h.manager.Info(id)
	if !ok {
		respondWithError(w, http.StatusNotFound, "Adapter not found", id)
		return
	}
	respondWithJSON(w, http.StatusOK, h.toResponse(info))
}

// StartEntity запускает адаптер entity
// POST /api/v1/entities/{id}/start
//
// Ответы:
// - 200 OK: вход выполнен, адаптер работает
// - 404 Not Found: entity не найден
// - 400 Bad Request: брокер не поддерживается
// - 409 Conflict: адаптер уже запущен
// - 502 Bad Gateway: ошибка входа (адаптер остаётся в LOGIN_FAILED)
func (h *AdapterHandler) StartEntity(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, h.manager.Start)
}

// RestartEntity перезапускает адаптер entity
// POST /api/v1/entities/{id}/restart
func (h *AdapterHandler) RestartEntity(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, h.manager.Restart)
}

func (h *AdapterHandler) start(w http.ResponseWriter, r *http.Request, run func(context.Context, models.Entity) error) {
	id := mux.Vars(r)["id"]

	entity, err := h.entities.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrEntityNotFound) {
			respondWithError(w, http.StatusNotFound, "Entity not found", id)
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Failed to load entity", err.Error())
		return
	}

	// адаптер переживает запрос: отменяется только ожидание входа
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.startTimeout)
	defer cancel()

	if err := run(ctx, *entity); err != nil {
		switch {
		case errors.Is(err, adapter.ErrAlreadyRunning):
			respondWithError(w, http.StatusConflict, "Adapter is already running", "Stop it first or use restart")
		case errors.Is(err, broker.ErrUnsupportedBroker):
			respondWithError(w, http.StatusBadRequest, "Unsupported broker", entity.Broker)
		default:
			if info, ok := h.manager.Info(id); ok && info.State == adapter.StateLoginFailed {
				respondWithJSON(w, http.StatusBadGateway, h.toResponse(info))
				return
			}
			respondWithError(w, http.StatusInternalServerError, "Failed to start adapter", err.Error())
		}
		return
	}

	info, _ := h.manager.Info(id)
	respondWithJSON(w, http.StatusOK, h.toResponse(info))
}

// StopEntity останавливает адаптер entity
// POST /api/v1/entities/{id}/stop
//
// Ответы:
// - 200 OK
// - 404 Not Found: адаптер не запущен
func (h *AdapterHandler) StopEntity(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.manager.Stop(r.Context(), id); err != nil {
		if errors.Is(err, adapter.ErrAdapterNotFound) {
			respondWithError(w, http.StatusNotFound, "Adapter not found", id)
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Failed to stop adapter", err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "Adapter stopped", Data: map[string]string{"entity": id}})
}
