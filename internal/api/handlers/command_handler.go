package handlers

import (
	"errors"
	"io"
	"net/http"

	"tpoms/internal/adapter"
	"tpoms/internal/bus"
)

// CommandHandler принимает команды шины через HTTP
//
// Тело запроса - тот же конверт, что и в канале запросов:
//
//	{"Action": "PLACE_ORDER", "UserId": "E1", "Data": {...}}
//
// Ответ приходит не в HTTP, а в канал ответов шины.
type CommandHandler struct {
	manager AdapterManager
}

// NewCommandHandler создает новый CommandHandler
func NewCommandHandler(manager AdapterManager) *CommandHandler {
	return &CommandHandler{manager: manager}
}

// SubmitCommand ставит команду в очередь адаптера
// POST /api/v1/commands
//
// Ответы:
// - 202 Accepted: команда в очереди
// - 400 Bad Request: некорректный конверт
// - 404 Not Found: адаптер UserId не запущен
// - 409 Conflict: адаптер останавливается
// - 503 Service Unavailable: очередь адаптера заполнена
func (h *CommandHandler) SubmitCommand(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	cmd, err := bus.DecodeCommand(body)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid command", err.Error())
		return
	}
	bus.CountCommand(cmd.Action)

	if err := h.manager.Dispatch(cmd); err != nil {
		switch {
		case errors.Is(err, adapter.ErrAdapterNotFound):
			respondWithError(w, http.StatusNotFound, "Adapter not found", cmd.UserID)
		case errors.Is(err, adapter.ErrStopped):
			respondWithError(w, http.StatusConflict, "Adapter is stopping", cmd.UserID)
		case errors.Is(err, adapter.ErrQueueFull):
			respondWithError(w, http.StatusServiceUnavailable, "Command queue is full", "Retry later")
		default:
			respondWithError(w, http.StatusInternalServerError, "Failed to dispatch command", err.Error())
		}
		return
	}

	respondWithJSON(w, http.StatusAccepted, SuccessResponse{
		Message: "Command queued",
		Data: map[string]string{
			"action": cmd.Action,
			"entity": cmd.UserID,
		},
	})
}
