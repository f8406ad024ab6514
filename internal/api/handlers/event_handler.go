package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"

	"tpoms/internal/models"
)

// EventJournal - чтение журнала опубликованных OrderLog
type EventJournal interface {
	GetRecent(ctx context.Context, entityID string, limit int) ([]*models.OrderEvent, error)
	GetByOrder(ctx context.Context, entityID, localID string) ([]*models.OrderEvent, error)
}

// EventHandler отдаёт историю событий ордеров
//
// Endpoints:
// - GET /api/v1/entities/{id}/events?limit=100 - последние события entity
// - GET /api/v1/entities/{id}/orders/{localId}/events - история одного ордера
type EventHandler struct {
	journal EventJournal
}

// NewEventHandler создает новый EventHandler
func NewEventHandler(journal EventJournal) *EventHandler {
	return &EventHandler{journal: journal}
}

// EventResponse - запись журнала; payload отдаётся как есть
type EventResponse struct {
	ID          int64               `json:"id"`
	MessageType string              `json:"message_type"`
	LocalID     string              `json:"blitz_app_order_id"`
	BrokerID    string              `json:"exchange_order_id"`
	Status      string              `json:"status"`
	Payload     jsoniter.RawMessage `json:"payload"`
	CreatedAt   string              `json:"created_at"`
}

// GetRecentEvents возвращает последние события entity
// GET /api/v1/entities/{id}/events?limit=100
func (h *EventHandler) GetRecentEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	events, err := h.journal.GetRecent(r.Context(), id, queryInt(r, "limit", 100))
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to get events", err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, toEventResponses(events))
}

// GetOrderEvents возвращает историю одного ордера
// GET /api/v1/entities/{id}/orders/{localId}/events
func (h *EventHandler) GetOrderEvents(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	events, err := h.journal.GetByOrder(r.Context(), vars["id"], vars["localId"])
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to get events", err.Error())
		return
	}
	if len(events) == 0 {
		respondWithError(w, http.StatusNotFound, "Order not found", vars["localId"])
		return
	}
	respondWithJSON(w, http.StatusOK, toEventResponses(events))
}

func toEventResponses(events []*models.OrderEvent) []EventResponse {
	out := make([]EventResponse, 0, len(events))
	for _, e := range events {
		payload := jsoniter.RawMessage(e.Payload)
		if len(payload) == 0 {
			payload = jsoniter.RawMessage("{}")
		}
		out = append(out, EventResponse{
			ID:          e.ID,
			MessageType: e.MessageType,
			LocalID:     e.BlitzAppOrderID,
			BrokerID:    e.ExchangeOrderID,
			Status:      e.Status,
			Payload:     payload,
			CreatedAt:   e.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
		})
	}
	return out
}
