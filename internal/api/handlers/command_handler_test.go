package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tpoms/internal/adapter"
	"tpoms/internal/models"
)

// ============ CommandHandler Tests ============

func TestCommandHandler_SubmitCommand(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		setup      func(m *MockManager)
		wantStatus int
	}{
		{
			name:       "queued",
			body:       `{"Action":"get_positions","UserId":"E1","Data":{}}`,
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "invalid json",
			body:       `{"Action":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing user",
			body:       `{"Action":"GET_ORDERS"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown adapter",
			body:       `{"Action":"GET_ORDERS","UserId":"E9"}`,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "queue full",
			body:       `{"Action":"GET_ORDERS","UserId":"E1"}`,
			setup:      func(m *MockManager) { m.dispatchErr = adapter.ErrQueueFull },
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "stopping",
			body:       `{"Action":"GET_ORDERS","UserId":"E1"}`,
			setup:      func(m *MockManager) { m.dispatchErr = adapter.ErrStopped },
			wantStatus: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr := NewMockManager()
			mgr.AddAdapter("E1", models.BrokerMotilal, adapter.StateRunning)
			if tt.setup != nil {
				tt.setup(mgr)
			}
			handler := NewCommandHandler(mgr)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/commands", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			handler.SubmitCommand(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
		})
	}
}

func TestCommandHandler_NormalizesAction(t *testing.T) {
	mgr := NewMockManager()
	mgr.AddAdapter("E1", models.BrokerMotilal, adapter.StateRunning)
	handler := NewCommandHandler(mgr)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/commands",
		strings.NewReader(`{"Action":" place_order ","UserId":"E1","Data":{"BlitzAppOrderID":"L1"}}`))
	w := httptest.NewRecorder()
	handler.SubmitCommand(w, req)

	if len(mgr.dispatched) != 1 || mgr.dispatched[0].Action != models.CommandPlaceOrder {
		t.Fatalf("unexpected dispatched commands: %+v", mgr.dispatched)
	}
}

func TestCommandHandler_BodyTooLarge(t *testing.T) {
	handler := NewCommandHandler(NewMockManager())

	body := `{"Action":"GET_ORDERS","UserId":"E1","Data":"` + strings.Repeat("x", MaxRequestBodySize) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/commands", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.SubmitCommand(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}
