package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"tpoms/internal/adapter"
	"tpoms/internal/broker"
	"tpoms/internal/models"
)

func withVars(r *http.Request, vars map[string]string) *http.Request {
	return mux.SetURLVars(r, vars)
}

// ============ AdapterHandler Tests ============

func TestAdapterHandler_GetAdapters(t *testing.T) {
	mgr := NewMockManager()
	mgr.AddAdapter("E1", models.BrokerZerodha, adapter.StateRunning)
	handler := NewAdapterHandler(mgr, NewMockEntityStore(), time.Second)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/adapters", nil)
	w := httptest.NewRecorder()
	handler.GetAdapters(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var response []AdapterResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(response) != 1 || response[0].Entity != "E1" || response[0].State != adapter.StateRunning {
		t.Errorf("unexpected response: %+v", response)
	}
}

func TestAdapterHandler_GetAdapter(t *testing.T) {
	mgr := NewMockManager()
	handler := NewAdapterHandler(mgr, NewMockEntityStore(), time.Second)

	t.Run("returns 404 for unknown adapter", func(t *testing.T) {
		req := withVars(httptest.NewRequest(http.MethodGet, "/api/v1/adapters/E9", nil), map[string]string{"id": "E9"})
		w := httptest.NewRecorder()
		handler.GetAdapter(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
		}
	})

	t.Run("returns adapter with uptime", func(t *testing.T) {
		started := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
		mgr.adapters["E1"] = adapter.Info{Entity: "E1", State: adapter.StateRunning, StartedAt: started}
		handler.now = func() time.Time { return started.Add(5*time.Minute + 30*time.Second) }

		req := withVars(httptest.NewRequest(http.MethodGet, "/api/v1/adapters/E1", nil), map[string]string{"id": "E1"})
		w := httptest.NewRecorder()
		handler.GetAdapter(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
		}
		var response AdapterResponse
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response.Uptime != "5m30s" {
			t.Errorf("expected uptime 5m30s, got %q", response.Uptime)
		}
	})
}

func TestAdapterHandler_StartEntity(t *testing.T) {
	entities := NewMockEntityStore(
		models.Entity{ID: "E1", Broker: models.BrokerZerodha, Enabled: true},
		models.Entity{ID: "U1", Broker: "upstox", Enabled: true},
	)

	tests := []struct {
		name       string
		id         string
		setup      func(m *MockManager, s *MockEntityStore)
		wantStatus int
	}{
		{
			name:       "starts adapter",
			id:         "E1",
			wantStatus: http.StatusOK,
		},
		{
			name:       "unknown entity",
			id:         "E9",
			wantStatus: http.StatusNotFound,
		},
		{
			name: "already running",
			id:   "E1",
			setup: func(m *MockManager, _ *MockEntityStore) {
				m.AddAdapter("E1", models.BrokerZerodha, adapter.StateRunning)
			},
			wantStatus: http.StatusConflict,
		},
		{
			name: "unsupported broker",
			id:   "U1",
			setup: func(m *MockManager, _ *MockEntityStore) {
				m.startErr = broker.ErrUnsupportedBroker
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "login failed",
			id:   "E1",
			setup: func(m *MockManager, _ *MockEntityStore) {
				m.loginFails = true
			},
			wantStatus: http.StatusBadGateway,
		},
		{
			name: "store error",
			id:   "E1",
			setup: func(_ *MockManager, s *MockEntityStore) {
				s.err = errMockDatabase
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr := NewMockManager()
			store := &MockEntityStore{StaticEntityStore: entities.StaticEntityStore}
			if tt.setup != nil {
				tt.setup(mgr, store)
			}
			handler := NewAdapterHandler(mgr, store, time.Second)

			req := withVars(httptest.NewRequest(http.MethodPost, "/api/v1/entities/"+tt.id+"/start", nil), map[string]string{"id": tt.id})
			w := httptest.NewRecorder()
			handler.StartEntity(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
		})
	}
}

func TestAdapterHandler_LoginFailedBody(t *testing.T) {
	mgr := NewMockManager()
	mgr.loginFails = true
	handler := NewAdapterHandler(mgr, NewMockEntityStore(models.Entity{ID: "E1", Broker: models.BrokerMotilal}), time.Second)

	req := withVars(httptest.NewRequest(http.MethodPost, "/api/v1/entities/E1/start", nil), map[string]string{"id": "E1"})
	w := httptest.NewRecorder()
	handler.StartEntity(w, req)

	var response AdapterResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.State != adapter.StateLoginFailed {
		t.Errorf("expected LOGIN_FAILED, got %s", response.State)
	}
}

func TestAdapterHandler_RestartEntity(t *testing.T) {
	mgr := NewMockManager()
	mgr.AddAdapter("E1", models.BrokerZerodha, adapter.StateLoginFailed)
	handler := NewAdapterHandler(mgr, NewMockEntityStore(models.Entity{ID: "E1", Broker: models.BrokerZerodha}), time.Second)

	req := withVars(httptest.NewRequest(http.MethodPost, "/api/v1/entities/E1/restart", nil), map[string]string{"id": "E1"})
	w := httptest.NewRecorder()
	handler.RestartEntity(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if info, _ := mgr.Info("E1"); info.State != adapter.StateRunning {
		t.Errorf("expected RUNNING after restart, got %s", info.State)
	}
}

func TestAdapterHandler_StopEntity(t *testing.T) {
	mgr := NewMockManager()
	mgr.AddAdapter("E1", models.BrokerZerodha, adapter.StateRunning)
	handler := NewAdapterHandler(mgr, NewMockEntityStore(), time.Second)

	tests := []struct {
		id         string
		wantStatus int
	}{
		{"E1", http.StatusOK},
		{"E1", http.StatusNotFound},
	}

	for _, tt := range tests {
		req := withVars(httptest.NewRequest(http.MethodPost, "/api/v1/entities/"+tt.id+"/stop", nil), map[string]string{"id": tt.id})
		w := httptest.NewRecorder()
		handler.StopEntity(w, req)

		if w.Code != tt.wantStatus {
			t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
		}
	}
}
