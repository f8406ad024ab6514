package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tpoms/internal/api/handlers"
	"tpoms/internal/api/middleware"
	"tpoms/internal/repository"
	"tpoms/internal/websocket"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	Manager  handlers.AdapterManager
	Entities repository.EntityStore
	Journal  handlers.EventJournal // nil без БД

	Hub           *websocket.Hub
	OriginChecker *websocket.OriginChecker

	AdminTokenHash string
	AllowedOrigins []string
	StartTimeout   time.Duration
	Logger         *zap.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /health - проверка живости (без auth)
// /metrics - Prometheus (без auth)
//
// /api/v1/ (auth)
//
//	├── /adapters/
//	│   ├── GET / - список адаптеров
//	│   └── GET /{id} - состояние адаптера
//	├── /entities/{id}/
//	│   ├── POST /start - запустить адаптер
//	│   ├── POST /stop - остановить адаптер
//	│   ├── POST /restart - перезапустить адаптер
//	│   ├── GET /events - последние события (при наличии БД)
//	│   └── GET /orders/{localId}/events - история ордера (при наличии БД)
//	└── POST /commands - команда шины через HTTP
//
// /ws/stream (auth) - копия исходящих сообщений шины и смены состояний
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. Auth (только для защищенных маршрутов)
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.Logging(deps.Logger))
	router.Use(middleware.CORS(deps.AllowedOrigins))

	// preflight отвечает CORS middleware, маршрут нужен только для совпадения
	router.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	auth := middleware.Auth(deps.AdminTokenHash)

	// API v1 routes
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(auth)

	if deps.Manager != nil {
		adapterHandler := handlers.NewAdapterHandler(deps.Manager, deps.Entities, deps.StartTimeout)
		api.HandleFunc("/adapters", adapterHandler.GetAdapters).Methods("GET")
		api.HandleFunc("/adapters/{id}", adapterHandler.GetAdapter).Methods("GET")
		if deps.Entities != nil {
			api.HandleFunc("/entities/{id}/start", adapterHandler.StartEntity).Methods("POST")
			api.HandleFunc("/entities/{id}/restart", adapterHandler.RestartEntity).Methods("POST")
		}
		api.HandleFunc("/entities/{id}/stop", adapterHandler.StopEntity).Methods("POST")

		commandHandler := handlers.NewCommandHandler(deps.Manager)
		api.HandleFunc("/commands", commandHandler.SubmitCommand).Methods("POST")
	}

	if deps.Journal != nil {
		eventHandler := handlers.NewEventHandler(deps.Journal)
		api.HandleFunc("/entities/{id}/events", eventHandler.GetRecentEvents).Methods("GET")
		api.HandleFunc("/entities/{id}/orders/{localId}/events", eventHandler.GetOrderEvents).Methods("GET")
	}

	// WebSocket route
	if deps.Hub != nil {
		router.Handle("/ws/stream", auth(websocket.ServeWS(deps.Hub, deps.OriginChecker)))
	}

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
