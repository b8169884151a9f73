// Package httpapi serves the operations API: controller status, the live
// fleet picture, the dispatch log, manual robot commands, and an SSE stream
// bridged from the engine event bus.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"fleetlink/engine"
	"fleetlink/metric"
)

type Handlers struct {
	engine   *engine.Engine
	eventHub *EventHub
	log      *slog.Logger
}

// NewRouter wires the handlers and the SSE hub. The returned stop function
// shuts the hub down; call it before the http.Server itself.
func NewRouter(eng *engine.Engine, m *metric.Metrics, log *slog.Logger) (http.Handler, func()) {
	if log == nil {
		log = slog.Default()
	}
	hub := NewEventHub(log)
	hub.Start()
	hub.BridgeEngineEvents(eng)

	h := &Handlers{
		engine:   eng,
		eventHub: hub,
		log:      log,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// SSE
	r.Get("/events", hub.SSEHandler)

	// Prometheus
	if m != nil {
		r.Handle("/metrics", m.Handler())
	}

	// Read API
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.apiHealth)
		r.Get("/status", h.apiStatus)
		r.Get("/health/history", h.apiHealthHistory)
		r.Get("/robots", h.apiListRobots)
		r.Get("/robots/{serial}", h.apiGetRobot)
		r.Get("/robots/{serial}/events", h.apiRobotEvents)
		r.Get("/orders", h.apiListOrders)
		r.Get("/orders/{orderID}/dispatches", h.apiOrderDispatches)
	})

	// Command API
	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Post("/api/orders", h.apiPublishAssignment)
		r.Post("/api/robots/{serial}/stop", h.apiEmergencyStop)
		r.Post("/api/robots/{serial}/resume", h.apiResume)
		r.Post("/api/robots/{serial}/cancel-order", h.apiCancelOrder)
		r.Post("/api/robots/{serial}/subscribe", h.apiSubscribeRobot)
	})

	return r, hub.Stop
}
