package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"fleetlink/engine"
	"fleetlink/health"
	"fleetlink/vda5050"
)

// apiHealth is the liveness probe: always 200, body reflects the degraded
// state instead of the status code so load balancers keep routing to a
// controller that is merely disconnected from the broker.
func (h *Handlers) apiHealth(w http.ResponseWriter, r *http.Request) {
	st := h.engine.GetStatus()
	h.jsonOK(w, map[string]any{
		"status":    healthWord(st),
		"connected": st.Connected,
		"circuit":   st.CircuitState,
	})
}

func healthWord(st engine.Status) string {
	switch {
	case st.Operational:
		return "ok"
	case st.Connected:
		return "degraded"
	default:
		return "disconnected"
	}
}

func (h *Handlers) apiStatus(w http.ResponseWriter, r *http.Request) {
	h.jsonOK(w, h.engine.GetStatus())
}

func (h *Handlers) apiHealthHistory(w http.ResponseWriter, r *http.Request) {
	history := h.engine.HealthHistory()
	if history == nil {
		history = []health.CheckResult{}
	}
	h.jsonOK(w, history)
}

func (h *Handlers) apiListRobots(w http.ResponseWriter, r *http.Request) {
	h.jsonOK(w, h.engine.Robots())
}

func (h *Handlers) apiGetRobot(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")
	snap, ok := h.engine.Robot(serial)
	if !ok {
		h.jsonError(w, "unknown robot", http.StatusNotFound)
		return
	}
	h.jsonOK(w, map[string]any{
		"robot":  snap,
		"online": h.engine.IsRobotOnline(serial),
	})
}

func (h *Handlers) apiRobotEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.engine.RobotEventsBySerial(chi.URLParam(r, "serial"), queryLimit(r, 100))
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, events)
}

func (h *Handlers) apiListOrders(w http.ResponseWriter, r *http.Request) {
	entries, err := h.engine.OrderLog(queryLimit(r, 100))
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, entries)
}

func (h *Handlers) apiOrderDispatches(w http.ResponseWriter, r *http.Request) {
	entries, err := h.engine.OrderDispatches(chi.URLParam(r, "orderID"))
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, entries)
}

// apiPublishAssignment accepts a transport plan and dispatches the mapped
// order. A queued (not yet delivered) order is still a 202 with its id; the
// caller can watch the dispatch log.
func (h *Handlers) apiPublishAssignment(w http.ResponseWriter, r *http.Request) {
	var plan vda5050.AssignmentPlan
	if err := json.NewDecoder(r.Body).Decode(&plan); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	orderID, err := h.engine.PublishAssignment(plan)
	if err != nil {
		h.commandError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"orderId": orderID})
}

func (h *Handlers) apiEmergencyStop(w http.ResponseWriter, r *http.Request) {
	h.runCommand(w, h.engine.PublishEmergencyStop(chi.URLParam(r, "serial")))
}

func (h *Handlers) apiResume(w http.ResponseWriter, r *http.Request) {
	h.runCommand(w, h.engine.PublishResume(chi.URLParam(r, "serial")))
}

func (h *Handlers) apiCancelOrder(w http.ResponseWriter, r *http.Request) {
	h.runCommand(w, h.engine.PublishCancelOrder(chi.URLParam(r, "serial")))
}

func (h *Handlers) apiSubscribeRobot(w http.ResponseWriter, r *http.Request) {
	// A false return means the filters are registered but the broker session
	// is down; they activate on reconnect.
	if h.engine.SubscribeRobot(chi.URLParam(r, "serial")) {
		h.jsonOK(w, map[string]string{"status": "ok"})
		return
	}
	h.jsonOK(w, map[string]string{"status": "pending"})
}

func (h *Handlers) runCommand(w http.ResponseWriter, err error) {
	if err != nil {
		h.commandError(w, err)
		return
	}
	h.jsonOK(w, map[string]string{"status": "ok"})
}

func (h *Handlers) commandError(w http.ResponseWriter, err error) {
	if errors.Is(err, engine.ErrCircuitOpen) {
		h.jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	h.jsonError(w, err.Error(), http.StatusBadRequest)
}

func queryLimit(r *http.Request, def int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func (h *Handlers) jsonOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (h *Handlers) jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
