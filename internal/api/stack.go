package api

import (
	"net/http"


	"stackguard/internal/rpc"
	"stackguard/internal/stack"
)

// StackHandler serves read-only views over all units of the stack
type StackHandler struct {
	registry *stack.Registry
	router   *rpc.Router
}

// NewStackHandler creates new stack handler
func NewStackHandler(registry *stack.Registry, router *rpc.Router) *StackHandler {
	return &StackHandler{registry: registry, router: router}
}

type unitSensors struct {
	ID      uint             `json:"id"`
	Name    string           `json:"name"`
	Sensors []rpc.SensorView `json:"sensors"`
	Error   string           `json:"error,omitempty"`
}

// Units lists all units with their health flags
// GET /api/{version}/stack
func (h *StackHandler) Units(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result": true,
		"units":  h.registry.Units(),
	})
}

// Sensors lists the sensors of every active unit. Units that fail to answer
// are listed with an error and no sensors.
// GET /api/{version}/stack/sensors
func (h *StackHandler) Sensors(w http.ResponseWriter, r *http.Request) {
	active := h.registry.ActiveUnits()
	units := make([]unitSensors, 0, len(active))
	for _, u := range active {
		entry := unitSensors{ID: u.ID, Name: u.Name, Sensors: []rpc.SensorView{}}
		sensors, err := h.router.SensorsGet(r.Context(), u.ID)
		if err != nil {
			entry.Error = err.Error()
		} else {
			entry.Sensors = sensors
		}
		units = append(units, entry)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result": true,
		"units":  units,
	})
}
