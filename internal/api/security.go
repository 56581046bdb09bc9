package api

import (
	"net/http"

	"go.uber.org/zap"

	"stackguard/internal/rpc"
)

// SecurityHandler serves the inter-unit wire protocol from the local endpoint
type SecurityHandler struct {
	local  rpc.Endpoint
	logger *zap.Logger
}

// NewSecurityHandler creates new security handler
func NewSecurityHandler(local rpc.Endpoint, logger *zap.Logger) *SecurityHandler {
	return &SecurityHandler{local: local, logger: logger}
}

// Handle dispatches on the cmd parameter
// GET /api/{version}/security?cmd=status_get
func (h *SecurityHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cmd := r.URL.Query().Get("cmd")

	switch cmd {
	case rpc.CmdStatusSet:
		armed, ok := parseBool(r, "status")
		if !ok {
			writeFailure(w, "invalid status parameter")
			return
		}
		if err := h.local.StatusSet(ctx, armed); err != nil {
			h.fail(w, cmd, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"result": true})

	case rpc.CmdStatusGet:
		armed, err := h.local.StatusGet(ctx)
		if err != nil {
			h.fail(w, cmd, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"result": true, "status": armed})

	case rpc.CmdAlarmSet:
		active, ok := parseBool(r, "alarm")
		if !ok {
			writeFailure(w, "invalid alarm parameter")
			return
		}
		if err := h.local.AlarmSet(ctx, active); err != nil {
			h.fail(w, cmd, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"result": true})

	case rpc.CmdAlarmGet:
		active, err := h.local.AlarmGet(ctx)
		if err != nil {
			h.fail(w, cmd, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"result": true, "alarm": active})

	case rpc.CmdSensorsGet:
		sensors, err := h.local.SensorsGet(ctx)
		if err != nil {
			h.fail(w, cmd, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"result": true, "sensors": sensors})

	default:
		writeFailure(w, "unknown command "+cmd)
	}
}

func (h *SecurityHandler) fail(w http.ResponseWriter, cmd string, err error) {
	h.logger.Warn("Security command failed", zap.String("cmd", cmd), zap.Error(err))
	writeFailure(w, err.Error())
}
