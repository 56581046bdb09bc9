package rpc

import (
	"errors"

	"stackguard/internal/security"
)

// Wire command names, sent as the cmd query parameter
const (
	CmdStatusSet  = "status_set"
	CmdStatusGet  = "status_get"
	CmdAlarmSet   = "alarm_set"
	CmdAlarmGet   = "alarm_get"
	CmdSensorsGet = "sensors_get"
)

// ErrCallFailed wraps every dispatcher failure, local or remote
var ErrCallFailed = errors.New("rpc call failed")

// SensorView is the wire form of a sensor
type SensorView struct {
	Name     string `json:"name"`
	Type     int    `json:"type"`
	Detected bool   `json:"detected"`
}

// Envelope is the decoded response of the security endpoint
type Envelope struct {
	Result  bool         `json:"result"`
	Error   string       `json:"error,omitempty"`
	Status  *bool        `json:"status,omitempty"`
	Alarm   *bool        `json:"alarm,omitempty"`
	Sensors []SensorView `json:"sensors,omitempty"`
}

// SensorViews converts controller sensor snapshots to wire form.
// The result is never nil.
func SensorViews(states []security.SensorState) []SensorView {
	views := make([]SensorView, 0, len(states))
	for _, s := range states {
		views = append(views, SensorView{Name: s.Name, Type: int(s.Kind), Detected: s.Detected})
	}
	return views
}
