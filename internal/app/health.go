package app

import (
	"errors"
	"time"
)

type healthReport struct {
	LastCycleID string    `json:"last_cycle_id,omitempty"`
	LastStarted time.Time `json:"last_started,omitempty"`
	LastOK      bool      `json:"last_ok"`
	LastError   string    `json:"last_error,omitempty"`
	NextAt      time.Time `json:"next_at,omitempty"`
	Supervisor  any       `json:"supervisor,omitempty"`
}

// health backs /healthz. Before the first cycle finishes the process is
// reported healthy; after a failed cycle it is degraded until the next success.
func (a *App) health() (any, error) {
	var rep healthReport
	if a.sup != nil {
		rep.Supervisor = a.sup.Snapshot()
	}
	r, ok := a.LastResult()
	if !ok {
		return rep, nil
	}
	rep.LastCycleID = r.ID
	rep.LastStarted = r.Started
	rep.LastOK = r.OK()
	rep.NextAt = r.NextAt
	if r.Err != nil {
		rep.LastError = r.Err.Error()
		return rep, errors.New("last cycle failed")
	}
	return rep, nil
}
