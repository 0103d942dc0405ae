package orchestrator

import (
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/api"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/notify"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/render"
)

// Snapshot is a consistent copy of everything the dashboard displays.
type Snapshot struct {
	State            State                `json:"state"`
	LastOutcome      State                `json:"lastOutcome,omitempty"`
	Busy             bool                 `json:"busy"`
	ControlEnabled   bool                 `json:"controlEnabled"`
	SubmitEnabled    bool                 `json:"submitEnabled"`
	Progress         int                  `json:"progress"`
	Hours            int                  `json:"hours"`
	Health           api.HealthStatus     `json:"health"`
	HealthLabel      string               `json:"healthLabel"`
	ModelInfo        *api.ModelInfo       `json:"modelInfo,omitempty"`
	ModelError       string               `json:"modelError,omitempty"`
	View             *render.ForecastView `json:"view,omitempty"`
	Manual           *render.ManualView   `json:"manual,omitempty"`
	ErrorPanel       string               `json:"errorPanel,omitempty"`
	ManualErrorPanel string               `json:"manualErrorPanel,omitempty"`
	Notification     *notify.Notification `json:"notification,omitempty"`
}

// Snapshot returns the current UI-visible state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	s := Snapshot{
		State:            c.state,
		LastOutcome:      c.lastOutcome,
		Progress:         c.progress,
		Hours:            c.lastHours,
		Health:           c.health,
		HealthLabel:      c.health.Label(),
		ModelInfo:        c.modelInfo,
		ModelError:       c.modelErr,
		View:             c.view,
		Manual:           c.manual,
		ErrorPanel:       c.errorPanel,
		ManualErrorPanel: c.manualErrorPanel,
		Busy:             c.busy.Load(),
		SubmitEnabled:    !c.submitting.Load(),
	}
	c.mu.Unlock()
	s.ControlEnabled = !s.Busy

	if n, ok := c.notifier.Current(); ok {
		s.Notification = &n
	}
	return s
}
