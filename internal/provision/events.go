package provision

import "time"

// Flows reported in events.
const (
	FlowRegister = "register"
	FlowLogin    = "login"
	FlowLink     = "link"
)

// Event statuses.
const (
	StatusStarted   = "started"
	StatusOK        = "ok"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
	StatusSucceeded = "succeeded"
)

// Event is a progress notification for one step of one attempt. The terminal
// event of an attempt has Step == StepDone and Status succeeded or failed.
type Event struct {
	AttemptID string    `json:"attempt_id"`
	Flow      string    `json:"flow"`
	Step      Step      `json:"step"`
	Status    string    `json:"status"`
	Kind      Kind      `json:"kind,omitempty"`
	At        time.Time `json:"at"`
}

func (p *Provisioner) emit(o *outcome, step Step, status string, kind Kind) {
	if p.events == nil {
		return
	}
	p.events(Event{
		AttemptID: o.attemptID,
		Flow:      o.flow,
		Step:      step,
		Status:    status,
		Kind:      kind,
		At:        p.now().UTC(),
	})
}
