package alertsession

import "github.com/and161185/buyvia/internal/model"

// State of an alert session.
type State int

const (
	Idle State = iota
	CheckingExisting
	PromptCreate
	PromptRemove
	Submitting
	Settled
	Unauthenticated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case CheckingExisting:
		return "checking"
	case PromptCreate:
		return "prompt-create"
	case PromptRemove:
		return "prompt-remove"
	case Submitting:
		return "submitting"
	case Settled:
		return "settled"
	case Unauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Outcome of the last submit while in Settled.
type Outcome int

const (
	NoOutcome Outcome = iota
	Success
	Failure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Failure:
		return "failure"
	default:
		return "none"
	}
}

// Snapshot is a copy of the session's observable state.
type Snapshot struct {
	ProductID int64
	State     State
	Outcome   Outcome
	Message   string       // validation error, toast text or failure detail
	Existing  *model.Alert // the caller's alert for this product, if known
}
