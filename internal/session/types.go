// Package session tracks the in-memory lifecycle of run/generate sessions:
// registration, status, event fan-out, cancellation, and the single terminal
// transition.
package session

import "time"

// Kind distinguishes replaying a stored guide from LLM-driven generation.
type Kind string

const (
	KindRun    Kind = "run"
	KindPrompt Kind = "prompt"
)

// Status is the session state. Transitions are monotone: a terminal status is
// never left.
type Status string

const (
	StatusCreated   Status = "created"
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status ends the session.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Outcome selects the terminal transition.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeFailed
	OutcomeCancelled
)

// String names the outcome for logs and metric labels.
func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Snapshot is a point-in-time status view of a session. It carries no event
// data.
type Snapshot struct {
	ID          string     `json:"id"`
	Kind        Kind       `json:"kind"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Progress    int        `json:"progress"`
	CurrentStep int        `json:"currentStep,omitempty"`
	TotalSteps  int        `json:"totalSteps,omitempty"`
	Error       string     `json:"error,omitempty"`
	ScriptID    string     `json:"scriptId,omitempty"`
}
