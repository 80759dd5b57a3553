package domain

import "time"

// CheckResult is one safety probe against the configured test URL.
type CheckResult struct {
	ID         int64     `json:"id"`
	URL        string    `json:"url"`
	Safe       bool      `json:"safe"`
	HTTPStatus int       `json:"http_status,omitempty"`
	LatencyMS  float64   `json:"latency_ms"`
	Reason     string    `json:"reason,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}

// Decision records what the gate did with one command.
type Decision struct {
	ID        int64     `json:"id"`
	Command   string    `json:"command"`
	URL       string    `json:"url"`
	Allowed   bool      `json:"allowed"`
	ExitCode  *int      `json:"exit_code"` // nil when the command never ran
	Reason    string    `json:"reason,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}

const (
	OutcomeBlocked   = "blocked"
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

// Outcome summarises the decision for display and notifications.
func (d Decision) Outcome() string {
	switch {
	case !d.Allowed:
		return OutcomeBlocked
	case d.ExitCode != nil && *d.ExitCode == 0 && d.Reason == "":
		return OutcomeSucceeded
	default:
		return OutcomeFailed
	}
}
