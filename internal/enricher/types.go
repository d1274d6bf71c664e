package enricher

import (
	"strings"
	"time"
)

// Status is the persisted resolution state of a row.
type Status string

// Row status values written to the table.
const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
)

// ParseStatus maps a stored cell to a Status. Only "done" (any case) counts as done.
func ParseStatus(raw string) Status {
	if strings.EqualFold(strings.TrimSpace(raw), string(StatusDone)) {
		return StatusDone
	}
	return StatusPending
}

// Row is one unit of work: an identifier to resolve plus its result.
type Row struct {
	Username   string
	UserID     string
	ProfileURL string
	Status     Status
	Email      string
}

// Done reports whether the row was resolved by an earlier run.
func (r Row) Done() bool {
	return r.Status == StatusDone
}

// Identifier is what the fetcher resolves: the profile URL, or the username when the URL is blank.
func (r Row) Identifier() string {
	if id := strings.TrimSpace(r.ProfileURL); id != "" {
		return id
	}
	return strings.TrimSpace(r.Username)
}

// Outcome labels what happened to a row during a run.
type Outcome string

// Row outcomes reported in metrics and the run summary.
const (
	OutcomeResolved    Outcome = "resolved"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeAlreadyDone Outcome = "already_done"
)

// RunState is the ephemeral clock state of one invocation.
type RunState struct {
	Start      time.Time
	MaxRuntime time.Duration
}

// Expired reports whether the budget has been exceeded at now. A zero budget never expires.
func (s RunState) Expired(now time.Time) bool {
	return s.MaxRuntime > 0 && now.Sub(s.Start) > s.MaxRuntime
}

// Summary counts the outcomes of a run.
type Summary struct {
	RunID           string
	Total           int
	Resolved        int
	Skipped         int
	AlreadyDone     int
	BudgetExhausted bool
	Canceled        bool
	Elapsed         time.Duration
}
