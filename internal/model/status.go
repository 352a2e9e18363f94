// internal/model/status.go
package model

// Status tracks the delivery outcome of a single record.
//
// Lifecycle: pending -> queued -> one of the terminal states. A record that
// reached "sent" is never touched again, even by a later run; the other
// terminal states are re-enqueued when the campaign is sent again.
type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusSent      Status = "sent"
	StatusInvalid   Status = "invalid"
	StatusAuthError Status = "auth_error"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition happens within a run.
func (s Status) Terminal() bool {
	switch s {
	case StatusSent, StatusInvalid, StatusAuthError, StatusFailed:
		return true
	}
	return false
}

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusQueued, StatusSent, StatusInvalid, StatusAuthError, StatusFailed:
		return true
	}
	return false
}

// StatusCounts is the read-only snapshot handed to pollers.
type StatusCounts struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Queued    int `json:"queued"`
	Sent      int `json:"sent"`
	Invalid   int `json:"invalid"`
	AuthError int `json:"auth_error"`
	Failed    int `json:"failed"`
}

// Done reports whether every record has reached a terminal state.
func (c StatusCounts) Done() bool {
	return c.Pending == 0 && c.Queued == 0
}

// Completed is the number of records in a terminal state.
func (c StatusCounts) Completed() int {
	return c.Sent + c.Invalid + c.AuthError + c.Failed
}
