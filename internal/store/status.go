package store

import "strings"

// State is a module's processing state
type State string

const (
	StatePending    State = "PENDING"
	StateProcessing State = "PROCESSING"
	StateComplete   State = "COMPLETE"
	StateError      State = "ERROR"
)

// Status is the decoded form of a module's status marker. Detail is only
// populated for StateError and carries the failure description.
type Status struct {
	State  State  `json:"state"`
	Detail string `json:"detail,omitempty"`
}

// Terminal reports whether no further transitions are allowed
func (s Status) Terminal() bool {
	return s.State == StateComplete || s.State == StateError
}

// Marker encodes the status as the single-line marker file content
func (s Status) Marker() string {
	if s.State == StateError && s.Detail != "" {
		return string(StateError) + ": " + s.Detail
	}
	return string(s.State)
}

// String returns the marker form, which is also the polling wire format
func (s Status) String() string {
	return s.Marker()
}

// ParseStatus decodes a status marker. Unknown markers decode to an error
// status carrying the raw value, so a corrupted marker is visible rather
// than silently treated as progress.
func ParseStatus(marker string) Status {
	marker = strings.TrimSpace(marker)

	switch State(marker) {
	case StatePending, StateProcessing, StateComplete, StateError:
		return Status{State: State(marker)}
	}

	if detail, ok := strings.CutPrefix(marker, string(StateError)+": "); ok {
		return Status{State: StateError, Detail: detail}
	}

	return Status{State: StateError, Detail: "unrecognized status marker: " + marker}
}
