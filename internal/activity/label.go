// Package activity defines the activity labels and the events emitted when
// the tracked activity is re-evaluated.
package activity

import (
	"fmt"
	"time"
)

// Label is the classified motion of the user.
type Label int

const (
	// Idle is the state before any prediction has completed.
	Idle Label = iota
	Walking
	Running
	// Unknown marks a degraded update where no prediction could be made.
	// It is never stored as the current label.
	Unknown
)

var labelNames = [...]string{"idle", "walking", "running", "unknown"}

func (l Label) String() string {
	if l >= 0 && int(l) < len(labelNames) {
		return labelNames[l]
	}
	return fmt.Sprintf("Label(%d)", int(l))
}

// ParseLabel is the inverse of String.
func ParseLabel(s string) (Label, error) {
	for i, name := range labelNames {
		if name == s {
			return Label(i), nil
		}
	}
	return Unknown, fmt.Errorf("unknown activity label %q", s)
}

// MarshalText encodes the label as its name.
func (l Label) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText decodes a label name.
func (l *Label) UnmarshalText(text []byte) error {
	parsed, err := ParseLabel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ChangeEvent is emitted once per actual label transition.
type ChangeEvent struct {
	Old        Label     `json:"old"`
	New        Label     `json:"new"`
	Confidence float64   `json:"confidence"`
	Time       time.Time `json:"time"`
}

// UpdateEvent is emitted on every completed prediction cycle.
type UpdateEvent struct {
	Label    Label     `json:"label"`
	Score    float64   `json:"score"`
	Degraded bool      `json:"degraded,omitempty"`
	Err      error     `json:"-"`
	Time     time.Time `json:"time"`
}
