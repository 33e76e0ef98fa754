package app

import (
	"time"

	"github.com/relabs-tech/activity_tracker/internal/activity"
)

// UpdateMessage is the MQTT payload of an activity update. It is the
// wire form of activity.UpdateEvent with the error flattened to text.
type UpdateMessage struct {
	Label    activity.Label `json:"label"`
	Score    float64        `json:"score"`
	Degraded bool           `json:"degraded,omitempty"`
	Error    string         `json:"error,omitempty"`
	Time     time.Time      `json:"time"`
}

func toUpdateMessage(ev activity.UpdateEvent) UpdateMessage {
	msg := UpdateMessage{Label: ev.Label, Score: ev.Score, Degraded: ev.Degraded, Time: ev.Time}
	if ev.Err != nil {
		msg.Error = ev.Err.Error()
	}
	return msg
}

// ChangeMessage is the MQTT payload of an activity change.
type ChangeMessage = activity.ChangeEvent
