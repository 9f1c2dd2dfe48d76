package activity

import (
	"time"

	"github.com/grovetools/layoutsync/address"
	"github.com/sirupsen/logrus"
)

// Status is the lifecycle state of an activity.
type Status string

const (
	Running   Status = "running"
	Succeeded Status = "succeeded"
	Failed    Status = "failed"
	Cancelled Status = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == Succeeded || s == Failed || s == Cancelled
}

// LogMessage is one structured entry in an activity log.
type LogMessage struct {
	Level     logrus.Level   `json:"level"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Scope     map[string]any `json:"scope,omitempty"`
}

// IsError reports whether the message counts as a logged error.
func (m LogMessage) IsError() bool {
	return m.Level <= logrus.ErrorLevel
}

// LogRequest carries a log message to a log sink hub.
type LogRequest struct {
	Target     address.Address `json:"target"`
	ActivityID string          `json:"activity_id"`
	Category   string          `json:"category"`
	Payload    LogMessage      `json:"payload"`
}

// Log is a value snapshot of an activity. Sub-activities are embedded copies
// that are only as fresh as the last update the parent observed.
type Log struct {
	ID            string         `json:"id"`
	Category      string         `json:"category"`
	Status        Status         `json:"status"`
	Start         time.Time      `json:"start"`
	End           *time.Time     `json:"end,omitempty"`
	Messages      []LogMessage   `json:"messages"`
	SubActivities map[string]Log `json:"sub_activities,omitempty"`
	Version       uint64         `json:"version"`
}

// HasErrors reports whether an error was logged here or in any descendant.
func (l Log) HasErrors() bool {
	for _, m := range l.Messages {
		if m.IsError() {
			return true
		}
	}
	for _, sub := range l.SubActivities {
		if sub.HasErrors() {
			return true
		}
	}
	return false
}

// HasRunningSubActivities reports whether any direct sub-activity is still
// running.
func (l Log) HasRunningSubActivities() bool {
	for _, sub := range l.SubActivities {
		if sub.Status == Running {
			return true
		}
	}
	return false
}

// Duration returns the elapsed time, up to now while still running.
func (l Log) Duration(now time.Time) time.Duration {
	if l.End != nil {
		return l.End.Sub(l.Start)
	}
	return now.Sub(l.Start)
}

// clone copies the slices and maps a transform may modify.
func (l Log) clone() Log {
	out := l
	out.Messages = append([]LogMessage(nil), l.Messages...)
	out.SubActivities = make(map[string]Log, len(l.SubActivities))
	for id, sub := range l.SubActivities {
		out.SubActivities[id] = sub
	}
	return out
}
