package activity

import (
	"github.com/sirupsen/logrus"
)

// Hook returns a logrus hook that records every entry fired on a logger as a
// message of this activity. Entry fields become the message scope.
func (a *Activity) Hook() logrus.Hook {
	return &hook{activity: a}
}

type hook struct {
	activity *Activity
}

func (h *hook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *hook) Fire(entry *logrus.Entry) error {
	var scope map[string]any
	if len(entry.Data) > 0 {
		scope = make(map[string]any, len(entry.Data))
		for k, v := range entry.Data {
			if err, ok := v.(error); ok {
				v = err.Error()
			}
			scope[k] = v
		}
	}
	h.activity.LogMessage(LogMessage{
		Level:     entry.Level,
		Message:   entry.Message,
		Timestamp: entry.Time,
		Scope:     scope,
	})
	return nil
}
