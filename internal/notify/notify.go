// Package notify tells a human about run milestones: completion, pauses
// waiting for approval, fatal failures.
package notify

// Event classifies what happened to the run
type Event int

const (
	EventInfo Event = iota
	EventRunCompleted
	EventRunPaused
	EventRunFailed
)

// Notification is one message about a run
type Notification struct {
	Event   Event
	Title   string
	Message string
	RunID   string
	Phase   string
	RepoURL string
}

// Notifier delivers a notification through one channel
type Notifier interface {
	Send(n Notification) error
}

// Multi fans a notification out to every configured channel. Delivery
// failures do not stop the remaining channels; the last error is returned.
type Multi struct {
	notifiers []Notifier
}

func NewMulti(notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers}
}

func (m *Multi) Send(n Notification) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Noop drops every notification
type Noop struct{}

func (Noop) Send(Notification) error { return nil }
