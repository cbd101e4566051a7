package notify

import (
	"os/exec"
	"runtime"
)

// Desktop sends a desktop notification on the machine running the pipeline
type Desktop struct {
	enabled bool
}

func NewDesktop(enabled bool) *Desktop {
	return &Desktop{enabled: enabled}
}

func (d *Desktop) Send(n Notification) error {
	if !d.enabled {
		return nil
	}
	switch runtime.GOOS {
	case "darwin":
		script := `display notification "` + n.Message + `" with title "` + n.Title + `"`
		return exec.Command("osascript", "-e", script).Run()
	case "linux":
		return exec.Command("notify-send", "-u", urgency(n.Event), n.Title, n.Message).Run()
	default:
		return nil
	}
}

func urgency(e Event) string {
	switch e {
	case EventRunFailed:
		return "critical"
	case EventRunPaused:
		return "normal"
	default:
		return "low"
	}
}
