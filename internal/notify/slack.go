package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Slack posts run notifications to an incoming-webhook URL
type Slack struct {
	webhookURL string
	client     *http.Client
}

func NewSlack(webhookURL string) *Slack {
	return &Slack{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type slackMessage struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color  string `json:"color"`
	Title  string `json:"title,omitempty"`
	Text   string `json:"text"`
	Footer string `json:"footer,omitempty"`
}

func slackColor(e Event) string {
	switch e {
	case EventRunCompleted:
		return "good"
	case EventRunPaused:
		return "warning"
	case EventRunFailed:
		return "danger"
	default:
		return "#439FE0"
	}
}

func (s *Slack) Send(n Notification) error {
	if s.webhookURL == "" {
		return nil
	}

	body := n.Message
	if n.RepoURL != "" {
		body += "\n" + n.RepoURL
	}
	msg := slackMessage{
		Text: n.Title,
		Attachments: []slackAttachment{{
			Color:  slackColor(n.Event),
			Title:  attachmentTitle(n),
			Text:   body,
			Footer: "appforge",
		}},
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	resp, err := s.client.Post(s.webhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned %s", resp.Status)
	}
	return nil
}

func attachmentTitle(n Notification) string {
	if n.RunID == "" {
		return ""
	}
	if n.Phase != "" {
		return fmt.Sprintf("run %s, phase %s", n.RunID, n.Phase)
	}
	return "run " + n.RunID
}
