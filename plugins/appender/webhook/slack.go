package webhook

import (
	"strings"

	"github.com/mbiondo/logdog/core"
)

// SlackMessage represents a Slack message payload
type SlackMessage struct {
	Text        string            `json:"text,omitempty"`
	Username    string            `json:"username,omitempty"`
	Channel     string            `json:"channel,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	IconURL     string            `json:"icon_url,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack message attachment
type SlackAttachment struct {
	Fallback string       `json:"fallback"`
	Color    string       `json:"color"`
	Title    string       `json:"title"`
	Text     string       `json:"text"`
	Fields   []SlackField `json:"fields,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short,omitempty"`
}

func (w *WebhookAppender) slackMessage(payload []byte, entry core.Snapshot) SlackMessage {
	text := strings.TrimRight(string(payload), "\n")

	fields := []SlackField{{Title: "Level", Value: entry.Level.String(), Short: true}}
	if entry.Label != "" {
		fields = append(fields, SlackField{Title: "Label", Value: entry.Label, Short: true})
	}
	if entry.Source != "" {
		fields = append(fields, SlackField{Title: "Source", Value: entry.Source, Short: true})
	}

	return SlackMessage{
		Username:  w.config.Slack.Username,
		Channel:   w.config.Slack.Channel,
		IconEmoji: w.config.Slack.IconEmoji,
		IconURL:   w.config.Slack.IconURL,
		Attachments: []SlackAttachment{{
			Fallback: "[" + entry.Level.String() + "] " + text,
			Color:    colorForLevel(entry.Level),
			Title:    "Log Entry - " + entry.Level.String(),
			Text:     text,
			Fields:   fields,
		}},
	}
}

func colorForLevel(level core.Level) string {
	switch {
	case level >= core.LevelError:
		return "danger"
	case level == core.LevelWarning:
		return "warning"
	case level == core.LevelInfo || level == core.LevelNotice:
		return "good"
	default:
		return "#808080"
	}
}
