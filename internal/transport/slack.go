package transport

import (
	"context"
	"fmt"
	"time"

	fastshot "github.com/opus-domini/fast-shot"

	"github.com/opus-domini/pulsecheck/internal/model"
)

const slackTimeout = 10 * time.Second

// Slack posts to a Slack incoming-webhook URL (payload shape grounded on
// the teacher pack's alerting.sendSlack attachment format).
type Slack struct{}

func (Slack) Kind() string { return "slack" }

func (Slack) IsNoop(Notification) bool { return false }

func (Slack) Send(ctx context.Context, n Notification) error {
	payload := map[string]any{
		"text": fmt.Sprintf("*%s* is now *%s*", n.CheckName, n.CheckStatus),
		"attachments": []map[string]any{
			{
				"color": slackColor(n.CheckStatus),
				"fields": []map[string]any{
					{"title": "Check", "value": n.CheckName, "short": true},
					{"title": "Status", "value": string(n.CheckStatus), "short": true},
					{"title": "Reason", "value": string(n.Reason), "short": true},
				},
			},
		},
	}

	client := fastshot.NewClient(n.ChannelAddr).
		Config().SetTimeout(slackTimeout).
		Build()

	resp, err := client.POST("").
		Context().Set(ctx).
		Body().AsJSON(payload).
		Send()
	if err != nil {
		return transientf("slack %s: %w", n.ChannelAddr, err)
	}
	return classifyHTTPStatus("slack", resp.Status().Code())
}

func slackColor(status model.CheckStatus) string {
	switch status {
	case model.StatusDown:
		return "#FF0000"
	case model.StatusUp:
		return "#00CC00"
	default:
		return "#808080"
	}
}
