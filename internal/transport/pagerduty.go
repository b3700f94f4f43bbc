package transport

import (
	"context"
	"fmt"
	"time"

	fastshot "github.com/opus-domini/fast-shot"

	"github.com/opus-domini/pulsecheck/internal/model"
)

const (
	pagerDutyTimeout   = 15 * time.Second
	pagerDutyEventsAPI = "https://events.pagerduty.com/v2/enqueue"
)

// PagerDuty sends to the PagerDuty Events API v2. ChannelAddr holds the
// routing (integration) key. A down flip triggers; an up flip resolves
// using the check code as the PagerDuty dedup_key, so the same incident
// closes when the check recovers (payload shape grounded on the teacher
// pack's alerting.sendPagerDuty).
type PagerDuty struct{}

func (PagerDuty) Kind() string { return "pagerduty" }

func (PagerDuty) IsNoop(Notification) bool { return false }

func (PagerDuty) Send(ctx context.Context, n Notification) error {
	action := "trigger"
	if n.CheckStatus == model.StatusUp {
		action = "resolve"
	}

	payload := map[string]any{
		"routing_key":  n.ChannelAddr,
		"event_action": action,
		"dedup_key":    n.CheckCode,
		"payload": map[string]any{
			"summary":  fmt.Sprintf("%s is %s", n.CheckName, n.CheckStatus),
			"severity": "critical",
			"source":   "pulsecheck",
		},
	}

	client := fastshot.NewClient(pagerDutyEventsAPI).
		Config().SetTimeout(pagerDutyTimeout).
		Build()

	resp, err := client.POST("").
		Context().Set(ctx).
		Body().AsJSON(payload).
		Send()
	if err != nil {
		return transientf("pagerduty: %w", err)
	}
	return classifyHTTPStatus("pagerduty", resp.Status().Code())
}
