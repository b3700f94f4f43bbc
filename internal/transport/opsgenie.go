package transport

import (
	"context"
	"fmt"
	"time"

	fastshot "github.com/opus-domini/fast-shot"

	"github.com/opus-domini/pulsecheck/internal/model"
)

const (
	opsgenieTimeout   = 15 * time.Second
	opsgenieAlertsAPI = "https://api.opsgenie.com/v2/alerts"
	opsgenieCloseAPI  = "https://api.opsgenie.com/v2/alerts/%s/close?identifierType=alias"
)

// Opsgenie sends to the Opsgenie alerts API. ChannelAddr holds the API
// key. A down flip creates an alert aliased on the check code; an up
// flip closes it (payload shape grounded on the teacher pack's
// alerting.sendOpsGenie).
type Opsgenie struct{}

func (Opsgenie) Kind() string { return "opsgenie" }

func (Opsgenie) IsNoop(Notification) bool { return false }

func (o Opsgenie) Send(ctx context.Context, n Notification) error {
	if n.CheckStatus == model.StatusUp {
		return o.close(ctx, n)
	}

	payload := map[string]any{
		"message":     fmt.Sprintf("%s is down", n.CheckName),
		"alias":       n.CheckCode,
		"description": fmt.Sprintf("reason=%s", n.Reason),
		"priority":    "P2",
	}
	return o.post(ctx, opsgenieAlertsAPI, n.ChannelAddr, payload)
}

func (o Opsgenie) close(ctx context.Context, n Notification) error {
	url := fmt.Sprintf(opsgenieCloseAPI, n.CheckCode)
	return o.post(ctx, url, n.ChannelAddr, map[string]any{})
}

func (Opsgenie) post(ctx context.Context, url, apiKey string, payload map[string]any) error {
	client := fastshot.NewClient(url).
		Header().Add("Authorization", "GenieKey "+apiKey).
		Config().SetTimeout(opsgenieTimeout).
		Build()

	resp, err := client.POST("").
		Context().Set(ctx).
		Body().AsJSON(payload).
		Send()
	if err != nil {
		return transientf("opsgenie: %w", err)
	}
	return classifyHTTPStatus("opsgenie", resp.Status().Code())
}
