package transport

import (
	"context"
	"time"

	fastshot "github.com/opus-domini/fast-shot"
)

const webhookTimeout = 10 * time.Second

// Webhook POSTs a plain JSON payload to an operator-supplied URL. It
// never no-ops: the operator is assumed to want every transition.
type Webhook struct{}

func (Webhook) Kind() string { return "webhook" }

func (Webhook) IsNoop(Notification) bool { return false }

func (Webhook) Send(ctx context.Context, n Notification) error {
	payload := map[string]any{
		"check_name":   n.CheckName,
		"check_code":   n.CheckCode,
		"check_status": string(n.CheckStatus),
		"reason":       string(n.Reason),
		"site_root":    n.SiteRoot,
	}

	client := fastshot.NewClient(n.ChannelAddr).
		Config().SetTimeout(webhookTimeout).
		Build()

	resp, err := client.POST("").
		Context().Set(ctx).
		Body().AsJSON(payload).
		Send()
	if err != nil {
		return transientf("webhook %s: %w", n.ChannelAddr, err)
	}
	return classifyHTTPStatus("webhook", resp.Status().Code())
}

// classifyHTTPStatus applies spec §7's transport error taxonomy to an
// HTTP status code: 2xx is success, 429 and 5xx are transient (retry
// later), every other non-2xx is permanent (bad config, disable the
// channel).
func classifyHTTPStatus(kind string, code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == 429 || code >= 500:
		return transientf("%s: status %d", kind, code)
	default:
		return permanentf("%s: status %d", kind, code)
	}
}
