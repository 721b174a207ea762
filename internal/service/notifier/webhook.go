package notifier

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vijayshreepathak/QuantAlert/internal/domain/models"
	xhttp "github.com/vijayshreepathak/QuantAlert/pkg/http"
)

// WebhookNotifier POSTs the alert as JSON; any non-2xx status is a failure.
type WebhookNotifier struct {
	url    string
	client *xhttp.Client
}

func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: xhttp.NewClient(xhttp.WithTimeout(timeout))}
}

func (n *WebhookNotifier) Notify(ctx context.Context, t *models.Trigger, r *models.Rule, value decimal.Decimal) error {
	err := n.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    n.url,
		Body:   NewAlert(t, r, value),
	}, nil)
	if err != nil {
		return failed(ChannelWebhook, err)
	}
	return nil
}
