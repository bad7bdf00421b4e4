package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const httpTimeout = 10 * time.Second

// webhookPayload is the JSON body posted to the webhook.
type webhookPayload struct {
	Alert
	Source string    `json:"source"`
	SentAt time.Time `json:"sent_at"`
}

// WebhookNotifier POSTs every alert as JSON to a fixed URL. Any 2xx answer
// counts as delivered.
type WebhookNotifier struct {
	url    string
	client *http.Client
	log    *zap.Logger
	now    func() time.Time
}

func NewWebhookNotifier(url string, log *zap.Logger) *WebhookNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: httpTimeout},
		log:    log.Named("webhook"),
		now:    time.Now,
	}
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	payload := webhookPayload{Alert: alert, Source: "tradebot", SentAt: w.now().UTC()}
	if _, err := postJSON(ctx, w.client, w.url, payload); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	w.log.Debug("alert delivered", zap.String("title", alert.Title))
	return nil
}

// postJSON sends v and returns the response body of a 2xx answer.
func postJSON(ctx context.Context, client *http.Client, url string, v interface{}) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return raw, fmt.Errorf("status %d", resp.StatusCode)
	}
	return raw, nil
}
