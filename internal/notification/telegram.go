package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const telegramAPI = "https://api.telegram.org"

var levelIcon = map[AlertLevel]string{
	AlertInfo:     "ℹ️",
	AlertWarning:  "⚠️",
	AlertCritical: "🚨",
}

// TelegramNotifier posts alerts to one chat through the Bot API sendMessage
// call, formatted as MarkdownV2.
type TelegramNotifier struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
	log     *zap.Logger
}

func NewTelegramNotifier(botToken, chatID string, log *zap.Logger) *TelegramNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &TelegramNotifier{
		token:   botToken,
		chatID:  chatID,
		baseURL: telegramAPI,
		client:  &http.Client{Timeout: httpTimeout},
		log:     log.Named("telegram"),
	}
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type telegramResult struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	msg := telegramMessage{ChatID: t.chatID, Text: formatTelegram(alert), ParseMode: "MarkdownV2"}
	url := t.baseURL + "/bot" + t.token + "/sendMessage"

	raw, err := postJSON(ctx, t.client, url, msg)
	if err != nil {
		// the token is part of the URL, keep it out of the error
		var res telegramResult
		if json.Unmarshal(raw, &res) == nil && res.Description != "" {
			return fmt.Errorf("telegram: %s", res.Description)
		}
		return fmt.Errorf("telegram: sendMessage failed: %w", redactErr(err, t.token))
	}
	t.log.Debug("alert delivered", zap.String("title", alert.Title))
	return nil
}

func formatTelegram(alert Alert) string {
	icon, ok := levelIcon[alert.Level]
	if !ok {
		icon = levelIcon[AlertInfo]
	}
	var b strings.Builder
	b.WriteString(icon)
	b.WriteString(" *")
	b.WriteString(escapeMarkdown(alert.Title))
	b.WriteString("*\n\n")
	b.WriteString(escapeMarkdown(alert.Message))
	if alert.Symbol != "" {
		b.WriteString("\n")
		b.WriteString(escapeMarkdown("#" + strings.NewReplacer("-", "", "/", "").Replace(alert.Symbol)))
	}
	return b.String()
}

type redactedError struct{ msg string }

func (e redactedError) Error() string { return e.msg }

func redactErr(err error, secret string) error {
	if secret == "" || !strings.Contains(err.Error(), secret) {
		return err
	}
	return redactedError{strings.ReplaceAll(err.Error(), secret, "***")}
}

// escapeMarkdown escapes the MarkdownV2 reserved characters.
func escapeMarkdown(s string) string {
	const reserved = "_*[]()~`>#+-=|{}.!"
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(reserved, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
