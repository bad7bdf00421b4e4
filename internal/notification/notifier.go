// Package notification provides alert delivery to external channels
// (Telegram, Slack, webhooks) for fills and stop exits.
package notification

import (
	"context"
	"errors"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	Symbol  string     `json:"symbol,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the log. Always available.
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogNotifier{log: log.Named("notify")}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	n.log.Info(alert.Title,
		zap.String("level", string(alert.Level)),
		zap.String("symbol", alert.Symbol),
		zap.String("message", alert.Message))
	return nil
}

// Multi sends every alert to all backends and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var err error
	for _, n := range m {
		err = multierr.Append(err, n.Send(ctx, alert))
	}
	return err
}

// ErrThrottled is returned when an alert is dropped by Throttled.
var ErrThrottled = errors.New("notification throttled")

// Throttled caps the alert rate of the wrapped notifier. Critical alerts
// bypass the limit.
type Throttled struct {
	next    Notifier
	limiter *rate.Limiter
}

// NewThrottled allows burst alerts and then one per interval.
func NewThrottled(next Notifier, interval time.Duration, burst int) *Throttled {
	return &Throttled{next: next, limiter: rate.NewLimiter(rate.Every(interval), burst)}
}

func (t *Throttled) Send(ctx context.Context, alert Alert) error {
	if alert.Level != AlertCritical && !t.limiter.Allow() {
		return ErrThrottled
	}
	return t.next.Send(ctx, alert)
}
