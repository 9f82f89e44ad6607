// Package notification delivers trading alerts (fills, stop-cancel
// failures, reconcile drift, market signals) to external channels.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
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
	Level      AlertLevel `json:"level"`
	Title      string     `json:"title"`
	Message    string     `json:"message"`
	Instrument string     `json:"instrument,omitempty"`
}

// Text renders the alert as a single line, e.g. for chat webhooks.
func (a Alert) Text() string {
	if a.Instrument != "" {
		return fmt.Sprintf("[%s] %s %s: %s", a.Level, a.Instrument, a.Title, a.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", a.Level, a.Title, a.Message)
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts; it is always part of the trader's fan-out.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] %s", alert.Text())
	return nil
}

// Multi sends every alert to each backend and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
