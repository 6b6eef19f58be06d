// Package notify delivers compliance alerts: direct texts to agents' phones
// and broadcasts to the supervisors' chat channel.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Severities, with the sidebar color each renders with.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

var severityColors = map[string]string{
	SeverityInfo:    "#439fe0",
	SeverityWarning: "#daa038",
	SeverityError:   "#d00000",
}

// Color returns the hex sidebar color for a severity.
func Color(severity string) string {
	if c, ok := severityColors[severity]; ok {
		return c
	}
	return severityColors[SeverityInfo]
}

// Field is a key-value pair shown with an alert.
type Field struct {
	Name  string
	Value string
	Short bool // render side-by-side with another field
}

// Alert is a structured message for the supervisors' channel.
type Alert struct {
	Title    string
	Body     string
	Severity string
	Fields   []Field
}

// Text renders the alert as plain text for channels without rich formatting.
func (a Alert) Text() string {
	s := a.Title
	if a.Body != "" {
		s += "\n" + a.Body
	}
	for _, f := range a.Fields {
		s += fmt.Sprintf("\n%s: %s", f.Name, f.Value)
	}
	return s
}

// TextSender sends a plain text message to a phone number.
type TextSender interface {
	SendText(ctx context.Context, phone, text string) error
}

// Broadcaster posts an alert to the supervisors' channel.
type Broadcaster interface {
	Broadcast(ctx context.Context, alert Alert) error
}

// Multi fans an alert out to every broadcaster. All are attempted; the
// joined errors of the failures are returned.
type Multi []Broadcaster

// Broadcast implements Broadcaster.
func (m Multi) Broadcast(ctx context.Context, alert Alert) error {
	var errs []error
	for _, b := range m {
		if err := b.Broadcast(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSender writes texts and alerts to the log instead of delivering them.
// It stands in when no gateway or chat channel is configured.
type LogSender struct {
	Logger *zap.Logger
}

// SendText implements TextSender.
func (l LogSender) SendText(ctx context.Context, phone, text string) error {
	l.logger().Info("text message", zap.String("phone", phone), zap.String("text", text))
	return nil
}

// Broadcast implements Broadcaster.
func (l LogSender) Broadcast(ctx context.Context, alert Alert) error {
	l.logger().Warn("supervisor alert",
		zap.String("title", alert.Title),
		zap.String("severity", alert.Severity),
		zap.String("body", alert.Body),
	)
	return nil
}

func (l LogSender) logger() *zap.Logger {
	if l.Logger == nil {
		return zap.NewNop()
	}
	return l.Logger
}

// Text is a recorded direct message.
type Text struct {
	Phone string
	Body  string
}

// Mock records texts and alerts for tests. Set Err to make every call fail.
type Mock struct {
	mu     sync.Mutex
	texts  []Text
	alerts []Alert
	Err    error
}

// SendText implements TextSender.
func (m *Mock) SendText(ctx context.Context, phone, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.texts = append(m.texts, Text{Phone: phone, Body: text})
	return nil
}

// Broadcast implements Broadcaster.
func (m *Mock) Broadcast(ctx context.Context, alert Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.alerts = append(m.alerts, alert)
	return nil
}

// Texts returns a copy of the recorded texts.
func (m *Mock) Texts() []Text {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Text(nil), m.texts...)
}

// Alerts returns a copy of the recorded alerts.
func (m *Mock) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Alert(nil), m.alerts...)
}
