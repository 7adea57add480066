package alert

import (
	"context"
	"log/slog"
	"time"
)

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert asks an operator to act on a session, e.g. after a device conflict.
type Alert struct {
	Account  string
	Severity Severity
	Title    string
	Detail   string
	At       time.Time
}

type Alerter interface {
	Alert(ctx context.Context, a Alert) error
}

// LogAlerter only logs. It is used when no alert channel is configured.
type LogAlerter struct{}

func (LogAlerter) Alert(_ context.Context, a Alert) error {
	slog.Warn("operator alert", "account", a.Account, "severity", a.Severity, "title", a.Title, "detail", a.Detail)
	return nil
}
