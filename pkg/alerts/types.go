package alerts

import (
	"time"

	"github.com/bitranox/check-zpools-sub001/pkg/monitor"
)

// Record tracks one issue signature across cycles. The persisted state
// file maps "<pool>:<category>" signatures to these records.
type Record struct {
	FirstSeen    time.Time        `json:"first_seen"`
	LastNotified time.Time        `json:"last_notified"`
	LastSeverity monitor.Severity `json:"last_severity"`
	Resolved     bool             `json:"resolved,omitempty"`
	ResolvedAt   *time.Time       `json:"resolved_at,omitempty"`
}

// State is the whole alert mapping, loaded at startup and written back
// after every mutating cycle.
type State map[string]*Record

// Action is what the engine decided for one signature in one cycle.
type Action string

const (
	ActionFired     Action = "fired"
	ActionResent    Action = "resent"
	ActionEscalated Action = "escalated"
	ActionResolved  Action = "resolved"
)

// Decision records one engine action, including the delivery outcome, for
// logs, history and metrics.
type Decision struct {
	ID          string           `json:"id"`
	Action      Action           `json:"action"`
	Pool        string           `json:"pool"`
	Category    monitor.Category `json:"category"`
	Severity    monitor.Severity `json:"severity"`
	Message     string           `json:"message"`
	Time        time.Time        `json:"time"`
	Notified    bool             `json:"notified"`
	NotifyError string           `json:"notify_error,omitempty"`
}

// Message is the formatted content handed to a notifier. ActionResolved
// messages are recovery announcements; everything else is an alert.
type Message struct {
	ID        string           `json:"id"`
	Subject   string           `json:"subject"`
	Body      string           `json:"body"`
	Severity  monitor.Severity `json:"severity"`
	Pool      string           `json:"pool"`
	Category  monitor.Category `json:"category"`
	Action    Action           `json:"action"`
	Detail    string           `json:"detail"`
	Timestamp time.Time        `json:"timestamp"`
	Host      monitor.HostInfo `json:"host"`
}

// Notifier delivers one message. Implementations must not retry: a failure
// is reported once and the engine's resend cadence governs any repeat.
type Notifier interface {
	Send(msg Message) error
}

// EmailConfig configures the SMTP channel.
type EmailConfig struct {
	SMTPHost    string   `json:"smtp_host" yaml:"smtp_host"`
	SMTPPort    int      `json:"smtp_port" yaml:"smtp_port"`
	SMTPUser    string   `json:"smtp_user" yaml:"smtp_user"`
	SMTPPass    string   `json:"smtp_pass" yaml:"smtp_pass"`
	UseTLS      bool     `json:"use_tls" yaml:"use_tls"`
	UseSTARTTLS bool     `json:"use_starttls" yaml:"use_starttls"`
	From        string   `json:"from" yaml:"from"`
	To          []string `json:"to" yaml:"to"`
}

// WebhookConfig configures the HTTP webhook channel.
type WebhookConfig struct {
	URL     string            `json:"url" yaml:"url"`
	Method  string            `json:"method" yaml:"method"`
	Headers map[string]string `json:"headers" yaml:"headers"`
	Secret  string            `json:"secret" yaml:"secret"`
}

// NtfyConfig configures the ntfy push channel.
type NtfyConfig struct {
	ServerURL string `json:"server_url" yaml:"server_url"`
	Topic     string `json:"topic" yaml:"topic"`
	Token     string `json:"token" yaml:"token"`
	Username  string `json:"username" yaml:"username"`
	Password  string `json:"password" yaml:"password"`
	Priority  int    `json:"priority" yaml:"priority"`
}
