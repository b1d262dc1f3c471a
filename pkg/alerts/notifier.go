package alerts

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/smtp"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/rs/zerolog"

	"github.com/bitranox/check-zpools-sub001/pkg/monitor"
)

// NotificationError reports a failed delivery on one channel. Delivery is
// never retried here.
type NotificationError struct {
	Channel string
	Err     error
}

func (e *NotificationError) Error() string { return fmt.Sprintf("notify %s: %v", e.Channel, e.Err) }
func (e *NotificationError) Unwrap() error { return e.Err }

// Dispatcher delivers messages through every configured channel. A nil
// channel config disables that channel.
type Dispatcher struct {
	logger     zerolog.Logger
	httpClient *http.Client
	email      *EmailConfig
	webhook    *WebhookConfig
	ntfy       *NtfyConfig
}

func NewDispatcher(logger zerolog.Logger, email *EmailConfig, webhook *WebhookConfig, ntfy *NtfyConfig) *Dispatcher {
	return &Dispatcher{
		logger: logger.With().Str("component", "notifier").Logger(),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		email:   email,
		webhook: webhook,
		ntfy:    ntfy,
	}
}

// HasChannels reports whether at least one channel is configured.
func (d *Dispatcher) HasChannels() bool {
	return d.email != nil || d.webhook != nil || d.ntfy != nil
}

// Send pushes msg through each configured channel and joins the failures.
func (d *Dispatcher) Send(msg Message) error {
	var errs []error
	if d.email != nil {
		if err := d.sendEmail(msg); err != nil {
			d.logger.Error().Err(err).Str("channel", "email").Str("id", msg.ID).Msg("channel delivery failed")
			errs = append(errs, &NotificationError{Channel: "email", Err: err})
		}
	}
	if d.webhook != nil {
		if err := d.sendWebhook(msg); err != nil {
			d.logger.Error().Err(err).Str("channel", "webhook").Str("id", msg.ID).Msg("channel delivery failed")
			errs = append(errs, &NotificationError{Channel: "webhook", Err: err})
		}
	}
	if d.ntfy != nil {
		if err := d.sendNtfy(msg); err != nil {
			d.logger.Error().Err(err).Str("channel", "ntfy").Str("id", msg.ID).Msg("channel delivery failed")
			errs = append(errs, &NotificationError{Channel: "ntfy", Err: err})
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) sendEmail(msg Message) error {
	cfg := d.email
	if cfg.SMTPHost == "" || cfg.From == "" || len(cfg.To) == 0 {
		return fmt.Errorf("email channel missing smtp_host, from or to")
	}

	var message bytes.Buffer
	message.WriteString("From: " + cfg.From + "\r\n")
	message.WriteString("To: " + strings.Join(cfg.To, ", ") + "\r\n")
	message.WriteString("Subject: " + msg.Subject + "\r\n")
	message.WriteString("MIME-Version: 1.0\r\n")
	message.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	message.WriteString("\r\n")
	message.WriteString(d.formatEmailBody(msg))

	addr := fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort)

	var auth smtp.Auth
	if cfg.SMTPUser != "" && cfg.SMTPPass != "" {
		auth = smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPHost)
	}

	if cfg.UseTLS || cfg.SMTPPort == 465 {
		return d.sendEmailTLS(addr, auth, cfg.From, cfg.To, message.Bytes())
	}
	if cfg.UseSTARTTLS || cfg.SMTPPort == 587 {
		return smtp.SendMail(addr, auth, cfg.From, cfg.To, message.Bytes())
	}
	return smtp.SendMail(addr, nil, cfg.From, cfg.To, message.Bytes())
}

func (d *Dispatcher) sendEmailTLS(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	tlsConfig := &tls.Config{
		ServerName: strings.Split(addr, ":")[0],
	}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return err
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, tlsConfig.ServerName)
	if err != nil {
		return err
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return err
		}
	}
	if err := client.Mail(from); err != nil {
		return err
	}
	for _, recipient := range to {
		if err := client.Rcpt(recipient); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func (d *Dispatcher) formatEmailBody(msg Message) string {
	severityColor := "#17a2b8"
	switch msg.Severity {
	case monitor.SeverityWarning:
		severityColor = "#ffc107"
	case monitor.SeverityCritical:
		severityColor = "#dc3545"
	}

	stateIcon := "⚠️"
	if msg.Action == ActionResolved {
		stateIcon = "✅"
		severityColor = "#28a745"
	}

	htmlTemplate := `
<!DOCTYPE html>
<html>
<head>
    <style>
        body { font-family: Arial, sans-serif; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: {{.SeverityColor}}; color: white; padding: 15px; border-radius: 5px 5px 0 0; }
        .content { background-color: #f8f9fa; padding: 20px; border: 1px solid #dee2e6; border-top: none; }
        .field { display: inline-block; margin: 10px 20px 10px 0; }
        .field-label { color: #6c757d; font-size: 12px; }
        .field-value { font-size: 18px; font-weight: bold; }
        .footer { margin-top: 20px; padding-top: 20px; border-top: 1px solid #dee2e6; color: #6c757d; font-size: 12px; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h2>{{.StateIcon}} {{.Subject}}</h2>
        </div>
        <div class="content">
            <p>{{.Detail}}</p>

            <div class="fields">
                <div class="field">
                    <div class="field-label">Pool</div>
                    <div class="field-value">{{.Pool}}</div>
                </div>
                <div class="field">
                    <div class="field-label">Category</div>
                    <div class="field-value">{{.Category}}</div>
                </div>
                <div class="field">
                    <div class="field-label">Severity</div>
                    <div class="field-value">{{.Severity}}</div>
                </div>
            </div>

            <div class="footer">
                <p>Host: {{.Hostname}}<br>
                Time: {{.Timestamp}}</p>
            </div>
        </div>
    </div>
</body>
</html>
`

	tmpl, err := template.New("email").Parse(htmlTemplate)
	if err != nil {
		return msg.Body
	}

	data := map[string]interface{}{
		"StateIcon":     stateIcon,
		"SeverityColor": severityColor,
		"Subject":       msg.Subject,
		"Detail":        msg.Detail,
		"Pool":          msg.Pool,
		"Category":      string(msg.Category),
		"Severity":      string(msg.Severity),
		"Hostname":      msg.Host.Hostname,
		"Timestamp":     msg.Timestamp.Format(time.RFC3339),
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return msg.Body
	}
	return buf.String()
}

func (d *Dispatcher) sendWebhook(msg Message) error {
	cfg := d.webhook
	if cfg.URL == "" {
		return fmt.Errorf("webhook channel missing url")
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	method := cfg.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequest(method, cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	if cfg.Secret != "" {
		h := hmac.New(sha256.New, []byte(cfg.Secret))
		h.Write(payload)
		req.Header.Set("X-Signature", hex.EncodeToString(h.Sum(nil)))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (d *Dispatcher) sendNtfy(msg Message) error {
	cfg := d.ntfy
	if cfg.ServerURL == "" || cfg.Topic == "" {
		return fmt.Errorf("ntfy channel missing server_url or topic")
	}

	url := fmt.Sprintf("%s/%s", strings.TrimRight(cfg.ServerURL, "/"), cfg.Topic)
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(msg.Body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Title", msg.Subject)

	priority := cfg.Priority
	if priority == 0 {
		switch msg.Severity {
		case monitor.SeverityCritical:
			priority = 5
		case monitor.SeverityWarning:
			priority = 4
		default:
			priority = 3
		}
	}
	req.Header.Set("Priority", strconv.Itoa(priority))

	tags := []string{string(msg.Severity)}
	if msg.Action == ActionResolved {
		tags = append(tags, "white_check_mark")
	} else {
		tags = append(tags, "warning")
	}
	req.Header.Set("Tags", strings.Join(tags, ","))

	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	} else if cfg.Username != "" && cfg.Password != "" {
		req.SetBasicAuth(cfg.Username, cfg.Password)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ntfy request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy returned status %d", resp.StatusCode)
	}
	return nil
}
