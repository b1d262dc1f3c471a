package alerts

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bitranox/check-zpools-sub001/pkg/monitor"
)

func testMessage() Message {
	return Message{
		ID:        "a2c4",
		Subject:   "[CRITICAL] zpool tank health on testhost",
		Body:      "pool state is FAULTED",
		Severity:  monitor.SeverityCritical,
		Pool:      "tank",
		Category:  monitor.CategoryHealth,
		Action:    ActionFired,
		Detail:    "pool state is FAULTED",
		Timestamp: time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestWebhookDelivery(t *testing.T) {
	var (
		gotMethod string
		gotCT     string
		gotSig    string
		gotToken  string
		gotBody   []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotCT = r.Header.Get("Content-Type")
		gotSig = r.Header.Get("X-Signature")
		gotToken = r.Header.Get("X-Token")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(zerolog.Nop(), nil, &WebhookConfig{
		URL:     srv.URL,
		Headers: map[string]string{"X-Token": "hunter2"},
		Secret:  "s3cret",
	}, nil)
	if !d.HasChannels() {
		t.Fatal("webhook channel should count as configured")
	}
	if err := d.Send(testMessage()); err != nil {
		t.Fatalf("send: %v", err)
	}

	if gotMethod != http.MethodPost || gotCT != "application/json" || gotToken != "hunter2" {
		t.Errorf("request method=%s ct=%s token=%s", gotMethod, gotCT, gotToken)
	}
	var decoded Message
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("payload not json: %v", err)
	}
	if decoded.Pool != "tank" || decoded.Severity != monitor.SeverityCritical || decoded.Action != ActionFired {
		t.Errorf("payload differs: %+v", decoded)
	}

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(gotBody)
	if want := hex.EncodeToString(mac.Sum(nil)); gotSig != want {
		t.Errorf("signature = %s, want %s", gotSig, want)
	}
}

func TestWebhookServerErrorReportsChannel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewDispatcher(zerolog.Nop(), nil, &WebhookConfig{URL: srv.URL}, nil)
	err := d.Send(testMessage())
	if err == nil {
		t.Fatal("want error on 500")
	}
	var nerr *NotificationError
	if !errors.As(err, &nerr) || nerr.Channel != "webhook" {
		t.Fatalf("want webhook NotificationError, got %v", err)
	}
}

func TestNtfyHeaders(t *testing.T) {
	var gotTitle, gotPriority, gotTags, gotAuth, gotPath string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotTitle = r.Header.Get("Title")
		gotPriority = r.Header.Get("Priority")
		gotTags = r.Header.Get("Tags")
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(zerolog.Nop(), nil, nil, &NtfyConfig{
		ServerURL: srv.URL + "/",
		Topic:     "zpool-alerts",
		Token:     "tk_abc",
	})
	msg := testMessage()
	if err := d.Send(msg); err != nil {
		t.Fatalf("send: %v", err)
	}

	if gotPath != "/zpool-alerts" {
		t.Errorf("path = %s", gotPath)
	}
	if gotTitle != msg.Subject || string(gotBody) != msg.Body {
		t.Errorf("title=%q body=%q", gotTitle, gotBody)
	}
	if gotPriority != "5" {
		t.Errorf("critical priority = %s, want 5", gotPriority)
	}
	if gotTags != "CRITICAL,warning" {
		t.Errorf("tags = %s", gotTags)
	}
	if gotAuth != "Bearer tk_abc" {
		t.Errorf("auth = %s", gotAuth)
	}
}

func TestNtfyRecoveryPriority(t *testing.T) {
	var gotPriority, gotTags string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPriority = r.Header.Get("Priority")
		gotTags = r.Header.Get("Tags")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(zerolog.Nop(), nil, nil, &NtfyConfig{ServerURL: srv.URL, Topic: "t"})
	msg := testMessage()
	msg.Severity = monitor.SeverityOK
	msg.Action = ActionResolved
	if err := d.Send(msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotPriority != "3" {
		t.Errorf("recovery priority = %s, want 3", gotPriority)
	}
	if !strings.Contains(gotTags, "white_check_mark") {
		t.Errorf("recovery tags = %s", gotTags)
	}
}

func TestSendLogsFailedChannel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	d := NewDispatcher(zerolog.New(&buf), nil, &WebhookConfig{URL: srv.URL}, nil)
	if err := d.Send(testMessage()); err == nil {
		t.Fatal("want error on 502")
	}
	out := buf.String()
	if !strings.Contains(out, `"channel":"webhook"`) || !strings.Contains(out, "channel delivery failed") {
		t.Fatalf("failure not logged with its channel: %s", out)
	}
}

func TestNoChannels(t *testing.T) {
	d := NewDispatcher(zerolog.Nop(), nil, nil, nil)
	if d.HasChannels() {
		t.Fatal("no channels configured")
	}
	if err := d.Send(testMessage()); err != nil {
		t.Fatalf("send with no channels must be a no-op, got %v", err)
	}
}

func TestEmailBodyRendering(t *testing.T) {
	d := NewDispatcher(zerolog.Nop(), &EmailConfig{}, nil, nil)

	body := d.formatEmailBody(testMessage())
	for _, want := range []string{"tank", "health", "CRITICAL", "pool state is FAULTED", "#dc3545"} {
		if !strings.Contains(body, want) {
			t.Errorf("alert body missing %q", want)
		}
	}

	rec := testMessage()
	rec.Action = ActionResolved
	rec.Severity = monitor.SeverityOK
	body = d.formatEmailBody(rec)
	if !strings.Contains(body, "#28a745") {
		t.Error("recovery body should use the resolved color")
	}
}
