package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

func smsNotification(sid string) *domain.Notification {
	return &domain.Notification{
		ID:   "n-sms",
		Type: domain.NotificationSMS,
		SMS:  &domain.SMSMessage{To: "+15550000000", Body: "order shipped"},
		Credentials: domain.NotificationCredentials{
			Twilio: &domain.TwilioCredentials{AccountSID: sid, AuthToken: "secret", From: "+15551111111"},
		},
	}
}

func emailNotification() *domain.Notification {
	return &domain.Notification{
		ID:    "n-email",
		Type:  domain.NotificationEmail,
		Email: &domain.EmailMessage{To: "ann@example.com", Subject: "Hi\r\nBcc: x", Text: "line1\nline2"},
		Credentials: domain.NotificationCredentials{
			Email: &domain.EmailCredentials{User: "bot@example.com", Pass: "pw"},
		},
	}
}

// --- SMSSender Tests ---

func TestSMSSender_Success(t *testing.T) {
	var gotPath, gotUser, gotPass string
	var gotForm url.Values

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, gotPass, _ = r.BasicAuth()
		body, _ := io.ReadAll(r.Body)
		gotForm, _ = url.ParseQuery(string(body))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"sid": "SM1", "status": "queued"})
	}))
	defer server.Close()

	sender := NewSMSSender(SMSConfig{BaseURL: server.URL})
	if err := sender.Send(context.Background(), smsNotification("AC123")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/2010-04-01/Accounts/AC123/Messages.json" {
		t.Errorf("unexpected path %s", gotPath)
	}
	if gotUser != "AC123" || gotPass != "secret" {
		t.Errorf("unexpected basic auth %s:%s", gotUser, gotPass)
	}
	if gotForm.Get("To") != "+15550000000" || gotForm.Get("From") != "+15551111111" || gotForm.Get("Body") != "order shipped" {
		t.Errorf("unexpected form %v", gotForm)
	}
}

func TestSMSSender_ErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"bad request is rejected", http.StatusBadRequest, ErrDeliveryRejected},
		{"unauthorized is rejected", http.StatusUnauthorized, ErrDeliveryRejected},
		{"rate limit is temporary", http.StatusTooManyRequests, ErrDeliveryFailed},
		{"server error is temporary", http.StatusBadGateway, ErrDeliveryFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"code": 21211, "message": "The 'To' number is not valid"}`))
			}))
			defer server.Close()

			err := NewSMSSender(SMSConfig{BaseURL: server.URL}).Send(context.Background(), smsNotification("AC1"))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if !strings.Contains(err.Error(), "is not valid") {
				t.Errorf("expected provider message in error, got %v", err)
			}
		})
	}
}

func TestSMSSender_MissingCredentials(t *testing.T) {
	n := smsNotification("")
	err := NewSMSSender(SMSConfig{BaseURL: "http://127.0.0.1:1"}).Send(context.Background(), n)
	if !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("expected ErrMissingCredentials, got %v", err)
	}
}

// --- EmailSender Tests ---

func TestEmailSender_Send(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg string

	sender := NewEmailSender(EmailConfig{
		Addr: "smtp.example.com:2525",
		SendMail: func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
			gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, string(msg)
			return nil
		},
	})

	if err := sender.Send(context.Background(), emailNotification()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotAddr != "smtp.example.com:2525" || gotFrom != "bot@example.com" {
		t.Errorf("unexpected envelope %s from %s", gotAddr, gotFrom)
	}
	if len(gotTo) != 1 || gotTo[0] != "ann@example.com" {
		t.Errorf("unexpected recipients %v", gotTo)
	}
	if !strings.Contains(gotMsg, "Subject: Hi  Bcc: x\r\n") {
		t.Errorf("subject must not inject headers: %q", gotMsg)
	}
	if !strings.HasSuffix(gotMsg, "\r\n\r\nline1\r\nline2") {
		t.Errorf("unexpected body: %q", gotMsg)
	}
}

func TestEmailSender_Errors(t *testing.T) {
	tests := []struct {
		name    string
		smtpErr error
		mutate  func(n *domain.Notification)
		wantErr error
	}{
		{"permanent smtp reply", errors.New("535 5.7.8 Username and Password not accepted"), nil, ErrDeliveryRejected},
		{"temporary smtp reply", errors.New("421 4.7.0 Try again later"), nil, ErrDeliveryFailed},
		{"connection error", errors.New("dial tcp: connection refused"), nil, ErrDeliveryFailed},
		{"no credentials", nil, func(n *domain.Notification) { n.Credentials.Email = nil }, ErrMissingCredentials},
		{"no recipient", nil, func(n *domain.Notification) { n.Email.To = "" }, ErrInvalidNotification},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := NewEmailSender(EmailConfig{
				SendMail: func(string, smtp.Auth, string, []string, []byte) error { return tt.smtpErr },
			})
			n := emailNotification()
			if tt.mutate != nil {
				tt.mutate(n)
			}
			if err := sender.Send(context.Background(), n); !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

// --- Worker Tests ---

// scriptSender возвращает ошибки из списка по очереди, затем nil.
type scriptSender struct {
	channel domain.NotificationType
	errs    []error

	mu    sync.Mutex
	calls int
}

func (s *scriptSender) Channel() domain.NotificationType { return s.channel }

func (s *scriptSender) Send(context.Context, *domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= len(s.errs) {
		return s.errs[s.calls-1]
	}
	return nil
}

func newTestWorker(sender Sender, metrics *telemetry.Metrics) *Worker {
	registry := &Registry{senders: map[domain.NotificationType]Sender{}}
	registry.Register(sender)
	return New(Config{
		Registry:     registry,
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Metrics:      metrics,
	})
}

func TestWorker_DeliverRetriesTemporaryErrors(t *testing.T) {
	sender := &scriptSender{
		channel: domain.NotificationSMS,
		errs:    []error{ErrDeliveryFailed, ErrDeliveryFailed},
	}
	metrics := telemetry.NewMetrics(nil)
	w := newTestWorker(sender, metrics)

	if err := w.Deliver(context.Background(), smsNotification("AC1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sender.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", sender.calls)
	}

	if got := notificationCount(t, metrics, "sms", "delivered"); got != 1 {
		t.Errorf("expected 1 delivered sms, got %v", got)
	}
}

// notificationCount возвращает значение conveyor_notifications_total для меток.
func notificationCount(t *testing.T, metrics *telemetry.Metrics, notificationType, outcome string) float64 {
	t.Helper()
	families, err := metrics.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != "conveyor_notifications_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["type"] == notificationType && labels["outcome"] == outcome {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestWorker_DeliverGivesUp(t *testing.T) {
	sender := &scriptSender{
		channel: domain.NotificationSMS,
		errs:    []error{ErrDeliveryFailed, ErrDeliveryFailed, ErrDeliveryFailed, ErrDeliveryFailed},
	}
	w := newTestWorker(sender, nil)

	err := w.Deliver(context.Background(), smsNotification("AC1"))
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
	if sender.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", sender.calls)
	}
}

func TestWorker_DeliverDoesNotRetryRejected(t *testing.T) {
	sender := &scriptSender{channel: domain.NotificationSMS, errs: []error{ErrDeliveryRejected}}
	w := newTestWorker(sender, nil)

	err := w.Deliver(context.Background(), smsNotification("AC1"))
	if !errors.Is(err, ErrDeliveryRejected) {
		t.Fatalf("expected ErrDeliveryRejected, got %v", err)
	}
	if sender.calls != 1 {
		t.Errorf("expected 1 attempt, got %d", sender.calls)
	}
}

func TestWorker_HandleNotification(t *testing.T) {
	sender := &scriptSender{channel: domain.NotificationSMS}
	w := newTestWorker(sender, nil)

	tests := []struct {
		name          string
		payload       any
		wantPermanent bool
		wantErr       bool
	}{
		{name: "delivered", payload: smsNotification("AC1")},
		{name: "unknown channel", payload: map[string]any{"type": "pigeon"}, wantErr: true, wantPermanent: true},
		{name: "malformed payload", payload: []int{1, 2}, wantErr: true, wantPermanent: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// конверт проходит через JSON, как при реальной доставке
			raw, _ := json.Marshal(mq.Message{ID: "m-1", Type: mq.MessageTypeNotification, Payload: tt.payload})
			var msg mq.Message
			if err := json.Unmarshal(raw, &msg); err != nil {
				t.Fatal(err)
			}

			err := w.handleNotification(context.Background(), &mq.Delivery{Message: msg})
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error: %v", err)
			}
			if errors.Is(err, mq.ErrPermanent) != tt.wantPermanent {
				t.Errorf("permanent = %v, want %v (err %v)", errors.Is(err, mq.ErrPermanent), tt.wantPermanent, err)
			}
		})
	}
}

func TestWorker_Backoff(t *testing.T) {
	w := New(Config{InitialDelay: time.Second, MaxDelay: 5 * time.Second})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := w.backoff(tt.attempt); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestWorker_StartWithoutConnection(t *testing.T) {
	w := New(Config{})
	if err := w.Start(context.Background()); !errors.Is(err, mq.ErrNoChannel) {
		t.Errorf("expected ErrNoChannel, got %v", err)
	}
}
