package channels

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/alexnthnz/wishlist-pipeline/internal/config"
)

type fakeSender struct {
	resp *rest.Response
	err  error
	last *mail.SGMailV3
}

func (f *fakeSender) SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error) {
	f.last = email
	return f.resp, f.err
}

func TestEmailChannelSend(t *testing.T) {
	cfg := config.SendGridConfig{FromName: "Acme", FromEmail: "noreply@acme.test"}

	tests := []struct {
		name    string
		resp    *rest.Response
		err     error
		wantErr string
	}{
		{
			name: "accepted",
			resp: &rest.Response{StatusCode: http.StatusAccepted, Headers: map[string][]string{"X-Message-Id": {"abc"}}},
		},
		{
			name:    "rejected",
			resp:    &rest.Response{StatusCode: http.StatusUnauthorized, Body: "bad key"},
			wantErr: "status 401: bad key",
		},
		{
			name:    "transport error",
			err:     errors.New("dial tcp: refused"),
			wantErr: "dial tcp: refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{resp: tt.resp, err: tt.err}
			ch := newEmailChannel(sender, cfg, zap.NewNop())

			err := ch.Send(context.Background(), "buyer@example.com", "Hello", "Body text")
			if tt.wantErr == "" && err != nil {
				t.Fatalf("Send error = %v", err)
			}
			if tt.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tt.wantErr)) {
				t.Fatalf("Send error = %v, want %q", err, tt.wantErr)
			}

			if sender.last == nil {
				t.Fatal("no message was built")
			}
			if sender.last.Subject != "Hello" || sender.last.From.Address != "noreply@acme.test" {
				t.Errorf("message = subject %q from %q", sender.last.Subject, sender.last.From.Address)
			}
			if got := sender.last.Personalizations[0].To[0].Address; got != "buyer@example.com" {
				t.Errorf("to = %q", got)
			}
		})
	}
}

func TestEmailChannelSendHTML(t *testing.T) {
	sender := &fakeSender{resp: &rest.Response{StatusCode: http.StatusAccepted}}
	ch := newEmailChannel(sender, config.SendGridConfig{FromEmail: "noreply@acme.test"}, zap.NewNop())

	if err := ch.SendHTML(context.Background(), "buyer@example.com", "Hi", "text", "<p>html</p>"); err != nil {
		t.Fatal(err)
	}
	content := sender.last.Content
	if len(content) != 2 || content[0].Type != "text/plain" || content[1].Value != "<p>html</p>" {
		t.Errorf("content = %+v", content)
	}

	if err := ch.Send(context.Background(), "buyer@example.com", "Hi", "text"); err != nil {
		t.Fatal(err)
	}
	if len(sender.last.Content) != 1 {
		t.Errorf("plain send built %d parts, want 1", len(sender.last.Content))
	}
}

func TestMockChannelCapturesDeliveries(t *testing.T) {
	m := NewMockChannel(zap.NewNop())
	if err := m.Send(context.Background(), "a@example.com", "S", "B"); err != nil {
		t.Fatal(err)
	}
	sent := m.Sent()
	if len(sent) != 1 || sent[0] != (SentMessage{To: "a@example.com", Subject: "S", Body: "B"}) {
		t.Errorf("sent = %+v", sent)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Send(ctx, "b@example.com", "S", "B"); err == nil {
		t.Error("Send on a cancelled context succeeded")
	}
}

type countingChannel struct{ n atomic.Int32 }

func (c *countingChannel) Send(ctx context.Context, to, subject, body string) error {
	c.n.Add(1)
	return nil
}

func (c *countingChannel) SendHTML(ctx context.Context, to, subject, text, html string) error {
	return c.Send(ctx, to, subject, text)
}

func (c *countingChannel) GetChannelType() string { return "counting" }

func TestRateLimitedHonoursContext(t *testing.T) {
	inner := &countingChannel{}
	limited := WithRateLimit(inner, 0.001, 1)

	if err := limited.Send(context.Background(), "a@example.com", "S", "B"); err != nil {
		t.Fatalf("first send error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := limited.Send(ctx, "a@example.com", "S", "B"); err == nil {
		t.Error("second send should have been throttled")
	}
	if got := inner.n.Load(); got != 1 {
		t.Errorf("inner sends = %d, want 1", got)
	}
	if limited.GetChannelType() != "counting" {
		t.Errorf("channel type = %q", limited.GetChannelType())
	}
}

func TestNewSelectsChannel(t *testing.T) {
	logger := zap.NewNop()

	if _, ok := New(config.ChannelsConfig{Mock: true, SendGrid: config.SendGridConfig{APIKey: "k"}}, logger).(*MockChannel); !ok {
		t.Error("explicit mock did not yield MockChannel")
	}
	if _, ok := New(config.ChannelsConfig{}, logger).(*MockChannel); !ok {
		t.Error("missing api key did not yield MockChannel")
	}
	if _, ok := New(config.ChannelsConfig{SendGrid: config.SendGridConfig{APIKey: "k", RateLimit: 5}}, logger).(*RateLimited); !ok {
		t.Error("rate limit was not applied")
	}
	if _, ok := New(config.ChannelsConfig{SendGrid: config.SendGridConfig{APIKey: "k"}}, logger).(*EmailChannel); !ok {
		t.Error("plain sendgrid channel expected")
	}
}
