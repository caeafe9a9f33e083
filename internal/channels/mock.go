package channels

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// SentMessage is a delivery captured by MockChannel
type SentMessage struct {
	To      string
	Subject string
	Body    string
	HTML    string
}

// MockChannel logs deliveries instead of sending them
type MockChannel struct {
	mu     sync.Mutex
	sent   []SentMessage
	logger *zap.Logger
}

// NewMockChannel creates a logging-only channel
func NewMockChannel(logger *zap.Logger) *MockChannel {
	return &MockChannel{logger: logger}
}

func (m *MockChannel) Send(ctx context.Context, to, subject, body string) error {
	return m.SendHTML(ctx, to, subject, body, "")
}

func (m *MockChannel) SendHTML(ctx context.Context, to, subject, text, html string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.sent = append(m.sent, SentMessage{To: to, Subject: subject, Body: text, HTML: html})
	m.mu.Unlock()

	m.logger.Info("Mock email delivered", zap.String("to", to), zap.String("subject", subject))
	return nil
}

// Sent returns a copy of every captured delivery
func (m *MockChannel) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}

func (m *MockChannel) GetChannelType() string {
	return "mock"
}
