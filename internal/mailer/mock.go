package mailer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// SentMessage is a message captured by MockMailer.
type SentMessage struct {
	To      string
	Subject string
	Body    string
}

// MockMailer records deliveries in memory. Addresses in FailFor are rejected; Delay holds every
// send until it elapses or the context ends.
type MockMailer struct {
	mu      sync.Mutex
	sent    []SentMessage
	failFor map[string]error
	Delay   time.Duration
}

func NewMockMailer() *MockMailer {
	return &MockMailer{failFor: make(map[string]error)}
}

// FailFor makes deliveries to addr fail with err, or a generic rejection when err is nil.
func (m *MockMailer) FailFor(addr string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		err = fmt.Errorf("550 mailbox unavailable: %s", addr)
	}
	m.failFor[strings.ToLower(addr)] = err
}

func (m *MockMailer) Send(ctx context.Context, to, subject, body string) error {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failFor[strings.ToLower(to)]; ok {
		return err
	}
	m.sent = append(m.sent, SentMessage{To: to, Subject: subject, Body: body})
	return nil
}

// Sent returns a copy of the delivered messages.
func (m *MockMailer) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}
