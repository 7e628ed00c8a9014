// Package bus mirrors notification outcomes onto NATS.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "statuswatch.notifications"

// NotificationEvent describes one dispatched notification.
type NotificationEvent struct {
	RunID       string    `json:"runId"`
	Kind        string    `json:"kind"`
	IncidentIDs []string  `json:"incidentIds"`
	Delivered   bool      `json:"delivered"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

type Publisher struct {
	Conn    *nats.Conn
	subject string
}

func NewPublisher(url, subject string) (*Publisher, error) {
	conn, err := nats.Connect(url, nats.Name("statuswatch"))
	if err != nil {
		return nil, err
	}
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{Conn: conn, subject: subject}, nil
}

func (p *Publisher) Close() {
	if p.Conn != nil {
		_ = p.Conn.Drain()
		p.Conn.Close()
	}
}

// Publish sends evt on the configured subject.
func (p *Publisher) Publish(_ context.Context, evt NotificationEvent) error {
	if p == nil || p.Conn == nil {
		return errors.New("nats publisher not connected")
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.Conn.Publish(p.subject, data)
}

type Subscriber struct {
	Conn *nats.Conn
}

func NewSubscriber(url string) (*Subscriber, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &Subscriber{Conn: conn}, nil
}

func (s *Subscriber) Close() {
	if s.Conn != nil {
		_ = s.Conn.Drain()
		s.Conn.Close()
	}
}

func (s *Subscriber) Subscribe(subject string, handler func(NotificationEvent)) (*nats.Subscription, error) {
	return s.Conn.Subscribe(subject, func(msg *nats.Msg) {
		evt, err := Decode(msg.Data)
		if err != nil {
			return
		}
		handler(evt)
	})
}

// Decode parses a published event.
func Decode(data []byte) (NotificationEvent, error) {
	var evt NotificationEvent
	err := json.Unmarshal(data, &evt)
	return evt, err
}
