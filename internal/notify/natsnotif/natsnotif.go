// Package natsnotif publishes run results to a NATS subject.
package natsnotif

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/jamox/tmc-sandbox/api"
)

type Notifier struct {
	nc      *nats.Conn
	subject string
}

func New(url string, subject string) (*Notifier, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return &Notifier{nc: nc, subject: subject}, nil
}

func (n *Notifier) Notify(msg api.Notification) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := n.nc.Publish(n.subject, b); err != nil {
		return fmt.Errorf("failed to publish notification to NATS: %w", err)
	}
	return nil
}

func (n *Notifier) Close() {
	n.nc.Close()
}
