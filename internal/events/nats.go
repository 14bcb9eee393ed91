package events

import (
	"context"

	"github.com/nats-io/nats.go"
)

// NATSPublisher publishes each event on "<subject>.<type>".
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("chatsync"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{nc: nc, subject: subject}, nil
}

func (p *NATSPublisher) Publish(_ context.Context, ev Event) error {
	if p == nil || p.nc == nil {
		return nil
	}
	b, err := ev.Encode()
	if err != nil {
		return err
	}
	return p.nc.Publish(p.subject+"."+string(ev.Type), b)
}

func (p *NATSPublisher) Close() error {
	if p == nil || p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
