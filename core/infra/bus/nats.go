package bus

import (
	"errors"
	"time"

	"github.com/cordum/devserver/core/infra/logging"
	"github.com/nats-io/nats.go"
)

// NatsBus is a thin wrapper over a NATS connection that speaks JSON events.
type NatsBus struct {
	nc *nats.Conn
}

// NewNatsBus dials NATS at the provided URL.
func NewNatsBus(url string) (*NatsBus, error) {
	opts := []nats.Option{
		nats.Name("devserver-bridge"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logging.Error("bus", "disconnected from nats", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("bus", "reconnected to nats", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logging.Info("bus", "connection closed")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NatsBus{nc: nc}, nil
}

// Close drains and shuts down the underlying NATS connection.
func (b *NatsBus) Close() {
	if b == nil || b.nc == nil {
		return
	}
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
	}
}

// Publish sends a JSON-encoded event on the given subject.
func (b *NatsBus) Publish(subject string, evt *Event) error {
	if b == nil || b.nc == nil {
		return errNilBus
	}
	if subject == "" {
		return errEmptyTopic
	}
	data, err := Encode(evt)
	if err != nil {
		return err
	}
	return b.nc.Publish(subject, data)
}

// Subscribe decodes events on subject and invokes handler for each.
func (b *NatsBus) Subscribe(subject string, handler func(*Event)) (func() error, error) {
	if b == nil || b.nc == nil {
		return nil, errNilBus
	}
	if subject == "" {
		return nil, errEmptyTopic
	}
	if handler == nil {
		return nil, errors.New("nil handler")
	}
	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		evt, err := Decode(msg.Data)
		if err != nil {
			logging.Error("bus", "failed to decode event", "subject", msg.Subject, "error", err)
			return
		}
		handler(evt)
	})
	if err != nil {
		return nil, err
	}
	return sub.Unsubscribe, nil
}

func (b *NatsBus) IsConnected() bool {
	return b != nil && b.nc != nil && b.nc.IsConnected()
}

func (b *NatsBus) Status() string {
	if b == nil || b.nc == nil {
		return "UNKNOWN"
	}
	return b.nc.Status().String()
}
