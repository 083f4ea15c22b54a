package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
)

// NatsTransport subscribes to one subject on a NATS relay. Reconnection
// is handled by the manager, so the client itself never retries.
type NatsTransport struct {
	URL     string
	Subject string
	Token   string
}

type natsConn struct {
	nc  *nats.Conn
	sub *nats.Subscription
	ch  chan *nats.Msg
}

func (t *NatsTransport) Connect(ctx context.Context) (Conn, error) {
	opts := []nats.Option{
		nats.Timeout(10 * time.Second),
		nats.RetryOnFailedConnect(false),
		nats.MaxReconnects(0),
	}
	if t.Token != "" {
		opts = append(opts, nats.Token(t.Token))
	}
	url := t.URL
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		if errors.Is(err, nats.ErrAuthorization) {
			return nil, ErrAuth
		}
		return nil, err
	}
	ch := make(chan *nats.Msg, 64)
	sub, err := nc.ChanSubscribe(t.Subject, ch)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return &natsConn{nc: nc, sub: sub, ch: ch}, nil
}

func (c *natsConn) Next(ctx context.Context) (wireMessage, error) {
	select {
	case msg, ok := <-c.ch:
		if !ok {
			return wireMessage{}, nats.ErrConnectionClosed
		}
		return decodeWire(msg.Data)
	case <-ctx.Done():
		return wireMessage{}, ctx.Err()
	}
}

func (c *natsConn) Close() error {
	c.sub.Unsubscribe()
	c.nc.Close()
	return nil
}
