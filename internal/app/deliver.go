package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/solboy/solalerts/internal/domain"
)

// natsDeliverer publishes alert records to per-subscriber subjects on
// the relay the chat bot listens on.
type natsDeliverer struct {
	nc *nats.Conn
}

func (d *natsDeliverer) Deliver(ctx context.Context, sub domain.Subscriber, rec domain.AlertRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("alerts.deliver.%s.%s", sub.Kind, sub.ID)
	if err := d.nc.Publish(subject, b); err != nil {
		return err
	}
	return d.nc.FlushWithContext(ctx)
}

// logDeliverer stands in when no relay is configured; alerts are only
// journaled and logged.
type logDeliverer struct {
	log zerolog.Logger
}

func (d *logDeliverer) Deliver(ctx context.Context, sub domain.Subscriber, rec domain.AlertRecord) error {
	d.log.Info().Str("subscriber", sub.ID).Str("id", rec.ID).Int("tier", rec.Tier).
		Msg("alert delivery (no relay configured)")
	return nil
}
