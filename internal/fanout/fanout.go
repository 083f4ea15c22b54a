package fanout

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/solboy/solalerts/internal/domain"
	"github.com/solboy/solalerts/internal/metrics"
)

const (
	deliverRetries = 2
	retryGap       = time.Second
	deliverTimeout = 10 * time.Second
)

// ErrPermanent marks a recipient that will never accept delivery, such
// as a closed group. Wrap delivery errors with it to have the recipient
// removed from the registry.
var ErrPermanent = errors.New("recipient permanently unreachable")

// Deliverer sends one record to one subscriber. Implementations live at
// the edge (chat transport, webhook); the pipeline only sees errors.
type Deliverer interface {
	Deliver(ctx context.Context, sub domain.Subscriber, rec domain.AlertRecord) error
}

// Fanout consumes persisted records from a bounded channel and fans them
// out to matching subscribers. Tier-1 records additionally go to the
// broadcast channel when one is configured.
type Fanout struct {
	registry  *Registry
	deliverer Deliverer
	broadcast string
	log       zerolog.Logger

	in   chan domain.AlertRecord
	done chan struct{}
}

// New starts the fanout loop over a channel of the given capacity.
func New(registry *Registry, deliverer Deliverer, broadcast string, buffer int, log zerolog.Logger) *Fanout {
	f := &Fanout{
		registry:  registry,
		deliverer: deliverer,
		broadcast: broadcast,
		log:       log.With().Str("component", "fanout").Logger(),
		in:        make(chan domain.AlertRecord, buffer),
		done:      make(chan struct{}),
	}
	go f.run()
	return f
}

// Offer enqueues a record without blocking. Overflow drops the record;
// the durable log already holds it.
func (f *Fanout) Offer(rec domain.AlertRecord) {
	select {
	case f.in <- rec:
	default:
		metrics.FanoutDropped.Inc()
		f.log.Warn().Str("id", rec.ID).Msg("fanout buffer full, delivery skipped")
	}
}

// Close drains the channel and stops the loop.
func (f *Fanout) Close() {
	close(f.in)
	<-f.done
}

func (f *Fanout) run() {
	defer close(f.done)
	for rec := range f.in {
		f.dispatch(rec)
	}
}

func (f *Fanout) dispatch(rec domain.AlertRecord) {
	subs := f.registry.Matching(rec.Tier)
	if rec.Tier == 1 && f.broadcast != "" {
		subs = append(subs, domain.Subscriber{ID: f.broadcast, Kind: "group"})
	}
	for _, sub := range subs {
		f.deliverOne(sub, rec)
	}
}

// deliverOne retries transient failures; a permanent failure removes the
// subscriber from the registry.
func (f *Fanout) deliverOne(sub domain.Subscriber, rec domain.AlertRecord) {
	var lastErr error
	for attempt := 0; attempt <= deliverRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(retryGap)
		}
		ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
		lastErr = f.deliverer.Deliver(ctx, sub, rec)
		cancel()
		if lastErr == nil {
			return
		}
		if errors.Is(lastErr, ErrPermanent) {
			metrics.DeliveryFailures.WithLabelValues("permanent").Inc()
			f.log.Warn().Str("subscriber", sub.ID).Msg("removing unreachable subscriber")
			if err := f.registry.Remove(sub.ID); err != nil {
				f.log.Error().Err(err).Msg("registry persist failed")
			}
			return
		}
	}
	metrics.DeliveryFailures.WithLabelValues("transient").Inc()
	f.log.Warn().Err(lastErr).Str("subscriber", sub.ID).Str("id", rec.ID).Msg("delivery failed")
}
