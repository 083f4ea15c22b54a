package mirror

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/solboy/solalerts/internal/domain"
	"github.com/solboy/solalerts/internal/metrics"
)

const (
	// Appends landing inside one interval are pushed as a single batch.
	coalesceInterval = 2 * time.Second
	// A batch this large is pushed immediately instead of waiting for
	// the ticker.
	coalesceBatchMax = 3
	pushTimeout      = 5 * time.Second
	pushRetries      = 2
)

// Committer coalesces appended records and pushes them to the remote
// store in the background.
type Committer struct {
	store Store
	log   zerolog.Logger

	notify chan domain.AlertRecord
	done   chan struct{}
}

// NewCommitter starts the background push loop.
func NewCommitter(store Store, log zerolog.Logger) *Committer {
	c := &Committer{
		store:  store,
		log:    log.With().Str("component", "mirror").Logger(),
		notify: make(chan domain.AlertRecord, 256),
		done:   make(chan struct{}),
	}
	go c.run()
	return c
}

// Offer hands a freshly appended record to the push loop. A full queue
// drops the record; the next reconcile pass catches it up.
func (c *Committer) Offer(rec domain.AlertRecord) {
	select {
	case c.notify <- rec:
	default:
		metrics.MirrorFailures.Inc()
		c.log.Warn().Str("id", rec.ID).Msg("mirror queue full, record deferred to reconcile")
	}
}

// Close flushes the pending batch and stops the loop.
func (c *Committer) Close() {
	close(c.notify)
	<-c.done
}

func (c *Committer) run() {
	defer close(c.done)
	ticker := time.NewTicker(coalesceInterval)
	defer ticker.Stop()

	var pending []domain.AlertRecord
	for {
		select {
		case rec, ok := <-c.notify:
			if !ok {
				c.push(pending)
				return
			}
			pending = append(pending, rec)
			if len(pending) >= coalesceBatchMax {
				c.push(pending)
				pending = nil
			}
		case <-ticker.C:
			if len(pending) > 0 {
				c.push(pending)
				pending = nil
			}
		}
	}
}

func (c *Committer) push(recs []domain.AlertRecord) {
	if len(recs) == 0 {
		return
	}
	var lastErr error
	for attempt := 0; attempt <= pushRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		lastErr = c.store.Put(ctx, recs)
		cancel()
		if lastErr == nil {
			c.log.Debug().Int("records", len(recs)).Msg("mirror push")
			return
		}
	}
	metrics.MirrorFailures.Inc()
	c.log.Warn().Err(lastErr).Int("records", len(recs)).Msg("mirror push failed")
}

// Reconcile pulls remote records whose ids are absent locally. It is run
// once at startup so a log restored from an empty disk converges with
// the mirror.
func Reconcile(ctx context.Context, store Store, local []domain.AlertRecord) ([]domain.AlertRecord, error) {
	remoteIDs, err := store.IDs(ctx)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(local))
	for _, r := range local {
		have[r.ID] = true
	}
	var missing []string
	for _, id := range remoteIDs {
		if !have[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}
	return store.Fetch(ctx, missing)
}
