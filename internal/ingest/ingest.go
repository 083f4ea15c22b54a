// Package ingest maintains one streaming session per configured source
// and feeds raw messages into the pipeline. Sessions reconnect with
// exponential backoff; only authentication failures are fatal.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/solboy/solalerts/internal/config"
	"github.com/solboy/solalerts/internal/domain"
	"github.com/solboy/solalerts/internal/metrics"
)

// ErrAuth marks a credential rejection. The manager stops the whole
// ingest layer when any source hits it; retrying bad credentials only
// gets the account banned.
var ErrAuth = errors.New("source authentication failed")

// Conn is one live stream. Next blocks until a message or an error.
type Conn interface {
	Next(ctx context.Context) (wireMessage, error)
	Close() error
}

// Transport dials one source.
type Transport interface {
	Connect(ctx context.Context) (Conn, error)
}

// wireMessage is the upstream frame shape shared by both transports.
type wireMessage struct {
	ThreadID string          `json:"threadId"`
	SentAt   time.Time       `json:"sentAt"`
	Text     string          `json:"text"`
	Entities []domain.Entity `json:"entities"`
}

// Manager runs all source sessions and multiplexes their messages onto
// per-source bounded buffers drained by the parser workers.
type Manager struct {
	cfg     config.IngestConfig
	log     zerolog.Logger
	out     chan domain.RawMessage
	fatalCh chan error

	wg      sync.WaitGroup
	cancel  context.CancelFunc
	sources []managedSource
}

type managedSource struct {
	src       config.SourceConfig
	transport Transport
}

// NewManager builds a manager over the resolved transports. Out carries
// at most ParserBuffer messages; Fatal delivers the first fatal error.
func NewManager(cfg config.IngestConfig, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		log:     log.With().Str("component", "ingest").Logger(),
		out:     make(chan domain.RawMessage, cfg.ParserBuffer),
		fatalCh: make(chan error, 1),
	}
}

// Add registers a source with its transport. Call before Start.
func (m *Manager) Add(src config.SourceConfig, transport Transport) {
	m.sources = append(m.sources, managedSource{src: src, transport: transport})
}

// Out is the merged message stream.
func (m *Manager) Out() <-chan domain.RawMessage { return m.out }

// Fatal delivers the first unrecoverable ingest error.
func (m *Manager) Fatal() <-chan error { return m.fatalCh }

// Start launches one session goroutine per source.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	for _, ms := range m.sources {
		m.wg.Add(1)
		go m.runSource(ctx, ms)
	}
}

// Stop cancels all sessions and waits for them to exit.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	close(m.out)
}

// runSource owns one source's connect/read/reconnect loop. The session
// buffer between the socket and the shared stream bounds the damage a
// slow parser can do: when it fills, the oldest message is dropped.
func (m *Manager) runSource(ctx context.Context, ms managedSource) {
	defer m.wg.Done()
	log := m.log.With().Str("source", ms.src.ID).Logger()
	buffer := make(chan domain.RawMessage, m.cfg.BufferPerSource)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.drain(ctx, ms.src.ID, buffer)
	}()

	backoff := m.cfg.ReconnectBase
	for {
		if ctx.Err() != nil {
			close(buffer)
			return
		}
		conn, err := ms.transport.Connect(ctx)
		if err != nil {
			if errors.Is(err, ErrAuth) {
				log.Error().Err(err).Msg("credential rejected")
				m.fatal(fmt.Errorf("source %s: %w", ms.src.ID, err))
				close(buffer)
				return
			}
			metrics.Reconnects.WithLabelValues(ms.src.ID).Inc()
			log.Warn().Err(err).Dur("backoff", backoff).Msg("connect failed")
			if !sleepCtx(ctx, backoff) {
				close(buffer)
				return
			}
			backoff = nextBackoff(backoff, m.cfg.ReconnectCap)
			continue
		}

		log.Info().Msg("source connected")
		backoff = m.cfg.ReconnectBase
		m.consume(ctx, ms.src, conn, buffer, log)
		conn.Close()
	}
}

func (m *Manager) consume(ctx context.Context, src config.SourceConfig, conn Conn, buffer chan domain.RawMessage, log zerolog.Logger) {
	for {
		wm, err := conn.Next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				metrics.Reconnects.WithLabelValues(src.ID).Inc()
				log.Warn().Err(err).Msg("stream interrupted")
			}
			return
		}
		metrics.MessagesReceived.WithLabelValues(src.ID).Inc()
		msg := domain.RawMessage{
			SourceID:   src.ID,
			ThreadID:   wm.ThreadID,
			SentAt:     wm.SentAt,
			ReceivedAt: time.Now().UTC(),
			Text:       wm.Text,
			Entities:   wm.Entities,
		}
		if src.ThreadID != "" && wm.ThreadID != src.ThreadID {
			continue
		}
		select {
		case buffer <- msg:
		default:
			// Full session buffer: drop the oldest so fresh signal wins.
			select {
			case <-buffer:
				metrics.IngestDropped.WithLabelValues(src.ID).Inc()
			default:
			}
			select {
			case buffer <- msg:
			default:
				metrics.IngestDropped.WithLabelValues(src.ID).Inc()
			}
		}
	}
}

// drain moves the session buffer into the shared parser stream.
func (m *Manager) drain(ctx context.Context, sourceID string, buffer <-chan domain.RawMessage) {
	for msg := range buffer {
		select {
		case m.out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) fatal(err error) {
	select {
	case m.fatalCh <- err:
	default:
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func nextBackoff(cur, ceiling time.Duration) time.Duration {
	next := cur * 2
	if next > ceiling {
		return ceiling
	}
	return next
}

func decodeWire(data []byte) (wireMessage, error) {
	var wm wireMessage
	if err := json.Unmarshal(data, &wm); err != nil {
		return wireMessage{}, fmt.Errorf("decode frame: %w", err)
	}
	return wm, nil
}
