package ingest

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solboy/solalerts/internal/config"
)

func TestDecodeWire(t *testing.T) {
	wm, err := decodeWire([]byte(`{"threadId":"42","text":"gm","entities":[{"url":"https://x"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "42", wm.ThreadID)
	assert.Equal(t, "gm", wm.Text)
	require.Len(t, wm.Entities, 1)
	assert.Equal(t, "https://x", wm.Entities[0].URL)

	_, err = decodeWire([]byte("not json"))
	assert.Error(t, err)
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, 4*time.Second, nextBackoff(2*time.Second, time.Minute))
	assert.Equal(t, time.Minute, nextBackoff(40*time.Second, time.Minute))
	assert.Equal(t, time.Minute, nextBackoff(time.Minute, time.Minute))
}

// scriptedTransport plays a fixed set of frames, then fails.
type scriptedTransport struct {
	frames   []wireMessage
	authFail bool
	connects int
}

type scriptedConn struct {
	frames []wireMessage
	i      int
}

func (t *scriptedTransport) Connect(ctx context.Context) (Conn, error) {
	t.connects++
	if t.authFail {
		return nil, ErrAuth
	}
	return &scriptedConn{frames: t.frames}, nil
}

func (c *scriptedConn) Next(ctx context.Context) (wireMessage, error) {
	if c.i >= len(c.frames) {
		// Block until cancellation so the manager does not reconnect in a
		// tight loop during the test.
		<-ctx.Done()
		return wireMessage{}, io.EOF
	}
	wm := c.frames[c.i]
	c.i++
	return wm, nil
}

func (c *scriptedConn) Close() error { return nil }

func testIngestConfig() config.IngestConfig {
	return config.IngestConfig{
		BufferPerSource: 16,
		ParserBuffer:    16,
		ReconnectBase:   10 * time.Millisecond,
		ReconnectCap:    50 * time.Millisecond,
	}
}

func TestManagerDeliversMessages(t *testing.T) {
	m := NewManager(testIngestConfig(), zerolog.Nop())
	m.Add(config.SourceConfig{ID: "buys", Kind: "buy_feed"}, &scriptedTransport{
		frames: []wireMessage{
			{Text: "first", SentAt: time.Now()},
			{Text: "second", SentAt: time.Now()},
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)

	var got []string
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case msg := <-m.Out():
			assert.Equal(t, "buys", msg.SourceID)
			assert.False(t, msg.ReceivedAt.IsZero())
			got = append(got, msg.Text)
		case <-timeout:
			t.Fatal("timed out waiting for messages")
		}
	}
	assert.Equal(t, []string{"first", "second"}, got)

	cancel()
	m.Stop()
}

func TestManagerThreadFilter(t *testing.T) {
	m := NewManager(testIngestConfig(), zerolog.Nop())
	m.Add(config.SourceConfig{ID: "buys", Kind: "buy_feed", ThreadID: "keep"}, &scriptedTransport{
		frames: []wireMessage{
			{ThreadID: "drop", Text: "noise"},
			{ThreadID: "keep", Text: "signal"},
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)

	select {
	case msg := <-m.Out():
		assert.Equal(t, "signal", msg.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}

	cancel()
	m.Stop()
}

func TestManagerAuthFailureIsFatal(t *testing.T) {
	m := NewManager(testIngestConfig(), zerolog.Nop())
	m.Add(config.SourceConfig{ID: "buys", Kind: "buy_feed"}, &scriptedTransport{authFail: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	select {
	case err := <-m.Fatal():
		assert.True(t, errors.Is(err, ErrAuth))
	case <-time.After(2 * time.Second):
		t.Fatal("expected fatal auth error")
	}

	cancel()
	m.Stop()
}
