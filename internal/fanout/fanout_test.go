package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solboy/solalerts/internal/domain"
)

type fakeDeliverer struct {
	mu        sync.Mutex
	delivered []string
	fail      map[string]error
	attempts  map[string]int
}

func newFakeDeliverer() *fakeDeliverer {
	return &fakeDeliverer{fail: map[string]error{}, attempts: map[string]int{}}
}

func (d *fakeDeliverer) Deliver(ctx context.Context, sub domain.Subscriber, rec domain.AlertRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts[sub.ID]++
	if err, ok := d.fail[sub.ID]; ok {
		return err
	}
	d.delivered = append(d.delivered, sub.ID)
	return nil
}

func (d *fakeDeliverer) got() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.delivered...)
}

func writeRegistry(t *testing.T, subs []domain.Subscriber) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "subscriptions.json")
	b, err := json.Marshal(subs)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o644))
	return path
}

func alert(tier int) domain.AlertRecord {
	return domain.AlertRecord{
		ID:        fmt.Sprintf("A_%d", tier),
		Token:     "TOK",
		Tier:      tier,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func TestRegistryMatching(t *testing.T) {
	path := writeRegistry(t, []domain.Subscriber{
		{ID: "all", Kind: "user"},
		{ID: "high-only", Kind: "user", TierFilter: []int{1}},
		{ID: "low", Kind: "group", TierFilter: []int{2, 3}},
	})
	r, err := LoadRegistry(path)
	require.NoError(t, err)

	ids := func(subs []domain.Subscriber) []string {
		out := make([]string, 0, len(subs))
		for _, s := range subs {
			out = append(out, s.ID)
		}
		return out
	}
	assert.ElementsMatch(t, []string{"all", "high-only"}, ids(r.Matching(1)))
	assert.ElementsMatch(t, []string{"all", "low"}, ids(r.Matching(2)))
}

func TestRegistryMissingFileIsEmpty(t *testing.T) {
	r, err := LoadRegistry(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, 0, r.Len())
}

func TestFanoutDeliversToMatchingSubscribers(t *testing.T) {
	path := writeRegistry(t, []domain.Subscriber{
		{ID: "u1", Kind: "user"},
		{ID: "u2", Kind: "user", TierFilter: []int{1}},
	})
	r, err := LoadRegistry(path)
	require.NoError(t, err)

	d := newFakeDeliverer()
	f := New(r, d, "", 16, zerolog.Nop())
	f.Offer(alert(2))
	f.Close()

	assert.Equal(t, []string{"u1"}, d.got())
}

func TestFanoutBroadcastsTier1(t *testing.T) {
	path := writeRegistry(t, []domain.Subscriber{{ID: "u1", Kind: "user"}})
	r, err := LoadRegistry(path)
	require.NoError(t, err)

	d := newFakeDeliverer()
	f := New(r, d, "broadcast", 16, zerolog.Nop())
	f.Offer(alert(1))
	f.Offer(alert(2))
	f.Close()

	got := d.got()
	assert.Contains(t, got, "broadcast")
	// The broadcast channel only sees Tier 1.
	count := 0
	for _, id := range got {
		if id == "broadcast" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestFanoutRemovesPermanentlyUnreachable(t *testing.T) {
	path := writeRegistry(t, []domain.Subscriber{
		{ID: "dead", Kind: "group"},
		{ID: "alive", Kind: "user"},
	})
	r, err := LoadRegistry(path)
	require.NoError(t, err)

	d := newFakeDeliverer()
	d.fail["dead"] = fmt.Errorf("chat closed: %w", ErrPermanent)
	f := New(r, d, "", 16, zerolog.Nop())
	f.Offer(alert(2))
	f.Close()

	assert.Equal(t, 1, r.Len())
	assert.Contains(t, d.got(), "alive")

	// The removal is persisted.
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var subs []domain.Subscriber
	require.NoError(t, json.Unmarshal(b, &subs))
	require.Len(t, subs, 1)
	assert.Equal(t, "alive", subs[0].ID)
}

func TestFanoutRetriesTransientFailures(t *testing.T) {
	path := writeRegistry(t, []domain.Subscriber{{ID: "flaky", Kind: "user"}})
	r, err := LoadRegistry(path)
	require.NoError(t, err)

	d := newFakeDeliverer()
	d.fail["flaky"] = errors.New("temporarily unavailable")
	f := New(r, d, "", 16, zerolog.Nop())
	f.Offer(alert(2))
	f.Close()

	d.mu.Lock()
	defer d.mu.Unlock()
	assert.Equal(t, 1+deliverRetries, d.attempts["flaky"])
	// Transient failures never remove the subscriber.
	assert.Equal(t, 1, r.Len())
}
