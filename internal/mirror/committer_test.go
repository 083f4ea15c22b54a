package mirror

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solboy/solalerts/internal/domain"
	"github.com/solboy/solalerts/internal/emit"
)

// The committer rides the emitter's sink chain next to the fanout.
var _ emit.Sink = (*Committer)(nil)

type memStore struct {
	mu      sync.Mutex
	records map[string]domain.AlertRecord
	puts    int
	failPut bool
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]domain.AlertRecord)}
}

func (s *memStore) Put(ctx context.Context, recs []domain.AlertRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if s.failPut {
		return errors.New("mirror down")
	}
	for _, r := range recs {
		s.records[r.ID] = r
	}
	return nil
}

func (s *memStore) IDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *memStore) Fetch(ctx context.Context, ids []string) ([]domain.AlertRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AlertRecord
	for _, id := range ids {
		if r, ok := s.records[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func rec(id string) domain.AlertRecord {
	return domain.AlertRecord{ID: id, Token: "TOK", Tier: 2, Timestamp: time.Now().UTC().Format(time.RFC3339)}
}

func TestCommitterPushesOnClose(t *testing.T) {
	store := newMemStore()
	c := NewCommitter(store, zerolog.Nop())

	c.Offer(rec("A"))
	c.Offer(rec("B"))
	c.Close()

	assert.Equal(t, 2, store.count())
}

func TestCommitterCoalesces(t *testing.T) {
	store := newMemStore()
	c := NewCommitter(store, zerolog.Nop())

	for i := 0; i < 5; i++ {
		c.Offer(rec(string(rune('A' + i))))
	}
	c.Close()

	assert.Equal(t, 5, store.count())
	// Five records travel as one full batch plus the close flush, not
	// five round trips.
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, 2, store.puts)
}

func TestCommitterSurvivesStoreFailure(t *testing.T) {
	store := newMemStore()
	store.failPut = true
	c := NewCommitter(store, zerolog.Nop())

	c.Offer(rec("A"))
	c.Close()

	assert.Equal(t, 0, store.count())
}

func TestReconcile(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Put(context.Background(), []domain.AlertRecord{rec("A"), rec("B"), rec("C")}))

	local := []domain.AlertRecord{rec("A")}
	missing, err := Reconcile(context.Background(), store, local)
	require.NoError(t, err)

	ids := map[string]bool{}
	for _, r := range missing {
		ids[r.ID] = true
	}
	assert.Equal(t, map[string]bool{"B": true, "C": true}, ids)
}

func TestReconcileNothingMissing(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Put(context.Background(), []domain.AlertRecord{rec("A")}))

	missing, err := Reconcile(context.Background(), store, []domain.AlertRecord{rec("A")})
	require.NoError(t, err)
	assert.Empty(t, missing)
}
