// Package fanout delivers persisted alerts to the external subscriber
// registry. Delivery is strictly after the durable append; a fanout
// failure never rolls an alert back.
package fanout

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/solboy/solalerts/internal/domain"
)

// Registry is the subscriber list, loaded from the JSON file the chat
// bot maintains. The pipeline only removes entries that turn out to be
// permanently unreachable.
type Registry struct {
	mu   sync.Mutex
	path string
	subs []domain.Subscriber
}

// LoadRegistry reads the registry file. A missing file is an empty
// registry.
func LoadRegistry(path string) (*Registry, error) {
	r := &Registry{path: path}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("read registry: %w", err)
	}
	if len(b) > 0 {
		if err := json.Unmarshal(b, &r.subs); err != nil {
			return nil, fmt.Errorf("parse registry: %w", err)
		}
	}
	return r, nil
}

// Matching returns the subscribers whose tier filter admits tier.
func (r *Registry) Matching(tier int) []domain.Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Subscriber
	for _, s := range r.subs {
		if s.Wants(tier) {
			out = append(out, s)
		}
	}
	return out
}

// Remove drops a subscriber and persists the registry. Persist failures
// are returned but the in-memory removal sticks.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.subs[:0]
	removed := false
	for _, s := range r.subs {
		if s.ID == id {
			removed = true
			continue
		}
		kept = append(kept, s)
	}
	r.subs = kept
	if !removed {
		return nil
	}
	return r.persist()
}

// Len reports the subscriber count.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Counts reports the registered users and groups separately.
func (r *Registry) Counts() (users, groups int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.Kind == "group" {
			groups++
		} else {
			users++
		}
	}
	return users, groups
}

func (r *Registry) persist() error {
	data, err := json.MarshalIndent(r.subs, "", "  ")
	if err != nil {
		return err
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}
