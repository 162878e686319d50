package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/reclamflow/feed/pkg/logger"
)

// Keys of the sets persisted through the KeyValueStore.
const (
	KeySeen = "seenNotificationIds"
	KeyRead = "readNotifications"
)

// KeyValueStore is the durable storage the feed keeps its seen and read sets in.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// persistedSet is a JSON array of strings stored under one key. Every change
// rewrites the whole array.
type persistedSet struct {
	store KeyValueStore
	key   string
	logg  *logger.Logger
}

func (p persistedSet) Load(ctx context.Context) ([]string, error) {
	raw, found, err := p.store.Get(ctx, p.key)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", p.key, err)
	}
	if !found || raw == "" {
		return []string{}, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		// The next write replaces the damaged value.
		p.logg.Warn(p.logg.WithField(ctx, "key", p.key), "discarding malformed persisted set")
		return []string{}, nil
	}
	return values, nil
}

// Members loads the set as a lookup map.
func (p persistedSet) Members(ctx context.Context) (map[string]struct{}, error) {
	values, err := p.Load(ctx)
	if err != nil {
		return nil, err
	}
	members := make(map[string]struct{}, len(values))
	for _, value := range values {
		members[value] = struct{}{}
	}
	return members, nil
}

func (p persistedSet) Contains(ctx context.Context, value string) (bool, error) {
	members, err := p.Members(ctx)
	if err != nil {
		return false, err
	}
	_, ok := members[value]
	return ok, nil
}

// Add appends the values that are not stored yet and writes the array back.
func (p persistedSet) Add(ctx context.Context, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	current, err := p.Load(ctx)
	if err != nil {
		return err
	}
	members := make(map[string]struct{}, len(current))
	for _, value := range current {
		members[value] = struct{}{}
	}
	changed := false
	for _, value := range values {
		if _, ok := members[value]; ok {
			continue
		}
		members[value] = struct{}{}
		current = append(current, value)
		changed = true
	}
	if !changed {
		return nil
	}
	return p.save(ctx, current)
}

func (p persistedSet) Clear(ctx context.Context) error {
	return p.save(ctx, []string{})
}

func (p persistedSet) save(ctx context.Context, values []string) error {
	encoded, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode %s: %w", p.key, err)
	}
	if err := p.store.Set(ctx, p.key, string(encoded)); err != nil {
		return fmt.Errorf("store %s: %w", p.key, err)
	}
	return nil
}
