// Package kvstore provides string key/value stores used to persist the
// notification feed's seen/read sets and preferences.
package kvstore

import (
	"context"
	"strings"
)

// Store is a durable string key/value store. Get reports found=false for
// missing keys without an error.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// UserNamespace is the key prefix of every feed value owned by userID in a
// shared store.
func UserNamespace(userID string) string {
	return "rf:feed:" + strings.TrimSpace(userID) + ":"
}

// Prefixed namespaces every key of an inner store.
type Prefixed struct {
	inner  Store
	prefix string
}

// WithPrefix wraps inner so that every key is stored as prefix+key.
func WithPrefix(inner Store, prefix string) *Prefixed {
	return &Prefixed{inner: inner, prefix: prefix}
}

func (p *Prefixed) Get(ctx context.Context, key string) (string, bool, error) {
	return p.inner.Get(ctx, p.prefix+key)
}

func (p *Prefixed) Set(ctx context.Context, key, value string) error {
	return p.inner.Set(ctx, p.prefix+key, value)
}
