// Package alert plays the audio cue that accompanies new toasts.
package alert

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/reclamflow/feed/pkg/logger"
)

// PreferenceKey is where the mute preference is persisted.
const PreferenceKey = "soundEnabled"

type preferenceStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Coordinator keeps at most one cue playing. Starting a cue stops the one
// in flight first.
type Coordinator struct {
	player Player
	prefs  preferenceStore
	logg   *logger.Logger

	mu      sync.Mutex
	current *playback
}

type playback struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCoordinator wires a player to the store holding the mute preference.
func NewCoordinator(player Player, prefs preferenceStore, logg *logger.Logger) (*Coordinator, error) {
	if player == nil {
		player = Nop{}
	}
	if prefs == nil {
		return nil, errors.New("preference store required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &Coordinator{player: player, prefs: prefs, logg: logg}, nil
}

// Cue starts a playback unless sound is muted. It never blocks on the audio
// itself and never reports failures to the caller.
func (c *Coordinator) Cue(ctx context.Context) {
	enabled, err := c.Enabled(ctx)
	if err != nil {
		c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "sound preference unavailable; skipping cue")
		return
	}
	if !enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()

	playCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	pb := &playback{cancel: cancel, done: make(chan struct{})}
	c.current = pb
	go func() {
		defer close(pb.done)
		defer cancel()
		if err := c.player.Play(playCtx); err != nil && !errors.Is(err, context.Canceled) {
			c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "sound cue failed")
		}
	}()
}

// Stop interrupts the cue in flight, if any, and waits for it to exit.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Coordinator) stopLocked() {
	if c.current == nil {
		return
	}
	c.current.cancel()
	<-c.current.done
	c.current = nil
}

// Enabled reads the persisted preference. Sound is on until muted; an
// unreadable value counts as on.
func (c *Coordinator) Enabled(ctx context.Context) (bool, error) {
	raw, found, err := c.prefs.Get(ctx, PreferenceKey)
	if err != nil {
		return false, fmt.Errorf("load %s: %w", PreferenceKey, err)
	}
	if !found {
		return true, nil
	}
	enabled, err := strconv.ParseBool(raw)
	if err != nil {
		c.logg.Warn(c.logg.WithField(ctx, "value", raw), "malformed sound preference; treating as enabled")
		return true, nil
	}
	return enabled, nil
}

// SetEnabled persists the preference. Muting also silences the cue in flight.
func (c *Coordinator) SetEnabled(ctx context.Context, enabled bool) error {
	if err := c.prefs.Set(ctx, PreferenceKey, strconv.FormatBool(enabled)); err != nil {
		return fmt.Errorf("save %s: %w", PreferenceKey, err)
	}
	if !enabled {
		c.Stop()
	}
	return nil
}
