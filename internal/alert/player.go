package alert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Player renders one audio cue. Play must return promptly once ctx is done.
type Player interface {
	Play(ctx context.Context) error
}

// Nop plays nothing.
type Nop struct{}

func (Nop) Play(context.Context) error { return nil }

// BellPlayer writes the terminal bell to Out, usually the server console.
type BellPlayer struct {
	Out io.Writer
}

func (b BellPlayer) Play(ctx context.Context) error {
	if b.Out == nil {
		return errors.New("bell output is nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := io.WriteString(b.Out, "\a")
	return err
}

// CommandPlayer runs an external audio player such as
// "paplay /usr/share/sounds/freedesktop/stereo/message.oga".
type CommandPlayer struct {
	name string
	args []string
}

// NewCommandPlayer splits command on whitespace into a program and its arguments.
func NewCommandPlayer(command string) (*CommandPlayer, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, errors.New("sound command is empty")
	}
	return &CommandPlayer{name: fields[0], args: fields[1:]}, nil
}

// Play runs the command to completion. Cancelling ctx kills the process.
func (c *CommandPlayer) Play(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, c.name, c.args...)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("run %s: %w", c.name, err)
	}
	return nil
}
