package audio

import (
	"context"
	"fmt"
	"os/exec"
)

// CommandPlayer shells out to an external player binary (ffplay, mpv,
// afplay) for each audio URL. Cancellation kills the process; an abrupt
// cut-off is acceptable for replaced replies.
type CommandPlayer struct {
	binary string
	args   []string
}

// NewCommandPlayer creates a player around the given binary. Extra args
// are passed before the URL.
func NewCommandPlayer(binary string, args ...string) *CommandPlayer {
	if binary == "" {
		binary = "ffplay"
		args = []string{"-nodisp", "-autoexit", "-loglevel", "quiet"}
	}
	return &CommandPlayer{binary: binary, args: args}
}

// Play runs the player to completion for one URL.
func (p *CommandPlayer) Play(ctx context.Context, url string) error {
	args := append(append([]string{}, p.args...), url)
	cmd := exec.CommandContext(ctx, p.binary, args...)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("player %s failed: %w", p.binary, err)
	}
	return nil
}
