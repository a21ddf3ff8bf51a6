package speech

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	DefaultCommand = "espeak-ng"

	killWait = 200 * time.Millisecond
)

// CommandConfig selects the text-to-speech program.
type CommandConfig struct {
	Command string
	Voice   string
	// Args are passed before the voice flag.
	Args []string
}

// CommandSynthesizer speaks each utterance by running a TTS program that
// reads text on stdin, espeak-ng by default.
type CommandSynthesizer struct {
	cfg CommandConfig
}

func NewCommandSynthesizer(cfg CommandConfig) *CommandSynthesizer {
	if cfg.Command == "" {
		cfg.Command = DefaultCommand
	}
	return &CommandSynthesizer{cfg: cfg}
}

// Say blocks until the program exits. Cancelling ctx kills it.
func (s *CommandSynthesizer) Say(ctx context.Context, text string) error {
	cmd := exec.CommandContext(ctx, s.cfg.Command, s.args()...)
	cmd.Stdin = strings.NewReader(text)
	cmd.WaitDelay = killWait
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		if detail := strings.TrimSpace(stderr.String()); detail != "" {
			return fmt.Errorf("%s failed: %w: %s", s.cfg.Command, err, detail)
		}
		return fmt.Errorf("%s failed: %w", s.cfg.Command, err)
	}
	return nil
}

func (s *CommandSynthesizer) args() []string {
	args := append([]string(nil), s.cfg.Args...)
	if s.cfg.Voice != "" {
		args = append(args, "-v", s.cfg.Voice)
	}
	return append(args, "--stdin")
}
