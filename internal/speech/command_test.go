package speech

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCommandSynthesizerPassesTextOnStdin(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	out := filepath.Join(dir, "spoken.txt")
	script := writeScript(t, dir, "say.sh", "#!/usr/bin/env bash\necho \"$@\" > '"+out+".args'\ncat > '"+out+"'\n")

	synth := NewCommandSynthesizer(CommandConfig{Command: script, Voice: "en-us", Args: []string{"-s", "160"}})
	if err := synth.Say(context.Background(), "hello there"); err != nil {
		t.Fatalf("say failed: %v", err)
	}

	spoken, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read spoken text: %v", err)
	}
	if string(spoken) != "hello there" {
		t.Fatalf("unexpected stdin: %q", spoken)
	}
	args, err := os.ReadFile(out + ".args")
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	if got := strings.TrimSpace(string(args)); got != "-s 160 -v en-us --stdin" {
		t.Fatalf("unexpected args: %q", got)
	}
}

func TestCommandSynthesizerCancelKillsProgram(t *testing.T) {
	t.Parallel()

	script := writeScript(t, t.TempDir(), "slow.sh", "#!/usr/bin/env bash\nexec sleep 5\n")
	synth := NewCommandSynthesizer(CommandConfig{Command: script})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	started := time.Now()
	err := synth.Say(ctx, "never finishes")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > 2*time.Second {
		t.Fatalf("cancel took too long: %s", elapsed)
	}
}

func TestCommandSynthesizerFailureIncludesStderr(t *testing.T) {
	t.Parallel()

	script := writeScript(t, t.TempDir(), "broken.sh", "#!/usr/bin/env bash\necho 'no voice' 1>&2\nexit 2\n")
	err := NewCommandSynthesizer(CommandConfig{Command: script}).Say(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "no voice") {
		t.Fatalf("expected stderr detail, got %v", err)
	}
}

func TestNewCommandSynthesizerDefaults(t *testing.T) {
	t.Parallel()

	synth := NewCommandSynthesizer(CommandConfig{})
	if synth.cfg.Command != DefaultCommand {
		t.Fatalf("unexpected default command: %q", synth.cfg.Command)
	}
	if got := strings.Join(synth.args(), " "); got != "--stdin" {
		t.Fatalf("unexpected default args: %q", got)
	}
}

func writeScript(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o700); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}
