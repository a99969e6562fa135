package cmdexec

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/creack/pty"
	"github.com/mattn/go-isatty"
)

// CredentialSource supplies a sudo password when a PTY-mode command prompts
// for one. A clean design exposes exactly two sources behind this interface:
// a cached credential and an interactive terminal prompt; RunPTY refuses to
// proceed if neither is available in a non-interactive session.
type CredentialSource interface {
	// Credential returns the password to answer a sudo prompt with, or ok
	// false if this source cannot supply one.
	Credential() (password string, ok bool)
}

// CachedCredential is a CredentialSource backed by a fixed string, typically
// sourced from a secrets store by the caller.
type CachedCredential string

func (c CachedCredential) Credential() (string, bool) {
	if c == "" {
		return "", false
	}
	return string(c), true
}

// sudoPromptMarker is the substring sudo emits on its password prompt.
const sudoPromptMarker = "assword:"

// RunPTY runs cmd attached to a pseudo-terminal, which some host tools
// require (progress bars, password prompts). When the command's output
// contains a sudo password prompt, cred is consulted; if cred cannot supply
// one and stdin is not an interactive TTY, the call fails rather than
// hanging forever waiting for input that will never arrive.
func (r *Runner) RunPTY(ctx context.Context, cmd Command, cred CredentialSource) (Result, error) {
	if err := checkSafety(cmd); err != nil {
		return Result{}, err
	}

	runCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	start := time.Now()
	execCmd := exec.CommandContext(runCtx, cmd.Name, cmd.Args...)

	ptmx, err := pty.Start(execCmd)
	if err != nil {
		return Result{}, fmt.Errorf("failed to allocate pty for %s: %w", cmd.Name, err)
	}
	defer func() { _ = ptmx.Close() }()

	var output bytes.Buffer
	buf := make([]byte, 4096)
	promptAnswered := false

	for {
		n, readErr := ptmx.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			output.Write(chunk)
			if cmd.Stdout != nil {
				_, _ = cmd.Stdout.Write(chunk)
			}

			if !promptAnswered && strings.Contains(output.String(), sudoPromptMarker) {
				promptAnswered = true
				password, ok := "", false
				if cred != nil {
					password, ok = cred.Credential()
				}
				if !ok {
					if !isatty.IsTerminal(os.Stdin.Fd()) {
						_ = execCmd.Process.Kill()
						return Result{}, fmt.Errorf("sudo password required but no credential source available and stdin is not a tty")
					}
					continue // let the real terminal handle the prompt
				}
				if _, err := ptmx.Write([]byte(password + "\n")); err != nil {
					return Result{}, fmt.Errorf("failed to answer sudo prompt: %w", err)
				}
			}
		}
		if readErr != nil {
			break
		}
	}

	waitErr := execCmd.Wait()
	elapsed := time.Since(start)

	exitCode := 0
	success := waitErr == nil
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	return Result{
		Command:       fmt.Sprintf("%s %v", cmd.Name, cmd.Args),
		ExitCode:      exitCode,
		Stdout:        output.String(),
		ExecutionTime: elapsed,
		Success:       success,
		Timestamp:     start,
	}, nil
}
