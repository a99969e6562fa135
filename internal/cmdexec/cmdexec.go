// Package cmdexec is the Command Executor: the single substrate this
// repository uses for spawning external processes, shared by IP discovery's
// CLI fallbacks, the image builder's toolchain invocations, the
// orchestrator and the CLI. The task executor does not use it.
//
// Every invocation is bounded by a context/timeout and checked against a
// denylist of destructive patterns before it runs; retry and PTY wrappers
// build on the same single Run path.
package cmdexec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"time"

	"github.com/avast/retry-go/v4"
)

// Command describes one invocation for the executor to run.
type Command struct {
	// Name is the executable to run.
	Name string
	// Args are the arguments passed to Name.
	Args []string
	// Timeout bounds the whole invocation; zero means no timeout beyond ctx.
	Timeout time.Duration
	// Stdout and Stderr, when non-nil, additionally receive output as it is
	// produced (streaming mode). The captured Result always contains the
	// full buffered output regardless of these sinks.
	Stdout io.Writer
	Stderr io.Writer
}

// Result is the uniform outcome of one command invocation, mirrored into
// internal/optracker by callers.
type Result struct {
	Command       string
	ExitCode      int
	Stdout        string
	Stderr        string
	ExecutionTime time.Duration
	Success       bool
	Timestamp     time.Time
}

// denylist holds the obviously destructive patterns the Safety mode refuses
// to execute. Matching any pattern rejects the command before exec.Command
// is ever constructed.
var denylist = []*regexp.Regexp{
	regexp.MustCompile(`rm\s+-rf\s+/\s*$`),
	regexp.MustCompile(`rm\s+-rf\s+/\*`),
	regexp.MustCompile(`\bmkfs(\.\w+)?\b`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]\b`),
	regexp.MustCompile(`\bdd\b.*of=/dev/sd[a-z]\b`),
}

// SafetyError is returned by Run when a command matches the denylist.
type SafetyError struct {
	Command string
	Pattern string
}

func (e *SafetyError) Error() string {
	return fmt.Sprintf("command %q refused: matches denylist pattern %q", e.Command, e.Pattern)
}

// checkSafety refuses commands matching the denylist of destructive
// patterns (rm -rf /, mkfs, writes to /dev/sd*, etc).
func checkSafety(cmd Command) error {
	full := cmd.Name
	for _, a := range cmd.Args {
		full += " " + a
	}
	for _, pattern := range denylist {
		if pattern.MatchString(full) {
			return &SafetyError{Command: full, Pattern: pattern.String()}
		}
	}
	return nil
}

// Runner executes Commands via os/exec, enforcing the Safety denylist on
// every invocation.
type Runner struct{}

// NewRunner constructs a Runner.
func NewRunner() *Runner {
	return &Runner{}
}

// Run executes cmd once, streaming output to cmd.Stdout/Stderr if set, and
// returns the buffered Result. The context and cmd.Timeout are combined;
// whichever fires first bounds the call.
func (r *Runner) Run(ctx context.Context, cmd Command) (Result, error) {
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

	var stdoutBuf, stderrBuf bytes.Buffer
	if cmd.Stdout != nil {
		execCmd.Stdout = io.MultiWriter(&stdoutBuf, cmd.Stdout)
	} else {
		execCmd.Stdout = &stdoutBuf
	}
	if cmd.Stderr != nil {
		execCmd.Stderr = io.MultiWriter(&stderrBuf, cmd.Stderr)
	} else {
		execCmd.Stderr = &stderrBuf
	}

	runErr := execCmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	success := runErr == nil
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	result := Result{
		Command:       fmt.Sprintf("%s %v", cmd.Name, cmd.Args),
		ExitCode:      exitCode,
		Stdout:        stdoutBuf.String(),
		Stderr:        stderrBuf.String(),
		ExecutionTime: elapsed,
		Success:       success,
		Timestamp:     start,
	}

	if runCtx.Err() != nil {
		return result, fmt.Errorf("command timed out after %s: %w", elapsed, runCtx.Err())
	}

	return result, nil
}

// Retryable classifies whether a failed Result should be retried. The
// default classifier retries any non-zero exit code; callers that know a
// failure is permanent (e.g. a validation error from the command itself)
// should supply their own.
type Retryable func(Result, error) bool

// DefaultRetryable retries on any error or non-zero exit code.
func DefaultRetryable(result Result, err error) bool {
	return err != nil || !result.Success
}

// RunWithRetry wraps Run with exponential backoff, up to attempts tries
// (default 3 if attempts <= 0). classify decides whether a given outcome
// should be retried; nil defaults to DefaultRetryable.
func (r *Runner) RunWithRetry(ctx context.Context, cmd Command, attempts uint, classify Retryable) (Result, error) {
	if attempts == 0 {
		attempts = 3
	}
	if classify == nil {
		classify = DefaultRetryable
	}

	var last Result
	err := retry.Do(
		func() error {
			result, err := r.Run(ctx, cmd)
			last = result
			if classify(result, err) {
				if err != nil {
					return err
				}
				return fmt.Errorf("command %q exited %d", cmd.Name, result.ExitCode)
			}
			if err != nil {
				return retry.Unrecoverable(err)
			}
			return nil
		},
		retry.Attempts(attempts),
		retry.Context(ctx),
		retry.DelayType(retry.BackOffDelay),
	)

	return last, err
}

// Batch runs commands in order. If stopOnFailure is true, the first failing
// command (non-zero exit or error) halts the batch and the remaining
// commands are not attempted.
func (r *Runner) Batch(ctx context.Context, cmds []Command, stopOnFailure bool) ([]Result, error) {
	results := make([]Result, 0, len(cmds))
	for _, cmd := range cmds {
		result, err := r.Run(ctx, cmd)
		results = append(results, result)
		if (err != nil || !result.Success) && stopOnFailure {
			if err == nil {
				err = fmt.Errorf("exit code %d", result.ExitCode)
			}
			return results, fmt.Errorf("batch stopped on command %q: %w", cmd.Name, err)
		}
	}
	return results, nil
}
