// Package taskexec runs a guest's post-boot provisioning task list over
// SSH/SFTP once the guest is reachable. Build-time
// add_account/modify_account tasks on kvm-auto guests are handled
// exclusively by internal/image; this package is never invoked for them
// (see DESIGN.md's Open Question decision).
package taskexec

import (
	"context"
	"fmt"
	"time"

	"github.com/cyrange-project/cyrange/api/v1alpha1"
)

// defaultTimeout bounds a single task's remote execution when the caller
// does not override it.
const defaultTimeout = 2 * time.Minute

// Target names the remote endpoint and credentials a Runner connects with.
type Target struct {
	Address string
	Port    int
	User    string

	// PrivateKeyPEM, if set, authenticates via public key. Password is
	// tried when PrivateKeyPEM is empty.
	PrivateKeyPEM []byte
	Password      string
}

// Runner is the narrow remote-execution surface the Task Executor drives.
// SSHRunner is the production implementation; tests substitute a fake.
type Runner interface {
	// RunCommand executes command on the target and returns its captured
	// output, bounded by maxOutput bytes per stream.
	RunCommand(ctx context.Context, target Target, command string, timeout time.Duration, maxOutput int64) (stdout, stderr string, exitCode int, err error)

	// CopyFile uploads localContent to remotePath on the target.
	CopyFile(ctx context.Context, target Target, remotePath string, localContent []byte) error
}

// Config bounds task execution resource usage.
type Config struct {
	CommandTimeout time.Duration
	MaxOutputBytes int64
}

func (c Config) withDefaults() Config {
	if c.CommandTimeout == 0 {
		c.CommandTimeout = defaultTimeout
	}
	if c.MaxOutputBytes == 0 {
		c.MaxOutputBytes = 1 << 20 // 1 MiB
	}
	return c
}

// Executor dispatches a guest's declared tasks over a Runner, in order,
// recording one TaskResult per task without aborting on failure.
type Executor struct {
	runner Runner
	cfg    Config
}

// NewExecutor constructs an Executor against the given Runner.
func NewExecutor(runner Runner, cfg Config) *Executor {
	return &Executor{runner: runner, cfg: cfg.withDefaults()}
}

// RunGuestTasks executes guest.Spec.Tasks in declaration order against
// target, skipping build-time add_account/modify_account entries (those
// were already applied by internal/image before boot).
func (e *Executor) RunGuestTasks(ctx context.Context, guest *v1alpha1.Guest, target Target) []v1alpha1.TaskResult {
	results := make([]v1alpha1.TaskResult, 0, len(guest.Spec.Tasks))

	for _, task := range guest.Spec.Tasks {
		if isBuildTimeAccountTask(task.Kind) && guest.RequiresAutoBuild() {
			continue
		}
		results = append(results, e.runTask(ctx, guest, target, task))
	}

	return results
}

func isBuildTimeAccountTask(kind v1alpha1.TaskKind) bool {
	return kind == v1alpha1.TaskAddAccount || kind == v1alpha1.TaskModifyAccount
}

func (e *Executor) runTask(ctx context.Context, guest *v1alpha1.Guest, target Target, task v1alpha1.Task) v1alpha1.TaskResult {
	start := time.Now()

	var err error
	switch task.Kind {
	case v1alpha1.TaskAddAccount:
		err = e.runAddAccount(ctx, guest, target, task)
	case v1alpha1.TaskModifyAccount:
		err = e.runModifyAccount(ctx, guest, target, task)
	case v1alpha1.TaskInstallPackage:
		err = e.runInstallPackage(ctx, guest, target, task)
	case v1alpha1.TaskCopyContent:
		err = e.runCopyContent(ctx, target, task)
	case v1alpha1.TaskExecuteProgram:
		err = e.runExecuteProgram(ctx, target, task)
	case v1alpha1.TaskEmulateAttack, v1alpha1.TaskEmulateMalware:
		err = e.runHelperScript(ctx, target, task)
	case v1alpha1.TaskFirewallRules:
		err = e.runFirewallRules(ctx, target, task)
	default:
		err = fmt.Errorf("unrecognized task kind %q", task.Kind)
	}

	result := v1alpha1.TaskResult{
		Kind:     task.Kind,
		Success:  err == nil,
		Duration: time.Since(start).String(),
	}
	if err != nil {
		result.Message = err.Error()
	}
	return result
}

func (e *Executor) runAddAccount(ctx context.Context, guest *v1alpha1.Guest, target Target, task v1alpha1.Task) error {
	cmd := accountCommand(guest.Spec.OSFamily, task.Account, task.Password, true)
	return e.exec(ctx, target, cmd)
}

func (e *Executor) runModifyAccount(ctx context.Context, guest *v1alpha1.Guest, target Target, task v1alpha1.Task) error {
	cmd := accountCommand(guest.Spec.OSFamily, task.Account, task.Password, false)
	return e.exec(ctx, target, cmd)
}

// accountCommand builds the useradd/usermod (Linux) or net user (Windows)
// invocation for add_account/modify_account.
func accountCommand(osFamily, account, password string, create bool) string {
	if osFamily == "windows" {
		if create {
			return fmt.Sprintf("net user %s %s /ADD", account, password)
		}
		return fmt.Sprintf("net user %s %s", account, password)
	}
	if create {
		return fmt.Sprintf("useradd -m %s && echo '%s:%s' | chpasswd", account, account, password)
	}
	return fmt.Sprintf("echo '%s:%s' | chpasswd", account, password)
}

func (e *Executor) runInstallPackage(ctx context.Context, guest *v1alpha1.Guest, target Target, task v1alpha1.Task) error {
	manager := task.PackageManager
	if manager == "" {
		manager = defaultPackageManager(guest.Spec.OSFamily)
	}

	pkg := task.Package
	if task.Version != "" {
		pkg = fmt.Sprintf("%s=%s", task.Package, task.Version)
	}
	cmd := fmt.Sprintf("%s install -y %s", manager, pkg)

	err := e.exec(ctx, target, cmd)
	if err != nil {
		// One retry on transient failure.
		err = e.exec(ctx, target, cmd)
	}
	return err
}

func defaultPackageManager(osFamily string) string {
	if osFamily == "windows" {
		return "choco"
	}
	return "apt-get"
}

func (e *Executor) runCopyContent(ctx context.Context, target Target, task v1alpha1.Task) error {
	content, err := stageLocalFile(task.Source)
	if err != nil {
		return fmt.Errorf("stage %s: %w", task.Source, err)
	}

	if err := e.runner.CopyFile(ctx, target, task.Destination, content); err != nil {
		return fmt.Errorf("copy to %s: %w", task.Destination, err)
	}

	wantSum := checksum(content)
	verifyCmd := fmt.Sprintf("sha256sum %s | awk '{print $1}'", task.Destination)
	stdout, _, exitCode, err := e.runner.RunCommand(ctx, target, verifyCmd, e.cfg.CommandTimeout, e.cfg.MaxOutputBytes)
	if err != nil {
		return fmt.Errorf("verify checksum: %w", err)
	}
	if exitCode != 0 {
		return fmt.Errorf("checksum command exited %d", exitCode)
	}
	if trimmed := trimNewline(stdout); trimmed != wantSum {
		return fmt.Errorf("checksum mismatch: wrote %s, remote reports %s", wantSum, trimmed)
	}
	return nil
}

func (e *Executor) runExecuteProgram(ctx context.Context, target Target, task v1alpha1.Task) error {
	cmd := task.Program
	for _, arg := range task.Args {
		cmd += " " + arg
	}
	return e.exec(ctx, target, cmd)
}

func (e *Executor) runHelperScript(ctx context.Context, target Target, task v1alpha1.Task) error {
	return e.runExecuteProgram(ctx, target, task)
}

func (e *Executor) runFirewallRules(ctx context.Context, target Target, task v1alpha1.Task) error {
	content, err := stageLocalFile(task.RulesFile)
	if err != nil {
		return fmt.Errorf("stage %s: %w", task.RulesFile, err)
	}

	remotePath := "/tmp/cyrange-firewall-rules"
	if err := e.runner.CopyFile(ctx, target, remotePath, content); err != nil {
		return fmt.Errorf("copy firewall rules: %w", err)
	}
	return e.exec(ctx, target, fmt.Sprintf("nft -f %s", remotePath))
}

func (e *Executor) exec(ctx context.Context, target Target, cmd string) error {
	_, stderr, exitCode, err := e.runner.RunCommand(ctx, target, cmd, e.cfg.CommandTimeout, e.cfg.MaxOutputBytes)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("command %q exited %d: %s", cmd, exitCode, stderr)
	}
	return nil
}
