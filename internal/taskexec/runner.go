package taskexec

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SSHRunner is the production Runner: one command or upload per call, over
// a freshly dialed SSH connection. Ranges are short-lived and tasks run
// infrequently enough that connection reuse isn't worth the complexity.
type SSHRunner struct {
	// DialTimeout bounds the TCP+handshake phase.
	DialTimeout time.Duration
}

// NewSSHRunner returns an SSHRunner with the given dial timeout, or 30s if
// timeout is zero.
func NewSSHRunner(timeout time.Duration) *SSHRunner {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &SSHRunner{DialTimeout: timeout}
}

func (r *SSHRunner) dial(target Target) (*ssh.Client, error) {
	auths, err := authMethods(target)
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            target.User,
		Auth:            auths,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // guests are freshly provisioned, no known_hosts entry exists
		Timeout:         r.DialTimeout,
	}

	port := target.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(target.Address, fmt.Sprintf("%d", port))
	return ssh.Dial("tcp", addr, config)
}

func authMethods(target Target) ([]ssh.AuthMethod, error) {
	if len(target.PrivateKeyPEM) > 0 {
		signer, err := ssh.ParsePrivateKey(target.PrivateKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	return []ssh.AuthMethod{ssh.Password(target.Password)}, nil
}

// RunCommand implements Runner.
func (r *SSHRunner) RunCommand(ctx context.Context, target Target, command string, timeout time.Duration, maxOutput int64) (string, string, int, error) {
	client, err := r.dial(target)
	if err != nil {
		return "", "", -1, fmt.Errorf("dial %s: %w", target.Address, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", "", -1, fmt.Errorf("new session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &limitedWriter{w: &stdout, remaining: maxOutput}
	session.Stderr = &limitedWriter{w: &stderr, remaining: maxOutput}

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return stdout.String(), stderr.String(), -1, ctx.Err()
	case <-time.After(timeout):
		session.Signal(ssh.SIGKILL)
		return stdout.String(), stderr.String(), -1, fmt.Errorf("command timed out after %s", timeout)
	case err := <-done:
		if err == nil {
			return stdout.String(), stderr.String(), 0, nil
		}
		var exitErr *ssh.ExitError
		if ok := exitErrorAs(err, &exitErr); ok {
			return stdout.String(), stderr.String(), exitErr.ExitStatus(), nil
		}
		return stdout.String(), stderr.String(), -1, err
	}
}

func exitErrorAs(err error, target **ssh.ExitError) bool {
	e, ok := err.(*ssh.ExitError)
	if ok {
		*target = e
	}
	return ok
}

// CopyFile implements Runner via SFTP, creating any missing parent
// directory components under remotePath.
func (r *SSHRunner) CopyFile(ctx context.Context, target Target, remotePath string, content []byte) error {
	client, err := r.dial(target)
	if err != nil {
		return fmt.Errorf("dial %s: %w", target.Address, err)
	}
	defer client.Close()

	sc, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("new sftp client: %w", err)
	}
	defer sc.Close()

	if dir := parentDir(remotePath); dir != "" {
		if err := sc.MkdirAll(dir); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	f, err := sc.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create %s: %w", remotePath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, bytes.NewReader(content)); err != nil {
		return fmt.Errorf("write %s: %w", remotePath, err)
	}
	return nil
}

func parentDir(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return ""
	}
	return path[:idx]
}

// limitedWriter discards bytes past remaining, so a runaway remote command
// cannot exhaust host memory.
type limitedWriter struct {
	w         io.Writer
	remaining int64
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if l.remaining <= 0 {
		return len(p), nil
	}
	n := int64(len(p))
	if n > l.remaining {
		n = l.remaining
	}
	written, err := l.w.Write(p[:n])
	l.remaining -= int64(written)
	return len(p), err
}

// stageLocalFile reads the local task asset named by path, relative to the
// orchestrator's working directory.
func stageLocalFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func trimNewline(s string) string {
	return strings.TrimRight(s, "\r\n")
}
