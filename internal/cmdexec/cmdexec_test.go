package cmdexec

import (
	"context"
	"testing"
	"time"
)

func TestRunner_Run_Success(t *testing.T) {
	r := NewRunner()
	result, err := r.Run(context.Background(), Command{Name: "echo", Args: []string{"hello"}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.Success {
		t.Error("Success = false, want true")
	}
	if result.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", result.ExitCode)
	}
	if result.Stdout != "hello\n" {
		t.Errorf("Stdout = %q, want %q", result.Stdout, "hello\n")
	}
}

func TestRunner_Run_NonZeroExit(t *testing.T) {
	r := NewRunner()
	result, err := r.Run(context.Background(), Command{Name: "false"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Success {
		t.Error("Success = true, want false")
	}
	if result.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", result.ExitCode)
	}
}

func TestRunner_Run_Timeout(t *testing.T) {
	r := NewRunner()
	_, err := r.Run(context.Background(), Command{
		Name:    "sleep",
		Args:    []string{"5"},
		Timeout: 10 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("expected timeout error, got nil")
	}
}

func TestRunner_Run_SafetyDenylist(t *testing.T) {
	r := NewRunner()
	_, err := r.Run(context.Background(), Command{Name: "rm", Args: []string{"-rf", "/"}})
	if err == nil {
		t.Fatal("expected safety error, got nil")
	}
	var safetyErr *SafetyError
	if _, ok := err.(*SafetyError); !ok {
		t.Errorf("error = %T (%v), want *SafetyError", err, err)
		_ = safetyErr
	}
}

func TestRunner_Batch_StopOnFailure(t *testing.T) {
	r := NewRunner()
	cmds := []Command{
		{Name: "true"},
		{Name: "false"},
		{Name: "echo", Args: []string{"never runs"}},
	}

	results, err := r.Batch(context.Background(), cmds, true)
	if err == nil {
		t.Fatal("expected batch error, got nil")
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
}

func TestRunner_Batch_ContinueOnFailure(t *testing.T) {
	r := NewRunner()
	cmds := []Command{
		{Name: "false"},
		{Name: "true"},
	}

	results, err := r.Batch(context.Background(), cmds, false)
	if err != nil {
		t.Fatalf("Batch() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
}

func TestRunner_RunWithRetry_EventualSuccess(t *testing.T) {
	r := NewRunner()
	result, err := r.RunWithRetry(context.Background(), Command{Name: "true"}, 2, nil)
	if err != nil {
		t.Fatalf("RunWithRetry() error = %v", err)
	}
	if !result.Success {
		t.Error("Success = false, want true")
	}
}
