package agent

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/jamesjlundin/appforge/internal/domain"
	"github.com/sethvargo/go-retry"
)

func TestWritePromptFile_PermissionsAndCleanup(t *testing.T) {
	pf, err := writePromptFile("do the thing")
	if err != nil {
		t.Fatalf("writePromptFile: %v", err)
	}

	info, err := os.Stat(pf.Path())
	if err != nil {
		t.Fatalf("stat prompt file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("prompt file mode = %o, want 600", perm)
	}
	dirInfo, err := os.Stat(pf.dir)
	if err != nil {
		t.Fatalf("stat prompt dir: %v", err)
	}
	if perm := dirInfo.Mode().Perm(); perm != 0o700 {
		t.Errorf("prompt dir mode = %o, want 700", perm)
	}

	content, err := os.ReadFile(pf.Path())
	if err != nil {
		t.Fatalf("read prompt file: %v", err)
	}
	if string(content) != "do the thing" {
		t.Errorf("content = %q", content)
	}

	if err := pf.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(pf.dir); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("prompt dir still exists after Close")
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout", &TimeoutError{Elapsed: time.Minute}, true},
		{"wrapped timeout", fmt.Errorf("invoking: %w", &TimeoutError{}), true},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true},
		{"rate limit", errors.New("API rate limit exceeded"), true},
		{"overloaded", errors.New("upstream overloaded, try later"), true},
		{"http 429", errors.New("unexpected status 429"), true},
		{"http 503", errors.New("503 service unavailable"), true},
		{"missing binary", errors.New(`exec: "claude": executable file not found in $PATH`), false},
		{"exit failure", errors.New("agent process failed: exit status 1"), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

// withFastBackoff swaps the retry schedule for a zero-delay one so retry
// tests finish instantly.
func withFastBackoff(t *testing.T) {
	t.Helper()
	orig := newBackoff
	newBackoff = func() retry.Backoff {
		return retry.WithMaxRetries(maxRetries, retry.BackoffFunc(func() (time.Duration, bool) {
			return 0, false
		}))
	}
	t.Cleanup(func() { newBackoff = orig })
}

func TestInvokeWithRetry_PermanentFailsImmediately(t *testing.T) {
	withFastBackoff(t)

	calls := 0
	_, err := InvokeWithRetry(context.Background(), slog.Default(), func(ctx context.Context) (*domain.AgentResult, error) {
		calls++
		return nil, errors.New("agent process failed: exit status 1")
	})
	if err == nil {
		t.Fatal("want error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (permanent errors must not retry)", calls)
	}
}

func TestInvokeWithRetry_TransientRetriesThenSucceeds(t *testing.T) {
	withFastBackoff(t)

	calls := 0
	res, err := InvokeWithRetry(context.Background(), slog.Default(), func(ctx context.Context) (*domain.AgentResult, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("rate limit exceeded")
		}
		return &domain.AgentResult{Output: "done"}, nil
	})
	if err != nil {
		t.Fatalf("InvokeWithRetry: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if res.Output != "done" {
		t.Errorf("Output = %q", res.Output)
	}
}

func TestInvokeWithRetry_ExhaustsRetryBudget(t *testing.T) {
	withFastBackoff(t)

	calls := 0
	_, err := InvokeWithRetry(context.Background(), slog.Default(), func(ctx context.Context) (*domain.AgentResult, error) {
		calls++
		return nil, errors.New("connection reset by peer")
	})
	if err == nil {
		t.Fatal("want error after budget exhausted")
	}
	// initial attempt plus maxRetries
	if calls != maxRetries+1 {
		t.Errorf("calls = %d, want %d", calls, maxRetries+1)
	}
}

// stubInvoker returns an Invoker whose subprocess is a shell emitting the
// given stdout script, so Invoke can be exercised without the real agent.
func stubInvoker(t *testing.T, engine domain.Engine, script string) *Invoker {
	t.Helper()
	inv := NewInvoker(engine, "", time.Hour, slog.Default())
	inv.newCommand = func(ctx context.Context, promptPath string, opts Options) *exec.Cmd {
		return exec.CommandContext(ctx, "/bin/sh", "-c", script)
	}
	return inv
}

func TestInvoke_DecodesResultRecord(t *testing.T) {
	script := `cat >/dev/null
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"thinking"}]}}'
echo '{"type":"result","subtype":"success","result":"final text","total_cost_usd":0.05,"num_turns":2,"usage":{"input_tokens":100,"output_tokens":50}}'`
	inv := stubInvoker(t, domain.EngineClaudeCode, script)

	res, err := inv.Invoke(context.Background(), "prompt", Options{WorkDir: t.TempDir(), Purpose: "test"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Output != "final text" {
		t.Errorf("Output = %q", res.Output)
	}
	if res.OutputSource != "result" {
		t.Errorf("OutputSource = %s", res.OutputSource)
	}
	if res.CostUSD != 0.05 {
		t.Errorf("CostUSD = %v", res.CostUSD)
	}
	if res.StopReason != domain.StopEndTurn {
		t.Errorf("StopReason = %s", res.StopReason)
	}
}

func TestInvoke_PromptArrivesOnStdin(t *testing.T) {
	// the stub echoes stdin back as the result payload
	script := `p=$(cat)
printf '{"type":"result","subtype":"success","result":"%s","usage":{"input_tokens":1,"output_tokens":1}}\n' "$p"`
	inv := stubInvoker(t, domain.EngineClaudeCode, script)

	res, err := inv.Invoke(context.Background(), "hello-prompt", Options{WorkDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Output != "hello-prompt" {
		t.Errorf("Output = %q, want the prompt echoed back", res.Output)
	}
}

func TestInvoke_NonZeroExitSurfacesStderr(t *testing.T) {
	script := `cat >/dev/null
echo "model not found" >&2
exit 1`
	inv := stubInvoker(t, domain.EngineClaudeCode, script)

	_, err := inv.Invoke(context.Background(), "prompt", Options{WorkDir: t.TempDir()})
	if err == nil {
		t.Fatal("want error on non-zero exit")
	}
	if got := err.Error(); !strings.Contains(got, "model not found") {
		t.Errorf("error %q should carry the stderr tail", got)
	}
}

func TestInvoke_TimeoutReturnsPartialOutput(t *testing.T) {
	script := `echo '{"type":"assistant","message":{"content":[{"type":"text","text":"partial work"}]}}'
sleep 30`
	inv := stubInvoker(t, domain.EngineClaudeCode, script)

	_, err := inv.Invoke(context.Background(), "prompt", Options{
		WorkDir: t.TempDir(),
		Timeout: 500 * time.Millisecond,
	})
	var timeout *TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("err = %v, want TimeoutError", err)
	}
	if !strings.Contains(timeout.PartialOutput, "partial work") {
		t.Errorf("PartialOutput = %q, want streamed text preserved", timeout.PartialOutput)
	}
}

func TestInvoke_AgentErrorRecordFailsInvocation(t *testing.T) {
	script := `cat >/dev/null
echo '{"type":"error","error":"invalid api key"}'`
	inv := stubInvoker(t, domain.EngineClaudeCode, script)

	_, err := inv.Invoke(context.Background(), "prompt", Options{WorkDir: t.TempDir()})
	if err == nil || !strings.Contains(err.Error(), "invalid api key") {
		t.Errorf("err = %v, want agent error surfaced", err)
	}
}

func TestBuildCommand_PermissionFlags(t *testing.T) {
	inv := NewInvoker(domain.EngineClaudeCode, "", time.Minute, slog.Default())

	rw := inv.buildCommand(context.Background(), "/tmp/p.md", Options{Permission: domain.PermissionReadWrite})
	if !containsArg(rw.Args, "--dangerously-skip-permissions") {
		t.Errorf("read-write args missing skip-permissions flag: %v", rw.Args)
	}

	ro := inv.buildCommand(context.Background(), "/tmp/p.md", Options{Permission: domain.PermissionReadOnly})
	if !containsArg(ro.Args, "--permission-mode") {
		t.Errorf("read-only args missing permission-mode flag: %v", ro.Args)
	}
	if containsArg(ro.Args, "--dangerously-skip-permissions") {
		t.Errorf("read-only invocation must not skip permissions: %v", ro.Args)
	}
}

func TestBuildCommand_OpenCodeModel(t *testing.T) {
	inv := NewInvoker(domain.EngineOpenCode, "anthropic/claude-sonnet", time.Minute, slog.Default())
	cmd := inv.buildCommand(context.Background(), "/tmp/p.md", Options{})
	if !containsArg(cmd.Args, "-m") || !containsArg(cmd.Args, "anthropic/claude-sonnet") {
		t.Errorf("opencode args missing model flag: %v", cmd.Args)
	}
}

func containsArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}
