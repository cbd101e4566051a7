package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jamesjlundin/appforge/internal/domain"
	"golang.org/x/sync/errgroup"
)

// Options control a single agent invocation
type Options struct {
	WorkDir         string
	Permission      domain.PermissionTier
	Timeout         time.Duration // zero means no deadline
	EnableWebSearch bool
	Purpose         string // free text for logs and the invocation ledger
}

// Invoker runs the external generation agent as a subprocess and decodes its
// structured output stream.
type Invoker struct {
	engine         domain.Engine
	openCodeModel  string
	heartbeatEvery time.Duration
	logger         *slog.Logger

	// newCommand builds the subprocess; overridable in tests
	newCommand func(ctx context.Context, promptPath string, opts Options) *exec.Cmd
}

// NewInvoker creates an invoker for the given engine
func NewInvoker(engine domain.Engine, openCodeModel string, heartbeatEvery time.Duration, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	if heartbeatEvery <= 0 {
		heartbeatEvery = 30 * time.Second
	}
	inv := &Invoker{
		engine:         engine,
		openCodeModel:  openCodeModel,
		heartbeatEvery: heartbeatEvery,
		logger:         logger,
	}
	inv.newCommand = inv.buildCommand
	return inv
}

// buildCommand assembles the engine-specific argument vector. Arguments are
// always passed as an explicit vector and the prompt arrives on stdin from
// the restricted prompt file, never through a shell.
func (inv *Invoker) buildCommand(ctx context.Context, promptPath string, opts Options) *exec.Cmd {
	var cmd *exec.Cmd
	switch inv.engine {
	case domain.EngineOpenCode:
		args := []string{"run"}
		if inv.openCodeModel != "" {
			args = append(args, "-m", inv.openCodeModel)
		}
		cmd = exec.CommandContext(ctx, "opencode", args...)
	default:
		args := []string{
			"--print",
			"--verbose",
			"--output-format", "stream-json",
		}
		if opts.Permission == domain.PermissionReadWrite {
			args = append(args, "--dangerously-skip-permissions")
		} else {
			args = append(args, "--permission-mode", "plan")
		}
		if opts.EnableWebSearch {
			args = append(args, "--allowed-tools", "WebSearch")
		}
		cmd = exec.CommandContext(ctx, "claude", args...)
	}
	cmd.Dir = opts.WorkDir
	cmd.Env = os.Environ()
	return cmd
}

// Invoke runs one agent invocation: writes the prompt to a private temp
// file, spawns the process, decodes its output stream while a heartbeat
// timer reports progress, and folds the terminal record into an AgentResult.
func (inv *Invoker) Invoke(ctx context.Context, prompt string, opts Options) (*domain.AgentResult, error) {
	pf, err := writePromptFile(prompt)
	if err != nil {
		return nil, err
	}
	defer pf.Close()

	invokeCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		invokeCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := inv.newCommand(invokeCtx, pf.Path(), opts)

	promptIn, err := os.Open(pf.Path())
	if err != nil {
		return nil, fmt.Errorf("opening prompt file: %w", err)
	}
	defer promptIn.Close()
	cmd.Stdin = promptIn

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting agent process: %w", err)
	}

	st := newStreamState()
	dec := decoderFor(inv.engine)
	var stderrTail strings.Builder

	hbCtx, stopHeartbeat := context.WithCancel(context.Background())
	defer stopHeartbeat()
	go inv.heartbeat(hbCtx, st, opts.Purpose, started)

	g := new(errgroup.Group)
	g.Go(func() error {
		scanner := bufio.NewScanner(stdout)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 2*1024*1024)
		for scanner.Scan() {
			dec.DecodeLine(scanner.Text(), st)
		}
		return scanner.Err()
	})
	g.Go(func() error {
		scanner := bufio.NewScanner(stderr)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 256*1024)
		for scanner.Scan() {
			if stderrTail.Len() < 16*1024 {
				stderrTail.WriteString(scanner.Text())
				stderrTail.WriteString("\n")
			}
		}
		return scanner.Err()
	})

	streamErr := g.Wait()
	waitErr := cmd.Wait()
	stopHeartbeat()

	if invokeCtx.Err() == context.DeadlineExceeded {
		return nil, &TimeoutError{
			Elapsed:       time.Since(started),
			PartialOutput: st.partialOutput(),
		}
	}
	if errors.Is(invokeCtx.Err(), context.Canceled) {
		return nil, invokeCtx.Err()
	}

	if waitErr != nil {
		msg := st.errMsg
		if msg == "" {
			msg = strings.TrimSpace(stderrTail.String())
		}
		if msg != "" {
			return nil, fmt.Errorf("agent process failed: %s: %w", msg, waitErr)
		}
		return nil, fmt.Errorf("agent process failed: %w", waitErr)
	}
	if streamErr != nil {
		return nil, fmt.Errorf("reading agent output: %w", streamErr)
	}
	if st.errMsg != "" {
		return nil, fmt.Errorf("agent reported error: %s", st.errMsg)
	}

	res := st.result(dec.Name())
	if len(st.unparsed) > 0 {
		inv.logger.Debug("agent stream contained unrecognized records",
			"count", len(st.unparsed), "variant", dec.Name())
	}
	inv.logger.Info("agent invocation finished",
		"purpose", opts.Purpose,
		"elapsed", time.Since(started).Round(time.Second),
		"turns", res.NumTurns,
		"cost_usd", res.CostUSD,
		"output_source", res.OutputSource)
	return res, nil
}

// heartbeat periodically reports liveness while an invocation runs: elapsed
// time, current turn, last tool, bytes produced.
func (inv *Invoker) heartbeat(ctx context.Context, st *streamState, purpose string, started time.Time) {
	ticker := time.NewTicker(inv.heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			turns, lastTool, bytes := st.snapshot()
			inv.logger.Info("agent working",
				"purpose", purpose,
				"elapsed", time.Since(started).Round(time.Second),
				"turn", turns,
				"last_tool", lastTool,
				"output", humanize.Bytes(uint64(bytes)))
		}
	}
}
