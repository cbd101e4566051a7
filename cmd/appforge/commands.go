package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jamesjlundin/appforge/internal/agent"
	"github.com/jamesjlundin/appforge/internal/bootstrap"
	"github.com/jamesjlundin/appforge/internal/config"
	"github.com/jamesjlundin/appforge/internal/domain"
	"github.com/jamesjlundin/appforge/internal/gitops"
	"github.com/jamesjlundin/appforge/internal/logging"
	"github.com/jamesjlundin/appforge/internal/notify"
	"github.com/jamesjlundin/appforge/internal/pipeline"
	"github.com/jamesjlundin/appforge/internal/statestore"
	"github.com/jamesjlundin/appforge/internal/testrunner"
)

var (
	runEngine      string
	runBudget      float64
	runInteractive bool
	runDryRun      bool
	runReadOnly    bool
	runPhase       string
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func init() {
	runCmd := &cobra.Command{
		Use:   "run \"IDEA\"",
		Short: "Start a new run from a product idea",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)

	resumeCmd := &cobra.Command{
		Use:   "resume RUN_ID",
		Short: "Resume a paused or failed run",
		Args:  cobra.ExactArgs(1),
		RunE:  runResume,
	}
	addRunFlags(resumeCmd)
	rootCmd.AddCommand(resumeCmd)

	statusCmd := &cobra.Command{
		Use:   "status [RUN_ID]",
		Short: "Show runs, or one run's phases, costs, and invocations",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)

	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Run the cron scheduler for unattended batches",
		RunE:  runBatch,
	}
	rootCmd.AddCommand(batchCmd)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&runEngine, "engine", "", "agent engine: claude-code or opencode")
	cmd.Flags().Float64Var(&runBudget, "budget", 0, "budget ceiling in USD (overrides config)")
	cmd.Flags().BoolVarP(&runInteractive, "interactive", "i", false, "ask before bootstrap and implementation")
	cmd.Flags().BoolVar(&runDryRun, "dry-run", false, "assemble work but stop before invoking the agent")
	cmd.Flags().BoolVar(&runReadOnly, "read-only", false, "downgrade every agent invocation to read-only")
	cmd.Flags().StringVar(&runPhase, "phase", "", "force a specific phase instead of the next incomplete one")
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if runEngine != "" {
		cfg.Agent.Engine = runEngine
	}
	return cfg, nil
}

// buildPipeline assembles the run engine and its collaborators. The returned
// cleanup closes the store and the log file.
func buildPipeline(cfg *config.Config, runID string) (*pipeline.Pipeline, *statestore.Store, func(), error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logOpts := logging.Options{Level: level}
	if runID != "" {
		logOpts.LogFile = logging.RunLogPath(cfg.General.DataDir, runID)
	}
	logger, closeLog, err := logging.New(logOpts)
	if err != nil {
		return nil, nil, nil, err
	}

	store, err := openStore(cfg)
	if err != nil {
		closeLog()
		return nil, nil, nil, err
	}

	invoker := agent.NewInvoker(domain.Engine(cfg.Agent.Engine), cfg.Agent.OpenCodeModel,
		cfg.Agent.HeartbeatInterval(), logger)
	boot := bootstrap.NewGH(cfg.General.TemplateRepo, cfg.General.WorkspaceDir, logger)
	runner := testrunner.NewCommandRunner(logger)

	var notifiers []notify.Notifier
	if cfg.Notifications.Desktop {
		notifiers = append(notifiers, notify.NewDesktop(true))
	}
	if cfg.Notifications.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlack(cfg.Notifications.SlackWebhook))
	}

	pipe := pipeline.New(cfg, store, invoker, gitops.NewCLI(), runner, boot,
		notify.NewMulti(notifiers...), logger)
	cleanup := func() {
		store.Close()
		closeLog()
	}
	return pipe, store, cleanup, nil
}

func openStore(cfg *config.Config) (*statestore.Store, error) {
	if err := os.MkdirAll(cfg.General.DataDir, 0o755); err != nil {
		return nil, err
	}
	return statestore.New(filepath.Join(cfg.General.DataDir, "appforge.db"))
}

func runOptions() pipeline.Options {
	return pipeline.Options{
		Interactive:   runInteractive,
		DryRun:        runDryRun,
		ForceReadOnly: runReadOnly,
		PhaseOverride: runPhase,
		BudgetUSD:     runBudget,
		Approve:       terminalApprover,
	}
}

// terminalApprover asks on stdin; anything but y/yes declines and pauses the
// run
func terminalApprover(phaseID, description string) (bool, error) {
	fmt.Printf("%s\n  %s\n", warnStyle.Render("Approval required:"), description)
	fmt.Print("  proceed? [y/N] ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pipe, _, cleanup, err := buildPipeline(cfg, "")
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Println(titleStyle.Render("appforge") + "  " + args[0])
	run, err := pipe.Start(ctx, args[0], runOptions())
	return finishRun(run, err)
}

func runResume(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pipe, _, cleanup, err := buildPipeline(cfg, args[0])
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := signalContext()
	defer cancel()

	run, err := pipe.Resume(ctx, args[0], runOptions())
	return finishRun(run, err)
}

func finishRun(run *domain.Run, err error) error {
	if errors.Is(err, pipeline.ErrPaused) {
		fmt.Println(warnStyle.Render("Run paused.") +
			fmt.Sprintf(" Resume with: appforge resume %s", run.ID))
		return nil
	}
	if err != nil {
		if run != nil {
			fmt.Println(failStyle.Render("Run failed.") +
				fmt.Sprintf(" Inspect with: appforge status %s", run.ID))
		}
		return err
	}
	if run.Status == domain.RunCompleted {
		fmt.Println(okStyle.Render("Run complete."))
		if run.RepositoryURL != "" {
			fmt.Printf("  repository: %s\n", run.RepositoryURL)
		}
		fmt.Printf("  effective cost: $%.2f\n", run.EffectiveCostUSD)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if len(args) == 0 {
		return printRunList(store)
	}
	return printRunDetail(store, args[0])
}

func printRunList(store *statestore.Store) error {
	runs, err := store.ListRuns()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs yet. Start one with: appforge run \"your idea\"")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPHASE\tCOST\tUPDATED\tIDEA")
	for _, r := range runs {
		idea := r.Idea
		if len(idea) > 48 {
			idea = idea[:45] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t$%.2f\t%s\t%s\n",
			r.ID, r.Status, r.CurrentPhase, r.EffectiveCostUSD,
			humanize.Time(r.UpdatedAt), idea)
	}
	return w.Flush()
}

func printRunDetail(store *statestore.Store, runID string) error {
	run, err := store.GetRun(runID)
	if err != nil {
		return err
	}

	fmt.Println(titleStyle.Render("Run " + run.ID))
	fmt.Printf("  idea:      %s\n", run.Idea)
	fmt.Printf("  status:    %s\n", renderStatus(run.Status))
	fmt.Printf("  engine:    %s\n", run.Engine)
	if run.WorkspacePath != "" {
		fmt.Printf("  workspace: %s\n", run.WorkspacePath)
	}
	if run.RepositoryURL != "" {
		fmt.Printf("  repo:      %s\n", run.RepositoryURL)
	}
	fmt.Printf("  created:   %s\n", humanize.Time(run.CreatedAt))
	fmt.Printf("  phases:    %s (current: %s)\n",
		strings.Join(run.CompletedPhases, ", "), run.CurrentPhase)
	if run.LastCompletedTask > 0 || run.DynamicTaskCount > 0 {
		fmt.Printf("  tasks:     %d committed, %d split, %d dynamic\n",
			run.LastCompletedTask, run.DecompositionCount, run.DynamicTaskCount)
	}
	fmt.Printf("  cost:      $%.2f effective ($%.2f actual, $%.2f estimated), %s in / %s out tokens\n",
		run.EffectiveCostUSD, run.ActualCostUSD, run.EstimatedCostUSD,
		humanize.Comma(int64(run.TokensInput)), humanize.Comma(int64(run.TokensOutput)))

	invocations, err := store.ListInvocations(run.ID)
	if err != nil {
		return err
	}
	if len(invocations) == 0 {
		return nil
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PHASE\tPURPOSE\tCOST\tTURNS\tSTOP\tWHEN")
	for _, inv := range invocations {
		fmt.Fprintf(w, "%s\t%s\t$%.2f\t%d\t%s\t%s\n",
			inv.Phase, inv.Purpose, inv.CostUSD, inv.NumTurns, inv.StopReason,
			humanize.Time(inv.StartedAt))
	}
	return w.Flush()
}

func renderStatus(status domain.RunStatus) string {
	switch status {
	case domain.RunCompleted:
		return okStyle.Render(string(status))
	case domain.RunFailed:
		return failStyle.Render(string(status))
	case domain.RunPaused:
		return warnStyle.Render(string(status))
	default:
		return string(status)
	}
}
