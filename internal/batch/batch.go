// Package batch runs scheduled pipeline batches: each batch names a cron
// schedule and an idea file, and every due tick turns the next unbuilt idea
// into a full pipeline run.
package batch

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jamesjlundin/appforge/internal/config"
)

// RunFunc executes one pipeline run for an idea under a batch's budget
type RunFunc func(ctx context.Context, batchName, idea string, budgetUSD float64) error

// Scheduler fires batches on their cron schedules. One batch never overlaps
// itself; distinct batches may run concurrently since every run owns its
// own workspace.
type Scheduler struct {
	configs map[string]config.BatchConfig
	parser  cron.Parser
	logger  *slog.Logger

	mu      sync.Mutex
	lastRun map[string]time.Time
	running map[string]bool

	stop chan struct{}
}

func NewScheduler(configs []config.BatchConfig, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		configs: make(map[string]config.BatchConfig),
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:  logger,
		lastRun: make(map[string]time.Time),
		running: make(map[string]bool),
		stop:    make(chan struct{}),
	}
	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if _, err := s.parser.Parse(cfg.Cron); err != nil {
			return nil, fmt.Errorf("batch %s: invalid cron %q: %w", cfg.Name, cfg.Cron, err)
		}
		s.configs[cfg.Name] = cfg
	}
	return s, nil
}

// NextRun returns when the named batch fires next
func (s *Scheduler) NextRun(name string) time.Time {
	cfg, ok := s.configs[name]
	if !ok {
		return time.Time{}
	}
	sched, err := s.parser.Parse(cfg.Cron)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(time.Now())
}

// due reports whether the named batch should fire now
func (s *Scheduler) due(name string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running[name] {
		return false
	}
	sched, err := s.parser.Parse(s.configs[name].Cron)
	if err != nil {
		return false
	}
	last := s.lastRun[name]
	if last.IsZero() {
		last = now.Add(-24 * time.Hour)
	}
	return now.After(sched.Next(last))
}

func (s *Scheduler) markRunning(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = true
}

func (s *Scheduler) markComplete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = false
	s.lastRun[name] = time.Now()
}

// Start blocks, firing due batches once a minute until Stop or context
// cancellation.
func (s *Scheduler) Start(ctx context.Context, run RunFunc) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case now := <-ticker.C:
			for name := range s.configs {
				if !s.due(name, now) {
					continue
				}
				cfg := s.configs[name]
				s.markRunning(name)
				go func(cfg config.BatchConfig) {
					defer s.markComplete(cfg.Name)
					if err := s.runBatch(ctx, cfg, run); err != nil {
						s.logger.Error("batch failed", "batch", cfg.Name, "error", err)
					}
				}(cfg)
			}
		}
	}
}

// Stop ends the scheduler loop
func (s *Scheduler) Stop() {
	close(s.stop)
}

// runBatch builds the next pending idea from the batch's idea file. Ideas
// already consumed are tracked by a done-file next to the idea file.
func (s *Scheduler) runBatch(ctx context.Context, cfg config.BatchConfig, run RunFunc) error {
	ideas, err := ReadIdeas(cfg.IdeaFile)
	if err != nil {
		return err
	}
	done, err := readDone(doneFile(cfg.IdeaFile))
	if err != nil {
		return err
	}

	for _, idea := range ideas {
		if done[idea] {
			continue
		}
		s.logger.Info("starting batch run", "batch", cfg.Name, "idea", idea)
		if err := run(ctx, cfg.Name, idea, cfg.Budget); err != nil {
			return fmt.Errorf("batch %s idea %q: %w", cfg.Name, idea, err)
		}
		return markDone(doneFile(cfg.IdeaFile), idea)
	}

	s.logger.Info("batch has no pending ideas", "batch", cfg.Name)
	return nil
}

// ReadIdeas reads an idea file: one idea per line, blank lines and
// #-comments skipped.
func ReadIdeas(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening idea file: %w", err)
	}
	defer f.Close()

	var ideas []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ideas = append(ideas, line)
	}
	return ideas, scanner.Err()
}

func doneFile(ideaFile string) string {
	return ideaFile + ".done"
}

func readDone(path string) (map[string]bool, error) {
	done := make(map[string]bool)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return done, nil
	}
	if err != nil {
		return nil, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			done[line] = true
		}
	}
	return done, nil
}

func markDone(path, idea string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintln(f, idea)
	return err
}
