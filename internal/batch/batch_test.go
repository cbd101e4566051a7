package batch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jamesjlundin/appforge/internal/config"
)

func writeIdeaFile(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ideas.txt")
	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewScheduler_RejectsBadCron(t *testing.T) {
	_, err := NewScheduler([]config.BatchConfig{
		{Name: "nightly", Cron: "not a cron", IdeaFile: "/tmp/ideas.txt"},
	}, slog.Default())
	if err == nil {
		t.Error("want error for invalid cron expression")
	}
}

func TestNextRun(t *testing.T) {
	s, err := NewScheduler([]config.BatchConfig{
		{Name: "nightly", Cron: "0 3 * * *", IdeaFile: "/tmp/ideas.txt"},
	}, slog.Default())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	next := s.NextRun("nightly")
	if next.IsZero() {
		t.Fatal("NextRun returned zero time")
	}
	if next.Hour() != 3 || next.Minute() != 0 {
		t.Errorf("next run = %v, want 03:00", next)
	}
	if !s.NextRun("unknown").IsZero() {
		t.Error("unknown batch should have no next run")
	}
}

func TestDue(t *testing.T) {
	s, err := NewScheduler([]config.BatchConfig{
		{Name: "hourly", Cron: "0 * * * *", IdeaFile: "/tmp/ideas.txt"},
	}, slog.Default())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	now := time.Now()
	if !s.due("hourly", now) {
		t.Error("batch with no prior run should be due")
	}

	s.markRunning("hourly")
	if s.due("hourly", now) {
		t.Error("running batch must not fire again")
	}
	s.markComplete("hourly")
	if s.due("hourly", time.Now()) {
		t.Error("batch that just completed should wait for the next tick")
	}
}

func TestRunBatch_ConsumesOneIdeaPerFiring(t *testing.T) {
	ideaFile := writeIdeaFile(t, "# queued ideas\nfirst idea\nsecond idea\n")
	cfg := config.BatchConfig{Name: "nightly", Cron: "0 3 * * *", IdeaFile: ideaFile, Budget: 10}
	s, err := NewScheduler([]config.BatchConfig{cfg}, slog.Default())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	var built []string
	run := func(_ context.Context, batchName, idea string, budget float64) error {
		if batchName != "nightly" || budget != 10 {
			t.Errorf("run got batch=%s budget=%v", batchName, budget)
		}
		built = append(built, idea)
		return nil
	}

	if err := s.runBatch(context.Background(), cfg, run); err != nil {
		t.Fatalf("runBatch: %v", err)
	}
	if err := s.runBatch(context.Background(), cfg, run); err != nil {
		t.Fatalf("runBatch: %v", err)
	}
	// third firing has nothing left
	if err := s.runBatch(context.Background(), cfg, run); err != nil {
		t.Fatalf("runBatch: %v", err)
	}

	if len(built) != 2 || built[0] != "first idea" || built[1] != "second idea" {
		t.Errorf("built = %v", built)
	}
}

func TestReadIdeas_SkipsCommentsAndBlanks(t *testing.T) {
	path := writeIdeaFile(t, "\n# comment\n  a todo app  \n\nanother idea\n")
	ideas, err := ReadIdeas(path)
	if err != nil {
		t.Fatalf("ReadIdeas: %v", err)
	}
	if len(ideas) != 2 || ideas[0] != "a todo app" || ideas[1] != "another idea" {
		t.Errorf("ideas = %v", ideas)
	}
}
