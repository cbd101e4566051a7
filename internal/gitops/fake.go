package gitops

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Client for tests. Dirty state is toggled by the test;
// commits advance a fake revision counter and record their messages.
type Fake struct {
	mu        sync.Mutex
	dirty     bool
	revision  int
	Messages  []string
	Resets    []string
	DiffStat  string
	CommitErr error
}

// NewFake returns a fake client starting at revision 1 with a clean tree
func NewFake() *Fake {
	return &Fake{revision: 1}
}

// SetDirty marks the fake working tree dirty or clean
func (f *Fake) SetDirty(dirty bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirty = dirty
}

func (f *Fake) Commit(_ context.Context, _ string, message string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CommitErr != nil {
		return false, f.CommitErr
	}
	if !f.dirty {
		return false, nil
	}
	f.dirty = false
	f.revision++
	f.Messages = append(f.Messages, message)
	return true, nil
}

func (f *Fake) HasUncommittedChanges(_ context.Context, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirty, nil
}

func (f *Fake) HeadRevision(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fmt.Sprintf("rev-%d", f.revision), nil
}

func (f *Fake) ResetHard(_ context.Context, _ string, revision string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirty = false
	f.Resets = append(f.Resets, revision)
	return nil
}

func (f *Fake) DiffSummary(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.DiffStat, nil
}
