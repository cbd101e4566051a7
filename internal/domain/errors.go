package domain

import "fmt"

// ConsistencyError marks a precondition violation that automatic repair
// cannot safely resolve: queue/traceability mismatches, a dirty workspace
// before a unit of work, a resume index past the end of the queue. These are
// always fatal and never retried.
type ConsistencyError struct {
	Op     string
	Detail string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency violation in %s: %s", e.Op, e.Detail)
}

// NoChangesError is raised when a task's agent invocation completed but left
// the workspace byte-for-byte unchanged. Committing nothing would break the
// rollback anchor for the next task, so this is fatal.
type NoChangesError struct {
	TaskID string
}

func (e *NoChangesError) Error() string {
	return fmt.Sprintf("task %s: agent invocation produced no changes", e.TaskID)
}
