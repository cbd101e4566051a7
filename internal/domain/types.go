package domain

// Engine identifies the external code-generation agent driving the pipeline
type Engine string

const (
	EngineClaudeCode Engine = "claude-code"
	EngineOpenCode   Engine = "opencode"
)

// RunStatus represents the lifecycle state of a pipeline run
type RunStatus string

const (
	RunActive    RunStatus = "active"
	RunPaused    RunStatus = "paused"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Provenance records where a task came from
type Provenance string

const (
	ProvenanceManifest   Provenance = "manifest"
	ProvenanceDecomposed Provenance = "decomposed"
	ProvenanceDynamic    Provenance = "dynamic"
)

// Priority represents task priority as declared by the planning manifest
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// PermissionTier controls the tool access granted to an agent invocation
type PermissionTier string

const (
	PermissionReadOnly  PermissionTier = "read-only"
	PermissionReadWrite PermissionTier = "read-write"
)

// StopReason indicates how an agent invocation terminated
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"   // ended normally
	StopMaxOutput StopReason = "max_output" // stopped due to output-length limit
)
