package statestore

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    idea TEXT NOT NULL,
    engine TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'active',
    workspace_path TEXT,
    repository_url TEXT,
    completed_phases TEXT NOT NULL DEFAULT '[]',
    current_phase TEXT,
    actual_cost_usd REAL NOT NULL DEFAULT 0,
    estimated_cost_usd REAL NOT NULL DEFAULT 0,
    effective_cost_usd REAL NOT NULL DEFAULT 0,
    tokens_input INTEGER NOT NULL DEFAULT 0,
    tokens_output INTEGER NOT NULL DEFAULT 0,
    phase_costs TEXT NOT NULL DEFAULT '{}',
    last_completed_task INTEGER NOT NULL DEFAULT 0,
    decomposition_count INTEGER NOT NULL DEFAULT 0,
    dynamic_task_count INTEGER NOT NULL DEFAULT 0,
    completed_stages TEXT NOT NULL DEFAULT '[]',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

CREATE TABLE IF NOT EXISTS queue_tasks (
    run_id TEXT NOT NULL REFERENCES runs(id),
    position INTEGER NOT NULL,
    id TEXT NOT NULL,
    title TEXT NOT NULL,
    body TEXT NOT NULL,
    priority TEXT,
    complexity TEXT,
    milestone TEXT,
    description TEXT,
    files TEXT,
    acceptance_criteria TEXT,
    test_expectations TEXT,
    depends_on TEXT,
    provenance TEXT NOT NULL,
    PRIMARY KEY (run_id, position)
);

CREATE INDEX IF NOT EXISTS idx_queue_tasks_run ON queue_tasks(run_id);

CREATE TABLE IF NOT EXISTS invocations (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES runs(id),
    phase TEXT NOT NULL,
    purpose TEXT,
    cost_usd REAL NOT NULL DEFAULT 0,
    tokens_input INTEGER NOT NULL DEFAULT 0,
    tokens_output INTEGER NOT NULL DEFAULT 0,
    num_turns INTEGER NOT NULL DEFAULT 0,
    stop_reason TEXT,
    decoder_variant TEXT,
    output_source TEXT,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_invocations_run ON invocations(run_id);
`
