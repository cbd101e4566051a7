package domain

// Task is one implementation unit executed by the generation agent against
// the live workspace. The Body is the exact instruction sent to the agent;
// the remaining fields describe and constrain the work.
type Task struct {
	ID                 string     `json:"id" yaml:"id"`
	Title              string     `json:"title" yaml:"title"`
	Body               string     `json:"body" yaml:"body"`
	Priority           Priority   `json:"priority,omitempty" yaml:"priority,omitempty"`
	Complexity         string     `json:"complexity,omitempty" yaml:"complexity,omitempty"`
	Milestone          string     `json:"milestone,omitempty" yaml:"milestone,omitempty"`
	Description        string     `json:"description,omitempty" yaml:"description,omitempty"`
	Files              []string   `json:"files,omitempty" yaml:"files,omitempty"`
	AcceptanceCriteria []string   `json:"acceptance_criteria,omitempty" yaml:"acceptance_criteria,omitempty"`
	TestExpectations   []string   `json:"test_expectations,omitempty" yaml:"test_expectations,omitempty"`
	DependsOn          string     `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Provenance         Provenance `json:"provenance" yaml:"provenance,omitempty"`
}

// Clone returns a deep copy of the task
func (t *Task) Clone() *Task {
	c := *t
	c.Files = append([]string(nil), t.Files...)
	c.AcceptanceCriteria = append([]string(nil), t.AcceptanceCriteria...)
	c.TestExpectations = append([]string(nil), t.TestExpectations...)
	return &c
}
