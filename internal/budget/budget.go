package budget

import (
	"fmt"
	"log/slog"

	"github.com/jamesjlundin/appforge/internal/domain"
)

// Rates is the injectable cost model used for estimation when the agent does
// not report an actual cost.
type Rates struct {
	InputUSDPerMTok  float64
	OutputUSDPerMTok float64
}

// ExceededError is fatal: the run's effective cost reached the ceiling. It is
// raised before an agent call, never after.
type ExceededError struct {
	EffectiveUSD float64
	LimitUSD     float64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("budget exceeded: effective cost $%.2f >= limit $%.2f", e.EffectiveUSD, e.LimitUSD)
}

// Tracker accumulates actual and estimated cost per phase and run-wide, and
// enforces the budget ceiling.
type Tracker struct {
	rates  Rates
	logger *slog.Logger
	warned map[string]bool // run ID -> 80% warning already emitted
}

// NewTracker creates a tracker with the given estimation rates
func NewTracker(rates Rates, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{rates: rates, logger: logger, warned: make(map[string]bool)}
}

// Estimate computes the estimated cost of an invocation from token counts
func (t *Tracker) Estimate(tokensIn, tokensOut int) float64 {
	return float64(tokensIn)/1e6*t.rates.InputUSDPerMTok +
		float64(tokensOut)/1e6*t.rates.OutputUSDPerMTok
}

// Record folds one agent result into the run's accounting. A reported actual
// cost goes to the actual and effective buckets. Without one, token counts
// produce an estimated cost in the estimated and effective buckets; actual
// cost is never inferred.
func (t *Tracker) Record(run *domain.Run, phaseID string, res *domain.AgentResult) {
	pc := run.PhaseCostFor(phaseID)
	run.TokensInput += res.TokensInput
	run.TokensOutput += res.TokensOutput

	if res.CostUSD > 0 {
		pc.ActualUSD += res.CostUSD
		pc.EffectiveUSD += res.CostUSD
		run.ActualCostUSD += res.CostUSD
		run.EffectiveCostUSD += res.CostUSD
		return
	}

	if res.TokensInput == 0 && res.TokensOutput == 0 {
		return
	}
	est := t.Estimate(res.TokensInput, res.TokensOutput)
	pc.EstimatedUSD += est
	pc.EffectiveUSD += est
	run.EstimatedCostUSD += est
	run.EffectiveCostUSD += est
	t.logger.Debug("no actual cost reported, estimated from tokens",
		"phase", phaseID, "estimated_usd", est,
		"tokens_in", res.TokensInput, "tokens_out", res.TokensOutput)
}

// CheckBudget fails with an ExceededError when the run's effective cost has
// already reached the limit. A warning is logged once past 80% of the limit.
// A non-positive limit disables enforcement.
func (t *Tracker) CheckBudget(run *domain.Run, limitUSD float64) error {
	if limitUSD <= 0 {
		return nil
	}
	if run.EffectiveCostUSD >= limitUSD {
		return &ExceededError{EffectiveUSD: run.EffectiveCostUSD, LimitUSD: limitUSD}
	}
	if run.EffectiveCostUSD >= 0.8*limitUSD && !t.warned[run.ID] {
		t.warned[run.ID] = true
		t.logger.Warn("budget warning: 80% of limit consumed",
			"run", run.ID,
			"effective_usd", fmt.Sprintf("%.2f", run.EffectiveCostUSD),
			"limit_usd", fmt.Sprintf("%.2f", limitUSD))
	}
	return nil
}
