package domain

// AgentResult is the decoded outcome of one agent subprocess invocation.
// CostUSD is zero when the agent did not report a cost; token counts then
// drive estimated-cost accounting instead.
type AgentResult struct {
	Output       string
	CostUSD      float64
	TokensInput  int
	TokensOutput int
	NumTurns     int
	StopReason   StopReason // empty when the stream carried no terminal record

	// Diagnostics: which decoder variant handled the stream and which
	// output source supplied the final text (result record, accumulated
	// assistant text, raw stream).
	DecoderVariant string
	OutputSource   string
}
