package agent

import (
	"testing"

	"github.com/jamesjlundin/appforge/internal/domain"
)

func TestTurnStreamDecoder_FullSession(t *testing.T) {
	dec := &turnStreamDecoder{}
	st := newStreamState()

	lines := []string{
		`{"type":"system","subtype":"init","session_id":"abc"}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"Working on it. "}]}}`,
		`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Edit"}]}}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"Done."}]}}`,
		`{"type":"result","subtype":"success","result":"# SPEC\n\nAll done.","total_cost_usd":0.37,"num_turns":5,"usage":{"input_tokens":1200,"output_tokens":800}}`,
	}
	for _, line := range lines {
		dec.DecodeLine(line, st)
	}

	res := st.result(dec.Name())
	if res.Output != "# SPEC\n\nAll done." {
		t.Errorf("Output = %q, want result record text", res.Output)
	}
	if res.OutputSource != "result" {
		t.Errorf("OutputSource = %s, want result", res.OutputSource)
	}
	if res.CostUSD != 0.37 {
		t.Errorf("CostUSD = %v, want 0.37", res.CostUSD)
	}
	if res.TokensInput != 1200 || res.TokensOutput != 800 {
		t.Errorf("tokens = %d/%d, want 1200/800", res.TokensInput, res.TokensOutput)
	}
	if res.NumTurns != 5 {
		t.Errorf("NumTurns = %d, want 5 (from result record)", res.NumTurns)
	}
	if res.StopReason != domain.StopEndTurn {
		t.Errorf("StopReason = %s, want end_turn", res.StopReason)
	}
	if st.lastTool != "Edit" {
		t.Errorf("lastTool = %s, want Edit", st.lastTool)
	}
}

func TestTurnStreamDecoder_NoResultFallsBackToAssistantText(t *testing.T) {
	dec := &turnStreamDecoder{}
	st := newStreamState()

	dec.DecodeLine(`{"type":"assistant","message":{"content":[{"type":"text","text":"partial answer"}]}}`, st)

	res := st.result(dec.Name())
	if res.Output != "partial answer" {
		t.Errorf("Output = %q, want accumulated assistant text", res.Output)
	}
	if res.OutputSource != "assistant_stream" {
		t.Errorf("OutputSource = %s, want assistant_stream", res.OutputSource)
	}
}

func TestTurnStreamDecoder_UnrecognizedGoesToUnparsedBucket(t *testing.T) {
	dec := &turnStreamDecoder{}
	st := newStreamState()

	dec.DecodeLine(`{"type":"telemetry","payload":{}}`, st)
	dec.DecodeLine(`not json at all`, st)

	if len(st.unparsed) != 2 {
		t.Errorf("unparsed = %d records, want 2", len(st.unparsed))
	}
}

func TestTurnStreamDecoder_MaxOutputStopReason(t *testing.T) {
	dec := &turnStreamDecoder{}
	st := newStreamState()

	dec.DecodeLine(`{"type":"result","subtype":"error_max_output","result":"truncated","usage":{"input_tokens":10,"output_tokens":20}}`, st)

	res := st.result(dec.Name())
	if res.StopReason != domain.StopMaxOutput {
		t.Errorf("StopReason = %s, want max_output", res.StopReason)
	}
}

func TestTurnStreamDecoder_ErrorRecord(t *testing.T) {
	dec := &turnStreamDecoder{}
	st := newStreamState()

	dec.DecodeLine(`{"type":"error","error":"rate limited"}`, st)

	if st.errMsg != "rate limited" {
		t.Errorf("errMsg = %q, want %q", st.errMsg, "rate limited")
	}
}

func TestEventDecoder_CoarseShape(t *testing.T) {
	dec := &eventDecoder{}
	st := newStreamState()

	lines := []string{
		`{"type":"text","text":"Scaffolding the app."}`,
		`{"type":"tool","name":"bash"}`,
		`{"type":"tool","name":"write"}`,
		`{"type":"finish","reason":"stop","cost":0.12,"tokens":{"input":500,"output":900}}`,
	}
	for _, line := range lines {
		dec.DecodeLine(line, st)
	}

	res := st.result(dec.Name())
	if res.Output != "Scaffolding the app." {
		t.Errorf("Output = %q", res.Output)
	}
	if res.OutputSource != "assistant_stream" {
		t.Errorf("OutputSource = %s, want assistant_stream", res.OutputSource)
	}
	if res.CostUSD != 0.12 {
		t.Errorf("CostUSD = %v, want 0.12", res.CostUSD)
	}
	if res.NumTurns != 2 {
		t.Errorf("NumTurns = %d, want 2 (tool events)", res.NumTurns)
	}
	if res.DecoderVariant != "event" {
		t.Errorf("DecoderVariant = %s, want event", res.DecoderVariant)
	}
}

func TestEventDecoder_PlainTextLinesBecomeOutput(t *testing.T) {
	dec := &eventDecoder{}
	st := newStreamState()

	dec.DecodeLine("working...", st)
	dec.DecodeLine(`{"type":"finish","reason":"length","cost":0,"tokens":{"input":1,"output":2}}`, st)

	res := st.result(dec.Name())
	if res.Output != "working...\n" {
		t.Errorf("Output = %q, want plain lines preserved", res.Output)
	}
	if res.StopReason != domain.StopMaxOutput {
		t.Errorf("StopReason = %s, want max_output for reason=length", res.StopReason)
	}
}

func TestDecoderFor(t *testing.T) {
	if decoderFor(domain.EngineClaudeCode).Name() != "stream-json" {
		t.Error("claude-code should use the stream-json variant")
	}
	if decoderFor(domain.EngineOpenCode).Name() != "event" {
		t.Error("opencode should use the event variant")
	}
}
