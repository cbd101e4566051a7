package agent

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/jamesjlundin/appforge/internal/domain"
	"github.com/tidwall/gjson"
)

// streamState is the mutable per-invocation record fed by the stream reader
// and read by the heartbeat timer. The reader is the only writer; the
// heartbeat takes snapshots under the mutex.
type streamState struct {
	mu sync.Mutex

	startedAt time.Time
	turns     int
	lastTool  string
	bytes     int64

	assistantText strings.Builder
	resultText    string
	rawTail       []string // last raw lines, fallback output source

	costUSD      float64
	tokensInput  int
	tokensOutput int
	stopReason   domain.StopReason
	sawResult    bool

	unparsed []string // records no variant recognized; kept, not ignored
	errMsg   string   // terminal error record from the agent, if any
}

const rawTailLines = 40

func newStreamState() *streamState {
	return &streamState{startedAt: time.Now()}
}

func (st *streamState) addRaw(line string) {
	st.rawTail = append(st.rawTail, line)
	if len(st.rawTail) > rawTailLines {
		st.rawTail = st.rawTail[1:]
	}
	st.bytes += int64(len(line)) + 1
}

// snapshot returns heartbeat-relevant fields without holding the lock long
func (st *streamState) snapshot() (turns int, lastTool string, bytes int64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.turns, st.lastTool, st.bytes
}

// partialOutput returns the best output available mid-stream, for timeout
// errors.
func (st *streamState) partialOutput() string {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.assistantText.Len() > 0 {
		return st.assistantText.String()
	}
	return strings.Join(st.rawTail, "\n")
}

// result folds the final state into an AgentResult, recording which decoder
// variant ran and which source supplied the output text.
func (st *streamState) result(variant string) *domain.AgentResult {
	st.mu.Lock()
	defer st.mu.Unlock()

	res := &domain.AgentResult{
		CostUSD:        st.costUSD,
		TokensInput:    st.tokensInput,
		TokensOutput:   st.tokensOutput,
		NumTurns:       st.turns,
		StopReason:     st.stopReason,
		DecoderVariant: variant,
	}
	switch {
	case st.resultText != "":
		res.Output = st.resultText
		res.OutputSource = "result"
	case st.assistantText.Len() > 0:
		res.Output = st.assistantText.String()
		res.OutputSource = "assistant_stream"
	default:
		res.Output = strings.Join(st.rawTail, "\n")
		res.OutputSource = "raw"
	}
	return res
}

// decoder decodes one protocol variant of the agent's record stream.
// Implementations must route records they do not recognize to the unparsed
// bucket rather than dropping them.
type decoder interface {
	Name() string
	DecodeLine(line string, st *streamState)
}

// decoderFor selects the protocol variant for an engine
func decoderFor(engine domain.Engine) decoder {
	if engine == domain.EngineOpenCode {
		return &eventDecoder{}
	}
	return &turnStreamDecoder{}
}

// turnStreamDecoder handles the turn/tool-oriented stream-json shape:
// system/assistant/result records, assistant content blocks carrying text
// and tool_use entries, and a terminal result record with usage and cost.
type turnStreamDecoder struct{}

func (d *turnStreamDecoder) Name() string { return "stream-json" }

type turnAssistantRecord struct {
	Message struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
			Name string `json:"name"` // tool_use
		} `json:"content"`
	} `json:"message"`
}

type turnResultRecord struct {
	Subtype  string  `json:"subtype"`
	Result   string  `json:"result"`
	CostUSD  float64 `json:"total_cost_usd"`
	NumTurns int     `json:"num_turns"`
	Usage    struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (d *turnStreamDecoder) DecodeLine(line string, st *streamState) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.addRaw(line)

	if !gjson.Valid(line) {
		st.unparsed = append(st.unparsed, line)
		return
	}

	switch gjson.Get(line, "type").String() {
	case "system":
		// init/info records carry no state the engine needs
	case "assistant":
		var rec turnAssistantRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			st.unparsed = append(st.unparsed, line)
			return
		}
		st.turns++
		for _, block := range rec.Message.Content {
			switch block.Type {
			case "text":
				st.assistantText.WriteString(block.Text)
			case "tool_use":
				st.lastTool = block.Name
			}
		}
	case "result":
		var rec turnResultRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			st.unparsed = append(st.unparsed, line)
			return
		}
		st.sawResult = true
		st.resultText = rec.Result
		st.costUSD = rec.CostUSD
		st.tokensInput = rec.Usage.InputTokens
		st.tokensOutput = rec.Usage.OutputTokens
		if rec.NumTurns > 0 {
			st.turns = rec.NumTurns
		}
		switch rec.Subtype {
		case "success":
			st.stopReason = domain.StopEndTurn
		case "error_max_turns", "error_max_output":
			st.stopReason = domain.StopMaxOutput
		}
	case "error":
		st.errMsg = firstNonEmpty(
			gjson.Get(line, "error.data.message").String(),
			gjson.Get(line, "error").String(),
			gjson.Get(line, "message").String(),
		)
	default:
		st.unparsed = append(st.unparsed, line)
	}
}

/// eventDecoder handles the coarse-grained event shape: flat text/tool/usage
// records without per-turn structure.
type eventDecoder struct{}

func (d *eventDecoder) Name() string { return "event" }

type coarseTextRecord struct {
	Text string `json:"text"`
}

type coarseToolRecord struct {
	Name string `json:"name"`
}

type coarseFinishRecord struct {
	Reason string  `json:"reason"`
	Cost   float64 `json:"cost"`
	Tokens struct {
		Input  int `json:"input"`
		Output int `json:"output"`
	} `json:"tokens"`
}

func (d *eventDecoder) DecodeLine(line string, st *streamState) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.addRaw(line)

	if !gjson.Valid(line) {
		// The coarse shape may interleave plain text; treat it as output
		st.assistantText.WriteString(line)
		st.assistantText.WriteString("\n")
		return
	}

	switch gjson.Get(line, "type").String() {
	case "text":
		var rec coarseTextRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			st.unparsed = append(st.unparsed, line)
			return
		}
		st.assistantText.WriteString(rec.Text)
	case "tool":
		var rec coarseToolRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			st.unparsed = append(st.unparsed, line)
			return
		}
		st.turns++
		st.lastTool = rec.Name
	case "finish":
		var rec coarseFinishRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			st.unparsed = append(st.unparsed, line)
			return
		}
		st.sawResult = true
		st.costUSD = rec.Cost
		st.tokensInput = rec.Tokens.Input
		st.tokensOutput = rec.Tokens.Output
		switch rec.Reason {
		case "length":
			st.stopReason = domain.StopMaxOutput
		case "stop", "":
			st.stopReason = domain.StopEndTurn
		}
	case "error":
		st.errMsg = firstNonEmpty(
			gjson.Get(line, "error.data.message").String(),
			gjson.Get(line, "error.name").String(),
			gjson.Get(line, "message").String(),
		)
	default:
		st.unparsed = append(st.unparsed, line)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
