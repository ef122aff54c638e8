package world

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Section markers the model must emit, in this order.
const (
	NarrativeMarker = "=== 📝 敘事推演 ==="
	StateMarker     = "=== 💾 當前世界狀態庫 (JSON) ==="

	// ParseErrorNarrative replaces the narrative when no narrative section
	// can be located.
	ParseErrorNarrative = "解析錯誤：無法讀取敘事內容。"
)

var errNoStateSection = errors.New("state section not found")

// Reply is a decoded model reply.
type Reply struct {
	Narrative string
	State     WorldState

	// NarrativeOK is false when Narrative is ParseErrorNarrative.
	NarrativeOK bool
	// StateOK is false when State fell back to InitialState.
	StateOK bool
	// StateErr explains why the state section was rejected.
	StateErr error
}

// sections holds the raw bodies located by scanSections.
type sections struct {
	narrative    string
	hasNarrative bool
	state        string
	hasState     bool
}

// scanSections locates the narrative and state markers. Each section is
// resolved independently:
//
//	narrative marker, then state marker   -> narrative is the text between
//	narrative marker, no state marker     -> narrative runs to end of input
//	narrative marker, state marker before -> no narrative
//	no narrative marker                   -> no narrative
//	state marker anywhere                 -> state runs from the first state marker to end of input
func scanSections(text string) sections {
	var sec sections

	stateAt := strings.Index(text, StateMarker)
	if stateAt >= 0 {
		sec.state = strings.TrimSpace(text[stateAt+len(StateMarker):])
		sec.hasState = true
	}

	narrAt := strings.Index(text, NarrativeMarker)
	if narrAt < 0 {
		return sec
	}
	body := text[narrAt+len(NarrativeMarker):]
	if end := strings.Index(body, StateMarker); end >= 0 {
		sec.narrative = strings.TrimSpace(body[:end])
		sec.hasNarrative = true
	} else if stateAt < 0 {
		sec.narrative = strings.TrimSpace(body)
		sec.hasNarrative = true
	}
	return sec
}

// stripCodeFence removes a ```json or ``` fence around s.
func stripCodeFence(s string) string {
	switch {
	case strings.HasPrefix(s, "```json"):
		s = strings.TrimPrefix(s, "```json")
	case strings.HasPrefix(s, "```"):
		s = strings.TrimPrefix(s, "```")
	default:
		return s
	}
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// DecodeState decodes the body of a state section. The body must be a single
// JSON object, optionally wrapped in a code fence. Missing fields decode to
// their zero values.
func DecodeState(body string) (WorldState, error) {
	body = stripCodeFence(strings.TrimSpace(body))
	if body == "" {
		return WorldState{}, errNoStateSection
	}
	if body[0] != '{' {
		return WorldState{}, fmt.Errorf("state is not a JSON object")
	}

	var ws WorldState
	if err := json.Unmarshal([]byte(body), &ws); err != nil {
		return WorldState{}, fmt.Errorf("invalid state JSON: %w", err)
	}
	return ws, nil
}

// ParseResponse splits a raw model reply into narrative and state.
//
// It never fails. A missing narrative section yields ParseErrorNarrative; a
// missing or undecodable state section yields InitialState, not the state
// the reply was meant to advance.
func ParseResponse(text string) Reply {
	sec := scanSections(text)

	reply := Reply{
		Narrative:   ParseErrorNarrative,
		NarrativeOK: sec.hasNarrative,
	}
	if sec.hasNarrative {
		reply.Narrative = sec.narrative
	}

	if !sec.hasState {
		reply.State = InitialState()
		reply.StateErr = errNoStateSection
		return reply
	}

	ws, err := DecodeState(sec.state)
	if err != nil {
		reply.State = InitialState()
		reply.StateErr = err
		return reply
	}
	reply.State = ws
	reply.StateOK = true
	return reply
}

// FormatReply renders a narrative and state in the two-section reply format
// ParseResponse reads.
func FormatReply(narrative string, ws WorldState) (string, error) {
	stateJSON, err := ws.JSON()
	if err != nil {
		return "", err
	}
	return NarrativeMarker + "\n" + narrative + "\n\n" + StateMarker + "\n" + stateJSON, nil
}
