package bridge

import (
	"encoding/json"

	"commerce-portal-backend/internal/sse"
	"commerce-portal-backend/internal/uistream"
)

const (
	ThinkingFallback = "Thinking..."
	StreamErrorText  = "Stream error"
	NoResponseText   = "No response from the gateway."
)

// StreamError is an "error" event raised by the orchestrator mid-stream.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string { return e.Message }

// State is the reducer state for one turn. It only changes through Apply
// and Finish, one event at a time in arrival order.
type State struct {
	TextStarted bool
	// Text accumulates every streamed delta.
	Text string
	Done *TerminalPayload
	// DoneEvents counts successfully parsed "done" events.
	DoneEvents int
	Err        error
}

// Apply consumes one event and returns the next state plus the parts to
// emit. A non-nil error means the turn must end in an error state; once
// errored the state emits nothing further.
func (s State) Apply(ev sse.Event) (State, []uistream.Part, error) {
	if s.Err != nil {
		return s, nil, s.Err
	}
	switch ev.Kind {
	case sse.KindThinking:
		var body struct {
			Text string `json:"text"`
		}
		text := ThinkingFallback
		if json.Unmarshal([]byte(ev.Data), &body) == nil && body.Text != "" {
			text = body.Text
		}
		return s, []uistream.Part{uistream.DataPart(uistream.DataThinking, map[string]string{"text": text})}, nil

	case sse.KindSummaryDelta:
		var body struct {
			Delta string `json:"delta"`
		}
		if err := json.Unmarshal([]byte(ev.Data), &body); err != nil {
			return s, nil, nil
		}
		var parts []uistream.Part
		if !s.TextStarted {
			s.TextStarted = true
			parts = append(parts, uistream.TextStart())
		}
		if body.Delta != "" {
			s.Text += body.Delta
			parts = append(parts, uistream.TextDelta(body.Delta))
		}
		return s, parts, nil

	case sse.KindError:
		var body struct {
			Error string `json:"error"`
		}
		msg := StreamErrorText
		if json.Unmarshal([]byte(ev.Data), &body) == nil && body.Error != "" {
			msg = body.Error
		}
		s.Err = &StreamError{Message: msg}
		return s, nil, s.Err

	case sse.KindDone:
		done, err := ParseTerminalPayload(ev.Data)
		if err != nil {
			return s, nil, nil
		}
		// Last write wins when the orchestrator sends more than one.
		s.Done = done
		s.DoneEvents++
		return s, nil, nil
	}
	return s, nil, nil
}

// Finish runs at end of stream. It closes a streamed text segment, or,
// when nothing was streamed and no terminal payload arrived, emits the
// fallback message as a complete segment.
func (s State) Finish() (State, []uistream.Part) {
	if s.Err != nil {
		return s, nil
	}
	if s.TextStarted {
		return s, []uistream.Part{uistream.TextEnd()}
	}
	if s.Done == nil {
		s.TextStarted = true
		s.Text = NoResponseText
		return s, textSegment(NoResponseText)
	}
	return s, nil
}

func textSegment(text string) []uistream.Part {
	return []uistream.Part{uistream.TextStart(), uistream.TextDelta(text), uistream.TextEnd()}
}
