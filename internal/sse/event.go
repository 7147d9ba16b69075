package sse

import "strings"

// Kind is the closed set of event kinds the bridge understands.
type Kind string

const (
	KindThinking     Kind = "thinking"
	KindSummaryDelta Kind = "summary_delta"
	KindError        Kind = "error"
	KindDone         Kind = "done"
	KindUnknown      Kind = "unknown"
)

// Event is one parsed frame. Data is the raw text of the data line; it is
// never decoded here so a malformed payload cannot fail parsing.
type Event struct {
	Kind Kind
	Data string
}

func kindOf(name string) Kind {
	switch k := Kind(name); k {
	case KindThinking, KindSummaryDelta, KindError, KindDone:
		return k
	}
	return KindUnknown
}

// ParseFrame reads the event and data lines of a single frame. When a frame
// carries several data lines the last one wins. Comment lines and unknown
// fields are ignored.
func ParseFrame(frame string) Event {
	ev := Event{Kind: KindUnknown}
	for _, line := range strings.Split(frame, "\n") {
		line = strings.TrimRight(line, "\r")
		if after, ok := strings.CutPrefix(line, "event:"); ok {
			ev.Kind = kindOf(strings.TrimSpace(after))
			continue
		}
		if after, ok := strings.CutPrefix(line, "data:"); ok {
			ev.Data = strings.TrimPrefix(after, " ")
		}
	}
	return ev
}
