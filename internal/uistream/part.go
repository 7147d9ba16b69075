// Package uistream writes the outbound UI message stream consumed by the
// chat front-end: text segments and named data parts, one SSE frame each.
package uistream

import "context"

// Part types.
const (
	TypeStart     = "start"
	TypeFinish    = "finish"
	TypeError     = "error"
	TypeTextStart = "text-start"
	TypeTextDelta = "text-delta"
	TypeTextEnd   = "text-end"
)

// Named data parts. They go over the wire as "data-<name>".
const (
	DataThinking        = "thinking"
	DataProductList     = "product_list"
	DataThematicOptions = "thematic_options"
	DataEngagement      = "engagement_choice"
	DataPaymentForm     = "payment_form"
	DataThreadMetadata  = "thread_metadata"
)

// Part is one outbound artifact. Text parts use Type and Delta; data parts
// set Name and Data and leave Type empty.
type Part struct {
	Type  string
	Delta string
	Name  string
	Data  any
}

func TextStart() Part { return Part{Type: TypeTextStart} }
func TextDelta(delta string) Part { return Part{Type: TypeTextDelta, Delta: delta} }
func TextEnd() Part { return Part{Type: TypeTextEnd} }

// DataPart builds a named data part.
func DataPart(name string, data any) Part { return Part{Name: name, Data: data} }

// Kind returns the part's identity: its Type, or Name for data parts.
func (p Part) Kind() string {
	if p.Type != "" {
		return p.Type
	}
	return p.Name
}

// Sink receives parts in order.
type Sink interface {
	Write(ctx context.Context, p Part) error
}

// Stream is a Sink that can be terminated, normally or in an error state.
type Stream interface {
	Sink
	Finish() error
	Fail(message string) error
}
