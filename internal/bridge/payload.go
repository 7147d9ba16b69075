package bridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// TerminalPayload is the body of the orchestrator's "done" event. Nested
// sections are kept raw and decoded leniently by the accessors so an odd
// shape in one section does not discard the whole payload.
type TerminalPayload struct {
	Summary       json.RawMessage `json:"summary"`
	Message       json.RawMessage `json:"message"`
	Data          json.RawMessage `json:"data"`
	SuggestedCTAs json.RawMessage `json:"suggested_ctas"`
	OrderID       json.RawMessage `json:"order_id"`
	BundleID      json.RawMessage `json:"bundle_id"`
	AdaptiveCard  json.RawMessage `json:"adaptive_card"`
}

type PayloadData struct {
	Intent     json.RawMessage `json:"intent"`
	Products   json.RawMessage `json:"products"`
	Engagement json.RawMessage `json:"engagement"`
	OrderID    json.RawMessage `json:"order_id"`
	BundleID   json.RawMessage `json:"bundle_id"`
}

// data decodes the nested data section; a non-object yields zero values.
func (p *TerminalPayload) data() PayloadData {
	var d PayloadData
	if p != nil && isObject(p.Data) {
		_ = json.Unmarshal(p.Data, &d)
	}
	return d
}

// Intent is the orchestrator's classification of the turn.
type Intent struct {
	Type        string `json:"intent_type"`
	SearchQuery string `json:"search_query"`
}

// CTA is a suggested call to action. Unknown fields pass through verbatim.
type CTA map[string]any

// Action returns the CTA's action string.
func (c CTA) Action() string {
	s, _ := c["action"].(string)
	return s
}

var errNotObject = errors.New("done payload is not a JSON object")

// ParseTerminalPayload decodes a "done" event body. Anything that is not a
// JSON object is rejected.
func ParseTerminalPayload(data string) (*TerminalPayload, error) {
	raw := bytes.TrimSpace([]byte(data))
	if len(raw) == 0 || raw[0] != '{' {
		return nil, errNotObject
	}
	var p TerminalPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SummaryText returns the first non-empty of summary and message.
func (p *TerminalPayload) SummaryText() (string, bool) {
	if p == nil {
		return "", false
	}
	for _, raw := range []json.RawMessage{p.Summary, p.Message} {
		var s string
		if json.Unmarshal(raw, &s) == nil && strings.TrimSpace(s) != "" {
			return s, true
		}
	}
	return "", false
}

// CTAs returns the object entries of suggested_ctas.
func (p *TerminalPayload) CTAs() []CTA {
	if p == nil {
		return nil
	}
	var items []json.RawMessage
	if json.Unmarshal(p.SuggestedCTAs, &items) != nil {
		return nil
	}
	out := make([]CTA, 0, len(items))
	for _, item := range items {
		var c CTA
		if isObject(item) && json.Unmarshal(item, &c) == nil {
			out = append(out, c)
		}
	}
	return out
}

// ResolvedOrderID looks at order_id, then data.order_id.
func (p *TerminalPayload) ResolvedOrderID() string {
	if p == nil {
		return ""
	}
	if id := looseString(p.OrderID); id != "" {
		return id
	}
	return looseString(p.data().OrderID)
}

// ResolvedBundleID looks at bundle_id, then data.bundle_id.
func (p *TerminalPayload) ResolvedBundleID() string {
	if p == nil {
		return ""
	}
	if id := looseString(p.BundleID); id != "" {
		return id
	}
	return looseString(p.data().BundleID)
}

// Intent decodes data.intent; ok is false when absent or malformed.
func (p *TerminalPayload) Intent() (Intent, bool) {
	var in Intent
	raw := p.data().Intent
	if !isObject(raw) {
		return in, false
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return Intent{}, false
	}
	return in, true
}

// Products returns data.products.products.
func (p *TerminalPayload) Products() []json.RawMessage {
	if p == nil {
		return nil
	}
	var section struct {
		Products []json.RawMessage `json:"products"`
	}
	raw := p.data().Products
	if !isObject(raw) || json.Unmarshal(raw, &section) != nil {
		return nil
	}
	return section.Products
}

// BundleOptions returns data.engagement.suggested_bundle_options.
func (p *TerminalPayload) BundleOptions() []json.RawMessage {
	if p == nil {
		return nil
	}
	var section struct {
		Options []json.RawMessage `json:"suggested_bundle_options"`
	}
	raw := p.data().Engagement
	if !isObject(raw) || json.Unmarshal(raw, &section) != nil {
		return nil
	}
	return section.Options
}

// Card returns adaptive_card, or nil when absent or null.
func (p *TerminalPayload) Card() json.RawMessage {
	if p == nil {
		return nil
	}
	raw := bytes.TrimSpace(p.AdaptiveCard)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	return raw
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

// looseString accepts a JSON string or number.
func looseString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		if i, err := n.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return n.String()
	}
	return ""
}
