package bridge

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commerce-portal-backend/internal/uistream"
)

func mustPayload(t *testing.T, data string) *TerminalPayload {
	t.Helper()
	p, err := ParseTerminalPayload(data)
	require.NoError(t, err)
	return p
}

func TestEnrichFullPayload(t *testing.T) {
	done := mustPayload(t, `{
		"summary": "Here are some ideas",
		"data": {
			"intent": {"intent_type": "discover", "search_query": "birthday gifts"},
			"products": {"products": [{"id": "p1"}, {"id": "p2"}]},
			"engagement": {"suggested_bundle_options": [{"label": "Cozy"}]}
		},
		"suggested_ctas": [
			{"label": "Pay", "action": "proceed_to_payment"},
			{"label": "See bundle", "action": "view_bundle"},
			{"label": "More", "action": "search_more"}
		],
		"order_id": "ord_1",
		"bundle_id": "bun_9"
	}`)

	out := Enrich(done, EnrichInput{InputText: "gift ideas", Thread: &ThreadRef{ID: "t-1", Created: true}})

	assert.Equal(t, []string{
		uistream.TypeTextStart, uistream.TypeTextDelta, uistream.TypeTextEnd,
		uistream.DataProductList,
		uistream.DataThematicOptions,
		uistream.DataEngagement,
		uistream.DataPaymentForm,
		uistream.DataThreadMetadata,
	}, kinds(out.Parts))
	assert.Equal(t, "Here are some ideas", out.Summary)
	assert.Equal(t, "Birthday gifts", out.Title)

	engagement := out.Parts[5].Data.(map[string]any)
	ctas := engagement["ctas"].([]CTA)
	require.Len(t, ctas, 3)
	assert.Equal(t, "ord_1", ctas[0]["order_id"])
	assert.Equal(t, "bun_9", ctas[1]["bundle_id"])
	assert.NotContains(t, ctas[2], "order_id")
	assert.NotContains(t, ctas[2], "bundle_id")
	assert.Len(t, engagement["options"], 1)

	assert.Equal(t, map[string]any{"order_id": "ord_1"}, out.Parts[6].Data)
	assert.Equal(t, map[string]any{"thread_id": "t-1", "title": "Birthday gifts"}, out.Parts[7].Data)
}

func TestEnrichInjectsOrderIntoPaymentCTA(t *testing.T) {
	done := mustPayload(t, `{"summary":"Ready","suggested_ctas":[{"label":"Pay","action":"proceed_to_payment"}],"order_id":"ord_1"}`)

	out := Enrich(done, EnrichInput{TextStreamed: true})

	require.Equal(t, []string{uistream.DataEngagement, uistream.DataPaymentForm}, kinds(out.Parts))
	engagement := out.Parts[0].Data.(map[string]any)
	assert.Equal(t, []CTA{{"label": "Pay", "action": "proceed_to_payment", "order_id": "ord_1"}}, engagement["ctas"])
	assert.Equal(t, []json.RawMessage{}, engagement["options"])

	// The payload's own CTA is not mutated.
	_, has := done.CTAs()[0]["order_id"]
	assert.False(t, has)
}

func TestEnrichOrderIDFromData(t *testing.T) {
	done := mustPayload(t, `{"data":{"order_id":42}}`)
	out := Enrich(done, EnrichInput{TextStreamed: true})
	require.Equal(t, []string{uistream.DataPaymentForm}, kinds(out.Parts))
	assert.Equal(t, map[string]any{"order_id": "42"}, out.Parts[0].Data)
}

func TestEnrichBundleFallsBackToRequest(t *testing.T) {
	done := mustPayload(t, `{"suggested_ctas":[{"action":"view_bundle"}]}`)
	out := Enrich(done, EnrichInput{TextStreamed: true, RequestBundleID: "bun_req"})
	engagement := out.Parts[0].Data.(map[string]any)
	assert.Equal(t, "bun_req", engagement["ctas"].([]CTA)[0]["bundle_id"])
}

func TestEnrichSummaryFallbacks(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"summary", `{"summary":"a","message":"b"}`, "a"},
		{"empty summary uses message", `{"summary":"","message":"b"}`, "b"},
		{"null summary uses message", `{"summary":null,"message":"b"}`, "b"},
		{"neither", `{}`, DefaultSummary},
		{"non-string summary", `{"summary":{"x":1}}`, DefaultSummary},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Enrich(mustPayload(t, tt.data), EnrichInput{})
			assert.Equal(t, tt.want, out.Summary)
			require.Len(t, out.Parts, 3)
			assert.Equal(t, tt.want, out.Parts[1].Delta)
		})
	}
}

func TestEnrichSkipsTextWhenStreamed(t *testing.T) {
	out := Enrich(mustPayload(t, `{"summary":"done"}`), EnrichInput{TextStreamed: true})
	assert.Empty(t, out.Parts)
	assert.Equal(t, "done", out.Summary)
}

func TestEnrichThreadMetadata(t *testing.T) {
	done := mustPayload(t, `{"summary":"x"}`)

	existing := Enrich(done, EnrichInput{TextStreamed: true, InputText: "hello", Thread: &ThreadRef{ID: "t-2"}})
	require.Len(t, existing.Parts, 1)
	assert.Equal(t, map[string]any{"thread_id": "t-2"}, existing.Parts[0].Data)
	assert.Empty(t, existing.Title)

	disabled := Enrich(done, EnrichInput{TextStreamed: true, InputText: "hello"})
	assert.Empty(t, disabled.Parts)
}

func TestEnrichIgnoresMalformedSections(t *testing.T) {
	done := mustPayload(t, `{"summary":"ok","data":{"products":"nope","engagement":[1]},"suggested_ctas":{"a":1}}`)
	out := Enrich(done, EnrichInput{TextStreamed: true})
	assert.Empty(t, out.Parts)
}

func TestDeriveThreadTitle(t *testing.T) {
	long := "a really long search query that definitely exceeds the fifty character limit"
	tests := []struct {
		name  string
		done  string
		input string
		want  string
	}{
		{"query", `{"data":{"intent":{"intent_type":"discover","search_query":"birthday gifts"}}}`, "hi", "Birthday gifts"},
		{"composite short", `{"data":{"intent":{"intent_type":"discover_composite","search_query":"date night"}}}`, "", "Planning Date night"},
		{"composite truncated", `{"data":{"intent":{"intent_type":"discover_composite","search_query":"best flowers for anniversary and a dinner"}}}`, "", "Planning Best flowers for anniversary and a dinne"},
		{"long query uses input", `{"data":{"intent":{"search_query":"` + long + `"}}}`, "  gift for mom  ", "gift for mom"},
		{"input truncated", `{}`, long, long[:50]},
		{"nothing", `{}`, "   ", "New chat"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveThreadTitle(mustPayload(t, tt.done), tt.input))
		})
	}
	assert.Equal(t, "Hello there", DeriveThreadTitle(nil, "Hello there"))
}

func TestDeriveThreadTitleRunes(t *testing.T) {
	input := ""
	for i := 0; i < 60; i++ {
		input += "é"
	}
	title := DeriveThreadTitle(nil, input)
	assert.Equal(t, 50, len([]rune(title)))
}
