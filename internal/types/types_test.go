package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextOf(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"string", `"  hello  "`, "hello"},
		{"parts", `[{"type":"text","text":"hel"},{"type":"reasoning","text":"x"},{"type":"text","text":"lo"}]`, "hello"},
		{"untyped part", `[{"text":"hi"}]`, "hi"},
		{"parts with junk", `[1,"a",{"type":"text","text":"ok"}]`, "ok"},
		{"object content", `{"content":"nested"}`, "nested"},
		{"object content parts", `{"content":[{"type":"text","text":"deep"}]}`, "deep"},
		{"object parts", `{"parts":[{"type":"text","text":"via parts"}]}`, "via parts"},
		{"content wins over parts", `{"content":"c","parts":[{"type":"text","text":"p"}]}`, "c"},
		{"empty content falls to parts", `{"content":"","parts":[{"type":"text","text":"p"}]}`, "p"},
		{"number", `42`, ""},
		{"null", `null`, ""},
		{"empty", ``, ""},
		{"bad json", `{"content":`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TextOf(json.RawMessage(tt.raw)))
		})
	}
}

func decode(t *testing.T, body string) ChatRequest {
	t.Helper()
	var req ChatRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))
	return req
}

func TestInputTextPrefersMessage(t *testing.T) {
	req := decode(t, `{"message":"direct","messages":[{"role":"user","content":"older"}]}`)
	assert.Equal(t, "direct", req.InputText())
}

func TestInputTextLastUserMessage(t *testing.T) {
	req := decode(t, `{
		"id": "chat-1",
		"messages": [
			{"id":"m1","role":"user","parts":[{"type":"text","text":"first"}]},
			{"id":"m2","role":"assistant","parts":[{"type":"text","text":"answer"}]},
			{"id":"m3","role":"user","parts":[{"type":"text","text":"second"}]}
		]
	}`)
	assert.Equal(t, "second", req.InputText())
	assert.Equal(t, "m3", req.ClientMessageID())
	assert.Equal(t, []HistoryEntry{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "answer"},
	}, req.History(20))
}

func TestInputTextEmpty(t *testing.T) {
	assert.Equal(t, "", decode(t, `{}`).InputText())
	assert.Equal(t, "", decode(t, `{"messages":[{"role":"assistant","content":"x"}]}`).InputText())
}

func TestClientMessageIDFromMessageObject(t *testing.T) {
	req := decode(t, `{"message":{"id":"m9","parts":[{"type":"text","text":"hi"}]}}`)
	assert.Equal(t, "hi", req.InputText())
	assert.Equal(t, "m9", req.ClientMessageID())
}

func TestClientMessageIDFollowsInputSource(t *testing.T) {
	history := `"messages":[{"id":"srv-1","role":"user","content":"first question"},{"id":"srv-2","role":"assistant","content":"answer"}]`

	tests := []struct {
		name string
		body string
		text string
		id   string
	}{
		{"bare message ignores history ids", `{"message":"second question",` + history + `}`, "second question", ""},
		{"message object without id", `{"message":{"content":"second question"},` + history + `}`, "second question", ""},
		{"message object with id", `{"message":{"id":"m7","content":"second question"},` + history + `}`, "second question", "m7"},
		{"empty message falls back to list", `{"message":"  ",` + history + `}`, "first question", "srv-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := decode(t, tt.body)
			assert.Equal(t, tt.text, req.InputText())
			assert.Equal(t, tt.id, req.ClientMessageID())
		})
	}
}

func TestHistoryLimit(t *testing.T) {
	req := ChatRequest{Message: json.RawMessage(`"now"`)}
	for i := 0; i < 30; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		req.Messages = append(req.Messages, UIMessage{Role: role, Content: json.RawMessage(`"m"`)})
	}
	req.Messages = append(req.Messages, UIMessage{Role: "system", Content: json.RawMessage(`"ignored"`)})

	history := req.History(20)
	assert.Len(t, history, 20)
	assert.Equal(t, "assistant", history[len(history)-1].Role)
}
