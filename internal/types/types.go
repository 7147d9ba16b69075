package types

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ChatRequest is the body of POST /api/chat. It accepts the AI SDK message
// list as well as a bare message, plus the portal's context ids.
type ChatRequest struct {
	ID               string          `json:"id,omitempty"`
	Messages         []UIMessage     `json:"messages,omitempty"`
	Message          json.RawMessage `json:"message,omitempty"`
	ThreadID         string          `json:"thread_id,omitempty"`
	AnonymousID      string          `json:"anonymous_id,omitempty"`
	// UserID is accepted for client compatibility but never trusted as
	// identity; signed-in users are identified by the X-User-Id header.
	UserID           string          `json:"user_id,omitempty"`
	BundleID         string          `json:"bundle_id,omitempty"`
	OrderID          string          `json:"order_id,omitempty"`
	ExploreProductID string          `json:"explore_product_id,omitempty"`
}

// UIMessage is one message of the client's conversation. Content may be a
// string, a list of parts, or absent in favour of Parts.
type UIMessage struct {
	ID      string          `json:"id,omitempty"`
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content,omitempty"`
	Parts   json.RawMessage `json:"parts,omitempty"`
}

// Text returns the message's plain text.
func (m UIMessage) Text() string {
	if text := TextOf(m.Content); text != "" {
		return text
	}
	return TextOf(m.Parts)
}

// HistoryEntry is a prior turn forwarded to the gateway.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// InputText returns the new user text: the bare message when present,
// else the last user message.
func (r ChatRequest) InputText() string {
	if text := TextOf(r.Message); text != "" {
		return text
	}
	if last, ok := r.lastUser(); ok {
		return r.Messages[last].Text()
	}
	return ""
}

// ClientMessageID is the id of the message being sent, if the client
// supplied one. It comes from the same source as InputText: a bare
// message only carries an id in object form, and the message list is
// consulted only when it supplied the text.
func (r ChatRequest) ClientMessageID() string {
	if TextOf(r.Message) != "" {
		var msg struct {
			ID string `json:"id"`
		}
		if isObject(r.Message) && json.Unmarshal(r.Message, &msg) == nil {
			return msg.ID
		}
		return ""
	}
	if last, ok := r.lastUser(); ok {
		return r.Messages[last].ID
	}
	return ""
}

// History returns up to limit messages preceding the new user message,
// oldest first. Messages without text are skipped.
func (r ChatRequest) History(limit int) []HistoryEntry {
	end := len(r.Messages)
	if len(bytes.TrimSpace(r.Message)) == 0 {
		if last, ok := r.lastUser(); ok {
			end = last
		}
	}
	out := make([]HistoryEntry, 0, end)
	for _, m := range r.Messages[:end] {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		if text := m.Text(); text != "" {
			out = append(out, HistoryEntry{Role: m.Role, Content: text})
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (r ChatRequest) lastUser() (int, bool) {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return i, true
		}
	}
	return 0, false
}

// TextOf narrows a loosely shaped content value to text. Shapes are tried
// in order: a string, a list of parts (text parts joined), an object with
// content, an object with parts. Anything else yields "".
func TextOf(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return strings.TrimSpace(s)
		}
	case '[':
		return partsText(raw)
	case '{':
		var obj struct {
			Content json.RawMessage `json:"content"`
			Parts   json.RawMessage `json:"parts"`
		}
		if json.Unmarshal(raw, &obj) != nil {
			return ""
		}
		if text := TextOf(obj.Content); text != "" {
			return text
		}
		return TextOf(obj.Parts)
	}
	return ""
}

func partsText(raw json.RawMessage) string {
	var parts []json.RawMessage
	if json.Unmarshal(raw, &parts) != nil {
		return ""
	}
	var texts []string
	for _, p := range parts {
		var part struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if !isObject(p) || json.Unmarshal(p, &part) != nil {
			continue
		}
		if (part.Type == "text" || part.Type == "") && part.Text != "" {
			texts = append(texts, part.Text)
		}
	}
	return strings.TrimSpace(strings.Join(texts, ""))
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

type ErrorResponse struct {
	Error string `json:"error"`
	Hint  string `json:"hint,omitempty"`
}

// ThreadSummary is one entry of GET /api/threads.
type ThreadSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	UpdatedAt string `json:"updated_at"`
}

type ThreadListResponse struct {
	Threads []ThreadSummary `json:"threads"`
}

// StoredMessage is one entry of GET /api/threads/{threadID}/messages.
type StoredMessage struct {
	ID        string          `json:"id"`
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Card      json.RawMessage `json:"card,omitempty"`
	CreatedAt string          `json:"created_at"`
}

type MessageListResponse struct {
	ThreadID string          `json:"thread_id"`
	Messages []StoredMessage `json:"messages"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	Persistence string `json:"persistence"`
	Gateway     string `json:"gateway"`
}
