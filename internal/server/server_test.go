package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commerce-portal-backend/internal/config"
	"commerce-portal-backend/internal/dedupe"
	"commerce-portal-backend/internal/gateway"
	"commerce-portal-backend/internal/store"
	"commerce-portal-backend/internal/types"
)

type fakeGateway struct {
	configured bool
	body       string
	err        error
	requests   []gateway.Request
}

func (g *fakeGateway) Configured() bool { return g.configured }

func (g *fakeGateway) Open(_ context.Context, req gateway.Request) (io.ReadCloser, error) {
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	return io.NopCloser(strings.NewReader(g.body)), nil
}

func testConfig() config.Config {
	return config.Config{
		AllowedOrigins:     []string{"*"},
		PersistenceEnabled: true,
		PersistTimeout:     time.Second,
		StreamTimeout:      5 * time.Second,
		HistoryLimit:       20,
	}
}

func newTestServer(t *testing.T, gw *fakeGateway, st store.ThreadStore) *Server {
	t.Helper()
	s, err := NewServer(testConfig(), Deps{Gateway: gw, Store: st, Seen: dedupe.NewMemorySet(64, time.Minute)})
	require.NoError(t, err)
	return s
}

// sseParts decodes the data payloads of a UI message stream response.
func sseParts(t *testing.T, body string) ([]map[string]any, bool) {
	t.Helper()
	var (
		parts []map[string]any
		done  bool
	)
	for _, frame := range strings.Split(body, "\n\n") {
		data, ok := strings.CutPrefix(strings.TrimSpace(frame), "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			done = true
			continue
		}
		var part map[string]any
		require.NoError(t, json.Unmarshal([]byte(data), &part), data)
		parts = append(parts, part)
	}
	return parts, done
}

func partTypes(parts []map[string]any) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, p["type"].(string))
	}
	return out
}

func postChat(s *Server, body string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

const doneStream = "event: thinking\ndata: {\"text\":\"Looking\"}\n\n" +
	"event: summary_delta\ndata: {\"delta\":\"Here you go\"}\n\n" +
	"event: done\ndata: {\"summary\":\"Here you go\",\"data\":{\"intent\":{\"intent_type\":\"discover\",\"search_query\":\"birthday gifts\"},\"products\":{\"products\":[{\"id\":\"p1\"}]}},\"suggested_ctas\":[{\"label\":\"Pay\",\"action\":\"proceed_to_payment\"}],\"order_id\":\"ord_1\"}\n\n"

func TestChatStreamsUIMessages(t *testing.T) {
	gw := &fakeGateway{configured: true, body: doneStream}
	ms := store.NewMemoryStore(0)
	s := newTestServer(t, gw, ms)

	rec := postChat(s, `{"messages":[{"id":"m1","role":"user","parts":[{"type":"text","text":"gift ideas"}]}],"anonymous_id":"anon-7"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache, no-transform", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "v1", rec.Header().Get("X-Vercel-AI-UI-Message-Stream"))
	threadID := rec.Header().Get("X-Thread-Id")
	require.True(t, store.ValidThreadID(threadID))

	parts, done := sseParts(t, rec.Body.String())
	assert.True(t, done)
	assert.Equal(t, []string{
		"start",
		"data-thinking",
		"text-start", "text-delta", "text-end",
		"data-product_list",
		"data-engagement_choice",
		"data-payment_form",
		"data-thread_metadata",
		"finish",
	}, partTypes(parts))

	engagement := parts[6]["data"].(map[string]any)
	cta := engagement["ctas"].([]any)[0].(map[string]any)
	assert.Equal(t, "ord_1", cta["order_id"])
	meta := parts[8]["data"].(map[string]any)
	assert.Equal(t, threadID, meta["thread_id"])
	assert.Equal(t, "Birthday gifts", meta["title"])

	require.Len(t, gw.requests, 1)
	assert.Equal(t, "gift ideas", gw.requests[0].Message)
	assert.Equal(t, "anon-7", gw.requests[0].OwnerID)
	assert.Equal(t, threadID, gw.requests[0].ThreadID)

	msgs, err := ms.ListMessages(context.Background(), "anon-7", threadID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Here you go", msgs[1].Content)
}

func TestChatMintsAnonCookie(t *testing.T) {
	gw := &fakeGateway{configured: true, body: doneStream}
	s := newTestServer(t, gw, nil)

	rec := postChat(s, `{"message":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var anon *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == CookieName {
			anon = c
		}
	}
	require.NotNil(t, anon)
	assert.True(t, anon.HttpOnly)
	assert.True(t, strings.HasPrefix(anon.Value, "anon_"))
	assert.Equal(t, anon.Value, gw.requests[0].OwnerID)
}

func TestChatUserHeaderWins(t *testing.T) {
	gw := &fakeGateway{configured: true, body: doneStream}
	s := newTestServer(t, gw, nil)

	rec := postChat(s, `{"message":"hi","anonymous_id":"anon-1"}`, func(r *http.Request) {
		r.Header.Set(UserHeader, "user-42")
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-42", gw.requests[0].OwnerID)
	assert.Empty(t, rec.Result().Cookies())
}

func TestChatWithoutPersistence(t *testing.T) {
	gw := &fakeGateway{configured: true, body: "event: thinking\ndata: {}\n\n"}
	s := newTestServer(t, gw, nil)

	rec := postChat(s, `{"message":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Thread-Id"))

	parts, done := sseParts(t, rec.Body.String())
	assert.True(t, done)
	assert.Equal(t, []string{"start", "data-thinking", "text-start", "text-delta", "text-end", "finish"}, partTypes(parts))
	assert.Equal(t, "No response from the gateway.", parts[3]["delta"])
	assert.Equal(t, "Thinking...", parts[1]["data"].(map[string]any)["text"])
}

func TestChatMidStreamError(t *testing.T) {
	gw := &fakeGateway{configured: true, body: "event: thinking\ndata: {\"text\":\"x\"}\n\nevent: error\ndata: {\"error\":\"Rate limited\"}\n\n"}
	s := newTestServer(t, gw, store.NewMemoryStore(0))

	rec := postChat(s, `{"message":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	parts, done := sseParts(t, rec.Body.String())
	assert.False(t, done)
	assert.Equal(t, []string{"start", "data-thinking", "error"}, partTypes(parts))
	assert.Equal(t, "Rate limited", parts[2]["errorText"])
}

func TestChatRejectsBadRequests(t *testing.T) {
	s := newTestServer(t, &fakeGateway{configured: true}, nil)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"no text", `{"messages":[{"role":"assistant","content":"hello"}]}`},
		{"unrecognized shape", `{"message":42}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postChat(s, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestChatGatewayNotConfigured(t *testing.T) {
	gw := &fakeGateway{configured: false}
	ms := store.NewMemoryStore(0)
	s := newTestServer(t, gw, ms)

	rec := postChat(s, `{"message":"hi","anonymous_id":"a1"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp types.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, gateway.NotAvailableText, resp.Error)
	assert.Empty(t, gw.requests)

	threads, _ := ms.ListThreads(context.Background(), "a1", 0)
	assert.Empty(t, threads)
}

func TestChatGatewayErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		hint   bool
	}{
		{"upstream status", &gateway.Error{Status: http.StatusTooManyRequests, Message: "Slow down"}, http.StatusTooManyRequests, false},
		{"unreachable", &gateway.Error{Status: http.StatusBadGateway, Message: "Could not reach", Hint: "check it"}, http.StatusBadGateway, true},
		{"unexpected", io.ErrUnexpectedEOF, http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakeGateway{configured: true, err: tt.err}, nil)
			rec := postChat(s, `{"message":"hi"}`)
			assert.Equal(t, tt.status, rec.Code)

			var resp types.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
			assert.Equal(t, tt.hint, resp.Hint != "")
		})
	}
}

func TestChatRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPS = 0.001
	cfg.RateLimitBurst = 1
	s, err := NewServer(cfg, Deps{Gateway: &fakeGateway{configured: true, body: doneStream}})
	require.NoError(t, err)

	first := postChat(s, `{"message":"hi","anonymous_id":"a1"}`)
	assert.Equal(t, http.StatusOK, first.Code)
	second := postChat(s, `{"message":"again","anonymous_id":"a1"}`)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	other := postChat(s, `{"message":"hi","anonymous_id":"a2"}`)
	assert.Equal(t, http.StatusOK, other.Code)
}

func TestThreadsAndMessages(t *testing.T) {
	gw := &fakeGateway{configured: true, body: doneStream}
	ms := store.NewMemoryStore(0)
	s := newTestServer(t, gw, ms)

	rec := postChat(s, `{"message":"gift ideas"}`, func(r *http.Request) { r.Header.Set(UserHeader, "u1") })
	require.Equal(t, http.StatusOK, rec.Code)
	threadID := rec.Header().Get("X-Thread-Id")

	get := func(path, user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if user != "" {
			req.Header.Set(UserHeader, user)
		}
		rec := httptest.NewRecorder()
		s.Router().ServeHTTP(rec, req)
		return rec
	}

	list := get("/api/threads", "u1")
	require.Equal(t, http.StatusOK, list.Code)
	var threads types.ThreadListResponse
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &threads))
	require.Len(t, threads.Threads, 1)
	assert.Equal(t, threadID, threads.Threads[0].ID)
	assert.Equal(t, "Birthday gifts", threads.Threads[0].Title)

	msgs := get("/api/threads/"+threadID+"/messages", "u1")
	require.Equal(t, http.StatusOK, msgs.Code)
	var hydrated types.MessageListResponse
	require.NoError(t, json.Unmarshal(msgs.Body.Bytes(), &hydrated))
	require.Len(t, hydrated.Messages, 2)
	assert.Equal(t, "user", hydrated.Messages[0].Role)
	assert.Equal(t, "assistant", hydrated.Messages[1].Role)

	assert.Equal(t, http.StatusNotFound, get("/api/threads/"+threadID+"/messages", "someone-else").Code)
	assert.Equal(t, http.StatusBadRequest, get("/api/threads/not-a-uuid/messages", "u1").Code)
}

func TestThreadsWithoutPersistence(t *testing.T) {
	s := newTestServer(t, &fakeGateway{configured: true}, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/threads", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type failingPinger struct{}

func (failingPinger) HealthCheck(context.Context) error { return io.ErrClosedPipe }

func TestHealth(t *testing.T) {
	tests := []struct {
		name string
		gw   *fakeGateway
		st   store.ThreadStore
		ping Pinger
		want types.HealthResponse
	}{
		{"ok", &fakeGateway{configured: true}, store.NewMemoryStore(0), nil, types.HealthResponse{Status: "ok", Persistence: "enabled", Gateway: "configured"}},
		{"no persistence", &fakeGateway{configured: true}, nil, nil, types.HealthResponse{Status: "ok", Persistence: "disabled", Gateway: "configured"}},
		{"gateway missing", &fakeGateway{}, nil, nil, types.HealthResponse{Status: "degraded", Persistence: "disabled", Gateway: "not_configured"}},
		{"db down", &fakeGateway{configured: true}, store.NewMemoryStore(0), failingPinger{}, types.HealthResponse{Status: "degraded", Persistence: "unavailable", Gateway: "configured"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewServer(testConfig(), Deps{Gateway: tt.gw, Store: tt.st, Health: tt.ping})
			require.NoError(t, err)
			rec := httptest.NewRecorder()
			s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
			require.Equal(t, http.StatusOK, rec.Code)
			var got types.HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChatStoresEveryNewMessageWithSharedHistory(t *testing.T) {
	gw := &fakeGateway{configured: true, body: doneStream}
	ms := store.NewMemoryStore(0)
	s := newTestServer(t, gw, ms)
	asUser := func(r *http.Request) { r.Header.Set(UserHeader, "u1") }

	rec := postChat(s, `{"message":"first question"}`, asUser)
	require.Equal(t, http.StatusOK, rec.Code)
	threadID := rec.Header().Get("X-Thread-Id")

	history := `"messages":[{"id":"srv-1","role":"user","content":"first question"},{"id":"srv-2","role":"assistant","content":"Here you go"}]`
	for _, text := range []string{"second question", "third question"} {
		rec := postChat(s, `{"message":"`+text+`","thread_id":"`+threadID+`",`+history+`}`, asUser)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, threadID, rec.Header().Get("X-Thread-Id"))
	}

	msgs, err := ms.ListMessages(context.Background(), "u1", threadID)
	require.NoError(t, err)
	var userTexts []string
	for _, m := range msgs {
		if m.Role == store.RoleUser {
			userTexts = append(userTexts, m.Content)
		}
	}
	assert.Equal(t, []string{"first question", "second question", "third question"}, userTexts)
}
