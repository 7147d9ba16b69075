// Package devgateway is a local stand-in for the chat orchestrator. It
// answers POST /chat/stream with the same SSE events the portal consumes,
// backed by an OpenAI streaming completion and a YAML product catalog.
package devgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"commerce-portal-backend/internal/gateway"
)

const maxProducts = 6

type Options struct {
	Spec    PromptSpec
	Catalog Catalog
	// Client may be nil; summaries are then built from the catalog.
	Client *openai.Client
	Model  string
	// APIKey, when set, is required as a bearer token.
	APIKey string
	Logger *zap.Logger
}

type Server struct {
	router     *chi.Mux
	spec       PromptSpec
	catalog    Catalog
	client     *openai.Client
	model      string
	apiKey     string
	classifier *IntentClassifier
	logger     *zap.Logger
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		router:     chi.NewRouter(),
		spec:       opts.Spec,
		catalog:    opts.Catalog,
		client:     opts.Client,
		model:      opts.Model,
		apiKey:     opts.APIKey,
		classifier: NewIntentClassifier(opts.Spec, opts.Client, opts.Model),
		logger:     logger.With(zap.String("component", "dev-gateway")),
	}
	s.router.Use(middleware.Recoverer)
	s.router.Post("/chat/stream", s.handleStream)
	return s
}

func (s *Server) Router() http.Handler { return s.router }

// frameWriter writes named SSE events and flushes each one.
type frameWriter struct {
	w       io.Writer
	flusher http.Flusher
}

func (f frameWriter) event(name string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f.w, "event: %s\ndata: %s\n\n", name, b); err != nil {
		return err
	}
	f.flusher.Flush()
	return nil
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.apiKey != "" && r.Header.Get("Authorization") != "Bearer "+s.apiKey {
		writeJSONError(w, http.StatusUnauthorized, "invalid gateway credentials")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	var req gateway.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSONError(w, http.StatusUnprocessableEntity, "message is required")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	out := frameWriter{w: w, flusher: flusher}
	logger := s.logger.With(zap.String("thread_id", req.ThreadID), zap.String("owner_id", req.OwnerID))

	if err := s.run(r.Context(), out, req, logger); err != nil {
		logger.Warn("[dev-gateway] turn failed", zap.Error(err))
		_ = out.event("error", map[string]string{"error": "The assistant is unavailable right now."})
	}
}

func (s *Server) run(ctx context.Context, out frameWriter, req gateway.Request, logger *zap.Logger) error {
	if err := out.event("thinking", map[string]string{"text": "Understanding your request..."}); err != nil {
		return err
	}
	intent, viaModel := s.classifier.Classify(ctx, req.History, req.Message)
	logger.Info("[dev-gateway] classified",
		zap.String("intent", intent.Type),
		zap.String("search_query", intent.SearchQuery),
		zap.Bool("model", viaModel),
	)

	var (
		products []Product
		bundles  []Bundle
	)
	switch intent.Type {
	case IntentDiscover, IntentDiscoverComposite:
		if err := out.event("thinking", map[string]string{"text": "Searching the catalog..."}); err != nil {
			return err
		}
		products = s.catalog.Match(intent.SearchQuery, maxProducts)
		if intent.Type == IntentDiscoverComposite {
			bundles = s.catalog.BundlesFor(intent.SearchQuery)
		}
	}

	summary, err := s.summarize(ctx, out, req, intent, products)
	if err != nil {
		return err
	}
	return out.event("done", s.donePayload(req, intent, summary, products, bundles))
}

// summarize streams the answer as summary_delta events and returns the
// full text.
func (s *Server) summarize(ctx context.Context, out frameWriter, req gateway.Request, intent ClassifiedIntent, products []Product) (string, error) {
	if s.client == nil {
		text := cannedSummary(intent, products)
		for _, word := range strings.SplitAfter(text, " ") {
			if err := out.event("summary_delta", map[string]string{"delta": word}); err != nil {
				return "", err
			}
		}
		return text, nil
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: s.spec.Summary + "\n\nProducts:\n" + productLines(products)},
	}
	for _, h := range req.History {
		messages = append(messages, openai.ChatCompletionMessage{Role: h.Role, Content: h.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Message})

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	stream, err := s.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    s.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return "", fmt.Errorf("open completion stream: %w", err)
	}
	defer stream.Close()

	var builder strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("completion stream: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		chunk := resp.Choices[0].Delta.Content
		if chunk == "" {
			continue
		}
		builder.WriteString(chunk)
		if err := out.event("summary_delta", map[string]string{"delta": chunk}); err != nil {
			return "", err
		}
	}
	return builder.String(), nil
}

func (s *Server) donePayload(req gateway.Request, intent ClassifiedIntent, summary string, products []Product, bundles []Bundle) map[string]any {
	if products == nil {
		products = []Product{}
	}
	data := map[string]any{
		"intent":   intent,
		"products": map[string]any{"products": products},
	}
	var ctas []map[string]any
	if len(bundles) > 0 {
		data["engagement"] = map[string]any{"suggested_bundle_options": bundles}
		ctas = append(ctas, map[string]any{"label": "View bundle", "action": "view_bundle"})
	}
	if req.OrderID != "" || intent.Type == IntentCheckout {
		ctas = append(ctas, map[string]any{"label": "Proceed to payment", "action": "proceed_to_payment"})
	}
	if len(products) > 0 {
		ctas = append(ctas, map[string]any{"label": "Show me more", "action": "search_more"})
	}

	payload := map[string]any{
		"summary":        summary,
		"data":           data,
		"suggested_ctas": ctas,
	}
	if req.OrderID != "" {
		payload["order_id"] = req.OrderID
	}
	if req.BundleID != "" {
		payload["bundle_id"] = req.BundleID
	} else if len(bundles) == 1 {
		payload["bundle_id"] = bundles[0].ID
	}
	return payload
}

func cannedSummary(intent ClassifiedIntent, products []Product) string {
	switch {
	case len(products) > 0:
		names := make([]string, 0, 3)
		for i, p := range products {
			if i == 3 {
				break
			}
			names = append(names, p.Name)
		}
		return fmt.Sprintf("I found %d options for %s, including %s.", len(products), intent.SearchQuery, strings.Join(names, ", "))
	case intent.Type == IntentCheckout:
		return "Let's get your order paid."
	case intent.Type == IntentDiscover || intent.Type == IntentDiscoverComposite:
		return "I couldn't find a match in the catalog. Could you tell me a bit more?"
	default:
		return "Hi! Tell me what you're shopping for and I'll find a few ideas."
	}
}

func productLines(products []Product) string {
	if len(products) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, p := range products {
		fmt.Fprintf(&b, "- %s (%.2f %s)\n", p.Name, p.Price, p.Currency)
	}
	return b.String()
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": msg})
}
