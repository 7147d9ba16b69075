package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"commerce-portal-backend/internal/bridge"
	"commerce-portal-backend/internal/config"
	"commerce-portal-backend/internal/dedupe"
	"commerce-portal-backend/internal/gateway"
	"commerce-portal-backend/internal/store"
	"commerce-portal-backend/internal/types"
	"commerce-portal-backend/internal/uistream"
)

const (
	maxBodyBytes       = 1 << 20
	defaultThreadLimit = 50
	maxThreadLimit     = 200

	defaultStreamTimeout = 5 * time.Minute
)

// Gateway opens the orchestrator stream for one turn.
type Gateway interface {
	Configured() bool
	Open(ctx context.Context, req gateway.Request) (io.ReadCloser, error)
}

// Pinger is implemented by stores with a health check.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// Deps are the collaborators NewServer wires together. Store and Seen may
// be nil; the chat endpoint then runs without persistence.
type Deps struct {
	Logger  *zap.Logger
	Gateway Gateway
	Store   store.ThreadStore
	Seen    dedupe.Set
	// Health is pinged by /api/health when set.
	Health Pinger
}

type Server struct {
	router  *chi.Mux
	cfg     config.Config
	logger  *zap.Logger
	gateway Gateway
	store   store.ThreadStore
	health  Pinger
	bridge  *bridge.Bridge
	limiter *ownerLimiter
}

func NewServer(cfg config.Config, deps Deps) (*Server, error) {
	if deps.Gateway == nil {
		return nil, errors.New("server: gateway is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	st := deps.Store
	if !cfg.PersistenceEnabled {
		st = nil
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With", UserHeader},
		ExposedHeaders:   []string{"X-Thread-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s := &Server{
		router:  r,
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "server")),
		gateway: deps.Gateway,
		store:   st,
		health:  deps.Health,
		bridge: bridge.New(bridge.Options{
			Store:          st,
			Seen:           deps.Seen,
			Logger:         logger.With(zap.String("component", "bridge")),
			PersistTimeout: cfg.PersistTimeout,
		}),
		limiter: newOwnerLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)
	s.router.Post("/api/chat", s.handleChat)
	s.router.Get("/api/threads", s.handleThreads)
	s.router.Get("/api/threads/{threadID}/messages", s.handleThreadMessages)
}

func (s *Server) Router() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := types.HealthResponse{Status: "ok", Persistence: "disabled", Gateway: "configured"}
	if s.store != nil {
		resp.Persistence = "enabled"
		if s.health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := s.health.HealthCheck(ctx); err != nil {
				s.logger.Warn("[health] store ping failed", zap.Error(err))
				resp.Status = "degraded"
				resp.Persistence = "unavailable"
			}
		}
	}
	if !s.gateway.Configured() {
		resp.Status = "degraded"
		resp.Gateway = "not_configured"
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req types.ChatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body", "")
		return
	}
	input := req.InputText()
	if input == "" {
		s.writeError(w, http.StatusBadRequest, "message is required", "")
		return
	}
	if !s.gateway.Configured() {
		s.logger.Error("[chat] gateway is not configured for this environment", zap.String("environment", s.cfg.Environment))
		s.writeError(w, http.StatusServiceUnavailable, gateway.NotAvailableText, "")
		return
	}

	owner := getOrCreateOwnerID(r, w, req.AnonymousID)
	if !s.limiter.Allow(owner) {
		s.writeError(w, http.StatusTooManyRequests, "Too many messages. Please wait a moment.", "")
		return
	}
	logger := s.logger.With(
		zap.String("owner_id", owner),
		zap.String("request_id", middleware.GetReqID(r.Context())),
	)

	turn := &bridge.Turn{
		OwnerID:           owner,
		RequestedThreadID: req.ThreadID,
		ClientMessageID:   req.ClientMessageID(),
		InputText:         input,
		BundleID:          req.BundleID,
	}
	s.bridge.Prepare(r.Context(), turn)

	timeout := s.cfg.StreamTimeout
	if timeout <= 0 {
		timeout = defaultStreamTimeout
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	threadID := req.ThreadID
	if turn.Thread != nil {
		threadID = turn.Thread.ID
		logger = logger.With(zap.String("thread_id", threadID))
	}
	body, err := s.gateway.Open(ctx, gateway.Request{
		Message:          input,
		History:          req.History(s.cfg.HistoryLimit),
		ThreadID:         threadID,
		OwnerID:          owner,
		BundleID:         req.BundleID,
		OrderID:          req.OrderID,
		ExploreProductID: req.ExploreProductID,
	})
	if err != nil {
		var gwErr *gateway.Error
		if errors.As(err, &gwErr) {
			logger.Warn("[chat] gateway request failed", zap.Int("status", gwErr.Status), zap.Error(err))
			s.writeError(w, gwErr.Status, gwErr.Message, gwErr.Hint)
			return
		}
		logger.Error("[chat] gateway request failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Something went wrong starting the chat.", "")
		return
	}
	defer body.Close()

	out, err := uistream.NewWriter(w, "")
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported", "")
		return
	}
	if turn.Thread != nil {
		w.Header().Set("X-Thread-Id", turn.Thread.ID)
	}
	if err := out.Open(); err != nil {
		logger.Info("[chat] client went away before the stream opened", zap.Error(err))
		return
	}

	start := time.Now()
	outcome, err := s.bridge.Stream(ctx, body, out, turn)
	if err != nil {
		logger.Info("[chat] turn ended with error", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return
	}
	logger.Info("[chat] turn complete",
		zap.Duration("elapsed", time.Since(start)),
		zap.Bool("fallback", outcome.Fallback),
		zap.Bool("enriched", outcome.Enriched),
	)
}

func (s *Server) handleThreads(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "chat history is not available", "")
		return
	}
	owner := ownerID(r, r.URL.Query().Get("anonymous_id"))
	if owner == "" {
		s.writeJSON(w, http.StatusOK, types.ThreadListResponse{Threads: []types.ThreadSummary{}})
		return
	}
	limit := defaultThreadLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = min(v, maxThreadLimit)
	}

	threads, err := s.store.ListThreads(r.Context(), owner, limit)
	if err != nil {
		s.logger.Error("[threads] list failed", zap.String("owner_id", owner), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list threads", "")
		return
	}
	resp := types.ThreadListResponse{Threads: make([]types.ThreadSummary, 0, len(threads))}
	for _, t := range threads {
		resp.Threads = append(resp.Threads, types.ThreadSummary{
			ID:        t.ID,
			Title:     t.Title,
			UpdatedAt: t.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleThreadMessages(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "chat history is not available", "")
		return
	}
	threadID := chi.URLParam(r, "threadID")
	if !store.ValidThreadID(threadID) {
		s.writeError(w, http.StatusBadRequest, "invalid thread id", "")
		return
	}
	owner := ownerID(r, r.URL.Query().Get("anonymous_id"))
	if owner == "" {
		s.writeError(w, http.StatusNotFound, "thread not found", "")
		return
	}

	msgs, err := s.store.ListMessages(r.Context(), owner, threadID)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "thread not found", "")
		return
	}
	if err != nil {
		s.logger.Error("[threads] list messages failed", zap.String("thread_id", threadID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load messages", "")
		return
	}

	resp := types.MessageListResponse{ThreadID: threadID, Messages: make([]types.StoredMessage, 0, len(msgs))}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, types.StoredMessage{
			ID:        m.ID,
			Role:      string(m.Role),
			Content:   m.Content,
			Card:      m.Card,
			CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg, hint string) {
	s.writeJSON(w, code, types.ErrorResponse{Error: msg, Hint: hint})
}
