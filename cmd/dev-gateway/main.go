// Command dev-gateway serves a local chat orchestrator for development.
package main

import (
	"log"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"commerce-portal-backend/internal/config"
	"commerce-portal-backend/internal/devgateway"
	"commerce-portal-backend/internal/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.New("dev-gateway", logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	defer func() { _ = logger.Sync() }()

	spec, err := devgateway.LoadPromptSpec(cfg.DevGatewayPrompt)
	if err != nil {
		log.Fatalf("failed to load prompt spec: %v", err)
	}
	catalog, err := devgateway.LoadCatalog(cfg.DevGatewayCatalog)
	if err != nil {
		log.Fatalf("failed to load catalog: %v", err)
	}

	var client *openai.Client
	if cfg.OpenAIAPIKey != "" {
		client = openai.NewClient(cfg.OpenAIAPIKey)
	} else {
		logger.Warn("OPENAI_API_KEY not set, using keyword intents and canned summaries")
	}

	s := devgateway.NewServer(devgateway.Options{
		Spec:    spec,
		Catalog: catalog,
		Client:  client,
		Model:   cfg.OpenAIModel,
		APIKey:  cfg.GatewayAPIKey,
		Logger:  logger,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.DevGatewayPort,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("dev gateway listening", zap.String("addr", srv.Addr), zap.Int("products", len(catalog.Products)))
	log.Fatal(srv.ListenAndServe())
}
