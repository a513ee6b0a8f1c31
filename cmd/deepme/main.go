package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/Deepme123/Deep-me-V2/internal/auth"
	"github.com/Deepme123/Deep-me-V2/internal/chat"
	"github.com/Deepme123/Deep-me-V2/internal/config"
	"github.com/Deepme123/Deep-me-V2/internal/httpapi"
	"github.com/Deepme123/Deep-me-V2/internal/llm"
	"github.com/Deepme123/Deep-me-V2/internal/observability"
	"github.com/Deepme123/Deep-me-V2/internal/prompt"
	"github.com/Deepme123/Deep-me-V2/internal/recommend"
	"github.com/Deepme123/Deep-me-V2/internal/store"
)

func main() {
	// Local development convenience; production supplies real env vars.
	if err := godotenv.Load(); err == nil {
		log.Printf("loaded environment from .env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	st, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("store init failed: %v", err)
	}
	defer st.Close()
	if cfg.DatabaseURL == "" {
		log.Printf("store: no DATABASE_URL, using in-memory store")
	}

	prompts := prompt.NewLoader(cfg.PromptDir)
	gateway := llm.NewGateway(llm.Config{
		BaseURL:      cfg.OpenAIBaseURL,
		APIKey:       cfg.OpenAIAPIKey,
		PrimaryModel: cfg.LLMModel,
		BackupModels: cfg.LLMBackupModels,
	})
	recommender := recommend.NewService(st, gateway, prompts, cfg.RecommendModel)
	supervisor := chat.NewSupervisor(cfg, st, prompts, gateway, recommender, metrics)
	authn := auth.NewAuthenticator(cfg.JWTSecret, cfg.AllowAnonymous)

	api := httpapi.New(cfg, supervisor, authn, prompts, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
