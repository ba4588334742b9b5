// Package main is the entry point for the helpdesk assistant API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dokuprime/helpdesk-assistant/internal/classify"
	"github.com/dokuprime/helpdesk-assistant/internal/config"
	"github.com/dokuprime/helpdesk-assistant/internal/generate"
	"github.com/dokuprime/helpdesk-assistant/internal/handler"
	"github.com/dokuprime/helpdesk-assistant/internal/llm"
	"github.com/dokuprime/helpdesk-assistant/internal/lock"
	"github.com/dokuprime/helpdesk-assistant/internal/middleware"
	natsclient "github.com/dokuprime/helpdesk-assistant/internal/nats"
	"github.com/dokuprime/helpdesk-assistant/internal/rerank"
	"github.com/dokuprime/helpdesk-assistant/internal/retrieval"
	"github.com/dokuprime/helpdesk-assistant/internal/rewrite"
	"github.com/dokuprime/helpdesk-assistant/internal/service"
	"github.com/dokuprime/helpdesk-assistant/internal/store"
	"github.com/dokuprime/helpdesk-assistant/pkg/logger"
	"github.com/dokuprime/helpdesk-assistant/pkg/tracing"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	log.Info("starting API server")
	ctx := context.Background()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "helpdesk-assistant", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}

	// Store
	st, err := store.OpenSQL(store.SQLOptions{
		Driver:       cfg.DatabaseDriver,
		DSN:          cfg.DatabaseURL,
		MaxOpenConns: cfg.DatabaseMaxConns,
		QueryTimeout: cfg.StoreQueryTimeout,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	if cfg.DatabaseAutoMigrate {
		if err := st.Migrate(); err != nil {
			return fmt.Errorf("migrate store: %w", err)
		}
	}

	// Per-conversation lock
	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.RedisURL != "" {
		rdb, err := lock.ParseRedisURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		locker = lock.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWaitTime, log)
		log.Info("using redis conversation lock")
	}

	// Event publishing
	var (
		events service.EventPublisher
		broker handler.ConnectionChecker
	)
	if cfg.NATSEnabled {
		natsClient, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer natsClient.Close()

		streamManager := natsclient.NewStreamManager(natsClient)
		if err := streamManager.EnsureStream(ctx); err != nil {
			return fmt.Errorf("ensure stream: %w", err)
		}
		events, broker = streamManager, natsClient
	}

	// LLM backend shared by classifiers, rewriter and generator
	llmOpts := llm.Options{APIKey: cfg.LLMAPIKey, BaseURL: cfg.LLMBaseURL, Model: cfg.LLMModel}
	if llm.Provider(cfg.LLMProvider) == llm.ProviderAnthropic {
		llmOpts.APIKey = cfg.AnthropicAPIKey
	}
	backend, err := llm.NewClient(llm.Provider(cfg.LLMProvider), llmOpts)
	if err != nil {
		return fmt.Errorf("create llm client: %w", err)
	}
	llmClient := llm.NewLimited(backend, cfg.LLMMaxConcurrency, cfg.LLMTimeout)

	// Retrieval
	embedder := retrieval.NewOpenAIEmbedder(cfg.EmbedBaseURL, cfg.EmbedAPIKey, cfg.EmbedModel)
	retriever, err := retrieval.NewMilvusRetriever(ctx, retrieval.MilvusConfig{
		Address:  cfg.MilvusAddress,
		Username: cfg.MilvusUsername,
		Password: cfg.MilvusPassword,
		Collections: map[retrieval.Partition]string{
			retrieval.PartitionRegulation: cfg.CollectionRegulation,
			retrieval.PartitionProcedure:  cfg.CollectionProcedure,
			retrieval.PartitionFAQ:        cfg.CollectionFAQ,
		},
	}, embedder)
	if err != nil {
		return fmt.Errorf("create retriever: %w", err)
	}
	defer retriever.Close()

	classifier := classify.New(llmClient, policy.Prompts, st)
	rewriter := rewrite.New(llmClient, classifier, policy.Prompts, policy.Acronyms)
	reranker := rerank.NewHTTPReranker(cfg.RerankURL, cfg.RerankTimeout, log)
	generator := generate.New(llmClient, policy, generate.Options{
		MaxAttempts:      cfg.GenerationMaxAttempts,
		InitialBackoff:   cfg.GenerationBackoff,
		RepetitionStreak: cfg.RepetitionStreak,
		TokenBudget:      cfg.ContextTokenBudget,
	}, log)

	// Services
	conversationSvc := service.NewConversationService(st, events, log)
	chatflowSvc := service.NewChatflowService(service.ChatflowDeps{
		Store:         st,
		Conversations: conversationSvc,
		Locker:        locker,
		Classifier:    classifier,
		Rewriter:      rewriter,
		Retriever:     retriever,
		Reranker:      reranker,
		Generator:     generator,
		Policy:        policy,
		Logger:        log,
	}, service.ChatflowConfig{
		HistoryLimit:     cfg.HistoryLimit,
		FailStreakWindow: cfg.FailStreakWindow,
		FAQTopK:          cfg.FAQTopK,
		FAQThreshold:     cfg.FAQThreshold,
		RetrievalTopK:    cfg.RetrievalTopK,
		RetrievalTimeout: cfg.RetrievalTimeout,
		RerankTopK:       cfg.RerankTopK,
		LockWait:         cfg.LockWaitTime,
	})

	// Handlers
	healthHandler := handler.NewHealthHandler(st, broker)
	chatHandler := handler.NewChatHandler(chatflowSvc, policy.Messages.Apology, log)
	conversationHandler := handler.NewConversationHandler(conversationSvc, log)
	helpdeskHandler := handler.NewHelpdeskHandler(st, log)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(cfg.AuthMode, cfg.JWTSecret, cfg.APIKeySecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Post("/chat", chatHandler.Chat)

		r.Route("/conversations/{id}", func(r chi.Router) {
			r.Get("/", conversationHandler.Get)
			r.Get("/turns", conversationHandler.Turns)
		})
		r.Post("/turns/{id}/feedback", conversationHandler.Feedback)

		r.Route("/helpdesk/status", func(r chi.Router) {
			r.Get("/", helpdeskHandler.Status)
			r.With(middleware.RequireScope(middleware.ScopeHelpdeskAdmin)).Put("/", helpdeskHandler.SetStatus)
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	}

	log.Info("shutting down server")

	// In-flight turns may be waiting on generation.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}
