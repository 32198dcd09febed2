package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/chatgate-io/chatgate/internal/httpapi"
	"github.com/chatgate-io/chatgate/internal/logging"
	"github.com/chatgate-io/chatgate/internal/metrics"
	"github.com/chatgate-io/chatgate/internal/providers/anthropic"
	"github.com/chatgate-io/chatgate/internal/providers/deepseek"
	"github.com/chatgate-io/chatgate/internal/providers/openai"
	"github.com/chatgate-io/chatgate/internal/ratelimit"
	"github.com/chatgate-io/chatgate/internal/router"
	"github.com/chatgate-io/chatgate/internal/store"
	"github.com/chatgate-io/chatgate/internal/tracing"
	"github.com/chatgate-io/chatgate/internal/x402"
)

type Server struct {
	cfg Config

	r *chi.Mux

	router  *router.Router
	store   store.Store
	limiter *ratelimit.Limiter
	logger  *slog.Logger

	tracingShutdown func(context.Context) error
}

func NewServer(cfg Config) (*Server, error) {
	logger := logging.Setup(cfg.LogLevel)

	tracingShutdown, err := tracing.Setup(tracing.Config{
		Enabled:     cfg.TracingEnabled,
		Endpoint:    cfg.TracingEndpoint,
		ServiceName: "chatgate",
	})
	if err != nil {
		return nil, err
	}

	m := metrics.New()

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", x402.PaymentHeader},
		ExposedHeaders:   []string{x402.ResponseHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(tracing.Middleware())

	limiter := ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst, time.Second, m.RateLimitRejected)
	r.Use(limiter.Middleware)

	rt, err := buildRouter(cfg, logger)
	if err != nil {
		return nil, err
	}

	db, err := store.NewSQLite(cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("database initialized", slog.String("dsn", cfg.DBDSN))

	if cfg.TreasuryAddress == "" {
		logger.Warn("treasury address unset, using development placeholder")
	}
	fac := x402.NewFacilitatorClient(cfg.FacilitatorURL,
		x402.WithHTTPClient(&http.Client{
			Timeout:   time.Duration(cfg.MaxTimeoutSeconds) * time.Second,
			Transport: tracing.HTTPTransport(nil),
		}))
	builder := x402.NewRequirementsBuilder(x402.Config{
		Network:           cfg.Network,
		PayTo:             cfg.Treasury(),
		Asset:             cfg.AssetMint,
		FeePayer:          cfg.FeePayer,
		MaxTimeoutSeconds: cfg.MaxTimeoutSeconds,
	}, rt)
	gate := x402.NewGate(fac, builder)

	s := &Server{
		cfg:             cfg,
		r:               r,
		router:          rt,
		store:           db,
		limiter:         limiter,
		logger:          logger,
		tracingShutdown: tracingShutdown,
	}

	httpapi.MountRoutes(r, httpapi.Dependencies{
		Router:         rt,
		Gate:           gate,
		Store:          db,
		Metrics:        m,
		AdminTokenHash: cfg.AdminTokenHash,
	})

	return s, nil
}

func (s *Server) Router() http.Handler { return s.r }

func (s *Server) Close() error {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.tracingShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.tracingShutdown(ctx)
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// buildRouter registers an adapter per configured provider credential and
// keeps only the models whose provider came up. Price overrides from the
// environment are applied before the table is frozen.
func buildRouter(cfg Config, logger *slog.Logger) (*router.Router, error) {
	client := &http.Client{
		Timeout:   time.Duration(cfg.ProviderTimeoutSecs) * time.Second,
		Transport: tracing.HTTPTransport(nil),
	}

	var adapters []router.Adapter
	registered := map[string]bool{}

	if cfg.DeepseekAPIKey != "" {
		adapters = append(adapters, deepseek.New(cfg.DeepseekAPIKey, cfg.DeepseekBaseURL, deepseek.WithHTTPClient(client)))
		registered["deepseek"] = true
		logger.Info("registered provider", slog.String("provider", "deepseek"))
	}
	if cfg.OpenAIAPIKey != "" {
		adapters = append(adapters, openai.New(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, openai.WithHTTPClient(client)))
		registered["openai"] = true
		logger.Info("registered provider", slog.String("provider", "openai"))
	}
	if cfg.AnthropicAPIKey != "" {
		adapters = append(adapters, anthropic.New(cfg.AnthropicAPIKey, cfg.AnthropicBaseURL, anthropic.WithHTTPClient(client)))
		registered["anthropic"] = true
		logger.Info("registered provider", slog.String("provider", "anthropic"))
	}

	var models []router.Model
	for _, m := range router.DefaultModels() {
		if !registered[m.Provider] {
			continue
		}
		applyPriceOverrides(&m, cfg)
		models = append(models, m)
	}
	if len(models) == 0 {
		logger.Warn("no provider credentials configured, model table is empty")
	}
	return router.New(models, adapters...)
}

func applyPriceOverrides(m *router.Model, cfg Config) {
	switch m.Provider {
	case "deepseek":
		if cfg.PriceDeepseek != "" {
			m.BasePrice = cfg.PriceDeepseek
		}
	case "openai":
		if cfg.PriceOpenAI != "" {
			m.BasePrice = cfg.PriceOpenAI
		}
		if cfg.PriceOpenAIVision != "" {
			m.VisionPrice = cfg.PriceOpenAIVision
		}
	case "anthropic":
		if cfg.PriceClaude != "" {
			m.BasePrice = cfg.PriceClaude
		}
		if cfg.PriceClaudeVision != "" {
			m.VisionPrice = cfg.PriceClaudeVision
		}
	}
}
