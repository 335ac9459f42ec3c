package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/database"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/handler"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/router"
	"github.com/noah-isme/gema-grader/internal/safety"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/pkg/ai"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	redisClient, err := database.ConnectRedis(context.Background(), cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to nats")
		}
		defer natsConn.Close()
	}

	primaryGen, err := ai.NewOpenAIGenerator(ai.OpenAIConfig{
		APIKey:   cfg.OpenAIAPIKey,
		BaseURL:  cfg.OpenAIBaseURL,
		Model:    firstOrEmpty(cfg.PrimaryModels),
		JSONMode: true,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create primary generator")
	}

	secondaryGen, err := ai.NewAnthropicGenerator(ai.AnthropicConfig{
		APIKey:  cfg.AnthropicAPIKey,
		BaseURL: cfg.AnthropicBaseURL,
		Model:   firstOrEmpty(cfg.SecondaryModels),
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create secondary generator")
	}

	// Without a Gemini key the arbiter falls back to the primary provider.
	var arbiterGen ai.Generator = primaryGen
	arbiterModels := cfg.PrimaryModels
	if cfg.GeminiAPIKey != "" {
		gemini, err := ai.NewGeminiGenerator(ai.GeminiConfig{
			APIKey:  cfg.GeminiAPIKey,
			BaseURL: cfg.GeminiBaseURL,
			Model:   firstOrEmpty(cfg.ArbiterModels),
			Logger:  logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create arbiter generator")
		}
		arbiterGen = gemini
		arbiterModels = cfg.ArbiterModels
	} else {
		logger.Warn().Msg("gemini api key missing, arbiter uses the primary provider")
	}

	embedder, err := ai.NewOpenAIEmbedder(ai.EmbedderConfig{
		APIKey:    cfg.OpenAIAPIKey,
		BaseURL:   cfg.OpenAIBaseURL,
		Model:     cfg.EmbeddingModel,
		CacheSize: cfg.EmbeddingCacheSize,
		Redis:     redisClient,
		RedisTTL:  cfg.EmbeddingCacheTTL,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create embedder")
	}

	gradingCfg := cfg.Grading()
	clock := grading.SystemClock{}
	backoff := grading.NewBackoffPolicy(gradingCfg.BackoffBase, gradingCfg.MaxAgentRetries, clock)
	parser := grading.NewParser(gradingCfg.DefaultScoreRatio)

	primary := grading.NewAgentClient("primary", primaryGen, cfg.PrimaryModels, backoff, parser, logger)
	secondary := grading.NewAgentClient("secondary", secondaryGen, cfg.SecondaryModels, backoff, parser, logger)
	arbiterClient := grading.NewAgentClient("arbiter", arbiterGen, arbiterModels, backoff, parser, logger)
	securityClient := grading.NewAgentClient("security", primaryGen, []string{cfg.SecurityModel}, backoff, parser, logger)

	similarity := grading.NewSimilarityEngine(embedder, gradingCfg.Weights, logger)
	engine := grading.NewConsensusEngine(primary, secondary, grading.NewArbiter(arbiterClient, primary.Name(), secondary.Name()), similarity, gradingCfg, logger)

	var enricher *grading.Enricher
	if cfg.AutotuneMode != config.AutotuneOff {
		enricher = grading.NewEnricher(arbiterClient, logger)
	}
	pipeline := grading.NewPipeline(engine, enricher, gradingCfg, clock, logger)

	validate := validator.New(validator.WithRequiredStructEnabled())

	runRepo := repository.NewGradingRunRepository(db)
	promptRepo := repository.NewGradingPromptRepository(db)

	promptService := service.NewGradingPromptService(promptRepo, validate, cfg.AutotuneMinDiff, logger)
	events := service.NewGradingEventPublisher(redisClient, natsConn, cfg.EventSubject, uuid.NewString(), logger)
	gradingService := service.NewGradingService(
		pipeline,
		safety.NewChecker(securityClient, logger),
		runRepo,
		promptService,
		events,
		validate,
		service.GradingOptions{
			SecurityEnabled:  cfg.SecurityEnabled,
			SecurityMustPass: cfg.SecurityMustPass,
			AutotuneApply:    cfg.AutotuneMode == config.AutotuneApply,
			DefaultMaxScore:  cfg.DefaultMaxScore,
		},
		logger,
	)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		// Batches may run for minutes.
		ReadTimeout:  30 * time.Second,
		WriteTimeout: gradingCfg.BatchTimeout + time.Minute,
		BodyLimit:    8 * 1024 * 1024,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})

	primaryName, secondaryName := engine.AgentNames()
	router.Register(app, cfg, router.Dependencies{
		GradingHandler:   handler.NewGradingHandler(gradingService, logger),
		PromptHandler:    handler.NewPromptHandler(promptService, logger),
		JWTMiddleware:    middleware.JWTProtected(cfg.JWTSecret),
		AgentNames:       []string{primaryName, secondaryName, arbiterClient.Name()},
		GradingRateLimit: cfg.RateLimitPerMinute,
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	waitForShutdown(app, logger)
}

func firstOrEmpty(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func waitForShutdown(app *fiber.App, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
