package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"goa.design/clue/health"
	"goa.design/clue/log"

	analyticsmongo "github.com/helioai/lio-agent/features/analytics/mongo"
	clientsmongo "github.com/helioai/lio-agent/features/analytics/mongo/clients/mongo"
	rediscache "github.com/helioai/lio-agent/features/cache/redis"
	"github.com/helioai/lio-agent/features/model/anthropic"
	"github.com/helioai/lio-agent/features/model/middleware"
	"github.com/helioai/lio-agent/features/model/openai"
	redissession "github.com/helioai/lio-agent/features/session/redis"
	"github.com/helioai/lio-agent/features/tools/books"
	"github.com/helioai/lio-agent/features/tools/campaigns"
	"github.com/helioai/lio-agent/runtime/agent/model"
	"github.com/helioai/lio-agent/runtime/agent/service"
	"github.com/helioai/lio-agent/runtime/agent/session"
	"github.com/helioai/lio-agent/runtime/agent/telemetry"
	"github.com/helioai/lio-agent/runtime/agent/tools"
)

func main() {
	var (
		configF = flag.String("config", "", "Path to the optional YAML configuration file")
		dbgF    = flag.Bool("debug", false, "Enable debug logs, pprof and request body logging")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	cfg, err := loadConfig(*configF)
	if err != nil {
		log.Fatalf(ctx, err, "invalid configuration")
	}
	log.Print(ctx, log.KV{K: "http-addr", V: cfg.HTTPAddr}, log.KV{K: "llm-provider", V: cfg.LLMProvider})

	var (
		logger  = telemetry.NewClueLogger()
		metrics = telemetry.NewOtelMetrics()
		tracer  = telemetry.NewOtelTracer()
	)

	llm, err := newModelClient(ctx, cfg, logger)
	if err != nil {
		log.Fatalf(ctx, err, "failed to create model client")
	}

	// Redis backs the chat history and the analysis cache. Without it both
	// stay in process.
	var (
		pingers []health.Pinger
		history session.Store
		cache   campaigns.Cache
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf(ctx, err, "invalid REDIS_URL")
		}
		if cfg.RedisPassword != "" {
			opts.Password = cfg.RedisPassword
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()

		store, err := redissession.New(redissession.Options{
			Client: rdb,
			Limit:  cfg.MemoryLimit,
			TTL:    cfg.SessionTimeout,
		})
		if err != nil {
			log.Fatalf(ctx, err, "failed to create history store")
		}
		c, err := rediscache.New(rediscache.Options{Client: rdb, Logger: logger})
		if err != nil {
			log.Fatalf(ctx, err, "failed to create cache")
		}
		history, cache = store, c
		pingers = append(pingers, store)
	} else {
		log.Printf(ctx, "REDIS_URL not set, using in-memory history and no analysis cache")
	}

	var toolset []tools.Tool
	if cfg.MongoURI != "" {
		mc, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatalf(ctx, err, "failed to connect to MongoDB")
		}
		defer func() {
			if err := mc.Disconnect(context.Background()); err != nil {
				log.Errorf(ctx, err, "failed to disconnect from MongoDB")
			}
		}()
		source, err := analyticsmongo.NewStoreFromMongo(clientsmongo.Options{
			Client:        mc,
			Database:      cfg.MongoDatabase,
			EnsureIndexes: true,
		})
		if err != nil {
			log.Fatalf(ctx, err, "failed to create analytics store")
		}
		analyzer, err := campaigns.New(campaigns.Options{
			Source:  source,
			Cache:   cache,
			Config:  cfg.toolConfig(campaigns.Name),
			Logger:  logger,
			Metrics: metrics,
			Tracer:  tracer,
		})
		if err != nil {
			log.Fatalf(ctx, err, "failed to create campaign analyzer")
		}
		toolset = append(toolset, analyzer)
		pingers = append(pingers, source)
	} else {
		log.Printf(ctx, "MONGO_URI not set, campaign analyzer disabled")
	}

	bookSearch, err := books.New(books.Options{
		APIKey:  cfg.GoogleAPIKey,
		Config:  cfg.toolConfig(books.Name),
		Logger:  logger,
		Metrics: metrics,
		Tracer:  tracer,
	})
	if err != nil {
		log.Fatalf(ctx, err, "failed to create books tool")
	}
	toolset = append(toolset, bookSearch)

	svc, err := service.New(service.Options{
		Model:          llm,
		Tools:          toolset,
		History:        history,
		MemoryLimit:    cfg.MemoryLimit,
		ModelName:      modelName(cfg),
		SystemPrompt:   cfg.File.SystemPrompt,
		MaxTokens:      cfg.MaxTokens,
		Temperature:    float32(cfg.Temperature),
		LLMTimeout:     cfg.LLMTimeout,
		SessionTimeout: cfg.SessionTimeout,
		MaxSessions:    cfg.MaxSessions,
		Logger:         logger,
		Metrics:        metrics,
		Tracer:         tracer,
	})
	if err != nil {
		log.Fatalf(ctx, err, "failed to create agent service")
	}

	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(ctx)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errc <- err
		}
	}()

	handleHTTPServer(ctx, cfg.HTTPAddr, svc, health.NewChecker(pingers...), &wg, errc, *dbgF)

	log.Printf(ctx, "exiting (%v)", <-errc)

	cancel()

	wg.Wait()
	log.Printf(ctx, "exited")
}

// newModelClient builds the configured LLM adapter, rate limited when LLM_TPM
// is set.
func newModelClient(ctx context.Context, cfg *config, logger telemetry.Logger) (model.Client, error) {
	var (
		client model.Client
		err    error
	)
	switch cfg.LLMProvider {
	case providerAnthropic:
		client, err = anthropic.NewFromAPIKey(cfg.AnthropicKey, anthropic.Options{
			DefaultModel: cfg.AnthropicModel,
			MaxTokens:    cfg.MaxTokens,
			Temperature:  cfg.Temperature,
		})
	default:
		client, err = openai.NewFromAPIKey(cfg.OpenAIKey, cfg.OpenAIModel, cfg.MaxTokens)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.LLMProvider, err)
	}
	if cfg.LLMTPM > 0 {
		limiter := middleware.NewAdaptiveRateLimiter(float64(cfg.LLMTPM), float64(cfg.LLMTPM),
			middleware.WithOnChange(func(tpm float64) {
				logger.Info(ctx, "llm rate limit adjusted", "tpm", tpm)
			}))
		client = limiter.Middleware()(client)
	}
	return client, nil
}

func modelName(cfg *config) string {
	if cfg.LLMProvider == providerAnthropic {
		return cfg.AnthropicModel
	}
	return cfg.OpenAIModel
}
