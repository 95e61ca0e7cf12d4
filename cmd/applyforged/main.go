package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/applyforge/applyforge/internal/api"
	"github.com/applyforge/applyforge/internal/browser"
	"github.com/applyforge/applyforge/internal/config"
	"github.com/applyforge/applyforge/internal/events"
	"github.com/applyforge/applyforge/internal/gate"
	"github.com/applyforge/applyforge/internal/jobs"
	"github.com/applyforge/applyforge/internal/llm"
	"github.com/applyforge/applyforge/internal/run"
	"github.com/applyforge/applyforge/internal/store"
	"github.com/applyforge/applyforge/internal/store/memory"
	"github.com/applyforge/applyforge/internal/store/postgres"
	"github.com/applyforge/applyforge/internal/store/sqlite"
)

type server interface {
	Start(ctx context.Context, addr string) error
}

var (
	loadConfig = func() (config.Config, error) {
		_ = godotenv.Load()
		cfg := config.Load()
		if err := cfg.Validate(); err != nil {
			return config.Config{}, err
		}
		return cfg, nil
	}
	newBroker = events.NewBroker
	openStore = func(cfg config.Config) (store.Store, error) {
		switch cfg.StoreDriver {
		case "memory":
			return memory.New(), nil
		case "sqlite":
			return sqlite.Open(cfg.SQLitePath)
		case "postgres":
			return postgres.New(cfg.PostgresURL)
		default:
			return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
		}
	}
	newRouter       = llm.NewRouter
	newOrchestrator = run.NewOrchestrator
	newServer       = func(deps api.Dependencies) server {
		return api.NewServer(deps)
	}
	notifyContext = signal.NotifyContext
)

func main() {
	if err := runDaemon(); err != nil {
		log.Fatal(err)
	}
}

func runDaemon() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := notifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	if closer, ok := st.(io.Closer); ok {
		defer closer.Close()
	}

	broker := newBroker()
	emitter := events.NewEmitter(st, broker)

	router, err := newRouter(llm.Config{
		OpenAIAPIKey:         cfg.OpenAIAPIKey,
		OpenAIBaseURL:        cfg.OpenAIBaseURL,
		OpenAIModelPlanner:   cfg.OpenAIModelPlanner,
		OpenAIModelExtractor: cfg.OpenAIModelExtractor,
		OpenAIModelWriter:    cfg.OpenAIModelWriter,
		OpenAITimeoutSec:     cfg.OpenAITimeoutSec,

		LocalEnabled:    cfg.LocalLLMEnabled,
		LocalBaseURL:    cfg.LocalLLMBaseURL,
		LocalAPIKey:     cfg.LocalLLMAPIKey,
		LocalModel:      cfg.LocalLLMModel,
		LocalTimeoutSec: cfg.LocalLLMTimeoutSec,

		DefaultProvider: cfg.RouterDefaultProvider,
		PlanProvider:    cfg.RouterPlanProvider,
		ExtractProvider: cfg.RouterExtractProvider,
		PatchProvider:   cfg.RouterPatchProvider,
		WriterProvider:  cfg.RouterWriterProvider,
		FallbackEnabled: cfg.RouterFallbackEnabled,
	})
	if err != nil {
		return err
	}

	mode, err := gate.ParseMode(cfg.DefaultRunMode)
	if err != nil {
		return err
	}

	fetcher := jobs.NewFetcher(cfg.JobFetchTimeoutSec)
	orchestrator := newOrchestrator(st, emitter, router, fetcher, browser.NewAutomationEngine(), browser.NewSessions(), run.Options{
		DefaultMode: mode,
		SessionKey:  cfg.BrowserProfileDir,
		Retry: run.Policy{
			MaxPerField: cfg.MaxRetriesPerField,
			MaxPerPage:  cfg.MaxRetriesPerPage,
		},
		PatchAutoApplyMinConfidence: cfg.PatchAutoApplyMinConfidence,
	})

	server := newServer(api.Dependencies{
		Store:     st,
		Runner:    orchestrator,
		Broker:    broker,
		Providers: router,
		Fetcher:   fetcher,
		Analyzer:  router,
		Answers:   browser.NewAnswerResolver(st, router),
	})

	addr := fmt.Sprintf(":%s", cfg.AppPort)
	log.Printf("applyforge daemon listening on %s", addr)
	if err := server.Start(ctx, addr); err != nil {
		return err
	}

	return nil
}
