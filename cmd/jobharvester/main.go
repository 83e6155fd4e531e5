// Package main wires together the jobharvester service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/careerscope/jobharvester/internal/api"
	"github.com/careerscope/jobharvester/internal/clock/system"
	"github.com/careerscope/jobharvester/internal/config"
	"github.com/careerscope/jobharvester/internal/dedupe"
	"github.com/careerscope/jobharvester/internal/extract"
	collyfetcher "github.com/careerscope/jobharvester/internal/fetcher/colly"
	headlessfetcher "github.com/careerscope/jobharvester/internal/fetcher/headless"
	"github.com/careerscope/jobharvester/internal/headless/detector"
	"github.com/careerscope/jobharvester/internal/id/uuid"
	"github.com/careerscope/jobharvester/internal/logging"
	"github.com/careerscope/jobharvester/internal/metrics"
	"github.com/careerscope/jobharvester/internal/orchestrator"
	"github.com/careerscope/jobharvester/internal/policy/ratelimit"
	pubsubpublisher "github.com/careerscope/jobharvester/internal/publisher/pubsub"
	"github.com/careerscope/jobharvester/internal/registry"
	"github.com/careerscope/jobharvester/internal/robots"
	"github.com/careerscope/jobharvester/internal/scheduler"
	"github.com/careerscope/jobharvester/internal/scrape"
	gcsstorage "github.com/careerscope/jobharvester/internal/storage/gcs"
	localstorage "github.com/careerscope/jobharvester/internal/storage/local"
	memorystorage "github.com/careerscope/jobharvester/internal/storage/memory"
	"github.com/careerscope/jobharvester/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	targets, err := registry.New(cfg.Targets)
	if err != nil {
		logger.Fatal("target registry init failed", zap.Error(err))
	}

	clock := system.New()
	idGen := uuid.NewGenerator()
	policy := robots.NewChecker(cfg.Scraper.RespectRobots, cfg.Scraper.UserAgent, clock, logger.Named("robots"))
	limiter := ratelimit.New(clock)
	extractor := extract.New(clock, idGen, logger.Named("extract"))

	probeFetcher, err := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Scraper.UserAgent,
		Timeout:   cfg.PageTimeout(),
		GlobalQPS: cfg.Scraper.GlobalQPS,
		ProxyURL:  cfg.Scraper.ProxyURL,
	})
	if err != nil {
		logger.Fatal("fetcher init failed", zap.Error(err))
	}

	var headless scrape.Fetcher
	var detect scrape.HeadlessDetector
	if cfg.Headless.Enabled {
		headlessFetcher, err := headlessfetcher.New(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Scraper.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			defer headlessFetcher.Close()
			headless = headlessFetcher
			detect = detector.NewHeuristic(cfg.Headless.PromotionThresh)
		}
	}

	listingStore, closeStore, err := buildListingStore(ctx, cfg)
	if err != nil {
		logger.Fatal("listing store init failed", zap.Error(err))
	}
	defer closeStore()

	blobStore, err := buildBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}

	deduper, err := buildDeduper(ctx, cfg)
	if err != nil {
		logger.Fatal("deduper init failed", zap.Error(err))
	}

	publisher, topicName, err := buildPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}

	orch, err := orchestrator.New(orchestrator.Config{
		UserAgent:    cfg.Scraper.UserAgent,
		EventTopic:   topicName,
		PageTimeout:  cfg.PageTimeout(),
		MaxRateWaits: cfg.Scraper.MaxRateWaits,
		ArchivePages: cfg.Scraper.ArchivePages,
	}, orchestrator.Deps{
		Targets:   targets,
		Fetcher:   probeFetcher,
		Headless:  headless,
		Detector:  detect,
		Policy:    policy,
		Limiter:   limiter,
		Extractor: extractor,
		Store:     listingStore,
		Blobs:     blobStore,
		Publisher: publisher,
		Deduper:   deduper,
		Clock:     clock,
		IDs:       idGen,
		Logger:    logger.Named("orchestrator"),
	})
	if err != nil {
		logger.Fatal("orchestrator init failed", zap.Error(err))
	}
	defer orch.Close()

	if cfg.Scheduler.Enabled {
		sched, err := scheduler.New(scheduler.Config{
			Spec:     cfg.Scheduler.Spec,
			Keywords: cfg.Scheduler.Keywords,
			Location: cfg.Scheduler.Location,
			Settings: scrape.JobSettings{
				RespectPolicy: cfg.Scraper.RespectRobots,
				RetryAttempts: cfg.Scraper.RetryAttempts,
			},
		}, orch, targets, logger.Named("scheduler"))
		if err != nil {
			logger.Fatal("scheduler init failed", zap.Error(err))
		}
		sched.Start()
		defer func() { <-sched.Stop().Done() }()
	}

	apiServer := api.NewServer(orch, targets, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func buildListingStore(ctx context.Context, cfg config.Config) (scrape.ListingStore, func(), error) {
	switch cfg.Storage.Backend {
	case "postgres":
		store, err := postgres.NewListingStore(ctx, postgres.ListingStoreConfig{
			DSN:      cfg.Storage.DSN,
			MaxConns: int32(cfg.Storage.MaxConns),
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return memorystorage.NewListingStore(), func() {}, nil
	}
}

func buildBlobStore(ctx context.Context, cfg config.Config) (scrape.BlobStore, error) {
	switch cfg.Storage.BlobBackend {
	case "local":
		return localstorage.New(localstorage.Config{BaseDir: cfg.Storage.LocalBaseDir})
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Storage.GCSBucket})
	default:
		return memorystorage.NewBlobStore(), nil
	}
}

func buildDeduper(ctx context.Context, cfg config.Config) (scrape.Deduper, error) {
	switch cfg.Dedupe.Backend {
	case "redis":
		client, err := dedupe.NewRedisClient(ctx, cfg.Dedupe.RedisURL)
		if err != nil {
			return nil, err
		}
		return dedupe.NewRedis(client, cfg.DedupeTTL()), nil
	default:
		return dedupe.NewMemory(), nil
	}
}

func buildPublisher(ctx context.Context, cfg config.Config) (scrape.Publisher, string, error) {
	if !cfg.PubSub.Enabled {
		return nil, "", nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, "", fmt.Errorf("pubsub client: %w", err)
	}
	topic := client.Topic(cfg.PubSub.TopicName)
	return pubsubpublisher.New(topic), cfg.PubSub.TopicName, nil
}
