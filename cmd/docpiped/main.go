package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pamdocs/docpipe/internal/blob"
	"github.com/pamdocs/docpipe/internal/classify/openai"
	"github.com/pamdocs/docpipe/internal/common"
	"github.com/pamdocs/docpipe/internal/engine"
	"github.com/pamdocs/docpipe/internal/export"
	"github.com/pamdocs/docpipe/internal/pipeline"
	"github.com/pamdocs/docpipe/internal/queue"
	"github.com/pamdocs/docpipe/internal/server"
	"github.com/pamdocs/docpipe/internal/store"
)

func main() {
	cfg, err := common.LoadConfig()
	if err != nil {
		panic("load config: " + err.Error())
	}

	logger := newLogger(cfg.Server.LogLevel)
	defer func() { _ = logger.Sync() }()
	log := logger.Sugar()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	// Context with signal
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Record store
	db, pool, err := store.Open(ctx, cfg.Database, log)
	if err != nil {
		log.Fatalf("opening record store: %v", err)
	}
	defer store.Close(pool, log)
	if err := store.HealthCheck(ctx, pool); err != nil {
		log.Fatalf("DB health failed: %v", err)
	}
	log.Infow("DB health OK")
	jobs := store.NewJobStore(db, log)

	// Block-dump bucket
	blobs, err := blob.Open(ctx, cfg.Blob.BucketURL, log)
	if err != nil {
		log.Fatalf("opening blob bucket: %v", err)
	}
	defer func() { _ = blobs.Close() }()

	// Collaborators
	eng := engine.NewHTTPEngine(cfg.Engine, log)
	classifier := openai.NewClient(openai.Config{
		APIKey:      cfg.Classifier.APIKey,
		BaseURL:     cfg.Classifier.BaseURL,
		Model:       cfg.Classifier.Model,
		Temperature: cfg.Classifier.Temperature,
		Timeout:     cfg.Classifier.Timeout,
	}, log)

	orch := pipeline.New(log, pipeline.Config{
		PartitionKey:    cfg.Pipeline.PartitionKey,
		Bucket:          cfg.Engine.Bucket,
		ProcessDelay:    cfg.Pipeline.ProcessDelay,
		SearchKeyFields: cfg.Pipeline.SearchKeyFields,
	}, jobs, blobs, eng, classifier, nil)

	// Queue backend
	switch cfg.Queue.Backend {
	case "memory":
		q := queue.NewMemoryQueue(log,
			queue.WithWorkers(cfg.Queue.Workers),
			queue.WithHandleTimeout(cfg.Queue.HandleTimeout))
		orch.SetDispatcher(q)
		q.Start(orch.HandleMessage)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			q.Shutdown(sctx)
		}()

	case "pubsub":
		dispatcher, err := queue.OpenTopicDispatcher(ctx, cfg.Queue.TopicURL, log)
		if err != nil {
			log.Fatalf("opening topic: %v", err)
		}
		defer func() { _ = dispatcher.Shutdown(context.Background()) }()
		orch.SetDispatcher(dispatcher)

		consumer, err := queue.OpenConsumer(ctx, cfg.Queue.SubscriptionURL, cfg.Queue.Workers, cfg.Queue.HandleTimeout, log)
		if err != nil {
			log.Fatalf("opening subscription: %v", err)
		}
		defer func() { _ = consumer.Shutdown(context.Background()) }()
		go func() {
			if err := consumer.Run(ctx, orch.HandleMessage); err != nil {
				log.Errorf("consumer stopped: %v", err)
				stop()
			}
		}()

	default:
		log.Fatalf("unknown queue backend %q", cfg.Queue.Backend)
	}

	// HTTP server
	srv := server.New(log, orch, jobs, export.NewService(jobs, log), cfg.Pipeline.PartitionKey)
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("HTTP serving on %s", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("http serve: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")
	sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(sctx); err != nil {
		log.Warnf("http shutdown: %v", err)
	}
	log.Info("stopped")
}

func newLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
