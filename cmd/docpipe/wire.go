package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/docpipe/internal/adapters/driven/ai"
	"github.com/custodia-labs/docpipe/internal/adapters/driven/auth"
	"github.com/custodia-labs/docpipe/internal/adapters/driven/destinations"
	"github.com/custodia-labs/docpipe/internal/adapters/driven/notify"
	"github.com/custodia-labs/docpipe/internal/adapters/driven/pdf"
	"github.com/custodia-labs/docpipe/internal/adapters/driven/postgres"
	postgresqueue "github.com/custodia-labs/docpipe/internal/adapters/driven/queue/postgres"
	redisqueue "github.com/custodia-labs/docpipe/internal/adapters/driven/queue/redis"
	redisadapter "github.com/custodia-labs/docpipe/internal/adapters/driven/redis"
	"github.com/custodia-labs/docpipe/internal/config"
	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
	"github.com/custodia-labs/docpipe/internal/core/ports/driving"
	"github.com/custodia-labs/docpipe/internal/core/services"
	"github.com/custodia-labs/docpipe/internal/extractors"
	"github.com/custodia-labs/docpipe/internal/filestore"
	"github.com/custodia-labs/docpipe/internal/runtime"
)

// components is the wired application shared by every command.
type components struct {
	cfg *config.Config

	db          *postgres.DB
	redisClient *redis.Client
	taskQueue   driven.TaskQueue
	lock        driven.DistributedLock
	notifier    *redisadapter.Notifier // nil without Redis

	runtime *runtime.Services
	layout  *filestore.Layout

	orchestrator *services.Orchestrator
	monitor      *services.CredentialMonitor
	scheduler    *services.Scheduler
	maintenance  *services.Maintenance

	intake    driving.IntakeService
	documents driving.DocumentService
	pipeline  driving.PipelineService
}

// wire connects storage, queue and upstream providers and builds the services.
func wire(ctx context.Context, cfg *config.Config) (*components, error) {
	c := &components{cfg: cfg}
	domain.DefaultMaxAttempts = cfg.Pipeline.MaxAttempts

	// ===== PostgreSQL =====
	log.Println("Connecting to PostgreSQL...")
	db, err := postgres.Connect(ctx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	c.db = db
	if err := db.InitSchema(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	log.Println("PostgreSQL connected and schema initialized")

	// ===== Redis (optional) =====
	if cfg.Redis.URL != "" {
		log.Println("Connecting to Redis...")
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		c.redisClient = redis.NewClient(opts)
		if err := c.redisClient.Ping(ctx).Err(); err != nil {
			c.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		log.Println("Redis connected")
	}

	// ===== Task queue and lock (Redis if available, otherwise PostgreSQL) =====
	queueBackend := "postgres"
	if c.redisClient != nil {
		queueBackend = "redis"
		q, err := redisqueue.NewQueue(c.redisClient, fmt.Sprintf("worker-%d", os.Getpid()))
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("create task queue: %w", err)
		}
		c.taskQueue = q
		c.lock = redisadapter.NewLock(c.redisClient)
		c.notifier = redisadapter.NewNotifier(c.redisClient)
	} else {
		c.taskQueue = postgresqueue.NewQueue(db.DB)
		c.lock = postgres.NewAdvisoryLock(db)
	}
	log.Printf("Using %s task queue and lock", queueBackend)

	// ===== Stores =====
	documentStore := postgres.NewDocumentStore(db)
	stepStore := postgres.NewStepStore(db)
	auditLog := postgres.NewAuditLog(db)
	schedulerStore := postgres.NewSchedulerStore(db)

	// ===== File layout =====
	c.layout = filestore.NewLayout(cfg.Storage.ArchiveDir, cfg.Storage.WorkingDir, cfg.Storage.ProcessedDir)
	if err := c.layout.EnsureDirs(); err != nil {
		c.Close()
		return nil, fmt.Errorf("prepare storage directories: %w", err)
	}

	// ===== Extraction and PDF processing =====
	processor := pdf.NewProcessor()
	registry := extractors.DefaultRegistry()
	registry.Register(processor)

	// ===== Upstream providers =====
	runtimeConfig := domain.NewRuntimeConfig(queueBackend)
	c.runtime = runtime.NewServices(runtimeConfig)

	factory := ai.NewFactory(slog.Default())
	ocrSettings := ai.OCRSettings{BaseURL: cfg.OCR.BaseURL, APIKey: cfg.OCR.APIKey, Timeout: cfg.OCR.Timeout}
	if ocrSettings.IsConfigured() {
		ocr, err := factory.CreateOCR(ocrSettings)
		if err != nil {
			log.Printf("Warning: OCR provider unavailable: %v", err)
		} else {
			c.runtime.SetOCR(ocr)
		}
	}
	llmSettings := ai.LLMSettings{
		Provider:      cfg.LLM.Provider,
		BaseURL:       cfg.LLM.BaseURL,
		APIKey:        cfg.LLM.APIKey,
		Model:         cfg.LLM.Model,
		MaxInputChars: cfg.LLM.MaxInputChars,
	}
	if llmSettings.IsConfigured() {
		extractor, err := factory.CreateMetadataExtractor(llmSettings)
		if err != nil {
			log.Printf("Warning: metadata extractor unavailable: %v", err)
		} else {
			c.runtime.SetMetadata(extractor)
		}
	}

	// ===== Destinations =====
	for _, d := range cfg.Destinations {
		dest, err := destinations.New(ctx, destinations.Settings{
			Name:    d.Name,
			Type:    d.Type,
			Path:    d.Path,
			Bucket:  d.Bucket,
			Prefix:  d.Prefix,
			Enabled: d.IsEnabled(),
		})
		if err != nil {
			log.Printf("Warning: destination %s not configured: %v", d.Name, err)
			continue
		}
		c.runtime.SetDestination(dest, d.IsEnabled())
	}

	// ===== Credential monitor =====
	var notifier driven.Notifier = notify.NewLogNotifier(slog.Default())
	if c.notifier != nil {
		notifier = notify.Multi{notifier, c.notifier}
	}
	c.monitor = services.NewCredentialMonitor(services.CredentialMonitorConfig{
		Probes:      c.runtime.Probes,
		Notifier:    notifier,
		NotifyLimit: cfg.Credentials.NotifyLimit,
		Interval:    cfg.Credentials.Interval,
		Timeout:     cfg.Credentials.Timeout,
		OnChange:    c.runtime.CredentialChanged,
		Logger:      slog.Default(),
	})

	// ===== Services =====
	tracker := services.NewStepTracker(services.StepTrackerConfig{
		Steps:  stepStore,
		Audit:  auditLog,
		Logger: slog.Default(),
	})
	stepRegistry := services.NewStepRegistry(stepStore, auditLog, slog.Default())

	c.orchestrator = services.NewOrchestrator(services.OrchestratorConfig{
		Documents:        documentStore,
		Tracker:          tracker,
		Registry:         stepRegistry,
		Queue:            c.taskQueue,
		Layout:           c.layout,
		Extractors:       registry,
		OCR:              c.runtime.OCR(),
		Metadata:         c.runtime.Metadata(),
		Embedder:         processor,
		Destinations:     c.runtime,
		Health:           c.monitor,
		QualityThreshold: cfg.Pipeline.QualityThreshold,
		ExcerptLimit:     cfg.Pipeline.ExcerptLimit,
		FanOutLimit:      cfg.Pipeline.FanOutLimit,
		Logger:           slog.Default(),
	})

	splitter := services.NewSplitter(services.SplitterConfig{
		Pages:      processor,
		Threshold:  cfg.Pipeline.SplitThreshold,
		ChunkLimit: cfg.Pipeline.ChunkLimit,
		Logger:     slog.Default(),
	})
	c.intake = services.NewIntakeService(services.IntakeServiceConfig{
		Documents: documentStore,
		Registry:  stepRegistry,
		Queue:     c.taskQueue,
		Layout:    c.layout,
		Splitter:  splitter,
		Logger:    slog.Default(),
	})
	c.pipeline = services.NewPipelineService(services.PipelineServiceConfig{
		Documents:         documentStore,
		Steps:             stepStore,
		Tracker:           tracker,
		Registry:          stepRegistry,
		Orchestrator:      c.orchestrator,
		Queue:             c.taskQueue,
		Layout:            c.layout,
		Destinations:      c.runtime,
		Monitor:           c.monitor,
		ThrottleThreshold: cfg.Throttle.Threshold,
		ThrottleDelay:     cfg.Throttle.Delay,
		Logger:            slog.Default(),
	})
	c.documents = services.NewDocumentService(documentStore, auditLog)

	reconciler := services.NewStaleReconciler(services.StaleReconcilerConfig{
		Steps:      stepStore,
		Tracker:    tracker,
		Lock:       c.lock,
		StaleAfter: cfg.Reconciler.StaleAfter,
		Logger:     slog.Default(),
	})
	c.maintenance = services.NewMaintenance(reconciler, c.taskQueue, cfg.Reconciler.Retention, slog.Default())
	c.scheduler = services.NewScheduler(services.SchedulerConfig{
		Store:        schedulerStore,
		TaskQueue:    c.taskQueue,
		Lock:         c.lock,
		Logger:       slog.Default(),
		PollInterval: cfg.Scheduler.PollInterval,
		LockTTL:      cfg.Scheduler.LockTTL,
	})

	caps := runtimeConfig.Snapshot()
	log.Printf("Runtime config: queue_backend=%s, ocr=%t, llm=%t, destinations=%d",
		caps.QueueBackend, caps.OCR, caps.LLM, len(c.runtime.Destinations()))

	return c, nil
}

// verifier returns the operator token verifier, or nil when auth is off.
func (c *components) verifier() driven.TokenVerifier {
	if c.cfg.Auth.JWTSecret == "" {
		return nil
	}
	return auth.NewAdapter(c.cfg.Auth.JWTSecret)
}

// Close releases every connection the components hold.
func (c *components) Close() {
	if c.runtime != nil {
		if err := c.runtime.Close(); err != nil {
			log.Printf("Warning: closing providers: %v", err)
		}
	}
	if closer, ok := c.taskQueue.(io.Closer); ok {
		_ = closer.Close()
	}
	if c.redisClient != nil {
		_ = c.redisClient.Close()
	}
	if c.db != nil {
		_ = c.db.Close()
	}
}

// redisPinger adapts a Redis client to the health check interface.
type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
