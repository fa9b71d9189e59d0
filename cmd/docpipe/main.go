package main

// @title           docpipe API
// @version         1.0
// @description     Document pipeline orchestration. Ingests documents, runs them through extraction, OCR, metadata and embedding, and uploads the results to every enabled destination.

// @BasePath  /api/v1
// @schemes   http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Operator JWT. Format: "Bearer {token}"

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/custodia-labs/docpipe/internal/adapters/driven/auth"
	"github.com/custodia-labs/docpipe/internal/adapters/driving/http"
	"github.com/custodia-labs/docpipe/internal/adapters/driving/watcher"
	"github.com/custodia-labs/docpipe/internal/config"
	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driving"
	"github.com/custodia-labs/docpipe/internal/worker"
)

var version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "docpipe",
		Usage:   "Document pipeline orchestration and step tracking",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
				EnvVars: []string{config.EnvPrefix + "CONFIG"},
				Value:   "docpipe.yaml",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "serve",
				Usage:     "Run the API server, the worker, or both",
				ArgsUsage: "[api|worker|all]",
				Action:    serveCommand,
			},
			{
				Name:      "ingest",
				Usage:     "Ingest one or more files",
				ArgsUsage: "<file>...",
				Action:    ingestCommand,
			},
			{
				Name:      "reprocess",
				Usage:     "Re-run the pipeline for a document from its archived original",
				ArgsUsage: "<document-id>",
				Action:    reprocessCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "ocr",
						Usage: "Re-enter at the OCR step and bypass the quality skip",
					},
				},
			},
			{
				Name:      "retry-destinations",
				Usage:     "Re-queue the failed destination uploads of a document",
				ArgsUsage: "<document-id>",
				Action:    retryDestinationsCommand,
			},
			{
				Name:      "batch",
				Usage:     "Reprocess a batch of documents with throttling",
				ArgsUsage: "[document-id]...",
				Action:    batchCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "all-pending",
						Usage: "Select every document whose steps are all still pending",
					},
					&cli.BoolFlag{
						Name:  "force-ocr",
						Usage: "Re-enter each document at the OCR step",
					},
				},
			},
			{
				Name:      "status",
				Usage:     "Show the aggregate status and step breakdown of a document",
				ArgsUsage: "<document-id>",
				Action:    statusCommand,
			},
			{
				Name:   "health",
				Usage:  "Show queue depths, documents by status and credential health",
				Action: healthCommand,
			},
			{
				Name:  "schedule",
				Usage: "Inspect or trigger the housekeeping schedule",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List scheduled tasks with their next and last runs",
						Action: scheduleListCommand,
					},
					{
						Name:      "run",
						Usage:     "Enqueue a scheduled task now",
						ArgsUsage: "<scheduled-task-id>",
						Action:    scheduleRunCommand,
					},
				},
			},
			{
				Name:   "token",
				Usage:  "Mint an operator token for the mutating API routes",
				Action: tokenCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "subject",
						Usage: "Operator name recorded in the token",
						Value: "operator",
					},
					&cli.DurationFlag{
						Name:  "ttl",
						Usage: "Token lifetime",
						Value: 24 * time.Hour,
					},
				},
			},
		},
	}
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}

// withComponents loads configuration, wires the application and runs fn.
func withComponents(c *cli.Context, fn func(ctx context.Context, app *components) error) error {
	cfg, err := config.LoadFromEnv(c.String("config"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := wire(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	return fn(ctx, app)
}

func serveCommand(c *cli.Context) error {
	mode := c.Args().First()
	if mode == "" {
		mode = "all"
	}
	switch mode {
	case "api", "worker", "all":
	default:
		return fmt.Errorf("unknown mode %q (use: api, worker, or all)", mode)
	}

	return withComponents(c, func(ctx context.Context, app *components) error {
		log.Printf("docpipe %s starting in %s mode", version, mode)

		if mode == "api" {
			return runAPI(app)
		}

		w, err := startWorker(ctx, app)
		if err != nil {
			return err
		}
		defer stopWorker(w)

		if mode == "worker" {
			<-ctx.Done()
			log.Println("Shutdown signal received, stopping...")
			return nil
		}
		return runAPI(app)
	})
}

func runAPI(app *components) error {
	cfg := http.Config{
		Host:           app.cfg.Server.Host,
		Port:           app.cfg.Server.Port,
		Version:        version,
		MaxUploadBytes: app.cfg.Server.MaxUploadBytes,
	}
	deps := http.Deps{
		Intake:       app.intake,
		Documents:    app.documents,
		Pipeline:     app.pipeline,
		Verifier:     app.verifier(),
		Capabilities: app.runtime.Config().Snapshot,
		DB:           app.db,
		Logger:       slog.Default(),
	}
	if app.redisClient != nil {
		deps.Redis = redisPinger{client: app.redisClient}
	}
	if deps.Verifier == nil {
		log.Println("Warning: no JWT secret configured, operator routes are open")
	}

	server := http.NewServer(cfg, deps)
	log.Printf("API server starting on %s:%d", cfg.Host, cfg.Port)
	return server.Start()
}

// startWorker starts the queue consumers with the scheduler, the credential
// monitor and, when configured, the inbox watcher running alongside.
func startWorker(ctx context.Context, app *components) (*worker.Worker, error) {
	log.Println("Starting worker...")

	if err := ensureSchedule(ctx, app); err != nil {
		return nil, err
	}

	background := []worker.Lifecycle{app.scheduler, app.monitor}
	if dir := app.cfg.Storage.InboxDir; dir != "" {
		inbox, err := watcher.New(watcher.Config{
			Dir:      dir,
			Intake:   app.intake,
			PoolSize: app.cfg.Worker.WatcherPool,
			Logger:   slog.Default(),
		})
		if err != nil {
			return nil, err
		}
		background = append(background, inbox)
	}

	if app.notifier != nil {
		go func() {
			err := app.notifier.Subscribe(ctx, slog.Default(), func(n *domain.CredentialNotification) {
				slog.Info("credential notification", "credential", n.Credential, "kind", n.Kind, "consecutive_failures", n.Failures)
			})
			if err != nil {
				log.Printf("Warning: credential notification subscription ended: %v", err)
			}
		}()
	}

	w := worker.NewWorker(worker.WorkerConfig{
		TaskQueue:   app.taskQueue,
		Pipeline:    app.orchestrator,
		Maintenance: app.maintenance,
		Background:  background,
		Logger:      slog.Default(),
		Concurrency: map[domain.QueueName]int{
			domain.QueueFast:       app.cfg.Worker.Fast,
			domain.QueueGeneral:    app.cfg.Worker.General,
			domain.QueueManagement: app.cfg.Worker.Management,
		},
		DequeueTimeout: app.cfg.Worker.DequeueTimeout,
	})
	if err := w.Start(ctx); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}
	log.Println("Worker started, processing tasks...")
	return w, nil
}

func stopWorker(w *worker.Worker) {
	log.Println("Stopping worker...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		log.Printf("Warning: worker stop: %v", err)
	}
	log.Println("Worker stopped")
}

func ingestCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one file is required")
	}
	return withComponents(c, func(ctx context.Context, app *components) error {
		var failed int
		for _, path := range c.Args().Slice() {
			result, err := app.intake.IngestFile(ctx, path)
			if err != nil && result == nil {
				failed++
				fmt.Fprintf(c.App.ErrWriter, "%s: %v\n", path, err)
				continue
			}
			if err := printJSON(c, struct {
				Path string `json:"path"`
				*driving.IntakeResult
			}{path, result}); err != nil {
				return err
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d files failed", failed, c.NArg())
		}
		return nil
	})
}

func reprocessCommand(c *cli.Context) error {
	id, err := documentArg(c)
	if err != nil {
		return err
	}
	return withComponents(c, func(ctx context.Context, app *components) error {
		var handle *driving.RunHandle
		if c.Bool("ocr") {
			handle, err = app.pipeline.ReprocessOCR(ctx, id)
		} else {
			handle, err = app.pipeline.Reprocess(ctx, id)
		}
		if err != nil {
			return err
		}
		return printJSON(c, handle)
	})
}

func retryDestinationsCommand(c *cli.Context) error {
	id, err := documentArg(c)
	if err != nil {
		return err
	}
	return withComponents(c, func(ctx context.Context, app *components) error {
		retried, err := app.pipeline.RetryDestinations(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(c, map[string]any{"document_id": id, "retried": retried})
	})
}

func batchCommand(c *cli.Context) error {
	req := driving.BatchRequest{
		DocumentIDs: c.Args().Slice(),
		AllPending:  c.Bool("all-pending"),
		ForceOCR:    c.Bool("force-ocr"),
	}
	if len(req.DocumentIDs) == 0 && !req.AllPending {
		return fmt.Errorf("give document ids or --all-pending")
	}
	return withComponents(c, func(ctx context.Context, app *components) error {
		result, err := app.pipeline.SubmitBatch(ctx, req)
		if err != nil {
			return err
		}
		return printJSON(c, result)
	})
}

func statusCommand(c *cli.Context) error {
	id, err := documentArg(c)
	if err != nil {
		return err
	}
	return withComponents(c, func(ctx context.Context, app *components) error {
		detail, err := app.pipeline.Status(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(c, detail)
	})
}

func healthCommand(c *cli.Context) error {
	return withComponents(c, func(ctx context.Context, app *components) error {
		// One probe round so the report reflects current credentials
		app.monitor.CheckAll(ctx)
		health, err := app.pipeline.QueueHealth(ctx)
		if err != nil {
			return err
		}
		return printJSON(c, health)
	})
}

// ensureSchedule registers the default housekeeping tasks; existing rows keep operator edits.
func ensureSchedule(ctx context.Context, app *components) error {
	defaults := domain.DefaultScheduledTasks(app.cfg.Reconciler.Interval, time.Hour)
	if err := app.scheduler.EnsureDefaults(ctx, defaults); err != nil {
		return fmt.Errorf("register scheduled tasks: %w", err)
	}
	return nil
}

func scheduleListCommand(c *cli.Context) error {
	return withComponents(c, func(ctx context.Context, app *components) error {
		if err := ensureSchedule(ctx, app); err != nil {
			return err
		}
		tasks, err := app.scheduler.ListScheduledTasks(ctx)
		if err != nil {
			return err
		}
		return printJSON(c, tasks)
	})
}

func scheduleRunCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("exactly one scheduled task id is required")
	}
	id := c.Args().First()
	return withComponents(c, func(ctx context.Context, app *components) error {
		if err := ensureSchedule(ctx, app); err != nil {
			return err
		}
		task, err := app.scheduler.TriggerNow(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(c, task)
	})
}

func tokenCommand(c *cli.Context) error {
	cfg, err := config.LoadFromEnv(c.String("config"))
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("no JWT secret configured (auth.jwt_secret or %sJWT_SECRET)", config.EnvPrefix)
	}

	now := time.Now()
	token, err := auth.NewAdapter(cfg.Auth.JWTSecret).GenerateToken(&domain.OperatorClaims{
		Subject:   c.String("subject"),
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(c.Duration("ttl")).Unix(),
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, token)
	return nil
}

func documentArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", fmt.Errorf("exactly one document id is required")
	}
	return c.Args().First(), nil
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
