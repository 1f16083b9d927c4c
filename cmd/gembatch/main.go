// gembatch is the command line entry point of the batch orchestrator.
//
// Usage:
//
//	gembatch worker                    # run the queue worker
//	gembatch status <id>               # show one batch
//	gembatch list                      # list active batches
//	gembatch check                     # dashboard of active batches and queue depth
//	gembatch cancel <id>               # cancel an in-flight batch
//	gembatch prune [--days N]          # delete old terminal batches
//	gembatch migrate up|down|status    # manage the schema
//	gembatch version                   # show version information
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"github.com/obayesshelton/gembatch"
	"github.com/obayesshelton/gembatch/config"
	"github.com/obayesshelton/gembatch/internal/migration"
	"github.com/obayesshelton/gembatch/internal/queue"
	"github.com/obayesshelton/gembatch/internal/store"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "worker":
		runWorker(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "list":
		runList(os.Args[2:])
	case "check":
		runCheck(os.Args[2:])
	case "cancel":
		runCancel(os.Args[2:])
	case "prune":
		runPrune(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// app bundles everything a command needs after bootstrap.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	mgr    *gembatch.Manager
}

// bootstrap parses the shared flags, loads configuration and wires a
// Manager against the database and redis.
func bootstrap(name string, args []string) (*app, []string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		fatalf("Failed to build logger: %v", err)
	}

	db, err := store.Open(cfg.Database, logger)
	if err != nil {
		fatalf("Failed to connect database: %v", err)
	}

	rdb, err := queue.OpenRedis(cfg.Redis)
	if err != nil {
		fatalf("Failed to connect redis: %v", err)
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		mgr:    gembatch.New(cfg, db, rdb, logger),
	}, fs.Args()
}

func runWorker(args []string) {
	a, _ := bootstrap("worker", args)
	defer a.logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.logger.Info("starting worker",
		zap.String("version", Version),
		zap.String("queue", a.cfg.Queue.Name),
		zap.Int("workers", a.cfg.Queue.Workers),
	)

	if a.cfg.Metrics.Enabled {
		go func() {
			if err := a.mgr.Metrics().Serve(a.cfg.Metrics.Addr); err != nil {
				a.logger.Warn("metrics endpoint stopped", zap.Error(err))
			}
		}()
	}

	w := queue.NewWorker(a.mgr.Queue(), []string{a.cfg.Queue.Name}, a.cfg.Queue.Workers, a.logger)
	a.mgr.RegisterHandlers(w)

	if err := w.Run(ctx); err != nil {
		a.logger.Fatal("worker stopped with error", zap.Error(err))
	}
	a.logger.Info("worker stopped")
}

func runStatus(args []string) {
	a, rest := bootstrap("status", args)
	id := parseBatchID(rest, "status")

	ctx := context.Background()
	b, err := a.mgr.Find(ctx, id)
	if err != nil {
		fatalf("Batch %d: %v", id, err)
	}
	requests, err := a.mgr.Requests(ctx, id)
	if err != nil {
		fatalf("Batch %d requests: %v", id, err)
	}

	fmt.Printf("Batch %d\n", b.ID)
	fmt.Printf("  Model:          %s\n", b.Model)
	if b.DisplayName != "" {
		fmt.Printf("  Display name:   %s\n", b.DisplayName)
	}
	fmt.Printf("  State:          %s\n", b.State)
	if b.InputMode != "" {
		fmt.Printf("  Input mode:     %s\n", b.InputMode)
	}
	if b.APIBatchName != "" {
		fmt.Printf("  API batch name: %s\n", b.APIBatchName)
	}
	fmt.Printf("  Requests:       %d total, %d completed, %d failed\n",
		b.TotalRequests, b.CompletedRequests, b.FailedRequests)
	if b.SubmittedAt != nil {
		fmt.Printf("  Submitted at:   %s\n", b.SubmittedAt.Format("2006-01-02 15:04:05"))
	}
	if b.CompletedAt != nil {
		fmt.Printf("  Completed at:   %s\n", b.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	if b.ErrorMessage != "" {
		fmt.Printf("  Error:          %s\n", b.ErrorMessage)
	}

	fmt.Println("\n  Key                              State      Tokens")
	for _, r := range requests {
		tokens := "-"
		if r.PromptTokens != nil && r.CompletionTokens != nil {
			tokens = fmt.Sprintf("%d/%d", *r.PromptTokens, *r.CompletionTokens)
		}
		fmt.Printf("  %-32s %-10s %s\n", r.Key, r.State, tokens)
	}
}

func runList(args []string) {
	a, _ := bootstrap("list", args)

	batches, err := a.mgr.Active(context.Background())
	if err != nil {
		fatalf("List batches: %v", err)
	}
	if len(batches) == 0 {
		fmt.Println("No active batches.")
		return
	}

	fmt.Println("ID     State      Model                    Requests  API batch name")
	for _, b := range batches {
		fmt.Printf("%-6d %-10s %-24s %-9d %s\n",
			b.ID, b.State, b.Model, b.TotalRequests, b.APIBatchName)
	}
}

func runCheck(args []string) {
	a, _ := bootstrap("check", args)
	ctx := context.Background()

	batches, err := a.mgr.Active(ctx)
	if err != nil {
		fatalf("List batches: %v", err)
	}

	var pending, submitted, running int
	for _, b := range batches {
		switch b.State {
		case "pending":
			pending++
		case "submitted":
			submitted++
		case "running":
			running++
		}
	}
	fmt.Printf("Active batches: %d (pending %d, submitted %d, running %d)\n",
		len(batches), pending, submitted, running)

	depth, err := a.mgr.Queue().Depth(ctx, a.cfg.Queue.Name)
	if err != nil {
		fatalf("Queue depth: %v", err)
	}
	delayed, err := a.mgr.Queue().DelayedCount(ctx)
	if err != nil {
		fatalf("Delayed count: %v", err)
	}
	fmt.Printf("Queue %q: %d ready, %d delayed\n", a.cfg.Queue.Name, depth, delayed)
}

func runCancel(args []string) {
	a, rest := bootstrap("cancel", args)
	id := parseBatchID(rest, "cancel")

	if err := a.mgr.Cancel(context.Background(), id); err != nil {
		fatalf("Cancel batch %d: %v", id, err)
	}
	fmt.Printf("Batch %d cancelled.\n", id)
}

func runPrune(args []string) {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	days := fs.Int("days", 0, "Retention in days (0 uses the configured value)")
	fs.Parse(args)

	forward := []string{}
	if *configPath != "" {
		forward = append(forward, "--config", *configPath)
	}
	a, _ := bootstrap("prune", forward)

	count, err := a.mgr.Prune(context.Background(), *days)
	if err != nil {
		fatalf("Prune: %v", err)
	}
	fmt.Printf("Pruned %d batches.\n", count)
}

func runMigrate(args []string) {
	if len(args) < 1 {
		fatalf("migrate requires a subcommand: up, down, status")
	}
	sub := args[0]

	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args[1:])

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		fatalf("Failed to build logger: %v", err)
	}
	db, err := store.Open(cfg.Database, logger)
	if err != nil {
		fatalf("Failed to connect database: %v", err)
	}

	mg, err := migration.New(db, cfg.Database.Driver)
	if err != nil {
		fatalf("Failed to build migrator: %v", err)
	}

	switch sub {
	case "up":
		if err := mg.Up(); err != nil {
			fatalf("Migrate up: %v", err)
		}
		fmt.Println("Migrations applied.")
	case "down":
		if err := mg.Down(); err != nil {
			fatalf("Migrate down: %v", err)
		}
		fmt.Println("Last migration rolled back.")
	case "status":
		version, dirty, ok, err := mg.Version()
		if err != nil {
			fatalf("Migrate status: %v", err)
		}
		if !ok {
			fmt.Println("No migrations applied.")
			return
		}
		fmt.Printf("Version %d (dirty: %v)\n", version, dirty)
	default:
		fatalf("Unknown migrate subcommand: %s", sub)
	}
}

func parseBatchID(args []string, command string) uint {
	if len(args) < 1 {
		fatalf("%s requires a batch id", command)
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fatalf("Invalid batch id %q", args[0])
	}
	return uint(id)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func printVersion() {
	fmt.Printf("gembatch %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`gembatch - Gemini batch API orchestrator

Usage:
  gembatch <command> [options]

Commands:
  worker    Run the queue worker
  status    Show one batch and its requests
  list      List active batches
  check     Show active batches and queue depth
  cancel    Cancel an in-flight batch
  prune     Delete old terminal batches
  migrate   Database migration commands (up, down, status)
  version   Show version information
  help      Show this help message

Common options:
  --config <path>   Path to configuration file (YAML)

Examples:
  gembatch worker --config /etc/gembatch/config.yaml
  gembatch status 42
  gembatch prune --days 14
  gembatch migrate up`)
}
