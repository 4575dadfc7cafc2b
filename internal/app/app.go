package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/frebindels/kucoin-data-collector/internal/adapter/listing"
	"github.com/frebindels/kucoin-data-collector/internal/config"
	"github.com/frebindels/kucoin-data-collector/internal/entity"
	"github.com/frebindels/kucoin-data-collector/internal/repository/checkpoint"
	"github.com/frebindels/kucoin-data-collector/internal/service/discovery"
	"github.com/frebindels/kucoin-data-collector/internal/service/pipeline"
	"github.com/frebindels/kucoin-data-collector/internal/service/transfer"
	"github.com/frebindels/kucoin-data-collector/internal/service/verify"
	"github.com/frebindels/kucoin-data-collector/internal/storage/catalog"
)

const (
	ExitOK          = 0
	ExitConfigError = 1
	ExitRunFailed   = 2

	flushTimeout = 5 * time.Second
)

type App struct {
	cfgPath      string
	symbol       string
	format       string
	discoverOnly bool

	cfg      *config.Config
	pipeline *pipeline.Pipeline
	cancel   context.CancelFunc
	log      *slog.Logger
}

func New(cfgPath, symbol, format string, discoverOnly bool) *App {
	return &App{
		cfgPath:      cfgPath,
		symbol:       symbol,
		format:       format,
		discoverOnly: discoverOnly,
	}
}

func (a *App) Run() int {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot load config: %v\n", err)

		return ExitConfigError
	}

	if a.format != "" {
		cfg.ListingConfig.Format = a.format
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)

			return ExitConfigError
		}
	}

	a.cfg = cfg
	a.log = newLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.cancel = cancel

	client, err := listing.NewClient(&cfg.ListingConfig, a.log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot build listing client: %v\n", err)

		return ExitConfigError
	}

	engine := discovery.NewEngine(client, cfg, a.log)

	if a.discoverOnly {
		manifest, err := engine.Discover(ctx, a.symbol)
		if err != nil {
			a.log.Error("Discovery failed", slog.Any("error", err))

			return ExitRunFailed
		}

		for i, desc := range manifest {
			fmt.Printf("%d. %s -> %s (%d bytes)\n", i+1, desc.ItemKey(), desc.URL, desc.Size)
		}

		return ExitOK
	}

	if err := os.MkdirAll(cfg.TransferConfig.OutputRoot, os.ModePerm); err != nil {
		fmt.Fprintf(os.Stderr, "cannot create output root: %v\n", err)

		return ExitConfigError
	}

	checkpointRepo, err := a.checkpointRepository(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot connect checkpoint store: %v\n", err)

		return ExitConfigError
	}

	cat, err := catalog.NewCatalog(cfg.CatalogConfig.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot open catalog: %v\n", err)

		return ExitConfigError
	}
	defer cat.Close()

	a.pipeline = pipeline.New(engine,
		transfer.NewWorker(&cfg.TransferConfig, a.log),
		verify.NewPipeline(&cfg.TransferConfig, a.log),
		checkpointRepo, cat, cfg, a.log)

	summary, err := a.pipeline.Run(ctx, a.symbol)
	if err != nil {
		a.log.Error("Run failed", slog.Any("error", err))

		return ExitRunFailed
	}

	a.printSummary(summary)

	if len(summary.Failed) > 0 {
		return ExitRunFailed
	}

	return ExitOK
}

// Flush persists the live run state, wired to SIGUSR1.
func (a *App) Flush() {
	if a.pipeline == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if err := a.pipeline.Flush(ctx); err != nil {
		a.log.Error("Cannot flush checkpoint", slog.Any("error", err))

		return
	}

	a.log.Info("Checkpoint flushed")
}

func (a *App) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
}

func (a *App) checkpointRepository(ctx context.Context) (pipeline.CheckpointRepository, error) {
	if a.cfg.CheckpointConfig.RedisURL == "" {
		return checkpoint.NewFileRepository(a.cfg.TransferConfig.OutputRoot, a.log), nil
	}

	opt, err := redis.ParseURL(a.cfg.CheckpointConfig.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("cannot parse redis url: %w", err)
	}

	rdb := redis.NewClient(opt)
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("cannot reach redis: %w", err)
	}

	return checkpoint.NewRedisRepository(rdb, a.log), nil
}

func (a *App) printSummary(summary entity.RunSummary) {
	fmt.Printf("Run %s for %s finished in %s\n",
		summary.RunID, summary.Symbol, summary.Elapsed.Round(time.Millisecond))
	if summary.Partial {
		fmt.Println("Listing was incomplete, manifest is partial")
	}
	fmt.Printf("Discovered: %d\n", summary.Discovered)
	fmt.Printf("Skipped:    %d\n", summary.Skipped)
	fmt.Printf("Downloaded: %d (%d bytes)\n", summary.Downloaded, summary.Bytes)
	fmt.Printf("Errors:     %d (retries: %d)\n", summary.Errors, summary.Retries)

	if len(summary.Failed) > 0 {
		fmt.Println("FAILED:")
		for i, failure := range summary.Failed {
			fmt.Printf("%d. %s: %s\n", i+1, failure.Key, failure.Reason)
		}
	}
}

func newLogger(level string) *slog.Logger {
	lo := &slog.HandlerOptions{}
	switch level {
	case config.LogLevelInfo:
		lo.Level = slog.LevelInfo
	case config.LogLevelWarn:
		lo.Level = slog.LevelWarn
	case config.LogLevelError:
		lo.Level = slog.LevelError
	case config.LogLevelDebug:
		lo.Level = slog.LevelDebug
	default:
		panic("unknown log level")
	}

	return slog.New(slog.NewTextHandler(os.Stderr, lo))
}
