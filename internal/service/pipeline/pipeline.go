package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/frebindels/kucoin-data-collector/internal/common"
	"github.com/frebindels/kucoin-data-collector/internal/config"
	"github.com/frebindels/kucoin-data-collector/internal/entity"
	"github.com/frebindels/kucoin-data-collector/internal/service/scheduler"
	"github.com/frebindels/kucoin-data-collector/internal/storage/catalog"
	"github.com/frebindels/kucoin-data-collector/internal/util"
)

type DiscoveryEngine interface {
	Discover(ctx context.Context, symbol string) (entity.Manifest, error)
}

type TransferWorker interface {
	Transfer(ctx context.Context, desc entity.FileDescriptor) (entity.TransferResult, error)
}

type Verifier interface {
	Verify(ctx context.Context, desc entity.FileDescriptor, localPath string) (entity.VerificationResult, error)
}

type CheckpointRepository interface {
	Load(ctx context.Context, symbol string) (entity.RunStateSnapshot, error)
	Save(ctx context.Context, snap entity.RunStateSnapshot) error
}

type ArchiveCatalog interface {
	Put(record catalog.Record) error
	FindByContentHash(contentHash string) ([]catalog.Record, error)
}

// Pipeline drives one collection run: discover the manifest, schedule
// transfers, verify every archive and keep the checkpoint current.
// A Pipeline runs at most one collection at a time.
type Pipeline struct {
	discovery  DiscoveryEngine
	transfer   TransferWorker
	verifier   Verifier
	checkpoint CheckpointRepository
	catalog    ArchiveCatalog
	cfg        *config.Config
	log        *slog.Logger

	running atomic.Bool

	mu     sync.Mutex
	symbol string
	state  *entity.RunState
}

func New(discovery DiscoveryEngine, transfer TransferWorker, verifier Verifier,
	checkpoint CheckpointRepository, cat ArchiveCatalog, cfg *config.Config, log *slog.Logger) *Pipeline {
	return &Pipeline{
		discovery:  discovery,
		transfer:   transfer,
		verifier:   verifier,
		checkpoint: checkpoint,
		catalog:    cat,
		cfg:        cfg,
		log:        log.With(slog.String("service", "Pipeline")),
	}
}

func (p *Pipeline) Run(ctx context.Context, symbol string) (entity.RunSummary, error) {
	if !p.running.CompareAndSwap(false, true) {
		return entity.RunSummary{}, common.ErrRunAlreadyStarted
	}
	defer p.running.Store(false)

	start := time.Now()
	symbol = strings.ToUpper(symbol)

	manifest, partial, err := p.discover(ctx, symbol)
	if err != nil {
		return entity.RunSummary{}, err
	}

	state, err := p.loadState(ctx, symbol)
	if err != nil {
		return entity.RunSummary{}, err
	}

	p.mu.Lock()
	p.symbol = symbol
	p.state = state
	p.mu.Unlock()

	state.SetDiscovered(len(manifest))

	queue := scheduler.NewQueue()
	sched := scheduler.New(queue, p, &p.cfg.SchedulerConfig, state, p.log)

	var skipped int
	for _, desc := range manifest {
		key := desc.ItemKey()
		if state.IsCompleted(key) {
			skipped++

			continue
		}

		sched.Submit(&entity.WorkItem{ID: util.GetIDFromString(&key), Descriptor: desc})
	}
	if skipped > 0 {
		p.log.Info("Skipping items completed earlier", slog.Int("skipped", skipped))
	}

	done := make(chan struct{})
	var flushWG sync.WaitGroup
	flushWG.Add(1)
	go func() {
		defer flushWG.Done()
		p.flushLoop(ctx, done)
	}()

	runErr := sched.Run(ctx)

	close(done)
	flushWG.Wait()

	if err := p.flush(context.WithoutCancel(ctx)); err != nil {
		p.log.Error("Cannot flush checkpoint", slog.Any("error", err))
	}

	summary := p.buildSummary(state, skipped, partial, time.Since(start))
	if runErr != nil {
		return summary, fmt.Errorf("run interrupted: %w", runErr)
	}

	p.log.Info("Run done",
		slog.String("run_id", summary.RunID), slog.Int("downloaded", summary.Downloaded),
		slog.Int("errors", summary.Errors), slog.Duration("elapsed", summary.Elapsed))

	return summary, nil
}

// Handle processes one scheduled item: download, verify, catalog.
func (p *Pipeline) Handle(ctx context.Context, item *entity.WorkItem) error {
	res, err := p.transfer.Transfer(ctx, item.Descriptor)
	if err != nil {
		return err
	}

	verification, err := p.verifier.Verify(ctx, item.Descriptor, res.LocalPath)
	if err != nil {
		return err
	}

	p.record(item.Descriptor, verification)

	p.mu.Lock()
	state := p.state
	p.mu.Unlock()
	state.AddDownloaded(res.BytesWritten)

	return nil
}

// Flush writes the live run state to the checkpoint repository on demand.
func (p *Pipeline) Flush(ctx context.Context) error {
	if !p.running.Load() {
		return errors.New("no run in progress")
	}

	return p.flush(ctx)
}

func (p *Pipeline) discover(ctx context.Context, symbol string) (entity.Manifest, bool, error) {
	manifest, err := p.discovery.Discover(ctx, symbol)
	if err != nil {
		var discErr *common.DiscoveryError
		if errors.As(err, &discErr) && len(manifest) > 0 && p.cfg.DiscoveryConfig.AcceptPartial {
			p.log.Warn("Proceeding with partial manifest",
				slog.Int("archives", len(manifest)), slog.Int("failed_page", discErr.Page), slog.Any("error", err))

			return manifest, true, nil
		}

		return nil, false, fmt.Errorf("discovery failed: %w", err)
	}

	return manifest, false, nil
}

func (p *Pipeline) loadState(ctx context.Context, symbol string) (*entity.RunState, error) {
	snap, err := p.checkpoint.Load(ctx, symbol)
	if err != nil {
		if errors.Is(err, common.ErrCheckpointNotFound) {
			return entity.NewRunState(symbol), nil
		}

		return nil, fmt.Errorf("cannot load checkpoint: %w", err)
	}

	p.log.Info("Resuming from checkpoint",
		slog.String("run_id", snap.RunID), slog.Int("completed", len(snap.Completed)))

	return entity.RestoreRunState(snap), nil
}

func (p *Pipeline) record(desc entity.FileDescriptor, verification entity.VerificationResult) {
	record := catalog.Record{
		Symbol:      desc.Symbol,
		Filename:    desc.Filename,
		ContentHash: verification.ContentHash,
		Rows:        verification.Rows,
		VerifiedAt:  time.Now(),
	}

	duplicates, err := p.catalog.FindByContentHash(verification.ContentHash)
	if err != nil {
		p.log.Error("Cannot query catalog", slog.Any("error", err))
	}
	for _, dup := range duplicates {
		if dup.Key() == record.Key() {
			continue
		}
		p.log.Warn("Duplicate table content",
			slog.String("key", record.Key()), slog.String("duplicate_of", dup.Key()),
			slog.String("content_hash", verification.ContentHash))
	}

	if err := p.catalog.Put(record); err != nil {
		p.log.Error("Cannot store catalog record", slog.String("key", record.Key()), slog.Any("error", err))
	}
}

func (p *Pipeline) flushLoop(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(p.cfg.CheckpointConfig.FlushInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := p.flush(context.WithoutCancel(ctx)); err != nil {
				p.log.Error("Cannot flush checkpoint", slog.Any("error", err))
			}
		}
	}
}

func (p *Pipeline) flush(ctx context.Context) error {
	p.mu.Lock()
	state := p.state
	p.mu.Unlock()

	if state == nil {
		return errors.New("no run state")
	}

	if err := p.checkpoint.Save(ctx, state.Snapshot()); err != nil {
		return fmt.Errorf("cannot save checkpoint: %w", err)
	}

	return nil
}

func (p *Pipeline) buildSummary(state *entity.RunState, skipped int, partial bool, elapsed time.Duration) entity.RunSummary {
	snap := state.Snapshot()

	return entity.RunSummary{
		RunID:      snap.RunID,
		Symbol:     snap.Symbol,
		Discovered: snap.Discovered,
		Skipped:    skipped,
		Downloaded: snap.Downloaded,
		Bytes:      snap.Bytes,
		Errors:     snap.Errors,
		Retries:    snap.Retries,
		Failed:     snap.Failed,
		Partial:    partial,
		Elapsed:    elapsed,
	}
}
