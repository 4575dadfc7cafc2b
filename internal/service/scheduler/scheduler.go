package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/frebindels/kucoin-data-collector/internal/common"
	"github.com/frebindels/kucoin-data-collector/internal/config"
	"github.com/frebindels/kucoin-data-collector/internal/entity"
	"github.com/frebindels/kucoin-data-collector/internal/util"
)

// LevelCritical flags a sustained failure streak, one step above slog.LevelError.
const LevelCritical = slog.LevelError + 4

// streakPollFactor widens the idle poll while the failure streak holds,
// so a struggling remote is not hammered by idle workers.
const streakPollFactor = 5

type Handler interface {
	Handle(ctx context.Context, item *entity.WorkItem) error
}

type Scheduler struct {
	queue     *Queue
	handler   Handler
	cfg       *config.SchedulerConfig
	state     *entity.RunState
	remaining atomic.Int64
	streak    atomic.Int64
	log       *slog.Logger
}

func New(queue *Queue, handler Handler, cfg *config.SchedulerConfig, state *entity.RunState, log *slog.Logger) *Scheduler {
	return &Scheduler{
		queue:   queue,
		handler: handler,
		cfg:     cfg,
		state:   state,
		log:     log.With(slog.String("service", "Scheduler")),
	}
}

// Submit must be called for every item before Run; remaining counts
// non-terminal items and workers stop when it reaches zero.
func (s *Scheduler) Submit(item *entity.WorkItem) {
	s.queue.Enqueue(item)
	s.remaining.Add(1)
}

func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("Start", slog.Int("workers", s.cfg.Workers), slog.Int64("items", s.remaining.Load()))

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			s.worker(ctx, id)
		}(i)
	}
	wg.Wait()

	return ctx.Err()
}

func (s *Scheduler) worker(ctx context.Context, id int) {
	log := s.log.With(slog.Int("worker_id", id))
	log.Info("Started")

	for {
		select {
		case <-ctx.Done():
			log.Info("Interrupted")

			return
		default:
		}

		if s.remaining.Load() == 0 {
			log.Info("Done")

			return
		}

		item := s.queue.Dequeue(time.Now())
		if item == nil {
			s.idle(ctx)

			continue
		}

		item.Attempts++
		// The attempt itself is not cancelled mid-flight; its own timeout bounds it.
		err := s.handler.Handle(context.WithoutCancel(ctx), item)
		if err != nil {
			s.fail(log, item, err)

			continue
		}

		s.succeed(item)
	}
}

func (s *Scheduler) idle(ctx context.Context) {
	delay := s.cfg.PollInterval.Std()
	if s.streak.Load() >= int64(s.cfg.FailureStreak) {
		delay *= streakPollFactor
	}

	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

func (s *Scheduler) fail(log *slog.Logger, item *entity.WorkItem, err error) {
	item.LastError = err.Error()
	s.state.IncErrors()

	if streak := s.streak.Add(1); streak == int64(s.cfg.FailureStreak) {
		log.Log(context.Background(), LevelCritical, "Failure streak",
			slog.Int64("consecutive_failures", streak))
	}

	if !common.Retryable(err) || item.Attempts >= s.cfg.MaxAttempts {
		item.State = entity.StatePermanentlyFailed
		s.state.MarkFailed(item.Key(), err.Error())
		s.remaining.Add(-1)
		log.Error("Item failed permanently",
			slog.String("key", item.Key()), slog.Int("attempts", item.Attempts), slog.Any("error", err))

		return
	}

	item.NextAttemptAt = time.Now().Add(util.Backoff(s.cfg.BackoffBase.Std(), s.cfg.BackoffMax.Std(), item.Attempts))
	s.queue.Requeue(item)
	s.state.IncRetries()
	log.Warn("Item failed, will retry",
		slog.String("key", item.Key()), slog.Int("attempts", item.Attempts), slog.Any("error", err))
}

func (s *Scheduler) succeed(item *entity.WorkItem) {
	s.streak.Store(0)
	item.State = entity.StateSucceeded
	s.state.MarkCompleted(item.Key())
	s.remaining.Add(-1)
}
