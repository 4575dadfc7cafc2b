package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/frebindels/kucoin-data-collector/internal/common"
	"github.com/frebindels/kucoin-data-collector/internal/entity"
)

const (
	KeyCheckpoint = "cp"
	KeyCompleted  = "completed"
	KeyFailed     = "failed"
	KeySeparator  = ":"

	fieldRunID      = "run_id"
	fieldDiscovered = "discovered"
	fieldDownloaded = "downloaded"
	fieldBytes      = "bytes"
	fieldErrors     = "errors"
	fieldRetries    = "retries"
	fieldUpdatedAt  = "updated_at"
)

type redisRepository struct {
	cl  *redis.Client
	log *slog.Logger
}

// NewRedisRepository keeps run snapshots in redis under cp:<symbol>
// (counters hash), cp:<symbol>:completed (set) and cp:<symbol>:failed
// (hash of item key to last failure reason).
func NewRedisRepository(cl *redis.Client, log *slog.Logger) *redisRepository {
	return &redisRepository{
		cl:  cl,
		log: log.With(slog.String("item", "RedisCheckpoint")),
	}
}

func (r *redisRepository) Load(ctx context.Context, symbol string) (entity.RunStateSnapshot, error) {
	var snap entity.RunStateSnapshot

	counters, err := r.cl.HGetAll(ctx, r.getKey(KeyCheckpoint, symbol)).Result()
	if err != nil {
		return snap, fmt.Errorf("cannot read checkpoint: %w", err)
	}
	if len(counters) == 0 {
		return snap, common.ErrCheckpointNotFound
	}

	snap.RunID = counters[fieldRunID]
	snap.Symbol = symbol
	snap.Discovered = int(r.counter(counters, fieldDiscovered))
	snap.Downloaded = int(r.counter(counters, fieldDownloaded))
	snap.Bytes = r.counter(counters, fieldBytes)
	snap.Errors = int(r.counter(counters, fieldErrors))
	snap.Retries = int(r.counter(counters, fieldRetries))

	if raw, exists := counters[fieldUpdatedAt]; exists {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			r.log.Error("Cannot parse checkpoint timestamp", slog.Any("error", err))
		} else {
			snap.UpdatedAt = ts
		}
	}

	completed, err := r.cl.SMembers(ctx, r.getKey(KeyCheckpoint, symbol, KeyCompleted)).Result()
	if err != nil {
		return snap, fmt.Errorf("cannot read completed set: %w", err)
	}
	sort.Strings(completed)
	snap.Completed = completed

	failed, err := r.cl.HGetAll(ctx, r.getKey(KeyCheckpoint, symbol, KeyFailed)).Result()
	if err != nil {
		return snap, fmt.Errorf("cannot read failed set: %w", err)
	}
	for key, reason := range failed {
		snap.Failed = append(snap.Failed, entity.ItemFailure{Key: key, Reason: reason})
	}
	sort.Slice(snap.Failed, func(i, j int) bool {
		return snap.Failed[i].Key < snap.Failed[j].Key
	})

	return snap, nil
}

func (r *redisRepository) Save(ctx context.Context, snap entity.RunStateSnapshot) error {
	pipe := r.cl.Pipeline()

	pipe.HSet(ctx, r.getKey(KeyCheckpoint, snap.Symbol), map[string]interface{}{
		fieldRunID:      snap.RunID,
		fieldDiscovered: snap.Discovered,
		fieldDownloaded: snap.Downloaded,
		fieldBytes:      snap.Bytes,
		fieldErrors:     snap.Errors,
		fieldRetries:    snap.Retries,
		fieldUpdatedAt:  snap.UpdatedAt.Format(time.RFC3339),
	})

	if len(snap.Completed) > 0 {
		pipe.SAdd(ctx, r.getKey(KeyCheckpoint, snap.Symbol, KeyCompleted), toMembers(snap.Completed)...)
		pipe.HDel(ctx, r.getKey(KeyCheckpoint, snap.Symbol, KeyFailed), snap.Completed...)
	}

	for _, failure := range snap.Failed {
		pipe.HSet(ctx, r.getKey(KeyCheckpoint, snap.Symbol, KeyFailed), failure.Key, failure.Reason)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cannot save checkpoint: %w", err)
	}

	return nil
}

func (r *redisRepository) counter(counters map[string]string, field string) int64 {
	value, exists := counters[field]
	if !exists {
		return 0
	}

	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		r.log.Error("Cannot parse checkpoint counter", slog.String("field", field), slog.Any("error", err))

		return 0
	}

	return n
}

func (r *redisRepository) getKey(keys ...string) string {
	return strings.Join(keys, KeySeparator)
}

func toMembers(keys []string) []interface{} {
	members := make([]interface{}, len(keys))
	for i, key := range keys {
		members[i] = key
	}

	return members
}
