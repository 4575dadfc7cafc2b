package discovery

import (
	"context"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/frebindels/kucoin-data-collector/internal/adapter/listing"
	"github.com/frebindels/kucoin-data-collector/internal/common"
	"github.com/frebindels/kucoin-data-collector/internal/config"
	"github.com/frebindels/kucoin-data-collector/internal/entity"
	"github.com/frebindels/kucoin-data-collector/internal/util"
)

const (
	archiveSuffix = ".zip"
	sidecarSuffix = ".CHECKSUM"
)

type ListingClient interface {
	List(ctx context.Context, prefix, marker string) (listing.Page, error)
}

type engine struct {
	client ListingClient
	cfg    *config.Config
	log    *slog.Logger
}

func NewEngine(client ListingClient, cfg *config.Config, log *slog.Logger) *engine {
	return &engine{
		client: client,
		cfg:    cfg,
		log:    log.With(slog.String("service", "Discovery")),
	}
}

// Discover walks the listing for symbol page by page and returns every
// archive as a manifest in server order. When the retry budget for a page
// runs out, the pages collected before it come back as a partial manifest
// together with a DiscoveryError; the caller decides what to do with it.
func (e *engine) Discover(ctx context.Context, symbol string) (entity.Manifest, error) {
	symbol = strings.ToUpper(symbol)
	prefix := e.prefix(symbol)

	log := e.log.With(slog.String("symbol", symbol))
	log.Info("Start discovery", slog.String("prefix", prefix))

	var (
		entries []listing.Entry
		marker  string
	)

	for pageNum := 1; ; pageNum++ {
		page, err := e.listPage(ctx, prefix, marker)
		if err != nil {
			log.Error("Cannot list page", slog.Int("page", pageNum), slog.Any("error", err))

			return e.buildManifest(symbol, entries), &common.DiscoveryError{Symbol: symbol, Page: pageNum, Err: err}
		}

		entries = append(entries, page.Entries...)

		if !page.Truncated {
			break
		}
		marker = page.NextMarker
	}

	manifest := e.buildManifest(symbol, entries)
	log.Info("Discovery done", slog.Int("keys", len(entries)), slog.Int("archives", len(manifest)))

	return manifest, nil
}

// listPage retries transient listing failures with exponential backoff.
func (e *engine) listPage(ctx context.Context, prefix, marker string) (listing.Page, error) {
	cfg := &e.cfg.DiscoveryConfig

	var lastErr error
	for attempt := 1; attempt <= cfg.RetryAttempts; attempt++ {
		page, err := e.client.List(ctx, prefix, marker)
		if err == nil {
			return page, nil
		}
		lastErr = err

		if !common.Retryable(err) || attempt == cfg.RetryAttempts {
			break
		}

		delay := util.Backoff(cfg.RetryBaseDelay.Std(), cfg.RetryMaxDelay.Std(), attempt)
		e.log.Warn("Listing attempt failed, retrying",
			slog.String("prefix", prefix), slog.Int("attempt", attempt),
			slog.Duration("delay", delay), slog.Any("error", err))

		select {
		case <-ctx.Done():
			return listing.Page{}, ctx.Err()
		case <-time.After(delay):
		}
	}

	return listing.Page{}, lastErr
}

// buildManifest keeps archive keys only, deduplicated on (symbol, filename)
// with the first occurrence winning. A descriptor gets its ChecksumURL only
// when the matching sidecar key was actually listed.
func (e *engine) buildManifest(symbol string, entries []listing.Entry) entity.Manifest {
	sidecars := make(map[string]struct{})
	for _, entry := range entries {
		if strings.HasSuffix(entry.Key, sidecarSuffix) {
			sidecars[strings.TrimSuffix(entry.Key, sidecarSuffix)] = struct{}{}
		}
	}

	var manifest entity.Manifest
	seen := make(map[string]struct{})

	for _, entry := range entries {
		if !strings.HasSuffix(entry.Key, archiveSuffix) {
			continue
		}

		desc := entity.FileDescriptor{
			Symbol:       symbol,
			Key:          entry.Key,
			Filename:     path.Base(entry.Key),
			URL:          e.cfg.ListingConfig.Host + "/" + entry.Key,
			Size:         entry.Size,
			LastModified: entry.LastModified,
		}

		if _, exists := seen[desc.ItemKey()]; exists {
			continue
		}
		seen[desc.ItemKey()] = struct{}{}

		if _, exists := sidecars[entry.Key]; exists {
			desc.ChecksumURL = desc.URL + sidecarSuffix
		}

		manifest = append(manifest, desc)
	}

	return manifest
}

func (e *engine) prefix(symbol string) string {
	prefix := symbol + "/"
	if root := strings.Trim(e.cfg.ListingConfig.PrefixRoot, "/"); root != "" {
		prefix = root + "/" + prefix
	}

	return prefix
}
