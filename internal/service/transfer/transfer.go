package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/frebindels/kucoin-data-collector/internal/common"
	"github.com/frebindels/kucoin-data-collector/internal/config"
	"github.com/frebindels/kucoin-data-collector/internal/entity"
)

type worker struct {
	fs         afero.Fs
	httpClient *http.Client
	cfg        *config.TransferConfig
	log        *slog.Logger
}

func NewWorker(cfg *config.TransferConfig, log *slog.Logger) *worker {
	return NewWorkerWithFS(afero.NewOsFs(), &http.Client{}, cfg, log)
}

func NewWorkerWithFS(fs afero.Fs, httpClient *http.Client, cfg *config.TransferConfig, log *slog.Logger) *worker {
	return &worker{
		fs:         fs,
		httpClient: httpClient,
		cfg:        cfg,
		log:        log.With(slog.String("service", "Transfer")),
	}
}

// Transfer downloads desc.URL to <output_root>/<symbol>/<filename>.
// An existing local file whose size matches the listing is reused without
// a request; a stale one is removed and fetched again.
func (w *worker) Transfer(ctx context.Context, desc entity.FileDescriptor) (entity.TransferResult, error) {
	localPath := filepath.Join(w.cfg.OutputRoot, desc.Symbol, desc.Filename)

	if w.reuseLocal(localPath, desc.Size) {
		w.log.Info("Local file is current, skipping",
			slog.String("key", desc.ItemKey()), slog.String("path", localPath))

		return entity.TransferResult{LocalPath: localPath, Skipped: true}, nil
	}

	if err := w.fs.MkdirAll(filepath.Dir(localPath), os.ModePerm); err != nil {
		return entity.TransferResult{}, fmt.Errorf("cannot create output dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout.Std())
	defer cancel()

	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, desc.URL, nil)
	if err != nil {
		return entity.TransferResult{}, fmt.Errorf("cannot build request: %w", err)
	}
	req.Header.Set("User-Agent", common.UserAgent)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return entity.TransferResult{}, w.requestError(desc.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return entity.TransferResult{}, &common.TransferError{
			Kind: common.TransferHTTPStatus,
			URL:  desc.URL,
			Err:  common.StatusError(desc.URL, resp.StatusCode),
		}
	}

	written, err := w.writeLocal(localPath, resp.Body, desc.Size)
	if err != nil {
		w.removeLocal(localPath)

		return entity.TransferResult{}, w.copyError(desc.URL, err)
	}

	if desc.Size > 0 && written != desc.Size {
		w.removeLocal(localPath)

		return entity.TransferResult{}, &common.TransferError{
			Kind: common.TransferSizeMismatch,
			URL:  desc.URL,
			Err:  &common.SizeMismatchError{Path: localPath, Want: desc.Size, Got: written},
		}
	}

	elapsed := time.Since(start)
	w.log.Info("Downloaded",
		slog.String("key", desc.ItemKey()), slog.Int64("bytes", written), slog.Duration("elapsed", elapsed))

	return entity.TransferResult{LocalPath: localPath, BytesWritten: written, Elapsed: elapsed}, nil
}

func (w *worker) reuseLocal(localPath string, want int64) bool {
	info, err := w.fs.Stat(localPath)
	if err != nil {
		return false
	}

	if want > 0 && info.Size() == want {
		return true
	}

	w.removeLocal(localPath)

	return false
}

func (w *worker) writeLocal(localPath string, body io.Reader, want int64) (int64, error) {
	out, err := w.fs.Create(localPath)
	if err != nil {
		return 0, fmt.Errorf("cannot create %s: %w", localPath, err)
	}

	written, err := io.Copy(&cappedWriter{w: out, limit: want, path: localPath}, body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}

	return written, err
}

func (w *worker) requestError(url string, err error) error {
	kind := common.TransferIO
	if isTimeout(err) {
		kind = common.TransferTimeout
	}

	return &common.TransferError{Kind: kind, URL: url, Err: err}
}

func (w *worker) copyError(url string, err error) error {
	var sizeErr *common.SizeMismatchError

	kind := common.TransferIO
	switch {
	case errors.As(err, &sizeErr):
		kind = common.TransferSizeMismatch
	case isTimeout(err):
		kind = common.TransferTimeout
	}

	return &common.TransferError{Kind: kind, URL: url, Err: err}
}

func (w *worker) removeLocal(localPath string) {
	if err := w.fs.Remove(localPath); err != nil {
		w.log.Error("Cannot remove local file", slog.String("path", localPath), slog.Any("error", err))
	}
}

// cappedWriter rejects bytes past the size the listing promised, so a
// response that keeps streaming cannot fill the disk.
type cappedWriter struct {
	w     io.Writer
	limit int64
	n     int64
	path  string
}

func (c *cappedWriter) Write(p []byte) (int, error) {
	if c.limit > 0 && c.n+int64(len(p)) > c.limit {
		return 0, &common.SizeMismatchError{Path: c.path, Want: c.limit, Got: c.n + int64(len(p))}
	}

	n, err := c.w.Write(p)
	c.n += int64(n)

	return n, err
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}
