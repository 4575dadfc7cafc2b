package verify

import (
	"archive/zip"
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/frebindels/kucoin-data-collector/internal/common"
	"github.com/frebindels/kucoin-data-collector/internal/config"
	"github.com/frebindels/kucoin-data-collector/internal/entity"
)

const (
	tableSuffix   = ".csv"
	extractedDir  = "extracted"
	minTableLines = 2
)

// requiredColumns is the kline table header contract; candles violating it
// are useless downstream no matter how well the archive itself survived.
var requiredColumns = []string{"timestamp", "open", "close", "high", "low", "volume", "amount"}

type pipeline struct {
	fs         afero.Fs
	httpClient *http.Client
	cfg        *config.TransferConfig
	log        *slog.Logger
}

func NewPipeline(cfg *config.TransferConfig, log *slog.Logger) *pipeline {
	return NewPipelineWithFS(afero.NewOsFs(), &http.Client{}, cfg, log)
}

func NewPipelineWithFS(fs afero.Fs, httpClient *http.Client, cfg *config.TransferConfig, log *slog.Logger) *pipeline {
	return &pipeline{
		fs:         fs,
		httpClient: httpClient,
		cfg:        cfg,
		log:        log.With(slog.String("service", "Verify")),
	}
}

// Verify checks the downloaded archive end to end: remote checksum when a
// sidecar exists, zip integrity, and the schema of the extracted table.
func (p *pipeline) Verify(ctx context.Context, desc entity.FileDescriptor, localPath string) (entity.VerificationResult, error) {
	var res entity.VerificationResult

	if desc.ChecksumURL == "" {
		p.log.Warn("No checksum sidecar, skipping digest check", slog.String("key", desc.ItemKey()))
		res.ChecksumOK = true
	} else {
		if err := p.checkChecksum(ctx, desc.ChecksumURL, localPath); err != nil {
			return res, err
		}
		res.ChecksumOK = true
	}

	member, err := p.openArchive(localPath)
	if err != nil {
		return res, err
	}
	res.ArchiveOK = true

	extractedPath, contentHash, err := p.extractTable(desc, localPath, member)
	if err != nil {
		return res, err
	}
	res.ExtractedPath = extractedPath
	res.ContentHash = contentHash

	rows, err := p.validateTable(extractedPath)
	if err != nil {
		p.removeExtracted(extractedPath)

		return res, err
	}
	res.SchemaOK = true
	res.Rows = rows

	p.log.Info("Verified",
		slog.String("key", desc.ItemKey()), slog.Int("rows", rows), slog.String("content_hash", contentHash))

	return res, nil
}

func (p *pipeline) checkChecksum(ctx context.Context, checksumURL, localPath string) error {
	want, err := p.fetchDigest(ctx, checksumURL)
	if err != nil {
		return err
	}

	got, err := p.hashLocal(localPath)
	if err != nil {
		return err
	}

	if !strings.EqualFold(want, got) {
		return &common.ChecksumError{Path: localPath, Want: want, Got: got}
	}

	return nil
}

func (p *pipeline) fetchDigest(ctx context.Context, checksumURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, checksumURL, nil)
	if err != nil {
		return "", fmt.Errorf("cannot build request: %w", err)
	}
	req.Header.Set("User-Agent", common.UserAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", &common.TransientFetchError{URL: checksumURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", common.StatusError(checksumURL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &common.TransientFetchError{URL: checksumURL, Err: err}
	}

	fields := strings.Fields(string(body))
	if len(fields) == 0 {
		return "", fmt.Errorf("checksum sidecar %s is empty", checksumURL)
	}

	return fields[0], nil
}

func (p *pipeline) hashLocal(localPath string) (string, error) {
	file, err := p.fs.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("cannot open %s: %w", localPath, err)
	}
	defer file.Close()

	h := sha256.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", fmt.Errorf("cannot hash %s: %w", localPath, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func (p *pipeline) openArchive(localPath string) (*zip.File, error) {
	file, err := p.fs.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", localPath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("cannot stat %s: %w", localPath, err)
	}

	reader, err := zip.NewReader(file, info.Size())
	if err != nil {
		return nil, &common.ArchiveError{Path: localPath, Reason: err.Error()}
	}

	if len(reader.File) == 0 {
		return nil, &common.ArchiveError{Path: localPath, Reason: "archive is empty"}
	}

	member := findTable(reader.File)
	if member == nil {
		return nil, &common.ArchiveError{Path: localPath, Reason: "no csv member in archive"}
	}

	return member, nil
}

func findTable(files []*zip.File) *zip.File {
	for _, f := range files {
		if f.FileInfo().IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(f.Name), tableSuffix) {
			return f
		}
	}

	return nil
}

func (p *pipeline) extractTable(desc entity.FileDescriptor, localPath string, member *zip.File) (string, string, error) {
	extractedPath := filepath.Join(p.cfg.OutputRoot, desc.Symbol, extractedDir, path.Base(member.Name))

	if err := p.fs.MkdirAll(filepath.Dir(extractedPath), os.ModePerm); err != nil {
		return "", "", fmt.Errorf("cannot create extraction dir: %w", err)
	}

	src, err := member.Open()
	if err != nil {
		return "", "", &common.ArchiveError{Path: localPath, Reason: err.Error()}
	}
	defer src.Close()

	out, err := p.fs.Create(extractedPath)
	if err != nil {
		return "", "", fmt.Errorf("cannot create %s: %w", extractedPath, err)
	}

	h := sha256.New()
	_, err = io.Copy(io.MultiWriter(out, h), src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		p.removeExtracted(extractedPath)

		return "", "", &common.ArchiveError{Path: localPath, Reason: err.Error()}
	}

	return extractedPath, hex.EncodeToString(h.Sum(nil)), nil
}

// validateTable checks the extracted table has the kline header and at
// least one data row, returning the data row count.
func (p *pipeline) validateTable(extractedPath string) (int, error) {
	file, err := p.fs.Open(extractedPath)
	if err != nil {
		return 0, fmt.Errorf("cannot open %s: %w", extractedPath, err)
	}
	defer file.Close()

	var (
		header string
		lines  int
	)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		lines++
		if lines == 1 {
			header = strings.ToLower(line)
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("cannot read %s: %w", extractedPath, err)
	}

	if lines < minTableLines {
		return 0, &common.SchemaError{Path: extractedPath, Reason: "table has no data rows"}
	}

	var missing []string
	for _, col := range requiredColumns {
		if !strings.Contains(header, col) {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return 0, &common.SchemaError{Path: extractedPath, Reason: "header misses required columns", Missing: missing}
	}

	return lines - 1, nil
}

func (p *pipeline) removeExtracted(extractedPath string) {
	if err := p.fs.Remove(extractedPath); err != nil {
		p.log.Error("Cannot remove extracted file", slog.String("path", extractedPath), slog.Any("error", err))
	}
}
