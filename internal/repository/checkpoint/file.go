package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v2"

	"github.com/frebindels/kucoin-data-collector/internal/common"
	"github.com/frebindels/kucoin-data-collector/internal/entity"
)

const checkpointFileName = "checkpoint.yml"

type fileRepository struct {
	fs   afero.Fs
	root string
	log  *slog.Logger
}

// NewFileRepository stores run snapshots as <root>/<symbol>/checkpoint.yml.
func NewFileRepository(root string, log *slog.Logger) *fileRepository {
	return NewFileRepositoryWithFS(afero.NewOsFs(), root, log)
}

func NewFileRepositoryWithFS(fs afero.Fs, root string, log *slog.Logger) *fileRepository {
	return &fileRepository{
		fs:   fs,
		root: root,
		log:  log.With(slog.String("item", "FileCheckpoint")),
	}
}

func (r *fileRepository) Load(_ context.Context, symbol string) (entity.RunStateSnapshot, error) {
	var snap entity.RunStateSnapshot

	data, err := afero.ReadFile(r.fs, r.path(symbol))
	if err != nil {
		if os.IsNotExist(err) {
			return snap, common.ErrCheckpointNotFound
		}

		return snap, fmt.Errorf("cannot read checkpoint: %w", err)
	}

	if err := yaml.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("cannot parse checkpoint: %w", err)
	}

	return snap, nil
}

func (r *fileRepository) Save(_ context.Context, snap entity.RunStateSnapshot) error {
	data, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("cannot encode checkpoint: %w", err)
	}

	target := r.path(snap.Symbol)
	if err := r.fs.MkdirAll(filepath.Dir(target), os.ModePerm); err != nil {
		return fmt.Errorf("cannot create checkpoint dir: %w", err)
	}

	tmp := target + ".tmp"
	if err := afero.WriteFile(r.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("cannot write checkpoint: %w", err)
	}

	// Not every Fs renames over an existing file.
	if err := r.fs.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cannot replace checkpoint: %w", err)
	}

	if err := r.fs.Rename(tmp, target); err != nil {
		return fmt.Errorf("cannot commit checkpoint: %w", err)
	}

	return nil
}

func (r *fileRepository) path(symbol string) string {
	return filepath.Join(r.root, symbol, checkpointFileName)
}
