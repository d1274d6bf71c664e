// Package local implements enrichment tables backed by files on local disk.
package local

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/profile-email-enricher/internal/enricher"
)

// ErrUnsupportedFormat is returned for file extensions without a table implementation.
var ErrUnsupportedFormat = errors.New("unsupported table format")

var errNotLoaded = errors.New("table not loaded")

// Config captures the parameters for a local table.
type Config struct {
	// Path is the input file. Results are written back to the same file.
	Path string `mapstructure:"path" yaml:"path"`
	// Sheet selects the worksheet of a workbook. Empty means the first sheet.
	Sheet string `mapstructure:"sheet" yaml:"sheet"`
	// SaveEveryRow rewrites the file after each resolved row instead of only at run end.
	SaveEveryRow bool `mapstructure:"save_every_row" yaml:"save_every_row"`
}

// FileTable is a local table that must be closed after the run.
type FileTable interface {
	enricher.Table
	Path() string
	Close() error
}

// Open returns the table implementation matching the file extension.
func Open(cfg Config, logger *zap.Logger) (FileTable, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("input path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	switch ext := strings.ToLower(filepath.Ext(cfg.Path)); ext {
	case ".csv":
		return NewCSVTable(cfg, logger), nil
	case ".xlsx", ".xlsm":
		return NewXLSXTable(cfg, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// writeFileAtomic replaces path with data by renaming a sibling temp file over it.
func writeFileAtomic(path string, write func(f *os.File) error) error {
	mode := os.FileMode(0o600)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpName)
	}

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
