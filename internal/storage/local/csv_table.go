package local

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/JakeFAU/profile-email-enricher/internal/enricher"
	"github.com/JakeFAU/profile-email-enricher/internal/storage/tabular"
)

// CSVTable reads rows from a CSV file and rewrites the file in place.
type CSVTable struct {
	path         string
	saveEveryRow bool
	layout       *tabular.Layout
	records      [][]string
	logger       *zap.Logger
}

// NewCSVTable creates a CSVTable for cfg.Path.
func NewCSVTable(cfg Config, logger *zap.Logger) *CSVTable {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CSVTable{
		path:         cfg.Path,
		saveEveryRow: cfg.SaveEveryRow,
		logger:       logger,
	}
}

// Path returns the backing file.
func (t *CSVTable) Path() string {
	return t.path
}

// ReadRows loads every data row. An empty file yields no rows.
func (t *CSVTable) ReadRows(_ context.Context) ([]enricher.Row, error) {
	f, err := os.Open(t.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", t.path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			t.logger.Warn("close csv failed", zap.Error(cerr))
		}
	}()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	layout, err := tabular.NewLayout(header)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t.path, err)
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv records: %w", err)
	}

	rows := make([]enricher.Row, 0, len(records))
	for _, rec := range records {
		rows = append(rows, layout.Decode(rec))
	}
	t.layout = layout
	t.records = records
	t.logger.Info("loaded csv table", zap.String("path", t.path), zap.Int("rows", len(rows)))
	return rows, nil
}

// Persist rewrites the file when SaveEveryRow is set.
func (t *CSVTable) Persist(_ context.Context, rows []enricher.Row, _ int) error {
	if !t.saveEveryRow {
		return nil
	}
	return t.write(rows)
}

// Flush rewrites the file with the current state of every row.
func (t *CSVTable) Flush(_ context.Context, rows []enricher.Row) error {
	if err := t.write(rows); err != nil {
		return err
	}
	t.logger.Info("saved csv table", zap.String("path", t.path))
	return nil
}

// Close is a no-op; the file is only held open while reading or writing.
func (t *CSVTable) Close() error {
	return nil
}

func (t *CSVTable) write(rows []enricher.Row) error {
	if t.layout == nil {
		return errNotLoaded
	}
	if len(rows) != len(t.records) {
		return fmt.Errorf("row count changed: loaded %d, got %d", len(t.records), len(rows))
	}
	return writeFileAtomic(t.path, func(f *os.File) error {
		w := csv.NewWriter(f)
		if err := w.Write(t.layout.Header()); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
		for i, row := range rows {
			if err := w.Write(t.layout.Encode(row, t.records[i])); err != nil {
				return fmt.Errorf("write csv record %d: %w", i, err)
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return fmt.Errorf("flush csv: %w", err)
		}
		return nil
	})
}
