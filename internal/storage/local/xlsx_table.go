package local

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/profile-email-enricher/internal/enricher"
	"github.com/JakeFAU/profile-email-enricher/internal/storage/tabular"
)

// headerRow is the 1-based worksheet row holding column names.
const headerRow = 1

// XLSXTable reads rows from a workbook and writes Status and Email cells back.
// Other cells are never touched, so formatting and typed values survive.
type XLSXTable struct {
	path         string
	sheet        string
	saveEveryRow bool
	file         *excelize.File
	layout       *tabular.Layout
	rowCount     int
	logger       *zap.Logger
}

// NewXLSXTable creates an XLSXTable for cfg.Path.
func NewXLSXTable(cfg Config, logger *zap.Logger) *XLSXTable {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &XLSXTable{
		path:         cfg.Path,
		sheet:        cfg.Sheet,
		saveEveryRow: cfg.SaveEveryRow,
		logger:       logger,
	}
}

// Path returns the backing file.
func (t *XLSXTable) Path() string {
	return t.path
}

// ReadRows opens the workbook and loads every data row of the selected sheet.
func (t *XLSXTable) ReadRows(_ context.Context) ([]enricher.Row, error) {
	f, err := excelize.OpenFile(t.path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", t.path, err)
	}
	if t.sheet == "" {
		t.sheet = f.GetSheetName(0)
	}
	records, err := f.GetRows(t.sheet)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("read sheet %q: %w", t.sheet, err)
	}
	t.file = f
	if len(records) == 0 {
		return nil, nil
	}

	layout, err := tabular.NewLayout(records[0])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t.path, err)
	}
	rows := make([]enricher.Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		rows = append(rows, layout.Decode(rec))
	}
	t.layout = layout
	t.rowCount = len(rows)
	t.logger.Info("loaded workbook",
		zap.String("path", t.path),
		zap.String("sheet", t.sheet),
		zap.Int("rows", len(rows)),
	)
	return rows, nil
}

// Persist writes rows[i] and saves the workbook when SaveEveryRow is set.
func (t *XLSXTable) Persist(_ context.Context, rows []enricher.Row, i int) error {
	if !t.saveEveryRow {
		return nil
	}
	if err := t.ready(rows); err != nil {
		return err
	}
	if err := t.setRow(i, rows[i]); err != nil {
		return err
	}
	return t.save()
}

// Flush writes every row and saves the workbook.
func (t *XLSXTable) Flush(_ context.Context, rows []enricher.Row) error {
	if err := t.ready(rows); err != nil {
		return err
	}
	for i, row := range rows {
		if err := t.setRow(i, row); err != nil {
			return err
		}
	}
	if err := t.save(); err != nil {
		return err
	}
	t.logger.Info("saved workbook", zap.String("path", t.path))
	return nil
}

// Close releases the workbook.
func (t *XLSXTable) Close() error {
	if t.file == nil {
		return nil
	}
	if err := t.file.Close(); err != nil {
		return fmt.Errorf("close workbook: %w", err)
	}
	t.file = nil
	return nil
}

func (t *XLSXTable) ready(rows []enricher.Row) error {
	if t.file == nil || t.layout == nil {
		return errNotLoaded
	}
	if len(rows) != t.rowCount {
		return fmt.Errorf("row count changed: loaded %d, got %d", t.rowCount, len(rows))
	}
	return nil
}

func (t *XLSXTable) setRow(i int, row enricher.Row) error {
	status := ""
	if row.Done() {
		status = string(enricher.StatusDone)
	}
	cells := map[string]string{
		tabular.ColStatus: status,
		tabular.ColEmail:  row.Email,
	}
	for column, value := range cells {
		col, _ := t.layout.Index(column)
		if err := t.setCell(col, headerRow, column); err != nil {
			return err
		}
		if err := t.setCell(col, headerRow+1+i, value); err != nil {
			return err
		}
	}
	return nil
}

func (t *XLSXTable) setCell(col, row int, value string) error {
	cell, err := excelize.CoordinatesToCellName(col+1, row)
	if err != nil {
		return fmt.Errorf("cell name: %w", err)
	}
	if err := t.file.SetCellStr(t.sheet, cell, value); err != nil {
		return fmt.Errorf("set %s!%s: %w", t.sheet, cell, err)
	}
	return nil
}

func (t *XLSXTable) save() error {
	if err := t.file.SaveAs(t.path); err != nil {
		return fmt.Errorf("save workbook %s: %w", t.path, err)
	}
	return nil
}
