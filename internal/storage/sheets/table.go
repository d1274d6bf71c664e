// Package sheets implements the enrichment source and sink on Google Sheets.
// Input rows are read from a range; resolved rows are appended to an output sheet.
package sheets

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/profile-email-enricher/internal/enricher"
	"github.com/JakeFAU/profile-email-enricher/internal/storage/tabular"
)

// Defaults for the sheet layout.
const (
	DefaultInputRange  = "Sheet1!A1:C"
	DefaultOutputSheet = "Sheet2"
)

// Config selects the spreadsheet and its input and output areas.
type Config struct {
	SpreadsheetID   string `mapstructure:"spreadsheet_id" yaml:"spreadsheet_id"`
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file"`
	InputRange      string `mapstructure:"input_range" yaml:"input_range"`
	OutputSheet     string `mapstructure:"output_sheet" yaml:"output_sheet"`
	// ResumeFromOutput marks input rows already present in the output sheet as done.
	ResumeFromOutput bool `mapstructure:"resume_from_output" yaml:"resume_from_output"`
}

// Table reads from an input range and appends resolved rows to an output sheet.
type Table struct {
	api         API
	cfg         Config
	outputReady bool
	// nextRow is the 1-based output line for the next append; zero until counted.
	nextRow int
	logger  *zap.Logger
}

// New creates a Table. Empty range and sheet names fall back to the defaults.
func New(api API, cfg Config, logger *zap.Logger) (*Table, error) {
	if api == nil {
		return nil, fmt.Errorf("sheets api is required")
	}
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, fmt.Errorf("sheets.spreadsheet_id is required")
	}
	if cfg.InputRange == "" {
		cfg.InputRange = DefaultInputRange
	}
	if cfg.OutputSheet == "" {
		cfg.OutputSheet = DefaultOutputSheet
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Table{api: api, cfg: cfg, logger: logger}, nil
}

// ReadRows loads the input range. The first record is the header.
func (t *Table) ReadRows(ctx context.Context) ([]enricher.Row, error) {
	records, err := t.api.GetValues(ctx, t.cfg.SpreadsheetID, t.cfg.InputRange)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	layout, err := tabular.NewLayout(records[0])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t.cfg.InputRange, err)
	}
	rows := make([]enricher.Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		rows = append(rows, layout.Decode(rec))
	}
	t.logger.Info("loaded input range",
		zap.String("range", t.cfg.InputRange),
		zap.Int("rows", len(rows)),
	)

	if t.cfg.ResumeFromOutput {
		if err := t.markResolved(ctx, rows); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// markResolved flags rows whose User ID, or Username when the ID is blank,
// already has a line in the output sheet.
func (t *Table) markResolved(ctx context.Context, rows []enricher.Row) error {
	exists, err := t.outputExists(ctx)
	if err != nil || !exists {
		return err
	}
	records, err := t.api.GetValues(ctx, t.cfg.SpreadsheetID, t.cfg.OutputSheet+"!A:D")
	if err != nil {
		return err
	}
	if len(records) < 2 {
		return nil
	}
	layout, err := tabular.NewLayout(records[0])
	if err != nil {
		return fmt.Errorf("output sheet %s: %w", t.cfg.OutputSheet, err)
	}
	emails := make(map[string]string, len(records)-1)
	for _, rec := range records[1:] {
		prev := layout.Decode(rec)
		if prev.Email == "" {
			continue
		}
		emails[resumeKey(prev)] = prev.Email
	}
	marked := 0
	for i := range rows {
		if rows[i].Done() {
			continue
		}
		if email, ok := emails[resumeKey(rows[i])]; ok {
			rows[i].Status = enricher.StatusDone
			rows[i].Email = email
			marked++
		}
	}
	t.logger.Info("resumed from output sheet",
		zap.String("sheet", t.cfg.OutputSheet),
		zap.Int("already_resolved", marked),
	)
	return nil
}

func resumeKey(row enricher.Row) string {
	if row.UserID != "" {
		return "id:" + row.UserID
	}
	return "user:" + strings.ToLower(row.Username)
}

// Persist appends rows[i] after the last populated line of the output sheet.
func (t *Table) Persist(ctx context.Context, rows []enricher.Row, i int) error {
	if i < 0 || i >= len(rows) {
		return fmt.Errorf("row index %d out of range", i)
	}
	if err := t.ensureOutput(ctx); err != nil {
		return err
	}
	if t.nextRow == 0 {
		// Count across every output column; a line with a blank Username is still occupied.
		records, err := t.api.GetValues(ctx, t.cfg.SpreadsheetID, t.cfg.OutputSheet+"!A:D")
		if err != nil {
			return err
		}
		t.nextRow = len(records) + 1
	}
	rng := fmt.Sprintf("%s!A%d:D%d", t.cfg.OutputSheet, t.nextRow, t.nextRow)
	if err := t.api.UpdateValues(ctx, t.cfg.SpreadsheetID, rng, [][]string{tabular.OutputRecord(rows[i])}); err != nil {
		return err
	}
	t.nextRow++
	t.logger.Debug("appended row", zap.String("range", rng), zap.String("username", rows[i].Username))
	return nil
}

// Flush is a no-op; every resolved row is written by Persist.
func (t *Table) Flush(context.Context, []enricher.Row) error {
	return nil
}

func (t *Table) ensureOutput(ctx context.Context) error {
	if t.outputReady {
		return nil
	}
	exists, err := t.outputExists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		t.logger.Info("creating output sheet", zap.String("sheet", t.cfg.OutputSheet))
		if err := t.api.AddSheet(ctx, t.cfg.SpreadsheetID, t.cfg.OutputSheet); err != nil {
			return err
		}
	}
	header := t.cfg.OutputSheet + "!A1:D1"
	if err := t.api.UpdateValues(ctx, t.cfg.SpreadsheetID, header, [][]string{tabular.OutputHeader}); err != nil {
		return err
	}
	t.outputReady = true
	return nil
}

func (t *Table) outputExists(ctx context.Context) (bool, error) {
	titles, err := t.api.SheetTitles(ctx, t.cfg.SpreadsheetID)
	if err != nil {
		return false, err
	}
	return slices.Contains(titles, t.cfg.OutputSheet), nil
}
