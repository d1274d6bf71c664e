// Package tabular maps header-addressed table records to enricher rows.
package tabular

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/profile-email-enricher/internal/enricher"
)

// Column names used by the input and output tables.
const (
	ColUsername   = "Username"
	ColUserID     = "User ID"
	ColProfileURL = "Profile URL"
	ColStatus     = "Status"
	ColEmail      = "Email"
)

// ErrMissingColumn is returned when a required input column is absent.
var ErrMissingColumn = errors.New("missing required column")

// OutputHeader is the header row of an append-only results sheet.
var OutputHeader = []string{ColUsername, ColUserID, ColProfileURL, ColEmail}

var requiredColumns = []string{ColUsername, ColUserID, ColProfileURL}

// Layout resolves column positions from a header row.
// Status and Email are appended to the header when missing.
type Layout struct {
	header []string
	index  map[string]int
}

// NewLayout builds a Layout from header cells. Matching ignores surrounding
// whitespace and a UTF-8 byte order mark on the first cell.
func NewLayout(header []string) (*Layout, error) {
	l := &Layout{index: make(map[string]int, len(header)+2)}
	for i, cell := range header {
		name := strings.TrimSpace(strings.TrimPrefix(cell, "\ufeff"))
		l.header = append(l.header, name)
		if _, dup := l.index[name]; !dup && name != "" {
			l.index[name] = i
		}
	}
	for _, col := range requiredColumns {
		if _, ok := l.index[col]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingColumn, col)
		}
	}
	for _, col := range []string{ColStatus, ColEmail} {
		if _, ok := l.index[col]; !ok {
			l.index[col] = len(l.header)
			l.header = append(l.header, col)
		}
	}
	return l, nil
}

// Header returns the full header, including any appended columns.
func (l *Layout) Header() []string {
	return append([]string(nil), l.header...)
}

// Width is the number of columns in the header.
func (l *Layout) Width() int {
	return len(l.header)
}

// Index returns the zero-based position of a column.
func (l *Layout) Index(column string) (int, bool) {
	i, ok := l.index[column]
	return i, ok
}

// Decode converts a record into a Row. Short records read as blank cells.
func (l *Layout) Decode(record []string) enricher.Row {
	return enricher.Row{
		Username:   l.cell(record, ColUsername),
		UserID:     l.cell(record, ColUserID),
		ProfileURL: l.cell(record, ColProfileURL),
		Status:     enricher.ParseStatus(l.cell(record, ColStatus)),
		Email:      l.cell(record, ColEmail),
	}
}

// Encode writes the row's Status and Email onto a copy of record padded to the
// header width. Other cells, including unknown columns and cells past the
// header on ragged records, are kept as they were.
func (l *Layout) Encode(row enricher.Row, record []string) []string {
	out := make([]string, max(len(record), l.Width()))
	copy(out, record)
	status := ""
	if row.Done() {
		status = string(enricher.StatusDone)
	}
	out[l.index[ColStatus]] = status
	out[l.index[ColEmail]] = row.Email
	return out
}

func (l *Layout) cell(record []string, column string) string {
	i := l.index[column]
	if i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// OutputRecord renders a resolved row for an append-only results sheet.
func OutputRecord(row enricher.Row) []string {
	return []string{row.Username, row.UserID, row.ProfileURL, row.Email}
}
