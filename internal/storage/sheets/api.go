package sheets

import (
	"context"
	"fmt"

	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

// API is the subset of the Sheets service used by Table.
type API interface {
	SheetTitles(ctx context.Context, spreadsheetID string) ([]string, error)
	AddSheet(ctx context.Context, spreadsheetID, title string) error
	GetValues(ctx context.Context, spreadsheetID, rng string) ([][]string, error)
	UpdateValues(ctx context.Context, spreadsheetID, rng string, values [][]string) error
}

type googleAPI struct {
	svc *gsheets.Service
}

// NewGoogleAPI builds an API backed by the Sheets v4 REST service.
// A non-empty credentialsFile selects a service-account key; otherwise
// application default credentials and opts apply.
func NewGoogleAPI(ctx context.Context, credentialsFile string, opts ...option.ClientOption) (API, error) {
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &googleAPI{svc: svc}, nil
}

func (g *googleAPI) SheetTitles(ctx context.Context, spreadsheetID string) ([]string, error) {
	doc, err := g.svc.Spreadsheets.Get(spreadsheetID).
		Fields("sheets.properties.title").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("get spreadsheet: %w", err)
	}
	titles := make([]string, 0, len(doc.Sheets))
	for _, s := range doc.Sheets {
		if s.Properties != nil {
			titles = append(titles, s.Properties.Title)
		}
	}
	return titles, nil
}

func (g *googleAPI) AddSheet(ctx context.Context, spreadsheetID, title string) error {
	req := &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{{
			AddSheet: &gsheets.AddSheetRequest{
				Properties: &gsheets.SheetProperties{Title: title},
			},
		}},
	}
	if _, err := g.svc.Spreadsheets.BatchUpdate(spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add sheet %q: %w", title, err)
	}
	return nil
}

func (g *googleAPI) GetValues(ctx context.Context, spreadsheetID, rng string) ([][]string, error) {
	resp, err := g.svc.Spreadsheets.Values.Get(spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get values %s: %w", rng, err)
	}
	out := make([][]string, 0, len(resp.Values))
	for _, row := range resp.Values {
		rec := make([]string, len(row))
		for i, v := range row {
			rec[i] = fmt.Sprint(v)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (g *googleAPI) UpdateValues(ctx context.Context, spreadsheetID, rng string, values [][]string) error {
	vr := &gsheets.ValueRange{Values: make([][]interface{}, 0, len(values))}
	for _, rec := range values {
		row := make([]interface{}, len(rec))
		for i, v := range rec {
			row[i] = v
		}
		vr.Values = append(vr.Values, row)
	}
	_, err := g.svc.Spreadsheets.Values.Update(spreadsheetID, rng, vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("update values %s: %w", rng, err)
	}
	return nil
}
