// Package sheets exports one human-readable row per chat session to a
// spreadsheet. The export is best effort and never authoritative.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

// Sheet is the spreadsheet boundary: append a row, read every row, overwrite
// one row by its 1-based number.
type Sheet interface {
	AppendRow(ctx context.Context, row []any) error
	ReadAll(ctx context.Context) ([][]string, error)
	UpdateRow(ctx context.Context, rowNumber int, row []any) error
}

// GoogleOptions configures a GoogleSheet.
type GoogleOptions struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON []byte
	CredentialsFile string
	// ClientOptions are appended after the credential options.
	ClientOptions []option.ClientOption
}

// GoogleSheet implements Sheet on the Google Sheets v4 API.
type GoogleSheet struct {
	values        *gsheets.SpreadsheetsValuesService
	spreadsheetID string
	sheetName     string
}

// OpenGoogleSheet connects to the spreadsheet and verifies it can be read.
func OpenGoogleSheet(ctx context.Context, opts GoogleOptions) (*GoogleSheet, error) {
	if opts.SpreadsheetID == "" {
		return nil, errors.New("spreadsheet id required")
	}
	sheetName := opts.SheetName
	if sheetName == "" {
		sheetName = "Sheet1"
	}

	var clientOpts []option.ClientOption
	switch {
	case len(opts.CredentialsJSON) > 0:
		clientOpts = append(clientOpts, option.WithCredentialsJSON(opts.CredentialsJSON))
	case opts.CredentialsFile != "":
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	case len(opts.ClientOptions) == 0:
		return nil, errors.New("google credentials not configured")
	}
	clientOpts = append(clientOpts, option.WithScopes(gsheets.SpreadsheetsScope))
	clientOpts = append(clientOpts, opts.ClientOptions...)

	srv, err := gsheets.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	if _, err := srv.Spreadsheets.Get(opts.SpreadsheetID).Fields("spreadsheetId").Context(ctx).Do(); err != nil {
		return nil, fmt.Errorf("open spreadsheet %s: %w", opts.SpreadsheetID, err)
	}

	return &GoogleSheet{
		values:        srv.Spreadsheets.Values,
		spreadsheetID: opts.SpreadsheetID,
		sheetName:     sheetName,
	}, nil
}

// AppendRow implements Sheet.
func (g *GoogleSheet) AppendRow(ctx context.Context, row []any) error {
	_, err := g.values.Append(g.spreadsheetID, g.sheetName, &gsheets.ValueRange{Values: [][]any{row}}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append row: %w", err)
	}
	return nil
}

// ReadAll implements Sheet.
func (g *GoogleSheet) ReadAll(ctx context.Context) ([][]string, error) {
	resp, err := g.values.Get(g.spreadsheetID, g.sheetName).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	rows := make([][]string, len(resp.Values))
	for i, r := range resp.Values {
		cells := make([]string, len(r))
		for j, c := range r {
			cells[j] = fmt.Sprint(c)
		}
		rows[i] = cells
	}
	return rows, nil
}

// UpdateRow implements Sheet.
func (g *GoogleSheet) UpdateRow(ctx context.Context, rowNumber int, row []any) error {
	rng := fmt.Sprintf("%s!%s", g.sheetName, rowRange(rowNumber, len(row)))
	_, err := g.values.Update(g.spreadsheetID, rng, &gsheets.ValueRange{Values: [][]any{row}}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("update row %d: %w", rowNumber, err)
	}
	return nil
}

// rowRange returns the A1 range covering width cells of row n, e.g. "A3:F3".
func rowRange(n, width int) string {
	if width < 1 {
		width = 1
	}
	var col strings.Builder
	for w := width; w > 0; w = (w - 1) / 26 {
		col.WriteByte(byte('A' + (w-1)%26))
	}
	last := []byte(col.String())
	for i, j := 0, len(last)-1; i < j; i, j = i+1, j-1 {
		last[i], last[j] = last[j], last[i]
	}
	return fmt.Sprintf("A%d:%s%d", n, last, n)
}
