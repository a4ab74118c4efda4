package leadstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/shineum/outreach-mailer/internal/lead"
)

// Workbook is a Store over one sheet of an .xlsx file. The header row is
// row 1; lead rows follow. Columns are located by normalised header name,
// so their order is free and unrecognised columns are left alone.
//
// The file is reopened on every call so edits made between runs are seen.
type Workbook struct {
	mu    sync.Mutex
	path  string
	sheet string
}

// OpenWorkbook returns a Workbook for the sheet at path. The file must exist.
func OpenWorkbook(path, sheet string) (*Workbook, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("lead workbook: %w", err)
	}
	if sheet == "" {
		return nil, errors.New("lead workbook: sheet name is empty")
	}
	return &Workbook{path: path, sheet: sheet}, nil
}

// ReadAll returns the leads in sheet order. Fully blank rows are skipped.
// Recognised columns missing from the header read as empty and are logged.
func (w *Workbook) ReadAll(ctx context.Context) ([]lead.Lead, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := excelize.OpenFile(w.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", w.path, err)
	}
	defer f.Close()

	rows, err := f.GetRows(w.sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", w.sheet, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	cols := headerColumns(rows[0])
	if missing := missingFields(cols); len(missing) > 0 {
		slog.Warn("lead sheet is missing columns", "sheet", w.sheet, "missing", missing)
	}

	var leads []lead.Lead
	for i, row := range rows[1:] {
		if blankRow(row) {
			continue
		}
		values := make(map[lead.Field]string, len(cols))
		for field, j := range cols {
			if j < len(row) {
				values[field] = row[j]
			}
		}
		leads = append(leads, lead.FromValues(i+2, values))
	}
	return leads, nil
}

// Write applies all updates and saves the file once. A recognised field
// with no column gets one appended to the header row.
func (w *Workbook) Write(ctx context.Context, updates []lead.Update) error {
	if len(updates) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := excelize.OpenFile(w.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", w.path, err)
	}
	defer f.Close()

	rows, err := f.GetRows(w.sheet)
	if err != nil {
		return fmt.Errorf("read sheet %q: %w", w.sheet, err)
	}
	var header []string
	if len(rows) > 0 {
		header = rows[0]
	}
	cols := headerColumns(header)
	width := usedWidth(rows)

	for _, u := range updates {
		if u.Row < 2 {
			return fmt.Errorf("update targets row %d: lead rows start at 2", u.Row)
		}
		if len(u.Fields) != len(u.Values) {
			return fmt.Errorf("update for row %d has %d fields and %d values", u.Row, len(u.Fields), len(u.Values))
		}

		lo, hi := -1, -1
		for k, field := range u.Fields {
			j, ok := cols[field]
			if !ok {
				j = width
				width++
				cols[field] = j
				if err := setCell(f, w.sheet, j, 1, string(field)); err != nil {
					return err
				}
				slog.Info("added lead column", "sheet", w.sheet, "column", string(field))
			}
			if err := setCell(f, w.sheet, j, u.Row, u.Values[k]); err != nil {
				return err
			}
			if lo < 0 || j < lo {
				lo = j
			}
			if j > hi {
				hi = j
			}
		}
		slog.Debug("lead row updated", "range", a1Range(w.sheet, u.Row, lo, hi))
	}

	if err := f.Save(); err != nil {
		return fmt.Errorf("save %s: %w", w.path, err)
	}
	return nil
}

// usedWidth is the number of columns in use on any row. New columns go
// after it so an unlabelled data column is never overwritten.
func usedWidth(rows [][]string) int {
	width := 0
	for _, row := range rows {
		width = max(width, len(row))
	}
	return width
}

// headerColumns maps each recognised field to its 0-based column. The first
// occurrence of a duplicated header wins.
func headerColumns(header []string) map[lead.Field]int {
	known := make(map[string]lead.Field, len(lead.Fields))
	for _, f := range lead.Fields {
		known[string(f)] = f
	}

	cols := make(map[lead.Field]int, len(lead.Fields))
	for j, h := range header {
		f, ok := known[lead.NormalizeHeader(h)]
		if !ok {
			continue
		}
		if _, dup := cols[f]; !dup {
			cols[f] = j
		}
	}
	return cols
}

func missingFields(cols map[lead.Field]int) []string {
	var missing []string
	for _, f := range lead.Fields {
		if _, ok := cols[f]; !ok {
			missing = append(missing, string(f))
		}
	}
	return missing
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func setCell(f *excelize.File, sheet string, col, row int, value string) error {
	cell, err := excelize.CoordinatesToCellName(col+1, row)
	if err != nil {
		return err
	}
	if err := f.SetCellValue(sheet, cell, value); err != nil {
		return fmt.Errorf("set %s!%s: %w", sheet, cell, err)
	}
	return nil
}

// a1Range renders the span of 0-based columns lo..hi on row, e.g. Sheet1!E5:G5.
func a1Range(sheet string, row, lo, hi int) string {
	if lo < 0 {
		return sheet
	}
	from, _ := excelize.CoordinatesToCellName(lo+1, row)
	if hi == lo {
		return sheet + "!" + from
	}
	to, _ := excelize.CoordinatesToCellName(hi+1, row)
	return sheet + "!" + from + ":" + to
}
