package boxes

import (
	"context"
	"fmt"
	"io"
	"strings"

	"olive-backend/internal/apperr"
	"olive-backend/internal/models"
	"olive-backend/internal/money"

	"github.com/xuri/excelize/v2"
)

// ImportIntake reads an intake worksheet (columns: box id, type, weight) and
// bulk-assigns its rows to farmerID. Rows that cannot be parsed are reported
// as failed items with their row number; the rest go through BulkAssign.
func (s *Service) ImportIntake(ctx context.Context, farmerID uint, r io.Reader) (*BulkResult, error) {
	items, rowErrs, err := ParseIntakeSheet(r)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, apperr.Validation("worksheet contains no usable rows").WithDetails(reasons(rowErrs)...)
	}

	res, err := s.BulkAssign(ctx, farmerID, items)
	if res == nil {
		return nil, err
	}
	res.Failed = append(rowErrs, res.Failed...)
	if err != nil {
		return res, apperr.Validation("none of the worksheet boxes could be assigned").WithDetails(reasons(res.Failed)...)
	}
	return res, nil
}

// ParseIntakeSheet extracts assign items from the first sheet of an XLSX file.
// A header row is recognised by a non-id first cell such as "box" or "id".
func ParseIntakeSheet(r io.Reader) ([]AssignItem, []ItemError, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, apperr.Validation("worksheet could not be read: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, apperr.Validation("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, apperr.Validation("sheet %s could not be read: %v", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, nil, apperr.Validation("worksheet is empty")
	}

	start := 0
	if isHeaderRow(rows[0]) {
		start = 1
	}

	var items []AssignItem
	var failed []ItemError
	for i := start; i < len(rows); i++ {
		row := rows[i]
		rowNo := i + 1
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		id := strings.TrimSpace(row[0])

		var typ, weight string
		switch len(row) {
		case 1:
		case 2:
			weight = row[1]
		default:
			typ, weight = row[1], row[2]
		}

		item := AssignItem{BoxID: id, Type: models.BoxType(strings.ToLower(strings.TrimSpace(typ)))}
		if item.Type != "" && !item.Type.Valid() {
			failed = append(failed, ItemError{BoxID: id, Row: rowNo, Reason: fmt.Sprintf("unknown box type %q", typ)})
			continue
		}
		w, err := money.Parse(strings.ReplaceAll(strings.TrimSpace(weight), ",", "."))
		if err != nil {
			failed = append(failed, ItemError{BoxID: id, Row: rowNo, Reason: fmt.Sprintf("invalid weight %q", weight)})
			continue
		}
		item.Weight = w
		items = append(items, item)
	}
	return items, failed, nil
}

func isHeaderRow(row []string) bool {
	if len(row) == 0 {
		return false
	}
	first := strings.ToLower(strings.TrimSpace(row[0]))
	return strings.Contains(first, "box") || first == "id" || strings.Contains(first, "caisse")
}

func reasons(errs []ItemError) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		if e.Row > 0 {
			out = append(out, fmt.Sprintf("row %d %s: %s", e.Row, e.BoxID, e.Reason))
		} else {
			out = append(out, fmt.Sprintf("%s: %s", e.BoxID, e.Reason))
		}
	}
	return out
}
