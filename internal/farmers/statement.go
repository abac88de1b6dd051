package farmers

import (
	"context"
	"io"

	"olive-backend/internal/models"
	"olive-backend/internal/money"

	"github.com/xuri/excelize/v2"
)

const (
	sessionsSheet     = "Sessions"
	transactionsSheet = "Transactions"
)

// Statement is everything printed on a farmer's account statement.
type Statement struct {
	Farmer       models.Farmer
	Sessions     []models.ProcessingSession
	Transactions []models.Transaction
}

func (s *Service) Statement(ctx context.Context, id uint) (*Statement, error) {
	sum, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	st := &Statement{Farmer: sum.Farmer}
	db := s.run.DB(ctx)
	if err := db.Where("farmer_id = ?", id).Order("created_at, id").Find(&st.Sessions).Error; err != nil {
		return nil, err
	}
	if err := db.Where("farmer_id = ?", id).Order("date, id").Find(&st.Transactions).Error; err != nil {
		return nil, err
	}
	return st, nil
}

// WriteXLSX renders the statement as a two-sheet workbook.
func (st *Statement) WriteXLSX(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sessionsSheet); err != nil {
		return err
	}
	rows := [][]any{
		{st.Farmer.Name, st.Farmer.Phone},
		{"Due", money.Format(st.Farmer.TotalAmountDue), "Paid", money.Format(st.Farmer.TotalAmountPaid), "Status", string(st.Farmer.PaymentStatus)},
		{},
		{"Session", "Created", "Boxes", "Olives (kg)", "Oil (kg)", "Price/kg", "Total", "Paid", "Remaining", "Processing", "Payment"},
	}
	for _, sess := range st.Sessions {
		rows = append(rows, []any{
			sess.SessionNumber,
			sess.CreatedAt.Format("2006-01-02"),
			sess.BoxCount,
			money.Format(sess.TotalBoxWeight),
			formatOptional(money.FormatPtr(sess.OilWeight)),
			formatOptional(money.FormatPtr(sess.PricePerKg)),
			formatOptional(money.FormatPtr(sess.TotalPrice)),
			money.Format(sess.AmountPaid),
			money.Format(sess.RemainingAmount),
			string(sess.ProcessingStatus),
			string(sess.PaymentStatus),
		})
	}
	if err := writeRows(f, sessionsSheet, rows); err != nil {
		return err
	}

	if _, err := f.NewSheet(transactionsSheet); err != nil {
		return err
	}
	rows = [][]any{{"Date", "Type", "Amount", "Description"}}
	for _, t := range st.Transactions {
		rows = append(rows, []any{t.Date.Format("2006-01-02"), string(t.Type), money.Format(t.Amount), t.Description})
	}
	if err := writeRows(f, transactionsSheet, rows); err != nil {
		return err
	}

	_, err := f.WriteTo(w)
	return err
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

func formatOptional(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
