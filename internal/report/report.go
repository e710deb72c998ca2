// Package report exports closed cash sessions as a spreadsheet.
package report

import (
	"fmt"
	"io"
	"time"

	"kasa-backend/internal/models"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const SheetName = "Kasa Oturumları"

var headers = []string{
	"Oturum", "Kasiyer", "Açılış", "Kapanış", "Açılış Nakit",
	"Beklenen", "Sayılan", "Fark", "Durum", "Otomatik", "Kapatan", "Hareket",
}

// Write renders sessions, one row each, into an xlsx workbook on w. Times are
// shown in loc.
func Write(w io.Writer, sessions []models.CashSession, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	money, err := f.NewStyle(&excelize.Style{NumFmt: 4}) // #,##0.00
	if err != nil {
		return err
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(SheetName, cell, h); err != nil {
			return err
		}
	}
	lastCol, _ := excelize.ColumnNumberToName(len(headers))
	if err := f.SetCellStyle(SheetName, "A1", lastCol+"1", bold); err != nil {
		return err
	}

	for i, s := range sessions {
		row := i + 2
		closedAt := ""
		if s.ClosedAt != nil {
			closedAt = s.ClosedAt.In(loc).Format("2006-01-02 15:04")
		}
		auto := "Hayır"
		if s.AutoClosed {
			auto = "Evet"
		}
		values := []any{
			s.ID,
			s.CashierName,
			s.OpenedAt.In(loc).Format("2006-01-02 15:04"),
			closedAt,
			amount(s.OpeningCash),
			nullAmount(s.ExpectedCash),
			nullAmount(s.CountedCash),
			nullAmount(s.Difference),
			outcomeLabel(s.Outcome),
			auto,
			s.ClosedBy,
			len(s.Movements),
		}
		start, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(SheetName, start, &values); err != nil {
			return fmt.Errorf("row %d: %w", row, err)
		}
		from, _ := excelize.CoordinatesToCellName(5, row)
		to, _ := excelize.CoordinatesToCellName(8, row)
		if err := f.SetCellStyle(SheetName, from, to, money); err != nil {
			return err
		}
	}

	_ = f.SetColWidth(SheetName, "A", "A", 38)
	_ = f.SetColWidth(SheetName, "B", "D", 18)
	_ = f.SetColWidth(SheetName, "E", "L", 13)

	_, err = f.WriteTo(w)
	return err
}

func amount(d decimal.Decimal) float64 {
	v, _ := d.Round(2).Float64()
	return v
}

func nullAmount(d decimal.NullDecimal) any {
	if !d.Valid {
		return ""
	}
	return amount(d.Decimal)
}

func outcomeLabel(o models.CountOutcome) string {
	switch o {
	case models.OutcomeBalanced:
		return "Denk"
	case models.OutcomeSurplus:
		return "Fazla"
	case models.OutcomeShortfall:
		return "Eksik"
	default:
		return ""
	}
}

// Filename builds the download name for a date range.
func Filename(from, to time.Time) string {
	return fmt.Sprintf("kasa-oturumlari_%s_%s.xlsx", from.Format("20060102"), to.Format("20060102"))
}
