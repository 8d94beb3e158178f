// Package export builds the audit workbook of resolutions and signatures.
package export

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"boardportal/resolution"
)

const (
	SheetResolutions = "Resolutions"
	SheetSignatures  = "Signatures"
)

var resolutionHeader = []string{"ID", "Status", "Meeting Date", "Deadline", "Signed", "Panel Size", "Agreement"}

var signatureHeader = []string{"Resolution ID", "Signatory ID", "Name", "Job Title", "Email", "Signed At", "Signature Hash"}

// Workbook renders the audit export for items.
func Workbook(items []resolution.Resolution) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWorkbook(&buf, items); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWorkbook streams the audit export for items to w.
func WriteWorkbook(w io.Writer, items []resolution.Resolution) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(SheetResolutions)
	if err != nil {
		return fmt.Errorf("export: create sheet: %w", err)
	}
	if _, err := f.NewSheet(SheetSignatures); err != nil {
		return fmt.Errorf("export: create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("export: drop default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return fmt.Errorf("export: header style: %w", err)
	}

	if err := writeRow(f, SheetResolutions, 1, toAny(resolutionHeader), headerStyle); err != nil {
		return err
	}
	if err := writeRow(f, SheetSignatures, 1, toAny(signatureHeader), headerStyle); err != nil {
		return err
	}

	sigRow := 2
	for i, r := range items {
		row := []any{
			r.ID,
			string(r.Status),
			formatTime(r.MeetingDate),
			formatTime(r.DeadlineAt),
			r.SignedCount(),
			len(r.Signatories),
			r.AgreementDetails,
		}
		if err := writeRow(f, SheetResolutions, i+2, row, 0); err != nil {
			return err
		}
		for _, s := range r.Signatories {
			var signedAt, hash string
			if s.SignedAt != nil {
				signedAt = formatTime(*s.SignedAt)
			}
			if s.SignatureHash != nil {
				hash = *s.SignatureHash
			}
			if err := writeRow(f, SheetSignatures, sigRow, []any{r.ID, s.ID, s.Name, s.JobTitle, s.Email, signedAt, hash}, 0); err != nil {
				return err
			}
			sigRow++
		}
	}

	for sheet, widths := range map[string][]float64{
		SheetResolutions: {38, 22, 22, 22, 8, 10, 60},
		SheetSignatures:  {38, 38, 24, 20, 28, 22, 66},
	} {
		for i, width := range widths {
			col, err := excelize.ColumnNumberToName(i + 1)
			if err != nil {
				return fmt.Errorf("export: column name: %w", err)
			}
			if err := f.SetColWidth(sheet, col, col, width); err != nil {
				return fmt.Errorf("export: column width: %w", err)
			}
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("export: write workbook: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any, style int) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("export: cell name: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("export: write %s row %d: %w", sheet, row, err)
	}
	if style == 0 {
		return nil
	}
	last, err := excelize.CoordinatesToCellName(len(values), row)
	if err != nil {
		return fmt.Errorf("export: cell name: %w", err)
	}
	if err := f.SetCellStyle(sheet, cell, last, style); err != nil {
		return fmt.Errorf("export: header style: %w", err)
	}
	return nil
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05Z07:00")
}
