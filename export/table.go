package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/phpdave11/gofpdf"
)

// Table is a parsed CSV export.
type Table struct {
	Header []string
	Rows   [][]string
}

// ParseCSV reads an export. The first record is the header; rows shorter or
// longer than it are padded or cut to its width.
func ParseCSV(data []byte) (Table, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return Table{}, fmt.Errorf("export: parse csv: %w", err)
	}
	if len(records) == 0 {
		return Table{}, nil
	}

	t := Table{Header: records[0], Rows: make([][]string, 0, len(records)-1)}
	for _, rec := range records[1:] {
		row := make([]string, len(t.Header))
		copy(row, rec)
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// Column returns the values of the named column, or nil when there is none.
func (t Table) Column(name string) []string {
	idx := -1
	for i, h := range t.Header {
		if h == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	out := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out
}

const (
	pdfRowHeight = 6.0
	pdfMargin    = 10.0
)

// RenderPDF writes t as a landscape A4 table under title.
func RenderPDF(w io.Writer, title string, t Table) error {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetTitle(title, false)
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(true, pdfMargin)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, title)
	pdf.Ln(12)

	if len(t.Header) == 0 {
		pdf.SetFont("Helvetica", "I", 11)
		pdf.Cell(0, pdfRowHeight, "No records in this range.")
	} else {
		pageWidth, _ := pdf.GetPageSize()
		colWidth := (pageWidth - 2*pdfMargin) / float64(len(t.Header))

		header := func() {
			pdf.SetFont("Helvetica", "B", 9)
			pdf.SetFillColor(230, 230, 230)
			for _, h := range t.Header {
				pdf.CellFormat(colWidth, pdfRowHeight, fit(pdf, h, colWidth), "1", 0, "L", true, 0, "")
			}
			pdf.Ln(-1)
			pdf.SetFont("Helvetica", "", 9)
		}
		pdf.SetHeaderFunc(func() {
			if pdf.PageNo() > 1 {
				header()
			}
		})

		header()
		for _, row := range t.Rows {
			for _, cell := range row {
				pdf.CellFormat(colWidth, pdfRowHeight, fit(pdf, cell, colWidth), "1", 0, "L", false, 0, "")
			}
			pdf.Ln(-1)
		}
	}

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "I", 8)
	pdf.Cell(0, 5, fmt.Sprintf("%d records", len(t.Rows)))

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("export: render pdf: %w", err)
	}
	return nil
}

// fit cuts s so it fits in width, marking the cut with "...".
func fit(pdf *gofpdf.Fpdf, s string, width float64) string {
	limit := width - 2
	if pdf.GetStringWidth(s) <= limit {
		return s
	}
	r := []rune(s)
	for len(r) > 0 && pdf.GetStringWidth(string(r)+"...") > limit {
		r = r[:len(r)-1]
	}
	return strings.TrimSpace(string(r)) + "..."
}
