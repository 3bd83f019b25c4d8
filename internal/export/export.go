// Package export writes the gated records of a batch run to CSV or XLSX
// for downstream accounting tools. Only successful items with a record
// are exported; skipped and failed items stay in the report.
package export

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/docingest/internal/model"
)

var header = []string{"date", "vendor", "description", "category", "amount", "confidence", "needs_review"}

// Exportable filters a report's items down to those with an extracted
// record, preserving input order.
func Exportable(results []model.ItemResult) []model.ItemResult {
	out := make([]model.ItemResult, 0, len(results))
	for _, res := range results {
		if res.Success && res.Record != nil {
			out = append(out, res)
		}
	}
	return out
}

func rowFor(res model.ItemResult) []string {
	rec := res.Record
	needsReview := res.Decision != nil && res.Decision.NeedsReview
	return []string{
		rec.Date,
		rec.Vendor,
		rec.Description,
		rec.Category,
		strconv.FormatFloat(rec.Amount, 'f', 2, 64),
		strconv.FormatFloat(rec.Confidence, 'f', 2, 64),
		strconv.FormatBool(needsReview),
	}
}

// WriteCSV writes the exportable records to w with a header row.
func WriteCSV(w io.Writer, results []model.ItemResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for _, res := range Exportable(results) {
		if err := cw.Write(rowFor(res)); err != nil {
			return eris.Wrapf(err, "export: write csv row for %s", res.Name)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

// SaveCSV writes the exportable records to a file at path.
func SaveCSV(path string, results []model.ItemResult) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "export: create csv file")
	}
	if err := WriteCSV(f, results); err != nil {
		f.Close()
		return err
	}
	return eris.Wrap(f.Close(), "export: close csv file")
}

// SaveXLSX writes the exportable records to an XLSX workbook at path,
// on a single sheet named "records".
func SaveXLSX(path string, results []model.ItemResult) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("records")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	hr := sheet.AddRow()
	for _, h := range header {
		hr.AddCell().SetString(h)
	}

	for _, res := range Exportable(results) {
		rec := res.Record
		row := sheet.AddRow()
		row.AddCell().SetString(rec.Date)
		row.AddCell().SetString(rec.Vendor)
		row.AddCell().SetString(rec.Description)
		row.AddCell().SetString(rec.Category)
		row.AddCell().SetFloatWithFormat(rec.Amount, "0.00")
		row.AddCell().SetFloatWithFormat(rec.Confidence, "0.00")
		needsReview := res.Decision != nil && res.Decision.NeedsReview
		row.AddCell().SetString(strconv.FormatBool(needsReview))
	}

	return eris.Wrap(f.Save(path), "export: save xlsx")
}
