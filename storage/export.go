package storage

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"

	"olx-watcher/models"
)

var exportHeader = []string{"title", "price", "location", "date", "link", "image_url", "scraped_at", "seen"}

func exportRow(l models.Listing) []string {
	image := ""
	if l.ImageURL != nil {
		image = *l.ImageURL
	}
	return []string{
		l.Title,
		l.Price,
		l.Location,
		l.Date,
		l.Link,
		image,
		l.ScrapedAt.UTC().Format(time.RFC3339),
		strconv.FormatBool(l.Seen),
	}
}

// ExporterFor returns the exporter for "csv" or "excel".
func ExporterFor(format string) (Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "csv":
		return CSVExporter{}, nil
	case "excel", "xlsx":
		return ExcelExporter{}, nil
	default:
		return nil, eris.Errorf("export: unsupported format %q, use csv or excel", format)
	}
}

// CSVExporter writes listings as UTF-8 CSV with a header row.
type CSVExporter struct{}

func (CSVExporter) Export(w io.Writer, listings []models.Listing) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return eris.Wrap(err, "csv: write header")
	}
	for _, l := range listings {
		if err := cw.Write(exportRow(l)); err != nil {
			return eris.Wrap(err, "csv: write row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "csv: flush")
	}
	return nil
}

func (CSVExporter) ContentType() string { return "text/csv; charset=utf-8" }
func (CSVExporter) Extension() string   { return "csv" }

const excelSheet = "Listings"

// ExcelExporter writes listings to a single-sheet xlsx workbook.
type ExcelExporter struct{}

func (ExcelExporter) Export(w io.Writer, listings []models.Listing) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", excelSheet); err != nil {
		return eris.Wrap(err, "excel: rename sheet")
	}

	sw, err := f.NewStreamWriter(excelSheet)
	if err != nil {
		return eris.Wrap(err, "excel: stream writer")
	}

	if err := sw.SetRow("A1", toCells(exportHeader)); err != nil {
		return eris.Wrap(err, "excel: write header")
	}
	for i, l := range listings {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return eris.Wrap(err, "excel: cell name")
		}
		if err := sw.SetRow(cell, toCells(exportRow(l))); err != nil {
			return eris.Wrapf(err, "excel: write row %d", i+2)
		}
	}
	if err := sw.Flush(); err != nil {
		return eris.Wrap(err, "excel: flush")
	}

	if _, err := f.WriteTo(w); err != nil {
		return eris.Wrap(err, "excel: write workbook")
	}
	return nil
}

func (ExcelExporter) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}
func (ExcelExporter) Extension() string { return "xlsx" }

func toCells(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// ExportFilename names an export the way downloads are labelled.
func ExportFilename(e Exporter, includeSeen bool) string {
	if includeSeen {
		return "listings." + e.Extension()
	}
	return "unseen_listings." + e.Extension()
}
