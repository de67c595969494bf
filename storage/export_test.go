package storage

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"olx-watcher/models"
)

func exportFixture() []models.Listing {
	img := "https://img.olxcdn.com/a.jpg"
	return []models.Listing{
		{
			ID: "IDa1", Title: "Sofá, 3 lugares", Price: "150 €", Location: "Lisboa", Date: "Hoje",
			Link: "https://www.olx.pt/d/anuncio/sofa-IDa1.html", ImageURL: &img,
			ScrapedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), Seen: true,
		},
		{
			ID: "IDb2", Title: "Mesa", Price: "Price not available", Location: "Porto", Date: "Unknown",
			Link: "https://www.olx.pt/d/anuncio/mesa-IDb2.html",
			ScrapedAt: time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC),
		},
	}
}

func TestCSVExport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, CSVExporter{}.Export(&buf, exportFixture()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, exportHeader, rows[0])
	assert.Equal(t, []string{
		"Sofá, 3 lugares", "150 €", "Lisboa", "Hoje", "https://www.olx.pt/d/anuncio/sofa-IDa1.html",
		"https://img.olxcdn.com/a.jpg", "2024-05-01T12:00:00Z", "true",
	}, rows[1])
	assert.Equal(t, "", rows[2][5])
	assert.Equal(t, "false", rows[2][7])
}

func TestCSVExportEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, CSVExporter{}.Export(&buf, nil))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{exportHeader}, rows)
}

func TestExcelExport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ExcelExporter{}.Export(&buf, exportFixture()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(excelSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, exportHeader, rows[0])
	assert.Equal(t, "Mesa", rows[2][0])
	assert.Equal(t, "true", rows[1][7])
}

func TestExporterFor(t *testing.T) {
	e, err := ExporterFor("CSV")
	require.NoError(t, err)
	assert.Equal(t, "csv", e.Extension())
	assert.Equal(t, "unseen_listings.csv", ExportFilename(e, false))

	e, err = ExporterFor("excel")
	require.NoError(t, err)
	assert.Equal(t, "listings.xlsx", ExportFilename(e, true))

	_, err = ExporterFor("pdf")
	assert.Error(t, err)
}
