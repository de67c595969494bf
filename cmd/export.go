package cmd

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"olx-watcher/models"
	"olx-watcher/storage"
)

var (
	exportFormat      string
	exportIncludeSeen bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write stored listings to a CSV or Excel file under export.dir",
	RunE: func(cmd *cobra.Command, args []string) error {
		exporter, err := storage.ExporterFor(exportFormat)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		store, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		listings, err := store.List(ctx, models.ListFilter{IncludeSeen: exportIncludeSeen})
		if err != nil {
			return err
		}
		if len(listings) == 0 {
			logger.Warn("[export] No listings to export")
			return nil
		}

		if err := os.MkdirAll(cfg.Export.Dir, 0755); err != nil {
			return eris.Wrap(err, "create export dir")
		}
		path := filepath.Join(cfg.Export.Dir, storage.ExportFilename(exporter, exportIncludeSeen))
		f, err := os.Create(path)
		if err != nil {
			return eris.Wrapf(err, "create %s", path)
		}
		if err := exporter.Export(f, listings); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return eris.Wrapf(err, "close %s", path)
		}

		logger.Info("[export] Exported %d listings to %s", len(listings), path)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "csv or excel")
	exportCmd.Flags().BoolVar(&exportIncludeSeen, "include-seen", true, "include listings already marked seen")
}
