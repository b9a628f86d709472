package main

import (
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/placecrawl/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored places",
	Long: `Export writes the collected corpus to stdout or a file.

ndjson keeps the full provider records, one object per line. csv and xlsx
project a fixed column set: coordinates, ID, street address parts, and the
leading category titles.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("export"); err != nil {
			return err
		}

		rawFormat, _ := cmd.Flags().GetString("format")
		format, err := export.ParseFormat(rawFormat)
		if err != nil {
			return err
		}

		var out io.Writer = os.Stdout
		if path, _ := cmd.Flags().GetString("output"); path != "" && path != "-" {
			f, err := os.Create(path)
			if err != nil {
				return eris.Wrapf(err, "export: create %s", path)
			}
			defer f.Close() //nolint:errcheck
			out = f
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		opts := export.Options{CategoryColumns: cfg.Export.CategoryColumns}
		if v, _ := cmd.Flags().GetInt("category-columns"); v > 0 {
			opts.CategoryColumns = v
		}

		return export.Write(ctx, st, out, format, opts)
	},
}

func init() {
	exportCmd.Flags().String("format", "ndjson", "output format: ndjson, csv, xlsx")
	exportCmd.Flags().StringP("output", "o", "-", "output file, - for stdout")
	exportCmd.Flags().Int("category-columns", 0, "category columns in tabular formats (default from config)")
	rootCmd.AddCommand(exportCmd)
}
