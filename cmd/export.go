package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/timesync/internal/export"
)

var (
	exportFrom string
	exportTo   string
	exportDir  string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export entries missing in Redmine to CSV",
	Long: `Export reconciles the date range and writes the missing entries to
missing-entries-<from>_<to>.csv with the columns
Date, Hours, Description, Jira Task, Redmine Task.`,
	Example: `  tsync export
  tsync export --from 2024-03-01 --to 2024-03-31 --dir ~/Desktop`,
	RunE: func(cmd *cobra.Command, args []string) error {
		from, to, err := dateRange(exportFrom, exportTo, time.Now())
		if err != nil {
			return usageErr(err)
		}

		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync() //nolint:errcheck

		sess, err := newSession(cfg, log, runOptions{})
		if err != nil {
			return usageErr(err)
		}
		res, err := sess.Reconcile(context.Background(), from, to)
		if err != nil {
			return runErr(err)
		}

		path := filepath.Join(exportDir, export.Filename(res.From, res.To))
		f, err := os.Create(path)
		if err != nil {
			return runErr(fmt.Errorf("create %s: %w", path, err))
		}
		if err := export.WriteCSV(f, res.MissingInLedger); err != nil {
			f.Close()
			return runErr(err)
		}
		if err := f.Close(); err != nil {
			return runErr(err)
		}

		fmt.Printf("✓ Exported %d missing entries to %s\n", len(res.MissingInLedger), path)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start date (YYYY-MM-DD); default is the current week")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End date (YYYY-MM-DD); default is --from")
	exportCmd.Flags().StringVar(&exportDir, "dir", ".", "Directory to write the CSV file to")
}
