package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/timesync/internal/export"
	"github.com/Tiliavir/timesync/internal/model"
	"github.com/Tiliavir/timesync/internal/timecalc"
)

var (
	compareFrom   string
	compareTo     string
	compareWeek   string
	compareFormat string
	compareStrict bool
)

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Compare Tempo worklogs with Redmine time entries",
	Long: `Compare fetches both sides for the date range (default: the current ISO week),
matches them and prints what is missing in Redmine.

Formats: md (default), csv, json.`,
	Example: `  tsync compare
  tsync compare --from 2024-03-04 --to 2024-03-10
  tsync compare --week 2024-02-14
  tsync compare --from 2024-03-04 --format csv > missing.csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if compareFormat != "md" && compareFormat != "csv" && compareFormat != "json" {
			return usageErr(fmt.Errorf("unknown format %q (use md, csv or json)", compareFormat))
		}
		now := time.Now()
		if compareWeek != "" {
			if compareFrom != "" {
				return usageErr(fmt.Errorf("--week and --from are mutually exclusive"))
			}
			d, err := time.Parse(timecalc.DateLayout, compareWeek)
			if err != nil {
				return usageErr(fmt.Errorf("invalid week date %q: %w", compareWeek, err))
			}
			now = d
		}
		from, to, err := dateRange(compareFrom, compareTo, now)
		if err != nil {
			return usageErr(err)
		}

		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync() //nolint:errcheck

		sess, err := newSession(cfg, log, runOptions{strict: compareStrict})
		if err != nil {
			return usageErr(err)
		}
		res, err := sess.Reconcile(context.Background(), from, to)
		if err != nil {
			return runErr(err)
		}

		switch compareFormat {
		case "csv":
			err = export.WriteCSV(os.Stdout, res.MissingInLedger)
		case "json":
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			err = enc.Encode(res)
		default:
			writeMarkdown(os.Stdout, res)
		}
		if err != nil {
			return runErr(err)
		}
		return nil
	},
}

func init() {
	compareCmd.Flags().StringVar(&compareFrom, "from", "", "Start date (YYYY-MM-DD); default is the current week")
	compareCmd.Flags().StringVar(&compareTo, "to", "", "End date (YYYY-MM-DD); default is --from")
	compareCmd.Flags().StringVar(&compareWeek, "week", "", "Any date (YYYY-MM-DD) inside the ISO week to compare")
	compareCmd.Flags().StringVarP(&compareFormat, "format", "f", "md", "Output format: md, csv, json")
	compareCmd.Flags().BoolVar(&compareStrict, "strict", false, "Report partial matches whose hours differ")
}

// writeMarkdown prints the stats block followed by the missing entries table.
func writeMarkdown(w io.Writer, res *model.Result) {
	st := res.Stats
	heading := res.From + " – " + res.To
	if d, err := time.Parse(timecalc.DateLayout, res.From); err == nil {
		heading += " (" + timecalc.ISOWeekLabel(d) + ")"
	}
	fmt.Fprintf(w, "## Tempo vs Redmine: %s\n\n", heading)
	fmt.Fprintf(w, "| | Entries | Hours |\n")
	fmt.Fprintf(w, "|---|---:|---:|\n")
	fmt.Fprintf(w, "| Tempo | %d | %s |\n", st.TempoTotal, timecalc.FormatHours(st.TempoHours.InexactFloat64()))
	fmt.Fprintf(w, "| Redmine | %d | %s |\n", st.RedmineTotal, timecalc.FormatHours(st.RedmineHours.InexactFloat64()))
	fmt.Fprintf(w, "| Missing | %d | %s |\n\n", st.Missing, timecalc.FormatHours(st.MissingHours.InexactFloat64()))
	fmt.Fprintf(w, "Matched: %d  Discrepancies: %d  Mapping: %.0f%% (%d/%d linked)\n",
		st.Matched, st.Discrepancies, st.MappingRate*100, st.Linked, st.WithIssueRef)

	if len(res.MissingInLedger) == 0 {
		fmt.Fprintln(w, "\nNothing missing.")
	} else {
		fmt.Fprintf(w, "\n### Missing in Redmine\n\n")
		fmt.Fprintln(w, "| Date | Hours | Jira | Redmine | Status | Description |")
		fmt.Fprintln(w, "|---|---:|---|---|---|---|")
		for _, e := range res.MissingInLedger {
			jiraTask, redmineTask := "–", "–"
			if e.JiraTask != nil {
				jiraTask = *e.JiraTask
			}
			if e.RedmineTask != nil {
				redmineTask = fmt.Sprintf("#%d", *e.RedmineTask)
			}
			fmt.Fprintf(w, "| %s | %s | %s | %s | %s | %s |\n",
				e.Date, timecalc.FormatHours(e.Hours), jiraTask, redmineTask, e.MappingStatus, mdCell(e.Description))
		}
	}

	if len(res.Discrepancies) > 0 {
		fmt.Fprintf(w, "\n### Hour discrepancies\n\n")
		fmt.Fprintln(w, "| Date | Tempo | Redmine | Delta | Description |")
		fmt.Fprintln(w, "|---|---:|---:|---:|---|")
		for _, d := range res.Discrepancies {
			ledgerHours := 0.0
			if d.Match.Ledger != nil {
				ledgerHours = d.Match.Ledger.Hours
			}
			fmt.Fprintf(w, "| %s | %.2f | %.2f | %+.2f | %s |\n",
				d.Match.Worklog.Date, d.Match.Worklog.Hours, ledgerHours, d.HoursDelta, mdCell(d.Match.Worklog.Description))
		}
	}
}

// mdCell keeps a description on one table row.
func mdCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}
