package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/timesync/internal/gapfill"
	"github.com/Tiliavir/timesync/internal/model"
	"github.com/Tiliavir/timesync/internal/timecalc"
)

var (
	fillFrom           string
	fillTo             string
	fillKey            string
	fillDryRun         bool
	fillContextURL     string
	fillDefaultProject int
)

var fillCmd = &cobra.Command{
	Use:   "fill",
	Short: "Create the time entries missing in Redmine",
	Long: `Fill reconciles the date range and books every missing entry in Redmine.
Entries whose Jira issue has no Redmine counterpart get one created first
(at most one per Jira issue). Entries without an issue are booked on the
project mapped from --context-url, or on the default project.

Exits with status 2 when any entry could not be created.`,
	Example: `  tsync fill --dry-run
  tsync fill --from 2024-03-04 --to 2024-03-10
  tsync fill --key 2024-03-05_1.5_AB-12
  tsync fill --context-url https://acme.atlassian.net/browse/AB-1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		from, to, err := dateRange(fillFrom, fillTo, time.Now())
		if err != nil {
			return usageErr(err)
		}

		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync() //nolint:errcheck

		sess, err := newSession(cfg, log, runOptions{
			contextURL:     fillContextURL,
			defaultProject: fillDefaultProject,
		})
		if err != nil {
			return usageErr(err)
		}

		ctx := context.Background()
		res, err := sess.Reconcile(ctx, from, to)
		if err != nil {
			return runErr(err)
		}

		if fillDryRun {
			writePlan(os.Stdout, res.MissingInLedger, fillKey)
			return nil
		}

		var created []gapfill.CreatedEntry
		if fillKey != "" {
			one, err := sess.CreateOne(ctx, fillKey, fillContextURL)
			if err != nil {
				return runErr(err)
			}
			if errors.Is(one.Err, gapfill.ErrNotPending) {
				return usageErr(one.Err)
			}
			created = []gapfill.CreatedEntry{one}
		} else {
			created, err = sess.CreateAll(ctx, fillContextURL)
			if err != nil {
				return runErr(err)
			}
		}

		summary := writeCreated(os.Stdout, created)
		if summary.Failed > 0 {
			return runErr(fmt.Errorf("%d of %d entries failed", summary.Failed, len(created)))
		}
		return nil
	},
}

func init() {
	fillCmd.Flags().StringVar(&fillFrom, "from", "", "Start date (YYYY-MM-DD); default is the current week")
	fillCmd.Flags().StringVar(&fillTo, "to", "", "End date (YYYY-MM-DD); default is --from")
	fillCmd.Flags().StringVar(&fillKey, "key", "", "Create only the entry with this key (date_hours_code)")
	fillCmd.Flags().BoolVar(&fillDryRun, "dry-run", false, "Print what would be created without writing to Redmine")
	fillCmd.Flags().StringVar(&fillContextURL, "context-url", "", "URL used to pick the project for entries without an issue")
	fillCmd.Flags().IntVar(&fillDefaultProject, "default-project", 0, "Redmine project id for entries without issue or mapping")
}

// writePlan lists the pending entries and what fill would do for each.
func writePlan(w io.Writer, pending []model.MissingEntry, key string) {
	n := 0
	for _, e := range pending {
		if key != "" && e.Key() != key {
			continue
		}
		n++
		action := "book on project"
		switch {
		case e.RedmineTask != nil:
			action = fmt.Sprintf("book on #%d", *e.RedmineTask)
		case e.JiraTask != nil:
			action = "create issue for " + *e.JiraTask
		}
		fmt.Fprintf(w, "  %s  %-8s  %-24s  %s\n", e.Date, timecalc.FormatHours(e.Hours), action, e.Description)
	}
	if n == 0 {
		fmt.Fprintln(w, "Nothing to create.")
		return
	}
	fmt.Fprintf(w, "\n%d entries would be created (dry run).\n", n)
}

// writeCreated prints one line per result followed by the totals.
func writeCreated(w io.Writer, created []gapfill.CreatedEntry) gapfill.Summary {
	for _, c := range created {
		if c.Err != nil {
			fmt.Fprintf(w, "✗ %s  %v\n", c.Entry.Key(), c.Err)
			continue
		}
		note := ""
		if c.IssueCreated {
			note = " (new issue)"
		}
		fmt.Fprintf(w, "✓ %s  time entry #%d on issue #%d%s\n", c.Entry.Key(), c.TimeEntryID, c.IssueID, note)
	}
	s := gapfill.Summarize(created)
	fmt.Fprintf(w, "\nCreated: %d  Issues created: %d  Failed: %d\n", s.Created, s.IssuesCreated, s.Failed)
	return s
}
