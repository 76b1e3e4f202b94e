// Package export renders missing entries as CSV and reads such files back.
package export

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Tiliavir/timesync/internal/model"
)

// Header is the CSV header row.
var Header = []string{"Date", "Hours", "Description", "Jira Task", "Redmine Task"}

// Row is one parsed CSV line.
type Row struct {
	Date        string
	Hours       float64
	Description string
	JiraTask    string
	RedmineTask int
}

// Filename is the suggested file name for an export of the given range.
func Filename(from, to string) string {
	return fmt.Sprintf("missing-entries-%s_%s.csv", from, to)
}

// WriteCSV writes entries with hours to two decimals. The description is
// always quoted.
func WriteCSV(w io.Writer, entries []model.MissingEntry) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, strings.Join(Header, ","))
	for _, e := range entries {
		jira := ""
		if e.JiraTask != nil {
			jira = *e.JiraTask
		}
		redmine := ""
		if e.RedmineTask != nil {
			redmine = strconv.Itoa(*e.RedmineTask)
		}
		fmt.Fprintf(bw, "%s,%.2f,%s,%s,%s\n",
			csvEscape(e.Date),
			e.Hours,
			quote(e.Description),
			csvEscape(jira),
			csvEscape(redmine),
		)
	}
	return bw.Flush()
}

// ParseCSV reads a file produced by WriteCSV.
func ParseCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("reading CSV: missing header")
	}

	rows := make([]Row, 0, len(records)-1)
	for i, rec := range records[1:] {
		hours, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid hours %q: %w", i+2, rec[1], err)
		}
		row := Row{Date: rec[0], Hours: hours, Description: rec[2], JiraTask: rec[3]}
		if rec[4] != "" {
			if row.RedmineTask, err = strconv.Atoi(rec[4]); err != nil {
				return nil, fmt.Errorf("line %d: invalid redmine task %q: %w", i+2, rec[4], err)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// csvEscape wraps a field in quotes if it contains a comma, quote, or newline.
func csvEscape(s string) string {
	if !strings.ContainsAny(s, ",\"\n\r") {
		return s
	}
	return quote(s)
}
