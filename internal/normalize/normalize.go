// Package normalize converts worklog and ledger records into model.TimeRecord.
package normalize

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Tiliavir/timesync/internal/model"
	"github.com/Tiliavir/timesync/internal/source"
	"github.com/Tiliavir/timesync/internal/timecalc"
)

// Normalizer turns raw records from both sources into TimeRecords.
type Normalizer struct {
	Resolver *Resolver
	Log      *zap.Logger
}

// New returns a Normalizer backed by the given per-run resolver.
func New(resolver *Resolver, log *zap.Logger) *Normalizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Normalizer{Resolver: resolver, Log: log}
}

// Normalize converts both record sets. A failed issue lookup degrades the
// affected worklog's linkage; it never fails the batch.
func (n *Normalizer) Normalize(ctx context.Context, worklogs []source.RawWorklog, entries []source.RawLedgerEntry) ([]model.TimeRecord, []model.TimeRecord) {
	refs := make([]string, 0, len(worklogs))
	for _, w := range worklogs {
		refs = append(refs, issueRef(w))
	}
	codes := map[string]string{}
	if n.Resolver != nil {
		codes = n.Resolver.ResolveAll(ctx, refs)
	}

	worklogRecs := make([]model.TimeRecord, 0, len(worklogs))
	for _, w := range worklogs {
		ref := issueRef(w)
		code := codes[ref]
		if ref != "" && code == "" {
			n.Log.Warn("worklog issue unresolved; matching without issue code",
				zap.Int64("worklog_id", w.TempoWorklogID),
				zap.String("issue_ref", ref))
		}
		worklogRecs = append(worklogRecs, n.clean(WorklogRecord(w, code)))
	}

	ledgerRecs := make([]model.TimeRecord, 0, len(entries))
	for _, e := range entries {
		ledgerRecs = append(ledgerRecs, n.clean(LedgerRecord(e)))
	}
	return worklogRecs, ledgerRecs
}

func (n *Normalizer) clean(r model.TimeRecord) model.TimeRecord {
	out, problems := Clean(r)
	for _, p := range problems {
		n.Log.Warn("record failed validation; processing best-effort",
			zap.String("origin", string(r.Origin)),
			zap.String("source_id", r.SourceID),
			zap.String("problem", p))
	}
	return out
}

// WorklogRecord maps a Tempo worklog. code is the resolved issue code or "".
func WorklogRecord(w source.RawWorklog, code string) model.TimeRecord {
	desc := ""
	if w.Description != nil {
		desc = *w.Description
	}
	return model.TimeRecord{
		Date:            w.StartDate,
		Hours:           timecalc.SecondsToHours(w.TimeSpentSeconds),
		Description:     desc,
		SourceID:        strconv.FormatInt(w.TempoWorklogID, 10),
		LinkedIssueRef:  issueRef(w),
		LinkedIssueCode: model.StringPtr(code),
		Origin:          model.OriginWorklog,
	}
}

// LedgerRecord maps a Redmine time entry. The issue code is taken from the
// entry's enrichment, if present.
func LedgerRecord(e source.RawLedgerEntry) model.TimeRecord {
	var issueID *int
	if e.Issue != nil {
		issueID = model.IntPtr(e.Issue.ID)
	}
	return model.TimeRecord{
		Date:                e.SpentOn,
		Hours:               e.Hours,
		Description:         e.Comments,
		SourceID:            strconv.Itoa(e.ID),
		LinkedIssueCode:     model.StringPtr(strings.TrimSpace(e.JiraCode)),
		LinkedLedgerIssueID: issueID,
		Origin:              model.OriginLedger,
	}
}

// Clean enforces the TimeRecord invariants: a YYYY-MM-DD date and
// non-negative hours. It is idempotent. Problems are reported, not fatal.
func Clean(r model.TimeRecord) (model.TimeRecord, []string) {
	var problems []string
	date, err := timecalc.NormalizeDate(r.Date)
	if err != nil {
		problems = append(problems, err.Error())
	}
	r.Date = date
	if r.Hours < 0 {
		problems = append(problems, "negative hours "+strconv.FormatFloat(r.Hours, 'f', -1, 64))
		r.Hours = 0
	}
	return r, problems
}

func issueRef(w source.RawWorklog) string {
	if w.Issue == nil || w.Issue.ID == 0 {
		return ""
	}
	return strconv.Itoa(w.Issue.ID)
}
