package reconcile

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/Tiliavir/timesync/internal/model"
)

// ApplyCreation records that entry now exists in the ledger: it is removed from
// the pending list and its hours move from the missing side to the ledger side.
// It reports false when the entry is no longer pending.
func ApplyCreation(res *model.Result, entry model.MissingEntry) bool {
	idx := indexOf(res, entry)
	if idx < 0 {
		return false
	}
	hours := decimal.NewFromFloat(res.MissingInLedger[idx].Hours)
	res.MissingInLedger = slices.Delete(res.MissingInLedger, idx, idx+1)

	res.Stats.Missing--
	res.Stats.MissingHours = res.Stats.MissingHours.Sub(hours)
	res.Stats.RedmineTotal++
	res.Stats.RedmineHours = res.Stats.RedmineHours.Add(hours)
	return true
}

// AssignLedgerIssue links every pending entry with the given issue code and no
// ledger issue yet to issueID. It returns the number of entries updated.
func AssignLedgerIssue(res *model.Result, code string, issueID int) int {
	if code == "" || issueID == 0 {
		return 0
	}
	n := 0
	for i := range res.MissingInLedger {
		e := &res.MissingInLedger[i]
		if e.RedmineTask != nil || e.JiraTask == nil || *e.JiraTask != code {
			continue
		}
		id := issueID
		e.RedmineTask = &id
		e.MappingStatus = model.StatusSingleLink
		e.LinkedLedgerIssues = []int{issueID}
		n++
	}
	return n
}

// IsPending reports whether entry is still in the pending list.
func IsPending(res *model.Result, entry model.MissingEntry) bool {
	return indexOf(res, entry) >= 0
}

// Verify checks that the missing-side statistics agree with the pending list.
func Verify(res *model.Result) error {
	if res.Stats.Missing != len(res.MissingInLedger) {
		return fmt.Errorf("stats.missing = %d, pending entries = %d", res.Stats.Missing, len(res.MissingInLedger))
	}
	sum := decimal.Zero
	for _, e := range res.MissingInLedger {
		sum = sum.Add(decimal.NewFromFloat(e.Hours))
	}
	if !sum.Equal(res.Stats.MissingHours) {
		return fmt.Errorf("stats.missingHours = %s, pending hours = %s", res.Stats.MissingHours, sum)
	}
	return nil
}

// indexOf locates a pending entry by key, preferring the same source record
// when several entries share a key.
func indexOf(res *model.Result, entry model.MissingEntry) int {
	key := entry.Key()
	fallback := -1
	for i := range res.MissingInLedger {
		e := res.MissingInLedger[i]
		if e.Key() != key {
			continue
		}
		if e.SourceID == entry.SourceID {
			return i
		}
		if fallback < 0 && entry.SourceID == "" {
			fallback = i
		}
	}
	return fallback
}
