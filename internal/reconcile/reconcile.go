// Package reconcile matches worklog records against ledger records, classifies
// the gaps and keeps the resulting statistics consistent as gaps are filled.
package reconcile

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Tiliavir/timesync/internal/model"
	"github.com/Tiliavir/timesync/internal/textsim"
	"github.com/Tiliavir/timesync/internal/timecalc"
)

const (
	maxSuggestions       = 3
	strictHoursTolerance = 0.01
)

// Options configures a reconciliation.
type Options struct {
	From string
	To   string
	// Strict additionally reports partial matches whose hours differ.
	Strict bool
	Log    *zap.Logger
}

// linkIndex maps issue codes to the distinct ledger issues whose time entries
// carry them, with the number of entries per issue and per code.
type linkIndex struct {
	order   map[string][]int
	counts  map[string]map[int]int
	entries map[string]int
}

func buildLinkIndex(ledger []model.TimeRecord) linkIndex {
	idx := linkIndex{order: map[string][]int{}, counts: map[string]map[int]int{}, entries: map[string]int{}}
	for _, l := range ledger {
		code, issueID := l.IssueCode(), l.LedgerIssueID()
		if code == "" || issueID == 0 {
			continue
		}
		if idx.counts[code] == nil {
			idx.counts[code] = map[int]int{}
		}
		if idx.counts[code][issueID] == 0 {
			idx.order[code] = append(idx.order[code], issueID)
		}
		idx.counts[code][issueID]++
		idx.entries[code]++
	}
	return idx
}

// preferred returns the issue with the most entries for code; first seen wins ties.
func (idx linkIndex) preferred(code string) int {
	best, bestCount := 0, 0
	for _, id := range idx.order[code] {
		if n := idx.counts[code][id]; n > bestCount {
			best, bestCount = id, n
		}
	}
	return best
}

// Compute reconciles normalized worklog records against normalized ledger records.
func Compute(worklogs, ledger []model.TimeRecord, opts Options) *model.Result {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}

	byDate := make(map[string][]model.TimeRecord)
	for _, l := range ledger {
		byDate[l.Date] = append(byDate[l.Date], l)
	}
	links := buildLinkIndex(ledger)

	res := &model.Result{
		From:            opts.From,
		To:              opts.To,
		MissingInLedger: []model.MissingEntry{},
		Matched:         []model.Match{},
	}

	for _, w := range worklogs {
		candidates := byDate[w.Date]
		if m, ok := BestMatch(w, candidates); ok {
			res.Matched = append(res.Matched, m)
			if opts.Strict && m.Kind == model.MatchPartial {
				delta := w.Hours - m.Ledger.Hours
				if math.Abs(delta) >= strictHoursTolerance {
					res.Discrepancies = append(res.Discrepancies, model.Discrepancy{Match: m, HoursDelta: timecalc.RoundHours(delta)})
				}
			}
			continue
		}
		entry := missingEntry(w, candidates, links)
		log.Debug("worklog missing in ledger",
			zap.String("worklog_id", w.SourceID),
			zap.String("date", w.Date),
			zap.Float64("hours", w.Hours),
			zap.String("mapping_status", string(entry.MappingStatus)))
		res.MissingInLedger = append(res.MissingInLedger, entry)
	}

	res.Stats = computeStats(worklogs, ledger, res, links)
	return res
}

func missingEntry(w model.TimeRecord, sameDate []model.TimeRecord, links linkIndex) model.MissingEntry {
	entry := model.MissingEntry{
		TimeRecord:  w,
		JiraTask:    w.LinkedIssueCode,
		Suggestions: suggestions(w, sameDate),
	}
	code := w.IssueCode()
	switch {
	case code == "" && w.LinkedIssueRef == "":
		entry.MappingStatus = model.StatusNoJiraTask
	case code == "":
		entry.MappingStatus = model.StatusJiraIDUnresolved
	default:
		ids := links.order[code]
		switch links.entries[code] {
		case 0:
			entry.MappingStatus = model.StatusNoRedmineLink
		case 1:
			entry.MappingStatus = model.StatusSingleLink
		default:
			entry.MappingStatus = model.StatusMultipleLinks
		}
		if len(ids) > 0 {
			entry.LinkedLedgerIssues = append([]int(nil), ids...)
			entry.RedmineTask = model.IntPtr(links.preferred(code))
		}
	}
	return entry
}

// suggestions lists same-date ledger records that look related for human review.
func suggestions(w model.TimeRecord, sameDate []model.TimeRecord) []model.Suggestion {
	var out []model.Suggestion
	for _, l := range sameDate {
		near := math.Abs(w.Hours-l.Hours) < HoursSimilarTolerance
		similar := textsim.Ratio(w.Description, l.Description) > DescriptionThreshold
		if !near && !similar {
			continue
		}
		score, reasons := Score(w, l)
		out = append(out, model.Suggestion{Record: l, Score: math.Min(score, 1), Reasons: reasons})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > maxSuggestions {
		out = out[:maxSuggestions]
	}
	return out
}

func computeStats(worklogs, ledger []model.TimeRecord, res *model.Result, links linkIndex) model.Stats {
	stats := model.Stats{
		TempoTotal:    len(worklogs),
		TempoHours:    sumHours(worklogs),
		RedmineTotal:  len(ledger),
		RedmineHours:  sumHours(ledger),
		Missing:       len(res.MissingInLedger),
		Matched:       len(res.Matched),
		Discrepancies: len(res.Discrepancies),
		MissingHours:  decimal.Zero,
	}
	for _, m := range res.MissingInLedger {
		stats.MissingHours = stats.MissingHours.Add(decimal.NewFromFloat(m.Hours))
	}
	for _, w := range worklogs {
		code := w.IssueCode()
		if code == "" && w.LinkedIssueRef == "" {
			continue
		}
		stats.WithIssueRef++
		if code != "" && len(links.order[code]) > 0 {
			stats.Linked++
		}
	}
	if stats.WithIssueRef > 0 {
		stats.MappingRate = float64(stats.Linked) / float64(stats.WithIssueRef)
	}
	return stats
}

func sumHours(recs []model.TimeRecord) decimal.Decimal {
	sum := decimal.Zero
	for _, r := range recs {
		sum = sum.Add(decimal.NewFromFloat(r.Hours))
	}
	return sum
}
