package gapfill_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tiliavir/timesync/internal/gapfill"
	"github.com/Tiliavir/timesync/internal/model"
	"github.com/Tiliavir/timesync/internal/reconcile"
	"github.com/Tiliavir/timesync/internal/source"
)

// fakeLedger records writes and serves searches from the issues it holds.
type fakeLedger struct {
	mu           sync.Mutex
	nextID       int
	issues       []source.LedgerIssue
	issueCalls   []source.IssuePayload
	entries      []source.TimeEntryPayload
	failIssue    map[string]bool // by subject prefix code
	failEntry    map[string]bool // by comments
	searchErr    error
	searchCalled []string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{nextID: 100, failIssue: map[string]bool{}, failEntry: map[string]bool{}}
}

func (l *fakeLedger) SearchIssues(_ context.Context, query string) ([]source.LedgerIssue, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.searchCalled = append(l.searchCalled, query)
	if l.searchErr != nil {
		return nil, l.searchErr
	}
	var out []source.LedgerIssue
	for _, is := range l.issues {
		if strings.Contains(is.Subject, query) || strings.Contains(is.Description, query) {
			out = append(out, is)
		}
	}
	return out, nil
}

func (l *fakeLedger) CreateIssue(_ context.Context, p source.IssuePayload) (source.LedgerIssue, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.issueCalls = append(l.issueCalls, p)
	if l.failIssue[source.FindIssueCode(p.Subject)] {
		return source.LedgerIssue{}, errors.New("422 unprocessable")
	}
	l.nextID++
	is := source.LedgerIssue{ID: l.nextID, Subject: p.Subject, Description: p.Description}
	l.issues = append(l.issues, is)
	return is, nil
}

func (l *fakeLedger) CreateTimeEntry(_ context.Context, p source.TimeEntryPayload) (source.CreatedTimeEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failEntry[p.Comments] {
		return source.CreatedTimeEntry{}, errors.New("500 internal error")
	}
	l.entries = append(l.entries, p)
	return source.CreatedTimeEntry{ID: 1000 + len(l.entries)}, nil
}

type fakeLookup map[string]source.IssueMetadata

func (f fakeLookup) Lookup(_ context.Context, ref string) (source.IssueMetadata, error) {
	m, ok := f[ref]
	if !ok {
		return source.IssueMetadata{}, errors.New("issue does not exist")
	}
	return m, nil
}

type fakeProjects map[string]int

func (f fakeProjects) Resolve(url string) (int, bool) {
	for prefix, id := range f {
		if strings.HasPrefix(url, prefix) {
			return id, true
		}
	}
	return 0, false
}

func meta(code, title string) source.IssueMetadata {
	return source.IssueMetadata{Code: code, Title: title, PriorityName: "High", StatusName: "In Progress", BaseURL: "https://co.atlassian.net"}
}

func worklog(id, date string, hours float64, code, desc string) model.TimeRecord {
	return model.TimeRecord{
		Date:            date,
		Hours:           hours,
		Description:     desc,
		SourceID:        id,
		LinkedIssueCode: model.StringPtr(code),
		Origin:          model.OriginWorklog,
	}
}

func TestCreateAllDeduplicatesIssuePerCode(t *testing.T) {
	res := reconcile.Compute([]model.TimeRecord{
		worklog("w1", "2024-01-01", 1, "AB-9", "one"),
		worklog("w2", "2024-01-02", 2, "AB-9", "two"),
		worklog("w3", "2024-01-03", 3, "AB-9", "three"),
	}, nil, reconcile.Options{})
	ledger := newFakeLedger()
	f := gapfill.New(res, ledger, fakeLookup{"AB-9": meta("AB-9", "Payment export")}, nil,
		gapfill.Options{DefaultProjectID: 1, DefaultPriorityID: 2, DefaultStatusID: 1, ActivityID: 9})

	results := f.CreateAll(context.Background())
	require.Len(t, results, 3)

	require.Len(t, ledger.issueCalls, 1, "exactly one issue for AB-9")
	issue := ledger.issueCalls[0]
	assert.Equal(t, "AB-9: Payment export", issue.Subject)
	assert.Equal(t, "https://co.atlassian.net/browse/AB-9", issue.Description)
	assert.Equal(t, 3, issue.PriorityID)
	assert.Equal(t, 2, issue.StatusID)
	assert.Equal(t, 1, issue.ProjectID)

	require.Len(t, ledger.entries, 3)
	for _, e := range ledger.entries {
		assert.Equal(t, 101, e.IssueID)
		assert.Zero(t, e.ProjectID)
		assert.Equal(t, 9, e.ActivityID)
	}
	for _, r := range results {
		assert.NoError(t, r.Err)
		assert.True(t, r.IssueCreated)
	}

	assert.Empty(t, res.MissingInLedger)
	assert.Equal(t, 0, res.Stats.Missing)
	assert.True(t, res.Stats.MissingHours.IsZero())
	assert.Equal(t, 3, res.Stats.RedmineTotal)
	assert.True(t, res.Stats.RedmineHours.Equal(decimal.NewFromInt(6)))

	s := gapfill.Summarize(results)
	assert.Equal(t, 3, s.Created)
	assert.Equal(t, 1, s.IssuesCreated)
	assert.Equal(t, 0, s.Failed)
}

func TestCreateAllPartialFailure(t *testing.T) {
	res := reconcile.Compute([]model.TimeRecord{
		worklog("w1", "2024-01-01", 1, "AB-1", "broken issue"),
		worklog("w2", "2024-01-01", 2, "AB-2", "fine"),
		worklog("w3", "2024-01-01", 0.5, "", "standup"),
		worklog("w4", "2024-01-02", 4, "AB-2", "entry fails"),
	}, nil, reconcile.Options{})
	ledger := newFakeLedger()
	ledger.failIssue["AB-1"] = true
	ledger.failEntry["entry fails"] = true
	lookup := fakeLookup{"AB-1": meta("AB-1", "Broken"), "AB-2": meta("AB-2", "Fine")}
	f := gapfill.New(res, ledger, lookup, fakeProjects{"https://co.atlassian.net": 42},
		gapfill.Options{DefaultProjectID: 1, ContextURL: "https://co.atlassian.net/browse/AB-2"})

	results := f.CreateAll(context.Background())
	byID := map[string]gapfill.CreatedEntry{}
	for _, r := range results {
		byID[r.Entry.SourceID] = r
	}

	assert.ErrorIs(t, byID["w1"].Err, gapfill.ErrNoLedgerIssue)
	assert.NoError(t, byID["w2"].Err)
	assert.NoError(t, byID["w3"].Err)
	assert.Error(t, byID["w4"].Err)

	// The entry without an issue goes to the project mapped from the context URL.
	var standup source.TimeEntryPayload
	for _, e := range ledger.entries {
		if e.Comments == "standup" {
			standup = e
		}
	}
	assert.Equal(t, 42, standup.ProjectID)
	assert.Zero(t, standup.IssueID)

	// The created issue is projected from the issue tracker's base URL.
	for _, p := range ledger.issueCalls {
		assert.Equal(t, 42, p.ProjectID)
	}

	require.Len(t, res.MissingInLedger, 2)
	assert.NoError(t, reconcile.Verify(res))
	s := gapfill.Summarize(results)
	assert.Equal(t, 2, s.Created)
	assert.Equal(t, 2, s.Failed)
	assert.Len(t, s.Errors, 2)
}

func TestCreateAllReusesExistingIssue(t *testing.T) {
	res := reconcile.Compute([]model.TimeRecord{worklog("w1", "2024-01-01", 1, "AB-5", "x")}, nil, reconcile.Options{})
	ledger := newFakeLedger()
	ledger.issues = []source.LedgerIssue{
		{ID: 7, Subject: "Something else", Description: "https://co.atlassian.net/browse/AB-55"},
		{ID: 8, Subject: "Imported", Description: "https://co.atlassian.net/browse/AB-5"},
	}
	f := gapfill.New(res, ledger, fakeLookup{"AB-5": meta("AB-5", "Five")}, nil, gapfill.Options{DefaultProjectID: 1})

	results := f.CreateAll(context.Background())
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Empty(t, ledger.issueCalls)
	assert.Equal(t, 8, ledger.entries[0].IssueID)
	assert.False(t, results[0].IssueCreated)
	assert.Equal(t, "https://co.atlassian.net/browse/AB-5", ledger.searchCalled[0], "URL is searched before the code")
}

func TestCreateAllUsesExistingLink(t *testing.T) {
	ledgerRecs := []model.TimeRecord{{
		Date: "2023-12-01", Hours: 1, SourceID: "l1",
		LinkedIssueCode:     model.StringPtr("AB-3"),
		LinkedLedgerIssueID: model.IntPtr(55),
		Origin:              model.OriginLedger,
	}}
	res := reconcile.Compute([]model.TimeRecord{worklog("w1", "2024-01-01", 2, "AB-3", "x")}, ledgerRecs, reconcile.Options{})
	require.Equal(t, model.StatusSingleLink, res.MissingInLedger[0].MappingStatus)

	ledger := newFakeLedger()
	f := gapfill.New(res, ledger, nil, nil, gapfill.Options{})
	results := f.CreateAll(context.Background())

	require.NoError(t, results[0].Err)
	assert.Empty(t, ledger.issueCalls)
	assert.Empty(t, ledger.searchCalled)
	assert.Equal(t, 55, ledger.entries[0].IssueID)
}

func TestCreateOneBackPropagates(t *testing.T) {
	res := reconcile.Compute([]model.TimeRecord{
		worklog("w1", "2024-01-01", 3, "AB-9", "first"),
		worklog("w2", "2024-01-02", 1, "AB-9", "second"),
	}, nil, reconcile.Options{})
	ledger := newFakeLedger()
	f := gapfill.New(res, ledger, fakeLookup{"AB-9": meta("AB-9", "Nine")}, nil, gapfill.Options{DefaultProjectID: 1})

	first := res.MissingInLedger[0]
	r := f.CreateOne(context.Background(), first)
	require.NoError(t, r.Err)
	assert.True(t, r.IssueCreated)

	assert.Equal(t, 1, res.Stats.Missing)
	assert.True(t, res.Stats.MissingHours.Equal(decimal.NewFromInt(1)))
	require.Len(t, res.MissingInLedger, 1)
	remaining := res.MissingInLedger[0]
	require.NotNil(t, remaining.RedmineTask)
	assert.Equal(t, r.IssueID, *remaining.RedmineTask)
	assert.Equal(t, model.StatusSingleLink, remaining.MappingStatus)

	r2 := f.CreateByKey(context.Background(), remaining.Key())
	require.NoError(t, r2.Err)
	assert.Equal(t, r.IssueID, r2.IssueID)
	assert.Len(t, ledger.issueCalls, 1)

	again := f.CreateOne(context.Background(), first)
	assert.ErrorIs(t, again.Err, gapfill.ErrNotPending)
	assert.Len(t, ledger.entries, 2)
}

func TestCreateOneRetriesFailedIssue(t *testing.T) {
	res := reconcile.Compute([]model.TimeRecord{worklog("w1", "2024-01-01", 1, "AB-1", "x")}, nil, reconcile.Options{})
	ledger := newFakeLedger()
	ledger.failIssue["AB-1"] = true
	f := gapfill.New(res, ledger, fakeLookup{"AB-1": meta("AB-1", "One")}, nil, gapfill.Options{DefaultProjectID: 1})

	entry := res.MissingInLedger[0]
	r := f.CreateOne(context.Background(), entry)
	require.ErrorIs(t, r.Err, gapfill.ErrNoLedgerIssue)
	assert.True(t, reconcile.IsPending(res, entry))

	ledger.failIssue["AB-1"] = false
	r = f.CreateOne(context.Background(), entry)
	require.NoError(t, r.Err)
	assert.Len(t, ledger.issueCalls, 2)
	id, ok := f.IssueFor("AB-1")
	assert.True(t, ok)
	assert.Equal(t, r.IssueID, id)
}

func TestCreateWithoutProjectFails(t *testing.T) {
	res := reconcile.Compute([]model.TimeRecord{worklog("w1", "2024-01-01", 1, "", "x")}, nil, reconcile.Options{})
	f := gapfill.New(res, newFakeLedger(), nil, nil, gapfill.Options{})
	r := f.CreateOne(context.Background(), res.MissingInLedger[0])
	assert.ErrorIs(t, r.Err, gapfill.ErrNoProject)
	assert.Equal(t, 1, res.Stats.Missing)
}

func TestObserverStatesAndPanics(t *testing.T) {
	res := reconcile.Compute([]model.TimeRecord{
		worklog("w1", "2024-01-01", 1, "", "ok"),
		worklog("w2", "2024-01-01", 2, "", "boom"),
	}, nil, reconcile.Options{})
	ledger := newFakeLedger()
	ledger.failEntry["boom"] = true

	var (
		mu     sync.Mutex
		states = map[string][]gapfill.State{}
	)
	obs := gapfill.ObserverFunc(func(e model.MissingEntry, s gapfill.State) {
		mu.Lock()
		states[e.SourceID] = append(states[e.SourceID], s)
		mu.Unlock()
		if s == gapfill.StateCreating {
			panic("ui went away")
		}
	})
	f := gapfill.New(res, ledger, nil, nil, gapfill.Options{DefaultProjectID: 3, Observer: obs})
	results := f.CreateAll(context.Background())

	assert.Equal(t, 1, gapfill.Summarize(results).Created)
	assert.Equal(t, []gapfill.State{gapfill.StatePending, gapfill.StateCreating, gapfill.StateCreated}, states["w1"])
	assert.Equal(t, []gapfill.State{gapfill.StatePending, gapfill.StateCreating, gapfill.StateFailed}, states["w2"])
}

func TestLookupTables(t *testing.T) {
	assert.Equal(t, 1, gapfill.PriorityID("Lowest", 2))
	assert.Equal(t, 4, gapfill.PriorityID(" critical ", 2))
	assert.Equal(t, 5, gapfill.PriorityID("Blocker", 2))
	assert.Equal(t, 2, gapfill.PriorityID("Whatever", 2))
	assert.Equal(t, 2, gapfill.StatusID("Code Review", 1))
	assert.Equal(t, 5, gapfill.StatusID("Done", 1))
	assert.Equal(t, 1, gapfill.StatusID("", 1))
}
