package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tiliavir/timesync/internal/gapfill"
	"github.com/Tiliavir/timesync/internal/model"
	"github.com/Tiliavir/timesync/internal/session"
	"github.com/Tiliavir/timesync/internal/source"
)

type fakeWorklogs struct {
	worklogs []source.RawWorklog
	err      error
}

func (f *fakeWorklogs) FetchWorklogs(context.Context, time.Time, time.Time, string) ([]source.RawWorklog, error) {
	return f.worklogs, f.err
}

type fakeIssues map[string]source.IssueMetadata

func (f fakeIssues) FetchIssue(_ context.Context, ref string) (source.IssueMetadata, error) {
	m, ok := f[ref]
	if !ok {
		return source.IssueMetadata{}, errors.New("not found")
	}
	return m, nil
}

// memLedger is an in-memory ledger that enriches entries like the Redmine adapter.
type memLedger struct {
	mu      sync.Mutex
	issues  []source.LedgerIssue
	entries []source.RawLedgerEntry
	err     error
}

func (l *memLedger) FetchTimeEntries(context.Context, time.Time, time.Time, string) ([]source.RawLedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	out := make([]source.RawLedgerEntry, len(l.entries))
	copy(out, l.entries)
	for i := range out {
		if out[i].Issue == nil {
			continue
		}
		for _, is := range l.issues {
			if is.ID == out[i].Issue.ID {
				out[i].JiraCode = source.CodeFromIssue(is.Subject, is.Description)
			}
		}
	}
	return out, nil
}

func (l *memLedger) SearchIssues(context.Context, string) ([]source.LedgerIssue, error) {
	return nil, nil
}

func (l *memLedger) CreateIssue(_ context.Context, p source.IssuePayload) (source.LedgerIssue, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	is := source.LedgerIssue{ID: 500 + len(l.issues), Subject: p.Subject, Description: p.Description, Project: source.NamedRef{ID: p.ProjectID}}
	l.issues = append(l.issues, is)
	return is, nil
}

func (l *memLedger) CreateTimeEntry(_ context.Context, p source.TimeEntryPayload) (source.CreatedTimeEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := source.RawLedgerEntry{
		ID:       900 + len(l.entries),
		Project:  source.NamedRef{ID: p.ProjectID},
		Hours:    p.Hours,
		Comments: p.Comments,
		SpentOn:  p.SpentOn,
	}
	if p.IssueID != 0 {
		e.Issue = &source.IDRef{ID: p.IssueID}
	}
	l.entries = append(l.entries, e)
	return source.CreatedTimeEntry{ID: e.ID}, nil
}

func day(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

func TestEndToEnd(t *testing.T) {
	desc := "Fix bug"
	worklogs := &fakeWorklogs{worklogs: []source.RawWorklog{{
		TempoWorklogID:   1,
		Issue:            &source.IDRef{ID: 10001},
		TimeSpentSeconds: 4 * 3600,
		StartDate:        "2024-01-05",
		Description:      &desc,
	}}}
	ledger := &memLedger{}
	issues := fakeIssues{"10001": {ID: "10001", Code: "AB-1", Title: "Login broken", BaseURL: "https://co.atlassian.net"}}

	s := session.New(session.Sources{Worklogs: worklogs, Ledger: ledger, Issues: issues},
		session.Options{Fill: gapfill.Options{DefaultProjectID: 3}})

	ctx := context.Background()
	res, err := s.Reconcile(ctx, day("2024-01-01"), day("2024-01-07"))
	require.NoError(t, err)
	require.Len(t, res.MissingInLedger, 1)
	entry := res.MissingInLedger[0]
	assert.Equal(t, model.StatusNoRedmineLink, entry.MappingStatus)
	require.NotNil(t, entry.JiraTask)
	assert.Equal(t, "AB-1", *entry.JiraTask)
	assert.Equal(t, "2024-01-01", res.From)

	created, err := s.CreateOne(ctx, entry.Key(), "")
	require.NoError(t, err)
	require.NoError(t, created.Err)

	require.Len(t, ledger.issues, 1)
	assert.Equal(t, "AB-1: Login broken", ledger.issues[0].Subject)
	assert.Equal(t, 3, ledger.issues[0].Project.ID)
	require.Len(t, ledger.entries, 1)
	assert.Equal(t, 4.0, ledger.entries[0].Hours)
	assert.Equal(t, "2024-01-05", ledger.entries[0].SpentOn)
	assert.Equal(t, "Fix bug", ledger.entries[0].Comments)

	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, snap.MissingInLedger)
	assert.Equal(t, 0, snap.Stats.Missing)
	assert.True(t, snap.Stats.RedmineHours.Equal(decimal.NewFromInt(4)))

	// A fresh comparison now matches the created entry.
	res, err = s.Reconcile(ctx, day("2024-01-01"), day("2024-01-07"))
	require.NoError(t, err)
	assert.Empty(t, res.MissingInLedger)
	require.Len(t, res.Matched, 1)
	assert.Equal(t, model.MatchExact, res.Matched[0].Kind)
	assert.InDelta(t, 1.0, res.Stats.MappingRate, 1e-9)
}

func TestReconcileFetchFailureKeepsPreviousResult(t *testing.T) {
	worklogs := &fakeWorklogs{}
	ledger := &memLedger{}
	s := session.New(session.Sources{Worklogs: worklogs, Ledger: ledger, Issues: fakeIssues{}}, session.Options{})

	_, err := s.Snapshot()
	assert.ErrorIs(t, err, session.ErrNoResult)
	_, err = s.CreateAll(context.Background(), "")
	assert.ErrorIs(t, err, session.ErrNoResult)

	_, err = s.Reconcile(context.Background(), day("2024-01-01"), day("2024-01-01"))
	require.NoError(t, err)

	ledger.err = errors.New("redmine down")
	_, err = s.Reconcile(context.Background(), day("2024-01-01"), day("2024-01-01"))
	assert.ErrorContains(t, err, "redmine down")

	_, err = s.Snapshot()
	assert.NoError(t, err, "previous result survives a failed run")
}

func TestCreateAllUsesContextProject(t *testing.T) {
	desc := "Standup"
	worklogs := &fakeWorklogs{worklogs: []source.RawWorklog{{
		TempoWorklogID: 7, TimeSpentSeconds: 900, StartDate: "2024-02-01", Description: &desc,
	}}}
	ledger := &memLedger{}
	projects := projectsFunc(func(u string) (int, bool) {
		if u == "https://co.atlassian.net/browse/AB-1" {
			return 42, true
		}
		return 0, false
	})
	s := session.New(session.Sources{Worklogs: worklogs, Ledger: ledger, Issues: fakeIssues{}},
		session.Options{Projects: projects, Fill: gapfill.Options{DefaultProjectID: 1}})

	_, err := s.Reconcile(context.Background(), day("2024-02-01"), day("2024-02-01"))
	require.NoError(t, err)
	results, err := s.CreateAll(context.Background(), "https://co.atlassian.net/browse/AB-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, 42, ledger.entries[0].Project.ID)
	assert.Equal(t, 0.25, ledger.entries[0].Hours)
}

type projectsFunc func(string) (int, bool)

func (f projectsFunc) Resolve(u string) (int, bool) { return f(u) }

func TestReconcileResultIsDetached(t *testing.T) {
	var raw []source.RawWorklog
	for i := 0; i < 200; i++ {
		desc := fmt.Sprintf("task %d", i)
		raw = append(raw, source.RawWorklog{
			TempoWorklogID: int64(i + 1), TimeSpentSeconds: 1800, StartDate: "2024-03-04", Description: &desc,
		})
	}
	ledger := &memLedger{}
	s := session.New(session.Sources{Worklogs: &fakeWorklogs{worklogs: raw}, Ledger: ledger, Issues: fakeIssues{}},
		session.Options{Fill: gapfill.Options{DefaultProjectID: 1}})

	res, err := s.Reconcile(context.Background(), day("2024-03-04"), day("2024-03-04"))
	require.NoError(t, err)
	require.Len(t, res.MissingInLedger, 200)

	done := make(chan []gapfill.CreatedEntry)
	go func() {
		created, _ := s.CreateAll(context.Background(), "")
		done <- created
	}()
	for i := 0; i < 20; i++ {
		_, err := json.Marshal(res)
		require.NoError(t, err)
	}
	created := <-done
	require.Len(t, created, 200)

	assert.Len(t, res.MissingInLedger, 200, "returned result is not touched by creations")
	assert.Equal(t, 200, res.Stats.Missing)

	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, snap.MissingInLedger)
	assert.Equal(t, 0, snap.Stats.Missing)
}
