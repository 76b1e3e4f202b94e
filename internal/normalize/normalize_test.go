package normalize_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tiliavir/timesync/internal/model"
	"github.com/Tiliavir/timesync/internal/normalize"
	"github.com/Tiliavir/timesync/internal/source"
)

// fakeIssues is an in-memory IssueMetadataSource that counts fetches.
type fakeIssues struct {
	mu     sync.Mutex
	issues map[string]source.IssueMetadata
	calls  map[string]int
}

func newFakeIssues(issues ...source.IssueMetadata) *fakeIssues {
	f := &fakeIssues{issues: map[string]source.IssueMetadata{}, calls: map[string]int{}}
	for _, m := range issues {
		f.issues[m.ID] = m
		f.issues[m.Code] = m
	}
	return f
}

func (f *fakeIssues) FetchIssue(_ context.Context, ref string) (source.IssueMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[ref]++
	m, ok := f.issues[ref]
	if !ok {
		return source.IssueMetadata{}, errors.New("issue does not exist")
	}
	return m, nil
}

func (f *fakeIssues) count(ref string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[ref]
}

func worklog(id int64, date string, seconds int64, issueID int, desc string) source.RawWorklog {
	w := source.RawWorklog{
		TempoWorklogID:   id,
		TimeSpentSeconds: seconds,
		StartDate:        date,
		Description:      &desc,
	}
	if issueID != 0 {
		w.Issue = &source.IDRef{ID: issueID}
	}
	return w
}

func TestDurationConversion(t *testing.T) {
	for s := int64(0); s <= 3*3600; s += 37 {
		rec := normalize.WorklogRecord(worklog(1, "2024-06-01", s, 0, ""), "")
		assert.Equal(t, float64(s)/3600, rec.Hours, "seconds=%d", s)

		again, problems := normalize.Clean(rec)
		assert.Empty(t, problems)
		assert.Equal(t, rec, again, "re-normalizing must be a no-op")
	}
}

func TestWorklogRecordNilDescription(t *testing.T) {
	w := worklog(7, "2024-06-01", 3600, 0, "")
	w.Description = nil
	rec := normalize.WorklogRecord(w, "")
	assert.Equal(t, "", rec.Description)
	assert.Nil(t, rec.LinkedIssueCode)
	assert.Equal(t, "7", rec.SourceID)
	assert.Equal(t, model.OriginWorklog, rec.Origin)
}

func TestLedgerRecord(t *testing.T) {
	rec := normalize.LedgerRecord(source.RawLedgerEntry{
		ID:       55,
		Issue:    &source.IDRef{ID: 901},
		Hours:    2.5,
		Comments: "Review",
		SpentOn:  "2024-06-01",
		JiraCode: "AB-1",
	})
	require.NotNil(t, rec.LinkedIssueCode)
	assert.Equal(t, "AB-1", *rec.LinkedIssueCode)
	assert.Equal(t, 901, rec.LedgerIssueID())
	assert.Equal(t, 2.5, rec.Hours)
	assert.Equal(t, "55", rec.SourceID)
	assert.Equal(t, model.OriginLedger, rec.Origin)

	bare := normalize.LedgerRecord(source.RawLedgerEntry{ID: 56, Hours: 1, SpentOn: "2024-06-01"})
	assert.Nil(t, bare.LinkedIssueCode)
	assert.Nil(t, bare.LinkedLedgerIssueID)
}

func TestCleanSoftFailures(t *testing.T) {
	rec, problems := normalize.Clean(model.TimeRecord{Date: "2024-06-01T08:00:00Z", Hours: -1})
	assert.Len(t, problems, 1)
	assert.Equal(t, "2024-06-01", rec.Date)
	assert.Equal(t, 0.0, rec.Hours)

	rec, problems = normalize.Clean(model.TimeRecord{Date: "not a date", Hours: 1})
	assert.Len(t, problems, 1)
	assert.Equal(t, "not a date", rec.Date, "malformed dates are kept for best-effort processing")
}

func TestNormalizeResolvesIssueCodes(t *testing.T) {
	issues := newFakeIssues(source.IssueMetadata{ID: "100", Code: "AB-1", Title: "Login"})
	n := normalize.New(normalize.NewResolver(issues, nil), nil)

	worklogs := []source.RawWorklog{
		worklog(1, "2024-06-01", 3600, 100, "Fix bug"),
		worklog(2, "2024-06-02", 1800, 100, "More fixing"),
		worklog(3, "2024-06-02", 900, 404, "Unknown issue"),
		worklog(4, "2024-06-03", 600, 0, "No issue"),
	}
	entries := []source.RawLedgerEntry{{ID: 9, Hours: 1, SpentOn: "2024-06-01", JiraCode: "AB-1"}}

	wr, lr := n.Normalize(context.Background(), worklogs, entries)
	require.Len(t, wr, 4)
	require.Len(t, lr, 1)

	assert.Equal(t, "AB-1", wr[0].IssueCode())
	assert.Equal(t, "AB-1", wr[1].IssueCode())
	assert.Nil(t, wr[2].LinkedIssueCode, "failed lookups degrade linkage")
	assert.Equal(t, "404", wr[2].LinkedIssueRef)
	assert.Nil(t, wr[3].LinkedIssueCode)
	assert.Equal(t, "", wr[3].LinkedIssueRef)

	assert.Equal(t, 1, issues.count("100"), "one fetch per unique id")
	assert.Equal(t, 1, issues.count("404"))
}

func TestResolverCachesNegativeResults(t *testing.T) {
	issues := newFakeIssues()
	r := normalize.NewResolver(issues, nil)
	ctx := context.Background()

	for range 3 {
		code, ok := r.Resolve(ctx, "404")
		assert.False(t, ok)
		assert.Equal(t, "", code)
	}
	assert.Equal(t, 1, issues.count("404"), "failed lookups are not retried within a run")
}

func TestResolverLookupByCodeReusesIDFetch(t *testing.T) {
	issues := newFakeIssues(source.IssueMetadata{ID: "100", Code: "AB-1", Title: "Login"})
	r := normalize.NewResolver(issues, nil)
	ctx := context.Background()

	code, ok := r.Resolve(ctx, "100")
	require.True(t, ok)
	assert.Equal(t, "AB-1", code)

	meta, err := r.Lookup(ctx, "AB-1")
	require.NoError(t, err)
	assert.Equal(t, "Login", meta.Title)
	assert.Equal(t, 0, issues.count("AB-1"), "metadata fetched by id is cached under its code")
}

func TestResolveAllIndependentFailures(t *testing.T) {
	issues := newFakeIssues(
		source.IssueMetadata{ID: "1", Code: "AB-1"},
		source.IssueMetadata{ID: "3", Code: "AB-3"},
	)
	r := normalize.NewResolver(issues, nil)

	got := r.ResolveAll(context.Background(), []string{"1", "2", "3", "1", ""})
	assert.Equal(t, map[string]string{"1": "AB-1", "3": "AB-3"}, got)
	assert.Equal(t, 1, issues.count("1"))
}
