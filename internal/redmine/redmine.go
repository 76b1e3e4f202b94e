// Package redmine is the ledger adapter: it reads time entries, searches and
// creates issues, and creates time entries in Redmine.
package redmine

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Tiliavir/timesync/internal/httpx"
	"github.com/Tiliavir/timesync/internal/source"
	"github.com/Tiliavir/timesync/internal/timecalc"
)

// APIKeyHeader carries the Redmine API key.
const APIKeyHeader = "X-Redmine-API-Key"

const (
	pageSize    = 100
	searchLimit = 25
)

// Client implements source.Ledger.
type Client struct {
	http   *httpx.Client
	userID string
	log    *zap.Logger
}

// New creates a Client. userID filters time entries by default ("me" when empty).
func New(c *httpx.Client, userID string, log *zap.Logger) *Client {
	if userID == "" {
		userID = "me"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{http: c, userID: userID, log: log}
}

type timeEntriesPage struct {
	TimeEntries []source.RawLedgerEntry `json:"time_entries"`
	TotalCount  int                     `json:"total_count"`
	Offset      int                     `json:"offset"`
	Limit       int                     `json:"limit"`
}

// FetchTimeEntries returns all time entries in [from, to] for account (the
// configured user when empty), enriched with the issue code of their issue.
func (c *Client) FetchTimeEntries(ctx context.Context, from, to time.Time, account string) ([]source.RawLedgerEntry, error) {
	if account == "" {
		account = c.userID
	}
	all := []source.RawLedgerEntry{}
	for offset := 0; ; {
		query := url.Values{
			"user_id": {account},
			"from":    {from.Format(timecalc.DateLayout)},
			"to":      {to.Format(timecalc.DateLayout)},
			"limit":   {strconv.Itoa(pageSize)},
			"offset":  {strconv.Itoa(offset)},
		}
		var page timeEntriesPage
		if err := c.http.GetJSON(ctx, "/time_entries.json", query, &page); err != nil {
			return nil, fmt.Errorf("fetching redmine time entries: %w", err)
		}
		all = append(all, page.TimeEntries...)
		offset += len(page.TimeEntries)
		if len(page.TimeEntries) == 0 || offset >= page.TotalCount {
			break
		}
	}

	c.enrich(ctx, all)
	return all, nil
}

// enrich fills JiraCode from the subject or description of each entry's issue.
// Lookup failures leave entries without a code.
func (c *Client) enrich(ctx context.Context, entries []source.RawLedgerEntry) {
	var ids []int
	seen := map[int]bool{}
	for _, e := range entries {
		if e.Issue == nil || e.Issue.ID == 0 || seen[e.Issue.ID] {
			continue
		}
		seen[e.Issue.ID] = true
		ids = append(ids, e.Issue.ID)
	}

	codes := map[int]string{}
	for start := 0; start < len(ids); start += pageSize {
		end := min(start+pageSize, len(ids))
		issues, err := c.issuesByID(ctx, ids[start:end])
		if err != nil {
			c.log.Warn("redmine issue enrichment failed", zap.Int("issues", end-start), zap.Error(err))
			continue
		}
		for _, is := range issues {
			if code := source.CodeFromIssue(is.Subject, is.Description); code != "" {
				codes[is.ID] = code
			}
		}
	}

	for i := range entries {
		if entries[i].Issue != nil {
			entries[i].JiraCode = codes[entries[i].Issue.ID]
		}
	}
}

type issuesPage struct {
	Issues []source.LedgerIssue `json:"issues"`
}

func (c *Client) issuesByID(ctx context.Context, ids []int) ([]source.LedgerIssue, error) {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	query := url.Values{
		"issue_id":  {strings.Join(parts, ",")},
		"status_id": {"*"},
		"limit":     {strconv.Itoa(pageSize)},
	}
	var page issuesPage
	if err := c.http.GetJSON(ctx, "/issues.json", query, &page); err != nil {
		return nil, err
	}
	return page.Issues, nil
}

type searchResponse struct {
	Results []struct {
		ID          int    `json:"id"`
		Title       string `json:"title"`
		Type        string `json:"type"`
		Description string `json:"description"`
	} `json:"results"`
}

// SearchIssues runs a full-text issue search.
func (c *Client) SearchIssues(ctx context.Context, query string) ([]source.LedgerIssue, error) {
	q := url.Values{
		"q":           {query},
		"issues":      {"1"},
		"all_words":   {"1"},
		"titles_only": {"0"},
		"limit":       {strconv.Itoa(searchLimit)},
	}
	var resp searchResponse
	if err := c.http.GetJSON(ctx, "/search.json", q, &resp); err != nil {
		return nil, fmt.Errorf("searching redmine issues for %q: %w", query, err)
	}
	out := make([]source.LedgerIssue, 0, len(resp.Results))
	for _, r := range resp.Results {
		if !strings.HasPrefix(r.Type, "issue") {
			continue
		}
		out = append(out, source.LedgerIssue{ID: r.ID, Subject: subjectFromTitle(r.Title), Description: r.Description})
	}
	return out, nil
}

// subjectFromTitle strips the "Tracker #id (Status): " prefix of search titles.
func subjectFromTitle(title string) string {
	if i := strings.Index(title, "): "); i >= 0 && strings.Contains(title[:i], "#") {
		return title[i+3:]
	}
	return title
}

type issueRequest struct {
	Issue struct {
		ProjectID   int    `json:"project_id"`
		Subject     string `json:"subject"`
		Description string `json:"description,omitempty"`
		PriorityID  int    `json:"priority_id,omitempty"`
		StatusID    int    `json:"status_id,omitempty"`
	} `json:"issue"`
}

type issueResponse struct {
	Issue source.LedgerIssue `json:"issue"`
}

// CreateIssue creates an issue.
func (c *Client) CreateIssue(ctx context.Context, p source.IssuePayload) (source.LedgerIssue, error) {
	var req issueRequest
	req.Issue.ProjectID = p.ProjectID
	req.Issue.Subject = p.Subject
	req.Issue.Description = p.Description
	req.Issue.PriorityID = p.PriorityID
	req.Issue.StatusID = p.StatusID

	var resp issueResponse
	if err := c.http.PostJSON(ctx, "/issues.json", req, &resp); err != nil {
		return source.LedgerIssue{}, fmt.Errorf("creating redmine issue %q: %w", p.Subject, err)
	}
	if resp.Issue.ID == 0 {
		return source.LedgerIssue{}, fmt.Errorf("creating redmine issue %q: response has no id", p.Subject)
	}
	return resp.Issue, nil
}

type timeEntryRequest struct {
	TimeEntry struct {
		IssueID    int     `json:"issue_id,omitempty"`
		ProjectID  int     `json:"project_id,omitempty"`
		SpentOn    string  `json:"spent_on"`
		Hours      float64 `json:"hours"`
		Comments   string  `json:"comments"`
		ActivityID int     `json:"activity_id,omitempty"`
	} `json:"time_entry"`
}

type timeEntryResponse struct {
	TimeEntry source.CreatedTimeEntry `json:"time_entry"`
}

// CreateTimeEntry creates a time entry on an issue or, without issue, on a project.
func (c *Client) CreateTimeEntry(ctx context.Context, p source.TimeEntryPayload) (source.CreatedTimeEntry, error) {
	if p.IssueID == 0 && p.ProjectID == 0 {
		return source.CreatedTimeEntry{}, fmt.Errorf("time entry for %s needs an issue or a project", p.SpentOn)
	}
	var req timeEntryRequest
	req.TimeEntry.IssueID = p.IssueID
	if p.IssueID == 0 {
		req.TimeEntry.ProjectID = p.ProjectID
	}
	req.TimeEntry.SpentOn = p.SpentOn
	req.TimeEntry.Hours = p.Hours
	req.TimeEntry.Comments = p.Comments
	req.TimeEntry.ActivityID = p.ActivityID

	var resp timeEntryResponse
	if err := c.http.PostJSON(ctx, "/time_entries.json", req, &resp); err != nil {
		return source.CreatedTimeEntry{}, fmt.Errorf("creating redmine time entry for %s: %w", p.SpentOn, err)
	}
	return resp.TimeEntry, nil
}
