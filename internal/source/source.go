// Package source declares the collaborators the reconciliation core consumes
// and the service-native records they return.
package source

import (
	"context"
	"strings"
	"time"
)

// IDRef is a nested {"id": n} reference.
type IDRef struct {
	ID int `json:"id"`
}

// NamedRef is a nested {"id": n, "name": s} reference.
type NamedRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// RawWorklog is a worklog as returned by the Tempo API.
type RawWorklog struct {
	TempoWorklogID   int64   `json:"tempoWorklogId"`
	Issue            *IDRef  `json:"issue"`
	TimeSpentSeconds int64   `json:"timeSpentSeconds"`
	StartDate        string  `json:"startDate"`
	StartTime        string  `json:"startTime"`
	Description      *string `json:"description"`
	Author           struct {
		AccountID string `json:"accountId"`
	} `json:"author"`
}

// RawLedgerEntry is a Redmine time entry.
type RawLedgerEntry struct {
	ID       int      `json:"id"`
	Project  NamedRef `json:"project"`
	Issue    *IDRef   `json:"issue"`
	User     NamedRef `json:"user"`
	Activity NamedRef `json:"activity"`
	Hours    float64  `json:"hours"`
	Comments string   `json:"comments"`
	SpentOn  string   `json:"spent_on"`
	// JiraCode is filled by the adapter from the linked issue, if any.
	JiraCode string `json:"-"`
}

// IssueMetadata is what the issue tracker knows about one issue.
type IssueMetadata struct {
	ID           string
	Code         string
	Title        string
	PriorityName string
	StatusName   string
	BaseURL      string
}

// BrowseURL is the canonical human-facing URL of the issue.
func (m IssueMetadata) BrowseURL() string {
	return BrowseURL(m.BaseURL, m.Code)
}

// BrowseURL joins a Jira site URL and an issue code.
func BrowseURL(baseURL, code string) string {
	return strings.TrimRight(baseURL, "/") + "/browse/" + code
}

// LedgerIssue is a Redmine issue.
type LedgerIssue struct {
	ID          int      `json:"id"`
	Subject     string   `json:"subject"`
	Description string   `json:"description"`
	Project     NamedRef `json:"project"`
}

// IssuePayload describes a ledger issue to create.
type IssuePayload struct {
	ProjectID   int
	Subject     string
	Description string
	PriorityID  int
	StatusID    int
}

// TimeEntryPayload describes a ledger time entry to create. Exactly one of
// IssueID and ProjectID is expected to be set.
type TimeEntryPayload struct {
	IssueID    int
	ProjectID  int
	SpentOn    string
	Hours      float64
	Comments   string
	ActivityID int
}

// CreatedTimeEntry is the ledger's acknowledgement of a new time entry.
type CreatedTimeEntry struct {
	ID int `json:"id"`
}

// WorklogSource fetches worklogs for a date range and account.
type WorklogSource interface {
	FetchWorklogs(ctx context.Context, from, to time.Time, account string) ([]RawWorklog, error)
}

// LedgerSource fetches ledger time entries for a date range and account.
type LedgerSource interface {
	FetchTimeEntries(ctx context.Context, from, to time.Time, account string) ([]RawLedgerEntry, error)
}

// IssueMetadataSource looks up a single issue by numeric id or code.
type IssueMetadataSource interface {
	FetchIssue(ctx context.Context, ref string) (IssueMetadata, error)
}

// LedgerIssueSearcher searches the ledger's issue index.
type LedgerIssueSearcher interface {
	SearchIssues(ctx context.Context, query string) ([]LedgerIssue, error)
}

// LedgerWriter creates issues and time entries. The core does not retry.
type LedgerWriter interface {
	CreateIssue(ctx context.Context, p IssuePayload) (LedgerIssue, error)
	CreateTimeEntry(ctx context.Context, p TimeEntryPayload) (CreatedTimeEntry, error)
}

// Ledger is the full set of ledger operations.
type Ledger interface {
	LedgerSource
	LedgerIssueSearcher
	LedgerWriter
}
