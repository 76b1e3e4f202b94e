package model

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// MatchReason tags one contribution to a similarity score.
type MatchReason string

const (
	ReasonIssueCodeMatch     MatchReason = "issueCodeMatch"
	ReasonHoursMatch         MatchReason = "hoursMatch"
	ReasonHoursSimilar       MatchReason = "hoursSimilar"
	ReasonDescriptionSimilar MatchReason = "descriptionSimilar"
)

// MatchKind classifies an accepted match.
type MatchKind string

const (
	MatchExact   MatchKind = "exact"
	MatchPartial MatchKind = "partial"
)

// Match pairs a worklog record with the ledger record it was matched to.
type Match struct {
	Worklog    TimeRecord    `json:"worklog"`
	Ledger     *TimeRecord   `json:"ledger"`
	Similarity float64       `json:"similarity"`
	Reasons    []MatchReason `json:"matchReasons"`
	Kind       MatchKind     `json:"kind"`
}

// Discrepancy is a partial match whose hours differ. Only produced in strict mode.
type Discrepancy struct {
	Match      Match   `json:"match"`
	HoursDelta float64 `json:"hoursDelta"`
}

// MappingStatus describes how a worklog's issue code relates to ledger issues.
type MappingStatus string

const (
	StatusNoJiraTask       MappingStatus = "no_jira_task"
	StatusJiraIDUnresolved MappingStatus = "jira_id_unresolved"
	StatusNoRedmineLink    MappingStatus = "no_redmine_link"
	StatusSingleLink       MappingStatus = "single_link"
	StatusMultipleLinks    MappingStatus = "multiple_links"
)

// Linked reports whether the status points at an existing ledger issue.
func (s MappingStatus) Linked() bool {
	return s == StatusSingleLink || s == StatusMultipleLinks
}

// Suggestion is a same-date ledger record offered for human review.
type Suggestion struct {
	Record  TimeRecord    `json:"record"`
	Score   float64       `json:"score"`
	Reasons []MatchReason `json:"reasons"`
}

// MissingEntry is a worklog record without an accepted ledger match.
type MissingEntry struct {
	TimeRecord
	RedmineTask        *int          `json:"redmineTask"`
	JiraTask           *string       `json:"jiraTask"`
	MappingStatus      MappingStatus `json:"mappingStatus"`
	LinkedLedgerIssues []int         `json:"linkedLedgerIssues,omitempty"`
	// ProjectID is an entry-level default used when the entry has no issue.
	ProjectID   *int         `json:"projectId,omitempty"`
	Suggestions []Suggestion `json:"suggestions,omitempty"`
}

// Key identifies the entry within one result: date, hours and issue code.
func (e MissingEntry) Key() string {
	task := "no-jira"
	if e.JiraTask != nil && *e.JiraTask != "" {
		task = *e.JiraTask
	}
	return e.Date + "_" + strconv.FormatFloat(e.Hours, 'f', -1, 64) + "_" + task
}

// Stats aggregates a reconciliation run.
type Stats struct {
	TempoTotal    int             `json:"tempoTotal"`
	TempoHours    decimal.Decimal `json:"tempoHours"`
	RedmineTotal  int             `json:"redmineTotal"`
	RedmineHours  decimal.Decimal `json:"redmineHours"`
	Missing       int             `json:"missing"`
	MissingHours  decimal.Decimal `json:"missingHours"`
	Matched       int             `json:"matched"`
	Discrepancies int             `json:"discrepancies"`
	WithIssueRef  int             `json:"withIssueRef"`
	Linked        int             `json:"linked"`
	MappingRate   float64         `json:"mappingRate"`
}

// Result is the outcome of one reconciliation run. After it is computed only
// the gap filler mutates it, through the reconcile package commands.
type Result struct {
	From            string         `json:"from"`
	To              string         `json:"to"`
	MissingInLedger []MissingEntry `json:"missingInLedger"`
	Matched         []Match        `json:"matched"`
	Discrepancies   []Discrepancy  `json:"discrepancies,omitempty"`
	Stats           Stats          `json:"stats"`
}

// FindMissing returns the index of the pending entry with the given key, or -1.
func (r *Result) FindMissing(key string) int {
	for i := range r.MissingInLedger {
		if r.MissingInLedger[i].Key() == key {
			return i
		}
	}
	return -1
}
