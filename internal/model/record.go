package model

// Origin tags which system a TimeRecord was read from.
type Origin string

const (
	OriginWorklog Origin = "worklog"
	OriginLedger  Origin = "ledger"
)

// TimeRecord is a time entry from either side, normalized to hours.
type TimeRecord struct {
	Date        string  `json:"date"`
	Hours       float64 `json:"hours"`
	Description string  `json:"description"`
	SourceID    string  `json:"sourceId"`
	// LinkedIssueRef is the raw issue reference carried by a worklog. It is kept
	// even when it could not be resolved to a code.
	LinkedIssueRef      string  `json:"linkedIssueRef,omitempty"`
	LinkedIssueCode     *string `json:"linkedIssueCode"`
	LinkedLedgerIssueID *int    `json:"linkedLedgerIssueId"`
	Origin              Origin  `json:"origin"`
}

// IssueCode returns the canonical issue code or "" when none is linked.
func (r TimeRecord) IssueCode() string {
	if r.LinkedIssueCode == nil {
		return ""
	}
	return *r.LinkedIssueCode
}

// LedgerIssueID returns the linked ledger issue id or 0.
func (r TimeRecord) LedgerIssueID() int {
	if r.LinkedLedgerIssueID == nil {
		return 0
	}
	return *r.LinkedLedgerIssueID
}

// StringPtr returns nil for an empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// IntPtr returns nil for zero.
func IntPtr(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}
