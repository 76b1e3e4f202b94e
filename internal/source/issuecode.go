package source

import "regexp"

var (
	issueCodePattern = regexp.MustCompile(`\b[A-Z][A-Z0-9]+-[0-9]+\b`)
	browseURLPattern = regexp.MustCompile(`/browse/([A-Z][A-Z0-9]+-[0-9]+)\b`)
)

// FindIssueCode returns the first canonical issue code (e.g. "AB-123") in s.
func FindIssueCode(s string) string {
	return issueCodePattern.FindString(s)
}

// IsIssueCode reports whether s is exactly one canonical issue code.
func IsIssueCode(s string) bool {
	return s != "" && issueCodePattern.FindString(s) == s
}

// CodeFromIssue extracts the issue code a ledger issue was created for: from
// the subject first, then from a browse URL in the description.
func CodeFromIssue(subject, description string) string {
	if code := FindIssueCode(subject); code != "" {
		return code
	}
	if m := browseURLPattern.FindStringSubmatch(description); m != nil {
		return m[1]
	}
	return ""
}
