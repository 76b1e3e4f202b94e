package gapfill

import "strings"

// Redmine priority ids by Jira priority name.
var priorityIDs = map[string]int{
	"lowest":   1,
	"low":      1,
	"minor":    1,
	"trivial":  1,
	"medium":   2,
	"high":     3,
	"major":    3,
	"highest":  4,
	"critical": 4,
	"blocker":  5,
}

// Redmine status ids by Jira status name.
var statusIDs = map[string]int{
	"to do":       1,
	"open":        1,
	"backlog":     1,
	"in progress": 2,
	"in review":   2,
	"code review": 2,
	"resolved":    3,
	"done":        5,
	"closed":      5,
}

// PriorityID maps a Jira priority name to a Redmine priority id, or def.
func PriorityID(name string, def int) int {
	if id, ok := priorityIDs[strings.ToLower(strings.TrimSpace(name))]; ok {
		return id
	}
	return def
}

// StatusID maps a Jira status name to a Redmine status id, or def.
func StatusID(name string, def int) int {
	if id, ok := statusIDs[strings.ToLower(strings.TrimSpace(name))]; ok {
		return id
	}
	return def
}
