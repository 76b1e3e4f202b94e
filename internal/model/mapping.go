package model

import "time"

// ProjectMapping routes issues from a Jira site to a Redmine project.
type ProjectMapping struct {
	ID               string    `json:"id"`
	JiraURLPrefix    string    `json:"jiraUrlPrefix"`
	RedmineProjectID int       `json:"redmineProjectId"`
	Description      string    `json:"description"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// MappingFile is the top-level structure stored in mappings.json.
type MappingFile struct {
	Mappings []ProjectMapping `json:"mappings"`
}
