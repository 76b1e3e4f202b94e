// Package jira looks up issue metadata in Jira.
package jira

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/Tiliavir/timesync/internal/httpx"
	"github.com/Tiliavir/timesync/internal/source"
)

// Client implements source.IssueMetadataSource.
type Client struct {
	http *httpx.Client
}

// New creates a Client.
func New(c *httpx.Client) *Client {
	return &Client{http: c}
}

type issueResponse struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Self   string `json:"self"`
	Fields struct {
		Summary  string `json:"summary"`
		Priority *struct {
			Name string `json:"name"`
		} `json:"priority"`
		Status *struct {
			Name string `json:"name"`
		} `json:"status"`
	} `json:"fields"`
}

// FetchIssue looks up an issue by numeric id or key.
func (c *Client) FetchIssue(ctx context.Context, ref string) (source.IssueMetadata, error) {
	var resp issueResponse
	path := "/rest/api/3/issue/" + url.PathEscape(ref)
	query := url.Values{"fields": {"summary,priority,status"}}
	if err := c.http.GetJSON(ctx, path, query, &resp); err != nil {
		return source.IssueMetadata{}, fmt.Errorf("fetching jira issue %s: %w", ref, err)
	}
	if resp.Key == "" {
		return source.IssueMetadata{}, fmt.Errorf("jira issue %s: response has no key", ref)
	}

	meta := source.IssueMetadata{
		ID:      resp.ID,
		Code:    resp.Key,
		Title:   resp.Fields.Summary,
		BaseURL: siteURL(resp.Self, c.http.BaseURL()),
	}
	if resp.Fields.Priority != nil {
		meta.PriorityName = resp.Fields.Priority.Name
	}
	if resp.Fields.Status != nil {
		meta.StatusName = resp.Fields.Status.Name
	}
	return meta, nil
}

// siteURL derives the Jira site from an API self link.
func siteURL(self, fallback string) string {
	if i := strings.Index(self, "/rest/"); i > 0 {
		return self[:i]
	}
	return fallback
}
