package projectmap_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Tiliavir/timesync/internal/model"
	"github.com/Tiliavir/timesync/internal/projectmap"
)

func TestMatch(t *testing.T) {
	mappings := []model.ProjectMapping{
		{ID: "1", JiraURLPrefix: "https://co.atlassian.net", RedmineProjectID: 12},
	}
	tests := []struct {
		name string
		url  string
		want int
		ok   bool
	}{
		{"browse url", "https://co.atlassian.net/browse/AB-1", 12, true},
		{"exact", "https://co.atlassian.net", 12, true},
		{"trailing slash and case", "HTTPS://CO.atlassian.net/", 12, true},
		{"other site", "https://other.atlassian.net", 0, false},
		{"empty", "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := projectmap.Match(mappings, tt.url)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchEitherDirection(t *testing.T) {
	mappings := []model.ProjectMapping{
		{JiraURLPrefix: "https://co.atlassian.net/browse/AB", RedmineProjectID: 3},
	}
	got, ok := projectmap.Match(mappings, "https://co.atlassian.net")
	assert.True(t, ok, "context url contained in prefix")
	assert.Equal(t, 3, got)
}

func TestMatchFirstWins(t *testing.T) {
	mappings := []model.ProjectMapping{
		{JiraURLPrefix: "", RedmineProjectID: 99},
		{JiraURLPrefix: "co.atlassian.net", RedmineProjectID: 1},
		{JiraURLPrefix: "https://co.atlassian.net", RedmineProjectID: 2},
	}
	got, ok := projectmap.Match(mappings, "https://co.atlassian.net/browse/X-1")
	assert.True(t, ok)
	assert.Equal(t, 1, got, "empty prefixes are skipped, first real match wins")
}

type listFunc func() ([]model.ProjectMapping, error)

func (f listFunc) List() ([]model.ProjectMapping, error) { return f() }

func TestResolver(t *testing.T) {
	r := projectmap.New(listFunc(func() ([]model.ProjectMapping, error) {
		return []model.ProjectMapping{{JiraURLPrefix: "https://co.atlassian.net", RedmineProjectID: 5}}, nil
	}), nil)
	got, ok := r.Resolve("https://co.atlassian.net/browse/AB-1")
	assert.True(t, ok)
	assert.Equal(t, 5, got)

	failing := projectmap.New(listFunc(func() ([]model.ProjectMapping, error) {
		return nil, errors.New("disk on fire")
	}), nil)
	_, ok = failing.Resolve("https://co.atlassian.net")
	assert.False(t, ok)

	var nilResolver *projectmap.Resolver
	_, ok = nilResolver.Resolve("https://co.atlassian.net")
	assert.False(t, ok)
}
