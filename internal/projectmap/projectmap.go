// Package projectmap decides which ledger project a new issue belongs to.
package projectmap

import (
	"strings"

	"go.uber.org/zap"

	"github.com/Tiliavir/timesync/internal/model"
)

// Lister supplies the ordered mapping list.
type Lister interface {
	List() ([]model.ProjectMapping, error)
}

// Match returns the project of the first mapping whose normalized prefix and
// the normalized contextURL contain one another.
func Match(mappings []model.ProjectMapping, contextURL string) (int, bool) {
	u := normalize(contextURL)
	if u == "" {
		return 0, false
	}
	for _, m := range mappings {
		p := normalize(m.JiraURLPrefix)
		if p == "" {
			continue
		}
		if strings.Contains(u, p) || strings.Contains(p, u) {
			return m.RedmineProjectID, true
		}
	}
	return 0, false
}

func normalize(s string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(s)), "/")
}

// Resolver resolves context URLs against a stored mapping list.
type Resolver struct {
	src Lister
	log *zap.Logger
}

// New creates a Resolver. log may be nil.
func New(src Lister, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{src: src, log: log}
}

// Resolve returns the mapped project for contextURL. A failure to read the
// mappings is logged and treated as no match so the caller falls back to its default.
func (r *Resolver) Resolve(contextURL string) (int, bool) {
	if r == nil || r.src == nil {
		return 0, false
	}
	mappings, err := r.src.List()
	if err != nil {
		r.log.Warn("reading project mappings failed", zap.Error(err))
		return 0, false
	}
	return Match(mappings, contextURL)
}
