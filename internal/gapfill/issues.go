package gapfill

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Tiliavir/timesync/internal/source"
)

// ensureIssues resolves or creates a ledger issue for each code concurrently.
// It returns the failures by code.
func (f *Filler) ensureIssues(ctx context.Context, codes []string) map[string]error {
	var (
		mu   sync.Mutex
		errs = make(map[string]error)
	)
	g := new(errgroup.Group)
	g.SetLimit(f.opts.Concurrency)
	for _, code := range codes {
		g.Go(func() error {
			if _, err := f.ensureIssue(ctx, code); err != nil {
				mu.Lock()
				errs[code] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// ensureIssue returns the ledger issue for code, reusing the run map, then an
// existing ledger issue, and creating one only when neither exists. Only
// successes are remembered so a later call retries failed codes.
func (f *Filler) ensureIssue(ctx context.Context, code string) (issueOutcome, error) {
	if o, ok := f.outcome(code); ok {
		return o, nil
	}
	v, err, _ := f.group.Do(code, func() (interface{}, error) {
		if o, ok := f.outcome(code); ok {
			return o, nil
		}
		o, err := f.findOrCreateIssue(ctx, code)
		if err != nil {
			return issueOutcome{}, err
		}
		f.mu.Lock()
		f.byCode[code] = o
		f.mu.Unlock()
		return o, nil
	})
	if err != nil {
		return issueOutcome{}, err
	}
	return v.(issueOutcome), nil
}

func (f *Filler) findOrCreateIssue(ctx context.Context, code string) (issueOutcome, error) {
	var (
		meta    source.IssueMetadata
		metaErr = errors.New("no issue tracker configured")
	)
	if f.issues != nil {
		meta, metaErr = f.issues.Lookup(ctx, code)
	}

	queries := []string{code}
	if metaErr == nil && meta.BaseURL != "" {
		queries = []string{meta.BrowseURL(), code}
	}
	for _, q := range queries {
		if id, ok := f.searchExisting(ctx, code, q); ok {
			f.log.Info("reusing existing ledger issue", zap.String("issue_code", code), zap.Int("issue_id", id))
			return issueOutcome{id: id}, nil
		}
	}

	if metaErr != nil {
		return issueOutcome{}, fmt.Errorf("issue metadata for %s: %w", code, metaErr)
	}
	payload := f.issuePayload(code, meta)
	if payload.ProjectID == 0 {
		return issueOutcome{}, fmt.Errorf("ledger issue for %s: %w", code, ErrNoProject)
	}
	issue, err := f.ledger.CreateIssue(ctx, payload)
	if err != nil {
		return issueOutcome{}, fmt.Errorf("creating ledger issue for %s: %w", code, err)
	}
	f.log.Info("ledger issue created",
		zap.String("issue_code", code),
		zap.Int("issue_id", issue.ID),
		zap.Int("project_id", payload.ProjectID))
	return issueOutcome{id: issue.ID, created: true}, nil
}

// searchExisting looks for a ledger issue created for code. Search failures
// are logged and treated as no hit.
func (f *Filler) searchExisting(ctx context.Context, code, query string) (int, bool) {
	hits, err := f.ledger.SearchIssues(ctx, query)
	if err != nil {
		f.log.Warn("ledger issue search failed", zap.String("query", query), zap.Error(err))
		return 0, false
	}
	for _, h := range hits {
		if source.CodeFromIssue(h.Subject, h.Description) == code {
			return h.ID, true
		}
	}
	return 0, false
}

func (f *Filler) issuePayload(code string, meta source.IssueMetadata) source.IssuePayload {
	project := 0
	if f.projects != nil && meta.BaseURL != "" {
		if pid, ok := f.projects.Resolve(meta.BaseURL); ok {
			project = pid
		}
	}
	if project == 0 {
		project = f.opts.DefaultProjectID
	}
	subject := code
	if meta.Title != "" {
		subject = code + ": " + meta.Title
	}
	return source.IssuePayload{
		ProjectID:   project,
		Subject:     subject,
		Description: meta.BrowseURL(),
		PriorityID:  PriorityID(meta.PriorityName, f.opts.DefaultPriorityID),
		StatusID:    StatusID(meta.StatusName, f.opts.DefaultStatusID),
	}
}
