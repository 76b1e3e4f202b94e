// Package gapfill creates the ledger records a reconciliation found missing,
// creating parent ledger issues on demand and reusing them per issue code.
package gapfill

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Tiliavir/timesync/internal/model"
	"github.com/Tiliavir/timesync/internal/reconcile"
	"github.com/Tiliavir/timesync/internal/source"
)

var (
	// ErrNotPending is returned when an entry is no longer in the pending list.
	ErrNotPending = errors.New("entry is not pending")
	// ErrNoLedgerIssue is returned when an entry's issue code has no ledger issue.
	ErrNoLedgerIssue = errors.New("no ledger issue for issue code")
	// ErrNoProject is returned when no ledger project can be determined.
	ErrNoProject = errors.New("no ledger project")
)

// DefaultConcurrency bounds concurrent ledger writes.
const DefaultConcurrency = 4

// Ledger is the subset of ledger operations the filler needs.
type Ledger interface {
	source.LedgerIssueSearcher
	source.LedgerWriter
}

// IssueLookup returns issue tracker metadata for an issue code.
type IssueLookup interface {
	Lookup(ctx context.Context, ref string) (source.IssueMetadata, error)
}

// ProjectResolver maps a URL to a ledger project.
type ProjectResolver interface {
	Resolve(contextURL string) (int, bool)
}

// Options configures a Filler.
type Options struct {
	// ContextURL is the page the user is on; it selects the project for
	// entries without an issue.
	ContextURL        string
	DefaultProjectID  int
	DefaultPriorityID int
	DefaultStatusID   int
	ActivityID        int
	Concurrency       int
	Observer          Observer
	Log               *zap.Logger
}

// CreatedEntry is the outcome of creating one missing entry.
type CreatedEntry struct {
	Entry        model.MissingEntry
	TimeEntryID  int
	IssueID      int
	IssueCreated bool
	Err          error
}

type issueOutcome struct {
	id      int
	created bool
}

// Filler fills the gaps of one reconciliation result. It owns the run's
// issue-code to ledger-issue map and is the only writer of the result.
// CreateAll and CreateOne must not be called concurrently.
type Filler struct {
	res      *model.Result
	ledger   Ledger
	issues   IssueLookup
	projects ProjectResolver
	opts     Options
	log      *zap.Logger

	mu     sync.Mutex // guards res and byCode
	byCode map[string]issueOutcome
	group  singleflight.Group
}

// New creates a Filler for res. issues and projects may be nil.
func New(res *model.Result, ledger Ledger, issues IssueLookup, projects ProjectResolver, opts Options) *Filler {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Filler{
		res:      res,
		ledger:   ledger,
		issues:   issues,
		projects: projects,
		opts:     opts,
		log:      log,
		byCode:   make(map[string]issueOutcome),
	}
}

// CreateAll creates every pending entry. Issues are resolved or created once
// per distinct code first; failures are reported per entry and never stop
// independent entries.
func (f *Filler) CreateAll(ctx context.Context) []CreatedEntry {
	f.mu.Lock()
	pending := slices.Clone(f.res.MissingInLedger)
	f.mu.Unlock()

	for _, e := range pending {
		f.notify(e, StatePending)
	}

	issueErrs := f.ensureIssues(ctx, codesWithoutIssue(pending))

	out := make([]CreatedEntry, len(pending))
	g := new(errgroup.Group)
	g.SetLimit(f.opts.Concurrency)
	for i, e := range pending {
		g.Go(func() error {
			out[i] = f.createEntry(ctx, e, issueErrs[jiraTask(e)])
			return nil
		})
	}
	_ = g.Wait()

	s := Summarize(out)
	f.log.Info("gap fill finished",
		zap.Int("created", s.Created),
		zap.Int("issues_created", s.IssuesCreated),
		zap.Int("failed", s.Failed))
	return out
}

// CreateOne creates a single pending entry, creating its ledger issue if needed.
func (f *Filler) CreateOne(ctx context.Context, entry model.MissingEntry) CreatedEntry {
	f.mu.Lock()
	pending := reconcile.IsPending(f.res, entry)
	f.mu.Unlock()
	if !pending {
		return CreatedEntry{Entry: entry, Err: fmt.Errorf("%w: %s", ErrNotPending, entry.Key())}
	}

	f.notify(entry, StatePending)
	var issueErr error
	if code := jiraTask(entry); code != "" && entry.RedmineTask == nil {
		_, issueErr = f.ensureIssue(ctx, code)
	}
	return f.createEntry(ctx, entry, issueErr)
}

// CreateByKey creates the pending entry with the given key.
func (f *Filler) CreateByKey(ctx context.Context, key string) CreatedEntry {
	f.mu.Lock()
	idx := f.res.FindMissing(key)
	var entry model.MissingEntry
	if idx >= 0 {
		entry = f.res.MissingInLedger[idx]
	}
	f.mu.Unlock()
	if idx < 0 {
		return CreatedEntry{Err: fmt.Errorf("%w: %s", ErrNotPending, key)}
	}
	return f.CreateOne(ctx, entry)
}

func (f *Filler) createEntry(ctx context.Context, e model.MissingEntry, issueErr error) CreatedEntry {
	f.notify(e, StateCreating)
	out := CreatedEntry{Entry: e}

	payload := source.TimeEntryPayload{
		SpentOn:    e.Date,
		Hours:      e.Hours,
		Comments:   e.Description,
		ActivityID: f.opts.ActivityID,
	}
	code := jiraTask(e)
	switch {
	case e.RedmineTask != nil:
		payload.IssueID = *e.RedmineTask
	case code != "":
		o, ok := f.outcome(code)
		if !ok {
			if issueErr == nil {
				issueErr = errors.New("not resolved")
			}
			return f.fail(out, fmt.Errorf("%w %s: %v", ErrNoLedgerIssue, code, issueErr))
		}
		payload.IssueID = o.id
		out.IssueCreated = o.created
	default:
		pid := f.entryProject(e)
		if pid == 0 {
			return f.fail(out, ErrNoProject)
		}
		payload.ProjectID = pid
	}
	out.IssueID = payload.IssueID

	te, err := f.ledger.CreateTimeEntry(ctx, payload)
	if err != nil {
		return f.fail(out, fmt.Errorf("creating time entry: %w", err))
	}
	out.TimeEntryID = te.ID

	f.mu.Lock()
	if !reconcile.ApplyCreation(f.res, e) {
		f.log.Warn("created entry was no longer pending", zap.String("entry", e.Key()))
	}
	if code != "" && payload.IssueID != 0 {
		reconcile.AssignLedgerIssue(f.res, code, payload.IssueID)
	}
	f.mu.Unlock()

	f.log.Info("time entry created",
		zap.String("entry", e.Key()),
		zap.Int("time_entry_id", te.ID),
		zap.Int("issue_id", payload.IssueID),
		zap.Int("project_id", payload.ProjectID))
	f.notify(e, StateCreated)
	return out
}

func (f *Filler) fail(out CreatedEntry, err error) CreatedEntry {
	out.Err = err
	f.log.Error("creating missing entry failed", zap.String("entry", out.Entry.Key()), zap.Error(err))
	f.notify(out.Entry, StateFailed)
	return out
}

// entryProject picks the project for an entry without an issue: the mapped
// context URL, then the entry default, then the run default.
func (f *Filler) entryProject(e model.MissingEntry) int {
	if f.projects != nil && f.opts.ContextURL != "" {
		if pid, ok := f.projects.Resolve(f.opts.ContextURL); ok {
			return pid
		}
	}
	if e.ProjectID != nil && *e.ProjectID > 0 {
		return *e.ProjectID
	}
	return f.opts.DefaultProjectID
}

func (f *Filler) outcome(code string) (issueOutcome, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.byCode[code]
	return o, ok
}

// SetContextURL changes the URL used to pick the project of entries without
// an issue. It must not be called while a creation is running.
func (f *Filler) SetContextURL(u string) {
	f.opts.ContextURL = u
}

// IssueFor returns the ledger issue resolved for code during this run.
func (f *Filler) IssueFor(code string) (int, bool) {
	o, ok := f.outcome(code)
	return o.id, ok
}

func jiraTask(e model.MissingEntry) string {
	if e.JiraTask == nil {
		return ""
	}
	return *e.JiraTask
}

// codesWithoutIssue returns the distinct codes of entries not yet linked to a ledger issue.
func codesWithoutIssue(entries []model.MissingEntry) []string {
	seen := map[string]bool{}
	var codes []string
	for _, e := range entries {
		code := jiraTask(e)
		if code == "" || e.RedmineTask != nil || seen[code] {
			continue
		}
		seen[code] = true
		codes = append(codes, code)
	}
	return codes
}
