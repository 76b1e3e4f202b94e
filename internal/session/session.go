// Package session runs one reconciliation at a time and serializes every
// write against its result.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Tiliavir/timesync/internal/gapfill"
	"github.com/Tiliavir/timesync/internal/model"
	"github.com/Tiliavir/timesync/internal/normalize"
	"github.com/Tiliavir/timesync/internal/reconcile"
	"github.com/Tiliavir/timesync/internal/source"
	"github.com/Tiliavir/timesync/internal/timecalc"
)

// ErrNoResult is returned before the first successful reconciliation.
var ErrNoResult = errors.New("no reconciliation result; run a comparison first")

// Sources are the three remote collaborators.
type Sources struct {
	Worklogs source.WorklogSource
	Ledger   source.Ledger
	Issues   source.IssueMetadataSource
}

// Options configures a Session.
type Options struct {
	// WorklogAccount and LedgerAccount filter both fetches; empty means the
	// adapters' configured user.
	WorklogAccount string
	LedgerAccount  string
	Strict         bool
	Fill           gapfill.Options
	Projects       gapfill.ProjectResolver
	Log            *zap.Logger
}

// Session owns the current result and the per-run caches that belong to it.
type Session struct {
	src  Sources
	opts Options
	log  *zap.Logger

	mu     sync.Mutex
	result *model.Result
	filler *gapfill.Filler
}

// New creates a Session.
func New(src Sources, opts Options) *Session {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	opts.Fill.Log = log
	return &Session{src: src, opts: opts, log: log}
}

// Reconcile fetches both sides for [from, to], normalizes and matches them,
// and replaces the current result. Either fetch failing aborts the run and
// keeps the previous result. The returned result is a copy; later creations
// only change the session's own result.
func (s *Session) Reconcile(ctx context.Context, from, to time.Time) (*model.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		worklogs []source.RawWorklog
		entries  []source.RawLedgerEntry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		worklogs, err = s.src.Worklogs.FetchWorklogs(gctx, from, to, s.opts.WorklogAccount)
		return err
	})
	g.Go(func() error {
		var err error
		entries, err = s.src.Ledger.FetchTimeEntries(gctx, from, to, s.opts.LedgerAccount)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fetching time records: %w", err)
	}

	resolver := normalize.NewResolver(s.src.Issues, s.log)
	worklogRecs, ledgerRecs := normalize.New(resolver, s.log).Normalize(ctx, worklogs, entries)

	res := reconcile.Compute(worklogRecs, ledgerRecs, reconcile.Options{
		From:   from.Format(timecalc.DateLayout),
		To:     to.Format(timecalc.DateLayout),
		Strict: s.opts.Strict,
		Log:    s.log,
	})
	s.result = res
	s.filler = gapfill.New(res, s.src.Ledger, resolver, s.opts.Projects, s.opts.Fill)

	s.log.Info("reconciliation finished",
		zap.String("from", res.From),
		zap.String("to", res.To),
		zap.Int("worklogs", res.Stats.TempoTotal),
		zap.Int("ledger_entries", res.Stats.RedmineTotal),
		zap.Int("matched", res.Stats.Matched),
		zap.Int("missing", res.Stats.Missing),
		zap.Float64("mapping_rate", res.Stats.MappingRate))
	cp := s.snapshot()
	return &cp, nil
}

// Snapshot returns a copy of the current result that is safe to read while
// creations continue.
func (s *Session) Snapshot() (model.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return model.Result{}, ErrNoResult
	}
	return s.snapshot(), nil
}

// snapshot copies the current result. Callers hold s.mu.
func (s *Session) snapshot() model.Result {
	cp := *s.result
	cp.MissingInLedger = slices.Clone(s.result.MissingInLedger)
	cp.Matched = slices.Clone(s.result.Matched)
	cp.Discrepancies = slices.Clone(s.result.Discrepancies)
	return cp
}

// CreateAll creates every pending entry of the current result. contextURL,
// when set, selects the project for entries without an issue.
func (s *Session) CreateAll(ctx context.Context, contextURL string) ([]gapfill.CreatedEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.filler == nil {
		return nil, ErrNoResult
	}
	s.useContext(contextURL)
	return s.filler.CreateAll(ctx), nil
}

// CreateOne creates the pending entry with the given key.
func (s *Session) CreateOne(ctx context.Context, key, contextURL string) (gapfill.CreatedEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.filler == nil {
		return gapfill.CreatedEntry{}, ErrNoResult
	}
	s.useContext(contextURL)
	return s.filler.CreateByKey(ctx, key), nil
}

func (s *Session) useContext(contextURL string) {
	if contextURL == "" {
		contextURL = s.opts.Fill.ContextURL
	}
	s.filler.SetContextURL(contextURL)
}
