package normalize

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Tiliavir/timesync/internal/source"
)

// DefaultConcurrency bounds concurrent metadata lookups.
const DefaultConcurrency = 8

type lookup struct {
	meta source.IssueMetadata
	err  error
}

// Resolver maps issue references (numeric ids or codes) to canonical issue
// codes. It belongs to a single reconciliation run: every reference is fetched
// at most once, and failures are cached as negative results.
type Resolver struct {
	src         source.IssueMetadataSource
	log         *zap.Logger
	concurrency int

	mu    sync.Mutex
	cache map[string]lookup
	group singleflight.Group
}

// NewResolver creates a per-run resolver. log may be nil.
func NewResolver(src source.IssueMetadataSource, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{
		src:         src,
		log:         log,
		concurrency: DefaultConcurrency,
		cache:       make(map[string]lookup),
	}
}

// Lookup returns the issue metadata for ref, fetching it on first use.
func (r *Resolver) Lookup(ctx context.Context, ref string) (source.IssueMetadata, error) {
	r.mu.Lock()
	if hit, ok := r.cache[ref]; ok {
		r.mu.Unlock()
		return hit.meta, hit.err
	}
	r.mu.Unlock()

	v, _, _ := r.group.Do(ref, func() (interface{}, error) {
		r.mu.Lock()
		if hit, ok := r.cache[ref]; ok {
			r.mu.Unlock()
			return hit, nil
		}
		r.mu.Unlock()

		meta, err := r.src.FetchIssue(ctx, ref)
		res := lookup{meta: meta, err: err}

		r.mu.Lock()
		r.cache[ref] = res
		if err == nil && meta.Code != "" && meta.Code != ref {
			if _, seen := r.cache[meta.Code]; !seen {
				r.cache[meta.Code] = res
			}
		}
		r.mu.Unlock()

		if err != nil {
			r.log.Warn("issue lookup failed", zap.String("issue_ref", ref), zap.Error(err))
		}
		return res, nil
	})
	res := v.(lookup)
	return res.meta, res.err
}

// Resolve returns the canonical code for ref, or false when it cannot be resolved.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, bool) {
	meta, err := r.Lookup(ctx, ref)
	if err != nil || meta.Code == "" {
		return "", false
	}
	return meta.Code, true
}

// ResolveAll resolves a set of references concurrently. Unresolvable
// references are absent from the returned map; one failure never affects
// another reference.
func (r *Resolver) ResolveAll(ctx context.Context, refs []string) map[string]string {
	var (
		mu  sync.Mutex
		out = make(map[string]string, len(refs))
	)
	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)
	for _, ref := range uniqueRefs(refs) {
		g.Go(func() error {
			if code, ok := r.Resolve(ctx, ref); ok {
				mu.Lock()
				out[ref] = code
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func uniqueRefs(refs []string) []string {
	seen := make(map[string]bool, len(refs))
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref == "" || seen[ref] {
			continue
		}
		seen[ref] = true
		out = append(out, ref)
	}
	return out
}
