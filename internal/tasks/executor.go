package tasks

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	"github.com/desertthunder/audioarchitect/internal/identity"
	"github.com/desertthunder/audioarchitect/internal/models"
	"github.com/desertthunder/audioarchitect/internal/services"
	"github.com/desertthunder/audioarchitect/internal/shared"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// PlatformSource looks up adapters by name; [services.Registry] implements it.
type PlatformSource interface {
	Get(name models.Platform) (services.Platform, error)
}

// RevisionSource reports the stored revision of a playlist; [store.Store] implements it.
type RevisionSource interface {
	Revision(ctx context.Context, ref models.PlaylistRef) (int64, error)
}

// RetryPolicy bounds how each op is retried and paced.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// RateLimit is the number of calls per second per platform; zero disables pacing.
	RateLimit float64
	Burst     int
}

// DefaultRetryPolicy matches the shipped configuration.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, InitialInterval: 500 * time.Millisecond, MaxInterval: 30 * time.Second, RateLimit: 5, Burst: 1}
}

// Executor applies mutation plans against platform adapters.
type Executor struct {
	platforms PlatformSource
	revisions RevisionSource
	policy    RetryPolicy
	logger    *log.Logger
	observer  Observer

	mu       sync.Mutex
	limiters map[models.Platform]*rate.Limiter
}

// ExecutorOption configures an [Executor].
type ExecutorOption func(*Executor)

// WithRetryPolicy overrides [DefaultRetryPolicy].
func WithRetryPolicy(p RetryPolicy) ExecutorOption {
	return func(e *Executor) { e.policy = p }
}

// WithExecutorLogger sets the logger.
func WithExecutorLogger(l *log.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// WithExecutorObserver reports per-op outcomes.
func WithExecutorObserver(o Observer) ExecutorOption {
	return func(e *Executor) { e.observer = o }
}

// NewExecutor creates an executor.
func NewExecutor(platforms PlatformSource, revisions RevisionSource, opts ...ExecutorOption) *Executor {
	e := &Executor{
		platforms: platforms,
		revisions: revisions,
		policy:    DefaultRetryPolicy(),
		logger:    shared.DiscardLogger(),
		observer:  nopObserver{},
		limiters:  make(map[models.Platform]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.policy.MaxAttempts <= 0 {
		e.policy.MaxAttempts = 1
	}
	return e
}

// indexedOp is an op with its position in the plan.
type indexedOp struct {
	index int
	op    models.MutationOp
}

// Execute runs plan and reports the outcome of every op.
//
// Before anything is applied, every target's stored revision is compared with the revision the
// plan was built from; a newer one fails the whole plan with [shared.ErrStale] and an empty
// report whose outcome is [models.Stale]. Ops on one playlist run in listed order, except that a
// removal is pulled ahead of an earlier add of the same track. Different playlists run concurrently.
// Per-op failures never abort the plan and are not returned as errors.
func (e *Executor) Execute(ctx context.Context, plan models.MutationPlan, progress chan<- ProgressUpdate) (*models.ExecutionReport, error) {
	report := &models.ExecutionReport{
		ID:              shared.GenerateID(),
		PlanID:          plan.ID,
		StartedAt:       time.Now().UTC(),
		Results:         []models.OpResult{},
		CaptureRequests: plan.Targets(),
	}

	if err := e.checkRevisions(ctx, plan); err != nil {
		report.Outcome = models.Stale
		report.CaptureRequests = nil
		report.FinishedAt = time.Now().UTC()
		return report, err
	}

	byPlaylist := make(map[models.PlaylistRef][]indexedOp)
	for i, op := range plan.Ops {
		byPlaylist[op.Ref()] = append(byPlaylist[op.Ref()], indexedOp{index: i, op: op})
	}

	var (
		mu      sync.Mutex
		done    int
		results = make([]models.OpResult, 0, len(plan.Ops))
	)
	record := func(res models.OpResult) {
		mu.Lock()
		defer mu.Unlock()
		done++
		results = append(results, res)
		sendProgress(progress, opUpdate(done, len(plan.Ops), res))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, ref := range plan.Targets() {
		ops := hoistRemovals(byPlaylist[ref])
		g.Go(func() error {
			platform, err := e.platforms.Get(ref.Platform)
			if err != nil {
				for _, io := range ops {
					record(models.OpResult{Index: io.index, Op: io.op, Status: models.OpFailed, Error: err.Error()})
				}
				return nil
			}
			for _, io := range ops {
				record(e.apply(gctx, platform, io))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slices.SortFunc(results, func(a, b models.OpResult) int { return a.Index - b.Index })
	report.Results = results
	report.Outcome = models.Summarize(results)
	report.FinishedAt = time.Now().UTC()

	counts := report.Counts()
	e.logger.Info("plan executed", "plan", plan.ID, "outcome", report.Outcome,
		"applied", counts[models.OpApplied], "skipped", counts[models.OpSkipped], "failed", counts[models.OpFailed])
	e.observer.PlanExecuted(report.Outcome, report.FinishedAt.Sub(report.StartedAt))
	return report, nil
}

func (e *Executor) checkRevisions(ctx context.Context, plan models.MutationPlan) error {
	for _, ref := range plan.Targets() {
		recorded, ok := plan.Revisions[ref.String()]
		if !ok {
			continue
		}
		current, err := e.revisions.Revision(ctx, ref)
		if err != nil {
			return fmt.Errorf("failed to read revision of %s: %w", ref, err)
		}
		if current > recorded {
			return fmt.Errorf("%w: %s is at revision %d, plan was built against %d", shared.ErrStale, ref, current, recorded)
		}
	}
	return nil
}

// hoistRemovals moves each removal ahead of the first earlier add of the same track so the
// playlist never holds a transient extra copy.
func hoistRemovals(ops []indexedOp) []indexedOp {
	out := slices.Clone(ops)
	for i := 0; i < len(out); i++ {
		if out[i].op.Kind != models.OpRemove {
			continue
		}
		key := identity.Key(out[i].op.Track)
		first := slices.IndexFunc(out[:i], func(o indexedOp) bool {
			return o.op.Kind == models.OpAdd && identity.Key(o.op.Track) == key
		})
		if first >= 0 {
			rm := out[i]
			out = slices.Delete(out, i, i+1)
			out = slices.Insert(out, first, rm)
		}
	}
	return out
}

func (e *Executor) limiter(p models.Platform) *rate.Limiter {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.limiters[p]
	if !ok {
		limit := rate.Inf
		if e.policy.RateLimit > 0 {
			limit = rate.Limit(e.policy.RateLimit)
		}
		l = rate.NewLimiter(limit, max(e.policy.Burst, 1))
		e.limiters[p] = l
	}
	return l
}

func (e *Executor) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if e.policy.InitialInterval > 0 {
		b.InitialInterval = e.policy.InitialInterval
	}
	if e.policy.MaxInterval > 0 {
		b.MaxInterval = e.policy.MaxInterval
	}
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.policy.MaxAttempts-1)), ctx)
}

// apply runs one op with bounded exponential backoff on transient failures.
func (e *Executor) apply(ctx context.Context, platform services.Platform, io indexedOp) models.OpResult {
	res := models.OpResult{Index: io.index, Op: io.op}
	limiter := e.limiter(platform.Name())

	var retryAfter time.Duration
	operation := func() error {
		res.Attempts++
		retryAfter = 0
		if err := limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		err := platform.ApplyMutation(ctx, io.op)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, shared.ErrAlreadyApplied):
			return backoff.Permanent(err)
		case shared.IsTransient(err):
			var perr *shared.PlatformError
			if errors.As(err, &perr) {
				retryAfter = perr.RetryAfter
			}
			return err
		default:
			return backoff.Permanent(err)
		}
	}
	notify := func(err error, next time.Duration) {
		wait := max(next, retryAfter)
		res.NextEligibleAt = time.Now().Add(wait).UTC()
		e.logger.Warn("retrying op", "op", io.op, "attempt", res.Attempts, "wait", wait, "error", err)
		if extra := wait - next; extra > 0 {
			t := time.NewTimer(extra)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
			}
		}
	}

	err := backoff.RetryNotify(operation, e.newBackOff(ctx), notify)
	switch {
	case err == nil:
		res.Status = models.OpApplied
		res.NextEligibleAt = time.Time{}
	case errors.Is(err, shared.ErrAlreadyApplied):
		res.Status = models.OpSkipped
		res.NextEligibleAt = time.Time{}
	default:
		res.Status = models.OpFailed
		res.Error = err.Error()
		if !shared.IsTransient(err) {
			res.NextEligibleAt = time.Time{}
		}
		e.logger.Error("op failed", "op", io.op, "attempts", res.Attempts, "error", err)
	}

	e.observer.OpCompleted(platform.Name(), io.op.Kind, res.Status, res.Attempts)
	return res
}
