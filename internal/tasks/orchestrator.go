package tasks

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/audioarchitect/internal/dedupe"
	"github.com/desertthunder/audioarchitect/internal/lease"
	"github.com/desertthunder/audioarchitect/internal/models"
	"github.com/desertthunder/audioarchitect/internal/shared"
	"golang.org/x/sync/errgroup"
)

// SnapshotStore is the part of [store.Store] the orchestrator needs.
type SnapshotStore interface {
	Capturer
	RevisionSource
	Latest(ctx context.Context, ref models.PlaylistRef) (*models.Snapshot, error)
	ByID(ctx context.Context, id string) (*models.Snapshot, error)
}

// PlanJournal persists plans and reports; [repositories.PlanRepository] implements it.
type PlanJournal interface {
	SavePlan(ctx context.Context, plan models.MutationPlan) error
	UpdateStatus(ctx context.Context, id string, status models.PlanStatus) error
	SaveReport(ctx context.Context, report models.ExecutionReport) error
	ListByStatus(ctx context.Context, status models.PlanStatus) ([]models.MutationPlan, error)
}

// SessionHandle identifies a sync session.
type SessionHandle string

// transitions lists the legal state changes of a session.
var transitions = map[models.SyncState][]models.SyncState{
	models.StateIdle:               {models.StateDiffing},
	models.StateDiffing:            {models.StatePlanReady, models.StateConflictResolution, models.StateFailed, models.StateIdle},
	models.StateConflictResolution: {models.StatePlanReady, models.StateFailed, models.StateIdle},
	models.StatePlanReady:          {models.StateExecuting, models.StateFailed, models.StateIdle},
	models.StateExecuting:          {models.StateCommitted, models.StateFailed},
}

type session struct {
	status      models.SessionStatus
	group       models.SyncGroup
	leases      []*lease.Lease
	current     map[models.PlaylistRef]models.Snapshot
	ancestor    models.Snapshot
	result      *PlanResult
	resolutions map[string]bool
	cancel      context.CancelFunc
	changed     chan struct{}
}

// Orchestrator runs sync sessions: capture, three-way merge, approval, execution and commit.
//
// A session holds the lease on every member playlist from start until it reaches a terminal
// state or is cancelled, so two sessions never touch the same playlist.
type Orchestrator struct {
	platforms PlatformSource
	store     SnapshotStore
	executor  *Executor
	leases    *lease.Manager
	journal   PlanJournal
	logger    *log.Logger
	observer  Observer
	progress  chan<- ProgressUpdate
	leaseTTL  time.Duration
	reorder   bool

	mu       sync.Mutex
	sessions map[SessionHandle]*session
	wg       sync.WaitGroup
}

// OrchestratorOption configures an [Orchestrator].
type OrchestratorOption func(*Orchestrator)

// WithJournal records plans and reports for auditing and [Orchestrator.Recover].
func WithJournal(j PlanJournal) OrchestratorOption {
	return func(o *Orchestrator) { o.journal = j }
}

func WithOrchestratorLogger(l *log.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

func WithOrchestratorObserver(obs Observer) OrchestratorOption {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithProgress sends session progress to ch without blocking.
func WithProgress(ch chan<- ProgressUpdate) OrchestratorOption {
	return func(o *Orchestrator) { o.progress = ch }
}

func WithLeaseTTL(ttl time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.leaseTTL = ttl }
}

// WithReorder makes plans align every member with the merged order, not only its contents.
func WithReorder(reorder bool) OrchestratorOption {
	return func(o *Orchestrator) { o.reorder = reorder }
}

// NewOrchestrator wires the orchestrator.
func NewOrchestrator(platforms PlatformSource, store SnapshotStore, executor *Executor, leases *lease.Manager, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		platforms: platforms,
		store:     store,
		executor:  executor,
		leases:    leases,
		logger:    shared.DiscardLogger(),
		observer:  nopObserver{},
		leaseTTL:  10 * time.Minute,
		reorder:   true,
		sessions:  make(map[SessionHandle]*session),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// AncestorRef is where a group's last committed state is stored.
func AncestorRef(groupID string) models.PlaylistRef {
	return models.PlaylistRef{Platform: models.Merged, PlaylistID: groupID}
}

// StartSync leases every member of group and starts capturing them in the background.
//
// It returns as soon as the session exists; use [Orchestrator.Await] or [Orchestrator.Status]
// to follow it. Fails with [shared.ErrLeaseHeld] if another session holds any member.
func (o *Orchestrator) StartSync(ctx context.Context, group models.SyncGroup, policy models.Policy) (SessionHandle, error) {
	policy, err := models.ParsePolicy(string(policy))
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrInvalidPolicy, err)
	}
	if len(group.Members) == 0 {
		return "", fmt.Errorf("%w: group %s has no members", shared.ErrInvalidInput, group.ID)
	}

	id := shared.GenerateID()
	keys := make([]string, len(group.Members))
	for i, ref := range group.Members {
		keys[i] = ref.String()
	}
	held, err := o.leases.AcquireAll(keys, id, o.leaseTTL)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		status: models.SessionStatus{
			ID:        id,
			GroupID:   group.ID,
			Policy:    policy,
			State:     models.StateIdle,
			StartedAt: now,
			UpdatedAt: now,
		},
		group:       group,
		leases:      held,
		resolutions: make(map[string]bool),
		cancel:      cancel,
		changed:     make(chan struct{}),
	}
	handle := SessionHandle(id)

	o.mu.Lock()
	o.sessions[handle] = s
	if err := o.transition(s, models.StateDiffing); err != nil {
		o.mu.Unlock()
		cancel()
		o.releaseLeases(s)
		return "", err
	}
	o.mu.Unlock()

	o.logger.Info("sync started", "session", id, "group", group.ID, "policy", policy, "members", len(group.Members))

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runDiff(runCtx, handle, s)
	}()
	return handle, nil
}

// runDiff captures every member concurrently, loads the ancestor and plans.
func (o *Orchestrator) runDiff(ctx context.Context, handle SessionHandle, s *session) {
	members := s.group.Members
	current := make(map[models.PlaylistRef]models.Snapshot, len(members))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range members {
		g.Go(func() error {
			sendProgress(o.progress, captureUpdate(i+1, len(members), ref))
			snap, err := captureOne(gctx, o.platforms, o.store, ref)
			if err != nil {
				sendProgress(o.progress, captureFailedUpdate(i+1, len(members), ref, err))
				return err
			}
			sendProgress(o.progress, captureCompletedUpdate(i+1, len(members), snap))
			mu.Lock()
			current[ref] = *snap
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		o.fail(s, err)
		return
	}

	ancestor, err := o.store.Latest(ctx, AncestorRef(s.group.ID))
	switch {
	case errors.Is(err, shared.ErrNotFound):
		ancestor = &models.Snapshot{}
	case err != nil:
		o.fail(s, fmt.Errorf("failed to load ancestor of %s: %w", s.group.ID, err))
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if s.status.State != models.StateDiffing {
		return
	}
	s.current = current
	s.ancestor = *ancestor
	o.plan(ctx, s)
}

// plan builds the plan for s and moves it to PlanReady or ConflictResolution. Callers hold o.mu.
func (o *Orchestrator) plan(ctx context.Context, s *session) {
	result, err := BuildPlan(PlanInput{
		Group:       s.group,
		Policy:      s.status.Policy,
		Ancestor:    s.ancestor,
		Current:     s.current,
		Resolutions: s.resolutions,
		Reorder:     o.reorder,
	})
	switch {
	case errors.Is(err, shared.ErrConflict):
		s.status.Conflicts = result.Conflicts
		s.status.Diffs = result.Diffs
		sendProgress(o.progress, conflictUpdate(result.Unresolved()))
		o.mustTransition(s, models.StateConflictResolution)
		return
	case err != nil:
		o.failLocked(s, err)
		return
	}

	if err := o.renewLeases(s); err != nil {
		o.failLocked(s, err)
		return
	}

	s.result = result
	s.status.Conflicts = result.Conflicts
	s.status.Diffs = result.Diffs
	plan := result.Plan
	s.status.Plan = &plan
	if o.journal != nil {
		if err := o.journal.SavePlan(ctx, plan); err != nil {
			o.logger.Warn("failed to journal plan", "plan", plan.ID, "error", err)
		}
	}
	sendProgress(o.progress, planUpdate(result))
	o.mustTransition(s, models.StatePlanReady)
	o.logger.Info("plan ready", "session", s.status.ID, "plan", plan.ID, "ops", len(plan.Ops), "conflicts", len(result.Conflicts))
}

// ResolveConflict records a keep or drop decision for one conflicting track. When the last
// conflict is decided the plan is built and the session moves to PlanReady.
func (o *Orchestrator) ResolveConflict(ctx context.Context, handle SessionHandle, fingerprint string, keep bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	s, err := o.session(handle)
	if err != nil {
		return err
	}
	if s.status.State != models.StateConflictResolution {
		return fmt.Errorf("%w: session %s is %s", shared.ErrInvalidTransition, handle, s.status.State)
	}

	i := slices.IndexFunc(s.status.Conflicts, func(c models.Conflict) bool { return c.Fingerprint == fingerprint })
	if i < 0 {
		return fmt.Errorf("%w: no conflict for %s in session %s", shared.ErrNotFound, fingerprint, handle)
	}
	s.resolutions[fingerprint] = keep
	s.status.Conflicts[i].Resolved = true
	s.status.Conflicts[i].Keep = keep
	s.status.UpdatedAt = time.Now().UTC()

	for _, c := range s.status.Conflicts {
		if !c.Resolved {
			return nil
		}
	}
	o.plan(context.WithoutCancel(ctx), s)
	return nil
}

// ApprovePlan starts executing the session's plan in the background. The session ends
// Committed when no op failed and Failed otherwise; partial work is never rolled back.
func (o *Orchestrator) ApprovePlan(ctx context.Context, handle SessionHandle) error {
	o.mu.Lock()
	s, err := o.session(handle)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	if s.status.State != models.StatePlanReady {
		o.mu.Unlock()
		return fmt.Errorf("%w: session %s is %s", shared.ErrInvalidTransition, handle, s.status.State)
	}
	if err := o.renewLeases(s); err != nil {
		o.failLocked(s, err)
		o.mu.Unlock()
		return err
	}
	o.mustTransition(s, models.StateExecuting)
	plan := s.result.Plan
	o.mu.Unlock()

	runCtx := context.WithoutCancel(ctx)
	if o.journal != nil {
		if err := o.journal.UpdateStatus(runCtx, plan.ID, models.PlanExecuting); err != nil {
			o.logger.Warn("failed to journal plan status", "plan", plan.ID, "error", err)
		}
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.execute(runCtx, s, plan)
	}()
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, s *session, plan models.MutationPlan) {
	stop := o.heartbeat(s)
	defer stop()

	report, err := o.executor.Execute(ctx, plan, o.progress)
	if report != nil && o.journal != nil {
		if jerr := o.journal.SaveReport(ctx, *report); jerr != nil {
			o.logger.Warn("failed to journal report", "report", report.ID, "error", jerr)
		}
	}
	if err != nil {
		o.mu.Lock()
		s.status.Report = report
		o.mu.Unlock()
		o.journalStatus(ctx, plan.ID, models.PlanFailed)
		o.fail(s, err)
		return
	}
	sendProgress(o.progress, commitUpdate(report))

	recaptured := make(map[models.PlaylistRef]*models.Snapshot)
	for _, ref := range report.CaptureRequests {
		snap, err := captureOne(ctx, o.platforms, o.store, ref)
		if err != nil {
			o.logger.Warn("failed to re-capture after execution", "playlist", ref, "error", err)
			continue
		}
		recaptured[ref] = snap
	}

	if !report.Succeeded() {
		o.mu.Lock()
		s.status.Report = report
		o.mu.Unlock()
		o.journalStatus(ctx, plan.ID, models.PlanFailed)
		o.fail(s, fmt.Errorf("%d op(s) failed", report.Counts()[models.OpFailed]))
		return
	}

	if err := o.commitAncestor(ctx, s, recaptured); err != nil {
		o.mu.Lock()
		s.status.Report = report
		o.mu.Unlock()
		o.journalStatus(ctx, plan.ID, models.PlanFailed)
		o.fail(s, err)
		return
	}
	o.journalStatus(ctx, plan.ID, models.PlanCommitted)

	o.mu.Lock()
	defer o.mu.Unlock()
	s.status.Report = report
	o.mustTransition(s, models.StateCommitted)
	o.releaseLeases(s)
	o.logger.Info("sync committed", "session", s.status.ID, "group", s.group.ID, "outcome", report.Outcome)
}

// commitAncestor stores the group's new common state. It prefers what the first member
// actually holds after execution and falls back to the planned merge.
func (o *Orchestrator) commitAncestor(ctx context.Context, s *session, recaptured map[models.PlaylistRef]*models.Snapshot) error {
	tracks := s.result.Merged
	if snap, ok := recaptured[s.group.Members[0]]; ok {
		tracks = snap.Tracks
	}
	ancestor := models.Playlist{
		ID:        s.group.ID,
		Platform:  models.Merged,
		Name:      s.group.Name,
		Tracks:    tracks,
		UpdatedAt: time.Now().UTC(),
	}
	if _, err := o.store.Capture(ctx, models.Merged, ancestor); err != nil {
		return fmt.Errorf("failed to store ancestor of %s: %w", s.group.ID, err)
	}
	return nil
}

// Cancel abandons a session that has not started executing and releases its leases.
func (o *Orchestrator) Cancel(handle SessionHandle) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	s, err := o.session(handle)
	if err != nil {
		return err
	}
	switch s.status.State {
	case models.StateDiffing, models.StateConflictResolution, models.StatePlanReady:
	default:
		return fmt.Errorf("%w: session %s is %s", shared.ErrNotCancellable, handle, s.status.State)
	}

	s.cancel()
	s.status.Cancelled = true
	if s.status.Plan != nil {
		o.journalStatus(context.Background(), s.status.Plan.ID, models.PlanCancelled)
	}
	o.mustTransition(s, models.StateIdle)
	o.releaseLeases(s)
	o.logger.Info("sync cancelled", "session", s.status.ID, "group", s.group.ID)
	return nil
}

// Status returns a copy of the session's current status.
func (o *Orchestrator) Status(handle SessionHandle) (models.SessionStatus, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	s, err := o.session(handle)
	if err != nil {
		return models.SessionStatus{}, err
	}
	return snapshotStatus(s), nil
}

// Sessions returns the status of every known session, oldest first.
func (o *Orchestrator) Sessions() []models.SessionStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]models.SessionStatus, 0, len(o.sessions))
	for _, s := range o.sessions {
		out = append(out, snapshotStatus(s))
	}
	slices.SortFunc(out, func(a, b models.SessionStatus) int { return a.StartedAt.Compare(b.StartedAt) })
	return out
}

// Await blocks until the session reaches one of states, or any terminal state when none are
// given. A terminal state always ends the wait.
func (o *Orchestrator) Await(ctx context.Context, handle SessionHandle, states ...models.SyncState) (models.SessionStatus, error) {
	for {
		o.mu.Lock()
		s, err := o.session(handle)
		if err != nil {
			o.mu.Unlock()
			return models.SessionStatus{}, err
		}
		status := snapshotStatus(s)
		changed := s.changed
		o.mu.Unlock()

		if status.State.Terminal() || slices.Contains(states, status.State) {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-changed:
		}
	}
}

// FindDuplicates scans a stored snapshot for duplicate groups.
func (o *Orchestrator) FindDuplicates(ctx context.Context, snapshotID string, threshold float64) (*models.Snapshot, []models.DuplicateGroup, error) {
	snap, err := o.store.ByID(ctx, snapshotID)
	if err != nil {
		return nil, nil, err
	}
	return snap, dedupe.Find(*snap, dedupe.Options{Threshold: threshold}), nil
}

// Recover marks plans left executing by a previous process as abandoned and re-captures their
// playlists so the next session diffs against what the platforms really hold.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	if o.journal == nil {
		return 0, nil
	}
	plans, err := o.journal.ListByStatus(ctx, models.PlanExecuting)
	if err != nil {
		return 0, fmt.Errorf("failed to list executing plans: %w", err)
	}

	for _, plan := range plans {
		if err := o.journal.UpdateStatus(ctx, plan.ID, models.PlanAbandoned); err != nil {
			return 0, err
		}
		for _, ref := range plan.Targets() {
			if _, err := captureOne(ctx, o.platforms, o.store, ref); err != nil {
				o.logger.Warn("failed to re-capture abandoned plan target", "plan", plan.ID, "playlist", ref, "error", err)
			}
		}
		o.logger.Warn("abandoned interrupted plan", "plan", plan.ID, "group", plan.GroupID, "ops", len(plan.Ops))
	}
	return len(plans), nil
}

// Wait blocks until every background capture and execution has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) session(handle SessionHandle) (*session, error) {
	s, ok := o.sessions[handle]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", shared.ErrNotFound, handle)
	}
	return s, nil
}

// transition moves s to next. Callers hold o.mu.
func (o *Orchestrator) transition(s *session, next models.SyncState) error {
	from := s.status.State
	if !slices.Contains(transitions[from], next) {
		return fmt.Errorf("%w: %s -> %s", shared.ErrInvalidTransition, from, next)
	}
	s.status.State = next
	s.status.UpdatedAt = time.Now().UTC()
	close(s.changed)
	s.changed = make(chan struct{})
	o.observer.SessionTransition(s.group.ID, from, next)
	o.logger.Debug("session transition", "session", s.status.ID, "from", from, "to", next)
	return nil
}

// mustTransition is for transitions the caller has already checked.
func (o *Orchestrator) mustTransition(s *session, next models.SyncState) {
	if err := o.transition(s, next); err != nil {
		o.logger.Error("illegal session transition", "session", s.status.ID, "error", err)
	}
}

func (o *Orchestrator) fail(s *session, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failLocked(s, err)
}

func (o *Orchestrator) failLocked(s *session, err error) {
	if s.status.State.Terminal() {
		return
	}
	s.status.Error = err.Error()
	o.mustTransition(s, models.StateFailed)
	o.releaseLeases(s)
	o.logger.Error("sync failed", "session", s.status.ID, "group", s.group.ID, "error", err)
}

func (o *Orchestrator) renewLeases(s *session) error {
	for _, l := range s.leases {
		if err := o.leases.Renew(l, o.leaseTTL); err != nil {
			return err
		}
	}
	return nil
}

// heartbeat renews the leases of s every third of the lease TTL until stop is called, so a
// long execution keeps its playlists. Leases only lapse when the process dies.
func (o *Orchestrator) heartbeat(s *session) (stop func()) {
	interval := o.leaseTTL / 3
	if interval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				o.mu.Lock()
				err := o.renewLeases(s)
				o.mu.Unlock()
				if err != nil {
					o.logger.Warn("failed to renew session leases", "session", s.status.ID, "error", err)
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (o *Orchestrator) releaseLeases(s *session) {
	for _, l := range s.leases {
		o.leases.Release(l)
	}
	s.leases = nil
}

func (o *Orchestrator) journalStatus(ctx context.Context, planID string, status models.PlanStatus) {
	if o.journal == nil {
		return
	}
	if err := o.journal.UpdateStatus(ctx, planID, status); err != nil {
		o.logger.Warn("failed to journal plan status", "plan", planID, "status", status, "error", err)
	}
}

func snapshotStatus(s *session) models.SessionStatus {
	status := s.status
	status.Conflicts = slices.Clone(s.status.Conflicts)
	status.Diffs = slices.Clone(s.status.Diffs)
	return status
}
