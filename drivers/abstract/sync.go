package abstract

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/datazip-inc/olake-github/destination"
	"github.com/datazip-inc/olake-github/types"
	"github.com/datazip-inc/olake-github/utils"
	"github.com/datazip-inc/olake-github/utils/logger"
	"github.com/datazip-inc/olake-github/utils/safego"
)

const (
	persistAttempts = 3
	persistBackoff  = 500 * time.Millisecond
)

// syncRun is the bookkeeping of one Read call
type syncRun struct {
	*AbstractDriver
	pool     *destination.WriterPool
	executor *Executor
	summary  *types.SyncSummary
	outcomes map[string]*types.StreamOutcome

	// set once a stream failed; no new stream starts afterwards
	halted atomic.Bool
	errMu  sync.Mutex
	errs   error
}

// Read syncs the selected streams of the catalog. Root subtrees run on up to MaxConnections
// goroutines; within a subtree every parent finishes before its children start. The returned
// error is set only when the run could not start; stream failures are reported in the summary.
func (a *AbstractDriver) Read(ctx context.Context, pool *destination.WriterPool, catalog *types.Catalog) (*types.SyncSummary, error) {
	plan, err := NewPlan(catalog, a.state.GetCurrentlySyncing())
	if err != nil {
		return nil, err
	}
	logger.Infof("sync plan: %s", plan)

	run := &syncRun{
		AbstractDriver: a,
		pool:           pool,
		executor:       NewExecutor(a.driver, pool, a.observer),
		summary: &types.SyncSummary{
			SyncID:    utils.ULID(),
			StartedAt: a.now().UTC(),
			Streams:   []*types.StreamOutcome{},
		},
		outcomes: make(map[string]*types.StreamOutcome),
	}
	for _, node := range plan.Order() {
		outcome := &types.StreamOutcome{Stream: node.Stream.ID, Status: types.StreamNotStarted, Shadow: node.Shadow}
		run.outcomes[node.Stream.ID] = outcome
		run.summary.Streams = append(run.summary.Streams, outcome)
	}

	roots := types.NewParentContext(a.driver.Scopes()...)
	group := errgroup.Group{}
	group.SetLimit(a.maxThreads())
	for _, subtree := range plan.Subtrees {
		// Go blocks while max threads subtrees are running
		if run.halted.Load() || ctx.Err() != nil {
			break
		}
		group.Go(func() error {
			run.walk(ctx, subtree, roots)
			return nil
		})
	}
	_ = group.Wait()

	if err := ctx.Err(); err != nil {
		run.fail(fmt.Errorf("sync interrupted: %w", err))
	}

	// final checkpoint; a finished run has nothing to resume
	a.checkpointMu.Lock()
	if run.errs == nil {
		a.state.SetCurrentlySyncing("")
	}
	if err := a.flush(ctx, pool); err != nil {
		run.fail(fmt.Errorf("failed to persist final state: %s", err))
	}
	a.checkpointMu.Unlock()

	run.summary.Finalize(run.errs)
	logger.Infof("sync[%s] finished with status %s", run.summary.SyncID, run.summary.Status)
	return run.summary, nil
}

// walk runs a stream and then its children with the parent references it published
func (r *syncRun) walk(ctx context.Context, node *PlannedStream, parents *types.ParentContext) {
	if r.halted.Load() || ctx.Err() != nil {
		return
	}

	published := r.runStream(ctx, node, parents)
	for _, child := range node.Children {
		r.walk(ctx, child, published)
	}
}

func (r *syncRun) runStream(ctx context.Context, node *PlannedStream, parents *types.ParentContext) *types.ParentContext {
	stream := node.Stream
	outcome := r.outcomes[stream.ID]
	start := time.Now()
	logger.Infof("starting stream[%s] over %d scopes%s", stream.ID, parents.Len(), utils.Ternary(node.Shadow, " in shadow", ""))

	result, err := r.execute(ctx, node, parents)
	outcome.Duration = time.Since(start).Round(time.Millisecond).String()
	outcome.RecordsEmitted = result.Emitted
	outcome.ScopesTotal = result.ScopesTotal
	outcome.ScopesFailed = result.ScopesFailed

	// a stream is failed once every scope was attempted and any of them failed; the scope
	// counts keep its committed progress visible
	outcome.Status = types.StreamCompleted
	if err != nil {
		outcome.Status = types.StreamFailed
		outcome.ErrorKind = types.ErrorKind(err)
		outcome.Error = err.Error()
		r.fail(fmt.Errorf("stream[%s]: %w", stream.ID, err))
		logger.Errorf("stream[%s] failed in %d of %d scopes, no further streams will be scheduled: %s", stream.ID, result.ScopesFailed, result.ScopesTotal, err)
		r.halted.Store(true)
	}

	if !node.Shadow {
		if cpErr := r.checkpoint(ctx, r.pool, stream, nil, outcome.Status == types.StreamCompleted); cpErr != nil {
			r.fail(fmt.Errorf("stream[%s]: %s", stream.ID, cpErr))
			r.halted.Store(true)
		}
	}

	r.observer.ObserveStream(stream.ID, outcome.Status, time.Since(start))
	logger.Infof("finished stream[%s] with status %s, %d records emitted", stream.ID, outcome.Status, outcome.RecordsEmitted)
	return result.Published
}

func (r *syncRun) execute(ctx context.Context, node *PlannedStream, parents *types.ParentContext) (result *StreamResult, err error) {
	stream := node.Stream
	result = &StreamResult{Published: types.NewParentContext(), ScopesTotal: parents.Len()}
	defer safego.RecoverError(&err, fmt.Sprintf("stream[%s]", stream.ID))

	bookmarks := map[string]any{}
	if !node.Shadow {
		r.markSyncing(stream)
		bookmarks = r.state.GetBookmarks(stream.ID)
		if err := r.pool.Setup(ctx, stream, node.Fields); err != nil {
			result.ScopesFailed = result.ScopesTotal
			return result, err
		}
	}

	executed, err := r.executor.Run(ctx, node, parents, bookmarks, func(ctx context.Context, scope string, bookmark any) error {
		return r.checkpoint(ctx, r.pool, stream, map[string]any{scope: bookmark}, false)
	})
	if executed != nil {
		result = executed
	}
	return result, err
}

func (r *syncRun) fail(err error) {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	r.errs = multierror.Append(r.errs, err)
}

func (a *AbstractDriver) markSyncing(stream *types.StreamDescriptor) {
	a.checkpointMu.Lock()
	defer a.checkpointMu.Unlock()
	a.state.SetCurrentlySyncing(stream.ID)
}

// checkpoint merges bookmarks of a stream into the sync state, max wins per scope, and persists
// the state when it changed
func (a *AbstractDriver) checkpoint(ctx context.Context, pool *destination.WriterPool, stream *types.StreamDescriptor, scopes map[string]any, completed bool) error {
	a.checkpointMu.Lock()
	defer a.checkpointMu.Unlock()

	if len(scopes) > 0 {
		merged := make(map[string]any, len(scopes))
		for scope, value := range scopes {
			merged[scope] = maxBookmark(a.state.GetBookmark(stream.ID, scope), value)
		}
		a.state.SetBookmarks(stream.ID, stream.BookmarkKey, merged)
	}
	if completed {
		a.state.MarkCompleted(stream.ID, a.now())
	} else {
		// with concurrent subtrees the persisted marker names the stream whose progress it holds
		a.state.SetCurrentlySyncing(stream.ID)
	}

	return a.flush(ctx, pool)
}

// flush persists the state and emits it as a STATE message; callers hold checkpointMu
func (a *AbstractDriver) flush(ctx context.Context, pool *destination.WriterPool) error {
	hash, err := a.state.Hash()
	if err == nil && hash == a.lastStateHash {
		return nil
	}

	// an interrupted run still persists what it reached
	ctx = context.WithoutCancel(ctx)
	snapshot := a.state.Snapshot()
	if a.store != nil {
		err := utils.RetryOnBackoff(ctx, persistAttempts, persistBackoff, func() error {
			return a.store.Save(ctx, snapshot)
		})
		if err != nil {
			return fmt.Errorf("failed to persist state to %s store: %s", a.store.Type(), err)
		}
	}

	if err := pool.Checkpoint(ctx, snapshot); err != nil {
		return err
	}

	a.lastStateHash = hash
	a.observer.ObserveCheckpoint()
	logger.LogState(snapshot)
	return nil
}
