package abstract

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/datazip-inc/olake-github/destination"
	"github.com/datazip-inc/olake-github/types"
	"github.com/datazip-inc/olake-github/utils/logger"
	"github.com/datazip-inc/olake-github/utils/typeutils"
)

// CheckpointFunc commits the bookmark of one completed scope of a stream
type CheckpointFunc func(ctx context.Context, scope string, bookmark any) error

// StreamResult is the outcome of one executor pass over all scopes of a stream
type StreamResult struct {
	Emitted   int64
	Bookmarks map[string]any
	// parent references for the children of the stream, in emission order
	Published    *types.ParentContext
	ScopesTotal  int
	ScopesFailed int
}

// Executor runs a single stream over its scopes and hands records to the writer pool
type Executor struct {
	driver    DriverInterface
	pool      *destination.WriterPool
	observer  Observer
	startDate string
	now       func() time.Time
}

func NewExecutor(driver DriverInterface, pool *destination.WriterPool, observer Observer) *Executor {
	if observer == nil {
		observer = noopObserver{}
	}
	return &Executor{
		driver:    driver,
		pool:      pool,
		observer:  observer,
		startDate: driver.StartDate(),
		now:       time.Now,
	}
}

type scopeResult struct {
	emitted  int64
	bookmark any
	refs     []types.ParentRef
}

// Run executes the stream once per parent reference. A failed scope does not stop the others;
// its error is returned with the errors of every other failed scope once all were attempted.
// Cancellation and lost credentials stop the pass early.
func (e *Executor) Run(ctx context.Context, node *PlannedStream, parents *types.ParentContext, bookmarks map[string]any, checkpoint CheckpointFunc) (*StreamResult, error) {
	stream := node.Stream
	result := &StreamResult{
		Bookmarks:   make(map[string]any),
		Published:   types.NewParentContext(),
		ScopesTotal: parents.Len(),
	}

	var errs error
	for idx, parent := range parents.Refs() {
		if err := ctx.Err(); err != nil {
			result.ScopesFailed += result.ScopesTotal - idx
			errs = multierror.Append(errs, err)
			break
		}

		scope := parent.Scope()
		scoped, err := e.runScope(ctx, node, parent, bookmarks[scope])
		if err != nil {
			result.ScopesFailed++
			errs = multierror.Append(errs, fmt.Errorf("scope[%s]: %w", scope, err))
			logger.Warnf("stream[%s] failed for scope[%s]: %s", stream.ID, scope, err)
			if ctx.Err() != nil || types.IsUnauthenticated(err) {
				result.ScopesFailed += result.ScopesTotal - idx - 1
				break
			}
			continue
		}

		result.Emitted += scoped.emitted
		result.Published.Add(scoped.refs...)
		if scoped.bookmark == nil {
			continue
		}

		result.Bookmarks[scope] = scoped.bookmark
		if node.Shadow {
			continue
		}
		if err := checkpoint(ctx, scope, scoped.bookmark); err != nil {
			result.ScopesFailed += result.ScopesTotal - idx
			return result, multierror.Append(errs, fmt.Errorf("failed to checkpoint scope[%s]: %s", scope, err))
		}
	}

	return result, errs
}

func (e *Executor) runScope(ctx context.Context, node *PlannedStream, parent types.ParentRef, stored any) (*scopeResult, error) {
	stream := node.Stream
	tracker := newCursor(stream, stored, e.startDate)
	ref, err := e.driver.ResourceFor(stream, parent, tracker.LowerBound())
	if err != nil {
		return nil, err
	}

	publishVars := node.PublishVars()
	result := &scopeResult{}
	token := ""
	for {
		page, err := e.driver.Fetch(ctx, ref, token)
		if err != nil {
			return nil, err
		}

		emitted := 0
		for _, record := range page.Records {
			if err := checkRequired(stream, record); err != nil {
				return nil, err
			}
			if !tracker.Accept(record) {
				continue
			}

			if stream.IDField != "" && len(node.Children) > 0 {
				published, err := publishRef(stream, parent, record, publishVars)
				if err != nil {
					return nil, err
				}
				result.refs = append(result.refs, published)
			}

			if node.Shadow {
				continue
			}
			if err := e.pool.Push(ctx, stream.ID, record); err != nil {
				return nil, err
			}
			emitted++
		}

		result.emitted += int64(emitted)
		e.observer.ObserveRecords(stream.ID, emitted)
		if page.Terminal() {
			break
		}
		token = page.NextToken
	}

	switch stream.ReplicationMethod {
	case types.Incremental:
		result.bookmark = tracker.Value()
	default:
		// completion marker, reported but never used to skip records
		result.bookmark = typeutils.FormatTimestamp(e.now())
	}
	return result, nil
}

// checkRequired fails on records lacking an automatic field
func checkRequired(stream *types.StreamDescriptor, record types.Record) error {
	for _, field := range stream.AutomaticFields().Array() {
		if value, found := record[field]; !found || value == nil {
			return &types.SchemaViolationError{Stream: stream.ID, Field: field, Message: "required field is missing"}
		}
	}
	return nil
}

// publishRef derives the reference children of the stream iterate over from one record
func publishRef(stream *types.StreamDescriptor, parent types.ParentRef, record types.Record, publishVars map[string]string) (types.ParentRef, error) {
	id, err := record.GetStringifiedValue(stream.IDField)
	if err != nil {
		return types.ParentRef{}, &types.SchemaViolationError{Stream: stream.ID, Field: stream.IDField, Message: err.Error()}
	}

	ref := types.ParentRef{ID: id, Vars: make(map[string]string, len(parent.Vars)+len(publishVars))}
	if !stream.IsRoot() {
		ref.Qualifier = parent.Scope()
	}
	for name, value := range parent.Vars {
		ref.Vars[name] = value
	}
	for name, field := range publishVars {
		value, err := record.GetStringifiedValue(field)
		if err != nil {
			return types.ParentRef{}, &types.SchemaViolationError{Stream: stream.ID, Field: field, Message: err.Error()}
		}
		ref.Vars[name] = value
	}
	return ref, nil
}
