package abstract

import (
	"context"
	"time"

	"github.com/datazip-inc/olake-github/types"
)

type Config interface {
	Validate() error
}

type DriverInterface interface {
	GetConfigRef() Config
	Spec() any
	Type() string
	// specific to check & setup
	Setup(ctx context.Context) error
	Check(ctx context.Context) error
	// sync artifacts
	MaxConnections() int
	// lower bound of incremental streams without a bookmark, empty for none
	StartDate() string
	// specific to discover; descriptors in declaration order
	Streams() []*types.StreamDescriptor
	// units of work of root streams (one per repository)
	Scopes() []types.ParentRef
	// specific to sync
	ResourceFor(stream *types.StreamDescriptor, parent types.ParentRef, lowerBound string) (types.ResourceRef, error)
	Fetch(ctx context.Context, ref types.ResourceRef, afterToken string) (*types.Page, error)
}

// StateStore persists checkpoints of the sync state
type StateStore interface {
	Type() string
	Save(ctx context.Context, state *types.State) error
}

// Observer receives sync events; metrics implement it
type Observer interface {
	ObserveRecords(stream string, count int)
	ObserveCheckpoint()
	ObserveStream(stream string, status types.StreamStatus, duration time.Duration)
}

type noopObserver struct{}

func (noopObserver) ObserveRecords(string, int) {}

func (noopObserver) ObserveCheckpoint() {}

func (noopObserver) ObserveStream(string, types.StreamStatus, time.Duration) {}
