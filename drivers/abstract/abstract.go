package abstract

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/datazip-inc/olake-github/constants"
	"github.com/datazip-inc/olake-github/types"
	"github.com/datazip-inc/olake-github/utils/logger"
)

type AbstractDriver struct { //nolint:gosec,revive
	driver   DriverInterface
	state    *types.State
	store    StateStore
	observer Observer

	// guards state merges, persistence and STATE emission
	checkpointMu  sync.Mutex
	lastStateHash uint64
	now           func() time.Time
}

func NewAbstractDriver(_ context.Context, driver DriverInterface) *AbstractDriver {
	return &AbstractDriver{
		driver:   driver,
		state:    types.NewState(),
		observer: noopObserver{},
		now:      time.Now,
	}
}

func (a *AbstractDriver) SetupState(state *types.State) {
	if state == nil {
		state = types.NewState()
	}
	a.state = state
}

func (a *AbstractDriver) SetStateStore(store StateStore) {
	a.store = store
}

func (a *AbstractDriver) SetObserver(observer Observer) {
	if observer == nil {
		observer = noopObserver{}
	}
	a.observer = observer
}

func (a *AbstractDriver) GetConfigRef() Config {
	return a.driver.GetConfigRef()
}

func (a *AbstractDriver) Spec() any {
	return a.driver.Spec()
}

func (a *AbstractDriver) Type() string {
	return a.driver.Type()
}

func (a *AbstractDriver) Setup(ctx context.Context) error {
	return a.driver.Setup(ctx)
}

func (a *AbstractDriver) Check(ctx context.Context) error {
	return a.driver.Check(ctx)
}

// Catalog validates the driver streams and applies the selection of a catalog document
func (a *AbstractDriver) Catalog(doc *types.CatalogDocument) (*types.Catalog, error) {
	catalog, err := types.NewCatalog(a.driver.Streams(), doc)
	if err != nil {
		return nil, err
	}

	// the forest check runs before any sync work
	if _, err := NewPlan(catalog, ""); err != nil {
		return nil, err
	}
	return catalog, nil
}

// Discover renders every stream of the driver with its replication metadata; nothing is selected
func (a *AbstractDriver) Discover(_ context.Context) (*types.CatalogDocument, error) {
	catalog, err := a.Catalog(nil)
	if err != nil {
		return nil, fmt.Errorf("invalid stream registry: %s", err)
	}

	streams := catalog.Streams()
	logger.Infof("discovered %d streams", len(streams))
	return types.DiscoverCatalog(streams), nil
}

// ClearState drops the bookmarks of the given streams, or all of them when none is given, and
// persists the result
func (a *AbstractDriver) ClearState(ctx context.Context, streams ...string) (*types.State, error) {
	for _, stream := range streams {
		if _, found := a.streamIndex()[stream]; !found {
			return nil, &types.UnknownStreamError{StreamID: stream}
		}
	}

	a.state.ResetStreams(streams...)
	if a.store != nil {
		if err := a.store.Save(ctx, a.state); err != nil {
			return nil, fmt.Errorf("failed to persist cleared state: %s", err)
		}
	}
	return a.state, nil
}

func (a *AbstractDriver) streamIndex() map[string]*types.StreamDescriptor {
	index := make(map[string]*types.StreamDescriptor)
	for _, descriptor := range a.driver.Streams() {
		index[descriptor.ID] = descriptor
	}
	return index
}

// maxThreads bounds the root subtrees running at once
func (a *AbstractDriver) maxThreads() int {
	if threads := a.driver.MaxConnections(); threads > 0 {
		return threads
	}
	return constants.DefaultThreadCount
}
