package protocol

import (
	"github.com/datazip-inc/olake-github/drivers/abstract"
	"github.com/datazip-inc/olake-github/pkg/paginator"
	"github.com/datazip-inc/olake-github/statestore"
)

type Driver interface {
	abstract.DriverInterface
}

// RequestObserved is implemented by drivers reporting their upstream requests
type RequestObserved interface {
	SetObserver(observer paginator.Observer)
}

// StateStoreConfigured is implemented by configs choosing where checkpoints are persisted
type StateStoreConfigured interface {
	StateStoreConfig() *statestore.Config
}
