package destination

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/datazip-inc/olake-github/types"
	"github.com/datazip-inc/olake-github/utils/logger"
)

const DestError = "destination error"

type (
	NewFunc func(out io.Writer) Emitter

	// WriterPool wraps an Emitter with per stream bookkeeping: the SCHEMA of a stream is
	// emitted once and records are projected on the selected fields and counted
	WriterPool struct {
		emitter      Emitter
		totalRecords atomic.Int64
		counts       sync.Map // stream id -> *atomic.Int64
		fields       sync.Map // stream id -> []string
	}
)

var RegisteredEmitters = map[string]NewFunc{}

// NewEmitter creates a registered emitter writing to out, stdout when nil
func NewEmitter(emitterType string, out io.Writer) (Emitter, error) {
	newFunc, found := RegisteredEmitters[emitterType]
	if !found {
		return nil, fmt.Errorf("invalid emitter type has been passed [%s]", emitterType)
	}
	if out == nil {
		out = os.Stdout
	}
	return newFunc(out), nil
}

func NewWriterPool(emitter Emitter) *WriterPool {
	return &WriterPool{emitter: emitter}
}

// Setup emits the SCHEMA message of a stream; repeated calls are no-ops
func (w *WriterPool) Setup(ctx context.Context, stream *types.StreamDescriptor, fields []string) error {
	if _, loaded := w.fields.LoadOrStore(stream.ID, fields); loaded {
		return nil
	}

	w.counts.LoadOrStore(stream.ID, &atomic.Int64{})
	if err := w.emitter.EmitSchema(ctx, stream, fields); err != nil {
		return fmt.Errorf("%s: failed to emit schema of stream[%s]: %s", DestError, stream.ID, err)
	}
	return nil
}

// Push emits one record of a stream that went through Setup
func (w *WriterPool) Push(ctx context.Context, stream string, record types.Record) error {
	fields, found := w.fields.Load(stream)
	if !found {
		return fmt.Errorf("%s: stream[%s] was not set up", DestError, stream)
	}

	if err := w.emitter.EmitRecord(ctx, stream, FilterRecord(record, fields.([]string))); err != nil {
		return fmt.Errorf("%s: failed to emit record of stream[%s]: %s", DestError, stream, err)
	}

	counter, _ := w.counts.Load(stream)
	counter.(*atomic.Int64).Add(1)
	w.totalRecords.Add(1)
	return nil
}

func (w *WriterPool) Checkpoint(ctx context.Context, state *types.State) error {
	if err := w.emitter.EmitState(ctx, state); err != nil {
		return fmt.Errorf("%s: failed to emit state: %s", DestError, err)
	}
	return nil
}

// Count returns the records emitted for a stream
func (w *WriterPool) Count(stream string) int64 {
	counter, found := w.counts.Load(stream)
	if !found {
		return 0
	}
	return counter.(*atomic.Int64).Load()
}

func (w *WriterPool) TotalRecords() int64 {
	return w.totalRecords.Load()
}

func (w *WriterPool) Close(ctx context.Context) error {
	logger.Infof("Total records emitted: %d", w.TotalRecords())
	return w.emitter.Close(ctx)
}

// FilterRecord keeps the selected fields of a record; fields absent from the record are skipped
func FilterRecord(record types.Record, fields []string) types.Record {
	filtered := make(types.Record, len(fields))
	for _, field := range fields {
		if value, found := record[field]; found {
			filtered[field] = value
		}
	}
	return filtered
}
