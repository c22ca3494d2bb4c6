package singer

import (
	"bufio"
	"context"
	"io"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/datazip-inc/olake-github/destination"
	"github.com/datazip-inc/olake-github/types"
)

const Type = "singer"

// Singer writes SCHEMA, RECORD and STATE messages as JSON lines
type Singer struct {
	mu  sync.Mutex
	out *bufio.Writer
	now func() time.Time
}

func New(out io.Writer) *Singer {
	return &Singer{
		out: bufio.NewWriter(out),
		now: time.Now,
	}
}

func (s *Singer) Type() string {
	return Type
}

func (s *Singer) EmitSchema(_ context.Context, stream *types.StreamDescriptor, fields []string) error {
	message := types.SingerSchema{
		Type:          types.SchemaMessage,
		Stream:        stream.ID,
		Schema:        stream.Schema.Project(fields),
		KeyProperties: stream.KeyProperties,
	}
	if stream.BookmarkKey != "" {
		message.BookmarkProps = []string{stream.BookmarkKey}
	}

	return s.write(message)
}

func (s *Singer) EmitRecord(_ context.Context, stream string, record types.Record) error {
	return s.write(types.SingerRecord{
		Type:          types.RecordMessage,
		Stream:        stream,
		Record:        record,
		TimeExtracted: s.now().UTC(),
	})
}

// EmitState flushes, so a STATE line is never buffered behind the records it covers
func (s *Singer) EmitState(_ context.Context, state *types.State) error {
	if err := s.write(types.SingerState{Type: types.StateMessage, Value: state.Snapshot()}); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Flush()
}

func (s *Singer) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Flush()
}

func (s *Singer) write(message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.out.Write(data); err != nil {
		return err
	}
	return s.out.WriteByte('\n')
}

func init() {
	destination.RegisteredEmitters[Type] = func(out io.Writer) destination.Emitter {
		return New(out)
	}
}
