package abstract

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/datazip-inc/olake-github/destination"
	"github.com/datazip-inc/olake-github/destination/singer"
	"github.com/datazip-inc/olake-github/types"
)

type MockDriver struct {
	streams        []*types.StreamDescriptor
	scopes         []types.ParentRef
	startDate      string
	maxConnections int
	upstream       *fakeUpstream

	setupFunc       func(ctx context.Context) error
	checkFunc       func(ctx context.Context) error
	resourceForFunc func(stream *types.StreamDescriptor, parent types.ParentRef, lowerBound string) (types.ResourceRef, error)
}

type mockConfig struct{}

func (c *mockConfig) Validate() error {
	return nil
}

func (m *MockDriver) GetConfigRef() Config {
	return &mockConfig{}
}

func (m *MockDriver) Spec() any {
	return map[string]any{}
}

func (m *MockDriver) Type() string {
	return "mock"
}

func (m *MockDriver) Setup(ctx context.Context) error {
	if m.setupFunc != nil {
		return m.setupFunc(ctx)
	}
	return nil
}

func (m *MockDriver) Check(ctx context.Context) error {
	if m.checkFunc != nil {
		return m.checkFunc(ctx)
	}
	return nil
}

func (m *MockDriver) MaxConnections() int {
	return m.maxConnections
}

func (m *MockDriver) StartDate() string {
	return m.startDate
}

func (m *MockDriver) Streams() []*types.StreamDescriptor {
	return m.streams
}

func (m *MockDriver) Scopes() []types.ParentRef {
	return m.scopes
}

func (m *MockDriver) ResourceFor(stream *types.StreamDescriptor, parent types.ParentRef, lowerBound string) (types.ResourceRef, error) {
	if m.resourceForFunc != nil {
		return m.resourceForFunc(stream, parent, lowerBound)
	}

	query := url.Values{}
	if lowerBound != "" {
		query.Set("since", lowerBound)
	}
	return types.ResourceRef{Stream: stream.ID, Path: stream.ID + "/" + parent.Scope(), Query: query}, nil
}

func (m *MockDriver) Fetch(ctx context.Context, ref types.ResourceRef, afterToken string) (*types.Page, error) {
	return m.upstream.Fetch(ctx, ref, afterToken)
}

// fakeUpstream serves pages keyed by request path; tokens are page indexes
type fakeUpstream struct {
	mu       sync.Mutex
	pages    map[string][]*types.Page
	failures map[string]error
	requests []types.ResourceRef
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		pages:    make(map[string][]*types.Page),
		failures: make(map[string]error),
	}
}

// serve answers a path with the given pages in order
func (f *fakeUpstream) serve(path string, pages ...[]types.Record) *fakeUpstream {
	f.mu.Lock()
	defer f.mu.Unlock()
	for idx, records := range pages {
		page := &types.Page{Records: records}
		if idx < len(pages)-1 {
			page.NextToken = strconv.Itoa(idx + 1)
		}
		f.pages[path] = append(f.pages[path], page)
	}
	return f
}

func (f *fakeUpstream) fail(path string, err error) *fakeUpstream {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[path] = err
	return f
}

func (f *fakeUpstream) Fetch(ctx context.Context, ref types.ResourceRef, afterToken string) (*types.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, ref)
	if err, found := f.failures[ref.Path]; found {
		return nil, err
	}

	pages := f.pages[ref.Path]
	if len(pages) == 0 {
		return &types.Page{}, nil
	}

	idx := 0
	if afterToken != "" {
		parsed, err := strconv.Atoi(afterToken)
		if err != nil || parsed >= len(pages) {
			return nil, fmt.Errorf("invalid token %q", afterToken)
		}
		idx = parsed
	}
	return pages[idx], nil
}

func (f *fakeUpstream) requested(path string) []types.ResourceRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []types.ResourceRef{}
	for _, ref := range f.requests {
		if ref.Path == path {
			out = append(out, ref)
		}
	}
	return out
}

// memoryStore keeps every saved state
type memoryStore struct {
	mu     sync.Mutex
	saved  []*types.State
	errors int
}

func (m *memoryStore) Type() string {
	return "memory"
}

func (m *memoryStore) Save(_ context.Context, state *types.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errors > 0 {
		m.errors--
		return fmt.Errorf("store unavailable")
	}
	m.saved = append(m.saved, state.Snapshot())
	return nil
}

func (m *memoryStore) last() *types.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saved) == 0 {
		return nil
	}
	return m.saved[len(m.saved)-1]
}

type recordingObserver struct {
	mu          sync.Mutex
	records     map[string]int
	checkpoints int
	streams     map[string]types.StreamStatus
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{records: map[string]int{}, streams: map[string]types.StreamStatus{}}
}

func (o *recordingObserver) ObserveRecords(stream string, count int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.records[stream] += count
}

func (o *recordingObserver) ObserveCheckpoint() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.checkpoints++
}

func (o *recordingObserver) ObserveStream(stream string, status types.StreamStatus, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.streams[stream] = status
}

// Fixtures

func repoScope(fullName string) types.ParentRef {
	owner, repo, _ := strings.Cut(fullName, "/")
	return types.ParentRef{ID: fullName, Vars: map[string]string{"owner": owner, "repo": repo}}
}

func testStreams() []*types.StreamDescriptor {
	return []*types.StreamDescriptor{
		{
			ID:                "issues",
			ReplicationMethod: types.Incremental,
			BookmarkKey:       "updated_at",
			KeyProperties:     []string{"id"},
			IDField:           "id",
			Schema:            types.NewTypeSchema().AddTypes("id", types.INT64).AddTypes("title", types.NULL, types.STRING).AddTimestamp("updated_at"),
		},
		{
			ID:                "projects",
			ReplicationMethod: types.FullTable,
			KeyProperties:     []string{"id"},
			IDField:           "id",
			Schema:            types.NewTypeSchema().AddTypes("id", types.INT64).AddTypes("name", types.NULL, types.STRING),
		},
		{
			ID:                "project_columns",
			ReplicationMethod: types.FullTable,
			Parent:            "projects",
			KeyProperties:     []string{"id"},
			IDField:           "id",
			ParentVars:        map[string]string{"project_id": "id"},
			Schema:            types.NewTypeSchema().AddTypes("id", types.INT64).AddTypes("name", types.NULL, types.STRING),
		},
		{
			ID:                "project_cards",
			ReplicationMethod: types.Incremental,
			BookmarkKey:       "updated_at",
			Parent:            "project_columns",
			KeyProperties:     []string{"id"},
			IDField:           "id",
			ParentVars:        map[string]string{"column_id": "id"},
			Schema:            types.NewTypeSchema().AddTypes("id", types.INT64).AddTypes("note", types.NULL, types.STRING).AddTimestamp("updated_at"),
		},
	}
}

func newMockDriver(upstream *fakeUpstream) *MockDriver {
	return &MockDriver{
		streams:  testStreams(),
		scopes:   []types.ParentRef{repoScope("octo/hello")},
		upstream: upstream,
	}
}

func selectCatalog(t *testing.T, driver *MockDriver, ids ...string) *types.Catalog {
	t.Helper()
	doc := types.DiscoverCatalog(driver.streams)
	require.NoError(t, doc.Select(ids...))
	catalog, err := types.NewCatalog(driver.streams, doc)
	require.NoError(t, err)
	return catalog
}

// singerOutput captures the message stream of a sync
type singerOutput struct {
	buf  *bytes.Buffer
	pool *destination.WriterPool
}

func newSingerOutput() *singerOutput {
	buf := &bytes.Buffer{}
	return &singerOutput{buf: buf, pool: destination.NewWriterPool(singer.New(buf))}
}

type message struct {
	Type   string         `json:"type"`
	Stream string         `json:"stream"`
	Record map[string]any `json:"record"`
	Value  *types.State   `json:"value"`
}

func (s *singerOutput) messages(t *testing.T) []message {
	t.Helper()
	require.NoError(t, s.pool.Close(context.Background()))

	var messages []message
	scanner := bufio.NewScanner(bytes.NewReader(s.buf.Bytes()))
	for scanner.Scan() {
		var msg message
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &msg))
		messages = append(messages, msg)
	}
	return messages
}

func recordsOf(messages []message, stream string) []map[string]any {
	records := []map[string]any{}
	for _, msg := range messages {
		if msg.Type == "RECORD" && msg.Stream == stream {
			records = append(records, msg.Record)
		}
	}
	return records
}

func record(fields ...any) types.Record {
	out := types.Record{}
	for i := 0; i+1 < len(fields); i += 2 {
		out[fields[i].(string)] = fields[i+1]
	}
	return out
}
