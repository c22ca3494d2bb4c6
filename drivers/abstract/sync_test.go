package abstract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datazip-inc/olake-github/types"
)

func projectsUpstream() *fakeUpstream {
	return newFakeUpstream().
		serve("projects/octo/hello", []types.Record{record("id", 1, "name", "roadmap")}, []types.Record{record("id", 2, "name", "backlog")}).
		serve("project_columns/1", []types.Record{record("id", 10, "name", "todo")}).
		serve("project_columns/2", []types.Record{record("id", 20, "name", "todo"), record("id", 21, "name", "done")}).
		serve("project_cards/1/10", []types.Record{record("id", 100, "note", "a", "updated_at", "2024-01-10T00:00:00Z")}).
		serve("project_cards/2/20", []types.Record{
			record("id", 200, "note", "b", "updated_at", "2024-02-10T00:00:00Z"),
			record("id", 201, "note", "c", "updated_at", "2024-02-11T00:00:00Z"),
		}).
		serve("issues/octo/hello", []types.Record{record("id", 7, "title", "bug", "updated_at", "2024-03-01T00:00:00Z")})
}

type syncFixture struct {
	driver   *MockDriver
	abstract *AbstractDriver
	store    *memoryStore
	observer *recordingObserver
	out      *singerOutput
}

func newSyncFixture(upstream *fakeUpstream, state *types.State) *syncFixture {
	driver := newMockDriver(upstream)
	fixture := &syncFixture{
		driver:   driver,
		abstract: NewAbstractDriver(context.Background(), driver),
		store:    &memoryStore{},
		observer: newRecordingObserver(),
		out:      newSingerOutput(),
	}
	fixture.abstract.SetupState(state)
	fixture.abstract.SetStateStore(fixture.store)
	fixture.abstract.SetObserver(fixture.observer)
	return fixture
}

func (f *syncFixture) read(t *testing.T, ctx context.Context, selected ...string) *types.SyncSummary {
	t.Helper()
	summary, err := f.abstract.Read(ctx, f.out.pool, selectCatalog(t, f.driver, selected...))
	require.NoError(t, err)
	return summary
}

// lastIndex returns the index of the last message matching f, -1 when none does
func lastIndex(messages []message, f func(message) bool) int {
	idx := -1
	for i, msg := range messages {
		if f(msg) {
			idx = i
		}
	}
	return idx
}

func TestReadSelectedProjectsTrio(t *testing.T) {
	fixture := newSyncFixture(projectsUpstream(), nil)
	summary := fixture.read(t, context.Background(), "projects", "project_columns", "project_cards")

	assert.Equal(t, types.SyncSucceeded, summary.Status)
	assert.Equal(t, 0, summary.ExitCode())
	assert.NotEmpty(t, summary.SyncID)

	messages := fixture.out.messages(t)
	projects := recordsOf(messages, "projects")
	columns := recordsOf(messages, "project_columns")
	cards := recordsOf(messages, "project_cards")
	assert.Len(t, projects, 2)
	assert.Len(t, columns, 3)
	assert.Len(t, cards, 3)
	assert.Empty(t, recordsOf(messages, "issues"))
	assert.Empty(t, fixture.driver.upstream.requested("issues/octo/hello"))

	// children were requested only for ids their parent emitted
	for _, project := range projects {
		assert.Len(t, fixture.driver.upstream.requested("project_columns/"+formatID(project["id"])), 1)
	}
	lastProject := lastIndex(messages, func(m message) bool { return m.Type == "RECORD" && m.Stream == "projects" })
	firstColumn := len(messages)
	for i, msg := range messages {
		if msg.Type == "RECORD" && msg.Stream == "project_columns" {
			firstColumn = i
			break
		}
	}
	assert.Less(t, lastProject, firstColumn)

	// every record precedes the STATE message bookmarking it
	lastCard := lastIndex(messages, func(m message) bool { return m.Type == "RECORD" && m.Stream == "project_cards" })
	firstCardState := -1
	for i, msg := range messages {
		if msg.Type == "STATE" && msg.Value.GetBookmark("project_cards", "2/20") != nil {
			firstCardState = i
			break
		}
	}
	assert.Greater(t, firstCardState, lastCard)

	persisted := fixture.store.last()
	require.NotNil(t, persisted)
	assert.Empty(t, persisted.CurrentlySyncing)
	assert.Equal(t, map[string]any{
		"1/10": "2024-01-10T00:00:00Z",
		"2/20": "2024-02-11T00:00:00Z",
	}, persisted.GetBookmarks("project_cards"))
	assert.Contains(t, persisted.GetBookmarks("projects"), "octo/hello")
	assert.NotEmpty(t, persisted.Bookmarks["projects"].LastCompletedAt)

	assert.Equal(t, 3, fixture.observer.records["project_cards"])
	assert.Equal(t, types.StreamCompleted, fixture.observer.streams["project_columns"])
	assert.Positive(t, fixture.observer.checkpoints)
}

func formatID(value any) string {
	id, _ := types.Record{"id": value}.GetStringifiedValue("id")
	return id
}

func TestReadShadowParents(t *testing.T) {
	fixture := newSyncFixture(projectsUpstream(), nil)
	summary := fixture.read(t, context.Background(), "project_cards")

	assert.Equal(t, types.SyncSucceeded, summary.Status)
	messages := fixture.out.messages(t)
	assert.Empty(t, recordsOf(messages, "projects"))
	assert.Empty(t, recordsOf(messages, "project_columns"))
	assert.Len(t, recordsOf(messages, "project_cards"), 3)

	assert.True(t, summary.Outcome("projects").Shadow)
	assert.True(t, summary.Outcome("project_columns").Shadow)
	assert.False(t, summary.Outcome("project_cards").Shadow)

	persisted := fixture.store.last()
	assert.Empty(t, persisted.GetBookmarks("projects"))
	assert.Empty(t, persisted.GetBookmarks("project_columns"))
	assert.Len(t, persisted.GetBookmarks("project_cards"), 2)
}

func TestReadPartialFailureKeepsCommittedScopes(t *testing.T) {
	// resuming project_cards runs the projects subtree before issues
	prior := types.NewState()
	prior.SetCurrentlySyncing("project_cards")
	upstream := projectsUpstream().fail("project_cards/1/10", &types.UpstreamUnavailableError{Attempts: 5})
	fixture := newSyncFixture(upstream, prior)
	summary := fixture.read(t, context.Background(), "projects", "project_columns", "project_cards", "issues")

	cards := summary.Outcome("project_cards")
	assert.Equal(t, types.StreamFailed, cards.Status)
	assert.Equal(t, types.KindUpstreamUnavailable, cards.ErrorKind)
	assert.Equal(t, 3, cards.ScopesTotal)
	assert.Equal(t, 1, cards.ScopesFailed)
	assert.True(t, cards.PartiallyCompleted())
	assert.Equal(t, 2, len(upstream.requested("project_cards/2/20"))+len(upstream.requested("project_cards/2/21")), "every scope is attempted")

	// a failed stream stops the scheduling of later subtrees
	assert.Equal(t, types.StreamNotStarted, summary.Outcome("issues").Status)
	assert.Empty(t, upstream.requested("issues/octo/hello"))
	assert.Equal(t, types.SyncPartial, summary.Status)
	assert.Equal(t, 2, summary.ExitCode())

	persisted := fixture.store.last()
	assert.Equal(t, map[string]any{"2/20": "2024-02-11T00:00:00Z"}, persisted.GetBookmarks("project_cards"))
	assert.Equal(t, "project_cards", persisted.CurrentlySyncing)
	assert.Empty(t, persisted.Bookmarks["project_cards"].LastCompletedAt)
}

func TestReadSchemaViolationStopsScheduling(t *testing.T) {
	prior := types.NewState()
	prior.SetCurrentlySyncing("project_columns")
	upstream := projectsUpstream().fail("project_columns/1", &types.SchemaViolationError{Stream: "project_columns", Field: "id", Message: "required field is missing"})
	fixture := newSyncFixture(upstream, prior)
	summary := fixture.read(t, context.Background(), "issues", "projects", "project_columns")

	columns := summary.Outcome("project_columns")
	assert.Equal(t, types.StreamFailed, columns.Status)
	assert.Equal(t, types.KindSchemaViolation, columns.ErrorKind)
	assert.Equal(t, 2, columns.ScopesTotal)
	assert.Equal(t, 1, columns.ScopesFailed)
	assert.Len(t, recordsOf(fixture.out.messages(t), "project_columns"), 2)

	assert.Equal(t, types.StreamCompleted, summary.Outcome("projects").Status)
	assert.Equal(t, types.StreamNotStarted, summary.Outcome("issues").Status)
	assert.Empty(t, upstream.requested("issues/octo/hello"))
	assert.Equal(t, 2, summary.ExitCode())
}

func TestReadStopsSchedulingAfterFatalFailure(t *testing.T) {
	upstream := projectsUpstream().fail("issues/octo/hello", &types.UpstreamAuthError{StatusCode: 403, Message: "Resource not accessible"})
	fixture := newSyncFixture(upstream, nil)
	summary := fixture.read(t, context.Background(), "issues", "projects")

	assert.Equal(t, types.StreamFailed, summary.Outcome("issues").Status)
	assert.Equal(t, types.KindUpstreamAuth, summary.Outcome("issues").ErrorKind)
	assert.Equal(t, types.StreamNotStarted, summary.Outcome("projects").Status)
	assert.Empty(t, fixture.driver.upstream.requested("projects/octo/hello"))
	assert.Equal(t, types.SyncFailed, summary.Status)
	assert.Equal(t, 1, summary.ExitCode())
	assert.Contains(t, summary.Error, "stream[issues]")
}

func TestReadIncrementalRerun(t *testing.T) {
	first := newSyncFixture(projectsUpstream(), nil)
	first.read(t, context.Background(), "issues")
	state := first.store.last()
	assert.Equal(t, "2024-03-01T00:00:00Z", state.GetBookmark("issues", "octo/hello"))

	upstream := newFakeUpstream().serve("issues/octo/hello", []types.Record{
		record("id", 6, "updated_at", "2024-02-01T00:00:00Z"),
		record("id", 7, "updated_at", "2024-03-01T00:00:00Z"),
		record("id", 8, "updated_at", "2024-03-02T00:00:00Z"),
	})
	second := newSyncFixture(upstream, state)
	summary := second.read(t, context.Background(), "issues")
	assert.Equal(t, types.SyncSucceeded, summary.Status)

	assert.Equal(t, "2024-03-01T00:00:00Z", upstream.requested("issues/octo/hello")[0].Query.Get("since"))
	for _, rec := range recordsOf(second.out.messages(t), "issues") {
		assert.GreaterOrEqual(t, rec["updated_at"], "2024-03-01T00:00:00Z")
	}
	assert.Equal(t, "2024-03-02T00:00:00Z", second.store.last().GetBookmark("issues", "octo/hello"))
}

func TestReadFullTableIsRepeatable(t *testing.T) {
	first := newSyncFixture(projectsUpstream(), nil)
	first.read(t, context.Background(), "projects")

	second := newSyncFixture(projectsUpstream(), first.store.last())
	second.read(t, context.Background(), "projects")

	assert.ElementsMatch(t, recordsOf(first.out.messages(t), "projects"), recordsOf(second.out.messages(t), "projects"))
}

func TestReadKeepsUnrelatedBookmarks(t *testing.T) {
	prior := types.NewState()
	prior.SetBookmarks("releases", "", map[string]any{"octo/hello": "2024-01-01T00:00:00Z"})
	prior.SetBookmarks("issues", "updated_at", map[string]any{"octo/other": "2023-01-01T00:00:00Z"})

	fixture := newSyncFixture(projectsUpstream(), prior)
	fixture.read(t, context.Background(), "issues")

	persisted := fixture.store.last()
	assert.Equal(t, "2024-01-01T00:00:00Z", persisted.GetBookmark("releases", "octo/hello"))
	assert.Equal(t, map[string]any{
		"octo/other": "2023-01-01T00:00:00Z",
		"octo/hello": "2024-03-01T00:00:00Z",
	}, persisted.GetBookmarks("issues"))
}

func TestReadResumesCurrentlySyncingSubtree(t *testing.T) {
	prior := types.NewState()
	prior.SetCurrentlySyncing("project_columns")

	fixture := newSyncFixture(projectsUpstream(), prior)
	fixture.read(t, context.Background(), "issues", "projects", "project_columns")

	messages := fixture.out.messages(t)
	lastColumn := lastIndex(messages, func(m message) bool { return m.Type == "RECORD" && m.Stream == "project_columns" })
	issue := lastIndex(messages, func(m message) bool { return m.Type == "RECORD" && m.Stream == "issues" })
	assert.Less(t, lastColumn, issue)
}

func TestReadConcurrentSubtrees(t *testing.T) {
	fixture := newSyncFixture(projectsUpstream(), nil)
	fixture.driver.maxConnections = 2
	summary := fixture.read(t, context.Background(), "issues", "projects", "project_columns", "project_cards")

	assert.Equal(t, types.SyncSucceeded, summary.Status)
	for _, outcome := range summary.Streams {
		assert.Equal(t, types.StreamCompleted, outcome.Status, outcome.Stream)
	}
	assert.Len(t, fixture.store.last().GetBookmarks("project_cards"), 2)
}

func TestReadCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fixture := newSyncFixture(projectsUpstream(), nil)
	summary := fixture.read(t, ctx, "issues", "projects")

	for _, outcome := range summary.Streams {
		assert.Equal(t, types.StreamNotStarted, outcome.Status)
	}
	assert.Equal(t, types.SyncFailed, summary.Status)
	assert.Contains(t, summary.Error, "sync interrupted")
}

func TestReadRetriesStatePersistence(t *testing.T) {
	fixture := newSyncFixture(projectsUpstream(), nil)
	fixture.store.errors = 1
	summary := fixture.read(t, context.Background(), "projects")

	assert.Equal(t, types.SyncSucceeded, summary.Status)
	assert.NotNil(t, fixture.store.last())
}

func TestReadEmitsEveryPersistedState(t *testing.T) {
	fixture := newSyncFixture(newFakeUpstream(), nil)
	summary := fixture.read(t, context.Background(), "issues")

	assert.Equal(t, types.SyncSucceeded, summary.Status)
	states := 0
	for _, msg := range fixture.out.messages(t) {
		if msg.Type == "STATE" {
			states++
		}
	}
	assert.Equal(t, len(fixture.store.saved), states)
}
