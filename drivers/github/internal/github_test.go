package driver

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datazip-inc/olake-github/destination"
	"github.com/datazip-inc/olake-github/destination/singer"
	"github.com/datazip-inc/olake-github/drivers/abstract"
	"github.com/datazip-inc/olake-github/statestore"
	"github.com/datazip-inc/olake-github/types"
	"github.com/datazip-inc/olake-github/utils"
)

const testToken = "test-token"

// fakeGitHub serves canned pages per path and follows the page query parameter
type fakeGitHub struct {
	mu       sync.Mutex
	pages    map[string][]string
	requests []string
	server   *httptest.Server
}

func newFakeGitHub(t *testing.T) *fakeGitHub {
	api := &fakeGitHub{pages: make(map[string][]string)}
	api.server = httptest.NewServer(api)
	t.Cleanup(api.server.Close)
	return api
}

func (f *fakeGitHub) serve(path string, pages ...string) *fakeGitHub {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[path] = pages
	return f
}

func (f *fakeGitHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.URL.String())

	w.Header().Set("Content-Type", "application/json")
	if r.Header.Get("Authorization") != "Bearer "+testToken {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Bad credentials"}`))
		return
	}

	pages, found := f.pages[r.URL.Path]
	if !found {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Not Found"}`))
		return
	}

	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		page, _ = strconv.Atoi(raw)
	}
	if page < len(pages) {
		w.Header().Set("Link", fmt.Sprintf(`<%s%s?page=%d>; rel="next"`, f.server.URL, r.URL.Path, page+1))
	}
	_, _ = w.Write([]byte(pages[page-1]))
}

func (f *fakeGitHub) requested(path string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []string{}
	pattern := regexp.MustCompile("^" + regexp.QuoteMeta(path) + `(\?|$)`)
	for _, request := range f.requests {
		if pattern.MatchString(request) {
			out = append(out, request)
		}
	}
	return out
}

func newTestDriver(t *testing.T, api *fakeGitHub, mutate ...func(*Config)) *GitHub {
	t.Helper()
	driver := New()
	driver.config = &Config{
		AccessToken:   testToken,
		Repository:    "octo/hello",
		BaseURL:       api.server.URL,
		MaxRetries:    2,
		BackoffBaseMS: 1,
		// effectively unthrottled
		RequestsPerSecond: 1000,
	}
	for _, fn := range mutate {
		fn(driver.config)
	}
	require.NoError(t, driver.Setup(context.Background()))
	return driver
}

type message struct {
	Type   string         `json:"type"`
	Stream string         `json:"stream"`
	Record map[string]any `json:"record"`
	Value  *types.State   `json:"value"`
}

func parseMessages(t *testing.T, data []byte) map[string][]map[string]any {
	t.Helper()
	records := map[string][]map[string]any{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		var msg message
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &msg))
		if msg.Type == "RECORD" {
			records[msg.Stream] = append(records[msg.Stream], msg.Record)
		}
	}
	return records
}

type runResult struct {
	summary *types.SyncSummary
	records map[string][]map[string]any
	state   *types.State
}

func runSync(t *testing.T, driver *GitHub, state *types.State, selected ...string) runResult {
	t.Helper()
	ctx := context.Background()
	store := statestore.NewFile(filepath.Join(t.TempDir(), "state.json"))
	engine := abstract.NewAbstractDriver(ctx, driver)
	engine.SetupState(state)
	engine.SetStateStore(store)

	doc, err := engine.Discover(ctx)
	require.NoError(t, err)
	require.NoError(t, doc.Select(selected...))
	catalog, err := engine.Catalog(doc)
	require.NoError(t, err)

	buf := &bytes.Buffer{}
	pool := destination.NewWriterPool(singer.New(buf))
	summary, err := engine.Read(ctx, pool, catalog)
	require.NoError(t, err)
	require.NoError(t, pool.Close(ctx))

	persisted, err := store.Load(ctx)
	require.NoError(t, err)
	return runResult{summary: summary, records: parseMessages(t, buf.Bytes()), state: persisted}
}

func projectsAPI(t *testing.T) *fakeGitHub {
	return newFakeGitHub(t).
		serve("/repos/octo/hello/projects",
			`[{"id":1,"name":"Roadmap","updated_at":"2024-01-01T00:00:00Z"}]`,
			`[{"id":2,"name":"Backlog","updated_at":"2024-01-05T00:00:00Z"}]`).
		serve("/projects/1/columns", `[{"id":10,"name":"Todo","updated_at":"2024-01-02T00:00:00Z"}]`).
		serve("/projects/2/columns", `[{"id":20,"name":"Doing","updated_at":"2024-01-06T00:00:00Z"},{"id":21,"name":"Done","updated_at":"2024-01-06T00:00:00Z"}]`).
		serve("/projects/columns/10/cards", `[{"id":100,"note":"a","updated_at":"2024-01-03T00:00:00Z"}]`).
		serve("/projects/columns/20/cards", `[{"id":200,"note":"b","updated_at":"2024-01-07T00:00:00Z"}]`).
		serve("/projects/columns/21/cards", `[]`)
}

func ids(records []map[string]any, field string) []any {
	out := []any{}
	for _, record := range records {
		out = append(out, record[field])
	}
	return out
}

func TestDiscoverStreams(t *testing.T) {
	driver := New()
	doc, err := abstract.NewAbstractDriver(context.Background(), driver).Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, doc.Streams, 23)

	expected := []string{
		"assignees", "collaborators", "comments", "commit_comments", "commits", "events", "issue_events",
		"issue_labels", "issue_milestones", "issues", "projects", "project_columns", "project_cards",
		"pull_requests", "reviews", "pull_request_reviews", "review_comments", "pr_commits", "releases",
		"stargazers", "teams", "team_members", "team_memberships",
	}
	names := []string{}
	for _, entry := range doc.Streams {
		assert.Regexp(t, `^[a-z_]+$`, entry.TapStreamID)
		assert.False(t, entry.Selected(), "stream %s is selected by default", entry.TapStreamID)
		names = append(names, entry.TapStreamID)
	}
	assert.ElementsMatch(t, expected, names)
}

func TestProjectsStreamsSync(t *testing.T) {
	api := projectsAPI(t)
	result := runSync(t, newTestDriver(t, api), nil, "projects", "project_columns", "project_cards")

	assert.Equal(t, 0, result.summary.ExitCode())
	assert.Equal(t, []string{"project_cards", "project_columns", "projects"}, utils.SortedKeys(result.records))
	assert.Equal(t, []any{float64(1), float64(2)}, ids(result.records["projects"], "id"))
	assert.Equal(t, []any{float64(10), float64(20), float64(21)}, ids(result.records["project_columns"], "id"))
	assert.Equal(t, []any{float64(100), float64(200)}, ids(result.records["project_cards"], "id"))

	for _, column := range result.records["project_columns"] {
		assert.Contains(t, ids(result.records["projects"], "id"), column["project_id"])
	}
	for _, card := range result.records["project_cards"] {
		assert.Contains(t, ids(result.records["project_columns"], "id"), card["column_id"])
	}

	for _, path := range []string{"/repos/octo/hello/issues", "/repos/octo/hello/pulls", "/orgs/octo/teams"} {
		assert.Empty(t, api.requested(path), "unselected stream requested %s", path)
	}
	assert.Len(t, api.requested("/repos/octo/hello/projects"), 2)

	assert.Equal(t, "2024-01-05T00:00:00Z", result.state.GetBookmark("projects", "octo/hello"))
	assert.Equal(t, "2024-01-02T00:00:00Z", result.state.GetBookmark("project_columns", "1"))
	assert.Equal(t, "2024-01-07T00:00:00Z", result.state.GetBookmark("project_cards", "2/20"))
}

func TestProjectsIncrementalRerun(t *testing.T) {
	api := projectsAPI(t)
	first := runSync(t, newTestDriver(t, api), nil, "projects", "project_columns", "project_cards")
	require.Equal(t, 0, first.summary.ExitCode())

	second := runSync(t, newTestDriver(t, api), first.state, "projects", "project_columns", "project_cards")
	assert.Equal(t, 0, second.summary.ExitCode())

	// project 1 is older than the bookmark; project 2 equals it and is synced again
	assert.Equal(t, []any{float64(2)}, ids(second.records["projects"], "id"))
	assert.Equal(t, []any{float64(20), float64(21)}, ids(second.records["project_columns"], "id"))
	assert.Equal(t, []any{float64(200)}, ids(second.records["project_cards"], "id"))
	assert.Len(t, api.requested("/projects/1/columns"), 1)
}

func TestSelectedChildRunsParentInShadow(t *testing.T) {
	api := projectsAPI(t)
	result := runSync(t, newTestDriver(t, api), nil, "project_cards")

	assert.Equal(t, 0, result.summary.ExitCode())
	assert.Equal(t, []string{"project_cards"}, utils.SortedKeys(result.records))
	assert.Len(t, result.records["project_cards"], 2)
	assert.Nil(t, result.state.GetBookmark("projects", "octo/hello"))
}

func TestIncrementalSinceParameter(t *testing.T) {
	api := newFakeGitHub(t).
		serve("/repos/octo/hello/issues", `[{"id":7,"title":"bug","updated_at":"2024-03-01T00:00:00Z"}]`)
	driver := newTestDriver(t, api, func(c *Config) { c.StartDate = "2024-02-01T00:00:00Z" })

	result := runSync(t, driver, nil, "issues")
	assert.Equal(t, 0, result.summary.ExitCode())
	assert.Len(t, result.records["issues"], 1)

	requests := api.requested("/repos/octo/hello/issues")
	require.Len(t, requests, 1)
	assert.Contains(t, requests[0], "since=2024-02-01T00%3A00%3A00Z")
	assert.Contains(t, requests[0], "state=all")
	assert.Contains(t, requests[0], "per_page=100")
}

func TestFailedScopeReportedInSummary(t *testing.T) {
	api := projectsAPI(t)
	delete(api.pages, "/projects/columns/21/cards")

	result := runSync(t, newTestDriver(t, api), nil, "projects", "project_columns", "project_cards")
	assert.Equal(t, 2, result.summary.ExitCode())
	outcome := result.summary.Outcome("project_cards")
	require.NotNil(t, outcome)
	assert.Equal(t, types.StreamFailed, outcome.Status)
	assert.Equal(t, types.KindUpstreamRequest, outcome.ErrorKind)
	assert.Equal(t, 1, outcome.ScopesFailed)
	assert.True(t, outcome.PartiallyCompleted())
	assert.Equal(t, "2024-01-03T00:00:00Z", result.state.GetBookmark("project_cards", "1/10"))
}

func TestCheck(t *testing.T) {
	api := newFakeGitHub(t).
		serve("/user", `{"login":"octocat"}`).
		serve("/repos/octo/hello", `{"full_name":"octo/hello"}`)

	assert.NoError(t, newTestDriver(t, api).Check(context.Background()))

	err := newTestDriver(t, api, func(c *Config) { c.Repository = "octo/hello octo/missing" }).Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "octo/missing")

	err = newTestDriver(t, api, func(c *Config) { c.AccessToken = "revoked" }).Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to verify credentials")
}

func TestUnauthorizedSyncFails(t *testing.T) {
	api := projectsAPI(t)
	driver := newTestDriver(t, api, func(c *Config) { c.AccessToken = "revoked" })

	result := runSync(t, driver, nil, "issues", "projects")
	assert.Equal(t, 1, result.summary.ExitCode())
	outcome := result.summary.Outcome("issues")
	require.NotNil(t, outcome)
	assert.Equal(t, types.StreamFailed, outcome.Status)
	assert.Equal(t, types.KindUpstreamAuth, outcome.ErrorKind)
	assert.Equal(t, types.StreamNotStarted, result.summary.Outcome("projects").Status)
}
