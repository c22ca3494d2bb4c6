package statestore

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datazip-inc/olake-github/types"
)

func sampleState() *types.State {
	state := types.NewState()
	state.SetBookmarks("issues", "updated_at", map[string]any{"octo/hello": "2024-01-02T00:00:00.000000Z"})
	state.MarkCompleted("issues", time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC))
	state.SetCurrentlySyncing("project_cards")
	return state
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "empty defaults to file", config: Config{}},
		{name: "file with path", config: Config{Type: FileStore, Path: "/tmp/state.json"}},
		{name: "unknown type", config: Config{Type: "redis"}, wantErr: true},
		{name: "s3 without settings", config: Config{Type: S3Store}, wantErr: true},
		{name: "s3 without bucket", config: Config{Type: S3Store, S3: &S3Config{Region: "us-east-1"}}, wantErr: true},
		{name: "s3", config: Config{Type: S3Store, S3: &S3Config{Bucket: "state"}}},
		{name: "postgres without dsn", config: Config{Type: PostgresStore, Postgres: &PostgresConfig{}}, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.config.Validate()
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNewDefaultsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := New(context.Background(), nil, path)
	require.NoError(t, err)
	assert.Equal(t, FileStore, store.Type())

	_, err = New(context.Background(), nil, "")
	assert.Error(t, err)

	override := filepath.Join(t.TempDir(), "custom.json")
	store, err = New(context.Background(), &Config{Path: override}, path)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), sampleState()))
	assert.FileExists(t, override)
	assert.NoFileExists(t, path)
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	store := NewFile(path)

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, loaded.IsZero())

	require.NoError(t, store.Save(ctx, sampleState()))
	loaded, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02T00:00:00.000000Z", loaded.GetBookmark("issues", "octo/hello"))
	assert.Equal(t, "project_cards", loaded.GetCurrentlySyncing())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files are cleaned up")
}

func TestFileStoreRejectsCorruptState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFile(path).Load(context.Background())
	assert.Error(t, err)
}

// fakeS3 implements the path style GET and PUT object calls
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = body
		f.puts++
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		body, found := f.objects[r.URL.Path]
		if !found {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestS3Store(t *testing.T) {
	backend := &fakeS3{objects: map[string][]byte{}}
	server := httptest.NewServer(backend)
	defer server.Close()

	store, err := New(context.Background(), &Config{Type: S3Store, S3: &S3Config{
		Bucket:    "sync",
		Key:       "/connectors/github/state.json",
		Region:    "us-east-1",
		Endpoint:  server.URL,
		AccessKey: "key",
		SecretKey: "secret",
		PathStyle: true,
	}}, "")
	require.NoError(t, err)
	assert.Equal(t, S3Store, store.Type())

	ctx := context.Background()
	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, loaded.IsZero())

	require.NoError(t, store.Save(ctx, sampleState()))
	assert.Equal(t, 1, backend.puts)
	raw, found := backend.objects["/sync/connectors/github/state.json"]
	require.True(t, found)
	assert.True(t, strings.Contains(string(raw), `"currently_syncing":"project_cards"`))

	loaded, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02T00:00:00.000000Z", loaded.GetBookmark("issues", "octo/hello"))
	require.NoError(t, store.Close())
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("OLAKE_GITHUB_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("OLAKE_GITHUB_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	store, err := New(ctx, &Config{Type: PostgresStore, Postgres: &PostgresConfig{DSN: dsn, ConnectorID: t.Name()}}, "")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save(ctx, sampleState()))
	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "project_cards", loaded.GetCurrentlySyncing())

	next := sampleState()
	next.SetCurrentlySyncing("")
	require.NoError(t, store.Save(ctx, next))
	loaded, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded.GetCurrentlySyncing())
}

func TestPostgresIdentifiers(t *testing.T) {
	assert.Equal(t, defaultStateTable, tableName(""))
	assert.Equal(t, "custom", tableName("custom"))
	assert.Equal(t, defaultConnectorID, connectorID(""))
}
