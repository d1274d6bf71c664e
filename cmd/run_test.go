package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	gcsstorage "cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/api/option"

	"github.com/JakeFAU/profile-email-enricher/internal/logging"
	"github.com/JakeFAU/profile-email-enricher/internal/storage/sheets"
)

// githubStub serves rate_limit, users and raw README paths.
type githubStub struct {
	mu    sync.Mutex
	users map[string]string
	docs  map[string]string
	hits  map[string]int
}

func newGitHubStub(t *testing.T) (*githubStub, *httptest.Server) {
	t.Helper()
	stub := &githubStub{
		users: map[string]string{},
		docs:  map[string]string{},
		hits:  map[string]int{},
	}
	server := httptest.NewServer(stub)
	t.Cleanup(server.Close)
	return stub, server
}

func (s *githubStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits[r.URL.Path]++

	switch {
	case r.URL.Path == "/rate_limit":
		_, _ = io.WriteString(w, `{"rate":{"remaining":4999}}`)
	case strings.HasPrefix(r.URL.Path, "/users/"):
		name := strings.TrimPrefix(r.URL.Path, "/users/")
		email, ok := s.users[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"login": name, "email": email})
	default:
		doc, ok := s.docs[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, doc)
	}
}

func (s *githubStub) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func quietLogger(t *testing.T) {
	t.Helper()
	prev := newLogger
	newLogger = func(logging.Config) (*zap.Logger, error) { return zap.NewNop(), nil }
	t.Cleanup(func() { newLogger = prev })
}

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestFileModeEndToEnd(t *testing.T) {
	quietLogger(t)
	t.Setenv("ENRICHER_GITHUB_API_KEYS", "tok-a,tok-b")

	stub, server := newGitHubStub(t)
	stub.users["alice"] = ""
	stub.users["bob"] = "bob@example.com"
	stub.docs["/alice/alice/main/README.md"] = "Hi! Reach me at <alice@example.com>."

	dir := t.TempDir()
	input := writeTestFile(t, dir, "profiles.csv",
		"Username,User ID,Profile URL,Status,Email\n"+
			"alice,1,https://github.com/alice,,\n"+
			"bob,2,,,\n"+
			"carol,3,https://github.com/carol,Done,carol@example.com\n"+
			"ghost,4,https://github.com/ghost,,\n")
	cfgPath := writeTestFile(t, dir, "config.yaml", fmt.Sprintf(`
github:
  api_base_url: %[1]s
  raw_base_url: %[1]s
http:
  backoff_base: 1ms
`, server.URL))

	out, err := execute(t, "file", "--config", cfgPath, input)
	require.NoError(t, err)
	assert.Contains(t, out, "4 rows, 2 resolved, 1 skipped, 1 already done")

	// #nosec G304 -- test reads from the controlled temp directory.
	data, err := os.ReadFile(input)
	require.NoError(t, err)
	assert.Equal(t,
		"Username,User ID,Profile URL,Status,Email\n"+
			"alice,1,https://github.com/alice,done,alice@example.com\n"+
			"bob,2,,done,bob@example.com\n"+
			"carol,3,https://github.com/carol,done,carol@example.com\n"+
			"ghost,4,https://github.com/ghost,,\n",
		string(data),
	)
	assert.Zero(t, stub.hitCount("/users/carol"))
	assert.Equal(t, 1, stub.hitCount("/users/ghost"))

	// A second run only retries the unresolved row.
	out, err = execute(t, "file", "--config", cfgPath, input)
	require.NoError(t, err)
	assert.Contains(t, out, "4 rows, 0 resolved, 1 skipped, 3 already done")
	assert.Equal(t, 1, stub.hitCount("/users/alice"))
	assert.Equal(t, 2, stub.hitCount("/users/ghost"))
}

func TestRunLogsStartFromRunID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	prev := newLogger
	newLogger = func(logging.Config) (*zap.Logger, error) { return zap.New(core), nil }
	t.Cleanup(func() { newLogger = prev })
	t.Setenv("ENRICHER_GITHUB_API_KEYS", "tok")

	stub, server := newGitHubStub(t)
	stub.users["bob"] = "bob@example.com"

	dir := t.TempDir()
	input := writeTestFile(t, dir, "people.csv", "Username,User ID,Profile URL\nbob,2,\n")
	cfgPath := writeTestFile(t, dir, "config.yaml", fmt.Sprintf(`
github:
  api_base_url: %[1]s
  raw_base_url: %[1]s
`, server.URL))

	before := time.Now().Add(-time.Second)
	_, err := execute(t, "file", "--config", cfgPath, input)
	require.NoError(t, err)

	started := logs.FilterMessage("run started").All()
	require.Len(t, started, 1)
	fields := started[0].ContextMap()
	assert.NotEmpty(t, fields["run_id"])
	startedAt, ok := fields["started_at"].(time.Time)
	require.True(t, ok)
	assert.WithinRange(t, startedAt, before, time.Now().Add(time.Second))
}

func TestFileModeArchivesToGCS(t *testing.T) {
	quietLogger(t)
	t.Setenv("ENRICHER_GITHUB_API_KEYS", "tok")

	stub, server := newGitHubStub(t)
	stub.users["bob"] = "bob@example.com"

	var (
		mu       sync.Mutex
		uploaded []string
	)
	gcsServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		uploaded = append(uploaded, r.URL.Query().Get("name"))
		mu.Unlock()
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "bob@example.com")
		fmt.Fprintln(w, `{"name":"archived"}`)
	}))
	t.Cleanup(gcsServer.Close)

	prev := dialArchive
	dialArchive = func(ctx context.Context, _ string, _ ...option.ClientOption) (*gcsstorage.Client, error) {
		return gcsstorage.NewClient(ctx, option.WithEndpoint(gcsServer.URL), option.WithoutAuthentication())
	}
	t.Cleanup(func() { dialArchive = prev })

	dir := t.TempDir()
	input := writeTestFile(t, dir, "people.csv", "Username,User ID,Profile URL\nbob,2,\n")
	cfgPath := writeTestFile(t, dir, "config.yaml", fmt.Sprintf(`
github:
  api_base_url: %[1]s
  raw_base_url: %[1]s
input:
  path: %[2]s
archive:
  enabled: true
  bucket: results
  prefix: runs
`, server.URL, input))

	_, err := execute(t, "file", "--config", cfgPath)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, uploaded, 1)
	assert.True(t, strings.HasPrefix(uploaded[0], "runs/people-"), uploaded[0])
	assert.True(t, strings.HasSuffix(uploaded[0], ".csv"), uploaded[0])
}

// memorySheets is an in-memory sheets.API keyed by sheet title.
type memorySheets struct {
	mu     sync.Mutex
	values map[string][][]string
}

func (m *memorySheets) SheetTitles(context.Context, string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var titles []string
	for name := range m.values {
		titles = append(titles, name)
	}
	return titles, nil
}

func (m *memorySheets) AddSheet(_ context.Context, _ string, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[title] = nil
	return nil
}

func (m *memorySheets) GetValues(_ context.Context, _ string, rng string) ([][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, _, _ := strings.Cut(rng, "!")
	return m.values[name], nil
}

func (m *memorySheets) UpdateValues(_ context.Context, _ string, rng string, values [][]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, cells, _ := strings.Cut(rng, "!")
	var line int
	if _, err := fmt.Sscanf(cells, "A%d:", &line); err != nil {
		return err
	}
	for len(m.values[name]) < line {
		m.values[name] = append(m.values[name], nil)
	}
	m.values[name][line-1] = values[0]
	return nil
}

func TestSheetsModeEndToEnd(t *testing.T) {
	quietLogger(t)
	t.Setenv("ENRICHER_GITHUB_API_KEYS", "")
	t.Setenv("MY_GITHUB_API_KEYS2", "sheet-token")

	stub, server := newGitHubStub(t)
	stub.users["alice"] = "alice@example.com"
	stub.users["bob"] = "bob@example.com"

	api := &memorySheets{values: map[string][][]string{
		"Sheet1": {
			{"Username", "User ID", "Profile URL"},
			{"alice", "1", "https://github.com/alice"},
			{"bob", "2", "https://github.com/bob"},
		},
		"Sheet2": {
			{"Username", "User ID", "Profile URL", "Email"},
			{"alice", "1", "https://github.com/alice", "alice@example.com"},
		},
	}}
	prev := newSheetsAPI
	newSheetsAPI = func(context.Context, string, ...option.ClientOption) (sheets.API, error) { return api, nil }
	t.Cleanup(func() { newSheetsAPI = prev })

	cfgPath := writeTestFile(t, t.TempDir(), "config.yaml", fmt.Sprintf(`
github:
  api_base_url: %[1]s
  raw_base_url: %[1]s
`, server.URL))

	out, err := execute(t, "sheets", "--config", cfgPath, "--spreadsheet-id", "doc")
	require.NoError(t, err)
	assert.Contains(t, out, "2 rows, 1 resolved, 0 skipped, 1 already done")
	assert.Zero(t, stub.hitCount("/users/alice"))

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, []string{"bob", "2", "https://github.com/bob", "bob@example.com"}, api.values["Sheet2"][2])
}

func TestMissingCredentialsFails(t *testing.T) {
	quietLogger(t)
	for _, key := range []string{"ENRICHER_GITHUB_API_KEYS", "MY_GITHUB_API_KEYS", "MY_GITHUB_API_KEYS2"} {
		t.Setenv(key, "")
	}
	input := writeTestFile(t, t.TempDir(), "in.csv", "Username,User ID,Profile URL\n")

	_, err := execute(t, "file", input)
	require.ErrorContains(t, err, "no api credentials")
}
