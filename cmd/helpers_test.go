package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/MichalMed/termit/config"
	"github.com/MichalMed/termit/pkg/analysis"
	"github.com/MichalMed/termit/pkg/assignment"
	"github.com/MichalMed/termit/pkg/lock"
	"github.com/MichalMed/termit/pkg/logging"
	"github.com/MichalMed/termit/pkg/occurrence"
	"github.com/MichalMed/termit/pkg/resource"
)

const (
	testFile  = "http://example.org/files/f1"
	testDoc   = "http://example.org/documents/d1"
	testVocab = "http://example.org/vocabularies/v1"
	testTerm  = "http://example.org/terms/contract"

	testContent = `<p>The contract is signed.</p>`
	testMarkup  = `<p>The <span typeof="ddo:vyskyt-termu" resource="http://example.org/terms/contract" score="0.9">contract</span> is signed.</p>`
)

// testEnv runs commands against memory stores shared between invocations and
// a fake text analysis service.
type testEnv struct {
	t      *testing.T
	cfg    *config.Config
	deps   *CommandDeps
	out    *bytes.Buffer
	mem    memoryBackend
	status int

	mu       sync.Mutex
	markup   string
	requests []analysis.Input
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv(config.ConfigDirEnvVar, t.TempDir())

	e := &testEnv{
		t:      t,
		out:    &bytes.Buffer{},
		markup: testMarkup,
		status: http.StatusOK,
		mem: memoryBackend{
			occurrences: occurrence.NewMemoryRepository(),
			resources:   resource.NewMemoryStore(),
			assignments: assignment.NewMemoryStore(),
			records:     analysis.NewMemoryRecordStore(),
			locker:      lock.NewLocalLocker(),
		},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in analysis.Input
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		e.mu.Lock()
		e.requests = append(e.requests, in)
		markup, status := e.markup, e.status
		e.mu.Unlock()
		w.WriteHeader(status)
		_, _ = io.WriteString(w, markup)
	}))
	t.Cleanup(srv.Close)

	cfg := config.DefaultConfig()
	cfg.Store = config.StoreMemory
	cfg.Storage.Root = t.TempDir()
	cfg.TextAnalysis.URL = srv.URL
	cfg.TextAnalysis.RequestsPerSecond = 0
	cfg.Logging.Level = logging.LevelError
	e.cfg = cfg

	orig := newMemoryBackend
	newMemoryBackend = func() memoryBackend { return e.mem }
	t.Cleanup(func() { newMemoryBackend = orig })

	e.deps = &CommandDeps{
		LoadConfig: func() (*config.Config, error) {
			c := *e.cfg
			return &c, nil
		},
		BuildApp: BuildApp,
		Out:      e.out,
	}
	return e
}

// run executes a freshly built command, which also resets its flag variables.
func (e *testEnv) run(newCmd func(*CommandDeps) *cobra.Command, args ...string) (string, error) {
	e.t.Helper()
	e.out.Reset()
	c := newCmd(e.deps)
	c.SetArgs(args)
	c.SetOut(io.Discard)
	c.SetErr(io.Discard)
	c.SilenceUsage = true
	c.SilenceErrors = true
	err := c.ExecuteContext(context.Background())
	return e.out.String(), err
}

func (e *testEnv) mustRun(newCmd func(*CommandDeps) *cobra.Command, args ...string) string {
	e.t.Helper()
	out, err := e.run(newCmd, args...)
	require.NoError(e.t, err, out)
	return out
}

func (e *testEnv) setResponse(status int, markup string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status, e.markup = status, markup
}

func (e *testEnv) analysisRequests() []analysis.Input {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]analysis.Input(nil), e.requests...)
}

// writeContent writes content to a local file for --content flags.
func (e *testEnv) writeContent(content string) string {
	e.t.Helper()
	path := filepath.Join(e.t.TempDir(), "content.html")
	require.NoError(e.t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// seedFile registers the test document and file and uploads content.
func (e *testEnv) seedFile() {
	e.t.Helper()
	e.mustRun(NewResourcesCommand, "add", testDoc, "--kind", "document", "--vocabulary", testVocab)
	e.mustRun(NewResourcesCommand, "add", testFile, "--document", testDoc, "--content", e.writeContent(testContent))
}

func (e *testEnv) occurrences(file string) []occurrence.TermOccurrence {
	e.t.Helper()
	occs, err := e.mem.occurrences.FindAllInResource(context.Background(), occurrence.ResourceID(file))
	require.NoError(e.t, err)
	return occs
}

// runLocked runs a command while file is locked as by an analysis run in
// progress. The command must wait for the lock to be released.
func (e *testEnv) runLocked(file string, newCmd func(*CommandDeps) *cobra.Command, args ...string) (string, error) {
	e.t.Helper()
	unlock, err := e.mem.locker.Lock(context.Background(), file)
	require.NoError(e.t, err)

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := e.run(newCmd, args...)
		done <- result{out, err}
	}()

	select {
	case r := <-done:
		unlock()
		e.t.Fatalf("command finished while %s was locked: %v", file, r.err)
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	r := <-done
	return r.out, r.err
}
