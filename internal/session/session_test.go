package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghostd/internal/artifact"
	"ghostd/internal/device"
	"ghostd/internal/engine"
	"ghostd/internal/manager"
	"ghostd/internal/registry"
	"ghostd/pkg/types"
)

const (
	testTimeout = 2 * time.Second
	testTick    = 5 * time.Millisecond
)

type fakeEngine struct {
	reply   string
	gate    chan struct{}
	started chan struct{}
	calls   atomic.Int32

	mu     sync.Mutex
	prompt string
}

func (e *fakeEngine) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	e.calls.Add(1)
	e.mu.Lock()
	e.prompt = prompt
	e.mu.Unlock()
	if e.started != nil {
		e.started <- struct{}{}
	}
	if e.gate != nil {
		select {
		case <-e.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return e.reply, nil
}

func (e *fakeEngine) Close() error { return nil }

func (e *fakeEngine) lastPrompt() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prompt
}

type fakeBackend struct {
	eng     *fakeEngine
	loadErr error
}

func (b *fakeBackend) Init() error { return nil }

func (b *fakeBackend) Load(string, engine.LoadOptions) (engine.Engine, error) {
	if b.loadErr != nil {
		return nil, b.loadErr
	}
	return b.eng, nil
}

type fixture struct {
	m   *manager.Manager
	s   *Session
	eng *fakeEngine
}

func newFixture(t *testing.T, be *fakeBackend, store *artifact.Store) *fixture {
	t.Helper()
	if be.eng == nil {
		be.eng = &fakeEngine{reply: "world"}
	}
	model := filepath.Join(t.TempDir(), "m.gguf")
	require.NoError(t, os.WriteFile(model, []byte("GGUF"), 0o644))
	st := manager.DefaultSettings()
	st.OverrideModelPath = true
	st.LocalModelPath = model
	st.DefaultCPUModel = "owner/repo:m.gguf"
	m := manager.NewWithConfig(manager.ManagerConfig{Settings: st, Store: store, Backend: be, Devices: device.Static{}})
	s := New(m, Options{Debounce: 5 * time.Millisecond, MaxWait: 20 * time.Millisecond, PollInterval: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-s.Done()
		_ = m.Close()
	})
	return &fixture{m: m, s: s, eng: be.eng}
}

func (f *fixture) eventually(t *testing.T, cond func(types.SessionState) bool, msg string) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(f.s.State()) }, testTimeout, testTick, msg)
}

func TestTypingProducesSuggestion(t *testing.T) {
	f := newFixture(t, &fakeBackend{}, nil)
	f.s.TextChanged("hello ", 6)
	f.eventually(t, func(st types.SessionState) bool { return st.Suggestion == "world" }, "suggestion")

	st := f.s.State()
	assert.Equal(t, StatusSuggestion, st.Status)
	assert.False(t, st.Busy)
	assert.Equal(t, f.s.ID(), st.ID)
}

func TestAcceptClearsSuggestionAndBumpsGeneration(t *testing.T) {
	f := newFixture(t, &fakeBackend{}, nil)
	f.s.TextChanged("hello ", 6)
	f.eventually(t, func(st types.SessionState) bool { return st.Suggestion != "" }, "suggestion")

	before := f.m.Generation()
	text, err := f.s.Accept(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "world", text)
	assert.Equal(t, before+1, f.m.Generation())
	assert.Equal(t, "world", f.s.State().Accepted)

	// The accepted text joins the document and the next suggestion is requested.
	f.eventually(t, func(st types.SessionState) bool { return st.Suggestion != "" && f.eng.calls.Load() == 2 }, "follow-up suggestion")
	assert.Equal(t, "hello world", f.eng.lastPrompt())

	// Nothing left to accept once dismissed.
	f.s.Dismiss()
	f.eventually(t, func(st types.SessionState) bool { return st.Suggestion == "" }, "dismissed")
	text, err = f.s.Accept(context.Background())
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestInsertAt(t *testing.T) {
	cases := []struct {
		text   string
		cursor int
		ins    string
		want   string
		next   int
	}{
		{"hello ", 6, "world", "hello world", 11},
		{"ab", 1, "é", "aéb", 2},
		{"héllo", 2, "X", "héXllo", 3},
		{"ab", 9, "c", "abc", 3},
		{"ab", -1, "c", "cab", 1},
	}
	for _, tc := range cases {
		got, next := insertAt(tc.text, tc.cursor, tc.ins)
		assert.Equal(t, tc.want, got)
		assert.Equal(t, tc.next, next)
	}
}

func TestDismiss(t *testing.T) {
	f := newFixture(t, &fakeBackend{}, nil)
	f.s.TextChanged("hello ", 6)
	f.eventually(t, func(st types.SessionState) bool { return st.Suggestion != "" }, "suggestion")
	f.s.Dismiss()
	f.eventually(t, func(st types.SessionState) bool { return st.Suggestion == "" && st.Status == "" }, "dismissed")
}

func TestManualWithEmptyText(t *testing.T) {
	f := newFixture(t, &fakeBackend{}, nil)
	f.s.RequestManual()
	f.eventually(t, func(st types.SessionState) bool { return st.LastError != "" }, "empty context error")
	assert.Equal(t, manager.ErrEmptyContext.Error(), f.s.State().Status)
	assert.Zero(t, f.eng.calls.Load())
}

func TestManualFailureIsReported(t *testing.T) {
	f := newFixture(t, &fakeBackend{loadErr: errors.New("boom")}, nil)
	f.s.TextChanged("hello", 5)
	f.s.RequestManual()
	f.eventually(t, func(st types.SessionState) bool { return st.LastError != "" }, "manual error")
	st := f.s.State()
	assert.Contains(t, st.LastError, "boom")
	assert.Contains(t, st.Status, "Completion error")
}

func TestStaleResultIsDropped(t *testing.T) {
	eng := &fakeEngine{reply: "late", gate: make(chan struct{}), started: make(chan struct{}, 4)}
	f := newFixture(t, &fakeBackend{eng: eng}, nil)

	f.s.TextChanged("hello", 5)
	f.s.RequestManual()
	select {
	case <-eng.started:
	case <-time.After(testTimeout):
		t.Fatal("engine never started")
	}
	require.True(t, f.m.ManualInFlight())

	// Typing while the manual request runs supersedes it and schedules nothing.
	f.s.TextChanged("hello!", 6)
	close(eng.gate)
	f.eventually(t, func(st types.SessionState) bool { return !st.Busy }, "idle")
	time.Sleep(30 * time.Millisecond)

	st := f.s.State()
	assert.Empty(t, st.Suggestion)
	assert.Empty(t, st.Status)
	assert.Empty(t, st.LastError)
	assert.EqualValues(t, 1, eng.calls.Load())
}

func TestPreload(t *testing.T) {
	f := newFixture(t, &fakeBackend{}, nil)
	f.s.Preload()
	f.eventually(t, func(st types.SessionState) bool { return st.Status == StatusLoaded }, "loaded")
	assert.True(t, f.m.Ready())
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, f.eng.calls.Load(), "an empty document requests nothing")
}

func TestPreloadRequestsCompletionForTypedText(t *testing.T) {
	f := newFixture(t, &fakeBackend{}, nil)
	f.s.TextChanged("hello ", 6)
	f.eventually(t, func(st types.SessionState) bool { return st.Suggestion != "" }, "suggestion")
	f.s.Dismiss()
	f.eventually(t, func(st types.SessionState) bool { return st.Suggestion == "" }, "dismissed")

	before := f.m.Generation()
	f.s.Preload()
	f.eventually(t, func(st types.SessionState) bool {
		return st.Suggestion == "world" && f.eng.calls.Load() == 2
	}, "suggestion after preload")
	assert.Equal(t, before+1, f.m.Generation())
}

func TestDownloadProgressReachesState(t *testing.T) {
	body := make([]byte, 2*artifact.ChunkSize+5)
	sum := sha256.Sum256(body)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Linked-Etag", hex.EncodeToString(sum[:]))
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write(body)
	}))
	defer srv.Close()
	dir := t.TempDir()
	c := registry.New(registry.WithBaseURL(srv.URL))
	f := newFixture(t, &fakeBackend{}, artifact.New(dir, c, c))

	updates, cancel := f.s.Subscribe()
	defer cancel()
	<-updates

	f.s.StartDownload(context.Background(), "")
	f.eventually(t, func(st types.SessionState) bool { return st.Download != nil && st.Download.Done }, "download done")

	d := f.s.State().Download
	assert.Empty(t, d.Error)
	assert.Equal(t, filepath.Join(dir, "m.gguf"), d.Path)
	assert.Equal(t, string(artifact.PhaseFinished), d.Phase)
	assert.EqualValues(t, len(body), d.Transferred)
	require.NotNil(t, d.Total)
	assert.EqualValues(t, len(body), *d.Total)
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, StatusDownloaded, f.s.State().Status)

	select {
	case st := <-updates:
		assert.Equal(t, f.s.ID(), st.ID)
	case <-time.After(testTimeout):
		t.Fatal("subscriber saw no update")
	}
}
