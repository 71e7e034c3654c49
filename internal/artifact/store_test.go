package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghostd/internal/modelref"
	"ghostd/internal/registry"
)

type fakeRegistry struct {
	srv       *httptest.Server
	requests  atomic.Int64
	downloads atomic.Int64
	listing   []string
	body      []byte
	// advertised digest; empty sends no hash header
	digest string
	gate   chan struct{}
}

func newFakeRegistry(t *testing.T, body []byte) *fakeRegistry {
	t.Helper()
	f := &fakeRegistry{body: body, digest: sha256Hex(body)}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		if r.URL.Path == "/api/models/owner/repo" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"siblings":[`)
			for i, name := range f.listing {
				if i > 0 {
					_, _ = io.WriteString(w, ",")
				}
				_, _ = io.WriteString(w, `{"rfilename":"`+name+`"}`)
			}
			_, _ = io.WriteString(w, `]}`)
			return
		}
		f.downloads.Add(1)
		if f.gate != nil {
			<-f.gate
		}
		if f.digest != "" {
			w.Header().Set("X-Linked-Etag", `"`+f.digest+`"`)
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(f.body)))
		_, _ = w.Write(f.body)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeRegistry) store(dir string) *Store {
	c := registry.New(registry.WithBaseURL(f.srv.URL))
	return New(dir, c, c)
}

func sha256Hex(b []byte) string {
	s := sha256.Sum256(b)
	return hex.EncodeToString(s[:])
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func TestDownloadWritesFileAndSidecar(t *testing.T) {
	body := payload(3*ChunkSize + 17)
	reg := newFakeRegistry(t, body)
	dir := t.TempDir()
	s := reg.store(dir)

	var events []Progress
	path, err := s.DownloadWithProgress(context.Background(), modelref.MustParse("owner/repo:m.gguf"), func(p Progress) {
		events = append(events, p)
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "m.gguf"), path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, body, got)

	md, err := readMetadata(path + registry.SidecarSuffix)
	require.NoError(t, err)
	assert.Equal(t, sha256Hex(body), md.SHA256)
	require.NotNil(t, md.ETag)
	assert.Equal(t, sha256Hex(body), *md.ETag)

	require.NotEmpty(t, events)
	assert.Equal(t, PhasePreparing, events[0].Phase)
	last := events[len(events)-1]
	assert.Equal(t, PhaseFinished, last.Phase)
	require.NotNil(t, last.Total)
	assert.Equal(t, uint64(len(body)), last.Transferred)
	assert.Equal(t, *last.Total, last.Transferred)

	// the initial zero event plus at least one per full chunk
	var downloading int
	for _, e := range events {
		if e.Phase == PhaseDownloading {
			downloading++
		}
	}
	assert.GreaterOrEqual(t, downloading, 5)
}

func TestResolveVerifiedCacheIsIdempotent(t *testing.T) {
	reg := newFakeRegistry(t, payload(1000))
	s := reg.store(t.TempDir())
	ref := modelref.MustParse("owner/repo:m.gguf")

	first, err := s.Resolve(context.Background(), ref)
	require.NoError(t, err)
	before := reg.requests.Load()
	hashes := s.hashCount.Load()

	var phases []Phase
	second, err := s.DownloadWithProgress(context.Background(), ref, func(p Progress) { phases = append(phases, p.Phase) })
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, before, reg.requests.Load(), "cached resolve must not touch the network")
	assert.Equal(t, hashes+1, s.hashCount.Load(), "exactly one hash per resolve")
	assert.Contains(t, phases, PhaseVerifyingExisting)
	assert.NotContains(t, phases, PhaseDownloading)
	assert.Equal(t, PhaseFinished, phases[len(phases)-1])
}

func TestCorruptCacheIsRedownloaded(t *testing.T) {
	body := payload(2048)
	reg := newFakeRegistry(t, body)
	s := reg.store(t.TempDir())
	ref := modelref.MustParse("owner/repo:m.gguf")

	path, err := s.Resolve(context.Background(), ref)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	_, ok := s.Lookup(ref)
	assert.False(t, ok)

	path2, err := s.Resolve(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, int64(2), reg.downloads.Load())
	got, err := os.ReadFile(path2)
	require.NoError(t, err)
	assert.Equal(t, body, got)
	_, ok = s.Lookup(ref)
	assert.True(t, ok)
}

func TestFileWithoutSidecarIsNotVerified(t *testing.T) {
	reg := newFakeRegistry(t, payload(10))
	dir := t.TempDir()
	s := reg.store(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "m.gguf"), payload(10), 0o644))

	_, ok := s.Lookup(modelref.MustParse("owner/repo:m.gguf"))
	assert.False(t, ok)
	_, err := s.Resolve(context.Background(), modelref.MustParse("owner/repo:m.gguf"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), reg.downloads.Load())
}

func TestLeftoverPartNeverBecomesFinal(t *testing.T) {
	body := payload(512)
	reg := newFakeRegistry(t, body)
	dir := t.TempDir()
	s := reg.store(dir)
	stale := filepath.Join(dir, "m.gguf.12345.part")
	require.NoError(t, os.WriteFile(stale, []byte("partial"), 0o644))

	_, ok := s.Lookup(modelref.MustParse("owner/repo:m.gguf"))
	assert.False(t, ok)

	path, err := s.Resolve(context.Background(), modelref.MustParse("owner/repo:m.gguf"))
	require.NoError(t, err)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, body, got)
	assert.NoFileExists(t, stale)
}

func TestIntegrityMismatchLeavesNothingBehind(t *testing.T) {
	reg := newFakeRegistry(t, payload(4096))
	reg.digest = sha256Hex([]byte("something else"))
	dir := t.TempDir()
	s := reg.store(dir)

	_, err := s.Resolve(context.Background(), modelref.MustParse("owner/repo:m.gguf"))
	require.Error(t, err)
	assert.True(t, IsIntegrity(err))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMissingDigestStillRecordsLocalHash(t *testing.T) {
	body := payload(300)
	reg := newFakeRegistry(t, body)
	reg.digest = ""
	s := reg.store(t.TempDir())

	path, err := s.Resolve(context.Background(), modelref.MustParse("owner/repo:m.gguf"))
	require.NoError(t, err)
	md, err := readMetadata(path + registry.SidecarSuffix)
	require.NoError(t, err)
	assert.Equal(t, sha256Hex(body), md.SHA256)
	assert.Nil(t, md.ETag)
}

func TestAliasResolvedViaListing(t *testing.T) {
	reg := newFakeRegistry(t, payload(64))
	reg.listing = []string{"a-Q4.gguf", "a-Q4_K_M.gguf", "README.md"}
	dir := t.TempDir()
	s := reg.store(dir)

	path, err := s.Resolve(context.Background(), modelref.MustParse("owner/repo:Q4_K_M"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a-Q4_K_M.gguf"), path)

	// Local lookup resolves the alias without the network.
	before := reg.requests.Load()
	got, ok := s.Lookup(modelref.MustParse("owner/repo:Q4_K_M"))
	assert.True(t, ok)
	assert.Equal(t, path, got)
	assert.Equal(t, before, reg.requests.Load())
}

func TestCachedAliasResolvesOffline(t *testing.T) {
	reg := newFakeRegistry(t, payload(256))
	reg.listing = []string{"m-Q4_K_M.gguf"}
	dir := t.TempDir()
	s := reg.store(dir)
	ref := modelref.MustParse("owner/repo:Q4_K_M")

	first, err := s.Resolve(context.Background(), ref)
	require.NoError(t, err)

	before := reg.requests.Load()
	second, err := s.Resolve(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, before, reg.requests.Load(), "a verified alias must not hit the registry")

	reg.srv.Close()
	third, err := s.Resolve(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, first, third)
	looked, ok := s.Lookup(ref)
	assert.True(t, ok)
	assert.Equal(t, first, looked)
}

func TestAliasNoMatch(t *testing.T) {
	reg := newFakeRegistry(t, nil)
	reg.listing = []string{"README.md"}
	s := reg.store(t.TempDir())

	_, err := s.Resolve(context.Background(), modelref.MustParse("owner/repo:Q4_K_M"))
	require.Error(t, err)
	assert.True(t, modelref.IsNoMatch(err))
}

func TestTransportErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	c := registry.New(registry.WithBaseURL(srv.URL))
	s := New(t.TempDir(), c, c)

	_, err := s.Resolve(context.Background(), modelref.MustParse("owner/repo:m.gguf"))
	require.Error(t, err)
	assert.True(t, registry.IsTransport(err))
}

func TestConcurrentDownloadsShareOneTransfer(t *testing.T) {
	reg := newFakeRegistry(t, payload(1024))
	reg.gate = make(chan struct{})
	s := reg.store(t.TempDir())
	ref := modelref.MustParse("owner/repo:m.gguf")

	var wg sync.WaitGroup
	paths := make([]string, 4)
	errs := make([]error, 4)
	for i := range paths {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paths[i], errs[i] = s.Resolve(context.Background(), ref)
		}(i)
	}
	// Wait for the single transfer to reach the server, then let it finish.
	require.Eventually(t, func() bool { return reg.downloads.Load() == 1 }, testTimeout, testTick)
	close(reg.gate)
	wg.Wait()

	for i := range paths {
		require.NoError(t, errs[i])
		assert.Equal(t, paths[0], paths[i])
	}
	assert.Equal(t, int64(1), reg.downloads.Load())
}

func TestJoinerSurvivesLeaderCancellation(t *testing.T) {
	body := payload(4 * ChunkSize)
	reg := newFakeRegistry(t, body)
	reg.gate = make(chan struct{})
	s := reg.store(t.TempDir())
	ref := modelref.MustParse("owner/repo:m.gguf")

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := s.Resolve(leaderCtx, ref)
		leaderErr <- err
	}()
	require.Eventually(t, func() bool { return reg.downloads.Load() == 1 }, testTimeout, testTick)

	var joinerEvents atomic.Int64
	joinerDone := make(chan struct{})
	var joinerPath string
	var joinerErr error
	go func() {
		defer close(joinerDone)
		joinerPath, joinerErr = s.DownloadWithProgress(context.Background(), ref, func(Progress) {
			joinerEvents.Add(1)
		})
	}()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		tr := s.transfers["m.gguf"]
		if tr == nil {
			return false
		}
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return tr.waiters == 2
	}, testTimeout, testTick)

	cancelLeader()
	require.ErrorIs(t, <-leaderErr, context.Canceled)
	close(reg.gate)
	<-joinerDone

	require.NoError(t, joinerErr)
	got, err := os.ReadFile(joinerPath)
	require.NoError(t, err)
	assert.Equal(t, body, got)
	assert.Positive(t, joinerEvents.Load(), "joiners receive progress")
	assert.Equal(t, int64(1), reg.downloads.Load())
}

func TestAbandonedTransferIsCancelled(t *testing.T) {
	reg := newFakeRegistry(t, payload(1024))
	reg.gate = make(chan struct{})
	defer close(reg.gate)
	dir := t.TempDir()
	s := reg.store(dir)
	ref := modelref.MustParse("owner/repo:m.gguf")

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := s.Resolve(ctx, ref)
		errc <- err
	}()
	require.Eventually(t, func() bool { return reg.downloads.Load() == 1 }, testTimeout, testTick)
	cancel()
	require.ErrorIs(t, <-errc, context.Canceled)

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.transfers) == 0
	}, testTimeout, testTick)
	assert.NoFileExists(t, filepath.Join(dir, "m.gguf"))
}

func TestRemove(t *testing.T) {
	reg := newFakeRegistry(t, payload(10))
	s := reg.store(t.TempDir())
	ref := modelref.MustParse("owner/repo:m.gguf")
	path, err := s.Resolve(context.Background(), ref)
	require.NoError(t, err)

	require.NoError(t, s.Remove(ref))
	assert.NoFileExists(t, path)
	assert.NoFileExists(t, path+registry.SidecarSuffix)
	require.NoError(t, s.Remove(ref), "removing twice is not an error")
}

func TestProgressFraction(t *testing.T) {
	assert.Equal(t, -1.0, Progress{}.Fraction())
	assert.Equal(t, 0.5, Progress{Transferred: 5, Total: u64(10)}.Fraction())
	assert.Equal(t, 1.0, Progress{Total: u64(0)}.Fraction())
}
