// Package artifact keeps a local cache of verified model files.
//
// A file is usable only when a checksum sidecar exists next to it and the
// file's sha256 matches the sidecar. Downloads land in a temporary file in the
// same directory and are renamed into place once fully written and verified,
// so a partial transfer never takes the final name.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"ghostd/internal/common/fsutil"
	"ghostd/internal/modelref"
	"ghostd/internal/registry"
)

// ChunkSize is the read size for hashing and transfers; progress is reported
// once per chunk.
const ChunkSize = 64 << 10

const partPattern = ".*.part"

// Lister lists the files of a registry repository.
type Lister interface {
	ListFiles(ctx context.Context, repository string) ([]string, error)
}

// Fetcher opens a transfer of a resolved reference.
type Fetcher interface {
	Fetch(ctx context.Context, ref modelref.Reference) (*registry.Response, error)
}

// Store is a directory of verified artifacts. Safe for concurrent use.
type Store struct {
	dir     string
	lister  Lister
	fetcher Fetcher
	log     zerolog.Logger

	group     singleflight.Group
	mu        sync.Mutex
	transfers map[string]*transfer
	hashCount atomic.Int64
}

// transfer is one shared download and the callers waiting on it.
type transfer struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	subs    map[int]ProgressFunc
	next    int
	waiters int
}

func (t *transfer) join(f ProgressFunc) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	t.waiters++
	if f != nil {
		t.subs[t.next] = f
	}
	return t.next
}

// leave unsubscribes id and returns the number of callers still waiting.
func (t *transfer) leave(id int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subs, id)
	t.waiters--
	return t.waiters
}

func (t *transfer) emit(p Progress) {
	t.mu.Lock()
	subs := make([]ProgressFunc, 0, len(t.subs))
	for _, f := range t.subs {
		subs = append(subs, f)
	}
	t.mu.Unlock()
	for _, f := range subs {
		f(p)
	}
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger; the default discards.
func WithLogger(l zerolog.Logger) Option { return func(s *Store) { s.log = l } }

// New returns a store rooted at dir. Both lister and fetcher are typically
// the same *registry.Client.
func New(dir string, lister Lister, fetcher Fetcher, opts ...Option) *Store {
	s := &Store{dir: dir, lister: lister, fetcher: fetcher, log: zerolog.Nop(), transfers: map[string]*transfer{}}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Dir returns the cache directory.
func (s *Store) Dir() string { return s.dir }

// Resolve returns the local path of a verified artifact for ref, downloading
// it when needed.
func (s *Store) Resolve(ctx context.Context, ref modelref.Reference) (string, error) {
	return s.DownloadWithProgress(ctx, ref, nil)
}

// DownloadWithProgress is Resolve with progress reporting.
//
// An alias is first matched against cached local files; the registry listing
// is consulted only when no local file matches. Concurrent calls for the same
// filename share one transfer and every caller receives its progress. The
// transfer is detached from the callers' contexts and is cancelled once all of
// them have given up.
func (s *Store) DownloadWithProgress(ctx context.Context, ref modelref.Reference, onProgress ProgressFunc) (string, error) {
	ref, err := s.resolveRef(ctx, ref)
	if err != nil {
		return "", err
	}
	filename := ref.Filename()

	s.mu.Lock()
	t, joined := s.transfers[filename]
	if !joined {
		tctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		t = &transfer{ctx: tctx, cancel: cancel, subs: map[int]ProgressFunc{}}
		s.transfers[filename] = t
	}
	id := t.join(onProgress)
	ch := s.group.DoChan(filename, func() (any, error) {
		defer t.cancel()
		path, err := s.download(t.ctx, ref, t.emit)
		s.mu.Lock()
		s.forget(filename, t)
		s.mu.Unlock()
		return path, err
	})
	s.mu.Unlock()
	if joined {
		s.log.Debug().Str("event", "download_joined").Str("file", filename).Send()
	}

	select {
	case r := <-ch:
		t.leave(id)
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	case <-ctx.Done():
		s.mu.Lock()
		if t.leave(id) == 0 {
			s.forget(filename, t)
			t.cancel()
		}
		s.mu.Unlock()
		return "", ctx.Err()
	}
}

// forget drops t as the active transfer for filename. Callers hold s.mu.
func (s *Store) forget(filename string, t *transfer) {
	if s.transfers[filename] == t {
		delete(s.transfers, filename)
		s.group.Forget(filename)
	}
}

// resolveRef replaces an alias with a concrete filename, preferring a
// sidecar-bearing local file over the registry listing.
func (s *Store) resolveRef(ctx context.Context, ref modelref.Reference) (modelref.Reference, error) {
	if !ref.NeedsResolution() {
		return ref, nil
	}
	if local, ok := s.resolveLocal(ref); ok {
		return local, nil
	}
	listing, err := s.lister.ListFiles(ctx, ref.Repository)
	if err != nil {
		return ref, fmt.Errorf("resolve alias %q: %w", ref.File, err)
	}
	return ref.Resolve(listing)
}

func (s *Store) resolveLocal(ref modelref.Reference) (modelref.Reference, bool) {
	models, err := registry.LoadDir(s.dir)
	if err != nil {
		return ref, false
	}
	resolved, err := ref.Resolve(registry.Filenames(models))
	if err != nil {
		return ref, false
	}
	return resolved, true
}

func (s *Store) download(ctx context.Context, ref modelref.Reference, onProgress ProgressFunc) (string, error) {
	filename := ref.Filename()
	final := filepath.Join(s.dir, filename)
	meta := sidecarPath(final)

	onProgress.emit(PhasePreparing, 0, nil)
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create models dir %s: %w", s.dir, err)
	}

	if fsutil.FileExists(final) {
		ok, size, err := s.verify(final, onProgress)
		if ok {
			onProgress.emit(PhaseFinished, size, u64(size))
			s.log.Info().Str("event", "artifact_cached").Str("path", final).Send()
			return final, nil
		}
		s.log.Warn().Str("event", "artifact_verify_failed").Str("path", final).AnErr("err", err).Msg("re-downloading")
		if err := fsutil.RemoveIfExists(final); err != nil {
			return "", err
		}
		if err := fsutil.RemoveIfExists(meta); err != nil {
			return "", err
		}
	}
	s.removeStaleParts(filename)

	start := time.Now()
	resp, err := s.fetcher.Fetch(ctx, ref)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	ev := s.log.Info().Str("event", "download_start").Str("ref", ref.String())
	if resp.ContentLength != nil {
		ev = ev.Uint64("size", *resp.ContentLength)
	}
	ev.Send()

	tmp, err := os.CreateTemp(s.dir, filename+partPattern)
	if err != nil {
		return "", fmt.Errorf("create temp file in %s: %w", s.dir, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	h := sha256.New()
	buf := make([]byte, ChunkSize)
	var transferred uint64
	onProgress.emit(PhaseDownloading, 0, resp.ContentLength)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := tmp.Write(buf[:n]); err != nil {
				return "", fmt.Errorf("write %s: %w", tmpPath, err)
			}
			h.Write(buf[:n])
			transferred += uint64(n)
			onProgress.emit(PhaseDownloading, transferred, resp.ContentLength)
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return "", &registry.TransportError{Op: "read", URL: ref.String(), Err: rerr}
		}
	}
	sum := hex.EncodeToString(h.Sum(nil))
	if resp.ExpectedSHA256 != "" && resp.ExpectedSHA256 != sum {
		return "", &IntegrityError{Path: final, Expected: resp.ExpectedSHA256, Actual: sum}
	}

	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("sync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, final); err != nil {
		return "", fmt.Errorf("rename %s: %w", final, err)
	}
	committed = true

	md := Metadata{SHA256: sum}
	if resp.ETag != "" {
		etag := resp.ETag
		md.ETag = &etag
	}
	if err := writeMetadata(meta, md); err != nil {
		return "", err
	}

	total := transferred
	if resp.ContentLength != nil {
		total = *resp.ContentLength
	}
	onProgress.emit(PhaseFinished, transferred, u64(total))
	s.log.Info().Str("event", "download_done").Str("path", final).Uint64("bytes", transferred).Dur("dur", time.Since(start)).Send()
	return final, nil
}

func (s *Store) removeStaleParts(filename string) {
	matches, _ := filepath.Glob(filepath.Join(s.dir, filename+partPattern))
	for _, m := range matches {
		if err := os.Remove(m); err == nil {
			s.log.Debug().Str("event", "stale_part_removed").Str("path", m).Send()
		}
	}
}

// Lookup returns the path of ref if it is already cached and verified. It
// never touches the network; an alias is resolved against local files that
// have a sidecar.
func (s *Store) Lookup(ref modelref.Reference) (string, bool) {
	if ref.NeedsResolution() {
		resolved, ok := s.resolveLocal(ref)
		if !ok {
			return "", false
		}
		ref = resolved
	}
	p := filepath.Join(s.dir, ref.Filename())
	ok, _ := s.Verify(p)
	if !ok {
		return "", false
	}
	return p, true
}

// Verify reports whether path matches the digest recorded in its sidecar.
// A missing file or sidecar is (false, nil).
func (s *Store) Verify(path string) (bool, error) {
	ok, _, err := s.verify(path, nil)
	return ok, err
}

func (s *Store) verify(path string, onProgress ProgressFunc) (bool, uint64, error) {
	if !fsutil.FileExists(path) || !fsutil.FileExists(sidecarPath(path)) {
		return false, 0, nil
	}
	md, err := readMetadata(sidecarPath(path))
	if err != nil {
		return false, 0, err
	}
	sum, size, err := s.hashFile(path, onProgress)
	if err != nil {
		return false, size, err
	}
	return sum == md.SHA256, size, nil
}

func (s *Store) hashFile(path string, onProgress ProgressFunc) (string, uint64, error) {
	s.hashCount.Add(1)
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open %s for hashing: %w", path, err)
	}
	defer f.Close()
	var size uint64
	if fi, err := f.Stat(); err == nil {
		size = uint64(fi.Size())
	}

	h := sha256.New()
	buf := make([]byte, ChunkSize)
	var done uint64
	onProgress.emit(PhaseVerifyingExisting, 0, u64(size))
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			done += uint64(n)
			onProgress.emit(PhaseVerifyingExisting, done, u64(size))
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", size, fmt.Errorf("hash %s: %w", path, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

// Remove deletes the cached artifact for ref and its sidecar.
func (s *Store) Remove(ref modelref.Reference) error {
	if ref.NeedsResolution() {
		p, ok := s.Lookup(ref)
		if !ok {
			return nil
		}
		ref.File = filepath.Base(p)
	}
	p := filepath.Join(s.dir, ref.Filename())
	if err := fsutil.RemoveIfExists(p); err != nil {
		return err
	}
	return fsutil.RemoveIfExists(sidecarPath(p))
}
