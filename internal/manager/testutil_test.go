package manager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ghostd/internal/device"
	"ghostd/internal/engine"
	"ghostd/pkg/types"
)

const testTimeout = 2 * time.Second

// fakeEngine returns a canned reply. When gate is non-nil Complete blocks
// until it is closed or ctx ends.
type fakeEngine struct {
	reply   string
	err     error
	panicV  any
	gate    chan struct{}
	started chan struct{}

	calls  atomic.Int32
	closed atomic.Bool

	mu      sync.Mutex
	prompts []string
	budgets []int
}

func (e *fakeEngine) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	e.calls.Add(1)
	e.mu.Lock()
	e.prompts = append(e.prompts, prompt)
	e.budgets = append(e.budgets, maxTokens)
	e.mu.Unlock()
	if e.started != nil {
		e.started <- struct{}{}
	}
	if e.panicV != nil {
		panic(e.panicV)
	}
	if e.gate != nil {
		select {
		case <-e.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return e.reply, e.err
}

func (e *fakeEngine) Close() error {
	e.closed.Store(true)
	return nil
}

func (e *fakeEngine) lastBudget() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.budgets) == 0 {
		return -1
	}
	return e.budgets[len(e.budgets)-1]
}

// fakeBackend hands out eng, or a fresh engine replying "ok" per load.
type fakeBackend struct {
	initErr error
	loadErr error
	eng     *fakeEngine

	initCalls atomic.Int32
	loads     atomic.Int32

	mu       sync.Mutex
	lastPath string
	lastOpts engine.LoadOptions
	engines  []*fakeEngine
}

func (b *fakeBackend) Init() error {
	b.initCalls.Add(1)
	return b.initErr
}

func (b *fakeBackend) Load(path string, opts engine.LoadOptions) (engine.Engine, error) {
	b.loads.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastPath, b.lastOpts = path, opts
	if b.loadErr != nil {
		return nil, b.loadErr
	}
	eng := b.eng
	if eng == nil {
		eng = &fakeEngine{reply: "ok"}
	}
	b.engines = append(b.engines, eng)
	return eng, nil
}

func (b *fakeBackend) opts() engine.LoadOptions {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastOpts
}

// createModelFile writes a small placeholder model and returns its path.
func createModelFile(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("GGUF"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	return p
}

// newLocalManager returns a manager using be and an existing override model,
// with no GPUs.
func newLocalManager(t *testing.T, be *fakeBackend) (*Manager, *MemoryPublisher) {
	t.Helper()
	s := DefaultSettings()
	s.OverrideModelPath = true
	s.LocalModelPath = createModelFile(t, t.TempDir(), "local.gguf")
	pub := NewMemoryPublisher()
	m := NewWithConfig(ManagerConfig{
		Settings:  s,
		Backend:   be,
		Devices:   device.Static{},
		Publisher: pub,
	})
	t.Cleanup(func() { _ = m.Close() })
	return m, pub
}

func waitResult(t *testing.T, p *Pending) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	r, err := p.Wait(ctx)
	if err != nil {
		t.Fatalf("wait for result: %v", err)
	}
	return r
}

func waitSignal(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(testTimeout):
		t.Fatalf("timed out waiting for signal")
	}
}

func checkpoints(pub *MemoryPublisher, gen uint64) []string {
	var out []string
	for _, e := range pub.Named("completion_stale") {
		if e.Generation == gen {
			out = append(out, e.Fields["checkpoint"].(string))
		}
	}
	return out
}

// fakeClock fires timers only from Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	at      time.Time
	f       func()
	stopped atomic.Bool
	fired   atomic.Bool
}

func (t *fakeTimer) Stop() bool { return !t.stopped.Swap(true) && !t.fired.Load() }

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and runs due timers in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.fired.Load() && !t.stopped.Load() && !t.at.After(c.now) {
			t.fired.Store(true)
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

var errBoom = errors.New("boom")

var gpu0 = types.Device{ID: "0", Name: "NVIDIA"}
