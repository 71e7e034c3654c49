// Package session is the interactive Host for the completion coordinator: a
// single goroutine owns the document, the suggestion and the status line,
// never blocks on inference or I/O, and polls outstanding results on a ticker.
//
// The daemon runs one Session per WebSocket connection.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ghostd/internal/artifact"
	"ghostd/internal/manager"
	"ghostd/pkg/types"
)

// DefaultPollInterval is how often outstanding results are polled.
const DefaultPollInterval = 15 * time.Millisecond

// Status lines shown to the user.
const (
	StatusGenerating     = "Generating completion..."
	StatusSuggestion     = "Suggestion ready (Tab to accept, Esc to dismiss)"
	StatusLoading        = "Loading LLM..."
	StatusLoaded         = "LLM ready"
	StatusDownloading    = "Downloading model..."
	StatusDownloaded     = "Model downloaded"
	statusCompletionErr  = "Completion error: %v"
	statusDownloadErr    = "Download failed: %v"
	statusPreloadErr     = "LLM failed to load: %v"
	statusDownloadActive = "A download is already running"
)

// Coordinator is the subset of *manager.Manager a Session drives.
type Coordinator interface {
	NextGeneration() uint64
	Generation() uint64
	ManualInFlight() bool
	RequestCompletion(t manager.Trigger, gen uint64, cc manager.CompletionContext) *manager.Pending
	Preload() *manager.Pending
	Download(ctx context.Context, refText string, onProgress artifact.ProgressFunc) (string, error)
}

// Options tune a Session. Zero values select defaults.
type Options struct {
	Debounce     time.Duration
	MaxWait      time.Duration
	PollInterval time.Duration
	Clock        manager.Clock
	Logger       *zerolog.Logger
}

type request struct {
	pending *manager.Pending
	preload bool
}

type downloadResult struct {
	path string
	err  error
}

// Session is safe for concurrent use; all mutation happens on the Run goroutine.
type Session struct {
	id     string
	coord  Coordinator
	deb    *manager.Debouncer
	poll   time.Duration
	log    zerolog.Logger
	events chan func()
	// progress keeps only the latest update.
	progress chan artifact.Progress
	dlDone   chan downloadResult

	// owned by the Run goroutine
	text        string
	cursor      int
	outstanding []request
	downloading bool

	mu    sync.RWMutex
	state types.SessionState
	subs  map[chan types.SessionState]struct{}

	done     chan struct{}
	doneOnce sync.Once
}

// New returns a session for coord. Call Run to start it.
func New(coord Coordinator, o Options) *Session {
	s := &Session{
		id:       uuid.NewString(),
		coord:    coord,
		poll:     o.PollInterval,
		log:      zerolog.Nop(),
		events:   make(chan func(), 64),
		progress: make(chan artifact.Progress, 1),
		dlDone:   make(chan downloadResult, 1),
		subs:     make(map[chan types.SessionState]struct{}),
		done:     make(chan struct{}),
	}
	if s.poll <= 0 {
		s.poll = DefaultPollInterval
	}
	if o.Logger != nil {
		s.log = o.Logger.With().Str("session", s.id).Logger()
	}
	s.state.ID = s.id
	s.deb = manager.NewDebouncer(o.Clock, o.Debounce, o.MaxWait, func(gen uint64) {
		s.post(func() { s.fire(gen) })
	})
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Run processes events until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	defer s.doneOnce.Do(func() { close(s.done) })
	defer s.deb.Cancel()
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	s.publish()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-s.events:
			fn()
		case p := <-s.progress:
			s.onProgress(p)
		case r := <-s.dlDone:
			s.onDownloadDone(r)
		case <-ticker.C:
			s.pollResults()
		}
	}
}

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} { return s.done }

// post hands fn to the Run goroutine; it is dropped once the session stopped.
func (s *Session) post(fn func()) {
	select {
	case s.events <- fn:
	case <-s.done:
	}
}

// TextChanged records an edit. It dismisses the suggestion, starts a new
// generation and schedules an automatic request unless a manual one is
// running.
func (s *Session) TextChanged(text string, cursor int) {
	s.post(func() {
		s.text, s.cursor = text, cursor
		s.update(func(st *types.SessionState) { st.Suggestion, st.Accepted = "", "" })
		s.schedule(s.coord.NextGeneration())
	})
}

// schedule debounces an automatic request for gen unless a manual one is
// running.
func (s *Session) schedule(gen uint64) {
	if s.coord.ManualInFlight() {
		s.deb.Cancel()
		return
	}
	s.deb.Schedule(gen)
}

// insertAt inserts ins at the rune offset cursor and returns the new text and
// the cursor just past the insertion.
func insertAt(text string, cursor int, ins string) (string, int) {
	r := []rune(text)
	cursor = max(0, min(cursor, len(r)))
	out := string(r[:cursor]) + ins + string(r[cursor:])
	return out, cursor + len([]rune(ins))
}

// RequestManual asks for a completion now.
func (s *Session) RequestManual() {
	s.post(func() {
		s.deb.Cancel()
		cc := manager.BuildContext(s.text, s.cursor)
		if cc.Empty() {
			s.update(func(st *types.SessionState) {
				st.Status = manager.ErrEmptyContext.Error()
				st.LastError = manager.ErrEmptyContext.Error()
			})
			return
		}
		s.request(manager.Manual, s.coord.NextGeneration(), cc)
	})
}

// fire runs on the loop when the debouncer elapses.
func (s *Session) fire(gen uint64) {
	if s.coord.ManualInFlight() {
		return
	}
	s.request(manager.Automatic, gen, manager.BuildContext(s.text, s.cursor))
}

func (s *Session) request(t manager.Trigger, gen uint64, cc manager.CompletionContext) {
	p := s.coord.RequestCompletion(t, gen, cc)
	s.outstanding = append(s.outstanding, request{pending: p})
	s.update(func(st *types.SessionState) {
		st.Busy = true
		st.Status = StatusGenerating
	})
	s.log.Debug().Str("event", "completion_requested").Str("trigger", t.String()).Uint64("gen", gen).Bool("fim", cc.FIM).Send()
}

// Accept returns the current suggestion, clears it, inserts it into the
// document at the cursor and schedules the next automatic request. It returns
// "" when there is nothing to accept.
func (s *Session) Accept(ctx context.Context) (string, error) {
	reply := make(chan string, 1)
	s.post(func() {
		text := s.snapshot().Suggestion
		var gen uint64
		if text != "" {
			s.text, s.cursor = insertAt(s.text, s.cursor, text)
			gen = s.coord.NextGeneration()
		}
		s.update(func(st *types.SessionState) {
			st.Suggestion, st.Accepted, st.Status = "", text, ""
		})
		if text != "" {
			s.schedule(gen)
		}
		reply <- text
	})
	select {
	case text := <-reply:
		return text, nil
	case <-s.done:
		return "", errors.New("session closed")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Dismiss drops the current suggestion.
func (s *Session) Dismiss() {
	s.post(func() {
		s.update(func(st *types.SessionState) { st.Suggestion, st.Status = "", "" })
	})
}

// Preload loads the engine in the background.
func (s *Session) Preload() {
	s.post(func() {
		s.outstanding = append(s.outstanding, request{pending: s.coord.Preload(), preload: true})
		s.update(func(st *types.SessionState) { st.Status = StatusLoading })
	})
}

// StartDownload downloads refText (the default model when empty) on a worker
// goroutine. Progress is coalesced so a slow loop only sees the latest value.
func (s *Session) StartDownload(ctx context.Context, refText string) {
	s.post(func() {
		if s.downloading {
			s.update(func(st *types.SessionState) { st.Status = statusDownloadActive })
			return
		}
		s.downloading = true
		id := uuid.NewString()
		s.update(func(st *types.SessionState) {
			st.Status = StatusDownloading
			st.Download = &types.DownloadEvent{ID: id, Phase: string(artifact.PhasePreparing)}
		})
		go func() {
			path, err := s.coord.Download(ctx, refText, s.offerProgress)
			select {
			case s.dlDone <- downloadResult{path: path, err: err}:
			case <-s.done:
			}
		}()
	})
}

// offerProgress runs on the download goroutine and never blocks.
func (s *Session) offerProgress(p artifact.Progress) {
	for {
		select {
		case s.progress <- p:
			return
		default:
		}
		select {
		case <-s.progress:
		default:
		}
	}
}

func (s *Session) onProgress(p artifact.Progress) {
	s.update(func(st *types.SessionState) {
		if st.Download == nil {
			st.Download = &types.DownloadEvent{}
		}
		d := *st.Download
		d.Phase, d.Transferred, d.Total = string(p.Phase), p.Transferred, p.Total
		st.Download = &d
	})
}

func (s *Session) onDownloadDone(r downloadResult) {
	s.downloading = false
	// Deliver any progress that raced with completion first.
	select {
	case p := <-s.progress:
		s.onProgress(p)
	default:
	}
	s.update(func(st *types.SessionState) {
		d := types.DownloadEvent{Done: true, Path: r.path}
		if st.Download != nil {
			d.ID, d.Phase, d.Transferred, d.Total = st.Download.ID, st.Download.Phase, st.Download.Transferred, st.Download.Total
		}
		if r.err != nil {
			d.Error = r.err.Error()
			st.Status = fmt.Sprintf(statusDownloadErr, r.err)
		} else {
			st.Status = StatusDownloaded
		}
		st.Download = &d
	})
	if r.err != nil {
		s.log.Warn().Str("event", "download_failed").Err(r.err).Send()
	}
}

// pollResults drains delivered results without blocking.
func (s *Session) pollResults() {
	if len(s.outstanding) == 0 {
		return
	}
	kept := s.outstanding[:0]
	for _, req := range s.outstanding {
		res, st := req.pending.Poll()
		switch st {
		case manager.PollEmpty:
			kept = append(kept, req)
			continue
		case manager.PollClosed:
			continue
		}
		if req.preload {
			s.onPreload(res)
		} else {
			s.onResult(res)
		}
	}
	clear(s.outstanding[len(kept):])
	s.outstanding = kept
	busy := false
	for _, req := range s.outstanding {
		busy = busy || !req.preload
	}
	if cur := s.snapshot(); !busy && (cur.Busy || cur.Status == StatusGenerating) {
		s.update(func(st *types.SessionState) {
			st.Busy = false
			if st.Status == StatusGenerating {
				st.Status = ""
			}
		})
	}
}

func (s *Session) onResult(res manager.Result) {
	if res.Generation != s.coord.Generation() {
		return
	}
	switch {
	case manager.IsCancelled(res.Err):
		s.update(func(st *types.SessionState) { st.Status = "" })
	case res.Err != nil:
		s.log.Warn().Str("event", "completion_failed").Str("trigger", res.Trigger.String()).Err(res.Err).Send()
		s.update(func(st *types.SessionState) {
			st.Status = fmt.Sprintf(statusCompletionErr, res.Err)
			if res.Trigger == manager.Manual {
				st.LastError = res.Err.Error()
			}
		})
	case isBlank(res.Text):
		s.update(func(st *types.SessionState) { st.Status = "" })
	default:
		s.update(func(st *types.SessionState) {
			st.Suggestion = res.Text
			st.Status = StatusSuggestion
			if res.Trigger == manager.Manual {
				st.LastError = ""
			}
		})
	}
}

// onPreload reports the load result. Text typed while loading gets an
// automatic request once the engine is ready.
func (s *Session) onPreload(res manager.Result) {
	if res.Err != nil {
		s.update(func(st *types.SessionState) { st.Status = fmt.Sprintf(statusPreloadErr, res.Err) })
		return
	}
	typed := !isBlank(s.text)
	var gen uint64
	if typed {
		gen = s.coord.NextGeneration()
	}
	s.update(func(st *types.SessionState) { st.Status = StatusLoaded })
	if typed {
		s.schedule(gen)
	}
}
