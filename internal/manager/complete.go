package manager

import (
	"context"
	"fmt"

	"ghostd/internal/engine"
)

// Checkpoints at which a running request re-checks its generation.
const (
	checkpointScheduled = "scheduled"
	checkpointPreLock   = "pre_lock"
	checkpointPostLock  = "post_lock"
	checkpointDelivery  = "pre_delivery"
)

// RequestCompletion starts a completion for the context cc stamped with gen and
// returns immediately. The result is delivered exactly once on the returned
// handle. A request whose generation is no longer current at any checkpoint
// ends with ErrCancelled and never reaches the engine after that point.
//
// Automatic requests with an empty context end as ErrCancelled; manual ones
// end with ErrEmptyContext.
func (m *Manager) RequestCompletion(t Trigger, gen uint64, cc CompletionContext) *Pending {
	p := newPending(gen, t)
	if !m.IsCurrent(gen) {
		m.stale(t, gen, checkpointScheduled)
		p.deliver(Result{Err: ErrCancelled})
		return p
	}
	if cc.Empty() {
		err := ErrCancelled
		if t == Manual {
			err = ErrEmptyContext
		}
		p.deliver(Result{Err: err})
		return p
	}

	flight := m.flight(t)
	flight.Add(1)
	go func() {
		var res Result
		defer func() {
			if r := recover(); r != nil {
				res = Result{Err: fmt.Errorf("completion panic: %v", r)}
				m.log.Error().Str("event", "completion_panic").Uint64("gen", gen).Interface("panic", r).Send()
			}
			flight.Add(-1)
			m.observeCompletion(t, res.Err)
			p.deliver(res)
		}()
		res = m.execute(t, gen, cc)
	}()
	return p
}

func (m *Manager) execute(t Trigger, gen uint64, cc CompletionContext) Result {
	if !m.checkpoint(t, gen, checkpointPreLock) {
		return Result{Err: ErrCancelled}
	}

	text, ok, err := m.infer(t, gen, cc)
	if !ok {
		return Result{Err: ErrCancelled}
	}
	if err != nil {
		m.recordError(err)
		m.publish("completion_error", gen, map[string]any{"trigger": t.String(), "error": err.Error()})
		return Result{Err: err}
	}

	if !m.checkpoint(t, gen, checkpointDelivery) {
		return Result{Err: ErrCancelled}
	}
	m.publish("completion_done", gen, map[string]any{"trigger": t.String(), "chars": len(text)})
	return Result{Text: text}
}

// infer runs one inference under slotMu. ok is false when the request went
// stale while waiting for the lock.
func (m *Manager) infer(t Trigger, gen uint64, cc CompletionContext) (string, bool, error) {
	m.slotMu.Lock()
	defer m.slotMu.Unlock()
	if !m.checkpoint(t, gen, checkpointPostLock) {
		return "", false, nil
	}
	s := m.Settings()
	slot, err := m.ensureLoadedLocked(m.baseCtx, s)
	if err != nil {
		return "", true, err
	}

	ctx := m.baseCtx
	if s.CompletionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.CompletionTimeout)
		defer cancel()
	}
	maxTokens := tokenBudget(cc, s.MaxCompletionTokens)
	m.log.Debug().Str("event", "completion_start").Uint64("gen", gen).Str("trigger", t.String()).
		Bool("fim", cc.FIM).Int("max_tokens", maxTokens).Send()
	out, err := slot.engine.Complete(ctx, cc.Prompt, maxTokens)
	if err != nil {
		return "", true, fmt.Errorf("completion: %w", err)
	}
	return engine.CleanCompletion(out, cc.FIM), true, nil
}

// checkpoint reports whether gen is still current and records a stale event
// when it is not.
func (m *Manager) checkpoint(t Trigger, gen uint64, name string) bool {
	if m.IsCurrent(gen) {
		return true
	}
	m.stale(t, gen, name)
	return false
}

func (m *Manager) stale(t Trigger, gen uint64, name string) {
	metricStale.WithLabelValues(name).Inc()
	m.log.Debug().Str("event", "completion_stale").Uint64("gen", gen).Str("trigger", t.String()).Str("checkpoint", name).Send()
	m.publish("completion_stale", gen, map[string]any{"trigger": t.String(), "checkpoint": name})
}

// Complete is the blocking form used by the HTTP API and the CLI: it starts a
// new generation for text around cursor and waits for its result.
func (m *Manager) Complete(ctx context.Context, t Trigger, text string, cursor int) (Result, error) {
	gen := m.NextGeneration()
	p := m.RequestCompletion(t, gen, BuildContext(text, cursor))
	return p.Wait(ctx)
}
