package manager

import "context"

// PollStatus is the outcome of a non-blocking Poll.
type PollStatus int

const (
	// PollEmpty: no result yet; poll again later.
	PollEmpty PollStatus = iota
	// PollReady: the result was delivered; stop polling.
	PollReady
	// PollClosed: the channel is disconnected (result already taken); stop polling.
	PollClosed
)

// Pending is a one-shot handle for a completion result.
type Pending struct {
	Generation uint64
	Trigger    Trigger
	ch         chan Result
}

func newPending(gen uint64, t Trigger) *Pending {
	return &Pending{Generation: gen, Trigger: t, ch: make(chan Result, 1)}
}

// deliver stores the single result and disconnects the channel.
func (p *Pending) deliver(r Result) {
	r.Generation, r.Trigger = p.Generation, p.Trigger
	p.ch <- r
	close(p.ch)
}

// Poll never blocks.
func (p *Pending) Poll() (Result, PollStatus) {
	select {
	case r, ok := <-p.ch:
		if !ok {
			return Result{}, PollClosed
		}
		return r, PollReady
	default:
		return Result{}, PollEmpty
	}
}

// Wait blocks until the result arrives or ctx is done.
func (p *Pending) Wait(ctx context.Context) (Result, error) {
	select {
	case r, ok := <-p.ch:
		if !ok {
			return Result{Generation: p.Generation, Trigger: p.Trigger, Err: ErrCancelled}, nil
		}
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Done returns a channel that becomes readable when the result is delivered.
// Receiving from it consumes the result.
func (p *Pending) Done() <-chan Result { return p.ch }
