// Package handoff implements the single-slot signal used to pass a block
// index from the completion handler to the processing goroutine.
//
// The slot holds at most one value. Post never blocks: when the previous
// value wasn't consumed yet, it's replaced. Only the latest index is
// meaningful, so a slow consumer loses intermediate blocks but never sees a
// stale one. Lost blocks are not queued; they're only counted.
package handoff

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/dudk/dspstream/block"
	"github.com/dudk/dspstream/metric"
)

// ErrTimeout is returned when a wait exceeds its deadline.
var ErrTimeout = errors.New("timeout")

// Signal is a capacity-1 overwrite-on-full channel of block indexes.
// Post is for the producer side only, Wait for the single consumer.
type Signal struct {
	slot   chan block.Index
	missed uint64
	miss   metric.MissFunc
}

// New returns an empty signal.
func New() *Signal {
	s := &Signal{
		slot: make(chan block.Index, 1),
	}
	s.miss = metric.Misses(s)
	return s
}

// Post stores i and wakes the waiter. Unconsumed value is overwritten.
func (s *Signal) Post(i block.Index) {
	for {
		select {
		case s.slot <- i:
			return
		default:
		}
		// slot is full: drop the stale value and retry. The consumer may
		// take it first, then nothing was lost.
		select {
		case <-s.slot:
			atomic.AddUint64(&s.missed, 1)
			s.miss()
		default:
		}
	}
}

// Wait blocks until a value is posted or ctx is done. It returns ErrTimeout
// if ctx deadline has passed and ctx.Err() if it was cancelled.
func (s *Signal) Wait(ctx context.Context) (block.Index, error) {
	select {
	case i := <-s.slot:
		return i, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, ErrTimeout
		}
		return 0, ctx.Err()
	}
}

// WaitTimeout waits at most d. Non-positive d waits forever.
func (s *Signal) WaitTimeout(d time.Duration) (block.Index, error) {
	if d <= 0 {
		return s.Wait(context.Background())
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return s.Wait(ctx)
}

// Reset discards a pending value.
func (s *Signal) Reset() {
	select {
	case <-s.slot:
	default:
	}
}

// Missed returns the number of values overwritten before consumed.
func (s *Signal) Missed() uint64 {
	return atomic.LoadUint64(&s.missed)
}
