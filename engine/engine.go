// Package engine drives the ring transfer between the serial transport and
// the ping-pong buffers and reports block boundaries.
//
// Engine is the single owner of the buffers and of the authoritative block
// index. The index is mutated only by OnCompletion, which runs in the
// completion (interrupt) context of the Transfer. Software reaches the
// buffers through a block.Frame bound to an index delivered by the ready
// signal, so it can only touch the half the hardware isn't using.
package engine

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/dudk/dspstream/block"
	"github.com/dudk/dspstream/handoff"
	"github.com/dudk/dspstream/log"
	"github.com/dudk/dspstream/transport"
)

// ErrNotInitialized is returned if engine is used before Init.
var ErrNotInitialized = errors.New("engine not initialized")

// ErrStreaming is returned when buffers are requested while the transfer
// runs.
var ErrStreaming = errors.New("transfer is streaming")

// Transfer is a ring transfer controller with two channels: one per
// direction. Input channel raises a shared interrupt on half and full major
// loop completion.
type Transfer interface {
	// Configure programs both channels and registers the completion
	// handler. Channels stay disabled.
	Configure(in, out Descriptor, inSet, outSet *block.Set, irq func()) error
	// Done returns the transfer-complete indicator of the input channel.
	Done() bool
	// Halted reports whether the input channel stopped at a major loop
	// boundary because of a stop request.
	Halted() bool
	// ClearInterrupt acknowledges the pending interrupt.
	ClearInterrupt()
	// StopAtBoundary requests channels to stop re-arming after the current
	// major loop.
	StopAtBoundary(stop bool)
	// Enable starts both channels.
	Enable()
}

// Engine is the ping-pong transfer engine.
type Engine struct {
	uid       string
	transfer  Transfer
	transport transport.Transport
	ready     *handoff.Signal
	log       *logrus.Entry

	layout  block.Layout
	in, out *block.Set
	inDesc  Descriptor
	outDesc Descriptor

	initialized uint32
	index       uint32
	halted      uint32
	streaming   uint32
	completions uint64
}

// Option provides a way to set parameters to engine.
type Option func(e *Engine) error

// WithLogger sets logger to engine.
func WithLogger(l log.Logger) Option {
	return func(e *Engine) error {
		e.log = log.Component(l, "engine", e.uid)
		return nil
	}
}

// New creates an engine. Init must be called before streaming.
func New(t Transfer, tr transport.Transport, ready *handoff.Signal, options ...Option) (*Engine, error) {
	e := &Engine{
		uid:       xid.New().String(),
		transfer:  t,
		transport: tr,
		ready:     ready,
		index:     uint32(block.Pong),
	}
	e.log = log.Component(log.GetLogger(), "engine", e.uid)
	for _, option := range options {
		if err := option(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Init allocates buffers for the layout and configures a circular,
// interleaved transfer for both directions.
func (e *Engine) Init(l block.Layout) error {
	in, err := block.NewSet(l)
	if err != nil {
		return err
	}
	out, err := block.NewSet(l)
	if err != nil {
		return err
	}
	inDesc, outDesc := Descriptors(l)
	if err := e.transfer.Configure(inDesc, outDesc, in, out, e.OnCompletion); err != nil {
		return fmt.Errorf("configure transfer: %w", err)
	}
	e.layout = l
	e.in, e.out = in, out
	e.inDesc, e.outDesc = inDesc, outDesc
	// transfer starts with block 0, so software owns block 1.
	atomic.StoreUint32(&e.index, uint32(block.Pong))
	atomic.StoreUint32(&e.halted, 0)
	atomic.StoreUint32(&e.streaming, 0)
	atomic.StoreUint32(&e.initialized, 1)
	e.log.WithFields(logrus.Fields{
		"samples":  l.Samples,
		"channels": l.Channels,
	}).Debug("initialized")
	return nil
}

// OnCompletion handles the shared half/full interrupt. It must be invoked
// only from the transfer's completion context.
//
// The index is inferred from the transfer-complete indicator, not counted:
// set means block 1 was just finished, clear means block 0. A missed
// interrupt costs a block but never desynchronizes the index.
func (e *Engine) OnCompletion() {
	e.transfer.ClearInterrupt()
	i := block.Ping
	if e.transfer.Done() {
		i = block.Pong
		if e.transfer.Halted() {
			atomic.StoreUint32(&e.halted, 1)
			atomic.StoreUint32(&e.streaming, 0)
		}
	}
	atomic.StoreUint32(&e.index, uint32(i))
	atomic.AddUint64(&e.completions, 1)
	e.ready.Post(i)
}

// ArmStopAtBoundary requests the transfer to stop after the current major
// loop so no block is truncated.
func (e *Engine) ArmStopAtBoundary() error {
	if !e.isInitialized() {
		return ErrNotInitialized
	}
	e.transfer.StopAtBoundary(true)
	e.log.Debug("stop armed")
	return nil
}

// Resume clears a pending boundary stop and accumulated transport FIFO
// errors, then enables both directions. The transport keeps clocking
// samples while transfer is halted, so error flags are expected here.
func (e *Engine) Resume() error {
	if !e.isInitialized() {
		return ErrNotInitialized
	}
	e.transfer.StopAtBoundary(false)
	atomic.StoreUint32(&e.halted, 0)
	if flags := e.transport.ErrorFlags(); flags != 0 {
		e.log.WithField("flags", flags.String()).Debug("clear transport errors")
	}
	e.transport.ClearErrorFlags()
	atomic.StoreUint32(&e.streaming, 1)
	e.transfer.Enable()
	e.log.Debug("resumed")
	return nil
}

// Index returns the block software currently owns.
func (e *Engine) Index() block.Index {
	return block.Index(atomic.LoadUint32(&e.index))
}

// Halted reports whether the transfer stopped at a boundary after a stop
// request. It's set before the final index is posted.
func (e *Engine) Halted() bool {
	return atomic.LoadUint32(&e.halted) == 1
}

// Streaming reports whether the transfer was resumed and hasn't halted yet.
func (e *Engine) Streaming() bool {
	return atomic.LoadUint32(&e.streaming) == 1
}

// Completions returns the number of handled completion events.
func (e *Engine) Completions() uint64 {
	return atomic.LoadUint64(&e.completions)
}

// Layout returns buffer geometry.
func (e *Engine) Layout() block.Layout {
	return e.layout
}

// Descriptors returns the configured ring descriptors.
func (e *Engine) Descriptors() (in, out Descriptor) {
	return e.inDesc, e.outDesc
}

// Frame returns input and output blocks at index i. Only the block software
// currently owns is handed out: an index which is already stale because
// the transfer moved on returns block.ErrNotOwned.
func (e *Engine) Frame(i block.Index) (block.Frame, error) {
	if !e.isInitialized() {
		return block.Frame{}, ErrNotInitialized
	}
	if !i.Valid() {
		return block.Frame{}, fmt.Errorf("invalid block index %d", i)
	}
	if owned := e.Index(); i != owned {
		return block.Frame{}, fmt.Errorf("%w: index %d, software owns %d", block.ErrNotOwned, i, owned)
	}
	return block.NewFrame(i, e.in, e.out), nil
}

// Snapshot copies both blocks of a channel in one direction. Both halves are
// stable only while the transfer is stopped, ErrStreaming is returned
// otherwise.
func (e *Engine) Snapshot(d Direction, channel int) ([]int32, error) {
	if !e.isInitialized() {
		return nil, ErrNotInitialized
	}
	if e.Streaming() {
		return nil, ErrStreaming
	}
	if channel < 0 || channel >= e.layout.Channels {
		return nil, fmt.Errorf("channel %d out of range", channel)
	}
	if d == Input {
		return e.in.Channel(channel), nil
	}
	return e.out.Channel(channel), nil
}

// String returns engine id.
func (e *Engine) String() string {
	return e.uid
}

func (e *Engine) isInitialized() bool {
	return atomic.LoadUint32(&e.initialized) == 1
}
