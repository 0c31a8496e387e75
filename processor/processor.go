// Package processor runs the single consumer of ready blocks.
//
// One Processor transforms one block per handoff: it waits for an index,
// reads the input block of every channel at that index, transforms it and
// writes the matching output block. Transformation of a block must finish
// within one block period; this isn't verified at runtime.
package processor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/dudk/dspstream/block"
	"github.com/dudk/dspstream/handoff"
	"github.com/dudk/dspstream/log"
	"github.com/dudk/dspstream/metric"
)

// Transformer is a stateful transformation of one channel. State persists
// between calls.
type Transformer interface {
	Transform(in, out []int32)
	Reset()
}

// Engine gives access to blocks and tells if the transfer halted.
type Engine interface {
	Frame(block.Index) (block.Frame, error)
	Halted() bool
}

// State of the processing loop.
type State int32

// Processing states.
const (
	Stopped State = iota
	WaitingForBlock
	Processing
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case WaitingForBlock:
		return "waiting"
	case Processing:
		return "processing"
	}
	return "unknown"
}

// ProcessedFunc is called after each block is transformed.
type ProcessedFunc func(block.Index)

// Processor is the consumer of ready blocks.
type Processor struct {
	uid          string
	engine       Engine
	ready        *handoff.Signal
	drained      *handoff.Signal
	transformers []Transformer
	processed    ProcessedFunc
	miss         metric.MissFunc
	log          *logrus.Entry

	sampleRate    int64
	state         int32
	stopRequested uint32
	running       uint32
	blocks        uint64
	skipped       uint64
}

// Option provides a way to set parameters to processor.
type Option func(p *Processor) error

// WithLogger sets logger to processor.
func WithLogger(l log.Logger) Option {
	return func(p *Processor) error {
		p.log = log.Component(l, "processor", p.uid)
		return nil
	}
}

// WithSampleRate sets initial sample rate used by metrics.
func WithSampleRate(rate int) Option {
	return func(p *Processor) error {
		p.SetSampleRate(rate)
		return nil
	}
}

// WithProcessed sets a hook called from the processing goroutine after
// every block.
func WithProcessed(fn ProcessedFunc) Option {
	return func(p *Processor) error {
		p.processed = fn
		return nil
	}
}

// ErrNoTransformers is returned when processor has nothing to run.
var ErrNoTransformers = errors.New("no transformers")

// ErrRunning is returned when Run is called twice.
var ErrRunning = errors.New("processor is already running")

// ErrChannels is returned when a frame has more channels than transformers.
var ErrChannels = errors.New("not enough transformers")

// New creates a processor with one transformer per channel.
func New(e Engine, ready, drained *handoff.Signal, transformers []Transformer, options ...Option) (*Processor, error) {
	if len(transformers) == 0 {
		return nil, ErrNoTransformers
	}
	p := &Processor{
		uid:          xid.New().String(),
		engine:       e,
		ready:        ready,
		drained:      drained,
		transformers: transformers,
		sampleRate:   48000,
	}
	p.log = log.Component(log.GetLogger(), "processor", p.uid)
	p.miss = metric.Misses(p)
	for _, option := range options {
		if err := option(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// RequestStop marks that the current block sequence is being drained.
func (p *Processor) RequestStop() {
	atomic.StoreUint32(&p.stopRequested, 1)
}

// ClearStop clears the stop request.
func (p *Processor) ClearStop() {
	atomic.StoreUint32(&p.stopRequested, 0)
}

// StopRequested reports whether stop was requested.
func (p *Processor) StopRequested() bool {
	return atomic.LoadUint32(&p.stopRequested) == 1
}

// State returns the state of the loop.
func (p *Processor) State() State {
	return State(atomic.LoadInt32(&p.state))
}

// Blocks returns number of processed blocks.
func (p *Processor) Blocks() uint64 {
	return atomic.LoadUint64(&p.blocks)
}

// Skipped returns number of blocks dropped because the transfer had
// already taken them back.
func (p *Processor) Skipped() uint64 {
	return atomic.LoadUint64(&p.skipped)
}

// SetSampleRate sets sample rate used by metrics. It's safe to call while
// running.
func (p *Processor) SetSampleRate(rate int) {
	atomic.StoreInt64(&p.sampleRate, int64(rate))
}

// SampleRate returns sample rate used by metrics.
func (p *Processor) SampleRate() int {
	return int(atomic.LoadInt64(&p.sampleRate))
}

// Run processes blocks until ctx is cancelled. An in-flight block is always
// finished. It returns nil on cancellation.
func (p *Processor) Run(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&p.running, 0, 1) {
		return ErrRunning
	}
	defer atomic.StoreUint32(&p.running, 0)
	defer p.setState(Stopped)

	meter := metric.Meter(p)()
	p.log.Debug("started")
	for {
		p.setState(WaitingForBlock)
		i, err := p.ready.Wait(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.log.Debug("stopped")
				return nil
			}
			return err
		}
		p.setState(Processing)
		frame, err := p.engine.Frame(i)
		if errors.Is(err, block.ErrNotOwned) {
			atomic.AddUint64(&p.skipped, 1)
			p.miss()
			p.log.WithField("index", i).Debug("block skipped")
			continue
		}
		if err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
		samples, err := p.process(frame)
		if err != nil {
			return err
		}
		meter(int64(samples), p.SampleRate())
		atomic.AddUint64(&p.blocks, 1)
		if p.processed != nil {
			p.processed(i)
		}

		// the drain sequence ends with block 1 once the transfer halted.
		if i == block.Pong && p.StopRequested() && p.engine.Halted() {
			p.log.WithField("index", i).Debug("drained")
			p.drained.Post(i)
		}
	}
}

func (p *Processor) process(f block.Frame) (int, error) {
	if f.Channels() > len(p.transformers) {
		return 0, fmt.Errorf("%w: %d channels, %d transformers", ErrChannels, f.Channels(), len(p.transformers))
	}
	samples := 0
	for ch := 0; ch < f.Channels(); ch++ {
		in, out := f.Input(ch), f.Output(ch)
		p.transformers[ch].Transform(in, out)
		samples = len(in)
	}
	return samples, nil
}

// Reset resets state of every transformer. It must not be called while
// processor is running.
func (p *Processor) Reset() error {
	if atomic.LoadUint32(&p.running) == 1 {
		return ErrRunning
	}
	for _, t := range p.transformers {
		t.Reset()
	}
	return nil
}

func (p *Processor) setState(s State) {
	atomic.StoreInt32(&p.state, int32(s))
}

// String returns processor id.
func (p *Processor) String() string {
	return p.uid
}
