package dspstream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/dudk/dspstream/engine"
	"github.com/dudk/dspstream/handoff"
	"github.com/dudk/dspstream/log"
	"github.com/dudk/dspstream/transport"
)

// Engine is the part of transfer engine the controller sequences.
type Engine interface {
	ArmStopAtBoundary() error
	Resume() error
	Snapshot(d engine.Direction, channel int) ([]int32, error)
}

// Processor is the part of processing loop the controller sequences.
type Processor interface {
	RequestStop()
	ClearStop()
}

// Params are channel parameters in effect.
type Params struct {
	SampleRate int // Hz
	SampleSize int // bits
}

// DefaultParams are applied when no params are provided.
var DefaultParams = Params{
	SampleRate: 48000,
	SampleSize: 32,
}

func (p Params) codes() (transport.RateCode, transport.SizeCode, error) {
	rate, err := transport.RateCodeOf(p.SampleRate)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	size, err := transport.SizeCodeOf(p.SampleSize)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	return rate, size, nil
}

func (p Params) String() string {
	return fmt.Sprintf("%d Hz, %d bit", p.SampleRate, p.SampleSize)
}

// Controller sequences start, stop, drain and reconfiguration of a stream.
// All methods are safe for concurrent use. WaitForDrain doesn't hold the
// controller while it blocks, so State can be observed meanwhile.
type Controller struct {
	uid       string
	engine    Engine
	processor Processor
	transport transport.Transport
	drained   *handoff.Signal
	log       *logrus.Entry

	mu     sync.Mutex
	state  State
	params Params
}

// Option provides a way to set functional parameters to controller.
type Option func(c *Controller) error

// WithLogger sets logger to controller.
func WithLogger(l log.Logger) Option {
	return func(c *Controller) error {
		c.log = log.Component(l, "controller", c.uid)
		return nil
	}
}

// WithParams sets initial channel parameters. They're programmed into the
// transport by New.
func WithParams(p Params) Option {
	return func(c *Controller) error {
		if _, _, err := p.codes(); err != nil {
			return err
		}
		c.params = p
		return nil
	}
}

// New creates a controller in Idle state and programs the transport with
// initial params. Engine must be initialized already.
func New(e Engine, p Processor, t transport.Transport, drained *handoff.Signal, options ...Option) (*Controller, error) {
	c := &Controller{
		uid:       xid.New().String(),
		engine:    e,
		processor: p,
		transport: t,
		drained:   drained,
		state:     Idle,
		params:    DefaultParams,
	}
	c.log = log.Component(log.GetLogger(), "controller", c.uid)
	for _, option := range options {
		if err := option(c); err != nil {
			return nil, err
		}
	}
	if err := c.program(c.params); err != nil {
		return nil, err
	}
	return c, nil
}

// StartStreaming starts or resumes streaming. It's allowed in Idle and
// StopRequested states. A pending stop request is cancelled.
func (c *Controller) StartStreaming() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next, err := c.state.transition(start)
	if err != nil {
		return err
	}
	c.processor.ClearStop()
	if err := c.engine.Resume(); err != nil {
		return fmt.Errorf("resume engine: %w", err)
	}
	if err := c.transport.Enable(); err != nil {
		return fmt.Errorf("enable transport: %w", err)
	}
	c.setState(next)
	return nil
}

// RequestStop arms a stop at the next block boundary. It's allowed only
// while Streaming. Current block isn't truncated.
func (c *Controller) RequestStop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next, err := c.state.transition(stop)
	if err != nil {
		return err
	}
	// a drain posted by a block which raced the previous restart is stale.
	c.drained.Reset()
	c.processor.RequestStop()
	if err := c.engine.ArmStopAtBoundary(); err != nil {
		c.processor.ClearStop()
		return fmt.Errorf("arm stop: %w", err)
	}
	c.setState(next)
	return nil
}

// WaitForDrain blocks until the final block is processed or ctx is done.
// It's allowed only in StopRequested state. Stream is Idle after it
// returns nil. If ctx deadline passes, ErrTimeout is returned and the stop
// stays requested, so the wait can be repeated.
func (c *Controller) WaitForDrain(ctx context.Context) error {
	c.mu.Lock()
	next, err := c.state.transition(drain)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.setState(next)
	c.mu.Unlock()

	_, err = c.drained.Wait(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.log.WithField("error", err).Debug("drain not finished")
		next, _ = c.state.transition(timeout)
		c.setState(next)
		return err
	}
	next, _ = c.state.transition(drained)
	c.setState(next)
	return nil
}

// Reconfigure sets sample rate in Hz and sample size in bits. It's allowed
// only in Idle state. ErrUnsupported is returned for values the codec
// doesn't support, params stay unchanged then.
func (c *Controller) Reconfigure(rate, size int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Idle {
		return &StateError{State: c.state, event: reconfigure}
	}
	p := Params{SampleRate: rate, SampleSize: size}
	if err := c.program(p); err != nil {
		return err
	}
	c.params = p
	c.log.WithFields(logrus.Fields{
		"rate": rate,
		"size": size,
	}).Debug("reconfigured")
	return nil
}

// program writes params into the transport.
func (c *Controller) program(p Params) error {
	rate, size, err := p.codes()
	if err != nil {
		return err
	}
	if err := c.transport.SetSampleRate(rate); err != nil {
		return fmt.Errorf("set sample rate: %w", err)
	}
	if err := c.transport.SetSampleSize(size); err != nil {
		return fmt.Errorf("set sample size: %w", err)
	}
	return nil
}

// Params returns channel params in effect.
func (c *Controller) Params() Params {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params
}

// State returns current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot copies both blocks of the buffer. It's allowed only in Idle
// state, when transfer is halted.
func (c *Controller) Snapshot(id BufferID) ([]int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Idle {
		return nil, &StateError{State: c.state, event: snapshot}
	}
	return c.engine.Snapshot(id.Direction, id.Channel)
}

// Dump stops streaming at the block boundary, waits up to timeout for the
// drain, holds the codec in reset and copies the buffer. Streaming is
// restarted if it was running before. In Idle state the buffer is copied
// right away.
func (c *Controller) Dump(ctx context.Context, id BufferID, timeout time.Duration) ([]int32, error) {
	restart := false
	switch s := c.State(); s {
	case Draining:
		return nil, &StateError{State: s, event: snapshot}
	case Streaming:
		if err := c.RequestStop(); err != nil {
			return nil, err
		}
		restart = true
		fallthrough
	case StopRequested:
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		err := c.WaitForDrain(waitCtx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("drain: %w", err)
		}
	}

	if err := c.transport.Disable(); err != nil {
		return nil, fmt.Errorf("disable transport: %w", err)
	}
	samples, err := c.Snapshot(id)
	if err != nil {
		err = fmt.Errorf("snapshot %v: %w", id, err)
	}
	if !restart {
		if errEnable := c.transport.Enable(); errEnable != nil && err == nil {
			err = fmt.Errorf("enable transport: %w", errEnable)
		}
		return samples, err
	}
	if errRestart := c.StartStreaming(); errRestart != nil {
		return samples, &ErrorDump{ErrDump: err, ErrRestart: errRestart}
	}
	if err != nil {
		return nil, &ErrorDump{ErrDump: err}
	}
	return samples, nil
}

func (c *Controller) setState(s State) {
	if s == c.state {
		return
	}
	c.log.WithFields(logrus.Fields{
		"from": c.state,
		"to":   s,
	}).Debug("state")
	c.state = s
}

// String returns controller id.
func (c *Controller) String() string {
	return c.uid
}
