package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/dudk/dspstream"
	"github.com/dudk/dspstream/engine"
	"github.com/dudk/dspstream/filter"
	"github.com/dudk/dspstream/handoff"
	"github.com/dudk/dspstream/log"
	"github.com/dudk/dspstream/portaudio"
	"github.com/dudk/dspstream/processor"
	"github.com/dudk/dspstream/sim"
	"github.com/dudk/dspstream/transport"
)

// system is an assembled stream with its backend.
type system struct {
	cfg        config
	transport  transport.Transport
	engine     *engine.Engine
	processor  *processor.Processor
	controller *dspstream.Controller
	ready      *handoff.Signal
	// clock drives the simulated transfer. It's nil for hardware backends.
	clock   func(ctx context.Context) error
	closers []io.Closer

	cancel context.CancelFunc
	wg     sync.WaitGroup
	errs   chan error
}

func newSystem(cfg config, l log.Logger) (*system, error) {
	s := &system{
		cfg:   cfg,
		ready: handoff.New(),
		errs:  make(chan error, 2),
	}
	var transfer engine.Transfer
	switch cfg.Backend {
	case backendPortAudio:
		r, err := portaudio.New(portaudio.WithLogger(l))
		if err != nil {
			return nil, err
		}
		transfer, s.transport = r, r.Device()
	default:
		source, err := s.source()
		if err != nil {
			return nil, err
		}
		codec := sim.NewCodec(cfg.Channels, sim.WithSource(source))
		dma := sim.NewDMA(codec)
		transfer, s.transport = dma, codec
		s.clock = func(ctx context.Context) error {
			return dma.Run(ctx, cfg.Samples)
		}
	}

	var err error
	if s.engine, err = engine.New(transfer, s.transport, s.ready, engine.WithLogger(l)); err != nil {
		return nil, err
	}
	if err = s.engine.Init(cfg.layout()); err != nil {
		s.close()
		return nil, err
	}
	transformers, err := s.transformers()
	if err != nil {
		s.close()
		return nil, err
	}
	drained := handoff.New()
	s.processor, err = processor.New(s.engine, s.ready, drained, transformers,
		processor.WithLogger(l),
		processor.WithSampleRate(cfg.Rate),
	)
	if err != nil {
		s.close()
		return nil, err
	}
	s.controller, err = dspstream.New(s.engine, s.processor, s.transport, drained,
		dspstream.WithLogger(l),
		dspstream.WithParams(dspstream.Params{SampleRate: cfg.Rate, SampleSize: cfg.Size}),
	)
	if err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *system) source() (sim.Source, error) {
	switch {
	case s.cfg.Input != "":
		f, err := sim.OpenFile(s.cfg.Input)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, f)
		return f, nil
	case s.cfg.Tone > 0:
		return &sim.Tone{Frequency: s.cfg.Tone, Amplitude: 0.5}, nil
	}
	return sim.Silence{}, nil
}

func (s *system) transformers() ([]processor.Transformer, error) {
	t := make([]processor.Transformer, s.cfg.Channels)
	for i := range t {
		switch s.cfg.Filter {
		case filterPassthrough:
			t[i] = filter.Passthrough{}
		case filterGain:
			t[i] = filter.NewGain(s.cfg.Gain)
		default:
			c, err := filter.NewCascade(filter.DefaultCoefficients, 1)
			if err != nil {
				return nil, err
			}
			t[i] = c
		}
	}
	return t, nil
}

// start runs processor and clock goroutines.
func (s *system) start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	run := func(fn func(context.Context) error) {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := fn(ctx); err != nil {
				s.errs <- err
			}
		}()
	}
	run(s.processor.Run)
	if s.clock != nil {
		run(s.clock)
	}
}

// err returns the first error of background goroutines, if any.
func (s *system) err() error {
	select {
	case err := <-s.errs:
		return err
	default:
		return nil
	}
}

// reconfigure sets params, stopping and restarting streaming around it.
func (s *system) reconfigure(rate, size int) error {
	restart, err := s.halt()
	if err != nil {
		return err
	}
	if err := s.controller.Reconfigure(rate, size); err != nil {
		if restart {
			return errors.Join(err, s.controller.StartStreaming())
		}
		return err
	}
	s.processor.SetSampleRate(s.controller.Params().SampleRate)
	if restart {
		return s.controller.StartStreaming()
	}
	return nil
}

// halt stops streaming at the block boundary and waits for the drain. It
// reports whether streaming was running.
func (s *system) halt() (bool, error) {
	switch s.controller.State() {
	case dspstream.Streaming:
		if err := s.controller.RequestStop(); err != nil {
			return false, err
		}
		return true, s.drain()
	case dspstream.StopRequested:
		return false, s.drain()
	}
	return false, nil
}

func (s *system) drain() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DrainTimeout)
	defer cancel()
	if err := s.controller.WaitForDrain(ctx); err != nil {
		return fmt.Errorf("drain: %w", err)
	}
	return nil
}

// stop halts streaming, stops goroutines and releases the backend.
func (s *system) stop() error {
	_, err := s.halt()
	if s.cancel != nil {
		s.cancel()
		s.wg.Wait()
	}
	if errDisable := s.transport.Disable(); err == nil {
		err = errDisable
	}
	if errClose := s.close(); err == nil {
		err = errClose
	}
	return err
}

func (s *system) close() error {
	var err error
	for _, c := range s.closers {
		if errClose := c.Close(); err == nil {
			err = errClose
		}
	}
	s.closers = nil
	return err
}
