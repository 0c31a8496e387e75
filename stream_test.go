package dspstream_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dudk/dspstream"
	"github.com/dudk/dspstream/block"
	"github.com/dudk/dspstream/engine"
	"github.com/dudk/dspstream/handoff"
	"github.com/dudk/dspstream/mock"
	"github.com/dudk/dspstream/processor"
	"github.com/dudk/dspstream/sim"
	"github.com/dudk/dspstream/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const samples = 8

var layout = block.Layout{
	Blocks:         2,
	Samples:        samples,
	BytesPerSample: 4,
	Channels:       2,
}

// fakeEngine records controller calls.
type fakeEngine struct {
	armed   int
	resumed int
}

func (e *fakeEngine) ArmStopAtBoundary() error {
	e.armed++
	return nil
}

func (e *fakeEngine) Resume() error {
	e.resumed++
	return nil
}

func (e *fakeEngine) Snapshot(d engine.Direction, channel int) ([]int32, error) {
	return make([]int32, 2*samples), nil
}

type fixture struct {
	engine    *fakeEngine
	processor *mock.Processor
	transport *mock.Transport
	drained   *handoff.Signal
	c         *dspstream.Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		engine:    &fakeEngine{},
		processor: &mock.Processor{},
		transport: &mock.Transport{},
		drained:   handoff.New(),
	}
	c, err := dspstream.New(f.engine, f.processor, f.transport, f.drained)
	require.NoError(t, err)
	f.c = c
	return f
}

func TestNew(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, dspstream.Idle, f.c.State())
	assert.Equal(t, dspstream.DefaultParams, f.c.Params())
	assert.Equal(t, transport.RateCode(0), f.transport.Rate)
	assert.Equal(t, transport.SizeCode(3), f.transport.Size)

	_, err := dspstream.New(f.engine, f.processor, f.transport, f.drained,
		dspstream.WithParams(dspstream.Params{SampleRate: 44100, SampleSize: 16}))
	assert.True(t, errors.Is(err, dspstream.ErrUnsupported))

	c, err := dspstream.New(f.engine, f.processor, f.transport, f.drained,
		dspstream.WithParams(dspstream.Params{SampleRate: 8000, SampleSize: 16}))
	require.NoError(t, err)
	assert.Equal(t, dspstream.Params{SampleRate: 8000, SampleSize: 16}, c.Params())
	assert.Equal(t, transport.RateCode(10), f.transport.Rate)
	assert.Equal(t, transport.SizeCode(0), f.transport.Size)
}

func TestStateTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.True(t, errors.Is(f.c.RequestStop(), dspstream.ErrInvalidState))
	assert.True(t, errors.Is(f.c.WaitForDrain(ctx), dspstream.ErrInvalidState))

	require.NoError(t, f.c.StartStreaming())
	assert.Equal(t, dspstream.Streaming, f.c.State())
	assert.Equal(t, 1, f.engine.resumed)
	assert.True(t, f.transport.Enabled)
	assert.True(t, errors.Is(f.c.StartStreaming(), dspstream.ErrInvalidState))
	assert.True(t, errors.Is(f.c.WaitForDrain(ctx), dspstream.ErrInvalidState))

	require.NoError(t, f.c.RequestStop())
	assert.Equal(t, dspstream.StopRequested, f.c.State())
	assert.Equal(t, 1, f.engine.armed)
	assert.True(t, f.processor.StopRequested())

	// restart cancels the stop request
	require.NoError(t, f.c.StartStreaming())
	assert.Equal(t, dspstream.Streaming, f.c.State())
	assert.False(t, f.processor.StopRequested())
	assert.Equal(t, 2, f.engine.resumed)

	require.NoError(t, f.c.RequestStop())
	f.drained.Post(block.Pong)
	require.NoError(t, f.c.WaitForDrain(ctx))
	assert.Equal(t, dspstream.Idle, f.c.State())
}

// A drain completion left from a previous sequence doesn't end a new one.
// Drain of a previous stop, posted after streaming was restarted, must not
// end the next drain.
func TestRequestStopResetsDrain(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.c.StartStreaming())
	require.NoError(t, f.c.RequestStop())
	require.NoError(t, f.c.StartStreaming())
	f.drained.Post(block.Pong)
	require.NoError(t, f.c.RequestStop())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.True(t, errors.Is(f.c.WaitForDrain(ctx), dspstream.ErrTimeout))
	assert.Equal(t, dspstream.StopRequested, f.c.State())
}

func TestWaitForDrainTimeout(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.c.StartStreaming())
	require.NoError(t, f.c.RequestStop())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := f.c.WaitForDrain(ctx)
	assert.True(t, errors.Is(err, dspstream.ErrTimeout))
	assert.Equal(t, dspstream.StopRequested, f.c.State())

	// wait can be repeated
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for f.c.State() != dspstream.Draining {
			time.Sleep(time.Millisecond)
		}
		f.drained.Post(block.Pong)
	}()
	require.NoError(t, f.c.WaitForDrain(context.Background()))
	wg.Wait()
	assert.Equal(t, dspstream.Idle, f.c.State())
}

func TestWaitForDrainCancel(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.c.StartStreaming())
	require.NoError(t, f.c.RequestStop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, errors.Is(f.c.WaitForDrain(ctx), context.Canceled))
	assert.Equal(t, dspstream.StopRequested, f.c.State())
}

func TestReconfigure(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.c.Reconfigure(32000, 24))
	assert.Equal(t, dspstream.Params{SampleRate: 32000, SampleSize: 24}, f.c.Params())
	assert.Equal(t, transport.RateCode(1), f.transport.Rate)
	assert.Equal(t, transport.SizeCode(2), f.transport.Size)

	err := f.c.Reconfigure(44100, 24)
	assert.True(t, errors.Is(err, dspstream.ErrUnsupported))
	err = f.c.Reconfigure(32000, 18)
	assert.True(t, errors.Is(err, dspstream.ErrUnsupported))
	assert.Equal(t, dspstream.Params{SampleRate: 32000, SampleSize: 24}, f.c.Params())

	require.NoError(t, f.c.StartStreaming())
	err = f.c.Reconfigure(32000, 24)
	assert.True(t, errors.Is(err, dspstream.ErrInvalidState))
	err = f.c.Reconfigure(16000, 16)
	assert.True(t, errors.Is(err, dspstream.ErrInvalidState))
	assert.Equal(t, dspstream.Params{SampleRate: 32000, SampleSize: 24}, f.c.Params())
	assert.Equal(t, transport.RateCode(1), f.transport.Rate)

	require.NoError(t, f.c.RequestStop())
	assert.True(t, errors.Is(f.c.Reconfigure(16000, 16), dspstream.ErrInvalidState))
}

func TestReconfigureTransportError(t *testing.T) {
	f := newFixture(t)
	errRate := errors.New("bus error")
	f.transport.RateErr = errRate
	err := f.c.Reconfigure(32000, 24)
	assert.True(t, errors.Is(err, errRate))
	assert.Equal(t, dspstream.DefaultParams, f.c.Params())
}

func TestSnapshotState(t *testing.T) {
	f := newFixture(t)
	id := dspstream.BufferID{Direction: engine.Input}
	s, err := f.c.Snapshot(id)
	require.NoError(t, err)
	assert.Len(t, s, 2*samples)

	require.NoError(t, f.c.StartStreaming())
	_, err = f.c.Snapshot(id)
	assert.True(t, errors.Is(err, dspstream.ErrInvalidState))
}

// stream is a complete simulated stream. The DMA is stepped by tests, so
// every step waits until the processor is done with the previous block.
type stream struct {
	codec     *sim.Codec
	dma       *sim.DMA
	engine    *engine.Engine
	processor *processor.Processor
	c         *dspstream.Controller
	processed chan block.Index

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newStream(t *testing.T, transformers ...processor.Transformer) *stream {
	t.Helper()
	s := &stream{
		processed: make(chan block.Index),
	}
	s.codec = sim.NewCodec(layout.Channels, sim.WithSource(&sim.Ramp{}))
	s.dma = sim.NewDMA(s.codec)
	ready, drained := handoff.New(), handoff.New()
	var err error
	s.engine, err = engine.New(s.dma, s.codec, ready)
	require.NoError(t, err)
	require.NoError(t, s.engine.Init(layout))

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.processor, err = processor.New(s.engine, ready, drained, transformers,
		processor.WithProcessed(func(i block.Index) {
			select {
			case s.processed <- i:
			case <-ctx.Done():
			}
		}),
	)
	require.NoError(t, err)
	s.c, err = dspstream.New(s.engine, s.processor, s.codec, drained)
	require.NoError(t, err)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		assert.NoError(t, s.processor.Run(ctx))
	}()
	return s
}

// step transfers one block and waits until it's processed.
func (s *stream) step(t *testing.T) (block.Index, bool) {
	t.Helper()
	ok, err := s.dma.Step()
	require.NoError(t, err)
	if !ok {
		return 0, false
	}
	select {
	case i := <-s.processed:
		return i, true
	case <-time.After(time.Second):
		t.Fatal("block wasn't processed")
	}
	return 0, false
}

func (s *stream) close() {
	s.cancel()
	s.wg.Wait()
}

func TestStreamScenario(t *testing.T) {
	left, right := &mock.Transformer{Offset: 5}, &mock.Transformer{Offset: -5}
	s := newStream(t, left, right)
	defer s.close()

	require.NoError(t, s.c.StartStreaming())
	// index starts at 1 and alternates
	assert.Equal(t, block.Pong, s.engine.Index())
	for n := 0; n < 9; n++ {
		i, ok := s.step(t)
		require.True(t, ok)
		assert.Equal(t, block.Index(n%2), i, "completion %d", n)
		assert.Equal(t, i, s.engine.Index())
	}

	require.NoError(t, s.c.RequestStop())
	i, ok := s.step(t)
	require.True(t, ok)
	assert.Equal(t, block.Pong, i)
	assert.True(t, s.engine.Halted())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.c.WaitForDrain(ctx))
	assert.Equal(t, dspstream.Idle, s.c.State())
	assert.Equal(t, uint64(10), s.engine.Completions())

	// halted transfer doesn't move the index
	_, ok = s.step(t)
	assert.False(t, ok)
	assert.Equal(t, block.Pong, s.engine.Index())

	// output at the last index is the transform of the last input block
	for ch, offset := range []int32{5, -5} {
		in, err := s.c.Snapshot(dspstream.BufferID{Direction: engine.Input, Channel: ch})
		require.NoError(t, err)
		out, err := s.c.Snapshot(dspstream.BufferID{Direction: engine.Output, Channel: ch})
		require.NoError(t, err)
		for n := samples; n < 2*samples; n++ {
			assert.Equal(t, in[n]+offset, out[n])
			// ramp value of the 10th block
			assert.Equal(t, int32(9*samples+n-samples+1), in[n])
		}
	}
	blocks, _ := left.Count()
	assert.Equal(t, int64(10), blocks)
	assert.Equal(t, uint64(10), s.processor.Blocks())

	// streaming resumes from the same phase
	require.NoError(t, s.c.StartStreaming())
	i, ok = s.step(t)
	require.True(t, ok)
	assert.Equal(t, block.Ping, i)
}

// Stop requested right after a full major loop drains on the next one.
func TestStreamDrainFullLoop(t *testing.T) {
	s := newStream(t, &mock.Transformer{}, &mock.Transformer{})
	defer s.close()

	require.NoError(t, s.c.StartStreaming())
	for n := 0; n < 2; n++ {
		_, ok := s.step(t)
		require.True(t, ok)
	}
	require.NoError(t, s.c.RequestStop())

	i, ok := s.step(t)
	require.True(t, ok)
	assert.Equal(t, block.Ping, i)
	assert.False(t, s.engine.Halted())

	i, ok = s.step(t)
	require.True(t, ok)
	assert.Equal(t, block.Pong, i)
	assert.True(t, s.engine.Halted())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.c.WaitForDrain(ctx))
}

func TestStreamDump(t *testing.T) {
	s := newStream(t, &mock.Transformer{Offset: 1}, &mock.Transformer{Offset: 1})
	defer s.close()

	// idle dump copies right away and leaves codec enabled as it was
	d, err := s.c.Dump(context.Background(), dspstream.BufferID{Direction: engine.Input}, time.Second)
	require.NoError(t, err)
	assert.Len(t, d, 2*samples)
	assert.True(t, s.codec.Enabled())

	require.NoError(t, s.c.StartStreaming())
	for n := 0; n < 3; n++ {
		_, ok := s.step(t)
		require.True(t, ok)
	}

	// clock the transfer until it halts
	clockCtx, stopClock := context.WithCancel(context.Background())
	var clock sync.WaitGroup
	clock.Add(1)
	go func() {
		defer clock.Done()
		for clockCtx.Err() == nil {
			ok, err := s.dma.Step()
			if err != nil || !ok {
				time.Sleep(time.Millisecond)
				continue
			}
			select {
			case <-s.processed:
			case <-clockCtx.Done():
			}
		}
	}()

	out, err := s.c.Dump(context.Background(), dspstream.BufferID{Direction: engine.Output, Channel: 1}, time.Second)
	stopClock()
	clock.Wait()
	require.NoError(t, err)
	require.Len(t, out, 2*samples)
	assert.Equal(t, dspstream.Streaming, s.c.State())
	assert.True(t, s.codec.Enabled())
	for n := range out {
		assert.NotZero(t, out[n])
	}
}
