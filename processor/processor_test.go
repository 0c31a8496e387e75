package processor_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dudk/dspstream/block"
	"github.com/dudk/dspstream/handoff"
	"github.com/dudk/dspstream/mock"
	"github.com/dudk/dspstream/processor"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var layout = block.Layout{
	Blocks:         2,
	Samples:        4,
	BytesPerSample: 4,
	Channels:       2,
}

type fakeEngine struct {
	in, out  *block.Set
	halted   uint32
	notOwned uint32
	err      error
}

func newFakeEngine(t *testing.T) *fakeEngine {
	in, err := block.NewSet(layout)
	require.NoError(t, err)
	out, err := block.NewSet(layout)
	require.NoError(t, err)
	for ch := 0; ch < layout.Channels; ch++ {
		for _, i := range []block.Index{block.Ping, block.Pong} {
			b := in.Block(ch, i)
			for n := range b {
				b[n] = int32(100*ch + 10*int(i) + n)
			}
		}
	}
	return &fakeEngine{in: in, out: out}
}

func (e *fakeEngine) Frame(i block.Index) (block.Frame, error) {
	if e.err != nil {
		return block.Frame{}, e.err
	}
	if atomic.LoadUint32(&e.notOwned) == 1 {
		return block.Frame{}, fmt.Errorf("%w: index %d", block.ErrNotOwned, i)
	}
	return block.NewFrame(i, e.in, e.out), nil
}

func (e *fakeEngine) Halted() bool {
	return atomic.LoadUint32(&e.halted) == 1
}

func (e *fakeEngine) own(owned bool) {
	var v uint32
	if !owned {
		v = 1
	}
	atomic.StoreUint32(&e.notOwned, v)
}

func (e *fakeEngine) halt(h bool) {
	var v uint32
	if h {
		v = 1
	}
	atomic.StoreUint32(&e.halted, v)
}

type fixture struct {
	engine    *fakeEngine
	ready     *handoff.Signal
	drained   *handoff.Signal
	processed chan block.Index
	p         *processor.Processor
	cancel    context.CancelFunc
	done      chan error
}

func start(t *testing.T, transformers ...processor.Transformer) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	f := &fixture{
		engine:    newFakeEngine(t),
		ready:     handoff.New(),
		drained:   handoff.New(),
		processed: make(chan block.Index),
		cancel:    cancel,
		done:      make(chan error, 1),
	}
	var err error
	f.p, err = processor.New(f.engine, f.ready, f.drained, transformers,
		processor.WithSampleRate(8000),
		processor.WithProcessed(func(i block.Index) {
			select {
			case f.processed <- i:
			case <-ctx.Done():
			}
		}),
	)
	require.NoError(t, err)
	go func() {
		f.done <- f.p.Run(ctx)
	}()
	return f
}

func (f *fixture) process(t *testing.T, i block.Index) {
	t.Helper()
	f.ready.Post(i)
	select {
	case got := <-f.processed:
		assert.Equal(t, i, got)
	case <-time.After(time.Second):
		t.Fatal("block wasn't processed")
	}
}

func (f *fixture) stop(t *testing.T) {
	t.Helper()
	f.cancel()
	assert.NoError(t, <-f.done)
}

func TestNew(t *testing.T) {
	_, err := processor.New(newFakeEngine(t), handoff.New(), handoff.New(), nil)
	assert.Equal(t, processor.ErrNoTransformers, err)
}

func TestProcess(t *testing.T) {
	left, right := &mock.Transformer{Offset: 1}, &mock.Transformer{Offset: 2}
	f := start(t, left, right)

	f.process(t, block.Pong)
	assert.Equal(t, []int32{11, 12, 13, 14}, []int32(f.engine.out.Block(0, block.Pong)))
	assert.Equal(t, []int32{112, 113, 114, 115}, []int32(f.engine.out.Block(1, block.Pong)))
	// other block isn't touched
	assert.Equal(t, []int32{0, 0, 0, 0}, []int32(f.engine.out.Block(0, block.Ping)))

	f.process(t, block.Ping)
	assert.Equal(t, []int32{1, 2, 3, 4}, []int32(f.engine.out.Block(0, block.Ping)))
	assert.Equal(t, uint64(2), f.p.Blocks())
	f.stop(t)

	blocks, samples := left.Count()
	assert.Equal(t, int64(2), blocks)
	assert.Equal(t, int64(8), samples)
	assert.Equal(t, processor.Stopped, f.p.State())
}

func TestDrain(t *testing.T) {
	tests := []struct {
		name    string
		stop    bool
		halted  bool
		index   block.Index
		drained bool
	}{
		{"final block", true, true, block.Pong, true},
		{"first block", true, true, block.Ping, false},
		{"not halted", true, false, block.Pong, false},
		{"no stop", false, true, block.Pong, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := start(t, &mock.Transformer{}, &mock.Transformer{})
			if test.stop {
				f.p.RequestStop()
			}
			f.engine.halt(test.halted)
			f.process(t, test.index)
			_, err := f.drained.WaitTimeout(20 * time.Millisecond)
			if test.drained {
				assert.NoError(t, err)
			} else {
				assert.Equal(t, handoff.ErrTimeout, err)
			}
			f.stop(t)
		})
	}
}

func TestClearStop(t *testing.T) {
	f := start(t, &mock.Transformer{}, &mock.Transformer{})
	f.p.RequestStop()
	assert.True(t, f.p.StopRequested())
	f.p.ClearStop()
	assert.False(t, f.p.StopRequested())
	f.engine.halt(true)
	f.process(t, block.Pong)
	_, err := f.drained.WaitTimeout(20 * time.Millisecond)
	assert.Equal(t, handoff.ErrTimeout, err)
	f.stop(t)
}

func TestRunTwice(t *testing.T) {
	tf := &mock.Transformer{}
	f := start(t, tf, &mock.Transformer{})
	// first block makes sure loop is running
	f.process(t, block.Ping)
	assert.Equal(t, processor.ErrRunning, f.p.Run(context.Background()))
	assert.Equal(t, processor.ErrRunning, f.p.Reset())
	f.stop(t)

	assert.NoError(t, f.p.Reset())
	assert.Equal(t, 1, tf.Resets())
}

func TestFrameError(t *testing.T) {
	errFrame := errors.New("no frame")
	f := start(t, &mock.Transformer{}, &mock.Transformer{})
	f.engine.err = errFrame
	f.ready.Post(block.Ping)
	err := <-f.done
	assert.True(t, errors.Is(err, errFrame))
	f.cancel()
}

// A block the transfer has taken back is skipped and the loop goes on.
func TestSkipNotOwned(t *testing.T) {
	tf := &mock.Transformer{Offset: 1}
	f := start(t, tf, &mock.Transformer{})
	f.engine.own(false)
	f.ready.Post(block.Ping)
	assert.Eventually(t, func() bool {
		return f.p.Skipped() == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, uint64(0), f.p.Blocks())
	assert.Equal(t, []int32{0, 0, 0, 0}, []int32(f.engine.out.Block(0, block.Ping)))

	f.engine.own(true)
	f.process(t, block.Pong)
	assert.Equal(t, uint64(1), f.p.Blocks())
	f.stop(t)

	blocks, _ := tf.Count()
	assert.Equal(t, int64(1), blocks)
}

func TestNotEnoughTransformers(t *testing.T) {
	tf := &mock.Transformer{}
	f := start(t, tf)
	f.ready.Post(block.Ping)
	err := <-f.done
	assert.True(t, errors.Is(err, processor.ErrChannels))
	// no channel was half written
	blocks, _ := tf.Count()
	assert.Equal(t, int64(0), blocks)
	f.cancel()
}

func TestSampleRate(t *testing.T) {
	f := start(t, &mock.Transformer{}, &mock.Transformer{})
	assert.Equal(t, 8000, f.p.SampleRate())
	f.process(t, block.Ping)
	f.p.SetSampleRate(32000)
	assert.Equal(t, 32000, f.p.SampleRate())
	f.process(t, block.Pong)
	f.stop(t)
}
