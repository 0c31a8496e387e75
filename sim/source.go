package sim

import (
	"math"
	"sync"
)

// Source produces analog input one frame at a time.
type Source interface {
	Read(frame []int32, sampleRate int)
}

// Sink consumes analog output one frame at a time.
type Sink interface {
	Write(frame []int32)
}

// Silence is a source of zeros.
type Silence struct{}

// Read fills frame with zeros.
func (Silence) Read(frame []int32, _ int) {
	for i := range frame {
		frame[i] = 0
	}
}

// Constant feeds the same value into every channel.
type Constant int32

// Read fills frame with the value.
func (c Constant) Read(frame []int32, _ int) {
	for i := range frame {
		frame[i] = int32(c)
	}
}

// Ramp feeds an incrementing counter, starting at 1. Every channel of a frame
// gets the same value. It's used to identify frames in tests.
type Ramp struct {
	n int32
}

// Read fills frame with next counter value.
func (r *Ramp) Read(frame []int32, _ int) {
	r.n++
	for i := range frame {
		frame[i] = r.n
	}
}

// Tone is a sine generator.
type Tone struct {
	Frequency float64
	// Amplitude in range 0..1 of full scale.
	Amplitude float64
	phase     float64
}

// Read fills frame with next sample of the tone.
func (t *Tone) Read(frame []int32, sampleRate int) {
	v := int32(t.Amplitude * math.Sin(t.phase) * math.MaxInt32)
	for i := range frame {
		frame[i] = v
	}
	if sampleRate > 0 {
		t.phase += 2 * math.Pi * t.Frequency / float64(sampleRate)
		if t.phase > 2*math.Pi {
			t.phase -= 2 * math.Pi
		}
	}
}

// Discard drops every frame.
type Discard struct{}

// Write drops frame.
func (Discard) Write([]int32) {}

// Recorder keeps the latest frames written to it.
type Recorder struct {
	mu     sync.Mutex
	limit  int
	frames [][]int32
}

// NewRecorder returns recorder which keeps at most limit frames.
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

// Write stores a copy of frame.
func (r *Recorder) Write(frame []int32) {
	f := make([]int32, len(frame))
	copy(f, frame)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
	if r.limit > 0 && len(r.frames) > r.limit {
		r.frames = r.frames[len(r.frames)-r.limit:]
	}
}

// Frames returns recorded frames.
func (r *Recorder) Frames() [][]int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	f := make([][]int32, len(r.frames))
	copy(f, r.frames)
	return f
}
