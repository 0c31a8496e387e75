// Package filter provides stateful per-channel transformations of Q31
// blocks. Filter state persists between calls and changes only with an
// explicit Reset.
package filter

import (
	"errors"
	"math"
)

// ErrCoefficients is returned when coefficients can't form a cascade.
var ErrCoefficients = errors.New("coefficients must be a non-empty multiple of 5")

// Coefficients of a four stage cascade used as a default notch. Each stage
// is b0, b1, b2, a1, a2 with feedback terms added, not subtracted.
var DefaultCoefficients = []float64{
	0.866091276638422, -0.715205228839432, 0.866091276638422,
	0.715205228839433, -0.732182553276844,
	0.866091276638422, -0.715205228839432, 0.866091276638422,
	0.715205228839433, -0.732182553276844,
	0.866091276638422, -0.715205228839432, 0.866091276638422,
	0.715205228839433, -0.732182553276844,
	0.866091276638422, -0.715205228839432, 0.866091276638422,
	0.715205228839433, -0.732182553276844,
}

// FloatToQ31 converts a value in range [-1, 1) to Q31 with saturation.
func FloatToQ31(f float64) int32 {
	v := f * (1 << 31)
	switch {
	case v >= math.MaxInt32:
		return math.MaxInt32
	case v <= math.MinInt32:
		return math.MinInt32
	}
	return int32(math.Round(v))
}

// Q31ToFloat converts a Q31 value to float.
func Q31ToFloat(q int32) float64 {
	return float64(q) / (1 << 31)
}

// Biquad holds Q31 coefficients of one Direct Form I stage.
type Biquad struct {
	B0, B1, B2 int32
	A1, A2     int32
}

// Cascade is a series of biquad stages with Q31 arithmetic and 64-bit
// accumulation.
type Cascade struct {
	stages    []Biquad
	state     [][4]int32 // x[n-1], x[n-2], y[n-1], y[n-2]
	postShift uint
}

// NewCascade builds a cascade from float coefficients, five per stage.
// Coefficients are scaled down by 2^postShift before conversion and the
// result is scaled back up, so stages can have gains above one.
func NewCascade(coefficients []float64, postShift uint) (*Cascade, error) {
	if len(coefficients) == 0 || len(coefficients)%5 != 0 {
		return nil, ErrCoefficients
	}
	scale := float64(uint(1) << postShift)
	n := len(coefficients) / 5
	c := &Cascade{
		stages:    make([]Biquad, n),
		state:     make([][4]int32, n),
		postShift: postShift,
	}
	for i := range c.stages {
		k := coefficients[i*5 : i*5+5]
		c.stages[i] = Biquad{
			B0: FloatToQ31(k[0] / scale),
			B1: FloatToQ31(k[1] / scale),
			B2: FloatToQ31(k[2] / scale),
			A1: FloatToQ31(k[3] / scale),
			A2: FloatToQ31(k[4] / scale),
		}
	}
	return c, nil
}

// Stages returns the number of biquads.
func (c *Cascade) Stages() int {
	return len(c.stages)
}

// Transform filters in into out. Both must be the same length; they may
// not overlap.
func (c *Cascade) Transform(in, out []int32) {
	src := in
	for s := range c.stages {
		b := c.stages[s]
		st := &c.state[s]
		x1, x2, y1, y2 := st[0], st[1], st[2], st[3]
		for n, x := range src {
			acc := int64(b.B0)*int64(x) +
				int64(b.B1)*int64(x1) +
				int64(b.B2)*int64(x2) +
				int64(b.A1)*int64(y1) +
				int64(b.A2)*int64(y2)
			y := saturate(acc >> (31 - c.postShift))
			x2, x1 = x1, x
			y2, y1 = y1, y
			out[n] = y
		}
		st[0], st[1], st[2], st[3] = x1, x2, y1, y2
		// next stage filters in place
		src = out
	}
}

// Reset clears the delay lines.
func (c *Cascade) Reset() {
	for i := range c.state {
		c.state[i] = [4]int32{}
	}
}

func saturate(v int64) int32 {
	switch {
	case v > math.MaxInt32:
		return math.MaxInt32
	case v < math.MinInt32:
		return math.MinInt32
	}
	return int32(v)
}

// Passthrough copies input to output.
type Passthrough struct{}

// Transform copies in into out.
func (Passthrough) Transform(in, out []int32) {
	copy(out, in)
}

// Reset does nothing.
func (Passthrough) Reset() {}

// Gain scales samples by a Q31 factor.
type Gain struct {
	Factor int32
}

// NewGain returns gain of f, which must be in range [-1, 1).
func NewGain(f float64) Gain {
	return Gain{Factor: FloatToQ31(f)}
}

// Transform scales in into out.
func (g Gain) Transform(in, out []int32) {
	for i, x := range in {
		out[i] = saturate((int64(x) * int64(g.Factor)) >> 31)
	}
}

// Reset does nothing.
func (Gain) Reset() {}
