package transport_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dudk/dspstream/transport"
)

func TestRateCodes(t *testing.T) {
	for i, rate := range transport.Rates() {
		code, err := transport.RateCodeOf(rate)
		assert.NoError(t, err)
		assert.Equal(t, transport.RateCode(i), code)
		assert.Equal(t, rate, code.Rate())
	}
	_, err := transport.RateCodeOf(44100)
	assert.Error(t, err)
	assert.Equal(t, 0, transport.RateCode(11).Rate())
	assert.Equal(t, 32000, transport.RateCode(1).Rate())
}

func TestSizeCodes(t *testing.T) {
	tests := []struct {
		bits int
		code transport.SizeCode
	}{
		{16, 0},
		{20, 1},
		{24, 2},
		{32, 3},
	}
	for _, test := range tests {
		code, err := transport.SizeCodeOf(test.bits)
		assert.NoError(t, err)
		assert.Equal(t, test.code, code)
		assert.Equal(t, test.bits, code.Bits())
	}
	_, err := transport.SizeCodeOf(8)
	assert.Error(t, err)
}

func TestCheckRegister(t *testing.T) {
	assert.NoError(t, transport.CheckRegister(1, 127))
	assert.True(t, errors.Is(transport.CheckRegister(2, 0), transport.ErrRegister))
	assert.True(t, errors.Is(transport.CheckRegister(0, 128), transport.ErrRegister))
}

func TestParamRegister(t *testing.T) {
	assert.Equal(t, "sample rate", transport.ParamRegister(0, transport.RegSampleRate))
	assert.Equal(t, "sample size", transport.ParamRegister(0, transport.RegDataPath))
	assert.Empty(t, transport.ParamRegister(1, transport.RegSampleRate))
	assert.Empty(t, transport.ParamRegister(0, 5))
}

func TestFlags(t *testing.T) {
	assert.Equal(t, "none", transport.Flags(0).String())
	assert.Equal(t, "overrun", transport.Overrun.String())
	assert.Equal(t, "overrun|underrun|sync", (transport.Overrun | transport.Underrun | transport.SyncError).String())
}
