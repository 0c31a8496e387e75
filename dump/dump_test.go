package dump_test

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudk/dspstream/dump"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name     string
		expected dump.Format
	}{
		{"", dump.Text},
		{"text", dump.Text},
		{"WAV", dump.Wav},
		{"mp3", dump.Mp3},
	}
	for _, test := range tests {
		f, err := dump.ParseFormat(test.name)
		assert.NoError(t, err)
		assert.Equal(t, test.expected, f)
	}
	_, err := dump.ParseFormat("flac")
	assert.True(t, errors.Is(err, dump.ErrFormat))
	assert.Equal(t, ".txt", dump.Text.Ext())
	assert.Equal(t, ".wav", dump.Wav.Ext())
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	err := dump.WriteText(&buf, []int32{0, 1 << 30, math.MinInt32, -(1 << 29)})
	require.NoError(t, err)
	assert.Equal(t, "[0,0.5,-1,-0.25]\n", buf.String())

	buf.Reset()
	require.NoError(t, dump.WriteText(&buf, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestWriteWav(t *testing.T) {
	tests := []struct {
		bits     int
		bitDepth int
	}{
		{16, 16},
		{20, 24},
		{24, 24},
		{32, 32},
	}
	samples := []int32{1 << 24, -(1 << 24), 0, math.MaxInt32 &^ 0xFFFF}
	for _, test := range tests {
		path := filepath.Join(t.TempDir(), "out.wav")
		p := dump.Params{SampleRate: 32000, BitDepth: test.bits}
		require.NoError(t, dump.WriteFile(path, dump.Wav, samples, p))

		f, err := os.Open(path)
		require.NoError(t, err)
		d := wav.NewDecoder(f)
		b, err := d.FullPCMBuffer()
		require.NoError(t, err)
		assert.Equal(t, uint32(32000), d.SampleRate)
		assert.Equal(t, uint16(test.bitDepth), d.BitDepth)
		require.Len(t, b.Data, len(samples))
		shift := uint(32 - test.bitDepth)
		for i, s := range samples {
			assert.Equal(t, int(s>>shift), b.Data[i], "bits %d sample %d", test.bits, i)
		}
		f.Close()
	}
}

func TestWriteWavNeedsSeeker(t *testing.T) {
	var buf bytes.Buffer
	err := dump.Write(&buf, dump.Wav, []int32{0}, dump.Params{SampleRate: 48000, BitDepth: 16})
	assert.Error(t, err)
	err = dump.Write(&buf, dump.Format(7), []int32{0}, dump.Params{})
	assert.True(t, errors.Is(err, dump.ErrFormat))
}

func TestWriteMp3(t *testing.T) {
	samples := make([]int32, 4800)
	for i := range samples {
		samples[i] = int32(0.5 * math.Sin(float64(i)/10) * math.MaxInt32)
	}
	var buf bytes.Buffer
	require.NoError(t, dump.WriteMp3(&buf, samples, dump.Params{SampleRate: 48000, BitDepth: 32}))
	assert.NotZero(t, buf.Len())
}
