// Package dump writes captured channel buffers in a readable form.
package dump

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/viert/lame"
)

// ErrFormat is returned for unknown dump format.
var ErrFormat = errors.New("unknown dump format")

// Format of a dump.
type Format int

// Dump formats.
const (
	// Text is a list of floats in range [-1, 1): [a,b,...].
	Text Format = iota
	Wav
	Mp3
)

// mp3 encoder settings.
const (
	mp3BitRate = 192
	mp3Quality = 2
)

// ParseFormat parses format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "text", "txt":
		return Text, nil
	case "wav":
		return Wav, nil
	case "mp3":
		return Mp3, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrFormat, s)
}

func (f Format) String() string {
	switch f {
	case Text:
		return "text"
	case Wav:
		return "wav"
	case Mp3:
		return "mp3"
	}
	return "unknown"
}

// Ext returns file extension of the format.
func (f Format) Ext() string {
	if f == Text {
		return ".txt"
	}
	return "." + f.String()
}

// Params describe samples being dumped.
type Params struct {
	SampleRate int
	BitDepth   int
}

// WriteText writes samples as floats.
func WriteText(w io.Writer, samples []int32) error {
	bw := bufio.NewWriter(w)
	bw.WriteByte('[')
	for i, s := range samples {
		if i > 0 {
			bw.WriteByte(',')
		}
		bw.WriteString(strconv.FormatFloat(float64(s)/(1<<31), 'f', -1, 64))
	}
	bw.WriteString("]\n")
	return bw.Flush()
}

// wavBitDepth returns the container depth for a codec word width.
func wavBitDepth(bits int) int {
	switch {
	case bits <= 16:
		return 16
	case bits <= 24:
		return 24
	}
	return 32
}

// WriteWav writes samples as mono PCM wav.
func WriteWav(w io.WriteSeeker, samples []int32, p Params) error {
	bitDepth := wavBitDepth(p.BitDepth)
	e := wav.NewEncoder(w, p.SampleRate, bitDepth, 1, 1)
	shift := uint(32 - bitDepth)
	ib := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: 1,
			SampleRate:  p.SampleRate,
		},
		Data:           make([]int, len(samples)),
		SourceBitDepth: bitDepth,
	}
	for i, s := range samples {
		ib.Data[i] = int(s >> shift)
	}
	if err := e.Write(ib); err != nil {
		return err
	}
	return e.Close()
}

// WriteMp3 encodes samples as mp3. Mono signal is encoded as joint stereo
// with both channels equal.
func WriteMp3(w io.Writer, samples []int32, p Params) error {
	wr := lame.NewWriter(w)
	wr.Encoder.SetBitrate(mp3BitRate)
	wr.Encoder.SetQuality(mp3Quality)
	wr.Encoder.SetNumChannels(2)
	wr.Encoder.SetInSamplerate(p.SampleRate)
	wr.Encoder.SetMode(lame.JOINT_STEREO)
	wr.Encoder.SetVBR(lame.VBR_RH)
	wr.Encoder.InitParams()

	buf := new(bytes.Buffer)
	for _, s := range samples {
		v := int16(s >> 16)
		if err := binary.Write(buf, binary.LittleEndian, [2]int16{v, v}); err != nil {
			return err
		}
	}
	if _, err := wr.Write(buf.Bytes()); err != nil {
		wr.Close()
		return err
	}
	return wr.Close()
}

// Write writes samples in format f.
func Write(w io.Writer, f Format, samples []int32, p Params) error {
	switch f {
	case Text:
		return WriteText(w, samples)
	case Wav:
		ws, ok := w.(io.WriteSeeker)
		if !ok {
			return errors.New("wav needs a seekable writer")
		}
		return WriteWav(ws, samples, p)
	case Mp3:
		return WriteMp3(w, samples, p)
	}
	return fmt.Errorf("%w: %d", ErrFormat, f)
}

// WriteFile writes samples into a new file at path.
func WriteFile(path string, f Format, samples []int32, p Params) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(file, f, samples, p); err != nil {
		file.Close()
		return fmt.Errorf("dump %v: %w", path, err)
	}
	return file.Close()
}
