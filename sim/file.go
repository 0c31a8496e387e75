package sim

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"

	"github.com/dudk/dspstream/filter"
)

var (
	// ErrUnsupportedBitDepth is returned when wav file has unsupported bit depth.
	ErrUnsupportedBitDepth = errors.New("only 16, 24 and 32 bit depth is supported")
	// ErrUnsupportedFile is returned when file extension isn't known.
	ErrUnsupportedFile = errors.New("unsupported file type")
)

// chunkSize is the number of frames decoded at once.
const chunkSize = 1024

// FileSource plays a decoded file in a loop. Channels missing in the file
// are fed with the last available channel. The file's sample rate is
// ignored.
type FileSource struct {
	file     *os.File
	channels int
	buf      []int32
	pos      int
	n        int
	// decode fills buf with interleaved Q31 samples.
	decode func(buf []int32) (int, error)
	rewind func() error
}

// OpenFile opens a wav, mp3 or ogg vorbis file as a source.
func OpenFile(path string) (*FileSource, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return OpenWav(path)
	case ".mp3":
		return OpenMp3(path)
	case ".ogg":
		return OpenVorbis(path)
	}
	return nil, fmt.Errorf("%w: %v", ErrUnsupportedFile, path)
}

// OpenWav opens a wav file as a source.
func OpenWav(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("wav %v is not valid", path)
	}
	bitDepth := int(d.BitDepth)
	if bitDepth != 16 && bitDepth != 24 && bitDepth != 32 {
		f.Close()
		return nil, ErrUnsupportedBitDepth
	}
	if err := d.FwdToPCM(); err != nil {
		f.Close()
		return nil, err
	}
	channels := int(d.NumChans)
	shift := uint(32 - bitDepth)
	ib := &audio.IntBuffer{
		Format:         d.Format(),
		Data:           make([]int, chunkSize*channels),
		SourceBitDepth: bitDepth,
	}
	return newFileSource(f, channels,
		func(buf []int32) (int, error) {
			n, err := d.PCMBuffer(ib)
			for i := 0; i < n; i++ {
				buf[i] = int32(ib.Data[i]) << shift
			}
			return n, err
		},
		func() error {
			if err := d.Rewind(); err != nil {
				return err
			}
			return d.FwdToPCM()
		},
	), nil
}

// OpenMp3 opens an mp3 file as a stereo source.
func OpenMp3(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	d, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mp3 %v is not valid: %w", path, err)
	}
	// decoder always outputs 16 bit little endian stereo
	const channels = 2
	raw := make([]byte, chunkSize*channels*2)
	return newFileSource(f, channels,
		func(buf []int32) (int, error) {
			n, err := io.ReadFull(d, raw)
			if err == io.ErrUnexpectedEOF {
				err = io.EOF
			}
			samples := n / 2
			for i := 0; i < samples; i++ {
				buf[i] = int32(int16(uint16(raw[2*i])|uint16(raw[2*i+1])<<8)) << 16
			}
			return samples, err
		},
		func() error {
			_, err := d.Seek(0, io.SeekStart)
			return err
		},
	), nil
}

// OpenVorbis opens an ogg vorbis file as a source.
func OpenVorbis(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := oggvorbis.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ogg %v is not valid: %w", path, err)
	}
	channels := r.Channels()
	floats := make([]float32, chunkSize*channels)
	return newFileSource(f, channels,
		func(buf []int32) (int, error) {
			n, err := r.Read(floats)
			for i := 0; i < n; i++ {
				buf[i] = filter.FloatToQ31(float64(floats[i]))
			}
			return n, err
		},
		func() error {
			return r.SetPosition(0)
		},
	), nil
}

func newFileSource(f *os.File, channels int, decode func([]int32) (int, error), rewind func() error) *FileSource {
	return &FileSource{
		file:     f,
		channels: channels,
		buf:      make([]int32, chunkSize*channels),
		decode:   decode,
		rewind:   rewind,
	}
}

// Channels returns number of channels in the file.
func (s *FileSource) Channels() int {
	return s.channels
}

// Read fills frame with next frame of the file, rewinding at the end. A
// broken file plays silence.
func (s *FileSource) Read(frame []int32, _ int) {
	if s.pos >= s.n {
		if err := s.fill(); err != nil {
			Silence{}.Read(frame, 0)
			return
		}
	}
	for i := range frame {
		ch := i
		if ch >= s.channels {
			ch = s.channels - 1
		}
		frame[i] = s.buf[s.pos+ch]
	}
	s.pos += s.channels
}

func (s *FileSource) fill() error {
	n, err := s.decode(s.buf)
	if err != nil && err != io.EOF {
		return err
	}
	if n < s.channels {
		// rewind and try once more
		if err := s.rewind(); err != nil {
			return err
		}
		if n, err = s.decode(s.buf); err != nil && err != io.EOF {
			return err
		}
		if n < s.channels {
			return io.EOF
		}
	}
	s.pos = 0
	s.n = n - n%s.channels
	return nil
}

// Close closes the file.
func (s *FileSource) Close() error {
	return s.file.Close()
}
