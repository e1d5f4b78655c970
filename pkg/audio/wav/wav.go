// Package wav provides file-backed audio endpoints: a capture device that
// replays a WAV recording in real time, and a playback sink that records
// the rendered output timeline to a WAV file.
//
// Decoding, encoding and rate conversion are delegated to
// github.com/gopxl/beep.
package wav

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gopxl/beep/v2"
	beepwav "github.com/gopxl/beep/v2/wav"
)

// resampleQuality is the beep resampler quality used for file input.
const resampleQuality = 4

// Clip is a decoded mono recording.
type Clip struct {
	Samples    []float32
	SampleRate int
}

// Decode reads a WAV stream and folds it to mono float samples.
func Decode(r io.Reader) (*Clip, error) {
	rc, ok := r.(io.ReadCloser)
	if !ok {
		rc = io.NopCloser(r)
	}
	stream, format, err := beepwav.Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("wav: decode: %w", err)
	}
	defer stream.Close()

	samples, err := readMono(stream, format.NumChannels)
	if err != nil {
		return nil, err
	}
	return &Clip{Samples: samples, SampleRate: int(format.SampleRate)}, nil
}

// DecodeFile opens path and decodes it.
func DecodeFile(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wav: open: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Resample returns the clip converted to rate. The receiver is returned
// unchanged when the rates already match.
func (c *Clip) Resample(rate int) (*Clip, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("wav: invalid target rate %d", rate)
	}
	if rate == c.SampleRate || len(c.Samples) == 0 {
		return &Clip{Samples: c.Samples, SampleRate: rate}, nil
	}
	r := beep.Resample(resampleQuality, beep.SampleRate(c.SampleRate), beep.SampleRate(rate), streamMono(c.Samples))
	samples, err := readMono(r, 1)
	if err != nil {
		return nil, err
	}
	return &Clip{Samples: samples, SampleRate: rate}, nil
}

// Encode writes 16-bit mono PCM WAV data for samples at rate.
func Encode(w io.WriteSeeker, samples []float32, rate int) error {
	if rate <= 0 {
		return fmt.Errorf("wav: invalid sample rate %d", rate)
	}
	format := beep.Format{
		SampleRate:  beep.SampleRate(rate),
		NumChannels: 1,
		Precision:   2,
	}
	if err := beepwav.Encode(w, streamMono(samples), format); err != nil {
		return fmt.Errorf("wav: encode: %w", err)
	}
	return nil
}

// EncodeFile creates path and writes samples to it.
func EncodeFile(path string, samples []float32, rate int) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("wav: create: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("wav: close: %w", cerr)
		}
	}()
	return Encode(f, samples, rate)
}

// streamMono exposes mono samples as a beep streamer, duplicated to both
// channels as beep expects.
func streamMono(samples []float32) beep.Streamer {
	pos := 0
	return beep.StreamerFunc(func(buf [][2]float64) (int, bool) {
		if pos >= len(samples) {
			return 0, false
		}
		n := copy2(buf, samples[pos:])
		pos += n
		return n, true
	})
}

func copy2(dst [][2]float64, src []float32) int {
	n := min(len(dst), len(src))
	for i := range n {
		v := float64(src[i])
		dst[i] = [2]float64{v, v}
	}
	return n
}

// readMono drains s, averaging the channels when the source is stereo.
func readMono(s beep.Streamer, channels int) ([]float32, error) {
	var out []float32
	buf := make([][2]float64, 512)
	for {
		n, ok := s.Stream(buf)
		for _, frame := range buf[:n] {
			v := frame[0]
			if channels > 1 {
				v = (frame[0] + frame[1]) / 2
			}
			out = append(out, float32(v))
		}
		if !ok {
			break
		}
	}
	if err := s.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("wav: read samples: %w", err)
	}
	return out, nil
}
