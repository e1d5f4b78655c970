// Package audio holds the PCM primitives shared by the capture and playback
// halves of the Aetheria voice pipeline.
//
// Two sample representations flow through the pipeline:
//
//   - float32 samples in [-1, 1], as delivered by capture devices and consumed
//     by the playback timeline.
//   - little-endian signed 16-bit PCM bytes, as exchanged with the live
//     session (16 kHz upstream, 24 kHz downstream).
//
// Conversion between the two is a linear quantization; see [Float32ToPCM16]
// and [PCM16ToFloat32].
package audio

const (
	// InputSampleRate is the capture rate expected by the live session.
	InputSampleRate = 16000

	// OutputSampleRate is the rate of synthesised response audio.
	OutputSampleRate = 24000

	// DefaultFrameSize is the number of samples per captured frame.
	DefaultFrameSize = 4096
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Mono returns a single-channel format at rate.
func Mono(rate int) Format {
	return Format{SampleRate: rate, Channels: 1}
}

// String returns a human-readable form such as "16000Hz mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}
