package live

import (
	"encoding/base64"
	"fmt"
	"mime"
	"strconv"
	"strings"

	"github.com/MrWong99/aetheria/pkg/audio"
)

// Blob is a media payload exchanged with the backend. Data is base64 text,
// which is what the wire protocol carries.
type Blob struct {
	MIMEType string
	Data     string
}

// NewAudioBlob wraps raw 16-bit little-endian mono PCM recorded at rate.
func NewAudioBlob(pcm []byte, rate int) Blob {
	return Blob{
		MIMEType: AudioMIMEType(rate),
		Data:     base64.StdEncoding.EncodeToString(pcm),
	}
}

// AudioMIMEType returns the PCM MIME type for rate, e.g.
// "audio/pcm;rate=16000".
func AudioMIMEType(rate int) string {
	return "audio/pcm;rate=" + strconv.Itoa(rate)
}

// Decode returns the raw bytes of the blob.
func (b Blob) Decode() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(b.Data)
	if err != nil {
		return nil, fmt.Errorf("live: decode blob: %w", err)
	}
	return data, nil
}

// IsAudio reports whether the blob has an audio MIME type.
func (b Blob) IsAudio() bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(b.MIMEType)), "audio/")
}

// SampleRate returns the rate parameter of the blob's MIME type, or fallback
// when it is missing or malformed.
func (b Blob) SampleRate(fallback int) int {
	_, params, err := mime.ParseMediaType(b.MIMEType)
	if err != nil {
		return fallback
	}
	rate, err := strconv.Atoi(params["rate"])
	if err != nil || rate <= 0 {
		return fallback
	}
	return rate
}

// Format returns the PCM layout of the blob: the rate parameter (fallback
// when absent) and the channels parameter (mono when absent or malformed).
func (b Blob) Format(fallbackRate int) audio.Format {
	f := audio.Mono(b.SampleRate(fallbackRate))
	_, params, err := mime.ParseMediaType(b.MIMEType)
	if err != nil {
		return f
	}
	if ch, err := strconv.Atoi(params["channels"]); err == nil && ch > 0 {
		f.Channels = ch
	}
	return f
}
