// Package live defines the contract for real-time voice sessions with a
// remote speech model.
//
// A [Session] is a long-lived, bidirectional stream: the caller pushes small
// audio frames with [Session.SendRealtimeInput] and consumes everything the
// model sends back from a single ordered channel returned by
// [Session.Messages]. Each [ServerMessage] may carry partial transcriptions,
// end-of-turn and interruption markers, and synthesised audio.
//
// Backends live in sub-packages (gemini, genai) and are selected by name
// through the registry in internal/config. All implementations must be safe
// for concurrent use.
package live

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/aetheria/pkg/audio"
)

// ErrSessionClosed is returned by SendRealtimeInput after Close or after the
// remote side ended the session.
var ErrSessionClosed = errors.New("live: session closed")

// Config is the initial configuration for a new session.
type Config struct {
	// Model is the backend model identifier, without any "models/" prefix.
	Model string

	// Voice is the prebuilt voice name used for synthesised speech.
	Voice string

	// Instructions is the system instruction that defines the assistant's
	// persona.
	Instructions string

	// InputTranscription asks the backend to stream transcripts of the
	// user's speech.
	InputTranscription bool

	// OutputTranscription asks the backend to stream transcripts of the
	// model's speech.
	OutputTranscription bool

	// InputSampleRate is the rate of the PCM sent with SendRealtimeInput.
	// Zero means [DefaultInputSampleRate].
	InputSampleRate int
}

// DefaultInputSampleRate is the capture rate the live backends expect.
const DefaultInputSampleRate = audio.InputSampleRate

// ServerMessage is one message received from the backend. Zero or more of
// the fields are set; consumers handle each one independently in the order
// listed.
type ServerMessage struct {
	// SetupComplete is set on the backend's acknowledgement of the session
	// setup.
	SetupComplete bool

	// InputTranscription is a fragment of the transcript of the user's
	// speech. Fragments are appended, not replaced.
	InputTranscription string

	// OutputTranscription is a fragment of the transcript of the model's
	// speech.
	OutputTranscription string

	// TurnComplete marks the end of the model's turn.
	TurnComplete bool

	// Interrupted reports that the user barged in and any buffered model
	// audio should be discarded.
	Interrupted bool

	// Audio holds the inline audio parts of the model turn, in order.
	Audio []Blob
}

// Empty reports whether the message carries nothing a consumer would act on.
func (m *ServerMessage) Empty() bool {
	return m == nil || (!m.SetupComplete && m.InputTranscription == "" &&
		m.OutputTranscription == "" && !m.TurnComplete && !m.Interrupted &&
		len(m.Audio) == 0)
}

// Session is an open live session. Close must be called when the session is
// no longer needed.
type Session interface {
	// SendRealtimeInput delivers one media blob to the backend. It does not
	// wait for any acknowledgement; there is no queueing or retry.
	SendRealtimeInput(b Blob) error

	// Messages returns the channel on which server messages arrive, in
	// order. It is closed when the session ends for any reason.
	Messages() <-chan *ServerMessage

	// Err returns the error that ended the session, or nil if it ended
	// cleanly (local Close or normal remote closure). Only meaningful after
	// the Messages channel is closed.
	Err() error

	// Close terminates the session. Calling Close more than once is safe.
	Close() error
}

// Connector opens live sessions. A successful Connect means the session is
// open and ready to accept input.
type Connector interface {
	Connect(ctx context.Context, cfg Config) (Session, error)
}

// ConnectorFunc adapts a function to the [Connector] interface.
type ConnectorFunc func(ctx context.Context, cfg Config) (Session, error)

// Connect calls f(ctx, cfg).
func (f ConnectorFunc) Connect(ctx context.Context, cfg Config) (Session, error) {
	return f(ctx, cfg)
}

// Error is a failure reported by the backend itself, as opposed to a
// transport failure.
type Error struct {
	Code    int
	Status  string
	Message string
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "unknown error"
	}
	if e.Code != 0 {
		return fmt.Sprintf("live: remote error %d: %s", e.Code, msg)
	}
	return "live: remote error: " + msg
}
