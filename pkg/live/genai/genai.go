// Package genai implements live.Connector on top of the official Google Gen
// AI Go SDK (google.golang.org/genai).
//
// It is an alternative to the hand-rolled gemini package: the SDK owns the
// setup handshake and wire encoding, and this package adapts its session to
// the live.Session contract.
package genai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/aetheria/pkg/live"
	"github.com/gorilla/websocket"
	sdk "google.golang.org/genai"
)

var _ live.Connector = (*Provider)(nil)
var _ live.Session = (*session)(nil)

const (
	defaultModel      = "gemini-2.5-flash-native-audio-preview-09-2025"
	defaultAPIVersion = "v1beta"
	messageBuffer     = 64
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model used when the session config does not name one.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithAPIVersion overrides the API version segment of the endpoint.
func WithAPIVersion(v string) Option {
	return func(p *Provider) { p.apiVersion = v }
}

// Provider opens Gemini Live sessions through the SDK.
type Provider struct {
	apiKey     string
	model      string
	baseURL    string
	apiVersion string
}

// New creates a Provider for the Gemini API backend.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		apiVersion: defaultAPIVersion,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect creates an SDK client and opens a live session with it.
func (p *Provider) Connect(ctx context.Context, cfg live.Config) (live.Session, error) {
	client, err := sdk.NewClient(ctx, &sdk.ClientConfig{
		APIKey:  p.apiKey,
		Backend: sdk.BackendGeminiAPI,
		HTTPOptions: sdk.HTTPOptions{
			BaseURL:    p.baseURL,
			APIVersion: p.apiVersion,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("genai: new client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = p.model
	}
	conn, err := client.Live.Connect(ctx, model, connectConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("genai: connect: %w", err)
	}

	s := &session{
		conn:      conn,
		msgs:      make(chan *live.ServerMessage, messageBuffer),
		done:      make(chan struct{}),
		inputMIME: live.AudioMIMEType(live.DefaultInputSampleRate),
	}
	if cfg.InputSampleRate > 0 {
		s.inputMIME = live.AudioMIMEType(cfg.InputSampleRate)
	}
	go s.receiveLoop()
	return s, nil
}

// connectConfig maps a live config onto the SDK's connect options.
func connectConfig(cfg live.Config) *sdk.LiveConnectConfig {
	cc := &sdk.LiveConnectConfig{
		ResponseModalities: []sdk.Modality{sdk.ModalityAudio},
	}
	if cfg.Voice != "" {
		cc.SpeechConfig = &sdk.SpeechConfig{
			VoiceConfig: &sdk.VoiceConfig{
				PrebuiltVoiceConfig: &sdk.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.Instructions != "" {
		cc.SystemInstruction = sdk.NewContentFromText(cfg.Instructions, sdk.RoleUser)
	}
	if cfg.InputTranscription {
		cc.InputAudioTranscription = &sdk.AudioTranscriptionConfig{}
	}
	if cfg.OutputTranscription {
		cc.OutputAudioTranscription = &sdk.AudioTranscriptionConfig{}
	}
	return cc
}

// translate converts an SDK server message into a live message.
func translate(msg *sdk.LiveServerMessage) *live.ServerMessage {
	out := &live.ServerMessage{}
	if msg == nil {
		return out
	}
	out.SetupComplete = msg.SetupComplete != nil
	sc := msg.ServerContent
	if sc == nil {
		return out
	}
	if sc.InputTranscription != nil {
		out.InputTranscription = sc.InputTranscription.Text
	}
	if sc.OutputTranscription != nil {
		out.OutputTranscription = sc.OutputTranscription.Text
	}
	out.TurnComplete = sc.TurnComplete
	out.Interrupted = sc.Interrupted
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p == nil || p.InlineData == nil || len(p.InlineData.Data) == 0 {
				continue
			}
			out.Audio = append(out.Audio, live.Blob{
				MIMEType: p.InlineData.MIMEType,
				Data:     base64.StdEncoding.EncodeToString(p.InlineData.Data),
			})
		}
	}
	return out
}

const sdkErrorPrefix = "received error in response: "

// remoteError recovers the server's error frame from the SDK's formatted
// receive error. It returns nil when err does not carry one.
func remoteError(err error) *live.Error {
	raw, ok := strings.CutPrefix(err.Error(), sdkErrorPrefix)
	if !ok {
		return nil
	}
	var frame struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if jsonErr := json.Unmarshal([]byte(raw), &frame); jsonErr != nil {
		return &live.Error{Message: raw}
	}
	return &live.Error{
		Code:    frame.Error.Code,
		Status:  frame.Error.Status,
		Message: frame.Error.Message,
	}
}

type session struct {
	conn      *sdk.Session
	msgs      chan *live.ServerMessage
	done      chan struct{}
	inputMIME string

	writeMu sync.Mutex

	mu     sync.Mutex
	errVal error
	closed bool
	ended  bool
}

func (s *session) receiveLoop() {
	defer close(s.msgs)
	defer func() {
		s.mu.Lock()
		s.ended = true
		s.mu.Unlock()
	}()

	for {
		msg, err := s.conn.Receive()
		if err != nil {
			s.finish(err)
			return
		}
		out := translate(msg)
		if out.Empty() {
			continue
		}
		select {
		case s.msgs <- out:
		case <-s.done:
			return
		}
	}
}

// finish records why the receive loop stopped.
func (s *session) finish(err error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()

	switch {
	case closed:
		return
	case websocket.IsCloseError(err, websocket.CloseNormalClosure):
		slog.Debug("genai: server closed session")
		return
	}
	if remote := remoteError(err); remote != nil {
		s.setErr(remote)
		_ = s.conn.Close()
		return
	}
	s.setErr(fmt.Errorf("genai: receive: %w", err))
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

// SendRealtimeInput decodes the blob and hands it to the SDK as audio input.
func (s *session) SendRealtimeInput(b live.Blob) error {
	s.mu.Lock()
	done := s.closed || s.ended
	s.mu.Unlock()
	if done {
		return live.ErrSessionClosed
	}

	data, err := b.Decode()
	if err != nil {
		return fmt.Errorf("genai: send: %w", err)
	}
	mimeType := b.MIMEType
	if mimeType == "" {
		mimeType = s.inputMIME
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	err = s.conn.SendRealtimeInput(sdk.LiveRealtimeInput{
		Audio: &sdk.Blob{Data: data, MIMEType: mimeType},
	})
	if err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return live.ErrSessionClosed
		}
		return fmt.Errorf("genai: send: %w", err)
	}
	return nil
}

func (s *session) Messages() <-chan *live.ServerMessage { return s.msgs }

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close closes the underlying websocket. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	close(s.done)

	if err := s.conn.Close(); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		slog.Debug("genai: close", "err", err)
	}
	return nil
}
