// Package mock provides test doubles for the live package interfaces.
//
// Use Connector to verify Connect calls and hand out controlled sessions.
// Use Session to script server messages and inspect what the caller sent.
//
// Example:
//
//	sess := mock.NewSession()
//	c := &mock.Connector{Session: sess}
//	s, _ := c.Connect(ctx, cfg)
//	sess.Emit(&live.ServerMessage{TurnComplete: true})
//	sess.End(nil)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/aetheria/pkg/live"
)

// ConnectCall records a single invocation of Connector.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the Config passed to Connect.
	Cfg live.Config
}

// Connector is a mock implementation of live.Connector.
type Connector struct {
	mu sync.Mutex

	// Session is returned by Connect. If nil, Connect returns a new Session.
	Session *Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// Gate, if non-nil, makes Connect block until a value is received from
	// it or the context is cancelled. Closing Gate releases every call.
	Gate chan struct{}

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	// Sessions records every session handed out, in order.
	Sessions []*Session
}

// Ensure Connector implements live.Connector at compile time.
var _ live.Connector = (*Connector)(nil)

// Connect records the call and returns Session or ConnectErr.
func (c *Connector) Connect(ctx context.Context, cfg live.Config) (live.Session, error) {
	c.mu.Lock()
	c.ConnectCalls = append(c.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	gate := c.Gate
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ConnectErr != nil {
		return nil, c.ConnectErr
	}
	sess := c.Session
	if sess == nil {
		sess = NewSession()
	}
	c.Sessions = append(c.Sessions, sess)
	return sess, nil
}

// CallCount returns the number of Connect calls so far. Thread-safe.
func (c *Connector) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ConnectCalls)
}

// Last returns the most recently handed out session, or nil.
func (c *Connector) Last() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Sessions) == 0 {
		return nil
	}
	return c.Sessions[len(c.Sessions)-1]
}

// Session is a mock implementation of live.Session. Server messages are
// scripted with Emit; End closes the message channel as the remote side
// would.
type Session struct {
	mu sync.Mutex

	msgs    chan *live.ServerMessage
	ended   bool
	err     error
	sent    []live.Blob
	closes  int
	sendErr error
	onSend  func(live.Blob)
}

// Ensure Session implements live.Session at compile time.
var _ live.Session = (*Session)(nil)

// NewSession returns a session with a buffered message channel.
func NewSession() *Session {
	return &Session{msgs: make(chan *live.ServerMessage, 64)}
}

// Emit delivers msg to the consumer. It is a no-op once the session ended.
func (s *Session) Emit(msg *live.ServerMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.msgs <- msg
}

// End closes the message channel with err as the session's terminal error.
// A nil err simulates a clean remote close. Subsequent calls are no-ops.
func (s *Session) End(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.err = err
	close(s.msgs)
}

// SetSendErr makes every subsequent SendRealtimeInput return err.
func (s *Session) SetSendErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}

// OnSend registers fn to be called with every blob sent.
func (s *Session) OnSend(fn func(live.Blob)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSend = fn
}

// SendRealtimeInput records b.
func (s *Session) SendRealtimeInput(b live.Blob) error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return live.ErrSessionClosed
	}
	if s.sendErr != nil {
		err := s.sendErr
		s.mu.Unlock()
		return err
	}
	s.sent = append(s.sent, b)
	fn := s.onSend
	s.mu.Unlock()
	if fn != nil {
		fn(b)
	}
	return nil
}

// Messages returns the scripted message channel.
func (s *Session) Messages() <-chan *live.ServerMessage { return s.msgs }

// Err returns the error passed to End.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close records the call and ends the session cleanly if it is still open.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	s.End(nil)
	return nil
}

// Sent returns a copy of every blob sent so far.
func (s *Session) Sent() []live.Blob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]live.Blob(nil), s.sent...)
}

// CloseCount returns the number of Close calls.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// Ended reports whether the message channel has been closed.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}
