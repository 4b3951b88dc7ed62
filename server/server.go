// Package server implements the peer side of the IPC protocol in-process.
//
// It stands in for the real peer application in tests and local tooling:
// it performs the handshake, answers commands through registered handlers,
// tracks subscriptions and pushes events to subscribed connections.
//
// Connection processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → HANDSHAKE: validate, reply DISPATCH/READY
//	  → FRAME:     go handleRequest (parallel processing) → handler → reply
//	  → PING:      PONG
//	  → CLOSE:     drop connection
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"presence-rpc/codec"
	"presence-rpc/logging"
	"presence-rpc/message"
	"presence-rpc/protocol"
	"presence-rpc/rpcerror"
)

// ErrNoReply makes a handler swallow the request, as a stuck peer would.
var ErrNoReply = errors.New("server: no reply")

// Request is a command as received from a client.
type Request struct {
	Cmd   message.Command `json:"cmd"`
	Nonce string          `json:"nonce"`
	Evt   message.Event   `json:"evt"`
	Args  json.RawMessage `json:"args"`

	conn *peerConn
}

// Bind decodes the request args into v.
func (r *Request) Bind(v any) error {
	if len(r.Args) == 0 {
		return &rpcerror.ProtocolError{Code: rpcerror.CodeInvalidPayload, Message: "missing args"}
	}
	if err := json.Unmarshal(r.Args, v); err != nil {
		return &rpcerror.ProtocolError{Code: rpcerror.CodeInvalidPayload, Message: err.Error()}
	}
	return nil
}

// HandlerFunc answers one command. The returned value becomes the reply
// "data"; a *rpcerror.ProtocolError becomes an ERROR reply with its code.
type HandlerFunc func(ctx context.Context, req *Request) (any, error)

// Option configures a Server.
type Option func(*Server)

// WithClientID rejects handshakes announcing any other client id.
func WithClientID(id string) Option {
	return func(s *Server) { s.clientID = id }
}

// WithReady sets the data sent in the READY event.
func WithReady(ready message.ReadyData) Option {
	return func(s *Server) { s.ready = ready }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logging.NewComponentLogger(logger, "server") }
}

// Server is the in-process peer.
type Server struct {
	clientID string
	ready    message.ReadyData
	codec    codec.Codec
	logger   *slog.Logger

	mu       sync.RWMutex
	handlers map[message.Command]HandlerFunc
	conns    map[*peerConn]struct{}
	activity map[int]*message.Activity // last activity per pid

	listener net.Listener
	wg       sync.WaitGroup // Tracks in-flight requests for graceful shutdown
	shutdown atomic.Bool
}

type peerConn struct {
	conn    net.Conn
	writeMu sync.Mutex // Per-connection write lock, shared by all requests on this conn

	mu   sync.Mutex
	subs map[message.Event]bool
}

// NewServer creates a peer with the default command handlers installed.
func NewServer(opts ...Option) *Server {
	s := &Server{
		codec:    codec.GetCodec(codec.CodecTypeJSON),
		logger:   logging.NewNop(),
		handlers: make(map[message.Command]HandlerFunc),
		conns:    make(map[*peerConn]struct{}),
		activity: make(map[int]*message.Activity),
	}
	s.ready.V = message.HandshakeVersion
	s.ready.Config.Environment = "test"
	s.ready.User = message.User{ID: "1", Username: "tester"}
	for _, opt := range opts {
		opt(s)
	}
	s.installDefaults()
	return s
}

// Handle registers (or replaces) the handler for cmd.
func (s *Server) Handle(cmd message.Command, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[cmd] = h
}

// Serve listens on the given address and enters the Accept loop.
// It returns nil after Shutdown.
func (s *Server) Serve(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return s.ServeListener(listener)
}

// ServeListener runs the Accept loop on an existing listener.
func (s *Server) ServeListener(listener net.Listener) error {
	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		listener.Close()
		return nil
	}
	s.listener = listener
	s.mu.Unlock()

	for {
		conn, err := listener.Accept()
		if err != nil {
			// Shutdown closes the listener; that Accept error is expected.
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		go s.ServeConn(conn)
	}
}

// ServeConn speaks the protocol on conn until it closes.
func (s *Server) ServeConn(conn net.Conn) {
	pc := &peerConn{conn: conn, subs: make(map[message.Event]bool)}
	s.mu.Lock()
	s.conns[pc] = struct{}{}
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.conns, pc)
		s.mu.Unlock()
		conn.Close()
	}()

	if !s.handshake(pc) {
		return
	}

	for {
		frame, err := protocol.Decode(conn)
		if err != nil {
			return // Connection closed or protocol error
		}
		switch frame.Opcode {
		case protocol.OpFrame:
			// Dispatch to a new goroutine so a slow handler never blocks the
			// requests behind it on the same connection.
			if !s.beginRequest() {
				return
			}
			go s.handleRequest(ctx, pc, frame.Payload)
		case protocol.OpPing:
			s.write(pc, protocol.OpPong, frame.Payload)
		case protocol.OpPong:
		case protocol.OpClose:
			return
		default:
			s.closeWith(pc, rpcerror.CodeInvalidPayload, "unexpected "+frame.Opcode.String())
			return
		}
	}
}

func (s *Server) handshake(pc *peerConn) bool {
	frame, err := protocol.Decode(pc.conn)
	if err != nil {
		return false
	}
	if frame.Opcode != protocol.OpHandshake {
		s.closeWith(pc, rpcerror.CodeInvalidPayload, "expected handshake")
		return false
	}
	var args message.HandshakeArgs
	if err := s.codec.Decode(frame.Payload, &args); err != nil {
		s.closeWith(pc, rpcerror.CodeInvalidPayload, "invalid handshake payload")
		return false
	}
	if args.V != message.HandshakeVersion {
		s.closeWith(pc, rpcerror.CodeInvalidPayload, fmt.Sprintf("Invalid Version: %d", args.V))
		return false
	}
	if args.ClientID == "" || (s.clientID != "" && args.ClientID != s.clientID) {
		s.closeWith(pc, rpcerror.CodeInvalidClientID, "Invalid Client ID")
		return false
	}

	s.logger.Debug("handshake accepted", slog.String("client_id", args.ClientID))
	return s.writeJSON(pc, protocol.OpFrame, reply{Cmd: message.CmdDispatch, Evt: message.EvtReady, Data: s.ready}) == nil
}

// beginRequest counts one in-flight request. It fails once Shutdown has
// started, so Add never races with the Wait in Shutdown.
func (s *Server) beginRequest() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown.Load() {
		return false
	}
	s.wg.Add(1)
	return true
}

// handleRequest decodes one command, runs its handler and writes the reply.
func (s *Server) handleRequest(ctx context.Context, pc *peerConn, payload []byte) {
	defer s.wg.Done()

	req := &Request{conn: pc}
	if err := s.codec.Decode(payload, req); err != nil {
		s.writeError(pc, req, &rpcerror.ProtocolError{Code: rpcerror.CodeInvalidPayload, Message: "Payload is not valid JSON"})
		return
	}

	s.mu.RLock()
	h, ok := s.handlers[req.Cmd]
	s.mu.RUnlock()
	if !ok {
		s.writeError(pc, req, &rpcerror.ProtocolError{Code: rpcerror.CodeInvalidCommand, Message: "Invalid command: " + string(req.Cmd)})
		return
	}

	data, err := h(ctx, req)
	switch {
	case errors.Is(err, ErrNoReply):
		return
	case err != nil:
		var perr *rpcerror.ProtocolError
		if !errors.As(err, &perr) {
			perr = &rpcerror.ProtocolError{Code: rpcerror.CodeUnknownError, Message: err.Error()}
		}
		s.writeError(pc, req, perr)
	default:
		s.writeJSON(pc, protocol.OpFrame, reply{Cmd: req.Cmd, Nonce: req.Nonce, Data: data})
	}
}

// Dispatch pushes an event to every connection subscribed to evt and
// reports how many received it.
func (s *Server) Dispatch(evt message.Event, data any) int {
	s.mu.RLock()
	targets := make([]*peerConn, 0, len(s.conns))
	for pc := range s.conns {
		if pc.subscribed(evt) {
			targets = append(targets, pc)
		}
	}
	s.mu.RUnlock()

	sent := 0
	for _, pc := range targets {
		if s.writeJSON(pc, protocol.OpFrame, reply{Cmd: message.CmdDispatch, Evt: evt, Data: data}) == nil {
			sent++
		}
	}
	return sent
}

// Activity returns the last activity set by pid, or nil.
func (s *Server) Activity(pid int) *message.Activity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activity[pid]
}

// Shutdown stops accepting, closes every connection and waits for
// in-flight requests (with timeout).
func (s *Server) Shutdown(timeout time.Duration) error {
	// Set the flag before closing the listener so Serve returns nil.
	s.mu.Lock()
	s.shutdown.Store(true)
	if s.listener != nil {
		s.listener.Close()
	}
	for pc := range s.conns {
		pc.conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for ongoing requests to finish")
	}
}

// reply is the wire shape of everything the peer sends in an OpFrame.
// Nonce and evt are explicit nulls when absent.
type reply struct {
	Cmd   message.Command `json:"cmd"`
	Evt   message.Event   `json:"-"`
	Nonce string          `json:"-"`
	Data  any             `json:"data"`
}

func (r reply) MarshalJSON() ([]byte, error) {
	type wire struct {
		Cmd   message.Command `json:"cmd"`
		Evt   *message.Event  `json:"evt"`
		Nonce *string         `json:"nonce"`
		Data  any             `json:"data"`
	}
	w := wire{Cmd: r.Cmd, Data: r.Data}
	if r.Evt != "" {
		w.Evt = &r.Evt
	}
	if r.Nonce != "" {
		w.Nonce = &r.Nonce
	}
	return json.Marshal(w)
}

func (s *Server) writeError(pc *peerConn, req *Request, perr *rpcerror.ProtocolError) {
	s.writeJSON(pc, protocol.OpFrame, reply{
		Cmd:   req.Cmd,
		Evt:   message.EvtError,
		Nonce: req.Nonce,
		Data:  message.ErrorData{Code: perr.Code, Message: perr.Message},
	})
}

func (s *Server) closeWith(pc *peerConn, code int, msg string) {
	s.writeJSON(pc, protocol.OpClose, rpcerror.CloseError{Code: code, Message: msg})
}

func (s *Server) writeJSON(pc *peerConn, op protocol.Opcode, v any) error {
	payload, err := s.codec.Encode(v)
	if err != nil {
		s.logger.Warn("failed to encode reply", slog.Any("error", err))
		return err
	}
	return s.write(pc, op, payload)
}

func (s *Server) write(pc *peerConn, op protocol.Opcode, payload []byte) error {
	pc.writeMu.Lock()
	defer pc.writeMu.Unlock()
	if err := protocol.Encode(pc.conn, op, payload); err != nil {
		s.logger.Debug("failed to write frame",
			slog.String(logging.FieldOpcode, op.String()),
			slog.Any("error", err))
		return err
	}
	return nil
}

func (pc *peerConn) subscribe(evt message.Event, on bool) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if on {
		pc.subs[evt] = true
	} else {
		delete(pc.subs, evt)
	}
}

func (pc *peerConn) subscribed(evt message.Event) bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.subs[evt]
}
