// Package transport owns the byte stream to the peer process.
//
// A Transport serializes frame writes from any number of goroutines and runs
// one background goroutine (recvLoop) that reads frames in arrival order:
//
//	goroutine-1 ──Send(FRAME)──┐
//	goroutine-2 ──Send(FRAME)──┼──→ single conn ──→ peer
//	recvLoop    ──Send(PONG)───┘
//
//	recvLoop: ←── FRAME → Handler.HandleFrame
//	          ←── PING  → answered with PONG
//	          ←── CLOSE → connection torn down, Handler.HandleClose
//
// The transport does not correlate replies; that is the dispatcher's job.
package transport

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"presence-rpc/logging"
	"presence-rpc/protocol"
	"presence-rpc/rpcerror"
)

// ErrClosed is the cause of transport errors after Close.
var ErrClosed = errors.New("transport: closed")

// closeWriteTimeout bounds the best-effort close frame written by Close.
const closeWriteTimeout = 250 * time.Millisecond

// Handler consumes what the receive loop reads.
type Handler interface {
	// HandleFrame runs on the receive goroutine. A frame already read when
	// Close is called may still be handled after Close returns.
	HandleFrame(payload []byte)
	// HandleClose is called exactly once when the transport stops, on the
	// goroutine that stopped it: the receive goroutine for read failures and
	// close frames, the caller for Close.
	HandleClose(err error)
}

// Transport manages a single duplex connection.
type Transport struct {
	conn    io.ReadWriteCloser
	handler Handler
	logger  *slog.Logger

	sending sync.Mutex // Write lock; a frame must never interleave with another

	closeOnce sync.Once
	done      chan struct{}
	err       error // terminal error, set before done is closed
}

// New wraps conn and starts the receive loop.
func New(conn io.ReadWriteCloser, handler Handler, logger *slog.Logger) *Transport {
	t := &Transport{
		conn:    conn,
		handler: handler,
		logger:  logging.NewComponentLogger(logger, "transport"),
		done:    make(chan struct{}),
	}
	go t.recvLoop()
	return t
}

// Send writes one frame. Failures are returned as *rpcerror.TransportError.
func (t *Transport) Send(op protocol.Opcode, payload []byte) error {
	select {
	case <-t.done:
		return &rpcerror.TransportError{Op: "write", Err: t.err}
	default:
	}

	t.sending.Lock()
	defer t.sending.Unlock()

	if err := protocol.Encode(t.conn, op, payload); err != nil {
		return &rpcerror.TransportError{Op: "write", Err: err}
	}
	return nil
}

// Done is closed once the transport has stopped.
func (t *Transport) Done() <-chan struct{} { return t.done }

// Err returns the terminal error, or nil while the transport is running.
func (t *Transport) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Close sends a best-effort close frame and tears the connection down.
// Pending readers observe a transport error wrapping ErrClosed.
func (t *Transport) Close() error {
	select {
	case <-t.done:
		return nil
	default:
	}

	// Skip the close frame if a writer is stuck; closing the conn unblocks it.
	if t.sending.TryLock() {
		if d, ok := t.conn.(interface{ SetWriteDeadline(time.Time) error }); ok {
			_ = d.SetWriteDeadline(time.Now().Add(closeWriteTimeout))
		}
		payload, _ := json.Marshal(rpcerror.CloseError{Code: 1000, Message: "client closing"})
		if err := protocol.Encode(t.conn, protocol.OpClose, payload); err != nil {
			t.logger.Debug("close frame not sent", slog.Any("error", err))
		}
		t.sending.Unlock()
	}

	t.shutdown(&rpcerror.TransportError{Op: "close", Err: ErrClosed})
	return nil
}

// recvLoop runs in a dedicated goroutine and is the only reader of conn.
// The stream must be read sequentially to keep frame boundaries intact.
func (t *Transport) recvLoop() {
	for {
		frame, err := protocol.Decode(t.conn)
		if err != nil {
			t.shutdown(t.readError(err))
			return
		}

		switch frame.Opcode {
		case protocol.OpFrame:
			t.handler.HandleFrame(frame.Payload)
		case protocol.OpPing:
			if err := t.Send(protocol.OpPong, frame.Payload); err != nil {
				t.logger.Warn("pong failed", slog.Any("error", err))
			}
		case protocol.OpPong:
			t.logger.Debug("pong received")
		case protocol.OpClose:
			t.shutdown(&rpcerror.TransportError{Op: "read", Err: parseClose(frame.Payload)})
			return
		default:
			t.logger.Warn("unexpected frame from peer",
				slog.String(logging.FieldOpcode, frame.Opcode.String()))
		}
	}
}

func (t *Transport) readError(err error) error {
	if errors.Is(err, rpcerror.ErrMalformed) {
		return err
	}
	select {
	case <-t.done:
		// Close already recorded the reason.
		return t.err
	default:
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return &rpcerror.TransportError{Op: "read", Err: ErrClosed}
	}
	return &rpcerror.TransportError{Op: "read", Err: err}
}

func parseClose(payload []byte) error {
	cerr := &rpcerror.CloseError{}
	if err := json.Unmarshal(payload, cerr); err != nil {
		cerr.Message = string(payload)
	}
	return cerr
}

// shutdown records err, closes the connection and notifies the handler.
// Only the first call has an effect.
func (t *Transport) shutdown(err error) {
	t.closeOnce.Do(func() {
		t.err = err
		close(t.done)
		if cerr := t.conn.Close(); cerr != nil {
			t.logger.Debug("conn close", slog.Any("error", cerr))
		}
		t.logger.Debug("transport stopped", slog.Any("error", err))
		t.handler.HandleClose(err)
	})
}
