package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"presence-rpc/message"
	"presence-rpc/protocol"
	"presence-rpc/rpcerror"
)

// startConn serves one side of a pipe and returns the client side.
func startConn(t *testing.T, svr *Server) net.Conn {
	t.Helper()
	client, peer := net.Pipe()
	go svr.ServeConn(peer)
	t.Cleanup(func() { client.Close() })
	client.SetDeadline(time.Now().Add(5 * time.Second))
	return client
}

func send(t *testing.T, conn net.Conn, op protocol.Opcode, v any) {
	t.Helper()
	payload, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if err := protocol.Encode(conn, op, payload); err != nil {
		t.Fatalf("encode: %v", err)
	}
}

func recv(t *testing.T, conn net.Conn) (protocol.Frame, message.Notification) {
	t.Helper()
	frame, err := protocol.Decode(conn)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.Opcode != protocol.OpFrame {
		return frame, message.Notification{}
	}
	n, err := message.ParseNotification(frame.Payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return frame, n
}

func handshake(t *testing.T, conn net.Conn) message.Notification {
	t.Helper()
	send(t, conn, protocol.OpHandshake, message.HandshakeArgs{V: 1, ClientID: "123"})
	_, n := recv(t, conn)
	return n
}

func TestHandshakeReady(t *testing.T) {
	svr := NewServer(WithClientID("123"))
	conn := startConn(t, svr)

	n := handshake(t, conn)
	if n.Cmd != message.CmdDispatch || n.Evt != message.EvtReady || n.Nonce != "" {
		t.Fatalf("expect READY event, got %+v", n)
	}
	var ready message.ReadyData
	if err := json.Unmarshal(n.Data, &ready); err != nil || ready.V != 1 || ready.User.Username != "tester" {
		t.Fatalf("unexpected ready data %s (%v)", n.Data, err)
	}
}

func TestHandshakeRejectsClientID(t *testing.T) {
	svr := NewServer(WithClientID("123"))
	conn := startConn(t, svr)

	send(t, conn, protocol.OpHandshake, message.HandshakeArgs{V: 1, ClientID: "999"})
	frame, _ := recv(t, conn)
	if frame.Opcode != protocol.OpClose {
		t.Fatalf("expect CLOSE, got %s", frame.Opcode)
	}
	var cerr rpcerror.CloseError
	if err := json.Unmarshal(frame.Payload, &cerr); err != nil || cerr.Code != rpcerror.CodeInvalidClientID {
		t.Fatalf("unexpected close payload %s", frame.Payload)
	}
}

func TestUnknownCommand(t *testing.T) {
	conn := startConn(t, NewServer())
	handshake(t, conn)

	send(t, conn, protocol.OpFrame, message.Envelope{Cmd: "NOPE", Nonce: "n-1"})
	_, n := recv(t, conn)
	if !n.IsError || n.Nonce != "n-1" {
		t.Fatalf("expect error reply, got %+v", n)
	}
	err := rpcerror.Translate(n.Payload)
	var perr *rpcerror.ProtocolError
	if !errors.As(err, &perr) || perr.Code != rpcerror.CodeInvalidCommand {
		t.Fatalf("expect invalid command, got %v", err)
	}
}

func TestCustomHandlerError(t *testing.T) {
	svr := NewServer()
	svr.Handle(message.CmdAuthenticate, func(ctx context.Context, req *Request) (any, error) {
		return nil, errors.New("boom")
	})
	conn := startConn(t, svr)
	handshake(t, conn)

	send(t, conn, protocol.OpFrame, message.Envelope{Cmd: message.CmdAuthenticate, Nonce: "n-2", Args: message.AuthenticateArgs{AccessToken: "t"}})
	_, n := recv(t, conn)
	var perr *rpcerror.ProtocolError
	if err := rpcerror.Translate(n.Payload); !errors.As(err, &perr) || perr.Code != rpcerror.CodeUnknownError || perr.Message != "boom" {
		t.Fatalf("expect unknown error, got %v", err)
	}
}

func TestSubscribeAndDispatch(t *testing.T) {
	svr := NewServer()
	conn := startConn(t, svr)
	handshake(t, conn)

	send(t, conn, protocol.OpFrame, message.Envelope{Cmd: message.CmdSubscribe, Nonce: "s-1", Evt: message.EvtActivityJoin})
	_, n := recv(t, conn)
	var resp message.SubscribeResponse
	if err := json.Unmarshal(n.Data, &resp); err != nil || resp.Evt != message.EvtActivityJoin {
		t.Fatalf("unexpected subscribe reply %s", n.Payload)
	}

	if got := svr.Dispatch(message.EvtMessageCreate, nil); got != 0 {
		t.Fatalf("unsubscribed event reached %d connections", got)
	}

	done := make(chan message.Notification, 1)
	go func() {
		frame, err := protocol.Decode(conn)
		if err != nil {
			close(done)
			return
		}
		n, _ := message.ParseNotification(frame.Payload)
		done <- n
	}()
	if got := svr.Dispatch(message.EvtActivityJoin, map[string]string{"secret": "s"}); got != 1 {
		t.Fatalf("expect one recipient, got %d", got)
	}
	ev := <-done
	if ev.Cmd != message.CmdDispatch || ev.Evt != message.EvtActivityJoin || ev.Nonce != "" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestSetActivityStored(t *testing.T) {
	svr := NewServer()
	conn := startConn(t, svr)
	handshake(t, conn)

	act := &message.Activity{Details: "Editing", Type: message.ActivityPlaying}
	send(t, conn, protocol.OpFrame, message.Envelope{Cmd: message.CmdSetActivity, Nonce: "a-1", Args: message.SetActivityArgs{PID: 42, Activity: act}})
	if _, n := recv(t, conn); n.IsError {
		t.Fatalf("unexpected error %s", n.Payload)
	}
	if got := svr.Activity(42); got == nil || got.Details != "Editing" {
		t.Fatalf("activity not stored: %+v", got)
	}

	send(t, conn, protocol.OpFrame, message.Envelope{Cmd: message.CmdSetActivity, Nonce: "a-2", Args: message.SetActivityArgs{PID: 42}})
	_, n := recv(t, conn)
	if string(n.Data) != "null" {
		t.Fatalf("expect null data after clear, got %s", n.Data)
	}
	if svr.Activity(42) != nil {
		t.Fatalf("activity not cleared")
	}
}

func TestPingPong(t *testing.T) {
	conn := startConn(t, NewServer())
	handshake(t, conn)

	if err := protocol.Encode(conn, protocol.OpPing, []byte(`"hi"`)); err != nil {
		t.Fatal(err)
	}
	frame, _ := recv(t, conn)
	if frame.Opcode != protocol.OpPong || string(frame.Payload) != `"hi"` {
		t.Fatalf("expect PONG echo, got %s %s", frame.Opcode, frame.Payload)
	}
}

func TestServeAndShutdown(t *testing.T) {
	svr := NewServer()
	sock := filepath.Join(t.TempDir(), "discord-ipc-0")

	errCh := make(chan error, 1)
	go func() { errCh <- svr.Serve("unix", sock) }()

	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		if conn, err = net.Dial("unix", sock); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	handshake(t, conn)

	if err := svr.Shutdown(time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("serve returned %v", err)
	}
	if _, err := protocol.Decode(conn); err == nil {
		t.Fatalf("expect connection closed after shutdown")
	}
}

func TestNoRequestsAfterShutdown(t *testing.T) {
	svr := NewServer()
	if !svr.beginRequest() {
		t.Fatal("expect request accepted before shutdown")
	}
	svr.wg.Done()

	if err := svr.Shutdown(time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if svr.beginRequest() {
		t.Fatal("request accepted after shutdown")
	}
}

// Requests racing with Shutdown are either finished or refused; Shutdown
// never waits on one it did not see.
func TestShutdownWithRequestsInFlight(t *testing.T) {
	svr := NewServer()
	conn := startConn(t, svr)
	handshake(t, conn)

	go func() {
		for i := 0; ; i++ {
			env := message.Envelope{Cmd: message.CmdSubscribe, Nonce: fmt.Sprintf("s-%d", i), Evt: message.EvtGuildStatus}
			payload, _ := json.Marshal(env)
			if protocol.Encode(conn, protocol.OpFrame, payload) != nil {
				return
			}
		}
	}()
	go func() {
		for {
			if _, err := protocol.Decode(conn); err != nil {
				return
			}
		}
	}()

	time.Sleep(20 * time.Millisecond)
	if err := svr.Shutdown(time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
