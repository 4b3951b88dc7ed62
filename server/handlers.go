package server

import (
	"context"
	"time"

	"github.com/google/uuid"

	"presence-rpc/message"
	"presence-rpc/rpcerror"
)

// installDefaults registers the commands a freshly started peer answers.
// Callers override any of them with Handle.
func (s *Server) installDefaults() {
	s.handlers[message.CmdSubscribe] = s.handleSubscribe(true)
	s.handlers[message.CmdUnsubscribe] = s.handleSubscribe(false)
	s.handlers[message.CmdSetActivity] = s.handleSetActivity
	s.handlers[message.CmdAuthorize] = handleAuthorize
	s.handlers[message.CmdAuthenticate] = s.handleAuthenticate
}

func (s *Server) handleSubscribe(on bool) HandlerFunc {
	return func(ctx context.Context, req *Request) (any, error) {
		if req.Evt == "" {
			return nil, &rpcerror.ProtocolError{Code: rpcerror.CodeInvalidEvent, Message: "Invalid event"}
		}
		req.conn.subscribe(req.Evt, on)
		return message.SubscribeResponse{Evt: req.Evt}, nil
	}
}

func (s *Server) handleSetActivity(ctx context.Context, req *Request) (any, error) {
	var args message.SetActivityArgs
	if err := req.Bind(&args); err != nil {
		return nil, err
	}
	if err := args.Validate(); err != nil {
		return nil, &rpcerror.ProtocolError{Code: rpcerror.CodeInvalidPayload, Message: err.Error()}
	}

	s.mu.Lock()
	if args.Activity == nil {
		delete(s.activity, args.PID)
	} else {
		s.activity[args.PID] = args.Activity
	}
	s.mu.Unlock()

	// The peer echoes the activity back, or null when it was cleared.
	return args.Activity, nil
}

func handleAuthorize(ctx context.Context, req *Request) (any, error) {
	var args message.AuthorizeArgs
	if err := req.Bind(&args); err != nil {
		return nil, err
	}
	if err := args.Validate(); err != nil {
		return nil, &rpcerror.ProtocolError{Code: rpcerror.CodeInvalidPayload, Message: err.Error()}
	}
	return message.AuthorizeResponse{Code: uuid.NewString()}, nil
}

func (s *Server) handleAuthenticate(ctx context.Context, req *Request) (any, error) {
	var args message.AuthenticateArgs
	if err := req.Bind(&args); err != nil {
		return nil, err
	}
	if args.AccessToken == "" {
		return nil, &rpcerror.ProtocolError{Code: rpcerror.CodeInvalidToken, Message: "Invalid token"}
	}
	return message.AuthenticateResponse{
		AccessToken: args.AccessToken,
		User:        s.ready.User,
		Scopes:      []message.Scope{message.ScopeRPC, message.ScopeIdentify},
		Expires:     time.Now().Add(7 * 24 * time.Hour).UTC(),
		Application: message.Application{ID: s.clientID, Name: "presence-rpc"},
	}, nil
}
