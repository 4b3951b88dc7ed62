package message

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"presence-rpc/rpcerror"
)

func TestParseNotificationReply(t *testing.T) {
	payload := []byte(`{"cmd":"SUBSCRIBE","evt":null,"nonce":"abc","data":{"evt":"GUILD_STATUS"}}`)

	n, err := ParseNotification(payload)
	if err != nil {
		t.Fatalf("ParseNotification failed: %v", err)
	}
	if n.Nonce != "abc" || n.Cmd != CmdSubscribe || n.IsError {
		t.Fatalf("unexpected notification: %+v", n)
	}

	var resp SubscribeResponse
	if err := json.Unmarshal(n.Data, &resp); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if resp.Evt != EvtGuildStatus {
		t.Fatalf("expect GUILD_STATUS, got %s", resp.Evt)
	}
	if string(n.Payload) != string(payload) {
		t.Fatalf("raw payload not preserved")
	}
}

func TestParseNotificationEvent(t *testing.T) {
	n, err := ParseNotification([]byte(`{"cmd":"DISPATCH","evt":"READY","nonce":null,"data":{"v":1}}`))
	if err != nil {
		t.Fatalf("ParseNotification failed: %v", err)
	}
	if n.Nonce != "" {
		t.Fatalf("expect empty nonce for event, got %q", n.Nonce)
	}
	if n.Evt != EvtReady || n.Cmd != CmdDispatch {
		t.Fatalf("unexpected notification: %+v", n)
	}
}

func TestParseNotificationErrorFlag(t *testing.T) {
	n, err := ParseNotification([]byte(`{"cmd":"AUTHENTICATE","evt":"ERROR","nonce":"x","data":{"code":4009,"message":"Invalid token"}}`))
	if err != nil {
		t.Fatalf("ParseNotification failed: %v", err)
	}
	if !n.IsError {
		t.Fatalf("expect error flag")
	}
}

func TestParseNotificationMalformed(t *testing.T) {
	for _, payload := range []string{``, `[1,2]`, `{"cmd":`} {
		if _, err := ParseNotification([]byte(payload)); !errors.Is(err, rpcerror.ErrMalformed) {
			t.Errorf("payload %q: expect malformed, got %v", payload, err)
		}
	}
}

func TestPeekNonce(t *testing.T) {
	cases := map[string]string{
		`{"cmd":"AUTHENTICATE","evt":7,"nonce":"n-1","data":{}}`: "n-1",
		`{"evt":7}`:    "",
		`{"nonce":12}`: "",
		`{"cmd":`:      "",
	}
	for payload, want := range cases {
		if got := PeekNonce([]byte(payload)); got != want {
			t.Errorf("payload %s: expect %q, got %q", payload, want, got)
		}
	}
}

func TestEnvelopeWireShape(t *testing.T) {
	env := &Envelope{
		Cmd:   CmdSubscribe,
		Nonce: "n-1",
		Evt:   EvtGuildStatus,
		Args:  NewSubscribeArgs(EvtGuildStatus, "42"),
	}

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"cmd":"SUBSCRIBE","nonce":"n-1","evt":"GUILD_STATUS","args":{"guild_id":"42"}}`
	if string(data) != want {
		t.Fatalf("got  %s\nwant %s", data, want)
	}
}

func TestClearActivitySendsNull(t *testing.T) {
	data, err := json.Marshal(SetActivityArgs{PID: 7})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"pid":7,"activity":null}` {
		t.Fatalf("unexpected clear payload %s", data)
	}
}

func TestNewSubscribeArgs(t *testing.T) {
	if NewSubscribeArgs(EvtMessageCreate, "") != nil {
		t.Errorf("expect nil args without id")
	}
	if a := NewSubscribeArgs(EvtMessageCreate, "c1"); a.ChannelID != "c1" || a.GuildID != "" {
		t.Errorf("expect channel id, got %+v", a)
	}
	if a := NewSubscribeArgs(EvtGuildStatus, "g1"); a.GuildID != "g1" || a.ChannelID != "" {
		t.Errorf("expect guild id, got %+v", a)
	}
}

func TestValidate(t *testing.T) {
	start := time.Unix(1700000000, 0)
	cases := []struct {
		name string
		v    Validator
		ok   bool
	}{
		{"handshake ok", HandshakeArgs{V: 1, ClientID: "123"}, true},
		{"handshake no client", HandshakeArgs{V: 1}, false},
		{"handshake bad version", HandshakeArgs{V: 2, ClientID: "123"}, false},
		{"authorize ok", AuthorizeArgs{ClientID: "1", Scopes: []Scope{ScopeRPC}}, true},
		{"authorize no scopes", AuthorizeArgs{ClientID: "1"}, false},
		{"authorize empty scope", AuthorizeArgs{ClientID: "1", Scopes: []Scope{""}}, false},
		{"authenticate ok", AuthenticateArgs{AccessToken: "t"}, true},
		{"authenticate empty", AuthenticateArgs{}, false},
		{"clear ok", SetActivityArgs{PID: 1}, true},
		{"no pid", SetActivityArgs{Activity: &Activity{}}, false},
		{"activity ok", SetActivityArgs{PID: 1, Activity: &Activity{
			Details:    "Editing",
			Type:       ActivityListening,
			Timestamps: NewTimestamps(start, start.Add(time.Minute)),
			Assets:     &Assets{LargeImage: "logo"},
		}}, true},
		{"bad type", SetActivityArgs{PID: 1, Activity: &Activity{Type: 1}}, false},
		{"long state", SetActivityArgs{PID: 1, Activity: &Activity{State: strings.Repeat("a", 129)}}, false},
		{"end before start", SetActivityArgs{PID: 1, Activity: &Activity{Timestamps: NewTimestamps(start, start.Add(-time.Second))}}, false},
		{"empty assets", SetActivityArgs{PID: 1, Activity: &Activity{Assets: &Assets{}}}, false},
	}
	for _, tc := range cases {
		err := tc.v.Validate()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok {
			if err == nil {
				t.Errorf("%s: expect error", tc.name)
			} else if !errors.Is(err, ErrInvalidArgs) {
				t.Errorf("%s: expect ErrInvalidArgs, got %v", tc.name, err)
			}
		}
	}
}

func TestNewTimestamps(t *testing.T) {
	if NewTimestamps(time.Time{}, time.Time{}) != nil {
		t.Fatalf("expect nil for zero times")
	}
	start := time.UnixMilli(1700000000123)
	ts := NewTimestamps(start, time.Time{})
	if ts.Start != 1700000000123 || ts.End != 0 {
		t.Fatalf("unexpected timestamps %+v", ts)
	}
}

func TestParseActivityType(t *testing.T) {
	if at, err := ParseActivityType("listening"); err != nil || at != ActivityListening {
		t.Fatalf("expect listening, got %d %v", at, err)
	}
	if _, err := ParseActivityType("dancing"); !errors.Is(err, ErrInvalidArgs) {
		t.Fatalf("expect ErrInvalidArgs, got %v", err)
	}
}
