package message

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// HandshakeVersion is the protocol version announced in the handshake.
const HandshakeVersion = 1

// Validator is implemented by every typed argument struct.
type Validator interface {
	Validate() error
}

func invalid(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgs, fmt.Sprintf(format, a...))
}

// HandshakeArgs is the payload of the OpHandshake frame.
type HandshakeArgs struct {
	V        int    `json:"v"`
	ClientID string `json:"client_id"`
}

func (a HandshakeArgs) Validate() error {
	if a.ClientID == "" {
		return invalid("handshake: client id is required")
	}
	if a.V != HandshakeVersion {
		return invalid("handshake: unsupported version %d", a.V)
	}
	return nil
}

// Scope is an OAuth2 scope requested during authorization.
type Scope string

const (
	ScopeBot                  Scope = "bot"
	ScopeConnections          Scope = "connections"
	ScopeEmail                Scope = "email"
	ScopeIdentify             Scope = "identify"
	ScopeGuilds               Scope = "guilds"
	ScopeGuildsJoin           Scope = "guilds.join"
	ScopeGDMJoin              Scope = "gdm.join"
	ScopeMessagesRead         Scope = "messages.read"
	ScopeRPC                  Scope = "rpc"
	ScopeRPCAPI               Scope = "rpc.api"
	ScopeRPCNotificationsRead Scope = "rpc.notifications.read"
	ScopeRPCActivitiesWrite   Scope = "rpc.activities.write"
	ScopeRPCVoiceRead         Scope = "rpc.voice.read"
	ScopeRPCVoiceWrite        Scope = "rpc.voice.write"
	ScopeWebhookIncoming      Scope = "webhook.incoming"
)

// AuthorizeArgs asks the user to grant the application the given scopes.
type AuthorizeArgs struct {
	ClientID string  `json:"client_id"`
	Scopes   []Scope `json:"scopes"`
	RPCToken string  `json:"rpc_token,omitempty"`
	Username string  `json:"username,omitempty"`
}

func (a AuthorizeArgs) Validate() error {
	if a.ClientID == "" {
		return invalid("authorize: client id is required")
	}
	if len(a.Scopes) == 0 {
		return invalid("authorize: at least one scope is required")
	}
	for _, s := range a.Scopes {
		if s == "" {
			return invalid("authorize: empty scope")
		}
	}
	return nil
}

// AuthenticateArgs exchanges an OAuth2 access token for an RPC session.
type AuthenticateArgs struct {
	AccessToken string `json:"access_token"`
}

func (a AuthenticateArgs) Validate() error {
	if a.AccessToken == "" {
		return invalid("authenticate: access token is required")
	}
	return nil
}

// SubscribeArgs scopes an event subscription. Which id field is sent depends
// on the event: guild events take guild_id, channel events take channel_id.
type SubscribeArgs struct {
	GuildID   string `json:"guild_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
}

// Validate is a no-op; the peer decides which ids an event requires.
func (a SubscribeArgs) Validate() error { return nil }

// NewSubscribeArgs places id into the field the event expects.
// An empty id yields nil so no args object is sent.
func NewSubscribeArgs(evt Event, id string) *SubscribeArgs {
	if id == "" {
		return nil
	}
	switch evt {
	case EvtGuildStatus:
		return &SubscribeArgs{GuildID: id}
	default:
		return &SubscribeArgs{ChannelID: id}
	}
}

// ActivityType is the verb shown before an activity name.
type ActivityType int

const (
	ActivityPlaying   ActivityType = 0
	ActivityListening ActivityType = 2
	ActivityWatching  ActivityType = 3
	ActivityCompeting ActivityType = 5
)

// ParseActivityType maps a lowercase name to its ActivityType.
func ParseActivityType(s string) (ActivityType, error) {
	switch s {
	case "playing", "":
		return ActivityPlaying, nil
	case "listening":
		return ActivityListening, nil
	case "watching":
		return ActivityWatching, nil
	case "competing":
		return ActivityCompeting, nil
	}
	return 0, invalid("unknown activity type %q", s)
}

// Timestamps are Unix milliseconds.
type Timestamps struct {
	Start int64 `json:"start,omitempty"`
	End   int64 `json:"end,omitempty"`
}

// NewTimestamps converts start/end to Unix milliseconds; zero times are omitted.
// It returns nil when both are zero.
func NewTimestamps(start, end time.Time) *Timestamps {
	if start.IsZero() && end.IsZero() {
		return nil
	}
	ts := &Timestamps{}
	if !start.IsZero() {
		ts.Start = start.UnixMilli()
	}
	if !end.IsZero() {
		ts.End = end.UnixMilli()
	}
	return ts
}

type Assets struct {
	LargeImage string `json:"large_image,omitempty"`
	LargeText  string `json:"large_text,omitempty"`
	SmallImage string `json:"small_image,omitempty"`
	SmallText  string `json:"small_text,omitempty"`
}

func (a *Assets) empty() bool {
	return a == nil || *a == Assets{}
}

// Activity is the rich presence shown for the calling process.
type Activity struct {
	Details    string       `json:"details,omitempty"`
	State      string       `json:"state,omitempty"`
	Type       ActivityType `json:"type"`
	Timestamps *Timestamps  `json:"timestamps,omitempty"`
	Assets     *Assets      `json:"assets,omitempty"`
}

const maxActivityText = 128

func (a *Activity) Validate() error {
	switch a.Type {
	case ActivityPlaying, ActivityListening, ActivityWatching, ActivityCompeting:
	default:
		return invalid("activity: unsupported type %d", a.Type)
	}
	for name, v := range map[string]string{"details": a.Details, "state": a.State} {
		if utf8.RuneCountInString(v) > maxActivityText {
			return invalid("activity: %s longer than %d characters", name, maxActivityText)
		}
	}
	if a.Timestamps != nil && a.Timestamps.Start != 0 && a.Timestamps.End != 0 && a.Timestamps.End < a.Timestamps.Start {
		return invalid("activity: end timestamp before start")
	}
	if a.Assets != nil && a.Assets.empty() {
		return invalid("activity: assets set but empty")
	}
	return nil
}

// SetActivityArgs updates (Activity != nil) or clears (Activity == nil) the
// presence of process PID. Activity is sent as JSON null when clearing.
type SetActivityArgs struct {
	PID      int       `json:"pid"`
	Activity *Activity `json:"activity"`
}

func (a SetActivityArgs) Validate() error {
	if a.PID <= 0 {
		return invalid("set activity: pid must be positive, got %d", a.PID)
	}
	if a.Activity != nil {
		return a.Activity.Validate()
	}
	return nil
}

// User is the subset of user fields returned by READY and AUTHENTICATE.
type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator,omitempty"`
	GlobalName    string `json:"global_name,omitempty"`
	Avatar        string `json:"avatar,omitempty"`
}

// ReadyData is the data of the READY event that completes the handshake.
type ReadyData struct {
	V      int `json:"v"`
	Config struct {
		CDNHost     string `json:"cdn_host"`
		APIEndpoint string `json:"api_endpoint"`
		Environment string `json:"environment"`
	} `json:"config"`
	User User `json:"user"`
}

type AuthorizeResponse struct {
	Code string `json:"code"`
}

type Application struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Icon        string   `json:"icon,omitempty"`
	RPCOrigins  []string `json:"rpc_origins,omitempty"`
}

type AuthenticateResponse struct {
	AccessToken string      `json:"access_token,omitempty"`
	User        User        `json:"user"`
	Scopes      []Scope     `json:"scopes"`
	Expires     time.Time   `json:"expires"`
	Application Application `json:"application"`
}

// SubscribeResponse is returned by both SUBSCRIBE and UNSUBSCRIBE.
type SubscribeResponse struct {
	Evt Event `json:"evt"`
}

// ErrorData is the data of an ERROR event.
type ErrorData struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
