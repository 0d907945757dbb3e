package relay

import (
	"context"
	"fmt"
	"html"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

const syncRetryDelay = 5 * time.Second

var formattedPolicy = bluemonday.StrictPolicy()

// MatrixOptions configures the Matrix-backed channel.
type MatrixOptions struct {
	Homeserver  string
	UserID      string
	AccessToken string
	Password    string
	DeviceName  string
	RoomID      string
	OperatorID  string
}

// MatrixChannel relays through a single Matrix room using mautrix. It keeps
// the time each room was joined so replayed history can be dropped.
type MatrixChannel struct {
	opts MatrixOptions

	mu        sync.Mutex
	client    *mautrix.Client
	handle    *Handle
	handler   InboundHandler
	joined    map[string]time.Time
	now       func() time.Time
	ownsLogin bool
	stopSync  context.CancelFunc
	syncDone  chan struct{}
}

// NewMatrixChannel returns an unconnected channel.
func NewMatrixChannel(opts MatrixOptions) *MatrixChannel {
	return &MatrixChannel{opts: opts, joined: make(map[string]time.Time), now: time.Now}
}

// Connect logs in, joins the relay room and starts the sync loop.
func (c *MatrixChannel) Connect(ctx context.Context) (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle != nil {
		return *c.handle, nil
	}

	client, err := mautrix.NewClient(c.opts.Homeserver, id.UserID(c.opts.UserID), c.opts.AccessToken)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: create client: %w", ErrConnectionSetup, err)
	}

	ownsLogin := false
	if c.opts.AccessToken == "" {
		_, err := client.Login(ctx, &mautrix.ReqLogin{
			Type: mautrix.AuthTypePassword,
			Identifier: mautrix.UserIdentifier{
				Type: mautrix.IdentifierTypeUser,
				User: c.opts.UserID,
			},
			Password:                 c.opts.Password,
			InitialDeviceDisplayName: c.opts.DeviceName,
			StoreCredentials:         true,
		})
		if err != nil {
			return Handle{}, fmt.Errorf("%w: login: %w", ErrConnectionSetup, err)
		}
		ownsLogin = true
	} else if client.UserID == "" {
		who, err := client.Whoami(ctx)
		if err != nil {
			return Handle{}, fmt.Errorf("%w: whoami: %w", ErrConnectionSetup, err)
		}
		client.UserID = who.UserID
	}

	since := c.now()
	if _, err := client.JoinRoomByID(ctx, id.RoomID(c.opts.RoomID)); err != nil {
		return Handle{}, fmt.Errorf("%w: join %s: %w", ErrConnectionSetup, c.opts.RoomID, err)
	}
	c.joined[c.opts.RoomID] = since

	if syncer, ok := client.Syncer.(*mautrix.DefaultSyncer); ok {
		syncer.OnSync(client.DontProcessOldEvents)
		syncer.OnEventType(event.EventMessage, c.handleEvent)
	}

	syncCtx, cancel := context.WithCancel(context.Background())
	c.stopSync = cancel
	c.syncDone = make(chan struct{})
	go c.syncLoop(syncCtx, client, c.syncDone)

	c.client = client
	c.ownsLogin = ownsLogin
	c.handle = &Handle{UserID: client.UserID.String(), RoomID: c.opts.RoomID}
	log.Info().Str("user", c.handle.UserID).Str("room", c.opts.RoomID).Msg("[relay] matrix channel connected")
	return *c.handle, nil
}

func (c *MatrixChannel) syncLoop(ctx context.Context, client *mautrix.Client, done chan struct{}) {
	defer close(done)
	for {
		err := client.SyncWithContext(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Dur("retry", syncRetryDelay).Msg("[relay] sync stopped, retrying")
		select {
		case <-ctx.Done():
			return
		case <-time.After(syncRetryDelay):
		}
	}
}

func (c *MatrixChannel) handleEvent(_ context.Context, evt *event.Event) {
	if evt == nil {
		return
	}
	c.mu.Lock()
	handler := c.handler
	var self id.UserID
	if c.client != nil {
		self = c.client.UserID
	}
	since, member := c.joined[evt.RoomID.String()]
	c.mu.Unlock()

	if handler == nil {
		return
	}
	if !c.accepts(evt, self) {
		log.Debug().Str("sender", evt.Sender.String()).Str("room", evt.RoomID.String()).Msg("[relay] ignoring event from untrusted sender")
		return
	}
	// After a leave and rejoin the next sync replays what was said while we
	// were away. Those replies were meant for sessions that no longer exist.
	if !member || time.UnixMilli(evt.Timestamp).Before(since) {
		log.Debug().Str("room", evt.RoomID.String()).Msg("[relay] ignoring event from before join")
		return
	}

	content := evt.Content.AsMessage()
	if content == nil {
		return
	}
	switch content.MsgType {
	case event.MsgText, event.MsgNotice, event.MsgEmote:
	default:
		return
	}
	content.RemoveReplyFallback()
	if text := messageText(content); text != "" {
		handler(evt.Sender.String(), text)
	}
}

// messageText returns the plain body, or the HTML body with every tag
// removed when a client sent formatted content only.
func messageText(content *event.MessageEventContent) string {
	if content.Body != "" {
		return content.Body
	}
	if content.Format != event.FormatHTML || content.FormattedBody == "" {
		return ""
	}
	return html.UnescapeString(formattedPolicy.Sanitize(content.FormattedBody))
}

// accepts applies the trust boundary: the relay room is shared, only the
// operator identity is authoritative.
func (c *MatrixChannel) accepts(evt *event.Event, self id.UserID) bool {
	if evt.RoomID.String() != c.opts.RoomID {
		return false
	}
	if self != "" && evt.Sender == self {
		return false
	}
	return evt.Sender.String() == c.opts.OperatorID
}

func (c *MatrixChannel) current() *mautrix.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

// SendText posts text into roomID.
func (c *MatrixChannel) SendText(ctx context.Context, roomID, text string) error {
	client := c.current()
	if client == nil {
		return fmt.Errorf("%w: %w", ErrSend, ErrNotReady)
	}
	if _, err := client.SendText(ctx, id.RoomID(roomID), text); err != nil {
		return fmt.Errorf("%w: %w", ErrSend, err)
	}
	return nil
}

// OnInboundText installs the handler for operator replies.
func (c *MatrixChannel) OnInboundText(handler InboundHandler) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}

// Join joins roomID unless already a member.
func (c *MatrixChannel) Join(ctx context.Context, roomID string) error {
	c.mu.Lock()
	client := c.client
	_, already := c.joined[roomID]
	c.mu.Unlock()

	if client == nil {
		return ErrNotReady
	}
	if already {
		return nil
	}
	since := c.now()
	if _, err := client.JoinRoomByID(ctx, id.RoomID(roomID)); err != nil {
		return fmt.Errorf("join %s: %w", roomID, err)
	}

	c.mu.Lock()
	c.joined[roomID] = since
	c.mu.Unlock()
	return nil
}

// Leave leaves roomID. Leaving a room we are not in is a no-op.
func (c *MatrixChannel) Leave(ctx context.Context, roomID string) error {
	c.mu.Lock()
	client := c.client
	_, member := c.joined[roomID]
	delete(c.joined, roomID)
	c.mu.Unlock()

	if client == nil || !member {
		return nil
	}
	if _, err := client.LeaveRoom(ctx, id.RoomID(roomID)); err != nil {
		return fmt.Errorf("leave %s: %w", roomID, err)
	}
	return nil
}

// Disconnect stops syncing and, for password logins, invalidates the device.
func (c *MatrixChannel) Disconnect() {
	c.mu.Lock()
	client := c.client
	stop := c.stopSync
	done := c.syncDone
	ownsLogin := c.ownsLogin
	c.client = nil
	c.handle = nil
	c.stopSync = nil
	c.syncDone = nil
	c.joined = make(map[string]time.Time)
	c.mu.Unlock()

	if client == nil {
		return
	}
	client.StopSync()
	if stop != nil {
		stop()
	}
	if done != nil {
		<-done
	}
	if ownsLogin {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := client.Logout(ctx); err != nil {
			log.Debug().Err(err).Msg("[relay] logout failed")
		}
	}
	log.Info().Msg("[relay] matrix channel disconnected")
}
