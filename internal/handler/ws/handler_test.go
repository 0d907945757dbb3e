package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/safe-connect/backend/internal/model/chat"
	"github.com/zhouzirui/safe-connect/backend/internal/service/bridge"
	"github.com/zhouzirui/safe-connect/backend/internal/service/erasure"
	"github.com/zhouzirui/safe-connect/backend/internal/service/relay"
	"github.com/zhouzirui/safe-connect/backend/internal/service/session"
)

const room = "!room:example.org"

type recordingChannel struct {
	sent chan string
}

func (c *recordingChannel) Connect(context.Context) (relay.Handle, error) {
	return relay.Handle{UserID: "@relay:example.org", RoomID: room}, nil
}

func (c *recordingChannel) SendText(_ context.Context, _, text string) error {
	c.sent <- text
	return nil
}

func (c *recordingChannel) OnInboundText(relay.InboundHandler)  {}
func (c *recordingChannel) Join(context.Context, string) error  { return nil }
func (c *recordingChannel) Leave(context.Context, string) error { return nil }
func (c *recordingChannel) Disconnect()                         {}

func (c *recordingChannel) next(t *testing.T) string {
	t.Helper()
	select {
	case s := <-c.sent:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relay send")
		return ""
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *recordingChannel) {
	t.Helper()
	ch := &recordingChannel{sent: make(chan string, 32)}
	b := bridge.New(bridge.Config{
		RoomID:  room,
		Erasure: erasure.Config{InactivityTimeout: time.Hour, CancelPresses: 3, CancelWindow: time.Second},
	}, ch, session.NewRegistry(room))
	require.NoError(t, b.ConnectRelay(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)

	r := chi.NewRouter()
	New(b, nil).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv, ch
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func read(t *testing.T, c *websocket.Conn) chat.Envelope {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env chat.Envelope
	require.NoError(t, c.ReadJSON(&env))
	return env
}

func TestChatRoundTrip(t *testing.T) {
	srv, ch := newTestServer(t)
	c := dial(t, srv)

	first := read(t, c)
	require.Equal(t, chat.TypeSessionID, first.Type)
	id := first.ID
	require.Len(t, id, 32)

	greeting := read(t, c)
	assert.Equal(t, chat.SenderSystem, greeting.Sender)
	assert.Equal(t, chat.ScreenMessaging, read(t, c).Screen)
	assert.Equal(t, "new anonymous session connected (id="+id+")", ch.next(t))

	require.NoError(t, c.WriteJSON(chat.Envelope{Type: chat.TypeChat, Text: "hello"}))
	assert.Equal(t, id+": hello", ch.next(t))

	echo := read(t, c)
	assert.Equal(t, chat.TypeChat, echo.Type)
	assert.Equal(t, chat.SenderYou, echo.Sender)
	assert.Equal(t, "hello", echo.Text)

	require.NoError(t, c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	assert.Equal(t, "session disconnected (id="+id+")", ch.next(t))
}

func TestMalformedFrameGetsError(t *testing.T) {
	srv, _ := newTestServer(t)
	c := dial(t, srv)
	for i := 0; i < 3; i++ {
		read(t, c)
	}

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("{not json")))
	env := read(t, c)
	assert.Equal(t, chat.TypeError, env.Type)
	assert.Equal(t, bridge.NoticeBadPayload, env.Text)
}

func TestQuickExitClosesSocket(t *testing.T) {
	srv, _ := newTestServer(t)
	c := dial(t, srv)
	for i := 0; i < 3; i++ {
		read(t, c)
	}

	require.NoError(t, c.WriteJSON(chat.Envelope{Type: chat.TypeQuickExit, Variant: "a"}))
	assert.Equal(t, chat.TypeErase, read(t, c).Type)
	screen := read(t, c)
	assert.Equal(t, "/exit?to=a", screen.Redirect)

	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := c.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestOriginChecker(t *testing.T) {
	assert.Nil(t, originChecker(nil))

	all := originChecker([]string{"*"})
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://anywhere.example")
	assert.True(t, all(req))

	only := originChecker([]string{"https://help.example.org/"})
	req.Header.Set("Origin", "https://help.example.org")
	assert.True(t, only(req))
	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, only(req))
}
