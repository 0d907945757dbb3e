package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

const (
	testRoom     = "!relay:example.org"
	testOperator = "@helper:example.org"
)

var joinedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func textEvent(room, sender, body string) *event.Event {
	return &event.Event{
		Type:      event.EventMessage,
		RoomID:    id.RoomID(room),
		Sender:    id.UserID(sender),
		Timestamp: joinedAt.Add(time.Second).UnixMilli(),
		Content: event.Content{Parsed: &event.MessageEventContent{
			MsgType: event.MsgText,
			Body:    body,
		}},
	}
}

func newTestChannel() (*MatrixChannel, *[]string) {
	ch := NewMatrixChannel(MatrixOptions{RoomID: testRoom, OperatorID: testOperator})
	ch.joined[testRoom] = joinedAt
	var got []string
	ch.OnInboundText(func(sender, text string) {
		got = append(got, sender+"|"+text)
	})
	return ch, &got
}

func TestHandleEventDispatchesOperatorOnly(t *testing.T) {
	ch, got := newTestChannel()
	ctx := context.Background()

	ch.handleEvent(ctx, textEvent(testRoom, testOperator, "hello there"))
	ch.handleEvent(ctx, textEvent(testRoom, "@stranger:example.org", "spoofed"))
	ch.handleEvent(ctx, textEvent("!other:example.org", testOperator, "wrong room"))

	require.Len(t, *got, 1)
	assert.Equal(t, testOperator+"|hello there", (*got)[0])
}

func TestHandleEventSkipsEmptyAndNonText(t *testing.T) {
	ch, got := newTestChannel()
	ctx := context.Background()

	ch.handleEvent(ctx, textEvent(testRoom, testOperator, ""))

	img := textEvent(testRoom, testOperator, "cat.png")
	img.Content.Parsed = &event.MessageEventContent{MsgType: event.MsgImage, Body: "cat.png"}
	ch.handleEvent(ctx, img)

	ch.handleEvent(ctx, nil)
	assert.Empty(t, *got)
}

func TestHandleEventDropsMessagesFromBeforeJoin(t *testing.T) {
	ch, got := newTestChannel()
	ctx := context.Background()

	old := textEvent(testRoom, testOperator, "reply to a session that is gone")
	old.Timestamp = joinedAt.Add(-time.Minute).UnixMilli()
	ch.handleEvent(ctx, old)
	assert.Empty(t, *got)

	ch.handleEvent(ctx, textEvent(testRoom, testOperator, "fresh"))
	require.Len(t, *got, 1)
	assert.Equal(t, testOperator+"|fresh", (*got)[0])
}

func TestHandleEventIgnoresRoomAfterLeave(t *testing.T) {
	ch, got := newTestChannel()
	require.NoError(t, ch.Leave(context.Background(), testRoom))

	ch.handleEvent(context.Background(), textEvent(testRoom, testOperator, "late"))
	assert.Empty(t, *got)
}

func TestHandleEventStripsReplyFallback(t *testing.T) {
	ch, got := newTestChannel()

	evt := textEvent(testRoom, testOperator, "")
	evt.Content.Parsed = &event.MessageEventContent{
		MsgType:   event.MsgText,
		Body:      "> <@relay:example.org> abcdef12: help\n\nreply to abcdef12: on my way",
		RelatesTo: (&event.RelatesTo{}).SetReplyTo("$original"),
	}
	ch.handleEvent(context.Background(), evt)

	require.Len(t, *got, 1)
	assert.Equal(t, testOperator+"|reply to abcdef12: on my way", (*got)[0])
}

func TestMessageTextFallsBackToFormattedBody(t *testing.T) {
	assert.Equal(t, "plain", messageText(&event.MessageEventContent{Body: "plain", FormattedBody: "<b>rich</b>", Format: event.FormatHTML}))
	assert.Equal(t, "rich & <safe>", messageText(&event.MessageEventContent{
		Format:        event.FormatHTML,
		FormattedBody: "<b>rich</b> &amp; &lt;safe&gt;<script>alert(1)</script>",
	}))
	assert.Empty(t, messageText(&event.MessageEventContent{FormattedBody: "<b>x</b>"}))
}

func TestAcceptsIgnoresOwnEcho(t *testing.T) {
	ch := NewMatrixChannel(MatrixOptions{RoomID: testRoom, OperatorID: testOperator})
	evt := textEvent(testRoom, testOperator, "x")
	assert.False(t, ch.accepts(evt, id.UserID(testOperator)))
	assert.True(t, ch.accepts(evt, id.UserID("@relay:example.org")))
}

func TestMatrixChannelNotConnected(t *testing.T) {
	ch := NewMatrixChannel(MatrixOptions{RoomID: testRoom})
	ctx := context.Background()

	err := ch.SendText(ctx, testRoom, "hi")
	assert.True(t, errors.Is(err, ErrSend))
	assert.True(t, errors.Is(err, ErrNotReady))

	assert.ErrorIs(t, ch.Join(ctx, testRoom), ErrNotReady)
	assert.NoError(t, ch.Leave(ctx, testRoom))
	ch.Disconnect()
}

func TestOfflineChannel(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	ch := NewOfflineChannel(cause)
	ctx := context.Background()

	_, err := ch.Connect(ctx)
	assert.ErrorIs(t, err, ErrConnectionSetup)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorContains(t, err, "refused")

	err = ch.SendText(ctx, testRoom, "hi")
	assert.ErrorIs(t, err, ErrSend)
	assert.NoError(t, ch.Leave(ctx, testRoom))
}
