package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/zhouzirui/safe-connect/backend/internal/model/chat"
)

var errQueueClosed = errors.New("relay queue unavailable")

// peerTarget implements erasure.Target for one session. Its methods run on
// the bridge loop.
type peerTarget struct {
	bridge *Bridge
	peer   *peer
}

func (t *peerTarget) DropMessages() error {
	t.peer.session.DropTranscript()
	return nil
}

func (t *peerTarget) Deactivate() error {
	s := t.peer.session
	s.SetState(chat.StateClosing)
	if t.bridge.registry.Remove(s.ID) {
		t.bridge.metrics.SessionClosed()
	}
	return nil
}

// LeaveRelay queues the disconnect notice behind any pending sends and stops
// the session's worker. The shared room itself is only left by the worker's
// drain hook.
func (t *peerTarget) LeaveRelay(context.Context) error {
	w := t.peer.worker
	queued := w.enqueue(job{text: fmt.Sprintf("session disconnected (id=%s)", t.peer.session.ID)})
	w.stop()
	if !queued {
		return errQueueClosed
	}
	return nil
}

func (t *peerTarget) ResetView(notice string) error {
	if t.peer.gone {
		return nil
	}
	if !t.peer.session.Conn().Send(chat.Envelope{Type: chat.TypeErase, Sender: chat.SenderSystem, Text: notice}) {
		return errors.New("client connection closed")
	}
	return nil
}

func (t *peerTarget) ClearClientState(screen, redirect string) error {
	conn := t.peer.session.Conn()
	defer conn.Close()
	if t.peer.gone {
		return nil
	}
	if !conn.Send(chat.Envelope{Type: chat.TypeScreen, Screen: screen, Redirect: redirect}) {
		return errors.New("client connection closed")
	}
	return nil
}
