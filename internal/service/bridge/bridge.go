// Package bridge maps anonymous client sessions onto the shared relay room.
//
// All routing decisions happen on a single goroutine (Run). Client
// connections and the relay subscription only post events to it.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/safe-connect/backend/internal/metrics"
	"github.com/zhouzirui/safe-connect/backend/internal/model/chat"
	"github.com/zhouzirui/safe-connect/backend/internal/service/erasure"
	"github.com/zhouzirui/safe-connect/backend/internal/service/relay"
	"github.com/zhouzirui/safe-connect/backend/internal/service/session"
)

// ErrStopped is returned once Run has exited.
var ErrStopped = errors.New("bridge stopped")

// Notices shown to the visitor.
const (
	DefaultGreeting  = "You are connected to an anonymous support session. A specialist will reply here."
	NoticeNotReady   = "The support service is not ready right now. Your messages cannot be delivered yet."
	NoticeReady      = "The support service is available again. New messages will be delivered."
	NoticeEmpty      = "Nothing to send."
	NoticeNotSent    = "Message not delivered, please retry."
	NoticeQueueFull  = "Too many messages at once, please retry."
	NoticeBadPayload = "Unsupported message type."
)

const (
	defaultQueueSize   = 32
	defaultSendTimeout = 15 * time.Second
	defaultInboxSize   = 256
	shutdownDrain      = 5 * time.Second
)

// Config tunes the bridge.
type Config struct {
	RoomID         string
	Erasure        erasure.Config
	Greeting       string
	QueueSize      int
	SendTimeout    time.Duration
	LeaveWhenEmpty bool
}

// Bridge is the session relay orchestrator.
type Bridge struct {
	cfg      Config
	channel  relay.Channel
	registry *session.Registry
	metrics  *metrics.Metrics
	clock    erasure.Clock

	events chan any
	done   chan struct{}

	ready      atomic.Bool
	connecting atomic.Bool

	memberMu sync.Mutex
	joined   bool

	// owned by the Run goroutine
	peers map[string]*peer
}

type peer struct {
	session *chat.Session
	worker  *relayWorker
	eraser  *erasure.Controller
	gone    bool
	// warned is set when the session opened while the relay was down.
	warned bool
}

type openEvent struct {
	conn  chat.Conn
	reply chan openResult
}

type openResult struct {
	id  string
	err error
}

type clientEvent struct {
	id  string
	env chat.Envelope
}

type operatorEvent struct {
	sender string
	text   string
}

type disconnectEvent struct{ id string }

type idleEvent struct{ id string }

type readyEvent struct{}

type countEvent struct{ reply chan int }

// Option customises a Bridge.
type Option func(*Bridge)

// WithMetrics records bridge activity.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithClock replaces the clock used for inactivity and cancel-key timing.
func WithClock(c erasure.Clock) Option {
	return func(b *Bridge) { b.clock = c }
}

// New wires a bridge to its relay channel and session registry.
func New(cfg Config, channel relay.Channel, registry *session.Registry, opts ...Option) *Bridge {
	if cfg.Greeting == "" {
		cfg.Greeting = DefaultGreeting
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	b := &Bridge{
		cfg:      cfg,
		channel:  channel,
		registry: registry,
		clock:    erasure.RealClock,
		events:   make(chan any, defaultInboxSize),
		done:     make(chan struct{}),
		peers:    make(map[string]*peer),
	}
	for _, opt := range opts {
		opt(b)
	}
	channel.OnInboundText(func(sender, text string) {
		// The relay sync loop must never block on a busy bridge.
		select {
		case b.events <- operatorEvent{sender: sender, text: text}:
		case <-b.done:
		default:
			b.metrics.RoutingDropped("inbox_full")
			log.Warn().Msg("[bridge] inbox full, operator message dropped")
		}
	})
	return b
}

// ConnectRelay establishes the relay identity. On failure the bridge keeps
// serving sessions in local-echo mode.
func (b *Bridge) ConnectRelay(ctx context.Context) error {
	if !b.connecting.CompareAndSwap(false, true) {
		return nil
	}
	defer b.connecting.Store(false)

	handle, err := b.channel.Connect(ctx)
	if err != nil {
		b.ready.Store(false)
		log.Error().Err(err).Msg("[bridge] relay unavailable, sessions degrade to local echo")
		return err
	}
	b.memberMu.Lock()
	b.joined = true
	b.memberMu.Unlock()
	if !b.ready.Swap(true) {
		select {
		case b.events <- readyEvent{}:
		case <-b.done:
		default:
			log.Warn().Msg("[bridge] inbox full, ready notice skipped")
		}
	}
	log.Info().Str("user", handle.UserID).Str("room", handle.RoomID).Msg("[bridge] relay ready")
	return nil
}

// Ready reports whether the relay channel is connected.
func (b *Bridge) Ready() bool { return b.ready.Load() }

// Run processes events until ctx is cancelled, then erases every session and
// disconnects the relay channel.
func (b *Bridge) Run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			b.shutdown()
			return
		case ev := <-b.events:
			b.dispatch(ev)
		}
	}
}

func (b *Bridge) dispatch(ev any) {
	switch e := ev.(type) {
	case openEvent:
		id, err := b.open(e.conn)
		e.reply <- openResult{id: id, err: err}
	case clientEvent:
		b.handleClient(e.id, e.env)
	case operatorEvent:
		b.handleOperator(e.sender, e.text)
	case disconnectEvent:
		b.handleDisconnect(e.id)
	case idleEvent:
		b.expire(e.id)
	case readyEvent:
		b.announceReady()
	case countEvent:
		e.reply <- len(b.activeIDs())
	}
}

func (b *Bridge) post(ctx context.Context, ev any) error {
	select {
	case b.events <- ev:
		return nil
	case <-b.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Open registers a new session for conn and returns its id.
func (b *Bridge) Open(ctx context.Context, conn chat.Conn) (string, error) {
	reply := make(chan openResult, 1)
	if err := b.post(ctx, openEvent{conn: conn, reply: reply}); err != nil {
		return "", err
	}
	select {
	case res := <-reply:
		return res.id, res.err
	case <-b.done:
		return "", ErrStopped
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Submit hands a client envelope to the bridge. Envelopes from one
// connection are processed in the order submitted.
func (b *Bridge) Submit(ctx context.Context, id string, env chat.Envelope) error {
	return b.post(ctx, clientEvent{id: id, env: env})
}

// Disconnect tears the session down after its connection closed. It never
// fails visibly.
func (b *Bridge) Disconnect(id string) {
	if err := b.post(context.Background(), disconnectEvent{id: id}); err != nil {
		log.Debug().Err(err).Str("session", short(id)).Msg("[bridge] disconnect after stop")
	}
}

// ActiveSessions returns the number of active sessions.
func (b *Bridge) ActiveSessions(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	if err := b.post(ctx, countEvent{reply: reply}); err != nil {
		return 0, err
	}
	select {
	case n := <-reply:
		return n, nil
	case <-b.done:
		return 0, ErrStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (b *Bridge) open(conn chat.Conn) (string, error) {
	s, err := b.registry.Create(conn)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	id := s.ID
	s.Touch(b.clock.Now())

	p := &peer{session: s}
	p.worker = newRelayWorker(b.cfg.QueueSize, b.cfg.SendTimeout, b.relaySend,
		func(j job, err error) { b.sendFailed(s, j, err) },
		b.leaveIfEmpty,
	)
	p.eraser = erasure.NewController(b.cfg.Erasure, &peerTarget{bridge: b, peer: p},
		erasure.WithClock(b.clock),
		erasure.WithMetrics(b.metrics),
		erasure.WithIdleHandler(func() {
			if err := b.post(context.Background(), idleEvent{id: id}); err != nil {
				log.Debug().Err(err).Msg("[bridge] idle event after stop")
			}
		}),
	)
	b.peers[id] = p
	b.metrics.SessionOpened()

	s.Send(chat.Envelope{Type: chat.TypeSessionID, ID: id})
	greeting := chat.Message{ID: uuid.NewString(), Origin: chat.OriginSystem, Text: b.cfg.Greeting, Timestamp: b.clock.Now()}
	s.Append(greeting)
	s.Send(chat.ChatEnvelope(greeting))
	s.Send(chat.Envelope{Type: chat.TypeScreen, Screen: chat.ScreenMessaging})

	if !b.Ready() {
		p.warned = true
		s.Send(chat.ErrorEnvelope(NoticeNotReady, ""))
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), b.cfg.SendTimeout)
			defer cancel()
			_ = b.ConnectRelay(ctx)
		}()
	}

	if !p.worker.enqueue(job{text: fmt.Sprintf("new anonymous session connected (id=%s)", id)}) {
		log.Warn().Str("session", short(id)).Msg("[bridge] could not queue connect notice")
	}
	log.Info().Str("session", short(id)).Int("active", len(b.peers)).Msg("[bridge] session opened")
	return id, nil
}

func (b *Bridge) handleClient(id string, env chat.Envelope) {
	p, ok := b.peers[id]
	if !ok || p.session.State() != chat.StateActive {
		return
	}
	p.session.Touch(b.clock.Now())
	p.eraser.Activity()

	switch env.Type {
	case chat.TypeChat:
		b.relayClientText(p, env.Text)
	case chat.TypeActivity:
	case chat.TypeCancelKey:
		if p.eraser.CancelKey() {
			b.erase(id, erasure.TriggerCancelKeys, "")
		}
	case chat.TypeClear:
		p.eraser.Clear()
	case chat.TypeRestart:
		b.erase(id, erasure.TriggerRestart, "")
	case chat.TypeQuickExit:
		b.erase(id, erasure.TriggerQuickExit, env.Variant)
	default:
		p.session.Send(chat.ErrorEnvelope(NoticeBadPayload, ""))
	}
}

func (b *Bridge) relayClientText(p *peer, raw string) {
	text := chat.NormalizeText(raw)
	if text == "" {
		p.session.Send(chat.ErrorEnvelope(NoticeEmpty, ""))
		return
	}

	msg := chat.Message{
		ID:        uuid.NewString(),
		Origin:    chat.OriginClient,
		Text:      chat.EscapeForDisplay(text),
		Timestamp: b.clock.Now(),
	}
	if !p.worker.enqueue(job{text: p.session.ID + ": " + text, msgID: msg.ID}) {
		b.metrics.SendFailed()
		p.session.Send(chat.ErrorEnvelope(NoticeQueueFull, msg.ID))
		return
	}
	p.session.Append(msg)
	p.session.Send(chat.ChatEnvelope(msg))
}

func (b *Bridge) handleOperator(sender, text string) {
	active := b.activeIDs()
	d := Route(text, active)
	if !d.Delivered() {
		b.metrics.RoutingDropped(d.Dropped)
		log.Warn().Str("reason", d.Dropped).Int("active", len(active)).Msg("[bridge] routing ambiguity, operator message dropped")
		return
	}

	body := chat.EscapeForDisplay(chat.NormalizeText(d.Text))
	if body == "" {
		return
	}
	p := b.peers[d.SessionID]
	msg := chat.Message{ID: uuid.NewString(), Origin: chat.OriginOperator, Text: body, Timestamp: b.clock.Now()}
	p.session.Append(msg)
	if !p.session.Send(chat.ChatEnvelope(msg)) {
		log.Debug().Str("session", short(d.SessionID)).Msg("[bridge] operator reply not delivered, connection closing")
	}
}

// expire handles an inactivity expiry. Activity queued ahead of the expiry
// has already touched the session, so the controller re-checks before the
// session is erased.
func (b *Bridge) expire(id string) {
	p, ok := b.peers[id]
	if !ok {
		return
	}
	if !p.eraser.IdleExpired(p.session.LastActivityAt()) {
		log.Debug().Str("session", short(id)).Msg("[bridge] inactivity expiry superseded by activity")
		return
	}
	b.erase(id, erasure.TriggerInactivity, "")
}

// announceReady tells sessions that saw the not-ready notice that delivery
// works again.
func (b *Bridge) announceReady() {
	for _, p := range b.peers {
		if !p.warned || p.session.State() != chat.StateActive {
			continue
		}
		p.warned = false
		msg := chat.Message{ID: uuid.NewString(), Origin: chat.OriginSystem, Text: NoticeReady, Timestamp: b.clock.Now()}
		p.session.Append(msg)
		p.session.Send(chat.ChatEnvelope(msg))
	}
}

func (b *Bridge) handleDisconnect(id string) {
	p, ok := b.peers[id]
	if !ok {
		return
	}
	p.gone = true
	b.erase(id, erasure.TriggerDisconnect, "")
}

func (b *Bridge) erase(id string, trigger erasure.Trigger, variant string) {
	p, ok := b.peers[id]
	if !ok {
		return
	}
	res := p.eraser.Erase(trigger, variant)
	b.forget(id)
	log.Info().Str("session", short(id)).Str("trigger", string(trigger)).Strs("failed_steps", res.Failed).Msg("[bridge] session erased")
}

// forget drops the peer once its erasure has finished.
func (b *Bridge) forget(id string) {
	delete(b.peers, id)
}

func (b *Bridge) activeIDs() []string {
	ids := make([]string, 0, len(b.peers))
	for id, p := range b.peers {
		if p.session.State() == chat.StateActive {
			ids = append(ids, id)
		}
	}
	return ids
}

func (b *Bridge) relaySend(ctx context.Context, text string) error {
	if err := b.ensureJoined(ctx); err != nil {
		return fmt.Errorf("%w: %w", relay.ErrSend, err)
	}
	return b.channel.SendText(ctx, b.cfg.RoomID, text)
}

func (b *Bridge) ensureJoined(ctx context.Context) error {
	b.memberMu.Lock()
	defer b.memberMu.Unlock()
	if b.joined {
		return nil
	}
	if err := b.channel.Join(ctx, b.cfg.RoomID); err != nil {
		return err
	}
	b.joined = true
	return nil
}

// leaveIfEmpty runs after a session's worker drained. With LeaveWhenEmpty
// the relay identity leaves the room once no session is left; the next
// session joins again before its first send.
func (b *Bridge) leaveIfEmpty() {
	if !b.cfg.LeaveWhenEmpty {
		return
	}
	b.memberMu.Lock()
	defer b.memberMu.Unlock()
	if !b.joined || b.registry.Len() > 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.SendTimeout)
	defer cancel()
	if err := b.channel.Leave(ctx, b.cfg.RoomID); err != nil {
		log.Warn().Err(err).Msg("[bridge] leave relay room failed")
		return
	}
	b.joined = false
	log.Info().Msg("[bridge] left relay room, no sessions remain")
}

func (b *Bridge) sendFailed(s *chat.Session, j job, err error) {
	b.metrics.SendFailed()
	log.Warn().Err(err).Str("session", short(s.ID)).Bool("notice", j.msgID == "").Msg("[bridge] relay send failed")
	if j.msgID == "" {
		return
	}
	s.Send(chat.ErrorEnvelope(NoticeNotSent, j.msgID))
}

func (b *Bridge) shutdown() {
	workers := make([]*relayWorker, 0, len(b.peers))
	for id, p := range b.peers {
		workers = append(workers, p.worker)
		b.erase(id, erasure.TriggerShutdown, "")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownDrain)
	defer cancel()
	for _, w := range workers {
		if err := w.wait(ctx); err != nil {
			log.Warn().Err(err).Msg("[bridge] relay worker did not drain before shutdown")
			break
		}
	}
	b.channel.Disconnect()
	b.ready.Store(false)
	log.Info().Msg("[bridge] stopped")
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
