package ws

import (
	"context"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/aferrand/changesd/internal/changes"
	"github.com/aferrand/changesd/internal/token"
)

// Authorizer is the slice of the backend API sessions depend on.
type Authorizer interface {
	// CanRead reports read permission; errors deny (fail closed).
	CanRead(ctx context.Context, userID, discussionID string) (bool, error)
	// RolesFor fetches the user's roles in the discussion.
	RolesFor(ctx context.Context, userID, discussionID string) (changes.RoleSet, error)
	// Connecting and Disconnecting are best-effort presence reports.
	Connecting(ctx context.Context, discussionID, userID, rawToken string)
	Disconnecting(ctx context.Context, discussionID, userID, rawToken string)
}

// BusSubscriber yields bus messages for one session's subscription.
type BusSubscriber interface {
	Recv(ctx context.Context) (changes.Message, error)
	Close() error
}

// SubscribeFunc opens a subscriber filtered to the given topic prefixes.
type SubscribeFunc func(topics ...string) (BusSubscriber, error)

// Conn is the write side of the client transport. Implementations must be
// safe for concurrent writers.
type Conn interface {
	WriteText(data []byte) error
	Close() error
}

// connectionAck is the single acknowledgement frame sent on subscription.
var connectionAck = []byte(`[{"@type":"Connection"}]`)

const presenceTimeout = 5 * time.Second

type state int

const (
	stateAwaitingScope state = iota
	stateSubscribed
	stateClosed
)

// Session binds one client connection to at most one bus subscription.
// It holds at most one discussion scope and one decoded token; the
// subscription exists only while scope, a valid token, and a confirmed
// read permission are all present. Frames are handled by the transport
// read goroutine; the bus read loop runs on its own goroutine.
type Session struct {
	id         uuid.UUID
	conn       Conn
	codec      *token.Codec
	auth       Authorizer
	subscribe  SubscribeFunc
	deregister func(uuid.UUID)
	log        *zap.Logger

	mu         sync.Mutex
	st         state
	discussion string
	userID     string
	rawToken   string
	cancelRead context.CancelFunc
	readDone   chan struct{}
	notified   bool
}

func newSession(id uuid.UUID, conn Conn, codec *token.Codec, auth Authorizer, subscribe SubscribeFunc, deregister func(uuid.UUID), log *zap.Logger) *Session {
	return &Session{
		id:         id,
		conn:       conn,
		codec:      codec,
		auth:       auth,
		subscribe:  subscribe,
		deregister: deregister,
		log:        log,
	}
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// Closed reports whether the session reached its terminal state.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st == stateClosed
}

// HandleFrame processes one inbound text frame. Unknown frames are
// ignored; an invalid token is silently dropped so the client can retry
// without learning anything about the discussion.
func (s *Session) HandleFrame(ctx context.Context, frame string) {
	switch {
	case frame == "close":
		s.Close()
	case strings.HasPrefix(frame, "discussion:"):
		s.setDiscussion(strings.TrimPrefix(frame, "discussion:"))
		s.maybeSubscribe(ctx)
	case strings.HasPrefix(frame, "token:"):
		s.setToken(strings.TrimPrefix(frame, "token:"))
		s.maybeSubscribe(ctx)
	default:
		s.log.Debug("unknown frame", zap.String("frame", frame))
	}
}

func (s *Session) setDiscussion(id string) {
	s.mu.Lock()
	if s.st == stateClosed || id == "" || id == s.discussion {
		s.mu.Unlock()
		return
	}
	s.discussion = id
	s.dropSubscriptionLocked()
}

func (s *Session) setToken(raw string) {
	claims, err := s.codec.Decode(raw, 0)
	if err != nil {
		// fail-soft: no identity established, nothing surfaced to the client
		s.log.Debug("ignoring invalid token", zap.Error(err))
		return
	}
	s.mu.Lock()
	if s.st == stateClosed || claims.UserID == s.userID {
		s.mu.Unlock()
		return
	}
	s.userID = claims.UserID
	s.rawToken = raw
	s.dropSubscriptionLocked()
}

// dropSubscriptionLocked tears down an active subscription after a scope
// or identity change, returning the session to AWAITING_SCOPE so the next
// maybeSubscribe re-runs authorization. Unlocks s.mu.
func (s *Session) dropSubscriptionLocked() {
	if s.st != stateSubscribed {
		s.mu.Unlock()
		return
	}
	s.st = stateAwaitingScope
	cancel, done := s.cancelRead, s.readDone
	s.cancelRead, s.readDone = nil, nil
	disc, userID, raw := s.discussion, s.userID, s.rawToken
	notified := s.notified
	s.notified = false
	s.mu.Unlock()

	cancel()
	<-done
	if notified {
		s.reportDisconnect(disc, userID, raw)
	}
}

// maybeSubscribe runs the authorization sequence once scope and a valid
// token are both present. Denials and errors leave the session stalled in
// AWAITING_SCOPE with no error frame: the client retries by resending its
// frames, and restricted discussions stay indistinguishable from absent
// ones.
func (s *Session) maybeSubscribe(ctx context.Context) {
	s.mu.Lock()
	if s.st != stateAwaitingScope || s.discussion == "" || s.userID == "" {
		s.mu.Unlock()
		return
	}
	disc, userID, raw := s.discussion, s.userID, s.rawToken
	s.mu.Unlock()

	ok, err := s.auth.CanRead(ctx, userID, disc)
	if err != nil {
		s.log.Warn("permission check failed", zap.Error(err))
		return
	}
	if !ok {
		s.log.Debug("read denied", zap.String("discussion", disc))
		return
	}

	roles := changes.NewRoleSet(changes.RoleEveryone)
	if userID != token.Anonymous {
		if roles, err = s.auth.RolesFor(ctx, userID, disc); err != nil {
			s.log.Warn("role fetch failed", zap.Error(err))
			return
		}
	}

	sub, err := s.subscribe(changes.BroadcastTopic, disc)
	if err != nil {
		s.log.Error("bus subscribe failed", zap.Error(err))
		return
	}

	// ack goes out before the read loop starts so no forwarded message can
	// ever precede it
	if err := s.conn.WriteText(connectionAck); err != nil {
		s.log.Debug("ack write failed", zap.Error(err))
		_ = sub.Close()
		s.Close()
		return
	}

	s.mu.Lock()
	if s.st != stateAwaitingScope || s.discussion != disc || s.userID != userID {
		// scope changed or session closed while authorizing
		s.mu.Unlock()
		_ = sub.Close()
		return
	}
	rctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancelRead = cancel
	s.readDone = done
	s.st = stateSubscribed
	if userID != token.Anonymous {
		s.notified = true
	}
	s.mu.Unlock()

	go s.readLoop(rctx, sub, roles, done)

	s.log.Info("subscribed",
		zap.String("discussion", disc),
		zap.String("user", userID),
	)
	if userID != token.Anonymous {
		s.auth.Connecting(ctx, disc, userID, raw)
	}
}

// readLoop pulls bus messages, filters them against the session's roles,
// and forwards survivors to the client. The subscriber socket is released
// on every exit path; a panic closes only this session.
func (s *Session) readLoop(ctx context.Context, sub BusSubscriber, roles changes.RoleSet, done chan struct{}) {
	defer close(done)
	defer func() { _ = sub.Close() }()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("read loop panic",
				zap.Any("reason", r),
				zap.ByteString("stack", debug.Stack()),
			)
			go s.Close()
		}
	}()

	for {
		msg, err := sub.Recv(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn("bus receive failed", zap.Error(err))
				go s.Close()
			}
			return
		}
		payload, ok, err := changes.Filter(msg.Payload, roles)
		if err != nil {
			s.log.Warn("dropping unparseable change message",
				zap.String("topic", msg.Topic),
				zap.String("seq", msg.Seq),
				zap.Error(err),
			)
			continue
		}
		if !ok {
			continue
		}
		if err := s.conn.WriteText(payload); err != nil {
			s.log.Debug("client write failed", zap.Error(err))
			go s.Close()
			return
		}
	}
}

// Close tears the session down: cancels the read loop, waits for the
// subscriber socket to be released, closes the client connection,
// deregisters, and reports one best-effort disconnect for a previously
// established non-anonymous identity. Idempotent: a second call is a
// no-op.
func (s *Session) Close() {
	s.mu.Lock()
	if s.st == stateClosed {
		s.mu.Unlock()
		return
	}
	s.st = stateClosed
	cancel, done := s.cancelRead, s.readDone
	s.cancelRead, s.readDone = nil, nil
	disc, userID, raw := s.discussion, s.userID, s.rawToken
	notified := s.notified
	s.notified = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	_ = s.conn.Close()
	if s.deregister != nil {
		s.deregister(s.id)
	}
	if notified {
		s.reportDisconnect(disc, userID, raw)
	}
	s.log.Info("session closed")
}

func (s *Session) reportDisconnect(disc, userID, raw string) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	s.auth.Disconnecting(ctx, disc, userID, raw)
}
