package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/concort/internal/core"
	"github.com/dkeye/concort/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

const (
	defaultDeliveryTimeout = 2 * time.Second
	maxDecodeErrorsPerConn = 3

	CloseNormal     = 1000
	CloseInternal   = 1011
	ClosePolicy     = 1008
	CloseSuperseded = 4009
)

var ErrUnknownEvent = errors.New("unknown event type")

// Session is one participant connected to one match.
type Session struct {
	MatchID     domain.MatchID
	Participant domain.ParticipantID
	Channel     core.Channel
	// Superseded is the participant's previous channel, if any. The
	// transport owns it and should close it.
	Superseded core.Channel

	once sync.Once
}

// Broadcaster applies the durable effect of inbound events and fans the
// result out to the match's live channels.
type Broadcaster struct {
	Store           core.Store
	Identity        core.IdentityResolver
	Registry        *Registry
	Policy          Policy
	Clock           *Stamper
	Limiter         *RateLimiter
	DeliveryTimeout time.Duration

	locks matchLocks
}

// Connect verifies credential and membership, then registers ch.
func (b *Broadcaster) Connect(ctx context.Context, credential string, matchID domain.MatchID, ch core.Channel) (*Session, error) {
	pid, err := b.Identity.Resolve(ctx, credential)
	if err != nil {
		return nil, &domain.RejectError{Reason: domain.RejectInvalidIdentity, Err: err}
	}
	p, err := b.Store.GetParticipant(ctx, pid)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil, &domain.RejectError{Reason: domain.RejectInvalidIdentity, Err: err}
	case err != nil:
		return nil, fmt.Errorf("load participant: %w", err)
	case p.Status == domain.StatusInactive:
		return nil, &domain.RejectError{Reason: domain.RejectInvalidIdentity, Err: domain.ErrInvalidState}
	}
	m, err := b.Store.GetMatch(ctx, matchID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil, &domain.RejectError{Reason: domain.RejectUnknownMatch, Err: err}
	case err != nil:
		return nil, fmt.Errorf("load match: %w", err)
	}
	if !m.Has(pid) {
		return nil, &domain.RejectError{Reason: domain.RejectNotMember, Err: domain.ErrNotMember}
	}
	if m.Status.Terminal() {
		return nil, &domain.RejectError{Reason: domain.RejectMatchEnded, Err: domain.ErrMatchEnded}
	}

	sess := &Session{MatchID: matchID, Participant: pid, Channel: ch}
	sess.Superseded = b.Registry.Register(ch, matchID, pid)
	return sess, nil
}

// Serve pumps inbound events for sess until its channel closes or ctx ends,
// then disconnects it.
func (b *Broadcaster) Serve(ctx context.Context, sess *Session) {
	defer b.Disconnect(sess)

	decodeErrors := 0
	for {
		ev, err := sess.Channel.Receive(ctx)
		if err != nil {
			if errors.Is(err, core.ErrChannelClosed) || ctx.Err() != nil {
				return
			}
			decodeErrors++
			b.reply(ctx, sess, core.NewErrorEvent("invalid_payload"))
			if decodeErrors >= maxDecodeErrorsPerConn {
				sess.Channel.Close(ClosePolicy, "too many invalid frames")
				return
			}
			continue
		}
		decodeErrors = 0

		if !b.Limiter.Allow(sess.Participant) {
			b.reply(ctx, sess, core.NewErrorEvent("rate_limited"))
			continue
		}
		if err := b.Handle(ctx, sess, ev); err != nil {
			log.Warn().Err(err).Str("module", "app.broadcast").Str("match", string(sess.MatchID)).
				Str("participant", string(sess.Participant)).Str("type", ev.Type).Msg("event failed")
			b.reply(ctx, sess, core.NewErrorEvent(errorCode(err)))
		}
	}
}

// Handle applies one inbound event from an established session.
func (b *Broadcaster) Handle(ctx context.Context, sess *Session, ev core.InboundEvent) error {
	switch ev.Kind() {
	case core.EventMessage:
		_, err := b.publishMessage(ctx, sess.MatchID, sess.Participant, ev.Content)
		return err
	case core.EventTyping:
		b.deliver(ctx, sess.MatchID, sess.Participant, func(Peer) core.Event {
			return core.NewTypingEvent(sess.Participant)
		})
		return nil
	case core.EventRead:
		_, err := b.markRead(ctx, sess.MatchID, sess.Participant)
		return err
	}
	return fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
}

// Disconnect unregisters sess exactly once; later calls are no-ops.
func (b *Broadcaster) Disconnect(sess *Session) {
	if sess == nil {
		return
	}
	sess.once.Do(func() {
		if b.Registry.Unregister(sess.Channel, sess.MatchID, sess.Participant) {
			if _, still := b.Registry.ChannelFor(sess.Participant); !still {
				b.Limiter.Forget(sess.Participant)
			}
		}
	})
}

// Send persists a message from pid and fans it out. Used by REST callers,
// which have not been verified by Connect.
func (b *Broadcaster) Send(ctx context.Context, matchID domain.MatchID, pid domain.ParticipantID, content string) (domain.Message, error) {
	if _, err := b.member(ctx, matchID, pid); err != nil {
		return domain.Message{}, err
	}
	return b.publishMessage(ctx, matchID, pid, content)
}

// MarkRead flags every partner message read and notifies the other channels.
func (b *Broadcaster) MarkRead(ctx context.Context, matchID domain.MatchID, pid domain.ParticipantID) (int64, error) {
	if _, err := b.member(ctx, matchID, pid); err != nil {
		return 0, err
	}
	return b.markRead(ctx, matchID, pid)
}

// History returns a page of messages ascending by send time and marks the
// partner's messages read.
func (b *Broadcaster) History(ctx context.Context, matchID domain.MatchID, pid domain.ParticipantID, offset, limit int) ([]domain.Message, bool, error) {
	if _, err := b.member(ctx, matchID, pid); err != nil {
		return nil, false, err
	}
	msgs, err := b.Store.ListMessages(ctx, matchID, offset, limit+1)
	if err != nil {
		return nil, false, fmt.Errorf("list messages: %w", err)
	}
	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	if _, err := b.markRead(ctx, matchID, pid); err != nil {
		return nil, false, err
	}
	return msgs, hasMore, nil
}

// NotifyMatched tells both members of a new match, if reachable.
func (b *Broadcaster) NotifyMatched(ctx context.Context, m domain.Match) {
	for _, pid := range []domain.ParticipantID{m.MaleID, m.FemaleID} {
		ch, ok := b.Registry.ChannelFor(pid)
		if !ok {
			continue
		}
		if err := b.sendOne(ctx, ch, core.NewMatchedEvent(m, pid)); err != nil {
			b.logDrop(m.ID, pid, err)
		}
	}
}

func (b *Broadcaster) member(ctx context.Context, matchID domain.MatchID, pid domain.ParticipantID) (domain.Match, error) {
	m, err := b.Store.GetMatch(ctx, matchID)
	if err != nil {
		return domain.Match{}, err
	}
	if !m.Has(pid) {
		return domain.Match{}, domain.ErrNotMember
	}
	return m, nil
}

// publishMessage stamps, persists and only then fans out, all under the
// match lock so every channel sees messages in store order. Ended matches
// take no new messages.
func (b *Broadcaster) publishMessage(ctx context.Context, matchID domain.MatchID, sender domain.ParticipantID, raw string) (domain.Message, error) {
	content, err := domain.NormalizeContent(raw)
	if err != nil {
		return domain.Message{}, err
	}

	unlock := b.locks.acquire(matchID)
	defer unlock()

	m, err := b.Store.GetMatch(ctx, matchID)
	if err != nil {
		return domain.Message{}, err
	}
	if m.Status.Terminal() {
		return domain.Message{}, fmt.Errorf("match %s is %s: %w", matchID, m.Status, domain.ErrMatchEnded)
	}

	msg := domain.Message{
		ID:       domain.NewMessageID(),
		MatchID:  matchID,
		SenderID: sender,
		Content:  content,
		SentAt:   b.Clock.Next(),
	}
	if err := b.Store.AppendMessage(ctx, msg); err != nil {
		return domain.Message{}, fmt.Errorf("append message: %w", err)
	}
	b.deliver(ctx, matchID, "", func(p Peer) core.Event {
		return core.NewMessageEvent(msg, p.Participant == sender)
	})
	return msg, nil
}

func (b *Broadcaster) markRead(ctx context.Context, matchID domain.MatchID, reader domain.ParticipantID) (int64, error) {
	unlock := b.locks.acquire(matchID)
	defer unlock()

	n, err := b.Store.MarkMessagesRead(ctx, matchID, reader)
	if err != nil {
		return 0, fmt.Errorf("mark messages read: %w", err)
	}
	b.deliver(ctx, matchID, reader, func(Peer) core.Event {
		return core.NewReadEvent(reader)
	})
	return n, nil
}

// deliver sends one event per peer, skipping exclude. Each delivery runs
// on its own goroutine with its own deadline; failures are logged and
// handed to the policy, never returned.
func (b *Broadcaster) deliver(ctx context.Context, matchID domain.MatchID, exclude domain.ParticipantID, build func(Peer) core.Event) core.PublishResult {
	peers := b.Registry.PeersOf(matchID)

	var (
		wg  conc.WaitGroup
		mu  sync.Mutex
		res core.PublishResult
	)
	for _, p := range peers {
		if exclude != "" && p.Participant == exclude {
			continue
		}
		ev := build(p)
		wg.Go(func() {
			err := b.sendOne(ctx, p.Channel, ev)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Dropped = append(res.Dropped, p.Channel)
				b.logDrop(matchID, p.Participant, err)
				return
			}
			res.SentTo++
		})
	}
	wg.Wait()

	log.Debug().Str("module", "app.broadcast").Str("match", string(matchID)).Int("sent_to", res.SentTo).
		Int("dropped", len(res.Dropped)).Msg("broadcast result")
	b.applyPolicy(matchID, res.Dropped)
	return res
}

func (b *Broadcaster) sendOne(ctx context.Context, ch core.Channel, ev core.Event) error {
	timeout := b.DeliveryTimeout
	if timeout <= 0 {
		timeout = defaultDeliveryTimeout
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return ch.Send(dctx, ev)
}

func (b *Broadcaster) reply(ctx context.Context, sess *Session, ev core.Event) {
	if err := b.sendOne(ctx, sess.Channel, ev); err != nil {
		b.logDrop(sess.MatchID, sess.Participant, err)
	}
}

func (b *Broadcaster) logDrop(matchID domain.MatchID, pid domain.ParticipantID, err error) {
	derr := &domain.DeliveryError{Participant: pid, Err: err}
	log.Warn().Err(derr).Str("module", "app.broadcast").Str("match", string(matchID)).
		Str("participant", string(pid)).Msg("delivery failed")
}

func (b *Broadcaster) applyPolicy(matchID domain.MatchID, dropped []core.Channel) {
	if b.Policy == nil {
		return
	}
	for _, ch := range dropped {
		switch b.Policy.OnBackPressure(matchID, ch) {
		case KickMember:
			ch.Close(ClosePolicy, "slow consumer")
		case DropEvent, NoAction:
		}
	}
}

// errorCode is the short string sent back to a client in an error event.
func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrEmptyMessage):
		return "empty_message"
	case errors.Is(err, domain.ErrMessageTooLong):
		return "message_too_long"
	case errors.Is(err, domain.ErrMatchEnded):
		return "match_ended"
	case errors.Is(err, domain.ErrNotMember):
		return "not_member"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnknownEvent):
		return "unknown_event"
	}
	return "send_failed"
}
