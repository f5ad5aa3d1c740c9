// Package conversation drives the per-user verification dialogue: it routes
// inbound chat events through the idle, awaiting-phone and awaiting-code
// stages and answers with typed replies.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aussiebroadwan/authbot/internal/authbot/domain"
	"github.com/aussiebroadwan/authbot/internal/authbot/metrics"
	"github.com/aussiebroadwan/authbot/internal/authbot/service"
	"github.com/aussiebroadwan/authbot/internal/authbot/store"
	"github.com/aussiebroadwan/authbot/pkg/phonex"
	"github.com/aussiebroadwan/authbot/pkg/slogx"
)

// ReplySink delivers replies back to the user.
type ReplySink interface {
	Reply(ctx context.Context, r domain.Reply) error
}

// ReplyFunc adapts a function to ReplySink.
type ReplyFunc func(ctx context.Context, r domain.Reply) error

func (f ReplyFunc) Reply(ctx context.Context, r domain.Reply) error { return f(ctx, r) }

type Machine struct {
	Records       *service.Records
	Issuer        *service.Issuer
	Verifier      *service.Verifier
	Conversations Store
	Replies       ReplySink

	// Limiter may be nil.
	Limiter *Limiter

	// CountryCode replaces the trunk prefix of national numbers.
	CountryCode string

	locks keyedMutex
}

// step is the result of handling one event: the conversation to keep and the
// reply to send, if any.
type step struct {
	next  domain.Conversation
	reply domain.Reply
}

func stay(c domain.Conversation, r domain.Reply) step { return step{next: c, reply: r} }
func reset(r domain.Reply) step                         { return step{next: domain.Idle(), reply: r} }

// Handle processes one event for its user. Events of the same user are
// handled one at a time; different users proceed in parallel. The returned
// error is a storage or reply failure; the user has already been told.
func (m *Machine) Handle(ctx context.Context, ev domain.Event) error {
	start := time.Now()
	ctx = slogx.With(ctx,
		slog.String("user_id", ev.UserID),
		slog.String("event_kind", string(ev.Kind)),
	)
	log := slogx.FromContext(ctx)

	if allowed, first := m.Limiter.Admit(ev.UserID); !allowed {
		metrics.EventsHandled.WithLabelValues(string(ev.Kind), "dropped_rate_limited").Inc()
		if !first {
			log.Debug("event dropped by rate limit")
			return nil
		}
		log.Warn("event dropped by rate limit")
		return m.reply(ctx, domain.Reply{UserID: ev.UserID, Kind: domain.ReplySlowDown})
	}

	unlock := m.locks.Lock(ev.UserID)
	defer unlock()
	defer func() {
		metrics.EventDuration.WithLabelValues(string(ev.Kind)).Observe(time.Since(start).Seconds())
	}()

	err := m.handle(ctx, ev)
	result := "handled"
	if err != nil {
		result = "failed"
	}
	metrics.EventsHandled.WithLabelValues(string(ev.Kind), result).Inc()
	return err
}

func (m *Machine) handle(ctx context.Context, ev domain.Event) error {
	log := slogx.FromContext(ctx)

	conv, err := m.Conversations.Get(ctx, ev.UserID)
	if err != nil {
		log.Error("failed to load conversation", slog.Any("error", err))
		return errors.Join(err, m.reply(ctx, unavailable(ev.UserID)))
	}

	var st step
	switch ev.Kind {
	case domain.EventStart:
		st, err = m.onStart(ctx, ev)
	case domain.EventPhoneShared:
		st, err = m.onPhoneShared(ctx, ev, conv)
	case domain.EventText:
		st, err = m.onText(ctx, ev, conv)
	default:
		log.Warn("unknown event kind")
		return nil
	}

	if err != nil {
		log.Error("event handling failed",
			slog.String("stage", string(conv.Stage)),
			slog.Any("error", err),
		)
		// A half-finished code exchange is abandoned; earlier stages are
		// safe to retry as they are.
		if conv.Stage == domain.StageAwaitingCode {
			if derr := m.Conversations.Delete(ctx, ev.UserID); derr != nil {
				log.Error("failed to clear conversation", slog.Any("error", derr))
			}
		}
		return errors.Join(err, m.reply(ctx, unavailable(ev.UserID)))
	}

	if err := m.save(ctx, ev.UserID, conv, st.next); err != nil {
		log.Error("failed to save conversation", slog.Any("error", err))
		return errors.Join(err, m.reply(ctx, unavailable(ev.UserID)))
	}

	if st.next.Stage != conv.Stage {
		log.Debug("conversation advanced",
			slog.String("from", string(conv.Stage)),
			slog.String("to", string(st.next.Stage)),
		)
	}

	if st.reply.Kind == "" {
		return nil
	}
	st.reply.UserID = ev.UserID
	return m.reply(ctx, st.reply)
}

func (m *Machine) save(ctx context.Context, userID string, prev, next domain.Conversation) error {
	if next.Stage == domain.StageIdle {
		if prev.Stage == domain.StageIdle {
			return nil
		}
		return m.Conversations.Delete(ctx, userID)
	}
	return m.Conversations.Put(ctx, userID, next)
}

func (m *Machine) reply(ctx context.Context, r domain.Reply) error {
	if err := m.Replies.Reply(ctx, r); err != nil {
		slogx.FromContext(ctx).Error("failed to send reply",
			slog.String("reply", string(r.Kind)),
			slog.Any("error", err),
		)
		return fmt.Errorf("reply %s: %w", r.Kind, err)
	}
	return nil
}

func unavailable(userID string) domain.Reply {
	return domain.Reply{UserID: userID, Kind: domain.ReplyServiceUnavailable}
}

// onStart (re)starts the flow from any stage.
func (m *Machine) onStart(ctx context.Context, ev domain.Event) (step, error) {
	banned, err := m.Records.IsBanned(ctx, ev.UserID)
	if err != nil {
		return step{}, err
	}

	u, found, err := m.Records.FindUser(ctx, ev.UserID)
	if err != nil {
		return step{}, err
	}

	switch {
	case banned:
		return reset(domain.Reply{Kind: domain.ReplyBanned, BanUntil: u.BanUntil}), nil
	case found && u.IsVerified:
		return reset(domain.Reply{Kind: domain.ReplyAlreadyVerified}), nil
	}

	return step{
		next:  domain.Conversation{Stage: domain.StageAwaitingPhone},
		reply: domain.Reply{Kind: domain.ReplyRequestPhone, Hint: domain.HintRequestContact},
	}, nil
}

func (m *Machine) onPhoneShared(ctx context.Context, ev domain.Event, conv domain.Conversation) (step, error) {
	log := slogx.FromContext(ctx)

	if conv.Stage != domain.StageAwaitingPhone {
		log.Debug("contact ignored outside phone stage", slog.String("stage", string(conv.Stage)))
		return stay(conv, domain.Reply{}), nil
	}

	phone, err := phonex.Canonical(ev.Phone, m.CountryCode)
	switch {
	case errors.Is(err, phonex.ErrEmpty):
		return stay(conv, domain.Reply{Kind: domain.ReplyPhoneMissing, Hint: domain.HintRequestContact}), nil
	case err != nil:
		log.Info("implausible phone shared", slog.Any("error", err))
		return stay(conv, domain.Reply{Kind: domain.ReplyPhoneInvalid, Hint: domain.HintRequestContact}), nil
	}

	owner, found, err := m.Records.FindUserByPhone(ctx, phone)
	if err != nil {
		return step{}, err
	}
	if found {
		banned, err := m.Records.IsBanned(slogx.With(ctx, slog.String("owner_id", owner.ID)), owner.ID)
		if err != nil {
			return step{}, err
		}
		if banned {
			log.Warn("banned phone shared", slog.String("owner_id", owner.ID))
			return stay(conv, domain.Reply{Kind: domain.ReplyPhoneBanned}), nil
		}
	}

	if err := m.Records.RegisterUser(ctx, ev.UserID, phone, ev.Profile); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return stay(conv, domain.Reply{Kind: domain.ReplyRegistrationFailed}), nil
		}
		return step{}, err
	}

	if _, err := m.Issuer.Issue(ctx, ev.UserID, phone); err != nil {
		switch {
		case errors.Is(err, service.ErrTooManyRequests):
			return stay(conv, domain.Reply{Kind: domain.ReplyTooManyRequests}), nil
		case errors.Is(err, service.ErrDeliveryFailed):
			return stay(conv, domain.Reply{Kind: domain.ReplyDeliveryFailed, Hint: domain.HintRequestContact}), nil
		}
		return step{}, err
	}

	return step{
		next: domain.Conversation{Stage: domain.StageAwaitingCode, Phone: phone},
		reply: domain.Reply{
			Kind:     domain.ReplyCodeSent,
			Hint:     domain.HintRemoveKeyboard,
			Phone:    phone,
			Validity: m.Issuer.TTL,
		},
	}, nil
}

func (m *Machine) onText(ctx context.Context, ev domain.Event, conv domain.Conversation) (step, error) {
	if conv.Stage != domain.StageAwaitingCode {
		return stay(conv, domain.Reply{Kind: domain.ReplyUseMenu}), nil
	}

	submitted := phonex.FoldDigits(strings.TrimSpace(ev.Text))
	out, err := m.Verifier.Attempt(ctx, ev.UserID, conv.Phone, submitted)
	if err != nil {
		if errors.Is(err, service.ErrMalformedCode) {
			return stay(conv, domain.Reply{Kind: domain.ReplyCodeMalformed, CodeLength: m.Verifier.CodeLength}), nil
		}
		return step{}, err
	}

	switch out.Kind {
	case domain.OutcomeAccepted:
		return reset(domain.Reply{Kind: domain.ReplyVerified}), nil
	case domain.OutcomeRejected:
		return stay(conv, domain.Reply{Kind: domain.ReplyCodeRejected, Remaining: out.Remaining}), nil
	case domain.OutcomeBanned:
		return reset(domain.Reply{Kind: domain.ReplyBannedNow, BanDuration: m.Verifier.BanDuration}), nil
	case domain.OutcomeExpired:
		return reset(domain.Reply{Kind: domain.ReplyCodeExpired}), nil
	}
	return step{}, fmt.Errorf("unexpected verification outcome %v", out.Kind)
}
