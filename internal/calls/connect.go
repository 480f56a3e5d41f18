package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"calld/internal/statecache"
	"calld/internal/telephony"
	"calld/pkg/logger"
)

// ConnectUser rings the main line of userUUID and binds the new leg to the
// application instance callID belongs to. It returns the new channel id.
//
// If the caller leaves before the new leg enters the application, the new
// leg is hung up. timeout bounds ringing; zero means none.
func (s *Service) ConnectUser(ctx context.Context, tenantUUID, callID, userUUID string, timeout time.Duration) (string, error) {
	if _, err := s.channelForTenant(ctx, tenantUUID, callID); err != nil {
		return "", err
	}
	line, err := s.mainLine(ctx, tenantUUID, userUUID)
	if err != nil {
		return "", err
	}

	entry, err := s.states.Get(ctx, callID)
	if err != nil {
		if errors.Is(err, statecache.ErrNotFound) {
			return "", connectError(callID)
		}
		return "", err
	}

	// Both watches exist before the leg does, so an answer racing the
	// origination reply is not missed.
	legID := s.newChannelID()
	caller := s.backend.Subscribe(callID, telephony.ChannelLeft)
	callee := s.backend.Subscribe(legID, telephony.ChannelEntered, telephony.ChannelLeft)

	leg, err := s.backend.Originate(ctx, telephony.OriginateRequest{
		Endpoint:   line.Interface(),
		App:        s.opts.Application,
		AppArgs:    []string{entry.AppInstance, "dialed_from", callID},
		Originator: callID,
		Timeout:    timeout,
		ChannelID:  legID,
	})
	if err != nil {
		caller.Cancel()
		callee.Cancel()
		return "", fmt.Errorf("calls: originate connect leg: %w", err)
	}
	if leg.ID == "" {
		leg.ID = legID
	}

	log := logger.From(ctx).With("call_id", callID, "leg_id", leg.ID)
	go s.superviseConnect(log, caller, callee, leg.ID)

	return leg.ID, nil
}

// superviseConnect waits for whichever comes first: the caller leaving
// (hang up the new leg) or the new leg entering or leaving (done).
func (s *Service) superviseConnect(log *slog.Logger, caller, callee telephony.Subscription, legID string) {
	defer caller.Cancel()
	defer callee.Cancel()

	// An event already queued for the new leg wins over the caller leaving.
	select {
	case ev, ok := <-callee.Events():
		settled(log, ev, ok)
		return
	default:
	}

	select {
	case _, ok := <-caller.Events():
		if !ok {
			return
		}
		select {
		case ev, ok := <-callee.Events():
			settled(log, ev, ok)
			return
		default:
		}
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if err := s.backend.Hangup(ctx, legID); err != nil && !errors.Is(err, telephony.ErrChannelNotFound) {
			log.Warn("hangup of orphaned connect leg failed", "err", err)
			return
		}
		log.Info("caller left before connect leg answered")
	case ev, ok := <-callee.Events():
		settled(log, ev, ok)
	case <-s.done:
	}
}

func settled(log *slog.Logger, ev telephony.ChannelEvent, ok bool) {
	if ok {
		log.Debug("connect leg settled", "event", string(ev.Kind))
	}
}
