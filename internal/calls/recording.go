package calls

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"calld/internal/telephony"
)

// RecordStart starts recording a call of the tenant. Starting an active
// recording is a no-op.
func (s *Service) RecordStart(ctx context.Context, tenantUUID, callID string) error {
	if _, err := s.channelForTenant(ctx, tenantUUID, callID); err != nil {
		return err
	}
	return s.recordStart(ctx, callID)
}

func (s *Service) RecordStartUser(ctx context.Context, tenantUUID, callID, userUUID string) error {
	if _, err := s.channelForUser(ctx, tenantUUID, callID, userUUID); err != nil {
		return err
	}
	return s.recordStart(ctx, callID)
}

// RecordStop stops recording a call of the tenant. Stopping an inactive
// recording is a no-op.
func (s *Service) RecordStop(ctx context.Context, tenantUUID, callID string) error {
	if _, err := s.channelForTenant(ctx, tenantUUID, callID); err != nil {
		return err
	}
	return s.recordStop(ctx, callID)
}

func (s *Service) RecordStopUser(ctx context.Context, tenantUUID, callID, userUUID string) error {
	if _, err := s.channelForUser(ctx, tenantUUID, callID, userUUID); err != nil {
		return err
	}
	return s.recordStop(ctx, callID)
}

func (s *Service) recordStart(ctx context.Context, callID string) error {
	target, err := s.recordingTarget(ctx, callID)
	if err != nil {
		return err
	}
	active, err := s.projector.channelVar(ctx, target, varRecordActive)
	if err != nil {
		return err
	}
	if active == "1" {
		return nil
	}

	tenant, err := s.projector.channelVar(ctx, target, varTenantUUID)
	if err != nil {
		return err
	}
	options, err := s.projector.channelVar(ctx, target, varMixMonitorOptions)
	if err != nil {
		return err
	}
	filename := fmt.Sprintf(s.opts.RecordingPath, tenant, s.newUUID())
	if err := s.actions.RecordStart(ctx, target.Name, filename, options); err != nil {
		return fmt.Errorf("calls: record start %s: %w", target.ID, err)
	}
	// Also set by the recording-started event; a start issued before that
	// event arrives must still see the recording as active.
	return s.setVar(ctx, target.ID, varRecordActive, "1")
}

func (s *Service) recordStop(ctx context.Context, callID string) error {
	ch, err := s.channel(ctx, callID)
	if err != nil {
		return err
	}
	active, err := s.projector.channelVar(ctx, ch, varRecordActive)
	if err != nil {
		return err
	}
	if active == "" || active == "0" {
		return nil
	}
	if err := s.actions.RecordStop(ctx, ch.Name); err != nil {
		return fmt.Errorf("calls: record stop %s: %w", callID, err)
	}
	return s.setVar(ctx, callID, varRecordActive, "0")
}

// recordingTarget returns the channel a recording of callID must be
// attached to. The ";1" side of a Local pair standing for a group member or
// an agent callback is redirected to the real leg behind it, found by the
// shared match uuid; any other channel records itself.
func (s *Service) recordingTarget(ctx context.Context, callID string) (telephony.ChannelData, error) {
	ch, err := s.channel(ctx, callID)
	if err != nil {
		return telephony.ChannelData{}, err
	}
	if !ch.IsLocalSide1() {
		return ch, nil
	}

	groupCallee, err := s.projector.channelVar(ctx, ch, varRecordGroupCallee)
	if err != nil {
		return telephony.ChannelData{}, err
	}
	if groupCallee != "1" && !strings.Contains(ch.Name, "agentcallback") {
		return ch, nil
	}
	match, err := s.projector.channelVar(ctx, ch, varLocalChanMatchUUID)
	if err != nil {
		return telephony.ChannelData{}, err
	}
	if match == "" {
		return ch, nil
	}

	channels, err := s.backend.ListChannels(ctx)
	if err != nil {
		return telephony.ChannelData{}, fmt.Errorf("calls: list channels: %w", err)
	}
	for _, candidate := range channels {
		if candidate.ID == ch.ID || candidate.IsLocal() {
			continue
		}
		candidateMatch, err := s.projector.channelVar(ctx, candidate, varLocalChanMatchUUID)
		if err != nil {
			if errors.Is(err, ErrNoSuchCall) {
				continue
			}
			return telephony.ChannelData{}, err
		}
		if candidateMatch != match {
			continue
		}
		side, err := s.projector.channelVar(ctx, candidate, varRecordSide)
		if err != nil {
			if errors.Is(err, ErrNoSuchCall) {
				continue
			}
			return telephony.ChannelData{}, err
		}
		if side != "caller" {
			return candidate, nil
		}
	}
	return ch, nil
}
