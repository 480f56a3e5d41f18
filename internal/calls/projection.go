package calls

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"calld/internal/telephony"
)

// Projector turns backend channels into Call values.
type Projector struct {
	backend telephony.Backend
	now     func() time.Time
}

func NewProjector(backend telephony.Backend) *Projector {
	return &Projector{backend: backend, now: time.Now}
}

// channelVar reads a variable from the snapshot, then from the backend.
// An absent variable reads as "". A vanished channel is ErrNoSuchCall.
func (p *Projector) channelVar(ctx context.Context, ch telephony.ChannelData, name string) (string, error) {
	if v, ok := ch.LookupVar(name); ok {
		return v, nil
	}
	v, err := p.backend.GetChannelVar(ctx, ch.ID, name)
	switch {
	case err == nil:
		return v, nil
	case errors.Is(err, telephony.ErrVariableNotFound):
		return "", nil
	case errors.Is(err, telephony.ErrChannelNotFound):
		return "", noSuchCall(ch.ID)
	default:
		return "", fmt.Errorf("calls: read %s on %s: %w", name, ch.ID, err)
	}
}

// Project builds the Call for ch. bridges is the current bridge list; pass
// the same slice when projecting many channels at once.
func (p *Projector) Project(ctx context.Context, ch telephony.ChannelData, bridges []telephony.BridgeData) (Call, error) {
	vars := make(map[string]string, 16)
	for _, name := range []string{
		varTenantUUID, varUserUUID, varDereferencedUserUUID,
		varMuted, varOnHold, varRecordActive, varAnswerTime,
		varConversationDirection, varChannelDirection,
		varEntryExten, varLineID, varLinkedID,
	} {
		v, err := p.channelVar(ctx, ch, name)
		if err != nil {
			return Call{}, err
		}
		vars[name] = v
	}

	call := Call{
		CallID:             ch.ID,
		ConversationID:     vars[varLinkedID],
		CreationTime:       ch.CreationTime,
		AnswerTime:         parseAnswerTime(vars[varAnswerTime]),
		Status:             ch.State,
		IsLocal:            ch.IsLocal(),
		CallerIDName:       ch.Caller.Name,
		CallerIDNumber:     ch.Caller.Number,
		PeerCallerIDName:   ch.Connected.Name,
		PeerCallerIDNumber: ch.Connected.Number,
		UserUUID:           channelUser(ch, vars),
		TenantUUID:         vars[varTenantUUID],
		OnHold:             vars[varOnHold] == "1",
		Muted:              vars[varMuted] == "1",
		RecordState:        recordState(vars[varRecordActive]),
		Bridges:            []string{},
		TalkingTo:          map[string]*string{},
		IsCaller:           vars[varChannelDirection] == channelDirectionToPlatform,
		IsVideo:            isVideo(ch),
		IsAutoprov:         ch.Dialplan.Context == autoprovContext,
		DialedExtension:    vars[varEntryExten],
		LineID:             parseLineID(vars[varLineID]),
	}
	if call.ConversationID == "" {
		call.ConversationID = ch.ID
	}

	var connected []string
	seen := map[string]bool{ch.ID: true}
	for _, b := range bridges {
		if !b.Has(ch.ID) {
			continue
		}
		call.Bridges = append(call.Bridges, b.ID)
		if strings.HasPrefix(b.Name, parkingBridgePrefix) {
			call.Parked = true
		}
		for _, id := range b.ChannelIDs {
			if !seen[id] {
				seen[id] = true
				connected = append(connected, id)
			}
		}
	}
	sort.Strings(connected)

	for _, id := range connected {
		owner, err := p.peerUser(ctx, id)
		if err != nil {
			return Call{}, err
		}
		call.TalkingTo[id] = owner
	}

	if telephony.IsSIPChannelName(ch.Name) {
		sipCallID, err := p.channelVar(ctx, ch, varSIPCallID)
		if err != nil {
			return Call{}, err
		}
		call.SIPCallID = sipCallID
	}

	if d := vars[varConversationDirection]; d != "" {
		call.Direction = Direction(d)
	} else {
		dir, err := p.DirectionFromChannels(ctx, append([]string{ch.ID}, connected...))
		if err != nil {
			return Call{}, err
		}
		call.Direction = dir
	}
	return call, nil
}

// peerUser returns the owner of a connected channel, or nil for Local,
// anonymous and vanished peers.
func (p *Projector) peerUser(ctx context.Context, channelID string) (*string, error) {
	peer, err := p.backend.GetChannel(ctx, channelID)
	if err != nil {
		if errors.Is(err, telephony.ErrChannelNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("calls: read peer %s: %w", channelID, err)
	}
	if peer.IsLocal() {
		return nil, nil
	}
	user, err := p.channelVar(ctx, peer, varUserUUID)
	if err != nil {
		if errors.Is(err, ErrNoSuchCall) {
			return nil, nil
		}
		return nil, err
	}
	if user == "" {
		return nil, nil
	}
	return &user, nil
}

// DirectionFromChannels reduces the per-leg call directions of channelIDs.
// Channels or variables that are gone do not contribute.
func (p *Projector) DirectionFromChannels(ctx context.Context, channelIDs []string) (Direction, error) {
	dirs, err := p.directions(ctx, nil, channelIDs)
	if err != nil {
		return "", err
	}
	return DirectionFromDirections(dirs), nil
}

func (p *Projector) directions(ctx context.Context, dirs []string, channelIDs []string) ([]string, error) {
	for _, id := range channelIDs {
		v, err := p.backend.GetChannelVar(ctx, id, varCallDirection)
		switch {
		case err == nil:
			dirs = append(dirs, v)
		case errors.Is(err, telephony.ErrChannelNotFound), errors.Is(err, telephony.ErrVariableNotFound):
		default:
			return nil, fmt.Errorf("calls: read direction of %s: %w", id, err)
		}
	}
	return dirs, nil
}

// DirectionFromDirections reduces leg directions to a conversation
// direction: both inbound and outbound is unknown, otherwise any outbound
// or inbound leg wins, and no external leg means internal.
func DirectionFromDirections(dirs []string) Direction {
	var in, out bool
	for _, d := range dirs {
		switch Direction(d) {
		case DirectionInbound:
			in = true
		case DirectionOutbound:
			out = true
		}
	}
	switch {
	case in && out:
		return DirectionUnknown
	case out:
		return DirectionOutbound
	case in:
		return DirectionInbound
	default:
		return DirectionInternal
	}
}

// DestroyedChannel is the last known state of a channel that hung up.
type DestroyedChannel struct {
	Channel             telephony.ChannelData
	ConnectedChannelIDs []string
	HangupTime          time.Time
}

// ProjectDestroyed builds the Call of a channel that no longer exists,
// from its final snapshot. Only the connected channels are queried.
func (p *Projector) ProjectDestroyed(ctx context.Context, ev DestroyedChannel) (Call, error) {
	call := ProjectDeadChannel(ev.Channel)
	hangup := ev.HangupTime
	if hangup.IsZero() {
		hangup = p.now().UTC()
	}
	call.HangupTime = &hangup

	if ev.Channel.Var(varConversationDirection) == "" {
		dirs, err := p.directions(ctx, []string{ev.Channel.Var(varCallDirection)}, ev.ConnectedChannelIDs)
		if err != nil {
			return Call{}, err
		}
		call.Direction = DirectionFromDirections(dirs)
	}
	return call, nil
}

// ProjectDeadChannel builds a Call from a snapshot alone, without touching
// the backend. Unknown values take their zero value.
func ProjectDeadChannel(ch telephony.ChannelData) Call {
	call := Call{
		CallID:             ch.ID,
		ConversationID:     ch.Var(varLinkedID),
		CreationTime:       ch.CreationTime,
		AnswerTime:         parseAnswerTime(ch.Var(varAnswerTime)),
		Status:             ch.State,
		IsLocal:            ch.IsLocal(),
		CallerIDName:       ch.Caller.Name,
		CallerIDNumber:     ch.Caller.Number,
		PeerCallerIDName:   ch.Connected.Name,
		PeerCallerIDNumber: ch.Connected.Number,
		UserUUID:           channelUser(ch, ch.Variables),
		TenantUUID:         ch.Var(varTenantUUID),
		OnHold:             ch.Var(varOnHold) == "1",
		Muted:              ch.Var(varMuted) == "1",
		RecordState:        recordState(ch.Var(varRecordActive)),
		Bridges:            []string{},
		TalkingTo:          map[string]*string{},
		IsCaller:           ch.Var(varChannelDirection) == channelDirectionToPlatform,
		IsVideo:            isVideo(ch),
		IsAutoprov:         ch.Dialplan.Context == autoprovContext,
		DialedExtension:    ch.Var(varEntryExten),
		LineID:             parseLineID(ch.Var(varLineID)),
		Direction:          DirectionUnknown,
	}
	if call.ConversationID == "" {
		call.ConversationID = ch.ID
	}
	if telephony.IsSIPChannelName(ch.Name) {
		call.SIPCallID = ch.Var(varSIPCallID)
	}
	if d := ch.Var(varConversationDirection); d != "" {
		call.Direction = Direction(d)
	}
	return call
}

// channelUser is the owner of a channel: the dereferenced user when set,
// else the user tag of a non-Local channel.
func channelUser(ch telephony.ChannelData, vars map[string]string) string {
	if u := vars[varDereferencedUserUUID]; u != "" {
		return u
	}
	if ch.IsLocal() {
		return ""
	}
	return vars[varUserUUID]
}

func recordState(active string) RecordState {
	if active == "1" {
		return RecordActive
	}
	return RecordInactive
}

func isVideo(ch telephony.ChannelData) bool {
	v, ok := ch.LookupVar(varVideoNativeFormat)
	return ok && v != "" && v != noVideoFormat
}

func parseAnswerTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil
	}
	return &t
}

func parseLineID(v string) *int {
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &n
}
