package calls

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"calld/internal/telephony"
	"calld/pkg/logger"
)

// Event is a flat backend event as received from the bus.
type Event map[string]string

// EventHandler keeps call metadata in step with backend events and relays
// the resulting call notifications.
type EventHandler struct {
	svc *Service
	now func() time.Time
}

func NewEventHandler(svc *Service) *EventHandler {
	return &EventHandler{svc: svc, now: time.Now}
}

// Handlers maps bus event names to handler functions.
func (h *EventHandler) Handlers() map[string]func(context.Context, Event) {
	return map[string]func(context.Context, Event){
		"Newchannel":       h.Newchannel,
		"Newstate":         h.Newstate,
		"NewConnectedLine": h.NewConnectedLine,
		"Hold":             h.Hold,
		"Unhold":           h.Unhold,
		"Hangup":           h.Hangup,
		"UserEvent":        h.UserEvent,
		"DTMFEnd":          h.DTMFEnd,
		"BridgeEnter":      h.BridgeEnter,
		"BridgeLeave":      h.BridgeLeave,
		"MixMonitorStart":  h.MixMonitorStart,
		"MixMonitorStop":   h.MixMonitorStop,
	}
}

// Newchannel stamps the SIP Call-ID of new SIP channels and relays
// call_created for non-Local channels.
func (h *EventHandler) Newchannel(ctx context.Context, ev Event) {
	callID, name := ev["Uniqueid"], ev["Channel"]
	if callID == "" {
		return
	}
	if telephony.IsSIPChannelName(name) {
		h.stampSIPCallID(ctx, callID)
	}
	if telephony.IsLocalChannelName(name) {
		return
	}
	call, ok := h.liveCall(ctx, "call_created", callID)
	if !ok {
		return
	}
	h.settleDirection(ctx, &call)
	h.svc.notify(ctx, "call_created", call, h.svc.notifier.CallCreated)
}

func (h *EventHandler) stampSIPCallID(ctx context.Context, callID string) {
	v, err := h.svc.backend.GetChannelVar(ctx, callID, telephony.SIPCallIDVar)
	if err != nil {
		if !errors.Is(err, telephony.ErrChannelNotFound) && !errors.Is(err, telephony.ErrVariableNotFound) {
			logger.From(ctx).Debug("read sip call id failed", "call_id", callID, "err", err)
		}
		return
	}
	if v != "" {
		h.setVar(ctx, callID, varSIPCallID, v)
	}
}

func (h *EventHandler) NewConnectedLine(ctx context.Context, ev Event) {
	if telephony.IsLocalChannelName(ev["Channel"]) {
		return
	}
	h.relayUpdated(ctx, ev["Uniqueid"])
}

// relayUpdated notifies call_updated for a live, non-autoprov call.
func (h *EventHandler) relayUpdated(ctx context.Context, callID string) {
	if callID == "" {
		return
	}
	call, ok := h.liveCall(ctx, "call_updated", callID)
	if !ok {
		return
	}
	h.svc.notify(ctx, "call_updated", call, h.svc.notifier.CallUpdated)
}

// liveCall projects callID, skipping vanished channels and devices still
// in provisioning.
func (h *EventHandler) liveCall(ctx context.Context, name, callID string) (Call, bool) {
	call, err := h.svc.reproject(ctx, callID)
	if err != nil {
		if !errors.Is(err, ErrNoSuchCall) {
			logger.From(ctx).Warn("project call failed", "event", name, "call_id", callID, "err", err)
		}
		return Call{}, false
	}
	if call.IsAutoprov {
		return Call{}, false
	}
	return call, true
}

// settleDirection resolves an unknown conversation direction from the
// call's own leg and caches it on the channel.
func (h *EventHandler) settleDirection(ctx context.Context, call *Call) {
	if knownDirection(call.Direction) {
		return
	}
	dir, err := h.svc.projector.DirectionFromChannels(ctx, []string{call.CallID})
	if err != nil {
		logger.From(ctx).Warn("direction lookup failed", "call_id", call.CallID, "err", err)
		return
	}
	h.setVar(ctx, call.CallID, varConversationDirection, string(dir))
	call.Direction = dir
}

func knownDirection(d Direction) bool {
	switch d {
	case DirectionInbound, DirectionOutbound, DirectionInternal:
		return true
	}
	return false
}

// UserEvent resolves dial echoes emitted by the mobile origination dialplan.
func (h *EventHandler) UserEvent(ctx context.Context, ev Event) {
	if ev["UserEvent"] != "dial_echo" {
		return
	}
	requestID, channelID := ev["accent_dial_echo_request_id"], ev["channel_id"]
	if !h.svc.echoes.Resolve(requestID, channelID) {
		logger.From(ctx).Debug("dial echo for unknown request", "request_id", requestID, "channel_id", channelID)
	}
}

// Newstate relays call_updated for non-Local channels, and on Up stamps
// the answer time and relays call_answered.
func (h *EventHandler) Newstate(ctx context.Context, ev Event) {
	if telephony.IsLocalChannelName(ev["Channel"]) {
		return
	}
	callID := ev["Uniqueid"]
	h.relayUpdated(ctx, callID)
	if ev["ChannelStateDesc"] != "Up" {
		return
	}
	answered := h.now().UTC().Format(time.RFC3339Nano)
	if !h.setVar(ctx, callID, varAnswerTime, answered) {
		return
	}
	call, ok := h.liveCall(ctx, "call_answered", callID)
	if !ok {
		return
	}
	h.settleDirection(ctx, &call)
	h.svc.notify(ctx, "call_answered", call, h.svc.notifier.CallAnswered)
}

func (h *EventHandler) Hold(ctx context.Context, ev Event) {
	callID := ev["Uniqueid"]
	if !h.setVar(ctx, callID, varOnHold, "1") {
		return
	}
	h.relay(ctx, "call_held", callID, h.svc.notifier.CallHeld)
}

func (h *EventHandler) Unhold(ctx context.Context, ev Event) {
	callID := ev["Uniqueid"]
	if !h.setVar(ctx, callID, varOnHold, "") {
		return
	}
	h.relay(ctx, "call_resumed", callID, h.svc.notifier.CallResumed)
}

// Hangup relays call_ended, projected from the event itself since the
// channel can no longer be queried.
func (h *EventHandler) Hangup(ctx context.Context, ev Event) {
	callID := ev["Uniqueid"]
	if callID == "" || telephony.IsLocalChannelName(ev["Channel"]) {
		return
	}
	dead := destroyedFromEvent(ev)
	if dead.Channel.Dialplan.Context == autoprovContext {
		return
	}
	peers, err := h.conversationPeers(ctx, dead.Channel)
	if err != nil {
		logger.From(ctx).Warn("list conversation peers failed", "call_id", callID, "err", err)
	}
	dead.ConnectedChannelIDs = peers
	dead.HangupTime = h.now().UTC()

	call, err := h.svc.projector.ProjectDestroyed(ctx, dead)
	if err != nil {
		logger.From(ctx).Warn("project ended call failed", "call_id", callID, "err", err)
		return
	}
	h.svc.notify(ctx, "call_ended", call, h.svc.notifier.CallEnded)
}

// destroyedFromEvent rebuilds the final snapshot of a channel from a
// Hangup event. Channel variables travel as "ChanVariable(NAME)" fields.
func destroyedFromEvent(ev Event) DestroyedChannel {
	vars := make(map[string]string)
	for k, v := range ev {
		if name, ok := strings.CutPrefix(k, "ChanVariable("); ok && strings.HasSuffix(name, ")") {
			vars[strings.TrimSuffix(name, ")")] = v
		}
	}
	if linked := ev["Linkedid"]; linked != "" {
		vars[varLinkedID] = linked
	}
	prio, _ := strconv.ParseInt(ev["Priority"], 10, 64)
	return DestroyedChannel{
		Channel: telephony.ChannelData{
			ID:        ev["Uniqueid"],
			Name:      ev["Channel"],
			State:     ev["ChannelStateDesc"],
			Caller:    telephony.CallerID{Name: ev["CallerIDName"], Number: ev["CallerIDNum"]},
			Connected: telephony.CallerID{Name: ev["ConnectedLineName"], Number: ev["ConnectedLineNum"]},
			Dialplan:  telephony.DialplanCEP{Context: ev["Context"], Exten: ev["Exten"], Priority: prio},
			Variables: vars,
		},
	}
}

// conversationPeers lists the live channels sharing ch's conversation.
func (h *EventHandler) conversationPeers(ctx context.Context, ch telephony.ChannelData) ([]string, error) {
	linked := ch.Var(varLinkedID)
	if linked == "" {
		return nil, nil
	}
	channels, err := h.svc.backend.ListChannels(ctx)
	if err != nil {
		return nil, err
	}
	var peers []string
	for _, other := range channels {
		if other.ID == ch.ID {
			continue
		}
		v, err := h.svc.projector.channelVar(ctx, other, varLinkedID)
		if err != nil {
			if errors.Is(err, ErrNoSuchCall) {
				continue
			}
			return peers, err
		}
		if v == linked {
			peers = append(peers, other.ID)
		}
	}
	return peers, nil
}

// DTMFEnd relays a digit received on a channel.
func (h *EventHandler) DTMFEnd(ctx context.Context, ev Event) {
	callID, digit := ev["Uniqueid"], ev["Digit"]
	if callID == "" || digit == "" {
		return
	}
	call, err := h.partialCall(ctx, callID)
	if err != nil {
		if !errors.Is(err, ErrNoSuchCall) {
			logger.From(ctx).Warn("read dtmf channel failed", "call_id", callID, "err", err)
		}
		return
	}
	if err := h.svc.notifier.CallDTMF(ctx, call, digit); err != nil {
		logger.From(ctx).Warn("notification failed", "event", "call_dtmf", "call_id", callID, "err", err)
	}
}

// partialCall carries only the identity and ownership of a call.
func (h *EventHandler) partialCall(ctx context.Context, callID string) (Call, error) {
	ch, err := h.svc.channel(ctx, callID)
	if err != nil {
		return Call{}, err
	}
	tenant, err := h.svc.projector.channelVar(ctx, ch, varTenantUUID)
	if err != nil {
		return Call{}, err
	}
	user, err := h.svc.projector.channelVar(ctx, ch, varUserUUID)
	if err != nil {
		return Call{}, err
	}
	return Call{CallID: callID, TenantUUID: tenant, UserUUID: user}, nil
}

// BridgeEnter refreshes the conversation direction of every participant
// once a bridge holds more than one channel.
func (h *EventHandler) BridgeEnter(ctx context.Context, ev Event) {
	if n, _ := strconv.Atoi(ev["BridgeNumChannels"]); n <= 1 {
		return
	}
	h.bridgeChanged(ctx, ev["BridgeUniqueid"])
}

// BridgeLeave does the same for the channels left behind.
func (h *EventHandler) BridgeLeave(ctx context.Context, ev Event) {
	if n, _ := strconv.Atoi(ev["BridgeNumChannels"]); n == 0 {
		return
	}
	h.bridgeChanged(ctx, ev["BridgeUniqueid"])
}

func (h *EventHandler) bridgeChanged(ctx context.Context, bridgeID string) {
	log := logger.From(ctx).With("bridge_id", bridgeID)
	bridges, err := h.svc.backend.ListBridges(ctx)
	if err != nil {
		log.Warn("list bridges failed", "err", err)
		return
	}
	var participants []string
	found := false
	for _, b := range bridges {
		if b.ID == bridgeID {
			participants, found = b.ChannelIDs, true
			break
		}
	}
	if !found {
		log.Debug("bridge not found")
		return
	}

	channels := make([]telephony.ChannelData, 0, len(participants))
	for _, id := range participants {
		ch, err := h.svc.channel(ctx, id)
		if err != nil {
			// a participant is already gone; the next bridge event catches up
			return
		}
		channels = append(channels, ch)
	}
	dir, err := h.svc.projector.DirectionFromChannels(ctx, participants)
	if err != nil {
		log.Warn("direction lookup failed", "err", err)
		return
	}
	for _, ch := range channels {
		call, err := h.svc.projector.Project(ctx, ch, bridges)
		if err != nil {
			if !errors.Is(err, ErrNoSuchCall) {
				log.Warn("project call failed", "call_id", ch.ID, "err", err)
			}
			continue
		}
		if call.Direction != dir {
			h.setVar(ctx, ch.ID, varConversationDirection, string(dir))
			call.Direction = dir
		}
		h.svc.notify(ctx, "call_updated", call, h.svc.notifier.CallUpdated)
	}
}

func (h *EventHandler) MixMonitorStart(ctx context.Context, ev Event) {
	h.recording(ctx, ev["Uniqueid"], "1")
}

func (h *EventHandler) MixMonitorStop(ctx context.Context, ev Event) {
	h.recording(ctx, ev["Uniqueid"], "0")
}

func (h *EventHandler) recording(ctx context.Context, callID, active string) {
	if !h.setVar(ctx, callID, varRecordActive, active) {
		return
	}
	h.relay(ctx, "call_updated", callID, h.svc.notifier.CallUpdated)
}

// setVar reports whether the variable was set; a channel that is already
// gone is silently skipped.
func (h *EventHandler) setVar(ctx context.Context, callID, name, value string) bool {
	if callID == "" {
		return false
	}
	if err := h.svc.backend.SetChannelVar(ctx, callID, name, value); err != nil {
		if !errors.Is(err, telephony.ErrChannelNotFound) {
			logger.From(ctx).Warn("set channel variable failed", "call_id", callID, "variable", name, "err", err)
		}
		return false
	}
	return true
}

func (h *EventHandler) relay(ctx context.Context, name, callID string, send func(context.Context, Call) error) {
	call, err := h.svc.reproject(ctx, callID)
	if err != nil {
		if !errors.Is(err, ErrNoSuchCall) {
			logger.From(ctx).Warn("project call failed", "event", name, "call_id", callID, "err", err)
		}
		return
	}
	h.svc.notify(ctx, name, call, send)
}
