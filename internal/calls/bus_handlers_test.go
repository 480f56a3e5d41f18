package calls

import (
	"context"
	"testing"
	"time"

	"calld/internal/telephony"
)

func TestEventHandler_DialEcho(t *testing.T) {
	f := newFixture(t, Options{})
	h := NewEventHandler(f.svc)
	id := f.echoes.NewRequest()

	h.Handlers()["UserEvent"](context.Background(), Event{
		"UserEvent":                   "dial_echo",
		"accent_dial_echo_request_id": id,
		"channel_id":                  "c9",
	})
	got, err := f.echoes.Wait(context.Background(), id, time.Second)
	if err != nil || got != "c9" {
		t.Fatalf("expected c9, got %q err=%v", got, err)
	}

	// other user events are ignored
	id = f.echoes.NewRequest()
	h.UserEvent(context.Background(), Event{"UserEvent": "other", "accent_dial_echo_request_id": id, "channel_id": "c9"})
	if _, err := f.echoes.Wait(context.Background(), id, 10*time.Millisecond); err == nil {
		t.Fatalf("expected unrelated user event to resolve nothing")
	}
}

func TestEventHandler_HoldUnhold(t *testing.T) {
	f := newFixture(t, Options{})
	f.addCall("c1", "PJSIP/alice-00000001", owned("t1", "alice"))
	h := NewEventHandler(f.svc)
	ctx := context.Background()

	h.Hold(ctx, Event{"Uniqueid": "c1"})
	if !f.notes.Last().OnHold {
		t.Fatalf("expected held call")
	}
	h.Unhold(ctx, Event{"Uniqueid": "c1"})
	if f.notes.Last().OnHold {
		t.Fatalf("expected resumed call")
	}
	ev := f.notes.Events()
	if len(ev) != 2 || ev[0] != "call_held c1" || ev[1] != "call_resumed c1" {
		t.Fatalf("unexpected notifications: %v", ev)
	}
}

func TestEventHandler_Answered(t *testing.T) {
	f := newFixture(t, Options{})
	f.addCall("c1", "PJSIP/alice-00000001", owned("t1", "alice"))
	f.addCall("l1", "Local/x@ctx-00000002;1", owned("t1", "alice"))
	h := NewEventHandler(f.svc)
	answered := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	h.now = func() time.Time { return answered }
	ctx := context.Background()

	h.Newstate(ctx, Event{"ChannelStateDesc": "Ringing", "Channel": "PJSIP/alice-00000001", "Uniqueid": "c1"})
	h.Newstate(ctx, Event{"ChannelStateDesc": "Up", "Channel": "Local/x@ctx-00000002;1", "Uniqueid": "l1"})
	ev := f.notes.Events()
	if len(ev) != 1 || ev[0] != "call_updated c1" {
		t.Fatalf("expected ringing relayed as an update and Local channels ignored, got %v", ev)
	}
	if f.notes.Last().AnswerTime != nil {
		t.Fatalf("expected no answer time while ringing")
	}

	h.Newstate(ctx, Event{"ChannelStateDesc": "Up", "Channel": "PJSIP/alice-00000001", "Uniqueid": "c1"})
	ev = f.notes.Events()
	if len(ev) != 3 || ev[1] != "call_updated c1" || ev[2] != "call_answered c1" {
		t.Fatalf("unexpected notifications: %v", ev)
	}
	if at := f.notes.Last().AnswerTime; at == nil || !at.Equal(answered) {
		t.Fatalf("unexpected answer time: %v", at)
	}
}

func TestEventHandler_Recording(t *testing.T) {
	f := newFixture(t, Options{})
	f.addCall("c1", "PJSIP/alice-00000001", owned("t1", "alice"))
	h := NewEventHandler(f.svc)
	ctx := context.Background()

	h.MixMonitorStart(ctx, Event{"Uniqueid": "c1"})
	if f.notes.Last().RecordState != RecordActive {
		t.Fatalf("expected active recording")
	}
	h.MixMonitorStop(ctx, Event{"Uniqueid": "c1"})
	if f.notes.Last().RecordState != RecordInactive {
		t.Fatalf("expected inactive recording")
	}
}

func TestEventHandler_VanishedChannel(t *testing.T) {
	f := newFixture(t, Options{})
	h := NewEventHandler(f.svc)

	h.Hold(context.Background(), Event{"Uniqueid": "gone"})
	h.MixMonitorStart(context.Background(), Event{})
	if len(f.notes.Events()) != 0 {
		t.Fatalf("expected no notifications, got %v", f.notes.Events())
	}
}

func TestEventHandler_Newchannel(t *testing.T) {
	f := newFixture(t, Options{})
	vars := owned("t1", "alice")
	vars[telephony.SIPCallIDVar] = "abc123@pbx"
	f.addCall("c1", "PJSIP/alice-00000001", vars)
	f.addCall("l1", "Local/x@ctx-00000002;1", owned("t1", "alice"))
	f.backend.AddChannel(telephony.ChannelData{
		ID:       "p1",
		Name:     "PJSIP/newphone-00000003",
		Dialplan: telephony.DialplanCEP{Context: "accent-provisioning"},
	})
	h := NewEventHandler(f.svc)
	ctx := context.Background()

	h.Newchannel(ctx, Event{"Channel": "Local/x@ctx-00000002;1", "Uniqueid": "l1"})
	h.Newchannel(ctx, Event{"Channel": "PJSIP/newphone-00000003", "Uniqueid": "p1"})
	h.Newchannel(ctx, Event{"Channel": "PJSIP/gone-00000004", "Uniqueid": "gone"})
	if len(f.notes.Events()) != 0 {
		t.Fatalf("expected Local, provisioning and vanished channels to be ignored, got %v", f.notes.Events())
	}

	h.Newchannel(ctx, Event{"Channel": "PJSIP/alice-00000001", "Uniqueid": "c1"})
	if got, _ := f.backend.GetChannelVar(ctx, "c1", varSIPCallID); got != "abc123@pbx" {
		t.Fatalf("expected sip call id stamped, got %q", got)
	}
	ev := f.notes.Events()
	if len(ev) != 1 || ev[0] != "call_created c1" {
		t.Fatalf("unexpected notifications: %v", ev)
	}
	if f.notes.Last().SIPCallID != "abc123@pbx" {
		t.Fatalf("expected created call to carry the sip call id, got %+v", f.notes.Last())
	}
}

func TestEventHandler_NewchannelCachesUnknownDirection(t *testing.T) {
	f := newFixture(t, Options{})
	f.addCall("c1", "PJSIP/alice-00000001", map[string]string{varCallDirection: "inbound"})
	f.addCall("c2", "PJSIP/trunk-00000002", map[string]string{varCallDirection: "outbound"})
	f.backend.AddBridge(telephony.BridgeData{ID: "b1", ChannelIDs: []string{"c1", "c2"}})
	h := NewEventHandler(f.svc)
	ctx := context.Background()

	h.Newchannel(ctx, Event{"Channel": "PJSIP/alice-00000001", "Uniqueid": "c1"})
	if got := f.notes.Last().Direction; got != DirectionInbound {
		t.Fatalf("expected direction from the call's own leg, got %q", got)
	}
	if got, _ := f.backend.GetChannelVar(ctx, "c1", varConversationDirection); got != "inbound" {
		t.Fatalf("expected direction cached, got %q", got)
	}
}

func TestEventHandler_NewConnectedLine(t *testing.T) {
	f := newFixture(t, Options{})
	f.addCall("c1", "PJSIP/alice-00000001", owned("t1", "alice"))
	h := NewEventHandler(f.svc)

	h.NewConnectedLine(context.Background(), Event{"Channel": "PJSIP/alice-00000001", "Uniqueid": "c1"})
	ev := f.notes.Events()
	if len(ev) != 1 || ev[0] != "call_updated c1" {
		t.Fatalf("unexpected notifications: %v", ev)
	}
}

func TestEventHandler_BridgeEnter(t *testing.T) {
	f := newFixture(t, Options{})
	f.addCall("c1", "PJSIP/alice-00000001", map[string]string{
		varCallDirection:         "inbound",
		varConversationDirection: "internal",
	})
	f.addCall("c2", "PJSIP/bob-00000002", owned("t1", "bob"))
	f.backend.AddBridge(telephony.BridgeData{ID: "b1", ChannelIDs: []string{"c1", "c2"}})
	h := NewEventHandler(f.svc)
	ctx := context.Background()

	h.BridgeEnter(ctx, Event{"BridgeUniqueid": "b1", "BridgeNumChannels": "1", "Uniqueid": "c1"})
	h.BridgeEnter(ctx, Event{"BridgeUniqueid": "nope", "BridgeNumChannels": "2", "Uniqueid": "c1"})
	if len(f.notes.Events()) != 0 {
		t.Fatalf("expected lone channel and unknown bridge to be ignored, got %v", f.notes.Events())
	}

	h.BridgeEnter(ctx, Event{"BridgeUniqueid": "b1", "BridgeNumChannels": "2", "Uniqueid": "c2"})
	ev := f.notes.Events()
	if len(ev) != 2 || ev[0] != "call_updated c1" || ev[1] != "call_updated c2" {
		t.Fatalf("unexpected notifications: %v", ev)
	}
	if got, _ := f.backend.GetChannelVar(ctx, "c1", varConversationDirection); got != "inbound" {
		t.Fatalf("expected stale direction replaced, got %q", got)
	}
	if f.notes.Last().Direction != DirectionInbound {
		t.Fatalf("expected every participant to report inbound, got %q", f.notes.Last().Direction)
	}
}

func TestEventHandler_BridgeLeave(t *testing.T) {
	f := newFixture(t, Options{})
	f.addCall("c2", "PJSIP/bob-00000002", owned("t1", "bob"))
	f.backend.AddBridge(telephony.BridgeData{ID: "b1", ChannelIDs: []string{"c2"}})
	h := NewEventHandler(f.svc)
	ctx := context.Background()

	h.BridgeLeave(ctx, Event{"BridgeUniqueid": "b1", "BridgeNumChannels": "0", "Uniqueid": "c1"})
	if len(f.notes.Events()) != 0 {
		t.Fatalf("expected empty bridge to be ignored")
	}
	h.BridgeLeave(ctx, Event{"BridgeUniqueid": "b1", "BridgeNumChannels": "1", "Uniqueid": "c1"})
	ev := f.notes.Events()
	if len(ev) != 1 || ev[0] != "call_updated c2" {
		t.Fatalf("unexpected notifications: %v", ev)
	}
}

func TestEventHandler_DTMFEnd(t *testing.T) {
	f := newFixture(t, Options{})
	f.addCall("c1", "PJSIP/alice-00000001", owned("t1", "alice"))
	h := NewEventHandler(f.svc)

	h.DTMFEnd(context.Background(), Event{"Uniqueid": "c1", "Digit": "5"})
	h.DTMFEnd(context.Background(), Event{"Uniqueid": "gone", "Digit": "6"})
	ev := f.notes.Events()
	if len(ev) != 1 || ev[0] != "call_dtmf c1" {
		t.Fatalf("unexpected notifications: %v", ev)
	}
	if len(f.notes.digits) != 1 || f.notes.digits[0] != "5" {
		t.Fatalf("unexpected digits: %v", f.notes.digits)
	}
	if c := f.notes.Last(); c.UserUUID != "alice" || c.TenantUUID != "t1" {
		t.Fatalf("unexpected ownership: %+v", c)
	}
}

func TestEventHandler_Hangup(t *testing.T) {
	f := newFixture(t, Options{})
	f.addCall("c2", "PJSIP/trunk-00000002", map[string]string{varLinkedID: "c1", varCallDirection: "outbound"})
	f.addCall("c3", "PJSIP/carol-00000003", map[string]string{varLinkedID: "other", varCallDirection: "inbound"})
	h := NewEventHandler(f.svc)
	ended := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	h.now = func() time.Time { return ended }
	ctx := context.Background()

	h.Hangup(ctx, Event{"Channel": "Local/x@ctx-00000004;1", "Uniqueid": "l1"})
	if len(f.notes.Events()) != 0 {
		t.Fatalf("expected Local hangup to be ignored")
	}

	h.Hangup(ctx, Event{
		"Channel":                             "PJSIP/alice-00000001",
		"Uniqueid":                            "c1",
		"Linkedid":                            "c1",
		"ChannelStateDesc":                    "Up",
		"CallerIDNum":                         "1001",
		"ConnectedLineNum":                    "5551234",
		"ChanVariable(ACCENT_USERUUID)":       "alice",
		"ChanVariable(ACCENT_TENANT_UUID)":    "t1",
		"ChanVariable(ACCENT_CALL_DIRECTION)": "inbound",
	})
	ev := f.notes.Events()
	if len(ev) != 1 || ev[0] != "call_ended c1" {
		t.Fatalf("unexpected notifications: %v", ev)
	}
	call := f.notes.Last()
	if call.HangupTime == nil || !call.HangupTime.Equal(ended) {
		t.Fatalf("unexpected hangup time: %v", call.HangupTime)
	}
	if call.UserUUID != "alice" || call.TenantUUID != "t1" || call.ConversationID != "c1" {
		t.Fatalf("unexpected identity: %+v", call)
	}
	if call.CallerIDNumber != "1001" || call.PeerCallerIDNumber != "5551234" {
		t.Fatalf("unexpected caller ids: %+v", call)
	}
	if call.Direction != DirectionUnknown {
		t.Fatalf("expected the live outbound peer to make the direction unknown, got %q", call.Direction)
	}
}
