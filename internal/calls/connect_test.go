package calls

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"calld/internal/statecache"
	"calld/internal/telephony"
)

func connectFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t, Options{Application: "callcontrol"})
	f.addCall("c1", "PJSIP/caller-00000001", owned("t1", "carol"))
	f.addUser("t1", "bob", "")
	f.backend.SetGlobalVar(statecache.GlobalVarPrefix+"c1", `{"app":"callcontrol","app_instance":"inst-1","state":"talking"}`)
	return f
}

func TestConnectUser_Unbound(t *testing.T) {
	f := newFixture(t, Options{})
	f.addCall("c1", "PJSIP/caller-00000001", owned("t1", "carol"))
	f.addUser("t1", "bob", "")

	_, err := f.svc.ConnectUser(context.Background(), "t1", "c1", "bob", 0)
	if !errors.Is(err, ErrCallConnect) {
		t.Fatalf("expected ErrCallConnect, got %v", err)
	}
	if _, err := f.svc.ConnectUser(context.Background(), "t2", "c1", "bob", 0); !errors.Is(err, ErrNoSuchCall) {
		t.Fatalf("expected ErrNoSuchCall across tenants, got %v", err)
	}
}

func TestConnectUser_Origination(t *testing.T) {
	f := connectFixture(t)

	legID, err := f.svc.ConnectUser(context.Background(), "t1", "c1", "bob", 30*time.Second)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	o := f.backend.Originated()[0]
	if o.Endpoint != "PJSIP/bob-line" || o.App != "callcontrol" || o.Originator != "c1" || o.Timeout != 30*time.Second {
		t.Fatalf("unexpected origination: %+v", o)
	}
	if strings.Join(o.AppArgs, ",") != "inst-1,dialed_from,c1" {
		t.Fatalf("unexpected app args: %v", o.AppArgs)
	}
	if o.ChannelID != legID {
		t.Fatalf("expected the leg id to be chosen before origination, got %q vs %q", o.ChannelID, legID)
	}
	if f.backend.Subscribers("c1") != 1 || f.backend.Subscribers(legID) != 1 {
		t.Fatalf("expected both legs watched")
	}
}

func TestConnectUser_CalleeAnswersDuringOrigination(t *testing.T) {
	f := connectFixture(t)
	f.backend.OnOriginate = func(req telephony.OriginateRequest, ch telephony.ChannelData) {
		f.backend.Emit(ch.ID, telephony.ChannelEntered)
	}

	legID, err := f.svc.ConnectUser(context.Background(), "t1", "c1", "bob", 0)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	f.backend.Emit("c1", telephony.ChannelLeft)

	eventually(t, func() bool {
		return f.backend.Subscribers("c1") == 0 && f.backend.Subscribers(legID) == 0
	}, "supervisor finished")
	if contains(f.backend.HungUp(), legID) {
		t.Fatalf("expected leg answered during origination to survive the caller leaving")
	}
}

func TestConnectUser_CallerLeavesFirst(t *testing.T) {
	f := connectFixture(t)

	legID, err := f.svc.ConnectUser(context.Background(), "t1", "c1", "bob", 0)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	f.backend.Emit("c1", telephony.ChannelLeft)

	eventually(t, func() bool { return contains(f.backend.HungUp(), legID) }, "new leg hung up")
	eventually(t, func() bool {
		return f.backend.Subscribers("c1") == 0 && f.backend.Subscribers(legID) == 0
	}, "subscriptions released")
}

func TestConnectUser_CalleeAnswersFirst(t *testing.T) {
	f := connectFixture(t)

	legID, err := f.svc.ConnectUser(context.Background(), "t1", "c1", "bob", 0)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	f.backend.Emit(legID, telephony.ChannelEntered)
	eventually(t, func() bool { return f.backend.Subscribers("c1") == 0 }, "caller watch cancelled")

	f.backend.Emit("c1", telephony.ChannelLeft)
	time.Sleep(20 * time.Millisecond)
	if contains(f.backend.HungUp(), legID) {
		t.Fatalf("expected answered leg to survive the caller leaving")
	}
}

func TestConnectUser_StopsOnClose(t *testing.T) {
	f := connectFixture(t)

	legID, err := f.svc.ConnectUser(context.Background(), "t1", "c1", "bob", 0)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	f.svc.Close()
	eventually(t, func() bool {
		return f.backend.Subscribers("c1") == 0 && f.backend.Subscribers(legID) == 0
	}, "subscriptions released on close")
}
