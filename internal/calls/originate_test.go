package calls

import (
	"context"
	"errors"
	"testing"
	"time"

	"calld/internal/directory"
	"calld/internal/telephony"
)

func originateFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := newFixture(t, opts)
	f.addUser("t1", "alice", "5551234")
	f.actions.AddExtension("default", "1002", 1)
	f.backend.SetEndpointOnline("PJSIP", "alice-line", true)
	return f
}

func deviceRequest() OriginateRequest {
	return OriginateRequest{
		Destination: Destination{Context: "default", Extension: "1002", Priority: 1},
		Source:      Source{User: "alice"},
	}
}

func TestOriginate_InvalidExtension(t *testing.T) {
	f := originateFixture(t, Options{})
	req := deviceRequest()
	req.Destination.Extension = "9999"

	_, err := f.svc.Originate(context.Background(), "t1", req)
	if !errors.Is(err, ErrInvalidExtension) {
		t.Fatalf("expected ErrInvalidExtension, got %v", err)
	}
	if len(f.backend.Originated()) != 0 {
		t.Fatalf("expected no origination")
	}
}

func TestOriginate_InvalidUser(t *testing.T) {
	f := originateFixture(t, Options{})
	req := deviceRequest()
	req.Source.User = "nobody"

	if _, err := f.svc.Originate(context.Background(), "t1", req); !errors.Is(err, ErrInvalidUser) {
		t.Fatalf("expected ErrInvalidUser, got %v", err)
	}
	if _, err := f.svc.Originate(context.Background(), "t2", deviceRequest()); !errors.Is(err, ErrInvalidUser) {
		t.Fatalf("expected ErrInvalidUser across tenants, got %v", err)
	}
}

func TestOriginate_OfflineSIPLine(t *testing.T) {
	f := originateFixture(t, Options{})
	f.backend.SetEndpointOnline("PJSIP", "alice-line", false)

	_, err := f.svc.Originate(context.Background(), "t1", deviceRequest())
	if !errors.Is(err, ErrCallOriginUnavailable) {
		t.Fatalf("expected ErrCallOriginUnavailable, got %v", err)
	}
	if d := Details(err); d["source_interface"] != "PJSIP/alice-line" {
		t.Fatalf("unexpected details: %v", d)
	}
	if len(f.backend.Originated()) != 0 {
		t.Fatalf("expected no origination")
	}
}

func TestOriginate_Device(t *testing.T) {
	f := originateFixture(t, Options{})
	req := deviceRequest()
	req.Variables = map[string]string{"CALLERID(name)": "Front desk", "EXTRA": "x"}

	call, err := f.svc.Originate(context.Background(), "t1", req)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if call.DialedExtension != "1002" || call.UserUUID != "alice" || call.TenantUUID != "t1" || !call.IsCaller {
		t.Fatalf("unexpected call: %+v", call)
	}

	sent := f.backend.Originated()
	if len(sent) != 1 {
		t.Fatalf("expected one origination, got %d", len(sent))
	}
	o := sent[0]
	if o.Endpoint != "PJSIP/alice-line" || o.Context != "default" || o.Extension != "1002" || o.Priority != 1 {
		t.Fatalf("unexpected origination: %+v", o)
	}
	want := map[string]string{
		"CALLERID(name)":     "Front desk",
		"CALLERID(num)":      "1002",
		"CONNECTEDLINE(num)": "1002",
		"EXTRA":              "x",
		varUserUUID:          "alice",
		"_" + varTenantUUID:  "t1",
		varFixCallerID:       "1",
		varChannelDirection:  channelDirectionToPlatform,
	}
	for k, v := range want {
		if o.Variables[k] != v {
			t.Errorf("variable %s = %q, want %q", k, o.Variables[k], v)
		}
	}
	if _, ok := o.Variables["PJSIP_HEADER(add,Answer-After)"]; ok {
		t.Fatalf("expected no auto-answer headers")
	}
}

func TestOriginate_AllLinesAndAutoAnswer(t *testing.T) {
	f := originateFixture(t, Options{})
	f.backend.SetEndpointOnline("PJSIP", "alice-line", false)
	req := deviceRequest()
	req.Source.AllLines = true
	req.Source.AutoAnswer = true
	req.Destination.Extension = "#1002"
	f.actions.AddExtension("default", "#1002", 1)

	if _, err := f.svc.Originate(context.Background(), "t1", req); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	o := f.backend.Originated()[0]
	if o.Endpoint != "local/alice@usersharedlines" {
		t.Fatalf("unexpected endpoint %q", o.Endpoint)
	}
	if o.Variables["PJSIP_HEADER(add,Answer-After)"] != "0" {
		t.Fatalf("expected auto-answer headers, got %v", o.Variables)
	}
	if o.Variables["CONNECTEDLINE(num)"] != "" {
		t.Fatalf("expected feature code to hide connected number, got %q", o.Variables["CONNECTEDLINE(num)"])
	}
}

func TestOriginateUser_LineContext(t *testing.T) {
	f := originateFixture(t, Options{})
	f.dir.AddLine("alice", directory.Line{ID: 2, TenantUUID: "t1", Protocol: directory.ProtocolSCCP, Name: "1001", Context: "other"})
	f.actions.AddExtension("other", "1003", 1)
	ctx := context.Background()

	if _, err := f.svc.OriginateUser(ctx, "t1", "alice", UserOriginateRequest{Extension: "1003", LineID: 2}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	o := f.backend.Originated()[0]
	if o.Context != "other" || o.Endpoint != "SCCP/1001" {
		t.Fatalf("expected line 2 context and interface, got %+v", o)
	}

	if _, err := f.svc.OriginateUser(ctx, "t1", "alice", UserOriginateRequest{Extension: "1002"}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if o := f.backend.Originated()[1]; o.Context != "default" {
		t.Fatalf("expected main line context, got %q", o.Context)
	}

	if _, err := f.svc.OriginateUser(ctx, "t1", "alice", UserOriginateRequest{Extension: "1002", LineID: 9}); !errors.Is(err, ErrInvalidUserLine) {
		t.Fatalf("expected ErrInvalidUserLine, got %v", err)
	}
	if _, err := f.svc.OriginateUser(ctx, "t1", "nobody", UserOriginateRequest{Extension: "1002"}); !errors.Is(err, ErrUserMissingMainLine) {
		t.Fatalf("expected ErrUserMissingMainLine, got %v", err)
	}
}

func mobileRequest() OriginateRequest {
	req := deviceRequest()
	req.Source.FromMobile = true
	return req
}

func TestOriginate_Mobile(t *testing.T) {
	f := originateFixture(t, Options{})
	f.actions.AddExtension("default", "5551234", 1)
	f.backend.OnOriginate = func(req telephony.OriginateRequest, _ telephony.ChannelData) {
		f.addCall("mobile-leg", "PJSIP/trunk-00000009", owned("t1", "alice"))
		f.echoes.Resolve(req.Variables["_"+varDialEchoRequestID], "mobile-leg")
	}

	call, err := f.svc.Originate(context.Background(), "t1", mobileRequest())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if call.CallID != "mobile-leg" || call.DialedExtension != "1002" {
		t.Fatalf("expected the answered mobile leg, got %+v", call)
	}

	o := f.backend.Originated()[0]
	if o.Endpoint != mobileLeg1Endpoint || o.Context != mobileLeg2Context || o.Extension != "s" || o.Priority != 1 {
		t.Fatalf("unexpected origination: %+v", o)
	}
	want := map[string]string{
		varOriginateMobileExten:   "5551234",
		varOriginateMobileContext: "default",
		varOriginateDestExten:     "1002",
		varOriginateDestContext:   "default",
		varOriginateDestPrio:      "1",
		varDereferencedUserUUID:   "alice",
		"_" + varUserUUID:         "alice",
		"_" + varTenantUUID:       "t1",
		varOriginalCallerID:       `"1002" <1002>`,
		varOriginateDestCallerID:  `"5551234" <5551234>`,
	}
	for k, v := range want {
		if o.Variables[k] != v {
			t.Errorf("variable %s = %q, want %q", k, o.Variables[k], v)
		}
	}
	if f.echoes.Pending() != 0 {
		t.Fatalf("expected request retired")
	}
}

func TestOriginate_MobileTimeout(t *testing.T) {
	f := originateFixture(t, Options{DialEchoTimeout: 20 * time.Millisecond})
	f.actions.AddExtension("default", "5551234", 1)

	_, err := f.svc.Originate(context.Background(), "t1", mobileRequest())
	if !errors.Is(err, ErrCallCreation) {
		t.Fatalf("expected ErrCallCreation, got %v", err)
	}
	if f.echoes.Pending() != 0 {
		t.Fatalf("expected request retired after timeout")
	}
}

func TestOriginate_MobileRejected(t *testing.T) {
	f := originateFixture(t, Options{})
	ctx := context.Background()

	// number not dialable from the main line context
	_, err := f.svc.Originate(ctx, "t1", mobileRequest())
	if !errors.Is(err, ErrCallCreation) {
		t.Fatalf("expected ErrCallCreation, got %v", err)
	}
	if d := Details(err); d["mobile_exten"] != "5551234" {
		t.Fatalf("unexpected details: %v", d)
	}

	f.addUser("t1", "bob", "")
	req := mobileRequest()
	req.Source.User = "bob"
	if _, err := f.svc.Originate(ctx, "t1", req); !errors.Is(err, ErrCallCreation) {
		t.Fatalf("expected ErrCallCreation for user without mobile, got %v", err)
	}
	if len(f.backend.Originated()) != 0 {
		t.Fatalf("expected no origination")
	}
}
