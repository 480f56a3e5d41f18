package directory

import (
	"context"
	"errors"
	"testing"
)

func TestStoresImplementDirectory(t *testing.T) {
	var _ Directory = (*PostgresStore)(nil)
	var _ Directory = (*MemoryStore)(nil)
}

func TestLineInterface(t *testing.T) {
	cases := []struct {
		line  Line
		iface string
		tech  string
	}{
		{Line{Protocol: ProtocolSIP, Name: "abcdef"}, "PJSIP/abcdef", "PJSIP"},
		{Line{Protocol: ProtocolSCCP, Name: "1001"}, "SCCP/1001", "SCCP"},
		{Line{Protocol: ProtocolCustom, Name: "DAHDI/i1/5551234"}, "DAHDI/i1/5551234", "DAHDI"},
	}
	for _, tc := range cases {
		if got := tc.line.Interface(); got != tc.iface {
			t.Errorf("Interface() = %q, want %q", got, tc.iface)
		}
		if got := tc.line.Technology(); got != tc.tech {
			t.Errorf("Technology() = %q, want %q", got, tc.tech)
		}
	}
}

func TestMemoryStore_TenantScoping(t *testing.T) {
	s := NewMemoryStore()
	s.AddUser(User{UUID: "u1", TenantUUID: "t1"})
	s.AddLine("u1", Line{ID: 1, TenantUUID: "t1", Protocol: ProtocolSIP, Name: "a", Context: "default"})
	s.AddLine("u1", Line{ID: 2, TenantUUID: "t1", Protocol: ProtocolSIP, Name: "b", Context: "other"})
	ctx := context.Background()

	if _, err := s.User(ctx, "t1", "u1"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if _, err := s.User(ctx, "", "u1"); err != nil {
		t.Fatalf("expected any-tenant lookup to succeed: %v", err)
	}
	if _, err := s.User(ctx, "t2", "u1"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	main, err := s.MainLine(ctx, "t1", "u1")
	if err != nil || main.ID != 1 {
		t.Fatalf("expected main line 1, got %+v err=%v", main, err)
	}
	l, err := s.Line(ctx, "t1", "u1", 2)
	if err != nil || l.Context != "other" {
		t.Fatalf("expected line 2, got %+v err=%v", l, err)
	}
	if _, err := s.Line(ctx, "t1", "u1", 3); !errors.Is(err, ErrLineNotFound) {
		t.Fatalf("expected ErrLineNotFound, got %v", err)
	}
	if _, err := s.MainLine(ctx, "t1", "nobody"); !errors.Is(err, ErrNoMainLine) {
		t.Fatalf("expected ErrNoMainLine, got %v", err)
	}
}
