package calls

import (
	"context"
	"sync"
	"testing"
	"time"

	"calld/internal/dialecho"
	"calld/internal/directory"
	"calld/internal/statecache"
	"calld/internal/telephony"
)

type memoryNotifier struct {
	mu     sync.Mutex
	events []string
	calls  []Call
	digits []string
}

func (n *memoryNotifier) record(name string, call Call) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, name+" "+call.CallID)
	n.calls = append(n.calls, call)
	return nil
}

func (n *memoryNotifier) CallCreated(_ context.Context, c Call) error  { return n.record("call_created", c) }
func (n *memoryNotifier) CallUpdated(_ context.Context, c Call) error  { return n.record("call_updated", c) }
func (n *memoryNotifier) CallAnswered(_ context.Context, c Call) error { return n.record("call_answered", c) }
func (n *memoryNotifier) CallHeld(_ context.Context, c Call) error     { return n.record("call_held", c) }
func (n *memoryNotifier) CallResumed(_ context.Context, c Call) error  { return n.record("call_resumed", c) }
func (n *memoryNotifier) CallEnded(_ context.Context, c Call) error    { return n.record("call_ended", c) }

func (n *memoryNotifier) CallDTMF(_ context.Context, c Call, digit string) error {
	n.mu.Lock()
	n.digits = append(n.digits, digit)
	n.mu.Unlock()
	return n.record("call_dtmf", c)
}

func (n *memoryNotifier) Events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

func (n *memoryNotifier) Last() Call {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[len(n.calls)-1]
}

type fixture struct {
	backend *telephony.MemoryBackend
	actions *telephony.MemoryActions
	devices *telephony.MemoryDevices
	dir     *directory.MemoryStore
	echoes  *dialecho.Manager
	notes   *memoryNotifier
	svc     *Service
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		backend: telephony.NewMemoryBackend(),
		actions: telephony.NewMemoryActions(),
		devices: telephony.NewMemoryDevices(),
		dir:     directory.NewMemoryStore(),
		echoes:  dialecho.NewManager(),
		notes:   &memoryNotifier{},
	}
	f.svc = NewService(Deps{
		Backend:   f.backend,
		Actions:   f.actions,
		Devices:   f.devices,
		Directory: f.dir,
		States:    statecache.NewGlobalVarReader(f.backend),
		Echoes:    f.echoes,
		Notifier:  f.notes,
	}, opts)
	t.Cleanup(f.svc.Close)
	return f
}

func (f *fixture) addCall(id, name string, vars map[string]string) {
	f.backend.AddChannel(telephony.ChannelData{
		ID:           id,
		Name:         name,
		State:        "Up",
		CreationTime: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Variables:    vars,
	})
}

// addUser registers a user with one SIP line named after the user.
func (f *fixture) addUser(tenant, user, mobile string) {
	f.dir.AddUser(directory.User{UUID: user, TenantUUID: tenant, MobilePhoneNumber: mobile})
	f.dir.AddLine(user, directory.Line{ID: 1, TenantUUID: tenant, Protocol: directory.ProtocolSIP, Name: user + "-line", Context: "default"})
}

func owned(tenant, user string) map[string]string {
	return map[string]string{varTenantUUID: tenant, varUserUUID: user}
}

// eventually polls cond until it holds or a second has passed.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
