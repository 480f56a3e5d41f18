package telephony

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryBackend is an in-memory Backend useful for tests.
// It is not intended for production use.
type MemoryBackend struct {
	mu        sync.Mutex
	channels  map[string]ChannelData
	order     []string
	bridges   []BridgeData
	apps      map[string][]string
	globals   map[string]string
	endpoints map[string]bool
	subs      map[string][]*memorySub
	seq       int
	fail      error

	originated []OriginateRequest
	hungUp     []string

	// OnOriginate, when set, runs after a channel is created by Originate,
	// outside the backend lock.
	OnOriginate func(req OriginateRequest, ch ChannelData)
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		channels:  make(map[string]ChannelData),
		apps:      make(map[string][]string),
		globals:   make(map[string]string),
		endpoints: make(map[string]bool),
		subs:      make(map[string][]*memorySub),
	}
}

// AddChannel stores a channel; variable names are normalized the way the
// backend does (inheritance prefixes stripped).
func (b *MemoryBackend) AddChannel(ch ChannelData) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addLocked(ch)
}

func (b *MemoryBackend) addLocked(ch ChannelData) {
	ch.Variables = normalizeVars(ch.Variables)
	if _, ok := b.channels[ch.ID]; !ok {
		b.order = append(b.order, ch.ID)
	}
	b.channels[ch.ID] = ch
}

func (b *MemoryBackend) RemoveChannel(channelID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(channelID)
}

func (b *MemoryBackend) removeLocked(channelID string) {
	delete(b.channels, channelID)
	for i, id := range b.order {
		if id == channelID {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

func (b *MemoryBackend) AddBridge(br BridgeData) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bridges = append(b.bridges, br)
}

func (b *MemoryBackend) SetApplication(name string, channelIDs ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.apps[name] = append([]string(nil), channelIDs...)
}

func (b *MemoryBackend) SetGlobalVar(name, value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.globals[name] = value
}

func (b *MemoryBackend) SetEndpointOnline(technology, resource string, online bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.endpoints[technology+"/"+resource] = online
}

// SetFailure makes every subsequent call fail with err (nil to clear).
func (b *MemoryBackend) SetFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail = err
}

// Emit delivers an event to the channel's subscribers.
func (b *MemoryBackend) Emit(channelID string, kind ChannelEventKind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.emitLocked(channelID, kind)
}

func (b *MemoryBackend) emitLocked(channelID string, kind ChannelEventKind) {
	for _, s := range b.subs[channelID] {
		if !s.wants(kind) {
			continue
		}
		select {
		case s.ch <- ChannelEvent{Kind: kind, ChannelID: channelID}:
		default:
		}
	}
}

// Subscribers returns the number of live subscriptions on a channel.
func (b *MemoryBackend) Subscribers(channelID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channelID])
}

func (b *MemoryBackend) Originated() []OriginateRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]OriginateRequest, len(b.originated))
	copy(out, b.originated)
	return out
}

func (b *MemoryBackend) HungUp() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.hungUp))
	copy(out, b.hungUp)
	return out
}

func (b *MemoryBackend) ListChannels(ctx context.Context) ([]ChannelData, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return nil, b.fail
	}
	out := make([]ChannelData, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, copyChannel(b.channels[id]))
	}
	return out, nil
}

func (b *MemoryBackend) GetChannel(ctx context.Context, channelID string) (ChannelData, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return ChannelData{}, b.fail
	}
	ch, ok := b.channels[channelID]
	if !ok {
		return ChannelData{}, ErrChannelNotFound
	}
	return copyChannel(ch), nil
}

func (b *MemoryBackend) GetChannelVar(ctx context.Context, channelID, name string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return "", b.fail
	}
	ch, ok := b.channels[channelID]
	if !ok {
		return "", ErrChannelNotFound
	}
	v, ok := ch.Variables[name]
	if !ok {
		return "", ErrVariableNotFound
	}
	return v, nil
}

func (b *MemoryBackend) SetChannelVar(ctx context.Context, channelID, name, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	ch, ok := b.channels[channelID]
	if !ok {
		return ErrChannelNotFound
	}
	if ch.Variables == nil {
		ch.Variables = make(map[string]string)
	}
	ch.Variables[normalizeVarName(name)] = value
	b.channels[channelID] = ch
	return nil
}

func (b *MemoryBackend) Originate(ctx context.Context, req OriginateRequest) (ChannelData, error) {
	b.mu.Lock()
	if b.fail != nil {
		err := b.fail
		b.mu.Unlock()
		return ChannelData{}, err
	}
	b.seq++
	id := req.ChannelID
	if id == "" {
		id = fmt.Sprintf("mem-%d", b.seq)
	}
	name := fmt.Sprintf("%s-%08x", req.Endpoint, b.seq)
	if tech, rest, ok := strings.Cut(req.Endpoint, "/"); ok && strings.EqualFold(tech, "local") {
		rest, _, _ = strings.Cut(rest, "/")
		name = fmt.Sprintf("Local/%s-%08x;1", rest, b.seq)
	}
	ch := ChannelData{
		ID:           id,
		Name:         name,
		State:        "Down",
		Dialplan:     DialplanCEP{Context: req.Context, Exten: req.Extension, Priority: req.Priority},
		CreationTime: time.Now().UTC(),
		Variables:    copyVars(req.Variables),
	}
	b.addLocked(ch)
	b.originated = append(b.originated, req)
	created := copyChannel(b.channels[id])
	hook := b.OnOriginate
	b.mu.Unlock()

	if hook != nil {
		hook(req, created)
	}
	return created, nil
}

func (b *MemoryBackend) Hangup(ctx context.Context, channelID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	if _, ok := b.channels[channelID]; !ok {
		return ErrChannelNotFound
	}
	b.removeLocked(channelID)
	b.hungUp = append(b.hungUp, channelID)
	b.emitLocked(channelID, ChannelLeft)
	return nil
}

func (b *MemoryBackend) ListBridges(ctx context.Context) ([]BridgeData, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return nil, b.fail
	}
	out := make([]BridgeData, len(b.bridges))
	for i, br := range b.bridges {
		br.ChannelIDs = append([]string(nil), br.ChannelIDs...)
		out[i] = br
	}
	return out, nil
}

func (b *MemoryBackend) ApplicationChannels(ctx context.Context, app string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return nil, b.fail
	}
	ids, ok := b.apps[app]
	if !ok {
		return nil, ErrApplicationNotFound
	}
	return append([]string(nil), ids...), nil
}

func (b *MemoryBackend) GlobalVar(ctx context.Context, name string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return "", b.fail
	}
	v, ok := b.globals[name]
	if !ok {
		return "", ErrVariableNotFound
	}
	return v, nil
}

func (b *MemoryBackend) EndpointOnline(ctx context.Context, technology, resource string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return false, b.fail
	}
	online, ok := b.endpoints[technology+"/"+resource]
	if !ok {
		return false, ErrEndpointNotFound
	}
	return online, nil
}

func (b *MemoryBackend) Subscribe(channelID string, kinds ...ChannelEventKind) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &memorySub{
		backend:   b,
		channelID: channelID,
		kinds:     kinds,
		ch:        make(chan ChannelEvent, 16),
	}
	b.subs[channelID] = append(b.subs[channelID], s)
	return s
}

type memorySub struct {
	backend   *MemoryBackend
	channelID string
	kinds     []ChannelEventKind
	ch        chan ChannelEvent
	once      sync.Once
}

func (s *memorySub) wants(kind ChannelEventKind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	for _, k := range s.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (s *memorySub) Events() <-chan ChannelEvent { return s.ch }

func (s *memorySub) Cancel() {
	s.once.Do(func() {
		b := s.backend
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[s.channelID]
		for i, other := range subs {
			if other == s {
				b.subs[s.channelID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(b.subs[s.channelID]) == 0 {
			delete(b.subs, s.channelID)
		}
		close(s.ch)
	})
}

// MemoryActions records action-surface calls.
type MemoryActions struct {
	mu         sync.Mutex
	extensions map[string]bool
	calls      []ActionCall
}

// ActionCall is one recorded action.
type ActionCall struct {
	Action  string
	Channel string
	Args    []string
}

func NewMemoryActions() *MemoryActions {
	return &MemoryActions{extensions: make(map[string]bool)}
}

// AddExtension marks context/exten/priority as existing in the dialplan.
func (a *MemoryActions) AddExtension(dialplanContext, exten string, priority int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.extensions[extensionKey(dialplanContext, exten, priority)] = true
}

func (a *MemoryActions) Calls() []ActionCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ActionCall, len(a.calls))
	copy(out, a.calls)
	return out
}

// Count returns how many times action was issued.
func (a *MemoryActions) Count(action string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.calls {
		if c.Action == action {
			n++
		}
	}
	return n
}

func (a *MemoryActions) record(action, channel string, args ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, ActionCall{Action: action, Channel: channel, Args: args})
}

func (a *MemoryActions) ExtensionExists(ctx context.Context, dialplanContext, exten string, priority int) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.extensions[extensionKey(dialplanContext, exten, priority)], nil
}

func (a *MemoryActions) Mute(ctx context.Context, channel string) error {
	a.record("MuteAudio", channel, "on")
	return nil
}

func (a *MemoryActions) Unmute(ctx context.Context, channel string) error {
	a.record("MuteAudio", channel, "off")
	return nil
}

func (a *MemoryActions) SendDTMF(ctx context.Context, channel, digit string) error {
	a.record("PlayDTMF", channel, digit)
	return nil
}

func (a *MemoryActions) RecordStart(ctx context.Context, channel, filename, options string) error {
	a.record("MixMonitor", channel, filename, options)
	return nil
}

func (a *MemoryActions) RecordStop(ctx context.Context, channel string) error {
	a.record("StopMixMonitor", channel)
	return nil
}

// MemoryDevices records device-control calls as "<op> <iface>".
type MemoryDevices struct {
	mu    sync.Mutex
	calls []string
}

func NewMemoryDevices() *MemoryDevices { return &MemoryDevices{} }

func (d *MemoryDevices) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *MemoryDevices) record(op, iface string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, op+" "+iface)
	return nil
}

func (d *MemoryDevices) Hold(ctx context.Context, iface string) error   { return d.record("hold", iface) }
func (d *MemoryDevices) Unhold(ctx context.Context, iface string) error { return d.record("unhold", iface) }
func (d *MemoryDevices) Answer(ctx context.Context, iface string) error { return d.record("answer", iface) }

func extensionKey(dialplanContext, exten string, priority int) string {
	return fmt.Sprintf("%s/%s/%d", dialplanContext, exten, priority)
}

// normalizeVarName strips the inheritance markers ("_" and "__") from a
// variable name; function-style names such as CALLERID(num) are kept.
func normalizeVarName(name string) string {
	return strings.TrimLeft(name, "_")
}

func normalizeVars(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[normalizeVarName(k)] = v
	}
	return out
}

func copyVars(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyChannel(ch ChannelData) ChannelData {
	ch.Variables = copyVars(ch.Variables)
	return ch
}
