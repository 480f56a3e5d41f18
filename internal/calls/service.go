package calls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"calld/internal/dialecho"
	"calld/internal/directory"
	"calld/internal/statecache"
	"calld/internal/telephony"
	"calld/pkg/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Notifier publishes call notifications.
type Notifier interface {
	CallCreated(ctx context.Context, call Call) error
	CallUpdated(ctx context.Context, call Call) error
	CallAnswered(ctx context.Context, call Call) error
	CallHeld(ctx context.Context, call Call) error
	CallResumed(ctx context.Context, call Call) error
	CallEnded(ctx context.Context, call Call) error
	CallDTMF(ctx context.Context, call Call, digit string) error
}

type nopNotifier struct{}

func (nopNotifier) CallCreated(context.Context, Call) error      { return nil }
func (nopNotifier) CallUpdated(context.Context, Call) error      { return nil }
func (nopNotifier) CallAnswered(context.Context, Call) error     { return nil }
func (nopNotifier) CallHeld(context.Context, Call) error         { return nil }
func (nopNotifier) CallResumed(context.Context, Call) error      { return nil }
func (nopNotifier) CallEnded(context.Context, Call) error        { return nil }
func (nopNotifier) CallDTMF(context.Context, Call, string) error { return nil }

type Options struct {
	// Application is the control application new legs are sent into.
	Application string
	// MasterTenantUUID may list every tenant with a recursive listing.
	MasterTenantUUID string
	// DialEchoTimeout bounds the wait for a mobile leg to be identified.
	DialEchoTimeout time.Duration
	// RecordingPath is a fmt template taking the tenant uuid and a fresh
	// recording uuid.
	RecordingPath string
	// ProjectionWorkers bounds concurrent projections in list operations.
	ProjectionWorkers int
}

const (
	defaultApplication     = "callcontrol"
	defaultDialEchoTimeout = 5 * time.Second
	defaultRecordingPath   = "/var/lib/accent/sounds/tenants/%s/monitor/%s.wav"
	defaultWorkers         = 8

	cleanupTimeout = 5 * time.Second
)

type Deps struct {
	Backend   telephony.Backend
	Actions   telephony.Actions
	Devices   telephony.Devices
	Directory directory.Directory
	States    statecache.Reader
	Echoes    *dialecho.Manager
	Notifier  Notifier
}

// Service is the call-control orchestrator. It holds no call state of its
// own: every answer is computed from the backend at request time.
type Service struct {
	backend      telephony.Backend
	actions      telephony.Actions
	devices      telephony.Devices
	dir          directory.Directory
	states       statecache.Reader
	echoes       *dialecho.Manager
	notifier     Notifier
	projector    *Projector
	opts         Options
	newUUID      func() string
	newChannelID func() string

	done chan struct{}
}

func NewService(d Deps, opts Options) *Service {
	if opts.Application == "" {
		opts.Application = defaultApplication
	}
	if opts.DialEchoTimeout <= 0 {
		opts.DialEchoTimeout = defaultDialEchoTimeout
	}
	if opts.RecordingPath == "" {
		opts.RecordingPath = defaultRecordingPath
	}
	if opts.ProjectionWorkers <= 0 {
		opts.ProjectionWorkers = defaultWorkers
	}
	if d.Echoes == nil {
		d.Echoes = dialecho.NewManager()
	}
	if d.Notifier == nil {
		d.Notifier = nopNotifier{}
	}
	return &Service{
		backend:      d.Backend,
		actions:      d.Actions,
		devices:      d.Devices,
		dir:          d.Directory,
		states:       d.States,
		echoes:       d.Echoes,
		notifier:     d.Notifier,
		projector:    NewProjector(d.Backend),
		opts:         opts,
		newUUID:      uuid.NewString,
		newChannelID: uuid.NewString,
		done:         make(chan struct{}),
	}
}

// Close stops background connect supervisors.
func (s *Service) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// Projector exposes the projector used by the service.
func (s *Service) Projector() *Projector { return s.projector }

// ListCalls lists the calls visible to filter.TenantUUID.
func (s *Service) ListCalls(ctx context.Context, filter ListFilter) ([]Call, error) {
	channels, err := s.rawChannels(ctx, filter.Application, filter.ApplicationInstance)
	if err != nil {
		return nil, err
	}

	allTenants := filter.TenantUUID == "" ||
		(filter.Recurse && s.opts.MasterTenantUUID != "" && filter.TenantUUID == s.opts.MasterTenantUUID)
	if !allTenants {
		kept := channels[:0]
		for _, ch := range channels {
			tenant, err := s.projector.channelVar(ctx, ch, varTenantUUID)
			if err != nil {
				if errors.Is(err, ErrNoSuchCall) {
					continue
				}
				return nil, err
			}
			if tenant == filter.TenantUUID {
				kept = append(kept, ch)
			}
		}
		channels = kept
	}
	return s.projectAll(ctx, channels)
}

// ListCallsUser lists the non-Local calls owned by userUUID. Channels whose
// ownership cannot be read because they vanished are excluded.
func (s *Service) ListCallsUser(ctx context.Context, userUUID string, filter ListFilter) ([]Call, error) {
	channels, err := s.rawChannels(ctx, filter.Application, filter.ApplicationInstance)
	if err != nil {
		return nil, err
	}
	kept := channels[:0]
	for _, ch := range channels {
		if ch.IsLocal() {
			continue
		}
		owner, err := s.projector.channelVar(ctx, ch, varUserUUID)
		if err != nil {
			if errors.Is(err, ErrNoSuchCall) {
				continue
			}
			return nil, err
		}
		if owner == userUUID {
			kept = append(kept, ch)
		}
	}
	return s.projectAll(ctx, kept)
}

// rawChannels lists channels, optionally narrowed to those an application
// is subscribed to and to one of its instances.
func (s *Service) rawChannels(ctx context.Context, app, instance string) ([]telephony.ChannelData, error) {
	channels, err := s.backend.ListChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("calls: list channels: %w", err)
	}
	if app == "" {
		return channels, nil
	}

	ids, err := s.backend.ApplicationChannels(ctx, app)
	if err != nil && !errors.Is(err, telephony.ErrApplicationNotFound) {
		return nil, fmt.Errorf("calls: list application %s: %w", app, err)
	}
	allChannels := false
	member := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == telephony.AllChannelsTopic {
			allChannels = true
		}
		member[id] = true
	}
	kept := make([]telephony.ChannelData, 0, len(channels))
	for _, ch := range channels {
		if allChannels || member[ch.ID] {
			kept = append(kept, ch)
		}
	}

	if instance == "" {
		return kept, nil
	}
	bound := kept[:0]
	for _, ch := range kept {
		entry, err := s.states.Get(ctx, ch.ID)
		if err != nil {
			if errors.Is(err, statecache.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if entry.App == app && entry.AppInstance == instance {
			bound = append(bound, ch)
		}
	}
	return bound, nil
}

// projectAll projects channels concurrently, dropping those that hang up
// while being projected. Order follows the input.
func (s *Service) projectAll(ctx context.Context, channels []telephony.ChannelData) ([]Call, error) {
	if len(channels) == 0 {
		return []Call{}, nil
	}
	bridges, err := s.backend.ListBridges(ctx)
	if err != nil {
		return nil, fmt.Errorf("calls: list bridges: %w", err)
	}

	results := make([]*Call, len(channels))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.ProjectionWorkers)
	for i, ch := range channels {
		g.Go(func() error {
			call, err := s.projector.Project(gctx, ch, bridges)
			if err != nil {
				if errors.Is(err, ErrNoSuchCall) {
					return nil
				}
				return err
			}
			results[i] = &call
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Call, 0, len(results))
	for _, c := range results {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out, nil
}

// Get returns one call of the tenant.
func (s *Service) Get(ctx context.Context, tenantUUID, callID string) (Call, error) {
	ch, err := s.channelForTenant(ctx, tenantUUID, callID)
	if err != nil {
		return Call{}, err
	}
	return s.project(ctx, ch)
}

func (s *Service) project(ctx context.Context, ch telephony.ChannelData) (Call, error) {
	bridges, err := s.backend.ListBridges(ctx)
	if err != nil {
		return Call{}, fmt.Errorf("calls: list bridges: %w", err)
	}
	return s.projector.Project(ctx, ch, bridges)
}

// reproject reads the channel again and projects it.
func (s *Service) reproject(ctx context.Context, callID string) (Call, error) {
	ch, err := s.channel(ctx, callID)
	if err != nil {
		return Call{}, err
	}
	return s.project(ctx, ch)
}

func (s *Service) channel(ctx context.Context, callID string) (telephony.ChannelData, error) {
	ch, err := s.backend.GetChannel(ctx, callID)
	if err != nil {
		if errors.Is(err, telephony.ErrChannelNotFound) {
			return telephony.ChannelData{}, noSuchCall(callID)
		}
		return telephony.ChannelData{}, fmt.Errorf("calls: get channel %s: %w", callID, err)
	}
	return ch, nil
}

// channelForTenant loads a channel and checks its tenant tag. A channel of
// another tenant is reported as missing. An empty tenantUUID skips the check.
func (s *Service) channelForTenant(ctx context.Context, tenantUUID, callID string) (telephony.ChannelData, error) {
	ch, err := s.channel(ctx, callID)
	if err != nil {
		return telephony.ChannelData{}, err
	}
	if tenantUUID == "" {
		return ch, nil
	}
	tenant, err := s.projector.channelVar(ctx, ch, varTenantUUID)
	if err != nil {
		return telephony.ChannelData{}, err
	}
	if tenant != tenantUUID {
		return telephony.ChannelData{}, noSuchCall(callID)
	}
	return ch, nil
}

// channelForUser loads a channel that userUUID owns. Local channels are
// never addressable by users.
func (s *Service) channelForUser(ctx context.Context, tenantUUID, callID, userUUID string) (telephony.ChannelData, error) {
	ch, err := s.channelForTenant(ctx, tenantUUID, callID)
	if err != nil {
		return telephony.ChannelData{}, err
	}
	if ch.IsLocal() {
		return telephony.ChannelData{}, noSuchCall(callID)
	}
	owner, err := s.projector.channelVar(ctx, ch, varUserUUID)
	if err != nil {
		return telephony.ChannelData{}, err
	}
	if owner != userUUID {
		return telephony.ChannelData{}, permissionDenied(userUUID, callID)
	}
	return ch, nil
}

// Hangup ends a call of the tenant.
func (s *Service) Hangup(ctx context.Context, tenantUUID, callID string) error {
	if _, err := s.channelForTenant(ctx, tenantUUID, callID); err != nil {
		return err
	}
	return s.hangup(ctx, callID)
}

// HangupUser ends a call owned by userUUID.
func (s *Service) HangupUser(ctx context.Context, callID, userUUID string) error {
	if _, err := s.channelForUser(ctx, "", callID, userUUID); err != nil {
		return err
	}
	return s.hangup(ctx, callID)
}

func (s *Service) hangup(ctx context.Context, callID string) error {
	if err := s.backend.Hangup(ctx, callID); err != nil {
		if errors.Is(err, telephony.ErrChannelNotFound) {
			return noSuchCall(callID)
		}
		return fmt.Errorf("calls: hangup %s: %w", callID, err)
	}
	return nil
}

func (s *Service) Mute(ctx context.Context, tenantUUID, callID string) (Call, error) {
	ch, err := s.channelForTenant(ctx, tenantUUID, callID)
	if err != nil {
		return Call{}, err
	}
	return s.setMuted(ctx, ch, true)
}

func (s *Service) MuteUser(ctx context.Context, tenantUUID, callID, userUUID string) (Call, error) {
	ch, err := s.channelForUser(ctx, tenantUUID, callID, userUUID)
	if err != nil {
		return Call{}, err
	}
	return s.setMuted(ctx, ch, true)
}

func (s *Service) Unmute(ctx context.Context, tenantUUID, callID string) (Call, error) {
	ch, err := s.channelForTenant(ctx, tenantUUID, callID)
	if err != nil {
		return Call{}, err
	}
	return s.setMuted(ctx, ch, false)
}

func (s *Service) UnmuteUser(ctx context.Context, tenantUUID, callID, userUUID string) (Call, error) {
	ch, err := s.channelForUser(ctx, tenantUUID, callID, userUUID)
	if err != nil {
		return Call{}, err
	}
	return s.setMuted(ctx, ch, false)
}

// setMuted tags the channel, mutes its inbound audio, and publishes the
// updated call.
func (s *Service) setMuted(ctx context.Context, ch telephony.ChannelData, muted bool) (Call, error) {
	value, action := "", s.actions.Unmute
	if muted {
		value, action = "1", s.actions.Mute
	}
	if err := s.setVar(ctx, ch.ID, varMuted, value); err != nil {
		return Call{}, err
	}
	if err := action(ctx, ch.Name); err != nil {
		return Call{}, fmt.Errorf("calls: mute %s: %w", ch.ID, err)
	}

	call, err := s.reproject(ctx, ch.ID)
	if err != nil {
		return Call{}, err
	}
	s.notify(ctx, "call_updated", call, s.notifier.CallUpdated)
	return call, nil
}

func (s *Service) setVar(ctx context.Context, callID, name, value string) error {
	if err := s.backend.SetChannelVar(ctx, callID, name, value); err != nil {
		if errors.Is(err, telephony.ErrChannelNotFound) {
			return noSuchCall(callID)
		}
		return fmt.Errorf("calls: set %s on %s: %w", name, callID, err)
	}
	return nil
}

// notify publishes call with send. A failed notification never fails the
// operation that triggered it.
func (s *Service) notify(ctx context.Context, name string, call Call, send func(context.Context, Call) error) {
	if err := send(ctx, call); err != nil {
		logger.From(ctx).Warn("notification failed", "event", name, "call_id", call.CallID, "err", err)
	}
}

func (s *Service) Hold(ctx context.Context, tenantUUID, callID string) error {
	ch, err := s.channelForTenant(ctx, tenantUUID, callID)
	if err != nil {
		return err
	}
	return s.device(ctx, ch, "hold", s.devices.Hold)
}

func (s *Service) HoldUser(ctx context.Context, tenantUUID, callID, userUUID string) error {
	ch, err := s.channelForUser(ctx, tenantUUID, callID, userUUID)
	if err != nil {
		return err
	}
	return s.device(ctx, ch, "hold", s.devices.Hold)
}

func (s *Service) Unhold(ctx context.Context, tenantUUID, callID string) error {
	ch, err := s.channelForTenant(ctx, tenantUUID, callID)
	if err != nil {
		return err
	}
	return s.device(ctx, ch, "unhold", s.devices.Unhold)
}

func (s *Service) UnholdUser(ctx context.Context, tenantUUID, callID, userUUID string) error {
	ch, err := s.channelForUser(ctx, tenantUUID, callID, userUUID)
	if err != nil {
		return err
	}
	return s.device(ctx, ch, "unhold", s.devices.Unhold)
}

func (s *Service) Answer(ctx context.Context, tenantUUID, callID string) error {
	ch, err := s.channelForTenant(ctx, tenantUUID, callID)
	if err != nil {
		return err
	}
	return s.device(ctx, ch, "answer", s.devices.Answer)
}

func (s *Service) AnswerUser(ctx context.Context, tenantUUID, callID, userUUID string) error {
	ch, err := s.channelForUser(ctx, tenantUUID, callID, userUUID)
	if err != nil {
		return err
	}
	return s.device(ctx, ch, "answer", s.devices.Answer)
}

// device runs a device-control operation against the endpoint that owns ch.
func (s *Service) device(ctx context.Context, ch telephony.ChannelData, op string, fn func(context.Context, string) error) error {
	pi, err := telephony.ProtocolInterfaceFromChannel(ch.Name)
	if err != nil {
		return noSuchCall(ch.ID)
	}
	if err := fn(ctx, pi.Interface); err != nil {
		return fmt.Errorf("calls: %s %s: %w", op, ch.ID, err)
	}
	return nil
}

// SendDTMF plays digits on the call, one action per digit, in order.
func (s *Service) SendDTMF(ctx context.Context, tenantUUID, callID, digits string) error {
	ch, err := s.channelForTenant(ctx, tenantUUID, callID)
	if err != nil {
		return err
	}
	return s.sendDTMF(ctx, ch, digits)
}

func (s *Service) SendDTMFUser(ctx context.Context, tenantUUID, callID, userUUID, digits string) error {
	ch, err := s.channelForUser(ctx, tenantUUID, callID, userUUID)
	if err != nil {
		return err
	}
	return s.sendDTMF(ctx, ch, digits)
}

func (s *Service) sendDTMF(ctx context.Context, ch telephony.ChannelData, digits string) error {
	for _, d := range digits {
		if err := s.actions.SendDTMF(ctx, ch.Name, string(d)); err != nil {
			return fmt.Errorf("calls: dtmf %s: %w", ch.ID, err)
		}
	}
	return nil
}
