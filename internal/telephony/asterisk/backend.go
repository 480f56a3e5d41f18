package asterisk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"calld/internal/telephony"

	"github.com/CyCoreSystems/ari/v5"
	"github.com/CyCoreSystems/ari/v5/client/native"
	"github.com/CyCoreSystems/ari/v5/rid"
	ptypes "github.com/gogo/protobuf/types"
)

type Options struct {
	Application  string
	URL          string
	WebsocketURL string
	Username     string
	Password     string
}

// Backend is the ARI implementation of telephony.Backend.
//
// The ARI client has no per-call context; ctx is only checked before each
// request.
type Backend struct {
	cl ari.Client
}

// Connect dials ARI and registers the control application.
func Connect(opts Options) (*Backend, error) {
	cl, err := native.Connect(&native.Options{
		Application:  opts.Application,
		Username:     opts.Username,
		Password:     opts.Password,
		URL:          opts.URL,
		WebsocketURL: opts.WebsocketURL,
	})
	if err != nil {
		return nil, fmt.Errorf("asterisk: connect: %w", err)
	}
	return New(cl), nil
}

func New(cl ari.Client) *Backend {
	return &Backend{cl: cl}
}

func (b *Backend) Close() {
	b.cl.Close()
}

func channelKey(id string) *ari.Key {
	return ari.NewKey(ari.ChannelKey, id)
}

func (b *Backend) ListChannels(ctx context.Context) ([]telephony.ChannelData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	keys, err := b.cl.Channel().List(nil)
	if err != nil {
		return nil, fmt.Errorf("asterisk: list channels: %w", err)
	}
	out := make([]telephony.ChannelData, 0, len(keys))
	for _, k := range keys {
		d, err := b.cl.Channel().Data(k)
		if err != nil {
			// hung up between list and read
			if isNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("asterisk: read channel %s: %w", k.ID, err)
		}
		out = append(out, toChannelData(d))
	}
	return out, nil
}

func (b *Backend) GetChannel(ctx context.Context, channelID string) (telephony.ChannelData, error) {
	if err := ctx.Err(); err != nil {
		return telephony.ChannelData{}, err
	}
	d, err := b.cl.Channel().Data(channelKey(channelID))
	if err != nil {
		if isNotFound(err) {
			return telephony.ChannelData{}, telephony.ErrChannelNotFound
		}
		return telephony.ChannelData{}, fmt.Errorf("asterisk: read channel %s: %w", channelID, err)
	}
	return toChannelData(d), nil
}

// GetChannelVar tells a missing variable from a missing channel, which
// ARI reports with the same status.
func (b *Backend) GetChannelVar(ctx context.Context, channelID, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	v, err := b.cl.Channel().GetVariable(channelKey(channelID), name)
	if err == nil {
		return v, nil
	}
	if !isNotFound(err) {
		return "", fmt.Errorf("asterisk: get %s on %s: %w", name, channelID, err)
	}
	if _, derr := b.cl.Channel().Data(channelKey(channelID)); derr != nil && isNotFound(derr) {
		return "", telephony.ErrChannelNotFound
	}
	return "", telephony.ErrVariableNotFound
}

func (b *Backend) SetChannelVar(ctx context.Context, channelID, name, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.cl.Channel().SetVariable(channelKey(channelID), name, value); err != nil {
		if isNotFound(err) {
			return telephony.ErrChannelNotFound
		}
		return fmt.Errorf("asterisk: set %s on %s: %w", name, channelID, err)
	}
	return nil
}

func (b *Backend) Originate(ctx context.Context, req telephony.OriginateRequest) (telephony.ChannelData, error) {
	if err := ctx.Err(); err != nil {
		return telephony.ChannelData{}, err
	}
	id := req.ChannelID
	if id == "" {
		id = rid.New(rid.Channel)
	}
	h, err := b.cl.Channel().Originate(nil, ari.OriginateRequest{
		Endpoint:   req.Endpoint,
		Context:    req.Context,
		Extension:  req.Extension,
		Priority:   req.Priority,
		App:        req.App,
		AppArgs:    strings.Join(req.AppArgs, ","),
		Variables:  req.Variables,
		Timeout:    originateTimeout(req.Timeout),
		ChannelID:  id,
		Originator: req.Originator,
	})
	if err != nil {
		return telephony.ChannelData{}, fmt.Errorf("asterisk: originate %s: %w", req.Endpoint, err)
	}
	d, err := b.cl.Channel().Data(h.Key())
	if err != nil {
		if isNotFound(err) {
			return telephony.ChannelData{ID: id}, nil
		}
		return telephony.ChannelData{}, fmt.Errorf("asterisk: read originated channel %s: %w", id, err)
	}
	return toChannelData(d), nil
}

// originateTimeout converts a ring bound to ARI seconds. ARI applies its own
// 30s default to 0, so no bound is -1 and sub-second bounds round up.
func originateTimeout(d time.Duration) int {
	if d <= 0 {
		return -1
	}
	return int((d + time.Second - 1) / time.Second)
}

func (b *Backend) Hangup(ctx context.Context, channelID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.cl.Channel().Hangup(channelKey(channelID), "normal"); err != nil {
		if isNotFound(err) {
			return telephony.ErrChannelNotFound
		}
		return fmt.Errorf("asterisk: hangup %s: %w", channelID, err)
	}
	return nil
}

func (b *Backend) ListBridges(ctx context.Context) ([]telephony.BridgeData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	keys, err := b.cl.Bridge().List(nil)
	if err != nil {
		return nil, fmt.Errorf("asterisk: list bridges: %w", err)
	}
	out := make([]telephony.BridgeData, 0, len(keys))
	for _, k := range keys {
		d, err := b.cl.Bridge().Data(k)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("asterisk: read bridge %s: %w", k.ID, err)
		}
		out = append(out, telephony.BridgeData{
			ID:         d.ID,
			Name:       d.Name,
			Technology: d.Technology,
			ChannelIDs: append([]string(nil), d.ChannelIDs...),
		})
	}
	return out, nil
}

func (b *Backend) ApplicationChannels(ctx context.Context, app string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d, err := b.cl.Application().Data(ari.NewKey(ari.ApplicationKey, app))
	if err != nil {
		if isNotFound(err) {
			return nil, telephony.ErrApplicationNotFound
		}
		return nil, fmt.Errorf("asterisk: read application %s: %w", app, err)
	}
	return append([]string(nil), d.ChannelIDs...), nil
}

func (b *Backend) GlobalVar(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	v, err := b.cl.Asterisk().Variables().Get(ari.NewKey(ari.VariableKey, name))
	if err != nil {
		if isNotFound(err) {
			return "", telephony.ErrVariableNotFound
		}
		return "", fmt.Errorf("asterisk: get global %s: %w", name, err)
	}
	return v, nil
}

func (b *Backend) EndpointOnline(ctx context.Context, technology, resource string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	d, err := b.cl.Endpoint().Data(ari.NewEndpointKey(technology, resource))
	if err != nil {
		if isNotFound(err) {
			return false, telephony.ErrEndpointNotFound
		}
		return false, fmt.Errorf("asterisk: read endpoint %s/%s: %w", technology, resource, err)
	}
	return d.State == "online", nil
}

func (b *Backend) Subscribe(channelID string, kinds ...telephony.ChannelEventKind) telephony.Subscription {
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, string(k))
	}
	if len(names) == 0 {
		names = []string{ari.Events.StasisStart, ari.Events.StasisEnd}
	}
	s := &subscription{
		sub:  b.cl.Channel().Subscribe(channelKey(channelID), names...),
		out:  make(chan telephony.ChannelEvent, 1),
		stop: make(chan struct{}),
	}
	go s.run(channelID)
	return s
}

type subscription struct {
	sub  ari.Subscription
	out  chan telephony.ChannelEvent
	stop chan struct{}
	once sync.Once
}

func (s *subscription) run(channelID string) {
	defer close(s.out)
	for {
		select {
		case <-s.stop:
			return
		case e, ok := <-s.sub.Events():
			if !ok {
				return
			}
			ev := telephony.ChannelEvent{Kind: telephony.ChannelEventKind(e.GetType()), ChannelID: channelID}
			select {
			case s.out <- ev:
			case <-s.stop:
				return
			}
		}
	}
}

func (s *subscription) Events() <-chan telephony.ChannelEvent { return s.out }

func (s *subscription) Cancel() {
	s.once.Do(func() {
		close(s.stop)
		s.sub.Cancel()
	})
}

func toChannelData(d *ari.ChannelData) telephony.ChannelData {
	vars := make(map[string]string, len(d.ChannelVars))
	for k, v := range d.ChannelVars {
		vars[k] = v
	}
	created, _ := ptypes.TimestampFromProto(d.Creationtime)
	return telephony.ChannelData{
		ID:           d.ID,
		Name:         d.Name,
		State:        d.State,
		Caller:       telephony.CallerID{Name: d.Caller.Name, Number: d.Caller.Number},
		Connected:    telephony.CallerID{Name: d.Connected.Name, Number: d.Connected.Number},
		Dialplan:     telephony.DialplanCEP{Context: d.Dialplan.Context, Exten: d.Dialplan.Exten, Priority: d.Dialplan.Priority},
		CreationTime: created,
		Variables:    vars,
	}
}

// isNotFound reports whether err is an ARI 404.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nf interface{ NotFound() bool }
	if errors.As(err, &nf) {
		return nf.NotFound()
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "404") || strings.Contains(msg, "not found")
}
