package telephony

import (
	"context"
	"errors"
)

// Backend is the signalling query/command surface (channels, bridges,
// applications, global variables).
//
// Rules:
//   - No backend SDK types outside telephony adapters.
//   - "Not found" outcomes are reported with the sentinels below so callers
//     can tell them apart from communication failures.
type Backend interface {
	ListChannels(ctx context.Context) ([]ChannelData, error)
	GetChannel(ctx context.Context, channelID string) (ChannelData, error)
	GetChannelVar(ctx context.Context, channelID, name string) (string, error)
	SetChannelVar(ctx context.Context, channelID, name, value string) error
	Originate(ctx context.Context, req OriginateRequest) (ChannelData, error)
	Hangup(ctx context.Context, channelID string) error

	ListBridges(ctx context.Context) ([]BridgeData, error)

	// ApplicationChannels lists the channel ids an application is subscribed to.
	ApplicationChannels(ctx context.Context, app string) ([]string, error)

	GlobalVar(ctx context.Context, name string) (string, error)

	// EndpointOnline reports whether a technology/resource endpoint is
	// currently reachable (e.g. registered).
	EndpointOnline(ctx context.Context, technology, resource string) (bool, error)

	// Subscribe streams lifecycle events of one channel.
	Subscribe(channelID string, kinds ...ChannelEventKind) Subscription
}

// Actions is the device/dialplan-level action surface. Channels are
// addressed by name (e.g. "PJSIP/abcdef-00000001"), not by id.
type Actions interface {
	ExtensionExists(ctx context.Context, dialplanContext, exten string, priority int) (bool, error)
	Mute(ctx context.Context, channel string) error
	Unmute(ctx context.Context, channel string) error
	SendDTMF(ctx context.Context, channel, digit string) error
	// RecordStart starts a mixed recording; options may be empty.
	RecordStart(ctx context.Context, channel, filename, options string) error
	RecordStop(ctx context.Context, channel string) error
}

// Devices is the device-control surface, addressed by endpoint interface
// (e.g. "PJSIP/abcdef").
type Devices interface {
	Hold(ctx context.Context, iface string) error
	Unhold(ctx context.Context, iface string) error
	Answer(ctx context.Context, iface string) error
}

// AllChannelsTopic is the membership value an application reports when it
// is subscribed to every channel.
const AllChannelsTopic = "__AST_CHANNEL_ALL_TOPIC"

var (
	ErrChannelNotFound     = errors.New("telephony: channel not found")
	ErrVariableNotFound    = errors.New("telephony: variable not found")
	ErrApplicationNotFound = errors.New("telephony: application not found")
	ErrEndpointNotFound    = errors.New("telephony: endpoint not found")
)
