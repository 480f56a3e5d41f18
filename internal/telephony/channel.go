package telephony

import (
	"strings"
	"time"
)

// ChannelData is the typed view of one signalling-backend channel.
// It is built once per lookup; business logic never sees the raw payload.
type ChannelData struct {
	ID           string
	Name         string
	State        string
	Caller       CallerID
	Connected    CallerID
	Dialplan     DialplanCEP
	CreationTime time.Time

	// Variables is the flat channel variable snapshot the backend reports
	// with the channel. Variables missing here may still be readable with
	// Backend.GetChannelVar.
	Variables map[string]string
}

type CallerID struct {
	Name   string
	Number string
}

type DialplanCEP struct {
	Context  string
	Exten    string
	Priority int64
}

// Var returns a variable from the snapshot, or "" when absent.
func (c ChannelData) Var(name string) string {
	if c.Variables == nil {
		return ""
	}
	return c.Variables[name]
}

// LookupVar reports whether the snapshot carries the variable.
func (c ChannelData) LookupVar(name string) (string, bool) {
	if c.Variables == nil {
		return "", false
	}
	v, ok := c.Variables[name]
	return v, ok
}

// IsLocal reports whether the channel is a pass-through (Local) leg.
func (c ChannelData) IsLocal() bool {
	return IsLocalChannelName(c.Name)
}

// IsLocalSide1 reports whether the channel is the ";1" half of a Local pair.
func (c ChannelData) IsLocalSide1() bool {
	return c.IsLocal() && strings.HasSuffix(c.Name, ";1")
}

func IsLocalChannelName(name string) bool {
	return strings.HasPrefix(name, "Local/")
}

// BridgeData is the typed view of one bridge.
type BridgeData struct {
	ID         string
	Name       string
	Technology string
	ChannelIDs []string
}

// Has reports whether channelID is a member of the bridge.
func (b BridgeData) Has(channelID string) bool {
	for _, id := range b.ChannelIDs {
		if id == channelID {
			return true
		}
	}
	return false
}

// OriginateRequest is a provider-agnostic origination.
//
// Either Context/Extension/Priority (dialplan) or App/AppArgs (application)
// must be set.
type OriginateRequest struct {
	// ChannelID is optional; the backend assigns one when empty.
	ChannelID string
	Endpoint  string

	Context   string
	Extension string
	Priority  int64

	App     string
	AppArgs []string

	Variables map[string]string

	// Timeout bounds ringing. Zero or negative means no timeout.
	Timeout time.Duration

	// Originator is the channel the new channel is "dialed from".
	Originator string
}

// ChannelEventKind names channel lifecycle transitions.
type ChannelEventKind string

const (
	// ChannelEntered fires when the channel enters the control application
	// (an originated leg was answered).
	ChannelEntered ChannelEventKind = "StasisStart"
	// ChannelLeft fires when the channel leaves the control application
	// (hung up or moved away).
	ChannelLeft ChannelEventKind = "StasisEnd"
)

type ChannelEvent struct {
	Kind      ChannelEventKind
	ChannelID string
}

// Subscription is a cancellable stream of channel events.
// Cancel is idempotent; Events is closed after Cancel.
type Subscription interface {
	Events() <-chan ChannelEvent
	Cancel()
}
