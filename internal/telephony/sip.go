package telephony

import (
	"fmt"
	"strings"
)

// ProtocolInterface is the device address derived from a channel name.
//
// "PJSIP/abcdef-00000001" => {Protocol: "pjsip", Interface: "PJSIP/abcdef"}
// "SCCP/1001-0000000a"    => {Protocol: "sccp",  Interface: "SCCP/1001"}
// "Local/s@ctx-00000002;1" => {Protocol: "local", Interface: "Local/s@ctx"}
type ProtocolInterface struct {
	Protocol  string
	Interface string
}

// ProtocolInterfaceFromChannel parses a technology-specific channel name.
func ProtocolInterfaceFromChannel(channelName string) (ProtocolInterface, error) {
	tech, rest, ok := strings.Cut(channelName, "/")
	if !ok || tech == "" || rest == "" {
		return ProtocolInterface{}, fmt.Errorf("telephony: unparseable channel name %q", channelName)
	}
	rest, _, _ = strings.Cut(rest, ";")

	// The backend appends a "-<sequence>" suffix to the device name.
	if i := strings.LastIndex(rest, "-"); i > 0 {
		rest = rest[:i]
	}
	return ProtocolInterface{
		Protocol:  strings.ToLower(tech),
		Interface: tech + "/" + rest,
	}, nil
}

// SIPCallIDVar reads the SIP Call-ID header of a SIP channel.
const SIPCallIDVar = "CHANNEL(pjsip,call-id)"

// IsSIPChannelName reports whether the channel runs on the SIP stack.
func IsSIPChannelName(name string) bool {
	return strings.HasPrefix(name, "PJSIP/")
}
