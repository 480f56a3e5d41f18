package calls

// Channel variables shared with the dialplan. A leading "_" on a variable
// set at origination makes it inherited by derived channels; it is not part
// of the name when reading.
const (
	varTenantUUID             = "ACCENT_TENANT_UUID"
	varUserUUID               = "ACCENT_USERUUID"
	varDereferencedUserUUID   = "ACCENT_DEREFERENCED_USERUUID"
	varMuted                  = "ACCENT_CALL_MUTED"
	varOnHold                 = "ACCENT_ON_HOLD"
	varRecordActive           = "ACCENT_CALL_RECORD_ACTIVE"
	varRecordSide             = "ACCENT_CALL_RECORD_SIDE"
	varRecordGroupCallee      = "ACCENT_RECORD_GROUP_CALLEE"
	varLocalChanMatchUUID     = "ACCENT_LOCAL_CHAN_MATCH_UUID"
	varMixMonitorOptions      = "ACCENT_MIXMONITOR_OPTIONS"
	varAnswerTime             = "ACCENT_ANSWER_TIME"
	varCallDirection          = "ACCENT_CALL_DIRECTION"
	varConversationDirection  = "ACCENT_CONVERSATION_DIRECTION"
	varChannelDirection       = "ACCENT_CHANNEL_DIRECTION"
	varEntryExten             = "ACCENT_ENTRY_EXTEN"
	varSIPCallID              = "ACCENT_SIP_CALL_ID"
	varLineID                 = "ACCENT_LINE_ID"
	varDialEchoRequestID      = "ACCENT_DIAL_ECHO_REQUEST_ID"
	varFixCallerID            = "ACCENT_FIX_CALLERID"
	varOriginalCallerID       = "ACCENT_ORIGINAL_CALLER_ID"
	varLinkedID               = "CHANNEL(linkedid)"
	varVideoNativeFormat      = "CHANNEL(videonativeformat)"
	varOriginateMobilePrio    = "ACCENT_ORIGINATE_MOBILE_PRIORITY"
	varOriginateMobileExten   = "ACCENT_ORIGINATE_MOBILE_EXTENSION"
	varOriginateMobileContext = "ACCENT_ORIGINATE_MOBILE_CONTEXT"
	varOriginateDestPrio      = "ACCENT_ORIGINATE_DESTINATION_PRIORITY"
	varOriginateDestExten     = "ACCENT_ORIGINATE_DESTINATION_EXTENSION"
	varOriginateDestContext   = "ACCENT_ORIGINATE_DESTINATION_CONTEXT"
	varOriginateDestCallerID  = "ACCENT_ORIGINATE_DESTINATION_CALLERID_ALL"
)

const (
	// channelDirectionToPlatform marks the leg that entered the platform
	// first, i.e. the caller side.
	channelDirectionToPlatform = "to-accent"

	autoprovContext = "accent-provisioning"
	noVideoFormat   = "(nothing)"

	// parkingBridgePrefix names the bridges parked channels wait in.
	parkingBridgePrefix = "parking"

	mobileLeg1Endpoint = "local/s@accent-originate-mobile-leg1/n"
	mobileLeg2Context  = "accent-originate-mobile-leg2"
	sharedLinesContext = "usersharedlines"
)

// autoAnswerVariables make the called device pick up on its own.
var autoAnswerVariables = map[string]string{
	"PJSIP_HEADER(add,Alert-Info)":   "<http://accent.io>;info=alert-autoanswer;delay=0",
	"PJSIP_HEADER(add,Answer-After)": "0",
	"PJSIP_HEADER(add,Call-Info)":    ";answer-after=0",
}
