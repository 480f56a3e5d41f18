package calls

import "time"

// Call is a projection of one live backend channel.
//
// It is never stored: every read rebuilds it from backend state, so a Call
// always corresponds to a channel that existed at projection time.
//
// Multi-tenant invariant: TenantUUID is the tenant tag of the channel.
type Call struct {
	CallID         string `json:"call_id"`
	ConversationID string `json:"conversation_id"`

	CreationTime time.Time  `json:"creation_time"`
	AnswerTime   *time.Time `json:"answer_time"`
	HangupTime   *time.Time `json:"hangup_time,omitempty"`

	Status  string `json:"status"`
	IsLocal bool   `json:"is_local"`

	CallerIDName       string `json:"caller_id_name"`
	CallerIDNumber     string `json:"caller_id_number"`
	PeerCallerIDName   string `json:"peer_caller_id_name"`
	PeerCallerIDNumber string `json:"peer_caller_id_number"`

	UserUUID   string `json:"user_uuid,omitempty"`
	TenantUUID string `json:"tenant_uuid"`

	OnHold      bool        `json:"on_hold"`
	Muted       bool        `json:"muted"`
	Parked      bool        `json:"parked"`
	RecordState RecordState `json:"record_state"`

	Bridges []string `json:"bridges"`
	// TalkingTo maps each connected channel id to its owner; nil for
	// anonymous and Local peers.
	TalkingTo map[string]*string `json:"talking_to"`

	IsCaller   bool `json:"is_caller"`
	IsVideo    bool `json:"is_video"`
	IsAutoprov bool `json:"is_autoprov"`

	DialedExtension string    `json:"dialed_extension,omitempty"`
	SIPCallID       string    `json:"sip_call_id,omitempty"`
	LineID          *int      `json:"line_id"`
	Direction       Direction `json:"direction"`
}

type RecordState string

const (
	RecordActive   RecordState = "active"
	RecordInactive RecordState = "inactive"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
	DirectionInternal Direction = "internal"
	DirectionUnknown  Direction = "unknown"
)

// ListFilter narrows ListCalls and ListCallsUser.
type ListFilter struct {
	TenantUUID string

	// Application keeps channels the application is subscribed to.
	Application string
	// ApplicationInstance further keeps channels bound to that instance of
	// Application; ignored without Application.
	ApplicationInstance string

	// Recurse lists every tenant when TenantUUID is the master tenant.
	Recurse bool
}

// OriginateRequest is a tenant-scoped origination.
type OriginateRequest struct {
	Destination Destination       `json:"destination"`
	Source      Source            `json:"source"`
	Variables   map[string]string `json:"variables,omitempty"`
}

type Destination struct {
	Context   string `json:"context"`
	Extension string `json:"extension"`
	Priority  int    `json:"priority"`
}

type Source struct {
	User string `json:"user"`
	// LineID selects a specific line; 0 means the main line.
	LineID     int  `json:"line_id,omitempty"`
	AllLines   bool `json:"all_lines"`
	FromMobile bool `json:"from_mobile"`
	AutoAnswer bool `json:"auto_answer"`
}

// UserOriginateRequest is an origination on behalf of the calling user.
type UserOriginateRequest struct {
	Extension        string            `json:"extension"`
	LineID           int               `json:"line_id,omitempty"`
	AllLines         bool              `json:"all_lines"`
	FromMobile       bool              `json:"from_mobile"`
	AutoAnswerCaller bool              `json:"auto_answer_caller"`
	Variables        map[string]string `json:"variables,omitempty"`
}
