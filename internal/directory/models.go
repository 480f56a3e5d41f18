package directory

import (
	"context"
	"errors"
	"strings"
)

// User is the slice of user configuration call control needs.
//
// Multi-tenant invariant: TenantUUID is set on every user.
type User struct {
	UUID              string `json:"uuid" db:"uuid"`
	TenantUUID        string `json:"tenant_uuid" db:"tenant_uuid"`
	MobilePhoneNumber string `json:"mobile_phone_number,omitempty" db:"mobile_phone_number"`
}

// Line is one phone line of a user.
type Line struct {
	ID         int    `json:"id" db:"id"`
	TenantUUID string `json:"tenant_uuid" db:"tenant_uuid"`

	// Protocol is one of sip, sccp, custom.
	Protocol string `json:"protocol" db:"protocol"`
	// Name is the endpoint name (or the full interface for custom lines).
	Name    string `json:"name" db:"name"`
	Context string `json:"context" db:"context"`
}

const (
	ProtocolSIP    = "sip"
	ProtocolSCCP   = "sccp"
	ProtocolCustom = "custom"
)

// Interface returns the dialable endpoint of the line.
func (l Line) Interface() string {
	switch l.Protocol {
	case ProtocolSIP:
		return "PJSIP/" + l.Name
	case ProtocolSCCP:
		return "SCCP/" + l.Name
	case ProtocolCustom:
		return l.Name
	default:
		return strings.ToUpper(l.Protocol) + "/" + l.Name
	}
}

// Technology returns the backend endpoint technology, e.g. "PJSIP".
func (l Line) Technology() string {
	tech, _, _ := strings.Cut(l.Interface(), "/")
	return tech
}

// Directory resolves users and lines. An empty tenantUUID matches any tenant.
type Directory interface {
	User(ctx context.Context, tenantUUID, userUUID string) (User, error)
	MainLine(ctx context.Context, tenantUUID, userUUID string) (Line, error)
	Line(ctx context.Context, tenantUUID, userUUID string, lineID int) (Line, error)
}

var (
	ErrUserNotFound = errors.New("directory: user not found")
	ErrNoMainLine   = errors.New("directory: user has no main line")
	ErrLineNotFound = errors.New("directory: line not found")
)
