package calls

import (
	"errors"
	"fmt"
)

// Error kinds. Use errors.Is against these; the concrete *Error carries the
// machine-readable details.
var (
	ErrNoSuchCall            = errors.New("calls: no such call")
	ErrUserPermissionDenied  = errors.New("calls: user permission denied")
	ErrInvalidExtension      = errors.New("calls: invalid extension")
	ErrInvalidUser           = errors.New("calls: invalid user")
	ErrInvalidUserLine       = errors.New("calls: invalid user line")
	ErrUserMissingMainLine   = errors.New("calls: user has no main line")
	ErrCallCreation          = errors.New("calls: call creation error")
	ErrCallOriginUnavailable = errors.New("calls: call origin unavailable")
	ErrCallConnect           = errors.New("calls: call connect error")
)

// Error is a structured call-control failure.
type Error struct {
	Kind    error
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Message)
}

func (e *Error) Unwrap() error { return e.Kind }

// Details returns the structured details of err, or nil.
func Details(err error) map[string]any {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}

func noSuchCall(callID string) error {
	return &Error{
		Kind:    ErrNoSuchCall,
		Message: fmt.Sprintf("no call with id %q", callID),
		Details: map[string]any{"call_id": callID},
	}
}

func permissionDenied(userUUID, callID string) error {
	return &Error{
		Kind:    ErrUserPermissionDenied,
		Message: "user does not have permission to handle objects of other users",
		Details: map[string]any{"user": userUUID, "call": callID},
	}
}

func invalidExtension(context, exten string) error {
	return &Error{
		Kind:    ErrInvalidExtension,
		Message: "invalid extension",
		Details: map[string]any{"context": context, "exten": exten},
	}
}

func invalidUser(userUUID string) error {
	return &Error{
		Kind:    ErrInvalidUser,
		Message: "invalid user: not found",
		Details: map[string]any{"user_uuid": userUUID},
	}
}

func invalidUserLine(userUUID string, lineID int) error {
	return &Error{
		Kind:    ErrInvalidUserLine,
		Message: "user has no such line",
		Details: map[string]any{"user_uuid": userUUID, "line_id": lineID},
	}
}

func userMissingMainLine(userUUID string) error {
	return &Error{
		Kind:    ErrUserMissingMainLine,
		Message: "user has no main line",
		Details: map[string]any{"user_uuid": userUUID},
	}
}

func callCreation(message string, details map[string]any) error {
	return &Error{Kind: ErrCallCreation, Message: message, Details: details}
}

func originUnavailable(lineID int, iface string) error {
	return &Error{
		Kind:    ErrCallOriginUnavailable,
		Message: "line is not available to originate a call",
		Details: map[string]any{"line_id": lineID, "source_interface": iface},
	}
}

func connectError(callID string) error {
	return &Error{
		Kind:    ErrCallConnect,
		Message: "call is not bound to a known application",
		Details: map[string]any{"call_id": callID},
	}
}
