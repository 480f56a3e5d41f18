package httpapi

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"calld/internal/audit"
	"calld/internal/auth"
	"calld/internal/calls"
	"calld/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Calls *calls.Service
	// Audit is optional; nil disables the audit trail.
	Audit *audit.Service
}

var dtmfDigits = regexp.MustCompile(`^[0-9A-D*#]+$`)

// --- Tenant scoped ---

func (h Handlers) ListCalls(c *gin.Context) {
	recurse, _ := strconv.ParseBool(c.Query("recurse"))
	out, err := h.Calls.ListCalls(c.Request.Context(), calls.ListFilter{
		TenantUUID:          tenant(c),
		Application:         c.Query("application"),
		ApplicationInstance: c.Query("application_instance"),
		Recurse:             recurse,
	})
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": out})
}

func (h Handlers) CreateCall(c *gin.Context) {
	var req calls.OriginateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Destination.Context == "" || req.Destination.Extension == "" || req.Source.User == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "destination.context, destination.extension, source.user required"})
		return
	}
	call, err := h.Calls.Originate(c.Request.Context(), tenant(c), req)
	if err != nil {
		abort(c, err)
		return
	}
	c.Set(ctxAuditCallID, call.CallID)
	c.JSON(http.StatusCreated, call)
}

func (h Handlers) GetCall(c *gin.Context) {
	call, err := h.Calls.Get(c.Request.Context(), tenant(c), c.Param("call_id"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h Handlers) HangupCall(c *gin.Context) {
	h.noContent(c, h.Calls.Hangup(c.Request.Context(), tenant(c), c.Param("call_id")))
}

// ConnectUser dials a user's main line and bridges it to the call.
// The optional timeout query parameter is in seconds.
func (h Handlers) ConnectUser(c *gin.Context) {
	var timeout time.Duration
	if v := c.Query("timeout"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "timeout must be a positive number of seconds"})
			return
		}
		timeout = time.Duration(n) * time.Second
	}
	ctx := c.Request.Context()
	newID, err := h.Calls.ConnectUser(ctx, tenant(c), c.Param("call_id"), c.Param("user_uuid"), timeout)
	if err != nil {
		abort(c, err)
		return
	}
	c.Set(ctxAuditCallID, newID)
	// The new leg carries no tenant until the dialplan tags it.
	call, err := h.Calls.Get(ctx, "", newID)
	if err != nil {
		if errors.Is(err, calls.ErrNoSuchCall) {
			c.JSON(http.StatusAccepted, gin.H{"call_id": newID})
			return
		}
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h Handlers) MuteStart(c *gin.Context) {
	_, err := h.Calls.Mute(c.Request.Context(), tenant(c), c.Param("call_id"))
	h.noContent(c, err)
}

func (h Handlers) MuteStop(c *gin.Context) {
	_, err := h.Calls.Unmute(c.Request.Context(), tenant(c), c.Param("call_id"))
	h.noContent(c, err)
}

func (h Handlers) SendDTMF(c *gin.Context) {
	digits, ok := validDigits(c)
	if !ok {
		return
	}
	h.noContent(c, h.Calls.SendDTMF(c.Request.Context(), tenant(c), c.Param("call_id"), digits))
}

func (h Handlers) HoldStart(c *gin.Context) {
	h.noContent(c, h.Calls.Hold(c.Request.Context(), tenant(c), c.Param("call_id")))
}

func (h Handlers) HoldStop(c *gin.Context) {
	h.noContent(c, h.Calls.Unhold(c.Request.Context(), tenant(c), c.Param("call_id")))
}

func (h Handlers) Answer(c *gin.Context) {
	h.noContent(c, h.Calls.Answer(c.Request.Context(), tenant(c), c.Param("call_id")))
}

func (h Handlers) RecordStart(c *gin.Context) {
	h.noContent(c, h.Calls.RecordStart(c.Request.Context(), tenant(c), c.Param("call_id")))
}

func (h Handlers) RecordStop(c *gin.Context) {
	h.noContent(c, h.Calls.RecordStop(c.Request.Context(), tenant(c), c.Param("call_id")))
}

// --- User scoped (/users/me) ---

func (h Handlers) ListMyCalls(c *gin.Context) {
	out, err := h.Calls.ListCallsUser(c.Request.Context(), user(c), calls.ListFilter{
		Application:         c.Query("application"),
		ApplicationInstance: c.Query("application_instance"),
	})
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": out})
}

func (h Handlers) CreateMyCall(c *gin.Context) {
	var req calls.UserOriginateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Extension == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "extension required"})
		return
	}
	call, err := h.Calls.OriginateUser(c.Request.Context(), tenant(c), user(c), req)
	if err != nil {
		abort(c, err)
		return
	}
	c.Set(ctxAuditCallID, call.CallID)
	c.JSON(http.StatusCreated, call)
}

func (h Handlers) HangupMyCall(c *gin.Context) {
	h.noContent(c, h.Calls.HangupUser(c.Request.Context(), c.Param("call_id"), user(c)))
}

func (h Handlers) MyMuteStart(c *gin.Context) {
	_, err := h.Calls.MuteUser(c.Request.Context(), tenant(c), c.Param("call_id"), user(c))
	h.noContent(c, err)
}

func (h Handlers) MyMuteStop(c *gin.Context) {
	_, err := h.Calls.UnmuteUser(c.Request.Context(), tenant(c), c.Param("call_id"), user(c))
	h.noContent(c, err)
}

func (h Handlers) MySendDTMF(c *gin.Context) {
	digits, ok := validDigits(c)
	if !ok {
		return
	}
	h.noContent(c, h.Calls.SendDTMFUser(c.Request.Context(), tenant(c), c.Param("call_id"), user(c), digits))
}

func (h Handlers) MyHoldStart(c *gin.Context) {
	h.noContent(c, h.Calls.HoldUser(c.Request.Context(), tenant(c), c.Param("call_id"), user(c)))
}

func (h Handlers) MyHoldStop(c *gin.Context) {
	h.noContent(c, h.Calls.UnholdUser(c.Request.Context(), tenant(c), c.Param("call_id"), user(c)))
}

func (h Handlers) MyAnswer(c *gin.Context) {
	h.noContent(c, h.Calls.AnswerUser(c.Request.Context(), tenant(c), c.Param("call_id"), user(c)))
}

func (h Handlers) MyRecordStart(c *gin.Context) {
	h.noContent(c, h.Calls.RecordStartUser(c.Request.Context(), tenant(c), c.Param("call_id"), user(c)))
}

func (h Handlers) MyRecordStop(c *gin.Context) {
	h.noContent(c, h.Calls.RecordStopUser(c.Request.Context(), tenant(c), c.Param("call_id"), user(c)))
}

// --- helpers ---

func (h Handlers) noContent(c *gin.Context, err error) {
	if err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// tenant and user read identity injected by auth.RequireAccessToken; the
// rbac middlewares have already rejected requests without them.
func tenant(c *gin.Context) string {
	t, _ := auth.TenantUUID(c.Request.Context())
	return t
}

func user(c *gin.Context) string {
	u, _ := auth.UserUUID(c.Request.Context())
	return u
}

func validDigits(c *gin.Context) (string, bool) {
	digits := c.Query("digits")
	if !dtmfDigits.MatchString(digits) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error_id": "invalid-dtmf",
			"message":  "digits must only contain 0-9, A-D, * and #",
			"details":  gin.H{"digits": digits},
		})
		return "", false
	}
	return digits, true
}

type errorMapping struct {
	kind   error
	status int
	id     string
}

var errorMappings = []errorMapping{
	{calls.ErrNoSuchCall, http.StatusNotFound, "no-such-call"},
	{calls.ErrUserPermissionDenied, http.StatusForbidden, "user-permission-denied"},
	{calls.ErrInvalidExtension, http.StatusBadRequest, "invalid-extension"},
	{calls.ErrInvalidUser, http.StatusBadRequest, "invalid-user"},
	{calls.ErrInvalidUserLine, http.StatusBadRequest, "invalid-user-line"},
	{calls.ErrUserMissingMainLine, http.StatusBadRequest, "user-missing-main-line"},
	{calls.ErrCallCreation, http.StatusBadRequest, "call-creation"},
	{calls.ErrCallOriginUnavailable, http.StatusBadRequest, "call-origin-unavailable"},
	{calls.ErrCallConnect, http.StatusBadRequest, "call-connect-error"},
}

// abort writes err as a JSON error body. Anything that is not a call
// error is a collaborator failure and reported as 503.
func abort(c *gin.Context, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.kind) {
			body := gin.H{"error_id": m.id, "message": err.Error()}
			if d := calls.Details(err); d != nil {
				body["details"] = d
			}
			c.AbortWithStatusJSON(m.status, body)
			return
		}
	}
	logger.FromGin(c).Error("backend unavailable", "err", err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
		"error_id": "calld-backend-unavailable",
		"message":  "a telephony backend is unavailable",
	})
}
