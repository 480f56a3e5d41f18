package httpapi

import (
	"net/http"

	"calld/internal/audit"
	"calld/internal/auth"
	"calld/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ctxAuditCallID lets handlers name the call an action created.
const ctxAuditCallID = "audit_call_id"

// audited records action in the audit trail once the handler has
// succeeded. Failures to record are logged and never fail the request.
func (h Handlers) audited(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if h.Audit == nil || c.Writer.Status() >= http.StatusBadRequest {
			return
		}
		ctx := c.Request.Context()
		role, _ := auth.Role(ctx)
		actor := audit.Actor{UserUUID: user(c), Role: role, IP: c.ClientIP()}

		callID := c.Param("call_id")
		meta := map[string]any{}
		if created := c.GetString(ctxAuditCallID); created != "" {
			if callID == "" {
				callID = created
			} else {
				meta["new_call_id"] = created
			}
		}
		if u := c.Param("user_uuid"); u != "" {
			meta["user_uuid"] = u
		}
		if d := c.Query("digits"); d != "" {
			meta["digits"] = d
		}
		if err := h.Audit.Record(ctx, tenant(c), actor, action, callID, meta); err != nil {
			logger.FromGin(c).Warn("audit record failed", "action", action, "call_id", callID, "err", err)
		}
	}
}
