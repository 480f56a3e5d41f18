package httpapi

import (
	"calld/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Register mounts the call-control API on r behind authMW.
// Tenant routes need an admin token; /users/me routes need a user token and
// act only on calls that user owns. Successful mutations are audited.
func Register(r gin.IRouter, h Handlers, authMW gin.HandlerFunc) {
	v1 := r.Group("/1.0")
	v1.Use(authMW, rbac.RequireTenant())

	tenantCalls := v1.Group("/calls")
	tenantCalls.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
	{
		tenantCalls.GET("", h.ListCalls)
		tenantCalls.POST("", h.audited("originate"), h.CreateCall)
		tenantCalls.GET("/:call_id", h.GetCall)
		tenantCalls.DELETE("/:call_id", h.audited("hangup"), h.HangupCall)
		tenantCalls.PUT("/:call_id/user/:user_uuid", h.audited("connect_user"), h.ConnectUser)
		tenantCalls.PUT("/:call_id/mute/start", h.audited("mute_start"), h.MuteStart)
		tenantCalls.PUT("/:call_id/mute/stop", h.audited("mute_stop"), h.MuteStop)
		tenantCalls.PUT("/:call_id/dtmf", h.audited("send_dtmf"), h.SendDTMF)
		tenantCalls.PUT("/:call_id/hold/start", h.audited("hold_start"), h.HoldStart)
		tenantCalls.PUT("/:call_id/hold/stop", h.audited("hold_stop"), h.HoldStop)
		tenantCalls.PUT("/:call_id/answer", h.audited("answer"), h.Answer)
		tenantCalls.PUT("/:call_id/record/start", h.audited("record_start"), h.RecordStart)
		tenantCalls.PUT("/:call_id/record/stop", h.audited("record_stop"), h.RecordStop)
	}

	myCalls := v1.Group("/users/me/calls")
	myCalls.Use(rbac.RequireUser())
	{
		myCalls.GET("", h.ListMyCalls)
		myCalls.POST("", h.audited("originate"), h.CreateMyCall)
		myCalls.DELETE("/:call_id", h.audited("hangup"), h.HangupMyCall)
		myCalls.PUT("/:call_id/mute/start", h.audited("mute_start"), h.MyMuteStart)
		myCalls.PUT("/:call_id/mute/stop", h.audited("mute_stop"), h.MyMuteStop)
		myCalls.PUT("/:call_id/dtmf", h.audited("send_dtmf"), h.MySendDTMF)
		myCalls.PUT("/:call_id/hold/start", h.audited("hold_start"), h.MyHoldStart)
		myCalls.PUT("/:call_id/hold/stop", h.audited("hold_stop"), h.MyHoldStop)
		myCalls.PUT("/:call_id/answer", h.audited("answer"), h.MyAnswer)
		myCalls.PUT("/:call_id/record/start", h.audited("record_start"), h.MyRecordStart)
		myCalls.PUT("/:call_id/record/stop", h.audited("record_stop"), h.MyRecordStop)
	}
}
