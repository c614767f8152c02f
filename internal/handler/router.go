package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/draftwire/draftwire/internal/middleware"
	"github.com/draftwire/draftwire/internal/ws"
)

type RouterDeps struct {
	Drafts    *DraftHandler
	WSManager *ws.Manager
	JWTSecret []byte
}

func RegisterRoutes(group *gin.RouterGroup, deps RouterDeps) {
	// Socket auth happens once inside Connect, not via the jwt middleware.
	group.GET("/ws", deps.WSManager.Connect)

	drafts := group.Group("/drafts", middleware.JWTAuth(deps.JWTSecret))
	{
		drafts.POST("", deps.Drafts.Create)
		drafts.GET("", deps.Drafts.List)
		drafts.GET("/:id", deps.Drafts.Get)
		drafts.PATCH("/:id", deps.Drafts.Save)
		drafts.DELETE("/:id", deps.Drafts.Delete)
		drafts.GET("/:id/activity", deps.Drafts.Activity)
	}
}
