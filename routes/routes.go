package routes

import (
	"log/slog"

	"chathistory/controllers"
	"chathistory/middlewares"

	"github.com/gin-gonic/gin"
)

func SetupRouter(h *controllers.ChatHistoryController, logger *slog.Logger, allowOrigin string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middlewares.Logger(logger))
	r.Use(middlewares.CORS(allowOrigin))

	// Ingest; /save_chat_history is kept for older clients.
	r.POST("/chat_history", h.SaveChatHistory)
	r.POST("/save_chat_history", h.SaveChatHistory)

	r.GET("/chat_history", h.ListChatHistory)
	r.GET("/health", h.Health)

	return r
}
