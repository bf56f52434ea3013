package controllers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"chathistory/models"
	"chathistory/services"

	"github.com/gin-gonic/gin"
)

const (
	ChatHistoryField = "chat_history"

	MsgSaved            = "Chat history saved successfully!"
	MsgInvalid          = "Invalid chat history data."
	MsgConnectionFailed = "Connection failed: "
	MsgSaveFailed       = "Failed to save chat history: "
	msgPartiallySaved   = "Chat history partially saved: %d of %d entries failed."

	BatchIDHeader = "X-Batch-ID"
)

type ChatHistoryStore interface {
	SaveChatHistory(ctx context.Context, raw string) (services.SaveResult, error)
	ListChatHistory(ctx context.Context, afterID int64, limit int) ([]models.ChatHistoryRow, error)
	Ping(ctx context.Context) error
}

type ChatHistoryController struct {
	store ChatHistoryStore
}

func NewChatHistoryController(store ChatHistoryStore) *ChatHistoryController {
	return &ChatHistoryController{store: store}
}

// SaveChatHistory handles POST /chat_history. Responses are plain text.
func (h *ChatHistoryController) SaveChatHistory(c *gin.Context) {
	result, err := h.store.SaveChatHistory(c.Request.Context(), c.PostForm(ChatHistoryField))
	if result.BatchID != "" {
		c.Header(BatchIDHeader, result.BatchID)
	}
	if err != nil {
		_ = c.Error(err)
	}

	var connErr *services.ConnectionError
	switch {
	case err == nil && len(result.Failed) > 0:
		c.String(http.StatusOK, fmt.Sprintf(msgPartiallySaved, len(result.Failed), result.Total))
	case err == nil:
		c.String(http.StatusOK, MsgSaved)
	case errors.As(err, &connErr):
		c.String(http.StatusInternalServerError, MsgConnectionFailed+connErr.Error())
	case errors.Is(err, services.ErrInvalidChatHistory):
		c.String(http.StatusOK, MsgInvalid)
	default:
		c.String(http.StatusInternalServerError, MsgSaveFailed+err.Error())
	}
}

// ListChatHistory handles GET /chat_history?after_id=&limit=.
func (h *ChatHistoryController) ListChatHistory(c *gin.Context) {
	afterID, err := queryInt(c, "after_id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rows, err := h.store.ListChatHistory(c.Request.Context(), afterID, int(limit))
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch chat history"})
		return
	}

	next := afterID
	if len(rows) > 0 {
		next = rows[len(rows)-1].ID
	}
	c.JSON(http.StatusOK, gin.H{"entries": rows, "next_after_id": next})
}

func (h *ChatHistoryController) Health(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func queryInt(c *gin.Context, name string) (int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return v, nil
}
