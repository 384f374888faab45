package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"multichat-backend/internal/model"
	"multichat-backend/internal/service"
	"multichat-backend/internal/settings"
	"multichat-backend/internal/storage"
	"multichat-backend/pkg/logger"
)

type ChatHandler struct {
	chatService *service.ChatService
}

func NewChatHandler(chatService *service.ChatService) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
	}
}

// Register mounts the conversation routes under api.
func (h *ChatHandler) Register(api *gin.RouterGroup) {
	conversations := api.Group("/conversations")
	{
		conversations.POST("", h.CreateConversation)
		conversations.GET("", h.ListConversations)
		conversations.GET("/:id", h.GetConversation)
		conversations.PUT("/:id", h.RenameConversation)
		conversations.DELETE("/:id", h.DeleteConversation)
		conversations.POST("/:id/clone", h.CloneConversation)
		conversations.GET("/:id/status", h.GetStatus)

		conversations.POST("/:id/messages", h.SendMessage)
		conversations.PUT("/:id/messages/:message_id", h.EditMessage)
		conversations.GET("/:id/messages/:message_id/text", h.CopyText)
		conversations.POST("/:id/messages/:message_id/resend", h.Resend)
		conversations.POST("/:id/messages/:message_id/regenerate", h.Regenerate)
		conversations.PUT("/:id/messages/:message_id/selection", h.SelectResult)
		conversations.PUT("/:id/messages/:message_id/merge", h.SetMergeVersions)
	}
}

// statusFor maps service and storage errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrConversationNotFound), errors.Is(err, storage.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrRequestInFlight):
		return http.StatusConflict
	case errors.Is(err, settings.ErrConfig),
		errors.Is(err, storage.ErrInvalidData),
		errors.Is(err, storage.ErrInvalidIndex),
		errors.Is(err, service.ErrInvalidSelection),
		errors.Is(err, service.ErrEmptyMessage),
		errors.Is(err, service.ErrInvalidCloneCount),
		errors.Is(err, service.ErrNotAssistant),
		errors.Is(err, service.ErrNotUserMessage):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *ChatHandler) CreateConversation(c *gin.Context) {
	var req model.CreateConversationRequest
	// An empty body falls back to the default title.
	_ = c.ShouldBindJSON(&req)

	conv, err := h.chatService.CreateConversation(req.Title)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *ChatHandler) ListConversations(c *gin.Context) {
	list, err := h.chatService.ListConversations()
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": list})
}

func (h *ChatHandler) GetConversation(c *gin.Context) {
	conv, err := h.chatService.GetConversation(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *ChatHandler) RenameConversation(c *gin.Context) {
	var req model.UpdateTitleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.chatService.RenameConversation(c.Param("id"), req.Title); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Title updated successfully"})
}

func (h *ChatHandler) DeleteConversation(c *gin.Context) {
	if err := h.chatService.DeleteConversation(c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Conversation deleted successfully"})
}

func (h *ChatHandler) CloneConversation(c *gin.Context) {
	req := model.CloneRequest{Count: 1}
	_ = c.ShouldBindJSON(&req)

	clones, err := h.chatService.CloneConversation(c.Param("id"), req.Count)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": clones})
}

func (h *ChatHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.chatService.Status(c.Param("id")))
}

// respondTurn writes the outcome of a dispatch. A turn that ended in a
// gateway failure still produced a stored error message, which is returned
// alongside the error text.
func respondTurn(c *gin.Context, res *service.TurnResult, err error) {
	if err != nil {
		abortWithError(c, err)
		return
	}
	resp := model.TurnResponse{
		ConversationID: res.ConversationID,
		UserMessageID:  res.UserMessageID,
		Message:        res.Message,
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
		c.JSON(http.StatusBadGateway, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req model.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.chatService.SendMessage(c.Request.Context(), c.Param("id"), req.Content, req.Images, req.Overrides)
	respondTurn(c, res, err)
}

func (h *ChatHandler) EditMessage(c *gin.Context) {
	var req model.EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg, err := h.chatService.EditMessage(c.Param("id"), c.Param("message_id"), req.Content)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *ChatHandler) CopyText(c *gin.Context) {
	text, err := h.chatService.CopyText(c.Param("id"), c.Param("message_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"text": text})
}

func (h *ChatHandler) Resend(c *gin.Context) {
	var req model.ResendRequest
	_ = c.ShouldBindJSON(&req)
	res, err := h.chatService.EditAndResend(c.Request.Context(), c.Param("id"), c.Param("message_id"), req.Content, req.Overrides)
	respondTurn(c, res, err)
}

func (h *ChatHandler) Regenerate(c *gin.Context) {
	var req model.RegenerateRequest
	_ = c.ShouldBindJSON(&req)
	res, err := h.chatService.Regenerate(c.Request.Context(), c.Param("id"), c.Param("message_id"), req.Overrides)
	respondTurn(c, res, err)
}

func (h *ChatHandler) SelectResult(c *gin.Context) {
	var req model.SelectResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg, err := h.chatService.SelectResult(c.Param("id"), c.Param("message_id"), *req.Index)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *ChatHandler) SetMergeVersions(c *gin.Context) {
	var req model.MergeVersionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg, err := h.chatService.SetMergeVersions(c.Param("id"), c.Param("message_id"), req.Enabled)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}
