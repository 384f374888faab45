package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"multichat-backend/internal/gateway"
	"multichat-backend/internal/model"
	"multichat-backend/internal/utils"
	"multichat-backend/pkg/logger"
)

// GatewayHandler serves the inference gateway endpoints backed by Proxy.
type GatewayHandler struct {
	proxy *gateway.Proxy
}

func NewGatewayHandler(proxy *gateway.Proxy) *GatewayHandler {
	return &GatewayHandler{proxy: proxy}
}

func (h *GatewayHandler) Register(api *gin.RouterGroup) {
	chat := api.Group("/chat")
	{
		chat.POST("", h.Chat)
		chat.POST("/stream", h.ChatStream)
	}
}

func (h *GatewayHandler) bind(c *gin.Context) (*model.GatewayRequest, bool) {
	var req model.GatewayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.GatewayResponse{
			Error:     "invalid request: " + err.Error(),
			ErrorKind: string(gateway.KindClient),
		})
		return nil, false
	}
	if verr := h.proxy.Validate(&req); verr != nil {
		c.JSON(http.StatusBadRequest, model.GatewayResponse{
			Error:         verr.Message,
			ErrorKind:     string(verr.Kind),
			UserMessageID: req.UserMessageID,
		})
		return nil, false
	}
	return &req, true
}

// failureStatus picks the HTTP status for a failed single-attempt
// response: the vendor's own status when known.
func failureStatus(resp *model.GatewayResponse) int {
	if resp.StatusCode >= 400 {
		return resp.StatusCode
	}
	switch gateway.Kind(resp.ErrorKind) {
	case gateway.KindTimeout:
		return http.StatusGatewayTimeout
	case gateway.KindConfig, gateway.KindClient:
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}

// Chat runs every attempt and answers with the aggregate.
func (h *GatewayHandler) Chat(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}

	resp := h.proxy.Run(c.Request.Context(), req, nil)
	if !resp.Success && !resp.IsBatch() {
		c.JSON(failureStatus(resp), resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ChatStream emits a partial event per settled attempt and a final event
// with the aggregate.
func (h *GatewayHandler) ChatStream(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}

	sse := utils.NewSSEWriter(c.Writer)
	c.Status(http.StatusOK)

	resp := h.proxy.Run(c.Request.Context(), req, func(p *model.GatewayResponse) {
		if err := sse.WriteJSON("partial", p); err != nil {
			logger.Warnf("failed to write partial event: %v", err)
		}
	})

	event := "final"
	if !resp.Success && !resp.IsBatch() {
		event = "error"
	}
	if err := sse.WriteJSON(event, resp); err != nil {
		logger.Errorf("failed to write %s event: %v", event, err)
		return
	}
	_ = sse.Close()
}
