package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"multichat-backend/internal/model"
	"multichat-backend/internal/settings"
)

type SettingsHandler struct {
	store settings.Store
}

func NewSettingsHandler(store settings.Store) *SettingsHandler {
	return &SettingsHandler{store: store}
}

func (h *SettingsHandler) Register(api *gin.RouterGroup) {
	group := api.Group("/settings")
	{
		group.GET("", h.List)
		group.GET("/:key", h.Get)
		group.PUT("/:key", h.Set)
		group.DELETE("/:key", h.Delete)
	}
}

// maskSecret hides everything but the last four characters of an API key.
func maskSecret(key string, value interface{}) interface{} {
	s, ok := value.(string)
	if key != settings.KeyAPIKey || !ok || s == "" {
		return value
	}
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}

func settingsStatus(err error) int {
	if errors.Is(err, settings.ErrInvalidKey) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *SettingsHandler) List(c *gin.Context) {
	keys, err := h.store.Keys()
	if err != nil {
		c.JSON(settingsStatus(err), gin.H{"error": err.Error()})
		return
	}
	out := make(map[string]interface{}, len(keys))
	for _, k := range keys {
		var v interface{}
		if _, err := h.store.Get(k, &v); err == nil {
			out[k] = maskSecret(k, v)
		}
	}
	c.JSON(http.StatusOK, gin.H{"settings": out})
}

func (h *SettingsHandler) Get(c *gin.Context) {
	key := c.Param("key")
	var v interface{}
	found, err := h.store.Get(key, &v)
	if err != nil {
		c.JSON(settingsStatus(err), gin.H{"error": err.Error()})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "setting not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": maskSecret(key, v)})
}

func (h *SettingsHandler) Set(c *gin.Context) {
	var req model.SettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	key := c.Param("key")
	if err := h.store.Set(key, req.Value); err != nil {
		c.JSON(settingsStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": maskSecret(key, req.Value)})
}

func (h *SettingsHandler) Delete(c *gin.Context) {
	if err := h.store.Delete(c.Param("key")); err != nil {
		c.JSON(settingsStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Setting deleted successfully"})
}
