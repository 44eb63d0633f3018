package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/stoa/app/settings"
)

func (h *Handler) ListSettings(c *gin.Context) {
	all, err := h.settings.All(c.Request.Context())
	if err != nil {
		respondError(c, "list_settings", err)
		return
	}
	c.JSON(http.StatusOK, all)
}

func (h *Handler) GetSetting(c *gin.Context) {
	key, err := settings.ParseKey(c.Param("key"))
	if err != nil {
		respondError(c, "get_setting", err)
		return
	}

	value, err := h.settings.Get(c.Request.Context(), key)
	if err != nil {
		respondError(c, "get_setting", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": value})
}

func (h *Handler) PutSetting(c *gin.Context) {
	key, err := settings.ParseKey(c.Param("key"))
	if err != nil {
		respondError(c, "put_setting", err)
		return
	}

	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	value, err := h.settings.Put(c.Request.Context(), key, req.Value)
	if err != nil {
		respondError(c, "put_setting", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": value})
}
