package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianTale/services/engine/lore"
)

// GetLore handles GET /api/lore/:element, generating the entry on first
// request and serving it from cache afterwards.
func GetLore(cache *lore.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		element := c.Param("element")
		text, err := cache.Get(c.Request.Context(), element)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"element": element, "lore": text})
	}
}
