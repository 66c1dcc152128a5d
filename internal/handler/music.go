package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"quota-gateway/internal/adapter"
)

type MusicHandler struct {
	adapter *adapter.MusicAdapter
}

func NewMusicHandler(adapter *adapter.MusicAdapter) *MusicHandler {
	return &MusicHandler{adapter: adapter}
}

// Handles GET /api/music/search
func (h *MusicHandler) Search(c *gin.Context) {
	userID, tier, ok := callerIdentity(c)
	if !ok {
		return
	}

	query := c.Query("query")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}

	ctx := c.Request.Context()
	tracks, err := h.adapter.SearchTracks(ctx, userID, tier, query, maxResults(c, 10),
		requestPriority(c), forceRefresh(c))
	if err != nil {
		respondQuotaError(c, err)
		return
	}

	c.JSON(http.StatusOK, tracks)
}

// Handles GET /api/music/recommendations
func (h *MusicHandler) Recommendations(c *gin.Context) {
	userID, tier, ok := callerIdentity(c)
	if !ok {
		return
	}

	seed := c.Query("seed")
	if seed == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "seed is required"})
		return
	}

	ctx := c.Request.Context()
	tracks, err := h.adapter.Recommendations(ctx, userID, tier, seed, maxResults(c, 10),
		requestPriority(c), forceRefresh(c))
	if err != nil {
		respondQuotaError(c, err)
		return
	}

	c.JSON(http.StatusOK, tracks)
}
