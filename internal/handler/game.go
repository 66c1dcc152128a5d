package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Serves the game API routes. These are metered by the rate limit
// middleware, so the handlers only shape the response.
type GameHandler struct{}

func NewGameHandler() *GameHandler {
	return &GameHandler{}
}

// Handles GET /game/player
func (h *GameHandler) PlayerSummary(c *gin.Context) {
	playerID := c.Query("player_id")
	if playerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "player_id is required"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items": []gin.H{
			{
				"player_id":    playerID,
				"persona_name": fmt.Sprintf("player-%s", playerID),
				"status":       "online",
			},
		},
	})
}

// Handles GET /game/library
func (h *GameHandler) OwnedGames(c *gin.Context) {
	playerID := c.Query("player_id")
	if playerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "player_id is required"})
		return
	}

	games := make([]gin.H, 0, 3)
	for i := 1; i <= 3; i++ {
		games = append(games, gin.H{
			"app_id":           1000 + i,
			"name":             fmt.Sprintf("Game %d", i),
			"playtime_minutes": i * 120,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"items":      games,
		"player_id":  playerID,
		"game_count": len(games),
	})
}
