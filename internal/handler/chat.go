package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Serves the LLM API routes. Metered by the rate limit middleware.
type ChatHandler struct{}

func NewChatHandler() *ChatHandler {
	return &ChatHandler{}
}

// Handles POST /chat/completion
func (h *ChatHandler) Completion(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id"`
		Prompt string `json:"prompt" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items": []gin.H{
			{
				"role":    "assistant",
				"content": fmt.Sprintf("echo: %s", req.Prompt),
			},
		},
	})
}

// Handles POST /chat/embedding
func (h *ChatHandler) Embedding(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id"`
		Input  string `json:"input" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Deterministic toy embedding so responses are cacheable
	words := strings.Fields(req.Input)
	vector := make([]float64, 0, 8)
	for i := 0; i < 8; i++ {
		vector = append(vector, float64(len(words)%(i+2)))
	}

	c.JSON(http.StatusOK, gin.H{
		"items": []gin.H{
			{"embedding": vector, "dimensions": len(vector)},
		},
	})
}
