package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Rupe88/doc-ai-sub002/internal/session"
)

type SessionHandlers struct {
	registry *session.Registry
}

func NewSessionHandlers(registry *session.Registry) *SessionHandlers {
	return &SessionHandlers{registry: registry}
}

type sessionSummary struct {
	SessionID    string    `json:"sessionId"`
	DocumentID   string    `json:"documentId"`
	Participants int       `json:"participants"`
	Version      uint64    `json:"version"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ListActive 只读：当前注册表里的存活会话。
func (h *SessionHandlers) ListActive(c *gin.Context) {
	active := h.registry.ListActive()
	out := make([]sessionSummary, 0, len(active))
	for _, s := range active {
		out = append(out, sessionSummary{
			SessionID:    s.ID,
			DocumentID:   s.DocumentID,
			Participants: s.ParticipantCount(),
			Version:      s.Version(),
			UpdatedAt:    s.UpdatedAt(),
		})
	}
	c.JSON(200, gin.H{"sessions": out})
}

func Healthz(c *gin.Context) {
	c.JSON(200, gin.H{"message": "ok"})
}
