package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/care-waitlist-api/internal/models"
)

// actor identifies who performs a request for audit attribution. Identity
// comes from trusted headers set by the gateway in front of this service.
type actor struct {
	ID   string
	Type string
}

func actorFromRequest(c *gin.Context) actor {
	a := actor{
		ID:   c.GetHeader("X-Actor-Id"),
		Type: c.GetHeader("X-Actor-Type"),
	}
	if a.ID == "" {
		a.ID = "anonymous"
	}
	switch a.Type {
	case models.PerformerParent, models.PerformerProvider, models.PerformerSystem:
	default:
		a.Type = models.PerformerParent
	}
	return a
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func optionalID(raw string) *string {
	if raw == "" {
		return nil
	}
	return &raw
}
