package http

import (
	"crypto/subtle"
	"net/http"

	"github.com/dkeye/concort/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const (
	participantKey = "participant_id"
	sessionToken   = "token"
)

// credential prefers the Authorization header, then the token query
// parameter, then the cookie session.
func credential(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		return h
	}
	if q := c.Query("token"); q != "" {
		return q
	}
	if v, ok := sessions.Default(c).Get(sessionToken).(string); ok {
		return v
	}
	return ""
}

func (h *handlers) requireParticipant(c *gin.Context) {
	pid, err := h.deps.Tokens.Resolve(c.Request.Context(), credential(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.Set(participantKey, pid)
	c.Next()
}

func (h *handlers) requireAdmin(c *gin.Context) {
	want := h.cfg.AdminToken
	got := c.GetHeader("X-Admin-Token")
	if want == "" || subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin token required"})
		return
	}
	c.Next()
}

func participantID(c *gin.Context) domain.ParticipantID {
	v, _ := c.Get(participantKey)
	pid, _ := v.(domain.ParticipantID)
	return pid
}
