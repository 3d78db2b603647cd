package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dkeye/concort/internal/core"
	"github.com/dkeye/concort/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type partnerView struct {
	ID   domain.ParticipantID `json:"id"`
	Name string               `json:"name"`
	Age  int                  `json:"age,omitempty"`
	City string               `json:"city,omitempty"`
}

func newPartnerView(p domain.Participant) partnerView {
	return partnerView{ID: p.ID, Name: p.Name, Age: p.Age, City: p.City}
}

type matchView struct {
	ID          domain.MatchID       `json:"id"`
	Status      domain.MatchStatus   `json:"status"`
	MatchedAt   time.Time            `json:"matched_at"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
	Partner     partnerView          `json:"partner"`
	UnreadCount int                  `json:"unread_count"`
	LastMessage *core.MessageEvent   `json:"last_message,omitempty"`
	MaleID      domain.ParticipantID `json:"male_user_id"`
	FemaleID    domain.ParticipantID `json:"female_user_id"`
}

func newMatchView(m domain.Match, partner domain.Participant) matchView {
	return matchView{
		ID:          m.ID,
		Status:      m.Status,
		MatchedAt:   m.MatchedAt,
		CompletedAt: m.CompletedAt,
		Partner:     newPartnerView(partner),
		MaleID:      m.MaleID,
		FemaleID:    m.FemaleID,
	}
}

func messageViews(msgs []domain.Message, viewer domain.ParticipantID) []core.MessageEvent {
	out := make([]core.MessageEvent, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, core.NewMessageEvent(m, m.SenderID == viewer))
	}
	return out
}

func (h *handlers) health(c *gin.Context) {
	matches, participants := h.deps.Broadcaster.Registry.Len()
	c.JSON(http.StatusOK, gin.H{
		"status":            "ok",
		"live_matches":      matches,
		"live_participants": participants,
	})
}

// devLogin registers a fresh participant, or signs in an existing one by ID,
// and returns a bearer token. Disabled unless dev_login is set.
func (h *handlers) devLogin(c *gin.Context) {
	var req struct {
		ParticipantID domain.ParticipantID `json:"participant_id"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
	}
	ctx := c.Request.Context()

	var (
		p   domain.Participant
		err error
	)
	if req.ParticipantID == "" {
		p, err = h.deps.Engine.Register(ctx)
	} else {
		p, err = h.deps.Engine.Participant(ctx, req.ParticipantID)
	}
	if err != nil {
		abortWithError(c, err)
		return
	}
	token, err := h.deps.Tokens.Issue(p.ID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	sess := sessions.Default(c)
	sess.Set(sessionToken, token)
	if err := sess.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "participant": p})
}

func (h *handlers) me(c *gin.Context) {
	p, err := h.deps.Engine.Participant(c.Request.Context(), participantID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *handlers) updateProfile(c *gin.Context) {
	var pr domain.Profile
	if err := c.ShouldBindJSON(&pr); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid profile"})
		return
	}
	p, err := h.deps.Engine.UpdateProfile(c.Request.Context(), participantID(c), pr)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// getUser shows a partner's public profile.
func (h *handlers) getUser(c *gin.Context) {
	p, err := h.deps.Engine.Profile(c.Request.Context(), participantID(c), domain.ParticipantID(c.Param("id")))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPartnerView(p))
}

func (h *handlers) joinQueue(c *gin.Context) {
	ctx := c.Request.Context()
	pid := participantID(c)
	rank, err := h.deps.Engine.Enqueue(ctx, pid)
	if err != nil {
		abortWithError(c, err)
		return
	}
	p, err := h.deps.Engine.Participant(ctx, pid)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": p.Status, "queue_rank": rank})
}

func (h *handlers) queueStatus(c *gin.Context) {
	ctx := c.Request.Context()
	stats, err := h.deps.Engine.QueueStats(ctx)
	if err != nil {
		abortWithError(c, err)
		return
	}
	rank, err := h.deps.Engine.RankOf(ctx, participantID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"males_waiting":   stats.MalesWaiting,
		"females_waiting": stats.FemalesWaiting,
		"last_updated":    stats.AsOf,
		"queue_rank":      rank,
	})
}

func (h *handlers) processQueue(c *gin.Context) {
	matches, err := h.deps.Engine.ProcessQueue(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	if matches == nil {
		matches = []domain.Match{}
	}
	c.JSON(http.StatusOK, gin.H{"matches_created": len(matches), "matches": matches})
}

func (h *handlers) listMatches(c *gin.Context) {
	pid := participantID(c)
	sums, err := h.deps.Engine.Matches(c.Request.Context(), pid)
	if err != nil {
		abortWithError(c, err)
		return
	}
	out := make([]matchView, 0, len(sums))
	for _, s := range sums {
		v := newMatchView(s.Match, s.Partner)
		v.UnreadCount = s.UnreadCount
		if s.LastMessage != nil {
			last := core.NewMessageEvent(*s.LastMessage, s.LastMessage.SenderID == pid)
			v.LastMessage = &last
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, gin.H{"matches": out})
}

func (h *handlers) getMatch(c *gin.Context) {
	m, partner, err := h.deps.Engine.Match(c.Request.Context(), domain.MatchID(c.Param("id")), participantID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newMatchView(m, partner))
}

func (h *handlers) endMatch(c *gin.Context) {
	var req struct {
		Status domain.MatchStatus `json:"status"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
	}
	if req.Status == "" {
		req.Status = domain.MatchCompleted
	}
	m, err := h.deps.Engine.EndMatch(c.Request.Context(), domain.MatchID(c.Param("id")), participantID(c), req.Status)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func pageParams(c *gin.Context) (offset, limit int, ok bool) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if err != nil || limit <= 0 || limit > maxPageSize {
		return 0, 0, false
	}
	offset, err = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		return 0, 0, false
	}
	return offset, limit, true
}

func (h *handlers) history(c *gin.Context) {
	offset, limit, ok := pageParams(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit or offset"})
		return
	}
	pid := participantID(c)
	msgs, hasMore, err := h.deps.Broadcaster.History(c.Request.Context(), domain.MatchID(c.Param("id")), pid, offset, limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messageViews(msgs, pid), "has_more": hasMore})
}

func (h *handlers) sendMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	pid := participantID(c)
	msg, err := h.deps.Broadcaster.Send(c.Request.Context(), domain.MatchID(c.Param("id")), pid, req.Content)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, core.NewMessageEvent(msg, true))
}

func (h *handlers) markRead(c *gin.Context) {
	n, err := h.deps.Broadcaster.MarkRead(c.Request.Context(), domain.MatchID(c.Param("id")), participantID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked_read": n})
}
