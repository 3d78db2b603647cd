package signal

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/dkeye/concort/internal/app"
	"github.com/dkeye/concort/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ChatWSController upgrades chat requests and binds them to a match.
type ChatWSController struct {
	Broadcaster *app.Broadcaster
	Options     ConnOptions
	upgrader    websocket.Upgrader
}

func NewChatWSController(b *app.Broadcaster, opts ConnOptions, allowedOrigins []string) *ChatWSController {
	return &ChatWSController{
		Broadcaster: b,
		Options:     opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(allowedOrigins),
		},
	}
}

// originChecker allows any origin when the list is empty or contains "*".
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		for _, a := range allowed {
			if strings.EqualFold(a, origin) || strings.EqualFold(a, u.Host) {
				return true
			}
		}
		return false
	}
}

// credential takes the token query parameter, falling back to the
// Authorization header.
func credential(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	return c.GetHeader("Authorization")
}

// HandleChat serves GET /ws/chat/:id. The socket is accepted first so a
// rejection can be reported with a close code.
func (ctl *ChatWSController) HandleChat(ctx context.Context, c *gin.Context) {
	matchID := domain.MatchID(c.Param("id"))

	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	conn := NewWsChatConn(ws, ctl.Options)

	sess, err := ctl.Broadcaster.Connect(ctx, credential(c), matchID, conn)
	if err != nil {
		var rej *domain.RejectError
		if errors.As(err, &rej) {
			log.Info().Str("module", "signal").Str("match", string(matchID)).
				Str("reason", string(rej.Reason)).Msg("connection rejected")
			conn.Close(rej.Reason.CloseCode(), string(rej.Reason))
			return
		}
		log.Error().Err(err).Str("module", "signal").Str("match", string(matchID)).Msg("connect failed")
		conn.Close(app.CloseInternal, "internal error")
		return
	}
	if sess.Superseded != nil {
		sess.Superseded.Close(app.CloseSuperseded, "superseded")
	}
	log.Info().Str("module", "signal").Str("match", string(matchID)).
		Str("participant", string(sess.Participant)).Msg("chat connected")

	connCtx, cancel := context.WithCancel(ctx)
	go conn.WritePump(connCtx)
	go func() {
		defer cancel()
		defer conn.Close(app.CloseNormal, "")
		ctl.Broadcaster.Serve(connCtx, sess)
		log.Info().Str("module", "signal").Str("match", string(matchID)).
			Str("participant", string(sess.Participant)).Msg("chat disconnected")
	}()
}
