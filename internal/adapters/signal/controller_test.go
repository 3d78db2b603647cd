package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/concort/internal/app"
	"github.com/dkeye/concort/internal/auth"
	"github.com/dkeye/concort/internal/domain"
	"github.com/dkeye/concort/internal/storage/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatServer struct {
	url      string
	tokens   *auth.Tokens
	engine   *app.Engine
	match    domain.Match
	male     domain.ParticipantID
	female   domain.ParticipantID
	outsider domain.ParticipantID
}

func newChatServer(t *testing.T) *chatServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "concort.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	tokens, err := auth.NewTokens("test-secret", time.Hour)
	require.NoError(t, err)

	clock := app.NewStamper(nil)
	b := &app.Broadcaster{
		Store:    store,
		Identity: tokens,
		Registry: app.NewRegistry(),
		Policy:   app.SimplePolicy{},
		Clock:    clock,
	}
	engine := app.NewEngine(store, clock)

	cs := &chatServer{tokens: tokens, engine: engine}
	ready := func(name string, g domain.Gender) domain.ParticipantID {
		p, err := engine.Register(ctx)
		require.NoError(t, err)
		_, err = engine.UpdateProfile(ctx, p.ID, domain.Profile{Name: name, Gender: g})
		require.NoError(t, err)
		return p.ID
	}
	cs.male = ready("Mark", domain.GenderMale)
	cs.female = ready("Fay", domain.GenderFemale)
	cs.outsider = ready("Olaf", domain.GenderMale)
	_, err = engine.Enqueue(ctx, cs.male)
	require.NoError(t, err)
	_, err = engine.Enqueue(ctx, cs.female)
	require.NoError(t, err)
	sums, err := engine.Matches(ctx, cs.male)
	require.NoError(t, err)
	require.Len(t, sums, 1)
	cs.match = sums[0].Match

	ctl := NewChatWSController(b, ConnOptions{PingPeriod: time.Second, WriteTimeout: time.Second}, nil)
	r := gin.New()
	r.GET("/ws/chat/:id", func(c *gin.Context) { ctl.HandleChat(ctx, c) })
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	t.Cleanup(cancel)
	cs.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return cs
}

func (cs *chatServer) dial(t *testing.T, matchID domain.MatchID, token string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(cs.url+"/ws/chat/"+string(matchID)+"?token="+token, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (cs *chatServer) token(t *testing.T, pid domain.ParticipantID) string {
	t.Helper()
	tok, err := cs.tokens.Issue(pid)
	require.NoError(t, err)
	return tok
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev map[string]any
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

// ready waits until the server has bound conn to its match by bouncing an
// invalid frame off the serve loop.
func ready(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("?")))
	ev := readEvent(t, conn)
	require.Equal(t, "invalid_payload", ev["error"])
}

func closeCode(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.True(t, errors.As(err, &ce), "want close error, got %v", err)
		return ce.Code
	}
}

func TestChatRejections(t *testing.T) {
	cs := newChatServer(t)

	assert.Equal(t, 4001, closeCode(t, cs.dial(t, cs.match.ID, "garbage")))
	assert.Equal(t, 4004, closeCode(t, cs.dial(t, "no-such-match", cs.token(t, cs.male))))
	assert.Equal(t, 4003, closeCode(t, cs.dial(t, cs.match.ID, cs.token(t, cs.outsider))))
}

func TestChatRejectsEndedMatch(t *testing.T) {
	cs := newChatServer(t)
	ctx := context.Background()
	_, err := cs.engine.EndMatch(ctx, cs.match.ID, cs.male, domain.MatchCompleted)
	require.NoError(t, err)
	_, err = cs.engine.Enqueue(ctx, cs.female)
	require.NoError(t, err)

	assert.Equal(t, 4010, closeCode(t, cs.dial(t, cs.match.ID, cs.token(t, cs.female))))
	assert.Equal(t, 4001, closeCode(t, cs.dial(t, cs.match.ID, cs.token(t, cs.male))))
}

func TestChatRoundTrip(t *testing.T) {
	cs := newChatServer(t)
	male := cs.dial(t, cs.match.ID, cs.token(t, cs.male))
	ready(t, male)
	female := cs.dial(t, cs.match.ID, cs.token(t, cs.female))
	ready(t, female)

	require.NoError(t, female.WriteJSON(map[string]string{"type": "typing"}))
	typing := readEvent(t, male)
	assert.Equal(t, "typing", typing["type"])
	assert.Equal(t, string(cs.female), typing["user_id"])

	require.NoError(t, male.WriteJSON(map[string]string{"type": "message", "content": "hello"}))
	echo := readEvent(t, male)
	got := readEvent(t, female)
	assert.Equal(t, "message", got["type"])
	assert.Equal(t, "hello", got["content"])
	assert.Equal(t, false, got["is_sent_by_me"])
	assert.Equal(t, true, echo["is_sent_by_me"])
	assert.Equal(t, echo["id"], got["id"])

	require.NoError(t, female.WriteJSON(map[string]string{"type": "read"}))
	read := readEvent(t, male)
	assert.Equal(t, "read", read["type"])
	assert.Equal(t, string(cs.female), read["by_user_id"])
}

func TestChatInvalidFrame(t *testing.T) {
	cs := newChatServer(t)
	male := cs.dial(t, cs.match.ID, cs.token(t, cs.male))

	require.NoError(t, male.WriteMessage(websocket.TextMessage, []byte("{not json")))
	ev := readEvent(t, male)
	assert.Equal(t, "error", ev["type"])
	assert.Equal(t, "invalid_payload", ev["error"])
}

func TestChatReconnectSupersedes(t *testing.T) {
	cs := newChatServer(t)
	first := cs.dial(t, cs.match.ID, cs.token(t, cs.male))
	second := cs.dial(t, cs.match.ID, cs.token(t, cs.male))

	assert.Equal(t, 4009, closeCode(t, first))

	ready(t, second)
	female := cs.dial(t, cs.match.ID, cs.token(t, cs.female))
	ready(t, female)
	require.NoError(t, female.WriteJSON(map[string]string{"type": "typing"}))
	ev := readEvent(t, second)
	assert.Equal(t, "typing", ev["type"])
}

func TestOriginChecker(t *testing.T) {
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws/chat/x", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}
	open := originChecker(nil)
	assert.True(t, open(req("https://evil.example")))

	strict := originChecker([]string{"https://app.example"})
	assert.True(t, strict(req("https://app.example")))
	assert.True(t, strict(req("")))
	assert.False(t, strict(req("https://evil.example")))
}
