package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"go-groupchat/internal/auth"
	"go-groupchat/internal/membership"
	"go-groupchat/internal/models"
	"go-groupchat/internal/pipeline"
	"go-groupchat/internal/store/memstore"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*httptest.Server
	verifier *auth.Verifier
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	s := memstore.New()
	s.PutUser("alice", "Alice")
	s.PutUser("bob", "Bob")
	s.PutChannel(models.NewChannel("general", []string{"alice", "bob"}, nil, nil))

	verifier := auth.NewVerifier("secret", s, time.Second)
	authority := membership.NewAuthority(s, time.Second)
	hub := NewHub(authority, pipeline.New(authority, s, pipeline.Config{Timeout: time.Second}), nil, opts)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ServeWS(hub, verifier, w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return &testServer{Server: srv, verifier: verifier}
}

func (ts *testServer) wsURL(token string) string {
	u, _ := url.Parse(ts.URL)
	u.Scheme = "ws"
	u.Path = "/ws"
	if token != "" {
		u.RawQuery = url.Values{"token": {token}}.Encode()
	}
	return u.String()
}

func (ts *testServer) dial(t *testing.T, userId string) *websocket.Conn {
	t.Helper()
	token, err := ts.verifier.Issue(userId, time.Hour)
	require.NoError(t, err)

	conn, resp, err := websocket.DefaultDialer.Dial(ts.wsURL(token), nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func write(t *testing.T, conn *websocket.Conn, eventType string, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(map[string]interface{}{"type": eventType, "data": data})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

// await reads frames until one of eventType arrives.
func await(t *testing.T, conn *websocket.Conn, eventType string) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", eventType)
		var f frame
		require.NoError(t, json.Unmarshal(raw, &f))
		if f.Type == eventType {
			return f
		}
	}
}

func TestServeWSRefusesBadTokens(t *testing.T) {
	ts := newTestServer(t, DefaultOptions())

	for name, token := range map[string]string{
		"missing": "",
		"garbage": "not-a-jwt",
	} {
		t.Run(name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(ts.wsURL(token), nil)
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}

	t.Run("unknown user", func(t *testing.T) {
		token, err := ts.verifier.Issue("ghost", time.Hour)
		require.NoError(t, err)
		_, resp, err := websocket.DefaultDialer.Dial(ts.wsURL(token), nil)
		require.ErrorIs(t, err, websocket.ErrBadHandshake)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestServeWSRejectsForeignOrigin(t *testing.T) {
	opts := DefaultOptions()
	opts.AllowedOrigins = []string{"https://chat.example.com"}
	ts := newTestServer(t, opts)
	token, err := ts.verifier.Issue("alice", time.Hour)
	require.NoError(t, err)

	header := http.Header{"Origin": {"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(ts.wsURL(token), header)
	require.Error(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "https://CHAT.example.com")
	conn, resp, err := websocket.DefaultDialer.Dial(ts.wsURL(token), header)
	require.NoError(t, err)
	resp.Body.Close()
	conn.Close()
}

func TestChatOverSocket(t *testing.T) {
	ts := newTestServer(t, DefaultOptions())
	a := ts.dial(t, "alice")
	b := ts.dial(t, "bob")
	await(t, a, models.EventOnlineUsers)
	await(t, b, models.EventOnlineUsers)

	write(t, a, models.CmdJoinChannel, models.ChannelRequest{ChannelId: "general"})
	await(t, a, models.EventChatHistory)
	write(t, b, models.CmdJoinChannel, models.ChannelRequest{ChannelId: "general"})
	joined := await(t, b, models.EventJoinedChannel)
	var data models.JoinedChannelData
	joined.decode(t, &data)
	assert.Equal(t, []string{"alice", "bob"}, data.Users)
	await(t, a, models.EventUserJoinedChannel)

	write(t, b, models.CmdSendMessage, models.SendRequest{ChannelId: "general", Content: "hello"})
	for _, conn := range []*websocket.Conn{a, b} {
		var msg models.Message
		await(t, conn, models.EventNewMessage).decode(t, &msg)
		assert.Equal(t, "bob", msg.SenderId)
		assert.Equal(t, "hello", msg.Content)
	}

	write(t, a, models.CmdTyping, models.TypingRequest{ChannelId: "general", IsTyping: true})
	var typing models.TypingData
	await(t, b, models.EventUserTyping).decode(t, &typing)
	assert.Equal(t, "alice", typing.UserId)
	assert.True(t, typing.IsTyping)

	require.NoError(t, a.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	a.Close()
	await(t, b, models.EventUserLeftChannel)
	var offline models.PresenceData
	await(t, b, models.EventUserOffline).decode(t, &offline)
	assert.Equal(t, "alice", offline.UserId)
}
