package ws

import (
	"context"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/whoistalking-backend/internal/engine"
	"github.com/DoyleJ11/whoistalking-backend/internal/game"
	"github.com/DoyleJ11/whoistalking-backend/internal/hub"
	"github.com/DoyleJ11/whoistalking-backend/internal/llm"
	"github.com/DoyleJ11/whoistalking-backend/internal/store"
	"github.com/DoyleJ11/whoistalking-backend/internal/store/sqlite"
	"github.com/DoyleJ11/whoistalking-backend/pkg/types"
)

type testServer struct {
	url   string
	svc   *game.Service
	store store.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "ws.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	client := llm.ClientFunc(func(ctx context.Context, req llm.Request) (string, error) {
		return "PICK=B CONF=0.6 WHY=fine", nil
	})
	h := hub.NewHub(context.Background(), zap.NewNop())
	svc := game.NewService(st, client, h, game.Options{Rand: rand.New(rand.NewPCG(3, 4))}, zap.NewNop())

	r := chi.NewRouter()
	r.Get("/ws/sessions/{sessionID}", Handler(svc, Options{}, zap.NewNop()))
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		h.Shutdown()
		svc.Close()
	})
	return &testServer{url: "ws" + strings.TrimPrefix(srv.URL, "http"), svc: svc, store: st}
}

func (ts *testServer) create(t *testing.T) string {
	t.Helper()
	sess, err := ts.svc.CreateSession(context.Background(), game.CreateParams{Topic: "rainy days", TurnsPerSpeaker: 2})
	require.NoError(t, err)
	return sess.ID
}

func (ts *testServer) dial(t *testing.T, sessionID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, ts.url+"/ws/sessions/"+sessionID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

func send(t *testing.T, c *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, c, v))
}

func sendRaw(t *testing.T, c *websocket.Conn, data string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(data)))
}

func recv(t *testing.T, c *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var m map[string]any
	require.NoError(t, wsjson.Read(ctx, c, &m))
	return m
}

func TestHandler_UnknownSessionIs404(t *testing.T) {
	ts := newTestServer(t)

	_, resp, err := websocket.Dial(context.Background(), ts.url+"/ws/sessions/nope", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandler_JoinRepliesWithState(t *testing.T) {
	ts := newTestServer(t)
	id := ts.create(t)
	c := ts.dial(t, id)

	send(t, c, types.ClientMessage{Type: types.EvtJoin, ClientID: "c1"})
	m := recv(t, c)
	assert.Equal(t, types.EvtState, m["type"])
	assert.Equal(t, id, m["session_id"])
	assert.Equal(t, "rainy days", m["topic"])
	assert.Equal(t, float64(2), m["turns_per_speaker"])
	assert.Len(t, m["participants"], 2, "judge seat is hidden")
}

func TestHandler_MalformedInputKeepsConnectionOpen(t *testing.T) {
	ts := newTestServer(t)
	id := ts.create(t)
	c := ts.dial(t, id)

	sendRaw(t, c, "{not json")
	assert.Equal(t, map[string]any{"type": types.EvtError, "error": "bad json"}, recv(t, c))

	send(t, c, map[string]string{"type": "session.dance", "client_id": "c1"})
	assert.Equal(t, "unknown type", recv(t, c)["error"])

	send(t, c, map[string]string{"type": types.EvtRequestState})
	assert.Equal(t, "missing client_id", recv(t, c)["error"])

	// still usable
	send(t, c, types.ClientMessage{Type: types.EvtRequestState, ClientID: "c1"})
	assert.Equal(t, types.EvtState, recv(t, c)["type"])
}

func TestHandler_ResumeReplaysMissedMessages(t *testing.T) {
	ts := newTestServer(t)
	id := ts.create(t)
	ctx := context.Background()

	var ids []string
	for _, seat := range []engine.Seat{"A", "B", "A"} {
		sess, err := ts.store.GetSession(ctx, id)
		require.NoError(t, err)
		st, err := engine.Assign(sess.TurnState, seat, sess.TurnsPerSpeaker)
		require.NoError(t, err)
		st, err = engine.CompleteTurn(st, seat)
		require.NoError(t, err)
		m, err := ts.store.AppendMessage(ctx, id, seat, "hello from "+string(seat), st)
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}

	c := ts.dial(t, id)
	send(t, c, types.ClientMessage{Type: types.EvtResume, ClientID: "c1", LastSeenMessageID: &ids[1]})

	assert.Equal(t, types.EvtState, recv(t, c)["type"])
	m := recv(t, c)
	assert.Equal(t, types.EvtMessageNew, m["type"])
	assert.Equal(t, ids[2], m["message_id"])
	assert.Equal(t, float64(3), m["turn_index"])
	assert.Equal(t, "A", m["seat"])
}

func TestHandler_ReconnectClosesStaleSocket(t *testing.T) {
	ts := newTestServer(t)
	id := ts.create(t)

	old := ts.dial(t, id)
	send(t, old, types.ClientMessage{Type: types.EvtRequestState, ClientID: "c1"})
	recv(t, old)
	send(t, old, types.ClientMessage{Type: types.EvtJoin, ClientID: "c1"})
	recv(t, old)

	fresh := ts.dial(t, id)
	send(t, fresh, types.ClientMessage{Type: types.EvtJoin, ClientID: "c1"})

	// the old socket is closed by the server; drain until the read fails
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		if _, _, err := old.Read(ctx); err != nil {
			require.NoError(t, ctx.Err(), "old socket should be closed, not time out")
			break
		}
	}
}
