package game

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/whoistalking-backend/internal/engine"
	"github.com/DoyleJ11/whoistalking-backend/internal/hub"
	"github.com/DoyleJ11/whoistalking-backend/internal/llm"
	"github.com/DoyleJ11/whoistalking-backend/internal/store"
	"github.com/DoyleJ11/whoistalking-backend/internal/store/sqlite"
	"github.com/DoyleJ11/whoistalking-backend/pkg/types"
)

const (
	speakerModel = "speaker-test"
	judgeModel   = "judge-test"
)

type fixture struct {
	svc   *Service
	store store.Store
	hub   *hub.Hub
}

func newFixture(t *testing.T, client llm.Client, opts Options) *fixture {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "game.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	h := hub.NewHub(context.Background(), zap.NewNop())
	opts.SpeakerModel = speakerModel
	opts.JudgeModel = judgeModel
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(1, 2))
	}
	svc := NewService(st, client, h, opts, zap.NewNop())
	t.Cleanup(func() {
		h.Shutdown()
		svc.Close()
	})
	return &fixture{svc: svc, store: st, hub: h}
}

// scripted answers speaker calls with a fixed line and judge calls with
// verdict.
func scripted(line, verdict string) llm.Client {
	return llm.ClientFunc(func(ctx context.Context, req llm.Request) (string, error) {
		if req.Model == judgeModel {
			return verdict, nil
		}
		return line, nil
	})
}

var errModelDown = errors.New("model unavailable")

func failing() llm.Client {
	return llm.ClientFunc(func(ctx context.Context, req llm.Request) (string, error) {
		return "", errModelDown
	})
}

func (f *fixture) create(t *testing.T, speakers, turns int) string {
	t.Helper()
	sess, err := f.svc.CreateSession(context.Background(), CreateParams{
		Topic:           "favorite snacks",
		NumSpeakers:     speakers,
		TurnsPerSpeaker: turns,
	})
	require.NoError(t, err)
	return sess.ID
}

// putOnTurn moves a fresh session straight to IN_PROGRESS with seat on turn
// and the given turn index, without running a driver.
func (f *fixture) putOnTurn(t *testing.T, id string, seat engine.Seat, turnIndex int) {
	t.Helper()
	ctx := context.Background()
	sess, err := f.store.GetSession(ctx, id)
	require.NoError(t, err)
	ts, err := engine.Assign(sess.TurnState, seat, sess.TurnsPerSpeaker)
	require.NoError(t, err)
	ts.TurnIndex = turnIndex
	require.NoError(t, f.store.UpdateSession(ctx, id, store.SessionUpdate{
		Status:    store.StatusPtr(engine.StatusInProgress),
		TurnState: store.TurnStatePtr(ts),
	}))
}

// session is safe to call from the polling goroutine of require.Eventually.
func (f *fixture) session(id string) store.Session {
	sess, _ := f.store.GetSession(context.Background(), id)
	return sess
}

// playUntilFinished answers every human turn with reply until the session
// finishes.
func (f *fixture) playUntilFinished(t *testing.T, id, reply string) {
	t.Helper()
	require.Eventually(t, func() bool {
		sess := f.session(id)
		if reply != "" && sess.Status == engine.StatusInProgress && sess.TurnState.OnTurn(engine.HumanSeat) {
			_ = f.svc.HandleHumanMessage(context.Background(), id, reply)
		}
		return sess.Status == engine.StatusFinished
	}, 5*time.Second, 5*time.Millisecond)
}

func (f *fixture) messages(t *testing.T, id string) []store.Message {
	t.Helper()
	msgs, err := f.store.ListMessages(context.Background(), id)
	require.NoError(t, err)
	return msgs
}

type recConn struct {
	mu     sync.Mutex
	events []any
	closed bool
}

func (c *recConn) Send(payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	c.events = append(c.events, payload)
	return nil
}

func (c *recConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *recConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *recConn) snapshot() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.events...)
}

func (c *recConn) finished() *types.Finished {
	for _, e := range c.snapshot() {
		if f, ok := e.(types.Finished); ok {
			return &f
		}
	}
	return nil
}

func (c *recConn) count(eventType string) int {
	n := 0
	for _, e := range c.snapshot() {
		if typeOf(e) == eventType {
			n++
		}
	}
	return n
}

func typeOf(payload any) string {
	b, _ := json.Marshal(payload)
	var head struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(b, &head)
	return head.Type
}

// gated holds every speaker call until release is closed or the call's
// context ends. Judge calls answer at once.
type gated struct {
	started chan struct{}
	release chan struct{}
}

func newGated() *gated {
	return &gated{started: make(chan struct{}, 1), release: make(chan struct{})}
}

func (g *gated) Chat(ctx context.Context, req llm.Request) (string, error) {
	if req.Model == judgeModel {
		return "PICK=B CONF=0.5 WHY=eh", nil
	}
	select {
	case g.started <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
		return "a line that arrived too late", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (g *gated) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-g.started:
	case <-time.After(time.Second):
		t.Fatal("speaker call never started")
	}
}

// vanishingStore deletes a session right after its first successful lookup,
// the way a concurrent DELETE would.
type vanishingStore struct {
	store.Store
	once sync.Once
}

func (v *vanishingStore) GetSession(ctx context.Context, id string) (store.Session, error) {
	sess, err := v.Store.GetSession(ctx, id)
	if err == nil {
		v.once.Do(func() { _ = v.Store.DeleteSession(ctx, id) })
	}
	return sess, err
}
