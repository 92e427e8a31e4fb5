// Package storetest is a conformance suite shared by the store
// implementations.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/whoistalking-backend/internal/engine"
	"github.com/DoyleJ11/whoistalking-backend/internal/store"
)

// Run exercises every Store operation against a fresh store from newStore.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("create and get session", func(t *testing.T) { testCreateGet(t, newStore(t)) })
	t.Run("update session", func(t *testing.T) { testUpdate(t, newStore(t)) })
	t.Run("messages", func(t *testing.T) { testMessages(t, newStore(t)) })
	t.Run("results are write once", func(t *testing.T) { testResults(t, newStore(t)) })
	t.Run("delete and list active", func(t *testing.T) { testDeleteAndActive(t, newStore(t)) })
}

// Seed creates a session with a human, n speakers and a judge.
func Seed(t *testing.T, s store.Store, speakers, turns int) store.Session {
	t.Helper()
	seats := engine.SeatLabels(speakers)
	parts := []store.Participant{{Seat: engine.HumanSeat, Type: engine.ParticipantHuman}}
	for _, seat := range seats[1:] {
		parts = append(parts, store.Participant{Seat: seat, Type: engine.ParticipantSpeaker, Persona: "dry"})
	}
	parts = append(parts, store.Participant{Seat: engine.JudgeSeat, Type: engine.ParticipantJudge})

	sess, err := s.CreateSession(context.Background(), store.NewSession{
		Topic:           "weekend plans",
		TurnsPerSpeaker: turns,
		MaxChars:        160,
		Difficulty:      "normal",
		TurnState:       engine.NewTurnState(seats),
		Participants:    parts,
	})
	require.NoError(t, err)
	return sess
}

func testCreateGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	created := Seed(t, s, 2, 3)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, engine.StatusLobby, created.Status)

	got, err := s.GetSession(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "weekend plans", got.Topic)
	assert.Equal(t, engine.StatusLobby, got.Status)
	assert.Equal(t, 3, got.TurnsPerSpeaker)
	assert.Equal(t, 160, got.MaxChars)
	assert.Equal(t, "normal", got.Difficulty)
	assert.Equal(t, map[engine.Seat]int{"A": 0, "B": 0, "C": 0}, got.TurnState.TurnCounts)
	assert.Nil(t, got.TurnState.CurrentSpeakerSeat)
	assert.Zero(t, got.TurnState.TurnIndex)

	parts, err := s.ListParticipants(ctx, created.ID)
	require.NoError(t, err)
	var seats []engine.Seat
	for _, p := range parts {
		seats = append(seats, p.Seat)
	}
	assert.Equal(t, []engine.Seat{"A", "B", "C", "J"}, seats)
	assert.Equal(t, engine.ParticipantHuman, parts[0].Type)
	assert.Equal(t, "dry", parts[1].Persona)
	assert.Equal(t, engine.ParticipantJudge, parts[3].Type)

	_, err = s.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testUpdate(t *testing.T, s store.Store) {
	ctx := context.Background()
	sess := Seed(t, s, 1, 2)

	ts, err := engine.Assign(sess.TurnState, "B", 2)
	require.NoError(t, err)
	require.NoError(t, s.UpdateSession(ctx, sess.ID, store.SessionUpdate{
		Status:    store.StatusPtr(engine.StatusInProgress),
		TurnState: store.TurnStatePtr(ts),
	}))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusInProgress, got.Status)
	assert.True(t, got.TurnState.OnTurn("B"))

	// status only leaves turn state alone
	require.NoError(t, s.UpdateSession(ctx, sess.ID, store.SessionUpdate{Status: store.StatusPtr(engine.StatusJudging)}))
	got, err = s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusJudging, got.Status)
	assert.True(t, got.TurnState.OnTurn("B"))

	err = s.UpdateSession(ctx, "missing", store.SessionUpdate{Status: store.StatusPtr(engine.StatusJudging)})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// appendTurn completes seat's turn on the stored state and appends text.
func appendTurn(t *testing.T, s store.Store, sessionID string, seat engine.Seat, text string) store.Message {
	t.Helper()
	ctx := context.Background()
	sess, err := s.GetSession(ctx, sessionID)
	require.NoError(t, err)
	ts, err := engine.Assign(sess.TurnState, seat, sess.TurnsPerSpeaker)
	require.NoError(t, err)
	ts, err = engine.CompleteTurn(ts, seat)
	require.NoError(t, err)
	m, err := s.AppendMessage(ctx, sessionID, seat, text, ts)
	require.NoError(t, err)
	return m
}

func testMessages(t *testing.T, s store.Store) {
	ctx := context.Background()
	sess := Seed(t, s, 1, 2)

	m1 := appendTurn(t, s, sess.ID, "A", "one")
	m2 := appendTurn(t, s, sess.ID, "B", "two")
	appendTurn(t, s, sess.ID, "A", "three")

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.TurnState.TurnIndex)
	assert.Equal(t, map[engine.Seat]int{"A": 2, "B": 1}, got.TurnState.TurnCounts)

	// a reused turn index is rejected and the turn state is left alone
	stale := got.TurnState.Clone()
	stale.TurnIndex = 2
	_, err = s.AppendMessage(ctx, sess.ID, "B", "dup", stale)
	assert.Error(t, err, "turn index must be unique per session")
	got, err = s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.TurnState.TurnIndex)

	_, err = s.AppendMessage(ctx, "missing", "A", "nobody", got.TurnState)
	assert.ErrorIs(t, err, store.ErrNotFound)

	msgs, err := s.ListMessages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"one", "two", "three"}, []string{msgs[0].Text, msgs[1].Text, msgs[2].Text})
	assert.Equal(t, []int{1, 2, 3}, []int{msgs[0].TurnIndex, msgs[1].TurnIndex, msgs[2].TurnIndex})
	assert.Equal(t, m1.ID, msgs[0].ID)

	idx, err := s.MessageTurnIndex(ctx, sess.ID, m2.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, idx)

	_, err = s.MessageTurnIndex(ctx, sess.ID, "unknown")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testResults(t *testing.T, s store.Store) {
	ctx := context.Background()
	sess := Seed(t, s, 1, 1)

	_, err := s.GetResult(ctx, sess.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.SaveResult(ctx, store.Result{SessionID: sess.ID, PickSeat: "B", Confidence: 0.7, Why: "short"}))
	err = s.SaveResult(ctx, store.Result{SessionID: sess.ID, PickSeat: "A", Confidence: 0.1, Why: "again"})
	assert.ErrorIs(t, err, store.ErrResultExists)

	got, err := s.GetResult(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.Seat("B"), got.PickSeat)
	assert.InDelta(t, 0.7, got.Confidence, 1e-9)
	assert.Equal(t, "short", got.Why)
}

func testDeleteAndActive(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := Seed(t, s, 1, 1)
	b := Seed(t, s, 1, 1)
	c := Seed(t, s, 1, 1)
	appendTurn(t, s, b.ID, "A", "hi")

	require.NoError(t, s.UpdateSession(ctx, c.ID, store.SessionUpdate{Status: store.StatusPtr(engine.StatusFinished)}))

	active, err := s.ListActiveSessions(ctx)
	require.NoError(t, err)
	assert.Contains(t, active, a.ID)
	assert.Contains(t, active, b.ID)
	assert.NotContains(t, active, c.ID)

	require.NoError(t, s.DeleteSession(ctx, b.ID))
	_, err = s.GetSession(ctx, b.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	msgs, err := s.ListMessages(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	assert.ErrorIs(t, s.DeleteSession(ctx, b.ID), store.ErrNotFound)
}
