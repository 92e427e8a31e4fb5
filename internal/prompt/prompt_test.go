package prompt

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/whoistalking-backend/internal/engine"
	"github.com/DoyleJ11/whoistalking-backend/internal/llm"
)

func TestWindow(t *testing.T) {
	assert.Equal(t, 4, Window("easy"))
	assert.Equal(t, 8, Window("normal"))
	assert.Equal(t, 14, Window("hard"))
	assert.Equal(t, 8, Window("unknown"))
}

func TestSpeaker_UsesRecentWindow(t *testing.T) {
	var history []Line
	for i := range 10 {
		history = append(history, Line{Seat: "A", Text: fmt.Sprintf("m%d", i)})
	}

	msgs := Speaker(SpeakerInput{Topic: "주제", Seat: "B", Persona: "페르소나", Difficulty: "easy", History: history})
	require.Len(t, msgs, 2)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "페르소나")
	assert.Contains(t, msgs[1].Content, "A: m6")
	assert.Contains(t, msgs[1].Content, "A: m9")
	assert.NotContains(t, msgs[1].Content, "A: m5")
}

func TestSpeaker_DefaultPersona(t *testing.T) {
	msgs := Speaker(SpeakerInput{Topic: "t", Seat: "B"})
	assert.Contains(t, msgs[0].Content, defaultPersona)
}

func TestJudge_IncludesSeatsAndLog(t *testing.T) {
	msgs := Judge("주제", []engine.Seat{"A", "B"}, []Line{{Seat: "A", Text: "안녕"}})
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Content, "좌석: A, B")
	assert.Contains(t, msgs[1].Content, "A: 안녕")
}

func TestTranscript(t *testing.T) {
	got := Transcript([]Line{{Seat: "A", Text: "안녕"}, {Seat: "B", Text: "반가워"}})
	assert.Equal(t, "A: 안녕\nB: 반가워", got)
}

func TestPickPersona(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	for range 20 {
		assert.Contains(t, Personas, PickPersona(rng))
	}
}
