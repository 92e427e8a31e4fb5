package engine

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const DefaultMaxChars = 160

func NewTurnState(seats []Seat) TurnState {
	counts := make(map[Seat]int, len(seats))
	for _, seat := range seats {
		if seat == JudgeSeat {
			continue
		}
		counts[seat] = 0
	}
	return TurnState{TurnCounts: counts}
}

// Clamp collapses whitespace runs to single spaces and cuts the result to at
// most limit characters. Clamping an already clamped string is a no-op.
func Clamp(text string, limit int) string {
	if limit <= 0 {
		limit = DefaultMaxChars
	}
	t := norm.NFC.String(strings.Join(strings.Fields(text), " "))
	if utf8.RuneCountInString(t) <= limit {
		return t
	}
	runes := []rune(t)[:limit]
	return strings.TrimRightFunc(string(runes), unicode.IsSpace)
}

// TypingDelay paces an automated message by its length, bounded by lo and hi.
func TypingDelay(text string, perChar, lo, hi time.Duration) time.Duration {
	d := time.Duration(utf8.RuneCountInString(text)) * perChar
	return min(max(d, lo), hi)
}
