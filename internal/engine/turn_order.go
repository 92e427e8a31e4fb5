package engine

import (
	"slices"
)

const (
	HumanSeat Seat = "A"
	JudgeSeat Seat = "J"
)

const maxSpeakers = 8

// Rand is the randomness the turn order needs. *rand.Rand from math/rand/v2
// satisfies it.
type Rand interface {
	IntN(n int) int
}

// SeatLabels returns the human seat followed by one seat per automated
// speaker: A, B, C, ...
func SeatLabels(numSpeakers int) []Seat {
	numSpeakers = max(0, min(numSpeakers, maxSpeakers))
	seats := make([]Seat, 0, numSpeakers+1)
	seats = append(seats, HumanSeat)
	for i := range numSpeakers {
		seats = append(seats, Seat(rune('B'+i)))
	}
	return seats
}

// PickNextSeat chooses who speaks next. Only seats below target are eligible;
// among those the least-used seats tie and one is drawn at random. It returns
// false when every seat has reached the target.
func PickNextSeat(counts map[Seat]int, target int, rng Rand) (Seat, bool) {
	low := -1
	var tied []Seat
	for seat, count := range counts {
		if count >= target {
			continue
		}
		switch {
		case low == -1 || count < low:
			low = count
			tied = append(tied[:0], seat)
		case count == low:
			tied = append(tied, seat)
		}
	}
	if len(tied) == 0 {
		return "", false
	}
	// map order is random; sort so a fixed seed gives a fixed pick
	slices.Sort(tied)
	return tied[rng.IntN(len(tied))], true
}
