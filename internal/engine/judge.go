package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	DefaultConfidence = 0.5
	NoRationale       = "판단 근거가 부족함"
)

var (
	pickPattern = regexp.MustCompile(`PICK\s*=\s*([A-Z])`)
	confPattern = regexp.MustCompile(`CONF\s*=\s*([0-9]*\.?[0-9]+)`)
	whyPattern  = regexp.MustCompile(`WHY\s*=\s*(.+)$`)
)

type Verdict struct {
	PickSeat   Seat    `json:"pick_seat"`
	Confidence float64 `json:"confidence"`
	Why        string  `json:"why"`
}

// ParseVerdict pulls PICK=<seat> CONF=<0..1> WHY=<text> out of free-form
// judge output. Every field falls back independently, so the result is always
// usable: the seat is one of seats, confidence is within [0,1] and why is
// never empty. seats must not be empty.
func ParseVerdict(raw string, seats []Seat) Verdict {
	content := strings.Join(strings.Fields(raw), " ")
	v := Verdict{Confidence: DefaultConfidence, Why: NoRationale}
	if len(seats) > 0 {
		v.PickSeat = seats[0]
	}

	if m := pickPattern.FindStringSubmatch(content); m != nil {
		for _, seat := range seats {
			if string(seat) == m[1] {
				v.PickSeat = seat
				break
			}
		}
	}
	if m := confPattern.FindStringSubmatch(content); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			v.Confidence = min(max(f, 0), 1)
		}
	}
	if m := whyPattern.FindStringSubmatch(content); m != nil {
		if why := strings.TrimSpace(m[1]); why != "" {
			v.Why = why
		}
	}
	return v
}

// FallbackVerdictText is the raw judge output used when the model call fails.
func FallbackVerdictText(seats []Seat) string {
	seat := HumanSeat
	if len(seats) > 0 {
		seat = seats[0]
	}
	return fmt.Sprintf("PICK=%s CONF=%.1f WHY=%s", seat, DefaultConfidence, NoRationale)
}
