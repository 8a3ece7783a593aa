package commentary

import "time"

// Lane is the side of the screen a bubble is drawn on.
type Lane string

const (
	LaneLeft  Lane = "left"
	LaneRight Lane = "right"
)

// Accent is a colour slot from the presentation palette.
type Accent string

const (
	AccentA Accent = "A"
	AccentB Accent = "B"
	AccentC Accent = "C"
)

// DefaultPalette is the accent rotation used when none is configured.
var DefaultPalette = []Accent{AccentA, AccentB, AccentC}

// Bubble is one line of commentary on screen.
type Bubble struct {
	ID        uint64    `json:"id"`
	Text      string    `json:"text"`
	Lane      Lane      `json:"lane"`
	Accent    Accent    `json:"accent"`
	CreatedAt time.Time `json:"createdAt"`
}

// laneFor and accentFor derive presentation slots from the release counter
// alone, never from the text.
func laneFor(n uint64) Lane {
	if n%2 == 0 {
		return LaneLeft
	}
	return LaneRight
}

func accentFor(n uint64, palette []Accent) Accent {
	return palette[n%uint64(len(palette))]
}
