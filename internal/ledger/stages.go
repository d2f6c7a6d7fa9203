package ledger

import "math"

// The progression table is a fixed ladder of 33 stages: eleven realms,
// each split into an early, middle and late phase. Beyond the table sits
// a single terminal "ascended" state that is exempt from regression.
const (
	StageCount    = 33
	StageFloor    = 0
	MaxStage      = StageCount - 1 // highest non-ascended stage
	StageAscended = StageCount     // terminal sentinel
)

// InitialBreakthroughCost is the points price of the very first
// breakthrough for a fresh account.
const InitialBreakthroughCost = 200

var realmNames = [...]string{
	"Qi Refining",
	"Foundation Establishment",
	"Core Formation",
	"Nascent Soul",
	"Soul Transformation",
	"Spirit Severing",
	"Void Refinement",
	"Body Integration",
	"Mahayana",
	"Tribulation Transcendence",
	"Half Immortal",
}

var phaseNames = [...]string{"Early", "Middle", "Late"}

// ValidStage reports whether s is a table stage or the ascended sentinel.
func ValidStage(s int) bool {
	return s >= StageFloor && s <= StageAscended
}

// MajorLevel returns the realm index for a stage (stage / 3). The
// ascended sentinel maps to one realm beyond the table, so stage-gap
// arithmetic stays monotonic.
func MajorLevel(s int) int {
	if s >= StageAscended {
		return StageCount / 3
	}
	return s / 3
}

// StageName renders a stage for display.
func StageName(s int) string {
	if s >= StageAscended {
		return "Ascended"
	}
	if s < StageFloor {
		s = StageFloor
	}
	return realmNames[s/3] + " (" + phaseNames[s%3] + ")"
}

// BreakthroughCost returns the points price of breaking through FROM
// stage s to stage s+1. Costs grow geometrically with the realm and
// linearly within it.
func BreakthroughCost(s int) int64 {
	major := s / 3
	minor := s % 3
	base := float64(200 + (major+1)*200)
	return int64(base * math.Pow(1.25, float64(major)) * (1 + 0.5*float64(minor)))
}

// BreakthroughPills returns the pills consumed when breaking through
// from stage s. Pills are only required when the breakthrough crosses a
// realm boundary; within a realm the cost is points alone.
func BreakthroughPills(s int) int64 {
	next := s + 1
	if next%3 != 0 {
		return 0
	}
	return int64(math.Pow(2, float64(next/3)))
}
