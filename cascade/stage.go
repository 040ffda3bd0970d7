package cascade

import (
	"fmt"
	"strings"
)

// Stage is one level of the dependent selection sequence. Stages are totally
// ordered; stage k only ever reads context from stages below k.
type Stage int

const (
	StageCity Stage = iota
	StageVenue
	StageItem
	StageDate
	StageSession
	StageSeatMap
)

// NumStages is the number of stages in a pipeline.
const NumStages = int(StageSeatMap) + 1

var stageNames = [NumStages]string{"city", "venue", "item", "date", "session", "seatmap"}

func (s Stage) String() string {
	if !s.Valid() {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// Valid reports whether s names a real stage.
func (s Stage) Valid() bool {
	return s >= StageCity && s <= StageSeatMap
}

// Next returns the stage after s, or false for the final stage.
func (s Stage) Next() (Stage, bool) {
	if !s.Valid() || s == StageSeatMap {
		return s, false
	}
	return s + 1, true
}

// Stages returns every stage in order.
func Stages() []Stage {
	out := make([]Stage, NumStages)
	for i := range out {
		out[i] = Stage(i)
	}
	return out
}

// ParseStage resolves a stage by its lowercase name.
func ParseStage(name string) (Stage, error) {
	needle := strings.ToLower(strings.TrimSpace(name))
	for i, candidate := range stageNames {
		if candidate == needle {
			return Stage(i), nil
		}
	}
	return 0, fmt.Errorf("unknown stage %q", name)
}
