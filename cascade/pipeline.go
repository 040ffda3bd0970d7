package cascade

import (
	"fmt"
	"slices"
)

// SlotState is the lifecycle state of one stage:
//
//	Empty → Loading → {Ready, NoResults, Error}
//	Ready → Empty (upstream reset) | Disabled (pipeline blocked)
//	Error → Loading (retry) | Empty (upstream reset)
type SlotState int

const (
	SlotEmpty SlotState = iota
	SlotLoading
	SlotReady
	// SlotNoResults is a successful fetch that returned zero records.
	SlotNoResults
	SlotError
	SlotDisabled
)

var slotStateNames = [...]string{"empty", "loading", "ready", "no_results", "error", "disabled"}

func (s SlotState) String() string {
	if s < 0 || int(s) >= len(slotStateNames) {
		return fmt.Sprintf("slot_state(%d)", int(s))
	}
	return slotStateNames[s]
}

// StageSlot is the state of one stage.
type StageSlot struct {
	Stage      Stage
	State      SlotState
	Selection  *Record
	Options    []Record
	Generation uint64
	Err        error
}

// Option returns the issued option with the given ID.
func (s StageSlot) Option(id string) (Record, bool) {
	for _, option := range s.Options {
		if option.ID == id {
			return option, true
		}
	}
	return Record{}, false
}

// issuedOption resolves record against the current options by issue stamp
// and ID. Payload contents are never compared.
func (s StageSlot) issuedOption(record Record) (Record, bool) {
	if record.issued == 0 || record.issued != s.Generation {
		return Record{}, false
	}
	option, ok := s.Option(record.ID)
	if !ok || option.issued != record.issued {
		return Record{}, false
	}
	return option, true
}

func (s StageSlot) clone() StageSlot {
	out := s
	out.Options = slices.Clone(s.Options)
	if s.Selection != nil {
		selection := *s.Selection
		out.Selection = &selection
	}
	return out
}

// PipelineState is the full cascade: one slot per stage plus the shared
// generation counter.
type PipelineState struct {
	SearchID    string
	Generation  uint64
	Blocked     bool
	BlockReason string
	Slots       [NumStages]StageSlot
}

func (p PipelineState) clone() PipelineState {
	out := p
	for i := range p.Slots {
		out.Slots[i] = p.Slots[i].clone()
	}
	return out
}

// Lineage returns the selections above stage, stopping at the first stage
// without one.
func (p PipelineState) Lineage(stage Stage) Lineage {
	lineage := make(Lineage, 0, int(stage))
	for s := StageCity; s < stage; s++ {
		selection := p.Slots[s].Selection
		if selection == nil {
			break
		}
		lineage = append(lineage, *selection)
	}
	return lineage
}

// Frontier returns the first stage still waiting for a selection.
func (p PipelineState) Frontier() Stage {
	for s := StageCity; s < StageSeatMap; s++ {
		if p.Slots[s].Selection == nil {
			return s
		}
	}
	return StageSeatMap
}
