// Package stage defines the fixed pipeline order and tracks stage completion.
package stage

import (
	"encoding/json"
	"fmt"
)

// ID identifies a pipeline stage or a routing target.
type ID string

const (
	Ideation          ID = "ideation"
	ResearchPlanning  ID = "research_planning"
	Coding            ID = "coding"
	Deployment        ID = "deployment"
	Presentation      ID = "presentation"
	HumanIntervention ID = "human_intervention"
	Finish            ID = "FINISH"
)

// PipelineOrder is the total order of stages. Finish is always last.
var PipelineOrder = []ID{Ideation, ResearchPlanning, Coding, Deployment, Presentation, Finish}

var valid = map[ID]bool{
	Ideation:          true,
	ResearchPlanning:  true,
	Coding:            true,
	Deployment:        true,
	Presentation:      true,
	HumanIntervention: true,
	Finish:            true,
}

// Stages returns the worker stages in pipeline order.
func Stages() []ID {
	return append([]ID(nil), PipelineOrder[:len(PipelineOrder)-1]...)
}

// IsValidName reports whether x names a stage, the human checkpoint or Finish.
func IsValidName(x string) bool {
	return valid[ID(x)]
}

// IsPipelineStage reports whether id is one of the worker stages.
func IsPipelineStage(id ID) bool {
	return id != Finish && id != HumanIntervention && valid[id]
}

// Position returns the index of id in PipelineOrder, or -1.
func Position(id ID) int {
	for i, s := range PipelineOrder {
		if s == id {
			return i
		}
	}
	return -1
}

// NextUndone returns the first stage in PipelineOrder not in completed.
// Finish is always available and is returned once every worker stage is done.
func NextUndone(completed Set) ID {
	for _, s := range PipelineOrder {
		if s == Finish {
			return Finish
		}
		if !completed.Has(s) {
			return s
		}
	}
	return Finish
}

// Set is the monotonic, duplicate-free record of completed stages.
// Insertion order is kept for display; PipelineOrder is authoritative.
type Set struct {
	ids []ID
}

// NewSet builds a set from ids, dropping duplicates.
func NewSet(ids ...ID) Set {
	var s Set
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts id once. It reports whether the set changed.
func (s *Set) Add(id ID) bool {
	if s.Has(id) {
		return false
	}
	s.ids = append(s.ids, id)
	return true
}

// Has reports membership.
func (s Set) Has(id ID) bool {
	for _, x := range s.ids {
		if x == id {
			return true
		}
	}
	return false
}

// Last returns the most recently inserted stage.
func (s Set) Last() (ID, bool) {
	if len(s.ids) == 0 {
		return "", false
	}
	return s.ids[len(s.ids)-1], true
}

// Len returns the number of completed stages.
func (s Set) Len() int { return len(s.ids) }

// Slice returns a copy of the ids in insertion order.
func (s Set) Slice() []ID {
	return append([]ID(nil), s.ids...)
}

// IsPrefix reports whether the set is exactly the first Len() worker stages of
// PipelineOrder, i.e. no stage was completed before all of its predecessors.
func (s Set) IsPrefix() bool {
	for i := 0; i < len(s.ids); i++ {
		if !s.Has(PipelineOrder[i]) || PipelineOrder[i] == Finish {
			return false
		}
	}
	return true
}

// Validate checks the set only holds worker stages.
func (s Set) Validate() error {
	for _, id := range s.ids {
		if !IsPipelineStage(id) {
			return fmt.Errorf("invalid completed stage %q", id)
		}
	}
	return nil
}

func (s Set) MarshalJSON() ([]byte, error) {
	if s.ids == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.ids)
}

func (s *Set) UnmarshalJSON(data []byte) error {
	var ids []ID
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewSet(ids...)
	return nil
}
