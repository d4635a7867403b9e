package technique

import (
	"github.com/promptlift/promptlift/core"
)

// Catalog priorities. Lower applies first; the reasoning scaffolds run
// before framing and formatting so later techniques wrap the full scaffold.
const (
	PriorityChainOfThought   = 10
	PriorityTreeOfThoughts   = 20
	PrioritySelfConsistency  = 25
	PriorityReAct            = 30
	PriorityFewShot          = 40
	PriorityRolePlay         = 50
	PriorityEmotionalAppeal  = 55
	PriorityStepByStep       = 60
	PriorityStructuredOutput = 70
	PriorityConstraints      = 80
	PriorityAnalogical       = 85
	PriorityZeroShot         = 90
)

// DefaultDescriptors returns the built-in catalog in priority order.
func DefaultDescriptors() []core.TechniqueDescriptor {
	return []core.TechniqueDescriptor{
		{ID: "chain_of_thought", Name: "Chain of Thought", Priority: PriorityChainOfThought, Enabled: true},
		{ID: "tree_of_thoughts", Name: "Tree of Thoughts", Priority: PriorityTreeOfThoughts, Enabled: true},
		{ID: "self_consistency", Name: "Self-Consistency", Priority: PrioritySelfConsistency, Enabled: true},
		{ID: "react", Name: "ReAct", Priority: PriorityReAct, Enabled: true},
		{ID: "few_shot", Name: "Few-Shot Examples", Priority: PriorityFewShot, Enabled: true},
		{ID: "role_play", Name: "Role Play", Priority: PriorityRolePlay, Enabled: true},
		{ID: "emotional_appeal", Name: "Emotional Appeal", Priority: PriorityEmotionalAppeal, Enabled: true},
		{ID: "step_by_step", Name: "Step by Step", Priority: PriorityStepByStep, Enabled: true},
		{ID: "structured_output", Name: "Structured Output", Priority: PriorityStructuredOutput, Enabled: true},
		{ID: "constraints", Name: "Constraints", Priority: PriorityConstraints, Enabled: true},
		{ID: "analogical", Name: "Analogical Reasoning", Priority: PriorityAnalogical, Enabled: true},
		{ID: "zero_shot", Name: "Zero-Shot Direct", Priority: PriorityZeroShot, Enabled: true},
	}
}

// RegisterDefaults installs the built-in techniques into r. Disabled ids
// are registered with Enabled=false so they remain visible to listing but
// unavailable to the engine.
func RegisterDefaults(r *Registry, disabled ...string) error {
	disabledSet := make(map[string]bool, len(disabled))
	for _, id := range disabled {
		disabledSet[id] = true
	}

	impls := map[string]Technique{
		"chain_of_thought":  &ChainOfThought{},
		"tree_of_thoughts":  &TreeOfThoughts{},
		"self_consistency":  &SelfConsistency{},
		"react":             &ReAct{},
		"few_shot":          &FewShot{},
		"role_play":         &RolePlay{},
		"emotional_appeal":  &EmotionalAppeal{},
		"step_by_step":      &StepByStep{},
		"structured_output": &StructuredOutput{},
		"constraints":       &Constraints{},
		"analogical":        &Analogical{},
		"zero_shot":         &ZeroShot{},
	}

	for _, d := range DefaultDescriptors() {
		if disabledSet[d.ID] {
			d.Enabled = false
		}
		if err := r.Register(d, impls[d.ID]); err != nil {
			return err
		}
	}
	return nil
}
