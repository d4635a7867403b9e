package technique

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptlift/promptlift/core"
)

func TestRegisterIdempotentForSameRegistration(t *testing.T) {
	r := NewRegistry(nil)
	impl := &ZeroShot{}
	d := core.TechniqueDescriptor{ID: "zero_shot", Name: "Zero-Shot Direct", Priority: 90, Enabled: true}

	require.NoError(t, r.Register(d, impl))
	assert.NoError(t, r.Register(d, impl), "re-registering the same pair is a no-op")

	got, descriptor, ok := r.Get("zero_shot")
	require.True(t, ok)
	assert.Same(t, impl, got)
	assert.Equal(t, 90, descriptor.Priority)
}

func TestRegisterRejectsConflicts(t *testing.T) {
	r := NewRegistry(nil)
	d := core.TechniqueDescriptor{ID: "zero_shot", Priority: 90, Enabled: true}
	require.NoError(t, r.Register(d, &ZeroShot{}))

	// Different implementation under the same id.
	err := r.Register(d, &ZeroShot{})
	assert.ErrorIs(t, err, core.ErrAlreadyRegistered)

	// Same implementation, different descriptor.
	impl := &StepByStep{}
	d2 := core.TechniqueDescriptor{ID: "step_by_step", Priority: 60, Enabled: true}
	require.NoError(t, r.Register(d2, impl))
	d2.Priority = 5
	assert.ErrorIs(t, r.Register(d2, impl), core.ErrAlreadyRegistered)
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry(nil)

	assert.ErrorIs(t, r.Register(core.TechniqueDescriptor{}, &ZeroShot{}), core.ErrInvalidInput)
	assert.ErrorIs(t, r.Register(core.TechniqueDescriptor{ID: "x"}, nil), core.ErrInvalidInput)
}

func TestUnregister(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, RegisterDefaults(r))

	r.Unregister("react")
	_, _, ok := r.Get("react")
	assert.False(t, ok)

	// Unknown id is a no-op.
	r.Unregister("nonexistent")
}

func TestListEnabledOrderAndFiltering(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, RegisterDefaults(r, "few_shot", "react"))

	enabled := r.ListEnabled()
	ids := make([]string, len(enabled))
	lastPriority := -1
	for i, d := range enabled {
		ids[i] = d.ID
		assert.GreaterOrEqual(t, d.Priority, lastPriority, "enabled list must be priority-sorted")
		lastPriority = d.Priority
		assert.True(t, d.Enabled)
	}
	assert.NotContains(t, ids, "few_shot")
	assert.NotContains(t, ids, "react")
	assert.Len(t, enabled, 10)

	// List includes the disabled ones.
	assert.Len(t, r.List(), 12)
}

func TestMustRegisterPanicsOnConflict(t *testing.T) {
	r := NewRegistry(nil)
	d := core.TechniqueDescriptor{ID: "zero_shot", Priority: 90, Enabled: true}
	r.MustRegister(d, &ZeroShot{})

	assert.Panics(t, func() {
		r.MustRegister(d, &ZeroShot{})
	})
}
