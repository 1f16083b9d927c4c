package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestFromAPIState(t *testing.T) {
	tests := []struct {
		apiState string
		want     State
	}{
		{"JOB_STATE_PENDING", StateSubmitted},
		{"JOB_STATE_RUNNING", StateRunning},
		{"JOB_STATE_SUCCEEDED", StateCompleted},
		{"JOB_STATE_FAILED", StateFailed},
		{"JOB_STATE_CANCELLED", StateCancelled},
		{"JOB_STATE_EXPIRED", StateExpired},
	}
	for _, tt := range tests {
		t.Run(tt.apiState, func(t *testing.T) {
			assert.Equal(t, tt.want, FromAPIState(tt.apiState))
		})
	}
}

func TestFromAPIState_UnknownMapsToFailed(t *testing.T) {
	assert.Equal(t, StateFailed, FromAPIState("JOB_STATE_SOMETHING_NEW"))
	assert.Equal(t, StateFailed, FromAPIState(""))
}

func TestState_TerminalAndActiveArePartition(t *testing.T) {
	all := append(ActiveStates(), TerminalStates()...)
	assert.Len(t, all, 7)

	for _, s := range ActiveStates() {
		assert.True(t, s.IsActive(), "state %s", s)
		assert.False(t, s.IsTerminal(), "state %s", s)
	}
	for _, s := range TerminalStates() {
		assert.True(t, s.IsTerminal(), "state %s", s)
		assert.False(t, s.IsActive(), "state %s", s)
	}
}

// Every API state string, known or not, must land in exactly one side of
// the active/terminal partition.
func TestFromAPIState_AlwaysPartitioned(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := FromAPIState(rapid.String().Draw(t, "apiState"))
		if s.IsActive() == s.IsTerminal() {
			t.Fatalf("state %s is neither or both active and terminal", s)
		}
	})
}
