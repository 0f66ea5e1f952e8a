package realtime

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateTransitions(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		path    []State
		wantErr bool
	}{
		{
			name: "happy connect path",
			path: []State{StateConnecting, StateAwaitingLoginAck, StateOpen, StateClosing, StateClosed},
		},
		{
			name: "fault and reconnect",
			path: []State{StateConnecting, StateAwaitingLoginAck, StateOpen, StateFaulted, StateConnecting},
		},
		{
			name:    "idle cannot open directly",
			path:    []State{StateOpen},
			wantErr: true,
		},
		{
			name:    "closed is terminal",
			path:    []State{StateClosing, StateClosed, StateConnecting},
			wantErr: true,
		},
		{
			name:    "open cannot go back to connecting",
			path:    []State{StateConnecting, StateAwaitingLoginAck, StateOpen, StateConnecting},
			wantErr: true,
		},
	}

	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			var s status
			var err error
			for _, next := range tt.path {
				err = s.transition(next)
				if err != nil {
					break
				}
			}
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestFaultFromOpen(t *testing.T) {
	t.Parallel()
	var s status
	require.NoError(t, s.transition(StateConnecting))
	require.NoError(t, s.transition(StateAwaitingLoginAck))
	require.NoError(t, s.transition(StateOpen))

	require.True(t, s.fault("read_error"))
	require.Equal(t, StateFaulted, s.get())
	kind, at := s.lastFault()
	require.Equal(t, "read_error", kind)
	require.False(t, at.IsZero())

	require.False(t, s.fault("again"), "already faulted")
}

func TestFaultIgnoredWhileClosing(t *testing.T) {
	t.Parallel()
	var s status
	require.NoError(t, s.transition(StateClosing))
	require.False(t, s.fault("read_error"), "deliberate close must win over fault")
	require.Equal(t, StateClosing, s.get())
}
