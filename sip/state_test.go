package sip

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMachinePaths(t *testing.T) {
	tests := []struct {
		name   string
		events []CallEvent
		want   CallState
	}{
		{"answered", []CallEvent{EventSendInvite, EventProvisional, EventAccepted, EventHangup, EventByeDone}, StateTerminated},
		{"answered without provisional", []CallEvent{EventSendInvite, EventAccepted}, StateEstablished},
		{"challenged then answered", []CallEvent{EventSendInvite, EventProvisional, EventChallenged, EventAccepted}, StateEstablished},
		{"rejected", []CallEvent{EventSendInvite, EventProvisional, EventRejected}, StateFailed},
		{"timer b", []CallEvent{EventSendInvite, EventTimerB}, StateFailed},
		{"timer b after provisional", []CallEvent{EventSendInvite, EventProvisional, EventTimerB}, StateFailed},
		{"aborted", []CallEvent{EventSendInvite, EventAborted}, StateFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewStateMachine("call")
			for _, ev := range tt.events {
				require.NoError(t, m.Fire(ev), "event %s", ev)
			}
			assert.Equal(t, tt.want, m.State())
			assert.Len(t, m.History(), len(tt.events)+1)
		})
	}
}

func TestStateMachineRejectsInvalid(t *testing.T) {
	tests := []struct {
		name   string
		prefix []CallEvent
		bad    CallEvent
	}{
		{"hangup before invite", nil, EventHangup},
		{"provisional after established", []CallEvent{EventSendInvite, EventAccepted}, EventProvisional},
		{"second invite", []CallEvent{EventSendInvite}, EventSendInvite},
		{"anything after failed", []CallEvent{EventSendInvite, EventRejected}, EventSendInvite},
		{"second hangup", []CallEvent{EventSendInvite, EventAccepted, EventHangup}, EventHangup},
		{"provisional in proceeding", []CallEvent{EventSendInvite, EventProvisional}, EventProvisional},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewStateMachine("call")
			for _, ev := range tt.prefix {
				require.NoError(t, m.Fire(ev))
			}
			before := m.State()
			assert.False(t, m.Can(tt.bad))
			err := m.Fire(tt.bad)
			assert.True(t, errors.Is(err, ErrInvalidTransition))
			assert.Equal(t, before, m.State())
		})
	}
}

func TestMediaActiveOnlyWhenEstablished(t *testing.T) {
	m := NewStateMachine("call")
	assert.False(t, m.MediaActive())
	require.NoError(t, m.Fire(EventSendInvite))
	assert.False(t, m.MediaActive())
	require.NoError(t, m.Fire(EventAccepted))
	assert.True(t, m.MediaActive())
	require.NoError(t, m.Fire(EventHangup))
	assert.False(t, m.MediaActive())
}

func TestFinalStates(t *testing.T) {
	assert.True(t, StateTerminated.Final())
	assert.True(t, StateFailed.Final())
	assert.False(t, StateEstablished.Final())
	assert.Equal(t, "proceeding", StateProceeding.String())
	assert.Equal(t, "timer_b", EventTimerB.String())
}
