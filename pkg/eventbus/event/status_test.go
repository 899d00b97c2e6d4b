package event_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/eventbus/pkg/eventbus/event"
)

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from event.Status
		to   event.Status
		want bool
	}{
		{event.StatusPending, event.StatusProcessing, true},
		{event.StatusPending, event.StatusProcessed, true},
		{event.StatusPending, event.StatusFailed, true},
		{event.StatusPending, event.StatusCancelled, true},
		{event.StatusPending, event.StatusPending, false},
		{event.StatusProcessing, event.StatusProcessed, true},
		{event.StatusProcessing, event.StatusFailed, true},
		{event.StatusProcessing, event.StatusCancelled, false},
		{event.StatusProcessing, event.StatusPending, false},
		{event.StatusProcessing, event.StatusProcessing, false},
		{event.StatusProcessed, event.StatusFailed, false},
		{event.StatusProcessed, event.StatusProcessing, false},
		{event.StatusFailed, event.StatusProcessed, false},
		{event.StatusCancelled, event.StatusProcessing, false},
		{event.StatusPending, event.Status("bogus"), false},
		{event.Status("bogus"), event.StatusProcessed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStatus_CheckTransition(t *testing.T) {
	require.NoError(t, event.StatusPending.CheckTransition("evt-1", event.StatusProcessing))

	err := event.StatusProcessed.CheckTransition("evt-1", event.StatusPending)
	require.Error(t, err)
	assert.ErrorIs(t, err, event.ErrInvalidTransition)

	var te *event.TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "evt-1", te.EventID)
	assert.Equal(t, event.StatusProcessed, te.From)
	assert.Equal(t, event.StatusPending, te.To)
	assert.Contains(t, err.Error(), "evt-1")
}

func TestStatus_Parse(t *testing.T) {
	for _, st := range event.AllStatuses {
		got, err := event.ParseStatus(st.String())
		require.NoError(t, err)
		assert.Equal(t, st, got)
	}

	got, err := event.ParseStatus(" FAILED ")
	require.NoError(t, err)
	assert.Equal(t, event.StatusFailed, got)

	_, err = event.ParseStatus("done")
	assert.ErrorIs(t, err, event.ErrUnknownStatus)
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.False(t, event.StatusPending.IsTerminal())
	assert.False(t, event.StatusProcessing.IsTerminal())
	assert.True(t, event.StatusProcessed.IsTerminal())
	assert.True(t, event.StatusFailed.IsTerminal())
	assert.True(t, event.StatusCancelled.IsTerminal())
}

func TestPriority(t *testing.T) {
	tests := []struct {
		in   string
		want event.Priority
	}{
		{"low", event.PriorityLow},
		{"normal", event.PriorityNormal},
		{"HIGH", event.PriorityHigh},
		{"critical", event.PriorityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := event.ParsePriority(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := event.ParsePriority("urgent")
	assert.ErrorIs(t, err, event.ErrUnknownPriority)

	assert.True(t, event.PriorityLow < event.PriorityCritical)
	assert.Equal(t, "priority(9)", event.Priority(9).String())

	_, err = event.Priority(9).MarshalText()
	assert.ErrorIs(t, err, event.ErrUnknownPriority)
}
