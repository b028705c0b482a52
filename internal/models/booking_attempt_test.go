package models

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttemptTransitions(t *testing.T) {
	tests := []struct {
		from AttemptState
		to   AttemptState
		ok   bool
	}{
		{AttemptSeatSelected, AttemptHoldPlaced, true},
		{AttemptHoldPlaced, AttemptPaymentPending, true},
		{AttemptHoldPlaced, AttemptHoldExpired, true},
		{AttemptHoldPlaced, AttemptCancelled, true},
		{AttemptPaymentPending, AttemptConfirmed, true},
		{AttemptPaymentPending, AttemptPaymentFailed, true},
		{AttemptPaymentPending, AttemptHoldExpired, true},
		{AttemptConfirmed, AttemptCancelled, true},
		{AttemptSeatSelected, AttemptConfirmed, false},
		{AttemptHoldPlaced, AttemptConfirmed, false},
		{AttemptHoldExpired, AttemptConfirmed, false},
		{AttemptPaymentFailed, AttemptPaymentPending, false},
		{AttemptCancelled, AttemptHoldPlaced, false},
		{AttemptConfirmed, AttemptHoldExpired, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to))
		})
	}
}

func TestAttemptTransitionTo(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	a := NewBookingAttempt(uuid.New(), "trip", []string{"1A"}, now)
	assert.Equal(t, AttemptSeatSelected, a.State)
	assert.Len(t, a.InvoiceID, 20)

	require.NoError(t, a.TransitionTo(AttemptHoldPlaced, now.Add(time.Second)))
	assert.Equal(t, now.Add(time.Second), a.UpdatedAt)

	err := a.TransitionTo(AttemptConfirmed, now)
	var illegal *IllegalTransitionError
	require.True(t, errors.As(err, &illegal))
	assert.Equal(t, AttemptHoldPlaced, illegal.From)
	assert.Equal(t, AttemptHoldPlaced, a.State)
}

func TestTerminalStates(t *testing.T) {
	assert.False(t, AttemptHoldPlaced.IsTerminal())
	assert.False(t, AttemptPaymentPending.IsTerminal())
	assert.True(t, AttemptPaymentFailed.IsTerminal())
	assert.True(t, AttemptHoldExpired.IsTerminal())
}
