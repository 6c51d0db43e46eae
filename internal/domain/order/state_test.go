package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNext(t *testing.T) {
	tests := []struct {
		from   Status
		action Action
		want   Status
	}{
		{StatusPending, ActionMarkPaid, StatusPaid},
		{StatusPending, ActionAwaitConfirm, StatusWaitingConfirm},
		{StatusPaid, ActionStartCooking, StatusCooking},
		{StatusWaitingConfirm, ActionStartCooking, StatusCooking},
		{StatusCooking, ActionDispatch, StatusDelivering},
		{StatusDelivering, ActionComplete, StatusCompleted},
		{StatusPending, ActionCancel, StatusCancelled},
		{StatusWaitingConfirm, ActionCancel, StatusCancelled},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.action), func(t *testing.T) {
			got, err := Next(tt.from, tt.action)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNext_Invalid(t *testing.T) {
	tests := []struct {
		from   Status
		action Action
	}{
		{StatusPaid, ActionCancel},
		{StatusCooking, ActionCancel},
		{StatusDelivering, ActionCancel},
		{StatusCompleted, ActionCancel},
		{StatusCancelled, ActionCancel},
		{StatusPaid, ActionMarkPaid},
		{StatusCancelled, ActionMarkPaid},
		{StatusPending, ActionStartCooking},
		{StatusPending, ActionComplete},
		{StatusCooking, ActionComplete},
		{StatusCompleted, ActionDispatch},
		{StatusPending, Action("teleport")},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.action), func(t *testing.T) {
			_, err := Next(tt.from, tt.action)
			require.ErrorIs(t, err, ErrInvalidTransition)

			var itErr *InvalidTransitionError
			require.ErrorAs(t, err, &itErr)
			assert.Equal(t, tt.from, itErr.From)
			assert.Equal(t, tt.action, itErr.Action)
		})
	}
}

func TestReached(t *testing.T) {
	assert.True(t, Reached(StatusPaid, StatusPaid))
	assert.True(t, Reached(StatusCooking, StatusPaid))
	assert.True(t, Reached(StatusCompleted, StatusPaid))
	assert.False(t, Reached(StatusPending, StatusPaid))
	assert.False(t, Reached(StatusWaitingConfirm, StatusPaid))
	assert.True(t, Reached(StatusCooking, StatusWaitingConfirm))
	assert.False(t, Reached(StatusCancelled, StatusPaid))
}

func TestParse(t *testing.T) {
	a, ok := ParseAction("start_cooking")
	assert.True(t, ok)
	assert.Equal(t, ActionStartCooking, a)

	_, ok = ParseAction("START_COOKING")
	assert.False(t, ok)

	s, ok := ParseStatus("WAITING_CONFIRM")
	assert.True(t, ok)
	assert.Equal(t, StatusWaitingConfirm, s)

	m, ok := ParsePaymentMethod("COD")
	assert.True(t, ok)
	assert.Equal(t, PaymentCOD, m)
	_, ok = ParsePaymentMethod("CARD")
	assert.False(t, ok)
}
