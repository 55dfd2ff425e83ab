package lifecycle

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckFromPending(t *testing.T) {
	cases := map[Action]Status{
		ActionAnswer:  StatusAnswered,
		ActionDecline: StatusDeclined,
		ActionCancel:  StatusCancelled,
	}
	for action, want := range cases {
		got, err := Check(Record{Status: StatusPending}, action)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestCheckRefusesTerminal(t *testing.T) {
	for _, current := range []Status{StatusAnswered, StatusDeclined, StatusCancelled} {
		for _, action := range []Action{ActionAnswer, ActionDecline, ActionCancel} {
			_, err := Check(Record{Status: current, AnsweredBy: "alice"}, action)
			require.Error(t, err, "%s -> %s", current, action)
			assert.ErrorIs(t, err, ErrNotPending)
			f, ok := AsFailure(err)
			require.True(t, ok)
			assert.Equal(t, current, f.Status)
		}
	}
}

func TestRefusedReasons(t *testing.T) {
	f := Refused(Record{Status: StatusAnswered, AnsweredBy: "alice"})
	assert.Equal(t, ReasonAlreadyAnswered, f.Reason)
	assert.Equal(t, "alice", f.By)
	assert.EqualError(t, f, "already answered by alice")
	assert.ErrorIs(t, f, ErrAlreadyAnswered)

	assert.ErrorIs(t, Refused(Record{Status: StatusDeclined}), ErrAlreadyDeclined)
	assert.ErrorIs(t, Refused(Record{Status: StatusCancelled}), ErrAlreadyCancelled)
	assert.Equal(t, ReasonNotPending, Refused(Record{Status: "archived"}).Reason)
}

func TestUnknownAction(t *testing.T) {
	_, err := Check(Record{Status: StatusPending}, Action("resurrect"))
	assert.Error(t, err)
	_, ok := AsFailure(err)
	assert.False(t, ok)
}

func TestFailureWrapping(t *testing.T) {
	wrapped := fmt.Errorf("commit: %w", Invalid("Must be at least 10"))
	assert.True(t, errors.Is(wrapped, ErrInvalidAnswer))
	assert.False(t, errors.Is(wrapped, ErrNotPending))
	f, ok := AsFailure(wrapped)
	require.True(t, ok)
	assert.Equal(t, "Must be at least 10", f.Detail)
	assert.False(t, f.RaceLost())

	assert.ErrorIs(t, NotFound(), ErrNotFound)
	assert.False(t, NotFound().RaceLost())
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusPending.Valid())
	assert.False(t, Status("expired").Valid())
}
