package commit

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejzpr/rishvan-input/internal/answer"
	"github.com/tejzpr/rishvan-input/internal/document"
	"github.com/tejzpr/rishvan-input/internal/inputtype"
	"github.com/tejzpr/rishvan-input/internal/lifecycle"
	"github.com/tejzpr/rishvan-input/internal/request"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T, q request.Question) (*Committer, *document.MemoryStore, string) {
	t.Helper()
	store := document.NewMemoryStore()
	r := &request.InputRequest{
		ID:        "req-1",
		Question:  q,
		Status:    lifecycle.StatusPending,
		CreatedAt: fixedNow.Add(-time.Minute).UnixMilli(),
	}
	require.NoError(t, store.Insert(context.Background(), r))
	return New(store, WithClock(func() time.Time { return fixedNow })), store, r.ID
}

func confirmQuestion() request.Question {
	return request.Question{Type: inputtype.Confirm, Message: "Deploy?"}
}

func TestAnswerSetsFieldsTogether(t *testing.T) {
	c, _, id := setup(t, confirmQuestion())

	r, err := c.Answer(context.Background(), id, "yes", "alice")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusAnswered, r.Status)
	require.NotNil(t, r.Response)
	assert.Equal(t, "yes", *r.Response)
	require.NotNil(t, r.AnsweredAt)
	assert.Equal(t, fixedNow.UnixMilli(), *r.AnsweredAt)
	assert.Equal(t, "alice", r.AnsweredBy)
}

func TestAnswerWithoutIdentity(t *testing.T) {
	c, _, id := setup(t, confirmQuestion())
	r, err := c.Answer(context.Background(), id, "no", "")
	require.NoError(t, err)
	assert.Equal(t, Anonymous, r.AnsweredBy)
}

func TestDeclineAndCancelLeaveResponseEmpty(t *testing.T) {
	for _, tc := range []struct {
		name string
		run  func(*Committer, string) (*request.InputRequest, error)
		want lifecycle.Status
	}{
		{"decline", func(c *Committer, id string) (*request.InputRequest, error) { return c.Decline(context.Background(), id) }, lifecycle.StatusDeclined},
		{"cancel", func(c *Committer, id string) (*request.InputRequest, error) { return c.Cancel(context.Background(), id) }, lifecycle.StatusCancelled},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c, _, id := setup(t, confirmQuestion())
			r, err := tc.run(c, id)
			require.NoError(t, err)
			assert.Equal(t, tc.want, r.Status)
			assert.Nil(t, r.Response)
			assert.Nil(t, r.AnsweredAt)
			assert.Empty(t, r.AnsweredBy)
		})
	}
}

func TestNotFound(t *testing.T) {
	c, _, _ := setup(t, confirmQuestion())
	ctx := context.Background()

	_, err := c.Answer(ctx, "missing", "yes", "alice")
	assert.ErrorIs(t, err, lifecycle.ErrNotFound)
	_, err = c.Cancel(ctx, "missing")
	assert.ErrorIs(t, err, lifecycle.ErrNotFound)
	_, err = c.Submit(ctx, "missing", answer.Candidate{Value: "yes"}, "alice")
	assert.ErrorIs(t, err, lifecycle.ErrNotFound)
}

func TestLoserLearnsWinner(t *testing.T) {
	c, _, id := setup(t, confirmQuestion())
	ctx := context.Background()

	_, err := c.Answer(ctx, id, "yes", "alice")
	require.NoError(t, err)

	_, err = c.Answer(ctx, id, "no", "bob")
	f, ok := lifecycle.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, lifecycle.ReasonAlreadyAnswered, f.Reason)
	assert.Equal(t, "alice", f.By)
	assert.EqualError(t, err, "already answered by alice")
	assert.ErrorIs(t, err, lifecycle.ErrNotPending)

	_, err = c.Decline(ctx, id)
	assert.ErrorIs(t, err, lifecycle.ErrAlreadyAnswered)
}

// Two clients answer the same confirm request at once.
func TestConcurrentAnswersCommitOnce(t *testing.T) {
	for round := 0; round < 50; round++ {
		c, store, id := setup(t, confirmQuestion())
		ctx := context.Background()

		var wg sync.WaitGroup
		errs := make([]error, 2)
		values := []string{"yes", "no"}
		start := make(chan struct{})
		for i := range values {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				_, errs[i] = c.Submit(ctx, id, answer.Candidate{Value: values[i]}, values[i]+"-client")
			}(i)
		}
		close(start)
		wg.Wait()

		winners := 0
		for i, err := range errs {
			if err == nil {
				winners++
				continue
			}
			assert.ErrorIs(t, err, lifecycle.ErrAlreadyAnswered, "attempt %d", i)
		}
		require.Equal(t, 1, winners)

		final, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, lifecycle.StatusAnswered, final.Status)
		require.NotNil(t, final.Response)
		assert.Contains(t, values, *final.Response)
		assert.Equal(t, *final.Response+"-client", final.AnsweredBy)
	}
}

func TestStatusIsMonotonic(t *testing.T) {
	actions := []func(c *Committer, id string) error{
		func(c *Committer, id string) error { _, err := c.Answer(context.Background(), id, "yes", "a"); return err },
		func(c *Committer, id string) error { _, err := c.Answer(context.Background(), id, "no", "b"); return err },
		func(c *Committer, id string) error { _, err := c.Decline(context.Background(), id); return err },
		func(c *Committer, id string) error { _, err := c.Cancel(context.Background(), id); return err },
	}
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		c, store, id := setup(t, confirmQuestion())
		var first *request.InputRequest
		for step := 0; step < 6; step++ {
			err := actions[rng.Intn(len(actions))](c, id)
			current, _ := store.Get(context.Background(), id)
			if first == nil {
				require.NoError(t, err)
				first = current
				continue
			}
			f, ok := lifecycle.AsFailure(err)
			require.True(t, ok, "later transitions must fail with a typed failure")
			assert.True(t, f.RaceLost())
			assert.Equal(t, first, current)
		}
	}
}

func TestCancelTwice(t *testing.T) {
	c, store, id := setup(t, confirmQuestion())
	ctx := context.Background()

	_, err := c.Cancel(ctx, id)
	require.NoError(t, err)
	_, err = c.Cancel(ctx, id)
	assert.ErrorIs(t, err, lifecycle.ErrAlreadyCancelled)
	assert.ErrorIs(t, err, lifecycle.ErrNotPending)
	assert.Equal(t, 2, store.Writes())
}

func TestSubmitRejectsInvalidWithoutWriting(t *testing.T) {
	q := request.Question{Type: inputtype.Number, Message: "How many?", Min: "10", Max: "100"}
	c, store, id := setup(t, q)
	before := store.Writes()

	_, err := c.Submit(context.Background(), id, answer.Candidate{Value: "5"}, "alice")
	require.Error(t, err)
	f, ok := lifecycle.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, lifecycle.ReasonInvalidAnswer, f.Reason)
	assert.Contains(t, f.Detail, "minimum of 10")
	assert.Equal(t, before, store.Writes())

	r, err := c.Submit(context.Background(), id, answer.Candidate{Value: " 42 "}, "alice")
	require.NoError(t, err)
	assert.Equal(t, "42", *r.Response)
}

func TestSubmitChecksValuesOnlyCandidates(t *testing.T) {
	cases := []struct {
		name   string
		q      request.Question
		values []string
	}{
		{"number", request.Question{Type: inputtype.Number, Message: "n", Min: "10", Max: "100"}, []string{"abc"}},
		{"email", request.Question{Type: inputtype.Email, Message: "e", Domain: "example.com"}, []string{"bob@evil.com"}},
		{"date", request.Question{Type: inputtype.Date, Message: "d"}, []string{"2024-02-31"}},
		{"confirm", confirmQuestion(), []string{"maybe"}},
		{"rating", request.Question{Type: inputtype.Rating, Message: "r"}, []string{"99"}},
		{"blank text", request.Question{Type: inputtype.Text, Message: "t"}, []string{"   "}},
		{"two texts", request.Question{Type: inputtype.Text, Message: "t"}, []string{"a", "b"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, store, id := setup(t, tc.q)
			before := store.Writes()

			r, err := c.Submit(context.Background(), id, answer.Candidate{Values: tc.values}, "alice")
			assert.ErrorIs(t, err, lifecycle.ErrInvalidAnswer)
			assert.Nil(t, r)
			assert.Equal(t, before, store.Writes())

			current, err := store.Get(context.Background(), id)
			require.NoError(t, err)
			assert.Equal(t, lifecycle.StatusPending, current.Status)
		})
	}
}

func TestSubmitOtherText(t *testing.T) {
	q := request.Question{
		Type:    inputtype.Choice,
		Message: "Color?",
		Options: []request.Option{{Value: "Red"}, {Value: "Green"}},
	}
	c, store, id := setup(t, q)

	_, err := c.Submit(context.Background(), id, answer.Candidate{Hatch: inputtype.HatchOther, Text: "  "}, "alice")
	assert.ErrorIs(t, err, lifecycle.ErrInvalidAnswer)
	assert.Equal(t, 1, store.Writes())

	r, err := c.Submit(context.Background(), id, answer.Candidate{Hatch: inputtype.HatchOther, Text: "Purple"}, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Purple", *r.Response)
}

func TestSubmitOnTerminalRequestReportsState(t *testing.T) {
	c, _, id := setup(t, confirmQuestion())
	ctx := context.Background()
	_, err := c.Decline(ctx, id)
	require.NoError(t, err)

	r, err := c.Submit(ctx, id, answer.Candidate{Value: "yes"}, "alice")
	assert.ErrorIs(t, err, lifecycle.ErrAlreadyDeclined)
	require.NotNil(t, r)
	assert.Equal(t, lifecycle.StatusDeclined, r.Status)
}

type failingStore struct{ document.MemoryStore }

func (f *failingStore) CompareAndTransition(context.Context, string, lifecycle.Status, document.Transition) (*request.InputRequest, error) {
	return nil, errors.New("connection reset")
}

func TestInfrastructureErrorsAreWrapped(t *testing.T) {
	c := New(&failingStore{})
	_, err := c.Cancel(context.Background(), "req-1")
	require.Error(t, err)
	_, isFailure := lifecycle.AsFailure(err)
	assert.False(t, isFailure)
	assert.Contains(t, err.Error(), "connection reset")
}
