// Package bundle coordinates a multi request: several typed sub-questions
// answered together and committed as one response.
package bundle

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/tejzpr/rishvan-input/internal/answer"
	"github.com/tejzpr/rishvan-input/internal/commit"
	"github.com/tejzpr/rishvan-input/internal/inputtype"
	"github.com/tejzpr/rishvan-input/internal/lifecycle"
	"github.com/tejzpr/rishvan-input/internal/request"
)

// Problem is why one sub-question cannot be submitted yet.
type Problem struct {
	Index  int    `json:"index"`
	Label  string `json:"label"`
	Reason string `json:"reason"`
}

// Coordinator holds one candidate per sub-question of a multi request.
type Coordinator struct {
	committer *commit.Committer
	req       *request.InputRequest

	mu         sync.Mutex
	candidates []answer.Candidate
}

// New creates a coordinator for req, seeding each sub-question from its
// default value.
func New(c *commit.Committer, req *request.InputRequest) (*Coordinator, error) {
	spec, ok := req.Spec()
	if !ok || !spec.Bundle {
		return nil, fmt.Errorf("request %s is %q, not %q", req.ID, req.Type, inputtype.Multi)
	}
	cands := make([]answer.Candidate, len(req.Questions))
	for i, q := range req.Questions {
		cands[i] = answer.FromDefault(q)
	}
	return &Coordinator{committer: c, req: req.Clone(), candidates: cands}, nil
}

// Len returns the number of sub-questions.
func (b *Coordinator) Len() int {
	return len(b.req.Questions)
}

// Set replaces the candidate for sub-question i.
func (b *Coordinator) Set(i int, c answer.Candidate) error {
	if i < 0 || i >= len(b.req.Questions) {
		return fmt.Errorf("sub-question %d out of range [0,%d)", i, len(b.req.Questions))
	}
	b.mu.Lock()
	b.candidates[i] = c
	b.mu.Unlock()
	return nil
}

// Candidate returns the current candidate for sub-question i.
func (b *Coordinator) Candidate(i int) answer.Candidate {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.candidates[i]
}

// Problems lists every sub-question that is not submittable.
func (b *Coordinator) Problems() []Problem {
	b.mu.Lock()
	cands := append([]answer.Candidate(nil), b.candidates...)
	b.mu.Unlock()

	var out []Problem
	for i, q := range b.req.Questions {
		if r := answer.Submittable(q, cands[i]); !r.Valid {
			out = append(out, Problem{Index: i, Label: q.Title(), Reason: r.Reason})
		}
	}
	return out
}

// Submittable reports whether every sub-question passes on its own.
func (b *Coordinator) Submittable() bool {
	return len(b.Problems()) == 0
}

// Responses formats every sub-question. It fails on the first invalid one
// without touching the document.
func (b *Coordinator) Responses() ([]string, error) {
	b.mu.Lock()
	cands := append([]answer.Candidate(nil), b.candidates...)
	b.mu.Unlock()

	out := make([]string, len(b.req.Questions))
	for i, q := range b.req.Questions {
		s, err := answer.Format(q, cands[i])
		if err != nil {
			f, _ := lifecycle.AsFailure(err)
			return nil, lifecycle.Invalid(fmt.Sprintf("question %d (%s): %s", i+1, q.Title(), f.Detail))
		}
		out[i] = s
	}
	return out, nil
}

// Submit commits all sub-answers with a single answer transition. A
// request that is no longer pending is refused before any sub-answer is
// judged.
func (b *Coordinator) Submit(ctx context.Context, by string) (*request.InputRequest, error) {
	if current, err := b.committer.Pending(ctx, b.req.ID); err != nil {
		return current, err
	}
	responses, err := b.Responses()
	if err != nil {
		return nil, err
	}
	return b.committer.Answer(ctx, b.req.ID, Encode(responses), by)
}

// Decline declines the whole bundle.
func (b *Coordinator) Decline(ctx context.Context) (*request.InputRequest, error) {
	return b.committer.Decline(ctx, b.req.ID)
}

// Cancel cancels the whole bundle.
func (b *Coordinator) Cancel(ctx context.Context) (*request.InputRequest, error) {
	return b.committer.Cancel(ctx, b.req.ID)
}

// Encode serialises sub-answers as a JSON object keyed by index.
func Encode(responses []string) string {
	m := make(map[string]string, len(responses))
	for i, r := range responses {
		m[strconv.Itoa(i)] = r
	}
	data, _ := json.Marshal(m)
	return string(data)
}

// Decode reverses Encode, returning answers in index order.
func Decode(response string) ([]string, error) {
	var m map[string]string
	if err := json.Unmarshal([]byte(response), &m); err != nil {
		return nil, fmt.Errorf("decode bundle response: %w", err)
	}
	idx := make([]int, 0, len(m))
	for k := range m {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 {
			return nil, fmt.Errorf("decode bundle response: bad index %q", k)
		}
		idx = append(idx, i)
	}
	sort.Ints(idx)
	out := make([]string, len(idx))
	for n, i := range idx {
		if i != n {
			return nil, fmt.Errorf("decode bundle response: missing index %d", n)
		}
		out[n] = m[strconv.Itoa(i)]
	}
	return out, nil
}
