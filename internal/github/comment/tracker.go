// Package comment maintains the single tracking comment of a trigger event.
package comment

import (
	"context"
	"errors"
	"fmt"
	"log"

	gh "github.com/google/go-github/v66/github"
)

// API is the comment and pull request surface the tracker needs.
type API interface {
	CreateComment(ctx context.Context, number int, body string) (int64, error)
	EditComment(ctx context.Context, id int64, body string) error
	FindOpenPullRequests(ctx context.Context, head string) ([]*gh.PullRequest, error)
}

// State of the tracking comment.
type State int

const (
	StateInitial State = iota
	StatePosted
	StateRedirected
	StateLinked
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StatePosted:
		return "posted"
	case StateRedirected:
		return "redirected"
	case StateLinked:
		return "linked"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ErrWrongState is returned when a transition is attempted out of order.
var ErrWrongState = errors.New("tracking comment in wrong state")

// Decision is the outcome of ApplyBranch.
type Decision struct {
	State     State
	CommentID int64
	// Target is the issue or pull request number the comment lives on.
	Target int
	// LookupErr is set when the open pull request lookup failed and the
	// tracker fell back as if none was found.
	LookupErr error
}

// Tracker owns the tracking comment for one trigger event.
type Tracker struct {
	api    API
	links  *Links
	number int
	isPR   bool

	state     State
	commentID int64
	target    int
	body      string
}

// NewTracker returns a tracker for the issue or pull request number.
func NewTracker(api API, links *Links, number int, isPR bool) *Tracker {
	if links == nil {
		links = NewLinks("", "", "", "")
	}
	return &Tracker{api: api, links: links, number: number, isPR: isPR}
}

// CreateInitial posts the working comment on the triggering entity.
func (t *Tracker) CreateInitial(ctx context.Context) (int64, error) {
	if t.state != StateInitial {
		return 0, fmt.Errorf("%w: create initial from %s", ErrWrongState, t.state)
	}

	body := WorkingBody(t.entity(), t.links.JobRunLink())
	id, err := t.api.CreateComment(ctx, t.number, body)
	if err != nil {
		return 0, fmt.Errorf("create tracking comment on #%d: %w", t.number, err)
	}

	t.state = StatePosted
	t.commentID = id
	t.target = t.number
	t.body = body
	log.Printf("[Comment] posted tracking comment %d on #%d", id, t.number)
	return id, nil
}

// ApplyBranch runs the redirect/link decision once a branch is known.
// owner is the repository owner used in the "owner:branch" head filter.
// A comment superseded by a redirect is never edited again.
func (t *Tracker) ApplyBranch(ctx context.Context, owner, agentBranch string) (Decision, error) {
	if t.state != StatePosted {
		return Decision{}, fmt.Errorf("%w: apply branch from %s", ErrWrongState, t.state)
	}
	if t.isPR || agentBranch == "" {
		return t.decision(nil), nil
	}

	var lookupErr error
	prs, err := t.api.FindOpenPullRequests(ctx, owner+":"+agentBranch)
	if err != nil {
		log.Printf("[Comment] open PR lookup for %s failed, continuing without redirect: %v", agentBranch, err)
		lookupErr = err
		prs = nil
	}

	if len(prs) > 0 {
		pr := prs[0].GetNumber()
		body := WorkingBody("pull request", t.links.JobRunLink(), t.links.BranchLink(agentBranch))
		id, err := t.api.CreateComment(ctx, pr, body)
		if err != nil {
			return Decision{}, fmt.Errorf("create tracking comment on PR #%d: %w", pr, err)
		}
		log.Printf("[Comment] redirected tracking comment %d on #%d -> %d on PR #%d", t.commentID, t.number, id, pr)
		t.state = StateRedirected
		t.commentID = id
		t.target = pr
		t.body = body
		return t.decision(nil), nil
	}

	body := WorkingBody(t.entity(), t.links.JobRunLink(), t.links.BranchLink(agentBranch))
	if err := t.api.EditComment(ctx, t.commentID, body); err != nil {
		return Decision{}, fmt.Errorf("link branch in comment %d: %w", t.commentID, err)
	}
	t.state = StateLinked
	t.body = body
	log.Printf("[Comment] linked %s in comment %d", agentBranch, t.commentID)
	return t.decision(lookupErr), nil
}

func (t *Tracker) decision(lookupErr error) Decision {
	return Decision{State: t.state, CommentID: t.commentID, Target: t.target, LookupErr: lookupErr}
}

func (t *Tracker) entity() string {
	if t.isPR {
		return "pull request"
	}
	return "issue"
}

// CommentID is the current authoritative comment id (0 before CreateInitial).
func (t *Tracker) CommentID() int64 { return t.commentID }

// State returns the current state.
func (t *Tracker) State() State { return t.state }

// Body returns the last body the tracker wrote.
func (t *Tracker) Body() string { return t.body }
