// Package pipeline runs the ordered gate sequence for one trigger event:
// credential, parse, permission, trigger, human, comment, fetch, branch,
// redirect and handoff. Each stage returns a tagged Result that tells the
// sequencer whether to continue, degrade, stop quietly or abort.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	gh "github.com/google/go-github/v66/github"

	"github.com/cexll/swe-action/internal/config"
	"github.com/cexll/swe-action/internal/github"
	"github.com/cexll/swe-action/internal/github/branch"
	"github.com/cexll/swe-action/internal/github/comment"
	"github.com/cexll/swe-action/internal/github/data"
	"github.com/cexll/swe-action/internal/trigger"
)

// Outcome tags a stage result.
type Outcome int

const (
	// Continue moves on to the next stage.
	Continue Outcome = iota
	// Degraded logs a recoverable problem and moves on.
	Degraded
	// Skip ends the run successfully without further side effects.
	Skip
	// Fatal aborts the run with an error.
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Continue:
		return "continue"
	case Degraded:
		return "degraded"
	case Skip:
		return "skip"
	case Fatal:
		return "fatal"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Result is what a stage returns.
type Result struct {
	Outcome Outcome
	// Err is the cause for Degraded and Fatal.
	Err error
	// Reason explains a Skip.
	Reason string
}

// Next continues with the following stage.
func Next() Result { return Result{Outcome: Continue} }

// Degrade records err and continues.
func Degrade(err error) Result { return Result{Outcome: Degraded, Err: err} }

// Stop ends the run successfully.
func Stop(reason string) Result { return Result{Outcome: Skip, Reason: reason} }

// Fail aborts the run.
func Fail(err error) Result { return Result{Outcome: Fatal, Err: err} }

// Stage names, in execution order.
const (
	StageCredential = "credential"
	StageParse      = "parse"
	StagePermission = "permission"
	StageTrigger    = "trigger"
	StageHuman      = "human"
	StageComment    = "comment"
	StageFetch      = "fetch"
	StageBranch     = "branch"
	StageRedirect   = "redirect"
	StageHandoff    = "handoff"
)

// Stage is one step of the sequence.
type Stage struct {
	Name string
	Run  func(ctx context.Context, st *State) Result
}

// StageError is returned when a stage aborts the run.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Event is one inbound event as delivered by the runner or a webhook.
type Event struct {
	Name    string
	Payload []byte
	// Repository is "owner/name"; read from the payload when empty.
	Repository string
}

// Outputs receives values for the steps that run after the pipeline.
type Outputs interface {
	SetOutput(name, value string)
	Mask(value string)
}

// ClientFactory builds an authenticated API client for a token.
type ClientFactory func(ctx context.Context, token string) (*gh.Client, error)

// Deps are the collaborators and settings of a pipeline.
type Deps struct {
	Auth      github.AuthProvider
	NewClient ClientFactory
	Matcher   trigger.Matcher
	Outputs   Outputs

	Config config.Pipeline
	RunID  string
	// Workspace is the local checkout the tool server commits from.
	Workspace string
	// ContextOutputPath, when set, receives the data snapshot as JSON.
	ContextOutputPath string
}

// State accumulates what stages produce.
type State struct {
	Event Event

	Token    string
	Client   *gh.Client
	Trigger  *github.TriggerContext
	Gateway  *github.Gateway
	Match    trigger.Result
	Tracker  *comment.Tracker
	Snapshot *data.Snapshot
	Branch   *branch.Info
	Decision comment.Decision

	Handoff  *Handoff
	Degraded []string
}

// Report summarizes a run.
type Report struct {
	Triggered  bool
	SkipReason string

	CommentID int64
	Branch    *branch.Info
	Decision  comment.Decision
	Snapshot  *data.Snapshot
	Handoff   *Handoff

	// Degraded lists the stages that hit a recoverable problem.
	Degraded []string
}

// Pipeline is an ordered list of stages.
type Pipeline struct {
	deps   Deps
	stages []Stage
}

// New returns the standard pipeline. A nil NewClient uses an oauth2 client
// against Config.APIURL with Config.CallTimeout per request; a nil Matcher
// uses the configured phrase, assignee and label triggers.
func New(deps Deps) *Pipeline {
	if deps.NewClient == nil {
		cfg := deps.Config
		deps.NewClient = func(ctx context.Context, token string) (*gh.Client, error) {
			return github.NewClient(ctx, token, cfg.APIURL, cfg.CallTimeout)
		}
	}
	if deps.Matcher == nil {
		deps.Matcher = trigger.NewPhraseMatcher(deps.Config.TriggerPhrase, deps.Config.AssigneeTrigger, deps.Config.LabelTrigger)
	}
	p := &Pipeline{deps: deps}
	p.stages = []Stage{
		{Name: StageCredential, Run: p.acquireCredential},
		{Name: StageParse, Run: p.parseEvent},
		{Name: StagePermission, Run: p.checkPermission},
		{Name: StageTrigger, Run: p.matchTrigger},
		{Name: StageHuman, Run: p.checkHuman},
		{Name: StageComment, Run: p.postComment},
		{Name: StageFetch, Run: p.fetchData},
		{Name: StageBranch, Run: p.resolveBranch},
		{Name: StageRedirect, Run: p.applyRedirect},
		{Name: StageHandoff, Run: p.handOff},
	}
	return p
}

// Stages returns the stage sequence.
func (p *Pipeline) Stages() []Stage { return p.stages }

// Run executes the stages in order. A Skip returns a report with Triggered
// false and a nil error; a Fatal returns the partial report and a
// *StageError.
func (p *Pipeline) Run(ctx context.Context, ev Event) (*Report, error) {
	st := &State{Event: ev}
	for _, stage := range p.stages {
		res := stage.Run(ctx, st)
		switch res.Outcome {
		case Continue:
		case Degraded:
			log.Printf("[Pipeline] %s degraded: %v", stage.Name, res.Err)
			st.Degraded = append(st.Degraded, stage.Name)
		case Skip:
			log.Printf("[Pipeline] %s: nothing to do (%s)", stage.Name, res.Reason)
			return &Report{SkipReason: res.Reason}, nil
		case Fatal:
			err := res.Err
			if err == nil {
				err = errors.New("aborted")
			}
			log.Printf("[Pipeline] %s failed: %v", stage.Name, err)
			return st.report(), &StageError{Stage: stage.Name, Err: err}
		default:
			return st.report(), &StageError{Stage: stage.Name, Err: fmt.Errorf("unknown outcome %s", res.Outcome)}
		}
	}
	return st.report(), nil
}

func (st *State) report() *Report {
	r := &Report{
		Triggered: st.Match.Triggered,
		Branch:    st.Branch,
		Decision:  st.Decision,
		Snapshot:  st.Snapshot,
		Handoff:   st.Handoff,
		Degraded:  st.Degraded,
	}
	if st.Tracker != nil {
		r.CommentID = st.Tracker.CommentID()
	}
	return r
}

// NewAuth picks the credential source: a configured token wins, otherwise
// the GitHub App exchanges its JWT for an installation token.
func NewAuth(c config.Credentials, apiURL string, timeout time.Duration) github.AuthProvider {
	if c.Token != "" {
		return github.StaticToken(c.Token)
	}
	return &github.AppAuth{
		AppID:      c.GitHubAppID,
		PrivateKey: c.GitHubPrivateKey,
		APIURL:     apiURL,
		Timeout:    timeout,
	}
}
