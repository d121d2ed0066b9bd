package github

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gh "github.com/google/go-github/v66/github"
)

// EventType defines supported GitHub webhook events
type EventType string

const (
	EventIssueComment             EventType = "issue_comment"
	EventIssues                   EventType = "issues"
	EventPullRequest              EventType = "pull_request"
	EventPullRequestTarget        EventType = "pull_request_target"
	EventPullRequestReview        EventType = "pull_request_review"
	EventPullRequestReviewComment EventType = "pull_request_review_comment"
)

// EventAction defines GitHub event actions
type EventAction string

const (
	ActionOpened    EventAction = "opened"
	ActionCreated   EventAction = "created"
	ActionEdited    EventAction = "edited"
	ActionAssigned  EventAction = "assigned"
	ActionLabeled   EventAction = "labeled"
	ActionSubmitted EventAction = "submitted"
)

// ErrMalformedEvent is returned when an event payload cannot be turned into
// a TriggerContext.
var ErrMalformedEvent = errors.New("malformed event")

// TriggerContext is the parsed, immutable view of one inbound event. It is
// built once per invocation and passed to every stage.
type TriggerContext struct {
	EventName   EventType
	EventAction EventAction
	Repository  Repository
	Actor       string

	// Number is the issue or pull request number the event targets.
	Number int
	IsPR   bool

	// Set for pull request events only.
	BaseBranch string
	HeadBranch string

	Title string
	Body  string

	// TriggerComment is the comment or review that carried the event, if any.
	TriggerComment *Comment

	Assignee string
	Label    string

	// TriggerTime is when the triggering content was created; zero when unknown.
	TriggerTime time.Time

	Payload map[string]any
}

// Repository identifies the repository an event belongs to
type Repository struct {
	Owner    string
	Name     string
	FullName string
}

// Comment represents the comment (or review) that triggered an event
type Comment struct {
	ID        int64
	Body      string
	User      string
	CreatedAt time.Time
}

// ParseEvent parses a webhook payload into a TriggerContext.
func ParseEvent(eventName string, payload []byte) (*TriggerContext, error) {
	parseAs := eventName
	if EventType(eventName) == EventPullRequestTarget {
		parseAs = string(EventPullRequest)
	}

	event, err := gh.ParseWebHook(parseAs, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedEvent, eventName, err)
	}

	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}

	tc := &TriggerContext{
		EventName: EventType(eventName),
		Payload:   raw,
	}

	switch e := event.(type) {
	case *gh.IssueCommentEvent:
		tc.EventAction = EventAction(e.GetAction())
		tc.setRepo(e.GetRepo(), e.GetSender())
		tc.fromIssue(e.GetIssue())
		tc.IsPR = e.GetIssue().IsPullRequest()
		tc.TriggerComment = &Comment{
			ID:        e.GetComment().GetID(),
			Body:      e.GetComment().GetBody(),
			User:      e.GetComment().GetUser().GetLogin(),
			CreatedAt: e.GetComment().GetCreatedAt().Time,
		}
		tc.TriggerTime = tc.TriggerComment.CreatedAt

	case *gh.IssuesEvent:
		tc.EventAction = EventAction(e.GetAction())
		tc.setRepo(e.GetRepo(), e.GetSender())
		tc.fromIssue(e.GetIssue())
		tc.Assignee = e.GetAssignee().GetLogin()
		tc.Label = e.GetLabel().GetName()
		tc.TriggerTime = e.GetIssue().GetUpdatedAt().Time

	case *gh.PullRequestEvent:
		tc.EventAction = EventAction(e.GetAction())
		tc.setRepo(e.GetRepo(), e.GetSender())
		tc.fromPullRequest(e.GetPullRequest())
		tc.Assignee = e.GetAssignee().GetLogin()
		tc.Label = e.GetLabel().GetName()
		tc.TriggerTime = e.GetPullRequest().GetUpdatedAt().Time

	case *gh.PullRequestReviewEvent:
		tc.EventAction = EventAction(e.GetAction())
		tc.setRepo(e.GetRepo(), e.GetSender())
		tc.fromPullRequest(e.GetPullRequest())
		tc.TriggerComment = &Comment{
			ID:        e.GetReview().GetID(),
			Body:      e.GetReview().GetBody(),
			User:      e.GetReview().GetUser().GetLogin(),
			CreatedAt: e.GetReview().GetSubmittedAt().Time,
		}
		tc.TriggerTime = tc.TriggerComment.CreatedAt

	case *gh.PullRequestReviewCommentEvent:
		tc.EventAction = EventAction(e.GetAction())
		tc.setRepo(e.GetRepo(), e.GetSender())
		tc.fromPullRequest(e.GetPullRequest())
		tc.TriggerComment = &Comment{
			ID:        e.GetComment().GetID(),
			Body:      e.GetComment().GetBody(),
			User:      e.GetComment().GetUser().GetLogin(),
			CreatedAt: e.GetComment().GetCreatedAt().Time,
		}
		tc.TriggerTime = tc.TriggerComment.CreatedAt

	default:
		return nil, fmt.Errorf("%w: unsupported event type: %s", ErrMalformedEvent, eventName)
	}

	if err := tc.validate(); err != nil {
		return nil, err
	}
	return tc, nil
}

func (tc *TriggerContext) setRepo(repo *gh.Repository, sender *gh.User) {
	tc.Repository = Repository{
		Owner:    repo.GetOwner().GetLogin(),
		Name:     repo.GetName(),
		FullName: repo.GetFullName(),
	}
	if tc.Repository.FullName == "" && tc.Repository.Owner != "" {
		tc.Repository.FullName = tc.Repository.Owner + "/" + tc.Repository.Name
	}
	tc.Actor = sender.GetLogin()
}

func (tc *TriggerContext) fromIssue(issue *gh.Issue) {
	tc.Number = issue.GetNumber()
	tc.Title = issue.GetTitle()
	tc.Body = issue.GetBody()
}

func (tc *TriggerContext) fromPullRequest(pr *gh.PullRequest) {
	tc.IsPR = true
	tc.Number = pr.GetNumber()
	tc.Title = pr.GetTitle()
	tc.Body = pr.GetBody()
	tc.BaseBranch = pr.GetBase().GetRef()
	tc.HeadBranch = pr.GetHead().GetRef()
}

func (tc *TriggerContext) validate() error {
	switch {
	case tc.Repository.Owner == "" || tc.Repository.Name == "":
		return fmt.Errorf("%w: repository owner/name missing", ErrMalformedEvent)
	case tc.Number <= 0:
		return fmt.Errorf("%w: issue or pull request number missing", ErrMalformedEvent)
	case tc.Actor == "":
		return fmt.Errorf("%w: sender login missing", ErrMalformedEvent)
	}
	return nil
}

// TriggerCommentBody returns the body of the trigger comment if present.
func (tc *TriggerContext) TriggerCommentBody() string {
	if tc.TriggerComment == nil {
		return ""
	}
	return tc.TriggerComment.Body
}

// EntityKind is "pull request" or "issue", for messages.
func (tc *TriggerContext) EntityKind() string {
	if tc.IsPR {
		return "pull request"
	}
	return "issue"
}
