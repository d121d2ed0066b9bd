// Package data gathers the repository, issue and pull request facts a run
// needs, once, into a Snapshot shared by branch resolution and the agent.
package data

import (
	"context"
	"fmt"
	"log"
	"time"

	gh "github.com/google/go-github/v66/github"

	"github.com/cexll/swe-action/internal/github"
)

// Source is the read side of the gateway.
type Source interface {
	GetRepository(ctx context.Context) (*gh.Repository, error)
	GetIssue(ctx context.Context, number int) (*gh.Issue, error)
	ListIssueComments(ctx context.Context, number int) ([]*gh.IssueComment, error)
	GetPullRequest(ctx context.Context, number int) (*gh.PullRequest, error)
	ListPullRequestFiles(ctx context.Context, number int) ([]*gh.CommitFile, error)
}

type Repository struct {
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
}

type Issue struct {
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Author    string    `json:"author"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

type File struct {
	Path      string `json:"path"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

type PullRequest struct {
	Title   string `json:"title"`
	Body    string `json:"body"`
	Author  string `json:"author"`
	State   string `json:"state"`
	Draft   bool   `json:"draft"`
	HeadRef string `json:"head_ref"`
	HeadSHA string `json:"head_sha"`
	BaseRef string `json:"base_ref"`
	Files   []File `json:"files"`
}

type Comment struct {
	ID        int64     `json:"id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot is everything fetched for one trigger event.
type Snapshot struct {
	Repository  Repository   `json:"repository"`
	Number      int          `json:"number"`
	IsPR        bool         `json:"is_pull_request"`
	Issue       *Issue       `json:"issue,omitempty"`
	PullRequest *PullRequest `json:"pull_request,omitempty"`
	Comments    []Comment    `json:"comments"`
	TriggerUser string       `json:"trigger_user"`
}

// Params selects what to fetch.
type Params struct {
	Number      int
	IsPR        bool
	TriggerUser string
	// TriggerTime, when set, drops comments created or edited at or after it.
	TriggerTime time.Time
}

// Fetcher builds snapshots from a Source.
type Fetcher struct {
	src Source
}

// NewFetcher returns a fetcher over src.
func NewFetcher(src Source) *Fetcher { return &Fetcher{src: src} }

// Fetch reads repository metadata, the issue or pull request (with changed
// files), and its comments. Text that will reach the agent is sanitized.
func (f *Fetcher) Fetch(ctx context.Context, p Params) (*Snapshot, error) {
	repo, err := f.src.GetRepository(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch repository: %w", err)
	}
	snap := &Snapshot{
		Repository: Repository{
			FullName:      repo.GetFullName(),
			DefaultBranch: repo.GetDefaultBranch(),
		},
		Number:      p.Number,
		IsPR:        p.IsPR,
		TriggerUser: p.TriggerUser,
	}

	if p.IsPR {
		pr, err := f.src.GetPullRequest(ctx, p.Number)
		if err != nil {
			return nil, fmt.Errorf("fetch pull request #%d: %w", p.Number, err)
		}
		files, err := f.src.ListPullRequestFiles(ctx, p.Number)
		if err != nil {
			return nil, fmt.Errorf("fetch files of #%d: %w", p.Number, err)
		}
		snap.PullRequest = convertPullRequest(pr, files)
	} else {
		issue, err := f.src.GetIssue(ctx, p.Number)
		if err != nil {
			return nil, fmt.Errorf("fetch issue #%d: %w", p.Number, err)
		}
		snap.Issue = &Issue{
			Title:     github.SanitizeContent(issue.GetTitle()),
			Body:      github.SanitizeContent(issue.GetBody()),
			Author:    issue.GetUser().GetLogin(),
			State:     issue.GetState(),
			CreatedAt: issue.GetCreatedAt().Time,
		}
	}

	raw, err := f.src.ListIssueComments(ctx, p.Number)
	if err != nil {
		return nil, fmt.Errorf("fetch comments of #%d: %w", p.Number, err)
	}
	snap.Comments = FilterComments(convertComments(raw), p.TriggerTime)

	log.Printf("[Data] fetched %s #%d: %d comment(s)", snap.Repository.FullName, p.Number, len(snap.Comments))
	return snap, nil
}

func convertPullRequest(pr *gh.PullRequest, files []*gh.CommitFile) *PullRequest {
	out := &PullRequest{
		Title:   github.SanitizeContent(pr.GetTitle()),
		Body:    github.SanitizeContent(pr.GetBody()),
		Author:  pr.GetUser().GetLogin(),
		State:   pr.GetState(),
		Draft:   pr.GetDraft(),
		HeadRef: pr.GetHead().GetRef(),
		HeadSHA: pr.GetHead().GetSHA(),
		BaseRef: pr.GetBase().GetRef(),
		Files:   make([]File, 0, len(files)),
	}
	for _, f := range files {
		out.Files = append(out.Files, File{
			Path:      f.GetFilename(),
			Status:    f.GetStatus(),
			Additions: f.GetAdditions(),
			Deletions: f.GetDeletions(),
		})
	}
	return out
}

func convertComments(raw []*gh.IssueComment) []Comment {
	out := make([]Comment, 0, len(raw))
	for _, c := range raw {
		out = append(out, Comment{
			ID:        c.GetID(),
			Author:    c.GetUser().GetLogin(),
			Body:      github.SanitizeContent(c.GetBody()),
			CreatedAt: c.GetCreatedAt().Time,
			UpdatedAt: c.GetUpdatedAt().Time,
		})
	}
	return out
}

// FilterComments keeps comments created, and last updated, strictly before
// trigger. A zero trigger keeps everything.
func FilterComments(comments []Comment, trigger time.Time) []Comment {
	if trigger.IsZero() {
		return comments
	}
	out := make([]Comment, 0, len(comments))
	for _, c := range comments {
		if !c.CreatedAt.Before(trigger) {
			continue
		}
		if !c.UpdatedAt.IsZero() && !c.UpdatedAt.Before(trigger) {
			continue
		}
		out = append(out, c)
	}
	return out
}
