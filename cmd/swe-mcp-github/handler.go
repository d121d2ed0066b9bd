package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	gh "github.com/google/go-github/v66/github"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cexll/swe-action/internal/github"
	"github.com/cexll/swe-action/internal/github/commit"
)

const logPrefix = "[MCP GitHub Server]"

// CommitFilesParams are the arguments of commit_files.
type CommitFilesParams struct {
	Files   []string `json:"files" jsonschema:"Paths of local files to commit, relative to the repository root"`
	Message string   `json:"message" jsonschema:"Commit message"`
}

// DeleteFilesParams are the arguments of delete_files.
type DeleteFilesParams struct {
	Paths   []string `json:"paths" jsonschema:"Repository paths to delete"`
	Message string   `json:"message" jsonschema:"Commit message"`
}

// CreateIssueParams are the arguments of create_issue.
type CreateIssueParams struct {
	Owner     string   `json:"owner" jsonschema:"Repository owner"`
	Repo      string   `json:"repo" jsonschema:"Repository name"`
	Title     string   `json:"title" jsonschema:"Issue title"`
	Body      string   `json:"body" jsonschema:"Issue body in Markdown"`
	Assignees []string `json:"assignees,omitempty" jsonschema:"Logins to assign"`
	Labels    []string `json:"labels,omitempty" jsonschema:"Labels to apply"`
	Milestone int      `json:"milestone,omitempty" jsonschema:"Milestone number"`
}

// UpdateIssueCommentParams are the arguments of update_issue_comment.
type UpdateIssueCommentParams struct {
	Owner     string `json:"owner" jsonschema:"Repository owner"`
	Repo      string `json:"repo" jsonschema:"Repository name"`
	CommentID int64  `json:"commentId" jsonschema:"ID of the issue comment to update"`
	Body      string `json:"body" jsonschema:"New comment body in Markdown"`
}

// CreatePullRequestParams are the arguments of create_pull_request.
type CreatePullRequestParams struct {
	Owner               string `json:"owner" jsonschema:"Repository owner"`
	Repo                string `json:"repo" jsonschema:"Repository name"`
	Title               string `json:"title" jsonschema:"Pull request title"`
	Body                string `json:"body" jsonschema:"Pull request description in Markdown"`
	Head                string `json:"head" jsonschema:"Branch containing the changes"`
	Base                string `json:"base" jsonschema:"Branch to merge into"`
	Draft               bool   `json:"draft,omitempty" jsonschema:"Open as a draft"`
	MaintainerCanModify *bool  `json:"maintainer_can_modify,omitempty" jsonschema:"Allow maintainers to push to the head branch"`
}

// ListIssuesParams are the arguments of list_issues.
type ListIssuesParams struct {
	Owner     string   `json:"owner" jsonschema:"Repository owner"`
	Repo      string   `json:"repo" jsonschema:"Repository name"`
	State     string   `json:"state,omitempty" jsonschema:"open, closed or all"`
	Labels    []string `json:"labels,omitempty" jsonschema:"Only issues carrying every label"`
	Assignee  string   `json:"assignee,omitempty" jsonschema:"Assignee login, none or *"`
	Creator   string   `json:"creator,omitempty" jsonschema:"Creator login"`
	Sort      string   `json:"sort,omitempty" jsonschema:"created, updated or comments"`
	Direction string   `json:"direction,omitempty" jsonschema:"asc or desc"`
	Page      int      `json:"page,omitempty" jsonschema:"Page number starting at 1"`
	PerPage   int      `json:"per_page,omitempty" jsonschema:"Results per page, at most 100"`
}

// CommitOutput is returned by commit_files and delete_files.
type CommitOutput struct {
	Commit CommitInfo `json:"commit"`
	Files  []string   `json:"files,omitempty"`
	Paths  []string   `json:"paths,omitempty"`
	Tree   TreeInfo   `json:"tree"`
}

type CommitInfo struct {
	SHA     string `json:"sha"`
	Message string `json:"message"`
	Author  string `json:"author"`
	Date    string `json:"date"`
}

type TreeInfo struct {
	SHA string `json:"sha"`
}

// IssueOutput is returned by create_issue.
type IssueOutput struct {
	ID        int64  `json:"id"`
	Number    int    `json:"number"`
	Title     string `json:"title"`
	State     string `json:"state"`
	URL       string `json:"url"`
	CreatedAt string `json:"created_at,omitempty"`
}

// PullRequestOutput is returned by create_pull_request.
type PullRequestOutput struct {
	ID        int64  `json:"id"`
	Number    int    `json:"number"`
	Title     string `json:"title"`
	State     string `json:"state"`
	URL       string `json:"url"`
	Head      string `json:"head"`
	Base      string `json:"base"`
	CreatedAt string `json:"created_at,omitempty"`
}

// IssueRecord is one entry of list_issues.
type IssueRecord struct {
	ID        int64    `json:"id"`
	Number    int      `json:"number"`
	Title     string   `json:"title"`
	State     string   `json:"state"`
	URL       string   `json:"url"`
	User      string   `json:"user"`
	Labels    []string `json:"labels"`
	Assignees []string `json:"assignees"`
	CreatedAt string   `json:"created_at,omitempty"`
	UpdatedAt string   `json:"updated_at,omitempty"`
	Comments  int      `json:"comments"`
}

// Committer is the commit engine surface the handlers use.
type Committer interface {
	CommitFiles(ctx context.Context, req commit.Request) (*commit.Result, error)
	DeleteFiles(ctx context.Context, req commit.Request) (*commit.Result, error)
}

// Handlers serve the tool calls. The branch is fixed for the server's
// lifetime; issue and pull request tools address owner/repo per call.
type Handlers struct {
	committer Committer
	gateway   *github.Gateway
	branch    string
}

// NewHandlers binds the tools to a commit engine, a gateway and a branch.
func NewHandlers(committer Committer, gateway *github.Gateway, branch string) *Handlers {
	return &Handlers{committer: committer, gateway: gateway, branch: branch}
}

// HandleCommitFiles handles commit_files.
func (h *Handlers) HandleCommitFiles(ctx context.Context, _ *mcp.CallToolRequest, params CommitFilesParams) (*mcp.CallToolResult, any, error) {
	log.Printf("%s commit_files: %d file(s) on %s", logPrefix, len(params.Files), h.branch)
	res, err := h.committer.CommitFiles(ctx, commit.Request{Branch: h.branch, Paths: params.Files, Message: params.Message})
	if err != nil {
		return errorResult("commit_files", err), nil, nil
	}
	out := commitOutput(res)
	out.Files = res.Paths
	return jsonResult(out)
}

// HandleDeleteFiles handles delete_files.
func (h *Handlers) HandleDeleteFiles(ctx context.Context, _ *mcp.CallToolRequest, params DeleteFilesParams) (*mcp.CallToolResult, any, error) {
	log.Printf("%s delete_files: %d path(s) on %s", logPrefix, len(params.Paths), h.branch)
	res, err := h.committer.DeleteFiles(ctx, commit.Request{Branch: h.branch, Paths: params.Paths, Message: params.Message})
	if err != nil {
		return errorResult("delete_files", err), nil, nil
	}
	out := commitOutput(res)
	out.Paths = res.Paths
	return jsonResult(out)
}

// HandleCreateIssue handles create_issue.
func (h *Handlers) HandleCreateIssue(ctx context.Context, _ *mcp.CallToolRequest, params CreateIssueParams) (*mcp.CallToolResult, any, error) {
	gw, err := h.repo(params.Owner, params.Repo)
	if err != nil {
		return errorResult("create_issue", err), nil, nil
	}
	if strings.TrimSpace(params.Title) == "" {
		return errorResult("create_issue", errors.New("title is required")), nil, nil
	}

	req := &gh.IssueRequest{
		Title: gh.String(github.SanitizeContent(params.Title)),
		Body:  gh.String(github.SanitizeContent(params.Body)),
	}
	if len(params.Assignees) > 0 {
		req.Assignees = &params.Assignees
	}
	if len(params.Labels) > 0 {
		req.Labels = &params.Labels
	}
	if params.Milestone > 0 {
		req.Milestone = gh.Int(params.Milestone)
	}

	issue, err := gw.CreateIssue(ctx, req)
	if err != nil {
		return errorResult("create_issue", err), nil, nil
	}
	log.Printf("%s created issue #%d in %s", logPrefix, issue.GetNumber(), gw.FullName())
	return jsonResult(IssueOutput{
		ID:        issue.GetID(),
		Number:    issue.GetNumber(),
		Title:     issue.GetTitle(),
		State:     issue.GetState(),
		URL:       issue.GetHTMLURL(),
		CreatedAt: formatTime(issue.GetCreatedAt()),
	})
}

// HandleUpdateIssueComment handles update_issue_comment.
func (h *Handlers) HandleUpdateIssueComment(ctx context.Context, _ *mcp.CallToolRequest, params UpdateIssueCommentParams) (*mcp.CallToolResult, any, error) {
	gw, err := h.repo(params.Owner, params.Repo)
	if err != nil {
		return errorResult("update_issue_comment", err), nil, nil
	}
	if params.CommentID <= 0 {
		return errorResult("update_issue_comment", errors.New("commentId must be a positive comment id")), nil, nil
	}
	if params.Body == "" {
		return errorResult("update_issue_comment", errors.New("body is required")), nil, nil
	}

	body := github.SanitizeContent(params.Body)
	if err := gw.EditComment(ctx, params.CommentID, body); err != nil {
		return errorResult("update_issue_comment", err), nil, nil
	}
	log.Printf("%s updated comment %d (%d characters)", logPrefix, params.CommentID, len(body))
	return textResult(fmt.Sprintf("Updated comment %d in %s", params.CommentID, gw.FullName())), nil, nil
}

// HandleCreatePullRequest handles create_pull_request.
func (h *Handlers) HandleCreatePullRequest(ctx context.Context, _ *mcp.CallToolRequest, params CreatePullRequestParams) (*mcp.CallToolResult, any, error) {
	gw, err := h.repo(params.Owner, params.Repo)
	if err != nil {
		return errorResult("create_pull_request", err), nil, nil
	}
	if params.Title == "" || params.Head == "" || params.Base == "" {
		return errorResult("create_pull_request", errors.New("title, head and base are required")), nil, nil
	}

	pr, err := gw.CreatePullRequest(ctx, &gh.NewPullRequest{
		Title:               gh.String(github.SanitizeContent(params.Title)),
		Body:                gh.String(github.SanitizeContent(params.Body)),
		Head:                gh.String(params.Head),
		Base:                gh.String(params.Base),
		Draft:               gh.Bool(params.Draft),
		MaintainerCanModify: params.MaintainerCanModify,
	})
	if err != nil {
		return errorResult("create_pull_request", err), nil, nil
	}
	log.Printf("%s opened PR #%d %s -> %s", logPrefix, pr.GetNumber(), params.Head, params.Base)
	return jsonResult(PullRequestOutput{
		ID:        pr.GetID(),
		Number:    pr.GetNumber(),
		Title:     pr.GetTitle(),
		State:     pr.GetState(),
		URL:       pr.GetHTMLURL(),
		Head:      pr.GetHead().GetRef(),
		Base:      pr.GetBase().GetRef(),
		CreatedAt: formatTime(pr.GetCreatedAt()),
	})
}

// HandleListIssues handles list_issues.
func (h *Handlers) HandleListIssues(ctx context.Context, _ *mcp.CallToolRequest, params ListIssuesParams) (*mcp.CallToolResult, any, error) {
	gw, err := h.repo(params.Owner, params.Repo)
	if err != nil {
		return errorResult("list_issues", err), nil, nil
	}
	perPage := params.PerPage
	if perPage <= 0 || perPage > 100 {
		perPage = 30
	}

	issues, err := gw.ListIssues(ctx, &gh.IssueListByRepoOptions{
		State:       params.State,
		Labels:      params.Labels,
		Assignee:    params.Assignee,
		Creator:     params.Creator,
		Sort:        params.Sort,
		Direction:   params.Direction,
		ListOptions: gh.ListOptions{Page: params.Page, PerPage: perPage},
	})
	if err != nil {
		return errorResult("list_issues", err), nil, nil
	}

	records := make([]IssueRecord, 0, len(issues))
	for _, issue := range issues {
		rec := IssueRecord{
			ID:        issue.GetID(),
			Number:    issue.GetNumber(),
			Title:     issue.GetTitle(),
			State:     issue.GetState(),
			URL:       issue.GetHTMLURL(),
			User:      issue.GetUser().GetLogin(),
			Labels:    []string{},
			Assignees: []string{},
			CreatedAt: formatTime(issue.GetCreatedAt()),
			UpdatedAt: formatTime(issue.GetUpdatedAt()),
			Comments:  issue.GetComments(),
		}
		for _, l := range issue.Labels {
			rec.Labels = append(rec.Labels, l.GetName())
		}
		for _, a := range issue.Assignees {
			rec.Assignees = append(rec.Assignees, a.GetLogin())
		}
		records = append(records, rec)
	}
	return jsonResult(records)
}

func (h *Handlers) repo(owner, repo string) (*github.Gateway, error) {
	owner, repo = strings.TrimSpace(owner), strings.TrimSpace(repo)
	if owner == "" || repo == "" {
		return nil, errors.New("owner and repo are required")
	}
	if owner == h.gateway.Owner() && repo == h.gateway.Repo() {
		return h.gateway, nil
	}
	return h.gateway.ForRepo(owner, repo), nil
}

func commitOutput(res *commit.Result) CommitOutput {
	return CommitOutput{
		Commit: CommitInfo{SHA: res.SHA, Message: res.Message, Author: res.Author, Date: res.Date},
		Tree:   TreeInfo{SHA: res.TreeSHA},
	}
}

func formatTime(ts gh.Timestamp) string {
	if ts.IsZero() {
		return ""
	}
	return ts.Time.UTC().Format(time.RFC3339)
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("encode result", err), nil, nil
	}
	return textResult(string(b)), nil, nil
}

// errorResult reports a failure to the agent as tool output. A rejected ref
// update is called out so the agent can re-run the whole commit.
func errorResult(tool string, err error) *mcp.CallToolResult {
	msg := fmt.Sprintf("Error: %s: %v", tool, err)
	if errors.Is(err, github.ErrRefConflict) {
		msg += "\nThe branch moved while committing; nothing was written. Retry the operation."
	}
	log.Printf("%s %s failed: %v", logPrefix, tool, err)
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}
