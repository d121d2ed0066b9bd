package github

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	gh "github.com/google/go-github/v66/github"
)

// Gateway is a stateless wrapper around the GitHub REST API bound to one
// repository. Every method is a single round trip (list calls page through
// results); nothing is cached between calls.
type Gateway struct {
	client *gh.Client
	owner  string
	repo   string
}

// NewGateway binds a go-github client to owner/repo.
func NewGateway(client *gh.Client, owner, repo string) *Gateway {
	return &Gateway{client: client, owner: owner, repo: repo}
}

// ForRepo returns a gateway sharing the same client for another repository.
func (g *Gateway) ForRepo(owner, repo string) *Gateway {
	return &Gateway{client: g.client, owner: owner, repo: repo}
}

// Owner returns the bound repository owner.
func (g *Gateway) Owner() string { return g.owner }

// Repo returns the bound repository name.
func (g *Gateway) Repo() string { return g.repo }

// FullName returns owner/repo.
func (g *Gateway) FullName() string { return g.owner + "/" + g.repo }

// --- Git data ---

// GetBranchSHA resolves a branch to the SHA its ref currently points at.
func (g *Gateway) GetBranchSHA(ctx context.Context, branch string) (string, error) {
	ref, resp, err := g.client.Git.GetRef(ctx, g.owner, g.repo, "refs/heads/"+branch)
	if err != nil {
		err = wrapError("get ref heads/"+branch, resp, err)
		if IsNotFound(err) {
			return "", fmt.Errorf("%w: %s: %w", ErrRefNotFound, branch, err)
		}
		return "", err
	}
	return ref.GetObject().GetSHA(), nil
}

// GetCommitTree returns the tree SHA of a commit.
func (g *Gateway) GetCommitTree(ctx context.Context, sha string) (string, error) {
	commit, resp, err := g.client.Git.GetCommit(ctx, g.owner, g.repo, sha)
	if err != nil {
		err = wrapError("get commit "+sha, resp, err)
		if code := StatusCode(err); code == http.StatusNotFound || code == http.StatusUnprocessableEntity {
			return "", fmt.Errorf("%w: %s: %w", ErrCommitNotFound, sha, err)
		}
		return "", err
	}
	return commit.GetTree().GetSHA(), nil
}

// CreateBlob uploads raw bytes as a base64 blob and returns its SHA.
func (g *Gateway) CreateBlob(ctx context.Context, content []byte) (string, error) {
	blob, resp, err := g.client.Git.CreateBlob(ctx, g.owner, g.repo, &gh.Blob{
		Content:  gh.String(base64.StdEncoding.EncodeToString(content)),
		Encoding: gh.String("base64"),
	})
	if err != nil {
		return "", wrapError("create blob", resp, err)
	}
	return blob.GetSHA(), nil
}

// CreateTree creates a tree on top of baseTree. Unlisted paths are
// inherited from the base tree on the host side.
func (g *Gateway) CreateTree(ctx context.Context, baseTree string, entries []*gh.TreeEntry) (string, error) {
	tree, resp, err := g.client.Git.CreateTree(ctx, g.owner, g.repo, baseTree, entries)
	if err != nil {
		return "", wrapError("create tree", resp, err)
	}
	return tree.GetSHA(), nil
}

// CreateCommit creates a commit object with a single parent.
func (g *Gateway) CreateCommit(ctx context.Context, message, treeSHA, parentSHA string) (*gh.Commit, error) {
	commit, resp, err := g.client.Git.CreateCommit(ctx, g.owner, g.repo, &gh.Commit{
		Message: gh.String(message),
		Tree:    &gh.Tree{SHA: gh.String(treeSHA)},
		Parents: []*gh.Commit{{SHA: gh.String(parentSHA)}},
	}, nil)
	if err != nil {
		return nil, wrapError("create commit", resp, err)
	}
	return commit, nil
}

// UpdateBranch moves a branch ref to sha. The update is never forced: the
// host rejects it unless sha descends from the ref's current value.
func (g *Gateway) UpdateBranch(ctx context.Context, branch, sha string) error {
	_, resp, err := g.client.Git.UpdateRef(ctx, g.owner, g.repo, &gh.Reference{
		Ref:    gh.String("refs/heads/" + branch),
		Object: &gh.GitObject{SHA: gh.String(sha)},
	}, false)
	if err == nil {
		return nil
	}

	err = wrapError("update ref heads/"+branch, resp, err)
	switch StatusCode(err) {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s: %w", ErrRefNotFound, branch, err)
	case http.StatusUnprocessableEntity, http.StatusConflict:
		if strings.Contains(strings.ToLower(err.Error()), "does not exist") {
			return fmt.Errorf("%w: %s: %w", ErrRefNotFound, branch, err)
		}
		return fmt.Errorf("%w: %s: %w", ErrRefConflict, branch, err)
	}
	return err
}

// CreateBranch creates refs/heads/<branch> pointing at sha.
func (g *Gateway) CreateBranch(ctx context.Context, branch, sha string) error {
	_, resp, err := g.client.Git.CreateRef(ctx, g.owner, g.repo, &gh.Reference{
		Ref:    gh.String("refs/heads/" + branch),
		Object: &gh.GitObject{SHA: gh.String(sha)},
	})
	return wrapError("create ref heads/"+branch, resp, err)
}

// --- Repository / identity ---

// GetRepository fetches repository metadata (default branch and so on).
func (g *Gateway) GetRepository(ctx context.Context) (*gh.Repository, error) {
	repo, resp, err := g.client.Repositories.Get(ctx, g.owner, g.repo)
	if err != nil {
		return nil, wrapError("get repository", resp, err)
	}
	return repo, nil
}

// PermissionLevel returns the collaborator permission of user
// ("admin", "write", "read" or "none").
func (g *Gateway) PermissionLevel(ctx context.Context, user string) (string, error) {
	perm, resp, err := g.client.Repositories.GetPermissionLevel(ctx, g.owner, g.repo, user)
	if err != nil {
		return "", wrapError("get permission level for "+user, resp, err)
	}
	return perm.GetPermission(), nil
}

// UserType returns the account type of login ("User", "Bot", "Organization").
func (g *Gateway) UserType(ctx context.Context, login string) (string, error) {
	user, resp, err := g.client.Users.Get(ctx, login)
	if err != nil {
		return "", wrapError("get user "+login, resp, err)
	}
	return user.GetType(), nil
}

// --- Issues and comments ---

// CreateComment posts a comment on an issue or pull request and returns its id.
func (g *Gateway) CreateComment(ctx context.Context, number int, body string) (int64, error) {
	c, resp, err := g.client.Issues.CreateComment(ctx, g.owner, g.repo, number, &gh.IssueComment{
		Body: gh.String(body),
	})
	if err != nil {
		return 0, wrapError(fmt.Sprintf("create comment on #%d", number), resp, err)
	}
	if c.GetID() == 0 {
		return 0, errors.New("create comment: response carried no comment id")
	}
	return c.GetID(), nil
}

// EditComment replaces the body of an existing issue comment.
func (g *Gateway) EditComment(ctx context.Context, id int64, body string) error {
	_, resp, err := g.client.Issues.EditComment(ctx, g.owner, g.repo, id, &gh.IssueComment{
		Body: gh.String(body),
	})
	return wrapError(fmt.Sprintf("edit comment %d", id), resp, err)
}

// GetIssue fetches an issue (pull requests are issues too).
func (g *Gateway) GetIssue(ctx context.Context, number int) (*gh.Issue, error) {
	issue, resp, err := g.client.Issues.Get(ctx, g.owner, g.repo, number)
	if err != nil {
		return nil, wrapError(fmt.Sprintf("get issue #%d", number), resp, err)
	}
	return issue, nil
}

// ListIssueComments returns every comment on an issue or pull request.
func (g *Gateway) ListIssueComments(ctx context.Context, number int) ([]*gh.IssueComment, error) {
	opts := &gh.IssueListCommentsOptions{ListOptions: gh.ListOptions{PerPage: 100}}
	var all []*gh.IssueComment
	for {
		page, resp, err := g.client.Issues.ListComments(ctx, g.owner, g.repo, number, opts)
		if err != nil {
			return nil, wrapError(fmt.Sprintf("list comments on #%d", number), resp, err)
		}
		all = append(all, page...)
		if resp.NextPage == 0 {
			return all, nil
		}
		opts.Page = resp.NextPage
	}
}

// CreateIssue opens a new issue.
func (g *Gateway) CreateIssue(ctx context.Context, req *gh.IssueRequest) (*gh.Issue, error) {
	issue, resp, err := g.client.Issues.Create(ctx, g.owner, g.repo, req)
	if err != nil {
		return nil, wrapError("create issue", resp, err)
	}
	return issue, nil
}

// ListIssues lists repository issues with the given filters (single page).
func (g *Gateway) ListIssues(ctx context.Context, opts *gh.IssueListByRepoOptions) ([]*gh.Issue, error) {
	issues, resp, err := g.client.Issues.ListByRepo(ctx, g.owner, g.repo, opts)
	if err != nil {
		return nil, wrapError("list issues", resp, err)
	}
	return issues, nil
}

// --- Pull requests ---

// FindOpenPullRequests lists open pull requests whose head is
// "<owner>:<branch>".
func (g *Gateway) FindOpenPullRequests(ctx context.Context, head string) ([]*gh.PullRequest, error) {
	prs, resp, err := g.client.PullRequests.List(ctx, g.owner, g.repo, &gh.PullRequestListOptions{
		State: "open",
		Head:  head,
	})
	if err != nil {
		return nil, wrapError("list pull requests for "+head, resp, err)
	}
	return prs, nil
}

// GetPullRequest fetches a pull request.
func (g *Gateway) GetPullRequest(ctx context.Context, number int) (*gh.PullRequest, error) {
	pr, resp, err := g.client.PullRequests.Get(ctx, g.owner, g.repo, number)
	if err != nil {
		return nil, wrapError(fmt.Sprintf("get pull request #%d", number), resp, err)
	}
	return pr, nil
}

// ListPullRequestFiles returns every file changed by a pull request.
func (g *Gateway) ListPullRequestFiles(ctx context.Context, number int) ([]*gh.CommitFile, error) {
	opts := &gh.ListOptions{PerPage: 100}
	var all []*gh.CommitFile
	for {
		page, resp, err := g.client.PullRequests.ListFiles(ctx, g.owner, g.repo, number, opts)
		if err != nil {
			return nil, wrapError(fmt.Sprintf("list files of #%d", number), resp, err)
		}
		all = append(all, page...)
		if resp.NextPage == 0 {
			return all, nil
		}
		opts.Page = resp.NextPage
	}
}

// CreatePullRequest opens a pull request.
func (g *Gateway) CreatePullRequest(ctx context.Context, pr *gh.NewPullRequest) (*gh.PullRequest, error) {
	created, resp, err := g.client.PullRequests.Create(ctx, g.owner, g.repo, pr)
	if err != nil {
		return nil, wrapError("create pull request", resp, err)
	}
	return created, nil
}
