// Package branch decides which branch the agent writes to for a trigger
// event, creating a fresh issue branch when needed.
package branch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/cexll/swe-action/internal/github"
)

// Refs is the part of the gateway the resolver needs.
type Refs interface {
	GetBranchSHA(ctx context.Context, branch string) (string, error)
	CreateBranch(ctx context.Context, branch, sha string) error
}

// Input carries the facts resolution depends on.
type Input struct {
	Number int
	IsPR   bool
	Title  string
	// HeadBranch is the pull request head ref (PR events only).
	HeadBranch string
	// DefaultBranch is the repository default branch.
	DefaultBranch string
}

// Info is the outcome of resolution.
type Info struct {
	DefaultBranch string `json:"default_branch"`
	BaseBranch    string `json:"base_branch"`
	CurrentBranch string `json:"current_branch"`
	// AgentBranch is set only when a new branch was created for an issue.
	AgentBranch string `json:"agent_branch,omitempty"`
}

// Resolver creates or reuses the working branch.
type Resolver struct {
	refs       Refs
	prefix     string
	baseBranch string
}

// NewResolver returns a resolver. baseBranch overrides the repository
// default branch as the start point of new branches when non-empty.
func NewResolver(refs Refs, prefix, baseBranch string) *Resolver {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Resolver{refs: refs, prefix: prefix, baseBranch: baseBranch}
}

// Resolve returns the branch to work on. Pull request events reuse the PR
// head; issue events get a new branch at the tip of the base branch. There is
// exactly one create attempt.
func (r *Resolver) Resolve(ctx context.Context, in Input) (*Info, error) {
	base := r.baseBranch
	if base == "" {
		base = in.DefaultBranch
	}
	info := &Info{DefaultBranch: in.DefaultBranch, BaseBranch: base}

	if in.IsPR {
		if in.HeadBranch == "" {
			return nil, fmt.Errorf("pull request #%d has no head branch", in.Number)
		}
		info.CurrentBranch = in.HeadBranch
		log.Printf("[Branch] PR #%d: using head branch %s", in.Number, in.HeadBranch)
		return info, nil
	}

	if base == "" {
		return nil, fmt.Errorf("%w: no base branch for issue #%d", github.ErrBranchCreationFailed, in.Number)
	}

	name := GenerateBranchName(r.prefix, in.Number, in.Title)
	if !ValidateBranchName(r.prefix, name) {
		return nil, fmt.Errorf("%w: invalid branch name %q", github.ErrBranchCreationFailed, name)
	}

	baseSHA, err := r.refs.GetBranchSHA(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve base branch %s: %w", github.ErrBranchCreationFailed, base, err)
	}

	if err := r.refs.CreateBranch(ctx, name, baseSHA); err != nil {
		if !r.matchingRef(ctx, name, baseSHA, err) {
			return nil, fmt.Errorf("%w: %s: %w", github.ErrBranchCreationFailed, name, err)
		}
		log.Printf("[Branch] %s already exists at %s, reusing it", name, baseSHA)
	} else {
		log.Printf("[Branch] created %s from %s@%s", name, base, baseSHA)
	}

	info.CurrentBranch = name
	info.AgentBranch = name
	return info, nil
}

// matchingRef reports whether a create rejection was "already exists" for a
// ref that points at the very same commit we tried to create it at.
func (r *Resolver) matchingRef(ctx context.Context, name, sha string, createErr error) bool {
	var apiErr *github.APIError
	if !errors.As(createErr, &apiErr) || apiErr.StatusCode != http.StatusUnprocessableEntity {
		return false
	}
	if !strings.Contains(strings.ToLower(apiErr.Message), "already exists") {
		return false
	}
	existing, err := r.refs.GetBranchSHA(ctx, name)
	return err == nil && existing == sha
}
